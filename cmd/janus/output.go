package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/janus-ipc/janus/internal/manifest"
)

func printResult(result any) {
	if flagJSON {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return
	}
	switch v := result.(type) {
	case map[string]any:
		table := tablewriter.NewTable(os.Stdout,
			tablewriter.WithHeader([]string{"Field", "Value"}),
		)
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			table.Append([]string{k, renderValue(v[k])})
		}
		table.Render()
	default:
		fmt.Println(renderValue(result))
	}
}

func printManifestSummary(m *manifest.Manifest) {
	if flagJSON {
		data, _ := json.MarshalIndent(m, "", "  ")
		fmt.Println(string(data))
		return
	}
	fmt.Println(color.GreenString("%s %s: manifest valid", m.Name, m.Version))
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Channel", "Command", "Arguments"}),
	)
	channels := make([]string, 0, len(m.Channels))
	for name := range m.Channels {
		channels = append(channels, name)
	}
	sort.Strings(channels)
	for _, chName := range channels {
		commands := make([]string, 0, len(m.Channels[chName].Commands))
		for name := range m.Channels[chName].Commands {
			commands = append(commands, name)
		}
		sort.Strings(commands)
		for _, cmdName := range commands {
			spec := m.Channels[chName].Commands[cmdName]
			table.Append([]string{chName, cmdName, fmt.Sprintf("%d", len(spec.Arguments))})
		}
	}
	table.Render()
}

func printError(err error) {
	fmt.Fprintln(os.Stderr, color.RedString("Error: ")+err.Error())
}

func renderValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}
