package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/janus-ipc/janus/internal/client"
	"github.com/janus-ipc/janus/internal/config"
)

var (
	callCommand    string
	callArgs       []string
	callTimeout    float64
	callNoResponse bool
	callNoValidate bool
	callProfile    string
)

// callProfileConfig is the optional client-side profile file (TOML).
type callProfileConfig struct {
	Socket   string  `toml:"socket"`
	Channel  string  `toml:"channel"`
	Timeout  float64 `toml:"timeout"`
	Validate *bool   `toml:"validate"`
}

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Send a command and print the response",
	RunE: func(cmd *cobra.Command, args []string) error {
		socket := flagSocket
		channel := flagChannel
		timeout := callTimeout
		validate := !callNoValidate
		if callProfile != "" {
			var profile callProfileConfig
			if _, err := toml.DecodeFile(callProfile, &profile); err != nil {
				return fmt.Errorf("profile load failed (%s): %w", callProfile, err)
			}
			if socket == "" {
				socket = profile.Socket
			}
			if profile.Channel != "" && !cmd.Flags().Changed("channel") {
				channel = profile.Channel
			}
			if profile.Timeout > 0 && !cmd.Flags().Changed("timeout") {
				timeout = profile.Timeout
			}
			if profile.Validate != nil && !cmd.Flags().Changed("no-validate") {
				validate = *profile.Validate
			}
		}
		if socket == "" {
			return fmt.Errorf("--socket is required")
		}
		if callCommand == "" {
			return fmt.Errorf("--command is required")
		}

		parsedArgs, err := parseArgPairs(callArgs)
		if err != nil {
			return err
		}

		cfg := config.DefaultClientConfig()
		cfg.SocketPath = socket
		cfg.Channel = channel
		cfg.EnableValidation = validate
		if timeout > 0 {
			cfg.DefaultTimeout = timeout
		}

		c, err := client.Dial(cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		if callNoResponse {
			if rpcErr := c.SendCommandNoResponse(callCommand, parsedArgs); rpcErr != nil {
				return rpcErr
			}
			return nil
		}

		resp, rpcErr := c.SendCommand(callCommand, parsedArgs, time.Duration(timeout*float64(time.Second)))
		if rpcErr != nil {
			return rpcErr
		}
		printResult(resp.Result)
		return nil
	},
}

// parseArgPairs turns repeated --arg k=v flags into an args map. Values that
// parse as JSON keep their type; everything else stays a string.
func parseArgPairs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, fmt.Errorf("invalid --arg %q, want k=v", pair)
		}
		var value any
		if err := json.Unmarshal([]byte(kv[1]), &value); err != nil {
			value = kv[1]
		}
		out[kv[0]] = value
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(callCmd)
	callCmd.Flags().StringVar(&callCommand, "command", "", "command name")
	callCmd.Flags().StringArrayVar(&callArgs, "arg", nil, "argument as k=v (repeatable)")
	callCmd.Flags().Float64Var(&callTimeout, "timeout", 0, "timeout in seconds")
	callCmd.Flags().BoolVar(&callNoResponse, "no-response", false, "fire and forget")
	callCmd.Flags().BoolVar(&callNoValidate, "no-validate", false, "skip manifest auto-fetch and local validation")
	callCmd.Flags().StringVar(&callProfile, "profile", "", "client profile file (TOML)")
}
