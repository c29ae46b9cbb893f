package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/janus-ipc/janus/internal/manifest"
	"github.com/janus-ipc/janus/internal/protocol"
)

var validateManifests []string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate manifest files without starting a server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(validateManifests) == 0 {
			return fmt.Errorf("--manifest is required")
		}
		m, err := manifest.ParseFiles(validateManifests)
		if err != nil {
			return protocol.Errorf(protocol.CodeValidationError, "%v", err)
		}
		printManifestSummary(m)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringSliceVar(&validateManifests, "manifest", nil, "manifest file (JSON or YAML, repeatable)")
}
