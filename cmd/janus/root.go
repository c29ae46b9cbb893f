package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/janus-ipc/janus/internal/protocol"
)

// Exit codes per the CLI contract.
const (
	exitOK         = 0
	exitFailure    = 1
	exitValidation = 2
	exitTransport  = 3
	exitTimeout    = 4
)

var (
	flagSocket  string
	flagChannel string
	flagJSON    bool
)

var rootCmd = &cobra.Command{
	Use:           "janus",
	Short:         "Connectionless JSON-RPC fabric over Unix datagram sockets",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and maps errors to exit codes.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		return exitCodeFor(err)
	}
	return exitOK
}

func exitCodeFor(err error) int {
	var rpcErr *protocol.JSONRPCError
	if !errors.As(err, &rpcErr) {
		return exitFailure
	}
	switch rpcErr.Code {
	case protocol.CodeValidationError, protocol.CodeInvalidParams, protocol.CodeSecurityViolation:
		return exitValidation
	case protocol.CodeTransportError:
		return exitTransport
	case protocol.CodeTimeout:
		return exitTimeout
	default:
		return exitFailure
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagSocket, "socket", "", "server socket path")
	rootCmd.PersistentFlags().StringVar(&flagChannel, "channel", "default", "channel name")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
}
