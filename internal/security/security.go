// Package security owns path and payload safety checks shared by the client
// and the server.
package security

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/janus-ipc/janus/internal/protocol"
)

const (
	// MaxSocketPathLen matches the sockaddr_un sun_path limit on Linux.
	MaxSocketPathLen = 108
	// MaxArgSize caps one argument's encoded size.
	MaxArgSize = 1 * 1024 * 1024
	// MaxNestingDepth caps args nesting.
	MaxNestingDepth = 32
)

// AllowedSocketDirs are the prefixes a socket path must resolve under.
var AllowedSocketDirs = []string{"/tmp", "/var/run", "/run"}

var socketPathChars = regexp.MustCompile(`^[a-zA-Z0-9._/\-]+$`)

// CheckSocketPath validates a socket path against the allowed prefix set,
// length and character constraints.
func CheckSocketPath(path string) *protocol.JSONRPCError {
	if strings.TrimSpace(path) == "" {
		return protocol.NewError(protocol.CodeSecurityViolation, "socket path is empty")
	}
	if strings.ContainsRune(path, 0) {
		return protocol.NewError(protocol.CodeSecurityViolation, "socket path contains NUL byte")
	}
	if !filepath.IsAbs(path) {
		return protocol.NewError(protocol.CodeSecurityViolation, "socket path must be absolute")
	}
	if strings.Contains(path, "..") {
		return protocol.NewError(protocol.CodeSecurityViolation, "path traversal detected in socket path")
	}
	clean := filepath.Clean(path)
	if clean != path {
		return protocol.Errorf(protocol.CodeSecurityViolation, "socket path is not canonical: %s", path)
	}
	if len(path) > MaxSocketPathLen {
		return protocol.Errorf(protocol.CodeSecurityViolation,
			"socket path exceeds %d bytes", MaxSocketPathLen)
	}
	if !socketPathChars.MatchString(path) {
		return protocol.NewError(protocol.CodeSecurityViolation, "socket path contains invalid characters")
	}
	for _, dir := range AllowedSocketDirs {
		if strings.HasPrefix(path, dir+"/") {
			return nil
		}
	}
	return protocol.Errorf(protocol.CodeSecurityViolation,
		"socket path must be under one of: %s", strings.Join(AllowedSocketDirs, ", "))
}

// CheckString rejects NUL bytes and control characters other than \t \n \r.
func CheckString(s string) *protocol.JSONRPCError {
	for _, r := range s {
		if r == 0 {
			return protocol.NewError(protocol.CodeSecurityViolation, "string contains NUL byte")
		}
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return protocol.Errorf(protocol.CodeSecurityViolation,
				"string contains control character U+%04X", r)
		}
	}
	return nil
}

// CheckArgs walks args applying the string, size, depth and number-range
// guards. The returned error names the offending argument in data.argument.
func CheckArgs(args map[string]any) *protocol.JSONRPCError {
	for name, value := range args {
		if rpcErr := CheckString(name); rpcErr != nil {
			return rpcErr.WithData("argument", name)
		}
		if rpcErr := checkValue(value, 1); rpcErr != nil {
			return rpcErr.WithData("argument", name)
		}
		if rpcErr := checkEncodedSize(name, value); rpcErr != nil {
			return rpcErr
		}
	}
	return nil
}

func checkValue(value any, depth int) *protocol.JSONRPCError {
	if depth > MaxNestingDepth {
		return protocol.Errorf(protocol.CodeSecurityViolation,
			"argument nesting exceeds depth %d", MaxNestingDepth)
	}
	switch v := value.(type) {
	case string:
		return CheckString(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return protocol.NewError(protocol.CodeSecurityViolation, "number is not a finite IEEE-754 double")
		}
	case map[string]any:
		for key, elem := range v {
			if rpcErr := CheckString(key); rpcErr != nil {
				return rpcErr
			}
			if rpcErr := checkValue(elem, depth+1); rpcErr != nil {
				return rpcErr
			}
		}
	case []any:
		for _, elem := range v {
			if rpcErr := checkValue(elem, depth+1); rpcErr != nil {
				return rpcErr
			}
		}
	}
	return nil
}

func checkEncodedSize(name string, value any) *protocol.JSONRPCError {
	switch value.(type) {
	case map[string]any, []any:
	default:
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return protocol.Errorf(protocol.CodeSecurityViolation,
			"argument %q is not encodable: %v", name, err).WithData("argument", name)
	}
	if len(data) > MaxArgSize {
		return protocol.Errorf(protocol.CodeSecurityViolation,
			"argument %q encodes to %d bytes (limit %d)", name, len(data), MaxArgSize).
			WithData("argument", name).
			WithData("limit", MaxArgSize)
	}
	return nil
}

// ReplySocketPath derives the ephemeral reply socket path for token under dir.
func ReplySocketPath(dir, token string) string {
	return filepath.Join(dir, fmt.Sprintf(".reply-%s.sock", token))
}
