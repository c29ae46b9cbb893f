package server

import (
	"time"

	"github.com/janus-ipc/janus/internal/manifest"
	"github.com/janus-ipc/janus/internal/protocol"
)

// invokeBuiltin serves the reserved command set. These are always available
// and never overridable.
func (s *Server) invokeBuiltin(req *protocol.Request) (any, *protocol.JSONRPCError) {
	switch req.Command {
	case "ping":
		return map[string]any{
			"pong":        true,
			"server_time": protocol.NowUnix(),
		}, nil

	case "echo":
		args := req.Args
		if args == nil {
			args = map[string]any{}
		}
		return args, nil

	case "get_info":
		return map[string]any{
			"name":           s.cfg.Name,
			"version":        s.cfg.Version,
			"uptime_seconds": s.Uptime().Seconds(),
		}, nil

	case "spec":
		if s.manifest == nil {
			return nil, protocol.NewError(protocol.CodeServerError, "no manifest loaded")
		}
		return s.manifest, nil

	case "validate":
		return s.builtinValidate(req)

	case "slow_process":
		return s.builtinSlowProcess(req)
	}
	return nil, protocol.Errorf(protocol.CodeMethodNotFound, "unknown built-in %q", req.Command)
}

// builtinValidate checks args.command + args.arguments against the manifest
// and reports the outcome instead of failing the request.
func (s *Server) builtinValidate(req *protocol.Request) (any, *protocol.JSONRPCError) {
	if s.manifest == nil {
		return nil, protocol.NewError(protocol.CodeServerError, "no manifest loaded")
	}
	command, ok := req.Args["command"].(string)
	if !ok || command == "" {
		return nil, protocol.NewError(protocol.CodeInvalidParams, "validate requires args.command")
	}
	channel := req.Channel
	if override, ok := req.Args["channel"].(string); ok && override != "" {
		channel = override
	}
	args, _ := req.Args["arguments"].(map[string]any)

	spec, err := s.manifest.Lookup(channel, command)
	if err != nil {
		return map[string]any{
			"valid": false,
			"errors": []any{map[string]any{
				"argument": "command",
				"message":  err.Error(),
			}},
		}, nil
	}
	violations := manifest.ValidateArgs(spec, args)
	errs := make([]any, 0, len(violations))
	for _, v := range violations {
		errs = append(errs, map[string]any{
			"argument": v.Argument,
			"message":  v.Message,
		})
	}
	return map[string]any{
		"valid":  len(violations) == 0,
		"errors": errs,
	}, nil
}

// builtinSlowProcess sleeps for args.duration_ms bounded by configuration.
// Exists for timeout exercising.
func (s *Server) builtinSlowProcess(req *protocol.Request) (any, *protocol.JSONRPCError) {
	durationMS := 1000.0
	if raw, ok := req.Args["duration_ms"]; ok {
		f, isNumber := raw.(float64)
		if !isNumber || f < 0 {
			return nil, protocol.NewError(protocol.CodeInvalidParams, "duration_ms must be a non-negative number")
		}
		durationMS = f
	}
	if max := float64(s.cfg.SlowProcessMaxMS); durationMS > max {
		durationMS = max
	}
	time.Sleep(time.Duration(durationMS * float64(time.Millisecond)))
	return map[string]any{"slept_ms": durationMS}, nil
}
