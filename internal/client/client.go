package client

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/janus-ipc/janus/internal/config"
	"github.com/janus-ipc/janus/internal/manifest"
	"github.com/janus-ipc/janus/internal/protocol"
	"github.com/janus-ipc/janus/internal/security"
	"github.com/janus-ipc/janus/internal/transport"
)

// Client is the facade over the datagram request/response engine. One client
// serves one channel on one server socket.
type Client struct {
	cfg      config.ClientConfig
	codec    *protocol.Codec
	registry *Registry
	manifest *manifest.Manifest
	replyDir string
	logger   zerolog.Logger
}

// Dial validates configuration, and when validation is enabled fetches the
// server Manifest via the spec built-in. Fetch failure is fatal in that mode.
func Dial(cfg config.ClientConfig) (*Client, error) {
	if err := config.ValidateClientConfig(cfg); err != nil {
		return nil, err
	}
	if rpcErr := security.CheckSocketPath(cfg.SocketPath); rpcErr != nil {
		return nil, rpcErr
	}
	replyDir := cfg.ReplyDir
	if replyDir == "" {
		replyDir = filepath.Dir(cfg.SocketPath)
	}
	c := &Client{
		cfg:      cfg,
		codec:    protocol.NewCodec(cfg.MaxMessageSize),
		registry: NewRegistry(cfg.SocketPath, cfg.MaxPendingCount),
		replyDir: replyDir,
		logger:   log.With().Str("socket", cfg.SocketPath).Str("channel", cfg.Channel).Logger(),
	}
	if cfg.EnableValidation {
		m, rpcErr := c.fetchManifest()
		if rpcErr != nil {
			return nil, protocol.Errorf(protocol.CodeTransportError,
				"manifest fetch failed: %v", rpcErr)
		}
		if !m.HasChannel(cfg.Channel) {
			return nil, protocol.Errorf(protocol.CodeValidationError,
				"channel %q not declared by server manifest", cfg.Channel)
		}
		c.manifest = m
	}
	return c, nil
}

// Manifest returns the cached server manifest, nil when validation is off.
func (c *Client) Manifest() *manifest.Manifest {
	return c.manifest
}

// SendCommand sends and blocks until the reply, a timeout, or cancellation.
// A zero timeout selects the configured default; the effective timeout never
// exceeds the default timeout or the datagram timeout.
func (c *Client) SendCommand(command string, args map[string]any, timeout time.Duration) (*protocol.Response, *protocol.JSONRPCError) {
	h, rpcErr := c.SendCommandWithHandle(command, args, timeout)
	if rpcErr != nil {
		return nil, rpcErr
	}
	result := <-h.Done()
	if result.Err != nil {
		return nil, result.Err
	}
	return result.Response, nil
}

// SendCommandWithHandle sends and returns immediately with a tracking handle
// whose Done channel carries the eventual result.
func (c *Client) SendCommandWithHandle(command string, args map[string]any, timeout time.Duration) (*Handle, *protocol.JSONRPCError) {
	effective, rpcErr := c.effectiveTimeout(timeout)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := c.validateLocally(command, args); rpcErr != nil {
		return nil, rpcErr
	}

	req := protocol.NewRequest(c.cfg.Channel, command, args)
	req.Timeout = effective.Seconds()

	reply, rpcErr := transport.NewReplySocket(c.replyDir)
	if rpcErr != nil {
		return nil, rpcErr
	}
	req.ReplyTo = reply.Path()

	h := newHandle(req.ID, req.Channel, req.Command, reply)
	if rpcErr := c.registry.Insert(h); rpcErr != nil {
		reply.Close()
		return nil, rpcErr
	}

	payload, rpcErr := c.codec.EncodeRequest(req)
	if rpcErr != nil {
		c.registry.Cancel(h.ID, rpcErr)
		return nil, rpcErr
	}
	if rpcErr := transport.Send(c.cfg.SocketPath, payload, c.codec.MaxMessageSize()); rpcErr != nil {
		c.registry.Cancel(h.ID, rpcErr)
		return nil, rpcErr
	}

	h.armTimer(time.AfterFunc(effective, func() {
		timedOut := c.registry.Cancel(h.ID, protocol.Errorf(protocol.CodeTimeout,
			"no reply within %v", effective).WithData("timeout_seconds", effective.Seconds()))
		if timedOut {
			c.logger.Debug().Str("request_id", h.ID).Dur("timeout", effective).Msg("request timed out")
		}
	}))
	go c.readReplies(h, reply, effective)
	return h, nil
}

// SendCommandNoResponse emits a fire-and-forget datagram with no reply_to.
// It resolves once the datagram reaches the kernel buffer.
func (c *Client) SendCommandNoResponse(command string, args map[string]any) *protocol.JSONRPCError {
	if rpcErr := c.validateLocally(command, args); rpcErr != nil {
		return rpcErr
	}
	req := protocol.NewRequest(c.cfg.Channel, command, args)
	req.Timeout = c.cfg.DatagramTimeout

	payload, rpcErr := c.codec.EncodeRequest(req)
	if rpcErr != nil {
		return rpcErr
	}
	return transport.Send(c.cfg.SocketPath, payload, c.codec.MaxMessageSize())
}

// CancelRequest cancels a pending handle. Reports false when the handle has
// already reached a terminal state.
func (c *Client) CancelRequest(h *Handle) bool {
	return c.registry.Cancel(h.ID, protocol.NewError(protocol.CodeCancelled, "cancelled by caller"))
}

// CancelAllRequests cancels every pending handle and returns the count.
func (c *Client) CancelAllRequests() int {
	return c.registry.CancelAll(protocol.NewError(protocol.CodeCancelled, "all requests cancelled"))
}

// GetPendingRequests snapshots the handles still awaiting replies.
func (c *Client) GetPendingRequests() []*Handle {
	return c.registry.Pending()
}

// GetRequestStatus is a constant-time status lookup for a handle.
func (c *Client) GetRequestStatus(h *Handle) Status {
	return h.Status()
}

// Stats summarises the registry.
func (c *Client) Stats() Stats {
	return c.registry.Snapshot()
}

// Close cancels all in-flight requests.
func (c *Client) Close() {
	c.CancelAllRequests()
}

// readReplies reads datagrams off one reply socket until its handle settles.
// Replies carrying a foreign request_id are dropped, not delivered.
func (c *Client) readReplies(h *Handle, reply *transport.ReplySocket, timeout time.Duration) {
	buf := make([]byte, transport.RecvBufferSize(c.codec.MaxMessageSize()))
	deadline := time.Now().Add(timeout + 100*time.Millisecond)
	for {
		reply.SetReadDeadline(deadline)
		data, rpcErr := reply.Recv(buf)
		if rpcErr != nil {
			// Socket closed by a terminal transition, or deadline passed
			// after the timer already fired. Either way the handle settles
			// elsewhere.
			return
		}
		resp, rpcErr := c.codec.DecodeResponse(data)
		if rpcErr != nil {
			c.logger.Debug().Err(rpcErr).Msg("dropping undecodable reply datagram")
			continue
		}
		if resp.RequestID != h.ID {
			c.logger.Debug().Str("request_id", resp.RequestID).Msg("dropping reply for unknown request")
			continue
		}
		c.registry.Resolve(resp)
		return
	}
}

// validateLocally applies the security overlay and, when a manifest is
// cached, declared-command validation. Built-ins bypass the manifest.
func (c *Client) validateLocally(command string, args map[string]any) *protocol.JSONRPCError {
	if rpcErr := security.CheckArgs(args); rpcErr != nil {
		return rpcErr
	}
	if c.manifest == nil || manifest.IsReservedCommand(command) {
		return nil
	}
	spec, err := c.manifest.Lookup(c.cfg.Channel, command)
	if err != nil {
		return protocol.Errorf(protocol.CodeMethodNotFound,
			"command %q not declared in channel %q", command, c.cfg.Channel).
			WithData("command", command)
	}
	if violations := manifest.ValidateArgs(spec, args); len(violations) > 0 {
		return manifest.ViolationsError(violations)
	}
	return nil
}

func (c *Client) effectiveTimeout(timeout time.Duration) (time.Duration, *protocol.JSONRPCError) {
	if timeout < 0 {
		return 0, protocol.NewError(protocol.CodeInvalidRequest, "timeout must be positive")
	}
	effective := c.cfg.DefaultTimeoutDuration()
	if timeout > 0 && timeout < effective {
		effective = timeout
	}
	if datagram := c.cfg.DatagramTimeoutDuration(); datagram > 0 && datagram < effective {
		effective = datagram
	}
	if effective <= 0 {
		return 0, protocol.NewError(protocol.CodeInvalidRequest, "timeout must be positive")
	}
	return effective, nil
}

// fetchManifest performs the construction-time spec round trip without
// touching the registry, which is not yet serving user requests.
func (c *Client) fetchManifest() (*manifest.Manifest, *protocol.JSONRPCError) {
	req := protocol.NewRequest(c.cfg.Channel, "spec", nil)
	req.Timeout = c.cfg.DefaultTimeout

	reply, rpcErr := transport.NewReplySocket(c.replyDir)
	if rpcErr != nil {
		return nil, rpcErr
	}
	defer reply.Close()
	req.ReplyTo = reply.Path()

	payload, rpcErr := c.codec.EncodeRequest(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := transport.Send(c.cfg.SocketPath, payload, c.codec.MaxMessageSize()); rpcErr != nil {
		return nil, rpcErr
	}

	reply.SetReadDeadline(time.Now().Add(c.cfg.DefaultTimeoutDuration()))
	buf := make([]byte, transport.RecvBufferSize(c.codec.MaxMessageSize()))
	for {
		data, rpcErr := reply.Recv(buf)
		if rpcErr != nil {
			return nil, rpcErr
		}
		resp, decodeErr := c.codec.DecodeResponse(data)
		if decodeErr != nil {
			c.logger.Debug().Err(decodeErr).Msg("dropping undecodable spec reply")
			continue
		}
		if resp.RequestID != req.ID {
			continue
		}
		if !resp.Success {
			return nil, resp.Error
		}
		raw, err := json.Marshal(resp.Result)
		if err != nil {
			return nil, protocol.Errorf(protocol.CodeParseError, "spec result not encodable: %v", err)
		}
		m, parseErr := manifest.ParseJSON(raw)
		if parseErr != nil {
			return nil, protocol.Errorf(protocol.CodeParseError, "server manifest invalid: %v", parseErr)
		}
		return m, nil
	}
}
