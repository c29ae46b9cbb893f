package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/janus-ipc/janus/internal/config"
	"github.com/janus-ipc/janus/internal/manifest"
	"github.com/janus-ipc/janus/internal/observability"
	"github.com/janus-ipc/janus/internal/protocol"
	"github.com/janus-ipc/janus/internal/security"
	"github.com/janus-ipc/janus/internal/transport"
)

var (
	ErrAlreadyStarted  = errors.New("server: already started")
	ErrReservedCommand = errors.New("server: reserved built-in command")
)

// HandlerFunc processes one request and returns a result or a wire error.
type HandlerFunc func(req *protocol.Request) (any, *protocol.JSONRPCError)

// Server dispatches datagrams from one listening socket. The handler table
// is registration-only before Start and read without locks afterwards.
type Server struct {
	cfg      config.ServerConfig
	codec    *protocol.Codec
	manifest *manifest.Manifest
	handlers map[string]HandlerFunc

	sock      *transport.DatagramSocket
	sem       chan struct{}
	started   atomic.Bool
	stopping  atomic.Bool
	startedAt time.Time
	wg        sync.WaitGroup
	logger    zerolog.Logger
}

// New builds a server. m may be nil when the server exposes only built-ins
// and registered handlers without manifest validation.
func New(cfg config.ServerConfig, m *manifest.Manifest) (*Server, error) {
	if err := config.ValidateServerConfig(cfg); err != nil {
		return nil, err
	}
	return &Server{
		cfg:      cfg,
		codec:    protocol.NewCodec(cfg.MaxMessageSize),
		manifest: m,
		handlers: make(map[string]HandlerFunc),
		sem:      make(chan struct{}, cfg.MaxConcurrentHandlers),
		logger:   log.With().Str("server", cfg.Name).Logger(),
	}, nil
}

// Manifest returns the manifest this server validates against, nil when none.
func (s *Server) Manifest() *manifest.Manifest {
	return s.manifest
}

// RegisterHandler installs a handler for command. Reserved built-in names
// are rejected; registration after Start is rejected.
func (s *Server) RegisterHandler(command string, handler HandlerFunc) error {
	if s.started.Load() {
		return ErrAlreadyStarted
	}
	if manifest.IsReservedCommand(command) {
		return fmt.Errorf("%w: %q", ErrReservedCommand, command)
	}
	if strings.TrimSpace(command) == "" || handler == nil {
		return fmt.Errorf("server: invalid handler registration for %q", command)
	}
	s.handlers[command] = handler
	return nil
}

// Start binds the socket and launches the receive loop. Bind failure on a
// live path is fatal.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	sock, rpcErr := transport.Bind(s.cfg.SocketPath, transport.BindOptions{
		CleanupOnStart: s.cfg.CleanupOnStart,
	})
	if rpcErr != nil {
		s.started.Store(false)
		return rpcErr
	}
	s.sock = sock
	s.startedAt = time.Now()
	observability.RegisterMetrics()

	s.wg.Add(1)
	go s.recvLoop()
	s.logger.Info().Str("socket", s.cfg.SocketPath).Msg("listening")
	return nil
}

// Close stops the receive loop and removes the socket file.
func (s *Server) Close() error {
	if !s.started.Load() || s.sock == nil {
		return nil
	}
	s.stopping.Store(true)
	err := s.sock.Close()
	s.wg.Wait()
	return err
}

// Uptime reports time since Start.
func (s *Server) Uptime() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// HandlerNames lists registered (non-built-in) commands, for the admin surface.
func (s *Server) HandlerNames() []string {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	return names
}

// Name returns the configured server name.
func (s *Server) Name() string {
	return s.cfg.Name
}

func (s *Server) recvLoop() {
	defer s.wg.Done()
	buf := make([]byte, transport.RecvBufferSize(s.codec.MaxMessageSize()))
	for {
		data, rpcErr := s.sock.Recv(buf)
		if rpcErr != nil {
			if s.stopping.Load() {
				s.logger.Info().Msg("receive loop stopped")
				return
			}
			s.logger.Warn().Err(rpcErr).Msg("recv failed")
			continue
		}
		observability.RecordDatagramReceived(s.cfg.Name)

		payload := make([]byte, len(data))
		copy(payload, data)
		s.handleDatagram(payload)
	}
}

// handleDatagram runs decode and validation inline, then hands the handler
// off to its own goroutine so a slow handler cannot stall the receive loop.
func (s *Server) handleDatagram(data []byte) {
	req, rpcErr := s.codec.DecodeRequest(data)
	if rpcErr != nil {
		observability.RecordDispatchRejected(s.cfg.Name, "decode")
		s.replyBestEffort(data, rpcErr)
		return
	}

	// An unsafe reply path is never replied to, only dropped.
	if req.ReplyTo != "" {
		if pathErr := security.CheckSocketPath(req.ReplyTo); pathErr != nil {
			observability.RecordDispatchRejected(s.cfg.Name, "security")
			s.logger.Debug().Str("reply_to", req.ReplyTo).Err(pathErr).
				Msg("dropping datagram with unsafe reply path")
			return
		}
	}

	if guardErr := s.guard(req); guardErr != nil {
		observability.RecordDispatchRejected(s.cfg.Name, "security")
		s.reply(req, protocol.ErrorResponse(req.ID, guardErr))
		return
	}

	if validateErr := s.validate(req); validateErr != nil {
		observability.RecordDispatchRejected(s.cfg.Name, "validation")
		s.reply(req, protocol.ErrorResponse(req.ID, validateErr))
		return
	}

	select {
	case s.sem <- struct{}{}:
	default:
		observability.RecordDispatchRejected(s.cfg.Name, "overloaded")
		s.reply(req, protocol.ErrorResponse(req.ID,
			protocol.NewError(protocol.CodeServerError, "overloaded")))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		s.dispatch(req)
	}()
}

// guard applies the C9 overlay to an already-decoded request. The reply
// path is checked earlier so rejections here can still be answered.
func (s *Server) guard(req *protocol.Request) *protocol.JSONRPCError {
	if rpcErr := security.CheckString(req.Channel); rpcErr != nil {
		return rpcErr
	}
	if rpcErr := security.CheckString(req.Command); rpcErr != nil {
		return rpcErr
	}
	return security.CheckArgs(req.Args)
}

// validate routes the command through the manifest unless it is built-in.
func (s *Server) validate(req *protocol.Request) *protocol.JSONRPCError {
	if manifest.IsReservedCommand(req.Command) {
		return nil
	}
	if s.manifest == nil {
		if _, ok := s.handlers[req.Command]; !ok {
			return protocol.Errorf(protocol.CodeMethodNotFound,
				"command %q not registered", req.Command).WithData("command", req.Command)
		}
		return nil
	}
	spec, err := s.manifest.Lookup(req.Channel, req.Command)
	if err != nil {
		return protocol.Errorf(protocol.CodeMethodNotFound,
			"command %q not declared in channel %q", req.Command, req.Channel).
			WithData("command", req.Command)
	}
	if violations := manifest.ValidateArgs(spec, req.Args); len(violations) > 0 {
		return manifest.ViolationsError(violations)
	}
	return nil
}

// dispatch runs the handler with panic isolation and writes the reply.
func (s *Server) dispatch(req *protocol.Request) {
	start := time.Now()
	result, rpcErr := s.invoke(req)

	if rpcErr == nil && s.cfg.ValidateResponses && s.manifest != nil &&
		!manifest.IsReservedCommand(req.Command) {
		if spec, err := s.manifest.Lookup(req.Channel, req.Command); err == nil {
			if violations := manifest.ValidateResponse(spec, result); len(violations) > 0 {
				rpcErr = manifest.ViolationsError(violations)
			}
		}
	}

	observability.RecordDispatch(s.cfg.Name, req.Channel, req.Command, rpcErr == nil, time.Since(start))

	var resp *protocol.Response
	if rpcErr != nil {
		resp = protocol.ErrorResponse(req.ID, rpcErr)
	} else {
		resp = protocol.SuccessResponse(req.ID, result)
	}

	if req.ReplyTo == "" {
		if rpcErr != nil {
			s.logger.Warn().Str("command", req.Command).Err(rpcErr).
				Msg("fire-and-forget handler failed")
		}
		return
	}
	s.reply(req, resp)
}

// invoke selects the built-in or registered handler and isolates panics.
func (s *Server) invoke(req *protocol.Request) (result any, rpcErr *protocol.JSONRPCError) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("command", req.Command).Interface("panic", r).
				Msg("handler panicked")
			rpcErr = protocol.Errorf(protocol.CodeInternalError, "handler panic: %v", r).
				WithData("trace", string(debug.Stack()))
			result = nil
		}
	}()

	if manifest.IsReservedCommand(req.Command) {
		return s.invokeBuiltin(req)
	}
	handler, ok := s.handlers[req.Command]
	if !ok {
		return nil, protocol.Errorf(protocol.CodeMethodNotFound,
			"command %q has no handler", req.Command).WithData("command", req.Command)
	}
	return handler(req)
}

func (s *Server) reply(req *protocol.Request, resp *protocol.Response) {
	if req.ReplyTo == "" {
		return
	}
	s.sendReply(req.ReplyTo, resp)
}

// replyBestEffort answers an undecodable datagram when a loose parse still
// yields a reply path, otherwise drops it.
func (s *Server) replyBestEffort(data []byte, rpcErr *protocol.JSONRPCError) {
	var loose struct {
		ID      string `json:"id"`
		ReplyTo string `json:"reply_to"`
	}
	if err := json.Unmarshal(data, &loose); err != nil || loose.ReplyTo == "" {
		s.logger.Debug().Err(rpcErr).Msg("dropping undecodable datagram")
		return
	}
	if pathErr := security.CheckSocketPath(loose.ReplyTo); pathErr != nil {
		s.logger.Debug().Err(pathErr).Msg("dropping undecodable datagram with unsafe reply path")
		return
	}
	s.sendReply(loose.ReplyTo, protocol.ErrorResponse(loose.ID, rpcErr))
}

func (s *Server) sendReply(replyTo string, resp *protocol.Response) {
	payload, rpcErr := s.codec.EncodeResponse(resp)
	if rpcErr != nil {
		observability.RecordReplySent(s.cfg.Name, false)
		s.logger.Warn().Err(rpcErr).Msg("response encode failed")
		return
	}
	if rpcErr := transport.Send(replyTo, payload, s.codec.MaxMessageSize()); rpcErr != nil {
		observability.RecordReplySent(s.cfg.Name, false)
		s.logger.Warn().Str("reply_to", replyTo).Err(rpcErr).Msg("reply send failed")
		return
	}
	observability.RecordReplySent(s.cfg.Name, true)
}
