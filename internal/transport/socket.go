package transport

import (
	"errors"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/janus-ipc/janus/internal/protocol"
	"github.com/janus-ipc/janus/internal/security"
)

const (
	sendRetryAttempts = 3
	sendRetryBackoff  = 5 * time.Millisecond

	// maxRecvBuffer bounds a single receive buffer. Linux caps unix datagram
	// payloads well below this via net.core.wmem_max.
	maxRecvBuffer = 512 * 1024
)

// RecvBufferSize picks a receive buffer large enough to detect an oversize
// payload for the given message cap without allocating the full ceiling.
func RecvBufferSize(maxMessageSize int) int {
	size := maxMessageSize + 1
	if size > maxRecvBuffer {
		size = maxRecvBuffer
	}
	return size
}

// BindOptions controls socket creation.
type BindOptions struct {
	// CleanupOnStart removes an existing socket file without probing it.
	CleanupOnStart bool
	// SkipPathCheck disables the allowed-prefix guard; reply sockets under a
	// caller-chosen directory still get permission and length checks.
	SkipPathCheck bool
}

// DatagramSocket is a bound Unix SOCK_DGRAM endpoint.
type DatagramSocket struct {
	conn *net.UnixConn
	path string
}

// Bind creates a datagram socket at path with mode 0600. An existing socket
// file is removed only when no live listener holds it, unless
// CleanupOnStart forces removal.
func Bind(path string, opts BindOptions) (*DatagramSocket, *protocol.JSONRPCError) {
	if !opts.SkipPathCheck {
		if rpcErr := security.CheckSocketPath(path); rpcErr != nil {
			return nil, rpcErr
		}
	}
	if len(path) > security.MaxSocketPathLen {
		return nil, protocol.Errorf(protocol.CodeSecurityViolation,
			"socket path exceeds %d bytes", security.MaxSocketPathLen)
	}

	if _, err := os.Stat(path); err == nil {
		if opts.CleanupOnStart || isStaleSocket(path) {
			if err := os.Remove(path); err != nil {
				return nil, protocol.Errorf(protocol.CodeTransportError,
					"cannot remove socket file %s: %v", path, err)
			}
		} else {
			return nil, protocol.Errorf(protocol.CodeTransportError,
				"socket path %s is bound by a live process", path)
		}
	}

	addr := &net.UnixAddr{Name: path, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, protocol.Errorf(protocol.CodeTransportError, "bind %s: %v", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		conn.Close()
		os.Remove(path)
		return nil, protocol.Errorf(protocol.CodeTransportError, "chmod %s: %v", path, err)
	}
	return &DatagramSocket{conn: conn, path: path}, nil
}

// isStaleSocket reports whether the socket file at path has no listener. A
// connect attempt to a dead SOCK_DGRAM path fails with ECONNREFUSED.
func isStaleSocket(path string) bool {
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: path, Net: "unixgram"})
	if err == nil {
		conn.Close()
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

// Path returns the bound filesystem path.
func (s *DatagramSocket) Path() string {
	return s.path
}

// Recv reads the next datagram into buf and returns the payload slice. A
// read-deadline expiry maps to Timeout; everything else is TransportError.
func (s *DatagramSocket) Recv(buf []byte) ([]byte, *protocol.JSONRPCError) {
	n, _, err := s.conn.ReadFromUnix(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, protocol.Errorf(protocol.CodeTimeout, "recv on %s: %v", s.path, err)
		}
		return nil, protocol.Errorf(protocol.CodeTransportError, "recv on %s: %v", s.path, err)
	}
	return buf[:n], nil
}

// SetReadDeadline bounds the next Recv.
func (s *DatagramSocket) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// Close tears down the socket and removes its file.
func (s *DatagramSocket) Close() error {
	err := s.conn.Close()
	if removeErr := os.Remove(s.path); removeErr != nil && !os.IsNotExist(removeErr) && err == nil {
		err = removeErr
	}
	return err
}

// IsTimeout reports whether a Recv error was a read-deadline expiry.
func IsTimeout(rpcErr *protocol.JSONRPCError) bool {
	return rpcErr != nil && rpcErr.Code == protocol.CodeTimeout
}

// Send writes payload as one datagram to the socket at path. Transient
// EAGAIN/ENOBUFS failures are retried with a short backoff before they
// surface as TransportError.
func Send(path string, payload []byte, maxMessageSize int) *protocol.JSONRPCError {
	if maxMessageSize > 0 && len(payload) > maxMessageSize {
		return protocol.Errorf(protocol.CodeMessageTooLarge,
			"datagram %d bytes exceeds limit %d", len(payload), maxMessageSize)
	}
	addr := &net.UnixAddr{Name: path, Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", nil, addr)
	if err != nil {
		return protocol.Errorf(protocol.CodeTransportError, "dial %s: %v", path, err)
	}
	defer conn.Close()

	var lastErr error
	for attempt := 1; attempt <= sendRetryAttempts; attempt++ {
		_, err := conn.Write(payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransientSendError(err) {
			break
		}
		log.Debug().Str("path", path).Int("attempt", attempt).Err(err).Msg("datagram send retry")
		time.Sleep(sendRetryBackoff)
	}
	return protocol.Errorf(protocol.CodeTransportError, "send to %s: %v", path, lastErr)
}

func isTransientSendError(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ENOBUFS)
}
