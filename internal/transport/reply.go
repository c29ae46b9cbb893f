package transport

import (
	"github.com/google/uuid"

	"github.com/janus-ipc/janus/internal/protocol"
	"github.com/janus-ipc/janus/internal/security"
)

// ReplySocket is a short-lived datagram socket a server sends one response
// to. The file lives under the reply directory and disappears with Close.
type ReplySocket struct {
	*DatagramSocket
}

// NewReplySocket binds <dir>/.reply-<uuid>.sock with owner-only permissions.
func NewReplySocket(dir string) (*ReplySocket, *protocol.JSONRPCError) {
	path := security.ReplySocketPath(dir, uuid.NewString())
	sock, rpcErr := Bind(path, BindOptions{SkipPathCheck: true})
	if rpcErr != nil {
		return nil, rpcErr
	}
	return &ReplySocket{DatagramSocket: sock}, nil
}
