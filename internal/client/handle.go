package client

import (
	"sync"
	"time"

	"github.com/janus-ipc/janus/internal/protocol"
	"github.com/janus-ipc/janus/internal/transport"
)

// Status is a handle lifecycle state. Terminal states are sticky.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Result is what an awaiter receives, exactly once per handle.
type Result struct {
	Response *protocol.Response
	Err      *protocol.JSONRPCError
}

// Handle tracks one in-flight request.
type Handle struct {
	ID        string
	Channel   string
	Command   string
	CreatedAt time.Time

	mu     sync.Mutex
	status Status
	done   chan Result
	timer  *time.Timer
	reply  *transport.ReplySocket
}

func newHandle(id, channel, command string, reply *transport.ReplySocket) *Handle {
	return &Handle{
		ID:        id,
		Channel:   channel,
		Command:   command,
		CreatedAt: time.Now(),
		status:    StatusPending,
		done:      make(chan Result, 1),
		reply:     reply,
	}
}

// Status returns the current lifecycle state.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Done is the one-shot reply channel feeding the awaiting caller.
func (h *Handle) Done() <-chan Result {
	return h.done
}

// complete attempts the Pending->to transition. Only the first caller wins;
// late responses and duplicate cancels are no-ops. The winner delivers the
// result and tears down the timer and reply socket.
func (h *Handle) complete(to Status, result Result) bool {
	h.mu.Lock()
	if h.status != StatusPending {
		h.mu.Unlock()
		return false
	}
	h.status = to
	timer := h.timer
	reply := h.reply
	h.timer = nil
	h.reply = nil
	h.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if reply != nil {
		reply.Close()
	}
	h.done <- result
	return true
}

func (h *Handle) armTimer(timer *time.Timer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timer = timer
}
