package client

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/janus-ipc/janus/internal/observability"
	"github.com/janus-ipc/janus/internal/protocol"
)

// Registry tracks pending handles keyed by request id. The mutex is held
// only across map operations; delivery happens outside it.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*Handle
	cap     int
	name    string
}

// NewRegistry builds a registry with a pending cap; name labels metrics.
func NewRegistry(name string, capacity int) *Registry {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Registry{
		pending: make(map[string]*Handle),
		cap:     capacity,
		name:    name,
	}
}

// Insert registers a pending handle. Exceeding the cap or reusing a live id
// fails with ServerError.
func (r *Registry) Insert(h *Handle) *protocol.JSONRPCError {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) >= r.cap {
		return protocol.Errorf(protocol.CodeServerError,
			"pending request cap %d reached", r.cap)
	}
	if _, exists := r.pending[h.ID]; exists {
		return protocol.Errorf(protocol.CodeServerError,
			"request id %s is already tracked", h.ID)
	}
	r.pending[h.ID] = h
	observability.SetPendingRequests(r.name, len(r.pending))
	return nil
}

// Resolve correlates a response with its handle and completes it. Unknown
// ids are dropped with a debug log and report false.
func (r *Registry) Resolve(resp *protocol.Response) bool {
	r.mu.Lock()
	h, ok := r.pending[resp.RequestID]
	if ok {
		delete(r.pending, resp.RequestID)
		observability.SetPendingRequests(r.name, len(r.pending))
	}
	r.mu.Unlock()
	if !ok {
		log.Debug().Str("request_id", resp.RequestID).Msg("dropping reply for unknown request")
		return false
	}
	result := Result{Response: resp}
	if !resp.Success {
		result = Result{Err: resp.Error}
	}
	return h.complete(StatusCompleted, result)
}

// Cancel transitions a pending handle to Cancelled, delivering rpcErr to the
// awaiter. Reports whether the handle was still pending.
func (r *Registry) Cancel(id string, rpcErr *protocol.JSONRPCError) bool {
	r.mu.Lock()
	h, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
		observability.SetPendingRequests(r.name, len(r.pending))
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	return h.complete(StatusCancelled, Result{Err: rpcErr})
}

// CancelAll cancels every pending handle and returns the count.
func (r *Registry) CancelAll(rpcErr *protocol.JSONRPCError) int {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.pending))
	for _, h := range r.pending {
		handles = append(handles, h)
	}
	r.pending = make(map[string]*Handle)
	observability.SetPendingRequests(r.name, 0)
	r.mu.Unlock()

	count := 0
	for _, h := range handles {
		if h.complete(StatusCancelled, Result{Err: rpcErr}) {
			count++
		}
	}
	return count
}

// Get is a constant-time handle lookup.
func (r *Registry) Get(id string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.pending[id]
	return h, ok
}

// PendingCount reports how many handles await replies.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Pending returns a snapshot of pending handles ordered by id.
func (r *Registry) Pending() []*Handle {
	r.mu.Lock()
	out := make([]*Handle, 0, len(r.pending))
	for _, h := range r.pending {
		out = append(out, h)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats summarises the pending set.
type Stats struct {
	PendingCount int
	AverageAge   time.Duration
	OldestID     string
	NewestID     string
}

// Snapshot computes registry statistics.
func (r *Registry) Snapshot() Stats {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{PendingCount: len(r.pending)}
	if len(r.pending) == 0 {
		return stats
	}
	var total time.Duration
	var oldest, newest *Handle
	for _, h := range r.pending {
		total += now.Sub(h.CreatedAt)
		if oldest == nil || h.CreatedAt.Before(oldest.CreatedAt) {
			oldest = h
		}
		if newest == nil || h.CreatedAt.After(newest.CreatedAt) {
			newest = h
		}
	}
	stats.AverageAge = total / time.Duration(len(r.pending))
	stats.OldestID = oldest.ID
	stats.NewestID = newest.ID
	return stats
}
