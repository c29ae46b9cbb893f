package protocol

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Request is one client->server datagram payload.
type Request struct {
	ID        string         `json:"id"`
	Channel   string         `json:"channel"`
	Command   string         `json:"command"`
	Args      map[string]any `json:"args,omitempty"`
	ReplyTo   string         `json:"reply_to,omitempty"`
	Timeout   float64        `json:"timeout,omitempty"`
	Timestamp float64        `json:"timestamp"`
}

// NewRequest builds a request with a fresh UUID v4 id and a send timestamp.
func NewRequest(channel, command string, args map[string]any) *Request {
	return &Request{
		ID:        uuid.NewString(),
		Channel:   channel,
		Command:   command,
		Args:      args,
		Timestamp: NowUnix(),
	}
}

// Validate enforces required request fields.
func (r *Request) Validate() *JSONRPCError {
	if strings.TrimSpace(r.ID) == "" {
		return NewError(CodeInvalidRequest, "missing id")
	}
	if strings.TrimSpace(r.Channel) == "" {
		return NewError(CodeInvalidRequest, "missing channel")
	}
	if strings.TrimSpace(r.Command) == "" {
		return NewError(CodeInvalidRequest, "missing command")
	}
	if r.Timeout < 0 {
		return NewError(CodeInvalidRequest, "timeout must be positive")
	}
	return nil
}

// TimeoutDuration converts the advisory timeout hint, zero when unset.
func (r *Request) TimeoutDuration() time.Duration {
	if r.Timeout <= 0 {
		return 0
	}
	return time.Duration(r.Timeout * float64(time.Second))
}

// Response is one server->client datagram payload.
type Response struct {
	RequestID string        `json:"request_id"`
	Success   bool          `json:"success"`
	Result    any           `json:"result,omitempty"`
	Error     *JSONRPCError `json:"error,omitempty"`
	Timestamp float64       `json:"timestamp"`
}

// SuccessResponse builds a success response correlated to requestID.
func SuccessResponse(requestID string, result any) *Response {
	return &Response{
		RequestID: requestID,
		Success:   true,
		Result:    result,
		Timestamp: NowUnix(),
	}
}

// ErrorResponse builds a failure response correlated to requestID.
func ErrorResponse(requestID string, rpcErr *JSONRPCError) *Response {
	return &Response{
		RequestID: requestID,
		Success:   false,
		Error:     rpcErr,
		Timestamp: NowUnix(),
	}
}

// Validate enforces the success/error pairing invariant.
func (r *Response) Validate() *JSONRPCError {
	if strings.TrimSpace(r.RequestID) == "" {
		return NewError(CodeInvalidRequest, "missing request_id")
	}
	if r.Success && r.Error != nil {
		return NewError(CodeInvalidRequest, "successful response cannot carry an error")
	}
	if !r.Success && r.Error == nil {
		return NewError(CodeInvalidRequest, "failed response must carry an error")
	}
	return nil
}

// NowUnix returns the current time as float seconds since the Unix epoch,
// the timestamp representation shared by all peers on the wire.
func NowUnix() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
