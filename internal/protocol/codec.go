package protocol

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"
)

const (
	// DefaultMaxMessageSize bounds a single datagram payload.
	DefaultMaxMessageSize = 5 * 1024 * 1024
	// MaxMessageSizeCeiling is the hard upper bound no configuration may exceed.
	MaxMessageSizeCeiling = 64 * 1024 * 1024
)

// Codec encodes and decodes datagram payloads as UTF-8 JSON with a size cap
// enforced in both directions.
type Codec struct {
	maxMessageSize int
}

// NewCodec clamps maxMessageSize into (0, MaxMessageSizeCeiling]; zero or
// negative selects the default.
func NewCodec(maxMessageSize int) *Codec {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	if maxMessageSize > MaxMessageSizeCeiling {
		maxMessageSize = MaxMessageSizeCeiling
	}
	return &Codec{maxMessageSize: maxMessageSize}
}

// MaxMessageSize reports the effective cap in bytes.
func (c *Codec) MaxMessageSize() int {
	return c.maxMessageSize
}

// EncodeRequest serialises req, enforcing the size cap.
func (c *Codec) EncodeRequest(req *Request) ([]byte, *JSONRPCError) {
	if req == nil {
		return nil, NewError(CodeInvalidRequest, "nil request")
	}
	return c.encode(req)
}

// EncodeResponse serialises resp, enforcing the size cap.
func (c *Codec) EncodeResponse(resp *Response) ([]byte, *JSONRPCError) {
	if resp == nil {
		return nil, NewError(CodeInvalidRequest, "nil response")
	}
	return c.encode(resp)
}

// DecodeRequest parses one request datagram. Unknown top-level fields are
// ignored for forward compatibility.
func (c *Codec) DecodeRequest(data []byte) (*Request, *JSONRPCError) {
	if rpcErr := c.checkInbound(data); rpcErr != nil {
		return nil, rpcErr
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, Errorf(CodeParseError, "malformed request: %v", err)
	}
	if rpcErr := req.Validate(); rpcErr != nil {
		return nil, rpcErr
	}
	return &req, nil
}

// DecodeResponse parses one response datagram.
func (c *Codec) DecodeResponse(data []byte) (*Response, *JSONRPCError) {
	if rpcErr := c.checkInbound(data); rpcErr != nil {
		return nil, rpcErr
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, Errorf(CodeParseError, "malformed response: %v", err)
	}
	if rpcErr := resp.Validate(); rpcErr != nil {
		return nil, rpcErr
	}
	return &resp, nil
}

func (c *Codec) encode(v any) ([]byte, *JSONRPCError) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, Errorf(CodeInternalError, "encode failed: %v", err)
	}
	data := bytes.TrimRight(buf.Bytes(), "\n")
	if len(data) > c.maxMessageSize {
		return nil, Errorf(CodeMessageTooLarge, "encoded payload %d bytes exceeds limit %d", len(data), c.maxMessageSize).
			WithData("size", len(data)).
			WithData("limit", c.maxMessageSize)
	}
	return data, nil
}

func (c *Codec) checkInbound(data []byte) *JSONRPCError {
	if len(data) > c.maxMessageSize {
		return Errorf(CodeMessageTooLarge, "received payload %d bytes exceeds limit %d", len(data), c.maxMessageSize).
			WithData("size", len(data)).
			WithData("limit", c.maxMessageSize)
	}
	if !utf8.Valid(data) {
		return NewError(CodeParseError, "payload is not valid UTF-8")
	}
	return nil
}
