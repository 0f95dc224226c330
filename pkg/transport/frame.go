package transport

import (
	"encoding/json"
	"fmt"
)

// FrameType identifies a websocket frame.
type FrameType string

// Frame types.
const (
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FramePublish     FrameType = "publish"
	FrameDeliver     FrameType = "deliver"
	FrameRequest     FrameType = "request"
	FrameResponse    FrameType = "response"
)

// Frame is the unit exchanged between Hub and Client.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Method  string          `json:"method,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *RemoteError    `json:"error,omitempty"`
}

// Validate checks the fields required by the frame type.
func (f *Frame) Validate() error {
	switch f.Type {
	case FrameSubscribe, FrameUnsubscribe:
		if f.Topic == "" {
			return fmt.Errorf("%w: %s without topic", ErrInvalidMessage, f.Type)
		}
	case FramePublish, FrameDeliver:
		if f.Topic == "" {
			return fmt.Errorf("%w: %s without topic", ErrInvalidMessage, f.Type)
		}
		if len(f.Payload) == 0 {
			return fmt.Errorf("%w: %s without payload", ErrInvalidMessage, f.Type)
		}
	case FrameRequest:
		if f.ID == "" || f.Method == "" {
			return fmt.Errorf("%w: request needs id and method", ErrInvalidMessage)
		}
	case FrameResponse:
		if f.ID == "" {
			return fmt.Errorf("%w: response without id", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown frame type %q", ErrInvalidMessage, f.Type)
	}
	return nil
}

// Remote error codes.
const (
	CodeUnknownMethod = "unknown_method"
	CodeInternal      = "internal"
	CodeUnavailable   = "unavailable"
	CodeBadRequest    = "bad_request"
)

// RemoteError is an error produced on the other side of a request. Request
// handlers may return one directly to choose the code; any other error is
// sent as CodeInternal.
type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
