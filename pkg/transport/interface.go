// Package transport moves board traffic between the participants of a
// document session.
//
// Two shapes of communication are supported:
//
//   - topic broadcast (Bus): a participant publishes an opaque JSON payload
//     on a topic and every other subscriber of that topic receives it. The
//     sync engine uses the document id as topic.
//   - request/response (Requester): a participant calls a named method on
//     the relay and waits for its answer. The lock arbiter is served this
//     way.
//
// MemoryBus implements Bus in-process for tests and single-process
// sessions. Hub is the websocket relay (an http.Handler) and Client is the
// matching participant side, reconnecting with exponential backoff and
// re-subscribing its topics after every reconnect.
//
// Authentication uses a shared secret: the client sends an HMAC token on
// the upgrade request and the hub rejects the connection when the token does
// not verify.
package transport

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	// ErrAuthFailed indicates authentication failure
	ErrAuthFailed = errors.New("authentication failed")

	// ErrTimeout indicates a timeout occurred
	ErrTimeout = errors.New("operation timed out")

	// ErrClosed indicates the transport is closed
	ErrClosed = errors.New("transport closed")

	// ErrInvalidMessage indicates a malformed message
	ErrInvalidMessage = errors.New("invalid message format")

	// ErrNotConnected indicates the client is between connections
	ErrNotConnected = errors.New("not connected")
)

// Version is the current protocol version
const Version = "1.0.0"

// HandshakeTimeout is the maximum time allowed for the websocket upgrade
const HandshakeTimeout = 10 * time.Second

// KeepAliveInterval is the interval between keepalive pings
const KeepAliveInterval = 30 * time.Second

// MaxMessageSize is the maximum allowed frame size (1MB)
const MaxMessageSize = 1024 * 1024

// Delivery is one payload received on a subscribed topic.
type Delivery struct {
	Topic string
	From  string
	Data  []byte
}

// Bus is a topic broadcast channel.
type Bus interface {
	// Publish sends data to every other subscriber of topic. Data must be
	// valid JSON.
	Publish(ctx context.Context, topic string, data []byte) error

	// Subscribe returns a channel receiving deliveries for topic. The
	// channel is closed when ctx is done or the bus is closed.
	Subscribe(ctx context.Context, topic string) (<-chan Delivery, error)

	// Close shuts the bus down.
	Close() error
}

// Requester calls named methods on the relay.
type Requester interface {
	// Request sends payload to method and decodes the answer into out
	// (which may be nil).
	Request(ctx context.Context, method string, payload, out any) error
}

// Logger interface for transport logging
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// noopLogger implements Logger with no-op methods
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...interface{}) {}
func (noopLogger) Info(msg string, args ...interface{})  {}
func (noopLogger) Error(msg string, args ...interface{}) {}

// DefaultLogger returns a no-op logger
func DefaultLogger() Logger {
	return noopLogger{}
}
