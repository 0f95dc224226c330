// Package sync keeps the documents of several participants in step.
//
// Every local mutation is applied to the local store first and then
// broadcast on a topic named after the document id. Peers apply what they
// receive straight to their store, bypassing the canvas and its locks.
//
// Operations:
//
// Exactly five operations exist (see message.go): a layer or an edge is
// added, a layer or an edge is updated with a partial patch, or a list of
// ids of one kind is removed. Remote application is forgiving:
//   - add of an id that already exists is ignored
//   - update merges the patch; fields absent from the patch keep their value
//   - update or remove of an unknown id is ignored
//
// There is no ordering or conflict resolution beyond that: the last update
// to reach a peer wins at field level.
//
// Failure Handling:
//
// A failed publish is logged and counted but never retried, and the local
// change is never rolled back. Peers stay diverged until a later update of
// the same entity overwrites the field.
//
// Deduplication:
//
// Each message carries a unique id. The engine remembers the ids it sent and
// applied in an LRU set and drops anything it has seen before, together with
// any message whose sender is this participant.
//
// Example Usage:
//
//	engine, err := sync.NewEngine(&sync.Config{
//	    NodeID:     "alice",
//	    DocumentID: "doc-1",
//	    Store:      store,
//	    Bus:        client,
//	    Logger:     logger,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go engine.Run(ctx)
//
//	engine.Publish(ctx, sync.LayerAdded{Layer: l})
package sync

import (
	"errors"
	"time"

	"github.com/Veraticus/linkboard/pkg/diagram"
	"github.com/Veraticus/linkboard/pkg/transport"
)

var (
	// ErrInvalidMessage indicates a malformed message.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrDuplicateMessage indicates we've already seen this message.
	ErrDuplicateMessage = errors.New("duplicate message")

	// ErrWrongDocument indicates a message for another document.
	ErrWrongDocument = errors.New("message for another document")
)

// Model is the part of diagram.Store the engine writes to.
type Model interface {
	InsertLayer(l diagram.Layer) error
	InsertEdge(e diagram.Edge) error
	PatchLayer(id string, p diagram.LayerPatch) ([]diagram.Edge, bool)
	PatchEdge(id string, p diagram.EdgePatch) (diagram.Edge, bool)
	Remove(ids ...string) diagram.Removal
	Layer(id string) (diagram.Layer, bool)
	Edge(id string) (diagram.Edge, bool)
}

// Stats contains sync engine statistics.
type Stats struct {
	StartTime        time.Time
	LastSent         time.Time
	LastApplied      time.Time
	MessagesSent     uint64
	MessagesReceived uint64
	MessagesApplied  uint64
	MessagesIgnored  uint64
	Duplicates       uint64
	SendErrors       uint64
	ReceiveErrors    uint64
}

// Config holds sync engine configuration.
type Config struct {
	Store   Model
	Bus     transport.Bus
	Logger  Logger
	Metrics *Metrics

	// NodeID identifies this participant; it is the From of every message.
	NodeID string

	// DocumentID is both the document and the topic name.
	DocumentID string

	DedupeSize     int
	PublishTimeout time.Duration
}

// Logger interface for sync engine logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Validate checks if config is valid.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("node ID is required")
	}
	if c.DocumentID == "" {
		return errors.New("document ID is required")
	}
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Bus == nil {
		return errors.New("bus is required")
	}

	// Apply defaults
	if c.DedupeSize <= 0 {
		c.DedupeSize = 1000
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = &noopLogger{}
	}

	return nil
}

// noopLogger implements Logger with no operations.
type noopLogger struct{}

func (n *noopLogger) Debug(_ string, _ ...any) {}
func (n *noopLogger) Info(_ string, _ ...any)  {}
func (n *noopLogger) Error(_ string, _ ...any) {}
