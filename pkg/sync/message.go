// message.go defines what travels on a document topic.
//
// Wire Format:
//
// Every broadcast is a Message envelope encoded as JSON:
//
//	{"id":"…","from":"alice","documentId":"doc-1","op":"update",
//	 "entityKind":"layer","payload":{"id":"l1","patch":{"x":10}},
//	 "timestamp":1700000000000000000,"version":"1"}
//
// The payload shape depends on the (op, entityKind) pair:
//
//	add    + layer → a full Layer
//	add    + edge  → a full Edge
//	update + layer → {"id", "patch": LayerPatch}
//	update + edge  → {"id", "patch": EdgePatch}
//	remove + any   → {"ids": [...]}
//
// Inside the process the payload is one of the Operation types below. Encode
// and Decode convert between the two and reject any pair they do not know.

package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Veraticus/linkboard/pkg/diagram"
	"github.com/google/uuid"
)

// ProtocolVersion is stamped on every message.
const ProtocolVersion = "1"

// Op is the kind of mutation a message carries.
type Op string

// Supported ops.
const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpRemove Op = "remove"
)

// Message is the envelope broadcast on a document topic.
type Message struct {
	ID         string             `json:"id"`
	From       string             `json:"from"`
	DocumentID string             `json:"documentId"`
	Op         Op                 `json:"op"`
	EntityKind diagram.EntityKind `json:"entityKind"`
	Payload    json.RawMessage    `json:"payload"`
	Timestamp  int64              `json:"timestamp"`
	Version    string             `json:"version"`
}

// Validate checks the envelope fields.
func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	if m.From == "" {
		return fmt.Errorf("%w: missing sender", ErrInvalidMessage)
	}
	if m.DocumentID == "" {
		return fmt.Errorf("%w: missing document id", ErrInvalidMessage)
	}
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: missing payload", ErrInvalidMessage)
	}
	return nil
}

// Operation is one of LayerAdded, EdgeAdded, LayerUpdated, EdgeUpdated or
// Removed.
type Operation interface {
	// Op and Kind select the wire tag.
	Op() Op
	Kind() diagram.EntityKind

	isOperation()
}

// LayerAdded inserts a layer.
type LayerAdded struct {
	Layer diagram.Layer
}

// EdgeAdded inserts an edge.
type EdgeAdded struct {
	Edge diagram.Edge
}

// LayerUpdated merges a partial layer.
type LayerUpdated struct {
	ID    string             `json:"id"`
	Patch diagram.LayerPatch `json:"patch"`
}

// EdgeUpdated merges a partial edge.
type EdgeUpdated struct {
	ID    string            `json:"id"`
	Patch diagram.EdgePatch `json:"patch"`
}

// Removed deletes entities of one kind.
type Removed struct {
	EntityKind diagram.EntityKind `json:"-"`
	IDs        []string           `json:"ids"`
}

func (LayerAdded) Op() Op   { return OpAdd }
func (EdgeAdded) Op() Op    { return OpAdd }
func (LayerUpdated) Op() Op { return OpUpdate }
func (EdgeUpdated) Op() Op  { return OpUpdate }
func (Removed) Op() Op      { return OpRemove }

func (LayerAdded) Kind() diagram.EntityKind   { return diagram.KindLayer }
func (EdgeAdded) Kind() diagram.EntityKind    { return diagram.KindEdge }
func (LayerUpdated) Kind() diagram.EntityKind { return diagram.KindLayer }
func (EdgeUpdated) Kind() diagram.EntityKind  { return diagram.KindEdge }
func (r Removed) Kind() diagram.EntityKind    { return r.EntityKind }

func (LayerAdded) isOperation()   {}
func (EdgeAdded) isOperation()    {}
func (LayerUpdated) isOperation() {}
func (EdgeUpdated) isOperation()  {}
func (Removed) isOperation()      {}

// RemoveLayers is a Removed for layer ids.
func RemoveLayers(ids ...string) Removed {
	return Removed{EntityKind: diagram.KindLayer, IDs: ids}
}

// RemoveEdges is a Removed for edge ids.
func RemoveEdges(ids ...string) Removed {
	return Removed{EntityKind: diagram.KindEdge, IDs: ids}
}

// Encode wraps op in a new envelope from node for document.
func Encode(node, document string, op Operation) (*Message, error) {
	var payload any
	switch o := op.(type) {
	case LayerAdded:
		payload = o.Layer
	case EdgeAdded:
		payload = o.Edge
	case LayerUpdated, EdgeUpdated:
		payload = o
	case Removed:
		if o.EntityKind != diagram.KindLayer && o.EntityKind != diagram.KindEdge {
			return nil, fmt.Errorf("%w: remove of unknown kind %q", ErrInvalidMessage, o.EntityKind)
		}
		payload = o
	default:
		return nil, fmt.Errorf("%w: unsupported operation %T", ErrInvalidMessage, op)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s %s: %w", op.Op(), op.Kind(), err)
	}

	return &Message{
		ID:         uuid.NewString(),
		From:       node,
		DocumentID: document,
		Op:         op.Op(),
		EntityKind: op.Kind(),
		Payload:    data,
		Timestamp:  time.Now().UnixNano(),
		Version:    ProtocolVersion,
	}, nil
}

// Decode returns the operation carried by m.
func Decode(m *Message) (Operation, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	switch {
	case m.Op == OpAdd && m.EntityKind == diagram.KindLayer:
		var l diagram.Layer
		if err := json.Unmarshal(m.Payload, &l); err != nil {
			return nil, fmt.Errorf("%w: layer payload: %v", ErrInvalidMessage, err)
		}
		return LayerAdded{Layer: l}, nil

	case m.Op == OpAdd && m.EntityKind == diagram.KindEdge:
		var e diagram.Edge
		if err := json.Unmarshal(m.Payload, &e); err != nil {
			return nil, fmt.Errorf("%w: edge payload: %v", ErrInvalidMessage, err)
		}
		return EdgeAdded{Edge: e}, nil

	case m.Op == OpUpdate && m.EntityKind == diagram.KindLayer:
		var u LayerUpdated
		if err := json.Unmarshal(m.Payload, &u); err != nil || u.ID == "" {
			return nil, fmt.Errorf("%w: layer update payload", ErrInvalidMessage)
		}
		return u, nil

	case m.Op == OpUpdate && m.EntityKind == diagram.KindEdge:
		var u EdgeUpdated
		if err := json.Unmarshal(m.Payload, &u); err != nil || u.ID == "" {
			return nil, fmt.Errorf("%w: edge update payload", ErrInvalidMessage)
		}
		return u, nil

	case m.Op == OpRemove && (m.EntityKind == diagram.KindLayer || m.EntityKind == diagram.KindEdge):
		var r Removed
		if err := json.Unmarshal(m.Payload, &r); err != nil {
			return nil, fmt.Errorf("%w: remove payload: %v", ErrInvalidMessage, err)
		}
		r.EntityKind = m.EntityKind
		return r, nil
	}

	return nil, fmt.Errorf("%w: unknown op %q for %q", ErrInvalidMessage, m.Op, m.EntityKind)
}
