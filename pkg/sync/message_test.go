package sync

import (
	"encoding/json"
	"testing"

	"github.com/Veraticus/linkboard/pkg/diagram"
	"github.com/Veraticus/linkboard/pkg/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	x := 42.0
	color := diagram.Color{R: 1, G: 2, B: 3}

	tests := []struct {
		name string
		op   Operation
		op2  Op
		kind diagram.EntityKind
	}{
		{
			name: "layer added",
			op:   LayerAdded{Layer: diagram.Layer{ID: "l1", Type: diagram.LayerNote, Width: 100, Height: 50}},
			op2:  OpAdd, kind: diagram.KindLayer,
		},
		{
			name: "edge added",
			op:   EdgeAdded{Edge: diagram.NewEdge("e1", geometry.Point{X: 1}, geometry.Point{X: 2})},
			op2:  OpAdd, kind: diagram.KindEdge,
		},
		{
			name: "layer updated",
			op:   LayerUpdated{ID: "l1", Patch: diagram.LayerPatch{X: &x}},
			op2:  OpUpdate, kind: diagram.KindLayer,
		},
		{
			name: "edge updated",
			op:   EdgeUpdated{ID: "e1", Patch: diagram.EdgePatch{Color: &color}},
			op2:  OpUpdate, kind: diagram.KindEdge,
		},
		{
			name: "layers removed",
			op:   RemoveLayers("l1", "l2"),
			op2:  OpRemove, kind: diagram.KindLayer,
		},
		{
			name: "edges removed",
			op:   RemoveEdges("e1"),
			op2:  OpRemove, kind: diagram.KindEdge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Encode("alice", "doc", tt.op)
			require.NoError(t, err)
			assert.Equal(t, tt.op2, msg.Op)
			assert.Equal(t, tt.kind, msg.EntityKind)
			assert.Len(t, msg.ID, 36)
			assert.Equal(t, ProtocolVersion, msg.Version)

			data, err := json.Marshal(msg)
			require.NoError(t, err)
			var back Message
			require.NoError(t, json.Unmarshal(data, &back))

			got, err := Decode(&back)
			require.NoError(t, err)
			assert.Equal(t, tt.op, got)
		})
	}
}

func TestUpdatePayloadIsPartial(t *testing.T) {
	x := 10.0
	msg, err := Encode("alice", "doc", LayerUpdated{ID: "l1", Patch: diagram.LayerPatch{X: &x}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"l1","patch":{"x":10}}`, string(msg.Payload))

	msg, err = Encode("alice", "doc", RemoveEdges("e1", "e2"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ids":["e1","e2"]}`, string(msg.Payload))
}

func TestDecodeRejects(t *testing.T) {
	valid := func() Message {
		return Message{ID: "m", From: "bob", DocumentID: "doc", Op: OpRemove, EntityKind: diagram.KindLayer, Payload: json.RawMessage(`{"ids":["a"]}`)}
	}

	tests := []struct {
		name   string
		mutate func(m *Message)
	}{
		{"missing id", func(m *Message) { m.ID = "" }},
		{"missing sender", func(m *Message) { m.From = "" }},
		{"missing document", func(m *Message) { m.DocumentID = "" }},
		{"missing payload", func(m *Message) { m.Payload = nil }},
		{"unknown op", func(m *Message) { m.Op = "upsert" }},
		{"unknown kind", func(m *Message) { m.EntityKind = "comment" }},
		{"update without id", func(m *Message) {
			m.Op = OpUpdate
			m.Payload = json.RawMessage(`{"patch":{}}`)
		}},
		{"bad layer payload", func(m *Message) {
			m.Op = OpAdd
			m.Payload = json.RawMessage(`[1,2]`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(&m)
			_, err := Decode(&m)
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}

	_, err := Encode("a", "doc", Removed{EntityKind: "comment"})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}
