package diagram

import (
	"encoding/json"
	"fmt"
)

// Snapshot is the full content of a document: every layer in paint order
// and every edge. It is the shape exchanged with importers, exporters and
// the save gateway.
type Snapshot struct {
	Layers []Layer `json:"layers"`
	Edges  []Edge  `json:"edges"`
}

// ParseSnapshot decodes and validates a document. Nothing is returned unless
// the whole payload is well formed, so callers can hand the result straight
// to ReplaceAll.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Layers == nil {
		snap.Layers = []Layer{}
	}
	if snap.Edges == nil {
		snap.Edges = []Edge{}
	}
	if err := snap.Validate(0); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Marshal encodes the snapshot as JSON.
func (s *Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Validate checks every entity, id uniqueness across both collections, that
// edges only reference layers present in the snapshot and, when maxLayers is
// positive, the layer limit.
func (s *Snapshot) Validate(maxLayers int) error {
	if maxLayers > 0 && len(s.Layers) > maxLayers {
		return fmt.Errorf("%w: %d layers exceeds limit of %d", ErrLayerLimit, len(s.Layers), maxLayers)
	}

	seen := make(map[string]EntityKind, len(s.Layers)+len(s.Edges))
	for _, l := range s.Layers {
		if err := l.Validate(); err != nil {
			return err
		}
		if _, dup := seen[l.ID]; dup {
			return fmt.Errorf("%w: layer %s", ErrDuplicateID, l.ID)
		}
		seen[l.ID] = KindLayer
	}

	for _, e := range s.Edges {
		if err := e.Validate(); err != nil {
			return err
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("%w: edge %s", ErrDuplicateID, e.ID)
		}
		seen[e.ID] = KindEdge
		for _, ref := range []string{e.FromLayerID, e.ToLayerID} {
			if ref == "" {
				continue
			}
			if seen[ref] != KindLayer {
				return fmt.Errorf("%w: edge %s references unknown layer %s", ErrInvalidEntity, e.ID, ref)
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Layers: make([]Layer, len(s.Layers)),
		Edges:  make([]Edge, len(s.Edges)),
	}
	for i, l := range s.Layers {
		out.Layers[i] = l.Clone()
	}
	for i, e := range s.Edges {
		out.Edges[i] = e.Clone()
	}
	return out
}
