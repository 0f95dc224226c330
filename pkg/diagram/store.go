package diagram

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Veraticus/linkboard/pkg/geometry"
)

// Config holds store configuration.
type Config struct {
	Logger       Logger
	MaxLayers    int
	HandleOffset float64
	EventBuffer  int
}

// Validate checks the config and applies defaults.
func (c *Config) Validate() error {
	if c.MaxLayers < 0 {
		return errors.New("max layers cannot be negative")
	}
	if c.HandleOffset < 0 {
		return errors.New("handle offset cannot be negative")
	}

	if c.MaxLayers == 0 {
		c.MaxLayers = DefaultMaxLayers
	}
	if c.HandleOffset == 0 {
		c.HandleOffset = geometry.DefaultHandleOffset
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	if c.Logger == nil {
		c.Logger = &noopLogger{}
	}
	return nil
}

// Store owns the layers and edges of one open document.
type Store struct {
	config *Config
	logger Logger
	events *eventPump

	mu         sync.RWMutex
	layers     map[string]Layer
	layerOrder []string
	edges      map[string]Edge
	edgeOrder  []string
	closed     bool
}

// NewStore creates an empty store.
func NewStore(config *Config) (*Store, error) {
	if config == nil {
		config = &Config{}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Store{
		config: config,
		logger: config.Logger,
		events: newEventPump(config.EventBuffer),
		layers: make(map[string]Layer),
		edges:  make(map[string]Edge),
	}, nil
}

// MaxLayers returns the layer limit.
func (s *Store) MaxLayers() int { return s.config.MaxLayers }

// HandleOffset returns the distance connection handles sit outside a layer.
func (s *Store) HandleOffset() float64 { return s.config.HandleOffset }

// InsertLayer appends a layer on top of the paint order.
func (s *Store) InsertLayer(l Layer) error {
	if err := l.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	if _, exists := s.layers[l.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: layer %s", ErrDuplicateID, l.ID)
	}
	if _, exists := s.edges[l.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: layer %s collides with an edge", ErrDuplicateID, l.ID)
	}
	if len(s.layers) >= s.config.MaxLayers {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d layers", ErrLayerLimit, s.config.MaxLayers)
	}
	s.layers[l.ID] = l.Clone()
	s.layerOrder = append(s.layerOrder, l.ID)
	s.mu.Unlock()

	s.emit(Added, KindLayer, l.ID)
	return nil
}

// InsertEdge adds an edge. Ends attached to existing layers are anchored to
// the layer handle immediately.
func (s *Store) InsertEdge(e Edge) error {
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	if _, exists := s.edges[e.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: edge %s", ErrDuplicateID, e.ID)
	}
	if _, exists := s.layers[e.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: edge %s collides with a layer", ErrDuplicateID, e.ID)
	}
	s.edges[e.ID] = s.anchorLocked(e.Clone(), false)
	s.edgeOrder = append(s.edgeOrder, e.ID)
	s.mu.Unlock()

	s.emit(Added, KindEdge, e.ID)
	return nil
}

// PatchLayer merges p into the layer with the given id. When the layer's
// bounds change, every attached edge is re-anchored and returned so callers
// can propagate the new endpoints. Unknown ids are logged and ignored.
func (s *Store) PatchLayer(id string, p LayerPatch) ([]Edge, bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false
	}
	before, ok := s.layers[id]
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("patch on unknown layer ignored", "id", id)
		return nil, false
	}
	after := p.Apply(before)
	s.layers[id] = after

	var moved []Edge
	if after.Bounds() != before.Bounds() {
		moved = s.reanchorLocked(id)
	}
	s.mu.Unlock()

	s.emit(Updated, KindLayer, id)
	if len(moved) > 0 {
		s.emit(Updated, KindEdge, edgeIDs(moved)...)
	}
	return moved, true
}

// PatchEdge merges p into the edge with the given id. Unknown ids are logged
// and ignored.
func (s *Store) PatchEdge(id string, p EdgePatch) (Edge, bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Edge{}, false
	}
	e, ok := s.edges[id]
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("patch on unknown edge ignored", "id", id)
		return Edge{}, false
	}
	e = s.anchorLocked(p.Apply(e), false)
	s.edges[id] = e
	s.mu.Unlock()

	s.emit(Updated, KindEdge, id)
	return e.Clone(), true
}

// Removal lists what a Remove call deleted.
type Removal struct {
	Layers []string
	Edges  []string
}

// Empty reports whether nothing was removed.
func (r Removal) Empty() bool {
	return len(r.Layers) == 0 && len(r.Edges) == 0
}

// Remove deletes the layers and edges with the given ids. Removing a layer
// also removes every edge attached to it. Unknown ids are logged and skipped.
func (s *Store) Remove(ids ...string) Removal {
	var removal Removal

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return removal
	}

	goneLayers := make(map[string]bool)
	goneEdges := make(map[string]bool)
	for _, id := range ids {
		switch {
		case hasKey(s.layers, id):
			if !goneLayers[id] {
				goneLayers[id] = true
				removal.Layers = append(removal.Layers, id)
			}
		case hasKey(s.edges, id):
			goneEdges[id] = true
		default:
			s.logger.Debug("remove of unknown id ignored", "id", id)
		}
	}

	for _, eid := range s.edgeOrder {
		e := s.edges[eid]
		if goneEdges[eid] || goneLayers[e.FromLayerID] || goneLayers[e.ToLayerID] {
			removal.Edges = append(removal.Edges, eid)
			delete(s.edges, eid)
		}
	}
	for id := range goneLayers {
		delete(s.layers, id)
	}
	s.layerOrder = slices.DeleteFunc(s.layerOrder, func(id string) bool { return goneLayers[id] })
	s.edgeOrder = slices.DeleteFunc(s.edgeOrder, func(id string) bool { return !hasKey(s.edges, id) })
	s.mu.Unlock()

	if len(removal.Layers) > 0 {
		s.emit(Removed, KindLayer, removal.Layers...)
	}
	if len(removal.Edges) > 0 {
		s.emit(Removed, KindEdge, removal.Edges...)
	}
	return removal
}

// ReplaceAll swaps the whole document for the given layers and edges. The
// payload is validated first; on error the store is left untouched.
func (s *Store) ReplaceAll(layers []Layer, edges []Edge) error {
	snap := &Snapshot{Layers: layers, Edges: edges}
	if err := snap.Validate(s.config.MaxLayers); err != nil {
		return fmt.Errorf("replace rejected: %w", err)
	}

	nextLayers := make(map[string]Layer, len(layers))
	nextLayerOrder := make([]string, 0, len(layers))
	for _, l := range layers {
		nextLayers[l.ID] = l.Clone()
		nextLayerOrder = append(nextLayerOrder, l.ID)
	}
	nextEdges := make(map[string]Edge, len(edges))
	nextEdgeOrder := make([]string, 0, len(edges))
	for _, e := range edges {
		nextEdges[e.ID] = e.Clone()
		nextEdgeOrder = append(nextEdgeOrder, e.ID)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.layers = nextLayers
	s.layerOrder = nextLayerOrder
	s.edges = nextEdges
	s.edgeOrder = nextEdgeOrder
	s.mu.Unlock()

	s.logger.Info("document replaced", "layers", len(layers), "edges", len(edges))
	s.emit(Replaced, "")
	return nil
}

// Restore describes the outcome of RestoreLayer.
type Restore struct {
	Op           ChangeOp
	Layer        Layer
	Edges        []Edge
	RemovedEdges []string
}

// RestoreLayer forces the layer with the given id into state: nil deletes
// it (cascading to its edges), an existing layer is overwritten in full and
// a missing one is inserted. It is the primitive the undo log replays.
func (s *Store) RestoreLayer(id string, state *Layer) (Restore, error) {
	if state == nil {
		removal := s.Remove(id)
		return Restore{Op: Removed, RemovedEdges: removal.Edges}, nil
	}

	l := state.Clone()
	l.ID = id

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Restore{}, ErrStoreClosed
	}
	before, exists := s.layers[id]
	if !exists {
		s.mu.Unlock()
		if err := s.InsertLayer(l); err != nil {
			return Restore{}, err
		}
		return Restore{Op: Added, Layer: l}, nil
	}
	s.layers[id] = l
	var moved []Edge
	if before.Bounds() != l.Bounds() {
		moved = s.reanchorLocked(id)
	}
	s.mu.Unlock()

	s.emit(Updated, KindLayer, id)
	if len(moved) > 0 {
		s.emit(Updated, KindEdge, edgeIDs(moved)...)
	}
	return Restore{Op: Updated, Layer: l.Clone(), Edges: moved}, nil
}

// Layer returns a copy of the layer with the given id.
func (s *Store) Layer(id string) (Layer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.layers[id]
	return l.Clone(), ok
}

// Edge returns a copy of the edge with the given id.
func (s *Store) Edge(id string) (Edge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.edges[id]
	return e.Clone(), ok
}

// Layers returns copies of all layers in paint order.
func (s *Store) Layers() []Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Layer, 0, len(s.layerOrder))
	for _, id := range s.layerOrder {
		out = append(out, s.layers[id].Clone())
	}
	return out
}

// Edges returns copies of all edges in insertion order.
func (s *Store) Edges() []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Edge, 0, len(s.edgeOrder))
	for _, id := range s.edgeOrder {
		out = append(out, s.edges[id].Clone())
	}
	return out
}

// LayerCount returns the number of layers.
func (s *Store) LayerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.layers)
}

// EdgeCount returns the number of edges.
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// Targets returns every layer as a hit-test target in paint order.
func (s *Store) Targets() []geometry.Target {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]geometry.Target, 0, len(s.layerOrder))
	for _, id := range s.layerOrder {
		out = append(out, s.layers[id].Target())
	}
	return out
}

// EdgesAttachedTo returns the edges bound to any of the given layers.
func (s *Store) EdgesAttachedTo(layerIDs ...string) []Edge {
	want := make(map[string]bool, len(layerIDs))
	for _, id := range layerIDs {
		want[id] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Edge
	for _, id := range s.edgeOrder {
		e := s.edges[id]
		if want[e.FromLayerID] || want[e.ToLayerID] {
			out = append(out, e.Clone())
		}
	}
	return out
}

// Snapshot returns a deep copy of the document.
func (s *Store) Snapshot() *Snapshot {
	return &Snapshot{Layers: s.Layers(), Edges: s.Edges()}
}

// Subscribe registers ch for change events.
func (s *Store) Subscribe(ch chan<- ChangeEvent) {
	s.events.Subscribe(ch)
}

// Unsubscribe removes ch.
func (s *Store) Unsubscribe(ch chan<- ChangeEvent) {
	s.events.Unsubscribe(ch)
}

// RecentEvents returns the buffered change history, oldest first.
func (s *Store) RecentEvents() []ChangeEvent {
	return s.events.Recent()
}

// Close releases subscribers and rejects further mutations.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.events.Close()
	return nil
}

func (s *Store) emit(op ChangeOp, kind EntityKind, ids ...string) {
	s.events.Publish(ChangeEvent{Op: op, Kind: kind, IDs: ids, Time: time.Now()})
}

// reanchorLocked re-derives the endpoints of every edge attached to layerID
// and returns the edges that changed. Caller holds s.mu.
func (s *Store) reanchorLocked(layerID string) []Edge {
	var moved []Edge
	for _, eid := range s.edgeOrder {
		e := s.edges[eid]
		if !e.AttachedTo(layerID) {
			continue
		}
		anchored := s.anchorLocked(e, true)
		if anchored.Start == e.Start && anchored.End == e.End {
			continue
		}
		s.edges[eid] = anchored
		moved = append(moved, anchored.Clone())
	}
	return moved
}

// anchorLocked places attached endpoints on their layer handles. With
// carry set, explicit control points travel with the endpoint they belong
// to. Caller holds s.mu.
func (s *Store) anchorLocked(e Edge, carry bool) Edge {
	oldStart, oldEnd := e.Start, e.End
	offset := s.config.HandleOffset

	if l, ok := s.layers[e.FromLayerID]; ok && e.FromLayerID != "" {
		h := e.HandleStart
		if !h.Valid() {
			h = geometry.FacingHandle(l.Bounds(), e.End)
		}
		e.Start = geometry.HandlePosition(l.Bounds(), h, offset)
	}
	if l, ok := s.layers[e.ToLayerID]; ok && e.ToLayerID != "" {
		h := e.HandleEnd
		if !h.Valid() {
			h = geometry.FacingHandle(l.Bounds(), e.Start)
		}
		e.End = geometry.HandlePosition(l.Bounds(), h, offset)
	}

	if carry && e.ControlPoint1 != nil && e.Start != oldStart {
		c := e.ControlPoint1.Add(e.Start.Sub(oldStart))
		e.ControlPoint1 = &c
	}
	if carry && e.ControlPoint2 != nil && e.End != oldEnd {
		c := e.ControlPoint2.Add(e.End.Sub(oldEnd))
		e.ControlPoint2 = &c
	}
	return e
}

func edgeIDs(edges []Edge) []string {
	ids := make([]string, len(edges))
	for i, e := range edges {
		ids[i] = e.ID
	}
	return ids
}

func hasKey[V any](m map[string]V, k string) bool {
	_, ok := m[k]
	return ok
}
