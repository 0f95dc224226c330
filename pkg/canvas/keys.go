package canvas

import (
	"context"
	"fmt"

	"github.com/Veraticus/linkboard/pkg/diagram"
	"github.com/Veraticus/linkboard/pkg/geometry"
	"github.com/Veraticus/linkboard/pkg/history"
	boardsync "github.com/Veraticus/linkboard/pkg/sync"
)

// Key names the keys the canvas reacts to.
type Key string

// Keys.
const (
	KeySpace     Key = "Space"
	KeyEnter     Key = "Enter"
	KeyBackspace Key = "Backspace"
	KeyEscape    Key = "Escape"
)

// KeyEvent is a key press or release.
type KeyEvent struct {
	Key         Key
	Permissions Permissions

	// InTextField is set while focus is in a text input outside the
	// canvas; Space and Backspace then belong to the input.
	InTextField bool
}

// grabbable lists the modes Space may interrupt.
func grabbable(mode Mode) bool {
	switch mode {
	case ModeNone, ModeEdge, ModeEdgeActive, ModeInserting, ModePencil:
		return true
	}
	return false
}

// KeyDown handles a key press.
func (m *Machine) KeyDown(ctx context.Context, ev KeyEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Key {
	case KeySpace:
		if ev.InTextField || !grabbable(m.state.Mode) || !ev.Permissions.Has(PermissionUpdate) {
			return nil
		}
		m.beforeGrab = m.state.clone()
		m.shadow = Shadow{}
		m.state = State{Mode: ModeGrab}

	case KeyEnter:
		switch m.state.Mode {
		case ModeEdge, ModeEdgeDrawing:
			m.reset()
		}

	case KeyBackspace:
		if ev.InTextField || m.state.Mode == ModeTyping {
			return nil
		}
		return m.deleteSelected(ctx, ev.Permissions)

	case KeyEscape:
		m.cancel(ctx)
	}
	return nil
}

// KeyUp handles a key release. Releasing Space leaves Grab for the mode it
// interrupted.
func (m *Machine) KeyUp(_ context.Context, ev KeyEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.Key == KeySpace && m.state.Mode == ModeGrab {
		m.state = m.beforeGrab
		m.beforeGrab = State{}
	}
	return nil
}

// Pan moves the camera while in Grab. Outside Grab the camera is returned
// unchanged with false.
func (m *Machine) Pan(camera geometry.Camera, dx, dy float64) (geometry.Camera, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Mode != ModeGrab {
		return camera, false
	}
	return camera.Pan(dx, dy), true
}

// cancel abandons the current gesture. Changes already applied and
// published stay; an undrawn edge is discarded.
func (m *Machine) cancel(ctx context.Context) {
	switch m.state.Mode {
	case ModeEdgeEditing:
		m.commitEdit(ctx)
	case ModeGrab:
		m.beforeGrab = State{}
	}
	m.activeEdge = ""
	m.end()
}

// Cancel is the Escape key without a key event.
func (m *Machine) Cancel(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel(ctx)
}

// StartInserting arms the insert tool for layers of type t.
func (m *Machine) StartInserting(ctx context.Context, t diagram.LayerType) error {
	if !t.Valid() || t == diagram.LayerPath {
		return fmt.Errorf("cannot insert layer of type %q", t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel(ctx)
	m.state = State{Mode: ModeInserting, LayerType: t}
	return nil
}

// StartPencil arms freehand drawing.
func (m *Machine) StartPencil(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel(ctx)
	m.state = State{Mode: ModePencil}
}

// StartEdge arms the edge tool: the next press starts an edge, from a
// handle if one is under the pointer.
func (m *Machine) StartEdge(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel(ctx)
	m.state = State{Mode: ModeEdge}
}

// Text replaces the value of the layer being typed into.
func (m *Machine) Text(ctx context.Context, perms Permissions, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Mode != ModeTyping {
		return ErrWrongMode
	}
	if err := m.require(perms, PermissionUpdate); err != nil {
		return err
	}
	patch := diagram.LayerPatch{Value: &value}
	if _, ok := m.store.PatchLayer(m.state.LayerID, patch); !ok {
		m.abort("layer not found", "id", m.state.LayerID)
		return nil
	}
	m.publish(ctx, boardsync.LayerUpdated{ID: m.state.LayerID, Patch: patch})
	return nil
}

// deleteSelected removes the active edge, or else the selected layers
// together with every edge attached to them.
func (m *Machine) deleteSelected(ctx context.Context, perms Permissions) error {
	if (m.state.Mode == ModeEdgeActive || m.state.Mode == ModeTooling) && m.activeEdge != "" {
		if err := m.require(perms, PermissionDelete); err != nil {
			return err
		}
		removal := m.store.Remove(m.activeEdge)
		if len(removal.Edges) > 0 {
			m.publish(ctx, boardsync.RemoveEdges(removal.Edges...))
		}
		m.activeEdge = ""
		m.reset()
		return nil
	}

	ids := m.Selection()
	if len(ids) == 0 {
		return nil
	}
	if err := m.require(perms, PermissionDelete); err != nil {
		return err
	}
	if id, locked := m.lockedByOther(ctx, ids...); locked {
		m.logger.Debug("delete blocked by another participant's selection", "id", id, "user", m.config.User)
		return nil
	}

	rec := history.Capture(m.store, "delete", ids...)
	removal := m.store.Remove(ids...)
	m.history.Record(rec.Commit(m.store))

	var ops []boardsync.Operation
	if len(removal.Layers) > 0 {
		ops = append(ops, boardsync.RemoveLayers(removal.Layers...))
	}
	if len(removal.Edges) > 0 {
		ops = append(ops, boardsync.RemoveEdges(removal.Edges...))
	}
	m.publish(ctx, ops...)
	m.clearSelection(ctx)
	m.reset()
	return nil
}

// SetEdgeColor recolors the active edge.
func (m *Machine) SetEdgeColor(ctx context.Context, perms Permissions, c diagram.Color) error {
	return m.applyEdgeTool(ctx, perms, func(diagram.Edge) (diagram.EdgePatch, error) {
		return diagram.EdgePatch{Color: &c}, nil
	})
}

// SetEdgeThickness changes the stroke width of the active edge.
func (m *Machine) SetEdgeThickness(ctx context.Context, perms Permissions, thickness float64) error {
	return m.applyEdgeTool(ctx, perms, func(diagram.Edge) (diagram.EdgePatch, error) {
		if thickness <= 0 {
			return diagram.EdgePatch{}, fmt.Errorf("thickness must be positive, got %v", thickness)
		}
		return diagram.EdgePatch{Thickness: &thickness}, nil
	})
}

// SetEdgeType switches the active edge between solid and dashed.
func (m *Machine) SetEdgeType(ctx context.Context, perms Permissions, t diagram.EdgeType) error {
	return m.applyEdgeTool(ctx, perms, func(diagram.Edge) (diagram.EdgePatch, error) {
		if t != diagram.EdgeSolid && t != diagram.EdgeDashed {
			return diagram.EdgePatch{}, fmt.Errorf("unknown edge type %q", t)
		}
		return diagram.EdgePatch{Type: &t}, nil
	})
}

// ToggleArrow flips the arrow head at the end (or start) of the active edge.
func (m *Machine) ToggleArrow(ctx context.Context, perms Permissions, atEnd bool) error {
	return m.applyEdgeTool(ctx, perms, func(e diagram.Edge) (diagram.EdgePatch, error) {
		if atEnd {
			v := !e.ArrowEnd
			return diagram.EdgePatch{ArrowEnd: &v}, nil
		}
		v := !e.ArrowStart
		return diagram.EdgePatch{ArrowStart: &v}, nil
	})
}

// DeleteEdge removes the active edge.
func (m *Machine) DeleteEdge(ctx context.Context, perms Permissions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Mode != ModeEdgeActive && m.state.Mode != ModeTooling {
		return ErrWrongMode
	}
	return m.deleteSelected(ctx, perms)
}

// applyEdgeTool runs one edge tool against the active edge, passing
// through Tooling and back to EdgeActive.
func (m *Machine) applyEdgeTool(ctx context.Context, perms Permissions, tool func(diagram.Edge) (diagram.EdgePatch, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if (m.state.Mode != ModeEdgeActive && m.state.Mode != ModeTooling) || m.activeEdge == "" {
		return ErrWrongMode
	}
	if err := m.require(perms, PermissionUpdate); err != nil {
		return err
	}
	id := m.activeEdge
	e, ok := m.store.Edge(id)
	if !ok {
		m.activeEdge = ""
		m.abort("edge not found", "id", id)
		return nil
	}

	m.state = State{Mode: ModeTooling, EdgeID: e.ID}
	defer func() { m.state = State{Mode: ModeEdgeActive, EdgeID: e.ID} }()

	patch, err := tool(e)
	if err != nil {
		return err
	}
	if _, ok := m.store.PatchEdge(e.ID, patch); ok {
		m.publish(ctx, boardsync.EdgeUpdated{ID: e.ID, Patch: patch})
	}
	return nil
}

// Export serializes the document. It needs the EXPORT permission.
func (m *Machine) Export(_ context.Context, perms Permissions) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.require(perms, PermissionExport); err != nil {
		return nil, err
	}
	prev := m.state
	m.state = State{Mode: ModeExporting}
	defer func() { m.state = prev }()

	data, err := m.store.Snapshot().Marshal()
	if err != nil {
		return nil, fmt.Errorf("export failed: %w", err)
	}
	return data, nil
}

// Import replaces the document with a serialized snapshot. The payload is
// validated before anything changes. Peers receive the replacement as
// removals of the old entities followed by additions of the new ones, and
// the undo log is cleared.
func (m *Machine) Import(ctx context.Context, perms Permissions, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.require(perms, PermissionUpdate); err != nil {
		return err
	}
	m.cancel(ctx)
	m.state = State{Mode: ModeImporting}
	defer m.reset()

	snap, err := diagram.ParseSnapshot(data)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	oldLayers, oldEdges := m.store.Layers(), m.store.Edges()
	if err := m.store.ReplaceAll(snap.Layers, snap.Edges); err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	m.history.Clear()
	m.clearSelection(ctx)

	var ops []boardsync.Operation
	if len(oldEdges) > 0 {
		ids := make([]string, len(oldEdges))
		for i, e := range oldEdges {
			ids[i] = e.ID
		}
		ops = append(ops, boardsync.RemoveEdges(ids...))
	}
	if len(oldLayers) > 0 {
		ids := make([]string, len(oldLayers))
		for i, l := range oldLayers {
			ids[i] = l.ID
		}
		ops = append(ops, boardsync.RemoveLayers(ids...))
	}
	for _, l := range m.store.Layers() {
		ops = append(ops, boardsync.LayerAdded{Layer: l})
	}
	for _, e := range m.store.Edges() {
		ops = append(ops, boardsync.EdgeAdded{Edge: e})
	}
	m.publish(ctx, ops...)
	m.logger.Info("document imported", "layers", len(snap.Layers), "edges", len(snap.Edges))
	return nil
}

// Undo reverts the last recorded gesture and broadcasts the result.
func (m *Machine) Undo(ctx context.Context, perms Permissions) error {
	return m.replay(ctx, perms, m.history.Undo)
}

// Redo reapplies the last undone gesture and broadcasts the result.
func (m *Machine) Redo(ctx context.Context, perms Permissions) error {
	return m.replay(ctx, perms, m.history.Redo)
}

func (m *Machine) replay(ctx context.Context, perms Permissions, step func(history.Applier) ([]history.Outcome, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.require(perms, PermissionUpdate); err != nil {
		return err
	}
	m.cancel(ctx)

	outcomes, err := step(m.store)
	if err != nil {
		return err
	}

	var ops []boardsync.Operation
	var removed []string
	for _, o := range outcomes {
		switch o.Op {
		case diagram.Added:
			ops = append(ops, boardsync.LayerAdded{Layer: o.Layer})
		case diagram.Updated:
			ops = append(ops, layerOps(o.ID, diagram.FullPatch(o.Layer), o.Edges)...)
		case diagram.Removed:
			removed = append(removed, o.ID)
			ops = append(ops, boardsync.RemoveLayers(o.ID))
			if len(o.RemovedEdges) > 0 {
				ops = append(ops, boardsync.RemoveEdges(o.RemovedEdges...))
			}
		}
	}
	m.publish(ctx, ops...)

	for _, id := range m.Selection() {
		if contains(removed, id) {
			m.clearSelection(ctx)
			break
		}
	}
	return nil
}
