package canvas

import (
	"context"
	"errors"
	"math"

	"github.com/Veraticus/linkboard/pkg/diagram"
	"github.com/Veraticus/linkboard/pkg/geometry"
	"github.com/Veraticus/linkboard/pkg/history"
	"github.com/Veraticus/linkboard/pkg/lock"
	boardsync "github.com/Veraticus/linkboard/pkg/sync"
)

const (
	// minStrokePoints is the fewest points a pencil stroke needs to become
	// a layer.
	minStrokePoints = 2

	// minStrokeSize is the smallest extent of a pencil layer on either axis.
	minStrokeSize = 10.0
)

// Pointer is one pointer event in screen space.
type Pointer struct {
	Screen      geometry.Point
	Camera      geometry.Camera
	Shift       bool
	Permissions Permissions
}

// Canvas converts the event position to canvas space.
func (p Pointer) Canvas() geometry.Point {
	return geometry.ScreenToCanvas(p.Screen, p.Camera)
}

// PointerDown handles a button press.
func (m *Machine) PointerDown(ctx context.Context, p Pointer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pt := p.Canvas()
	switch m.state.Mode {
	case ModeGrab, ModeInserting, ModeImporting, ModeExporting:
		return nil

	case ModePencil:
		if err := m.require(p.Permissions, PermissionUpdate); err != nil {
			return err
		}
		m.pencilDown = true
		m.state.Points = []geometry.Point{pt}
		return nil

	case ModeEdge:
		if err := m.require(p.Permissions, PermissionUpdate); err != nil {
			return err
		}
		if hit, ok := geometry.NearestHandle(m.store.Targets(), pt, m.config.HitRadius, m.store.HandleOffset()); ok {
			if m.blocked(ctx, hit.ID) {
				return nil
			}
			m.beginEdge(ctx, pt, hit.ID, hit.Handle, hit.Position)
			return nil
		}
		m.beginEdge(ctx, pt, "", "", pt)
		return nil

	case ModeTyping:
		if id, ok := geometry.TopmostAt(m.store.Targets(), pt); ok && id == m.state.LayerID {
			return nil
		}
		m.end()

	case ModeEdgeActive, ModeTooling:
		if grip, ok := m.gripAt(pt); ok {
			if err := m.require(p.Permissions, PermissionUpdate); err != nil {
				return err
			}
			m.state = State{Mode: ModeEdgeEditing, EdgeID: m.activeEdge, Grip: grip, StartPoint: pt}
			return nil
		}
	}

	return m.press(ctx, p, pt)
}

// press handles a press from an idle mode. Gestures that would change a
// layer another participant holds are rejected without changing mode.
func (m *Machine) press(ctx context.Context, p Pointer, pt geometry.Point) error {
	targets := m.store.Targets()

	if sel := m.Selection(); len(sel) == 1 {
		if l, ok := m.store.Layer(sel[0]); ok {
			if side, ok := m.resizeHandleAt(l.Bounds(), pt); ok {
				if m.blocked(ctx, l.ID) {
					return nil
				}
				if err := m.require(p.Permissions, PermissionUpdate); err != nil {
					return err
				}
				m.activeEdge = ""
				m.shadow = Shadow{}
				m.recorder = history.Capture(m.store, "resize", l.ID)
				m.state = State{Mode: ModeResizing, LayerID: l.ID, Corner: side, InitialBounds: l.Bounds(), Origin: pt}
				return nil
			}
		}
	}

	if hit, ok := geometry.NearestHandle(targets, pt, m.config.HitRadius, m.store.HandleOffset()); ok {
		if m.blocked(ctx, hit.ID) {
			return nil
		}
		if err := m.require(p.Permissions, PermissionUpdate); err != nil {
			return err
		}
		m.beginEdge(ctx, pt, hit.ID, hit.Handle, hit.Position)
		return nil
	}

	if id, ok := geometry.TopmostAt(targets, pt); ok {
		return m.pressLayer(ctx, p, pt, id)
	}

	if id, ok := m.edgeAt(pt); ok {
		m.clearSelection(ctx)
		m.shadow = Shadow{}
		m.activeEdge = id
		m.state = State{Mode: ModeEdgeActive, EdgeID: id}
		return nil
	}

	m.activeEdge = ""
	m.shadow = Shadow{}
	if !p.Shift {
		m.clearSelection(ctx)
	}
	m.state = State{Mode: ModePressing, Origin: pt, Current: pt}
	return nil
}

// pressLayer selects the layer under the pointer and starts a move. The
// press is rejected when any layer it would move is held by someone else.
func (m *Machine) pressLayer(ctx context.Context, p Pointer, pt geometry.Point, id string) error {
	if m.blocked(ctx, id) {
		return nil
	}

	now := m.config.Clock()
	if m.lastClick.layerID == id && now.Sub(m.lastClick.at) <= m.config.DoubleClick {
		m.lastClick = click{}
		if err := m.require(p.Permissions, PermissionUpdate); err != nil {
			return err
		}
		m.shadow = Shadow{}
		m.recorder = history.Capture(m.store, "text", id)
		m.state = State{Mode: ModeTyping, LayerID: id}
		return nil
	}
	m.lastClick = click{at: now, layerID: id}

	ids := []string{id}
	current := m.Selection()
	switch {
	case contains(current, id):
		ids = current
	case p.Shift:
		ids = append(current, id)
	}
	if m.blocked(ctx, ids...) {
		return nil
	}
	if err := m.selectLayers(ctx, ids); errors.Is(err, lock.ErrLockHeld) {
		return nil
	}

	m.activeEdge = ""
	m.shadow = Shadow{}
	if !p.Permissions.Has(PermissionUpdate) {
		m.state = State{Mode: ModeNone}
		return nil
	}
	m.recorder = history.Capture(m.store, "move", ids...)
	m.state = State{Mode: ModeTranslating, Origin: pt, Current: pt}
	return nil
}

// blocked reports whether another participant holds one of ids.
func (m *Machine) blocked(ctx context.Context, ids ...string) bool {
	id, locked := m.lockedByOther(ctx, ids...)
	if locked {
		m.logger.Debug("layer locked by another participant", "id", id, "user", m.config.User, "mode", m.state.Mode)
	}
	return locked
}

// beginEdge starts a dangling edge stub and enters EdgeDrawing. The stub is
// only previewed; it enters the document when committed on release.
func (m *Machine) beginEdge(ctx context.Context, pt geometry.Point, from string, h geometry.Handle, start geometry.Point) {
	e := diagram.NewEdge(diagram.NewID(), start, start)
	if from != "" {
		e.FromLayerID = from
		e.HandleStart = h
		e.Orientation = geometry.OrientationFor(h)
	}

	m.clearSelection(ctx)
	m.activeEdge = ""
	m.snap = snapTarget{}
	m.stub = e
	m.shadow = Shadow{Edge: stubPreview(e)}
	m.state = State{Mode: ModeEdgeDrawing, EdgeID: e.ID, StartPoint: start, Current: pt}
}

func stubPreview(e diagram.Edge) *diagram.Edge {
	c := e.Clone()
	return &c
}

func (m *Machine) resizeHandleAt(bounds geometry.Rect, pt geometry.Point) (geometry.Side, bool) {
	for _, side := range geometry.ResizeSides {
		if geometry.ResizeHandlePosition(bounds, side).Distance(pt) <= m.config.HitRadius {
			return side, true
		}
	}
	return 0, false
}

// edgeAt returns the topmost edge whose path passes near pt.
func (m *Machine) edgeAt(pt geometry.Point) (string, bool) {
	edges := m.store.Edges()
	for i := len(edges) - 1; i >= 0; i-- {
		e := edges[i]
		if e.Curve().Distance(pt) <= m.config.HitRadius+e.Thickness/2 {
			return e.ID, true
		}
	}
	return "", false
}

// gripAt finds the grip of the active edge under pt.
func (m *Machine) gripAt(pt geometry.Point) (Grip, bool) {
	e, ok := m.store.Edge(m.activeEdge)
	if !ok {
		return 0, false
	}
	r := m.config.HitRadius
	switch {
	case e.Start.Distance(pt) <= r:
		return GripStart, true
	case e.End.Distance(pt) <= r:
		return GripEnd, true
	case e.Curve().Midpoint().Distance(pt) <= r:
		return GripMiddle, true
	}
	return 0, false
}

// PointerMove handles pointer motion. In ModeGrab the caller turns drags
// into Pan calls.
func (m *Machine) PointerMove(ctx context.Context, p Pointer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pt := p.Canvas()
	switch m.state.Mode {
	case ModePressing:
		if pt.Manhattan(m.state.Origin) > m.config.DragThreshold {
			m.state.Mode = ModeSelectionNet
			m.updateNet(ctx, pt)
		}
	case ModeSelectionNet:
		m.updateNet(ctx, pt)
	case ModeTranslating:
		m.translate(ctx, pt)
	case ModeResizing:
		m.resize(ctx, p, pt)
	case ModeInserting:
		l := m.newLayer(m.state.LayerType, pt)
		m.shadow = Shadow{Layer: &l}
	case ModePencil:
		if m.pencilDown {
			m.state.Points = append(m.state.Points, pt)
		}
	case ModeEdgeDrawing:
		m.drawEdge(pt)
	case ModeEdgeEditing:
		m.editEdge(pt)
	case ModeNone, ModeEdge, ModeEdgeActive:
		m.hover(pt)
	}
	return nil
}

// updateNet collects the layers the net touches, leaving out those another
// participant holds.
func (m *Machine) updateNet(ctx context.Context, pt geometry.Point) {
	m.state.Current = pt
	hits := geometry.Intersecting(m.store.Targets(), m.state.Origin, pt)
	candidates := hits[:0]
	for _, id := range hits {
		if !m.locks.LockedByOther(ctx, m.config.User, id) {
			candidates = append(candidates, id)
		}
	}
	m.state.Candidates = candidates
}

// translate moves every selected layer by the pointer delta. Attached
// edges follow through the store.
func (m *Machine) translate(ctx context.Context, pt geometry.Point) {
	delta := pt.Sub(m.state.Current)
	if delta == (geometry.Point{}) {
		return
	}

	ids := m.Selection()
	layers := make([]diagram.Layer, 0, len(ids))
	for _, id := range ids {
		l, ok := m.store.Layer(id)
		if !ok {
			m.abort("layer not found", "id", id)
			return
		}
		layers = append(layers, l)
	}

	var ops []boardsync.Operation
	for _, l := range layers {
		x, y := l.X+delta.X, l.Y+delta.Y
		patch := diagram.LayerPatch{X: &x, Y: &y}
		moved, ok := m.store.PatchLayer(l.ID, patch)
		if !ok {
			continue
		}
		ops = append(ops, layerOps(l.ID, patch, moved)...)
	}
	m.state.Current = pt
	m.publish(ctx, ops...)
}

func (m *Machine) resize(ctx context.Context, p Pointer, pt geometry.Point) {
	l, ok := m.store.Layer(m.state.LayerID)
	if !ok {
		m.abort("layer not found", "id", m.state.LayerID)
		return
	}
	r := geometry.ResizeBounds(m.state.InitialBounds, m.state.Corner, pt, p.Shift, geometry.MinLayerSize)
	if r == l.Bounds() {
		return
	}
	patch := diagram.BoundsPatch(r)
	moved, _ := m.store.PatchLayer(l.ID, patch)
	m.publish(ctx, layerOps(l.ID, patch, moved)...)
}

// hover previews the layer and edge a click on a connection handle would
// lead to.
func (m *Machine) hover(pt geometry.Point) {
	m.shadow = Shadow{}
	targets := m.store.Targets()
	hit, ok := geometry.NearestHandle(targets, pt, m.config.HitRadius, m.store.HandleOffset())
	if !ok {
		return
	}
	source, ok := m.store.Layer(hit.ID)
	if !ok {
		return
	}

	r := geometry.ShadowRect(source.Bounds(), hit.Handle, m.config.LayerSize, m.config.PlacementGap)
	r = geometry.PlaceNonOverlapping(r, rects(targets), hit.Handle.Direction(), m.config.PlacementGap)
	l := diagram.Layer{Type: source.Type, X: r.X, Y: r.Y, Width: r.Width, Height: r.Height, Fill: source.Fill}

	end := geometry.FacingHandle(r, hit.Position)
	e := diagram.NewEdge("", hit.Position, geometry.HandlePosition(r, end, m.store.HandleOffset()))
	e.HandleStart, e.HandleEnd = hit.Handle, end
	e.Orientation = geometry.OrientationFor(hit.Handle)
	m.shadow = Shadow{Layer: &l, Edge: &e}
}

// drawEdge follows the pointer with the stub's free end, snapping to a
// handle within HandleSnap or previewing a new layer near one within
// LayerSnap. The start stays on the source handle if the source moved.
func (m *Machine) drawEdge(pt geometry.Point) {
	e := m.stub
	if e.FromLayerID != "" {
		source, ok := m.store.Layer(e.FromLayerID)
		if !ok {
			m.abort("layer not found", "id", e.FromLayerID)
			return
		}
		e.Start = geometry.HandlePosition(source.Bounds(), e.HandleStart, m.store.HandleOffset())
	}
	m.state.Current = pt
	m.shadow = Shadow{}
	m.snap = snapTarget{}

	targets := without(m.store.Targets(), e.FromLayerID)
	end := pt
	if hit, ok := geometry.NearestHandle(targets, pt, m.config.HandleSnap, m.store.HandleOffset()); ok {
		m.snap = snapTarget{kind: snapHandle, layerID: hit.ID, handle: hit.Handle}
		end = hit.Position
	} else if near, ok := geometry.NearestTarget(targets, pt, m.config.LayerSnap); ok {
		r := m.synthesizedBounds(e.Start, pt)
		m.snap = snapTarget{kind: snapLayer, layerID: near.ID, bounds: r}
		l := diagram.Layer{Type: m.sourceType(e), X: r.X, Y: r.Y, Width: r.Width, Height: r.Height, Fill: diagram.DefaultFill}
		m.shadow = Shadow{Layer: &l}
	}
	e.End = end
	m.stub = e
	m.shadow.Edge = stubPreview(e)
}

// synthesizedBounds places a new layer at pt, pushed away from existing
// layers along the edge direction.
func (m *Machine) synthesizedBounds(start, pt geometry.Point) geometry.Rect {
	size := m.config.LayerSize
	r := geometry.Rect{X: pt.X - size.Width/2, Y: pt.Y - size.Height/2, Width: size.Width, Height: size.Height}
	return geometry.PlaceNonOverlapping(r, rects(m.store.Targets()), pt.Sub(start), m.config.PlacementGap)
}

func (m *Machine) sourceType(e diagram.Edge) diagram.LayerType {
	if l, ok := m.store.Layer(e.FromLayerID); ok && l.Type != diagram.LayerPath {
		return l.Type
	}
	return diagram.LayerRectangle
}

// editEdge drags a grip of the active edge. Endpoint grips detach while
// moving and reattach on release if they end on a handle.
func (m *Machine) editEdge(pt geometry.Point) {
	e, ok := m.store.Edge(m.state.EdgeID)
	if !ok {
		m.activeEdge = ""
		m.abort("edge not found", "id", m.state.EdgeID)
		return
	}
	m.state.Current = pt

	var patch diagram.EdgePatch
	switch m.state.Grip {
	case GripMiddle:
		c := e.Curve().ThroughMidpoint(pt)
		patch = diagram.EdgePatch{ControlPoint1: &c.C1, ControlPoint2: &c.C2}

	default:
		other := e.ToLayerID
		if m.state.Grip == GripEnd {
			other = e.FromLayerID
		}
		end := pt
		m.snap = snapTarget{}
		if hit, ok := geometry.NearestHandle(without(m.store.Targets(), other), pt, m.config.HandleSnap, m.store.HandleOffset()); ok {
			m.snap = snapTarget{kind: snapHandle, layerID: hit.ID, handle: hit.Handle}
			end = hit.Position
		}
		detached := ""
		patch.ResetControlPoints = true
		if m.state.Grip == GripStart {
			patch.Start, patch.FromLayerID = &end, &detached
		} else {
			patch.End, patch.ToLayerID = &end, &detached
		}
	}
	if _, ok := m.store.PatchEdge(e.ID, patch); !ok {
		m.activeEdge = ""
		m.abort("edge not found", "id", e.ID)
	}
}

// PointerUp handles a button release.
func (m *Machine) PointerUp(ctx context.Context, p Pointer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pt := p.Canvas()
	switch m.state.Mode {
	case ModePressing:
		m.reset()

	case ModeSelectionNet:
		ids := m.state.Candidates
		if p.Shift {
			for _, id := range m.Selection() {
				if !contains(ids, id) {
					ids = append(ids, id)
				}
			}
		}
		if len(ids) > 0 && !m.blocked(ctx, ids...) {
			_ = m.selectLayers(ctx, ids)
		}
		m.reset()

	case ModeTranslating, ModeResizing:
		m.end()

	case ModeInserting:
		return m.insert(ctx, p, pt)

	case ModePencil:
		return m.commitStroke(ctx)

	case ModeEdgeDrawing:
		return m.commitEdge(ctx)

	case ModeEdgeEditing:
		m.commitEdit(ctx)
	}
	return nil
}

func (m *Machine) newLayer(t diagram.LayerType, center geometry.Point) diagram.Layer {
	size := m.config.LayerSize
	return diagram.Layer{
		ID:     diagram.NewID(),
		Type:   t,
		X:      center.X - size.Width/2,
		Y:      center.Y - size.Height/2,
		Width:  size.Width,
		Height: size.Height,
		Fill:   diagram.DefaultFill,
	}
}

// addLayer inserts l with an undo entry and broadcasts it. Store failures
// (the layer cap) are surfaced as a warning.
func (m *Machine) addLayer(ctx context.Context, label string, l diagram.Layer) error {
	rec := history.Capture(m.store, label, l.ID)
	if err := m.store.InsertLayer(l); err != nil {
		m.logger.Info("layer not created", "type", l.Type, "error", err)
		m.config.Warn(err.Error())
		return err
	}
	m.history.Record(rec.Commit(m.store))
	m.publish(ctx, boardsync.LayerAdded{Layer: l})
	return nil
}

func (m *Machine) insert(ctx context.Context, p Pointer, pt geometry.Point) error {
	defer m.reset()
	if err := m.require(p.Permissions, PermissionUpdate); err != nil {
		return err
	}
	l := m.newLayer(m.state.LayerType, pt)
	if err := m.addLayer(ctx, "insert", l); err != nil {
		return err
	}
	_ = m.selectLayers(ctx, []string{l.ID})
	return nil
}

// commitStroke turns the pencil stroke into a Path layer. Points are stored
// relative to the layer origin so the stroke moves with it.
func (m *Machine) commitStroke(ctx context.Context) error {
	if !m.pencilDown {
		return nil
	}
	points := m.state.Points
	m.pencilDown = false
	m.state.Points = nil
	if len(points) < minStrokePoints {
		return nil
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	origin := geometry.Point{X: minX, Y: minY}
	rel := make([]geometry.Point, len(points))
	for i, p := range points {
		rel[i] = p.Sub(origin)
	}

	l := diagram.Layer{
		ID:     diagram.NewID(),
		Type:   diagram.LayerPath,
		X:      minX,
		Y:      minY,
		Width:  math.Max(maxX-minX, minStrokeSize),
		Height: math.Max(maxY-minY, minStrokeSize),
		Fill:   diagram.DefaultEdgeColor,
		Points: rel,
	}
	return m.addLayer(ctx, "draw", l)
}

// commitEdge finishes EdgeDrawing: attach to the snapped handle, attach to
// a freshly synthesized layer, or keep a free segment. A click that never
// left the start point drops the stub.
func (m *Machine) commitEdge(ctx context.Context) error {
	e := m.stub
	if e.FromLayerID != "" {
		if _, ok := m.store.Layer(e.FromLayerID); !ok {
			m.abort("layer not found", "id", e.FromLayerID)
			return nil
		}
	}

	switch m.snap.kind {
	case snapHandle:
		if _, ok := m.store.Layer(m.snap.layerID); !ok {
			m.abort("layer not found", "id", m.snap.layerID)
			return nil
		}
		e.ToLayerID, e.HandleEnd = m.snap.layerID, m.snap.handle
		e.Orientation = geometry.OrientationFor(m.snap.handle)

	case snapLayer:
		r := m.snap.bounds
		l := diagram.Layer{
			ID:     diagram.NewID(),
			Type:   m.sourceType(e),
			X:      r.X,
			Y:      r.Y,
			Width:  r.Width,
			Height: r.Height,
			Fill:   diagram.DefaultFill,
		}
		if err := m.addLayer(ctx, "connect", l); err != nil {
			m.reset()
			return err
		}
		e.ToLayerID, e.HandleEnd = l.ID, geometry.FacingHandle(r, e.Start)
		e.Orientation = geometry.OrientationFor(e.HandleEnd)

	default:
		if e.Start.Distance(e.End) < m.config.DragThreshold {
			m.reset()
			return nil
		}
	}

	if err := m.store.InsertEdge(e); err != nil {
		m.logger.Error("failed to add edge", "id", e.ID, "error", err)
		m.config.Warn(err.Error())
		m.reset()
		return err
	}
	stored, ok := m.store.Edge(e.ID)
	if !ok {
		m.abort("edge not found", "id", e.ID)
		return nil
	}
	m.publish(ctx, boardsync.EdgeAdded{Edge: stored})
	m.reset()
	return nil
}

// commitEdit finishes EdgeEditing and returns to EdgeActive.
func (m *Machine) commitEdit(ctx context.Context) {
	id := m.state.EdgeID
	e, ok := m.store.Edge(id)
	if !ok {
		m.activeEdge = ""
		m.abort("edge not found", "id", id)
		return
	}

	if m.snap.kind == snapHandle {
		layerID, h := m.snap.layerID, m.snap.handle
		patch := diagram.EdgePatch{}
		if m.state.Grip == GripStart {
			o := geometry.OrientationFor(h)
			patch.FromLayerID, patch.HandleStart, patch.Orientation = &layerID, &h, &o
		} else {
			patch.ToLayerID, patch.HandleEnd = &layerID, &h
		}
		if e, ok = m.store.PatchEdge(id, patch); !ok {
			m.activeEdge = ""
			m.abort("edge not found", "id", id)
			return
		}
	}
	m.publish(ctx, boardsync.EdgeUpdated{ID: id, Patch: attachmentPatch(e)})

	m.snap = snapTarget{}
	m.shadow = Shadow{}
	m.state = State{Mode: ModeEdgeActive, EdgeID: id}
}
