package canvas

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/linkboard/pkg/diagram"
	"github.com/Veraticus/linkboard/pkg/geometry"
	"github.com/Veraticus/linkboard/pkg/lock"
	boardsync "github.com/Veraticus/linkboard/pkg/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu  sync.Mutex
	ops []boardsync.Operation
}

func (p *recordingPublisher) Publish(_ context.Context, ops ...boardsync.Operation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, ops...)
	return nil
}

func (p *recordingPublisher) Ops() []boardsync.Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]boardsync.Operation(nil), p.ops...)
}

func (p *recordingPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = nil
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	store    *diagram.Store
	svc      *lock.MemoryService
	locks    *lock.Manager
	pub      *recordingPublisher
	machine  *Machine
	warnings []string
	now      time.Time
}

func newFixture(t *testing.T, layers ...diagram.Layer) *fixture {
	t.Helper()

	store, err := diagram.NewStore(&diagram.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	for _, l := range layers {
		require.NoError(t, store.InsertLayer(l))
	}

	svc := lock.NewMemoryService(lock.MemoryConfig{})
	locks, err := lock.NewManager(&lock.Config{Service: svc, Room: "doc"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = locks.Close(context.Background()) })

	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: store,
		svc:   svc,
		locks: locks,
		pub:   &recordingPublisher{},
		now:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	f.machine, err = New(&Config{
		Store:     store,
		Locks:     locks,
		Publisher: f.pub,
		User:      "alice",
		Warn:      func(msg string) { f.warnings = append(f.warnings, msg) },
		Clock:     func() time.Time { return f.now },
	})
	require.NoError(t, err)
	return f
}

func box(id string, x, y, w, h float64) diagram.Layer {
	return diagram.Layer{ID: id, Type: diagram.LayerRectangle, X: x, Y: y, Width: w, Height: h}
}

func at(x, y float64) Pointer {
	return Pointer{Screen: geometry.Point{X: x, Y: y}, Permissions: AllPermissions}
}

// down presses and moves the clock past the double-click window.
func (f *fixture) down(p Pointer) {
	f.t.Helper()
	require.NoError(f.t, f.machine.PointerDown(f.ctx, p))
	f.now = f.now.Add(time.Second)
}

func (f *fixture) move(p Pointer) {
	f.t.Helper()
	require.NoError(f.t, f.machine.PointerMove(f.ctx, p))
}

func (f *fixture) up(p Pointer) {
	f.t.Helper()
	require.NoError(f.t, f.machine.PointerUp(f.ctx, p))
}

func (f *fixture) click(p Pointer) {
	f.t.Helper()
	f.down(p)
	f.up(p)
}

func (f *fixture) connect(from, to string) diagram.Edge {
	f.t.Helper()
	e := diagram.NewEdge(diagram.NewID(), geometry.Point{}, geometry.Point{})
	e.FromLayerID, e.HandleStart = from, geometry.HandleRight
	e.ToLayerID, e.HandleEnd = to, geometry.HandleLeft
	require.NoError(f.t, f.store.InsertEdge(e))
	stored, _ := f.store.Edge(e.ID)
	return stored
}

func TestNew(t *testing.T) {
	store, err := diagram.NewStore(&diagram.Config{})
	require.NoError(t, err)
	locks, err := lock.NewManager(&lock.Config{Service: lock.NewMemoryService(lock.MemoryConfig{}), Room: "doc"})
	require.NoError(t, err)

	t.Run("defaults", func(t *testing.T) {
		config := &Config{Store: store, Locks: locks, User: "alice"}
		m, err := New(config)
		require.NoError(t, err)
		assert.Equal(t, ModeNone, m.Mode())
		assert.Equal(t, 5.0, config.DragThreshold)
		assert.Equal(t, 20.0, config.HandleSnap)
		assert.Equal(t, 80.0, config.LayerSnap)
		assert.Equal(t, 400*time.Millisecond, config.DoubleClick)
		assert.NotNil(t, config.History)
	})

	tests := []struct {
		name   string
		config *Config
		errMsg string
	}{
		{"nil config", nil, "config is required"},
		{"missing store", &Config{Locks: locks, User: "alice"}, "store is required"},
		{"missing locker", &Config{Store: store, User: "alice"}, "locker is required"},
		{"missing user", &Config{Store: store, Locks: locks}, "user is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.config)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.Nil(t, m)
		})
	}
}

func TestResizeFromCorner(t *testing.T) {
	f := newFixture(t, box("a", 0, 0, 200, 60))

	f.click(at(100, 30))
	assert.Equal(t, []string{"a"}, f.machine.Selection())

	f.down(at(200, 60))
	state := f.machine.State()
	require.Equal(t, ModeResizing, state.Mode)
	assert.Equal(t, geometry.CornerBottomRight, state.Corner)

	f.move(at(300, 150))
	l, _ := f.store.Layer("a")
	assert.Equal(t, geometry.Rect{X: 0, Y: 0, Width: 300, Height: 150}, l.Bounds())

	f.move(at(20, 20))
	l, _ = f.store.Layer("a")
	assert.Equal(t, geometry.MinLayerSize.Width, l.Width)
	assert.Equal(t, geometry.MinLayerSize.Height, l.Height)

	f.up(at(20, 20))
	assert.Equal(t, ModeNone, f.machine.Mode())
	assert.True(t, f.machine.History().CanUndo())
}

func TestResizeKeepsAspectWithShift(t *testing.T) {
	f := newFixture(t, box("a", 0, 0, 200, 100))
	f.click(at(100, 50))

	shift := func(x, y float64) Pointer {
		p := at(x, y)
		p.Shift = true
		return p
	}

	t.Run("corner", func(t *testing.T) {
		f.down(shift(200, 100))
		require.Equal(t, ModeResizing, f.machine.Mode())
		f.move(shift(300, 120))
		f.up(shift(300, 120))

		l, _ := f.store.Layer("a")
		assert.Equal(t, geometry.Rect{X: 0, Y: 0, Width: 300, Height: 150}, l.Bounds())
	})

	t.Run("side", func(t *testing.T) {
		f.down(shift(300, 75))
		state := f.machine.State()
		require.Equal(t, ModeResizing, state.Mode)
		assert.Equal(t, geometry.SideRight, state.Corner)
		f.move(shift(400, 75))
		f.up(shift(400, 75))

		l, _ := f.store.Layer("a")
		assert.Equal(t, geometry.Rect{X: 0, Y: 0, Width: 400, Height: 200}, l.Bounds())
	})

	t.Run("without shift", func(t *testing.T) {
		f.down(at(400, 200))
		f.move(at(450, 210))
		f.up(at(450, 210))

		l, _ := f.store.Layer("a")
		assert.Equal(t, geometry.Rect{X: 0, Y: 0, Width: 450, Height: 210}, l.Bounds())
	})
}

func TestEdgeSnapsToHandle(t *testing.T) {
	f := newFixture(t, box("a", 0, 0, 100, 50), box("b", 300, 0, 100, 50))

	// A's right handle sits 8px outside its border.
	f.down(at(108, 25))
	require.Equal(t, ModeEdgeDrawing, f.machine.Mode())
	assert.Equal(t, 0, f.store.EdgeCount(), "a stub is only previewed")
	require.NotNil(t, f.machine.Shadow().Edge)
	assert.Empty(t, f.pub.Ops(), "a stub is not published")

	f.move(at(200, 40))
	// 13px from B's left handle at (292,25).
	f.move(at(280, 30))
	f.up(at(280, 30))

	assert.Equal(t, ModeNone, f.machine.Mode())
	edges := f.store.Edges()
	require.Len(t, edges, 1)
	e := edges[0]
	assert.Equal(t, "a", e.FromLayerID)
	assert.Equal(t, "b", e.ToLayerID)
	assert.Equal(t, geometry.HandleLeft, e.HandleEnd)
	assert.Equal(t, geometry.Point{X: 292, Y: 25}, e.End)
	assert.Equal(t, geometry.OrientationFor(geometry.HandleLeft), e.Orientation)

	ops := f.pub.Ops()
	require.Len(t, ops, 1)
	added, ok := ops[0].(boardsync.EdgeAdded)
	require.True(t, ok)
	assert.Equal(t, "b", added.Edge.ToLayerID)
}

func TestEdgeNearLayerSynthesizesLayer(t *testing.T) {
	f := newFixture(t, box("a", 0, 0, 100, 50), box("b", 300, 0, 100, 50))

	f.down(at(108, 25))
	f.move(at(260, 100))
	shadow := f.machine.Shadow()
	require.NotNil(t, shadow.Layer, "a new layer is previewed")

	f.up(at(260, 100))
	require.Equal(t, 3, f.store.LayerCount())

	e := f.store.Edges()[0]
	require.NotEmpty(t, e.ToLayerID)
	created, ok := f.store.Layer(e.ToLayerID)
	require.True(t, ok)
	assert.Equal(t, shadow.Layer.Bounds(), created.Bounds())
	for _, id := range []string{"a", "b"} {
		other, _ := f.store.Layer(id)
		assert.False(t, created.Bounds().Overlaps(other.Bounds()), "overlaps %s", id)
	}
	assert.Equal(t, geometry.HandlePosition(created.Bounds(), e.HandleEnd, geometry.DefaultHandleOffset), e.End)

	ops := f.pub.Ops()
	require.Len(t, ops, 2)
	assert.IsType(t, boardsync.LayerAdded{}, ops[0])
	assert.IsType(t, boardsync.EdgeAdded{}, ops[1])
}

func TestEdgeToEmptySpace(t *testing.T) {
	f := newFixture(t, box("a", 0, 0, 100, 50))

	t.Run("free segment", func(t *testing.T) {
		f.down(at(108, 25))
		f.move(at(400, 400))
		f.up(at(400, 400))
		require.Equal(t, 1, f.store.EdgeCount())
		e := f.store.Edges()[0]
		assert.Empty(t, e.ToLayerID)
		assert.Equal(t, geometry.Point{X: 400, Y: 400}, e.End)
	})

	t.Run("click without drag drops the stub", func(t *testing.T) {
		f.click(at(108, 25))
		assert.Equal(t, 1, f.store.EdgeCount())
	})

	t.Run("enter aborts the draw", func(t *testing.T) {
		f.down(at(108, 25))
		f.move(at(300, 300))
		require.Equal(t, ModeEdgeDrawing, f.machine.Mode())
		require.NoError(t, f.machine.KeyDown(f.ctx, KeyEvent{Key: KeyEnter}))
		assert.Equal(t, ModeNone, f.machine.Mode())
		assert.True(t, f.machine.Shadow().Empty())
		assert.Equal(t, 1, f.store.EdgeCount())
	})
}

func TestEdgeStubStaysOutOfDocument(t *testing.T) {
	f := newFixture(t, box("a", 0, 0, 100, 50))

	f.down(at(108, 25))
	f.move(at(400, 400))
	require.Equal(t, ModeEdgeDrawing, f.machine.Mode())

	stub := f.machine.Shadow().Edge
	require.NotNil(t, stub)
	assert.Equal(t, "a", stub.FromLayerID)
	assert.Equal(t, geometry.Point{X: 400, Y: 400}, stub.End)

	data, err := f.machine.Export(f.ctx, AllPermissions)
	require.NoError(t, err)
	snap, err := diagram.ParseSnapshot(data)
	require.NoError(t, err)
	assert.Empty(t, snap.Edges)
	assert.Empty(t, f.store.Snapshot().Edges)
	assert.Equal(t, ModeEdgeDrawing, f.machine.Mode(), "export restores the mode")

	f.machine.Cancel(f.ctx)
	assert.Equal(t, ModeNone, f.machine.Mode())
	assert.True(t, f.machine.Shadow().Empty())
	assert.Equal(t, 0, f.store.EdgeCount())
	assert.Empty(t, f.pub.Ops())
}

func TestEdgeDrawAbortsWhenSourceVanishes(t *testing.T) {
	f := newFixture(t, box("a", 0, 0, 100, 50))

	f.down(at(108, 25))
	f.move(at(300, 300))
	f.store.Remove("a")

	f.move(at(320, 300))
	assert.Equal(t, ModeNone, f.machine.Mode())
	f.up(at(320, 300))
	assert.Equal(t, 0, f.store.EdgeCount())
	assert.Empty(t, f.pub.Ops())
}

func TestEdgeDrawFollowsMovedSource(t *testing.T) {
	f := newFixture(t, box("a", 0, 0, 100, 50))

	f.down(at(108, 25))
	x := 50.0
	_, ok := f.store.PatchLayer("a", diagram.LayerPatch{X: &x})
	require.True(t, ok)
	f.move(at(400, 400))
	f.up(at(400, 400))

	edges := f.store.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, geometry.Point{X: 158, Y: 25}, edges[0].Start)
}

// holdAsBob makes a second participant select ids on the fixture's lock
// service, then gives alice an unattributed local selection of aliceSel.
func holdAsBob(t *testing.T, f *fixture, ids []string, aliceSel ...string) {
	t.Helper()
	bob, err := lock.NewManager(&lock.Config{Service: f.svc, Room: "doc"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bob.Close(context.Background()) })
	require.NoError(t, bob.Select(f.ctx, "bob", ids))

	if len(aliceSel) > 0 {
		err := f.locks.Select(f.ctx, "alice", aliceSel)
		require.ErrorIs(t, err, lock.ErrLockHeld)
		require.Equal(t, aliceSel, f.machine.Selection())
	}
}

func TestLockedLayerGestures(t *testing.T) {
	t.Run("selection net skips held layers", func(t *testing.T) {
		f := newFixture(t, box("a", 0, 0, 100, 50), box("b", 300, 0, 100, 50))
		holdAsBob(t, f, []string{"a"})

		f.down(at(-20, -20))
		f.move(at(450, 80))
		assert.Equal(t, []string{"b"}, f.machine.State().Candidates)
		f.up(at(450, 80))
		assert.Equal(t, []string{"b"}, f.machine.Selection())
	})

	t.Run("backspace keeps a held layer", func(t *testing.T) {
		f := newFixture(t, box("a", 0, 0, 100, 50))
		holdAsBob(t, f, []string{"a"}, "a")

		require.NoError(t, f.machine.KeyDown(f.ctx, KeyEvent{Key: KeyBackspace, Permissions: AllPermissions}))
		_, ok := f.store.Layer("a")
		assert.True(t, ok)
		assert.Empty(t, f.pub.Ops())
		assert.False(t, f.machine.History().CanUndo())
	})

	t.Run("resize handle of a held layer", func(t *testing.T) {
		f := newFixture(t, box("a", 0, 0, 200, 100))
		holdAsBob(t, f, []string{"a"}, "a")

		f.down(at(200, 100))
		assert.Equal(t, ModeNone, f.machine.Mode())
		f.move(at(300, 200))
		l, _ := f.store.Layer("a")
		assert.Equal(t, geometry.Rect{X: 0, Y: 0, Width: 200, Height: 100}, l.Bounds())
	})

	t.Run("edge from a held layer's handle", func(t *testing.T) {
		f := newFixture(t, box("a", 0, 0, 100, 50))
		holdAsBob(t, f, []string{"a"})

		f.down(at(108, 25))
		assert.Equal(t, ModeNone, f.machine.Mode())
		assert.Nil(t, f.machine.Shadow().Edge)

		f.machine.StartEdge(f.ctx)
		f.down(at(108, 25))
		assert.Equal(t, ModeEdge, f.machine.Mode())
		f.up(at(108, 25))
		assert.Equal(t, 0, f.store.EdgeCount())
	})

	t.Run("translating a selection with a held member", func(t *testing.T) {
		f := newFixture(t, box("a", 0, 0, 100, 50), box("b", 300, 0, 100, 50))
		holdAsBob(t, f, []string{"a"}, "a", "b")

		f.down(at(350, 25))
		assert.Equal(t, ModeNone, f.machine.Mode())
		f.move(at(380, 60))
		f.up(at(380, 60))
		for _, id := range []string{"a", "b"} {
			l, _ := f.store.Layer(id)
			assert.Equal(t, 0.0, l.Y, "layer %s moved", id)
		}
		assert.Empty(t, f.pub.Ops())
	})
}

func TestLockedLayerRejectsPress(t *testing.T) {
	f := newFixture(t, box("a", 0, 0, 100, 50))

	bob, err := lock.NewManager(&lock.Config{Service: f.svc, Room: "doc"})
	require.NoError(t, err)
	require.NoError(t, bob.Select(f.ctx, "bob", []string{"a"}))

	f.down(at(50, 25))
	assert.Equal(t, ModeNone, f.machine.Mode())
	assert.Empty(t, f.machine.Selection())
	assert.Empty(t, f.warnings)

	require.NoError(t, bob.Unselect(f.ctx, "bob"))
	f.down(at(50, 25))
	assert.Equal(t, ModeTranslating, f.machine.Mode())
}

func TestTranslateMovesLayerAndEdges(t *testing.T) {
	f := newFixture(t, box("a", 0, 0, 100, 50), box("b", 300, 0, 100, 50))
	edge := f.connect("a", "b")

	f.down(at(50, 25))
	require.Equal(t, ModeTranslating, f.machine.Mode())
	f.move(at(60, 45))
	f.up(at(60, 45))

	l, _ := f.store.Layer("a")
	assert.Equal(t, 10.0, l.X)
	assert.Equal(t, 20.0, l.Y)
	e, _ := f.store.Edge(edge.ID)
	assert.Equal(t, geometry.Point{X: 118, Y: 45}, e.Start)

	ops := f.pub.Ops()
	require.Len(t, ops, 2)
	assert.Equal(t, "a", ops[0].(boardsync.LayerUpdated).ID)
	assert.Equal(t, edge.ID, ops[1].(boardsync.EdgeUpdated).ID)

	require.NoError(t, f.machine.Undo(f.ctx, AllPermissions))
	l, _ = f.store.Layer("a")
	assert.Equal(t, 0.0, l.X)
}

func TestTranslateAbortsWhenLayerVanishes(t *testing.T) {
	f := newFixture(t, box("a", 0, 0, 100, 50))

	f.down(at(50, 25))
	f.store.Remove("a")
	f.move(at(70, 25))
	assert.Equal(t, ModeNone, f.machine.Mode())
}

func TestBackspaceCascades(t *testing.T) {
	f := newFixture(t, box("a", 0, 0, 100, 50), box("b", 300, 0, 100, 50))
	edge := f.connect("a", "b")

	f.click(at(50, 25))
	require.Equal(t, []string{"a"}, f.machine.Selection())

	t.Run("needs delete permission", func(t *testing.T) {
		err := f.machine.KeyDown(f.ctx, KeyEvent{Key: KeyBackspace, Permissions: Permissions{PermissionUpdate}})
		assert.ErrorIs(t, err, ErrPermissionDenied)
		assert.Len(t, f.warnings, 1)
		assert.Equal(t, 2, f.store.LayerCount())
	})

	t.Run("ignored while typing in a field", func(t *testing.T) {
		require.NoError(t, f.machine.KeyDown(f.ctx, KeyEvent{Key: KeyBackspace, Permissions: AllPermissions, InTextField: true}))
		assert.Equal(t, 2, f.store.LayerCount())
	})

	t.Run("removes layer and edges", func(t *testing.T) {
		f.pub.Reset()
		require.NoError(t, f.machine.KeyDown(f.ctx, KeyEvent{Key: KeyBackspace, Permissions: AllPermissions}))
		_, ok := f.store.Layer("a")
		assert.False(t, ok)
		assert.Equal(t, 0, f.store.EdgeCount())
		assert.Empty(t, f.machine.Selection())

		assert.Equal(t, []boardsync.Operation{
			boardsync.RemoveLayers("a"),
			boardsync.RemoveEdges(edge.ID),
		}, f.pub.Ops())
	})

	t.Run("undo restores the layer only", func(t *testing.T) {
		require.NoError(t, f.machine.Undo(f.ctx, AllPermissions))
		_, ok := f.store.Layer("a")
		assert.True(t, ok)
		assert.Equal(t, 0, f.store.EdgeCount())
	})
}

func TestSelectionNet(t *testing.T) {
	f := newFixture(t, box("a", 0, 0, 100, 50), box("b", 300, 0, 100, 50), box("c", 0, 300, 100, 50))

	f.down(at(-20, -20))
	assert.Equal(t, ModePressing, f.machine.Mode())

	f.move(at(-18, -18))
	assert.Equal(t, ModePressing, f.machine.Mode(), "4px is below the drag threshold")

	f.move(at(350, 60))
	state := f.machine.State()
	assert.Equal(t, ModeSelectionNet, state.Mode)
	assert.Equal(t, []string{"a", "b"}, state.Candidates)

	f.up(at(350, 60))
	assert.Equal(t, ModeNone, f.machine.Mode())
	assert.ElementsMatch(t, []string{"a", "b"}, f.machine.Selection())

	f.click(at(600, 600))
	assert.Empty(t, f.machine.Selection())
}

func TestInsertLayer(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.machine.StartInserting(f.ctx, diagram.LayerEllipse))
	f.move(at(200, 200))
	shadow := f.machine.Shadow()
	require.NotNil(t, shadow.Layer)
	assert.Equal(t, 0, f.store.LayerCount(), "the preview is not in the document")

	f.down(at(200, 200))
	f.up(at(200, 200))
	assert.Equal(t, ModeNone, f.machine.Mode())

	layers := f.store.Layers()
	require.Len(t, layers, 1)
	assert.Equal(t, diagram.LayerEllipse, layers[0].Type)
	assert.Equal(t, geometry.Point{X: 200, Y: 200}, layers[0].Bounds().Center())
	assert.Equal(t, []string{layers[0].ID}, f.machine.Selection())

	assert.Error(t, f.machine.StartInserting(f.ctx, "Star"))

	t.Run("without permission", func(t *testing.T) {
		require.NoError(t, f.machine.StartInserting(f.ctx, diagram.LayerNote))
		p := at(500, 500)
		p.Permissions = nil
		require.NoError(t, f.machine.PointerDown(f.ctx, p))
		err := f.machine.PointerUp(f.ctx, p)
		assert.ErrorIs(t, err, ErrPermissionDenied)
		assert.Equal(t, 1, f.store.LayerCount())
		assert.Equal(t, ModeNone, f.machine.Mode())
	})
}

func TestHoverShowsShadow(t *testing.T) {
	f := newFixture(t, box("a", 0, 0, 100, 50))

	f.move(at(108, 25))
	shadow := f.machine.Shadow()
	require.NotNil(t, shadow.Layer)
	require.NotNil(t, shadow.Edge)
	assert.Equal(t, geometry.HandleRight, shadow.Edge.HandleStart)
	assert.Greater(t, shadow.Layer.X, 100.0)
	assert.Equal(t, 1, f.store.LayerCount())

	f.move(at(500, 500))
	assert.True(t, f.machine.Shadow().Empty())
}

func TestTypingOnDoubleClick(t *testing.T) {
	f := newFixture(t, box("a", 0, 0, 100, 50))

	require.NoError(t, f.machine.PointerDown(f.ctx, at(50, 25)))
	require.NoError(t, f.machine.PointerUp(f.ctx, at(50, 25)))
	f.now = f.now.Add(200 * time.Millisecond)
	require.NoError(t, f.machine.PointerDown(f.ctx, at(50, 25)))
	require.Equal(t, ModeTyping, f.machine.Mode())

	require.NoError(t, f.machine.KeyDown(f.ctx, KeyEvent{Key: KeySpace, Permissions: AllPermissions}))
	assert.Equal(t, ModeTyping, f.machine.Mode(), "space types")

	require.NoError(t, f.machine.Text(f.ctx, AllPermissions, "hello"))
	l, _ := f.store.Layer("a")
	assert.Equal(t, "hello", l.Value)

	require.NoError(t, f.machine.KeyDown(f.ctx, KeyEvent{Key: KeyEscape}))
	assert.Equal(t, ModeNone, f.machine.Mode())
	assert.ErrorIs(t, f.machine.Text(f.ctx, AllPermissions, "x"), ErrWrongMode)

	require.NoError(t, f.machine.Undo(f.ctx, AllPermissions))
	l, _ = f.store.Layer("a")
	assert.Empty(t, l.Value)
}

func TestGrabAndPan(t *testing.T) {
	f := newFixture(t)
	camera := geometry.Camera{}

	_, ok := f.machine.Pan(camera, 10, 10)
	assert.False(t, ok)

	require.NoError(t, f.machine.KeyDown(f.ctx, KeyEvent{Key: KeySpace}))
	assert.Equal(t, ModeNone, f.machine.Mode(), "grab needs permission")

	require.NoError(t, f.machine.KeyDown(f.ctx, KeyEvent{Key: KeySpace, Permissions: AllPermissions}))
	assert.Equal(t, ModeGrab, f.machine.Mode())
	camera, ok = f.machine.Pan(camera, 30, -10)
	assert.True(t, ok)
	assert.Equal(t, geometry.Camera{X: 30, Y: -10}, camera)

	require.NoError(t, f.machine.KeyUp(f.ctx, KeyEvent{Key: KeySpace}))
	assert.Equal(t, ModeNone, f.machine.Mode())

	// Screen coordinates go through the camera.
	require.NoError(t, f.store.InsertLayer(box("a", 0, 0, 100, 50)))
	p := at(80, 15)
	p.Camera = camera
	f.down(p)
	assert.Equal(t, ModeTranslating, f.machine.Mode())
}

func TestEdgeTools(t *testing.T) {
	f := newFixture(t)
	e := diagram.NewEdge("e", geometry.Point{X: 0, Y: 0}, geometry.Point{X: 200, Y: 0})
	require.NoError(t, f.store.InsertEdge(e))

	assert.ErrorIs(t, f.machine.SetEdgeThickness(f.ctx, AllPermissions, 4), ErrWrongMode)

	mid := e.Curve().Midpoint()
	f.click(at(mid.X, mid.Y+2))
	require.Equal(t, ModeEdgeActive, f.machine.Mode())
	assert.Equal(t, "e", f.machine.ActiveEdge())

	red := diagram.Color{R: 255}
	require.NoError(t, f.machine.SetEdgeColor(f.ctx, AllPermissions, red))
	require.NoError(t, f.machine.SetEdgeThickness(f.ctx, AllPermissions, 4))
	require.NoError(t, f.machine.SetEdgeType(f.ctx, AllPermissions, diagram.EdgeDashed))
	require.NoError(t, f.machine.ToggleArrow(f.ctx, AllPermissions, false))
	assert.Error(t, f.machine.SetEdgeThickness(f.ctx, AllPermissions, 0))
	assert.ErrorIs(t, f.machine.SetEdgeColor(f.ctx, nil, red), ErrPermissionDenied)
	assert.Equal(t, ModeEdgeActive, f.machine.Mode())

	got, _ := f.store.Edge("e")
	assert.Equal(t, red, got.Color)
	assert.Equal(t, 4.0, got.Thickness)
	assert.Equal(t, diagram.EdgeDashed, got.Type)
	assert.True(t, got.ArrowStart)
	assert.Len(t, f.pub.Ops(), 4)

	t.Run("drag middle grip bends the curve", func(t *testing.T) {
		mid := got.Curve().Midpoint()
		f.down(at(mid.X, mid.Y))
		require.Equal(t, ModeEdgeEditing, f.machine.Mode())
		f.move(at(mid.X, mid.Y+50))
		f.up(at(mid.X, mid.Y+50))
		assert.Equal(t, ModeEdgeActive, f.machine.Mode())

		bent, _ := f.store.Edge("e")
		require.NotNil(t, bent.ControlPoint1)
		assert.InDelta(t, mid.Y+50, bent.Curve().Midpoint().Y, 0.001)
	})

	t.Run("backspace deletes the edge", func(t *testing.T) {
		require.NoError(t, f.machine.KeyDown(f.ctx, KeyEvent{Key: KeyBackspace, Permissions: AllPermissions}))
		assert.Equal(t, 0, f.store.EdgeCount())
		assert.Equal(t, ModeNone, f.machine.Mode())
	})
}

func TestEdgeEndpointReattaches(t *testing.T) {
	f := newFixture(t, box("a", 0, 0, 100, 50), box("b", 300, 0, 100, 50), box("c", 300, 200, 100, 50))
	edge := f.connect("a", "b")

	f.click(at(200, 25))
	require.Equal(t, edge.ID, f.machine.ActiveEdge())

	f.down(at(edge.End.X, edge.End.Y))
	state := f.machine.State()
	require.Equal(t, ModeEdgeEditing, state.Mode)
	assert.Equal(t, GripEnd, state.Grip)

	// C's top handle is at (350,192).
	f.move(at(345, 185))
	f.up(at(345, 185))

	got, _ := f.store.Edge(edge.ID)
	assert.Equal(t, "c", got.ToLayerID)
	assert.Equal(t, geometry.HandleTop, got.HandleEnd)
	assert.Equal(t, geometry.Point{X: 350, Y: 192}, got.End)
}

func TestEdgeStartReattachSetsOrientation(t *testing.T) {
	f := newFixture(t, box("a", 0, 0, 100, 50), box("b", 300, 0, 100, 50), box("c", 300, 200, 100, 50))
	edge := f.connect("a", "b")

	f.click(at(200, 25))
	require.Equal(t, edge.ID, f.machine.ActiveEdge())

	f.down(at(edge.Start.X, edge.Start.Y))
	require.Equal(t, GripStart, f.machine.State().Grip)
	f.move(at(345, 185))
	f.up(at(345, 185))
	assert.Equal(t, ModeEdgeActive, f.machine.Mode())

	got, _ := f.store.Edge(edge.ID)
	assert.Equal(t, "c", got.FromLayerID)
	assert.Equal(t, geometry.HandleTop, got.HandleStart)
	assert.Equal(t, geometry.OrientationFor(geometry.HandleTop), got.Orientation)

	ops := f.pub.Ops()
	require.NotEmpty(t, ops)
	updated, ok := ops[len(ops)-1].(boardsync.EdgeUpdated)
	require.True(t, ok)
	require.NotNil(t, updated.Patch.Orientation)
	assert.Equal(t, geometry.OrientationFor(geometry.HandleTop), *updated.Patch.Orientation)
}

func TestEdgeEditAbortsWhenEdgeVanishes(t *testing.T) {
	f := newFixture(t, box("a", 0, 0, 100, 50), box("b", 300, 0, 100, 50), box("c", 300, 200, 100, 50))
	edge := f.connect("a", "b")

	f.click(at(200, 25))
	f.down(at(edge.End.X, edge.End.Y))
	f.move(at(345, 185))
	require.Equal(t, ModeEdgeEditing, f.machine.Mode())
	f.pub.Reset()

	f.store.Remove(edge.ID)
	f.up(at(345, 185))
	assert.Equal(t, ModeNone, f.machine.Mode())
	assert.Empty(t, f.machine.ActiveEdge())
	assert.Empty(t, f.pub.Ops(), "nothing is published for a vanished edge")
}

func TestPencil(t *testing.T) {
	f := newFixture(t)
	f.machine.StartPencil(f.ctx)

	f.down(at(10, 10))
	f.move(at(40, 30))
	f.move(at(80, 12))
	f.up(at(80, 12))
	assert.Equal(t, ModePencil, f.machine.Mode())

	layers := f.store.Layers()
	require.Len(t, layers, 1)
	l := layers[0]
	assert.Equal(t, diagram.LayerPath, l.Type)
	assert.Equal(t, geometry.Rect{X: 10, Y: 10, Width: 70, Height: 20}, l.Bounds())
	assert.Equal(t, []geometry.Point{{X: 0, Y: 0}, {X: 30, Y: 20}, {X: 70, Y: 2}}, l.Points)

	t.Run("single point is dropped", func(t *testing.T) {
		f.click(at(300, 300))
		assert.Equal(t, 1, f.store.LayerCount())
	})

	t.Run("flat stroke gets the minimum extent", func(t *testing.T) {
		f.down(at(300, 300))
		f.move(at(360, 300))
		f.up(at(360, 300))

		layers := f.store.Layers()
		require.Len(t, layers, 2)
		assert.Equal(t, geometry.Rect{X: 300, Y: 300, Width: 60, Height: minStrokeSize}, layers[1].Bounds())
	})

	require.NoError(t, f.machine.KeyDown(f.ctx, KeyEvent{Key: KeyEscape}))
	assert.Equal(t, ModeNone, f.machine.Mode())
}

func TestExportImport(t *testing.T) {
	f := newFixture(t, box("a", 0, 0, 100, 50), box("b", 300, 0, 100, 50))
	f.connect("a", "b")

	_, err := f.machine.Export(f.ctx, Permissions{PermissionUpdate})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	data, err := f.machine.Export(f.ctx, AllPermissions)
	require.NoError(t, err)
	assert.Equal(t, ModeNone, f.machine.Mode())

	other := newFixture(t, box("old", 0, 0, 10, 10))
	require.NoError(t, other.machine.Import(other.ctx, AllPermissions, data))
	assert.Equal(t, 2, other.store.LayerCount())
	assert.Equal(t, 1, other.store.EdgeCount())
	_, ok := other.store.Layer("old")
	assert.False(t, ok)
	assert.False(t, other.machine.History().CanUndo())

	ops := other.pub.Ops()
	require.Len(t, ops, 4)
	assert.Equal(t, boardsync.RemoveLayers("old"), ops[0])

	t.Run("invalid payload leaves the document", func(t *testing.T) {
		err := other.machine.Import(other.ctx, AllPermissions, []byte(`{"layers":[{"id":""}]}`))
		assert.Error(t, err)
		assert.Equal(t, 2, other.store.LayerCount())
		assert.Equal(t, ModeNone, other.machine.Mode())
	})
}

func TestUndoRedoPublishes(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.machine.StartInserting(f.ctx, diagram.LayerRectangle))
	f.click(at(100, 100))
	id := f.store.Layers()[0].ID
	f.pub.Reset()

	assert.ErrorIs(t, f.machine.Undo(f.ctx, nil), ErrPermissionDenied)

	require.NoError(t, f.machine.Undo(f.ctx, AllPermissions))
	assert.Equal(t, 0, f.store.LayerCount())
	assert.Empty(t, f.machine.Selection())

	require.NoError(t, f.machine.Redo(f.ctx, AllPermissions))
	assert.Equal(t, 1, f.store.LayerCount())

	ops := f.pub.Ops()
	require.Len(t, ops, 2)
	assert.Equal(t, boardsync.RemoveLayers(id), ops[0])
	added, ok := ops[1].(boardsync.LayerAdded)
	require.True(t, ok)
	assert.Equal(t, id, added.Layer.ID)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "EdgeDrawing", ModeEdgeDrawing.String())
	assert.Equal(t, "Exporting", ModeExporting.String())
	assert.Equal(t, "Unknown", Mode(99).String())
}
