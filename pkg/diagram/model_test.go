package diagram

import (
	"encoding/json"
	"testing"

	"github.com/Veraticus/linkboard/pkg/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColor(t *testing.T) {
	c := Color{R: 255, G: 8, B: 171}
	assert.Equal(t, "#ff08ab", c.Hex())

	parsed, err := ParseColor("#ff08ab")
	require.NoError(t, err)
	assert.Equal(t, c, parsed)

	_, err = ParseColor("nope")
	assert.Error(t, err)
}

func TestLayerPatchApply(t *testing.T) {
	l := rectLayer("a", 10, 20, 100, 50)
	l.Value = "keep"

	x := 99.0
	ellipse := LayerEllipse
	got := LayerPatch{X: &x, Type: &ellipse}.Apply(l)

	assert.Equal(t, 99.0, got.X)
	assert.Equal(t, LayerEllipse, got.Type)
	assert.Equal(t, 20.0, got.Y)
	assert.Equal(t, "keep", got.Value)
	assert.Equal(t, 10.0, l.X, "original untouched")
}

func TestDiffAndFullPatch(t *testing.T) {
	before := rectLayer("a", 0, 0, 100, 100)
	after := before
	after.X = 30
	after.Value = "hi"

	diff := DiffLayer(before, after)
	require.NotNil(t, diff.X)
	require.NotNil(t, diff.Value)
	assert.Nil(t, diff.Y)
	assert.False(t, diff.IsEmpty())
	assert.Equal(t, after, diff.Apply(before))

	assert.True(t, DiffLayer(before, before).IsEmpty())

	other := rectLayer("a", 500, 500, 300, 300)
	other.Value = "stale"
	assert.Equal(t, after, FullPatch(after).Apply(other))
}

func TestLayerPatchJSONOmitsUnset(t *testing.T) {
	v := "x"
	data, err := json.Marshal(LayerPatch{Value: &v})
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"x"}`, string(data))
}

func TestEdgePatchApply(t *testing.T) {
	e := NewEdge("e", geometry.Point{}, geometry.Point{X: 10})
	cp := geometry.Point{X: 5, Y: 5}
	e.ControlPoint1 = &cp
	e.ToLayerID = "b"

	empty := ""
	got := EdgePatch{ToLayerID: &empty, ResetControlPoints: true}.Apply(e)
	assert.Empty(t, got.ToLayerID)
	assert.Nil(t, got.ControlPoint1)
	assert.NotNil(t, e.ControlPoint1, "original untouched")
}

func TestEdgeCurveUsesExplicitControlPoints(t *testing.T) {
	e := NewEdge("e", geometry.Point{}, geometry.Point{X: 200, Y: 100})
	e.HandleStart = geometry.HandleRight
	derived := e.Curve()
	assert.Equal(t, geometry.Point{X: 100}, derived.C1)

	c1 := geometry.Point{X: 10, Y: 90}
	e.ControlPoint1 = &c1
	assert.Equal(t, c1, e.Curve().C1)
	assert.Equal(t, derived.C2, e.Curve().C2)
}

func TestParseSnapshot(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		data := []byte(`{
			"layers": [{"id":"a","type":"Rectangle","x":0,"y":0,"width":100,"height":50,"fill":{"r":1,"g":2,"b":3}}],
			"edges": [{"id":"e","fromLayerId":"a","handleStart":"Right","start":{"x":0,"y":0},"end":{"x":10,"y":10},"type":"Solid","shape":"Curved","thickness":2}]
		}`)
		snap, err := ParseSnapshot(data)
		require.NoError(t, err)
		require.Len(t, snap.Layers, 1)
		require.Len(t, snap.Edges, 1)
		assert.Equal(t, geometry.HandleRight, snap.Edges[0].HandleStart)
	})

	t.Run("empty document", func(t *testing.T) {
		snap, err := ParseSnapshot([]byte(`{}`))
		require.NoError(t, err)
		assert.NotNil(t, snap.Layers)
		assert.NotNil(t, snap.Edges)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := ParseSnapshot([]byte(`{"layers": [`))
		assert.Error(t, err)
	})

	t.Run("bad handle", func(t *testing.T) {
		_, err := ParseSnapshot([]byte(`{"edges":[{"id":"e","handleEnd":"Middle"}]}`))
		assert.ErrorIs(t, err, ErrInvalidEntity)
	})

	t.Run("id shared by layer and edge", func(t *testing.T) {
		_, err := ParseSnapshot([]byte(`{"layers":[{"id":"x","type":"Note"}],"edges":[{"id":"x"}]}`))
		assert.ErrorIs(t, err, ErrDuplicateID)
	})
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	cp := geometry.Point{X: 1}
	e := NewEdge("e", geometry.Point{}, geometry.Point{})
	e.ControlPoint1 = &cp
	snap := &Snapshot{Layers: []Layer{rectLayer("a", 0, 0, 100, 100)}, Edges: []Edge{e}}

	clone := snap.Clone()
	clone.Edges[0].ControlPoint1.X = 42
	clone.Layers[0].X = 42
	assert.Equal(t, 1.0, snap.Edges[0].ControlPoint1.X)
	assert.Equal(t, 0.0, snap.Layers[0].X)
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
