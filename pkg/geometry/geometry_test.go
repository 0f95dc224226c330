package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResizeBounds(t *testing.T) {
	tests := []struct {
		name       string
		bounds     Rect
		corner     Side
		point      Point
		keepAspect bool
		want       Rect
	}{
		{
			name:   "bottom right drag grows",
			bounds: Rect{X: 0, Y: 0, Width: 200, Height: 60},
			corner: CornerBottomRight,
			point:  Point{X: 300, Y: 150},
			want:   Rect{X: 0, Y: 0, Width: 300, Height: 150},
		},
		{
			name:   "clamped to minimum",
			bounds: Rect{X: 0, Y: 0, Width: 200, Height: 60},
			corner: CornerBottomRight,
			point:  Point{X: 10, Y: 10},
			want:   Rect{X: 0, Y: 0, Width: 100, Height: 50},
		},
		{
			name:   "top left drag re-anchors",
			bounds: Rect{X: 100, Y: 100, Width: 200, Height: 100},
			corner: CornerTopLeft,
			point:  Point{X: 50, Y: 80},
			want:   Rect{X: 50, Y: 80, Width: 250, Height: 120},
		},
		{
			name:   "left drag clamped keeps right edge",
			bounds: Rect{X: 100, Y: 100, Width: 200, Height: 100},
			corner: SideLeft,
			point:  Point{X: 250, Y: 150},
			want:   Rect{X: 200, Y: 100, Width: 100, Height: 100},
		},
		{
			name:   "right drag past left edge flips",
			bounds: Rect{X: 0, Y: 0, Width: 200, Height: 100},
			corner: SideRight,
			point:  Point{X: -150, Y: 50},
			want:   Rect{X: -150, Y: 0, Width: 150, Height: 100},
		},
		{
			name:       "aspect lock width dominates",
			bounds:     Rect{X: 0, Y: 0, Width: 200, Height: 100},
			corner:     CornerBottomRight,
			point:      Point{X: 400, Y: 150},
			keepAspect: true,
			want:       Rect{X: 0, Y: 0, Width: 400, Height: 200},
		},
		{
			name:       "aspect lock height dominates from top left",
			bounds:     Rect{X: 0, Y: 0, Width: 200, Height: 100},
			corner:     CornerTopLeft,
			point:      Point{X: -20, Y: -100},
			keepAspect: true,
			want:       Rect{X: -200, Y: -100, Width: 400, Height: 200},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResizeBounds(tt.bounds, tt.corner, tt.point, tt.keepAspect, MinLayerSize)
			assert.InDelta(t, tt.want.X, got.X, 1e-9, "x")
			assert.InDelta(t, tt.want.Y, got.Y, 1e-9, "y")
			assert.InDelta(t, tt.want.Width, got.Width, 1e-9, "width")
			assert.InDelta(t, tt.want.Height, got.Height, 1e-9, "height")
		})
	}
}

func TestResizeBoundsNeverBelowMinimum(t *testing.T) {
	bounds := Rect{X: 40, Y: 40, Width: 160, Height: 90}
	for _, side := range ResizeSides {
		for x := -200.0; x <= 400; x += 37 {
			for y := -200.0; y <= 400; y += 41 {
				for _, keep := range []bool{false, true} {
					got := ResizeBounds(bounds, side, Point{X: x, Y: y}, keep, MinLayerSize)
					require.GreaterOrEqual(t, got.Width, MinLayerSize.Width, "side %s at (%v,%v)", side, x, y)
					require.GreaterOrEqual(t, got.Height, MinLayerSize.Height, "side %s at (%v,%v)", side, x, y)
				}
			}
		}
	}
}

func TestSideString(t *testing.T) {
	assert.Equal(t, "top-left", CornerTopLeft.String())
	assert.Equal(t, "bottom-right", CornerBottomRight.String())
	assert.Equal(t, "left", SideLeft.String())
	assert.Equal(t, "none", Side(0).String())
}

func TestHandlePosition(t *testing.T) {
	b := Rect{X: 100, Y: 100, Width: 200, Height: 100}
	assert.Equal(t, Point{X: 200, Y: 92}, HandlePosition(b, HandleTop, 8))
	assert.Equal(t, Point{X: 308, Y: 150}, HandlePosition(b, HandleRight, 8))
	assert.Equal(t, Point{X: 200, Y: 208}, HandlePosition(b, HandleBottom, 8))
	assert.Equal(t, Point{X: 92, Y: 150}, HandlePosition(b, HandleLeft, 8))
}

func TestNearestHandle(t *testing.T) {
	b := Target{ID: "B", Bounds: Rect{X: 300, Y: 0, Width: 200, Height: 100}}

	t.Run("within threshold", func(t *testing.T) {
		hit, ok := NearestHandle([]Target{b}, Point{X: 280, Y: 55}, 20, 8)
		require.True(t, ok)
		assert.Equal(t, "B", hit.ID)
		assert.Equal(t, HandleLeft, hit.Handle)
		assert.InDelta(t, 13, hit.Distance, 1e-9)
	})

	t.Run("outside threshold", func(t *testing.T) {
		_, ok := NearestHandle([]Target{b}, Point{X: 260, Y: 50}, 20, 8)
		assert.False(t, ok)
	})

	t.Run("exactly at threshold", func(t *testing.T) {
		_, ok := NearestHandle([]Target{b}, Point{X: 272, Y: 50}, 20, 8)
		assert.True(t, ok)
	})

	t.Run("ties resolve to first found", func(t *testing.T) {
		a := Target{ID: "A", Bounds: Rect{X: 0, Y: 0, Width: 100, Height: 100}}
		c := Target{ID: "C", Bounds: Rect{X: 216, Y: 0, Width: 100, Height: 100}}
		hit, ok := NearestHandle([]Target{a, c}, Point{X: 158, Y: 50}, 60, 8)
		require.True(t, ok)
		assert.Equal(t, "A", hit.ID)
		assert.Equal(t, HandleRight, hit.Handle)
	})

	t.Run("no targets", func(t *testing.T) {
		_, ok := NearestHandle(nil, Point{}, 20, 8)
		assert.False(t, ok)
	})
}

func TestNearestTarget(t *testing.T) {
	targets := []Target{
		{ID: "A", Bounds: Rect{X: 0, Y: 0, Width: 100, Height: 100}},
		{ID: "B", Bounds: Rect{X: 300, Y: 0, Width: 100, Height: 100}},
	}

	hit, ok := NearestTarget(targets, Point{X: 250, Y: 50}, 80)
	require.True(t, ok)
	assert.Equal(t, "B", hit.ID)
	assert.InDelta(t, 50, hit.Distance, 1e-9)

	hit, ok = NearestTarget(targets, Point{X: 50, Y: 50}, 80)
	require.True(t, ok)
	assert.Equal(t, "A", hit.ID)
	assert.Zero(t, hit.Distance)

	_, ok = NearestTarget(targets, Point{X: 200, Y: 400}, 80)
	assert.False(t, ok)
}

func TestIntersectingAndTopmost(t *testing.T) {
	targets := []Target{
		{ID: "A", Bounds: Rect{X: 0, Y: 0, Width: 100, Height: 100}},
		{ID: "B", Bounds: Rect{X: 200, Y: 200, Width: 100, Height: 100}},
		{ID: "C", Bounds: Rect{X: 50, Y: 50, Width: 100, Height: 100}},
	}

	assert.Equal(t, []string{"A", "C"}, Intersecting(targets, Point{X: 150, Y: 150}, Point{X: 0, Y: 0}))
	assert.Empty(t, Intersecting(targets, Point{X: 500, Y: 500}, Point{X: 600, Y: 600}))

	id, ok := TopmostAt(targets, Point{X: 75, Y: 75})
	require.True(t, ok)
	assert.Equal(t, "C", id)

	_, ok = TopmostAt(targets, Point{X: 175, Y: 10})
	assert.False(t, ok)
}

func TestFacingHandle(t *testing.T) {
	b := Rect{X: 0, Y: 0, Width: 100, Height: 100}
	assert.Equal(t, HandleRight, FacingHandle(b, Point{X: 300, Y: 50}))
	assert.Equal(t, HandleLeft, FacingHandle(b, Point{X: -300, Y: 80}))
	assert.Equal(t, HandleTop, FacingHandle(b, Point{X: 50, Y: -200}))
	assert.Equal(t, HandleBottom, FacingHandle(b, Point{X: 60, Y: 400}))
}

func TestCurve(t *testing.T) {
	t.Run("horizontal handle bends horizontally", func(t *testing.T) {
		c := NewCurve(Point{X: 0, Y: 0}, Point{X: 200, Y: 100}, HandleRight)
		assert.Equal(t, Point{X: 100, Y: 0}, c.C1)
		assert.Equal(t, Point{X: 100, Y: 100}, c.C2)
		assert.Equal(t, Point{X: 100, Y: 50}, c.Midpoint())
	})

	t.Run("vertical handle bends vertically", func(t *testing.T) {
		c := NewCurve(Point{X: 0, Y: 0}, Point{X: 100, Y: 200}, HandleBottom)
		assert.Equal(t, Point{X: 0, Y: 100}, c.C1)
		assert.Equal(t, Point{X: 100, Y: 100}, c.C2)
	})

	t.Run("reach scales with distance", func(t *testing.T) {
		near := NewCurve(Point{}, Point{X: 100}, HandleRight)
		far := NewCurve(Point{}, Point{X: 400}, HandleRight)
		assert.Greater(t, far.C1.X, near.C1.X)
	})

	t.Run("endpoints", func(t *testing.T) {
		c := NewCurve(Point{X: 10, Y: 20}, Point{X: 300, Y: -40}, "")
		assert.Equal(t, c.Start, c.At(0))
		assert.InDelta(t, c.End.X, c.At(1).X, 1e-9)
		assert.InDelta(t, c.End.Y, c.At(1).Y, 1e-9)
	})

	t.Run("through midpoint", func(t *testing.T) {
		c := NewCurve(Point{X: 0, Y: 0}, Point{X: 200, Y: 100}, HandleRight)
		moved := c.ThroughMidpoint(Point{X: 100, Y: 80})
		m := moved.Midpoint()
		assert.InDelta(t, 100, m.X, 1e-9)
		assert.InDelta(t, 80, m.Y, 1e-9)
		assert.Equal(t, c.Start, moved.Start)
		assert.Equal(t, c.End, moved.End)
	})

	t.Run("distance", func(t *testing.T) {
		c := NewCurve(Point{X: 0, Y: 0}, Point{X: 200, Y: 100}, HandleRight)
		assert.InDelta(t, 0, c.Distance(c.Midpoint()), 1e-6)
		assert.Greater(t, c.Distance(Point{X: 0, Y: 100}), 20.0)
	})
}

func TestOrientation(t *testing.T) {
	assert.Equal(t, Orientation180, OrientationFor(HandleLeft))
	assert.Equal(t, Orientation0, OrientationFor(HandleRight))
	assert.Equal(t, OrientationAuto, OrientationFor(""))

	deg, ok := Orientation270.Degrees()
	assert.True(t, ok)
	assert.Equal(t, 270.0, deg)

	_, ok = OrientationAuto.Degrees()
	assert.False(t, ok)

	assert.True(t, OrientationNeg180.Valid())
	assert.False(t, Orientation("45").Valid())
}

func TestPlacement(t *testing.T) {
	source := Rect{X: 0, Y: 0, Width: 100, Height: 100}
	shadow := ShadowRect(source, HandleRight, Size{Width: 100, Height: 50}, 60)
	assert.Equal(t, Rect{X: 160, Y: 25, Width: 100, Height: 50}, shadow)

	placed := PlaceNonOverlapping(shadow, nil, Point{X: 1}, 60)
	assert.Equal(t, shadow, placed)

	occupied := []Rect{{X: 150, Y: 0, Width: 100, Height: 100}}
	placed = PlaceNonOverlapping(shadow, occupied, Point{X: 1}, 60)
	assert.Equal(t, Rect{X: 320, Y: 25, Width: 100, Height: 50}, placed)
	assert.False(t, placed.Overlaps(occupied[0]))
}

func TestCamera(t *testing.T) {
	cam := Camera{X: 20, Y: -10}
	p := ScreenToCanvas(Point{X: 100, Y: 100}, cam)
	assert.Equal(t, Point{X: 80, Y: 110}, p)
	assert.Equal(t, Point{X: 100, Y: 100}, CanvasToScreen(p, cam))
	assert.Equal(t, Camera{X: 25, Y: -5}, cam.Pan(5, 5))
}
