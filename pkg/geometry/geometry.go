// Package geometry holds the computational geometry behind the canvas.
//
// It provides the resize math applied when a layer is dragged by one of its
// corner or side handles, the position of the four connection handles around
// a layer together with nearest-handle and nearest-layer snapping, rectangle
// intersection for the selection net, and the cubic Bezier curves used to
// route edges between layers.
//
// Every function in this package is pure: callers pass in the bounds,
// points and thresholds they want evaluated and receive new values back.
// Screen to canvas conversion takes the camera explicitly for the same
// reason.
package geometry

import "math"

// Point is a position in canvas (or screen) coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p translated by q.
func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y}
}

// Sub returns the vector from q to p.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Scale multiplies both coordinates by f.
func (p Point) Scale(f float64) Point {
	return Point{X: p.X * f, Y: p.Y * f}
}

// Distance returns the Euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Manhattan returns the taxicab distance between p and q.
func (p Point) Manhattan(q Point) float64 {
	return math.Abs(p.X-q.X) + math.Abs(p.Y-q.Y)
}

// Size is a width and height pair.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is an axis-aligned rectangle anchored at its top-left corner.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RectFromPoints returns the rectangle spanned by two opposite corners,
// in whatever order they are given.
func RectFromPoints(a, b Point) Rect {
	return Rect{
		X:      math.Min(a.X, b.X),
		Y:      math.Min(a.Y, b.Y),
		Width:  math.Abs(a.X - b.X),
		Height: math.Abs(a.Y - b.Y),
	}
}

// Right returns the x coordinate of the right edge.
func (r Rect) Right() float64 { return r.X + r.Width }

// Bottom returns the y coordinate of the bottom edge.
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Center returns the middle of the rectangle.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Translate returns r moved by d.
func (r Rect) Translate(d Point) Rect {
	r.X += d.X
	r.Y += d.Y
	return r
}

// Contains reports whether p lies inside r or on its border.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.Right() && p.Y >= r.Y && p.Y <= r.Bottom()
}

// Intersects reports whether r and o overlap. Rectangles that only touch
// along an edge count as intersecting.
func (r Rect) Intersects(o Rect) bool {
	return r.X <= o.Right() && o.X <= r.Right() && r.Y <= o.Bottom() && o.Y <= r.Bottom()
}

// Overlaps is the strict variant of Intersects: touching edges do not count.
func (r Rect) Overlaps(o Rect) bool {
	return r.X < o.Right() && o.X < r.Right() && r.Y < o.Bottom() && o.Y < r.Bottom()
}

// Union returns the smallest rectangle containing both r and o.
func (r Rect) Union(o Rect) Rect {
	minX := math.Min(r.X, o.X)
	minY := math.Min(r.Y, o.Y)
	return Rect{
		X:      minX,
		Y:      minY,
		Width:  math.Max(r.Right(), o.Right()) - minX,
		Height: math.Max(r.Bottom(), o.Bottom()) - minY,
	}
}

// DistanceTo returns the distance from p to the closest point of r, or zero
// when p is inside.
func (r Rect) DistanceTo(p Point) float64 {
	dx := math.Max(math.Max(r.X-p.X, 0), p.X-r.Right())
	dy := math.Max(math.Max(r.Y-p.Y, 0), p.Y-r.Bottom())
	return math.Hypot(dx, dy)
}

// Camera is the pan offset of the viewport.
type Camera struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ScreenToCanvas converts a pointer position in screen space to canvas space.
func ScreenToCanvas(p Point, camera Camera) Point {
	return Point{X: p.X - camera.X, Y: p.Y - camera.Y}
}

// CanvasToScreen is the inverse of ScreenToCanvas.
func CanvasToScreen(p Point, camera Camera) Point {
	return Point{X: p.X + camera.X, Y: p.Y + camera.Y}
}

// Pan returns the camera moved by the given screen delta.
func (c Camera) Pan(dx, dy float64) Camera {
	return Camera{X: c.X + dx, Y: c.Y + dy}
}

// segmentDistance returns the distance from p to the segment ab.
func segmentDistance(p, a, b Point) float64 {
	ab := b.Sub(a)
	lenSq := ab.X*ab.X + ab.Y*ab.Y
	if lenSq == 0 {
		return p.Distance(a)
	}
	t := ((p.X-a.X)*ab.X + (p.Y-a.Y)*ab.Y) / lenSq
	t = math.Max(0, math.Min(1, t))
	return p.Distance(a.Add(ab.Scale(t)))
}
