package geometry

import (
	"math"
	"strconv"
)

// Orientation is the direction an edge leaves its start handle, in degrees,
// or "auto" when it is derived from the geometry.
type Orientation string

// Edge orientations.
const (
	OrientationAuto   Orientation = "auto"
	Orientation0      Orientation = "0"
	Orientation90     Orientation = "90"
	Orientation180    Orientation = "180"
	Orientation270    Orientation = "270"
	OrientationNeg180 Orientation = "-180"
)

// Valid reports whether o is a known orientation.
func (o Orientation) Valid() bool {
	switch o {
	case OrientationAuto, Orientation0, Orientation90, Orientation180, Orientation270, OrientationNeg180:
		return true
	}
	return false
}

// Degrees returns the angle of o. Auto reports ok=false.
func (o Orientation) Degrees() (float64, bool) {
	if o == OrientationAuto || o == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(string(o), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// OrientationFor returns the orientation an edge gets when it attaches to h.
func OrientationFor(h Handle) Orientation {
	switch h {
	case HandleRight:
		return Orientation0
	case HandleBottom:
		return Orientation90
	case HandleLeft:
		return Orientation180
	case HandleTop:
		return Orientation270
	}
	return OrientationAuto
}

// curveTension scales control point distance relative to the span of the
// edge along its biased axis.
const curveTension = 0.5

// minCurveReach keeps nearly aligned endpoints from collapsing into a
// straight line.
const minCurveReach = 0.25

// Curve is a cubic Bezier segment.
type Curve struct {
	Start Point `json:"start"`
	C1    Point `json:"c1"`
	C2    Point `json:"c2"`
	End   Point `json:"end"`
}

// NewCurve derives control points for an edge from start to end. Edges that
// leave a Left or Right handle bend horizontally, Top and Bottom bend
// vertically. With no handle the dominant axis of travel decides. The reach
// of both control points grows with the distance between the endpoints.
func NewCurve(start, end Point, from Handle) Curve {
	c1, c2 := ControlPoints(start, end, from)
	return Curve{Start: start, C1: c1, C2: c2, End: end}
}

// ControlPoints is the control point half of NewCurve.
func ControlPoints(start, end Point, from Handle) (Point, Point) {
	d := end.Sub(start)
	dist := math.Hypot(d.X, d.Y)

	horizontal := from.Horizontal()
	if !from.Valid() {
		horizontal = math.Abs(d.X) >= math.Abs(d.Y)
	}

	if horizontal {
		reach := math.Max(math.Abs(d.X)*curveTension, dist*minCurveReach)
		sign := axisSign(d.X, from, HandleLeft)
		return Point{X: start.X + sign*reach, Y: start.Y}, Point{X: end.X - sign*reach, Y: end.Y}
	}
	reach := math.Max(math.Abs(d.Y)*curveTension, dist*minCurveReach)
	sign := axisSign(d.Y, from, HandleTop)
	return Point{X: start.X, Y: start.Y + sign*reach}, Point{X: end.X, Y: end.Y - sign*reach}
}

// axisSign picks the bend direction: the direction of travel, or the
// handle's outward direction when travel along the axis is zero.
func axisSign(delta float64, from, negative Handle) float64 {
	switch {
	case delta > 0:
		return 1
	case delta < 0:
		return -1
	case from == negative:
		return -1
	default:
		return 1
	}
}

// At evaluates the curve at t in [0, 1].
func (c Curve) At(t float64) Point {
	mt := 1 - t
	a := mt * mt * mt
	b := 3 * mt * mt * t
	cc := 3 * mt * t * t
	d := t * t * t
	return Point{
		X: a*c.Start.X + b*c.C1.X + cc*c.C2.X + d*c.End.X,
		Y: a*c.Start.Y + b*c.C1.Y + cc*c.C2.Y + d*c.End.Y,
	}
}

// Midpoint returns the point at t = 0.5, where the middle edit handle sits.
func (c Curve) Midpoint() Point {
	return c.At(0.5)
}

// ThroughMidpoint returns a copy of c whose control points are shifted by the
// same vector so that the curve's midpoint lands on m.
func (c Curve) ThroughMidpoint(m Point) Curve {
	// B(0.5) = (P0 + 3C1 + 3C2 + P3) / 8, so moving both control points by
	// v moves the midpoint by 0.75v.
	v := m.Sub(c.Midpoint()).Scale(1 / 0.75)
	c.C1 = c.C1.Add(v)
	c.C2 = c.C2.Add(v)
	return c
}

// curveSamples is the polyline resolution used for distance queries.
const curveSamples = 32

// Distance approximates the shortest distance from p to the curve.
func (c Curve) Distance(p Point) float64 {
	best := math.Inf(1)
	prev := c.Start
	for i := 1; i <= curveSamples; i++ {
		next := c.At(float64(i) / curveSamples)
		if d := segmentDistance(p, prev, next); d < best {
			best = d
		}
		prev = next
	}
	return best
}

// Bounds returns the bounding box of the curve's control polygon.
func (c Curve) Bounds() Rect {
	r := RectFromPoints(c.Start, c.End)
	r = r.Union(RectFromPoints(c.C1, c.C1))
	return r.Union(RectFromPoints(c.C2, c.C2))
}
