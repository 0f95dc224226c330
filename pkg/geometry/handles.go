package geometry

import "math"

// Handle names one of the four connection points around a layer.
type Handle string

// Connection handles.
const (
	HandleTop    Handle = "Top"
	HandleRight  Handle = "Right"
	HandleBottom Handle = "Bottom"
	HandleLeft   Handle = "Left"
)

// Handles lists the connection handles in search order. Ties in
// NearestHandle resolve to the earliest entry.
var Handles = []Handle{HandleTop, HandleRight, HandleBottom, HandleLeft}

// DefaultHandleOffset is how far outside the layer border connection handles
// are drawn.
const DefaultHandleOffset = 8.0

// Valid reports whether h is one of the four known handles.
func (h Handle) Valid() bool {
	switch h {
	case HandleTop, HandleRight, HandleBottom, HandleLeft:
		return true
	}
	return false
}

// Horizontal reports whether the handle sits on a vertical side of the
// layer, meaning edges leave it travelling horizontally.
func (h Handle) Horizontal() bool {
	return h == HandleLeft || h == HandleRight
}

// Opposite returns the handle on the other side of the layer.
func (h Handle) Opposite() Handle {
	switch h {
	case HandleTop:
		return HandleBottom
	case HandleBottom:
		return HandleTop
	case HandleLeft:
		return HandleRight
	case HandleRight:
		return HandleLeft
	}
	return h
}

// Direction returns the outward unit vector of the handle.
func (h Handle) Direction() Point {
	switch h {
	case HandleTop:
		return Point{Y: -1}
	case HandleBottom:
		return Point{Y: 1}
	case HandleLeft:
		return Point{X: -1}
	case HandleRight:
		return Point{X: 1}
	}
	return Point{}
}

// HandlePosition returns the position of handle h on bounds, pushed outward
// by offset.
func HandlePosition(bounds Rect, h Handle, offset float64) Point {
	c := bounds.Center()
	switch h {
	case HandleTop:
		return Point{X: c.X, Y: bounds.Y - offset}
	case HandleBottom:
		return Point{X: c.X, Y: bounds.Bottom() + offset}
	case HandleLeft:
		return Point{X: bounds.X - offset, Y: c.Y}
	case HandleRight:
		return Point{X: bounds.Right() + offset, Y: c.Y}
	}
	return c
}

// FacingHandle returns the handle of bounds that faces p, picked by the
// dominant axis between the center of bounds and p.
func FacingHandle(bounds Rect, p Point) Handle {
	d := p.Sub(bounds.Center())
	if math.Abs(d.X)*bounds.Height >= math.Abs(d.Y)*bounds.Width {
		if d.X < 0 {
			return HandleLeft
		}
		return HandleRight
	}
	if d.Y < 0 {
		return HandleTop
	}
	return HandleBottom
}

// Target is a hit-testable rectangle identified by the owning layer id.
type Target struct {
	ID     string
	Bounds Rect
}

// HandleHit is the result of a successful nearest-handle search.
type HandleHit struct {
	ID       string
	Handle   Handle
	Position Point
	Distance float64
}

// NearestHandle searches the four handles of every target for the one
// closest to p. Handles farther than threshold are ignored; when two handles
// are equally close the first one found wins. The boolean is false when no
// handle is within range.
func NearestHandle(targets []Target, p Point, threshold, offset float64) (HandleHit, bool) {
	var best HandleHit
	found := false
	for _, t := range targets {
		for _, h := range Handles {
			pos := HandlePosition(t.Bounds, h, offset)
			d := pos.Distance(p)
			if d > threshold {
				continue
			}
			if !found || d < best.Distance {
				best = HandleHit{ID: t.ID, Handle: h, Position: pos, Distance: d}
				found = true
			}
		}
	}
	return best, found
}

// TargetHit is the result of a nearest-target search.
type TargetHit struct {
	ID       string
	Distance float64
}

// NearestTarget returns the target whose bounds are closest to p, within
// threshold.
func NearestTarget(targets []Target, p Point, threshold float64) (TargetHit, bool) {
	var best TargetHit
	found := false
	for _, t := range targets {
		d := t.Bounds.DistanceTo(p)
		if d > threshold {
			continue
		}
		if !found || d < best.Distance {
			best = TargetHit{ID: t.ID, Distance: d}
			found = true
		}
	}
	return best, found
}

// TopmostAt returns the last target in paint order containing p.
func TopmostAt(targets []Target, p Point) (string, bool) {
	for i := len(targets) - 1; i >= 0; i-- {
		if targets[i].Bounds.Contains(p) {
			return targets[i].ID, true
		}
	}
	return "", false
}

// Intersecting returns the ids of all targets intersecting the rectangle
// spanned by a and b, in input order.
func Intersecting(targets []Target, a, b Point) []string {
	net := RectFromPoints(a, b)
	var ids []string
	for _, t := range targets {
		if net.Intersects(t.Bounds) {
			ids = append(ids, t.ID)
		}
	}
	return ids
}
