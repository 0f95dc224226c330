package geometry

// DefaultPlacementGap separates a synthesized layer from its neighbours.
const DefaultPlacementGap = 60.0

// maxPlacementSteps bounds the search in PlaceNonOverlapping.
const maxPlacementSteps = 64

// ShadowRect returns where a new layer of the given size goes when it is
// created from handle h of source: gap beyond that side, centered on it.
func ShadowRect(source Rect, h Handle, size Size, gap float64) Rect {
	c := source.Center()
	r := Rect{Width: size.Width, Height: size.Height}
	switch h {
	case HandleTop:
		r.X = c.X - size.Width/2
		r.Y = source.Y - gap - size.Height
	case HandleBottom:
		r.X = c.X - size.Width/2
		r.Y = source.Bottom() + gap
	case HandleLeft:
		r.X = source.X - gap - size.Width
		r.Y = c.Y - size.Height/2
	default:
		r.X = source.Right() + gap
		r.Y = c.Y - size.Height/2
	}
	return r
}

// PlaceNonOverlapping slides r along dir until it overlaps none of the
// occupied rectangles. Each step moves it by its own extent along the
// dominant axis of dir plus gap. After a bounded number of steps the last
// candidate is returned even if it still overlaps.
func PlaceNonOverlapping(r Rect, occupied []Rect, dir Point, gap float64) Rect {
	if dir == (Point{}) {
		dir = Point{X: 1}
	}
	step := Point{}
	if abs(dir.X) >= abs(dir.Y) {
		step.X = sign(dir.X) * (r.Width + gap)
	} else {
		step.Y = sign(dir.Y) * (r.Height + gap)
	}

	for i := 0; i < maxPlacementSteps; i++ {
		if !overlapsAny(r, occupied, gap) {
			return r
		}
		r = r.Translate(step)
	}
	return r
}

func overlapsAny(r Rect, occupied []Rect, gap float64) bool {
	padded := Rect{X: r.X - gap/2, Y: r.Y - gap/2, Width: r.Width + gap, Height: r.Height + gap}
	for _, o := range occupied {
		if padded.Overlaps(o) {
			return true
		}
	}
	return false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
