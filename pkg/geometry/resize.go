package geometry

import "math"

// Side is a bitmask naming the edges of a rectangle that a resize handle
// moves. Corner handles combine two sides.
type Side uint8

// Resize sides and corners.
const (
	SideTop    Side = 1
	SideBottom Side = 2
	SideLeft   Side = 4
	SideRight  Side = 8

	CornerTopLeft     = SideTop | SideLeft
	CornerTopRight    = SideTop | SideRight
	CornerBottomLeft  = SideBottom | SideLeft
	CornerBottomRight = SideBottom | SideRight
)

// ResizeSides lists all eight resize handles in hit-test order.
var ResizeSides = []Side{
	CornerTopLeft, CornerTopRight, CornerBottomLeft, CornerBottomRight,
	SideTop, SideRight, SideBottom, SideLeft,
}

// String returns a compact name such as "top-left".
func (s Side) String() string {
	var v, h string
	switch {
	case s&SideTop != 0:
		v = "top"
	case s&SideBottom != 0:
		v = "bottom"
	}
	switch {
	case s&SideLeft != 0:
		h = "left"
	case s&SideRight != 0:
		h = "right"
	}
	switch {
	case v != "" && h != "":
		return v + "-" + h
	case v != "":
		return v
	case h != "":
		return h
	default:
		return "none"
	}
}

// MinLayerSize is the smallest size a resize is allowed to produce.
var MinLayerSize = Size{Width: 100, Height: 50}

// ResizeHandlePosition returns where the resize handle for side sits on
// bounds.
func ResizeHandlePosition(bounds Rect, side Side) Point {
	p := bounds.Center()
	if side&SideLeft != 0 {
		p.X = bounds.X
	}
	if side&SideRight != 0 {
		p.X = bounds.Right()
	}
	if side&SideTop != 0 {
		p.Y = bounds.Y
	}
	if side&SideBottom != 0 {
		p.Y = bounds.Bottom()
	}
	return p
}

// ResizeBounds computes the new bounds of a rectangle whose corner (or side)
// handle was dragged to p. The edges opposite the dragged ones stay fixed.
//
// With keepAspect set the original width/height ratio is preserved: for
// corner drags the dimension with the larger relative change wins and the
// other one is derived from it. The result is never smaller than min; when
// the left or top edge is the one being dragged, x and y are re-anchored so
// the opposite edge does not move.
func ResizeBounds(bounds Rect, corner Side, p Point, keepAspect bool, min Size) Rect {
	result := bounds

	horizontal := corner&(SideLeft|SideRight) != 0
	vertical := corner&(SideTop|SideBottom) != 0

	if corner&SideLeft != 0 {
		result.Width = math.Abs(bounds.Right() - p.X)
	}
	if corner&SideRight != 0 {
		result.Width = math.Abs(p.X - bounds.X)
	}
	if corner&SideTop != 0 {
		result.Height = math.Abs(bounds.Bottom() - p.Y)
	}
	if corner&SideBottom != 0 {
		result.Height = math.Abs(p.Y - bounds.Y)
	}

	ratio := 0.0
	if keepAspect && bounds.Width > 0 && bounds.Height > 0 {
		ratio = bounds.Width / bounds.Height
		switch {
		case horizontal && vertical:
			dw := math.Abs(result.Width-bounds.Width) / bounds.Width
			dh := math.Abs(result.Height-bounds.Height) / bounds.Height
			if dw >= dh {
				result.Height = result.Width / ratio
			} else {
				result.Width = result.Height * ratio
			}
		case horizontal:
			result.Height = result.Width / ratio
		case vertical:
			result.Width = result.Height * ratio
		}
	}

	if result.Width < min.Width {
		result.Width = min.Width
		if ratio > 0 {
			result.Height = result.Width / ratio
		}
	}
	if result.Height < min.Height {
		result.Height = min.Height
		if ratio > 0 {
			result.Width = result.Height * ratio
		}
	}

	// Anchor on the fixed edge. Dragging past it flips the rectangle.
	switch {
	case corner&SideLeft != 0:
		if anchor := bounds.Right(); p.X <= anchor {
			result.X = anchor - result.Width
		} else {
			result.X = anchor
		}
	case corner&SideRight != 0:
		if anchor := bounds.X; p.X >= anchor {
			result.X = anchor
		} else {
			result.X = anchor - result.Width
		}
	}
	switch {
	case corner&SideTop != 0:
		if anchor := bounds.Bottom(); p.Y <= anchor {
			result.Y = anchor - result.Height
		} else {
			result.Y = anchor
		}
	case corner&SideBottom != 0:
		if anchor := bounds.Y; p.Y >= anchor {
			result.Y = anchor
		} else {
			result.Y = anchor - result.Height
		}
	}

	return result
}
