package diagram

import (
	"reflect"

	"github.com/Veraticus/linkboard/pkg/geometry"
)

// LayerPatch is a partial update of a layer. Nil fields are left untouched.
type LayerPatch struct {
	Type        *LayerType       `json:"type,omitempty"`
	X           *float64         `json:"x,omitempty"`
	Y           *float64         `json:"y,omitempty"`
	Width       *float64         `json:"width,omitempty"`
	Height      *float64         `json:"height,omitempty"`
	Fill        *Color           `json:"fill,omitempty"`
	Value       *string          `json:"value,omitempty"`
	ValueStyle  *ValueStyle      `json:"valueStyle,omitempty"`
	BorderColor *Color           `json:"borderColor,omitempty"`
	BorderWidth *float64         `json:"borderWidth,omitempty"`
	BorderType  *BorderType      `json:"borderType,omitempty"`
	Points      []geometry.Point `json:"points,omitempty"`
}

// BoundsPatch returns a patch setting position and size.
func BoundsPatch(r geometry.Rect) LayerPatch {
	return LayerPatch{X: &r.X, Y: &r.Y, Width: &r.Width, Height: &r.Height}
}

// MovesLayer reports whether the patch touches position or size.
func (p LayerPatch) MovesLayer() bool {
	return p.X != nil || p.Y != nil || p.Width != nil || p.Height != nil
}

// IsEmpty reports whether the patch changes nothing.
func (p LayerPatch) IsEmpty() bool {
	return reflect.ValueOf(p).IsZero()
}

// Apply returns l with the patch applied.
func (p LayerPatch) Apply(l Layer) Layer {
	l = l.Clone()
	if p.Type != nil {
		l.Type = *p.Type
	}
	if p.X != nil {
		l.X = *p.X
	}
	if p.Y != nil {
		l.Y = *p.Y
	}
	if p.Width != nil {
		l.Width = *p.Width
	}
	if p.Height != nil {
		l.Height = *p.Height
	}
	if p.Fill != nil {
		l.Fill = *p.Fill
	}
	if p.Value != nil {
		l.Value = *p.Value
	}
	if p.ValueStyle != nil {
		vs := *p.ValueStyle
		l.ValueStyle = &vs
	}
	if p.BorderColor != nil {
		bc := *p.BorderColor
		l.BorderColor = &bc
	}
	if p.BorderWidth != nil {
		l.BorderWidth = *p.BorderWidth
	}
	if p.BorderType != nil {
		l.BorderType = *p.BorderType
	}
	if p.Points != nil {
		l.Points = append([]geometry.Point(nil), p.Points...)
	}
	return l
}

// DiffLayer returns the patch turning before into after. Fields that were
// cleared in after (nil pointers, empty points) cannot be expressed and are
// skipped.
func DiffLayer(before, after Layer) LayerPatch {
	var p LayerPatch
	if before.Type != after.Type {
		p.Type = &after.Type
	}
	if before.X != after.X {
		p.X = &after.X
	}
	if before.Y != after.Y {
		p.Y = &after.Y
	}
	if before.Width != after.Width {
		p.Width = &after.Width
	}
	if before.Height != after.Height {
		p.Height = &after.Height
	}
	if before.Fill != after.Fill {
		p.Fill = &after.Fill
	}
	if before.Value != after.Value {
		p.Value = &after.Value
	}
	if after.ValueStyle != nil && !reflect.DeepEqual(before.ValueStyle, after.ValueStyle) {
		vs := *after.ValueStyle
		p.ValueStyle = &vs
	}
	if after.BorderColor != nil && !reflect.DeepEqual(before.BorderColor, after.BorderColor) {
		bc := *after.BorderColor
		p.BorderColor = &bc
	}
	if before.BorderWidth != after.BorderWidth {
		p.BorderWidth = &after.BorderWidth
	}
	if before.BorderType != after.BorderType {
		p.BorderType = &after.BorderType
	}
	if len(after.Points) > 0 && !reflect.DeepEqual(before.Points, after.Points) {
		p.Points = append([]geometry.Point(nil), after.Points...)
	}
	return p
}

// EdgePatch is a partial update of an edge. Nil fields are left untouched.
// Setting FromLayerID or ToLayerID to an empty string detaches that end.
type EdgePatch struct {
	FromLayerID        *string               `json:"fromLayerId,omitempty"`
	ToLayerID          *string               `json:"toLayerId,omitempty"`
	Start              *geometry.Point       `json:"start,omitempty"`
	End                *geometry.Point       `json:"end,omitempty"`
	ControlPoint1      *geometry.Point       `json:"controlPoint1,omitempty"`
	ControlPoint2      *geometry.Point       `json:"controlPoint2,omitempty"`
	ResetControlPoints bool                  `json:"resetControlPoints,omitempty"`
	HandleStart        *geometry.Handle      `json:"handleStart,omitempty"`
	HandleEnd          *geometry.Handle      `json:"handleEnd,omitempty"`
	Orientation        *geometry.Orientation `json:"orientation,omitempty"`
	Color              *Color                `json:"color,omitempty"`
	HoverColor         *Color                `json:"hoverColor,omitempty"`
	Thickness          *float64              `json:"thickness,omitempty"`
	Type               *EdgeType             `json:"type,omitempty"`
	ArrowStart         *bool                 `json:"arrowStart,omitempty"`
	ArrowEnd           *bool                 `json:"arrowEnd,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p EdgePatch) IsEmpty() bool {
	return reflect.ValueOf(p).IsZero()
}

// Apply returns e with the patch applied.
func (p EdgePatch) Apply(e Edge) Edge {
	e = e.Clone()
	if p.FromLayerID != nil {
		e.FromLayerID = *p.FromLayerID
	}
	if p.ToLayerID != nil {
		e.ToLayerID = *p.ToLayerID
	}
	if p.Start != nil {
		e.Start = *p.Start
	}
	if p.End != nil {
		e.End = *p.End
	}
	if p.ResetControlPoints {
		e.ControlPoint1 = nil
		e.ControlPoint2 = nil
	}
	if p.ControlPoint1 != nil {
		c := *p.ControlPoint1
		e.ControlPoint1 = &c
	}
	if p.ControlPoint2 != nil {
		c := *p.ControlPoint2
		e.ControlPoint2 = &c
	}
	if p.HandleStart != nil {
		e.HandleStart = *p.HandleStart
	}
	if p.HandleEnd != nil {
		e.HandleEnd = *p.HandleEnd
	}
	if p.Orientation != nil {
		e.Orientation = *p.Orientation
	}
	if p.Color != nil {
		e.Color = *p.Color
	}
	if p.HoverColor != nil {
		e.HoverColor = *p.HoverColor
	}
	if p.Thickness != nil {
		e.Thickness = *p.Thickness
	}
	if p.Type != nil {
		e.Type = *p.Type
	}
	if p.ArrowStart != nil {
		e.ArrowStart = *p.ArrowStart
	}
	if p.ArrowEnd != nil {
		e.ArrowEnd = *p.ArrowEnd
	}
	return e
}

// EndpointPatch returns the patch carrying the geometry of e: endpoints and
// control points. It is what peers need after an edge was re-anchored.
func EndpointPatch(e Edge) EdgePatch {
	p := EdgePatch{Start: &e.Start, End: &e.End}
	if e.ControlPoint1 != nil {
		c := *e.ControlPoint1
		p.ControlPoint1 = &c
	}
	if e.ControlPoint2 != nil {
		c := *e.ControlPoint2
		p.ControlPoint2 = &c
	}
	return p
}

// FullPatch returns a patch carrying every field of l, so that applying it
// to any older version of the layer yields l (optional fields that are nil
// in l are left as they were).
func FullPatch(l Layer) LayerPatch {
	l = l.Clone()
	p := LayerPatch{
		Type:        &l.Type,
		X:           &l.X,
		Y:           &l.Y,
		Width:       &l.Width,
		Height:      &l.Height,
		Fill:        &l.Fill,
		Value:       &l.Value,
		ValueStyle:  l.ValueStyle,
		BorderColor: l.BorderColor,
		BorderWidth: &l.BorderWidth,
		BorderType:  &l.BorderType,
		Points:      l.Points,
	}
	return p
}
