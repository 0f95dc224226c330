// Package diagram holds the shared document model of a board: the layers
// (shapes) drawn on the canvas and the edges connecting them.
//
// The model is owned by a Store. A Store is created when a document session
// opens and closed with it; nothing in this package keeps global state.
// Every mutation goes through the Store so that its invariants hold no matter
// whether the change came from a local gesture or a remote peer:
//
//   - layer ids and edge ids are unique
//   - the number of layers never exceeds the configured maximum
//   - an edge attached to a layer has its endpoint re-derived from that
//     layer's handle whenever the layer moves or is resized
//   - removing a layer removes every edge attached to it
//   - ReplaceAll validates the whole payload before touching the model
//
// Mutations on unknown ids are logged and ignored. Observers can subscribe
// to change events; delivery is non-blocking and slow subscribers miss
// events rather than stall the store.
package diagram

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/linkboard/pkg/geometry"
	"github.com/google/uuid"
)

var (
	// ErrLayerLimit indicates the document already holds the maximum number of layers.
	ErrLayerLimit = errors.New("layer limit reached")

	// ErrDuplicateID indicates an entity with the same id already exists.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrInvalidEntity indicates a layer or edge failed validation.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrStoreClosed indicates the store was used after Close.
	ErrStoreClosed = errors.New("store closed")
)

// DefaultMaxLayers caps the number of layers in one document.
const DefaultMaxLayers = 100

// NewID returns a fresh entity id.
func NewID() string {
	return uuid.NewString()
}

// EntityKind distinguishes layers from edges.
type EntityKind string

// Entity kinds.
const (
	KindLayer EntityKind = "layer"
	KindEdge  EntityKind = "edge"
)

// LayerType is the shape drawn for a layer.
type LayerType string

// Layer types.
const (
	LayerRectangle LayerType = "Rectangle"
	LayerEllipse   LayerType = "Ellipse"
	LayerDiamond   LayerType = "Diamond"
	LayerNote      LayerType = "Note"
	LayerPath      LayerType = "Path"
)

// Valid reports whether t is a known layer type.
func (t LayerType) Valid() bool {
	switch t {
	case LayerRectangle, LayerEllipse, LayerDiamond, LayerNote, LayerPath:
		return true
	}
	return false
}

// Color is an RGB color.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Hex formats the color as #rrggbb.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// ParseColor parses #rrggbb or rrggbb.
func ParseColor(s string) (Color, error) {
	s = strings.TrimPrefix(s, "#")
	var c Color
	if len(s) != 6 {
		return c, fmt.Errorf("invalid color %q", s)
	}
	if _, err := fmt.Sscanf(s, "%02x%02x%02x", &c.R, &c.G, &c.B); err != nil {
		return c, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return c, nil
}

// Default colors for new entities.
var (
	DefaultFill      = Color{R: 255, G: 249, B: 177}
	DefaultEdgeColor = Color{R: 51, G: 51, B: 51}
	DefaultHover     = Color{R: 59, G: 130, B: 246}
)

// ValueStyle controls how a layer's text is set.
type ValueStyle struct {
	FontWeight    string `json:"fontWeight,omitempty"`
	TextTransform string `json:"textTransform,omitempty"`
}

// BorderType is the stroke style of a layer border.
type BorderType string

// Border types.
const (
	BorderSolid  BorderType = "Solid"
	BorderDashed BorderType = "Dashed"
	BorderDotted BorderType = "Dotted"
)

// Layer is a shape on the canvas.
type Layer struct {
	ID          string           `json:"id"`
	Type        LayerType        `json:"type"`
	X           float64          `json:"x"`
	Y           float64          `json:"y"`
	Width       float64          `json:"width"`
	Height      float64          `json:"height"`
	Fill        Color            `json:"fill"`
	Value       string           `json:"value,omitempty"`
	ValueStyle  *ValueStyle      `json:"valueStyle,omitempty"`
	BorderColor *Color           `json:"borderColor,omitempty"`
	BorderWidth float64          `json:"borderWidth,omitempty"`
	BorderType  BorderType       `json:"borderType,omitempty"`
	Points      []geometry.Point `json:"points,omitempty"`
}

// Bounds returns the layer rectangle.
func (l Layer) Bounds() geometry.Rect {
	return geometry.Rect{X: l.X, Y: l.Y, Width: l.Width, Height: l.Height}
}

// Target returns the layer as a hit-test target.
func (l Layer) Target() geometry.Target {
	return geometry.Target{ID: l.ID, Bounds: l.Bounds()}
}

// Clone returns a deep copy of the layer.
func (l Layer) Clone() Layer {
	if l.ValueStyle != nil {
		vs := *l.ValueStyle
		l.ValueStyle = &vs
	}
	if l.BorderColor != nil {
		bc := *l.BorderColor
		l.BorderColor = &bc
	}
	if l.Points != nil {
		l.Points = append([]geometry.Point(nil), l.Points...)
	}
	return l
}

// Validate checks the fields every layer must carry.
func (l Layer) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("%w: layer without id", ErrInvalidEntity)
	}
	if !l.Type.Valid() {
		return fmt.Errorf("%w: layer %s has unknown type %q", ErrInvalidEntity, l.ID, l.Type)
	}
	if l.Width < 0 || l.Height < 0 {
		return fmt.Errorf("%w: layer %s has negative size", ErrInvalidEntity, l.ID)
	}
	return nil
}

// EdgeType is the stroke style of an edge.
type EdgeType string

// Edge types.
const (
	EdgeSolid  EdgeType = "Solid"
	EdgeDashed EdgeType = "Dashed"
)

// EdgeShape is the routing style of an edge. Only curved edges exist.
type EdgeShape string

// EdgeCurved routes edges as cubic Bezier curves.
const EdgeCurved EdgeShape = "Curved"

// Edge is a connector between two points, optionally attached to layers.
type Edge struct {
	ID            string               `json:"id"`
	FromLayerID   string               `json:"fromLayerId,omitempty"`
	ToLayerID     string               `json:"toLayerId,omitempty"`
	Start         geometry.Point       `json:"start"`
	End           geometry.Point       `json:"end"`
	ControlPoint1 *geometry.Point      `json:"controlPoint1,omitempty"`
	ControlPoint2 *geometry.Point      `json:"controlPoint2,omitempty"`
	HandleStart   geometry.Handle      `json:"handleStart,omitempty"`
	HandleEnd     geometry.Handle      `json:"handleEnd,omitempty"`
	Orientation   geometry.Orientation `json:"orientation,omitempty"`
	Color         Color                `json:"color"`
	HoverColor    Color                `json:"hoverColor"`
	Thickness     float64              `json:"thickness"`
	Type          EdgeType             `json:"type"`
	Shape         EdgeShape            `json:"shape"`
	ArrowStart    bool                 `json:"arrowStart,omitempty"`
	ArrowEnd      bool                 `json:"arrowEnd,omitempty"`
}

// Clone returns a deep copy of the edge.
func (e Edge) Clone() Edge {
	if e.ControlPoint1 != nil {
		c := *e.ControlPoint1
		e.ControlPoint1 = &c
	}
	if e.ControlPoint2 != nil {
		c := *e.ControlPoint2
		e.ControlPoint2 = &c
	}
	return e
}

// AttachedTo reports whether either end of the edge is bound to layerID.
func (e Edge) AttachedTo(layerID string) bool {
	return layerID != "" && (e.FromLayerID == layerID || e.ToLayerID == layerID)
}

// Curve returns the Bezier path of the edge. Explicit control points win
// over the derived ones.
func (e Edge) Curve() geometry.Curve {
	c := geometry.NewCurve(e.Start, e.End, e.HandleStart)
	if e.ControlPoint1 != nil {
		c.C1 = *e.ControlPoint1
	}
	if e.ControlPoint2 != nil {
		c.C2 = *e.ControlPoint2
	}
	return c
}

// Validate checks the fields every edge must carry.
func (e Edge) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: edge without id", ErrInvalidEntity)
	}
	if e.HandleStart != "" && !e.HandleStart.Valid() {
		return fmt.Errorf("%w: edge %s has unknown start handle %q", ErrInvalidEntity, e.ID, e.HandleStart)
	}
	if e.HandleEnd != "" && !e.HandleEnd.Valid() {
		return fmt.Errorf("%w: edge %s has unknown end handle %q", ErrInvalidEntity, e.ID, e.HandleEnd)
	}
	if e.Orientation != "" && !e.Orientation.Valid() {
		return fmt.Errorf("%w: edge %s has unknown orientation %q", ErrInvalidEntity, e.ID, e.Orientation)
	}
	if e.Thickness < 0 {
		return fmt.Errorf("%w: edge %s has negative thickness", ErrInvalidEntity, e.ID)
	}
	return nil
}

// NewEdge returns an edge with the default style.
func NewEdge(id string, start, end geometry.Point) Edge {
	return Edge{
		ID:          id,
		Start:       start,
		End:         end,
		Orientation: geometry.OrientationAuto,
		Color:       DefaultEdgeColor,
		HoverColor:  DefaultHover,
		Thickness:   2,
		Type:        EdgeSolid,
		Shape:       EdgeCurved,
		ArrowEnd:    true,
	}
}

// Logger interface for store logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (n *noopLogger) Debug(_ string, _ ...any) {}
func (n *noopLogger) Info(_ string, _ ...any)  {}
func (n *noopLogger) Error(_ string, _ ...any) {}
