// Package render rasterizes a board into the PNG preview stored next to
// each saved document.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"strings"

	"github.com/Veraticus/linkboard/pkg/diagram"
	"github.com/Veraticus/linkboard/pkg/geometry"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
)

// Options controls the preview image.
type Options struct {
	Width      int
	Height     int
	Padding    float64
	FontSize   float64
	Background color.Color
}

// DefaultOptions returns the options used for saved previews.
func DefaultOptions() Options {
	return Options{
		Width:      640,
		Height:     400,
		Padding:    20,
		FontSize:   12,
		Background: color.White,
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.Width <= 0 {
		o.Width = d.Width
	}
	if o.Height <= 0 {
		o.Height = d.Height
	}
	if o.Padding < 0 {
		o.Padding = 0
	}
	if o.FontSize <= 0 {
		o.FontSize = d.FontSize
	}
	if o.Background == nil {
		o.Background = d.Background
	}
}

// arrow head geometry
const (
	arrowSize  = 10.0
	arrowAngle = 0.5
)

// Preview draws snap scaled to fit the image and returns it PNG encoded.
// An empty board yields a blank image.
func Preview(snap *diagram.Snapshot, opts Options) ([]byte, error) {
	if snap == nil {
		return nil, fmt.Errorf("snapshot is required")
	}
	opts.applyDefaults()

	dc := gg.NewContext(opts.Width, opts.Height)
	dc.SetColor(opts.Background)
	dc.Clear()

	face, err := loadFace(opts.FontSize)
	if err != nil {
		return nil, err
	}
	dc.SetFontFace(face)

	if bounds, ok := contentBounds(snap); ok {
		fit(dc, bounds, opts)

		// Edges first so layers cover their attached ends.
		for _, e := range snap.Edges {
			drawEdge(dc, e)
		}
		for _, l := range snap.Layers {
			drawLayer(dc, l)
		}
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

func loadFace(size float64) (font.Face, error) {
	ttf, err := truetype.Parse(gomono.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	return truetype.NewFace(ttf, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	}), nil
}

// contentBounds is the union of every layer and edge.
func contentBounds(snap *diagram.Snapshot) (geometry.Rect, bool) {
	var r geometry.Rect
	found := false
	add := func(b geometry.Rect) {
		if !found {
			r, found = b, true
			return
		}
		r = r.Union(b)
	}
	for _, l := range snap.Layers {
		add(l.Bounds())
	}
	for _, e := range snap.Edges {
		add(e.Curve().Bounds())
	}
	return r, found
}

// fit scales and centers bounds inside the padded image. Small boards are
// never enlarged.
func fit(dc *gg.Context, bounds geometry.Rect, opts Options) {
	w := float64(opts.Width) - 2*opts.Padding
	h := float64(opts.Height) - 2*opts.Padding
	scale := 1.0
	if bounds.Width > 0 {
		scale = math.Min(scale, w/bounds.Width)
	}
	if bounds.Height > 0 {
		scale = math.Min(scale, h/bounds.Height)
	}
	if scale <= 0 {
		scale = 1
	}

	offsetX := opts.Padding + (w-bounds.Width*scale)/2
	offsetY := opts.Padding + (h-bounds.Height*scale)/2
	dc.Translate(offsetX, offsetY)
	dc.Scale(scale, scale)
	dc.Translate(-bounds.X, -bounds.Y)
}

func rgb(c diagram.Color) color.Color {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 255}
}

func drawLayer(dc *gg.Context, l diagram.Layer) {
	dc.Push()
	defer dc.Pop()

	b := l.Bounds()
	border := color.Color(color.Black)
	if l.BorderColor != nil {
		border = rgb(*l.BorderColor)
	}
	width := l.BorderWidth
	if width <= 0 {
		width = 1
	}

	switch l.Type {
	case diagram.LayerPath:
		drawPath(dc, l, rgb(l.Fill))
		return
	case diagram.LayerEllipse:
		c := b.Center()
		dc.DrawEllipse(c.X, c.Y, b.Width/2, b.Height/2)
	case diagram.LayerDiamond:
		c := b.Center()
		dc.MoveTo(c.X, b.Y)
		dc.LineTo(b.Right(), c.Y)
		dc.LineTo(c.X, b.Bottom())
		dc.LineTo(b.X, c.Y)
		dc.ClosePath()
	case diagram.LayerNote:
		dc.DrawRectangle(b.X, b.Y, b.Width, b.Height)
	default:
		dc.DrawRoundedRectangle(b.X, b.Y, b.Width, b.Height, 4)
	}

	dc.SetColor(rgb(l.Fill))
	dc.FillPreserve()
	dc.SetColor(border)
	dc.SetLineWidth(width)
	switch l.BorderType {
	case diagram.BorderDashed:
		dc.SetDash(6, 4)
	case diagram.BorderDotted:
		dc.SetDash(1, 3)
	}
	dc.Stroke()
	dc.SetDash()

	if l.Value != "" {
		dc.SetColor(color.Black)
		dc.DrawStringWrapped(styledValue(l), b.Center().X, b.Center().Y, 0.5, 0.5, b.Width-8, 1.2, gg.AlignCenter)
	}
}

func styledValue(l diagram.Layer) string {
	if l.ValueStyle == nil {
		return l.Value
	}
	switch l.ValueStyle.TextTransform {
	case "uppercase":
		return strings.ToUpper(l.Value)
	case "lowercase":
		return strings.ToLower(l.Value)
	}
	return l.Value
}

// drawPath strokes a freehand layer. Points are relative to the layer
// origin.
func drawPath(dc *gg.Context, l diagram.Layer, c color.Color) {
	if len(l.Points) < 2 {
		return
	}
	dc.SetColor(c)
	dc.SetLineWidth(2)
	dc.MoveTo(l.X+l.Points[0].X, l.Y+l.Points[0].Y)
	for _, p := range l.Points[1:] {
		dc.LineTo(l.X+p.X, l.Y+p.Y)
	}
	dc.Stroke()
}

func drawEdge(dc *gg.Context, e diagram.Edge) {
	dc.Push()
	defer dc.Pop()

	c := e.Curve()
	thickness := e.Thickness
	if thickness <= 0 {
		thickness = 1
	}
	dc.SetColor(rgb(e.Color))
	dc.SetLineWidth(thickness)
	if e.Type == diagram.EdgeDashed {
		dc.SetDash(8, 6)
	}
	dc.MoveTo(c.Start.X, c.Start.Y)
	dc.CubicTo(c.C1.X, c.C1.Y, c.C2.X, c.C2.Y, c.End.X, c.End.Y)
	dc.Stroke()
	dc.SetDash()

	// Arrow heads point along the tangent at each end.
	if e.ArrowEnd {
		drawArrow(dc, c.C2, c.End, thickness)
	}
	if e.ArrowStart {
		drawArrow(dc, c.C1, c.Start, thickness)
	}
}

func drawArrow(dc *gg.Context, from, tip geometry.Point, thickness float64) {
	d := tip.Sub(from)
	length := math.Hypot(d.X, d.Y)
	if length < 0.1 {
		return
	}
	dx, dy := d.X/length, d.Y/length
	size := arrowSize + thickness

	dc.MoveTo(tip.X, tip.Y)
	dc.LineTo(tip.X-size*dx+size*dy*arrowAngle, tip.Y-size*dy-size*dx*arrowAngle)
	dc.LineTo(tip.X-size*dx-size*dy*arrowAngle, tip.Y-size*dy+size*dx*arrowAngle)
	dc.ClosePath()
	dc.Fill()
}
