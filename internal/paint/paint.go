// Package paint holds the styling model handed to the rasterizer: draw
// settings resolved per feature, and the Canvas interface that is the
// pipeline's only view of the underlying graphics backend.
package paint

import (
	"image/color"

	"golang.org/x/image/font"
)

// DrawMode selects which operations apply to a feature's geometry.
type DrawMode int

const (
	// Stroke outlines the geometry.
	Stroke DrawMode = iota
	// Fill fills the geometry.
	Fill
	// FillStroke fills first, then strokes over the fill.
	FillStroke
	// StrokeFill strokes first, then fills over the stroke.
	StrokeFill
	// TextAtPoint draws the label text anchored at the point.
	TextAtPoint
)

var drawModeNames = map[string]DrawMode{
	"stroke":        Stroke,
	"fill":          Fill,
	"fill-stroke":   FillStroke,
	"stroke-fill":   StrokeFill,
	"text":          TextAtPoint,
	"text-at-point": TextAtPoint,
}

// ParseDrawMode resolves a configuration token to a draw mode.
func ParseDrawMode(s string) (DrawMode, bool) {
	m, ok := drawModeNames[s]
	return m, ok
}

func (m DrawMode) String() string {
	switch m {
	case Stroke:
		return "stroke"
	case Fill:
		return "fill"
	case FillStroke:
		return "fill-stroke"
	case StrokeFill:
		return "stroke-fill"
	case TextAtPoint:
		return "text"
	default:
		return "unknown"
	}
}

// PointShape selects how point features are drawn.
type PointShape int

const (
	// Circle draws point features as circles.
	Circle PointShape = iota
	// Square draws point features as axis-aligned squares.
	Square
)

// ParsePointShape resolves a configuration token to a point shape.
func ParsePointShape(s string) (PointShape, bool) {
	switch s {
	case "circle", "":
		return Circle, true
	case "square":
		return Square, true
	default:
		return 0, false
	}
}

// BlendMode is the compositing token passed through to the rasterizer.
type BlendMode string

const (
	BlendNormal   BlendMode = "normal"
	BlendMultiply BlendMode = "multiply"
	BlendScreen   BlendMode = "screen"
	BlendOverlay  BlendMode = "overlay"
)

// Color is an RGB color with a separate opacity in [0, 1].
type Color struct {
	R, G, B uint8
	Opacity float64
}

// NRGBA converts the color to the stdlib representation.
func (c Color) NRGBA() color.NRGBA {
	op := c.Opacity
	if op < 0 {
		op = 0
	} else if op > 1 {
		op = 1
	}
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: uint8(op*255 + 0.5)}
}

// Measure is a ground-distance quantity with pixel clamps. Meters is
// converted at the region's scale, then clamped to [PixelMin, PixelMax];
// a positive PixelFixed short-circuits the conversion entirely.
type Measure struct {
	Meters     float64
	PixelMin   float64
	PixelMax   float64
	PixelFixed float64
}

// Pixels resolves the measure at the given ground resolution
// (meters per pixel).
func (m Measure) Pixels(metersPerPixel float64) float64 {
	if m.PixelFixed > 0 {
		return m.PixelFixed
	}
	px := 0.0
	if metersPerPixel > 0 {
		px = m.Meters / metersPerPixel
	}
	if m.PixelMin > 0 && px < m.PixelMin {
		px = m.PixelMin
	}
	if m.PixelMax > 0 && px > m.PixelMax {
		px = m.PixelMax
	}
	return px
}

// DrawSettings is the complete per-feature styling state. The layer
// keeps one prototype and hands a fresh copy to each feature, so
// script mutations never leak across features.
type DrawSettings struct {
	Mode        DrawMode
	Shape       PointShape
	FillColor   Color
	StrokeColor Color
	TextColor   Color
	StrokeWidth Measure
	Radius      Measure
	Dash        []float64
	Blend       BlendMode
	Label       string
	Face        font.Face
}

// Clone returns a deep copy of the settings.
func (s DrawSettings) Clone() DrawSettings {
	out := s
	if len(s.Dash) > 0 {
		out.Dash = make([]float64, len(s.Dash))
		copy(out.Dash, s.Dash)
	}
	return out
}
