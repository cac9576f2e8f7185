package paint

import (
	"image"

	"github.com/paulmach/orb"
	"golang.org/x/image/font"

	"tilesmith/internal/geom"
)

// Style carries the resolved drawing parameters for one primitive
// call. Width and Dash only matter for strokes, Face only for text.
type Style struct {
	Color Color
	Width float64
	Dash  []float64
	Blend BlendMode
	Face  font.Face
}

// Canvas is the boundary to the external rasterizer. The pipeline
// decides what to draw and in which order; everything about how pixels
// are produced (anti-aliasing, compositing math, text layout) lives
// behind this interface.
type Canvas interface {
	// Size returns the raster dimensions in pixels.
	Size() (width, height int)

	// Clear fills the whole raster with the given color.
	Clear(c Color)

	// FillPath fills the rings as one path. Ring order is
	// significant: holes are expressed by winding.
	FillPath(rings []geom.Ring, style Style)

	// StrokePath strokes each ring as an open or closed path.
	StrokePath(rings []geom.Ring, style Style)

	// FillCircle and StrokeCircle draw a point feature as a circle
	// of the given pixel radius.
	FillCircle(center orb.Point, radius float64, style Style)
	StrokeCircle(center orb.Point, radius float64, style Style)

	// FillSquare and StrokeSquare draw a point feature as an
	// axis-aligned square; half is half the side length in pixels.
	FillSquare(center orb.Point, half float64, style Style)
	StrokeSquare(center orb.Point, half float64, style Style)

	// Text draws the string anchored at the point.
	Text(anchor orb.Point, text string, style Style)

	// Image returns the rendered raster.
	Image() image.Image
}

// CanvasFactory allocates a canvas for a region render. Allocation
// failure is region-scoped: the region aborts, the run continues.
type CanvasFactory func(width, height int) (Canvas, error)
