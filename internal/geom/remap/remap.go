// Package remap provides the affine mapping from a projected source
// rectangle to a destination pixel rectangle.
package remap

import "github.com/paulmach/orb"

// Transform maps projected coordinates to pixel coordinates. It is a
// pure value: building it computes the affine coefficients once and
// Apply is safe for concurrent use.
type Transform struct {
	scaleX, scaleY   float64
	offsetX, offsetY float64
}

// Rect is an axis-aligned destination rectangle in pixel space.
type Rect struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// NewRect returns a pixel rect with the given origin and size.
func NewRect(x, y, width, height float64) Rect {
	return Rect{MinX: x, MinY: y, MaxX: x + width, MaxY: y + height}
}

// Build derives the transform taking src's corners onto dst's corners.
// With flipY set, src's top edge (max Y) maps onto dst's min Y row,
// which is the usual raster orientation for north-up maps.
func Build(src orb.Bound, dst Rect, flipY bool) Transform {
	t := Transform{
		scaleX: (dst.MaxX - dst.MinX) / (src.Max[0] - src.Min[0]),
		scaleY: (dst.MaxY - dst.MinY) / (src.Max[1] - src.Min[1]),
	}
	if flipY {
		t.scaleY = -t.scaleY
		t.offsetY = dst.MaxY - src.Min[1]*t.scaleY
	} else {
		t.offsetY = dst.MinY - src.Min[1]*t.scaleY
	}
	t.offsetX = dst.MinX - src.Min[0]*t.scaleX
	return t
}

// Apply maps one projected point into pixel space.
func (t Transform) Apply(pt orb.Point) orb.Point {
	return orb.Point{
		pt[0]*t.scaleX + t.offsetX,
		pt[1]*t.scaleY + t.offsetY,
	}
}

// ScaleX returns the horizontal pixels-per-source-unit factor.
func (t Transform) ScaleX() float64 {
	return t.scaleX
}

// Invert returns the inverse transform, mapping pixels back to the
// projected source space.
func (t Transform) Invert() Transform {
	return Transform{
		scaleX:  1 / t.scaleX,
		scaleY:  1 / t.scaleY,
		offsetX: -t.offsetX / t.scaleX,
		offsetY: -t.offsetY / t.scaleY,
	}
}
