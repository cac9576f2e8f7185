// Package vecraster is the reference paint.Canvas implementation,
// built on x/image/vector scanline rasterization. Path fills go
// through the vector rasterizer; strokes are stamped as overlapping
// discs into an alpha mask so translucent colors composite once per
// pixel.
package vecraster

import (
	"image"
	"image/draw"
	"math"

	"github.com/paulmach/orb"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"tilesmith/internal/geom"
	"tilesmith/internal/paint"
	"tilesmith/internal/pkg/errors"
)

const maxCanvasEdge = 1 << 15

// Canvas rasterizes into an in-memory NRGBA image.
type Canvas struct {
	w, h int
	img  *image.NRGBA
}

// New allocates a canvas; it matches paint.CanvasFactory.
func New(w, h int) (paint.Canvas, error) {
	if w <= 0 || h <= 0 || w > maxCanvasEdge || h > maxCanvasEdge {
		return nil, errors.Newf(errors.CodeResource, "canvas size %dx%d out of range", w, h)
	}
	return &Canvas{w: w, h: h, img: image.NewNRGBA(image.Rect(0, 0, w, h))}, nil
}

func (c *Canvas) Size() (int, int) { return c.w, c.h }

func (c *Canvas) Clear(col paint.Color) {
	draw.Draw(c.img, c.img.Bounds(), image.NewUniform(col.NRGBA()), image.Point{}, draw.Src)
}

func (c *Canvas) Image() image.Image { return c.img }

// FillPath fills all rings as a single path; holes fall out of the
// winding accumulated by the rasterizer.
func (c *Canvas) FillPath(rings []geom.Ring, style paint.Style) {
	ras := vector.NewRasterizer(c.w, c.h)
	drawn := false
	for _, ring := range rings {
		if len(ring) < 3 {
			continue
		}
		ras.MoveTo(float32(ring[0][0]), float32(ring[0][1]))
		for _, pt := range ring[1:] {
			ras.LineTo(float32(pt[0]), float32(pt[1]))
		}
		ras.ClosePath()
		drawn = true
	}
	if !drawn {
		return
	}
	ras.Draw(c.img, c.img.Bounds(), image.NewUniform(style.Color.NRGBA()), image.Point{})
}

func (c *Canvas) StrokePath(rings []geom.Ring, style paint.Style) {
	radius := style.Width / 2
	if radius < 0.5 {
		radius = 0.5
	}
	mask := image.NewAlpha(c.img.Bounds())
	for _, ring := range rings {
		c.strokeIntoMask(mask, ring, radius, style.Dash)
	}
	c.composite(mask, style.Color)
}

func (c *Canvas) FillCircle(center orb.Point, radius float64, style paint.Style) {
	if radius <= 0 {
		return
	}
	mask := image.NewAlpha(c.img.Bounds())
	stampDisc(mask, center[0], center[1], radius)
	c.composite(mask, style.Color)
}

func (c *Canvas) StrokeCircle(center orb.Point, radius float64, style paint.Style) {
	if radius <= 0 {
		return
	}
	half := style.Width / 2
	if half < 0.5 {
		half = 0.5
	}
	mask := image.NewAlpha(c.img.Bounds())
	stampRing(mask, center[0], center[1], radius, half)
	c.composite(mask, style.Color)
}

func (c *Canvas) FillSquare(center orb.Point, half float64, style paint.Style) {
	if half <= 0 {
		return
	}
	rect := image.Rect(
		int(math.Floor(center[0]-half)), int(math.Floor(center[1]-half)),
		int(math.Ceil(center[0]+half)), int(math.Ceil(center[1]+half)),
	).Intersect(c.img.Bounds())
	if rect.Empty() {
		return
	}
	draw.Draw(c.img, rect, image.NewUniform(style.Color.NRGBA()), image.Point{}, draw.Over)
}

func (c *Canvas) StrokeSquare(center orb.Point, half float64, style paint.Style) {
	if half <= 0 {
		return
	}
	x0, y0 := center[0]-half, center[1]-half
	x1, y1 := center[0]+half, center[1]+half
	c.StrokePath([]geom.Ring{{
		{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0},
	}}, style)
}

func (c *Canvas) Text(anchor orb.Point, text string, style paint.Style) {
	if text == "" {
		return
	}
	face := style.Face
	if face == nil {
		face = basicfont.Face7x13
	}
	d := font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(style.Color.NRGBA()),
		Face: face,
		Dot:  fixed.P(int(math.Round(anchor[0])), int(math.Round(anchor[1]))),
	}
	d.DrawString(text)
}

// composite applies the accumulated mask in one pass so overlapping
// stamps of a translucent color do not darken.
func (c *Canvas) composite(mask *image.Alpha, col paint.Color) {
	draw.DrawMask(c.img, c.img.Bounds(), image.NewUniform(col.NRGBA()), image.Point{},
		mask, image.Point{}, draw.Over)
}

// strokeIntoMask walks the polyline stamping discs at sub-radius
// steps. Dash patterns are applied by accumulated path distance.
func (c *Canvas) strokeIntoMask(mask *image.Alpha, pts geom.Ring, radius float64, dash []float64) {
	if len(pts) == 0 {
		return
	}
	if len(pts) == 1 {
		stampDisc(mask, pts[0][0], pts[0][1], radius)
		return
	}

	step := radius * 0.75
	if step < 0.5 {
		step = 0.5
	}

	traveled := 0.0
	for i := 0; i < len(pts)-1; i++ {
		x0, y0 := pts[i][0], pts[i][1]
		dx, dy := pts[i+1][0]-x0, pts[i+1][1]-y0
		segLen := math.Hypot(dx, dy)
		if segLen == 0 {
			continue
		}
		steps := int(math.Ceil(segLen / step))
		for s := 0; s <= steps; s++ {
			t := float64(s) / float64(steps)
			if dashOn(traveled+segLen*t, dash) {
				stampDisc(mask, x0+dx*t, y0+dy*t, radius)
			}
		}
		traveled += segLen
	}
}

func dashOn(dist float64, dash []float64) bool {
	if len(dash) == 0 {
		return true
	}
	total := 0.0
	for _, seg := range dash {
		total += seg
	}
	if total <= 0 {
		return true
	}
	d := math.Mod(dist, total)
	for i, seg := range dash {
		if d < seg {
			return i%2 == 0
		}
		d -= seg
	}
	return true
}

// stampDisc accumulates disc coverage into the mask with a soft
// half-pixel edge. Max, not add, so overlaps stay flat.
func stampDisc(mask *image.Alpha, cx, cy, r float64) {
	b := mask.Bounds()
	minX := clampInt(int(math.Floor(cx-r-1)), b.Min.X, b.Max.X-1)
	maxX := clampInt(int(math.Ceil(cx+r+1)), b.Min.X, b.Max.X-1)
	minY := clampInt(int(math.Floor(cy-r-1)), b.Min.Y, b.Max.Y-1)
	maxY := clampInt(int(math.Ceil(cy+r+1)), b.Min.Y, b.Max.Y-1)

	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			dx := (float64(x) + 0.5) - cx
			dy := (float64(y) + 0.5) - cy
			cov := coverage(r - math.Hypot(dx, dy))
			if cov == 0 {
				continue
			}
			i := mask.PixOffset(x, y)
			if cov > mask.Pix[i] {
				mask.Pix[i] = cov
			}
		}
	}
}

// stampRing accumulates an annulus of the given half-width around
// radius r.
func stampRing(mask *image.Alpha, cx, cy, r, half float64) {
	outer := r + half
	b := mask.Bounds()
	minX := clampInt(int(math.Floor(cx-outer-1)), b.Min.X, b.Max.X-1)
	maxX := clampInt(int(math.Ceil(cx+outer+1)), b.Min.X, b.Max.X-1)
	minY := clampInt(int(math.Floor(cy-outer-1)), b.Min.Y, b.Max.Y-1)
	maxY := clampInt(int(math.Ceil(cy+outer+1)), b.Min.Y, b.Max.Y-1)

	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			dx := (float64(x) + 0.5) - cx
			dy := (float64(y) + 0.5) - cy
			cov := coverage(half - math.Abs(math.Hypot(dx, dy)-r))
			if cov == 0 {
				continue
			}
			i := mask.PixOffset(x, y)
			if cov > mask.Pix[i] {
				mask.Pix[i] = cov
			}
		}
	}
}

// coverage maps a signed distance inside the shape edge to an alpha
// value, giving a half-pixel anti-aliased rim.
func coverage(inside float64) uint8 {
	v := inside + 0.5
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
