package layer

import (
	"image"

	"github.com/paulmach/orb"

	"tilesmith/internal/geom"
	"tilesmith/internal/paint"
)

// countingCanvas records primitive calls for assertions.
type countingCanvas struct {
	fills, strokes, texts int
	fillRings             [][]geom.Ring
	points                []orb.Point
}

func (c *countingCanvas) Size() (int, int) { return 256, 256 }

func (c *countingCanvas) Clear(paint.Color) {}

func (c *countingCanvas) FillPath(rings []geom.Ring, _ paint.Style) {
	c.fills++
	c.fillRings = append(c.fillRings, rings)
}

func (c *countingCanvas) StrokePath([]geom.Ring, paint.Style) { c.strokes++ }

func (c *countingCanvas) FillCircle(pt orb.Point, _ float64, _ paint.Style) {
	c.fills++
	c.points = append(c.points, pt)
}

func (c *countingCanvas) StrokeCircle(orb.Point, float64, paint.Style) { c.strokes++ }

func (c *countingCanvas) FillSquare(pt orb.Point, _ float64, _ paint.Style) {
	c.fills++
	c.points = append(c.points, pt)
}

func (c *countingCanvas) StrokeSquare(orb.Point, float64, paint.Style) { c.strokes++ }

func (c *countingCanvas) Text(orb.Point, string, paint.Style) { c.texts++ }

func (c *countingCanvas) Image() image.Image {
	return image.NewNRGBA(image.Rect(0, 0, 256, 256))
}
