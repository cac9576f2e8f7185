package vecraster

import (
	"image"
	"testing"

	"github.com/paulmach/orb"

	"tilesmith/internal/geom"
	"tilesmith/internal/paint"
)

func newTestCanvas(t *testing.T, w, h int) *Canvas {
	t.Helper()
	c, err := New(w, h)
	if err != nil {
		t.Fatalf("new canvas: %v", err)
	}
	return c.(*Canvas)
}

func alphaAt(img image.Image, x, y int) uint32 {
	_, _, _, a := img.At(x, y).RGBA()
	return a
}

func TestNewRejectsBadSizes(t *testing.T) {
	for _, size := range [][2]int{{0, 10}, {10, 0}, {-1, 5}, {1 << 16, 10}} {
		if _, err := New(size[0], size[1]); err == nil {
			t.Errorf("expected error for canvas %dx%d", size[0], size[1])
		}
	}
}

func TestClear(t *testing.T) {
	c := newTestCanvas(t, 8, 8)
	c.Clear(paint.Color{R: 10, G: 20, B: 30, Opacity: 1})

	r, g, b, a := c.Image().At(4, 4).RGBA()
	if r>>8 != 10 || g>>8 != 20 || b>>8 != 30 || a>>8 != 255 {
		t.Errorf("unexpected cleared pixel %d/%d/%d/%d", r>>8, g>>8, b>>8, a>>8)
	}
}

func TestFillPathCoversInterior(t *testing.T) {
	c := newTestCanvas(t, 32, 32)
	square := []geom.Ring{{
		{4, 4}, {28, 4}, {28, 28}, {4, 28}, {4, 4},
	}}
	c.FillPath(square, paint.Style{Color: paint.Color{R: 255, Opacity: 1}})

	if alphaAt(c.Image(), 16, 16) == 0 {
		t.Error("expected interior pixel filled")
	}
	if alphaAt(c.Image(), 1, 1) != 0 {
		t.Error("expected exterior pixel untouched")
	}
}

func TestFillPathHole(t *testing.T) {
	c := newTestCanvas(t, 32, 32)
	outer := geom.Ring{{2, 2}, {30, 2}, {30, 30}, {2, 30}, {2, 2}}
	// Opposite winding cuts the hole out of the fill.
	hole := geom.Ring{{12, 12}, {12, 20}, {20, 20}, {20, 12}, {12, 12}}
	c.FillPath([]geom.Ring{outer, hole}, paint.Style{Color: paint.Color{B: 255, Opacity: 1}})

	if alphaAt(c.Image(), 6, 6) == 0 {
		t.Error("expected pixel between outer ring and hole filled")
	}
	if alphaAt(c.Image(), 16, 16) != 0 {
		t.Error("expected hole interior empty")
	}
}

func TestStrokePathDash(t *testing.T) {
	solid := newTestCanvas(t, 64, 16)
	dashed := newTestCanvas(t, 64, 16)
	line := []geom.Ring{{{2, 8}, {62, 8}}}

	solid.StrokePath(line, paint.Style{Color: paint.Color{Opacity: 1}, Width: 2})
	dashed.StrokePath(line, paint.Style{Color: paint.Color{Opacity: 1}, Width: 2, Dash: []float64{4, 4}})

	solidCount, dashedCount := 0, 0
	for x := 2; x < 62; x++ {
		if alphaAt(solid.Image(), x, 8) > 0 {
			solidCount++
		}
		if alphaAt(dashed.Image(), x, 8) > 0 {
			dashedCount++
		}
	}
	if solidCount == 0 {
		t.Fatal("expected solid stroke to cover the line")
	}
	if dashedCount >= solidCount {
		t.Errorf("expected dashed stroke to leave gaps: solid=%d dashed=%d", solidCount, dashedCount)
	}
	if dashedCount == 0 {
		t.Error("expected dashed stroke to draw something")
	}
}

func TestFillCircle(t *testing.T) {
	c := newTestCanvas(t, 32, 32)
	c.FillCircle(orb.Point{16, 16}, 6, paint.Style{Color: paint.Color{G: 255, Opacity: 1}})

	if alphaAt(c.Image(), 16, 16) == 0 {
		t.Error("expected circle center filled")
	}
	if alphaAt(c.Image(), 16, 4) != 0 {
		t.Error("expected pixel outside radius untouched")
	}
}

func TestStrokeCircleLeavesCenterEmpty(t *testing.T) {
	c := newTestCanvas(t, 32, 32)
	c.StrokeCircle(orb.Point{16, 16}, 8, paint.Style{Color: paint.Color{Opacity: 1}, Width: 2})

	if alphaAt(c.Image(), 16, 16) != 0 {
		t.Error("expected circle center untouched by stroke")
	}
	if alphaAt(c.Image(), 16, 8) == 0 {
		t.Error("expected pixel on the rim stroked")
	}
}

func TestFillSquare(t *testing.T) {
	c := newTestCanvas(t, 16, 16)
	c.FillSquare(orb.Point{8, 8}, 3, paint.Style{Color: paint.Color{R: 200, Opacity: 1}})

	if alphaAt(c.Image(), 8, 8) == 0 {
		t.Error("expected square center filled")
	}
	if alphaAt(c.Image(), 1, 1) != 0 {
		t.Error("expected corner untouched")
	}
}

func TestTranslucentOverlapStaysFlat(t *testing.T) {
	c := newTestCanvas(t, 32, 32)
	// A self-overlapping polyline stamped with 50% opacity: one
	// composite pass means the overlap is no darker than the rest.
	c.StrokePath([]geom.Ring{{{4, 16}, {28, 16}}, {{16, 4}, {16, 28}}},
		paint.Style{Color: paint.Color{Opacity: 0.5}, Width: 4})

	center := alphaAt(c.Image(), 16, 16)
	arm := alphaAt(c.Image(), 8, 16)
	if center == 0 || arm == 0 {
		t.Fatal("expected both stroke arms drawn")
	}
	if center > arm {
		t.Errorf("expected overlap alpha %d <= single-pass alpha %d", center, arm)
	}
}

func TestText(t *testing.T) {
	c := newTestCanvas(t, 64, 32)
	c.Text(orb.Point{4, 20}, "ok", paint.Style{Color: paint.Color{Opacity: 1}})

	found := false
	for y := 0; y < 32 && !found; y++ {
		for x := 0; x < 64; x++ {
			if alphaAt(c.Image(), x, y) > 0 {
				found = true
				break
			}
		}
	}
	if !found {
		t.Error("expected text to mark pixels")
	}
}
