package render

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// GridOrigin rounds a tile down to the origin of its n×n meta-tile
// grid cell. n must be a power of two; the operation is idempotent.
func GridOrigin(t maptile.Tile, n uint32) maptile.Tile {
	return maptile.New(t.X&^(n-1), t.Y&^(n-1), t.Z)
}

// cell is one n×n block of tiles scheduled as a single region. The
// xmin..ymax range records the tiles the job actually requested so
// tile-mode slicing can drop grid padding.
type cell struct {
	origin maptile.Tile
	n      uint32

	xmin, xmax uint32
	ymin, ymax uint32
}

// wgs84Bound is the geographic extent of the whole cell.
func (c cell) wgs84Bound() orb.Bound {
	b := c.origin.Bound()
	last := maptile.New(c.origin.X+c.n-1, c.origin.Y+c.n-1, c.origin.Z)
	return b.Union(last.Bound())
}

// gridCells covers the bounding box at one zoom with grid-aligned
// cells. The start tile is rounded down to its grid origin; every tile
// in the requested range belongs to exactly one cell.
func gridCells(b orb.Bound, zoom int, n uint32) []cell {
	z := maptile.Zoom(zoom)
	maxIndex := uint32(1<<uint(zoom)) - 1
	// A grid wider than the world collapses to the world.
	if n > maxIndex+1 {
		n = maxIndex + 1
	}

	// Top-left and bottom-right tiles of the box; tile y grows south.
	first := maptile.At(orb.Point{b.Min[0], b.Max[1]}, z)
	last := maptile.At(orb.Point{b.Max[0], b.Min[1]}, z)

	xmin, xmax := clampTile(first.X, maxIndex), clampTile(last.X, maxIndex)
	ymin, ymax := clampTile(first.Y, maxIndex), clampTile(last.Y, maxIndex)

	start := GridOrigin(maptile.New(xmin, ymin, z), n)

	var cells []cell
	for y := start.Y; y <= ymax; y += n {
		for x := start.X; x <= xmax; x += n {
			cells = append(cells, cell{
				origin: maptile.New(x, y, z),
				n:      n,
				xmin:   xmin, xmax: xmax,
				ymin:   ymin, ymax: ymax,
			})
		}
	}
	return cells
}

func clampTile(v, max uint32) uint32 {
	if v > max {
		return max
	}
	return v
}
