// Package geom defines the geometry records the render pipeline moves
// between data sources, the projection stage, and the rasterizer.
package geom

import "github.com/paulmach/orb"

// Kind discriminates the two record shapes the pipeline handles.
type Kind int

const (
	// KindPoint is a single coordinate.
	KindPoint Kind = iota
	// KindPath is an ordered set of rings. Ring boundaries are
	// preserved so fill winding stays correct.
	KindPath
)

func (k Kind) String() string {
	switch k {
	case KindPoint:
		return "point"
	case KindPath:
		return "path"
	default:
		return "unknown"
	}
}

// Ring is an ordered vertex sequence. For polygon fills the first ring
// is the outer boundary and subsequent rings are holes; for line work
// each ring is an independent open path.
type Ring []orb.Point

// Record is a decoded geometry: either a point or a path of rings.
type Record struct {
	Kind  Kind
	Point orb.Point
	Rings []Ring
}

// NewPoint returns a point record.
func NewPoint(pt orb.Point) Record {
	return Record{Kind: KindPoint, Point: pt}
}

// NewPath returns a path record over the given rings.
func NewPath(rings []Ring) Record {
	return Record{Kind: KindPath, Rings: rings}
}

// Bound returns the bounding box of the record.
func (r Record) Bound() orb.Bound {
	if r.Kind == KindPoint {
		return orb.Bound{Min: r.Point, Max: r.Point}
	}
	b := orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{-1, -1}}
	first := true
	for _, ring := range r.Rings {
		for _, pt := range ring {
			if first {
				b = orb.Bound{Min: pt, Max: pt}
				first = false
				continue
			}
			b = b.Extend(pt)
		}
	}
	return b
}

// VertexCount returns the total number of vertices across all rings,
// or 1 for a point.
func (r Record) VertexCount() int {
	if r.Kind == KindPoint {
		return 1
	}
	n := 0
	for _, ring := range r.Rings {
		n += len(ring)
	}
	return n
}

// MapVertices returns a copy of the record with fn applied to every
// vertex. The input record is not modified.
func (r Record) MapVertices(fn func(orb.Point) orb.Point) Record {
	if r.Kind == KindPoint {
		return Record{Kind: KindPoint, Point: fn(r.Point)}
	}
	rings := make([]Ring, len(r.Rings))
	for i, ring := range r.Rings {
		mapped := make(Ring, len(ring))
		for j, pt := range ring {
			mapped[j] = fn(pt)
		}
		rings[i] = mapped
	}
	return Record{Kind: KindPath, Rings: rings}
}
