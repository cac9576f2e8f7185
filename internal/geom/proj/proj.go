// Package proj resolves and caches coordinate transforms between
// spatial reference systems. A transform for a given (src, dst) SRID
// pair is constructed at most once per run and shared read-only.
package proj

import (
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"golang.org/x/sync/singleflight"

	"tilesmith/internal/pkg/errors"
)

// Well-known SRIDs.
const (
	SRIDWGS84       = 4326
	SRIDWebMercator = 3857
	SRIDLambert93   = 2154

	// Legacy alias for web mercator still found in older configs.
	sridWebMercatorLegacy = 900913
)

// Handle is a resolved transform for one (src, dst) SRID pair.
type Handle struct {
	src, dst  int
	transform orb.Projection
}

// Transform maps one point from the source to the destination system.
func (h *Handle) Transform(pt orb.Point) orb.Point {
	return h.transform(pt)
}

// SrcSRID returns the source SRID of the handle.
func (h *Handle) SrcSRID() int { return h.src }

// DstSRID returns the destination SRID of the handle.
func (h *Handle) DstSRID() int { return h.dst }

// Identity reports whether the handle passes points through unchanged.
func (h *Handle) Identity() bool { return h.src == h.dst }

// Cache memoizes transform handles per SRID pair. Safe for concurrent
// use; exactly one construction happens per key even when several
// workers request the same pair at once.
type Cache struct {
	mu      sync.RWMutex
	handles map[[2]int]*Handle
	group   singleflight.Group
}

// NewCache returns an empty projection cache.
func NewCache() *Cache {
	return &Cache{handles: make(map[[2]int]*Handle)}
}

// Get returns the cached handle for (src, dst), constructing it on
// first use. Construction failure is a PROJECTION_ERROR and is fatal
// to the requester.
func (c *Cache) Get(src, dst int) (*Handle, error) {
	src = normalize(src)
	dst = normalize(dst)
	key := [2]int{src, dst}

	c.mu.RLock()
	h, ok := c.handles[key]
	c.mu.RUnlock()
	if ok {
		return h, nil
	}

	v, err, _ := c.group.Do(fmt.Sprintf("%d:%d", src, dst), func() (any, error) {
		c.mu.RLock()
		h, ok := c.handles[key]
		c.mu.RUnlock()
		if ok {
			return h, nil
		}

		h, err := newHandle(src, dst)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.handles[key] = h
		c.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

func normalize(srid int) int {
	if srid == sridWebMercatorLegacy {
		return SRIDWebMercator
	}
	return srid
}

func newHandle(src, dst int) (*Handle, error) {
	if src == dst {
		return &Handle{src: src, dst: dst, transform: func(pt orb.Point) orb.Point { return pt }}, nil
	}

	switch {
	case src == SRIDWGS84 && dst == SRIDWebMercator:
		return &Handle{src: src, dst: dst, transform: project.WGS84.ToMercator}, nil
	case src == SRIDWebMercator && dst == SRIDWGS84:
		return &Handle{src: src, dst: dst, transform: project.Mercator.ToWGS84}, nil
	case src == SRIDWGS84 && dst == SRIDLambert93:
		return &Handle{src: src, dst: dst, transform: wgs84ToLambert93}, nil
	default:
		return nil, errors.Newf(errors.CodeProjection, "no transform from SRID %d to SRID %d", src, dst).
			WithFields(map[string]any{"src_srid": src, "dst_srid": dst})
	}
}

// ValidBounds returns the coordinate range a point must fall in to be
// a plausible member of the given system. Used by sources that read
// untrusted coordinates (CSV rows) to drop garbage early.
func ValidBounds(srid int) (orb.Bound, bool) {
	switch normalize(srid) {
	case SRIDWGS84:
		return orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}, true
	case SRIDWebMercator:
		const ext = 20037508.342789244
		return orb.Bound{Min: orb.Point{-ext, -ext}, Max: orb.Point{ext, ext}}, true
	case SRIDLambert93:
		return orb.Bound{Min: orb.Point{0, 6000000}, Max: orb.Point{1300000, 7200000}}, true
	default:
		return orb.Bound{}, false
	}
}
