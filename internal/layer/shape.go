package layer

import (
	"context"
	"strconv"
	"strings"
	"time"

	shp "github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"tilesmith/internal/geom"
	"tilesmith/internal/pkg/errors"
)

// ShapeConfig is the source descriptor for a shapefile-backed layer.
type ShapeConfig struct {
	Path string
}

type shapeFeature struct {
	rec   geom.Record
	bound orb.Bound
	attrs map[string]any
}

// Shape renders features from an ESRI shapefile. The file is parsed
// completely on first use; subsequent regions reuse the in-memory
// feature set and each feature's own bounding box for inclusion.
type Shape struct {
	state
	cfg      ShapeConfig
	features []shapeFeature
}

// NewShape builds a shapefile-backed layer.
func NewShape(opts Options, cfg ShapeConfig) (*Shape, error) {
	if cfg.Path == "" {
		return nil, errors.ConfigField("path", "shape layer requires a file path")
	}
	s, err := newState(opts)
	if err != nil {
		return nil, err
	}
	return &Shape{state: s, cfg: cfg}, nil
}

func (l *Shape) ensureOpen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return errLayerReleased
	}
	if l.opened {
		return nil
	}

	r, err := shp.Open(l.cfg.Path)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeFile, "layer.shape.open", "cannot open shapefile").
			WithField("path", l.cfg.Path)
	}
	defer r.Close()

	fields := r.Fields()
	var features []shapeFeature
	for r.Next() {
		row, shape := r.Shape()

		rec, ok := shapeToRecord(shape)
		if !ok {
			continue
		}

		box := shape.BBox()
		attrs := make(map[string]any, len(fields))
		for i, field := range fields {
			attrs[field.String()] = dbfValue(field, r.ReadAttribute(row, i))
		}

		features = append(features, shapeFeature{
			rec: rec,
			bound: orb.Bound{
				Min: orb.Point{box.MinX, box.MinY},
				Max: orb.Point{box.MaxX, box.MaxY},
			},
			attrs: attrs,
		})
	}
	if err := r.Err(); err != nil {
		return errors.WrapWithCode(err, errors.CodeFile, "layer.shape.read", "shapefile read failed").
			WithField("path", l.cfg.Path)
	}

	l.features = features
	l.opened = true
	l.log.Debug("shapefile loaded", "features", len(features))
	return nil
}

// Render paints the in-memory features overlapping the region.
func (l *Shape) Render(ctx context.Context, reg *Region) error {
	if _, err := l.projection(); err != nil {
		return err
	}

	fetchStart := time.Now()
	if err := l.ensureOpen(); err != nil {
		return err
	}
	reg.Stats.FetchTime += time.Since(fetchStart)

	want := l.sourceBound(reg)

	for i := range l.features {
		if err := ctx.Err(); err != nil {
			return errors.Canceled("layer.shape.render")
		}
		f := &l.features[i]
		if !want.Intersects(f.bound) {
			continue
		}
		drawStart := time.Now()
		reg.Stats.RowsFetched++
		l.paintRecord(reg, f.rec, f.attrs)
		reg.Stats.DrawTime += time.Since(drawStart)
	}
	return nil
}

// Release drops the in-memory feature set exactly once.
func (l *Shape) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	l.features = nil
	l.log.Debug("layer released")
}

func shapeToRecord(s shp.Shape) (geom.Record, bool) {
	switch t := s.(type) {
	case *shp.Point:
		return geom.NewPoint(orb.Point{t.X, t.Y}), true
	case *shp.PolyLine:
		return geom.NewPath(partsToRings(t.Parts, t.Points)), true
	case *shp.Polygon:
		return geom.NewPath(partsToRings(t.Parts, t.Points)), true
	default:
		return geom.Record{}, false
	}
}

func partsToRings(parts []int32, points []shp.Point) []geom.Ring {
	rings := make([]geom.Ring, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || end < start || end > int32(len(points)) {
			continue
		}
		ring := make(geom.Ring, 0, end-start)
		for _, pt := range points[start:end] {
			ring = append(ring, orb.Point{pt.X, pt.Y})
		}
		rings = append(rings, ring)
	}
	return rings
}

// dbfValue converts a DBF attribute to a typed value based on the
// declared field type.
func dbfValue(field shp.Field, raw string) any {
	raw = strings.TrimSpace(raw)
	switch field.Fieldtype {
	case 'N', 'F':
		if raw == "" {
			return nil
		}
		if !strings.ContainsAny(raw, ".eE") {
			if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
				return v
			}
		}
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
		return raw
	case 'L':
		switch strings.ToUpper(raw) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		default:
			return nil
		}
	default:
		return raw
	}
}
