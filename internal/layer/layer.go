// Package layer implements the data source layers: each variant turns
// a region request into a stream of geometry+attribute records and
// paints them through the shared per-feature pipeline.
package layer

import (
	"context"
	"sync"

	"github.com/paulmach/orb"

	"tilesmith/internal/geom"
	"tilesmith/internal/geom/proj"
	"tilesmith/internal/geom/remap"
	"tilesmith/internal/paint"
	"tilesmith/internal/pkg/errors"
	"tilesmith/internal/pkg/logger"
	"tilesmith/internal/script"
	"tilesmith/internal/stats"
)

// Region is the per-region render context a layer paints into. One
// worker owns it for the duration of a region render; layers run
// strictly sequentially within it.
type Region struct {
	// Zoom is the current zoom level (0 for single-image renders).
	Zoom int
	// Time is the animation time in [0, 1]; 0 outside animations.
	Time float64
	// Bound is the region in the job's destination SRID.
	Bound orb.Bound
	// WGS84 is the same region in geographic coordinates.
	WGS84 orb.Bound
	// DstSRID is the job's destination spatial reference.
	DstSRID int
	// Remap maps destination-SRID coordinates to pixel coordinates.
	Remap remap.Transform
	// MetersPerPixel is the ground resolution used for measures.
	MetersPerPixel float64
	// Canvas receives the draw calls.
	Canvas paint.Canvas
	// Stats is the region-local bucket for the layer being rendered.
	Stats *stats.Counters
	// Engine is this worker's script engine for the layer; nil when
	// the layer has no script.
	Engine script.Engine
	// Log carries run/zoom context.
	Log *logger.Logger
}

// Layer is the single capability the orchestrator needs: produce the
// records overlapping a region and paint them. One implementation per
// source variant; the orchestrator never branches on a type tag.
type Layer interface {
	Name() string
	SrcSRID() int
	ZoomRange() (min, max int)

	// Active reports whether the layer participates at the zoom.
	Active(zoom int) bool

	// Script returns the layer's compiled script, nil when none.
	Script() *script.Compiled

	// Render streams the layer's overlapping records into the region.
	// Feature-scoped failures are counted in reg.Stats and skipped;
	// the returned error is layer-scoped (fetch/open failure).
	Render(ctx context.Context, reg *Region) error

	// Release frees run-scoped resources. Idempotent; once released
	// the layer is skipped for the remainder of the run.
	Release()

	// Released reports whether Release has run.
	Released() bool
}

// Options carries the construction parameters shared by all variants.
type Options struct {
	Name     string
	SRID     int
	ZoomMin  int
	ZoomMax  int
	Settings paint.DrawSettings
	// Script is the optional Lua source, compiled once at build time.
	Script string

	// DstSRID is the job's destination SRID; when it differs from
	// SRID the layer resolves a projection handle on first use.
	DstSRID     int
	Projections *proj.Cache
	Log         *logger.Logger
}

// state is the embedded core every variant shares: identity, zoom
// gating, the lazily resolved projection, and the one-shot release
// flag. The mutex guards the open/release transitions so exactly one
// worker performs each.
type state struct {
	name     string
	srid     int
	zoomMin  int
	zoomMax  int
	settings paint.DrawSettings
	compiled *script.Compiled

	dstSRID     int
	projections *proj.Cache
	log         *logger.Logger

	mu       sync.Mutex
	opened   bool
	released bool
	handle   *proj.Handle
}

func newState(opts Options) (state, error) {
	s := state{
		name:        opts.Name,
		srid:        opts.SRID,
		zoomMin:     opts.ZoomMin,
		zoomMax:     opts.ZoomMax,
		settings:    opts.Settings,
		dstSRID:     opts.DstSRID,
		projections: opts.Projections,
		log:         opts.Log,
	}
	if s.log == nil {
		s.log = logger.NewDefault()
	}
	s.log = s.log.WithLayer(opts.Name)

	if opts.Script != "" {
		compiled, err := script.Compile(opts.Name, opts.Script)
		if err != nil {
			return state{}, err
		}
		s.compiled = compiled
	}
	return s, nil
}

func (s *state) Name() string             { return s.name }
func (s *state) SrcSRID() int             { return s.srid }
func (s *state) ZoomRange() (int, int)    { return s.zoomMin, s.zoomMax }
func (s *state) Script() *script.Compiled { return s.compiled }

func (s *state) Active(zoom int) bool {
	return zoom >= s.zoomMin && zoom <= s.zoomMax
}

func (s *state) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// projection resolves the layer's transform to the destination SRID,
// or nil for the same-SRID fast path. Every variant calls this at the
// top of Render, before its feature loop: PROJECTION_ERROR is fatal to
// the layer, never a per-feature skip.
func (s *state) projection() (*proj.Handle, error) {
	if s.srid == s.dstSRID {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		h, err := s.projections.Get(s.srid, s.dstSRID)
		if err != nil {
			return nil, err
		}
		s.handle = h
	}
	return s.handle, nil
}

// cachedHandle returns the handle projection resolved, nil for the
// same-SRID fast path. Valid only after projection succeeded.
func (s *state) cachedHandle() *proj.Handle {
	if s.srid == s.dstSRID {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// paintRecord runs the shared per-feature pipeline: fresh settings
// copy, script hook, projection, remap, dispatch. Feature-scoped
// failures are counted and swallowed here.
func (s *state) paintRecord(reg *Region, rec geom.Record, attrs map[string]any) {
	s.paintRecordWith(reg, rec, attrs, s.settings)
}

// paintRecordWith is paintRecord with a per-feature settings
// prototype, for variants that derive style from the record itself.
func (s *state) paintRecordWith(reg *Region, rec geom.Record, attrs map[string]any, proto paint.DrawSettings) {
	settings := proto.Clone()

	if reg.Engine != nil {
		render, err := reg.Engine.Eval(script.Vars{
			Attributes: attrs,
			Zoom:       reg.Zoom,
			Time:       reg.Time,
			Layer:      s.name,
		}, &settings)
		if err != nil {
			reg.Stats.CountError(err)
			s.log.Debug("script error, feature skipped", "error", err.Error())
			return
		}
		if !render {
			reg.Stats.ScriptSkips++
			return
		}
	}

	if handle := s.cachedHandle(); handle != nil && !handle.Identity() {
		rec = rec.MapVertices(handle.Transform)
	}
	rec = rec.MapVertices(reg.Remap.Apply)

	dispatch(reg, rec, &settings)
	reg.Stats.FeaturesRendered++
}

// dispatch hands the remapped record to the canvas according to the
// (draw mode, geometry kind) pair.
func dispatch(reg *Region, rec geom.Record, s *paint.DrawSettings) {
	fill := paint.Style{Color: s.FillColor, Blend: s.Blend}
	stroke := paint.Style{
		Color: s.StrokeColor,
		Width: s.StrokeWidth.Pixels(reg.MetersPerPixel),
		Dash:  s.Dash,
		Blend: s.Blend,
	}

	if rec.Kind == geom.KindPoint {
		if s.Mode == paint.TextAtPoint {
			if s.Label != "" {
				text := paint.Style{Color: s.TextColor, Blend: s.Blend, Face: s.Face}
				reg.Canvas.Text(rec.Point, s.Label, text)
				reg.Stats.TextDraws++
			}
			return
		}

		radius := s.Radius.Pixels(reg.MetersPerPixel)
		doFill := func() {
			if s.Shape == paint.Square {
				reg.Canvas.FillSquare(rec.Point, radius, fill)
			} else {
				reg.Canvas.FillCircle(rec.Point, radius, fill)
			}
			reg.Stats.Fills++
		}
		doStroke := func() {
			if s.Shape == paint.Square {
				reg.Canvas.StrokeSquare(rec.Point, radius, stroke)
			} else {
				reg.Canvas.StrokeCircle(rec.Point, radius, stroke)
			}
			reg.Stats.Strokes++
		}
		switch s.Mode {
		case paint.Stroke:
			doStroke()
		case paint.Fill:
			doFill()
		case paint.FillStroke:
			doFill()
			doStroke()
		case paint.StrokeFill:
			doStroke()
			doFill()
		}
		reg.Stats.Points++
		return
	}

	switch s.Mode {
	case paint.Stroke:
		reg.Canvas.StrokePath(rec.Rings, stroke)
		reg.Stats.Strokes++
	case paint.Fill:
		reg.Canvas.FillPath(rec.Rings, fill)
		reg.Stats.Fills++
	case paint.FillStroke:
		reg.Canvas.FillPath(rec.Rings, fill)
		reg.Canvas.StrokePath(rec.Rings, stroke)
		reg.Stats.Fills++
		reg.Stats.Strokes++
	case paint.StrokeFill:
		reg.Canvas.StrokePath(rec.Rings, stroke)
		reg.Canvas.FillPath(rec.Rings, fill)
		reg.Stats.Strokes++
		reg.Stats.Fills++
	case paint.TextAtPoint:
		// Text on a path anchors at the path's bound center.
		if s.Label != "" {
			center := rec.Bound().Center()
			text := paint.Style{Color: s.TextColor, Blend: s.Blend, Face: s.Face}
			reg.Canvas.Text(center, s.Label, text)
			reg.Stats.TextDraws++
		}
	}
}

// sourceBound converts the region into the layer's source SRID so
// file-backed variants can overlap-test against feature boxes stored
// in source coordinates.
func (s *state) sourceBound(reg *Region) orb.Bound {
	if s.srid == s.dstSRID {
		return reg.Bound
	}
	if s.srid == proj.SRIDWGS84 {
		return reg.WGS84
	}
	if h, err := s.projections.Get(proj.SRIDWGS84, s.srid); err == nil {
		corners := []orb.Point{
			reg.WGS84.Min,
			reg.WGS84.Max,
			{reg.WGS84.Min[0], reg.WGS84.Max[1]},
			{reg.WGS84.Max[0], reg.WGS84.Min[1]},
		}
		b := orb.Bound{Min: h.Transform(corners[0]), Max: h.Transform(corners[0])}
		for _, c := range corners[1:] {
			b = b.Extend(h.Transform(c))
		}
		return b
	}
	return reg.Bound
}

// errLayerReleased guards against render-after-release; the
// orchestrator's gating makes this unreachable in practice.
var errLayerReleased = errors.New(errors.CodeInternal, "layer already released")
