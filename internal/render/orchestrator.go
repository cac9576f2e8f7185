package render

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"math"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"tilesmith/internal/geom/proj"
	"tilesmith/internal/geom/remap"
	"tilesmith/internal/layer"
	"tilesmith/internal/output"
	"tilesmith/internal/paint"
	"tilesmith/internal/pkg/errors"
	"tilesmith/internal/pkg/logger"
	"tilesmith/internal/script"
	"tilesmith/internal/stats"
)

// Retry policy for layer-scoped fetch failures. After the final
// attempt the error is recorded and the region moves on; a layer that
// fails this many regions in a row is disabled for the rest of the run.
var retryBackoff = []time.Duration{250 * time.Millisecond, 500 * time.Millisecond}

const disableAfterFailures = 8

// Deps carries the orchestrator's collaborators.
type Deps struct {
	Sink        output.Sink
	Canvas      paint.CanvasFactory
	Projections *proj.Cache
	Log         *logger.Logger
}

// Orchestrator runs one job. It owns the run aggregate, the per-layer
// script engine pools and the failure bookkeeping; the job itself is
// never mutated.
type Orchestrator struct {
	job  Job
	deps Deps
	log  *logger.Logger
	run  *stats.Run

	engines  []*enginePool
	disabled []atomic.Bool
	failures []atomic.Int32
}

// NewOrchestrator validates the job and prepares a run.
func NewOrchestrator(job Job, deps Deps) (*Orchestrator, error) {
	job.Normalize()
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if deps.Sink == nil || deps.Canvas == nil {
		return nil, errors.Config("orchestrator needs a sink and a canvas factory")
	}
	if deps.Projections == nil {
		deps.Projections = proj.NewCache()
	}
	log := deps.Log
	if log == nil {
		log = logger.NewDefault()
	}

	names := make([]string, len(job.Layers))
	engines := make([]*enginePool, len(job.Layers))
	for i, l := range job.Layers {
		names[i] = l.Name()
		if c := l.Script(); c != nil {
			engines[i] = newEnginePool(c, job.Workers)
		}
	}

	return &Orchestrator{
		job:      job,
		deps:     deps,
		log:      log.WithComponent("render"),
		run:      stats.NewRun(names),
		engines:  engines,
		disabled: make([]atomic.Bool, len(job.Layers)),
		failures: make([]atomic.Int32, len(job.Layers)),
	}, nil
}

// Stats returns the run aggregate; valid during and after Run.
func (o *Orchestrator) Stats() *stats.Run { return o.run }

// Run executes the job to completion or cancellation. The returned
// aggregate is populated even on error; recoverable failures are
// recorded there rather than returned.
func (o *Orchestrator) Run(ctx context.Context) (*stats.Run, error) {
	o.log.Info("run starting",
		"title", o.job.Title,
		"mode", string(o.job.Mode),
		"layers", len(o.job.Layers),
		"workers", o.job.Workers,
	)

	defer o.releaseAll()

	var err error
	switch o.job.Mode {
	case ModeTiles, ModeMetaTiles:
		err = o.runTiles(ctx)
	case ModeImage:
		err = o.renderImage(ctx, 0, "image."+o.job.Format.Ext())
	case ModeAnimation:
		err = o.runAnimation(ctx)
	}

	if err != nil {
		o.log.WithError(err).Error("run aborted", "elapsed", o.run.Elapsed().String())
		return o.run, err
	}
	o.log.Info("run complete",
		"regions", o.run.Regions,
		"tiles", o.run.TilesWritten,
		"meta_tiles", o.run.MetaTiles,
		"elapsed", o.run.Elapsed().String(),
	)
	return o.run, nil
}

// runTiles walks the zoom range low to high. Zoom levels run
// sequentially so the between-zoom release sweep has a well-defined
// boundary; regions within a zoom fan out over the worker pool.
func (o *Orchestrator) runTiles(ctx context.Context) error {
	for zoom := o.job.ZoomMin; zoom <= o.job.ZoomMax; zoom++ {
		cells := gridCells(o.job.Bound, zoom, uint32(o.job.MetaSize))
		o.log.WithZoom(zoom).Debug("zoom scheduled", "cells", len(cells))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.job.Workers)
		for _, c := range cells {
			c := c
			g.Go(func() error { return o.renderCell(gctx, c) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
		o.releasePast(zoom + 1)
	}
	return nil
}

func (o *Orchestrator) runAnimation(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.job.Workers)
	for i := 0; i < o.job.FrameCount; i++ {
		i := i
		g.Go(func() error {
			t := float64(i) / float64(o.job.FrameCount-1)
			return o.renderImage(gctx, t, fmt.Sprintf("frame-%03d.%s", i, o.job.Format.Ext()))
		})
	}
	return g.Wait()
}

// renderCell renders one grid cell and writes its tiles. Only
// cancellation and sink failures propagate; everything region-scoped
// is recorded and swallowed.
func (o *Orchestrator) renderCell(ctx context.Context, c cell) error {
	if err := ctx.Err(); err != nil {
		return errors.Canceled("render.cell")
	}

	zoom := int(c.origin.Z)
	wgs := c.wgs84Bound()
	dst, err := o.projectBound(wgs)
	if err != nil {
		// The job's own projection is broken; no region can succeed.
		return err
	}

	px := int(c.n) * o.job.TileSize
	canvas, err := o.deps.Canvas(px, px)
	if err != nil {
		o.log.WithZoom(zoom).WithError(err).Error("canvas allocation failed, region dropped",
			"x", c.origin.X, "y", c.origin.Y)
		o.run.AddRegion(true)
		return nil
	}
	canvas.Clear(o.job.Background)

	reg := &layer.Region{
		Zoom:           zoom,
		Bound:          dst,
		WGS84:          wgs,
		DstSRID:        o.job.DstSRID,
		Remap:          remap.Build(dst, remap.NewRect(0, 0, float64(px), float64(px)), true),
		MetersPerPixel: metersPerPixel(wgs, px),
		Canvas:         canvas,
		Log:            o.log.WithZoom(zoom),
	}

	failed := o.renderLayers(ctx, reg)
	if err := ctx.Err(); err != nil {
		return errors.Canceled("render.cell")
	}
	o.run.AddRegion(failed)

	return o.writeCell(c, canvas.Image())
}

// renderImage renders the whole bounding box into one raster. Used for
// both single images and animation frames.
func (o *Orchestrator) renderImage(ctx context.Context, t float64, name string) error {
	wgs := o.job.Bound
	dst, err := o.projectBound(wgs)
	if err != nil {
		return err
	}

	w, h, pad := o.job.ImageWidth, o.job.ImageHeight, o.job.Padding
	canvas, err := o.deps.Canvas(w+2*pad, h+2*pad)
	if err != nil {
		o.run.AddRegion(true)
		return errors.WrapWithCode(err, errors.CodeResource, "render.image", "canvas allocation failed")
	}
	canvas.Clear(o.job.Background)

	reg := &layer.Region{
		Time:           t,
		Bound:          dst,
		WGS84:          wgs,
		DstSRID:        o.job.DstSRID,
		Remap:          remap.Build(dst, remap.NewRect(float64(pad), float64(pad), float64(w), float64(h)), true),
		MetersPerPixel: metersPerPixel(wgs, w),
		Canvas:         canvas,
		Log:            o.log,
	}

	failed := o.renderLayers(ctx, reg)
	if err := ctx.Err(); err != nil {
		return errors.Canceled("render.image")
	}
	o.run.AddRegion(failed)

	data, err := output.Encode(canvas.Image(), o.job.Format)
	if err != nil {
		return err
	}
	if err := o.deps.Sink.WriteFile(name, data); err != nil {
		return err
	}
	o.run.AddTiles(1)
	return nil
}

// renderLayers runs every layer against the region, strictly in
// registration order. Returns whether any layer failed; individual
// failures never stop the remaining layers.
func (o *Orchestrator) renderLayers(ctx context.Context, reg *layer.Region) bool {
	failed := false
	imageMode := o.job.Mode == ModeImage || o.job.Mode == ModeAnimation

	for i, l := range o.job.Layers {
		if ctx.Err() != nil {
			return failed
		}
		if o.disabled[i].Load() || l.Released() {
			continue
		}
		if !imageMode && !l.Active(reg.Zoom) {
			continue
		}

		bucket := &stats.Counters{}
		reg.Stats = bucket
		reg.Engine = nil
		var eng script.Engine
		if pool := o.engines[i]; pool != nil {
			eng = pool.get()
			reg.Engine = eng
		}

		err := o.renderLayer(ctx, l, reg)

		if eng != nil {
			o.engines[i].put(eng)
		}
		o.run.MergeLayer(l.Name(), *bucket)

		if err != nil {
			if errors.IsCanceled(err) {
				return failed
			}
			failed = true
			o.log.WithLayer(l.Name()).WithError(err).Error("layer failed for region",
				"zoom", reg.Zoom)
			if n := o.failures[i].Add(1); n >= disableAfterFailures {
				if o.disabled[i].CompareAndSwap(false, true) {
					o.log.WithLayer(l.Name()).Error("layer disabled after repeated failures",
						"consecutive", n)
				}
			}
			continue
		}
		o.failures[i].Store(0)
	}
	return failed
}

// renderLayer runs one layer with the retry policy: connection, query
// and file failures get two more attempts with backoff, everything
// else fails immediately. The final error is counted exactly once.
func (o *Orchestrator) renderLayer(ctx context.Context, l layer.Layer, reg *layer.Region) error {
	err := l.Render(ctx, reg)
	for attempt := 0; err != nil && attempt < len(retryBackoff); attempt++ {
		if errors.IsCanceled(err) || !retryable(err) {
			break
		}
		select {
		case <-time.After(retryBackoff[attempt]):
		case <-ctx.Done():
			return errors.Canceled("render.layer")
		}
		reg.Stats.Retries++
		err = l.Render(ctx, reg)
	}
	if err != nil && !errors.IsCanceled(err) {
		reg.Stats.CountError(err)
	}
	return err
}

func retryable(err error) bool {
	switch errors.GetCode(err) {
	case errors.CodeConnection, errors.CodeQuery, errors.CodeFile:
		return true
	default:
		return false
	}
}

// writeCell slices the cell raster into tiles and hands them to the
// sink. Tiles mode drops grid padding outside the requested range;
// meta-tiles mode packs all n×n into one container.
func (o *Orchestrator) writeCell(c cell, img image.Image) error {
	ts := o.job.TileSize
	n := int(c.n)
	zoom := uint32(c.origin.Z)

	if o.job.Mode == ModeMetaTiles {
		tiles := make([][]byte, 0, n*n)
		for row := 0; row < n; row++ {
			for col := 0; col < n; col++ {
				data, err := output.Encode(cropTile(img, col*ts, row*ts, ts), o.job.Format)
				if err != nil {
					return err
				}
				tiles = append(tiles, data)
			}
		}
		blob := output.EncodeMeta(c.origin.X, c.origin.Y, zoom, ts, tiles)
		rel := fmt.Sprintf("%d/%d/%d.meta", zoom, c.origin.X, c.origin.Y)
		if err := o.deps.Sink.WriteFile(rel, blob); err != nil {
			return err
		}
		o.run.AddMetaTile()
		return nil
	}

	var written int64
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			tx, ty := c.origin.X+uint32(col), c.origin.Y+uint32(row)
			if tx < c.xmin || tx > c.xmax || ty < c.ymin || ty > c.ymax {
				continue
			}
			data, err := output.Encode(cropTile(img, col*ts, row*ts, ts), o.job.Format)
			if err != nil {
				return err
			}
			if err := o.deps.Sink.WriteTile(zoom, tx, ty, o.job.Format.Ext(), data); err != nil {
				return err
			}
			written++
		}
	}
	o.run.AddTiles(written)
	return nil
}

func cropTile(img image.Image, x, y, size int) image.Image {
	out := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.Draw(out, out.Bounds(), img, image.Pt(x, y), draw.Src)
	return out
}

// releasePast releases every layer that cannot participate at or above
// the given zoom. Runs between zoom levels, on the scheduling
// goroutine, so no worker is mid-render when a layer lets go.
func (o *Orchestrator) releasePast(zoom int) {
	for _, l := range o.job.Layers {
		_, max := l.ZoomRange()
		if max < zoom && !l.Released() {
			o.log.WithLayer(l.Name()).Debug("layer released", "past_zoom", max)
			l.Release()
		}
	}
}

func (o *Orchestrator) releaseAll() {
	for i, l := range o.job.Layers {
		if !l.Released() {
			l.Release()
		}
		if pool := o.engines[i]; pool != nil {
			pool.close()
		}
	}
}

// projectBound converts a WGS84 bound into the job's destination SRID
// by projecting all four corners.
func (o *Orchestrator) projectBound(wgs orb.Bound) (orb.Bound, error) {
	if o.job.DstSRID == proj.SRIDWGS84 {
		return wgs, nil
	}
	h, err := o.deps.Projections.Get(proj.SRIDWGS84, o.job.DstSRID)
	if err != nil {
		return orb.Bound{}, err
	}
	corners := [4]orb.Point{
		wgs.Min,
		wgs.Max,
		{wgs.Min[0], wgs.Max[1]},
		{wgs.Max[0], wgs.Min[1]},
	}
	b := orb.Bound{Min: h.Transform(corners[0]), Max: h.Transform(corners[0])}
	for _, c := range corners[1:] {
		b = b.Extend(h.Transform(c))
	}
	return b, nil
}

const earthCircumference = 40075016.685578488

// metersPerPixel is the ground resolution at the region's center
// latitude, used to convert meter-based measures to pixels.
func metersPerPixel(wgs orb.Bound, pxWidth int) float64 {
	centerLat := (wgs.Min[1] + wgs.Max[1]) / 2
	widthMeters := (wgs.Max[0] - wgs.Min[0]) / 360 * earthCircumference * math.Cos(centerLat*math.Pi/180)
	if widthMeters <= 0 || pxWidth <= 0 {
		return 1
	}
	return widthMeters / float64(pxWidth)
}

// enginePool hands out per-worker script engines for one layer. Lua
// states are not safe for concurrent use; the pool guarantees no two
// workers share one.
type enginePool struct {
	compiled *script.Compiled
	ch       chan script.Engine
}

func newEnginePool(c *script.Compiled, size int) *enginePool {
	return &enginePool{compiled: c, ch: make(chan script.Engine, size)}
}

func (p *enginePool) get() script.Engine {
	select {
	case e := <-p.ch:
		return e
	default:
		return script.NewEngine(p.compiled)
	}
}

func (p *enginePool) put(e script.Engine) {
	select {
	case p.ch <- e:
	default:
		e.Close()
	}
}

func (p *enginePool) close() {
	for {
		select {
		case e := <-p.ch:
			e.Close()
		default:
			return
		}
	}
}
