// Package stats accumulates per-layer and per-run render counters.
// Workers collect into their own Counters while rendering a region and
// merge into the run aggregate when the region completes; nothing else
// mutates the shared state.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tilesmith/internal/pkg/errors"
)

// Counters is one accumulation bucket. All fields are plain ints so a
// region-local instance can be filled without synchronization.
type Counters struct {
	RowsFetched int64
	Points      int64
	Strokes     int64
	Fills       int64
	TextDraws   int64

	FeaturesRendered int64
	ScriptSkips      int64
	OutOfRange       int64

	DecodeErrors     int64
	ScriptErrors     int64
	QueryErrors      int64
	ConnectionErrors int64
	FileErrors       int64
	ProjectionErrors int64
	Retries          int64

	FetchTime time.Duration
	DrawTime  time.Duration
}

// Add merges another bucket into this one.
func (c *Counters) Add(o Counters) {
	c.RowsFetched += o.RowsFetched
	c.Points += o.Points
	c.Strokes += o.Strokes
	c.Fills += o.Fills
	c.TextDraws += o.TextDraws
	c.FeaturesRendered += o.FeaturesRendered
	c.ScriptSkips += o.ScriptSkips
	c.OutOfRange += o.OutOfRange
	c.DecodeErrors += o.DecodeErrors
	c.ScriptErrors += o.ScriptErrors
	c.QueryErrors += o.QueryErrors
	c.ConnectionErrors += o.ConnectionErrors
	c.FileErrors += o.FileErrors
	c.ProjectionErrors += o.ProjectionErrors
	c.Retries += o.Retries
	c.FetchTime += o.FetchTime
	c.DrawTime += o.DrawTime
}

// CountError increments the counter matching the error's code. Every
// caught error goes through here; silent failure is disallowed.
func (c *Counters) CountError(err error) {
	switch errors.GetCode(err) {
	case errors.CodeGeometryDecode:
		c.DecodeErrors++
	case errors.CodeScript:
		c.ScriptErrors++
	case errors.CodeQuery:
		c.QueryErrors++
	case errors.CodeConnection:
		c.ConnectionErrors++
	case errors.CodeFile:
		c.FileErrors++
	case errors.CodeProjection:
		c.ProjectionErrors++
	}
}

// ErrorCount returns the total of all error counters.
func (c *Counters) ErrorCount() int64 {
	return c.DecodeErrors + c.ScriptErrors + c.QueryErrors +
		c.ConnectionErrors + c.FileErrors + c.ProjectionErrors
}

// Run is the run-level aggregate, keyed by layer name.
type Run struct {
	mu      sync.Mutex
	started time.Time

	order  []string
	layers map[string]*Counters

	TilesWritten int64
	MetaTiles    int64
	Regions      int64
	RegionErrors int64
}

// NewRun returns an aggregate with one bucket per layer, in
// registration order.
func NewRun(layerNames []string) *Run {
	r := &Run{
		started: time.Now(),
		order:   append([]string(nil), layerNames...),
		layers:  make(map[string]*Counters, len(layerNames)),
	}
	for _, name := range layerNames {
		r.layers[name] = &Counters{}
	}
	return r
}

// MergeLayer folds a region-local bucket into the named layer's
// aggregate.
func (r *Run) MergeLayer(name string, c Counters) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.layers[name]
	if !ok {
		bucket = &Counters{}
		r.layers[name] = bucket
		r.order = append(r.order, name)
	}
	bucket.Add(c)
}

// AddTiles records written tile files.
func (r *Run) AddTiles(n int64) {
	r.mu.Lock()
	r.TilesWritten += n
	r.mu.Unlock()
}

// AddMetaTile records one packed meta-tile container.
func (r *Run) AddMetaTile() {
	r.mu.Lock()
	r.MetaTiles++
	r.mu.Unlock()
}

// AddRegion records one completed or failed region.
func (r *Run) AddRegion(failed bool) {
	r.mu.Lock()
	r.Regions++
	if failed {
		r.RegionErrors++
	}
	r.mu.Unlock()
}

// Layer returns a copy of the named layer's aggregate.
func (r *Run) Layer(name string) Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bucket, ok := r.layers[name]; ok {
		return *bucket
	}
	return Counters{}
}

// Totals returns the sum across all layers.
func (r *Run) Totals() Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total Counters
	for _, bucket := range r.layers {
		total.Add(*bucket)
	}
	return total
}

// Elapsed returns the wall time since the run started.
func (r *Run) Elapsed() time.Duration {
	return time.Since(r.started)
}

// Report renders the human-readable summary.
func (r *Run) Report() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "run: %d regions (%d failed), %d tiles, %d meta-tiles, elapsed %s\n",
		r.Regions, r.RegionErrors, r.TilesWritten, r.MetaTiles,
		time.Since(r.started).Round(time.Millisecond))

	names := append([]string(nil), r.order...)
	if len(names) == 0 {
		for name := range r.layers {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	for _, name := range names {
		c := r.layers[name]
		fmt.Fprintf(&b, "layer %-20s rows=%-8d points=%-8d strokes=%-8d fills=%-8d text=%-6d fetch=%-10s draw=%s\n",
			name, c.RowsFetched, c.Points, c.Strokes, c.Fills, c.TextDraws,
			c.FetchTime.Round(time.Millisecond), c.DrawTime.Round(time.Millisecond))
		if n := c.ErrorCount() + c.ScriptSkips + c.OutOfRange; n > 0 {
			fmt.Fprintf(&b, "layer %-20s skipped: script=%d out-of-range=%d decode-err=%d script-err=%d query-err=%d conn-err=%d file-err=%d proj-err=%d retries=%d\n",
				name, c.ScriptSkips, c.OutOfRange, c.DecodeErrors, c.ScriptErrors,
				c.QueryErrors, c.ConnectionErrors, c.FileErrors, c.ProjectionErrors, c.Retries)
		}
	}
	return b.String()
}
