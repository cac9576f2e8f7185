package layer

import (
	"context"
	"encoding/csv"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"tilesmith/internal/geom"
	"tilesmith/internal/geom/proj"
	"tilesmith/internal/pkg/errors"
)

// CSVColumn declares one column of the delimited file.
type CSVColumn struct {
	Name string
	// Type is one of string, int, float, bool.
	Type string
}

// CSVConfig is the source descriptor for a delimited-text layer.
type CSVConfig struct {
	Path string
	// Delimiter defaults to a comma.
	Delimiter rune
	// HasHeader skips the first row when set.
	HasHeader bool
	// Columns declares the schema in file order.
	Columns []CSVColumn
	// XColumn and YColumn name the coordinate columns.
	XColumn string
	YColumn string
	// Scale multiplies both coordinates; defaults to 1.
	Scale float64
	// RadiusColumn optionally names a column giving the point radius
	// in meters, overriding the layer's configured radius.
	RadiusColumn string
}

type csvFeature struct {
	pt     orb.Point
	attrs  map[string]any
	radius float64
	hasRad bool
}

// CSV renders point features from a delimited text file. The whole
// file parses once per run into typed columns; each row yields a point
// from its configured X/Y columns.
type CSV struct {
	state
	cfg CSVConfig

	features   []csvFeature
	outOfRange int64
	reported   bool
}

// NewCSV builds a delimited-text layer.
func NewCSV(opts Options, cfg CSVConfig) (*CSV, error) {
	if cfg.Path == "" {
		return nil, errors.ConfigField("path", "csv layer requires a file path")
	}
	if cfg.XColumn == "" || cfg.YColumn == "" {
		return nil, errors.ConfigField("x-column", "csv layer requires x and y column names")
	}
	if len(cfg.Columns) == 0 {
		return nil, errors.ConfigField("columns", "csv layer requires a column schema")
	}
	if cfg.Scale == 0 {
		cfg.Scale = 1
	}
	s, err := newState(opts)
	if err != nil {
		return nil, err
	}
	return &CSV{state: s, cfg: cfg}, nil
}

func (l *CSV) ensureOpen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return errLayerReleased
	}
	if l.opened {
		return nil
	}

	f, err := os.Open(l.cfg.Path)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeFile, "layer.csv.open", "cannot open csv file").
			WithField("path", l.cfg.Path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	if l.cfg.Delimiter != 0 {
		r.Comma = l.cfg.Delimiter
	}
	r.FieldsPerRecord = len(l.cfg.Columns)
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeFile, "layer.csv.read", "csv parse failed").
			WithField("path", l.cfg.Path)
	}
	if l.cfg.HasHeader && len(records) > 0 {
		records = records[1:]
	}

	xIdx, yIdx, radIdx := -1, -1, -1
	for i, col := range l.cfg.Columns {
		switch col.Name {
		case l.cfg.XColumn:
			xIdx = i
		case l.cfg.YColumn:
			yIdx = i
		case l.cfg.RadiusColumn:
			radIdx = i
		}
	}
	if xIdx < 0 || yIdx < 0 {
		return errors.Newf(errors.CodeConfig, "coordinate columns %q/%q not in schema", l.cfg.XColumn, l.cfg.YColumn)
	}

	valid, checkBounds := proj.ValidBounds(l.srid)

	features := make([]csvFeature, 0, len(records))
	for _, row := range records {
		x, errX := strconv.ParseFloat(strings.TrimSpace(row[xIdx]), 64)
		y, errY := strconv.ParseFloat(strings.TrimSpace(row[yIdx]), 64)
		if errX != nil || errY != nil {
			l.outOfRange++
			continue
		}
		pt := orb.Point{x * l.cfg.Scale, y * l.cfg.Scale}
		if checkBounds && !valid.Contains(pt) {
			l.outOfRange++
			continue
		}

		attrs := make(map[string]any, len(l.cfg.Columns))
		for i, col := range l.cfg.Columns {
			attrs[col.Name] = csvValue(col.Type, row[i])
		}

		f := csvFeature{pt: pt, attrs: attrs}
		if radIdx >= 0 {
			if rad, err := strconv.ParseFloat(strings.TrimSpace(row[radIdx]), 64); err == nil {
				f.radius = rad
				f.hasRad = true
			}
		}
		features = append(features, f)
	}

	l.features = features
	l.opened = true
	l.log.Debug("csv loaded", "rows", len(records), "features", len(features), "skipped", l.outOfRange)
	return nil
}

// Render paints the in-memory points overlapping the region.
func (l *CSV) Render(ctx context.Context, reg *Region) error {
	if _, err := l.projection(); err != nil {
		return err
	}

	fetchStart := time.Now()
	if err := l.ensureOpen(); err != nil {
		return err
	}
	reg.Stats.FetchTime += time.Since(fetchStart)

	l.mu.Lock()
	if !l.reported {
		reg.Stats.OutOfRange += l.outOfRange
		l.reported = true
	}
	l.mu.Unlock()

	want := l.sourceBound(reg)

	for i := range l.features {
		if err := ctx.Err(); err != nil {
			return errors.Canceled("layer.csv.render")
		}
		f := &l.features[i]
		if !want.Contains(f.pt) {
			continue
		}

		drawStart := time.Now()
		reg.Stats.RowsFetched++
		proto := l.settings
		if f.hasRad {
			// Keep the configured pixel clamps, override the distance.
			proto.Radius.Meters = f.radius
			proto.Radius.PixelFixed = 0
		}
		l.paintRecordWith(reg, geom.NewPoint(f.pt), f.attrs, proto)
		reg.Stats.DrawTime += time.Since(drawStart)
	}
	return nil
}

// Release drops the parsed rows exactly once.
func (l *CSV) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	l.features = nil
	l.log.Debug("layer released")
}

func csvValue(typ, raw string) any {
	raw = strings.TrimSpace(raw)
	switch typ {
	case "int":
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return v
		}
		return nil
	case "float":
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
		return nil
	case "bool":
		if v, err := strconv.ParseBool(raw); err == nil {
			return v
		}
		return nil
	default:
		return raw
	}
}
