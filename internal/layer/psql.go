package layer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tilesmith/internal/geom/wkb"
	"tilesmith/internal/pkg/errors"
)

// PSQLConfig is the source descriptor for a SQL-backed layer.
type PSQLConfig struct {
	// DBIdentifier names the endpoint in the connection registry.
	DBIdentifier string
	// Query is the SQL template with substitution tokens.
	Query string
	// GeometryField is the column holding WKB geometry.
	GeometryField string
}

// PSQL streams records from a PostgreSQL/PostGIS query. The query
// template is expanded per region with the well-known tokens:
//
//	{{geometry-field}}  binary-encoded geometry column expression
//	{{clipping}}        bounding-box intersection clause
//	{{minx}} {{miny}} {{maxx}} {{maxy}}  region bounds in the dst SRID
//	{{srid}}            destination SRID
//	{{zoom}}            current zoom level
type PSQL struct {
	state
	cfg      PSQLConfig
	registry *Registry
}

// NewPSQL builds a SQL-backed layer.
func NewPSQL(opts Options, cfg PSQLConfig, registry *Registry) (*PSQL, error) {
	if cfg.Query == "" {
		return nil, errors.ConfigField("query", "psql layer requires a query template")
	}
	if cfg.GeometryField == "" {
		return nil, errors.ConfigField("geometry-field", "psql layer requires a geometry column name")
	}
	s, err := newState(opts)
	if err != nil {
		return nil, err
	}
	return &PSQL{state: s, cfg: cfg, registry: registry}, nil
}

// Render executes the expanded query and paints every row.
func (l *PSQL) Render(ctx context.Context, reg *Region) error {
	if _, err := l.projection(); err != nil {
		return err
	}

	fetchStart := time.Now()

	pool, err := l.registry.Pool(ctx, l.cfg.DBIdentifier)
	if err != nil {
		return err
	}

	sql := l.expand(reg)
	rows, err := pool.Query(ctx, sql)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeQuery, "layer.psql.query", "query failed").
			WithField("layer", l.name)
	}
	defer rows.Close()

	descs := rows.FieldDescriptions()
	geomIdx := -1
	for i, d := range descs {
		if d.Name == l.cfg.GeometryField {
			geomIdx = i
			break
		}
	}
	if geomIdx < 0 {
		return errors.Newf(errors.CodeQuery, "geometry column %q missing from result", l.cfg.GeometryField).
			WithField("layer", l.name)
	}

	reg.Stats.FetchTime += time.Since(fetchStart)

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return errors.WrapWithCode(err, errors.CodeQuery, "layer.psql.scan", "row scan failed").
				WithField("layer", l.name)
		}
		reg.Stats.RowsFetched++

		raw, ok := values[geomIdx].([]byte)
		if !ok {
			reg.Stats.DecodeErrors++
			l.log.Debug("geometry column is not binary, row skipped", "row", reg.Stats.RowsFetched)
			continue
		}

		drawStart := time.Now()
		rec, err := wkb.Decode(raw)
		if err != nil {
			reg.Stats.CountError(err)
			l.log.Debug("geometry decode failed, row skipped", "error", err.Error())
			continue
		}

		attrs := make(map[string]any, len(descs)-1)
		for i, d := range descs {
			if i == geomIdx {
				continue
			}
			attrs[d.Name] = values[i]
		}

		l.paintRecord(reg, rec, attrs)
		reg.Stats.DrawTime += time.Since(drawStart)
	}
	if err := rows.Err(); err != nil {
		return errors.WrapWithCode(err, errors.CodeQuery, "layer.psql.rows", "result stream failed").
			WithField("layer", l.name)
	}
	return nil
}

func (l *PSQL) expand(reg *Region) string {
	b := reg.Bound
	clipping := fmt.Sprintf(`"%s" && ST_MakeEnvelope(%g, %g, %g, %g, %d)`,
		l.cfg.GeometryField, b.Min[0], b.Min[1], b.Max[0], b.Max[1], reg.DstSRID)
	geometry := fmt.Sprintf(`ST_AsBinary("%s") AS "%s"`, l.cfg.GeometryField, l.cfg.GeometryField)

	r := strings.NewReplacer(
		"{{geometry-field}}", geometry,
		"{{clipping}}", clipping,
		"{{minx}}", strconv.FormatFloat(b.Min[0], 'g', -1, 64),
		"{{miny}}", strconv.FormatFloat(b.Min[1], 'g', -1, 64),
		"{{maxx}}", strconv.FormatFloat(b.Max[0], 'g', -1, 64),
		"{{maxy}}", strconv.FormatFloat(b.Max[1], 'g', -1, 64),
		"{{srid}}", strconv.Itoa(reg.DstSRID),
		"{{zoom}}", strconv.Itoa(reg.Zoom),
	)
	return r.Replace(l.cfg.Query)
}

// Release is a no-op beyond the flag: pools belong to the registry and
// outlive individual layers.
func (l *PSQL) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	l.log.Debug("layer released")
}
