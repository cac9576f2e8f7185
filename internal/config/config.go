// Package config loads YAML job documents and compiles them into a
// validated render.Job plus the layer stack it drives. Validation
// returns the first violation found; nothing is partially applied.
package config

import (
	"os"
	"time"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"

	"tilesmith/internal/geom/proj"
	"tilesmith/internal/layer"
	"tilesmith/internal/output"
	"tilesmith/internal/paint"
	"tilesmith/internal/pkg/errors"
	"tilesmith/internal/pkg/logger"
	"tilesmith/internal/render"
)

// Document is the YAML shape of a render job.
type Document struct {
	Title   string `yaml:"title"`
	Mode    string `yaml:"mode"`
	ZoomMin int    `yaml:"zoom-min"`
	ZoomMax int    `yaml:"zoom-max"`

	BBox struct {
		MinLon float64 `yaml:"min-lon"`
		MinLat float64 `yaml:"min-lat"`
		MaxLon float64 `yaml:"max-lon"`
		MaxLat float64 `yaml:"max-lat"`
	} `yaml:"bbox"`

	SRID     int `yaml:"srid"`
	TileSize int `yaml:"tile-size"`
	MetaSize int `yaml:"meta-size"`

	Image struct {
		Width   int `yaml:"width"`
		Height  int `yaml:"height"`
		Padding int `yaml:"padding"`
	} `yaml:"image"`
	Frames int `yaml:"frames"`

	Output     string `yaml:"output"`
	Format     string `yaml:"format"`
	Background Color  `yaml:"background"`
	Workers    int    `yaml:"workers"`

	Defaults struct {
		Fill   *Color `yaml:"fill"`
		Stroke *Color `yaml:"stroke"`
		Text   *Color `yaml:"text"`
	} `yaml:"defaults"`

	Databases []Database `yaml:"psql-db"`
	Layers    []Layer    `yaml:"layers"`
}

// Color is an RGB color with opacity in [0, 1].
type Color struct {
	R       uint8   `yaml:"r"`
	G       uint8   `yaml:"g"`
	B       uint8   `yaml:"b"`
	Opacity float64 `yaml:"opacity"`
}

func (c Color) paint() paint.Color {
	return paint.Color{R: c.R, G: c.G, B: c.B, Opacity: c.Opacity}
}

// Measure is a ground distance with pixel clamps.
type Measure struct {
	Meters     float64 `yaml:"meters"`
	PixelMin   float64 `yaml:"pixel-min"`
	PixelMax   float64 `yaml:"pixel-max"`
	PixelFixed float64 `yaml:"pixel-fixed"`
}

func (m Measure) paint() paint.Measure {
	return paint.Measure{
		Meters:     m.Meters,
		PixelMin:   m.PixelMin,
		PixelMax:   m.PixelMax,
		PixelFixed: m.PixelFixed,
	}
}

// Database is one entry of the psql-db array.
type Database struct {
	Identifier string `yaml:"identifier"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	DBName     string `yaml:"db-name"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	// Timeout is the connect timeout in seconds.
	Timeout int `yaml:"timeout"`
}

// Column declares one column of a delimited-text source.
type Column struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Layer is one entry of the layers array.
type Layer struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	SRID    int    `yaml:"srid"`
	ZoomMin int    `yaml:"zoom-min"`
	ZoomMax int    `yaml:"zoom-max"`

	DrawMode   string  `yaml:"draw-mode"`
	PointShape string  `yaml:"point-shape"`
	Fill       *Color  `yaml:"fill"`
	Stroke     *Color  `yaml:"stroke"`
	Text       *Color  `yaml:"text"`
	Width      Measure `yaml:"stroke-width"`
	Radius     Measure `yaml:"radius"`

	Dash  []float64 `yaml:"dash"`
	Blend string    `yaml:"blend-mode"`
	Label string    `yaml:"label"`

	Script string `yaml:"script"`

	// PSQL source fields.
	DB            string `yaml:"db"`
	Query         string `yaml:"query"`
	GeometryField string `yaml:"geometry-field"`

	// File-backed source fields.
	Path string `yaml:"path"`

	// Delimited-text source fields.
	Delimiter    string   `yaml:"delimiter"`
	Header       bool     `yaml:"header"`
	Columns      []Column `yaml:"columns"`
	XColumn      string   `yaml:"x-column"`
	YColumn      string   `yaml:"y-column"`
	Scale        float64  `yaml:"scale"`
	RadiusColumn string   `yaml:"radius-column"`
}

// Load reads and parses a job document.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeFile, "config.load", "cannot read job document").
			WithField("path", path)
	}
	return Parse(raw)
}

// Parse decodes a job document from YAML.
func Parse(raw []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeConfig, "config.parse", "malformed job document")
	}
	return &doc, nil
}

// Deps carries the shared collaborators layer construction needs.
type Deps struct {
	Projections *proj.Cache
	Log         *logger.Logger
}

// Build compiles the document into a validated job and the connection
// registry backing its PSQL layers.
func Build(doc *Document, deps Deps) (render.Job, *layer.Registry, error) {
	if deps.Projections == nil {
		deps.Projections = proj.NewCache()
	}

	mode, err := render.ParseMode(doc.Mode)
	if err != nil {
		return render.Job{}, nil, err
	}
	format, err := output.ParseFormat(doc.Format)
	if err != nil {
		return render.Job{}, nil, err
	}

	dbs := make([]layer.DB, 0, len(doc.Databases))
	for _, d := range doc.Databases {
		if d.Identifier == "" {
			return render.Job{}, nil, errors.ConfigField("psql-db", "database entry needs an identifier")
		}
		dbs = append(dbs, layer.DB{
			Identifier: d.Identifier,
			Host:       d.Host,
			Port:       d.Port,
			DBName:     d.DBName,
			User:       d.User,
			Password:   d.Password,
			Timeout:    time.Duration(d.Timeout) * time.Second,
		})
	}
	registry := layer.NewRegistry(dbs)

	job := render.Job{
		Title:   doc.Title,
		Mode:    mode,
		ZoomMin: doc.ZoomMin,
		ZoomMax: doc.ZoomMax,
		Bound: orb.Bound{
			Min: orb.Point{doc.BBox.MinLon, doc.BBox.MinLat},
			Max: orb.Point{doc.BBox.MaxLon, doc.BBox.MaxLat},
		},
		DstSRID:     doc.SRID,
		TileSize:    doc.TileSize,
		MetaSize:    doc.MetaSize,
		ImageWidth:  doc.Image.Width,
		ImageHeight: doc.Image.Height,
		Padding:     doc.Image.Padding,
		FrameCount:  doc.Frames,
		Format:      format,
		Background:  doc.Background.paint(),
		Workers:     doc.Workers,
	}
	job.Normalize()

	for i := range doc.Layers {
		l, err := buildLayer(&doc.Layers[i], doc, &job, registry, deps)
		if err != nil {
			return render.Job{}, nil, err
		}
		job.Layers = append(job.Layers, l)
	}

	if err := job.Validate(); err != nil {
		return render.Job{}, nil, err
	}
	return job, registry, nil
}

func buildLayer(l *Layer, doc *Document, job *render.Job, registry *layer.Registry, deps Deps) (layer.Layer, error) {
	if l.Name == "" {
		return nil, errors.ConfigField("layers", "layer needs a name")
	}

	settings, err := buildSettings(l, doc)
	if err != nil {
		return nil, err
	}

	zoomMax := l.ZoomMax
	if zoomMax == 0 {
		zoomMax = 22
	}
	opts := layer.Options{
		Name:        l.Name,
		SRID:        l.SRID,
		ZoomMin:     l.ZoomMin,
		ZoomMax:     zoomMax,
		Settings:    settings,
		Script:      l.Script,
		DstSRID:     job.DstSRID,
		Projections: deps.Projections,
		Log:         deps.Log,
	}

	switch l.Type {
	case "psql":
		return layer.NewPSQL(opts, layer.PSQLConfig{
			DBIdentifier:  l.DB,
			Query:         l.Query,
			GeometryField: l.GeometryField,
		}, registry)
	case "shape":
		return layer.NewShape(opts, layer.ShapeConfig{Path: l.Path})
	case "polygon":
		return layer.NewPolygon(opts, layer.PolygonConfig{Path: l.Path})
	case "csv":
		cfg := layer.CSVConfig{
			Path:         l.Path,
			HasHeader:    l.Header,
			XColumn:      l.XColumn,
			YColumn:      l.YColumn,
			Scale:        l.Scale,
			RadiusColumn: l.RadiusColumn,
		}
		if l.Delimiter != "" {
			cfg.Delimiter = []rune(l.Delimiter)[0]
		}
		for _, col := range l.Columns {
			switch col.Type {
			case "string", "int", "float", "bool", "":
			default:
				return nil, errors.Configf("layer %q: unknown column type %q", l.Name, col.Type)
			}
			cfg.Columns = append(cfg.Columns, layer.CSVColumn{Name: col.Name, Type: col.Type})
		}
		return layer.NewCSV(opts, cfg)
	default:
		return nil, errors.Configf("layer %q: unknown type %q", l.Name, l.Type)
	}
}

func buildSettings(l *Layer, doc *Document) (paint.DrawSettings, error) {
	mode, ok := paint.ParseDrawMode(modeOrDefault(l.DrawMode))
	if !ok {
		return paint.DrawSettings{}, errors.Configf("layer %q: unknown draw mode %q", l.Name, l.DrawMode)
	}
	shape, ok := paint.ParsePointShape(l.PointShape)
	if !ok {
		return paint.DrawSettings{}, errors.Configf("layer %q: unknown point shape %q", l.Name, l.PointShape)
	}

	blend := paint.BlendMode(l.Blend)
	switch blend {
	case "", paint.BlendNormal:
		blend = paint.BlendNormal
	case paint.BlendMultiply, paint.BlendScreen, paint.BlendOverlay:
	default:
		return paint.DrawSettings{}, errors.Configf("layer %q: unknown blend mode %q", l.Name, l.Blend)
	}

	return paint.DrawSettings{
		Mode:        mode,
		Shape:       shape,
		FillColor:   pickColor(l.Fill, doc.Defaults.Fill),
		StrokeColor: pickColor(l.Stroke, doc.Defaults.Stroke),
		TextColor:   pickColor(l.Text, doc.Defaults.Text),
		StrokeWidth: l.Width.paint(),
		Radius:      l.Radius.paint(),
		Dash:        l.Dash,
		Blend:       blend,
		Label:       l.Label,
	}, nil
}

func modeOrDefault(s string) string {
	if s == "" {
		return "fill"
	}
	return s
}

// pickColor prefers the layer's own color, then the job default, then
// opaque black.
func pickColor(own, def *Color) paint.Color {
	if own != nil {
		return own.paint()
	}
	if def != nil {
		return def.paint()
	}
	return paint.Color{Opacity: 1}
}
