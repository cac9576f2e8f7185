package layer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"tilesmith/internal/geom/proj"
	"tilesmith/internal/paint"
	"tilesmith/internal/pkg/errors"
	"tilesmith/internal/script"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestZoomGating(t *testing.T) {
	s, err := newState(Options{Name: "gated", SRID: 4326, ZoomMin: 5, ZoomMax: 10, DstSRID: 4326})
	if err != nil {
		t.Fatalf("new state: %v", err)
	}

	tests := []struct {
		zoom int
		want bool
	}{
		{4, false},
		{5, true},
		{7, true},
		{10, true},
		{11, false},
	}
	for _, tt := range tests {
		if got := s.Active(tt.zoom); got != tt.want {
			t.Errorf("Active(%d) = %v, want %v", tt.zoom, got, tt.want)
		}
	}
}

func TestCSVLayer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.csv")
	writeFile(t, path, []byte(
		"name,lon,lat,size\n"+
			"berlin,13.4,52.5,120\n"+
			"lisbon,-9.14,38.7,80\n"+
			"bogus,512.0,99.0,10\n"+
			"junk,abc,def,5\n"))

	l, err := NewCSV(Options{
		Name:        "cities",
		SRID:        proj.SRIDWGS84,
		ZoomMax:     18,
		Settings:    paint.DrawSettings{Mode: paint.Fill, Radius: paint.Measure{PixelFixed: 3}},
		DstSRID:     proj.SRIDWGS84,
		Projections: proj.NewCache(),
	}, CSVConfig{
		Path:      path,
		HasHeader: true,
		Columns: []CSVColumn{
			{Name: "name", Type: "string"},
			{Name: "lon", Type: "float"},
			{Name: "lat", Type: "float"},
			{Name: "size", Type: "float"},
		},
		XColumn:      "lon",
		YColumn:      "lat",
		RadiusColumn: "size",
	})
	if err != nil {
		t.Fatalf("new csv layer: %v", err)
	}
	defer l.Release()

	canvas := &countingCanvas{}
	reg := testRegion(orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}, canvas)

	if err := l.Render(context.Background(), reg); err != nil {
		t.Fatalf("render: %v", err)
	}

	if canvas.fills != 2 {
		t.Errorf("expected 2 point fills, got %d", canvas.fills)
	}
	if reg.Stats.OutOfRange != 2 {
		t.Errorf("expected 2 out-of-range rows, got %d", reg.Stats.OutOfRange)
	}
	if reg.Stats.Points != 2 {
		t.Errorf("expected 2 points counted, got %d", reg.Stats.Points)
	}
}

func TestUnsupportedProjectionFatalToLayer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.csv")
	writeFile(t, path, []byte(
		"name,x,y\n"+
			"paris,650000,6860000\n"+
			"lyon,840000,6520000\n"))

	l, err := NewCSV(Options{
		Name:        "stations",
		SRID:        proj.SRIDLambert93,
		ZoomMax:     18,
		Settings:    paint.DrawSettings{Mode: paint.Fill, Radius: paint.Measure{PixelFixed: 3}},
		DstSRID:     proj.SRIDWebMercator,
		Projections: proj.NewCache(),
	}, CSVConfig{
		Path:      path,
		HasHeader: true,
		Columns: []CSVColumn{
			{Name: "name", Type: "string"},
			{Name: "x", Type: "float"},
			{Name: "y", Type: "float"},
		},
		XColumn: "x",
		YColumn: "y",
	})
	if err != nil {
		t.Fatalf("new csv layer: %v", err)
	}
	defer l.Release()

	canvas := &countingCanvas{}
	reg := testRegion(orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}, canvas)

	err = l.Render(context.Background(), reg)
	if err == nil {
		t.Fatal("expected a layer-scoped error for the unsupported SRID pair")
	}
	if !errors.IsCode(err, errors.CodeProjection) {
		t.Errorf("error code = %s, want %s", errors.GetCode(err), errors.CodeProjection)
	}
	if canvas.fills != 0 {
		t.Errorf("failed layer must not draw, got %d fills", canvas.fills)
	}
	if reg.Stats.ProjectionErrors != 0 {
		t.Errorf("projection failure is layer-scoped, not per feature; counted %d", reg.Stats.ProjectionErrors)
	}
}

func TestCSVRegionFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.csv")
	writeFile(t, path, []byte("1.0,1.0\n50.0,50.0\n"))

	l, err := NewCSV(Options{
		Name:        "pts",
		SRID:        proj.SRIDWGS84,
		ZoomMax:     18,
		Settings:    paint.DrawSettings{Mode: paint.Fill, Radius: paint.Measure{PixelFixed: 2}},
		DstSRID:     proj.SRIDWGS84,
		Projections: proj.NewCache(),
	}, CSVConfig{
		Path: path,
		Columns: []CSVColumn{
			{Name: "x", Type: "float"},
			{Name: "y", Type: "float"},
		},
		XColumn: "x",
		YColumn: "y",
	})
	if err != nil {
		t.Fatalf("new csv layer: %v", err)
	}
	defer l.Release()

	canvas := &countingCanvas{}
	reg := testRegion(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}, canvas)
	if err := l.Render(context.Background(), reg); err != nil {
		t.Fatalf("render: %v", err)
	}

	if canvas.fills != 1 {
		t.Errorf("expected only the in-region point, got %d fills", canvas.fills)
	}
}

func TestScriptHookSkipsFeatures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.csv")
	writeFile(t, path, []byte("a,1.0,1.0\nb,2.0,2.0\n"))

	l, err := NewCSV(Options{
		Name:        "scripted",
		SRID:        proj.SRIDWGS84,
		ZoomMax:     18,
		Settings:    paint.DrawSettings{Mode: paint.Fill, Radius: paint.Measure{PixelFixed: 2}},
		Script:      `return name == "a"`,
		DstSRID:     proj.SRIDWGS84,
		Projections: proj.NewCache(),
	}, CSVConfig{
		Path: path,
		Columns: []CSVColumn{
			{Name: "name", Type: "string"},
			{Name: "x", Type: "float"},
			{Name: "y", Type: "float"},
		},
		XColumn: "x",
		YColumn: "y",
	})
	if err != nil {
		t.Fatalf("new csv layer: %v", err)
	}
	defer l.Release()

	engine := script.NewEngine(l.Script())
	defer engine.Close()

	canvas := &countingCanvas{}
	reg := testRegion(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}, canvas)
	reg.Engine = engine

	if err := l.Render(context.Background(), reg); err != nil {
		t.Fatalf("render: %v", err)
	}

	if canvas.fills != 1 {
		t.Errorf("expected 1 rendered feature, got %d", canvas.fills)
	}
	if reg.Stats.ScriptSkips != 1 {
		t.Errorf("expected 1 script skip, got %d", reg.Stats.ScriptSkips)
	}
}

func TestPSQLTemplateExpansion(t *testing.T) {
	l, err := NewPSQL(Options{
		Name:        "roads",
		SRID:        3857,
		ZoomMax:     18,
		DstSRID:     3857,
		Projections: proj.NewCache(),
	}, PSQLConfig{
		DBIdentifier:  "gis",
		Query:         `SELECT {{geometry-field}}, kind FROM roads WHERE {{clipping}} AND min_zoom <= {{zoom}}`,
		GeometryField: "geom",
	}, NewRegistry(nil))
	if err != nil {
		t.Fatalf("new psql layer: %v", err)
	}

	reg := testRegion(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{100, 200}}, nil)
	reg.DstSRID = 3857
	reg.Zoom = 9

	sql := l.expand(reg)

	for _, want := range []string{
		`ST_AsBinary("geom") AS "geom"`,
		`"geom" && ST_MakeEnvelope(0, 0, 100, 200, 3857)`,
		`min_zoom <= 9`,
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("expected expansion to contain %q, got %q", want, sql)
		}
	}
}
