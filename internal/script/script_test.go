package script

import (
	"testing"

	"tilesmith/internal/paint"
	"tilesmith/internal/pkg/errors"
)

func newEngine(t *testing.T, source string) *LuaEngine {
	t.Helper()
	compiled, err := Compile("test", source)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	e := NewEngine(compiled)
	t.Cleanup(e.Close)
	return e
}

func TestEvalVerdict(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   bool
	}{
		{"explicit true", "return true", true},
		{"explicit false", "return false", false},
		{"no return means render", "local x = 1", true},
		{"attribute filter pass", `return population > 1000`, true},
		{"attribute filter reject", `return population > 2000000`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, tt.source)
			settings := paint.DrawSettings{}
			got, err := e.Eval(Vars{
				Attributes: map[string]any{"population": int64(1500000)},
				Zoom:       10,
				Layer:      "cities",
			}, &settings)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected verdict %v, got %v", tt.want, got)
			}
		})
	}
}

func TestEvalStyleMutation(t *testing.T) {
	e := newEngine(t, `
		if kind == "motorway" then
			style.stroke_r = 255
			style.stroke_g = 0
			style.stroke_b = 0
			style.width_fixed = 4
			style.label = name
		end
		return true
	`)

	settings := paint.DrawSettings{
		StrokeColor: paint.Color{R: 10, G: 10, B: 10, Opacity: 1},
	}
	ok, err := e.Eval(Vars{
		Attributes: map[string]any{"kind": "motorway", "name": "A9"},
		Zoom:       12,
		Layer:      "roads",
	}, &settings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected render verdict")
	}
	if settings.StrokeColor.R != 255 || settings.StrokeColor.G != 0 {
		t.Errorf("expected stroke color mutation, got %+v", settings.StrokeColor)
	}
	if settings.StrokeWidth.PixelFixed != 4 {
		t.Errorf("expected width_fixed=4, got %g", settings.StrokeWidth.PixelFixed)
	}
	if settings.Label != "A9" {
		t.Errorf("expected label from attribute, got %q", settings.Label)
	}
}

func TestEvalMutationsDoNotLeakAcrossFeatures(t *testing.T) {
	e := newEngine(t, `
		if highlight then
			style.fill_r = 200
		end
		return true
	`)

	prototype := paint.DrawSettings{FillColor: paint.Color{R: 1, Opacity: 1}}

	first := prototype.Clone()
	if _, err := e.Eval(Vars{Attributes: map[string]any{"highlight": true}}, &first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.FillColor.R != 200 {
		t.Fatalf("expected first feature mutated, got %+v", first.FillColor)
	}

	second := prototype.Clone()
	if _, err := e.Eval(Vars{Attributes: map[string]any{"highlight": false}}, &second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.FillColor.R != 1 {
		t.Errorf("expected second feature untouched, got %+v", second.FillColor)
	}
}

func TestEvalAttributesDoNotLeakAcrossFeatures(t *testing.T) {
	e := newEngine(t, `return name == "keep"`)

	settings := paint.DrawSettings{}
	got, err := e.Eval(Vars{Attributes: map[string]any{"name": "keep"}}, &settings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Fatal("expected first feature kept")
	}

	// A feature without the attribute must not inherit the prior value.
	got, err = e.Eval(Vars{Attributes: map[string]any{}}, &settings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got {
		t.Error("expected feature without the attribute skipped")
	}
}

func TestEvalScriptError(t *testing.T) {
	e := newEngine(t, `error("unreadable record")`)

	settings := paint.DrawSettings{}
	_, err := e.Eval(Vars{Layer: "roads"}, &settings)
	if err == nil {
		t.Fatal("expected script error")
	}
	if !errors.IsCode(err, errors.CodeScript) {
		t.Errorf("expected SCRIPT_ERROR, got %v", err)
	}
}

func TestEvalZoomAndLayerGlobals(t *testing.T) {
	e := newEngine(t, `return zoom >= 10 and layer == "roads"`)

	settings := paint.DrawSettings{}
	ok, err := e.Eval(Vars{Zoom: 12, Layer: "roads"}, &settings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected verdict true for zoom 12 on roads")
	}
}

func TestCompileError(t *testing.T) {
	_, err := Compile("bad", "if without then")
	if err == nil {
		t.Fatal("expected compile error")
	}
	if !errors.IsCode(err, errors.CodeScript) {
		t.Errorf("expected SCRIPT_ERROR, got %v", err)
	}
}
