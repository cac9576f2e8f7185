// Package script exposes per-feature attributes and mutable draw
// settings to an embedded Lua script and returns its render/skip
// verdict. The chunk is compiled once per layer; each worker owns its
// own interpreter state because Lua states are not thread-safe.
package script

import (
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"tilesmith/internal/paint"
	"tilesmith/internal/pkg/errors"
)

// Vars is what one feature exposes to the script. The geometry itself
// is withheld; scripts only ever see attribute columns and render
// context.
type Vars struct {
	// Attributes are the record's typed attribute columns by name.
	Attributes map[string]any
	// Zoom is the zoom level of the region being rendered.
	Zoom int
	// Time is the animation time in [0, 1]; 0 outside animations.
	Time float64
	// Layer is the owning layer's name.
	Layer string
}

// Engine evaluates the layer script against one feature. True means
// render the feature with any style mutations applied; false means
// skip it. Implementations are not safe for concurrent use.
type Engine interface {
	Eval(vars Vars, settings *paint.DrawSettings) (bool, error)
	Close()
}

// Compiled is a compiled chunk. The function prototype is immutable
// and may back any number of per-worker engines.
type Compiled struct {
	name  string
	proto *lua.FunctionProto
}

// Compile parses and compiles a script once per layer per run.
func Compile(name, source string) (*Compiled, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeScript, "script.compile", "parse failed")
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeScript, "script.compile", "compile failed")
	}
	return &Compiled{name: name, proto: proto}, nil
}

// LuaEngine is the gopher-lua implementation of Engine.
type LuaEngine struct {
	state *lua.LState
	proto *lua.FunctionProto
	// attrNames are the globals set for the previous feature, cleared
	// before the next Eval so a sparse attribute map never inherits a
	// prior feature's values.
	attrNames []string
}

// NewEngine returns a fresh interpreter for the compiled chunk. Only
// the base, table, string and math libraries are opened; scripts have
// no io or os access.
func NewEngine(c *Compiled) *LuaEngine {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	return &LuaEngine{state: L, proto: c.proto}
}

// Eval runs the chunk for one feature. The chunk's return value is the
// verdict; no return value means render. Mutations to the global
// `style` table are copied back into settings before returning.
func (e *LuaEngine) Eval(vars Vars, settings *paint.DrawSettings) (bool, error) {
	L := e.state

	for _, name := range e.attrNames {
		L.SetGlobal(name, lua.LNil)
	}
	e.attrNames = e.attrNames[:0]
	for name, value := range vars.Attributes {
		L.SetGlobal(name, toLua(L, value))
		e.attrNames = append(e.attrNames, name)
	}
	L.SetGlobal("zoom", lua.LNumber(vars.Zoom))
	L.SetGlobal("time", lua.LNumber(vars.Time))
	L.SetGlobal("layer", lua.LString(vars.Layer))

	styleTable := settingsToTable(L, settings)
	L.SetGlobal("style", styleTable)

	L.Push(L.NewFunctionFromProto(e.proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return false, errors.WrapWithCode(err, errors.CodeScript, "script.eval", "script raised an error").
			WithField("layer", vars.Layer)
	}
	verdict := L.Get(-1)
	L.Pop(1)

	if verdict == lua.LFalse {
		return false, nil
	}

	if tbl, ok := L.GetGlobal("style").(*lua.LTable); ok {
		applyTable(tbl, settings)
	}
	return true, nil
}

// Close releases the interpreter state.
func (e *LuaEngine) Close() {
	e.state.Close()
}

func toLua(L *lua.LState, v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(t)
	case []byte:
		return lua.LString(t)
	case bool:
		return lua.LBool(t)
	case int:
		return lua.LNumber(t)
	case int16:
		return lua.LNumber(t)
	case int32:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case float32:
		return lua.LNumber(t)
	case float64:
		return lua.LNumber(t)
	case time.Time:
		return lua.LString(t.UTC().Format(time.RFC3339))
	default:
		return lua.LNil
	}
}

func settingsToTable(L *lua.LState, s *paint.DrawSettings) *lua.LTable {
	tbl := L.NewTable()

	setColor := func(prefix string, c paint.Color) {
		tbl.RawSetString(prefix+"_r", lua.LNumber(c.R))
		tbl.RawSetString(prefix+"_g", lua.LNumber(c.G))
		tbl.RawSetString(prefix+"_b", lua.LNumber(c.B))
		tbl.RawSetString(prefix+"_opacity", lua.LNumber(c.Opacity))
	}
	setColor("fill", s.FillColor)
	setColor("stroke", s.StrokeColor)
	setColor("text", s.TextColor)

	tbl.RawSetString("width_meters", lua.LNumber(s.StrokeWidth.Meters))
	tbl.RawSetString("width_fixed", lua.LNumber(s.StrokeWidth.PixelFixed))
	tbl.RawSetString("radius_meters", lua.LNumber(s.Radius.Meters))
	tbl.RawSetString("radius_fixed", lua.LNumber(s.Radius.PixelFixed))
	tbl.RawSetString("label", lua.LString(s.Label))
	tbl.RawSetString("blend", lua.LString(string(s.Blend)))
	return tbl
}

func applyTable(tbl *lua.LTable, s *paint.DrawSettings) {
	getColor := func(prefix string, c *paint.Color) {
		if v, ok := tbl.RawGetString(prefix + "_r").(lua.LNumber); ok {
			c.R = clampByte(float64(v))
		}
		if v, ok := tbl.RawGetString(prefix + "_g").(lua.LNumber); ok {
			c.G = clampByte(float64(v))
		}
		if v, ok := tbl.RawGetString(prefix + "_b").(lua.LNumber); ok {
			c.B = clampByte(float64(v))
		}
		if v, ok := tbl.RawGetString(prefix + "_opacity").(lua.LNumber); ok {
			c.Opacity = float64(v)
		}
	}
	getColor("fill", &s.FillColor)
	getColor("stroke", &s.StrokeColor)
	getColor("text", &s.TextColor)

	if v, ok := tbl.RawGetString("width_meters").(lua.LNumber); ok {
		s.StrokeWidth.Meters = float64(v)
	}
	if v, ok := tbl.RawGetString("width_fixed").(lua.LNumber); ok {
		s.StrokeWidth.PixelFixed = float64(v)
	}
	if v, ok := tbl.RawGetString("radius_meters").(lua.LNumber); ok {
		s.Radius.Meters = float64(v)
	}
	if v, ok := tbl.RawGetString("radius_fixed").(lua.LNumber); ok {
		s.Radius.PixelFixed = float64(v)
	}
	if v, ok := tbl.RawGetString("label").(lua.LString); ok {
		s.Label = string(v)
	}
	if v, ok := tbl.RawGetString("blend").(lua.LString); ok {
		s.Blend = paint.BlendMode(v)
	}
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
