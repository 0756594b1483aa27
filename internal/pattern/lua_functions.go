package pattern

import (
	lua "github.com/yuin/gopher-lua"

	"stripcast/internal/core"
)

// registerGoFunctions exposes the drawing API to the given Lua state.
func (p *LuaPattern) registerGoFunctions(L *lua.LState) {
	L.SetGlobal("width", L.NewFunction(p.luaWidth))
	L.SetGlobal("height", L.NewFunction(p.luaHeight))
	L.SetGlobal("set_pixel", L.NewFunction(p.luaSetPixel))
	L.SetGlobal("fill", L.NewFunction(p.luaFill))
	L.SetGlobal("hsv", L.NewFunction(luaHSV))
	L.SetGlobal("param", L.NewFunction(p.luaParam))
	L.SetGlobal("log", L.NewFunction(p.luaLog))
	L.SetGlobal("print", L.NewFunction(p.luaLog))
}

func (p *LuaPattern) luaWidth(L *lua.LState) int {
	w := 0
	if p.vp != nil {
		w = p.vp.Width()
	}
	L.Push(lua.LNumber(w))
	return 1
}

func (p *LuaPattern) luaHeight(L *lua.LState) int {
	h := 0
	if p.vp != nil {
		h = p.vp.Height()
	}
	L.Push(lua.LNumber(h))
	return 1
}

// set_pixel(x, y, r, g, b)
func (p *LuaPattern) luaSetPixel(L *lua.LState) int {
	if p.vp == nil {
		return 0
	}
	x, y := L.ToInt(1), L.ToInt(2)
	p.vp.Set(x, y, core.ClampedRGB(L.ToInt(3), L.ToInt(4), L.ToInt(5)))
	return 0
}

// fill(r, g, b)
func (p *LuaPattern) luaFill(L *lua.LState) int {
	if p.vp == nil {
		return 0
	}
	p.vp.Fill(core.ClampedRGB(L.ToInt(1), L.ToInt(2), L.ToInt(3)))
	return 0
}

// hsv(h, s, v) returns r, g, b in 0..255.
func luaHSV(L *lua.LState) int {
	c := core.FromHSV(float64(L.ToNumber(1)), float64(L.ToNumber(2)), float64(L.ToNumber(3)))
	L.Push(lua.LNumber(c.R()))
	L.Push(lua.LNumber(c.G()))
	L.Push(lua.LNumber(c.B()))
	return 3
}

// param(name, default)
func (p *LuaPattern) luaParam(L *lua.LState) int {
	name := L.ToString(1)
	def := float64(L.OptNumber(2, 0))
	L.Push(lua.LNumber(p.params.Get(name, def)))
	return 1
}

func (p *LuaPattern) luaLog(L *lua.LState) int {
	p.log.Info().Msg(L.ToString(1))
	return 0
}
