package pattern

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"stripcast/internal/core"
)

// defaultCallTimeout bounds each call into a script so a runaway loop cannot
// stall the frame scheduler.
const defaultCallTimeout = 250 * time.Millisecond

// LuaPattern runs a script that may define the globals init(), update(dt, t),
// render() and cleanup(). Each instance owns a private Lua state.
type LuaPattern struct {
	name   string
	load   func(L *lua.LState) error
	log    zerolog.Logger
	errLog zerolog.Logger

	L           *lua.LState
	vp          *core.Viewport
	params      Params
	callTimeout time.Duration
}

// NewLuaFile builds a pattern from a script file.
func NewLuaFile(path string, log zerolog.Logger) *LuaPattern {
	return newLua(path, func(L *lua.LState) error { return L.DoFile(path) }, log)
}

// NewLuaString builds a pattern from inline source.
func NewLuaString(name, code string, log zerolog.Logger) *LuaPattern {
	return newLua(name, func(L *lua.LState) error { return L.DoString(code) }, log)
}

func newLua(name string, load func(*lua.LState) error, log zerolog.Logger) *LuaPattern {
	l := log.With().Str("component", "lua").Str("script", name).Logger()
	return &LuaPattern{
		name:        name,
		load:        load,
		log:         l,
		errLog:      l.Sample(&zerolog.BasicSampler{N: 100}),
		callTimeout: defaultCallTimeout,
	}
}

// Initialize loads the script into a fresh state and runs init().
func (p *LuaPattern) Initialize(vp *core.Viewport, params Params) error {
	p.vp = vp
	p.params = params
	p.L = lua.NewState()
	p.registerGoFunctions(p.L)

	if err := p.load(p.L); err != nil {
		p.close()
		return fmt.Errorf("load %s: %w", p.name, err)
	}
	if err := p.call("init"); err != nil {
		p.close()
		return fmt.Errorf("init %s: %w", p.name, err)
	}
	p.log.Debug().Msg("script initialized")
	return nil
}

// Update runs update(dt, t) with seconds.
func (p *LuaPattern) Update(dt, total time.Duration) {
	if err := p.call("update", lua.LNumber(dt.Seconds()), lua.LNumber(total.Seconds())); err != nil {
		p.errLog.Warn().Err(err).Msg("update failed")
	}
}

// Render runs render() against vp.
func (p *LuaPattern) Render(vp *core.Viewport) {
	p.vp = vp
	if err := p.call("render"); err != nil {
		p.errLog.Warn().Err(err).Msg("render failed")
	}
}

// Cleanup runs cleanup() and releases the Lua state.
func (p *LuaPattern) Cleanup() {
	if err := p.call("cleanup"); err != nil {
		p.log.Warn().Err(err).Msg("cleanup failed")
	}
	p.close()
}

func (p *LuaPattern) close() {
	if p.L != nil {
		p.L.Close()
		p.L = nil
	}
}

// call invokes a global function if the script defines it.
func (p *LuaPattern) call(name string, args ...lua.LValue) error {
	if p.L == nil {
		return nil
	}
	fn := p.L.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.callTimeout)
	defer cancel()
	p.L.SetContext(ctx)
	defer p.L.RemoveContext()

	return p.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...)
}
