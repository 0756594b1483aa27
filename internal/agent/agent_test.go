package agent

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stripcast/internal/ble"
	"stripcast/internal/config"
	"stripcast/internal/core"
	"stripcast/internal/pattern"
	"stripcast/internal/server"
)

type recordingConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *recordingConn) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), p...))
	return nil
}

func (c *recordingConn) Disconnect() error { return nil }

func (c *recordingConn) last() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return nil
	}
	return c.frames[len(c.frames)-1]
}

type stripPlatform struct {
	mu    sync.Mutex
	conns map[string]*recordingConn
}

func (p *stripPlatform) Scan(context.Context, time.Duration) ([]ble.ScanResult, error) {
	return []ble.ScanResult{{Name: "LED_STRIP_0", Address: "AA"}, {Name: "LED_STRIP_1", Address: "BB"}}, nil
}

func (p *stripPlatform) Connect(_ context.Context, address string) (ble.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &recordingConn{}
	p.conns[address] = c
	return c, nil
}

func (p *stripPlatform) conn(address string) *recordingConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[address]
}

func newTestAgent(t *testing.T) (*Agent, *stripPlatform) {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Parse([]byte(`
viewport: {width: 3, height: 2}
render: {target_fps: 30, preview_fps: 10, default_pattern: solid}
strips:
  - {id: 0, length: 3, start: {x: 0, y: 0}, end: {x: 2, y: 0}}
  - {id: 1, length: 3, start: {x: 0, y: 1}, end: {x: 2, y: 1}, reverse: true}
ble: {frame_rate_limit: 1000, frame_rate_burst: 100}
patterns_dir: ` + filepath.Join(dir, "patterns") + `
schedules_file: ` + filepath.Join(dir, "schedules.json") + `
`))
	require.NoError(t, err)

	p := &stripPlatform{conns: make(map[string]*recordingConn)}
	a, err := New(cfg, p, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { a.cancel() })
	return a, p
}

func TestOnFrameSendsEveryConnectedStrip(t *testing.T) {
	a, p := newTestAgent(t)
	n, err := a.devices.ScanAndConnect(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	vp := core.NewViewport(3, 2)
	vp.Set(0, 0, core.Red)
	vp.Set(2, 1, core.Blue)
	a.onFrame(vp)

	require.Eventually(t, func() bool {
		return p.conn("AA").last() != nil && p.conn("BB").last() != nil
	}, time.Second, 5*time.Millisecond)

	strip0, err := ble.DecodeFrame(p.conn("AA").last())
	require.NoError(t, err)
	assert.Equal(t, []core.Color{core.Red, core.Black, core.Black}, strip0)

	strip1, err := ble.DecodeFrame(p.conn("BB").last())
	require.NoError(t, err)
	assert.Equal(t, []core.Color{core.Blue, core.Black, core.Black}, strip1, "reversed strip starts at the far end")
}

func TestOnFrameSkipsDisconnectedStrips(t *testing.T) {
	a, p := newTestAgent(t)
	_, err := a.devices.ScanAndConnect(context.Background())
	require.NoError(t, err)
	a.handleCommand(core.Command{Type: core.CmdDisconnectStrip, StripID: 1})

	before := len(p.conn("BB").frames)
	a.onFrame(core.NewViewport(3, 2))
	require.Eventually(t, func() bool { return p.conn("AA").last() != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, before, len(p.conn("BB").frames))
	assert.Equal(t, ble.StateDisconnected, a.devices.State(1))
}

func TestHandlePatternCommands(t *testing.T) {
	a, _ := newTestAgent(t)

	a.handleCommand(core.Command{Type: core.CmdSetPattern, Pattern: "rainbow", Params: map[string]float64{"speed": 10}})
	assert.Equal(t, "rainbow", a.frames.ActivePattern())

	a.handleCommand(core.Command{Type: core.CmdSetPattern, Pattern: "does-not-exist"})
	assert.Equal(t, "rainbow", a.frames.ActivePattern(), "unknown pattern leaves the current one running")

	a.handleCommand(core.Command{Type: core.CmdStopPattern})
	assert.Equal(t, "", a.frames.ActivePattern())
}

func TestHandleConnectCommand(t *testing.T) {
	a, _ := newTestAgent(t)
	_, err := a.devices.ScanAndConnect(context.Background())
	require.NoError(t, err)
	a.handleCommand(core.Command{Type: core.CmdDisconnectStrip, StripID: 0})
	require.False(t, a.devices.Connected(0))

	a.handleCommand(core.Command{Type: core.CmdConnectStrip, StripID: 0})
	require.Eventually(t, func() bool { return a.devices.Connected(0) }, time.Second, 5*time.Millisecond)
}

func TestShutdown(t *testing.T) {
	a, _ := newTestAgent(t)
	_, err := a.devices.ScanAndConnect(context.Background())
	require.NoError(t, err)
	a.frames.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))
	assert.False(t, a.frames.Running())
	assert.Empty(t, a.devices.ConnectedStrips())
}

// panelConn is a management client that records decoded JSON messages.
type panelConn struct {
	mu   sync.Mutex
	msgs []map[string]any
}

func (c *panelConn) WriteMessage(_ int, data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *panelConn) Close() error { return nil }

func (c *panelConn) last() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msgs[len(c.msgs)-1]
}

func addPanel(t *testing.T, a *Agent) (*panelConn, string) {
	t.Helper()
	c := &panelConn{}
	id, err := a.discoveryCast.AddClient(c)
	require.NoError(t, err)
	return c, id
}

func TestScheduleCommands(t *testing.T) {
	a, _ := newTestAgent(t)
	panel, id := addPanel(t, a)

	a.handleCommand(core.Command{Type: core.CmdAddSchedule, Spec: "0 7 * * *", Schedule: "pattern rainbow", ClientID: id})
	require.Equal(t, 1, a.scheduler.Len())
	assert.Equal(t, server.TypeScheduleList, panel.last()["type"])

	a.handleCommand(core.Command{Type: core.CmdAddSchedule, Spec: "0 7 * * *", Schedule: "explode", ClientID: id})
	assert.Equal(t, 1, a.scheduler.Len())
	assert.Equal(t, server.TypeError, panel.last()["type"])

	a.handleCommand(core.Command{Type: core.CmdListSchedules, ClientID: id})
	list := panel.last()
	require.Equal(t, server.TypeScheduleList, list["type"])
	require.Len(t, list["schedules"], 1)
	scheduleID := int(list["schedules"].([]any)[0].(map[string]any)["id"].(float64))

	a.handleCommand(core.Command{Type: core.CmdRemoveSchedule, ScheduleID: scheduleID, ClientID: id})
	assert.Equal(t, 0, a.scheduler.Len())
	assert.Empty(t, panel.last()["schedules"])
}

func TestPatternCodeCommands(t *testing.T) {
	a, _ := newTestAgent(t)
	panel, id := addPanel(t, a)
	const script = `function render() fill(0, 255, 0) end`

	a.handleCommand(core.Command{Type: core.CmdSavePatternCode, Pattern: "green.lua", Code: script, ClientID: id})
	assert.Equal(t, server.TypePatternList, panel.last()["type"])
	_, ok := a.patterns.Get(pattern.LuaPrefix + "green.lua")
	require.True(t, ok, "saved script is registered")

	a.handleCommand(core.Command{Type: core.CmdGetPatternCode, Pattern: "green.lua", ClientID: id})
	assert.Equal(t, map[string]any{"type": server.TypePatternCode, "name": "green.lua", "code": script}, panel.last())

	a.handleCommand(core.Command{Type: core.CmdSetPattern, Pattern: pattern.LuaPrefix + "green.lua"})
	require.Equal(t, pattern.LuaPrefix+"green.lua", a.frames.ActivePattern())

	a.handleCommand(core.Command{Type: core.CmdDeletePattern, Pattern: "green.lua", ClientID: id})
	_, ok = a.patterns.Get(pattern.LuaPrefix + "green.lua")
	assert.False(t, ok)
	assert.Equal(t, "", a.frames.ActivePattern(), "deleting the running script stops it")

	a.handleCommand(core.Command{Type: core.CmdGetPatternCode, Pattern: "../etc.lua", ClientID: id})
	assert.Equal(t, server.TypeError, panel.last()["type"])
}
