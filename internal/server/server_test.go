package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stripcast/internal/ble"
	"stripcast/internal/core"
	"stripcast/internal/frame"
	"stripcast/internal/pattern"
)

type testServer struct {
	*httptest.Server
	viewport  *ViewportBroadcaster
	discovery *DiscoveryBroadcaster
	commands  chan core.Command
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	ts := &testServer{
		viewport:  NewViewportBroadcaster(false, zerolog.Nop()),
		discovery: NewDiscoveryBroadcaster(func() []ble.DeviceInfo { return nil }, 0, zerolog.Nop()),
		commands:  make(chan core.Command, 4),
	}
	s := New(opts, Deps{
		Viewport:  ts.viewport,
		Discovery: ts.discovery,
		Commands:  ts.commands,
		Stats:     func() frame.Stats { return frame.Stats{FPS: 59.5, DroppedFrames: 2, Pattern: "rainbow"} },
		Patterns:  pattern.NewRegistry().List,
	}, zerolog.Nop())
	ts.Server = httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) dial(t *testing.T, path string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStripsFirstMessageIsSnapshot(t *testing.T) {
	ts := newTestServer(t, Options{})
	conn := ts.dial(t, "/ws/strips", nil)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg StripsUpdate
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, TypeStripsUpdate, msg.Type)
	assert.NotNil(t, msg.Strips)
	assert.Empty(t, msg.Strips)
}

func TestStripsCommandsAreDispatched(t *testing.T) {
	ts := newTestServer(t, Options{})
	conn := ts.dial(t, "/ws/strips", nil)
	var first StripsUpdate
	require.NoError(t, conn.ReadJSON(&first))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"disconnect_strip","id":3}`)))
	select {
	case cmd := <-ts.commands:
		assert.NotEmpty(t, cmd.ClientID, "commands carry the sender for replies")
		cmd.ClientID = ""
		assert.Equal(t, core.Command{Type: core.CmdDisconnectStrip, StripID: 3}, cmd)
	case <-time.After(2 * time.Second):
		t.Fatal("command not dispatched")
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"explode"}`)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var reply ErrorMessage
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, TypeError, reply.Type)
	assert.Contains(t, reply.Message, "explode")
}

func TestViewportEndpointReceivesFrames(t *testing.T) {
	ts := newTestServer(t, Options{})
	conn := ts.dial(t, "/ws/viewport", nil)
	require.Eventually(t, func() bool { return ts.viewport.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	n, err := ts.viewport.Broadcast(core.NewFrame(2, 1, []core.Color{core.Red, core.Green}))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	f, err := DecodeViewport(data)
	require.NoError(t, err)
	assert.Equal(t, core.Green, f.Get(1, 0))

	conn.Close()
	require.Eventually(t, func() bool { return ts.viewport.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestCheckOrigin(t *testing.T) {
	ts := newTestServer(t, Options{AllowedOrigins: []string{"http://panel.local"}})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/strips"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn := ts.dial(t, "/ws/strips", http.Header{"Origin": {"http://PANEL.local"}})
	var msg StripsUpdate
	require.NoError(t, conn.ReadJSON(&msg))
}

func TestStatsAndPatternsAPI(t *testing.T) {
	ts := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/api/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats frame.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 59.5, stats.FPS)
	assert.Equal(t, "rainbow", stats.Pattern)

	resp2, err := http.Get(ts.URL + "/api/patterns")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var list []pattern.Descriptor
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&list))
	var names []string
	for _, d := range list {
		names = append(names, d.Name)
	}
	assert.Contains(t, names, "solid")
	assert.Contains(t, names, "rainbow")
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"type":"set_pattern","name":"rainbow","params":{"speed":90}}`))
	require.NoError(t, err)
	assert.Equal(t, core.Command{Type: core.CmdSetPattern, Pattern: "rainbow", Params: map[string]float64{"speed": 90}}, cmd)

	cmd, err = ParseCommand([]byte(`{"type":"connect_strip","id":0}`))
	require.NoError(t, err)
	assert.Equal(t, core.Command{Type: core.CmdConnectStrip, StripID: 0}, cmd)

	cmd, err = ParseCommand([]byte(`{"type":"add_schedule","spec":"0 7 * * *","command":"pattern solid r=255"}`))
	require.NoError(t, err)
	assert.Equal(t, core.Command{Type: core.CmdAddSchedule, Spec: "0 7 * * *", Schedule: "pattern solid r=255"}, cmd)

	cmd, err = ParseCommand([]byte(`{"type":"remove_schedule","id":4}`))
	require.NoError(t, err)
	assert.Equal(t, core.Command{Type: core.CmdRemoveSchedule, ScheduleID: 4}, cmd)

	cmd, err = ParseCommand([]byte(`{"type":"save_pattern_code","name":"fire.lua","code":""}`))
	require.NoError(t, err)
	assert.Equal(t, core.Command{Type: core.CmdSavePatternCode, Pattern: "fire.lua"}, cmd)

	cmd, err = ParseCommand([]byte(`{"type":"list_schedules"}`))
	require.NoError(t, err)
	assert.Equal(t, core.Command{Type: core.CmdListSchedules}, cmd)

	for _, bad := range []string{
		`{"type":"connect_strip"}`,
		`{"type":"set_pattern"}`,
		`not json`,
		`{"type":"connect_strip","id":-1}`,
		`{"type":"add_schedule","spec":"@hourly"}`,
		`{"type":"remove_schedule"}`,
		`{"type":"get_pattern_code"}`,
		`{"type":"save_pattern_code","name":"fire.lua"}`,
	} {
		_, err := ParseCommand([]byte(bad))
		assert.ErrorIs(t, err, ErrBadCommand, bad)
	}
}
