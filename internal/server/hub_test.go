package server

import (
	"errors"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stripcast/internal/ble"
	"stripcast/internal/core"
)

type recordingConn struct {
	mu     sync.Mutex
	fail   bool
	msgs   [][]byte
	types  []int
	closed bool
}

func (c *recordingConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.types = append(c.types, messageType)
	c.msgs = append(c.msgs, append([]byte(nil), data...))
	return nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.msgs...)
}

func TestHubBroadcastPrunesFailedClient(t *testing.T) {
	const n = 5
	hub := NewHub(zerolog.Nop())
	conns := make([]*recordingConn, n)
	for i := range conns {
		conns[i] = &recordingConn{}
		hub.Add(conns[i])
	}
	conns[2].fail = true

	delivered := hub.Broadcast(websocket.TextMessage, []byte("hello"))
	assert.Equal(t, n-1, delivered)
	assert.Equal(t, n-1, hub.Len())

	for i, c := range conns {
		if i == 2 {
			assert.True(t, c.closed)
			assert.Empty(t, c.received())
			continue
		}
		assert.Equal(t, [][]byte{[]byte("hello")}, c.received())
		assert.False(t, c.closed)
	}

	assert.Equal(t, n-1, hub.Broadcast(websocket.TextMessage, []byte("again")))
}

func TestHubAddRemove(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := &recordingConn{}
	id := hub.Add(c)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, hub.Len())

	hub.Remove(id)
	hub.Remove(id)
	hub.Remove("nope")
	assert.Equal(t, 0, hub.Len())
	assert.True(t, c.closed)
	assert.Equal(t, 0, hub.Broadcast(websocket.TextMessage, []byte("x")))
}

func TestHubConcurrentBroadcastAndAdd(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			hub.Add(&recordingConn{})
		}()
		go func() {
			defer wg.Done()
			hub.Broadcast(websocket.TextMessage, []byte("x"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, hub.Len())
}

func TestViewportBroadcaster(t *testing.T) {
	b := NewViewportBroadcaster(false, zerolog.Nop())
	f := core.NewFrame(2, 1, []core.Color{core.Red, core.Green})

	n, err := b.Broadcast(f)
	require.NoError(t, err)
	assert.Zero(t, n, "no clients, nothing encoded")

	c := &recordingConn{}
	id := b.AddClient(c)
	n, err = b.Broadcast(f)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, c.received(), 1)
	assert.Equal(t, websocket.BinaryMessage, c.types[0])
	assert.Equal(t, []byte{0x00, 0x00, 0x02, 0x00, 0x01, 0xFF, 0x00, 0x00, 0x00, 0xFF, 0x00}, c.received()[0])

	b.RemoveClient(id)
	assert.Zero(t, b.Clients())
}

func TestDiscoveryBroadcasterFirstMessageIsSnapshot(t *testing.T) {
	d := NewDiscoveryBroadcaster(func() []ble.DeviceInfo { return nil }, 0, zerolog.Nop())
	c := &recordingConn{}
	_, err := d.AddClient(c)
	require.NoError(t, err)

	msgs := c.received()
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"type":"strips_update","strips":[]}`, string(msgs[0]))
}

func TestDiscoveryBroadcasterStructuralEvents(t *testing.T) {
	strips := []ble.DeviceInfo{{ID: 1, Name: "LED_STRIP_1", Address: "AA", Connected: true, Length: 30}}
	d := NewDiscoveryBroadcaster(func() []ble.DeviceInfo { return strips }, 0, zerolog.Nop())
	c := &recordingConn{}
	_, err := d.AddClient(c)
	require.NoError(t, err)

	d.BroadcastEvent(ble.ScanStarted())
	d.BroadcastEvent(ble.ReconnectSucceeded(1, "LED_STRIP_1"))

	msgs := c.received()
	require.Len(t, msgs, 4)
	assert.JSONEq(t, `{"type":"discovery_event","message":"Scanning for strips..."}`, string(msgs[1]))
	assert.JSONEq(t, `{"type":"discovery_event","message":"Reconnected strip 1 (LED_STRIP_1)"}`, string(msgs[2]))
	assert.JSONEq(t, `{"type":"strips_update","strips":[
		{"id":1,"name":"LED_STRIP_1","address":"AA","connected":true,"length":30}]}`, string(msgs[3]))
}

func TestDiscoveryBroadcasterAddFailure(t *testing.T) {
	d := NewDiscoveryBroadcaster(func() []ble.DeviceInfo { return nil }, 0, zerolog.Nop())
	c := &recordingConn{fail: true}
	_, err := d.AddClient(c)
	require.Error(t, err)
	assert.Zero(t, d.Clients())
	assert.True(t, c.closed)
}
