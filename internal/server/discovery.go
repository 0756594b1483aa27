package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"stripcast/internal/ble"
)

// SnapshotFunc returns the current strip list.
type SnapshotFunc func() []ble.DeviceInfo

// DiscoveryBroadcaster pushes discovery events and strip snapshots to
// management clients as JSON.
type DiscoveryBroadcaster struct {
	hub      *Hub
	snapshot SnapshotFunc
	interval time.Duration
	log      zerolog.Logger
}

// NewDiscoveryBroadcaster creates a broadcaster. A positive interval adds a
// periodic snapshot while Run is active.
func NewDiscoveryBroadcaster(snapshot SnapshotFunc, interval time.Duration, log zerolog.Logger) *DiscoveryBroadcaster {
	log = log.With().Str("component", "discovery").Logger()
	return &DiscoveryBroadcaster{hub: NewHub(log), snapshot: snapshot, interval: interval, log: log}
}

func (d *DiscoveryBroadcaster) snapshotJSON() ([]byte, error) {
	return json.Marshal(NewStripsUpdate(d.snapshot()))
}

// AddClient registers conn and sends it a strips_update before any other message.
func (d *DiscoveryBroadcaster) AddClient(conn Conn) (string, error) {
	data, err := d.snapshotJSON()
	if err != nil {
		return "", err
	}
	return d.hub.add(conn, func(c *client) error {
		return c.conn.WriteMessage(websocket.TextMessage, data)
	})
}

// RemoveClient drops and closes a client.
func (d *DiscoveryBroadcaster) RemoveClient(id string) { d.hub.Remove(id) }
func (d *DiscoveryBroadcaster) Clients() int           { return d.hub.Len() }

// Send writes v to one client.
func (d *DiscoveryBroadcaster) Send(id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return d.hub.Send(id, websocket.TextMessage, data)
}

// Broadcast sends v as JSON to every client.
func (d *DiscoveryBroadcaster) Broadcast(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		d.log.Error().Err(err).Msg("marshal broadcast")
		return 0
	}
	return d.hub.Broadcast(websocket.TextMessage, data)
}

// BroadcastSnapshot sends a fresh strips_update to every client.
func (d *DiscoveryBroadcaster) BroadcastSnapshot() int {
	return d.Broadcast(NewStripsUpdate(d.snapshot()))
}

// BroadcastEvent sends the event line, followed by a snapshot when the event
// changes the strip set or a strip's connection.
func (d *DiscoveryBroadcaster) BroadcastEvent(e ble.DiscoveryEvent) {
	d.Broadcast(NewEventMessage(e))
	if e.Structural() {
		d.BroadcastSnapshot()
	}
}

// Run forwards events until ctx ends or the stream closes.
func (d *DiscoveryBroadcaster) Run(ctx context.Context, events <-chan ble.DiscoveryEvent) {
	var tick <-chan time.Time
	if d.interval > 0 {
		t := time.NewTicker(d.interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			d.BroadcastEvent(e)
		case <-tick:
			d.BroadcastSnapshot()
		}
	}
}

// Close disconnects every client.
func (d *DiscoveryBroadcaster) Close() { d.hub.CloseAll() }
