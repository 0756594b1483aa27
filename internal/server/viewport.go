package server

import (
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"stripcast/internal/core"
)

// ViewportBroadcaster sends rendered frames to preview clients as binary
// messages. It does not throttle; callers pick the cadence.
type ViewportBroadcaster struct {
	hub      *Hub
	compress bool
	log      zerolog.Logger
}

// NewViewportBroadcaster creates a broadcaster. With compress set frames are
// sent deflated (flags=1).
func NewViewportBroadcaster(compress bool, log zerolog.Logger) *ViewportBroadcaster {
	log = log.With().Str("component", "viewport").Logger()
	return &ViewportBroadcaster{hub: NewHub(log), compress: compress, log: log}
}

// AddClient registers a preview client and returns its id.
func (b *ViewportBroadcaster) AddClient(conn Conn) string { return b.hub.Add(conn) }
func (b *ViewportBroadcaster) RemoveClient(id string)     { b.hub.Remove(id) }
func (b *ViewportBroadcaster) Clients() int               { return b.hub.Len() }

// Broadcast encodes f and sends it to every client. It returns how many
// clients received it.
func (b *ViewportBroadcaster) Broadcast(f *core.Frame) (int, error) {
	if b.hub.Len() == 0 {
		return 0, nil
	}
	data, err := EncodeViewport(f, b.compress)
	if err != nil {
		return 0, err
	}
	return b.hub.Broadcast(websocket.BinaryMessage, data), nil
}

// Close disconnects every client.
func (b *ViewportBroadcaster) Close() { b.hub.CloseAll() }
