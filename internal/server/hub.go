package server

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Conn is the write side of a client connection. *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type client struct {
	id   string
	conn Conn
	// mu serializes writes; websocket connections allow one writer at a time.
	mu sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// Hub keeps the set of connected clients of one endpoint.
type Hub struct {
	log     zerolog.Logger
	mu      sync.Mutex
	clients map[string]*client
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{log: log, clients: make(map[string]*client)}
}

// Add registers conn and returns its client id.
func (h *Hub) Add(conn Conn) string {
	id, _ := h.add(conn, nil)
	return id
}

// add registers conn. When first is set it runs before any broadcast can reach
// the new client.
func (h *Hub) add(conn Conn, first func(*client) error) (string, error) {
	c := &client{id: uuid.NewString(), conn: conn}
	c.mu.Lock()
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()

	var err error
	if first != nil {
		err = first(c)
	}
	c.mu.Unlock()

	if err != nil {
		h.remove(c)
		return "", err
	}
	h.log.Info().Str("client", c.id).Int("clients", n).Msg("client connected")
	return c.id, nil
}

// Remove unregisters and closes the client. Unknown ids are ignored.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	h.mu.Unlock()
	if ok {
		h.remove(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	cur, ok := h.clients[c.id]
	if ok && cur == c {
		delete(h.clients, c.id)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok && cur == c {
		_ = c.conn.Close()
		h.log.Info().Str("client", c.id).Int("clients", n).Msg("client disconnected")
	}
}

// Send writes to a single client. Unknown ids are ignored.
func (h *Hub) Send(id string, messageType int, data []byte) error {
	h.mu.Lock()
	c, ok := h.clients[id]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	return c.write(messageType, data)
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends data to every client registered when it was called. The
// client list is copied under the lock and delivery happens without it.
// Clients whose write fails are removed together once delivery is done. It
// returns the number of successful deliveries.
func (h *Hub) Broadcast(messageType int, data []byte) int {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()
	if len(targets) == 0 {
		return 0
	}

	var (
		wg     sync.WaitGroup
		failMu sync.Mutex
		failed []*client
	)
	for _, c := range targets {
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			if err := c.write(messageType, data); err != nil {
				h.log.Debug().Err(err).Str("client", c.id).Msg("send failed")
				failMu.Lock()
				failed = append(failed, c)
				failMu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	if len(failed) > 0 {
		h.prune(failed)
	}
	return len(targets) - len(failed)
}

func (h *Hub) prune(failed []*client) {
	h.mu.Lock()
	removed := failed[:0]
	for _, c := range failed {
		if cur, ok := h.clients[c.id]; ok && cur == c {
			delete(h.clients, c.id)
			removed = append(removed, c)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()

	for _, c := range removed {
		_ = c.conn.Close()
	}
	h.log.Info().Int("pruned", len(removed)).Int("clients", n).Msg("removed failed clients")
}

// CloseAll closes and forgets every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	all := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()
	for _, c := range all {
		_ = c.conn.Close()
	}
}
