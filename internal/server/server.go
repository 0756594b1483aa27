package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"stripcast/internal/core"
	"stripcast/internal/frame"
	"stripcast/internal/pattern"
)

// Options configures the HTTP listener.
type Options struct {
	Addr           string
	StaticDir      string
	AllowedOrigins []string
	WriteTimeout   time.Duration
}

// Deps are the collaborators the handlers read from and write to.
type Deps struct {
	Viewport  *ViewportBroadcaster
	Discovery *DiscoveryBroadcaster
	Commands  chan<- core.Command
	Stats     func() frame.Stats
	Patterns  func() []pattern.Descriptor
}

// Server manages the HTTP and WebSocket endpoints.
type Server struct {
	opts       Options
	deps       Deps
	log        zerolog.Logger
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// New creates a server. Nothing listens until ListenAndServe.
func New(opts Options, deps Deps, log zerolog.Logger) *Server {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	s := &Server{
		opts: opts,
		deps: deps,
		log:  log.With().Str("component", "server").Logger(),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	mux := http.NewServeMux()
	if opts.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(opts.StaticDir)))
	}
	mux.HandleFunc("/ws/viewport", s.handleViewport)
	mux.HandleFunc("/ws/strips", s.handleStrips)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/patterns", s.handlePatterns)
	s.httpServer = &http.Server{Addr: opts.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.opts.Addr).Msg("listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the listener and drops every websocket client.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.deps.Viewport != nil {
		s.deps.Viewport.Close()
	}
	if s.deps.Discovery != nil {
		s.deps.Discovery.Close()
	}
	return err
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.opts.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	s.log.Warn().Str("origin", origin).Msg("websocket origin rejected")
	return false
}

// deadlineConn bounds every write so a stalled client cannot hold a fan-out.
type deadlineConn struct {
	*websocket.Conn
	timeout time.Duration
}

func (c deadlineConn) WriteMessage(messageType int, data []byte) error {
	if err := c.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	return c.Conn.WriteMessage(messageType, data)
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("path", r.URL.Path).Msg("websocket upgrade failed")
		return nil, false
	}
	return conn, true
}

func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Viewport == nil {
		http.NotFound(w, r)
		return
	}
	conn, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	id := s.deps.Viewport.AddClient(deadlineConn{Conn: conn, timeout: s.opts.WriteTimeout})
	defer s.deps.Viewport.RemoveClient(id)

	// Preview clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleStrips(w http.ResponseWriter, r *http.Request) {
	if s.deps.Discovery == nil {
		http.NotFound(w, r)
		return
	}
	conn, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	id, err := s.deps.Discovery.AddClient(deadlineConn{Conn: conn, timeout: s.opts.WriteTimeout})
	if err != nil {
		s.log.Warn().Err(err).Msg("initial snapshot failed")
		return
	}
	defer s.deps.Discovery.RemoveClient(id)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		cmd, err := ParseCommand(data)
		if err != nil {
			s.log.Debug().Err(err).Str("client", id).Msg("rejected command")
			_ = s.deps.Discovery.Send(id, ErrorMessage{Type: TypeError, Message: err.Error()})
			continue
		}
		cmd.ClientID = id
		s.dispatch(cmd)
	}
}

func (s *Server) dispatch(cmd core.Command) {
	if s.deps.Commands == nil {
		return
	}
	select {
	case s.deps.Commands <- cmd:
	default:
		s.log.Warn().Str("command", string(cmd.Type)).Msg("command queue full, dropping")
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var stats frame.Stats
	if s.deps.Stats != nil {
		stats = s.deps.Stats()
	}
	writeJSON(w, stats)
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	list := []pattern.Descriptor{}
	if s.deps.Patterns != nil {
		list = append(list, s.deps.Patterns()...)
	}
	writeJSON(w, list)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
