package ble

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

var (
	errRateLimited = errors.New("frame rate limit exceeded")
	errWriteBusy   = errors.New("previous frame still in flight")
	errSessionDead = errors.New("session is not connected")
)

// Session is an open connection to one strip.
type Session struct {
	StripID     int
	Name        string
	Address     string
	ConnectedAt time.Time

	conn      Connection
	limiter   *rate.Limiter
	writing   sync.Mutex
	dead      atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once
}

func newSession(dev DiscoveredDevice, conn Connection, limiter *rate.Limiter) *Session {
	return &Session{
		StripID:     dev.StripID,
		Name:        dev.Name,
		Address:     dev.Address,
		ConnectedAt: time.Now(),
		conn:        conn,
		limiter:     limiter,
		closed:      make(chan struct{}),
	}
}

// Alive reports whether the session can still carry frames.
func (s *Session) Alive() bool { return !s.dead.Load() }

// send writes one frame. A frame that arrives while the previous write is in
// flight, or above the rate limit, is dropped. A write error kills the session.
func (s *Session) send(p []byte) error {
	if !s.Alive() {
		return errSessionDead
	}
	if !s.writing.TryLock() {
		return errWriteBusy
	}
	defer s.writing.Unlock()
	if s.limiter != nil && !s.limiter.Allow() {
		return errRateLimited
	}
	if err := s.conn.Write(p); err != nil {
		s.dead.Store(true)
		return err
	}
	return nil
}

// markLost flags the session dead without closing it. It reports whether this
// call changed the state.
func (s *Session) markLost() bool { return s.dead.CompareAndSwap(false, true) }

// close disconnects, giving up after timeout.
func (s *Session) close(timeout time.Duration) error {
	s.dead.Store(true)
	s.closeOnce.Do(func() { close(s.closed) })
	done := make(chan error, 1)
	go func() { done <- s.conn.Disconnect() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return errors.New("disconnect timed out")
	}
}
