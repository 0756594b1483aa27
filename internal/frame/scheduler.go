// Package frame drives the active pattern at a target frame rate and hands
// every rendered frame to a callback.
package frame

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stripcast/internal/core"
	"stripcast/internal/pattern"
)

const (
	statsWindowLength  = time.Second
	defaultStopTimeout = 2 * time.Second
)

var errInitPanic = errors.New("initialize panicked")

// Callback receives the viewport after render. The viewport is only valid for
// the duration of the call; anything slow must copy what it needs and return.
type Callback func(vp *core.Viewport)

// Scheduler owns the viewport and the single active pattern.
type Scheduler struct {
	vp     *core.Viewport
	budget time.Duration
	log    zerolog.Logger

	// mu serializes pattern swaps against the update/render step.
	mu       sync.Mutex
	active   pattern.Pattern
	name     string
	callback Callback

	statsMu sync.RWMutex
	stats   Stats
	dropped uint64

	// done stays set after a timed-out Stop until the old loop exits, so
	// Start never runs two loops. cancel is nil once a stop was requested.
	runMu       sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	stopTimeout time.Duration

	now func() time.Time
}

// New creates a scheduler rendering into vp at targetFPS.
func New(vp *core.Viewport, targetFPS int, cb Callback, log zerolog.Logger) *Scheduler {
	if targetFPS <= 0 {
		targetFPS = 30
	}
	return &Scheduler{
		vp:       vp,
		budget:   time.Second / time.Duration(targetFPS),
		log:      log.With().Str("component", "frame").Logger(),
		callback:    cb,
		stopTimeout: defaultStopTimeout,
		now:         time.Now,
	}
}

// SetCallback replaces the per-frame callback.
func (s *Scheduler) SetCallback(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

// SetPattern cleans up the outgoing pattern and initializes p. A nil p just
// clears the active pattern. If initialization fails no pattern is active.
func (s *Scheduler) SetPattern(name string, p pattern.Pattern, params pattern.Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		s.guard("cleanup", s.active.Cleanup)
		s.log.Info().Str("pattern", s.name).Msg("pattern stopped")
	}
	s.active, s.name = nil, ""
	if p == nil {
		return nil
	}

	var err error
	if !s.guard("initialize", func() { err = p.Initialize(s.vp, params) }) {
		err = errInitPanic
	}
	if err != nil {
		return fmt.Errorf("initialize pattern %q: %w", name, err)
	}
	s.active, s.name = p, name
	s.log.Info().Str("pattern", name).Interface("params", params).Msg("pattern started")
	return nil
}

// ActivePattern returns the name of the running pattern, or "".
func (s *Scheduler) ActivePattern() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Statistics returns a copy of the latest stats.
func (s *Scheduler) Statistics() Stats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	st := s.stats
	st.DroppedFrames = s.dropped
	return st
}

// Running reports whether the loop goroutine is alive, including a loop that
// was asked to stop but has not exited yet.
func (s *Scheduler) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Start launches the render loop. Calling Start on a running scheduler is a
// no-op. If a previous loop is still winding down, Start waits for it.
func (s *Scheduler) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.done != nil {
		if s.cancel != nil {
			return
		}
		s.log.Info().Msg("waiting for previous render loop to exit")
		<-s.done
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
	s.log.Info().Dur("budget", s.budget).Msg("frame scheduler started")
}

// Stop ends the render loop and waits up to two seconds for it to exit.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.done == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	select {
	case <-s.done:
	case <-time.After(s.stopTimeout):
		s.log.Warn().Msg("timeout waiting for render loop to stop")
		return
	}
	s.done = nil
	s.log.Info().Msg("frame scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	start := s.now()
	last := start
	window := newStatsWindow(start, statsWindowLength)
	timer := time.NewTimer(0)
	<-timer.C
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		tickStart := s.now()
		dt := tickStart.Sub(last)
		last = tickStart

		s.tick(dt, tickStart.Sub(start))

		end := s.now()
		if window.frame(end) {
			name := s.ActivePattern()
			s.statsMu.Lock()
			s.stats.FPS = window.current.FPS
			s.stats.FrameTime = window.current.FrameTime
			s.stats.Pattern = name
			s.statsMu.Unlock()
		}

		elapsed := end.Sub(tickStart)
		if elapsed >= s.budget {
			s.statsMu.Lock()
			s.dropped++
			s.statsMu.Unlock()
			continue
		}
		timer.Reset(s.budget - elapsed)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// tick runs one update→clear→render→callback step.
func (s *Scheduler) tick(dt, total time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p := s.active; p != nil {
		s.guard("update", func() { p.Update(dt, total) })
		s.vp.Clear()
		s.guard("render", func() { p.Render(s.vp) })
	}
	if cb := s.callback; cb != nil {
		s.guard("callback", func() { cb(s.vp) })
	}
}

// guard runs fn and turns a panic into a log line. It returns false if fn
// panicked.
func (s *Scheduler) guard(stage string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("stage", stage).Str("pattern", s.name).Interface("panic", r).Msg("recovered from panic")
			ok = false
		}
	}()
	fn()
	return true
}
