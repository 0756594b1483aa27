// Package ble manages discovery of and connections to wireless LED strips.
package ble

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"stripcast/internal/core"
)

var (
	// ErrUnknownStrip is returned for strip ids no scan has discovered.
	ErrUnknownStrip = errors.New("unknown strip")
	// ErrConnectInProgress is returned when another connect for the strip is running.
	ErrConnectInProgress = errors.New("connect already in progress")
	// ErrDisconnectedDuringConnect is returned when the strip was excluded while connecting.
	ErrDisconnectedDuringConnect = errors.New("strip disconnected while connecting")
)

// DefaultNamePattern matches advertised names such as "LED_STRIP_3".
var DefaultNamePattern = regexp.MustCompile(`^LED_STRIP_(\d+)$`)

// State is the connection lifecycle of one strip.
type State int

const (
	StateUnknown State = iota
	StateDiscovered
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// DiscoveredDevice is a registry entry. Entries are never replaced once created.
type DiscoveredDevice struct {
	StripID      int       `json:"id"`
	Name         string    `json:"name"`
	Address      string    `json:"address"`
	RSSI         int16     `json:"rssi,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// DeviceInfo is the snapshot row published to management clients.
type DeviceInfo struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	Connected bool   `json:"connected"`
	Length    int    `json:"length"`
}

// Config tunes the manager.
type Config struct {
	// NamePattern must capture the numeric strip id in its first group.
	NamePattern        *regexp.Regexp
	StartupScanTimeout time.Duration
	ScanTimeout        time.Duration
	ConnectTimeout     time.Duration
	DisconnectTimeout  time.Duration
	// FrameRate caps frames per second per strip; zero means unlimited.
	FrameRate  float64
	FrameBurst int
	// Lengths reports the configured LED count per strip id.
	Lengths map[int]int
}

func (c *Config) setDefaults() {
	if c.NamePattern == nil {
		c.NamePattern = DefaultNamePattern
	}
	if c.StartupScanTimeout <= 0 {
		c.StartupScanTimeout = 10 * time.Second
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = 5 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 7 * time.Second
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = 2 * time.Second
	}
	if c.FrameBurst <= 0 {
		c.FrameBurst = 1
	}
}

// Manager owns the device registry and the open sessions. Each map below is a
// core.Store, so every mutation is serialized by that store's lock.
type Manager struct {
	platform Platform
	cfg      Config
	log      zerolog.Logger
	events   *core.Bus[DiscoveryEvent]

	devices    *core.Store[string, DiscoveredDevice] // by address, append-only
	byStrip    *core.Store[int, string]              // strip id → first address seen
	sessions   *core.Store[int, *Session]
	excluded   *core.Store[int, struct{}] // manually disconnected
	connecting *core.Store[int, struct{}]
	seenOnline *core.Store[int, struct{}] // connected at least once

	bgMu   sync.Mutex
	bgStop chan struct{}
	bgDone chan struct{}
}

// NewManager creates a manager on top of a platform.
func NewManager(p Platform, cfg Config, log zerolog.Logger) *Manager {
	cfg.setDefaults()
	return &Manager{
		platform:   p,
		cfg:        cfg,
		log:        log.With().Str("component", "ble").Logger(),
		events:     core.NewBus[DiscoveryEvent](100),
		devices:    core.NewStore[string, DiscoveredDevice](),
		byStrip:    core.NewStore[int, string](),
		sessions:   core.NewStore[int, *Session](),
		excluded:   core.NewStore[int, struct{}](),
		connecting: core.NewStore[int, struct{}](),
		seenOnline: core.NewStore[int, struct{}](),
	}
}

// Events subscribes to the discovery event stream.
func (m *Manager) Events() (<-chan DiscoveryEvent, func()) {
	return m.events.Subscribe()
}

func (m *Manager) emit(e DiscoveryEvent) {
	m.log.Debug().Stringer("kind", e.Kind).Msg(e.Message())
	m.events.Publish(e)
}

// ParseStripID extracts the strip id from an advertised name.
func (m *Manager) ParseStripID(name string) (int, bool) {
	match := m.cfg.NamePattern.FindStringSubmatch(name)
	if len(match) < 2 {
		return 0, false
	}
	id, err := strconv.Atoi(match[1])
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// merge adds strip devices from a scan to the registry. It returns the devices
// that were new and the strip ids seen in this scan.
func (m *Manager) merge(results []ScanResult) (fresh []DiscoveredDevice, seen []int) {
	ids := make(map[int]struct{})
	for _, r := range results {
		id, ok := m.ParseStripID(r.Name)
		if !ok {
			continue
		}
		ids[id] = struct{}{}
		d := DiscoveredDevice{StripID: id, Name: r.Name, Address: r.Address, RSSI: r.RSSI, DiscoveredAt: time.Now()}
		if !m.devices.PutIfAbsent(r.Address, d) {
			continue
		}
		m.byStrip.PutIfAbsent(id, r.Address)
		fresh = append(fresh, d)
		m.log.Info().Int("strip", id).Str("address", r.Address).Str("name", r.Name).Msg("new strip discovered")
	}
	for id := range ids {
		seen = append(seen, id)
	}
	sort.Ints(seen)
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].StripID < fresh[j].StripID })
	return fresh, seen
}

// scan runs one scan, merges it and emits the scan events.
func (m *Manager) scan(ctx context.Context, timeout time.Duration) ([]int, error) {
	m.emit(ScanStarted())
	results, err := m.platform.Scan(ctx, timeout)
	if err != nil {
		m.emit(ScanError(err.Error()))
		return nil, err
	}
	fresh, seen := m.merge(results)
	for _, d := range fresh {
		m.emit(NewDeviceFound(d.Name, d.Address))
	}
	m.emit(ScanCompleted(len(seen)))
	return seen, nil
}

// ScanAndConnect performs the startup scan and connects to every strip found.
// Failures on single strips are logged and skipped. It returns how many strips
// were connected.
func (m *Manager) ScanAndConnect(ctx context.Context) (int, error) {
	m.log.Info().Dur("timeout", m.cfg.StartupScanTimeout).Msg("startup scan")
	seen, err := m.scan(ctx, m.cfg.StartupScanTimeout)
	if err != nil {
		return 0, fmt.Errorf("startup scan: %w", err)
	}

	connected := 0
	for _, id := range seen {
		if m.excluded.Has(id) {
			continue
		}
		if err := m.connect(ctx, id); err != nil {
			m.log.Warn().Err(err).Int("strip", id).Msg("connect failed")
			continue
		}
		connected++
	}
	m.log.Info().Int("connected", connected).Int("found", len(seen)).Msg("startup scan finished")
	return connected, nil
}

// StartBackgroundScanning rescans every interval until stopped. Calling it
// while a background scan loop is running is a no-op.
func (m *Manager) StartBackgroundScanning(interval time.Duration) {
	m.bgMu.Lock()
	defer m.bgMu.Unlock()
	if m.bgStop != nil {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	m.bgStop = make(chan struct{})
	m.bgDone = make(chan struct{})
	go m.backgroundLoop(interval, m.bgStop, m.bgDone)
	m.log.Info().Dur("interval", interval).Msg("background scanning started")
}

// StopBackgroundScanning asks the loop to exit. The request is honoured between
// iterations; a scan in progress completes first. It returns a channel closed
// when the loop has exited.
func (m *Manager) StopBackgroundScanning() <-chan struct{} {
	m.bgMu.Lock()
	defer m.bgMu.Unlock()
	if m.bgStop == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	close(m.bgStop)
	done := m.bgDone
	m.bgStop, m.bgDone = nil, nil
	return done
}

func (m *Manager) backgroundLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-stop:
			return
		default:
		}

		m.scanIteration()

		timer.Reset(interval)
		select {
		case <-stop:
			return
		case <-timer.C:
		}
	}
}

// scanIteration is one background pass: scan, merge, then reconnect drops.
func (m *Manager) scanIteration() {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("scan iteration panicked")
			m.emit(ScanError(fmt.Sprint(r)))
		}
	}()

	ctx := context.Background()
	if _, err := m.scan(ctx, m.cfg.ScanTimeout); err != nil {
		m.log.Warn().Err(err).Msg("background scan failed")
		return
	}
	m.reconnectPass(ctx)
}

// reconnectPass reconnects every known strip that is neither excluded nor
// connected.
func (m *Manager) reconnectPass(ctx context.Context) {
	for _, id := range m.knownStrips() {
		if m.excluded.Has(id) || m.connecting.Has(id) {
			continue
		}
		s, ok := m.sessions.Get(id)
		if ok && s.Alive() {
			continue
		}
		if ok {
			m.dropSession(id, s)
		}

		name := m.deviceName(id)
		m.emit(ReconnectAttempted(id, name))
		switch err := m.connect(ctx, id); {
		case err == nil:
			m.emit(ReconnectSucceeded(id, name))
		case errors.Is(err, ErrConnectInProgress):
		default:
			m.log.Warn().Err(err).Int("strip", id).Msg("reconnect failed")
			m.emit(ReconnectFailed(id, name, err.Error()))
		}
	}
}

// connect opens a session for a known strip.
func (m *Manager) connect(ctx context.Context, id int) error {
	if !m.connecting.PutIfAbsent(id, struct{}{}) {
		return ErrConnectInProgress
	}
	defer m.connecting.Delete(id)

	if s, ok := m.sessions.Get(id); ok && s.Alive() {
		return nil
	}
	addr, ok := m.byStrip.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownStrip, id)
	}
	dev, _ := m.devices.Get(addr)

	cctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	m.log.Info().Int("strip", id).Str("address", addr).Msg("connecting")
	conn, err := m.platform.Connect(cctx, addr)
	if err != nil {
		return fmt.Errorf("connect strip %d (%s): %w", id, addr, err)
	}

	s := newSession(dev, conn, m.newLimiter())
	if old, ok := m.sessions.Get(id); ok {
		m.dropSession(id, old)
	}
	m.sessions.Set(id, s)
	m.seenOnline.Set(id, struct{}{})

	if m.excluded.Has(id) {
		m.dropSession(id, s)
		return fmt.Errorf("%w: %d", ErrDisconnectedDuringConnect, id)
	}
	if w, ok := conn.(LinkWatcher); ok {
		go m.watchLink(s, w.Lost())
	}
	m.log.Info().Int("strip", id).Str("address", addr).Msg("connected")
	return nil
}

// watchLink marks s dead when the platform reports the link lost. The next
// reconnect pass replaces it.
func (m *Manager) watchLink(s *Session, lost <-chan struct{}) {
	select {
	case <-lost:
		if s.markLost() {
			m.log.Warn().Int("strip", s.StripID).Str("address", s.Address).Msg("link lost")
		}
	case <-s.closed:
	}
}

func (m *Manager) newLimiter() *rate.Limiter {
	if m.cfg.FrameRate <= 0 {
		return rate.NewLimiter(rate.Inf, m.cfg.FrameBurst)
	}
	return rate.NewLimiter(rate.Limit(m.cfg.FrameRate), m.cfg.FrameBurst)
}

// dropSession removes s if it is still the registered session for id, then
// disconnects it with the configured bound.
func (m *Manager) dropSession(id int, s *Session) {
	m.sessions.CompareAndDelete(id, func(cur *Session) bool { return cur == s })
	if err := s.close(m.cfg.DisconnectTimeout); err != nil {
		m.log.Warn().Err(err).Int("strip", id).Msg("disconnect failed")
	}
}

// ConnectStrip clears the manual exclusion and connects if the strip is known.
// Connecting a connected strip is a no-op.
func (m *Manager) ConnectStrip(ctx context.Context, id int) error {
	m.excluded.Delete(id)
	if !m.byStrip.Has(id) {
		return fmt.Errorf("%w: %d", ErrUnknownStrip, id)
	}
	err := m.connect(ctx, id)
	if errors.Is(err, ErrConnectInProgress) {
		return nil
	}
	return err
}

// DisconnectStrip excludes the strip from auto-reconnect and closes its
// session. Disconnecting a disconnected strip is a no-op.
func (m *Manager) DisconnectStrip(id int) error {
	m.excluded.Set(id, struct{}{})
	if s, ok := m.sessions.Get(id); ok {
		m.dropSession(id, s)
		m.log.Info().Int("strip", id).Msg("disconnected by request")
	}
	return nil
}

// SendFrame writes one frame to a connected strip. It never blocks on a
// previous write and never retries: the next frame supersedes a dropped one.
func (m *Manager) SendFrame(id int, payload []byte) {
	s, ok := m.sessions.Get(id)
	if !ok || !s.Alive() {
		return
	}
	err := s.send(payload)
	switch {
	case err == nil:
	case errors.Is(err, errRateLimited), errors.Is(err, errWriteBusy), errors.Is(err, errSessionDead):
	default:
		m.log.Warn().Err(err).Int("strip", id).Str("address", s.Address).Msg("frame write failed")
	}
}

// Connected reports whether a live session exists for id.
func (m *Manager) Connected(id int) bool {
	s, ok := m.sessions.Get(id)
	return ok && s.Alive()
}

// ConnectedStrips returns the ids with live sessions.
func (m *Manager) ConnectedStrips() []int {
	var ids []int
	for id, s := range m.sessions.Snapshot() {
		if s.Alive() {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// State derives the lifecycle state of id.
func (m *Manager) State(id int) State {
	switch {
	case m.Connected(id):
		return StateConnected
	case m.connecting.Has(id):
		return StateConnecting
	case m.excluded.Has(id), m.seenOnline.Has(id):
		return StateDisconnected
	case m.byStrip.Has(id):
		return StateDiscovered
	default:
		return StateUnknown
	}
}

// Devices returns the registry sorted by strip id then address.
func (m *Manager) Devices() []DiscoveredDevice {
	snap := m.devices.Snapshot()
	out := make([]DiscoveredDevice, 0, len(snap))
	for _, d := range snap {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StripID != out[j].StripID {
			return out[i].StripID < out[j].StripID
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// DeviceInfos returns one row per known strip, sorted by id.
func (m *Manager) DeviceInfos() []DeviceInfo {
	out := []DeviceInfo{}
	for _, id := range m.knownStrips() {
		addr, _ := m.byStrip.Get(id)
		dev, _ := m.devices.Get(addr)
		out = append(out, DeviceInfo{
			ID:        id,
			Name:      dev.Name,
			Address:   addr,
			Connected: m.Connected(id),
			Length:    m.cfg.Lengths[id],
		})
	}
	return out
}

func (m *Manager) knownStrips() []int {
	snap := m.byStrip.Snapshot()
	ids := make([]int, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (m *Manager) deviceName(id int) string {
	addr, _ := m.byStrip.Get(id)
	dev, _ := m.devices.Get(addr)
	return dev.Name
}

// Shutdown stops background scanning and disconnects every session in
// parallel, each bounded by the disconnect timeout. The event stream is closed.
func (m *Manager) Shutdown(ctx context.Context) error {
	select {
	case <-m.StopBackgroundScanning():
	case <-ctx.Done():
		m.log.Warn().Msg("background scan still running at shutdown")
	}

	var g errgroup.Group
	for id, s := range m.sessions.Snapshot() {
		id, s := id, s
		g.Go(func() error {
			m.sessions.CompareAndDelete(id, func(cur *Session) bool { return cur == s })
			if err := s.close(m.cfg.DisconnectTimeout); err != nil {
				m.log.Warn().Err(err).Int("strip", id).Msg("disconnect at shutdown failed")
				return fmt.Errorf("strip %d: %w", id, err)
			}
			return nil
		})
	}
	err := g.Wait()
	m.events.Close()
	m.log.Info().Msg("device manager shut down")
	return err
}
