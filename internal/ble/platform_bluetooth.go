//go:build !nobluetooth

package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"tinygo.org/x/bluetooth"
)

const (
	defaultServiceUUIDStr        = "0000fff0-0000-1000-8000-00805f9b34fb"
	defaultCharacteristicUUIDStr = "0000fff3-0000-1000-8000-00805f9b34fb"

	stopScanTimeout = 2 * time.Second
)

// bluetoothPlatform drives the host adapter through tinygo's bluetooth package.
type bluetoothPlatform struct {
	adapter            *bluetooth.Adapter
	serviceUUID        bluetooth.UUID
	characteristicUUID bluetooth.UUID
	log                zerolog.Logger

	// scanMu allows one scan at a time; the adapter rejects overlapping scans.
	scanMu  sync.Mutex
	mu      sync.Mutex
	enabled bool
	seen    map[string]bluetooth.Address
	links   map[string]*bluetoothConn
}

// NewPlatform returns the default adapter configured for the strip service.
func NewPlatform(cfg PlatformConfig, log zerolog.Logger) (Platform, error) {
	svc := cfg.ServiceUUID
	if svc == "" {
		svc = defaultServiceUUIDStr
	}
	chr := cfg.CharacteristicUUID
	if chr == "" {
		chr = defaultCharacteristicUUIDStr
	}
	serviceUUID, err := bluetooth.ParseUUID(svc)
	if err != nil {
		return nil, fmt.Errorf("service uuid %q: %w", svc, err)
	}
	characteristicUUID, err := bluetooth.ParseUUID(chr)
	if err != nil {
		return nil, fmt.Errorf("characteristic uuid %q: %w", chr, err)
	}
	return &bluetoothPlatform{
		adapter:            bluetooth.DefaultAdapter,
		serviceUUID:        serviceUUID,
		characteristicUUID: characteristicUUID,
		log:                log.With().Str("component", "bluetooth").Logger(),
		seen:               make(map[string]bluetooth.Address),
		links:              make(map[string]*bluetoothConn),
	}, nil
}

func (p *bluetoothPlatform) enable() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled {
		return nil
	}
	p.adapter.SetConnectHandler(p.onConnectionChange)
	if err := p.adapter.Enable(); err != nil {
		return fmt.Errorf("enable adapter: %w", err)
	}
	p.enabled = true
	return nil
}

// Scan collects every named advertisement until the timeout expires.
func (p *bluetoothPlatform) Scan(ctx context.Context, timeout time.Duration) ([]ScanResult, error) {
	if err := p.enable(); err != nil {
		return nil, err
	}
	p.scanMu.Lock()
	defer p.scanMu.Unlock()

	var mu sync.Mutex
	found := make(map[string]ScanResult)

	// A previous scan may still be registered with the stack.
	_ = p.adapter.StopScan()

	done := make(chan error, 1)
	go func() {
		done <- p.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			name := result.LocalName()
			if name == "" {
				return
			}
			addr := result.Address.String()
			mu.Lock()
			found[addr] = ScanResult{Name: name, Address: addr, RSSI: result.RSSI}
			mu.Unlock()

			p.mu.Lock()
			p.seen[addr] = result.Address
			p.mu.Unlock()
		})
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var scanErr error
	select {
	case scanErr = <-done:
	case <-timer.C:
		scanErr = p.stopScan(done)
	case <-ctx.Done():
		scanErr = p.stopScan(done)
	}
	if scanErr != nil {
		return nil, fmt.Errorf("scan: %w", scanErr)
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]ScanResult, 0, len(found))
	for _, r := range found {
		out = append(out, r)
	}
	return out, nil
}

func (p *bluetoothPlatform) stopScan(done <-chan error) error {
	if err := p.adapter.StopScan(); err != nil {
		p.log.Debug().Err(err).Msg("stop scan")
	}
	select {
	case err := <-done:
		return err
	case <-time.After(stopScanTimeout):
		p.log.Warn().Msg("scan did not stop in time")
		return nil
	}
}

// onConnectionChange runs on the stack's goroutine for every link change.
func (p *bluetoothPlatform) onConnectionChange(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	addr := device.Address.String()
	p.mu.Lock()
	c, ok := p.links[addr]
	delete(p.links, addr)
	p.mu.Unlock()
	if ok {
		p.log.Info().Str("address", addr).Msg("link dropped by stack")
		c.markLost()
	}
}

func (p *bluetoothPlatform) release(addr string, c *bluetoothConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.links[addr] == c {
		delete(p.links, addr)
	}
}

type connectResult struct {
	conn *bluetoothConn
	err  error
}

// Connect opens the device and resolves the frame characteristic. The
// platform calls block inside the stack, so they run on their own goroutine and
// the caller's ctx bounds the wait.
func (p *bluetoothPlatform) Connect(ctx context.Context, address string) (Connection, error) {
	p.mu.Lock()
	addr, ok := p.seen[address]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotDiscovered, address)
	}

	ch := make(chan connectResult, 1)
	go func() {
		ch <- p.connect(addr)
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return r.conn, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				_ = r.conn.Disconnect()
			}
		}()
		return nil, fmt.Errorf("connect %s: %w", address, ctx.Err())
	}
}

func (p *bluetoothPlatform) connect(addr bluetooth.Address) connectResult {
	device, err := p.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return connectResult{err: fmt.Errorf("connect: %w", err)}
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{p.serviceUUID})
	if err == nil && len(services) == 0 {
		err = errors.New("strip service not found")
	}
	if err != nil {
		_ = device.Disconnect()
		return connectResult{err: fmt.Errorf("discover services: %w", err)}
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{p.characteristicUUID})
	if err == nil && len(chars) == 0 {
		err = errors.New("frame characteristic not found")
	}
	if err != nil {
		_ = device.Disconnect()
		return connectResult{err: fmt.Errorf("discover characteristics: %w", err)}
	}

	c := &bluetoothConn{
		platform: p,
		address:  addr.String(),
		device:   device,
		char:     chars[0],
		lost:     make(chan struct{}),
	}
	p.mu.Lock()
	p.links[c.address] = c
	p.mu.Unlock()
	return connectResult{conn: c}
}

type bluetoothConn struct {
	platform *bluetoothPlatform
	address  string
	device   bluetooth.Device
	char     bluetooth.DeviceCharacteristic
	lost     chan struct{}
	lostOnce sync.Once
}

func (c *bluetoothConn) markLost() { c.lostOnce.Do(func() { close(c.lost) }) }

// Lost is closed when the stack reports the device disconnected.
func (c *bluetoothConn) Lost() <-chan struct{} { return c.lost }

func (c *bluetoothConn) Write(b []byte) error {
	_, err := c.char.WriteWithoutResponse(b)
	return err
}

func (c *bluetoothConn) Disconnect() error {
	c.platform.release(c.address, c)
	c.markLost()
	return c.device.Disconnect()
}
