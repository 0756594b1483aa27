package ble

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotDiscovered is returned when connecting to an address no scan has reported.
	ErrNotDiscovered = errors.New("device not discovered")
	// ErrUnsupported is returned by builds without a wireless stack.
	ErrUnsupported = errors.New("bluetooth not supported in this build")
)

// ScanResult is one advertisement seen during a scan. RSSI is 0 when unknown.
type ScanResult struct {
	Name    string
	Address string
	RSSI    int16
}

// Platform is the wireless capability set the manager depends on. The
// implementation is chosen at build time, see platform_bluetooth.go and
// platform_stub.go.
type Platform interface {
	// Scan listens for advertisements until timeout or ctx ends.
	Scan(ctx context.Context, timeout time.Duration) ([]ScanResult, error)
	// Connect opens a session to the strip's control characteristic.
	Connect(ctx context.Context, address string) (Connection, error)
}

// Connection is an open link to one strip.
type Connection interface {
	Write(p []byte) error
	Disconnect() error
}

// LinkWatcher is implemented by connections whose stack reports a dropped
// link before a write fails.
type LinkWatcher interface {
	// Lost is closed once the link is gone.
	Lost() <-chan struct{}
}

// PlatformConfig selects the GATT service and characteristic frames are written to.
type PlatformConfig struct {
	ServiceUUID        string
	CharacteristicUUID string
}
