//go:build nobluetooth

package ble

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// NewPlatform returns a platform that never finds devices.
func NewPlatform(_ PlatformConfig, log zerolog.Logger) (Platform, error) {
	log.Warn().Msg("built without bluetooth; scans will find nothing")
	return stubPlatform{}, nil
}

type stubPlatform struct{}

func (stubPlatform) Scan(ctx context.Context, timeout time.Duration) ([]ScanResult, error) {
	select {
	case <-ctx.Done():
	case <-time.After(timeout):
	}
	return nil, nil
}

func (stubPlatform) Connect(context.Context, string) (Connection, error) {
	return nil, ErrUnsupported
}
