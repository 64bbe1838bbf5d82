// Package wifi defines the link-layer join step a shelf node performs before
// talking to the broker.
package wifi

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/eugenenazirov/shelf-monitor/internal/credentials"
)

// Joiner brings up the wireless link for the given network.
type Joiner interface {
	Join(ctx context.Context, creds credentials.WiFi) error
}

// HostJoiner is used where the operating system owns the wireless link. It
// validates the credentials it is handed and records the network name.
type HostJoiner struct {
	logger *zap.Logger

	mu   sync.RWMutex
	ssid string
}

// NewHostJoiner returns a joiner for hosts with an OS-managed link.
func NewHostJoiner(logger *zap.Logger) *HostJoiner {
	return &HostJoiner{logger: logger}
}

// Join fails with credentials.ErrUnconfigured while placeholders remain.
func (j *HostJoiner) Join(ctx context.Context, creds credentials.WiFi) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := creds.Validate(); err != nil {
		return fmt.Errorf("wifi join: %w", err)
	}

	j.mu.Lock()
	j.ssid = creds.SSID
	j.mu.Unlock()

	j.logger.Info("wifi link ready", zap.String("ssid", creds.SSID))
	return nil
}

// SSID returns the network last joined, or "" if none.
func (j *HostJoiner) SSID() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.ssid
}
