//go:build !linux

package power

import (
	"errors"
	"log/slog"
)

// NewPulseSource returns an error on non-Linux platforms.
func NewPulseSource(cfg PulseConfig, logger *slog.Logger) (*PulseSource, error) {
	return nil, errors.New("power: pulse input not supported on this platform (requires Linux)")
}
