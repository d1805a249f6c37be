//go:build !linux

package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"sensorgames/internal/game"
)

// EvdevConfig describes an accelerometer exposed as a Linux input device.
type EvdevConfig struct {
	Path  string
	Scale float64
}

// EvdevSource is only functional on Linux.
type EvdevSource struct {
	cfg EvdevConfig
}

func NewEvdevSource(cfg EvdevConfig, _ *slog.Logger) *EvdevSource {
	return &EvdevSource{cfg: cfg}
}

func (s *EvdevSource) Acquire(context.Context) error {
	return fmt.Errorf("%w: evdev %s: %w", game.ErrDeviceUnavailable, s.cfg.Path, errors.ErrUnsupported)
}

func (s *EvdevSource) Subscribe(func(game.MotionSample)) error { return errNotAcquired }

func (s *EvdevSource) Release() error { return nil }
