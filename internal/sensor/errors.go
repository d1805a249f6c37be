// Package sensor provides the raw motion sample sources: Linux input
// (evdev) accelerometers and a UDP receiver for phones or microcontrollers
// that stream readings over the network.
package sensor

import (
	"errors"
	"fmt"
	"io/fs"

	"sensorgames/internal/game"
)

// errNotAcquired is returned by Subscribe when Acquire has not succeeded.
var errNotAcquired = errors.New("source not acquired")

// classifyOpenErr tags a device open/listen failure with the matching
// game sentinel.
func classifyOpenErr(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %w", game.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %w", game.ErrDeviceUnavailable, err)
}
