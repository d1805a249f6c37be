package game

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when the user (or the OS) declines
	// access to the sensor or microphone. The session stays Ready.
	ErrPermissionDenied = errors.New("sensor permission denied")

	// ErrDeviceUnavailable is returned when the acquisition API fails for
	// any reason other than a permission refusal. The session stays Ready.
	ErrDeviceUnavailable = errors.New("sensor device unavailable")

	// ErrInvalidPhase is returned when an operation's phase precondition
	// does not hold (e.g. Start while Playing).
	ErrInvalidPhase = errors.New("invalid session phase")

	// ErrDisposed is returned by Start after Dispose.
	ErrDisposed = errors.New("session disposed")
)

// StartError describes why Start failed. It wraps one of the sentinel
// errors above together with the underlying acquisition error.
type StartError struct {
	Game Kind
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s game: %v", e.Game, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// classifyAcquireErr makes sure an acquisition error carries one of the two
// recoverable sentinels. Errors that already do are kept as-is; anything
// else is treated as a device failure.
func classifyAcquireErr(err error) error {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
}
