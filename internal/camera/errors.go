package camera

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors for the camera package.
var (
	// ErrConnectionFailed is returned when the capture session cannot be started.
	ErrConnectionFailed = errors.New("camera: capture session failed to start")

	// ErrNotConnected is returned when an operation requires a connected
	// pipeline but Connect has not been called (or Disconnect already has).
	ErrNotConnected = errors.New("camera: pipeline not connected")

	// ErrAlreadyConnected is returned when Connect is called twice.
	ErrAlreadyConnected = errors.New("camera: pipeline already connected")

	// ErrIncompleteFrame is returned when a frame read yields fewer bytes
	// than one full frame (stream ended or capture process died mid-frame).
	ErrIncompleteFrame = errors.New("camera: incomplete frame")

	// ErrFrameTimeout is the sentinel matched by TimeoutError via errors.Is.
	ErrFrameTimeout = errors.New("camera: timed out waiting for frame")

	// ErrUnsupportedFormat is returned for pixel formats with no known
	// bytes-per-pixel mapping.
	ErrUnsupportedFormat = errors.New("camera: unsupported pixel format")
)

// TimeoutError reports a missed frame deadline from AsyncRead.
//
// LoopRunning distinguishes a slow capture pipeline (true) from a dead one
// whose read loop has exited (false); the latter will never recover without
// a reconnect.
type TimeoutError struct {
	Camera      string
	Timeout     time.Duration
	LoopRunning bool
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("camera %s: timed out waiting for frame after %v (read loop running: %v)",
		e.Camera, e.Timeout, e.LoopRunning)
}

// Is makes errors.Is(err, ErrFrameTimeout) match TimeoutError values.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrFrameTimeout
}
