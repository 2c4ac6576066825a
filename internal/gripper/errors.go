package gripper

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Domain errors for the gripper package.
var (
	// ErrTransport is returned when the TCP connection cannot be
	// established or fails mid-command.
	ErrTransport = errors.New("gripper: transport failure")

	// ErrNotConnected is returned when a command is issued before Connect
	// (or after Disconnect).
	ErrNotConnected = errors.New("gripper: not connected")

	// ErrAlreadyConnected is returned when Connect is called twice.
	ErrAlreadyConnected = errors.New("gripper: already connected")

	// ErrCommandTimeout is the sentinel matched by DeadlineError via
	// errors.Is.
	ErrCommandTimeout = errors.New("gripper: command deadline exceeded")

	// ErrCommandRejected is returned when the device acknowledges a
	// command with a negative status.
	ErrCommandRejected = errors.New("gripper: command rejected by device")

	// ErrInvalidResponse is returned when a matched response lacks the
	// fields the command requires (e.g. a register read without data).
	ErrInvalidResponse = errors.New("gripper: invalid response")
)

// DeadlineError reports that no response matching the awaited command
// arrived before the command deadline.
//
// Recent holds the raw lines observed on the socket while waiting (newest
// last, bounded) so operators can see what the device was sending instead.
type DeadlineError struct {
	Actuator string
	Command  string
	Timeout  time.Duration
	Recent   []string
}

// Error implements the error interface.
func (e *DeadlineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "gripper %s: no %q response within %v", e.Actuator, e.Command, e.Timeout)
	if len(e.Recent) > 0 {
		fmt.Fprintf(&b, " (last %d messages: %s)", len(e.Recent), strings.Join(e.Recent, " | "))
	}
	return b.String()
}

// Is makes errors.Is(err, ErrCommandTimeout) match DeadlineError values.
func (e *DeadlineError) Is(target error) bool {
	return target == ErrCommandTimeout
}
