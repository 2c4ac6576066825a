package metrics

import "time"

// Sink receives timing and outcome measurements from device I/O components.
//
// Implementations must be safe for concurrent use and must not block:
// measurements are emitted from capture loops and control-loop ticks.
type Sink interface {
	// ObserveFrameRead records one frame acquisition attempt for a camera.
	ObserveFrameRead(camera string, d time.Duration, ok bool)

	// ObserveCommand records one correlated command round-trip for an actuator.
	ObserveCommand(actuator, command string, d time.Duration, ok bool)

	// RecordPosition records an observed actuator position in device units.
	RecordPosition(actuator string, deviceUnits int)

	// Close flushes any buffered measurements.
	Close()
}

// Noop is a Sink that discards all measurements.
//
// It is the default for components constructed without instrumentation.
type Noop struct{}

// ObserveFrameRead implements Sink.
func (Noop) ObserveFrameRead(string, time.Duration, bool) {}

// ObserveCommand implements Sink.
func (Noop) ObserveCommand(string, string, time.Duration, bool) {}

// RecordPosition implements Sink.
func (Noop) RecordPosition(string, int) {}

// Close implements Sink.
func (Noop) Close() {}
