package metrics

import "errors"

// Domain-specific errors for the metrics sink.
var (
	// ErrDisabled is returned when connecting while metrics are disabled in config.
	ErrDisabled = errors.New("metrics: sink disabled in configuration")

	// ErrConnectionFailed is returned when the InfluxDB server is unreachable.
	ErrConnectionFailed = errors.New("metrics: connection to InfluxDB failed")
)
