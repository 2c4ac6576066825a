// Package metrics provides the timing-instrumentation sink for device I/O.
//
// Components that want instrumentation (frame reads, command round-trips,
// position samples) receive a Sink explicitly at construction time; there is
// no process-wide mutable accumulator. The default sink is Noop, so
// instrumentation never becomes a hard dependency.
//
// The InfluxDB-backed sink batches writes and never blocks the caller:
// a dropped metric is preferred over a stalled control-loop tick.
//
// Usage:
//
//	sink, err := metrics.Connect(cfg.Metrics)
//	if err != nil { ... fall back to metrics.Noop{} ... }
//	pipeline.SetMetrics(sink)
package metrics
