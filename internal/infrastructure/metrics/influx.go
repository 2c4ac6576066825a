package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/wooshrobot/armlink/internal/infrastructure/config"
)

// Default timeouts for InfluxDB operations.
const (
	defaultConnectTimeout = 10 * time.Second

	// millisecondsPerSecond converts seconds to milliseconds for the InfluxDB API.
	millisecondsPerSecond = 1000
)

// Influx is a Sink backed by InfluxDB v2.
//
// Writes are batched and sent asynchronously by the underlying client, so
// every Sink method returns immediately.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.MetricsConfig

	connected bool
	mu        sync.RWMutex

	// onError is called when async write errors occur.
	onError func(err error)
}

var _ Sink = (*Influx)(nil)

// Connect establishes a connection to the InfluxDB server.
//
// It performs the following setup:
//  1. Creates the client with token authentication
//  2. Verifies connectivity with a ping
//  3. Configures the non-blocking write API with batching
//
// Parameters:
//   - cfg: Metrics configuration from config.yaml
//
// Returns:
//   - *Influx: Connected sink ready for use
//   - error: ErrDisabled if metrics are off, or a wrapped connection error
func Connect(cfg config.MetricsConfig) (*Influx, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	// #nosec G115 -- values validated above to be positive
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server reported unhealthy", ErrConnectionFailed)
	}

	s := &Influx{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		cfg:       cfg,
		connected: true,
	}

	// Drain async write errors so the channel never fills.
	go func() {
		for err := range s.writeAPI.Errors() {
			s.mu.RLock()
			cb := s.onError
			s.mu.RUnlock()
			if cb != nil {
				cb(err)
			}
		}
	}()

	return s, nil
}

// SetOnError sets a callback for asynchronous write failures.
func (s *Influx) SetOnError(cb func(error)) {
	s.mu.Lock()
	s.onError = cb
	s.mu.Unlock()
}

// IsConnected reports whether the sink accepted its initial ping.
func (s *Influx) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// ObserveFrameRead records one frame acquisition attempt for a camera.
func (s *Influx) ObserveFrameRead(camera string, d time.Duration, ok bool) {
	if !s.IsConnected() {
		return
	}

	point := write.NewPoint(
		"frame_read",
		map[string]string{
			"camera": camera,
		},
		map[string]interface{}{
			"duration_ms": float64(d) / float64(time.Millisecond),
			"ok":          ok,
		},
		time.Now(),
	)

	s.writeAPI.WritePoint(point)
}

// ObserveCommand records one correlated command round-trip for an actuator.
func (s *Influx) ObserveCommand(actuator, command string, d time.Duration, ok bool) {
	if !s.IsConnected() {
		return
	}

	point := write.NewPoint(
		"actuator_command",
		map[string]string{
			"actuator": actuator,
			"command":  command,
		},
		map[string]interface{}{
			"duration_ms": float64(d) / float64(time.Millisecond),
			"ok":          ok,
		},
		time.Now(),
	)

	s.writeAPI.WritePoint(point)
}

// RecordPosition records an observed actuator position in device units.
func (s *Influx) RecordPosition(actuator string, deviceUnits int) {
	if !s.IsConnected() {
		return
	}

	point := write.NewPoint(
		"actuator_position",
		map[string]string{
			"actuator": actuator,
		},
		map[string]interface{}{
			"device_units": deviceUnits,
		},
		time.Now(),
	)

	s.writeAPI.WritePoint(point)
}

// Close flushes pending writes and releases the client.
func (s *Influx) Close() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	s.writeAPI.Flush()
	s.client.Close()
}
