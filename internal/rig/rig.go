// Package rig assembles the configured cameras and actuators into one
// runnable unit: it owns device lifecycles, runs the sampling loop, and
// fans observations out to MQTT, the metrics sink and the event journal.
package rig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wooshrobot/armlink/internal/camera"
	"github.com/wooshrobot/armlink/internal/gripper"
	"github.com/wooshrobot/armlink/internal/infrastructure/config"
	"github.com/wooshrobot/armlink/internal/infrastructure/logging"
	"github.com/wooshrobot/armlink/internal/infrastructure/metrics"
	"github.com/wooshrobot/armlink/internal/infrastructure/mqtt"
	"github.com/wooshrobot/armlink/internal/journal"
)

// Deps carries the optional infrastructure the rig publishes into.
// Nil fields disable the corresponding output.
type Deps struct {
	MQTT    *mqtt.Client
	Metrics metrics.Sink
	Journal journal.Recorder
}

// actuatorUnit pairs a gripper client with its observation cache.
type actuatorUnit struct {
	client *gripper.Client
	cache  *gripper.ObservationCache
}

// positionSample is the MQTT payload for one actuator observation.
type positionSample struct {
	RigID     string  `json:"rig_id"`
	Actuator  string  `json:"actuator"`
	Position  float64 `json:"position"`
	Timestamp string  `json:"timestamp"`
}

// frameSample is the MQTT payload for one camera progress observation.
type frameSample struct {
	RigID      string `json:"rig_id"`
	Camera     string `json:"camera"`
	Generation uint64 `json:"generation"`
	Timestamp  string `json:"timestamp"`
}

// statusSample is the MQTT payload for device status transitions.
type statusSample struct {
	RigID     string `json:"rig_id"`
	Device    string `json:"device"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Rig owns the configured devices and the sampling loop.
//
// Thread Safety:
//   - Start, Run and Close are intended to be called from one goroutine;
//     device accessors are safe once Start has returned.
type Rig struct {
	cfg    *config.Config
	logger *logging.Logger
	sink   metrics.Sink
	mq     *mqtt.Client
	events journal.Recorder

	cameras   map[string]*camera.Pipeline
	actuators map[string]*actuatorUnit

	// captureDead tracks cameras already journalled as dead, so the
	// sampling loop reports each death once.
	deadMu      sync.Mutex
	captureDead map[string]bool

	topics mqtt.Topics
}

// New builds a rig from configuration. No device I/O happens until Start.
func New(cfg *config.Config, logger *logging.Logger, deps Deps) *Rig {
	sink := deps.Metrics
	if sink == nil {
		sink = metrics.Noop{}
	}

	r := &Rig{
		cfg:         cfg,
		logger:      logger,
		sink:        sink,
		mq:          deps.MQTT,
		events:      deps.Journal,
		cameras:     make(map[string]*camera.Pipeline),
		actuators:   make(map[string]*actuatorUnit),
		captureDead: make(map[string]bool),
	}

	for name, camCfg := range cfg.Cameras {
		p := camera.New(newCameraConfig(name, camCfg))
		p.SetLogger(logger)
		p.SetMetrics(sink)
		r.cameras[name] = p
	}

	for name, actCfg := range cfg.Actuators {
		c := gripper.New(newActuatorConfig(name, actCfg))
		c.SetLogger(logger)
		c.SetMetrics(sink)
		r.actuators[name] = &actuatorUnit{
			client: c,
			cache:  gripper.NewObservationCache(c, cfg.Sampling.PositionReadEvery),
		}
	}

	return r
}

// newCameraConfig maps the YAML camera section onto the pipeline config.
func newCameraConfig(name string, c config.CameraConfig) camera.Config {
	return camera.Config{
		Name:        name,
		Device:      c.Device,
		Width:       c.Width,
		Height:      c.Height,
		FPS:         c.FPS,
		PixelFormat: c.PixelFormat,
		InputFormat: c.InputFormat,
		Warmup:      c.Warmup,
	}
}

// newActuatorConfig maps the YAML actuator section onto the client config.
func newActuatorConfig(name string, a config.ActuatorConfig) gripper.Config {
	return gripper.Config{
		Name:           name,
		Host:           a.Host,
		Port:           a.Port,
		DeviceID:       a.DeviceID,
		Force:          a.Force,
		Speed:          a.Speed,
		Mode:           a.Mode,
		ReadEncoding:   a.ReadEncoding,
		ConnectTimeout: time.Duration(a.ConnectTimeout) * time.Second,
		CommandTimeout: time.Duration(a.CommandTimeout) * time.Second,
		SettleTime:     time.Duration(a.SettleMs) * time.Millisecond,
	}
}

// Start connects every configured device.
//
// A device that fails to connect fails Start; devices already connected
// stay up so Close can tear them down. Actuators are enabled after
// connecting; an enable failure is journalled and tolerated.
func (r *Rig) Start(ctx context.Context) error {
	for name, cam := range r.cameras {
		if err := cam.Connect(ctx); err != nil {
			r.record(ctx, name, journal.KindInitWarning, map[string]any{"error": err.Error()})
			return fmt.Errorf("connecting camera %s: %w", name, err)
		}
		r.record(ctx, name, journal.KindConnect, nil)
		r.publishStatus(name, "camera", "connected")
	}

	for name, unit := range r.actuators {
		if err := unit.client.Connect(ctx); err != nil {
			r.record(ctx, name, journal.KindInitWarning, map[string]any{"error": err.Error()})
			return fmt.Errorf("connecting actuator %s: %w", name, err)
		}
		r.record(ctx, name, journal.KindConnect, nil)
		r.publishStatus(name, "actuator", "connected")

		if err := unit.client.Enable(ctx); err != nil {
			r.logger.Warn("enabling actuator failed", "actuator", name, "error", err)
			r.record(ctx, name, journal.KindInitWarning, map[string]any{
				"stage": "enable",
				"error": err.Error(),
			})
		}
	}

	r.logger.Info("rig started",
		"rig", r.cfg.Service.ID,
		"cameras", len(r.cameras),
		"actuators", len(r.actuators),
	)
	return nil
}

// Run drives the sampling loop until ctx is cancelled.
//
// Each tick observes every actuator through its decimating cache and
// every camera through a bounded fresh-frame wait, publishing the
// results over MQTT.
func (r *Rig) Run(ctx context.Context) error {
	interval := time.Duration(r.cfg.Sampling.IntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("sampling loop running", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("sampling loop stopped")
			return nil
		case <-ticker.C:
			r.sampleOnce(ctx)
		}
	}
}

// sampleOnce performs one sampling tick.
func (r *Rig) sampleOnce(ctx context.Context) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	for name, unit := range r.actuators {
		pos := unit.cache.Observe(ctx)
		r.publish(r.topics.ActuatorPosition(name), positionSample{
			RigID:     r.cfg.Service.ID,
			Actuator:  name,
			Position:  pos,
			Timestamp: now,
		})
	}

	frameTimeout := time.Duration(r.cfg.Sampling.FrameTimeoutMs) * time.Millisecond
	for name, cam := range r.cameras {
		frame, err := cam.AsyncRead(frameTimeout)
		if err != nil {
			var te *camera.TimeoutError
			if errors.As(err, &te) && !te.LoopRunning {
				r.markCaptureDead(ctx, name)
			}
			continue
		}

		r.publish(r.topics.CameraFrames(name), frameSample{
			RigID:      r.cfg.Service.ID,
			Camera:     name,
			Generation: frame.Generation,
			Timestamp:  now,
		})
	}
}

// markCaptureDead journals and announces a dead capture session, once.
func (r *Rig) markCaptureDead(ctx context.Context, name string) {
	r.deadMu.Lock()
	already := r.captureDead[name]
	r.captureDead[name] = true
	r.deadMu.Unlock()

	if already {
		return
	}

	r.logger.Error("capture session dead, camera needs reconnect", "camera", name)
	r.record(ctx, name, journal.KindCaptureDead, nil)
	r.publishStatus(name, "camera", "dead")
}

// CommandPosition moves the named actuator, journalling failures.
//
// Parameters:
//   - name: Configured actuator name
//   - value: Target position in engineering units [0, 100]
func (r *Rig) CommandPosition(ctx context.Context, name string, value float64) error {
	unit, ok := r.actuators[name]
	if !ok {
		return fmt.Errorf("unknown actuator %q", name)
	}

	if err := unit.client.SetPosition(ctx, value); err != nil {
		r.record(ctx, name, journal.KindCommandFailed, map[string]any{
			"command": "set_position",
			"value":   value,
			"error":   err.Error(),
		})
		return err
	}

	unit.cache.Invalidate()
	return nil
}

// Actuator returns the named gripper client, for callers that need the
// raw device interface.
func (r *Rig) Actuator(name string) (*gripper.Client, bool) {
	unit, ok := r.actuators[name]
	if !ok {
		return nil, false
	}
	return unit.client, true
}

// Camera returns the named capture pipeline.
func (r *Rig) Camera(name string) (*camera.Pipeline, bool) {
	cam, ok := r.cameras[name]
	return cam, ok
}

// Close disconnects every device, best-effort.
func (r *Rig) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for name, unit := range r.actuators {
		if err := unit.client.Disable(ctx); err != nil {
			r.logger.Warn("disabling actuator on shutdown", "actuator", name, "error", err)
		}
		if err := unit.client.Disconnect(); err != nil {
			r.logger.Warn("disconnecting actuator", "actuator", name, "error", err)
			continue
		}
		r.record(ctx, name, journal.KindDisconnect, nil)
	}

	for name, cam := range r.cameras {
		if err := cam.Disconnect(); err != nil {
			r.logger.Warn("disconnecting camera", "camera", name, "error", err)
			continue
		}
		r.record(ctx, name, journal.KindDisconnect, nil)
	}

	r.logger.Info("rig closed", "rig", r.cfg.Service.ID)
}

// record writes one journal event when a recorder is wired.
func (r *Rig) record(ctx context.Context, device, kind string, detail map[string]any) {
	if r.events == nil {
		return
	}
	if err := r.events.Record(ctx, &journal.Event{Device: device, Kind: kind, Detail: detail}); err != nil {
		r.logger.Warn("journal write failed", "device", device, "kind", kind, "error", err)
	}
}

// publish sends one telemetry sample when MQTT is wired.
func (r *Rig) publish(topic string, v any) {
	if r.mq == nil {
		return
	}
	if err := r.mq.PublishJSON(topic, v); err != nil {
		r.logger.Debug("telemetry publish failed", "topic", topic, "error", err)
	}
}

// publishStatus sends a retained device status transition.
func (r *Rig) publishStatus(name, deviceType, status string) {
	if r.mq == nil {
		return
	}

	topic := r.topics.ActuatorStatus(name)
	if deviceType == "camera" {
		topic = r.topics.CameraStatus(name)
	}

	payload := statusSample{
		RigID:     r.cfg.Service.ID,
		Device:    name,
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := r.mq.Publish(topic, b, true); err != nil {
		r.logger.Debug("status publish failed", "topic", topic, "error", err)
	}
}
