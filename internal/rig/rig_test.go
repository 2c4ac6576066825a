package rig

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wooshrobot/armlink/internal/infrastructure/config"
	"github.com/wooshrobot/armlink/internal/infrastructure/logging"
	"github.com/wooshrobot/armlink/internal/journal"
)

// stubRecorder captures journal events in memory.
type stubRecorder struct {
	mu     sync.Mutex
	events []journal.Event
}

func (s *stubRecorder) Record(_ context.Context, event *journal.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *stubRecorder) List(_ context.Context, _ journal.Filter) ([]journal.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]journal.Event(nil), s.events...), nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Service.ID = "rig-test"
	cfg.Sampling.IntervalMs = 10
	cfg.Sampling.PositionReadEvery = 5
	cfg.Sampling.FrameTimeoutMs = 50
	return cfg
}

func TestNewCameraConfig(t *testing.T) {
	got := newCameraConfig("wrist", config.CameraConfig{
		Device:      "/dev/video2",
		Width:       640,
		Height:      480,
		FPS:         30,
		PixelFormat: "rgb24",
		InputFormat: "v4l2",
		Warmup:      true,
	})

	if got.Name != "wrist" {
		t.Errorf("Name = %q, want wrist", got.Name)
	}
	if got.Device != "/dev/video2" {
		t.Errorf("Device = %q, want /dev/video2", got.Device)
	}
	if got.Width != 640 || got.Height != 480 || got.FPS != 30 {
		t.Errorf("geometry = %dx%d@%d, want 640x480@30", got.Width, got.Height, got.FPS)
	}
	if !got.Warmup {
		t.Error("Warmup not carried over")
	}
}

func TestNewActuatorConfig(t *testing.T) {
	got := newActuatorConfig("grip", config.ActuatorConfig{
		Host:           "192.168.1.50",
		Port:           29999,
		DeviceID:       9,
		Force:          60,
		Speed:          255,
		Mode:           "persistent",
		ReadEncoding:   "packed",
		ConnectTimeout: 3,
		CommandTimeout: 2,
		SettleMs:       500,
	})

	if got.Name != "grip" {
		t.Errorf("Name = %q, want grip", got.Name)
	}
	if got.ConnectTimeout != 3*time.Second {
		t.Errorf("ConnectTimeout = %v, want 3s", got.ConnectTimeout)
	}
	if got.CommandTimeout != 2*time.Second {
		t.Errorf("CommandTimeout = %v, want 2s", got.CommandTimeout)
	}
	if got.SettleTime != 500*time.Millisecond {
		t.Errorf("SettleTime = %v, want 500ms", got.SettleTime)
	}
	if got.Mode != "persistent" || got.ReadEncoding != "packed" {
		t.Errorf("mode/encoding = %q/%q, want persistent/packed", got.Mode, got.ReadEncoding)
	}
}

func TestMarkCaptureDeadJournalsOnce(t *testing.T) {
	rec := &stubRecorder{}
	r := New(testConfig(), logging.Default(), Deps{Journal: rec})

	ctx := context.Background()
	r.markCaptureDead(ctx, "wrist")
	r.markCaptureDead(ctx, "wrist")
	r.markCaptureDead(ctx, "top")

	events, _ := rec.List(ctx, journal.Filter{})
	if len(events) != 2 {
		t.Fatalf("journal events = %d, want 2", len(events))
	}
	for _, e := range events {
		if e.Kind != journal.KindCaptureDead {
			t.Errorf("event kind = %q, want %q", e.Kind, journal.KindCaptureDead)
		}
	}
}

func TestCommandPositionUnknownActuator(t *testing.T) {
	r := New(testConfig(), logging.Default(), Deps{})

	if err := r.CommandPosition(context.Background(), "nope", 50); err == nil {
		t.Fatal("expected error for unknown actuator")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r := New(testConfig(), logging.Default(), Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestDeviceAccessors(t *testing.T) {
	r := New(testConfig(), logging.Default(), Deps{})

	if _, ok := r.Actuator("grip"); ok {
		t.Error("Actuator returned ok for unconfigured name")
	}
	if _, ok := r.Camera("wrist"); ok {
		t.Error("Camera returned ok for unconfigured name")
	}
}
