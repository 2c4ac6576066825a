package metrics

import (
	"testing"
	"time"

	"github.com/wooshrobot/armlink/internal/infrastructure/config"
)

func TestNoopImplementsSink(t *testing.T) {
	var s Sink = Noop{}

	// Must not panic or block.
	s.ObserveFrameRead("top", 5*time.Millisecond, true)
	s.ObserveCommand("right", "write_registers", 12*time.Millisecond, false)
	s.RecordPosition("right", 132)
	s.Close()
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.MetricsConfig{Enabled: false})
	if err != ErrDisabled {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}
