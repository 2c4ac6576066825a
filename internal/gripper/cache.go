package gripper

import (
	"context"
	"sync"
)

// fallbackPosition is the engineering-unit value reported before any read
// has succeeded: the centre of the range, the least-wrong guess.
const fallbackPosition = 50.0

// PositionReader is the slice of Client the cache needs.
type PositionReader interface {
	GetPosition(ctx context.Context) (int, error)
}

// ObservationCache decimates position reads for high-rate sampling loops.
//
// A register read costs a full command round trip, far too slow to run at
// loop rate. The cache performs a real read only every ReadEvery calls
// and serves the last known value in between. Failed reads keep the
// previous value; before the first successful read the cache reports the
// centre of the engineering range.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type ObservationCache struct {
	reader    PositionReader
	readEvery int

	mu    sync.Mutex
	calls int
	last  float64
	valid bool
}

// NewObservationCache creates a cache that reads through every readEvery
// calls. A readEvery below 1 reads on every call.
func NewObservationCache(reader PositionReader, readEvery int) *ObservationCache {
	if readEvery < 1 {
		readEvery = 1
	}
	return &ObservationCache{
		reader:    reader,
		readEvery: readEvery,
	}
}

// Observe returns the current position estimate in engineering units.
//
// Every readEvery-th call performs a real device read; other calls and
// failed reads return the cached value. This method never returns an
// error; staleness is the accepted trade for loop-rate latency.
func (o *ObservationCache) Observe(ctx context.Context) float64 {
	o.mu.Lock()
	o.calls++
	due := o.calls%o.readEvery == 0 || !o.valid
	o.mu.Unlock()

	if due {
		if dev, err := o.reader.GetPosition(ctx); err == nil {
			o.mu.Lock()
			o.last = devToEng(dev)
			o.valid = true
			o.mu.Unlock()
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.valid {
		return fallbackPosition
	}
	return o.last
}

// Invalidate drops the cached value; the next Observe reads the device.
func (o *ObservationCache) Invalidate() {
	o.mu.Lock()
	o.valid = false
	o.mu.Unlock()
}
