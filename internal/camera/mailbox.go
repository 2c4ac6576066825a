package camera

import (
	"sync"
	"time"
)

// Mailbox is a single-slot, publish-latest frame buffer with
// generation-counted freshness and timeout-bounded waiting.
//
// Writers always fully replace the stored frame; readers never observe a
// generation older than one they have already consumed after a successful
// wait.
//
// Signal semantics: all waiters share one "new data" signal and the first
// waiter to wake consumes it (single-notification-per-generation, not
// fan-out broadcast). A burst of simultaneous waiters after one publish
// will not all see that publish as "new" on their next wait. Callers that
// need fan-out must poll Generation instead of relying on the signal alone.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Mailbox struct {
	mu    sync.Mutex
	frame *Frame
	gen   uint64

	// signal carries at most one pending "new data" notification.
	signal chan struct{}
}

// NewMailbox creates an empty mailbox at generation zero.
func NewMailbox() *Mailbox {
	return &Mailbox{
		signal: make(chan struct{}, 1),
	}
}

// Publish replaces the stored frame, advances the generation counter,
// stamps it onto the frame, and signals waiters.
//
// Publish never blocks: if a notification is already pending, the new
// publish coalesces into it.
func (m *Mailbox) Publish(f *Frame) {
	m.mu.Lock()
	m.gen++
	f.Generation = m.gen
	m.frame = f
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
		// A notification is already pending; the waiter will observe
		// the newest generation when it wakes.
	}
}

// Generation returns the generation counter of the most recent publish.
// Zero means nothing has been published yet.
func (m *Mailbox) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// WaitLatest blocks until a generation newer than lastSeen is available or
// the timeout elapses.
//
// Parameters:
//   - lastSeen: The generation the caller last consumed (zero for "any")
//   - timeout: Maximum time to wait
//
// Returns:
//   - *Frame: The freshest published frame
//   - uint64: Its generation, to pass as lastSeen on the next call
//   - error: ErrFrameTimeout-compatible timeout if nothing newer arrived
func (m *Mailbox) WaitLatest(lastSeen uint64, timeout time.Duration) (*Frame, uint64, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		m.mu.Lock()
		if m.gen > lastSeen {
			f, gen := m.frame, m.gen
			m.mu.Unlock()
			return f, gen, nil
		}
		m.mu.Unlock()

		select {
		case <-m.signal:
			// Consumed the shared notification; re-check the generation.
			// It may have been raised by a publish this caller already saw.
		case <-timer.C:
			return nil, lastSeen, ErrFrameTimeout
		}
	}
}
