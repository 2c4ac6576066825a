package camera

import (
	"errors"
	"testing"
	"time"
)

func TestMailbox_PublishStampsGeneration(t *testing.T) {
	m := NewMailbox()

	if got := m.Generation(); got != 0 {
		t.Fatalf("expected generation 0 before publish, got %d", got)
	}

	f1 := &Frame{Data: []byte{1}}
	f2 := &Frame{Data: []byte{2}}
	m.Publish(f1)
	m.Publish(f2)

	if f1.Generation != 1 {
		t.Errorf("first frame generation = %d, want 1", f1.Generation)
	}
	if f2.Generation != 2 {
		t.Errorf("second frame generation = %d, want 2", f2.Generation)
	}
	if got := m.Generation(); got != 2 {
		t.Errorf("mailbox generation = %d, want 2", got)
	}
}

func TestMailbox_WaitLatestReturnsImmediatelyWhenFresh(t *testing.T) {
	m := NewMailbox()
	m.Publish(&Frame{Data: []byte{42}})

	start := time.Now()
	f, gen, err := m.WaitLatest(0, time.Second)
	if err != nil {
		t.Fatalf("WaitLatest failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("WaitLatest took %v, expected near-immediate return", elapsed)
	}
	if gen != 1 {
		t.Errorf("generation = %d, want 1", gen)
	}
	if f.Data[0] != 42 {
		t.Errorf("frame data = %v, want [42]", f.Data)
	}
}

func TestMailbox_WaitLatestTimesOutOnStale(t *testing.T) {
	m := NewMailbox()
	m.Publish(&Frame{Data: []byte{1}})

	// The caller has already consumed generation 1; nothing newer arrives.
	_, gen, err := m.WaitLatest(1, 50*time.Millisecond)
	if !errors.Is(err, ErrFrameTimeout) {
		t.Fatalf("expected ErrFrameTimeout, got %v", err)
	}
	if gen != 1 {
		t.Errorf("returned generation = %d, want unchanged lastSeen 1", gen)
	}
}

func TestMailbox_WaitLatestWakesOnPublish(t *testing.T) {
	m := NewMailbox()

	go func() {
		time.Sleep(20 * time.Millisecond)
		m.Publish(&Frame{Data: []byte{7}})
	}()

	f, gen, err := m.WaitLatest(0, time.Second)
	if err != nil {
		t.Fatalf("WaitLatest failed: %v", err)
	}
	if gen != 1 || f.Data[0] != 7 {
		t.Errorf("got gen=%d data=%v, want gen=1 data=[7]", gen, f.Data)
	}
}

func TestMailbox_PublishCoalescesWithoutWaiter(t *testing.T) {
	m := NewMailbox()

	// Three rapid publishes with nobody waiting; the reader must see only
	// the newest frame, not a backlog.
	for i := byte(1); i <= 3; i++ {
		m.Publish(&Frame{Data: []byte{i}})
	}

	f, gen, err := m.WaitLatest(0, time.Second)
	if err != nil {
		t.Fatalf("WaitLatest failed: %v", err)
	}
	if gen != 3 {
		t.Errorf("generation = %d, want 3", gen)
	}
	if f.Data[0] != 3 {
		t.Errorf("frame data = %v, want newest frame [3]", f.Data)
	}
}

func TestMailbox_FreshnessAcrossSequentialReads(t *testing.T) {
	m := NewMailbox()

	var lastSeen uint64
	for i := byte(1); i <= 5; i++ {
		m.Publish(&Frame{Data: []byte{i}})

		f, gen, err := m.WaitLatest(lastSeen, time.Second)
		if err != nil {
			t.Fatalf("read %d failed: %v", i, err)
		}
		if gen <= lastSeen {
			t.Fatalf("read %d: generation %d not newer than lastSeen %d", i, gen, lastSeen)
		}
		if f.Data[0] != i {
			t.Errorf("read %d: data = %v, want [%d]", i, f.Data, i)
		}
		lastSeen = gen
	}
}
