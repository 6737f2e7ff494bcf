package supplier

import (
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

// readerSlot is a single-slot mailbox for one reader.
type readerSlot struct {
	mu   sync.Mutex
	cond *sync.Cond
	snap *types.Snapshot
	seq  uint64 // distribution sequence of snap

	lastConsumedAt   time.Time
	lastConsumedSeq  uint64
	consecutiveDrops uint64
	totalDrops       uint64

	closed bool
}

func (slot *readerSlot) put(snap *types.Snapshot, seq uint64) {
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.closed {
		return
	}
	if slot.snap != nil {
		slot.consecutiveDrops++
		slot.totalDrops++
	}
	slot.snap = snap
	slot.seq = seq
	slot.cond.Signal()
}

func (slot *readerSlot) close() {
	slot.mu.Lock()
	slot.closed = true
	slot.cond.Broadcast()
	slot.mu.Unlock()
}

// Subscribe registers a reader and returns a function that blocks until
// the next snapshot and returns nil once the reader is unsubscribed or the
// supplier stops. The function must be called from one goroutine only.
// Subscribing an existing id replaces its slot and releases the old reader.
func (s *Supplier) Subscribe(readerID string) func() *types.Snapshot {
	if s.stopping.Load() {
		return func() *types.Snapshot { return nil }
	}

	slot := &readerSlot{lastConsumedAt: s.clock.Now()}
	slot.cond = sync.NewCond(&slot.mu)
	if old, loaded := s.slots.Swap(readerID, slot); loaded {
		old.(*readerSlot).close()
	}

	return func() *types.Snapshot {
		slot.mu.Lock()
		defer slot.mu.Unlock()

		for slot.snap == nil && !slot.closed {
			slot.cond.Wait()
		}
		if slot.closed {
			return nil
		}

		snap := slot.snap
		slot.snap = nil
		slot.lastConsumedAt = s.clock.Now()
		slot.lastConsumedSeq = slot.seq
		slot.consecutiveDrops = 0
		return snap
	}
}

// Unsubscribe removes a reader and wakes it with nil. Idempotent.
func (s *Supplier) Unsubscribe(readerID string) {
	val, ok := s.slots.LoadAndDelete(readerID)
	if !ok {
		return
	}
	val.(*readerSlot).close()
}
