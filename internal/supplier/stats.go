package supplier

import (
	"sync/atomic"
	"time"
)

// idleThreshold marks a reader idle when it has not consumed for this long.
const idleThreshold = 30 * time.Second

// Stats is a point-in-time view of distribution.
type Stats struct {
	Published  uint64
	InboxDrops uint64
	Readers    map[string]ReaderStats
}

// ReaderStats describes one reader.
type ReaderStats struct {
	ReaderID         string
	LastConsumedAt   time.Time
	LastConsumedSeq  uint64
	ConsecutiveDrops uint64
	TotalDrops       uint64
	Pending          bool // a snapshot is waiting to be read
	IsIdle           bool
}

// Stats returns a snapshot of the counters.
func (s *Supplier) Stats() Stats {
	now := s.clock.Now()
	st := Stats{
		Published:  atomic.LoadUint64(&s.publishSeq),
		InboxDrops: atomic.LoadUint64(&s.inboxDrops),
		Readers:    make(map[string]ReaderStats),
	}

	s.slots.Range(func(key, value any) bool {
		id := key.(string)
		slot := value.(*readerSlot)

		slot.mu.Lock()
		st.Readers[id] = ReaderStats{
			ReaderID:         id,
			LastConsumedAt:   slot.lastConsumedAt,
			LastConsumedSeq:  slot.lastConsumedSeq,
			ConsecutiveDrops: slot.consecutiveDrops,
			TotalDrops:       slot.totalDrops,
			Pending:          slot.snap != nil,
			IsIdle:           now.Sub(slot.lastConsumedAt) > idleThreshold,
		}
		slot.mu.Unlock()
		return true
	})
	return st
}
