package supplier

import (
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

// publishBatchSize is the reader count above which distribution fans out
// to batch goroutines instead of a sequential loop.
const publishBatchSize = 8

func (s *Supplier) distribute(snap *types.Snapshot) {
	seq := atomic.AddUint64(&s.publishSeq, 1)

	var slots []*readerSlot
	s.slots.Range(func(_, value any) bool {
		slots = append(slots, value.(*readerSlot))
		return true
	})

	if len(slots) <= publishBatchSize {
		for _, slot := range slots {
			slot.put(snap, seq)
		}
		return
	}

	// Fire and forget: a tick interval is orders of magnitude longer than
	// a fan-out, so batch N+1 cannot overtake batch N.
	for i := 0; i < len(slots); i += publishBatchSize {
		batch := slots[i:min(i+publishBatchSize, len(slots))]
		go func(b []*readerSlot) {
			for _, slot := range b {
				slot.put(snap, seq)
			}
		}(batch)
	}
}
