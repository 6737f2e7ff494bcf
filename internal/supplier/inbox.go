package supplier

import (
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

// Publish hands snap to the distribution loop without blocking. An
// undistributed snapshot is overwritten and counted as an inbox drop.
// snap must not be modified afterwards.
func (s *Supplier) Publish(snap *types.Snapshot) {
	if snap == nil || s.stopping.Load() {
		return
	}

	s.inboxMu.Lock()
	if s.inboxSnap != nil {
		atomic.AddUint64(&s.inboxDrops, 1)
	}
	s.inboxSnap = snap
	s.inboxCond.Signal()
	s.inboxMu.Unlock()
}
