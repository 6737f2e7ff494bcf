// Package supplier hands each tick's snapshot to any number of reader
// goroutines with latest-only mailbox semantics: a slow reader skips
// snapshots, it never queues them and never slows the tick loop.
package supplier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/juju/clock"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("subjectlink: snapshot supplier already started")

// Supplier distributes snapshots.
//
// Goroutine topology:
//   - 1 fixed: distributionLoop (Start to Stop)
//   - 0-N/8 transient: batch goroutines when more than 8 readers
//   - N external: reader goroutines, owned by the caller
type Supplier struct {
	clock clock.Clock

	inboxMu    sync.Mutex
	inboxCond  *sync.Cond
	inboxSnap  *types.Snapshot // nil = consumed
	inboxDrops uint64

	slots sync.Map // readerID -> *readerSlot

	publishSeq uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startedMu sync.Mutex
	started   bool
	stopping  atomic.Bool
}

// New creates a stopped supplier. clk stamps reader activity.
func New(clk clock.Clock) *Supplier {
	if clk == nil {
		clk = clock.WallClock
	}
	s := &Supplier{clock: clk}
	s.inboxCond = sync.NewCond(&s.inboxMu)
	return s
}

// Start spawns the distribution loop and returns. The loop runs until ctx
// is done or Stop is called.
func (s *Supplier) Start(ctx context.Context) error {
	s.startedMu.Lock()
	defer s.startedMu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	s.wg.Add(1)
	go s.distributionLoop()

	// The loop waits on a sync.Cond; wake it when the caller's ctx ends.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-s.ctx.Done()
		s.inboxMu.Lock()
		s.inboxCond.Broadcast()
		s.inboxMu.Unlock()
	}()
	return nil
}

// Stop shuts the loop down, closes every reader slot and waits for the
// loop to exit. Idempotent. A stopped supplier cannot be restarted.
func (s *Supplier) Stop() {
	s.startedMu.Lock()
	started := s.started
	s.startedMu.Unlock()
	if !started || s.stopping.Swap(true) {
		return
	}

	s.cancel()

	s.inboxMu.Lock()
	s.inboxCond.Broadcast()
	s.inboxMu.Unlock()

	s.wg.Wait()

	s.slots.Range(func(key, value any) bool {
		value.(*readerSlot).close()
		s.slots.Delete(key)
		return true
	})
}

func (s *Supplier) distributionLoop() {
	defer s.wg.Done()

	for {
		s.inboxMu.Lock()
		for s.inboxSnap == nil {
			if s.ctx.Err() != nil {
				s.inboxMu.Unlock()
				return
			}
			s.inboxCond.Wait()
		}
		snap := s.inboxSnap
		s.inboxSnap = nil
		s.inboxMu.Unlock()

		if s.ctx.Err() != nil {
			return
		}
		s.distribute(snap)
	}
}
