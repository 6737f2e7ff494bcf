// Package notify distributes change notifications to subscribers without
// ever blocking the publisher.
package notify

import (
	"sync"
	"sync/atomic"
)

type subscriber struct {
	id     string
	policy DropPolicy
	stats  SubscriberStats

	ch     chan<- Event  // DropNew
	latest *latestHolder // DropOld
	fn     func(Event)   // Callback
}

// Bus fans events out to subscribers. Safe for concurrent use.
type Bus struct {
	mu             sync.RWMutex
	subscribers    map[string]*subscriber
	totalPublished uint64
	closed         bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

func (b *Bus) add(s *subscriber) error {
	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[s.id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[s.id] = s
	return nil
}

// Subscribe registers a channel with DropNew policy.
func (b *Bus) Subscribe(id string, ch chan<- Event) error {
	if ch == nil {
		return ErrNilChannel
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.add(&subscriber{id: id, policy: DropNew, ch: ch})
}

// SubscribeLatest registers a subscriber that only ever sees the newest
// event.
func (b *Bus) SubscribeLatest(id string) (Receiver, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &subscriber{id: id, policy: DropOld, latest: newLatestHolder()}
	if err := b.add(s); err != nil {
		return nil, err
	}
	return s.latest, nil
}

// SubscribeFunc registers fn to be called on the publishing goroutine.
// fn must not block and must not call back into the bus.
func (b *Bus) SubscribeFunc(id string, fn func(Event)) error {
	if fn == nil {
		return ErrNilCallback
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.add(&subscriber{id: id, policy: Callback, fn: fn})
}

// Publish delivers ev to every subscriber. Never blocks on a slow
// subscriber. No-op once closed.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	atomic.AddUint64(&b.totalPublished, 1)

	for _, s := range b.subscribers {
		switch s.policy {
		case DropNew:
			select {
			case s.ch <- ev:
				atomic.AddUint64(&s.stats.Sent, 1)
			default:
				atomic.AddUint64(&s.stats.Dropped, 1)
			}
		case DropOld:
			if s.latest.set(ev) {
				atomic.AddUint64(&s.stats.Dropped, 1)
			}
			atomic.AddUint64(&s.stats.Sent, 1)
		case Callback:
			s.fn(ev)
			atomic.AddUint64(&s.stats.Sent, 1)
		}
	}
}

// Unsubscribe removes a subscriber and closes its receiver if it has one.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	if s.latest != nil {
		s.latest.Close()
	}
	delete(b.subscribers, id)
	return nil
}

// Stats returns delivery counters for a subscriber.
func (b *Bus) Stats(id string) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, exists := b.subscribers[id]
	if !exists {
		return SubscriberStats{}, ErrSubscriberNotFound
	}
	return SubscriberStats{
		Sent:    atomic.LoadUint64(&s.stats.Sent),
		Dropped: atomic.LoadUint64(&s.stats.Dropped),
	}, nil
}

// TotalPublished returns the number of events published.
func (b *Bus) TotalPublished() uint64 {
	return atomic.LoadUint64(&b.totalPublished)
}

// Close shuts the bus down and wakes every latest receiver.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subscribers {
		if s.latest != nil {
			s.latest.Close()
		}
	}
	b.subscribers = nil
}

// latestHolder is the mailbox behind a DropOld subscription.
type latestHolder struct {
	mu       sync.Mutex
	cond     *sync.Cond
	ev       Event
	seq      uint64
	received uint64
	closed   bool
}

func newLatestHolder() *latestHolder {
	h := &latestHolder{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// set stores ev and reports whether an unreceived event was overwritten.
func (h *latestHolder) set(ev Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	overwrote := h.seq > h.received
	h.ev = ev
	h.seq++
	h.cond.Broadcast()
	return overwrote
}

func (h *latestHolder) Receive() (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for h.seq == h.received && !h.closed {
		h.cond.Wait()
	}
	if h.closed {
		return Event{}, false
	}
	h.received = h.seq
	return h.ev, true
}

func (h *latestHolder) TryReceive() (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || h.seq == h.received {
		return Event{}, false
	}
	h.received = h.seq
	return h.ev, true
}

func (h *latestHolder) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	h.cond.Broadcast()
}
