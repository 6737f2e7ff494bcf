package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeAndPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan Event, 4)
	require.NoError(t, bus.Subscribe("ui", ch))

	bus.Publish(Event{Kind: SubjectsChanged, Tick: 3, Added: []string{"face"}})

	select {
	case ev := <-ch:
		assert.Equal(t, SubjectsChanged, ev.Kind)
		assert.Equal(t, uint64(3), ev.Tick)
		assert.Equal(t, []string{"face"}, ev.Added)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	assert.Equal(t, uint64(1), bus.TotalPublished())
}

// TestBus_PublishNeverBlocks fills a one-slot channel and checks the
// second event is dropped and counted.
func TestBus_PublishNeverBlocks(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan Event, 1)
	require.NoError(t, bus.Subscribe("slow", ch))

	done := make(chan struct{})
	go func() {
		bus.Publish(Event{Tick: 1})
		bus.Publish(Event{Tick: 2})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked")
	}

	stats, err := bus.Stats("slow")
	require.NoError(t, err)
	assert.Equal(t, SubscriberStats{Sent: 1, Dropped: 1}, stats)
	assert.Equal(t, uint64(1), (<-ch).Tick)
}

func TestBus_SubscribeErrors(t *testing.T) {
	bus := New()

	assert.ErrorIs(t, bus.Subscribe("a", nil), ErrNilChannel)
	assert.ErrorIs(t, bus.SubscribeFunc("a", nil), ErrNilCallback)

	require.NoError(t, bus.Subscribe("a", make(chan Event, 1)))
	assert.ErrorIs(t, bus.Subscribe("a", make(chan Event, 1)), ErrSubscriberExists)
	_, err := bus.SubscribeLatest("a")
	assert.ErrorIs(t, err, ErrSubscriberExists)

	assert.ErrorIs(t, bus.Unsubscribe("missing"), ErrSubscriberNotFound)
	_, err = bus.Stats("missing")
	assert.ErrorIs(t, err, ErrSubscriberNotFound)

	bus.Close()
	bus.Close()
	assert.ErrorIs(t, bus.Subscribe("b", make(chan Event, 1)), ErrBusClosed)
	assert.NotPanics(t, func() { bus.Publish(Event{}) })
}

// TestBus_LatestKeepsNewest publishes three events before the receiver
// reads and expects only the newest.
func TestBus_LatestKeepsNewest(t *testing.T) {
	bus := New()
	defer bus.Close()

	rx, err := bus.SubscribeLatest("coordinator")
	require.NoError(t, err)

	_, ok := rx.TryReceive()
	assert.False(t, ok)

	for tick := uint64(1); tick <= 3; tick++ {
		bus.Publish(Event{Kind: SourcesChanged, Tick: tick})
	}

	ev, ok := rx.Receive()
	require.True(t, ok)
	assert.Equal(t, uint64(3), ev.Tick)

	_, ok = rx.TryReceive()
	assert.False(t, ok, "already received")

	stats, err := bus.Stats("coordinator")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stats.Sent)
	assert.Equal(t, uint64(2), stats.Dropped)
}

func TestBus_UnsubscribeWakesReceiver(t *testing.T) {
	bus := New()
	defer bus.Close()

	rx, err := bus.SubscribeLatest("waiter")
	require.NoError(t, err)

	got := make(chan bool)
	go func() {
		_, ok := rx.Receive()
		got <- ok
	}()

	require.NoError(t, bus.Unsubscribe("waiter"))
	select {
	case ok := <-got:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("receiver not woken")
	}
}

func TestBus_Callback(t *testing.T) {
	bus := New()
	defer bus.Close()

	var kinds []Kind
	require.NoError(t, bus.SubscribeFunc("log", func(ev Event) { kinds = append(kinds, ev.Kind) }))

	bus.Publish(Event{Kind: SourcesChanged})
	bus.Publish(Event{Kind: SubjectsChanged})
	assert.Equal(t, []Kind{SourcesChanged, SubjectsChanged}, kinds)
	assert.Equal(t, "subjects_changed", SubjectsChanged.String())
}
