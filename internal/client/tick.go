package client

import (
	"context"
	"log/slog"
	"slices"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/notify"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/supplier"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/virtual"
)

// Tick builds and publishes one snapshot: every real subject with frames
// is resolved at the current world time, or at the current timecode when
// time-synchronized; virtual subjects are composed from the result.
// Change notifications for the tick fire after the lock is released.
func (c *Client) Tick() *types.Snapshot {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	start := c.clock.Now()
	c.validateSources(start)

	now := types.Seconds(start)
	scene := c.timecode.Now()

	c.mu.Lock()
	c.tick++
	tick := c.tick
	sourcesChanged := c.sourcesDirty
	c.sourcesDirty = false

	resolved := make(map[string]*types.SubjectFrame, len(c.subjects)+len(c.virtuals))
	for name, s := range c.subjects {
		if entry, ok := c.sources[s.LastModifier()]; ok {
			s.CacheSourceSettings(entry.settings)
		}
		if !s.HasFrames() {
			continue
		}
		var f types.Frame
		if s.Mode() == types.ModeTimeSynchronized {
			f = s.ResolveScene(scene)
		} else {
			f = s.ResolveWorld(now)
		}
		resolved[name] = s.SubjectFrame(f)
	}
	virtuals := make([]*virtual.Subject, 0, len(c.virtuals))
	for _, v := range c.virtuals {
		virtuals = append(virtuals, v)
	}
	c.mu.Unlock()

	composed := make(map[string]*types.SubjectFrame, len(virtuals))
	for _, v := range virtuals {
		if f, ok := v.Build(resolved); ok {
			composed[v.Name()] = f
		}
	}
	for name, f := range composed {
		resolved[name] = f
	}

	snap := &types.Snapshot{Tick: tick, Time: start, Subjects: resolved}
	prev := c.snapshot.Swap(snap)
	c.supplier.Publish(snap)
	c.metrics.SnapshotBuilt(c.clock.Now().Sub(start), len(resolved))

	if sourcesChanged {
		c.notify(notify.Event{Kind: notify.SourcesChanged, Tick: tick})
	}
	if added, removed := diffNames(prev.Names(), snap.Names()); len(added) > 0 || len(removed) > 0 {
		c.notify(notify.Event{Kind: notify.SubjectsChanged, Tick: tick, Added: added, Removed: removed})
	}
	return snap
}

func (c *Client) notify(ev notify.Event) {
	c.bus.Publish(ev)
	c.metrics.Notification(ev.Kind.String())
	slog.Debug("client: notification", "kind", ev.Kind.String(), "tick", ev.Tick, "added", ev.Added, "removed", ev.Removed)
}

// diffNames compares two sorted name lists.
func diffNames(before, after []string) (added, removed []string) {
	for _, n := range after {
		if _, found := slices.BinarySearch(before, n); !found {
			added = append(added, n)
		}
	}
	for _, n := range before {
		if _, found := slices.BinarySearch(after, n); !found {
			removed = append(removed, n)
		}
	}
	return added, removed
}

// Run starts snapshot distribution and ticks every TickInterval until ctx
// is done.
func (c *Client) Run(ctx context.Context) error {
	if err := c.supplier.Start(ctx); err != nil {
		return err
	}
	slog.Info("client: tick loop started", "interval", c.tickInterval)
	defer slog.Info("client: tick loop stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.clock.After(c.tickInterval):
			c.Tick()
		}
	}
}

// SubscribeSnapshots registers a latest-only reader. The returned function
// blocks until a snapshot newer than the last one read is available and
// returns nil once the reader is unsubscribed or the client closed.
func (c *Client) SubscribeSnapshots(readerID string) func() *types.Snapshot {
	return c.supplier.Subscribe(readerID)
}

// UnsubscribeSnapshots removes a reader and wakes it.
func (c *Client) UnsubscribeSnapshots(readerID string) {
	c.supplier.Unsubscribe(readerID)
}

// DistributionStats reports the snapshot readers.
func (c *Client) DistributionStats() supplier.Stats {
	return c.supplier.Stats()
}
