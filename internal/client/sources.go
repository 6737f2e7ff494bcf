package client

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

// shutdownPollInterval is how often Close asks pending sources whether
// they have finished.
const shutdownPollInterval = 50 * time.Millisecond

// Pusher is the ingest side of the client handed to sources.
type Pusher interface {
	PushSubjectSkeleton(name string, skeleton types.RefSkeleton, sourceID uuid.UUID)
	PushSubjectData(name string, data types.FrameData, sourceID uuid.UUID, saveFrame bool)
}

// Source delivers subjects into the client.
type Source interface {
	// ReceiveClient hands the source its ingest target and GUID. The
	// source may push from any goroutine from then on.
	ReceiveClient(p Pusher, guid uuid.UUID)

	// IsSourceStillValid is polled on every validation pass; false
	// removes the source.
	IsSourceStillValid() bool

	// RequestSourceShutdown asks the source to stop and reports whether
	// it has. It is polled until it returns true.
	RequestSourceShutdown() bool

	SourceType() string
	SourceStatus() string

	// Settings are the initial resolution settings for the source's
	// subjects.
	Settings() types.SourceSettings
}

type sourceEntry struct {
	guid     uuid.UUID
	source   Source // nil for the virtual subject source
	settings types.SourceSettings
}

// SourceInfo describes a registered source.
type SourceInfo struct {
	GUID     uuid.UUID
	Type     string
	Status   string
	Settings types.SourceSettings
}

// AddSource registers src and hands it the client.
func (c *Client) AddSource(src Source) uuid.UUID {
	guid := uuid.New()
	entry := &sourceEntry{guid: guid, source: src, settings: src.Settings()}

	c.mu.Lock()
	c.sources[guid] = entry
	c.sourcesDirty = true
	n := c.countSourcesLocked()
	c.mu.Unlock()

	c.metrics.Sources(n)
	slog.Info("client: source added",
		"source", guid.String(),
		"type", src.SourceType(),
		"mode", entry.settings.Mode.String(),
	)

	src.ReceiveClient(c, guid)
	return guid
}

// RemoveSource stages a source for shutdown and drops the subjects it
// last modified. The source is polled for shutdown on following ticks.
func (c *Client) RemoveSource(guid uuid.UUID) bool {
	c.mu.Lock()
	ok := c.removeSourceLocked(guid)
	n := c.countSourcesLocked()
	c.mu.Unlock()

	if ok {
		c.metrics.Sources(n)
	}
	return ok
}

// RemoveAllSources stages every source except the virtual subject source.
func (c *Client) RemoveAllSources() {
	c.mu.Lock()
	for guid := range c.sources {
		c.removeSourceLocked(guid)
	}
	c.mu.Unlock()

	c.metrics.Sources(0)
}

func (c *Client) removeSourceLocked(guid uuid.UUID) bool {
	entry, ok := c.sources[guid]
	if !ok || guid == VirtualSourceGUID {
		return false
	}
	delete(c.sources, guid)
	c.pending = append(c.pending, entry)

	var dropped []string
	for name, s := range c.subjects {
		if s.LastModifier() == guid {
			delete(c.subjects, name)
			dropped = append(dropped, name)
		}
	}
	c.sourcesDirty = true
	c.forceValidate = true

	slog.Info("client: source removed", "source", guid.String(), "subjects_dropped", len(dropped))
	return true
}

func (c *Client) countSourcesLocked() int {
	return len(c.sources) - 1 // virtual subject source
}

// Sources lists registered sources, including the virtual subject source.
func (c *Client) Sources() []SourceInfo {
	c.mu.Lock()
	entries := make([]*sourceEntry, 0, len(c.sources))
	for _, e := range c.sources {
		entries = append(entries, e)
	}
	infos := make([]SourceInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, SourceInfo{GUID: e.guid, Settings: e.settings})
	}
	c.mu.Unlock()

	// Type and status come from the source itself, outside the lock.
	for i, e := range entries {
		if e.source == nil {
			infos[i].Type, infos[i].Status = "virtual", "ok"
			continue
		}
		infos[i].Type = e.source.SourceType()
		infos[i].Status = e.source.SourceStatus()
	}
	slices.SortFunc(infos, func(a, b SourceInfo) int { return bytes.Compare(a.GUID[:], b.GUID[:]) })
	return infos
}

// SourceSettings returns the settings of a registered source.
func (c *Client) SourceSettings(guid uuid.UUID) (types.SourceSettings, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.sources[guid]
	if !ok {
		return types.SourceSettings{}, false
	}
	return e.settings, true
}

// UpdateSourceSettings replaces a source's settings. Its subjects pick
// them up on the next tick.
func (c *Client) UpdateSourceSettings(guid uuid.UUID, settings types.SourceSettings) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.sources[guid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, guid)
	}
	e.settings = settings
	return nil
}

// validateSources drops invalid sources and polls pending ones for
// shutdown. It runs every validate interval, or on the first tick after
// a removal. Source callbacks run without the client lock held.
func (c *Client) validateSources(now time.Time) {
	c.mu.Lock()
	if !c.forceValidate && now.Sub(c.lastValidation) < c.validateInterval {
		c.mu.Unlock()
		return
	}
	c.lastValidation = now
	c.forceValidate = false

	active := make([]*sourceEntry, 0, len(c.sources))
	for _, e := range c.sources {
		if e.source != nil {
			active = append(active, e)
		}
	}
	pending := slices.Clone(c.pending)
	c.mu.Unlock()

	var invalid []uuid.UUID
	for _, e := range active {
		if !e.source.IsSourceStillValid() {
			invalid = append(invalid, e.guid)
		}
	}
	done := make(map[*sourceEntry]bool)
	for _, e := range pending {
		if e.source.RequestSourceShutdown() {
			done[e] = true
		}
	}

	if len(invalid) == 0 && len(done) == 0 {
		return
	}

	c.mu.Lock()
	for _, guid := range invalid {
		slog.Warn("client: source no longer valid", "source", guid.String())
		c.removeSourceLocked(guid)
	}
	c.pending = slices.DeleteFunc(c.pending, func(e *sourceEntry) bool { return done[e] })
	n := c.countSourcesLocked()
	c.mu.Unlock()

	c.metrics.Sources(n)
	for e := range done {
		slog.Debug("client: source shut down", "source", e.guid.String(), "type", e.source.SourceType())
	}
}

// PendingShutdown returns the number of removed sources that have not
// finished shutting down.
func (c *Client) PendingShutdown() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close stages every source for removal, polls them until all have shut
// down or ctx ends, and stops snapshot distribution and notifications.
func (c *Client) Close(ctx context.Context) error {
	c.RemoveAllSources()
	defer func() {
		c.supplier.Stop()
		c.bus.Close()
	}()

	for {
		c.mu.Lock()
		pending := slices.Clone(c.pending)
		c.mu.Unlock()

		done := make(map[*sourceEntry]bool)
		for _, e := range pending {
			if e.source.RequestSourceShutdown() {
				done[e] = true
			}
		}

		// Sources removed while polling were not part of pending and stay.
		c.mu.Lock()
		c.pending = slices.DeleteFunc(c.pending, func(e *sourceEntry) bool { return done[e] })
		remaining := len(c.pending)
		c.mu.Unlock()

		if remaining == 0 {
			slog.Info("client: closed")
			return nil
		}
		if len(done) == len(pending) {
			continue
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %d remaining: %w", ErrShutdownIncomplete, remaining, ctx.Err())
		case <-c.clock.After(shutdownPollInterval):
		}
	}
}
