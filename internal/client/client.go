// Package client is the facade over the subject map: sources push
// skeletons and frames into it from any goroutine, and once per tick it
// resolves every subject into an immutable snapshot that readers consume
// without locking.
package client

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/metrics"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/notify"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/subject"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/supplier"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/timecode"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/virtual"
)

var (
	// ErrSubjectNotFound is returned for an unknown subject name.
	ErrSubjectNotFound = errors.New("subjectlink: subject not found")

	// ErrSubjectExists is returned when a name is already taken.
	ErrSubjectExists = errors.New("subjectlink: subject already exists")

	// ErrSourceNotFound is returned for an unknown source GUID.
	ErrSourceNotFound = errors.New("subjectlink: source not found")

	// ErrShutdownIncomplete is returned by Close when sources were still
	// running as the context ended.
	ErrShutdownIncomplete = errors.New("subjectlink: sources did not shut down")
)

// VirtualSourceGUID keys the built-in source that owns every virtual
// subject.
var VirtualSourceGUID = uuid.MustParse("7a1b6f3e-0c4d-4e8a-9f21-5d3c2b1a0e9f")

const (
	defaultTickInterval     = time.Second / 60
	defaultValidateInterval = 3 * time.Second
)

// Config configures a Client. Zero values select defaults.
type Config struct {
	// Clock drives ticks, source validation and shutdown polling.
	Clock clock.Clock

	// Timecode supplies scene time for time-synchronized subjects.
	// Defaults to the local time of day at 60 fps.
	Timecode timecode.Provider

	// Metrics may be nil.
	Metrics *metrics.Metrics

	TickInterval            time.Duration
	ValidateSourcesInterval time.Duration

	// SaveFrames starts the client in recorder mode.
	SaveFrames bool
}

// SubjectKey identifies a subject together with the source that owns it.
type SubjectKey struct {
	Source uuid.UUID
	Name   string
}

// Client owns every subject buffer.
//
// Locking: mu guards subjects, virtuals, sources and the flags next to
// them. The tick pass holds mu only while resolving real subjects;
// virtual subjects are composed and notifications fired after it is
// released.
type Client struct {
	clock    clock.Clock
	timecode timecode.Provider
	metrics  *metrics.Metrics

	tickInterval     time.Duration
	validateInterval time.Duration

	mu             sync.Mutex
	subjects       map[string]*subject.Subject
	virtuals       map[string]*virtual.Subject
	sources        map[uuid.UUID]*sourceEntry
	pending        []*sourceEntry // removed, waiting for RequestSourceShutdown
	sourcesDirty   bool
	forceValidate  bool
	lastValidation time.Time
	saveFrames     bool

	tickMu sync.Mutex // one snapshot pass at a time
	tick   uint64

	snapshot atomic.Pointer[types.Snapshot]
	bus      *notify.Bus
	supplier *supplier.Supplier
}

// New creates a client with the virtual subject source registered.
func New(cfg Config) *Client {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	tc := cfg.Timecode
	if tc == nil {
		tc = timecode.NewSystemProvider(clk, types.DefaultSourceSettings().TimeSynchronization.FrameRate)
	}
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = defaultTickInterval
	}
	validate := cfg.ValidateSourcesInterval
	if validate <= 0 {
		validate = defaultValidateInterval
	}

	c := &Client{
		clock:            clk,
		timecode:         tc,
		metrics:          cfg.Metrics,
		tickInterval:     tick,
		validateInterval: validate,
		subjects:         make(map[string]*subject.Subject),
		virtuals:         make(map[string]*virtual.Subject),
		sources:          make(map[uuid.UUID]*sourceEntry),
		saveFrames:       cfg.SaveFrames,
		lastValidation:   clk.Now(),
		bus:              notify.New(),
		supplier:         supplier.New(clk),
	}
	c.sources[VirtualSourceGUID] = &sourceEntry{
		guid:     VirtualSourceGUID,
		settings: types.DefaultSourceSettings(),
	}
	c.snapshot.Store(&types.Snapshot{Time: clk.Now(), Subjects: map[string]*types.SubjectFrame{}})
	return c
}

// PushSubjectSkeleton creates the subject if absent. An existing subject
// has its buffer cleared and receives a new skeleton GUID.
func (c *Client) PushSubjectSkeleton(name string, skeleton types.RefSkeleton, sourceID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.acceptsLocked(sourceID) {
		return
	}
	if _, isVirtual := c.virtuals[name]; isVirtual {
		slog.Warn("client: skeleton for a virtual subject ignored", "subject", name, "source", sourceID.String())
		return
	}

	s, exists := c.subjects[name]
	if !exists {
		s = subject.New(name)
		if entry, ok := c.sources[sourceID]; ok {
			s.CacheSourceSettings(entry.settings)
		}
		c.subjects[name] = s
		slog.Debug("client: subject created", "subject", name, "source", sourceID.String(), "bones", skeleton.NumBones())
	}
	s.SetLastModifier(sourceID)
	s.SetRefSkeleton(skeleton)
}

// PushSubjectData ingests one frame. Frames for a subject whose skeleton
// has not been pushed are dropped. saveFrame, or the client-wide save
// switch, disables trimming for this frame.
func (c *Client) PushSubjectData(name string, data types.FrameData, sourceID uuid.UUID, saveFrame bool) {
	c.mu.Lock()
	if !c.acceptsLocked(sourceID) {
		c.mu.Unlock()
		return
	}
	s, ok := c.subjects[name]
	if !ok {
		c.mu.Unlock()
		slog.Debug("client: frame for unknown subject dropped", "subject", name, "source", sourceID.String())
		return
	}
	res := s.AddFrame(data, sourceID, saveFrame || c.saveFrames)
	c.mu.Unlock()

	if res.Dropped {
		return
	}
	c.metrics.FrameIngested(name)
	c.metrics.FramesTrimmed(name, res.Trimmed)
	if res.Reset {
		c.metrics.BufferReset(name)
	}
}

// acceptsLocked rejects pushes from sources that are shutting down.
func (c *Client) acceptsLocked(sourceID uuid.UUID) bool {
	for _, e := range c.pending {
		if e.guid == sourceID {
			return false
		}
	}
	return true
}

// CacheSourceSettings applies settings to one subject. Subjects whose
// last modifier is a registered source take that source's settings again
// on the next tick; use UpdateSourceSettings for those.
func (c *Client) CacheSourceSettings(name string, settings types.SourceSettings) error {
	return c.withSubject(name, func(s *subject.Subject) {
		s.CacheSourceSettings(settings)
	})
}

// OnStartSynchronization arms time synchronization on a subject.
func (c *Client) OnStartSynchronization(name string, params types.SyncParams, frameOffset int32) error {
	return c.withSubject(name, func(s *subject.Subject) {
		s.OnStartSynchronization(params, frameOffset)
	})
}

// OnSynchronizationEstablished marks the subject synchronized from
// startFrame onwards.
func (c *Client) OnSynchronizationEstablished(name string, startFrame timecode.FrameTime) error {
	return c.withSubject(name, func(s *subject.Subject) {
		s.OnSynchronizationEstablished(startFrame)
	})
}

// OnStopSynchronization leaves time synchronization. Buffered frames are
// kept.
func (c *Client) OnStopSynchronization(name string) error {
	return c.withSubject(name, func(s *subject.Subject) {
		s.OnStopSynchronization()
	})
}

// SetSaveFrames switches recorder mode and returns the previous value.
func (c *Client) SetSaveFrames(save bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.saveFrames
	c.saveFrames = save
	return prev
}

// SaveFrames reports whether recorder mode is on.
func (c *Client) SaveFrames() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveFrames
}

// ClearSubject removes a real or virtual subject.
func (c *Client) ClearSubject(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subjects[name]; ok {
		delete(c.subjects, name)
		return true
	}
	if _, ok := c.virtuals[name]; ok {
		delete(c.virtuals, name)
		return true
	}
	return false
}

// ClearSubjectFrames empties one subject buffer.
func (c *Client) ClearSubjectFrames(name string) error {
	return c.withSubject(name, (*subject.Subject).ClearFrames)
}

// ClearAllSubjectsFrames empties every subject buffer.
func (c *Client) ClearAllSubjectsFrames() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.subjects {
		s.ClearFrames()
	}
}

// Notifications returns the change bus. Each kind fires at most once per
// tick.
func (c *Client) Notifications() *notify.Bus { return c.bus }

func (c *Client) withSubject(name string, fn func(*subject.Subject)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.subjects[name]
	if !ok {
		return ErrSubjectNotFound
	}
	fn(s)
	return nil
}
