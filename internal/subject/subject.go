// Package subject implements the per-subject frame buffer: ordered ingest,
// trimming behind the read cursor, and resolution of one frame per tick in
// default, interpolated or time-synchronized mode.
//
// A Subject is not safe for concurrent use. The client serialises every
// call under its lock.
package subject

import (
	"log/slog"
	"math"
	"slices"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/assert"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/timecode"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

// minFramesToRemove is how far the cursor must move past the buffer head
// before the frames behind it are discarded.
const minFramesToRemove = 5

// Cursor is the last-read position. Time is the last read time in the
// subject's active time domain (world seconds or scene frames): the key of
// the frame at Index, or the blend time in interpolated mode.
// Valid is false until a tick read has happened since the last clear.
type Cursor struct {
	Index int
	Time  float64
	Valid bool
}

// IngestResult reports what an AddFrame call did to the buffer.
type IngestResult struct {
	Index     int
	NewCurves int
	Trimmed   int
	Reset     bool
	Dropped   bool // non-finite time, nothing was buffered
}

// Subject is a named stream of frames from one source.
type Subject struct {
	name string

	curveKey   *types.CurveKey
	curveNames []string // immutable copy, replaced when the registry grows

	skeleton     types.RefSkeleton
	skeletonGUID uuid.UUID

	frames []types.Frame
	cursor Cursor

	// timeOffset is the world time offset captured from the first frame
	// after the buffer was empty or reset.
	timeOffset float64

	settings     types.SourceSettings
	resolver     resolver
	sync         timeSync
	lastModifier uuid.UUID

	warned map[string]bool
	rate   *rateTracker
}

// New creates an empty subject in default mode.
func New(name string) *Subject {
	s := &Subject{
		name:     name,
		curveKey: types.NewCurveKey(),
		settings: types.DefaultSourceSettings(),
		warned:   make(map[string]bool),
		rate:     newRateTracker(),
	}
	s.selectResolver()
	return s
}

// Name returns the subject name.
func (s *Subject) Name() string { return s.name }

// RefSkeleton returns the current skeleton. The returned value is shared
// and must not be modified.
func (s *Subject) RefSkeleton() types.RefSkeleton { return s.skeleton }

// SkeletonGUID changes every time a skeleton is pushed.
func (s *Subject) SkeletonGUID() uuid.UUID { return s.skeletonGUID }

// CurveNames returns the registry names in index order. Shared, read-only.
func (s *Subject) CurveNames() []string { return s.curveNames }

// Settings returns the cached source settings.
func (s *Subject) Settings() types.SourceSettings { return s.settings }

// Mode is shorthand for Settings().Mode.
func (s *Subject) Mode() types.SourceMode { return s.settings.Mode }

// LastModifier is the source that most recently pushed to this subject.
func (s *Subject) LastModifier() uuid.UUID { return s.lastModifier }

// SetLastModifier records the source that last pushed to the subject.
func (s *Subject) SetLastModifier(source uuid.UUID) { s.lastModifier = source }

// Cursor returns the read cursor.
func (s *Subject) Cursor() Cursor { return s.cursor }

// NumFrames returns the number of buffered frames.
func (s *Subject) NumFrames() int { return len(s.frames) }

// HasFrames reports whether at least one frame is buffered.
func (s *Subject) HasFrames() bool { return len(s.frames) > 0 }

// Frames returns deep copies of the buffered frames in logical order.
func (s *Subject) Frames() []types.Frame {
	out := make([]types.Frame, len(s.frames))
	for i := range s.frames {
		out[i] = s.frames[i].Clone()
	}
	return out
}

// SetRefSkeleton installs a new skeleton, clears the buffer and assigns a
// new skeleton GUID.
func (s *Subject) SetRefSkeleton(skeleton types.RefSkeleton) {
	s.skeleton = skeleton.Clone()
	s.skeletonGUID = uuid.New()
	s.ClearFrames()
}

// ClearFrames empties the buffer and resets the cursor and rollover pivot.
func (s *Subject) ClearFrames() {
	s.frames = nil
	s.cursor = Cursor{}
	s.sync.pivot = 0
	s.rate.reset()
}

// CacheSourceSettings applies settings. Identical settings are a no-op; a
// mode change clears the buffer and any time synchronization state.
func (s *Subject) CacheSourceSettings(settings types.SourceSettings) {
	if settings == s.settings {
		return
	}
	if settings.Mode != s.settings.Mode {
		slog.Debug("subject: mode changed",
			"subject", s.name,
			"from", s.settings.Mode.String(),
			"to", settings.Mode.String(),
		)
		s.ClearFrames()
		s.sync = timeSync{}
	}
	s.settings = settings
	s.selectResolver()
}

// AddFrame ingests one frame pushed by source. saveFrame disables trimming
// for this call. In time-synchronized mode every frame is saved until
// synchronization has been established.
func (s *Subject) AddFrame(data types.FrameData, source uuid.UUID, saveFrame bool) IngestResult {
	assert.That(len(data.Transforms) == s.skeleton.NumBones(),
		"subject %q: frame has %d transforms, skeleton has %d bones",
		s.name, len(data.Transforms), s.skeleton.NumBones())

	var res IngestResult
	if !finite(data.WorldTime.Time) || !finite(data.WorldTime.Offset) ||
		!finite(data.MetaData.SceneTime.Time.SubFrame) {
		s.warnOnce("non_finite_time", "frame with non-finite time dropped",
			"world_time", data.WorldTime.Time,
			"scene_time", data.MetaData.SceneTime.Time.SubFrame)
		res.Dropped = true
		return res
	}
	s.lastModifier = source

	curves, added := s.curveKey.Resolve(data.CurveElements)
	if added > 0 {
		size := s.curveKey.Len()
		for i := range s.frames {
			s.frames[i].ExtendCurves(size)
		}
		s.curveNames = s.curveKey.Names()
		res.NewCurves = added
	}

	frame := types.Frame{
		Transforms: data.Transforms,
		Curves:     curves,
		MetaData:   data.MetaData,
		WorldTime:  data.WorldTime,
		SyncTime:   s.syncTimeOf(data.MetaData.SceneTime),
	}

	if s.settings.Mode == types.ModeTimeSynchronized {
		if !s.sync.established {
			saveFrame = true
		}
	} else {
		switch {
		case len(s.frames) == 0:
			s.timeOffset = data.WorldTime.Offset
		case !saveFrame && s.cursor.Valid && data.WorldTime.Time < s.cursor.Time:
			// The source clock went backwards; start over.
			s.ClearFrames()
			s.timeOffset = data.WorldTime.Offset
			res.Reset = true
		}
	}

	if !saveFrame {
		res.Trimmed = s.trim()
	}

	idx := s.resolver.insertIndex(s, &frame)
	s.frames = slices.Insert(s.frames, idx, frame)
	if s.cursor.Valid && len(s.frames) > 1 && idx <= s.cursor.Index {
		s.cursor.Index++
	}
	res.Index = idx

	s.rate.observe(data.WorldTime)
	return res
}

// trim drops every frame strictly before the cursor once the cursor is more
// than minFramesToRemove frames into the buffer.
func (s *Subject) trim() int {
	n := s.cursor.Index
	if n <= minFramesToRemove || n > len(s.frames) {
		return 0
	}
	s.frames = slices.Delete(s.frames, 0, n)
	s.cursor.Index = 0
	if s.sync.pivot > 0 {
		s.sync.pivot -= n
		if s.sync.pivot <= 0 {
			s.sync.pivot = 0
		}
	}
	return n
}

// syncTimeOf converts an incoming scene time to the subject's frame rate
// and applies the synchronization offset, wrapping at the rollover modulus
// when one is known.
func (s *Subject) syncTimeOf(scene timecode.QualifiedFrameTime) timecode.FrameTime {
	rate := s.settings.TimeSynchronization.FrameRate
	t := scene.Time
	if scene.Rate.IsValid() && rate.IsValid() {
		t = scene.ConvertTo(rate)
	}
	var modulus timecode.FrameTime
	if s.sync.modulus != nil {
		modulus = *s.sync.modulus
	}
	if s.sync.offset == 0 && s.sync.modulus == nil {
		return t
	}
	return timecode.AddOffsetWithRollover(t, timecode.Frames(int64(s.sync.offset)), modulus)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// warnOnce logs a configuration mismatch the first time it is seen.
func (s *Subject) warnOnce(kind, msg string, args ...any) {
	if s.warned[kind] {
		return
	}
	s.warned[kind] = true
	slog.Warn("subject: "+msg, append([]any{"subject", s.name, "mode", s.settings.Mode.String()}, args...)...)
}

// SubjectFrame wraps a resolved frame with the subject's structure.
func (s *Subject) SubjectFrame(f types.Frame) *types.SubjectFrame {
	return &types.SubjectFrame{
		RefSkeleton:  s.skeleton,
		SkeletonGUID: s.skeletonGUID,
		CurveKeys:    s.curveNames,
		Transforms:   f.Transforms,
		Curves:       f.Curves,
		MetaData:     f.MetaData,
		WorldTime:    f.WorldTime,
	}
}

// emptyFrame is the neutral frame returned when nothing is buffered.
func (s *Subject) emptyFrame() types.Frame {
	transforms := make([]types.Transform, s.skeleton.NumBones())
	for i := range transforms {
		transforms[i] = types.IdentityTransform()
	}
	return types.Frame{
		Transforms: transforms,
		Curves:     make([]types.OptionalCurve, s.curveKey.Len()),
	}
}
