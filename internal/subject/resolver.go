package subject

import (
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/assert"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/timecode"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

// resolver is the mode strategy of a subject. It is chosen by
// selectResolver whenever the configuration changes, never per call.
type resolver interface {
	// insertIndex returns where f belongs. It may move the rollover pivot.
	insertIndex(s *Subject, f *types.Frame) int
	// resolve returns a fresh frame for target, searching from low, and
	// the cursor a tick read leaves behind.
	resolve(s *Subject, target float64, low int) (types.Frame, Cursor)
}

func cursorAt(s *Subject, idx int, keyOf func(*types.Frame) float64) Cursor {
	return Cursor{Index: idx, Time: keyOf(&s.frames[idx]), Valid: true}
}

func worldKey(f *types.Frame) float64 { return f.WorldTime.Time }
func sceneKey(f *types.Frame) float64 { return f.SyncTime.AsDecimal() }

func (s *Subject) selectResolver() {
	switch s.settings.Mode {
	case types.ModeInterpolated:
		s.resolver = &interpolatingResolver{latency: s.settings.Interpolation.InterpolationOffset}
	case types.ModeTimeSynchronized:
		s.resolver = &timecodeResolver{rollover: s.sync.modulus != nil}
	default:
		s.resolver = &latestResolver{keyOf: worldKey}
	}
}

// upperBound scans [low, high] backwards and returns one past the last
// frame whose key is <= key.
func (s *Subject) upperBound(key float64, low, high int, keyOf func(*types.Frame) float64) int {
	idx := high
	for idx >= low && keyOf(&s.frames[idx]) > key {
		idx--
	}
	return idx + 1
}

// lastAtOrBefore scans [low, high] backwards for the newest frame with
// key <= target. When none qualifies it returns low.
func (s *Subject) lastAtOrBefore(target float64, low, high int, keyOf func(*types.Frame) float64) int {
	idx := high
	for idx > low && keyOf(&s.frames[idx]) > target {
		idx--
	}
	return idx
}

// latestResolver returns the newest frame at or before the target, or the
// newest frame outright when every frame is later than the target.
type latestResolver struct {
	keyOf func(*types.Frame) float64
}

func (r latestResolver) insertIndex(s *Subject, f *types.Frame) int {
	return s.upperBound(r.keyOf(f), 0, len(s.frames)-1, r.keyOf)
}

func (r latestResolver) resolve(s *Subject, target float64, low int) (types.Frame, Cursor) {
	last := len(s.frames) - 1
	idx := s.lastAtOrBefore(target, low, last, r.keyOf)
	if r.keyOf(&s.frames[idx]) > target {
		idx = last
	}
	return s.frames[idx].Clone(), cursorAt(s, idx, r.keyOf)
}

// interpolatingResolver blends the pair of frames bracketing the target
// minus a fixed latency. Its cursor time is that read time, not the key of
// a buffered frame, so a frame arriving behind it resets the buffer.
type interpolatingResolver struct {
	latency float64
}

func (interpolatingResolver) insertIndex(s *Subject, f *types.Frame) int {
	return s.upperBound(worldKey(f), 0, len(s.frames)-1, worldKey)
}

func (r interpolatingResolver) resolve(s *Subject, target float64, low int) (types.Frame, Cursor) {
	effective := target - r.latency
	at := func(idx int) Cursor { return Cursor{Index: idx, Time: effective, Valid: true} }
	last := len(s.frames) - 1

	pre := -1
	for i := last; i >= low; i-- {
		if worldKey(&s.frames[i]) < effective {
			pre = i
			break
		}
	}

	switch {
	case pre < 0:
		// Before the oldest frame: no extrapolation.
		return s.frames[low].Clone(), at(low)
	case pre == last:
		return s.frames[last].Clone(), at(last)
	}

	a, b := &s.frames[pre], &s.frames[pre+1]
	weight := (effective - worldKey(a)) / (worldKey(b) - worldKey(a))
	return blendFrames(s, a, b, weight), at(pre)
}

func blendFrames(s *Subject, a, b *types.Frame, weight float64) types.Frame {
	if len(a.Transforms) != len(b.Transforms) {
		assert.That(false, "subject %q: blending %d and %d transforms", s.name, len(a.Transforms), len(b.Transforms))
		return a.Clone()
	}
	out := types.Frame{
		Transforms: types.BlendTransforms(a.Transforms, b.Transforms, weight),
		Curves:     types.BlendCurves(a.Curves, b.Curves, weight),
		MetaData:   a.MetaData.Clone(),
		WorldTime:  a.WorldTime,
		SyncTime:   a.SyncTime,
	}
	out.WorldTime.Time += weight * (b.WorldTime.Time - a.WorldTime.Time)
	return out
}

// timecodeResolver keys frames by scene time. With rollover it keeps the
// buffer in logical order across a wrap using the pivot: frames before the
// pivot precede the wrap, frames at and after it follow it.
type timecodeResolver struct {
	rollover bool
}

func (r timecodeResolver) insertIndex(s *Subject, f *types.Frame) int {
	n := len(s.frames)
	key := sceneKey(f)
	if !r.rollover || s.sync.modulus == nil || n == 0 {
		return s.upperBound(key, 0, n-1, sceneKey)
	}
	modulus := *s.sync.modulus

	p := s.sync.pivot
	if p == 0 {
		_, wrap := timecode.DistanceWithRollover(s.frames[n-1].SyncTime, f.SyncTime, modulus)
		switch wrap {
		case timecode.WrapForward:
			s.sync.pivot = n
			return n
		case timecode.WrapBackward:
			// Late pre-wrap frame while the whole buffer is post-wrap.
			s.sync.pivot = 1
			return 0
		}
		return s.upperBound(key, 0, n-1, sceneKey)
	}

	if _, wrap := timecode.DistanceWithRollover(s.frames[p-1].SyncTime, f.SyncTime, modulus); wrap == timecode.WrapForward {
		return s.upperBound(key, p, n-1, sceneKey)
	}
	s.sync.pivot++
	return s.upperBound(key, 0, p-1, sceneKey)
}

func (r timecodeResolver) resolve(s *Subject, target float64, low int) (types.Frame, Cursor) {
	n := len(s.frames)
	high := n - 1
	if low > high {
		low = high
	}

	if r.rollover && s.sync.modulus != nil {
		modulus := *s.sync.modulus
		t := timecode.FromDecimal(target)
		if p := s.sync.pivot; p > 0 {
			if _, wrap := timecode.DistanceWithRollover(s.frames[p-1].SyncTime, t, modulus); wrap == timecode.WrapForward {
				low = max(low, p)
			} else {
				high = max(p-1, low)
			}
		} else {
			switch _, wrap := timecode.DistanceWithRollover(s.frames[high].SyncTime, t, modulus); wrap {
			case timecode.WrapForward:
				return s.frames[high].Clone(), cursorAt(s, high, sceneKey)
			case timecode.WrapBackward:
				return s.frames[low].Clone(), cursorAt(s, low, sceneKey)
			}
		}
	}

	idx := s.lastAtOrBefore(target, low, high, sceneKey)
	return s.frames[idx].Clone(), cursorAt(s, idx, sceneKey)
}
