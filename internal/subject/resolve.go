package subject

import (
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/timecode"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

// ResolveWorld resolves the tick frame at local world time now (seconds)
// and moves the cursor. Time-synchronized subjects degrade to default
// resolution with a one-time warning.
func (s *Subject) ResolveWorld(now float64) types.Frame {
	return s.resolveWorld(now, true)
}

// EvaluateWorld resolves at now without touching the cursor.
func (s *Subject) EvaluateWorld(now float64) types.Frame {
	return s.resolveWorld(now, false)
}

// ResolveScene resolves the tick frame at scene time t and moves the
// cursor. Subjects that are not time-synchronized degrade to default
// resolution over their scene times with a one-time warning.
func (s *Subject) ResolveScene(t timecode.QualifiedFrameTime) types.Frame {
	return s.resolveScene(t, true)
}

// EvaluateScene resolves at t without touching the cursor.
func (s *Subject) EvaluateScene(t timecode.QualifiedFrameTime) types.Frame {
	return s.resolveScene(t, false)
}

func (s *Subject) resolveWorld(now float64, advance bool) types.Frame {
	if len(s.frames) == 0 {
		return s.emptyFrame()
	}
	target := now - s.timeOffset

	r := s.resolver
	if s.settings.Mode == types.ModeTimeSynchronized {
		s.warnOnce("world_on_synchronized", "world time requested on a time synchronized subject, using default resolution")
		r = latestResolver{keyOf: worldKey}
	}
	return s.read(r, target, 0, advance)
}

func (s *Subject) resolveScene(t timecode.QualifiedFrameTime, advance bool) types.Frame {
	if len(s.frames) == 0 {
		return s.emptyFrame()
	}
	target := t.Time
	if rate := s.settings.TimeSynchronization.FrameRate; t.Rate.IsValid() && rate.IsValid() {
		target = t.ConvertTo(rate)
	}

	r := s.resolver
	low := 0
	if s.settings.Mode != types.ModeTimeSynchronized {
		s.warnOnce("scene_on_unsynchronized", "scene time requested on a subject that is not time synchronized, using default resolution")
		r = latestResolver{keyOf: sceneKey}
	} else if advance && s.cursor.Valid {
		// Tick reads are monotonic: search from the cursor.
		low = s.cursor.Index
	}
	return s.read(r, target.AsDecimal(), low, advance)
}

func (s *Subject) read(r resolver, target float64, low int, advance bool) types.Frame {
	frame, cursor := r.resolve(s, target, low)
	if advance {
		s.cursor = cursor
	}
	return frame
}
