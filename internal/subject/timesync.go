package subject

import (
	"log/slog"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/timecode"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

// timeSync is the time synchronization state of a subject.
type timeSync struct {
	started     bool
	established bool
	// modulus is the rollover period in the subject's frame rate, nil when
	// the timecode never wraps.
	modulus *timecode.FrameTime
	offset  int32
	// pivot is the index of the first post-wrap frame, 0 when no wrap is
	// known in the buffer.
	pivot int
}

// OnStartSynchronization begins a synchronization attempt: the rollover
// modulus is converted to the subject's frame rate, the frame offset is
// recorded and the buffer is cleared. Only time-synchronized subjects
// accept it.
func (s *Subject) OnStartSynchronization(params types.SyncParams, frameOffset int32) {
	if s.settings.Mode != types.ModeTimeSynchronized {
		s.warnOnce("start_sync_unsynchronized", "synchronization started on a subject that is not time synchronized")
		return
	}

	s.sync = timeSync{started: true, offset: frameOffset}
	if params.RolloverModulus != nil {
		m := *params.RolloverModulus
		if rate := s.settings.TimeSynchronization.FrameRate; params.SyncFrameRate.IsValid() && rate.IsValid() {
			m = timecode.TransformTime(m, params.SyncFrameRate, rate)
		}
		s.sync.modulus = &m
	}
	s.ClearFrames()
	s.selectResolver()

	slog.Debug("subject: synchronization started",
		"subject", s.name,
		"frame_offset", frameOffset,
		"rollover", s.sync.modulus != nil,
	)
}

// OnSynchronizationEstablished marks synchronization as locked at
// startFrame. Trimming is enabled from here on and the cursor restarts at
// the buffer head.
func (s *Subject) OnSynchronizationEstablished(startFrame timecode.FrameTime) {
	if s.settings.Mode != types.ModeTimeSynchronized || !s.sync.started {
		s.warnOnce("established_without_start", "synchronization established without a start")
		return
	}
	s.sync.established = true
	s.cursor = Cursor{Time: startFrame.AsDecimal()}
}

// OnStopSynchronization drops the synchronization state. Buffered frames
// are kept.
func (s *Subject) OnStopSynchronization() {
	s.sync = timeSync{}
	s.selectResolver()
}

// IsSynchronized reports whether synchronization has been established.
func (s *Subject) IsSynchronized() bool { return s.sync.established }

// RolloverModulus returns the modulus in the subject's frame rate.
func (s *Subject) RolloverModulus() (timecode.FrameTime, bool) {
	if s.sync.modulus == nil {
		return timecode.FrameTime{}, false
	}
	return *s.sync.modulus, true
}

// Pivot returns the rollover pivot index, 0 when none.
func (s *Subject) Pivot() int { return s.sync.pivot }

// TimeSyncData reports the oldest and newest buffered scene times for a
// synchronization coordinator. Valid is false unless the subject is
// time-synchronized.
func (s *Subject) TimeSyncData() types.TimeSyncData {
	if s.settings.Mode != types.ModeTimeSynchronized {
		return types.TimeSyncData{}
	}
	d := types.TimeSyncData{
		Settings:     s.settings.TimeSynchronization,
		SkeletonGUID: s.skeletonGUID,
		Valid:        true,
	}
	if n := len(s.frames); n > 0 {
		d.OldestSampleTime = s.frames[0].SyncTime
		d.NewestSampleTime = s.frames[n-1].SyncTime
	}
	return d
}
