package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/timecode"
)

// ErrUnknownMode is returned when a mode name cannot be parsed.
var ErrUnknownMode = errors.New("subjectlink: unknown source mode")

// SourceMode selects how a subject resolves a frame for a tick.
type SourceMode int

const (
	// ModeDefault returns the newest frame at or before the target time.
	ModeDefault SourceMode = iota
	// ModeInterpolated blends the two frames bracketing a delayed target time.
	ModeInterpolated
	// ModeTimeSynchronized keys frames by scene timecode and handles rollover.
	ModeTimeSynchronized
)

func (m SourceMode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeInterpolated:
		return "interpolated"
	case ModeTimeSynchronized:
		return "time_synchronized"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseSourceMode parses the names produced by String.
func ParseSourceMode(s string) (SourceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return ModeDefault, nil
	case "interpolated":
		return ModeInterpolated, nil
	case "time_synchronized", "timesynchronized":
		return ModeTimeSynchronized, nil
	}
	return ModeDefault, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

func (m SourceMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *SourceMode) UnmarshalText(text []byte) error {
	parsed, err := ParseSourceMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// InterpolationSettings configure ModeInterpolated.
type InterpolationSettings struct {
	// InterpolationOffset is the latency in seconds subtracted from the
	// target time so that a bracketing pair usually exists.
	InterpolationOffset float64
}

// TimeSynchronizationSettings configure ModeTimeSynchronized.
type TimeSynchronizationSettings struct {
	// FrameRate is the rate the subject's scene times are expressed in
	// after ingest.
	FrameRate timecode.FrameRate
	// FrameOffset is added to every incoming scene time.
	FrameOffset int32
}

// SourceSettings is the per-source resolution configuration. Subjects cache
// the settings of the source that last modified them.
type SourceSettings struct {
	Mode                SourceMode
	Interpolation       InterpolationSettings
	TimeSynchronization TimeSynchronizationSettings
}

// DefaultSourceSettings returns ModeDefault with a 0.5s interpolation
// latency and 60fps time synchronization rate ready for a mode switch.
func DefaultSourceSettings() SourceSettings {
	return SourceSettings{
		Mode:          ModeDefault,
		Interpolation: InterpolationSettings{InterpolationOffset: 0.5},
		TimeSynchronization: TimeSynchronizationSettings{
			FrameRate: timecode.NewFrameRate(60, 1),
		},
	}
}

// SyncParams are handed to a subject when a timecode synchronization
// attempt starts.
type SyncParams struct {
	// RolloverModulus is the wrap period of the incoming scene times, in
	// SyncFrameRate frames. Nil means the timecode never wraps.
	RolloverModulus *timecode.FrameTime
	SyncFrameRate   timecode.FrameRate
}

// TimeSyncData summarises a subject's buffer for a synchronization
// coordinator.
type TimeSyncData struct {
	OldestSampleTime timecode.FrameTime
	NewestSampleTime timecode.FrameTime
	Settings         TimeSynchronizationSettings
	SkeletonGUID     uuid.UUID
	Valid            bool
}
