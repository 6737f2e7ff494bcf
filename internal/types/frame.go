package types

import (
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/timecode"
)

// WorldTime is a source timestamp in seconds together with the offset
// between the source clock and the local clock at the moment of receipt.
// Time+Offset is the local time the sample was seen.
type WorldTime struct {
	Time   float64
	Offset float64
}

// Seconds converts t to the float seconds used for world time.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// NewWorldTime stamps a source time received at the given local time.
func NewWorldTime(sourceTime float64, receivedAt time.Time) WorldTime {
	return WorldTime{Time: sourceTime, Offset: Seconds(receivedAt) - sourceTime}
}

// LocalWorldTime stamps a sample produced by the local clock (zero offset).
func LocalWorldTime(now time.Time) WorldTime {
	return WorldTime{Time: Seconds(now)}
}

// MetaData is the free-form part of a frame.
type MetaData struct {
	StringMetaData map[string]string
	SceneTime      timecode.QualifiedFrameTime
}

// Clone deep-copies the metadata map.
func (m MetaData) Clone() MetaData {
	out := MetaData{SceneTime: m.SceneTime}
	if m.StringMetaData != nil {
		out.StringMetaData = make(map[string]string, len(m.StringMetaData))
		for k, v := range m.StringMetaData {
			out.StringMetaData[k] = v
		}
	}
	return out
}

// FrameData is one sample as pushed by a source. Curves are named; the
// subject lays them out against its curve key registry on ingest.
type FrameData struct {
	Transforms    []Transform
	CurveElements []CurveElement
	MetaData      MetaData
	WorldTime     WorldTime
}

// Frame is a buffered sample. Curves are index-aligned to the owning
// subject's curve key registry. SyncTime is the scene time after the
// subject's frame offset and rate conversion, and is the sort key in
// time-synchronized mode.
type Frame struct {
	Transforms []Transform
	Curves     []OptionalCurve
	MetaData   MetaData
	WorldTime  WorldTime
	SyncTime   timecode.FrameTime
}

// ExtendCurves grows the curve array to n slots, new slots unset.
func (f *Frame) ExtendCurves(n int) {
	if n <= len(f.Curves) {
		return
	}
	f.Curves = append(f.Curves, make([]OptionalCurve, n-len(f.Curves))...)
}

// Clone deep-copies the frame.
func (f *Frame) Clone() Frame {
	return Frame{
		Transforms: append([]Transform(nil), f.Transforms...),
		Curves:     append([]OptionalCurve(nil), f.Curves...),
		MetaData:   f.MetaData.Clone(),
		WorldTime:  f.WorldTime,
		SyncTime:   f.SyncTime,
	}
}

// SubjectFrame is a resolved frame for one subject, carrying the structure
// needed to interpret it. Snapshot entries are shared between readers and
// must be treated as read-only.
type SubjectFrame struct {
	RefSkeleton  RefSkeleton
	SkeletonGUID uuid.UUID
	CurveKeys    []string
	Transforms   []Transform
	Curves       []OptionalCurve
	MetaData     MetaData
	WorldTime    WorldTime
}

// Curve returns the value of a named curve.
func (f *SubjectFrame) Curve(name string) (float32, bool) {
	for i, n := range f.CurveKeys {
		if n == name && i < len(f.Curves) && f.Curves[i].Valid {
			return f.Curves[i].Value, true
		}
	}
	return 0, false
}

// Bone returns the transform of a named bone.
func (f *SubjectFrame) Bone(name string) (Transform, bool) {
	i := f.RefSkeleton.BoneIndex(name)
	if i < 0 || i >= len(f.Transforms) {
		return Transform{}, false
	}
	return f.Transforms[i], true
}
