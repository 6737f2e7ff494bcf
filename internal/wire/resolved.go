package wire

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/timecode"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

// TypeSubjectFrame is a resolved subject frame published per tick.
const TypeSubjectFrame = "subject_frame"

// SubjectFrame is the published form of one resolved subject. Curves
// carries only the slots that were valid this tick.
type SubjectFrame struct {
	Type         string                       `msgpack:"type"`
	Tick         uint64                       `msgpack:"tick"`
	TimestampNs  int64                        `msgpack:"ts_ns"`
	Subject      string                       `msgpack:"subject"`
	SkeletonGUID string                       `msgpack:"skeleton_guid"`
	Skeleton     Skeleton                     `msgpack:"skeleton"`
	Transforms   []Transform                  `msgpack:"transforms"`
	Curves       []Curve                      `msgpack:"curves,omitempty"`
	Meta         map[string]string            `msgpack:"meta,omitempty"`
	SceneTime    *timecode.QualifiedFrameTime `msgpack:"scene,omitempty"`
	WorldTime    float64                      `msgpack:"world_time"`
}

// EncodeSubjectFrame encodes the resolved frame of subject for tick.
func EncodeSubjectFrame(tick uint64, at time.Time, subject string, f *types.SubjectFrame) ([]byte, error) {
	out := SubjectFrame{
		Type:         TypeSubjectFrame,
		Tick:         tick,
		TimestampNs:  at.UnixNano(),
		Subject:      subject,
		SkeletonGUID: f.SkeletonGUID.String(),
		Skeleton:     Skeleton{Bones: f.RefSkeleton.BoneNames, Parents: f.RefSkeleton.BoneParents},
		Transforms:   make([]Transform, len(f.Transforms)),
		Meta:         f.MetaData.StringMetaData,
		WorldTime:    f.WorldTime.Time + f.WorldTime.Offset,
	}
	for i, t := range f.Transforms {
		out.Transforms[i] = FromTransform(t)
	}
	for i, c := range f.Curves {
		if c.Valid && i < len(f.CurveKeys) {
			out.Curves = append(out.Curves, Curve{Name: f.CurveKeys[i], Value: c.Value})
		}
	}
	if f.MetaData.SceneTime.Rate.IsValid() {
		st := f.MetaData.SceneTime
		out.SceneTime = &st
	}
	return msgpack.Marshal(&out)
}

// DecodeSubjectFrame parses a published subject frame.
func DecodeSubjectFrame(payload []byte) (SubjectFrame, error) {
	var f SubjectFrame
	if err := msgpack.Unmarshal(payload, &f); err != nil {
		return SubjectFrame{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if f.Type != TypeSubjectFrame {
		return SubjectFrame{}, fmt.Errorf("%w: %q", ErrUnknownMessage, f.Type)
	}
	if _, err := uuid.Parse(f.SkeletonGUID); err != nil {
		return SubjectFrame{}, fmt.Errorf("%w: skeleton guid: %w", ErrMalformedMessage, err)
	}
	return f, nil
}
