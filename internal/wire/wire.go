// Package wire is the msgpack encoding of skeletons, frames and resolved
// subject frames exchanged over MQTT.
package wire

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/timecode"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

var (
	// ErrUnknownMessage is returned for a message type the codec does not
	// know.
	ErrUnknownMessage = errors.New("subjectlink: unknown wire message type")

	// ErrMalformedMessage is returned when a message decodes but is
	// inconsistent.
	ErrMalformedMessage = errors.New("subjectlink: malformed wire message")
)

// Message types on the wire.
const (
	TypeSkeleton = "skeleton"
	TypeFrame    = "frame"
)

// Envelope is the msgpack document carried by one MQTT message.
type Envelope struct {
	Type     string    `msgpack:"type"`
	Subject  string    `msgpack:"subject"`
	Skeleton *Skeleton `msgpack:"skeleton,omitempty"`
	Frame    *Frame    `msgpack:"frame,omitempty"`
}

// Skeleton is a bone hierarchy.
type Skeleton struct {
	Bones   []string `msgpack:"bones"`
	Parents []int    `msgpack:"parents"`
}

// Transform packs translation, rotation (w, x, y, z) and scale.
type Transform struct {
	T [3]float64 `msgpack:"t"`
	R [4]float64 `msgpack:"r"`
	S [3]float64 `msgpack:"s"`
}

// Curve is one named curve value.
type Curve struct {
	Name  string  `msgpack:"n"`
	Value float32 `msgpack:"v"`
}

// Frame is one sample. Time is the source clock in seconds.
type Frame struct {
	Time       float64                      `msgpack:"time"`
	Transforms []Transform                  `msgpack:"transforms"`
	Curves     []Curve                      `msgpack:"curves,omitempty"`
	Meta       map[string]string            `msgpack:"meta,omitempty"`
	SceneTime  *timecode.QualifiedFrameTime `msgpack:"scene,omitempty"`
}

// Message is a decoded envelope in domain types.
type Message struct {
	Type     string
	Subject  string
	Skeleton types.RefSkeleton
	Frame    types.FrameData
}

// EncodeSkeleton encodes a skeleton message.
func EncodeSkeleton(subject string, skeleton types.RefSkeleton) ([]byte, error) {
	return msgpack.Marshal(&Envelope{
		Type:    TypeSkeleton,
		Subject: subject,
		Skeleton: &Skeleton{
			Bones:   skeleton.BoneNames,
			Parents: skeleton.BoneParents,
		},
	})
}

// EncodeFrame encodes a frame message stamped with the source time of
// data.WorldTime.
func EncodeFrame(subject string, data types.FrameData) ([]byte, error) {
	wf := &Frame{
		Time:       data.WorldTime.Time,
		Transforms: make([]Transform, len(data.Transforms)),
		Meta:       data.MetaData.StringMetaData,
	}
	for i, t := range data.Transforms {
		wf.Transforms[i] = FromTransform(t)
	}
	for _, c := range data.CurveElements {
		wf.Curves = append(wf.Curves, Curve{Name: c.Name, Value: c.Value})
	}
	if data.MetaData.SceneTime.Rate.IsValid() {
		st := data.MetaData.SceneTime
		wf.SceneTime = &st
	}
	return msgpack.Marshal(&Envelope{Type: TypeFrame, Subject: subject, Frame: wf})
}

// Decode parses payload. Frame world times are stamped against
// receivedAt so the offset between the source and local clocks is kept.
func Decode(payload []byte, receivedAt time.Time) (Message, error) {
	var env Envelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if env.Subject == "" {
		return Message{}, fmt.Errorf("%w: empty subject", ErrMalformedMessage)
	}

	msg := Message{Type: env.Type, Subject: env.Subject}
	switch env.Type {
	case TypeSkeleton:
		sk := env.Skeleton
		if sk == nil || len(sk.Bones) != len(sk.Parents) {
			return Message{}, fmt.Errorf("%w: skeleton for %q", ErrMalformedMessage, env.Subject)
		}
		for i, p := range sk.Parents {
			if p >= i || p < -1 {
				return Message{}, fmt.Errorf("%w: bone %d of %q has parent %d", ErrMalformedMessage, i, env.Subject, p)
			}
		}
		msg.Skeleton = types.RefSkeleton{BoneNames: sk.Bones, BoneParents: sk.Parents}

	case TypeFrame:
		wf := env.Frame
		if wf == nil {
			return Message{}, fmt.Errorf("%w: frame for %q", ErrMalformedMessage, env.Subject)
		}
		if !finite(wf.Time) {
			return Message{}, fmt.Errorf("%w: frame time %v for %q", ErrMalformedMessage, wf.Time, env.Subject)
		}
		if wf.SceneTime != nil && !finite(wf.SceneTime.Time.SubFrame) {
			return Message{}, fmt.Errorf("%w: scene sub-frame %v for %q", ErrMalformedMessage, wf.SceneTime.Time.SubFrame, env.Subject)
		}
		data := types.FrameData{
			Transforms: make([]types.Transform, len(wf.Transforms)),
			MetaData:   types.MetaData{StringMetaData: wf.Meta},
			WorldTime:  types.NewWorldTime(wf.Time, receivedAt),
		}
		for i, t := range wf.Transforms {
			data.Transforms[i] = ToTransform(t)
		}
		for _, c := range wf.Curves {
			data.CurveElements = append(data.CurveElements, types.CurveElement{Name: c.Name, Value: c.Value})
		}
		if wf.SceneTime != nil {
			data.MetaData.SceneTime = *wf.SceneTime
		}
		msg.Frame = data

	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
	return msg, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// FromTransform converts a domain transform.
func FromTransform(t types.Transform) Transform {
	return Transform{
		T: [3]float64{t.Translation.X, t.Translation.Y, t.Translation.Z},
		R: [4]float64{t.Rotation.Real, t.Rotation.Imag, t.Rotation.Jmag, t.Rotation.Kmag},
		S: [3]float64{t.Scale.X, t.Scale.Y, t.Scale.Z},
	}
}

// ToTransform converts back to a domain transform with a normalised
// rotation.
func ToTransform(w Transform) types.Transform {
	return types.Transform{
		Translation: r3.Vec{X: w.T[0], Y: w.T[1], Z: w.T[2]},
		Rotation:    types.NormalizeRotation(quat.Number{Real: w.R[0], Imag: w.R[1], Jmag: w.R[2], Kmag: w.R[3]}),
		Scale:       r3.Vec{X: w.S[0], Y: w.S[1], Z: w.S[2]},
	}
}
