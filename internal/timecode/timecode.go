// Package timecode models externally driven production time: rational frame
// rates, frame times with sub-frame precision and SMPTE timecodes.
//
// Scene time is what TimeSynchronized subjects are keyed by. World time
// (wall clock seconds) lives in the types package.
package timecode

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidFrameRate is returned when a frame rate cannot be parsed or has a
// non-positive numerator or denominator.
var ErrInvalidFrameRate = errors.New("subjectlink: invalid frame rate")

// FrameRate is a rational frames-per-second value (e.g. 30000/1001).
type FrameRate struct {
	Numerator   int32 `yaml:"numerator" msgpack:"num"`
	Denominator int32 `yaml:"denominator" msgpack:"den"`
}

// NewFrameRate builds a FrameRate. A zero denominator is treated as 1.
func NewFrameRate(numerator, denominator int32) FrameRate {
	if denominator == 0 {
		denominator = 1
	}
	return FrameRate{Numerator: numerator, Denominator: denominator}
}

// ParseFrameRate accepts integer ("30") and rational ("30000/1001") forms.
func ParseFrameRate(s string) (FrameRate, error) {
	s = strings.TrimSpace(s)
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseInt(strings.TrimSpace(num), 10, 32)
	if err != nil {
		return FrameRate{}, fmt.Errorf("%w: %q", ErrInvalidFrameRate, s)
	}
	d := int64(1)
	if found {
		d, err = strconv.ParseInt(strings.TrimSpace(den), 10, 32)
		if err != nil {
			return FrameRate{}, fmt.Errorf("%w: %q", ErrInvalidFrameRate, s)
		}
	}
	rate := FrameRate{Numerator: int32(n), Denominator: int32(d)}
	if !rate.IsValid() {
		return FrameRate{}, fmt.Errorf("%w: %q", ErrInvalidFrameRate, s)
	}
	return rate, nil
}

// IsValid reports whether both terms are positive.
func (r FrameRate) IsValid() bool {
	return r.Numerator > 0 && r.Denominator > 0
}

// AsDecimal returns frames per second.
func (r FrameRate) AsDecimal() float64 {
	if r.Denominator == 0 {
		return 0
	}
	return float64(r.Numerator) / float64(r.Denominator)
}

// AsInterval returns seconds per frame.
func (r FrameRate) AsInterval() float64 {
	if r.Numerator == 0 {
		return 0
	}
	return float64(r.Denominator) / float64(r.Numerator)
}

// AsSeconds converts a frame time at this rate to seconds.
func (r FrameRate) AsSeconds(t FrameTime) float64 {
	return t.AsDecimal() * r.AsInterval()
}

// AsFrameTime converts seconds to a frame time at this rate.
func (r FrameRate) AsFrameTime(seconds float64) FrameTime {
	return FromDecimal(seconds * r.AsDecimal())
}

// String renders the rate as "num/den" (or "num" when den is 1).
func (r FrameRate) String() string {
	if r.Denominator == 1 {
		return strconv.Itoa(int(r.Numerator))
	}
	return fmt.Sprintf("%d/%d", r.Numerator, r.Denominator)
}

// MarshalText lets frame rates round-trip through YAML and flag values.
func (r FrameRate) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses the output of String.
func (r *FrameRate) UnmarshalText(text []byte) error {
	parsed, err := ParseFrameRate(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// TransformTime converts a frame time expressed at src into the equivalent
// frame time at dst.
func TransformTime(t FrameTime, src, dst FrameRate) FrameTime {
	if src == dst || !src.IsValid() || !dst.IsValid() {
		return t
	}
	// frames_dst = frames_src * (dst.num * src.den) / (dst.den * src.num)
	scale := (float64(dst.Numerator) * float64(src.Denominator)) /
		(float64(dst.Denominator) * float64(src.Numerator))
	return FromDecimal(t.AsDecimal() * scale)
}

// FrameTime is a frame number plus a sub-frame fraction in [0, 1).
type FrameTime struct {
	Frame    int64   `msgpack:"frame"`
	SubFrame float64 `msgpack:"sub"`
}

// Frames returns a whole-frame FrameTime.
func Frames(n int64) FrameTime {
	return FrameTime{Frame: n}
}

// FromDecimal splits a decimal frame value into frame and sub-frame parts.
func FromDecimal(v float64) FrameTime {
	f := math.Floor(v)
	sub := v - f
	// guard against float noise producing a sub-frame of exactly 1
	if sub >= 1 {
		f++
		sub = 0
	}
	return FrameTime{Frame: int64(f), SubFrame: sub}
}

// AsDecimal returns the frame time as a single float.
func (t FrameTime) AsDecimal() float64 {
	return float64(t.Frame) + t.SubFrame
}

// Add returns t + o.
func (t FrameTime) Add(o FrameTime) FrameTime {
	return FromDecimal(t.AsDecimal() + o.AsDecimal())
}

// Sub returns t - o.
func (t FrameTime) Sub(o FrameTime) FrameTime {
	return FromDecimal(t.AsDecimal() - o.AsDecimal())
}

// Compare returns -1, 0 or +1.
func (t FrameTime) Compare(o FrameTime) int {
	switch {
	case t.Frame < o.Frame:
		return -1
	case t.Frame > o.Frame:
		return 1
	case t.SubFrame < o.SubFrame:
		return -1
	case t.SubFrame > o.SubFrame:
		return 1
	default:
		return 0
	}
}

// Less reports whether t is strictly before o in raw numeric order.
func (t FrameTime) Less(o FrameTime) bool {
	return t.Compare(o) < 0
}

func (t FrameTime) String() string {
	if t.SubFrame == 0 {
		return strconv.FormatInt(t.Frame, 10)
	}
	return strconv.FormatFloat(t.AsDecimal(), 'f', 3, 64)
}

// QualifiedFrameTime is a frame time together with the rate it is expressed in.
type QualifiedFrameTime struct {
	Time FrameTime `msgpack:"time"`
	Rate FrameRate `msgpack:"rate"`
}

// AsSeconds converts to seconds.
func (q QualifiedFrameTime) AsSeconds() float64 {
	return q.Rate.AsSeconds(q.Time)
}

// ConvertTo re-expresses the time at another rate.
func (q QualifiedFrameTime) ConvertTo(rate FrameRate) FrameTime {
	return TransformTime(q.Time, q.Rate, rate)
}

// Timecode is an SMPTE style HH:MM:SS:FF label.
type Timecode struct {
	Hours     int32
	Minutes   int32
	Seconds   int32
	Frames    int32
	DropFrame bool
}

// UseDropFrame reports whether drop-frame numbering applies to rate
// (29.97 and 59.94 style NTSC rates).
func UseDropFrame(rate FrameRate) bool {
	if !rate.IsValid() || rate.Denominator == 1 {
		return false
	}
	fps := rate.AsDecimal()
	return math.Abs(fps-30000.0/1001.0) < 0.001 || math.Abs(fps-60000.0/1001.0) < 0.001
}

func roundedFPS(rate FrameRate) int64 {
	return int64(math.Ceil(rate.AsDecimal() - 1e-9))
}

// ToFrameNumber converts the timecode into an absolute frame number at rate.
func (tc Timecode) ToFrameNumber(rate FrameRate) int64 {
	fps := roundedFPS(rate)
	if fps <= 0 {
		return 0
	}
	h, m, s, f := int64(tc.Hours), int64(tc.Minutes), int64(tc.Seconds), int64(tc.Frames)
	frame := ((h*60+m)*60+s)*fps + f

	if tc.DropFrame && UseDropFrame(rate) {
		drop := fps / 15 // 2 for 29.97, 4 for 59.94
		totalMinutes := 60*h + m
		frame -= drop * (totalMinutes - totalMinutes/10)
	}
	return frame
}

// FromFrameNumber converts an absolute frame number at rate back to a timecode.
func FromFrameNumber(frame int64, rate FrameRate, dropFrame bool) Timecode {
	fps := roundedFPS(rate)
	if fps <= 0 {
		return Timecode{}
	}
	negative := frame < 0
	if negative {
		frame = -frame
	}

	dropFrame = dropFrame && UseDropFrame(rate)
	if dropFrame {
		drop := fps / 15
		framesPerMinute := fps*60 - drop
		framesPer10Minutes := framesPerMinute*10 + drop

		tens := frame / framesPer10Minutes
		rem := frame % framesPer10Minutes
		frame += 9 * drop * tens
		if rem > drop {
			frame += drop * ((rem - drop) / framesPerMinute)
		}
	}

	tc := Timecode{
		Hours:     int32(frame / (fps * 3600)),
		Minutes:   int32((frame / (fps * 60)) % 60),
		Seconds:   int32((frame / fps) % 60),
		Frames:    int32(frame % fps),
		DropFrame: dropFrame,
	}
	if negative {
		tc.Hours = -tc.Hours
	}
	return tc
}

// FromSeconds builds the timecode for a number of seconds since midnight.
func FromSeconds(seconds float64, rate FrameRate, dropFrame bool) Timecode {
	return FromFrameNumber(rate.AsFrameTime(seconds).Frame, rate, dropFrame)
}

func (tc Timecode) String() string {
	sep := ":"
	if tc.DropFrame {
		sep = ";"
	}
	return fmt.Sprintf("%02d:%02d:%02d%s%02d", tc.Hours, tc.Minutes, tc.Seconds, sep, tc.Frames)
}

// DayModulus returns the number of frames in 24 hours at rate, the usual
// rollover modulus for time-of-day timecode.
func DayModulus(rate FrameRate) FrameTime {
	return Frames(Timecode{Hours: 24, DropFrame: UseDropFrame(rate)}.ToFrameNumber(rate))
}
