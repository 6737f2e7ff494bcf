package timecode

import "math"

// Wrap classifies how two frame times relate across a rollover boundary.
type Wrap int

const (
	// NoWrap means the raw distance is within half the modulus.
	NoWrap Wrap = iota
	// WrapForward means the end time is numerically smaller but logically
	// later: the counter rolled over between start and end.
	WrapForward
	// WrapBackward means the end time is numerically larger but logically
	// earlier: end predates a rollover that start has already crossed.
	WrapBackward
)

func (w Wrap) String() string {
	switch w {
	case WrapForward:
		return "forward"
	case WrapBackward:
		return "backward"
	default:
		return "none"
	}
}

// AddOffsetWithRollover adds offset to t and wraps the result into
// [0, modulus).
func AddOffsetWithRollover(t, offset, modulus FrameTime) FrameTime {
	m := modulus.AsDecimal()
	if m <= 0 {
		return t.Add(offset)
	}
	v := math.Mod(t.AsDecimal()+offset.AsDecimal(), m)
	if v < 0 {
		v += m
	}
	return FromDecimal(v)
}

// DistanceWithRollover returns the signed logical distance in frames from
// start to end, and how the pair was classified.
//
// The classification is the half-modulus heuristic: when the raw distance
// exceeds half the rollover modulus a wrap is assumed. Sampling sparser than
// half the modulus defeats it; that is a precision limit of the heuristic.
func DistanceWithRollover(start, end, modulus FrameTime) (float64, Wrap) {
	d := end.AsDecimal() - start.AsDecimal()
	m := modulus.AsDecimal()
	if m <= 0 {
		return d, NoWrap
	}
	half := m / 2
	switch {
	case d < -half:
		return d + m, WrapForward
	case d > half:
		return d - m, WrapBackward
	default:
		return d, NoWrap
	}
}
