package subject

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

const (
	// rateWindow is the number of recent arrivals kept for rate statistics.
	rateWindow = 64

	// rateStabilityThreshold: stable if the stddev of the instantaneous
	// rate is below 15% of the mean rate.
	rateStabilityThreshold = 0.15

	// jitterStabilityThreshold: stable if mean jitter is below 20% of the
	// expected interval.
	jitterStabilityThreshold = 0.20
)

// Stats describes a subject's buffer and the arrival rate of its samples.
type Stats struct {
	BufferedFrames int
	Curves         int
	Samples        int     // arrivals in the statistics window
	RateMean       float64 // samples per second
	RateStdDev     float64
	RateMin        float64
	RateMax        float64
	JitterMean     float64 // seconds
	JitterMax      float64 // seconds
	MaxGap         float64 // longest interval between arrivals, seconds
	IsStable       bool

	Synchronized bool
	Pivot        int
	// SparseForRollover is raised when the longest arrival gap spans more
	// than half the rollover modulus. Wrap detection cannot order such
	// samples reliably.
	SparseForRollover bool
}

// rateTracker keeps the local arrival times of the most recent samples.
type rateTracker struct {
	times []float64
	next  int
	full  bool
}

func newRateTracker() *rateTracker {
	return &rateTracker{times: make([]float64, 0, rateWindow)}
}

func (r *rateTracker) observe(wt types.WorldTime) {
	t := wt.Time + wt.Offset
	if len(r.times) < rateWindow {
		r.times = append(r.times, t)
		return
	}
	r.times[r.next] = t
	r.next = (r.next + 1) % rateWindow
	r.full = true
}

func (r *rateTracker) reset() {
	r.times = r.times[:0]
	r.next = 0
	r.full = false
}

// ordered returns the window oldest first.
func (r *rateTracker) ordered() []float64 {
	if !r.full {
		return append([]float64(nil), r.times...)
	}
	out := make([]float64, 0, len(r.times))
	out = append(out, r.times[r.next:]...)
	return append(out, r.times[:r.next]...)
}

// CalculateRateStats derives rate and jitter statistics from arrival
// times in seconds, oldest first.
func CalculateRateStats(arrivals []float64) Stats {
	st := Stats{Samples: len(arrivals)}
	if len(arrivals) < 2 {
		return st
	}

	intervals := make([]float64, 0, len(arrivals)-1)
	for i := 1; i < len(arrivals); i++ {
		if d := arrivals[i] - arrivals[i-1]; d > 0 {
			intervals = append(intervals, d)
		}
	}
	if len(intervals) == 0 {
		return st
	}

	rates := make([]float64, len(intervals))
	for i, d := range intervals {
		rates[i] = 1 / d
	}

	st.RateMean = float64(len(intervals)) / floats.Sum(intervals)
	st.RateStdDev = stat.PopStdDev(rates, nil)
	st.RateMin = floats.Min(rates)
	st.RateMax = floats.Max(rates)
	st.MaxGap = floats.Max(intervals)

	expected := 1 / st.RateMean
	jitters := make([]float64, len(intervals))
	for i, d := range intervals {
		jitters[i] = math.Abs(d - expected)
	}
	st.JitterMean = stat.Mean(jitters, nil)
	st.JitterMax = floats.Max(jitters)

	st.IsStable = st.RateStdDev < st.RateMean*rateStabilityThreshold &&
		st.JitterMean < expected*jitterStabilityThreshold
	return st
}

// Stats returns the subject's current statistics.
func (s *Subject) Stats() Stats {
	st := CalculateRateStats(s.rate.ordered())
	st.BufferedFrames = len(s.frames)
	st.Curves = s.curveKey.Len()
	st.Synchronized = s.sync.established
	st.Pivot = s.sync.pivot

	if m, ok := s.RolloverModulus(); ok {
		rate := s.settings.TimeSynchronization.FrameRate.AsDecimal()
		st.SparseForRollover = st.MaxGap*rate > m.AsDecimal()/2
	}
	return st
}
