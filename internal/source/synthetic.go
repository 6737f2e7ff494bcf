package source

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/client"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/timecode"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

// SyntheticConfig shapes the generated subjects.
type SyntheticConfig struct {
	Subjects []string
	Bones    int
	Curves   int
	RateHz   float64
	Settings types.SourceSettings
	Clock    clock.Clock
}

// SyntheticSource generates chains of bones rotating about Z plus sine
// curves, at a fixed rate. Scene time follows the local time of day at
// the settings frame rate.
type SyntheticSource struct {
	cfg      SyntheticConfig
	skeleton types.RefSkeleton
	curves   []string
	timecode *timecode.SystemProvider

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu            sync.Mutex
	framesEmitted uint64
	started       bool
}

// NewSyntheticSource builds a generator. Bones is at least 1 and RateHz
// defaults to 60.
func NewSyntheticSource(cfg SyntheticConfig) *SyntheticSource {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Bones < 1 {
		cfg.Bones = 1
	}
	if cfg.RateHz <= 0 {
		cfg.RateHz = 60
	}

	names := make([]string, cfg.Bones)
	parents := make([]int, cfg.Bones)
	for i := range names {
		names[i] = fmt.Sprintf("bone_%02d", i)
		parents[i] = i - 1
	}
	curves := make([]string, cfg.Curves)
	for i := range curves {
		curves[i] = fmt.Sprintf("curve_%02d", i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SyntheticSource{
		cfg:      cfg,
		skeleton: types.RefSkeleton{BoneNames: names, BoneParents: parents},
		curves:   curves,
		timecode: timecode.NewSystemProvider(cfg.Clock, cfg.Settings.TimeSynchronization.FrameRate),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// ReceiveClient pushes the skeletons and starts generating.
func (s *SyntheticSource) ReceiveClient(p client.Pusher, guid uuid.UUID) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	for _, name := range s.cfg.Subjects {
		p.PushSubjectSkeleton(name, s.skeleton, guid)
	}
	slog.Info("source: synthetic generator starting",
		"source", guid.String(),
		"subjects", len(s.cfg.Subjects),
		"bones", s.cfg.Bones,
		"curves", s.cfg.Curves,
		"rate_hz", s.cfg.RateHz,
	)
	go s.generate(p, guid)
}

func (s *SyntheticSource) generate(p client.Pusher, guid uuid.UUID) {
	defer close(s.done)

	interval := time.Duration(float64(time.Second) / s.cfg.RateHz)
	start := s.cfg.Clock.Now()
	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-s.cfg.Clock.After(interval):
			elapsed := now.Sub(start).Seconds()
			for i, name := range s.cfg.Subjects {
				p.PushSubjectData(name, s.frame(now, elapsed+float64(i), elapsed), guid, false)
			}
			s.mu.Lock()
			s.framesEmitted++
			s.mu.Unlock()
		}
	}
}

// frame builds one sample. phase offsets each subject; t is the source
// time in seconds since the generator started.
func (s *SyntheticSource) frame(now time.Time, phase, t float64) types.FrameData {
	angle := 2 * math.Pi * 0.25 * phase
	rot := quat.Number(r3.NewRotation(angle/float64(len(s.skeleton.BoneNames)), r3.Vec{Z: 1}))

	transforms := make([]types.Transform, len(s.skeleton.BoneNames))
	for i := range transforms {
		transforms[i] = types.NewTransform(r3.Vec{Y: 10}, rot)
	}
	transforms[0].Translation = r3.Vec{}

	curves := make([]types.CurveElement, len(s.curves))
	for i, name := range s.curves {
		curves[i] = types.CurveElement{Name: name, Value: float32(0.5 + 0.5*math.Sin(phase+float64(i)))}
	}

	return types.FrameData{
		Transforms:    transforms,
		CurveElements: curves,
		MetaData: types.MetaData{
			StringMetaData: map[string]string{"generator": "synthetic"},
			SceneTime:      s.timecode.Now(),
		},
		WorldTime: types.NewWorldTime(t, now),
	}
}

// FramesEmitted returns the number of generator ticks so far.
func (s *SyntheticSource) FramesEmitted() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.framesEmitted
}

func (s *SyntheticSource) IsSourceStillValid() bool { return true }

// RequestSourceShutdown stops the generator and reports whether it has
// exited.
func (s *SyntheticSource) RequestSourceShutdown() bool {
	s.cancel()

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return true
	}

	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *SyntheticSource) SourceType() string { return "synthetic" }

func (s *SyntheticSource) SourceStatus() string {
	select {
	case <-s.done:
		return StatusStopped
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return StatusIdle
	}
	return fmt.Sprintf("%s (%d frames)", StatusStreaming, s.framesEmitted)
}

func (s *SyntheticSource) Settings() types.SourceSettings { return s.cfg.Settings }
