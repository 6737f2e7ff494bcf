package client

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/metrics"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/notify"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/timecode"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	epoch  = time.Unix(1000, 0)
	rate30 = timecode.NewFrameRate(30, 1)
)

type fixedTimecode struct{ t timecode.QualifiedFrameTime }

func (f fixedTimecode) Now() timecode.QualifiedFrameTime { return f.t }

// fakeSource refuses shutdown refusals times before accepting.
type fakeSource struct {
	mu        sync.Mutex
	pusher    Pusher
	guid      uuid.UUID
	invalid   bool
	refusals  int
	shutdowns int
	settings  types.SourceSettings

	onShutdown func() // called outside the lock on every shutdown request
}

func newFakeSource() *fakeSource {
	return &fakeSource{settings: types.DefaultSourceSettings()}
}

func (f *fakeSource) ReceiveClient(p Pusher, guid uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pusher, f.guid = p, guid
}

func (f *fakeSource) IsSourceStillValid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.invalid
}

func (f *fakeSource) RequestSourceShutdown() bool {
	f.mu.Lock()
	f.shutdowns++
	ok := f.shutdowns > f.refusals
	hook := f.onShutdown
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return ok
}

func (f *fakeSource) SourceType() string             { return "fake" }
func (f *fakeSource) SourceStatus() string           { return "streaming" }
func (f *fakeSource) Settings() types.SourceSettings { return f.settings }

func newTestClient(t *testing.T) (*Client, *testclock.Clock) {
	t.Helper()
	clk := testclock.NewClock(epoch)
	c := New(Config{
		Clock:    clk,
		Timecode: fixedTimecode{t: timecode.QualifiedFrameTime{Time: timecode.Frames(12), Rate: rate30}},
	})
	t.Cleanup(func() { require.NoError(t, c.Close(context.Background())) })
	return c, clk
}

func frameAt(seconds float64, value float32) types.FrameData {
	return types.FrameData{
		Transforms:    []types.Transform{types.NewTransform(r3.Vec{X: seconds}, quat.Number{Real: 1})},
		CurveElements: []types.CurveElement{{Name: "value", Value: value}},
		WorldTime:     types.WorldTime{Time: seconds},
	}
}

func curve(t *testing.T, f *types.SubjectFrame) float32 {
	t.Helper()
	v, ok := f.Curve("value")
	require.True(t, ok)
	return v
}

func pushSubject(c *Client, name string, source uuid.UUID, times ...float64) {
	c.PushSubjectSkeleton(name, types.NewRefSkeleton("root"), source)
	for i, ts := range times {
		c.PushSubjectData(name, frameAt(ts, float32(i+1)), source, false)
	}
}

func TestClient_TickResolvesLatestFrame(t *testing.T) {
	c, _ := newTestClient(t)
	pushSubject(c, "hand", uuid.Nil, 999.8, 999.9, 1000.5)

	snap := c.Tick()
	assert.Equal(t, uint64(1), snap.Tick)
	assert.Equal(t, epoch, snap.Time)

	f, ok := c.GetSubjectData("hand")
	require.True(t, ok)
	assert.Equal(t, float32(2), curve(t, f))
}

// TestClient_GetSubjectDataIdempotent reads twice within one tick and
// expects the same frame.
func TestClient_GetSubjectDataIdempotent(t *testing.T) {
	c, _ := newTestClient(t)
	pushSubject(c, "hand", uuid.Nil, 999.8, 999.9)
	c.Tick()

	a, ok := c.GetSubjectData("hand")
	require.True(t, ok)
	b, ok := c.GetSubjectData("hand")
	require.True(t, ok)
	assert.Same(t, a, b)
	assert.Equal(t, *a, *b)
}

func TestClient_DataBeforeSkeletonDropped(t *testing.T) {
	c, _ := newTestClient(t)
	c.PushSubjectData("ghost", frameAt(999, 1), uuid.Nil, false)

	_, ok := c.GetSubjectRawFrames("ghost")
	assert.False(t, ok)
	assert.Empty(t, c.Tick().Subjects)
}

func TestClient_SkeletonPushResetsSubject(t *testing.T) {
	c, _ := newTestClient(t)
	pushSubject(c, "hand", uuid.Nil, 999.8)
	c.Tick()
	first, _ := c.GetSubjectData("hand")

	c.PushSubjectSkeleton("hand", types.NewRefSkeleton("root"), uuid.Nil)
	frames, ok := c.GetSubjectRawFrames("hand")
	require.True(t, ok)
	assert.Empty(t, frames)

	c.PushSubjectData("hand", frameAt(999.9, 5), uuid.Nil, false)
	c.Tick()
	second, _ := c.GetSubjectData("hand")
	assert.NotEqual(t, first.SkeletonGUID, second.SkeletonGUID)
}

func TestClient_AdHocQueriesDoNotMoveCursor(t *testing.T) {
	c, _ := newTestClient(t)
	pushSubject(c, "hand", uuid.Nil, 999.8, 999.9)

	f, ok := c.GetSubjectDataAtWorldTime("hand", time.Unix(999, 850_000_000))
	require.True(t, ok)
	assert.Equal(t, float32(1), curve(t, f))

	stats, ok := c.SubjectStats("hand")
	require.True(t, ok)
	assert.Equal(t, 2, stats.BufferedFrames)

	snap := c.Tick()
	ticked, _ := snap.Subject("hand")
	assert.Equal(t, float32(2), curve(t, ticked))
	assert.NotSame(t, f, ticked)

	_, ok = c.GetSubjectDataAtWorldTime("nobody", epoch)
	assert.False(t, ok)
}

func TestClient_TimeSynchronizedUsesTimecode(t *testing.T) {
	c, _ := newTestClient(t)
	c.PushSubjectSkeleton("cam", types.NewRefSkeleton("root"), uuid.Nil)

	settings := types.DefaultSourceSettings()
	settings.Mode = types.ModeTimeSynchronized
	settings.TimeSynchronization.FrameRate = rate30
	require.NoError(t, c.CacheSourceSettings("cam", settings))

	for frame := int64(10); frame <= 13; frame++ {
		c.PushSubjectData("cam", types.FrameData{
			Transforms: []types.Transform{types.IdentityTransform()},
			MetaData: types.MetaData{
				SceneTime: timecode.QualifiedFrameTime{Time: timecode.Frames(frame), Rate: rate30},
			},
		}, uuid.Nil, false)
	}
	c.Tick()

	f, ok := c.GetSubjectData("cam")
	require.True(t, ok)
	assert.Equal(t, timecode.Frames(12), f.MetaData.SceneTime.Time)

	at, ok := c.GetSubjectDataAtSceneTime("cam", timecode.QualifiedFrameTime{Time: timecode.Frames(11), Rate: rate30})
	require.True(t, ok)
	assert.Equal(t, timecode.Frames(11), at.MetaData.SceneTime.Time)

	data, ok := c.GetTimeSyncData("cam")
	require.True(t, ok)
	assert.True(t, data.Valid)
	assert.Equal(t, timecode.Frames(10), data.OldestSampleTime)
	assert.Equal(t, timecode.Frames(13), data.NewestSampleTime)
}

func TestClient_SynchronizationOnUnknownSubject(t *testing.T) {
	c, _ := newTestClient(t)
	assert.ErrorIs(t, c.OnStartSynchronization("nobody", types.SyncParams{}, 0), ErrSubjectNotFound)
	assert.ErrorIs(t, c.OnSynchronizationEstablished("nobody", timecode.Frames(1)), ErrSubjectNotFound)
	assert.ErrorIs(t, c.OnStopSynchronization("nobody"), ErrSubjectNotFound)
	assert.ErrorIs(t, c.ClearSubjectFrames("nobody"), ErrSubjectNotFound)
}

// TestClient_SubjectsChangedOncePerChange fires a notification when a
// subject appears and when it vanishes, and stays quiet otherwise.
func TestClient_SubjectsChangedOncePerChange(t *testing.T) {
	c, _ := newTestClient(t)
	var events []notify.Event
	require.NoError(t, c.Notifications().SubscribeFunc("test", func(ev notify.Event) {
		events = append(events, ev)
	}))

	pushSubject(c, "hand", uuid.Nil, 999.8)
	pushSubject(c, "face", uuid.Nil, 999.8)
	c.Tick()
	require.Len(t, events, 1)
	assert.Equal(t, notify.SubjectsChanged, events[0].Kind)
	assert.Equal(t, []string{"face", "hand"}, events[0].Added)
	assert.Equal(t, uint64(1), events[0].Tick)

	c.PushSubjectData("hand", frameAt(999.9, 2), uuid.Nil, false)
	c.Tick()
	assert.Len(t, events, 1)

	assert.True(t, c.ClearSubject("hand"))
	assert.False(t, c.ClearSubject("hand"))
	c.Tick()
	require.Len(t, events, 2)
	assert.Equal(t, []string{"hand"}, events[1].Removed)
	assert.Empty(t, events[1].Added)
}

func TestClient_SourcesChangedCoalesced(t *testing.T) {
	c, _ := newTestClient(t)
	var kinds []notify.Kind
	require.NoError(t, c.Notifications().SubscribeFunc("test", func(ev notify.Event) {
		kinds = append(kinds, ev.Kind)
	}))

	c.AddSource(newFakeSource())
	c.AddSource(newFakeSource())
	c.Tick()
	c.Tick()

	assert.Equal(t, []notify.Kind{notify.SourcesChanged}, kinds)
	assert.Len(t, c.Sources(), 3)
}

// TestClient_RemoveSourceIsStaged removes a source that needs two polls
// to shut down and checks it is polled on ticks, not synchronously.
func TestClient_RemoveSourceIsStaged(t *testing.T) {
	c, clk := newTestClient(t)
	src := newFakeSource()
	src.refusals = 1
	guid := c.AddSource(src)
	assert.Equal(t, guid, src.guid)

	pushSubject(c, "hand", guid, 999.8)
	require.Equal(t, []SubjectKey{{Source: guid, Name: "hand"}}, c.Subjects())

	assert.True(t, c.RemoveSource(guid))
	assert.False(t, c.RemoveSource(guid))
	assert.Empty(t, c.Subjects())
	assert.Equal(t, 1, c.PendingShutdown())

	// Pushes from a source shutting down are ignored.
	pushSubject(c, "hand", guid, 999.9)
	assert.Empty(t, c.Subjects())

	c.Tick()
	assert.Equal(t, 1, src.shutdowns)
	assert.Equal(t, 1, c.PendingShutdown())

	c.Tick()
	assert.Equal(t, 1, src.shutdowns)

	clk.Advance(defaultValidateInterval)
	c.Tick()
	assert.Equal(t, 2, src.shutdowns)
	assert.Zero(t, c.PendingShutdown())
}

func TestClient_InvalidSourceDropped(t *testing.T) {
	c, clk := newTestClient(t)
	src := newFakeSource()
	c.AddSource(src)

	src.mu.Lock()
	src.invalid = true
	src.mu.Unlock()

	c.Tick()
	assert.Len(t, c.Sources(), 2)

	clk.Advance(defaultValidateInterval)
	c.Tick()
	sources := c.Sources()
	require.Len(t, sources, 1)
	assert.Equal(t, VirtualSourceGUID, sources[0].GUID)
	assert.Equal(t, "virtual", sources[0].Type)
	assert.Equal(t, 1, c.PendingShutdown())

	c.Tick()
	assert.Zero(t, c.PendingShutdown())
}

func TestClient_SourceSettingsRecachedOnTick(t *testing.T) {
	c, _ := newTestClient(t)
	src := newFakeSource()
	src.settings.Mode = types.ModeInterpolated
	guid := c.AddSource(src)

	c.PushSubjectSkeleton("hand", types.NewRefSkeleton("root"), guid)
	settings, ok := c.SubjectSettings("hand")
	require.True(t, ok)
	assert.Equal(t, types.ModeInterpolated, settings.Mode)

	updated := types.DefaultSourceSettings()
	updated.Mode = types.ModeTimeSynchronized
	require.NoError(t, c.UpdateSourceSettings(guid, updated))
	got, _ := c.SourceSettings(guid)
	assert.Equal(t, types.ModeTimeSynchronized, got.Mode)

	settings, _ = c.SubjectSettings("hand")
	assert.Equal(t, types.ModeInterpolated, settings.Mode)

	c.Tick()
	settings, _ = c.SubjectSettings("hand")
	assert.Equal(t, types.ModeTimeSynchronized, settings.Mode)

	assert.ErrorIs(t, c.UpdateSourceSettings(uuid.New(), updated), ErrSourceNotFound)
}

func TestClient_VirtualSubject(t *testing.T) {
	c, _ := newTestClient(t)
	pushSubject(c, "body", uuid.Nil, 999.8)
	pushSubject(c, "hand", uuid.Nil, 999.8)

	require.NoError(t, c.AddVirtualSubject("rig"))
	assert.ErrorIs(t, c.AddVirtualSubject("rig"), ErrSubjectExists)
	assert.ErrorIs(t, c.AddVirtualSubject("body"), ErrSubjectExists)
	assert.ErrorIs(t, c.UpdateVirtualSubject("nobody", nil), ErrSubjectNotFound)
	require.NoError(t, c.UpdateVirtualSubject("rig", []string{"body", "hand"}))

	members, ok := c.VirtualSubject("rig")
	require.True(t, ok)
	assert.Equal(t, []string{"body", "hand"}, members)

	c.Tick()
	rig, ok := c.GetSubjectData("rig")
	require.True(t, ok)
	assert.Len(t, rig.Transforms, 3)
	assert.Len(t, rig.Curves, 2)

	assert.Equal(t, []string{"body", "hand", "rig"}, c.SubjectNames())
	assert.True(t, c.IsVirtualSubject(SubjectKey{Source: VirtualSourceGUID, Name: "rig"}))
	assert.False(t, c.IsVirtualSubject(SubjectKey{Source: uuid.Nil, Name: "body"}))

	_, ok = c.GetSubjectDataAtWorldTime("rig", epoch)
	assert.False(t, ok)

	// Skeletons cannot be pushed under a virtual subject name.
	c.PushSubjectSkeleton("rig", types.NewRefSkeleton("root"), uuid.Nil)
	_, ok = c.GetSubjectRawFrames("rig")
	assert.False(t, ok)

	assert.True(t, c.RemoveVirtualSubject("rig"))
	assert.False(t, c.RemoveVirtualSubject("rig"))
	c.Tick()
	_, ok = c.GetSubjectData("rig")
	assert.False(t, ok)
}

// TestClient_SaveFrames disables trimming while recorder mode is on.
func TestClient_SaveFrames(t *testing.T) {
	reg := prometheus.NewRegistry()
	clk := testclock.NewClock(epoch)
	c := New(Config{Clock: clk, Metrics: metrics.New(reg)})
	defer func() { require.NoError(t, c.Close(context.Background())) }()

	assert.False(t, c.SetSaveFrames(true))
	assert.True(t, c.SaveFrames())

	c.PushSubjectSkeleton("hand", types.NewRefSkeleton("root"), uuid.Nil)
	for i := 0; i < 10; i++ {
		c.PushSubjectData("hand", frameAt(990+float64(i), float32(i)), uuid.Nil, false)
	}
	c.Tick()

	c.PushSubjectData("hand", frameAt(1000.1, 10), uuid.Nil, false)
	frames, _ := c.GetSubjectRawFrames("hand")
	assert.Len(t, frames, 11)

	assert.True(t, c.SetSaveFrames(false))
	c.PushSubjectData("hand", frameAt(1000.2, 11), uuid.Nil, false)
	frames, _ = c.GetSubjectRawFrames("hand")
	assert.Len(t, frames, 3)

	expected := `
# HELP subjectlink_frames_trimmed_total Frames dropped from the front of subject buffers
# TYPE subjectlink_frames_trimmed_total counter
subjectlink_frames_trimmed_total{subject="hand"} 9
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "subjectlink_frames_trimmed_total"))
}

func TestClient_ClearAllSubjectsFrames(t *testing.T) {
	c, _ := newTestClient(t)
	pushSubject(c, "hand", uuid.Nil, 999.8, 999.9)
	pushSubject(c, "face", uuid.Nil, 999.8)

	require.NoError(t, c.ClearSubjectFrames("hand"))
	frames, _ := c.GetSubjectRawFrames("hand")
	assert.Empty(t, frames)

	c.ClearAllSubjectsFrames()
	frames, _ = c.GetSubjectRawFrames("face")
	assert.Empty(t, frames)
	assert.Empty(t, c.Tick().Subjects)
}

func TestClient_RunTicksAndDistributes(t *testing.T) {
	clk := testclock.NewClock(epoch)
	c := New(Config{Clock: clk, TickInterval: 10 * time.Millisecond})
	pushSubject(c, "hand", uuid.Nil, 999.8)
	read := c.SubscribeSnapshots("recorder")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	require.NoError(t, clk.WaitAdvance(10*time.Millisecond, time.Second, 1))
	snap := read()
	require.NotNil(t, snap)
	assert.Equal(t, uint64(1), snap.Tick)
	_, ok := snap.Subject("hand")
	assert.True(t, ok)

	cancel()
	require.NoError(t, <-errc)

	c.UnsubscribeSnapshots("recorder")
	require.NoError(t, c.Close(context.Background()))
}

func TestClient_CloseWaitsForSources(t *testing.T) {
	c := New(Config{Clock: testclock.NewClock(epoch)})
	stuck := newFakeSource()
	stuck.refusals = 1 << 30
	c.AddSource(stuck)
	c.AddSource(newFakeSource())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Close(ctx)
	assert.ErrorIs(t, err, ErrShutdownIncomplete)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, c.PendingShutdown())
}

// TestClient_CloseKeepsSourcesRemovedDuringPoll removes a source while
// Close is polling and checks it is still asked to shut down.
func TestClient_CloseKeepsSourcesRemovedDuringPoll(t *testing.T) {
	c := New(Config{Clock: testclock.NewClock(epoch)})
	late := newFakeSource()
	first := newFakeSource()
	first.onShutdown = func() { c.RemoveSource(c.AddSource(late)) }
	c.AddSource(first)

	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, 1, late.shutdowns)
	assert.Zero(t, c.PendingShutdown())
}
