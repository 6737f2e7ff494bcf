package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/client"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/emitter"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/metrics"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Unix(1000, 0)

type stubSource struct{}

func (stubSource) ReceiveClient(client.Pusher, uuid.UUID) {}
func (stubSource) IsSourceStillValid() bool              { return true }
func (stubSource) RequestSourceShutdown() bool           { return true }
func (stubSource) SourceType() string                    { return "stub" }
func (stubSource) SourceStatus() string                  { return "streaming" }
func (stubSource) Settings() types.SourceSettings        { return types.DefaultSourceSettings() }

type stubEmitter struct{ connected bool }

func (e stubEmitter) Stats() emitter.Stats { return emitter.Stats{Connected: e.connected} }

func newClient(t *testing.T, clk *testclock.Clock, reg prometheus.Registerer) *client.Client {
	t.Helper()
	c := client.New(client.Config{Clock: clk, Metrics: metrics.New(reg)})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, c.Close(ctx))
	})
	return c
}

func TestServer_Check(t *testing.T) {
	clk := testclock.NewClock(epoch)
	c := newClient(t, clk, nil)
	s := New(Config{State: c, Clock: clk})

	c.Tick()
	st := s.Check()
	assert.Equal(t, StatusDegraded, st.Status, "no sources")
	assert.Equal(t, uint64(1), st.Tick)
	assert.Empty(t, st.Subjects)
	assert.Nil(t, st.MQTTConnected)
	require.Len(t, st.Sources, 1)
	assert.Equal(t, "virtual", st.Sources[0].Type)

	c.AddSource(stubSource{})
	c.PushSubjectSkeleton("hand", types.NewRefSkeleton("root"), uuid.Nil)
	c.PushSubjectData("hand", types.FrameData{
		Transforms: []types.Transform{types.IdentityTransform()},
		WorldTime:  types.LocalWorldTime(epoch),
	}, uuid.Nil, false)
	c.Tick()
	st = s.Check()
	assert.Equal(t, StatusHealthy, st.Status)
	assert.Equal(t, []string{"hand"}, st.Subjects)
	assert.Len(t, st.Sources, 2)

	clk.Advance(3 * time.Second)
	st = s.Check()
	assert.Equal(t, StatusUnhealthy, st.Status)
	assert.Equal(t, int64(3000), st.SnapshotAgeMS)
	assert.Equal(t, int64(3), st.UptimeSeconds)
}

func TestServer_EmitterDisconnectedDegrades(t *testing.T) {
	clk := testclock.NewClock(epoch)
	c := newClient(t, clk, nil)
	c.AddSource(stubSource{})
	c.Tick()

	st := New(Config{State: c, Clock: clk, Emitter: stubEmitter{connected: true}}).Check()
	assert.Equal(t, StatusHealthy, st.Status)
	require.NotNil(t, st.MQTTConnected)
	assert.True(t, *st.MQTTConnected)

	st = New(Config{State: c, Clock: clk, Emitter: stubEmitter{}}).Check()
	assert.Equal(t, StatusDegraded, st.Status)
}

func TestServer_Readers(t *testing.T) {
	clk := testclock.NewClock(epoch)
	c := newClient(t, clk, nil)
	c.SubscribeSnapshots("emitter")
	defer c.UnsubscribeSnapshots("emitter")

	st := New(Config{State: c, Clock: clk}).Check()
	require.Contains(t, st.Readers, "emitter")
	assert.False(t, st.Readers["emitter"].Idle)
}

func TestServer_Endpoints(t *testing.T) {
	clk := testclock.NewClock(epoch)
	reg := prometheus.NewRegistry()
	c := newClient(t, clk, reg)
	c.AddSource(stubSource{})
	c.Tick()

	h := New(Config{State: c, Clock: clk, Gatherer: reg}).Handler()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"status":"alive"`)

	rec = get("/readiness")
	assert.Equal(t, http.StatusOK, rec.Code)
	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, StatusHealthy, st.Status)
	assert.Equal(t, uint64(1), st.Tick)

	rec = get("/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "subjectlink_sources 1")

	clk.Advance(time.Minute)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readiness").Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	clk := testclock.NewClock(epoch)
	s := New(Config{Addr: addr, State: newClient(t, clk, nil), Clock: clk})
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
	http.DefaultClient.CloseIdleConnections()
}
