// Package health serves liveness, readiness and Prometheus endpoints for
// the daemon.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/client"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/emitter"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/supplier"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

// Overall states.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const (
	defaultStaleAfter = 2 * time.Second
	shutdownGrace     = 5 * time.Second
)

// State is the part of the client the checks read.
type State interface {
	Snapshot() *types.Snapshot
	Sources() []client.SourceInfo
	PendingShutdown() int
	DistributionStats() supplier.Stats
}

// EmitterStats reports the snapshot publisher.
type EmitterStats interface {
	Stats() emitter.Stats
}

// Config configures the server. Emitter and Gatherer are optional.
type Config struct {
	Addr     string
	State    State
	Emitter  EmitterStats
	Gatherer prometheus.Gatherer
	Clock    clock.Clock

	// StaleAfter is how old the latest snapshot may get before the
	// service reports unhealthy.
	StaleAfter time.Duration
}

// SourceHealth describes one registered source.
type SourceHealth struct {
	GUID   string `json:"guid"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// ReaderHealth describes one snapshot reader.
type ReaderHealth struct {
	LastConsumedSeq  uint64 `json:"last_consumed_seq"`
	ConsecutiveDrops uint64 `json:"consecutive_drops"`
	TotalDrops       uint64 `json:"total_drops"`
	Idle             bool   `json:"idle"`
}

// Status is the readiness report.
type Status struct {
	Status          string                  `json:"status"`
	UptimeSeconds   int64                   `json:"uptime_seconds"`
	Tick            uint64                  `json:"tick"`
	SnapshotAgeMS   int64                   `json:"snapshot_age_ms"`
	Subjects        []string                `json:"subjects"`
	Sources         []SourceHealth          `json:"sources"`
	PendingShutdown int                     `json:"pending_shutdown"`
	MQTTConnected   *bool                   `json:"mqtt_connected,omitempty"`
	Readers         map[string]ReaderHealth `json:"readers,omitempty"`
}

// Server exposes /health, /readiness and /metrics.
type Server struct {
	cfg     Config
	started time.Time
}

// New creates a server. It does not listen until Run.
func New(cfg Config) *Server {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	return &Server{cfg: cfg, started: cfg.Clock.Now()}
}

// Check computes the current status. The service is unhealthy when no
// snapshot has been built for StaleAfter, and degraded when it has no
// source or the emitter is disconnected.
func (s *Server) Check() Status {
	now := s.cfg.Clock.Now()
	snap := s.cfg.State.Snapshot()

	st := Status{
		Status:          StatusHealthy,
		UptimeSeconds:   int64(now.Sub(s.started).Seconds()),
		Tick:            snap.Tick,
		SnapshotAgeMS:   now.Sub(snap.Time).Milliseconds(),
		Subjects:        snap.Names(),
		PendingShutdown: s.cfg.State.PendingShutdown(),
		Readers:         make(map[string]ReaderHealth),
	}
	if st.Subjects == nil {
		st.Subjects = []string{}
	}

	attached := 0
	for _, src := range s.cfg.State.Sources() {
		if src.GUID != client.VirtualSourceGUID {
			attached++
		}
		st.Sources = append(st.Sources, SourceHealth{
			GUID:   src.GUID.String(),
			Type:   src.Type,
			Status: src.Status,
		})
	}

	for id, r := range s.cfg.State.DistributionStats().Readers {
		st.Readers[id] = ReaderHealth{
			LastConsumedSeq:  r.LastConsumedSeq,
			ConsecutiveDrops: r.ConsecutiveDrops,
			TotalDrops:       r.TotalDrops,
			Idle:             r.IsIdle,
		}
	}

	if s.cfg.Emitter != nil {
		connected := s.cfg.Emitter.Stats().Connected
		st.MQTTConnected = &connected
	}

	switch {
	case now.Sub(snap.Time) > s.cfg.StaleAfter:
		st.Status = StatusUnhealthy
	case attached == 0, st.MQTTConnected != nil && !*st.MQTTConnected:
		st.Status = StatusDegraded
	}
	return st
}

// Handler routes the endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.liveness)
	mux.HandleFunc("GET /readiness", s.readiness)
	if s.cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": int64(s.cfg.Clock.Now().Sub(s.started).Seconds()),
	})
}

func (s *Server) readiness(w http.ResponseWriter, _ *http.Request) {
	st := s.Check()
	code := http.StatusOK
	if st.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("health: response write failed", "error", err)
	}
}

// Run listens on Addr until ctx is done, then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	slog.Info("health: server started",
		"addr", s.cfg.Addr,
		"endpoints", []string{"/health", "/readiness", "/metrics"})

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
