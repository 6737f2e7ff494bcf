// Package metrics holds the Prometheus collectors for the link runtime.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "subjectlink"

// Metrics is the set of collectors fed by the client, sources and emitter.
type Metrics struct {
	framesIngested *prometheus.CounterVec
	bufferResets   *prometheus.CounterVec
	framesTrimmed  *prometheus.CounterVec
	snapshotBuild  prometheus.Histogram
	liveSubjects   prometheus.Gauge
	sources        prometheus.Gauge
	notifications  *prometheus.CounterVec
	wireMessages   *prometheus.CounterVec
	published      *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg returns nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)

	return &Metrics{
		framesIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_ingested_total",
			Help:      "Frames pushed into subject buffers",
		}, []string{"subject"}),
		bufferResets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_resets_total",
			Help:      "Subject buffers cleared after a backwards time jump",
		}, []string{"subject"}),
		framesTrimmed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_trimmed_total",
			Help:      "Frames dropped from the front of subject buffers",
		}, []string{"subject"}),
		snapshotBuild: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_build_seconds",
			Help:      "Time spent building one tick snapshot",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 12),
		}),
		liveSubjects: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_subjects",
			Help:      "Subjects present in the latest snapshot",
		}),
		sources: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sources",
			Help:      "Registered sources, excluding the virtual subject source",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Change notifications published",
		}, []string{"kind"}),
		wireMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wire_messages_total",
			Help:      "Messages received by network sources",
		}, []string{"type", "result"}),
		published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_published_total",
			Help:      "Snapshots handed to the emitter transport",
		}, []string{"result"}),
	}
}

// FrameIngested counts one frame for subject.
func (m *Metrics) FrameIngested(subject string) {
	if m == nil {
		return
	}
	m.framesIngested.WithLabelValues(subject).Inc()
}

// BufferReset counts a buffer reset on subject.
func (m *Metrics) BufferReset(subject string) {
	if m == nil {
		return
	}
	m.bufferResets.WithLabelValues(subject).Inc()
}

// FramesTrimmed adds n trimmed frames for subject.
func (m *Metrics) FramesTrimmed(subject string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.framesTrimmed.WithLabelValues(subject).Add(float64(n))
}

// SnapshotBuilt records one tick.
func (m *Metrics) SnapshotBuilt(d time.Duration, subjects int) {
	if m == nil {
		return
	}
	m.snapshotBuild.Observe(d.Seconds())
	m.liveSubjects.Set(float64(subjects))
}

// Sources sets the registered source count.
func (m *Metrics) Sources(n int) {
	if m == nil {
		return
	}
	m.sources.Set(float64(n))
}

// Notification counts one published change event.
func (m *Metrics) Notification(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Inc()
}

// WireMessage counts one decoded (or rejected) network message.
func (m *Metrics) WireMessage(msgType string, err error) {
	if m == nil {
		return
	}
	m.wireMessages.WithLabelValues(msgType, result(err)).Inc()
}

// SnapshotPublished counts one emitter publish.
func (m *Metrics) SnapshotPublished(err error) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
