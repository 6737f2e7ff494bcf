// Package emitter publishes resolved snapshots to MQTT, one message per
// subject per tick.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/metrics"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/wire"
)

// ErrNotConnected is returned by Publish before Connect or after the
// connection was lost.
var ErrNotConnected = errors.New("subjectlink: mqtt emitter not connected")

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
	readerID       = "mqtt-emitter"
)

// Config configures the emitter.
type Config struct {
	Broker   string // host:port
	ClientID string
	Topic    string // subject frames go to Topic/<subject>
	QoS      byte
	Metrics  *metrics.Metrics

	// NewClient defaults to mqtt.NewClient.
	NewClient func(*mqtt.ClientOptions) mqtt.Client
}

// SnapshotSource hands out latest-only snapshot readers.
type SnapshotSource interface {
	SubscribeSnapshots(readerID string) func() *types.Snapshot
	UnsubscribeSnapshots(readerID string)
}

// MQTTEmitter publishes snapshots to an MQTT broker.
type MQTTEmitter struct {
	cfg    Config
	client mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
	lastTick  uint64
}

// NewMQTTEmitter creates a disconnected emitter.
func NewMQTTEmitter(cfg Config) *MQTTEmitter {
	if cfg.NewClient == nil {
		cfg.NewClient = mqtt.NewClient
	}
	return &MQTTEmitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// Connect establishes the broker connection. paho keeps reconnecting on
// its own afterwards.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		slog.Info("emitter: mqtt connection established",
			"broker", e.cfg.Broker,
			"client_id", e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker)
	}

	e.client = e.cfg.NewClient(opts)
	slog.Info("emitter: connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(connectTimeout):
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.setConnected(true)
	return nil
}

// Publish sends every subject of snap. Failures of single subjects are
// joined; the remaining subjects are still sent.
func (e *MQTTEmitter) Publish(snap *types.Snapshot) error {
	if !e.isConnected() {
		e.countError()
		e.cfg.Metrics.SnapshotPublished(ErrNotConnected)
		return ErrNotConnected
	}

	var errs []error
	for _, name := range snap.Names() {
		if err := e.publishSubject(snap, name); err != nil {
			errs = append(errs, fmt.Errorf("subject %q: %w", name, err))
		}
	}
	err := errors.Join(errs...)

	e.mu.Lock()
	e.lastTick = snap.Tick
	e.mu.Unlock()
	e.cfg.Metrics.SnapshotPublished(err)
	return err
}

func (e *MQTTEmitter) publishSubject(snap *types.Snapshot, name string) error {
	payload, err := wire.EncodeSubjectFrame(snap.Tick, snap.Time, name, snap.Subjects[name])
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	topic := e.cfg.Topic + "/" + name
	token := e.client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("emitter: subject frame published",
		"topic", topic,
		"tick", snap.Tick,
		"size", len(payload))
	return nil
}

// Run publishes snapshots read from src until ctx is done or src stops
// handing them out. Publish errors are logged, not returned.
func (e *MQTTEmitter) Run(ctx context.Context, src SnapshotSource) error {
	read := src.SubscribeSnapshots(readerID)
	defer src.UnsubscribeSnapshots(readerID)
	stop := context.AfterFunc(ctx, func() { src.UnsubscribeSnapshots(readerID) })
	defer stop()

	slog.Info("emitter: publishing snapshots", "topic", e.cfg.Topic)
	for {
		snap := read()
		if snap == nil || ctx.Err() != nil {
			return nil
		}
		if err := e.Publish(snap); err != nil {
			slog.Warn("emitter: snapshot publish failed", "tick", snap.Tick, "error", err)
		}
	}
}

// Client is the underlying connection, shared with the control plane.
// It is nil before Connect.
func (e *MQTTEmitter) Client() mqtt.Client { return e.client }

// Disconnect closes the MQTT connection.
func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		slog.Info("emitter: mqtt disconnected")
	}
	e.setConnected(false)
}

// Stats contains emitter statistics.
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
	LastTick  uint64
}

// Stats returns emitter statistics.
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		Connected: e.connected,
		Published: maps.Clone(e.published),
		Errors:    e.errors,
		LastTick:  e.lastTick,
	}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = v
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors++
}
