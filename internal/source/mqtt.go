package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/client"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/metrics"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/wire"
)

const (
	connectTimeout   = 5 * time.Second
	subscribeTimeout = 5 * time.Second
	disconnectQuiet  = 250 // ms
)

// MQTTConfig configures an MQTT source.
type MQTTConfig struct {
	Broker    string // host:port
	ClientID  string
	Topic     string // subscription filter, e.g. "subjectlink/subjects/#"
	QoS       byte
	Settings  types.SourceSettings
	Reconnect ReconnectConfig

	Clock   clock.Clock
	Metrics *metrics.Metrics

	// NewClient defaults to mqtt.NewClient.
	NewClient func(*mqtt.ClientOptions) mqtt.Client
}

// MQTTSource subscribes to skeleton and frame messages and pushes them
// into the client. After the first connection paho reconnects on its own
// and the subscription is restored from the connect handler.
type MQTTSource struct {
	cfg MQTTConfig

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.RWMutex
	client   mqtt.Client
	pusher   client.Pusher
	guid     uuid.UUID
	status   string
	started  bool
	received uint64
	rejected uint64
}

// NewMQTTSource creates an idle source. It connects once it is added to
// a client.
func NewMQTTSource(cfg MQTTConfig) *MQTTSource {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.NewClient == nil {
		cfg.NewClient = mqtt.NewClient
	}
	if cfg.Reconnect == (ReconnectConfig{}) {
		cfg.Reconnect = DefaultReconnectConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MQTTSource{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		status: StatusIdle,
	}
}

// ReceiveClient starts connecting in the background.
func (s *MQTTSource) ReceiveClient(p client.Pusher, guid uuid.UUID) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.pusher = p
	s.guid = guid
	s.mu.Unlock()

	go s.run()
}

func (s *MQTTSource) run() {
	defer close(s.done)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", s.cfg.Broker))
	opts.SetClientID(s.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(s.cfg.Reconnect.MaxRetryDelay)

	opts.OnConnect = func(c mqtt.Client) {
		s.setStatus(StatusConnected)
		slog.Info("source: mqtt connection established",
			"broker", s.cfg.Broker,
			"client_id", s.cfg.ClientID,
		)
		// paho drops subscriptions on reconnect with a clean session.
		go s.subscribe(c)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.setStatus(StatusDisconnected)
		slog.Warn("source: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", s.cfg.Broker,
		)
	}

	c := s.cfg.NewClient(opts)
	s.mu.Lock()
	s.client = c
	s.mu.Unlock()

	s.setStatus(StatusConnecting)
	slog.Info("source: connecting to mqtt broker", "broker", s.cfg.Broker, "topic", s.cfg.Topic)

	err := ConnectWithRetry(s.ctx, s.cfg.Clock, s.cfg.Reconnect, func(context.Context) error {
		token := c.Connect()
		if !token.WaitTimeout(connectTimeout) {
			return errors.New("mqtt connection timeout")
		}
		return token.Error()
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.setStatus(StatusStopped)
			return
		}
		s.setStatus(StatusFailed)
		slog.Error("source: mqtt connect gave up", "broker", s.cfg.Broker, "error", err)
		return
	}

	<-s.ctx.Done()
	if c.IsConnected() {
		c.Unsubscribe(s.cfg.Topic).WaitTimeout(subscribeTimeout)
		c.Disconnect(disconnectQuiet)
	}
	s.setStatus(StatusStopped)
	slog.Info("source: mqtt source stopped", "broker", s.cfg.Broker)
}

func (s *MQTTSource) subscribe(c mqtt.Client) {
	token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.onMessage)
	if !token.WaitTimeout(subscribeTimeout) {
		slog.Error("source: mqtt subscription timeout", "topic", s.cfg.Topic)
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("source: mqtt subscription failed", "topic", s.cfg.Topic, "error", err)
		return
	}
	s.setStatus(StatusStreaming)
	slog.Debug("source: mqtt subscribed", "topic", s.cfg.Topic, "qos", s.cfg.QoS)
}

func (s *MQTTSource) onMessage(_ mqtt.Client, m mqtt.Message) {
	msg, err := wire.Decode(m.Payload(), s.cfg.Clock.Now())
	s.cfg.Metrics.WireMessage(msg.Type, err)

	s.mu.Lock()
	if err != nil {
		s.rejected++
	} else {
		s.received++
	}
	p, guid := s.pusher, s.guid
	s.mu.Unlock()

	if err != nil {
		slog.Debug("source: wire message rejected", "topic", m.Topic(), "error", err)
		return
	}
	if s.ctx.Err() != nil {
		return
	}

	switch msg.Type {
	case wire.TypeSkeleton:
		p.PushSubjectSkeleton(msg.Subject, msg.Skeleton, guid)
	case wire.TypeFrame:
		p.PushSubjectData(msg.Subject, msg.Frame, guid, false)
	}
}

func (s *MQTTSource) setStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Counters returns the number of accepted and rejected messages.
func (s *MQTTSource) Counters() (received, rejected uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.received, s.rejected
}

// IsSourceStillValid is false once connecting has been given up.
func (s *MQTTSource) IsSourceStillValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status != StatusFailed
}

// RequestSourceShutdown disconnects and reports whether the connection
// goroutine has exited.
func (s *MQTTSource) RequestSourceShutdown() bool {
	s.cancel()

	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
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

func (s *MQTTSource) SourceType() string { return "mqtt" }

func (s *MQTTSource) SourceStatus() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *MQTTSource) Settings() types.SourceSettings { return s.cfg.Settings }
