// Package mqtttest provides an in-memory broker whose clients satisfy
// mqtt.Client, for tests of MQTT sources and emitters.
package mqtttest

import (
	"errors"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrRefused is the error of a connect the broker was told to fail.
var ErrRefused = errors.New("mqtttest: connection refused")

// Message is a published message as seen by the broker.
type Message struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// Broker routes publishes to subscriptions of its clients synchronously.
type Broker struct {
	mu        sync.Mutex
	clients   []*Client
	published []Message
	failures  int
	connects  int
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{}
}

// FailConnects makes the next n Connect calls fail with ErrRefused.
func (b *Broker) FailConnects(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = n
}

// Connects returns the number of Connect calls, failed ones included.
func (b *Broker) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

// Published returns a copy of every message published so far.
func (b *Broker) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.published...)
}

// NewClient has the signature of mqtt.NewClient.
func (b *Broker) NewClient(opts *mqtt.ClientOptions) mqtt.Client {
	c := &Client{broker: b, opts: opts, subs: make(map[string]mqtt.MessageHandler)}
	b.mu.Lock()
	b.clients = append(b.clients, c)
	b.mu.Unlock()
	return c
}

// Publish injects a message as if another client had published it.
func (b *Broker) Publish(topic string, payload []byte) {
	b.route(Message{Topic: topic, Payload: payload})
}

// DropConnections disconnects every client and fires its connection
// lost handler.
func (b *Broker) DropConnections() {
	b.mu.Lock()
	clients := append([]*Client(nil), b.clients...)
	b.mu.Unlock()

	for _, c := range clients {
		c.mu.Lock()
		was := c.connected
		c.connected = false
		c.mu.Unlock()
		if was && c.opts.OnConnectionLost != nil {
			c.opts.OnConnectionLost(c, ErrRefused)
		}
	}
}

func (b *Broker) route(msg Message) {
	b.mu.Lock()
	b.published = append(b.published, msg)
	clients := append([]*Client(nil), b.clients...)
	b.mu.Unlock()

	for _, c := range clients {
		for _, h := range c.handlersFor(msg.Topic) {
			h(c, &message{msg: msg})
		}
	}
}

// Client is a broker connection.
type Client struct {
	broker *Broker
	opts   *mqtt.ClientOptions

	mu        sync.Mutex
	connected bool
	subs      map[string]mqtt.MessageHandler
}

var _ mqtt.Client = (*Client)(nil)

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) IsConnectionOpen() bool { return c.IsConnected() }

func (c *Client) Connect() mqtt.Token {
	b := c.broker
	b.mu.Lock()
	b.connects++
	fail := b.failures > 0
	if fail {
		b.failures--
	}
	b.mu.Unlock()

	if fail {
		return &token{err: ErrRefused}
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	if c.opts.OnConnect != nil {
		c.opts.OnConnect(c)
	}
	return &token{}
}

func (c *Client) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.subs = make(map[string]mqtt.MessageHandler)
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if !c.IsConnected() {
		return &token{err: mqtt.ErrNotConnected}
	}
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case string:
		data = []byte(p)
	default:
		return &token{err: errors.New("mqtttest: unsupported payload type")}
	}
	c.broker.route(Message{Topic: topic, QoS: qos, Retained: retained, Payload: data})
	return &token{}
}

func (c *Client) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	if !c.IsConnected() {
		return &token{err: mqtt.ErrNotConnected}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[topic] = callback
	return &token{}
}

func (c *Client) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic, qos := range filters {
		if t := c.Subscribe(topic, qos, callback); t.Error() != nil {
			return t
		}
	}
	return &token{}
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	return &token{}
}

func (c *Client) AddRoute(topic string, callback mqtt.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[topic] = callback
}

func (c *Client) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.NewOptionsReader(c.opts)
}

func (c *Client) handlersFor(topic string) []mqtt.MessageHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	var out []mqtt.MessageHandler
	for filter, h := range c.subs {
		if Match(filter, topic) {
			out = append(out, h)
		}
	}
	return out
}

// Match reports whether topic matches an MQTT filter with + and #
// wildcards.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}

type token struct{ err error }

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Error() error                   { return t.err }

func (t *token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct{ msg Message }

func (m *message) Duplicate() bool   { return false }
func (m *message) Qos() byte         { return m.msg.QoS }
func (m *message) Retained() bool    { return m.msg.Retained }
func (m *message) Topic() string     { return m.msg.Topic }
func (m *message) MessageID() uint16 { return 0 }
func (m *message) Payload() []byte   { return m.msg.Payload }
func (m *message) Ack()              {}
