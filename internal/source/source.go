// Package source implements the collaborators that feed subjects into the
// client: an MQTT subscriber speaking the msgpack wire format and a
// synthetic generator for demos and soak tests.
package source

import (
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/client"
)

// Source states reported by SourceStatus.
const (
	StatusIdle         = "idle"
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusStreaming    = "streaming"
	StatusFailed       = "failed"
	StatusStopped      = "stopped"
)

var (
	_ client.Source = (*MQTTSource)(nil)
	_ client.Source = (*SyntheticSource)(nil)
)
