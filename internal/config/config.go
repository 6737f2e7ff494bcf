// Package config loads the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/timecode"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/types"
)

// Config is the complete daemon configuration.
type Config struct {
	InstanceID              string                 `yaml:"instance_id"`
	TickRateHz              float64                `yaml:"tick_rate_hz"` // default: 60
	SaveFrames              bool                   `yaml:"save_frames"`
	ValidateSourcesInterval time.Duration          `yaml:"validate_sources_interval"` // default: 3s
	ShutdownTimeout         time.Duration          `yaml:"shutdown_timeout"`          // default: 5s
	Timecode                TimecodeConfig         `yaml:"timecode"`
	MQTT                    MQTTConfig             `yaml:"mqtt"`
	Sources                 []SourceConfig         `yaml:"sources"`
	VirtualSubjects         []VirtualSubjectConfig `yaml:"virtual_subjects"`
	HTTP                    HTTPConfig             `yaml:"http"`
}

// TimecodeConfig configures the system timecode provider.
type TimecodeConfig struct {
	FrameRate timecode.FrameRate `yaml:"frame_rate"` // "30", "30000/1001"; default: 60
}

// MQTTConfig contains MQTT broker settings.
type MQTTConfig struct {
	Broker string          `yaml:"broker"` // host:port
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic roots.
type MQTTTopics struct {
	Subjects  string `yaml:"subjects"`  // incoming skeleton/frame messages
	Snapshots string `yaml:"snapshots"` // outgoing resolved snapshots
	Control   string `yaml:"control"`   // incoming commands
	Responses string `yaml:"responses"` // command responses
}

// Source types.
const (
	SourceMQTT      = "mqtt"
	SourceSynthetic = "synthetic"
)

// SourceConfig defines one source.
type SourceConfig struct {
	Name                string             `yaml:"name"`
	Type                string             `yaml:"type"` // mqtt, synthetic
	Mode                types.SourceMode   `yaml:"mode"` // default, interpolated, time_synchronized
	InterpolationOffset *float64           `yaml:"interpolation_offset,omitempty"`
	FrameRate           timecode.FrameRate `yaml:"frame_rate"`
	FrameOffset         int32              `yaml:"frame_offset"`

	// mqtt
	Topic string `yaml:"topic,omitempty"` // default: mqtt.topics.subjects + "/#"

	// synthetic
	Subjects []string `yaml:"subjects,omitempty"`
	Bones    int      `yaml:"bones,omitempty"`
	Curves   int      `yaml:"curves,omitempty"`
	RateHz   float64  `yaml:"rate_hz,omitempty"`
}

// VirtualSubjectConfig composes a virtual subject from real ones.
type VirtualSubjectConfig struct {
	Name     string   `yaml:"name"`
	Subjects []string `yaml:"subjects"`
}

// HTTPConfig configures the health and metrics endpoint.
type HTTPConfig struct {
	Addr string `yaml:"addr"` // default: ":9090"
}

// Load reads, parses and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates YAML.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// TickInterval is the period of the snapshot tick.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.TickRateHz)
}

// Settings converts the source definition to resolution settings.
func (s SourceConfig) Settings() types.SourceSettings {
	settings := types.DefaultSourceSettings()
	settings.Mode = s.Mode
	if s.InterpolationOffset != nil {
		settings.Interpolation.InterpolationOffset = *s.InterpolationOffset
	}
	if s.FrameRate.IsValid() {
		settings.TimeSynchronization.FrameRate = s.FrameRate
	}
	settings.TimeSynchronization.FrameOffset = s.FrameOffset
	return settings
}
