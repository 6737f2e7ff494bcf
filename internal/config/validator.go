package config

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/timecode"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("subjectlink: invalid configuration")

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate fills defaults and checks the configuration. Every problem
// found is reported, joined under ErrInvalidConfig.
func Validate(cfg *Config) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.InstanceID == "" {
		fail("instance_id is required")
	} else if !instanceIDPattern.MatchString(cfg.InstanceID) {
		fail("instance_id must match pattern [a-z0-9-]+")
	}

	switch {
	case cfg.TickRateHz == 0:
		cfg.TickRateHz = 60
	case cfg.TickRateHz < 0:
		fail("tick_rate_hz must be > 0")
	}
	if cfg.ValidateSourcesInterval <= 0 {
		cfg.ValidateSourcesInterval = 3 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if !cfg.Timecode.FrameRate.IsValid() {
		cfg.Timecode.FrameRate = timecode.NewFrameRate(60, 1)
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":9090"
	}

	if cfg.MQTT.Topics.Subjects == "" {
		cfg.MQTT.Topics.Subjects = fmt.Sprintf("subjectlink/subjects/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Snapshots == "" {
		cfg.MQTT.Topics.Snapshots = fmt.Sprintf("subjectlink/snapshots/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("subjectlink/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Responses == "" {
		cfg.MQTT.Topics.Responses = fmt.Sprintf("subjectlink/responses/%s", cfg.InstanceID)
	}
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"subjects":  0,
			"snapshots": 0,
			"control":   1,
		}
	}
	for topic, qos := range cfg.MQTT.QoS {
		if qos > 2 {
			fail("mqtt.qos.%s must be 0, 1 or 2", topic)
		}
	}

	names := make(map[string]bool)
	for i := range cfg.Sources {
		if err := validateSource(cfg, &cfg.Sources[i], names); err != nil {
			errs = append(errs, fmt.Errorf("sources[%d]: %w", i, err))
		}
	}

	subjects := make(map[string]bool)
	for i, v := range cfg.VirtualSubjects {
		switch {
		case v.Name == "":
			fail("virtual_subjects[%d]: name is required", i)
		case subjects[v.Name]:
			fail("virtual_subjects[%d]: duplicate name %q", i, v.Name)
		case len(v.Subjects) == 0:
			fail("virtual_subjects[%d] %q: at least one subject is required", i, v.Name)
		}
		subjects[v.Name] = true
	}

	if len(errs) > 0 {
		return errors.Join(ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func validateSource(cfg *Config, s *SourceConfig, names map[string]bool) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if names[s.Name] {
		return fmt.Errorf("duplicate source name %q", s.Name)
	}
	names[s.Name] = true

	if s.InterpolationOffset != nil && *s.InterpolationOffset < 0 {
		return fmt.Errorf("%q: interpolation_offset must be >= 0", s.Name)
	}
	if !s.FrameRate.IsValid() {
		s.FrameRate = cfg.Timecode.FrameRate
	}

	switch s.Type {
	case SourceMQTT:
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("%q: mqtt.broker is required for mqtt sources", s.Name)
		}
		if s.Topic == "" {
			s.Topic = cfg.MQTT.Topics.Subjects + "/#"
		}
	case SourceSynthetic:
		if len(s.Subjects) == 0 {
			return fmt.Errorf("%q: synthetic sources need at least one subject", s.Name)
		}
		if s.Bones <= 0 {
			s.Bones = 1
		}
		if s.RateHz <= 0 {
			s.RateHz = 60
		}
	default:
		return fmt.Errorf("%q: unknown type %q (must be %q or %q)", s.Name, s.Type, SourceMQTT, SourceSynthetic)
	}
	return nil
}
