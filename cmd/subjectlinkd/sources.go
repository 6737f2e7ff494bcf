package main

import (
	"fmt"
	"log/slog"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/client"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/config"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/metrics"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/source"
)

// newSource builds the source described by sc. The config has been
// validated, so the type is known.
func newSource(cfg *config.Config, sc config.SourceConfig, m *metrics.Metrics) (client.Source, error) {
	switch sc.Type {
	case config.SourceMQTT:
		return source.NewMQTTSource(source.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.InstanceID + "-" + sc.Name,
			Topic:    sc.Topic,
			QoS:      cfg.MQTT.QoS["subjects"],
			Settings: sc.Settings(),
			Metrics:  m,
		}), nil
	case config.SourceSynthetic:
		return source.NewSyntheticSource(source.SyntheticConfig{
			Subjects: sc.Subjects,
			Bones:    sc.Bones,
			Curves:   sc.Curves,
			RateHz:   sc.RateHz,
			Settings: sc.Settings(),
		}), nil
	default:
		return nil, fmt.Errorf("source %q: unknown type %q", sc.Name, sc.Type)
	}
}

func addSources(c *client.Client, cfg *config.Config, m *metrics.Metrics) error {
	for _, sc := range cfg.Sources {
		src, err := newSource(cfg, sc, m)
		if err != nil {
			return err
		}
		guid := c.AddSource(src)
		slog.Info("source added",
			"name", sc.Name,
			"type", sc.Type,
			"mode", sc.Mode.String(),
			"guid", guid.String())
	}
	return nil
}

func addVirtualSubjects(c *client.Client, cfg *config.Config) error {
	for _, vc := range cfg.VirtualSubjects {
		if err := c.AddVirtualSubject(vc.Name); err != nil {
			return fmt.Errorf("virtual subject %q: %w", vc.Name, err)
		}
		if err := c.UpdateVirtualSubject(vc.Name, vc.Subjects); err != nil {
			return fmt.Errorf("virtual subject %q: %w", vc.Name, err)
		}
	}
	return nil
}
