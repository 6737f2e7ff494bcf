package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/client"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/config"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/control"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/emitter"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/health"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/metrics"
	"github.com/e7canasta/orion-care-sensor/subjectlink/internal/timecode"
)

const defaultConfigPath = "config/subjectlink.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("starting subjectlink service",
		"config", *configPath,
		"debug", *debug,
	)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("service error", "error", err)
		os.Exit(1)
	}
	slog.Info("subjectlink service stopped successfully")
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	c := client.New(client.Config{
		Timecode:                timecode.NewSystemProvider(nil, cfg.Timecode.FrameRate),
		Metrics:                 m,
		TickInterval:            cfg.TickInterval(),
		ValidateSourcesInterval: cfg.ValidateSourcesInterval,
		SaveFrames:              cfg.SaveFrames,
	})

	if err := addSources(c, cfg, m); err != nil {
		return err
	}
	if err := addVirtualSubjects(c, cfg); err != nil {
		return err
	}

	var (
		em           *emitter.MQTTEmitter
		emitterStats health.EmitterStats
	)
	if cfg.MQTT.Broker != "" {
		em = emitter.NewMQTTEmitter(emitter.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.InstanceID + "-emitter",
			Topic:    cfg.MQTT.Topics.Snapshots,
			QoS:      cfg.MQTT.QoS["snapshots"],
			Metrics:  m,
		})
		emitterStats = em
	}

	hs := health.New(health.Config{
		Addr:     cfg.HTTP.Addr,
		State:    c,
		Emitter:  emitterStats,
		Gatherer: reg,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })
	g.Go(func() error { return hs.Run(gctx) })
	if em != nil {
		g.Go(func() error {
			if err := em.Connect(gctx); err != nil {
				return err
			}
			ctl := control.NewHandler(control.Config{
				Topic:         cfg.MQTT.Topics.Control,
				ResponseTopic: cfg.MQTT.Topics.Responses,
				QoS:           cfg.MQTT.QoS["control"],
			}, em.Client(), c)
			if err := ctl.Start(gctx); err != nil {
				return err
			}
			defer ctl.Stop()
			return em.Run(gctx, c)
		})
	}
	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	slog.Info("shutting down gracefully", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	closeErr := c.Close(shutdownCtx)
	if em != nil {
		em.Disconnect()
	}
	return errors.Join(runErr, closeErr)
}
