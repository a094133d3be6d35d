package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nerrad567/probebench/internal/api"
	"github.com/nerrad567/probebench/internal/infrastructure/config"
	"github.com/nerrad567/probebench/internal/infrastructure/influxdb"
	"github.com/nerrad567/probebench/internal/infrastructure/logging"
	"github.com/nerrad567/probebench/internal/infrastructure/mqtt"
	"github.com/nerrad567/probebench/internal/stream"
	"github.com/nerrad567/probebench/internal/stream/capture"
)

// cleanupTimeout bounds CleanupAll during shutdown.
const cleanupTimeout = 15 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the console daemon",
		Long: `Load drivers, start the stream broker and its sinks, and serve the
telemetry relay until interrupted. On shutdown every stream is stopped and
every known device is closed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *configPath)
		},
	}
}

// run is the daemon, separated from the command for testability.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting probebench",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(configPath, false)
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	a, err := bootstrap(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Plugins.Watch {
		if err := a.plugins.Watch(ctx, cfg.GetReloadDebounce()); err != nil {
			log.Warn("plugin watch unavailable, reload disabled", "error", err)
		}
	}

	// Sinks each get their own broker tap and pump goroutine. Sinks are
	// closed only after every pump has returned.
	var (
		pumps   sync.WaitGroup
		closers []func()
	)
	pumpCtx, stopPumps := context.WithCancel(ctx)
	defer func() {
		stopPumps()
		pumps.Wait()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()
	attach := func(name string, sink stream.Sink) {
		sub := a.broker.SubscribeAll(0)
		pumps.Add(1)
		go func() {
			defer pumps.Done()
			defer sub.Close()
			stream.Pump(pumpCtx, sub, sink, log.Component(name))
		}()
	}

	if cfg.MQTT.Enabled {
		closeMirror, err := startMirror(ctx, cfg, log, a.broker, attach)
		if err != nil {
			return err
		}
		closers = append(closers, closeMirror)
	} else {
		log.Info("MQTT mirror disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		closers = append(closers, func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		})
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		attach("influxdb", stream.NewSampleSink(influxClient))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if cfg.Capture.Enabled {
		rec, err := capture.NewRecorder(cfg.Capture.Path)
		if err != nil {
			return fmt.Errorf("opening capture file: %w", err)
		}
		closers = append(closers, func() {
			if closeErr := rec.Close(); closeErr != nil {
				log.Error("error closing capture file", "error", closeErr)
			}
			log.Info("capture closed", "envelopes", rec.Count())
		})
		attach("capture", rec)
		log.Info("capture recording", "path", cfg.Capture.Path)
	}

	if cfg.API.Enabled {
		srv, err := api.New(api.Deps{
			Config:    cfg.API,
			WS:        cfg.WebSocket,
			Logger:    log.Component("api"),
			Broker:    a.broker,
			Inventory: a.console,
			Version:   version,
		})
		if err != nil {
			return fmt.Errorf("creating telemetry relay: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting telemetry relay: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing telemetry relay", "error", closeErr)
			}
		}()
	}

	log.Info("probebench ready", "console_id", cfg.Console.ID)
	<-ctx.Done()
	log.Info("shutdown signal received")

	// The signal context is already cancelled; cleanup runs on its own clock.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	report := a.console.CleanupAll(cleanupCtx)
	if err := report.Err(); err != nil {
		log.Warn("cleanup incomplete", "failed", report.Failed(), "error", err)
	} else {
		log.Info("cleanup complete", "units", len(report.Units))
	}
	return nil
}

// startMirror connects to MQTT and mirrors the broker onto it. The
// returned func stops the mirror and disconnects.
func startMirror(
	ctx context.Context,
	cfg *config.Config,
	log *logging.Logger,
	broker *stream.Broker,
	attach func(string, stream.Sink),
) (func(), error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	nodeID := cfg.Console.ID + "-" + uuid.NewString()[:8]
	mirror := stream.NewMirror(broker, mqttBus{client: client}, client.Topics(), nodeID)
	mirror.SetLogger(log.Component("mirror"))
	if err := mirror.Start(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("starting MQTT mirror: %w", err)
	}
	attach("mirror", mirror)
	log.Info("MQTT mirror started", "node_id", nodeID)

	return func() {
		if err := mirror.Stop(); err != nil {
			log.Warn("error stopping MQTT mirror", "error", err)
		}
		log.Info("disconnecting from MQTT")
		if err := client.Close(); err != nil {
			log.Error("error closing MQTT", "error", err)
		}
	}, nil
}

// mqttBus adapts the MQTT client to stream.RemoteBus at the configured QoS.
type mqttBus struct {
	client *mqtt.Client
}

func (b mqttBus) Publish(topic string, payload []byte, retained bool) error {
	return b.client.Publish(topic, payload, b.client.QoS(), retained)
}

func (b mqttBus) Subscribe(topic string, handler func(topic string, payload []byte) error) error {
	return b.client.Subscribe(topic, b.client.QoS(), handler)
}

func (b mqttBus) Unsubscribe(topic string) error {
	return b.client.Unsubscribe(topic)
}
