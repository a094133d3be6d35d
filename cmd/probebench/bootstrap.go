package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/nerrad567/probebench/internal/console"
	"github.com/nerrad567/probebench/internal/device"
	"github.com/nerrad567/probebench/internal/driver"
	"github.com/nerrad567/probebench/internal/infrastructure/config"
	"github.com/nerrad567/probebench/internal/infrastructure/database"
	"github.com/nerrad567/probebench/internal/infrastructure/logging"
	"github.com/nerrad567/probebench/internal/plugin"
	"github.com/nerrad567/probebench/internal/registry"
	"github.com/nerrad567/probebench/internal/stream"
	"github.com/nerrad567/probebench/migrations"
)

// app is the wired console core shared by serve and the one-shot commands.
type app struct {
	cfg     *config.Config
	log     *logging.Logger
	db      *database.DB // nil unless devices come from sqlite
	broker  *stream.Broker
	plugins *plugin.Registry
	console *console.Console
	report  *plugin.LoadReport
}

// loadConfig reads the config at path. With allowDefault a missing file
// yields the built-in defaults.
func loadConfig(path string, allowDefault bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if allowDefault && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("loading config: %w", err)
}

// bootstrap opens device config, loads plugins and builds the console.
func bootstrap(ctx context.Context, cfg *config.Config, log *logging.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	store, err := a.openDeviceConfig(ctx)
	if err != nil {
		return nil, err
	}

	a.broker = stream.NewBroker(cfg.Streaming.SubscriberBuffer)
	a.broker.SetLogger(log.Component("stream"))

	a.plugins = plugin.NewRegistry(plugin.Config{
		Dir:      cfg.Plugins.Dir,
		Defaults: plugin.Options{"poll_interval": cfg.GetPollInterval().String()},
		Instance: driver.Config{
			StopTimeout: cfg.GetStopTimeout(),
			Publisher:   a.broker,
		},
	})
	a.plugins.SetLogger(log.Component("plugin"))

	devices := device.NewStore(store)
	devices.SetLogger(log.Component("device"))
	devReg := registry.NewDeviceRegistry(a.plugins, devices, store)
	devReg.SetLogger(log.Component("registry"))

	a.console = console.New(console.Config{
		Plugins: a.plugins,
		Devices: devReg,
		Broker:  a.broker,
		Writer:  store,
	})
	a.console.SetLogger(log.Component("console"))

	a.report, err = a.console.Start(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	log.Info("console started",
		"drivers", len(a.console.ListDrivers()),
		"devices", len(a.console.GetAllDevices()),
		"plugin_failures", len(a.report.Failed),
	)
	return a, nil
}

func (a *app) openDeviceConfig(ctx context.Context) (device.ConfigStore, error) {
	switch a.cfg.Devices.Source {
	case config.DeviceSourceSQLite:
		db, err := database.Open(ctx, database.Config{
			Path:        a.cfg.Database.Path,
			WALMode:     a.cfg.Database.WALMode,
			BusyTimeout: a.cfg.Database.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			db.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		a.db = db
		a.log.Info("device config in sqlite", "path", a.cfg.Database.Path)
		return device.NewSQLiteRepository(db.DB), nil
	default:
		a.log.Info("device config in json file", "path", a.cfg.Devices.ConfigFile)
		return device.NewFileSource(a.cfg.Devices.ConfigFile), nil
	}
}

// Close releases the database, if one was opened.
func (a *app) Close() {
	if a.db == nil {
		return
	}
	if err := a.db.Close(); err != nil {
		a.log.Error("error closing database", "error", err)
	}
}

// quietLogger returns a logger for one-shot commands: warnings and errors
// on stderr so stdout carries only the command output.
func quietLogger(cfg *config.Config) *logging.Logger {
	lc := cfg.Logging
	lc.Level = "warn"
	return logging.NewWithWriter(lc, version, os.Stderr)
}
