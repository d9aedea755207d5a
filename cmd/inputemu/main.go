// inputemu runs the input emulator driver inside a simulated tracking
// runtime.
//
// The daemon wires the driver to its control channel (in-process or over
// MQTT), persists device sightings and compensation settings in SQLite,
// optionally streams telemetry to InfluxDB and serves a loopback status
// API. Clients such as inputemuctl talk to it over the control channel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/inputemu-core/migrations"

	"github.com/nerrad567/inputemu-core/internal/api"
	"github.com/nerrad567/inputemu-core/internal/audit"
	"github.com/nerrad567/inputemu-core/internal/device"
	"github.com/nerrad567/inputemu-core/internal/driver"
	"github.com/nerrad567/inputemu-core/internal/infrastructure/config"
	"github.com/nerrad567/inputemu-core/internal/infrastructure/database"
	"github.com/nerrad567/inputemu-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/inputemu-core/internal/infrastructure/logging"
	"github.com/nerrad567/inputemu-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/inputemu-core/internal/ipc"
	"github.com/nerrad567/inputemu-core/internal/motion"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default $INPUTEMU_CONFIG or "+defaultConfigPath+")")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, resolveConfigPath(*configPath)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("INPUTEMU_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig falls back to defaults when the default path does not exist.
// An explicitly named file must exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
		return config.Default()
	}
	return config.Load(path)
}

// run starts every component and blocks until ctx is cancelled or the
// frame loop fails. Components are torn down in reverse order.
func run(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)
	log.Info("starting input emulator", "version", version, "commit", commit, "config", configPath)

	checks := make(map[string]api.HealthChecker)

	var (
		store   motion.Store
		repo    device.Repository
		control audit.Repository
	)
	if cfg.Database.Enabled {
		db, err := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer closeLogged(log, "database", db.Close)
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		sqlRepo := device.NewSQLiteRepository(db.DB)
		sqlRepo.SetLogger(log.Component("device"))
		if err := sqlRepo.Start(); err != nil {
			return fmt.Errorf("preparing device repository: %w", err)
		}
		defer sqlRepo.Stop()

		repo = sqlRepo
		store = motion.NewSQLiteStore(db.DB)
		control = audit.NewSQLiteRepository(db.DB)
		checks["database"] = db
		log.Info("database ready", "path", db.Path())
	}

	var influx *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influx, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer closeLogged(log, "influxdb", influx.Close)
		influx.SetOnError(func(err error) { log.Warn("influxdb write failed", "error", err) })
		checks["influxdb"] = influx
		log.Info("influxdb connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	transport, mqttClient, err := openTransport(cfg, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer closeLogged(log, "mqtt", mqttClient.Close)
		checks["mqtt"] = mqttClient
	}

	engineOpts := []motion.Option{motion.WithSettings(motion.Settings{
		Window:           cfg.Motion.Window,
		ProcessNoise:     cfg.Motion.ProcessNoise,
		ObservationNoise: cfg.Motion.ObservationNoise,
	})}
	if influx != nil {
		engineOpts = append(engineOpts, motion.WithTelemetry(motion.NewInfluxTelemetry(influx), cfg.Motion.TelemetryEvery))
	}

	drv := driver.New(driver.Options{
		Transport: transport,
		IPC: ipc.ServerConfig{
			ServerChannel: cfg.IPC.ServerChannel,
			ClientPrefix:  cfg.IPC.ClientPrefix,
		},
		Overrides: device.Overrides{
			Manufacturer:            cfg.Driver.OverrideManufacturer,
			Model:                   cfg.Driver.OverrideModel,
			TrackingSystem:          cfg.Driver.OverrideTrackingSystem,
			DisguiseGenericTrackers: cfg.Driver.GenericTrackerFakeController,
		},
		StaleAfterFrames: cfg.Driver.StaleAfterFrames,
		Engine:           motion.NewEngine(engineOpts...),
		Store:            store,
		Repository:       repo,
		Audit:            control,
		Logger:           log.Component("driver"),
	})
	if influx != nil {
		drv.AddEventListener(deviceEventWriter(influx))
	}
	if mqttClient != nil {
		drv.AddEventListener(telemetryMirror(mqttClient, log))
	}

	rt, err := buildRuntime(cfg.Host, log.Component("host"))
	if err != nil {
		return fmt.Errorf("building simulated runtime: %w", err)
	}

	if err := drv.Init(ctx, rt.DriverContext()); err != nil {
		return fmt.Errorf("initializing driver: %w", err)
	}
	defer drv.Cleanup()

	if err := addDevices(rt, cfg.Host.Devices); err != nil {
		return fmt.Errorf("adding simulated devices: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.API.Enabled {
		srv, err := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log,
			Devices: drv.Registry(),
			Motion:  drv.Engine(),
			Events:  drv,
			Audit:   control,
			Checks:  checks,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating status API: %w", err)
		}
		if err := srv.Start(gctx); err != nil {
			return fmt.Errorf("starting status API: %w", err)
		}
		defer closeLogged(log, "status API", srv.Close)
	}

	g.Go(func() error {
		return rt.Run(gctx, cfg.Host.FrameRate, frameFunc(drv, rt, influx, cfg.Host.FrameRate))
	})

	log.Info("input emulator running",
		"transport", cfg.IPC.Transport,
		"frame_rate", cfg.Host.FrameRate,
		"devices", len(cfg.Host.Devices),
	)

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("frame loop: %w", err)
	}
	log.Info("shutting down")
	return nil
}

// openTransport returns the control channel carrier. The MQTT client is
// non-nil only for the mqtt transport.
func openTransport(cfg *config.Config, log *logging.Logger) (ipc.Transport, *mqtt.Client, error) {
	switch cfg.IPC.Transport {
	case "mqtt":
		client, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		client.SetLogger(log.Component("mqtt"))
		client.SetOnDisconnect(func(err error) { log.Warn("mqtt disconnected", "error", err) })
		client.SetOnConnect(func() { log.Info("mqtt connected") })
		log.Info("control channel over MQTT",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"server_channel", cfg.IPC.ServerChannel)
		return ipc.NewMQTTTransport(client, byte(cfg.MQTT.QoS)), client, nil
	default:
		log.Info("control channel in process")
		return ipc.NewMemoryTransport(0), nil, nil
	}
}

func closeLogged(log *logging.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		log.Error("error closing "+name, "error", err)
	}
}
