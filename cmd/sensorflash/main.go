// SensorFlash Core - Browser-driven firmware flashing service
//
// This is the main entry point for the SensorFlash Core application.
// SensorFlash flashes ESP-family sensor nodes over a locally attached
// serial port: it compiles firmware for a device configuration, drives
// the chip through bootloader entry, erase, and write, registers the
// finished device with the inventory service, and streams a live serial
// monitor to the browser.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/sensorflash-core/internal/api"
	"github.com/nerrad567/sensorflash-core/internal/esptool"
	"github.com/nerrad567/sensorflash-core/internal/firmware"
	"github.com/nerrad567/sensorflash-core/internal/flasher"
	"github.com/nerrad567/sensorflash-core/internal/history"
	"github.com/nerrad567/sensorflash-core/internal/infrastructure/config"
	"github.com/nerrad567/sensorflash-core/internal/infrastructure/database"
	"github.com/nerrad567/sensorflash-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/sensorflash-core/internal/infrastructure/logging"
	"github.com/nerrad567/sensorflash-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/sensorflash-core/internal/registry"
	"github.com/nerrad567/sensorflash-core/internal/serialport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting SensorFlash Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Apply the session history schema
	if schemaErr := db.ApplySchema(ctx, history.Schema); schemaErr != nil {
		return fmt.Errorf("applying history schema: %w", schemaErr)
	}
	historyRepo := history.NewRepository(db.DB)
	recorder := history.NewRecorder(historyRepo)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start the hot-plug port watcher
	watcher := serialport.NewWatcher(serialport.SystemLister{}, serialport.WatcherOptions{
		Interval: cfg.GetWatchInterval(),
		Logger:   log,
	})
	if watchErr := watcher.Start(); watchErr != nil {
		return fmt.Errorf("starting port watcher: %w", watchErr)
	}
	defer func() {
		log.Info("stopping port watcher")
		watcher.Stop()
	}()
	log.Info("port watcher started", "ports", len(watcher.List()))

	// External service clients
	compileClient := firmware.NewCompileClient(firmware.CompileClientOptions{
		Endpoint: cfg.Compile.Endpoint,
		APIKey:   cfg.Compile.APIKey,
		Timeout:  cfg.GetCompileTimeout(),
	})
	registryClient := registry.NewClient(registry.ClientOptions{
		Endpoint: cfg.Registry.Endpoint,
		APIKey:   cfg.Registry.APIKey,
		Timeout:  cfg.GetRegistryTimeout(),
	})
	finalizer := registry.NewFinalizer(registryClient, log)

	// Event fan-out: WebSocket hub always, MQTT and InfluxDB when enabled
	hub := api.NewHub(cfg.WebSocket, log)
	sinks := flasher.MultiSink{hub}
	if mqttClient != nil {
		sinks = append(sinks, newMQTTSink(mqttClient, log))
	}
	var influxSink *influxSessionSink
	if influxClient != nil {
		influxSink = newInfluxSink(influxClient)
		sinks = append(sinks, influxSink)
	}

	// Session manager: owns the port and the flash/monitor state machine
	sessions := flasher.NewSessionManager(flasher.Config{
		Platform:           cfg.Flasher.Platform,
		DefaultBaud:        cfg.Flasher.DefaultBaud,
		FallbackBaud:       cfg.Flasher.FallbackBaud,
		MaxConnectAttempts: cfg.Flasher.MaxConnectAttempts,
		FallbackWindow:     cfg.GetFallbackWindow(),
		MonitorBaud:        cfg.Flasher.MonitorBaud,
	}, flasher.Deps{
		Opener: portOpener{opts: serialport.Options{
			ClosePollInterval: cfg.GetClosePollInterval(),
			ClosePollAttempts: cfg.Serial.ClosePollAttempts,
		}},
		Dialer: esptool.NewDialer(esptool.Options{
			Binary: cfg.Flasher.EsptoolPath,
			Logger: log,
		}),
		Watcher:   watcher,
		Registrar: finalizer,
		Recorder:  recorder,
		Events:    sinks,
		Logger:    log,
	})
	defer func() {
		log.Info("closing session manager")
		if closeErr := sessions.Close(); closeErr != nil {
			log.Error("error closing session manager", "error", closeErr)
		}
	}()
	if influxSink != nil {
		influxSink.SetSessions(sessions)
	}

	// Start the API server
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log,
		Sessions: sessions,
		Compiler: compileClient,
		Ports:    watcher,
		History:  historyRepo,
		Hub:      hub,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server
	// 2. Session manager (aborts any active flash/monitor)
	// 3. Port watcher
	// 4. InfluxDB (if enabled)
	// 5. MQTT (if enabled)
	// 6. Database

	log.Info("SensorFlash Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SENSORFLASH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SENSORFLASH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// portOpener adapts the serialport package to the flasher's PortOpener
// interface, carrying the close-poll budget from configuration.
type portOpener struct {
	opts serialport.Options
}

// OpenPort implements flasher.PortOpener.
func (o portOpener) OpenPort(path string, baud int) (flasher.SerialPort, error) {
	return serialport.Open(path, baud, o.opts)
}
