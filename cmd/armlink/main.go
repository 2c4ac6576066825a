// Armlink - robot arm peripherals daemon
//
// Armlink owns the rig's cameras and gripper actuators: it decodes
// camera streams through ffmpeg, speaks the gripper's JSON-lines
// register protocol over TCP, and publishes observations over MQTT
// while journalling device lifecycle events to SQLite.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/wooshrobot/armlink/migrations"

	"github.com/wooshrobot/armlink/internal/infrastructure/config"
	"github.com/wooshrobot/armlink/internal/infrastructure/database"
	"github.com/wooshrobot/armlink/internal/infrastructure/logging"
	"github.com/wooshrobot/armlink/internal/infrastructure/metrics"
	"github.com/wooshrobot/armlink/internal/infrastructure/mqtt"
	"github.com/wooshrobot/armlink/internal/journal"
	"github.com/wooshrobot/armlink/internal/rig"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting armlink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

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

	// Open the event journal database
	db, err := database.Open(database.Config{
		Path:        cfg.Journal.Path,
		WALMode:     cfg.Journal.WALMode,
		BusyTimeout: cfg.Journal.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening journal database: %w", err)
	}
	defer func() {
		log.Info("closing journal database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing journal database", "error", closeErr)
		}
	}()
	log.Info("journal database connected", "path", cfg.Journal.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	recorder := journal.NewSQLiteRecorder(db.DB)

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

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to the metrics sink (optional)
	var sink metrics.Sink = metrics.Noop{}
	if cfg.Metrics.Enabled {
		influx, err := metrics.Connect(cfg.Metrics)
		if err != nil {
			return fmt.Errorf("connecting metrics sink: %w", err)
		}
		influx.SetOnError(func(err error) {
			log.Error("metrics write error", "error", err)
		})
		defer func() {
			log.Info("closing metrics sink")
			influx.Close()
		}()
		sink = influx
		log.Info("metrics sink connected",
			"url", cfg.Metrics.URL,
			"org", cfg.Metrics.Org,
			"bucket", cfg.Metrics.Bucket,
		)
	} else {
		log.Info("metrics disabled")
	}

	// Assemble and start the rig
	r := rig.New(cfg, log, rig.Deps{
		MQTT:    mqttClient,
		Metrics: sink,
		Journal: recorder,
	})

	if err := r.Start(ctx); err != nil {
		r.Close()
		return fmt.Errorf("starting rig: %w", err)
	}
	defer r.Close()

	if err := healthCheck(ctx, db, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, sampling")

	// Run blocks until the shutdown signal cancels ctx
	if err := r.Run(ctx); err != nil {
		return fmt.Errorf("sampling loop: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Rig (devices)
	// 2. Metrics sink (if enabled)
	// 3. MQTT (if enabled)
	// 4. Journal database

	log.Info("armlink stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses ARMLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ARMLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Journal database to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	return nil
}
