// sqlitehelper opens a SQLite database, brings its schema up to date with
// numbered migrations and optionally serves a small status API.
//
// Migration steps can be announced over MQTT and recorded in InfluxDB.
// With the API disabled the process exits once migrations are applied.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/sqlitehelper/internal/api"
	"github.com/nerrad567/sqlitehelper/internal/infrastructure/config"
	"github.com/nerrad567/sqlitehelper/internal/infrastructure/database"
	"github.com/nerrad567/sqlitehelper/internal/infrastructure/influxdb"
	"github.com/nerrad567/sqlitehelper/internal/infrastructure/logging"
	"github.com/nerrad567/sqlitehelper/internal/infrastructure/mqtt"
	"github.com/nerrad567/sqlitehelper/internal/migration"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
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
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting sqlitehelper",
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

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	dbName := cfg.Database.Path
	if cfg.Database.Memory {
		dbName = database.MemoryName
	}

	migrateOpts, err := migrateOptions(cfg.Migrate)
	if err != nil {
		return err
	}

	var resultHooks []api.ResultHook

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
		mqttClient.SetLogger(log)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		pub := mqtt.NewPublisher(mqttClient, dbName, log)
		migrateOpts.Observers = append(migrateOpts.Observers, pub)
		resultHooks = append(resultHooks, func(result *migration.Result, err error) {
			if pubErr := pub.PublishResult(result, err); pubErr != nil {
				log.Warn("publishing migration result", "error", pubErr)
			}
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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

		rec := influxdb.NewRecorder(influxClient, dbName)
		migrateOpts.Observers = append(migrateOpts.Observers, rec)
		resultHooks = append(resultHooks, rec.RecordResult)
	} else {
		log.Info("InfluxDB disabled")
	}

	onRun := func(result *migration.Result, err error) {
		for _, hook := range resultHooks {
			hook(result, err)
		}
	}

	db, err := database.Open(ctx, database.Config{
		Path:          cfg.Database.Path,
		Memory:        cfg.Database.Memory,
		Readonly:      cfg.Database.Readonly,
		FileMustExist: cfg.Database.FileMustExist,
		WALMode:       cfg.Database.WALMode,
		BusyTimeout:   cfg.Database.BusyTimeout,
		Logger:        log,
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
	log.Info("database connected", "name", db.Name(), "readonly", db.Readonly())

	if cfg.Migrate.Enabled {
		result, migrateErr := db.Migrate(ctx, migrateOpts)
		onRun(result, migrateErr)
		if migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete",
			"version", result.Version,
			"applied", len(result.Applied),
			"reapplied", result.Reapplied,
		)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	if !cfg.API.Enabled {
		return nil
	}

	server, err := api.New(api.Deps{
		Config:  cfg.API,
		Logger:  log,
		DB:      db,
		Migrate: migrateOpts,
		OnRun:   onRun,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("API health check failed: %w", err)
	}
	log.Info("API server listening", "address", server.Addr())

	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

// getConfigPath returns the configuration file path.
// The SQLITEHELPER_CONFIG environment variable overrides the default.
func getConfigPath() string {
	if path := os.Getenv("SQLITEHELPER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// migrateOptions maps the migrate section of the configuration onto
// database.MigrateOptions.
func migrateOptions(cfg config.MigrateConfig) (database.MigrateOptions, error) {
	force, err := migration.ParseForce(cfg.Force)
	if err != nil {
		return database.MigrateOptions{}, fmt.Errorf("migrate.force: %w", err)
	}
	return database.MigrateOptions{
		MigrationsPath: cfg.MigrationsPath,
		Migrations:     cfg.Migrations,
		Table:          cfg.Table,
		Force:          force,
	}, nil
}

// healthCheck verifies all infrastructure connections are healthy.
// Disabled integrations are passed as nil and skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	var errs []error

	if err := db.HealthCheck(ctx); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("influxdb: %w", err))
		}
	}

	return errors.Join(errs...)
}
