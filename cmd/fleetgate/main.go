// Fleetgate - Device Fleet Gateway
//
// This is the main entry point for the Fleetgate application. Fleetgate
// bridges a fleet of field devices to operators:
//   - Devices connect over WebSocket, authenticate, and stream telemetry
//   - Operators inspect the fleet and dispatch commands over a REST API
//   - Telemetry optionally fans out to MQTT and InfluxDB for dashboards
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/avolant/fleetgate/migrations"

	"github.com/avolant/fleetgate/internal/api"
	"github.com/avolant/fleetgate/internal/auth"
	"github.com/avolant/fleetgate/internal/device"
	"github.com/avolant/fleetgate/internal/gateway"
	"github.com/avolant/fleetgate/internal/infrastructure/config"
	"github.com/avolant/fleetgate/internal/infrastructure/database"
	"github.com/avolant/fleetgate/internal/infrastructure/influxdb"
	"github.com/avolant/fleetgate/internal/infrastructure/logging"
	"github.com/avolant/fleetgate/internal/infrastructure/mqtt"
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
	log.Info("starting Fleetgate",
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

	// Open database and run migrations
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Load the provisioned fleet into the registry
	deviceRepo := device.NewSQLiteRepository(db.DB)
	registry := device.NewRegistry(deviceRepo)
	registry.SetLogger(log)
	if loadErr := registry.LoadInventory(ctx); loadErr != nil {
		return fmt.Errorf("loading device inventory: %w", loadErr)
	}
	log.Info("device inventory loaded", "devices", len(registry.ListStatuses()))

	// Operator accounts; seed an admin on first run
	operatorRepo := auth.NewOperatorRepository(db.DB)
	if _, err := auth.SeedAdmin(ctx, operatorRepo, log.Logger); err != nil {
		return fmt.Errorf("seeding admin operator: %w", err)
	}

	// Connect to MQTT broker (optional telemetry export)
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

	// Connect to InfluxDB (optional time-series export)
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

	// Fan registry events out to the export backends
	wireExports(registry, mqttClient, influxClient, log)

	// Device-facing WebSocket gateway
	gatewayServer, err := gateway.New(gateway.Deps{
		Config:   cfg.Gateway,
		Logger:   log,
		Registry: registry,
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	if startErr := gatewayServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting gateway: %w", startErr)
	}
	defer func() {
		log.Info("stopping gateway")
		if closeErr := gatewayServer.Close(); closeErr != nil {
			log.Error("error closing gateway", "error", closeErr)
		}
	}()

	dispatcher := gateway.NewDispatcher(registry, cfg.Gateway.GetDispatchTimeout(), log)

	// Operator-facing REST API
	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		Security:   cfg.Security,
		Logger:     log,
		Registry:   registry,
		Dispatcher: dispatcher,
		Operators:  operatorRepo,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating api server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting api server: %w", startErr)
	}
	defer func() {
		log.Info("stopping api server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing api server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, gatewayServer, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (stop accepting operator requests)
	// 2. Gateway (close device sessions)
	// 3. InfluxDB / MQTT (flush exports)
	// 4. Database

	log.Info("Fleetgate stopped")
	return nil
}

// wireExports connects registry callbacks to the optional export backends.
// Either client may be nil; callbacks are only registered for what exists.
func wireExports(registry *device.Registry, mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) {
	if mqttClient == nil && influxClient == nil {
		return
	}

	topics := mqtt.Topics{}

	registry.SetOnConnectivity(func(name string, online bool) {
		if mqttClient != nil {
			connectivity := "offline"
			if online {
				connectivity = "online"
			}
			payload, err := json.Marshal(map[string]any{
				"device":       name,
				"connectivity": connectivity,
				"timestamp":    time.Now().UTC().Format(time.RFC3339),
			})
			if err == nil {
				if pubErr := mqttClient.PublishRetained(topics.DeviceStatus(name), payload); pubErr != nil {
					log.Warn("publishing device status failed", "device", name, "error", pubErr)
				}
			}
		}
		if influxClient != nil {
			influxClient.WriteConnectivity(name, online)
		}
	})

	registry.SetOnTelemetry(func(name string, snap device.Snapshot, at time.Time) {
		if mqttClient != nil {
			payload, err := json.Marshal(map[string]any{
				"device":      name,
				"telemetry":   snap,
				"received_at": at.Format(time.RFC3339),
			})
			if err == nil {
				if pubErr := mqttClient.PublishEvent(topics.DeviceTelemetry(name), payload); pubErr != nil {
					log.Warn("publishing telemetry failed", "device", name, "error", pubErr)
				}
			}
		}
		if influxClient != nil {
			for field, value := range snap {
				if v, ok := value.(float64); ok {
					influxClient.WriteTelemetryField(name, field, v)
				}
			}
		}
	})
}

// getConfigPath returns the configuration file path.
// Uses FLEETGATE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FLEETGATE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// The MQTT and InfluxDB clients may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, gatewayServer *gateway.Server, apiServer *api.Server) error {
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

	if err := gatewayServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}
