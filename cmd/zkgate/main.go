// ZKGate Core - Biometric Terminal Gateway
//
// This is the main entry point for the ZKGate Core application.
// ZKGate fronts ZK-compatible attendance and access terminals with a
// modern service surface:
//   - REST API for user, attendance, and terminal management
//   - WebSocket streaming of realtime punch events
//   - Optional MQTT mirror and InfluxDB telemetry for integrations
//
// For configuration details, see: configs/config.yaml
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/zkgate/zkgate-core/migrations"

	"github.com/zkgate/zkgate-core/internal/api"
	"github.com/zkgate/zkgate-core/internal/events"
	"github.com/zkgate/zkgate-core/internal/infrastructure/config"
	"github.com/zkgate/zkgate-core/internal/infrastructure/database"
	"github.com/zkgate/zkgate-core/internal/infrastructure/influxdb"
	"github.com/zkgate/zkgate-core/internal/infrastructure/logging"
	"github.com/zkgate/zkgate-core/internal/infrastructure/mqtt"
	"github.com/zkgate/zkgate-core/internal/zk"
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
	// This is the Go pattern for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run the application
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
	log.Info("starting ZKGate Core",
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

	// Event fan-out: the router feeds WebSocket subscribers, the
	// dispatcher decouples terminal receive loops from delivery.
	router := events.NewRouter(log)
	dispatcher := events.NewDispatcher(router, cfg.Device.EventQueueSize, log)

	// Open the event recorder database (optional)
	var recorder *events.Recorder
	if cfg.Recorder.Enabled {
		db, dbErr := database.Open(database.Config{
			Path:        cfg.Recorder.Path,
			WALMode:     cfg.Recorder.WALMode,
			BusyTimeout: cfg.Recorder.BusyTimeout,
		})
		if dbErr != nil {
			return fmt.Errorf("opening recorder database: %w", dbErr)
		}
		defer func() {
			log.Info("closing recorder database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing recorder database", "error", closeErr)
			}
		}()
		log.Info("recorder database connected", "path", cfg.Recorder.Path)

		// Run migrations
		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("recorder migrations complete")

		recorder = events.NewRecorder(db)
		recorder.SetLogger(log)
		if startErr := recorder.Start(); startErr != nil {
			return fmt.Errorf("starting event recorder: %w", startErr)
		}
		defer func() {
			log.Info("stopping event recorder")
			recorder.Stop()
		}()
		dispatcher.AddSink(recorder)
	} else {
		log.Info("event recorder disabled")
	}

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

		// Set up MQTT logging callbacks
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		// Mirror every punch event onto the broker
		dispatcher.AddSink(mqttEventSink(mqttClient, log))
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

		// Set up InfluxDB error callback
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		// Record punch events as time-series points
		influxSink := influxClient
		dispatcher.AddSink(events.SinkFunc(func(ev zk.RealtimeEvent) {
			influxSink.WritePunchEvent(ev)
		}))
	} else {
		log.Info("InfluxDB disabled")
	}

	dispatcher.Start()
	defer func() {
		log.Info("stopping event dispatcher")
		dispatcher.Stop()
	}()

	// Start the HTTP API server
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Device:     cfg.Device,
		Logger:     log,
		NewSession: sessionFactory(cfg, log),
		Events:     router,
		Dispatcher: dispatcher,
		Recorder:   recorder,
		TSDB:       influxClient,
		MQTT:       mqttClient,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server listening",
		"host", cfg.API.Host,
		"port", cfg.API.Port,
		"tls", cfg.API.TLS.Enabled,
	)

	// Verify all connections are healthy
	if err := healthCheck(ctx, server, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Announce availability for MQTT consumers
	if mqttClient != nil {
		if pubErr := mqttClient.PublishRetained(mqtt.Topics{}.SystemStatus(), []byte(`{"status":"online"}`)); pubErr != nil {
			log.Warn("failed to publish system status", "error", pubErr)
		}
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Announce shutdown before the deferred teardown disconnects MQTT
	if mqttClient != nil {
		if pubErr := mqttClient.PublishRetained(mqtt.Topics{}.SystemStatus(), []byte(`{"status":"offline"}`)); pubErr != nil {
			log.Warn("failed to publish shutdown status", "error", pubErr)
		}
	}

	// Deferred Close() calls will run in reverse order:
	// 1. API server (disconnects all terminal sessions)
	// 2. Dispatcher
	// 3. InfluxDB (if enabled)
	// 4. MQTT (if enabled)
	// 5. Recorder and its database (if enabled)

	log.Info("ZKGate Core stopped")
	return nil
}

// sessionFactory builds per-terminal sessions from device configuration.
// Each connected terminal gets its own Session; the API's session pool
// owns their lifecycles.
func sessionFactory(cfg *config.Config, log *logging.Logger) api.SessionFactory {
	loc, err := time.LoadLocation(cfg.Site.Timezone)
	if err != nil {
		log.Warn("invalid site timezone, falling back to UTC", "timezone", cfg.Site.Timezone)
		loc = time.UTC
	}

	return func(addr zk.DeviceAddress) *zk.Session {
		return zk.NewSession(zk.Options{
			Link: zk.LinkOptions{
				ConnectTimeout: time.Duration(cfg.Device.ConnectTimeout) * time.Second,
				ReadTimeout:    time.Duration(cfg.Device.ReadTimeout) * time.Second,
				WriteTimeout:   time.Duration(cfg.Device.WriteTimeout) * time.Second,
				EventQueueSize: cfg.Device.EventQueueSize,
			},
			Location:   loc,
			MaxRecords: cfg.Device.MaxRecords,
			Logger:     log.With("component", "zk", "device", addr.String()),
		})
	}
}

// mqttEventSink publishes each realtime event to the terminal's event
// topic. Publish failures are logged and dropped; MQTT is a mirror, not
// the delivery path.
func mqttEventSink(client *mqtt.Client, log *logging.Logger) events.SinkFunc {
	return func(ev zk.RealtimeEvent) {
		payload, err := json.Marshal(ev)
		if err != nil {
			log.Error("failed to encode event for MQTT", "error", err)
			return
		}
		topic := mqtt.Topics{}.TerminalEvent(ev.Device)
		if pubErr := client.Publish(topic, payload, 0, false); pubErr != nil {
			log.Warn("failed to publish event", "topic", topic, "error", pubErr)
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses ZKGATE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ZKGATE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - server: API server to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, server *api.Server, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	// Check the API listener
	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	// Check MQTT (if enabled)
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	// Check InfluxDB (if enabled)
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
