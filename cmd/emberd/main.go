// Ember Core - Smart Home Automation Hub
//
// This is the main entry point for the Ember Core daemon. Ember is a
// local-first smart home hub designed for:
//   - Offline-first operation (automations run without internet)
//   - Open protocols (MQTT bridges for Zigbee, Z-Wave, WiFi devices)
//   - Zero vendor lock-in
//
// For architecture details, see: docs/architecture/system-overview.md
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/emberhome/ember-core/migrations"

	"github.com/emberhome/ember-core/internal/api"
	"github.com/emberhome/ember-core/internal/automation"
	"github.com/emberhome/ember-core/internal/device"
	"github.com/emberhome/ember-core/internal/events"
	"github.com/emberhome/ember-core/internal/infrastructure/config"
	"github.com/emberhome/ember-core/internal/infrastructure/database"
	"github.com/emberhome/ember-core/internal/infrastructure/influxdb"
	"github.com/emberhome/ember-core/internal/infrastructure/logging"
	"github.com/emberhome/ember-core/internal/infrastructure/mqtt"
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
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Ember Core",
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise device registry
	deviceRepo := device.NewSQLiteRepository(db.DB)
	deviceRegistry := device.NewRegistry(deviceRepo)
	deviceRegistry.SetLogger(log)

	if refreshErr := deviceRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", deviceRegistry.GetDeviceCount())

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
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

	// Device command dispatch via MQTT bridge command topics
	commander := device.NewCommander(
		deviceRegistry,
		mqttClient,
		mqtt.Topics{}.BridgeCommand,
		byte(cfg.MQTT.QoS),
	)

	// Event log and automation rule store
	eventRepo := events.NewSQLiteRepository(db.DB)
	ruleRepo := automation.NewSQLiteRepository(db.DB)

	// WebSocket hub, shared between the automation engine and the API
	// server so both broadcast to the same set of clients
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	// Automation engine
	engine := automation.NewEngine(
		ruleRepo,
		automation.Deps{
			Devices:    deviceRegistry,
			Commander:  commander,
			Notifier:   &eventLogNotifier{events: eventRepo, hub: hub, log: log},
			HTTPClient: &http.Client{Timeout: cfg.GetWebhookTimeout()},
			Latitude:   cfg.Site.Location.Latitude,
			Longitude:  cfg.Site.Location.Longitude,
			Logger:     log,
		},
		&eventLogSink{events: eventRepo},
		hub,
		newEngineMetrics(influxClient),
		automation.Config{
			CheckInterval: cfg.GetCheckInterval(),
			QueueSize:     cfg.Automation.EventQueueSize,
		},
	)
	if startErr := engine.Start(ctx); startErr != nil {
		return fmt.Errorf("starting automation engine: %w", startErr)
	}
	defer func() {
		log.Info("stopping automation engine")
		engine.Stop()
	}()
	log.Info("automation engine started",
		"rules", len(engine.GetRules()),
		"check_interval", cfg.GetCheckInterval(),
	)

	// HTTP API server
	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log,
		Registry:    deviceRegistry,
		Commander:   commander,
		Engine:      engine,
		RuleRepo:    ruleRepo,
		Events:      eventRepo,
		MQTT:        mqttClient,
		ExternalHub: hub,
		Version:     version,
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
	log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Automation engine
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database

	log.Info("Ember Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses EMBER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("EMBER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheckTimeout bounds the startup health check.
const healthCheckTimeout = 10 * time.Second

// healthCheck verifies all infrastructure connections are healthy.
// The InfluxDB client may be nil when metrics are disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := db.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(checkCtx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// eventLogSink adapts the events repository to the engine's EventSink
// interface.
type eventLogSink struct {
	events events.Repository
}

func (s *eventLogSink) LogEvent(ctx context.Context, eventType, source, deviceID string, data map[string]any) error {
	return s.events.Create(ctx, &events.Event{
		Type:     eventType,
		Source:   source,
		DeviceID: deviceID,
		Data:     data,
	})
}

// eventLogNotifier records notifications raised by notification actions
// in the event log and relays them to WebSocket clients. External
// delivery channels (push, email) subscribe over the WebSocket or poll
// the event log.
type eventLogNotifier struct {
	events events.Repository
	hub    *api.Hub
	log    *logging.Logger
}

func (n *eventLogNotifier) Notify(ctx context.Context, title, message string, data map[string]any) {
	payload := map[string]any{
		"title":   title,
		"message": message,
	}
	for k, v := range data {
		payload[k] = v
	}

	if err := n.events.Create(ctx, &events.Event{
		Type:   events.TypeNotificationSent,
		Source: "automation",
		Data:   payload,
	}); err != nil {
		n.log.Warn("failed to record notification", "title", title, "error", err)
	}

	n.hub.Broadcast(api.ChannelNotification, payload)
}

// engineMetrics adapts the InfluxDB client to the engine's Metrics
// interface. A nil client degrades to no-ops so the engine never has
// to care whether metrics are enabled.
type engineMetrics struct {
	influx *influxdb.Client
}

func newEngineMetrics(influx *influxdb.Client) *engineMetrics {
	return &engineMetrics{influx: influx}
}

func (m *engineMetrics) RuleExecution(ruleID, triggerType string, success bool, duration time.Duration) {
	if m.influx == nil {
		return
	}
	m.influx.WriteRuleExecution(ruleID, triggerType, success, duration)
}

func (m *engineMetrics) EngineTick(rulesChecked, rulesFired int, duration time.Duration) {
	if m.influx == nil {
		return
	}
	m.influx.WriteEngineTick(rulesChecked, rulesFired, duration)
}
