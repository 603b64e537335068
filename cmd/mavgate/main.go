// MAVGate - MAVLink to MQTT bridge
//
// MAVGate bridges MAVLink vehicle links (UDP sockets and serial devices)
// onto an MQTT broker. Every decoded message is published under a
// device-centric topic scheme and a per-link diagnostics scheme, commands
// and mission transfers are accepted back over MQTT, and frames are routed
// between all configured links with duplicate suppression.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mavgate/mavgate/internal/bridges/mavlink"
	"github.com/mavgate/mavgate/internal/infrastructure/config"
	"github.com/mavgate/mavgate/internal/infrastructure/database"
	"github.com/mavgate/mavgate/internal/infrastructure/influxdb"
	"github.com/mavgate/mavgate/internal/infrastructure/logging"
	"github.com/mavgate/mavgate/internal/infrastructure/mqtt"
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
	log.Info("starting MAVGate",
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

	// Open the mission log database
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

	missionLog, err := mavlink.NewMissionLog(db)
	if err != nil {
		return fmt.Errorf("initialising mission log: %w", err)
	}

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

	// Verify infrastructure connections before starting the bridge
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	bridge := mavlink.New(cfg, mqttClient, missionLog, influxClient, version, log)

	// SIGHUP reloads the config file and applies serial transport changes
	// without restarting the process. Everything else requires a restart.
	go watchReload(ctx, configPath, cfg, bridge, log)

	log.Info("initialisation complete, starting bridge")

	if err := bridge.Run(ctx); err != nil {
		return fmt.Errorf("running bridge: %w", err)
	}

	log.Info("MAVGate stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MAVGATE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MAVGATE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// watchReload applies serial transport changes on SIGHUP.
//
// The config file is re-read and every serial transport whose device or
// baud rate changed is stopped and restarted with the new settings. Adding
// or removing transports still requires a restart.
func watchReload(ctx context.Context, configPath string, current *config.Config, bridge *mavlink.Bridge, log *logging.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	serials := make(map[string]config.SerialTransportConfig, len(current.Transports.Serial))
	for _, sc := range current.Transports.Serial {
		serials[sc.Name] = sc
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		log.Info("SIGHUP received, reloading configuration", "path", configPath)

		next, err := config.Load(configPath)
		if err != nil {
			log.Error("config reload failed, keeping current settings", "error", err)
			continue
		}

		for _, sc := range next.Transports.Serial {
			prev, known := serials[sc.Name]
			if !known {
				log.Warn("new serial transport in config requires restart", "name", sc.Name)
				continue
			}
			if prev.Device == sc.Device && prev.Baud == sc.Baud {
				continue
			}

			if err := bridge.ReconfigureSerial(sc.Name, sc.Device, sc.Baud); err != nil {
				log.Error("serial reconfigure failed",
					"name", sc.Name, "device", sc.Device, "error", err)
				continue
			}

			serials[sc.Name] = sc
			log.Info("serial transport reconfigured",
				"name", sc.Name, "device", sc.Device, "baud", sc.Baud)
		}
	}
}
