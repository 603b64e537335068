package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for MAVGate.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Transports TransportsConfig `yaml:"transports"`
	Router     RouterConfig     `yaml:"router"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	GCS        GCSConfig        `yaml:"gcs"`
	Mission    MissionConfig    `yaml:"mission"`
	Database   DatabaseConfig   `yaml:"database"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// TransportsConfig lists the MAVLink endpoints the router bridges together.
type TransportsConfig struct {
	UDP    []UDPTransportConfig    `yaml:"udp"`
	Serial []SerialTransportConfig `yaml:"serial"`
}

// UDPTransportConfig describes one UDP listener endpoint.
type UDPTransportConfig struct {
	// Name identifies the transport in topics, logs and status reports.
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SerialTransportConfig describes one serial device endpoint.
// Serial transports may be stopped and reconfigured at runtime.
type SerialTransportConfig struct {
	Name   string `yaml:"name"`
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

// RouterConfig contains packet router tuning.
type RouterConfig struct {
	// DedupTTLMs is the retention window of the dedup cache in milliseconds.
	// Within this window at most one forward per packet identity is emitted
	// to each destination transport.
	DedupTTLMs int `yaml:"dedup_ttl_ms"`

	// InboundQueueSize bounds the shared inbound channel. Overflow drops the
	// oldest packet and increments a counter.
	InboundQueueSize int `yaml:"inbound_queue_size"`

	// PublishQueueSize bounds the tap feeding the MQTT publisher.
	PublishQueueSize int `yaml:"publish_queue_size"`
}

// DedupTTL returns the dedup retention window as a duration.
func (r RouterConfig) DedupTTL() time.Duration {
	return time.Duration(r.DedupTTLMs) * time.Millisecond
}

// BridgeConfig contains protocol bridge settings.
type BridgeConfig struct {
	// PublishFields enables per-field sub-topics under the device topic.
	// Off by default: it multiplies publish volume by the field count of
	// each message type.
	PublishFields bool `yaml:"publish_fields"`

	// StatusInterval is the bridge status heartbeat period in seconds.
	StatusInterval int `yaml:"status_interval"`
}

// GCSConfig contains the fixed ground-control identity used for generated
// heartbeats and as the implied destination of untargeted traffic.
type GCSConfig struct {
	SystemID    uint8 `yaml:"system_id"`
	ComponentID uint8 `yaml:"component_id"`

	// HeartbeatInterval is the heartbeat period in seconds.
	HeartbeatInterval int `yaml:"heartbeat_interval"`

	// HeartbeatDebug logs tick cadence diagnostics.
	HeartbeatDebug bool `yaml:"heartbeat_debug"`
}

// MissionConfig contains mission session manager settings.
type MissionConfig struct {
	// Timeout is the per-step deadline in seconds.
	Timeout int `yaml:"timeout"`

	// Retries is the number of retransmissions before a session fails.
	Retries int `yaml:"retries"`
}

// DatabaseConfig contains SQLite mission log settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains the optional link-statistics recorder settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MAVGATE_SECTION_KEY
// For example: MAVGATE_MQTT_HOST, MAVGATE_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "mavgate",
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Router: RouterConfig{
			DedupTTLMs:       200,
			InboundQueueSize: 1024,
			PublishQueueSize: 1024,
		},
		Bridge: BridgeConfig{
			PublishFields:  false,
			StatusInterval: 2,
		},
		GCS: GCSConfig{
			SystemID:          250,
			ComponentID:       1,
			HeartbeatInterval: 1,
		},
		Mission: MissionConfig{
			Timeout: 5,
			Retries: 3,
		},
		Database: DatabaseConfig{
			Path:        "./data/mavgate.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MAVGATE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("MAVGATE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MAVGATE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MAVGATE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("MAVGATE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("MAVGATE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port <= 0 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Transport validation
	if len(c.Transports.UDP) == 0 && len(c.Transports.Serial) == 0 {
		errs = append(errs, "at least one transport (udp or serial) is required")
	}
	seen := map[string]bool{}
	for i, t := range c.Transports.UDP {
		if t.Name == "" {
			errs = append(errs, fmt.Sprintf("transports.udp[%d].name is required", i))
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Sprintf("transport name %q is not unique", t.Name))
		}
		seen[t.Name] = true
		if t.Port <= 0 || t.Port > 65535 {
			errs = append(errs, fmt.Sprintf("transports.udp[%d].port must be between 1 and 65535", i))
		}
	}
	for i, t := range c.Transports.Serial {
		if t.Name == "" {
			errs = append(errs, fmt.Sprintf("transports.serial[%d].name is required", i))
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Sprintf("transport name %q is not unique", t.Name))
		}
		seen[t.Name] = true
		if t.Device == "" {
			errs = append(errs, fmt.Sprintf("transports.serial[%d].device is required", i))
		}
		if t.Baud <= 0 {
			errs = append(errs, fmt.Sprintf("transports.serial[%d].baud must be positive", i))
		}
	}

	// Router validation
	if c.Router.DedupTTLMs <= 0 {
		errs = append(errs, "router.dedup_ttl_ms must be positive")
	}
	if c.Router.InboundQueueSize <= 0 {
		errs = append(errs, "router.inbound_queue_size must be positive")
	}
	if c.Router.PublishQueueSize <= 0 {
		errs = append(errs, "router.publish_queue_size must be positive")
	}

	// GCS identity validation: the reserved ground-control sysid range is
	// 250-255 and the identity is fixed for the process lifetime.
	if c.GCS.SystemID < 250 {
		errs = append(errs, "gcs.system_id must be in the reserved range 250-255")
	}
	if c.GCS.HeartbeatInterval <= 0 {
		errs = append(errs, "gcs.heartbeat_interval must be positive")
	}

	// Mission validation
	if c.Mission.Timeout <= 0 {
		errs = append(errs, "mission.timeout must be positive")
	}
	if c.Mission.Retries < 0 {
		errs = append(errs, "mission.retries must not be negative")
	}

	// InfluxDB validation (only when enabled)
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
