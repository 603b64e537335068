package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeTempConfig writes a config file and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

const validConfig = `
mqtt:
  broker:
    host: "broker.local"
    port: 1883
    client_id: "mavgate-test"
  qos: 1
transports:
  udp:
    - name: "gcs"
      host: "0.0.0.0"
      port: 14550
    - name: "sim"
      host: "0.0.0.0"
      port: 14560
  serial:
    - name: "radio"
      device: "/dev/ttyUSB0"
      baud: 57600
router:
  dedup_ttl_ms: 250
gcs:
  system_id: 250
  component_id: 1
`

func TestLoad_Valid(t *testing.T) {
	path := writeTempConfig(t, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("mqtt host = %q, want broker.local", cfg.MQTT.Broker.Host)
	}
	if len(cfg.Transports.UDP) != 2 {
		t.Fatalf("udp transports = %d, want 2", len(cfg.Transports.UDP))
	}
	if cfg.Transports.UDP[0].Name != "gcs" {
		t.Errorf("udp[0].name = %q, want gcs", cfg.Transports.UDP[0].Name)
	}
	if len(cfg.Transports.Serial) != 1 {
		t.Fatalf("serial transports = %d, want 1", len(cfg.Transports.Serial))
	}
	if cfg.Router.DedupTTL() != 250*time.Millisecond {
		t.Errorf("dedup ttl = %v, want 250ms", cfg.Router.DedupTTL())
	}
	// Defaults survive partial files.
	if cfg.Router.InboundQueueSize != 1024 {
		t.Errorf("inbound queue size = %d, want default 1024", cfg.Router.InboundQueueSize)
	}
	if cfg.GCS.SystemID != 250 {
		t.Errorf("gcs system id = %d, want 250", cfg.GCS.SystemID)
	}
	if cfg.Mission.Retries != 3 {
		t.Errorf("mission retries = %d, want default 3", cfg.Mission.Retries)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "mqtt: [broken")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeTempConfig(t, validConfig)

	t.Setenv("MAVGATE_MQTT_HOST", "override.local")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MQTT.Broker.Host != "override.local" {
		t.Errorf("mqtt host = %q, want override.local", cfg.MQTT.Broker.Host)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Transports.UDP = []UDPTransportConfig{{Name: "gcs", Host: "0.0.0.0", Port: 14550}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "no transports",
			mutate:  func(c *Config) { c.Transports.UDP = nil },
			wantErr: "at least one transport",
		},
		{
			name: "duplicate transport name",
			mutate: func(c *Config) {
				c.Transports.Serial = []SerialTransportConfig{{Name: "gcs", Device: "/dev/ttyS0", Baud: 57600}}
			},
			wantErr: "not unique",
		},
		{
			name:    "bad udp port",
			mutate:  func(c *Config) { c.Transports.UDP[0].Port = 0 },
			wantErr: "port must be between",
		},
		{
			name: "serial without device",
			mutate: func(c *Config) {
				c.Transports.Serial = []SerialTransportConfig{{Name: "radio", Baud: 57600}}
			},
			wantErr: "device is required",
		},
		{
			name:    "bad qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "qos must be",
		},
		{
			name:    "gcs sysid outside reserved range",
			mutate:  func(c *Config) { c.GCS.SystemID = 1 },
			wantErr: "reserved range",
		},
		{
			name:    "zero dedup ttl",
			mutate:  func(c *Config) { c.Router.DedupTTLMs = 0 },
			wantErr: "dedup_ttl_ms",
		},
		{
			name:    "influx enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.Token = "tok" },
			wantErr: "influxdb.url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
