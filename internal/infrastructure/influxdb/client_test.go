package influxdb

import (
	"errors"
	"testing"

	"github.com/mavgate/mavgate/internal/infrastructure/config"
)

func TestConnect_Disabled(t *testing.T) {
	cfg := config.InfluxDBConfig{Enabled: false}

	_, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect with disabled config = %v, want ErrDisabled", err)
	}
}

func TestWrite_NoOpWhenDisconnected(t *testing.T) {
	// A zero-value client reports disconnected; every writer must be a
	// safe no-op rather than a nil pointer dereference.
	c := &Client{}

	if c.IsConnected() {
		t.Fatal("zero-value client should not report connected")
	}

	c.WriteLinkStats("gcs", 1, 2, 3, 4)
	c.WriteMessageRate(1, "HEARTBEAT", 10)
	c.WriteMissionEvent(1, "upload", "DONE", 5)
	c.WritePoint("custom", nil, map[string]interface{}{"v": 1})
	c.Flush()
}
