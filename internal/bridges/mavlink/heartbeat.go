package mavlink

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/mavgate/mavgate/internal/infrastructure/config"
	"github.com/mavgate/mavgate/internal/infrastructure/logging"
)

// heartbeatSender is the router surface the generator needs.
type heartbeatSender interface {
	broadcast(msg message.Message) error
}

// heartbeatGenerator announces the bridge's ground-control identity at a
// fixed 1 Hz cadence on every transport, independent of traffic volume.
// Vehicles use the GCS heartbeat to detect link loss, so the generator runs
// on its own goroutine and is never starved by router load.
type heartbeatGenerator struct {
	sender heartbeatSender
	cfg    config.GCSConfig
	log    *logging.Logger

	// every is the tick period, fixed from config at construction.
	every time.Duration

	beats atomic.Uint64
}

func newHeartbeatGenerator(sender heartbeatSender, cfg config.GCSConfig, log *logging.Logger) *heartbeatGenerator {
	h := &heartbeatGenerator{
		sender: sender,
		cfg:    cfg,
		log:    log.With("component", "heartbeat"),
	}
	h.every = h.interval()
	return h
}

// message builds the HEARTBEAT announcing a ground control station. The
// identity fields are fixed; the GCS sysid is reserved and never reassigned.
func (h *heartbeatGenerator) message() *common.MessageHeartbeat {
	return &common.MessageHeartbeat{
		Type:           common.MAV_TYPE_GCS,
		Autopilot:      common.MAV_AUTOPILOT_INVALID,
		BaseMode:       0,
		CustomMode:     0,
		SystemStatus:   common.MAV_STATE_ACTIVE,
		MavlinkVersion: 3,
	}
}

// interval returns the configured heartbeat period.
func (h *heartbeatGenerator) interval() time.Duration {
	if h.cfg.HeartbeatInterval <= 0 {
		return time.Second
	}
	return time.Duration(h.cfg.HeartbeatInterval) * time.Second
}

// Run emits heartbeats until the context is cancelled.
func (h *heartbeatGenerator) Run(ctx context.Context) {
	ticker := time.NewTicker(h.every)
	defer ticker.Stop()

	expected := time.Now().Add(h.every)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.beat(now.Sub(expected))
			expected = now.Add(h.every)
		}
	}
}

// beat sends one heartbeat. jitter is the deviation of this tick from its
// expected time.
func (h *heartbeatGenerator) beat(jitter time.Duration) {
	msg := h.message()
	if err := h.sender.broadcast(msg); err != nil {
		h.log.Warn("heartbeat broadcast failed", "error", err)
		return
	}

	n := h.beats.Add(1)
	if h.cfg.HeartbeatDebug {
		h.log.Debug("heartbeat sent",
			"count", n,
			"sysid", h.cfg.SystemID,
			"jitter_ms", jitter.Milliseconds())
	}
}
