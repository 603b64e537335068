package mavlink

import (
	"context"
	"time"

	"github.com/mavgate/mavgate/internal/infrastructure/logging"
)

// StatusReport is the periodic diagnostics heartbeat of the bridge process,
// published on StatusTopic.
type StatusReport struct {
	Service       string            `json:"service"`
	Version       string            `json:"version"`
	Timestamp     time.Time         `json:"timestamp"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	MQTTConnected bool              `json:"mqtt_connected"`
	Published     uint64            `json:"published"`
	PublishErrors uint64            `json:"publish_errors"`
	Transports    []TransportStatus `json:"transports"`
	Router        RouterStatus      `json:"router"`
	Observed      []ObservedSource  `json:"observed"`
	Missions      []MissionStatus   `json:"missions,omitempty"`
}

// healthReporter publishes the status report at a fixed interval and, when
// InfluxDB is enabled, records per-transport link counters for long-term
// trending.
type healthReporter struct {
	b   *Bridge
	log *logging.Logger
}

func newHealthReporter(b *Bridge, log *logging.Logger) *healthReporter {
	return &healthReporter{
		b:   b,
		log: log.With("component", "health"),
	}
}

// interval returns the configured status period.
func (h *healthReporter) interval() time.Duration {
	if h.b.cfg.Bridge.StatusInterval <= 0 {
		return 2 * time.Second
	}
	return time.Duration(h.b.cfg.Bridge.StatusInterval) * time.Second
}

// Run publishes status reports until the context is cancelled.
func (h *healthReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.report()
		}
	}
}

func (h *healthReporter) report() {
	status := h.b.buildStatus()
	qos := byte(h.b.cfg.MQTT.QoS) // #nosec G115 -- validated to 0-2

	if err := h.b.mqttc.PublishJSON(StatusTopic, status, qos, false); err != nil {
		h.log.Debug("status publish failed", "error", err)
	}

	if h.b.influx != nil {
		for _, t := range status.Transports {
			h.b.influx.WriteLinkStats(t.Name, t.RxFrames, t.TxFrames, t.ParseErrors, t.Drops)
		}

		for key, count := range h.b.takeMessageRates() {
			h.b.influx.WriteMessageRate(key.sysid, key.name, count)
		}

		h.b.influx.WritePoint("router_stats",
			map[string]string{"service": "mavgate"},
			map[string]interface{}{
				"forwards":    status.Router.Forwards,
				"duplicates":  status.Router.Duplicates,
				"tap_drops":   status.Router.TapDrops,
				"write_fails": status.Router.WriteFails,
				"queue_len":   status.Router.QueueLen,
			})
	}
}

// buildStatus snapshots every component's counters.
func (b *Bridge) buildStatus() StatusReport {
	transports := make([]TransportStatus, 0, len(b.transports))
	for _, t := range b.transports {
		transports = append(transports, t.status())
	}

	return StatusReport{
		Service:       "mavgate",
		Version:       b.version,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: int64(time.Since(b.startedAt).Seconds()),
		MQTTConnected: b.mqttc.IsConnected(),
		Published:     b.published.Load(),
		PublishErrors: b.publishErrors.Load(),
		Transports:    transports,
		Router:        b.router.status(),
		Observed:      b.router.observed.snapshot(),
		Missions:      b.missions.status(),
	}
}
