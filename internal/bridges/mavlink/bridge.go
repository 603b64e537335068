package mavlink

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/mavgate/mavgate/internal/infrastructure/config"
	"github.com/mavgate/mavgate/internal/infrastructure/influxdb"
	"github.com/mavgate/mavgate/internal/infrastructure/logging"
	"github.com/mavgate/mavgate/internal/infrastructure/mqtt"
)

// recordTimeout bounds mission log writes so a wedged disk cannot stall
// the manager goroutine.
const recordTimeout = 5 * time.Second

// ackQueueSize buffers delivery acks between the router goroutine and the
// publish loop so MQTT backpressure never reaches the router.
const ackQueueSize = 16

// messageRateKey identifies one per-vehicle message-type counter.
type messageRateKey struct {
	sysid uint8
	name  string
}

// MQTTClient is the broker surface the bridge needs. Implemented by
// *mqtt.Client; narrowed to an interface for testability.
type MQTTClient interface {
	Publish(topic string, payload interface{}, qos byte, retained bool) error
	PublishJSON(topic string, v interface{}, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Bridge wires transports, router, mission manager, heartbeat generator,
// and the MQTT publish/subscribe paths into one runnable unit.
type Bridge struct {
	cfg     *config.Config
	version string
	log     *logging.Logger

	mqttc      MQTTClient
	router     *Router
	transports []*Transport
	missions   *MissionManager
	heartbeat  *heartbeatGenerator
	health     *healthReporter

	// Optional collaborators; nil disables the feature.
	missionLog *MissionLog
	influx     *influxdb.Client

	runCtx    context.Context
	startedAt time.Time

	// ackEvents carries delivery acks for deferred commands from the
	// router goroutine to the publish loop.
	ackEvents chan CommandEvent

	rateMu   sync.Mutex
	msgRates map[messageRateKey]uint64

	published     atomic.Uint64
	publishErrors atomic.Uint64
}

// New constructs the bridge from configuration.
//
// Parameters:
//   - cfg: Validated configuration
//   - mqttc: Connected MQTT client
//   - missionLog: Mission transfer log, or nil to disable persistence
//   - influx: Link-stats recorder, or nil when disabled
//   - version: Build version for status reports
//   - log: Parent logger
//
// Returns:
//   - *Bridge: Ready to Run
func New(cfg *config.Config, mqttc MQTTClient, missionLog *MissionLog, influx *influxdb.Client, version string, log *logging.Logger) *Bridge {
	b := &Bridge{
		cfg:        cfg,
		version:    version,
		log:        log.With("component", "bridge"),
		mqttc:      mqttc,
		missionLog: missionLog,
		influx:     influx,
		ackEvents:  make(chan CommandEvent, ackQueueSize),
		msgRates:   make(map[messageRateKey]uint64),
	}

	b.router = newRouter(cfg.Router, log)
	b.router.onDelivered = b.deferredDelivered

	for _, tc := range cfg.Transports.UDP {
		t := newUDPTransport(tc, cfg.GCS, b.router.inbound, log)
		b.transports = append(b.transports, t)
		b.router.addTransport(t)
	}
	for _, tc := range cfg.Transports.Serial {
		t := newSerialTransport(tc, cfg.GCS, b.router.inbound, log)
		b.transports = append(b.transports, t)
		b.router.addTransport(t)
	}

	b.missions = newMissionManager(b.router, cfg.Mission, b.router.missionTap, log)
	b.missions.onReport = b.handleMissionReport
	b.heartbeat = newHeartbeatGenerator(b.router, cfg.GCS, log)
	b.health = newHealthReporter(b, log)

	return b
}

// Run starts every component and blocks until the context is cancelled.
//
// Transport bind failures at startup are fatal: a bridge that cannot open
// its configured links is misconfigured, not degraded.
func (b *Bridge) Run(ctx context.Context) error {
	b.runCtx = ctx
	b.startedAt = time.Now()

	for _, t := range b.transports {
		if err := t.Start(); err != nil {
			b.stopTransports()
			return err
		}
	}

	if err := b.subscribe(); err != nil {
		b.stopTransports()
		return err
	}

	var wg sync.WaitGroup
	run := func(f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(ctx)
		}()
	}

	run(b.router.Run)
	run(b.missions.Run)
	run(b.heartbeat.Run)
	run(b.health.Run)
	run(b.publishLoop)

	b.log.Info("bridge running",
		"transports", len(b.transports),
		"gcs_sysid", b.cfg.GCS.SystemID)

	<-ctx.Done()
	wg.Wait()
	b.stopTransports()
	return nil
}

func (b *Bridge) stopTransports() {
	for _, t := range b.transports {
		t.Stop()
	}
}

// ReconfigureSerial atomically restarts a serial transport with new
// settings. Used by the config hot-reload path; only serial transports can
// be reconfigured at runtime.
func (b *Bridge) ReconfigureSerial(name, device string, baud int) error {
	for _, t := range b.transports {
		if t.Name() == name {
			return t.Reconfigure(device, baud)
		}
	}
	return fmt.Errorf("%w: unknown transport %q", ErrTransportIO, name)
}

// subscribe registers the command topic handlers.
func (b *Bridge) subscribe() error {
	qos := byte(b.cfg.MQTT.QoS) // #nosec G115 -- validated to 0-2

	if err := b.mqttc.Subscribe(commandDetailsSub, qos, b.handleDetails); err != nil {
		return fmt.Errorf("subscribing to command topics: %w", err)
	}
	if err := b.mqttc.Subscribe(loadWaypointsSub, qos, b.handleLoadWaypoints); err != nil {
		return fmt.Errorf("subscribing to waypoint topics: %w", err)
	}
	return nil
}

// publishLoop drains the router's bridge tap and publishes decoded frames,
// plus delivery acks for deferred commands.
func (b *Bridge) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-b.router.bridgeTap:
			b.publishFrame(in)
		case event := <-b.ackEvents:
			b.emitCommandEvent(event)
		}
	}
}

// deferredDelivered queues a delivery ack for a command that left the
// pending queue. Runs on the router goroutine, so it never blocks.
func (b *Bridge) deferredDelivered(cmd pendingCommand) {
	event := CommandEvent{
		SystemID:    cmd.sysid,
		ComponentID: cmd.compid,
		Command:     cmd.command,
		Accepted:    true,
		Status:      statusDelivered,
		Timestamp:   time.Now().UTC(),
	}

	select {
	case b.ackEvents <- event:
	default:
		b.log.Debug("ack queue full, delivery ack dropped", "sysid", cmd.sysid)
	}
}

// publishFrame publishes one frame under both topic schemes: the
// device-centric view and the source/link diagnostics view.
func (b *Bridge) publishFrame(in *inboundFrame) {
	msg := in.frame.GetMessage()
	name := messageName(msg)
	sysid := in.frame.GetSystemID()
	compid := in.frame.GetComponentID()
	qos := byte(b.cfg.MQTT.QoS) // #nosec G115 -- validated to 0-2

	fields := messageFields(msg)
	fields["timestamp"] = in.receivedAt.UTC().Format(time.RFC3339Nano)

	if b.influx != nil {
		b.rateMu.Lock()
		b.msgRates[messageRateKey{sysid: sysid, name: name}]++
		b.rateMu.Unlock()
	}

	if err := b.mqttc.PublishJSON(deviceTopic(sysid, compid, name), fields, qos, false); err != nil {
		b.publishErrors.Add(1)
		b.log.Debug("device publish failed", "msg", name, "error", err)
	} else {
		b.published.Add(1)
	}

	// Per-field sub-topics multiply volume by the field count, so they
	// stay behind a config flag.
	if b.cfg.Bridge.PublishFields {
		for field, value := range fields {
			if field == "timestamp" {
				continue
			}
			if err := b.mqttc.Publish(deviceFieldTopic(sysid, compid, name, field), value, qos, false); err != nil {
				b.publishErrors.Add(1)
			}
		}
	}

	// Link view: untargeted traffic is attributed to the GCS identity.
	dstSys := b.cfg.GCS.SystemID
	dstComp := uint8(0)
	if ts, tc, ok := messageTarget(msg); ok {
		dstSys, dstComp = ts, tc
	}

	topic := sourcesTopic(sysid, compid, dstSys, dstComp, name, in.origin.Name())
	if err := b.mqttc.PublishJSON(topic, fields, qos, false); err != nil {
		b.publishErrors.Add(1)
	} else {
		b.published.Add(1)
	}
}

// handleDetails encodes and sends a command described by an MQTT payload.
func (b *Bridge) handleDetails(topic string, payload []byte) error {
	sysid, compid, ok := parseCommandTopic(topic)
	if !ok {
		return fmt.Errorf("command topic %q does not match contract", topic)
	}

	var req CommandRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		b.publishCommandEvent(sysid, compid, 0, fmt.Errorf("invalid command payload: %w", err))
		return err
	}

	if req.RawFrame != "" {
		return b.injectRawFrame(sysid, compid, req.RawFrame)
	}

	msg := &common.MessageCommandLong{
		TargetSystem:    sysid,
		TargetComponent: compid,
		Command:         common.MAV_CMD(req.Command),
		Confirmation:    req.Confirmation,
		Param1:          req.Param1,
		Param2:          req.Param2,
		Param3:          req.Param3,
		Param4:          req.Param4,
		Param5:          req.Param5,
		Param6:          req.Param6,
		Param7:          req.Param7,
	}

	err := b.router.sendOrQueue(pendingCommand{
		sysid:   sysid,
		compid:  compid,
		command: req.Command,
		msg:     msg,
	})
	b.publishCommandEvent(sysid, compid, req.Command, err)
	return err
}

// injectRawFrame validates a hex-encoded frame and routes it unmodified.
func (b *Bridge) injectRawFrame(sysid, compid uint8, rawHex string) error {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		err = fmt.Errorf("%w: raw frame is not valid hex: %w", ErrFrameParse, err)
		b.publishCommandEvent(sysid, compid, 0, err)
		return err
	}

	pkt, err := ParsePacket(raw)
	if err != nil {
		b.publishCommandEvent(sysid, compid, 0, err)
		return err
	}

	err = b.router.injectFrame(sysid, pkt.ToFrame())
	b.publishCommandEvent(sysid, compid, pkt.MessageID, err)
	return err
}

// handleLoadWaypoints validates a waypoint payload and starts the matching
// mission session.
func (b *Bridge) handleLoadWaypoints(topic string, payload []byte) error {
	sysid, compid, ok := parseLoadWaypointsTopic(topic)
	if !ok {
		return fmt.Errorf("waypoint topic %q does not match contract", topic)
	}

	var cmd LoadWaypointsCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.publishCommandEvent(sysid, compid, 0, fmt.Errorf("invalid waypoint payload: %w", err))
		return err
	}

	if cmd.Action == ActionDownload {
		err := b.missions.StartDownload(b.runCtx, sysid, compid)
		b.publishCommandEvent(sysid, compid, 0, err)
		return err
	}

	wps := cmd.Waypoints
	if len(wps) == 0 && cmd.Filename != "" {
		var err error
		wps, err = LoadWaypointFile(cmd.Filename)
		if err != nil {
			b.publishValidation(sysid, compid, nil, []string{err.Error()}, "")
			return err
		}
	}

	issues, err := ValidateWaypoints(wps)
	if err != nil {
		b.publishValidation(sysid, compid, wps, issues, "")
		return err
	}

	hash := WaypointHash(wps)
	b.publishValidation(sysid, compid, wps, nil, hash)

	err = b.missions.StartUpload(b.runCtx, sysid, compid, wps, hash)
	if err != nil {
		b.publishCommandEvent(sysid, compid, 0, err)
	}
	return err
}

// handleMissionReport publishes and persists a terminal session report.
// Runs on the mission manager goroutine.
func (b *Bridge) handleMissionReport(report MissionReport) {
	qos := byte(b.cfg.MQTT.QoS) // #nosec G115 -- validated to 0-2

	if err := b.mqttc.PublishJSON(missionEventTopic, report, qos, false); err != nil {
		b.log.Warn("mission report publish failed", "error", err)
	}

	if b.missionLog != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := b.missionLog.Record(ctx, report); err != nil {
			b.log.Warn("mission log write failed", "error", err)
		}
	}

	if b.influx != nil {
		b.influx.WriteMissionEvent(report.SystemID, report.Direction, report.State, report.ItemCount)
	}
}

// publishValidation reports a waypoint validation verdict.
func (b *Bridge) publishValidation(sysid, compid uint8, wps []Waypoint, issues []string, hash string) {
	qos := byte(b.cfg.MQTT.QoS) // #nosec G115 -- validated to 0-2

	report := ValidationReport{
		SystemID:    sysid,
		ComponentID: compid,
		Valid:       len(issues) == 0,
		Issues:      issues,
		Hash:        hash,
		Count:       len(wps),
		Timestamp:   time.Now().UTC(),
	}

	if err := b.mqttc.PublishJSON(validationTopic, report, qos, false); err != nil {
		b.log.Warn("validation report publish failed", "error", err)
	}

	// The requester also gets the verdict on its own ack topic.
	if err := b.mqttc.PublishJSON(commandAckTopic(sysid, compid), report, qos, false); err != nil {
		b.log.Warn("validation ack publish failed", "error", err)
	}
}

// publishCommandEvent reports a command outcome. Rejections always produce
// an event; silent failure is a defect.
func (b *Bridge) publishCommandEvent(sysid, compid uint8, command uint32, cmdErr error) {
	event := CommandEvent{
		SystemID:    sysid,
		ComponentID: compid,
		Command:     command,
		Accepted:    cmdErr == nil,
		Status:      statusAccepted,
		Timestamp:   time.Now().UTC(),
	}
	switch {
	case cmdErr == nil:
	case errors.Is(cmdErr, ErrDeferred):
		event.Status = statusQueued
		event.Error = cmdErr.Error()
	default:
		event.Status = statusRejected
		event.Error = cmdErr.Error()
	}

	b.emitCommandEvent(event)
}

// emitCommandEvent publishes one command outcome on the global event topic
// and on the target's ack topic.
func (b *Bridge) emitCommandEvent(event CommandEvent) {
	qos := byte(b.cfg.MQTT.QoS) // #nosec G115 -- validated to 0-2

	if err := b.mqttc.PublishJSON(commandEventTopic, event, qos, false); err != nil {
		b.log.Warn("command event publish failed", "error", err)
	}
	if err := b.mqttc.PublishJSON(commandAckTopic(event.SystemID, event.ComponentID), event, qos, false); err != nil {
		b.log.Warn("command ack publish failed", "error", err)
	}
}

// takeMessageRates returns and resets the per-message-type counters
// accumulated since the last snapshot.
func (b *Bridge) takeMessageRates() map[messageRateKey]uint64 {
	b.rateMu.Lock()
	defer b.rateMu.Unlock()

	out := b.msgRates
	b.msgRates = make(map[messageRateKey]uint64)
	return out
}
