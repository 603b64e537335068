package mavlink

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/frame"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/mavgate/mavgate/internal/infrastructure/config"
	"github.com/mavgate/mavgate/internal/infrastructure/logging"
)

// Transport kinds.
const (
	transportUDP    = "udp"
	transportSerial = "serial"

	// parseErrorThreshold is the consecutive parse error count above which
	// a transport is flagged as poisoned in status reports. The transport
	// is never auto-disabled; acting on the flag is an operator decision.
	parseErrorThreshold = 50
)

// inboundFrame is one received frame tagged with its origin, queued from a
// transport to the router.
type inboundFrame struct {
	origin     *Transport
	frame      frame.Frame
	receivedAt time.Time
}

// Transport wraps one gomavlib node bound to a UDP socket or serial device.
//
// Each transport runs its own event loop goroutine so a slow or blocked
// link cannot stall the others. Received frames are pushed onto the shared
// inbound queue with drop-oldest overflow; every drop is counted.
type Transport struct {
	name     string
	kind     string
	endpoint gomavlib.EndpointConf

	outSystemID    uint8
	outComponentID uint8

	inbound chan *inboundFrame
	log     *logging.Logger

	mu      sync.Mutex
	node    *gomavlib.Node
	started bool
	done    chan struct{}

	stats transportStats
}

// transportStats holds per-transport counters, updated atomically.
type transportStats struct {
	rxFrames    atomic.Uint64
	txFrames    atomic.Uint64
	parseErrors atomic.Uint64
	drops       atomic.Uint64

	// consecutiveParseErrors resets on every good frame; feeds the
	// poisoned flag.
	consecutiveParseErrors atomic.Uint64
}

// TransportStatus is the JSON snapshot of one transport's counters,
// published in the periodic status report.
type TransportStatus struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Started     bool   `json:"started"`
	RxFrames    uint64 `json:"rx_frames"`
	TxFrames    uint64 `json:"tx_frames"`
	ParseErrors uint64 `json:"parse_errors"`
	Drops       uint64 `json:"drops"`
	Poisoned    bool   `json:"poisoned"`
}

// newUDPTransport creates a transport listening on a UDP server socket.
func newUDPTransport(cfg config.UDPTransportConfig, gcs config.GCSConfig, inbound chan *inboundFrame, log *logging.Logger) *Transport {
	return &Transport{
		name: cfg.Name,
		kind: transportUDP,
		endpoint: gomavlib.EndpointUDPServer{
			Address: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		},
		outSystemID:    gcs.SystemID,
		outComponentID: gcs.ComponentID,
		inbound:        inbound,
		log:            log.With("transport", cfg.Name),
	}
}

// newSerialTransport creates a transport reading a serial device.
func newSerialTransport(cfg config.SerialTransportConfig, gcs config.GCSConfig, inbound chan *inboundFrame, log *logging.Logger) *Transport {
	return &Transport{
		name: cfg.Name,
		kind: transportSerial,
		endpoint: gomavlib.EndpointSerial{
			Device: cfg.Device,
			Baud:   cfg.Baud,
		},
		outSystemID:    gcs.SystemID,
		outComponentID: gcs.ComponentID,
		inbound:        inbound,
		log:            log.With("transport", cfg.Name),
	}
}

// Name returns the transport's configured name.
func (t *Transport) Name() string {
	return t.name
}

// Started reports whether the transport is currently bound and reading.
func (t *Transport) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// Start binds the endpoint and begins delivering frames to the inbound queue.
//
// Returns:
//   - error: Wrapping ErrTransportIO if the endpoint cannot be opened
func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startLocked()
}

func (t *Transport) startLocked() error {
	if t.started {
		return nil
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:      []gomavlib.EndpointConf{t.endpoint},
		Dialect:        common.Dialect,
		OutVersion:     gomavlib.V2,
		OutSystemID:    t.outSystemID,
		OutComponentID: t.outComponentID,

		// The bridge runs its own 1 Hz generator with GCS identity.
		HeartbeatDisable: true,
	})
	if err != nil {
		return fmt.Errorf("%w: opening %s transport %q: %w", ErrTransportIO, t.kind, t.name, err)
	}

	t.node = node
	t.started = true
	t.done = make(chan struct{})

	go t.readLoop(node, t.done)

	t.log.Info("transport started", "kind", t.kind)
	return nil
}

// Stop releases the endpoint. Safe to call from outside the transport's
// event loop and safe to call twice.
func (t *Transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Transport) stopLocked() {
	if !t.started {
		return
	}

	t.started = false
	t.node.Close()
	<-t.done
	t.node = nil

	t.log.Info("transport stopped", "kind", t.kind)
}

// Reconfigure atomically restarts a serial transport with a new device
// path and baud rate. Only serial transports support reconfiguration.
//
// Parameters:
//   - device: New serial device path
//   - baud: New baud rate
//
// Returns:
//   - error: If the transport is not serial or the new device fails to open
func (t *Transport) Reconfigure(device string, baud int) error {
	if t.kind != transportSerial {
		return fmt.Errorf("%w: transport %q is not serial", ErrTransportIO, t.name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	wasStarted := t.started
	t.stopLocked()

	t.endpoint = gomavlib.EndpointSerial{
		Device: device,
		Baud:   baud,
	}

	if !wasStarted {
		return nil
	}
	return t.startLocked()
}

// readLoop consumes node events until the node is closed.
func (t *Transport) readLoop(node *gomavlib.Node, done chan struct{}) {
	defer close(done)

	for evt := range node.Events() {
		switch e := evt.(type) {
		case *gomavlib.EventFrame:
			t.stats.rxFrames.Add(1)
			t.stats.consecutiveParseErrors.Store(0)
			t.push(&inboundFrame{
				origin:     t,
				frame:      e.Frame,
				receivedAt: time.Now(),
			})

		case *gomavlib.EventParseError:
			t.stats.parseErrors.Add(1)
			if t.stats.consecutiveParseErrors.Add(1) == parseErrorThreshold {
				t.log.Warn("transport poisoned: repeated parse errors", "error", e.Error)
			}

		case *gomavlib.EventChannelOpen:
			t.log.Info("channel open", "channel", e.Channel.String())

		case *gomavlib.EventChannelClose:
			t.log.Info("channel close", "channel", e.Channel.String())
		}
	}
}

// push enqueues a frame with drop-oldest overflow. The router must never be
// blocked by a saturated queue; losing the oldest frame is preferred over
// losing causality silently, so every drop is counted.
func (t *Transport) push(in *inboundFrame) {
	select {
	case t.inbound <- in:
		return
	default:
	}

	// Queue full: evict the oldest entry, then retry once.
	select {
	case old := <-t.inbound:
		old.origin.stats.drops.Add(1)
	default:
	}

	select {
	case t.inbound <- in:
	default:
		t.stats.drops.Add(1)
	}
}

// writeFrame forwards a frame unmodified to every peer on this transport.
func (t *Transport) writeFrame(fr frame.Frame) error {
	t.mu.Lock()
	node := t.node
	started := t.started
	t.mu.Unlock()

	if !started {
		return fmt.Errorf("%w: %s", ErrTransportStopped, t.name)
	}

	if err := node.WriteFrameAll(fr); err != nil {
		return fmt.Errorf("%w: writing frame to %s: %w", ErrTransportIO, t.name, err)
	}
	t.stats.txFrames.Add(1)
	return nil
}

// writeMessage encodes and sends a message to every peer on this transport.
func (t *Transport) writeMessage(msg message.Message) error {
	t.mu.Lock()
	node := t.node
	started := t.started
	t.mu.Unlock()

	if !started {
		return fmt.Errorf("%w: %s", ErrTransportStopped, t.name)
	}

	if err := node.WriteMessageAll(msg); err != nil {
		return fmt.Errorf("%w: writing message to %s: %w", ErrTransportIO, t.name, err)
	}
	t.stats.txFrames.Add(1)
	return nil
}

// fixFrame recomputes the checksum of a frame before re-forwarding, in case
// the incoming frame was truncated by the sender.
func (t *Transport) fixFrame(fr frame.Frame) {
	t.mu.Lock()
	node := t.node
	t.mu.Unlock()

	if node != nil {
		node.FixFrame(fr)
	}
}

// status snapshots the transport's counters.
func (t *Transport) status() TransportStatus {
	return TransportStatus{
		Name:        t.name,
		Kind:        t.kind,
		Started:     t.Started(),
		RxFrames:    t.stats.rxFrames.Load(),
		TxFrames:    t.stats.txFrames.Load(),
		ParseErrors: t.stats.parseErrors.Load(),
		Drops:       t.stats.drops.Load(),
		Poisoned:    t.stats.consecutiveParseErrors.Load() >= parseErrorThreshold,
	}
}
