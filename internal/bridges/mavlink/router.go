package mavlink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/frame"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/mavgate/mavgate/internal/infrastructure/config"
	"github.com/mavgate/mavgate/internal/infrastructure/logging"
)

// Pseudo-destinations for dedup accounting. Publishing and mission dispatch
// are deduped exactly like transport fan-out: one delivery per key per
// destination within the TTL.
const (
	destBridge  = "@bridge"
	destMission = "@mission"
)

// maxPendingPerTarget bounds the deferred-command queue per sysid; the
// oldest entry is evicted when the queue is full.
const maxPendingPerTarget = 16

// pendingCommand is a command held back until its target sysid appears on a
// link. The addressing and command id ride along for the delivery ack.
type pendingCommand struct {
	sysid   uint8
	compid  uint8
	command uint32
	msg     message.Message
}

// Router is the single consumer of the shared inbound queue.
//
// It serializes all dedup and forwarding decisions on one goroutine, which
// is what guarantees a total order for the dedup cache. Frames are
// forwarded to every transport except their origin without any rewrite of
// sysid, compid, or payload; the router's job is physical-link fan-out,
// not logical addressing.
type Router struct {
	transports []*Transport
	byName     map[string]*Transport

	inbound    chan *inboundFrame
	dedup      *dedupCache
	observed   *observedTable
	bridgeTap  chan *inboundFrame
	missionTap chan *inboundFrame

	pendingMu sync.Mutex
	pending   map[uint8][]pendingCommand

	// deliver writes a deferred command to a transport; replaceable in tests.
	deliver func(t *Transport, msg message.Message) error

	// onDelivered is invoked on the router goroutine after a deferred
	// command reaches the link its target appeared on. Must not block.
	onDelivered func(pendingCommand)

	log   *logging.Logger
	stats routerStats
}

type routerStats struct {
	forwards   atomic.Uint64
	duplicates atomic.Uint64
	tapDrops   atomic.Uint64
	writeFails atomic.Uint64
}

// RouterStatus is the JSON snapshot of router counters for status reports.
type RouterStatus struct {
	Forwards     uint64 `json:"forwards"`
	Duplicates   uint64 `json:"duplicates"`
	TapDrops     uint64 `json:"tap_drops"`
	WriteFails   uint64 `json:"write_fails"`
	DedupEntries int    `json:"dedup_entries"`
	QueueLen     int    `json:"queue_len"`
}

func newRouter(cfg config.RouterConfig, log *logging.Logger) *Router {
	return &Router{
		byName:     make(map[string]*Transport),
		inbound:    make(chan *inboundFrame, cfg.InboundQueueSize),
		dedup:      newDedupCache(cfg.DedupTTL()),
		observed:   newObservedTable(),
		bridgeTap:  make(chan *inboundFrame, cfg.PublishQueueSize),
		missionTap: make(chan *inboundFrame, cfg.PublishQueueSize),
		pending:    make(map[uint8][]pendingCommand),
		deliver:    (*Transport).writeMessage,
		log:        log.With("component", "router"),
	}
}

// addTransport registers a transport for fan-out. Must be called before Run.
func (r *Router) addTransport(t *Transport) {
	r.transports = append(r.transports, t)
	r.byName[t.name] = t
}

// Run consumes the inbound queue until the context is cancelled.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-r.inbound:
			r.route(ctx, in)
		}
	}
}

// route applies the forwarding rules for one inbound frame.
func (r *Router) route(ctx context.Context, in *inboundFrame) {
	sysid := in.frame.GetSystemID()
	compid := in.frame.GetComponentID()
	now := in.receivedAt

	if r.observed.observe(sysid, compid, in.origin.name, now) {
		r.log.Info("vehicle appeared", "sysid", sysid, "compid", compid, "via", in.origin.name)
	}

	// Commands that arrived before this sysid was routable ride out on the
	// link its traffic just came in on.
	r.flushPending(sysid, in.origin)

	// Recompute the checksum in case the incoming frame was truncated.
	in.origin.fixFrame(in.frame)

	key := keyFor(in.frame)

	// Fan out to every transport except the origin, at most once per
	// destination per dedup window.
	for _, t := range r.transports {
		if t == in.origin {
			continue
		}
		if !r.dedup.shouldForward(key, t.name, now) {
			r.stats.duplicates.Add(1)
			continue
		}
		if err := t.writeFrame(in.frame); err != nil {
			r.stats.writeFails.Add(1)
			r.log.Warn("forward failed", "dest", t.name, "error", err)
			continue
		}
		r.stats.forwards.Add(1)
	}

	// Publish path: bounded queue, drop-oldest. Diagnostic completeness
	// loses to liveness here.
	if r.dedup.shouldForward(key, destBridge, now) {
		select {
		case r.bridgeTap <- in:
		default:
			select {
			case <-r.bridgeTap:
				r.stats.tapDrops.Add(1)
			default:
			}
			select {
			case r.bridgeTap <- in:
			default:
				r.stats.tapDrops.Add(1)
			}
		}
	} else {
		r.stats.duplicates.Add(1)
	}

	// Mission path: mission-protocol messages are never silently dropped.
	if isMissionMessage(in.frame.GetMessage()) && r.dedup.shouldForward(key, destMission, now) {
		select {
		case r.missionTap <- in:
		case <-ctx.Done():
		}
	}
}

// isMissionMessage reports whether a message belongs to the mission
// transfer protocol and must reach the session manager.
func isMissionMessage(msg message.Message) bool {
	switch msg.(type) {
	case *common.MessageMissionCount,
		*common.MessageMissionItem,
		*common.MessageMissionItemInt,
		*common.MessageMissionRequest,
		*common.MessageMissionRequestInt,
		*common.MessageMissionAck:
		return true
	default:
		return false
	}
}

// sendTo encodes and sends a message toward the transport the target sysid
// was last observed on, falling back to broadcast when the target has never
// been seen.
func (r *Router) sendTo(sysid uint8, msg message.Message) error {
	if name, ok := r.observed.lookup(sysid); ok {
		if t, exists := r.byName[name]; exists && t.Started() {
			return t.writeMessage(msg)
		}
	}
	return r.broadcast(msg)
}

// sendOrQueue sends a command toward its target like sendTo, but defers
// delivery instead of failing when no link can carry it: the command is
// queued and flushed when the target sysid is next observed.
//
// Returns:
//   - error: nil when sent now, wrapping ErrDeferred when queued
func (r *Router) sendOrQueue(cmd pendingCommand) error {
	err := r.sendTo(cmd.sysid, cmd.msg)
	if !errors.Is(err, ErrNoRoute) {
		return err
	}

	r.pendingMu.Lock()
	q := r.pending[cmd.sysid]
	if len(q) >= maxPendingPerTarget {
		q = q[1:]
	}
	r.pending[cmd.sysid] = append(q, cmd)
	r.pendingMu.Unlock()

	return fmt.Errorf("%w: sysid %d", ErrDeferred, cmd.sysid)
}

// flushPending delivers commands that were waiting for the sysid to appear.
// A failed write keeps the remainder queued for the next observation.
func (r *Router) flushPending(sysid uint8, via *Transport) {
	r.pendingMu.Lock()
	queued := r.pending[sysid]
	if len(queued) == 0 {
		r.pendingMu.Unlock()
		return
	}
	delete(r.pending, sysid)
	r.pendingMu.Unlock()

	for i, cmd := range queued {
		if err := r.deliver(via, cmd.msg); err != nil {
			r.log.Warn("deferred command delivery failed",
				"sysid", sysid, "dest", via.name, "error", err)
			r.pendingMu.Lock()
			r.pending[sysid] = append(queued[i:], r.pending[sysid]...)
			r.pendingMu.Unlock()
			return
		}
		r.log.Info("deferred command delivered", "sysid", sysid, "dest", via.name)
		if r.onDelivered != nil {
			r.onDelivered(cmd)
		}
	}
}

// broadcast sends a message on every started transport.
func (r *Router) broadcast(msg message.Message) error {
	var lastErr error
	sent := false

	for _, t := range r.transports {
		if !t.Started() {
			continue
		}
		if err := t.writeMessage(msg); err != nil {
			lastErr = err
			continue
		}
		sent = true
	}

	if !sent {
		if lastErr != nil {
			return lastErr
		}
		return ErrNoRoute
	}
	return nil
}

// injectFrame writes a pre-encoded frame toward a target sysid, using the
// same observed-link routing as sendTo.
func (r *Router) injectFrame(targetSys uint8, fr frame.Frame) error {
	if name, ok := r.observed.lookup(targetSys); ok {
		if t, exists := r.byName[name]; exists && t.Started() {
			return t.writeFrame(fr)
		}
	}

	var lastErr error
	sent := false
	for _, t := range r.transports {
		if !t.Started() {
			continue
		}
		if err := t.writeFrame(fr); err != nil {
			lastErr = err
			continue
		}
		sent = true
	}

	if !sent {
		if lastErr != nil {
			return lastErr
		}
		return ErrNoRoute
	}
	return nil
}

// status snapshots router counters.
func (r *Router) status() RouterStatus {
	return RouterStatus{
		Forwards:     r.stats.forwards.Load(),
		Duplicates:   r.stats.duplicates.Load(),
		TapDrops:     r.stats.tapDrops.Load(),
		WriteFails:   r.stats.writeFails.Load(),
		DedupEntries: r.dedup.size(),
		QueueLen:     len(r.inbound),
	}
}
