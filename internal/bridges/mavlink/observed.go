package mavlink

import (
	"sync"
	"time"
)

// ObservedSource records where a system ID was last seen.
//
// The router updates one entry per sysid on every inbound frame; the bridge
// reads the table to decide which transport should carry a targeted command.
// Entries are never deleted: fleet size is small and bounded, and a stale
// entry still names the best-known link for a quiet vehicle.
type ObservedSource struct {
	SystemID    uint8     `json:"sysid"`
	ComponentID uint8     `json:"compid"`
	Transport   string    `json:"transport"`
	LastSeen    time.Time `json:"last_seen"`
	Frames      uint64    `json:"frames"`
}

// observedTable is the per-sysid bookkeeping shared between the router
// (writer) and the bridge/status reporter (readers).
type observedTable struct {
	mu      sync.RWMutex
	sources map[uint8]*ObservedSource
}

func newObservedTable() *observedTable {
	return &observedTable{
		sources: make(map[uint8]*ObservedSource),
	}
}

// observe records a frame from sysid/compid on the named transport.
// Returns true when this is the first frame ever seen from the sysid.
func (t *observedTable) observe(sysid, compid uint8, transport string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	src, known := t.sources[sysid]
	if !known {
		t.sources[sysid] = &ObservedSource{
			SystemID:    sysid,
			ComponentID: compid,
			Transport:   transport,
			LastSeen:    now,
			Frames:      1,
		}
		return true
	}

	src.ComponentID = compid
	src.Transport = transport
	src.LastSeen = now
	src.Frames++
	return false
}

// lookup returns the transport name the sysid was last seen on.
func (t *observedTable) lookup(sysid uint8) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	src, ok := t.sources[sysid]
	if !ok {
		return "", false
	}
	return src.Transport, true
}

// snapshot returns a copy of all observed sources, ordered by sysid.
func (t *observedTable) snapshot() []ObservedSource {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ObservedSource, 0, len(t.sources))
	for sysid := 0; sysid < 256; sysid++ {
		if src, ok := t.sources[uint8(sysid)]; ok {
			out = append(out, *src)
		}
	}
	return out
}
