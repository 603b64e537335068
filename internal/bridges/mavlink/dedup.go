package mavlink

import (
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/frame"
)

// dedupKey identifies a frame for duplicate suppression. The checksum acts
// as a short content hash so that fast sequence rollover on chatty links
// does not alias distinct frames onto the same key.
type dedupKey struct {
	sysid    uint8
	compid   uint8
	msgID    uint32
	seq      uint8
	checksum uint16
}

// dedupEntry tracks which destination transports a key has already been
// forwarded to within the TTL window.
type dedupEntry struct {
	firstSeen time.Time
	sentTo    map[string]struct{}
}

// dedupCache suppresses re-forwarding of frames that arrive through more
// than one transport within a short TTL. Within the window, at most one
// forward is emitted per key per destination transport; this is what stops
// forwarding-loop amplification when transports are bridged to each other.
//
// Not safe for concurrent use: the router is the cache's only caller and
// evaluates it single-threaded, which is what makes the check-then-mark
// sequence race-free.
type dedupCache struct {
	ttl     time.Duration
	entries map[dedupKey]*dedupEntry

	// lastSweep bounds how often the full-map eviction scan runs.
	lastSweep time.Time
}

func newDedupCache(ttl time.Duration) *dedupCache {
	return &dedupCache{
		ttl:     ttl,
		entries: make(map[dedupKey]*dedupEntry),
	}
}

// keyFor derives the dedup key from a frame.
func keyFor(fr frame.Frame) dedupKey {
	k := dedupKey{
		sysid: fr.GetSystemID(),
		seq:   fr.GetSequenceNumber(),
	}

	if msg := fr.GetMessage(); msg != nil {
		k.msgID = msg.GetID()
	}

	switch f := fr.(type) {
	case *frame.V1Frame:
		k.compid = f.ComponentID
		k.checksum = f.Checksum
	case *frame.V2Frame:
		k.compid = f.ComponentID
		k.checksum = f.Checksum
	}

	return k
}

// shouldForward reports whether the frame identified by key should be
// forwarded to the named destination, and marks the destination as reached.
// The first call for a (key, dest) pair within the TTL returns true; repeat
// calls return false until the entry expires.
func (c *dedupCache) shouldForward(key dedupKey, dest string, now time.Time) bool {
	c.maybeSweep(now)

	e, ok := c.entries[key]
	if ok && now.Sub(e.firstSeen) >= c.ttl {
		// Expired: treat as a fresh frame.
		ok = false
	}

	if !ok {
		c.entries[key] = &dedupEntry{
			firstSeen: now,
			sentTo:    map[string]struct{}{dest: {}},
		}
		return true
	}

	if _, sent := e.sentTo[dest]; sent {
		return false
	}

	e.sentTo[dest] = struct{}{}
	return true
}

// maybeSweep evicts expired entries, at most once per TTL interval.
func (c *dedupCache) maybeSweep(now time.Time) {
	if now.Sub(c.lastSweep) < c.ttl {
		return
	}
	c.lastSweep = now

	for key, e := range c.entries {
		if now.Sub(e.firstSeen) >= c.ttl {
			delete(c.entries, key)
		}
	}
}

// size returns the current entry count (diagnostics only).
func (c *dedupCache) size() int {
	return len(c.entries)
}
