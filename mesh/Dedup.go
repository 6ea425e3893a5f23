/*
Package mesh implements the flooding router from spec.md §4.D: per-packet
deduplication, TTL decrement, path-trace append, and local-delivery or relay
dispatch. Dedup.go is grounded on the teacher's Message Sequence.go, which
kept a bounded, time-limited set of recently seen message identifiers to
avoid reprocessing gossip already seen on another path — generalized here
from that file's message-sequence numbers to a content hash of the whole
packet, since BitChat packets carry no sequence number.
*/
package mesh

import (
	"sync"
	"time"

	"lukechampine.com/blake3"
)

// DedupCapacity bounds the number of entries the set retains at once
// (spec.md §4.D: "a bounded dedup set, roughly 10000 entries").
const DedupCapacity = 10000

// DedupTTL is how long an entry is remembered before it may be evicted
// (spec.md §4.D: "a two-minute expiry").
const DedupTTL = 2 * time.Minute

type dedupEntry struct {
	key     [32]byte
	expires time.Time
}

// DedupSet is a bounded, TTL-expiring set of packet fingerprints used to
// drop packets the router has already relayed or delivered.
type DedupSet struct {
	mu      sync.Mutex
	entries map[[32]byte]time.Time
	order   []dedupEntry
}

// NewDedupSet constructs an empty dedup set.
func NewDedupSet() *DedupSet {
	return &DedupSet{entries: make(map[[32]byte]time.Time)}
}

// Key derives the dedup fingerprint for a packet: BLAKE3 over sender id,
// packet type, timestamp, and payload. Route and TTL are excluded since
// those fields mutate hop-to-hop while the underlying message does not.
func Key(senderID [8]byte, packetType uint8, timestamp uint64, payload []byte) [32]byte {
	h := blake3.New(32, nil)
	h.Write(senderID[:])
	h.Write([]byte{packetType})
	var ts [8]byte
	for i := 0; i < 8; i++ {
		ts[i] = byte(timestamp >> (8 * (7 - i)))
	}
	h.Write(ts[:])
	h.Write(payload)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SeenRecently reports whether key was already recorded and still live.
func (d *DedupSet) SeenRecently(key [32]byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	exp, ok := d.entries[key]
	if !ok {
		return false
	}
	return time.Now().Before(exp)
}

// Record marks key as seen, evicting expired entries and, if at capacity,
// the oldest surviving entry to bound memory use.
func (d *DedupSet) Record(key [32]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	d.pruneExpiredLocked(now)

	if _, exists := d.entries[key]; exists {
		return
	}

	if len(d.order) >= DedupCapacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.entries, oldest.key)
	}

	exp := now.Add(DedupTTL)
	d.entries[key] = exp
	d.order = append(d.order, dedupEntry{key: key, expires: exp})
}

func (d *DedupSet) pruneExpiredLocked(now time.Time) {
	i := 0
	for i < len(d.order) && !now.Before(d.order[i].expires) {
		delete(d.entries, d.order[i].key)
		i++
	}
	if i > 0 {
		d.order = d.order[i:]
	}
}

// Len reports the number of live entries, used by diagnostics.
func (d *DedupSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneExpiredLocked(time.Now())
	return len(d.order)
}
