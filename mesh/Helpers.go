package mesh

import (
	"time"

	"github.com/bitchat-mesh/core/peerid"
)

// idString derives the routing key the Sender interface is addressed by:
// the hex short id, same string form peers are tracked under everywhere
// else in this module.
func idString(id [8]byte) string {
	return string(peerid.FromShortBytes(id))
}

// pkt0Timestamp stamps a locally-originated reply/ack with the current
// time, milliseconds since epoch (spec.md §3 Packet.timestamp).
func pkt0Timestamp() uint64 {
	return uint64(time.Now().UnixMilli())
}
