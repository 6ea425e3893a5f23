/*
Package transport implements the common transport contract from spec.md
§4.E.1: peer snapshots, the send-primitive vocabulary, and the delegate
interface the router and UI implement. Concrete transports (link,
rendezvous) and the Selector that arbitrates between them live in this
package and its subpackages.
*/
package transport

import "time"

// State mirrors a platform radio stack's availability states (spec.md
// §4.E.1).
type State int

const (
	StateUnknown State = iota
	StateUnsupported
	StateUnauthorized
	StatePoweredOff
	StatePoweredOn
	StateResetting
)

func (s State) String() string {
	switch s {
	case StateUnsupported:
		return "unsupported"
	case StateUnauthorized:
		return "unauthorized"
	case StatePoweredOff:
		return "powered_off"
	case StatePoweredOn:
		return "powered_on"
	case StateResetting:
		return "resetting"
	default:
		return "unknown"
	}
}

// PeerSnapshot is one entry of the observable peer flow each transport
// exposes (spec.md §4.E.1).
type PeerSnapshot struct {
	PeerID      string
	Nickname    string
	IsConnected bool
	LastSeen    time.Time
}

// Delegate is implemented by the router/UI layer to receive transport
// events (spec.md §4.E.1).
type Delegate interface {
	DidReceiveMessage(transportName string, senderID string, payload []byte)
	DidConnectToPeer(transportName, peerID string)
	DidDisconnectFromPeer(transportName, peerID string)
	DidUpdatePeerList(transportName string, peers []PeerSnapshot)
	DidUpdateTransportState(transportName string, state State)
	DidReceiveNoisePayload(from string, subtype uint8, payload []byte, timestamp uint64)
	DidUpdateMessageDeliveryStatus(messageID string, status string)
}

// Transport is the contract every concrete transport (link, rendezvous)
// satisfies, and what the Selector arbitrates between (spec.md §4.E.1).
type Transport interface {
	Name() string
	IsAvailable() bool
	PeerSnapshots() []PeerSnapshot
	IsPeerReachable(peerID string) bool

	SendMessage(payload []byte) error
	SendPrivateMessage(peerID string, payload []byte) error
	SendDeliveryAck(peerID string, messageID []byte) error
	SendReadReceipt(peerID string, messageID []byte) error
	SendAnnounce(nickname string) error
	TriggerHandshake(peerID string) error
	SendRaw(peerID string, data []byte) error
	BroadcastRaw(data []byte) error

	Start() error
	Stop()
}

// PowerState is the host-runtime collaborator the Selector consults for
// rule 1 of §4.E.4 (battery-aware transport preference).
type PowerState interface {
	BatteryPercent() int
	IsCharging() bool
}
