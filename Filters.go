/*
Filters.go ports the teacher's hook-installation pattern from Filter.go:
a struct of nilable function fields the caller may set, each defaulted to
a no-op by initFilters so the rest of the codebase never has to nil-check
before calling one.
*/
package bitchat

import "github.com/bitchat-mesh/core/wire"

// Filters lets a host application observe this node's activity without
// subclassing or forking Backend. Use nil for any hook that isn't needed.
type Filters struct {
	// LogError is called for any internal error worth surfacing.
	LogError func(function, format string, v ...interface{})

	// PeerConnected/PeerDisconnected fire as transports gain or lose
	// reachability to a peer.
	PeerConnected    func(transportName, peerID string)
	PeerDisconnected func(transportName, peerID string)

	// HandshakeFailed fires whenever a Noise handshake with a peer errors
	// out and its session is torn down.
	HandshakeFailed func(peerID string, err error)

	// NicknameUpdated fires on every ANNOUNCE delivered locally.
	NicknameUpdated func(peerID string, nickname string)

	// MessageReceived fires for a decoded public or private chat message.
	MessageReceived func(senderID string, msg *wire.Message)

	// MessageDelivered fires when a directed delivery acknowledgement
	// comes back for a message this node sent.
	MessageDelivered func(ackFromPeerID string)

	// ReadReceipt and VerifyChallenge/VerifyResponse surface the
	// Noise-encrypted sub-message types spec.md §4.D's local delivery
	// switch names but leaves to a higher layer.
	ReadReceipt     func(peerID string, messageID []byte)
	VerifyChallenge func(peerID string, payload []byte)
	VerifyResponse  func(peerID string, payload []byte)

	// Passthrough receives FRAGMENT/FILE_TRANSFER/REQUEST_SYNC packets
	// this node is not equipped to interpret itself (spec.md §4.D).
	Passthrough func(pkt *wire.Packet)
}

func (b *Backend) initFilters() {
	if b.Filters.LogError == nil {
		b.Filters.LogError = func(function, format string, v ...interface{}) {}
	}
	if b.Filters.PeerConnected == nil {
		b.Filters.PeerConnected = func(transportName, peerID string) {}
	}
	if b.Filters.PeerDisconnected == nil {
		b.Filters.PeerDisconnected = func(transportName, peerID string) {}
	}
	if b.Filters.HandshakeFailed == nil {
		b.Filters.HandshakeFailed = func(peerID string, err error) {}
	}
	if b.Filters.NicknameUpdated == nil {
		b.Filters.NicknameUpdated = func(peerID string, nickname string) {}
	}
	if b.Filters.MessageReceived == nil {
		b.Filters.MessageReceived = func(senderID string, msg *wire.Message) {}
	}
	if b.Filters.MessageDelivered == nil {
		b.Filters.MessageDelivered = func(ackFromPeerID string) {}
	}
	if b.Filters.ReadReceipt == nil {
		b.Filters.ReadReceipt = func(peerID string, messageID []byte) {}
	}
	if b.Filters.VerifyChallenge == nil {
		b.Filters.VerifyChallenge = func(peerID string, payload []byte) {}
	}
	if b.Filters.VerifyResponse == nil {
		b.Filters.VerifyResponse = func(peerID string, payload []byte) {}
	}
	if b.Filters.Passthrough == nil {
		b.Filters.Passthrough = func(pkt *wire.Packet) {}
	}
}

// LogError forwards to the installed Filters.LogError hook, mirroring the
// teacher's backend.LogError convenience method over backend.Filters.LogError.
func (b *Backend) LogError(function, format string, v ...interface{}) {
	b.Filters.LogError(function, format, v...)
}
