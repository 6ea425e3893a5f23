package transport

// battery window for rule 1 of §4.E.4: low but not critically low.
const (
	lowBatteryFloor   = 0
	lowBatteryCeiling = 15
	largePayloadBytes = 200
)

// Selector arbitrates between the registered transports per spec.md
// §4.E.4's exact priority order, merges their peer snapshots by peer id,
// and fans broadcasts out to every available transport.
type Selector struct {
	transports []Transport
	power      PowerState
}

// NewSelector builds a Selector over transports. Rules 1–4 pick by name;
// rule 5 takes the first transport, in registration order, that can reach
// the peer. power may
// be nil, in which case rule 1 (battery-aware preference) never fires.
func NewSelector(power PowerState, transports ...Transport) *Selector {
	return &Selector{transports: transports, power: power}
}

func (s *Selector) byName(name string) Transport {
	for _, t := range s.transports {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

func (s *Selector) reachable(name, peerID string) bool {
	t := s.byName(name)
	return t != nil && t.IsAvailable() && t.IsPeerReachable(peerID)
}

func (s *Selector) connected(name, peerID string) bool {
	t := s.byName(name)
	if t == nil || !t.IsAvailable() {
		return false
	}
	for _, p := range t.PeerSnapshots() {
		if p.PeerID == peerID && p.IsConnected {
			return true
		}
	}
	return false
}

// Choose implements spec.md §4.E.4's exact priority order for a single
// directed send of dataLen bytes to peerID:
//
//  1. battery in (0,15)% and the link transport can reach peerID -> link
//  2. payload over 200 bytes and rendezvous reports peerID connected -> rendezvous
//  3. rendezvous reports peerID connected, at any payload size -> rendezvous
//  4. link can reach peerID -> link
//  5. the first transport (in registration order) that can reach peerID at all
//  6. otherwise link, so the send still goes out as a broadcast
func (s *Selector) Choose(peerID string, dataLen int) Transport {
	if s.power != nil {
		pct := s.power.BatteryPercent()
		if pct > lowBatteryFloor && pct < lowBatteryCeiling && s.reachable("link", peerID) {
			return s.byName("link")
		}
	}

	if dataLen > largePayloadBytes && s.connected("rendezvous", peerID) {
		return s.byName("rendezvous")
	}

	if s.connected("rendezvous", peerID) {
		return s.byName("rendezvous")
	}

	if s.reachable("link", peerID) {
		return s.byName("link")
	}

	for _, t := range s.transports {
		if t.IsAvailable() && t.IsPeerReachable(peerID) {
			return t
		}
	}

	return s.byName("link")
}

// SendPrivateMessage routes a directed payload through Choose.
func (s *Selector) SendPrivateMessage(peerID string, payload []byte) error {
	t := s.Choose(peerID, len(payload))
	if t == nil {
		return errNoTransport
	}
	return t.SendPrivateMessage(peerID, payload)
}

// Broadcast fans a payload out to every available transport (spec.md
// §4.E.4: "Broadcasts fan out to all transports.").
func (s *Selector) Broadcast(payload []byte) error {
	var firstErr error
	for _, t := range s.transports {
		if !t.IsAvailable() {
			continue
		}
		if err := t.BroadcastRaw(payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MergedPeers merges every transport's peer snapshot flow by peer id,
// preferring a connected and more recently seen record when more than one
// transport reports the same peer (spec.md §4.E.4).
func (s *Selector) MergedPeers() []PeerSnapshot {
	merged := make(map[string]PeerSnapshot)
	for _, t := range s.transports {
		if !t.IsAvailable() {
			continue
		}
		for _, p := range t.PeerSnapshots() {
			existing, ok := merged[p.PeerID]
			if !ok {
				merged[p.PeerID] = p
				continue
			}
			if better(p, existing) {
				merged[p.PeerID] = p
			}
		}
	}
	out := make([]PeerSnapshot, 0, len(merged))
	for _, p := range merged {
		out = append(out, p)
	}
	return out
}

func better(candidate, existing PeerSnapshot) bool {
	if candidate.IsConnected != existing.IsConnected {
		return candidate.IsConnected
	}
	return candidate.LastSeen.After(existing.LastSeen)
}

var errNoTransport = &noTransportError{}

type noTransportError struct{}

func (*noTransportError) Error() string { return "transport: no transport available" }
