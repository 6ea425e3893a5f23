/*
Package adminapi exposes the operator introspection surface SPEC_FULL.md
calls for: peer list, session states, and a live event stream of delegate
callbacks. It is a debug/ops surface, not the excluded chat UI.

Grounded on the teacher's webapi/API.go: a WebapiInstance-style struct
wrapping a *mux.Router, one HandleFunc per route registered in a
constructor, JSON responses via a shared encode helper, and a
gorilla/websocket upgrade for the streaming endpoint.
*/
package adminapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Backend is the subset of the root orchestrator this API reads from. It
// is an interface so the admin surface can be tested without a full
// constructed node.
type Backend interface {
	PeerID() string
	Nickname() string
	PeerList() []PeerInfo
	SessionStates() []SessionInfo
}

// PeerInfo is one row of the /peers response.
type PeerInfo struct {
	PeerID      string    `json:"peer_id"`
	Nickname    string    `json:"nickname"`
	Transport   string    `json:"transport"`
	IsConnected bool      `json:"is_connected"`
	LastSeen    time.Time `json:"last_seen"`
}

// SessionInfo is one row of the /sessions response.
type SessionInfo struct {
	PeerID        string `json:"peer_id"`
	State         string `json:"state"`
	SentCount     uint64 `json:"sent_count"`
	ReceivedCount uint64 `json:"received_count"`
	NeedsRekey    bool   `json:"needs_rekey"`
}

// Event is one entry of the live /events websocket stream, one per
// delegate callback the root orchestrator observes.
type Event struct {
	Kind      string    `json:"kind"`
	PeerID    string    `json:"peer_id,omitempty"`
	Transport string    `json:"transport,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// wsUpgrader allows all origins, matching the teacher's debug-surface
// posture of accepting any local tool that wants to connect.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// API is the admin introspection HTTP+WS server.
type API struct {
	backend Backend
	Router  *mux.Router

	mu         sync.Mutex
	subscribers map[chan Event]struct{}
}

// New constructs the admin API and registers its routes.
func New(backend Backend) *API {
	api := &API{
		backend:     backend,
		Router:      mux.NewRouter(),
		subscribers: make(map[chan Event]struct{}),
	}

	api.Router.HandleFunc("/status", api.handleStatus).Methods("GET")
	api.Router.HandleFunc("/peers", api.handlePeers).Methods("GET")
	api.Router.HandleFunc("/sessions", api.handleSessions).Methods("GET")
	api.Router.HandleFunc("/events", api.handleEvents).Methods("GET")

	return api
}

// ListenAndServe starts the admin surface on addr. It blocks until the
// server errors or the process exits.
func (api *API) ListenAndServe(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      api.Router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}

func encodeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

type statusResponse struct {
	PeerID       string `json:"peer_id"`
	Nickname     string `json:"nickname"`
	CountPeers   int    `json:"count_peers"`
	CountSessions int   `json:"count_sessions"`
}

func (api *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	encodeJSON(w, statusResponse{
		PeerID:        api.backend.PeerID(),
		Nickname:      api.backend.Nickname(),
		CountPeers:    len(api.backend.PeerList()),
		CountSessions: len(api.backend.SessionStates()),
	})
}

func (api *API) handlePeers(w http.ResponseWriter, r *http.Request) {
	encodeJSON(w, api.backend.PeerList())
}

func (api *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	encodeJSON(w, api.backend.SessionStates())
}

// handleEvents upgrades to a websocket and streams every Publish call
// until the connection breaks, the same shape as the teacher's
// apiSearchResultStream loop.
func (api *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := make(chan Event, 32)
	api.mu.Lock()
	api.subscribers[ch] = struct{}{}
	api.mu.Unlock()
	defer func() {
		api.mu.Lock()
		delete(api.subscribers, ch)
		api.mu.Unlock()
		close(ch)
	}()

	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// Publish fans ev out to every connected /events subscriber. The root
// orchestrator calls this from its transport.Delegate implementation.
func (api *API) Publish(ev Event) {
	api.mu.Lock()
	defer api.mu.Unlock()
	for ch := range api.subscribers {
		select {
		case ch <- ev:
		default: // slow subscriber, drop rather than block the publisher
		}
	}
}
