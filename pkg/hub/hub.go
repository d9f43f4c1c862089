// Package hub owns the connection registry: the single live connection
// per authenticated identity, presence derived from it, and delivery of
// envelopes to user connections. Conversation semantics live elsewhere;
// the hub only knows identities and transports.
package hub

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/telemetry"
)

// Handler receives every well-formed inbound envelope. Implemented by the
// protocol dispatcher; the indirection keeps the hub free of conversation
// logic.
type Handler interface {
	HandleEnvelope(c *Client, env models.Envelope)
}

// Config carries hub tunables from the config file.
type Config struct {
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
	// RPS and Burst bound inbound envelopes per connection.
	RPS   float64
	Burst int
}

type Hub struct {
	mu      sync.Mutex
	clients map[string]*Client

	handler      Handler
	onDisconnect func(userID string)

	sendBuffer int
	limitRPS   float64
	limitBurst int

	upgrader websocket.Upgrader
}

func New(cfg Config) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 25
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 50
	}
	return &Hub{
		clients:    make(map[string]*Client),
		sendBuffer: cfg.SendBuffer,
		limitRPS:   cfg.RPS,
		limitBurst: cfg.Burst,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// origin policy is enforced upstream; the engine accepts any
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetHandler installs the protocol dispatcher.
func (h *Hub) SetHandler(handler Handler) { h.handler = handler }

// SetOnDisconnect installs the cleanup hook invoked exactly once when an
// identity's connection leaves the registry (typing cleanup lives there).
func (h *Hub) SetOnDisconnect(fn func(userID string)) { h.onDisconnect = fn }

// ServeWS upgrades an HTTP request into a managed connection and blocks
// in the read pump until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := newClient(h, conn)
	go c.writePump()
	c.Send(models.NewEnvelope(models.TypeConnectionEstablished, models.ConnectionEstablishedData{
		Timestamp: time.Now().UTC().UnixNano(),
	}))
	c.readPump()
}

// NewTestClient builds a client over an arbitrary Conn without an HTTP
// upgrade. Used by tests; the caller runs the pumps it needs.
func (h *Hub) NewTestClient(conn Conn) *Client {
	return newClient(h, conn)
}

func (h *Hub) dispatch(c *Client, env models.Envelope) {
	if h.handler == nil {
		c.SendError("protocol", "server not ready")
		return
	}
	h.handler.HandleEnvelope(c, env)
}

// Admit registers c as the authoritative connection for userID. An
// existing connection for the same identity is superseded: forcibly
// closed before the new one is recorded. The online presence event goes
// out to every other connection.
func (h *Hub) Admit(c *Client, userID, userName string) {
	c.UserID = userID
	c.UserName = userName
	c.lastSeen.Store(time.Now().UTC().UnixNano())

	h.mu.Lock()
	old := h.clients[userID]
	h.clients[userID] = c
	h.mu.Unlock()

	if old != nil && old != c {
		telemetry.Supersessions.Inc()
		logger.Info("connection_superseded", "user", userID)
		old.close()
	} else {
		telemetry.ActiveConnections.Inc()
	}
	logger.Info("connection_admitted", "user", userID)

	h.broadcast(models.NewEnvelope(models.TypePresenceUpdate, models.PresenceUpdateData{
		UserID:    userID,
		IsOnline:  true,
		Timestamp: time.Now().UTC().UnixNano(),
	}), userID)
}

// Remove deletes c from the registry if it is still the authoritative
// connection for its identity, announces offline presence, and runs the
// single disconnect cleanup hook. Superseded connections fall through:
// their identity is still online on the newer connection.
func (h *Hub) Remove(c *Client) {
	if c.UserID == "" {
		return
	}
	h.mu.Lock()
	cur, ok := h.clients[c.UserID]
	if !ok || cur != c {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.UserID)
	h.mu.Unlock()

	telemetry.ActiveConnections.Dec()
	logger.Info("connection_removed", "user", c.UserID)

	if h.onDisconnect != nil {
		h.onDisconnect(c.UserID)
	}
	h.broadcast(models.NewEnvelope(models.TypePresenceUpdate, models.PresenceUpdateData{
		UserID:    c.UserID,
		IsOnline:  false,
		Timestamp: time.Now().UTC().UnixNano(),
	}), c.UserID)
}

// Active returns a presence snapshot of every registered identity.
func (h *Hub) Active() []models.PresenceEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.PresenceEntry, 0, len(h.clients))
	for id, c := range h.clients {
		out = append(out, models.PresenceEntry{UserID: id, IsOnline: true, LastSeen: c.LastSeen()})
	}
	return out
}

// OnlineUserIDs returns the ids of all registered identities.
func (h *Hub) OnlineUserIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.clients))
	for id := range h.clients {
		out = append(out, id)
	}
	return out
}

// IsOnline reports whether userID has a live connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.Lock()
	_, ok := h.clients[userID]
	h.mu.Unlock()
	return ok
}

// LookupName returns the display name recorded at admit time.
func (h *Hub) LookupName(userID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[userID]; ok {
		return c.UserName
	}
	return userID
}

// SendToUser delivers env to userID's live connection, if any.
func (h *Hub) SendToUser(userID string, env models.Envelope) bool {
	h.mu.Lock()
	c, ok := h.clients[userID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	return c.Send(env)
}

// SendToUsers fans env out to every listed identity with a live
// connection, encoding once. except is skipped (pass "" to include all).
func (h *Hub) SendToUsers(userIDs []string, env models.Envelope, except string) {
	b, err := EncodeEnvelope(env)
	if err != nil {
		logger.Error("envelope_encode_failed", "type", env.Type, "error", err)
		return
	}
	h.mu.Lock()
	targets := make([]*Client, 0, len(userIDs))
	for _, id := range userIDs {
		if id == except {
			continue
		}
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()
	for _, c := range targets {
		c.enqueue(b)
	}
}

// broadcast sends env to every connection except the named identity.
func (h *Hub) broadcast(env models.Envelope, except string) {
	b, err := EncodeEnvelope(env)
	if err != nil {
		return
	}
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.clients))
	for id, c := range h.clients {
		if id == except {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()
	for _, c := range targets {
		c.enqueue(b)
	}
}
