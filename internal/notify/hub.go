package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	work "github.com/victorgomez09/suivi/internal/work/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
	checkWait  = 5 * time.Second
)

type client struct {
	id         string
	identityID int64
	sessionID  string
	conn       *websocket.Conn
	send       chan []byte
}

// SessionCheck returns an error once a session may no longer be used.
type SessionCheck func(ctx context.Context, sessionID string) error

// Hub pushes notifications to the websocket connections of their recipients.
// An identity may hold several connections.
type Hub struct {
	mu       sync.RWMutex
	clients  map[int64]map[*client]struct{}
	upgrader websocket.Upgrader
	check    SessionCheck
	ping     time.Duration
	logger   *zap.Logger
	closed   bool
}

// NewHub accepts connections whose Origin matches the request host or one of allowedOrigins.
// A single "*" allows any origin.
func NewHub(logger *zap.Logger, allowedOrigins []string) *Hub {
	h := &Hub{
		clients: make(map[int64]map[*client]struct{}),
		ping:    pingPeriod,
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// CheckSessions makes every ping tick re-check the session a connection was opened with.
// Connections whose session expired, was revoked elsewhere or whose identity was locked are
// closed. Must be called before the first connection.
func (h *Hub) CheckSessions(check SessionCheck) {
	h.check = check
}

// ServeWS upgrades the request and streams notifications for identityID until the peer goes
// away or sessionID ends.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, identityID int64, sessionID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:         uuid.New().String(),
		identityID: identityID,
		sessionID:  sessionID,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
	}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	h.logger.Debug("Websocket client connected",
		zap.String("client_id", c.id),
		zap.Int64("identity_id", identityID),
		zap.String("remote_addr", r.RemoteAddr))

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.clients[c.identityID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.identityID] = set
	}
	set[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(c)
}

// drop removes c and closes its send channel, which makes writePump send a close frame.
// Callers hold h.mu.
func (h *Hub) drop(c *client) {
	set, ok := h.clients[c.identityID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.identityID)
	}
	close(c.send)
}

// readPump discards client messages; it exists to process control frames and notice disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
		h.logger.Debug("Websocket client disconnected", zap.String("client_id", c.id))
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.ping)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if h.sessionEnded(c) {
				h.unregister(c)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sessionEnded asks the session check about c. Store failures keep the connection open.
func (h *Hub) sessionEnded(c *client) bool {
	if h.check == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), checkWait)
	defer cancel()
	err := h.check(ctx, c.sessionID)
	if err == nil {
		return false
	}
	if errors.Is(err, apierr.ErrStore) {
		h.logger.Warn("Session check failed", zap.String("client_id", c.id), zap.Error(err))
		return false
	}
	h.logger.Debug("Closing websocket of ended session",
		zap.String("client_id", c.id),
		zap.Int64("identity_id", c.identityID),
		zap.Error(err))
	return true
}

// SessionRevoked closes the connections opened with sessionID.
func (h *Hub) SessionRevoked(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for c := range set {
			if c.sessionID == sessionID {
				h.drop(c)
			}
		}
	}
}

// IdentityRevoked closes every connection of identityID.
func (h *Hub) IdentityRevoked(identityID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[identityID] {
		h.drop(c)
	}
}

// Publish sends n to every connection of its recipient. Slow connections drop the message.
func (h *Hub) Publish(n *work.Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		h.logger.Error("Failed to encode notification", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[n.IdentityID] {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("Dropping notification for slow websocket client",
				zap.String("client_id", c.id),
				zap.Int64("identity_id", n.IdentityID))
		}
	}
}

// Connected returns the number of open connections of an identity.
func (h *Hub) Connected(identityID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[identityID])
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, id)
	}
}
