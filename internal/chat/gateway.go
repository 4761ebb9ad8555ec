package chat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AvinashSuthar/chat-backend/internal/models"
	"github.com/AvinashSuthar/chat-backend/internal/observability/metrics"
	"github.com/AvinashSuthar/chat-backend/internal/storage"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 8192
	sendBufferSize = 32

	defaultAuthGracePeriod = 10 * time.Second
)

// TokenVerifier resolves an opaque session token to a user ID.
// auth.SessionManager satisfies this interface.
type TokenVerifier interface {
	Validate(token string) (string, time.Time, bool, error)
}

// GatewayConfig configures a chat Gateway.
type GatewayConfig struct {
	Router   *Router
	Presence *Registry
	Verifier TokenVerifier
	Feed     Queue
	Logger   *slog.Logger
	// AuthGracePeriod bounds how long a connection may stay unauthenticated
	// before it is closed.
	AuthGracePeriod time.Duration
	// CheckOrigin overrides the upgrader origin policy. Nil allows all
	// origins; cross-origin protection is enforced by the CORS middleware.
	CheckOrigin func(*http.Request) bool
}

// Gateway owns the WebSocket connection lifecycle. Every connection walks
// Pending -> Active -> Closed: it starts unauthenticated, must present a
// valid session token within the grace period, binds to exactly one user for
// its lifetime, and deregisters exactly once on the way out.
type Gateway struct {
	router    *Router
	presence  *Registry
	verifier  TokenVerifier
	feed      Queue
	logger    *slog.Logger
	authGrace time.Duration
	upgrader  websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*client
}

// NewGateway initialises a gateway using the provided configuration.
func NewGateway(cfg GatewayConfig) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := cfg.AuthGracePeriod
	if grace <= 0 {
		grace = defaultAuthGracePeriod
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Gateway{
		router:    cfg.Router,
		presence:  cfg.Presence,
		verifier:  cfg.Verifier,
		feed:      cfg.Feed,
		logger:    logger,
		authGrace: grace,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		conns: make(map[string]*client),
	}
}

// HandleConnection upgrades the HTTP request and starts the connection state
// machine. The connection stays Pending until the client sends a valid auth
// frame.
func (g *Gateway) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		id:      generateConnectionID(),
		gateway: g,
		conn:    conn,
		send:    make(chan outboundMessage, sendBufferSize),
		cancel:  cancel,
	}
	c.authTimer = time.AfterFunc(g.authGrace, func() {
		c.abort("auth_timeout", "authentication grace period expired")
	})

	g.mu.Lock()
	g.conns[c.id] = c
	g.mu.Unlock()
	metrics.ConnectionOpened()

	go c.writePump(ctx)
	go c.readPump()
}

// Deliver pushes a committed message onto a connection's send buffer without
// blocking. A full buffer or unknown connection is reported to the caller as
// a delivery failure.
func (g *Gateway) Deliver(connectionID string, message models.Message) error {
	g.mu.RLock()
	c, ok := g.conns[connectionID]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("connection %s is not registered", connectionID)
	}
	select {
	case c.send <- outboundMessage{Type: "message", Message: &message}:
		return nil
	default:
		return fmt.Errorf("connection %s send buffer full", connectionID)
	}
}

// ActiveConnections reports how many connections the gateway currently owns,
// authenticated or not.
func (g *Gateway) ActiveConnections() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

func (g *Gateway) removeConnection(c *client) {
	g.mu.Lock()
	delete(g.conns, c.id)
	g.mu.Unlock()
}

func (g *Gateway) publishPresence(userID, connectionID string, online bool) {
	if g.feed == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.feed.Publish(ctx, NewPresenceEvent(userID, connectionID, online)); err != nil {
		g.logger.Warn("failed to publish presence event", "error", err)
	}
}

func generateConnectionID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("conn-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

type connState int

const (
	statePending connState = iota
	stateActive
	stateClosed
)

type client struct {
	id      string
	gateway *Gateway
	conn    *websocket.Conn
	send    chan outboundMessage
	cancel  context.CancelFunc

	authTimer *time.Timer
	closeOnce sync.Once

	// writeMu serializes socket writes between the writePump and the
	// synchronous error path in abort.
	writeMu sync.Mutex

	mu     sync.Mutex
	state  connState
	userID string
}

type inboundMessage struct {
	Type        string `json:"type"`
	Token       string `json:"token,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
	ChannelID   string `json:"channelId,omitempty"`
	MessageType string `json:"messageType,omitempty"`
	Content     string `json:"content,omitempty"`
	FileURL     string `json:"fileUrl,omitempty"`
}

type outboundMessage struct {
	Type         string          `json:"type"`
	ConnectionID string          `json:"connectionId,omitempty"`
	UserID       string          `json:"userId,omitempty"`
	Message      *models.Message `json:"message,omitempty"`
	Code         string          `json:"code,omitempty"`
	Error        string          `json:"error,omitempty"`
}

func (c *client) readPump() {
	defer c.close()
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gateway.logger.Debug("websocket closed unexpectedly", "connectionId", c.id, "error", err)
			}
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.sendError("invalid", "malformed frame")
			continue
		}
		c.handleInbound(msg)
	}
}

func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-ctx.Done():
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.writeMu.Unlock()
			return
		case msg := <-c.send:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteJSON(msg)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *client) handleInbound(msg inboundMessage) {
	switch msg.Type {
	case "auth":
		c.handleAuth(msg.Token)
	case "direct", "channel":
		c.handleSend(msg)
	default:
		c.sendError("invalid", fmt.Sprintf("unsupported frame type %q", msg.Type))
	}
}

// handleAuth performs the one-shot identity binding. A connection
// authenticates at most once; repeated claims are rejected without touching
// the existing binding.
func (c *client) handleAuth(token string) {
	c.mu.Lock()
	if c.state == stateActive {
		c.mu.Unlock()
		c.sendError("already_authenticated", "connection is already bound to a user")
		return
	}
	if c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	userID, _, ok, err := c.gateway.verifier.Validate(token)
	if err != nil || !ok {
		authErr := &AuthError{Reason: "invalid or expired token"}
		if err != nil {
			c.gateway.logger.Warn("token verification failed", "connectionId", c.id, "error", err)
			authErr.Reason = "token verification unavailable"
		}
		c.abort("auth_failed", authErr.Error())
		return
	}

	if err := c.gateway.presence.Register(userID, c.id); err != nil {
		c.gateway.logger.Error("presence registration failed", "connectionId", c.id, "userId", userID, "error", err)
		c.abort("auth_failed", "could not register connection")
		return
	}

	// The grace timer or a pump error may have closed the connection while
	// verification was in flight. In that case the close path saw a Pending
	// connection and deregistered nothing, so undo the registration here
	// instead of resurrecting a closed connection.
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		c.gateway.presence.Deregister(userID, c.id)
		metrics.SetOnlineUsers(c.gateway.presence.OnlineUsers())
		return
	}
	c.state = stateActive
	c.userID = userID
	c.mu.Unlock()

	if c.authTimer != nil {
		c.authTimer.Stop()
	}
	metrics.SetOnlineUsers(c.gateway.presence.OnlineUsers())
	c.gateway.publishPresence(userID, c.id, true)
	c.enqueue(outboundMessage{Type: "welcome", ConnectionID: c.id, UserID: userID})
}

func (c *client) handleSend(msg inboundMessage) {
	c.mu.Lock()
	state, userID := c.state, c.userID
	c.mu.Unlock()
	if state != stateActive {
		c.sendError("auth_required", "authenticate before sending messages")
		return
	}

	draft := Draft{
		Type:    models.MessageType(msg.MessageType),
		Content: msg.Content,
		FileURL: msg.FileURL,
	}

	var committed models.Message
	var err error
	switch msg.Type {
	case "direct":
		committed, err = c.gateway.router.SendDirect(context.Background(), userID, msg.RecipientID, draft)
	case "channel":
		committed, err = c.gateway.router.SendToChannel(context.Background(), userID, msg.ChannelID, draft)
	}
	if err != nil {
		c.sendError(sendErrorCode(err), err.Error())
		return
	}
	c.enqueue(outboundMessage{Type: "ack", Message: &committed})
}

func sendErrorCode(err error) string {
	var persistence *PersistenceError
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.As(err, &persistence):
		return "persistence"
	case errors.Is(err, storage.ErrInvalidMessage):
		return "invalid"
	default:
		return "invalid"
	}
}

func (c *client) enqueue(msg outboundMessage) {
	select {
	case c.send <- msg:
	default:
		c.gateway.logger.Warn("dropping frame for slow connection", "connectionId", c.id, "type", msg.Type)
	}
}

func (c *client) sendError(code, message string) {
	c.enqueue(outboundMessage{Type: "error", Code: code, Error: message})
}

// abort writes the error frame synchronously and tears the connection down.
// Enqueueing would lose the frame: close cancels the writePump before it
// drains the send buffer, and the client deserves to see why it was dropped.
func (c *client) abort(code, message string) {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteJSON(outboundMessage{Type: "error", Code: code, Error: message})
	c.writeMu.Unlock()
	c.close()
}

// close tears the connection down exactly once: presence deregistration,
// timer cleanup, and socket shutdown all ride the same sync.Once, so double
// closes and races between the pumps are harmless.
func (c *client) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		wasActive := c.state == stateActive
		userID := c.userID
		c.state = stateClosed
		c.mu.Unlock()

		if c.authTimer != nil {
			c.authTimer.Stop()
		}
		if wasActive {
			c.gateway.presence.Deregister(userID, c.id)
			metrics.SetOnlineUsers(c.gateway.presence.OnlineUsers())
			c.gateway.publishPresence(userID, c.id, false)
		}
		c.gateway.removeConnection(c)
		metrics.ConnectionClosed()
		c.cancel()
		_ = c.conn.Close()
	})
}
