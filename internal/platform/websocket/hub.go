// Package websocket pushes real-time events to signed-in users. Every
// connection is bound to one authenticated user and receives that user's
// notifications; appointment chat topics are joined on request once the
// authorizer allows it.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/bspoke/health/internal/platform/auth"
)

// Event represents a real-time notification sent to WebSocket clients.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an Event for topic.
func NewEvent(eventType, topic string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Topic: topic, Timestamp: time.Now().UTC(), Data: raw}, nil
}

// ClientMessage represents an inbound message from a WebSocket client.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// EventPublisher defines the interface for publishing events to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// UserTopic is the private topic every connection of a user joins.
func UserTopic(userID uuid.UUID) string { return "user:" + userID.String() }

// AppointmentTopic carries the chat of one appointment.
func AppointmentTopic(appointmentID uuid.UUID) string { return "appointment:" + appointmentID.String() }

// TopicAuthorizer decides whether a user may join a topic beyond their own.
type TopicAuthorizer interface {
	CanSubscribe(ctx context.Context, id auth.Identity, topic string) bool
}

// Client represents a single WebSocket connection.
type Client struct {
	ID       string
	Identity auth.Identity
	Topics   []string
	Send     chan []byte
}

// Hub is the central connection manager that tracks clients and their topic
// subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.addLocked(topic, client)
	}
}

// Unregister removes a client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.removeLocked(topic, client)
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds topics to an already-registered client.
func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		if hasTopic(client.Topics, topic) {
			continue
		}
		h.addLocked(topic, client)
		client.Topics = append(client.Topics, topic)
	}
}

// Unsubscribe removes topics from a client. The private user topic stays.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	own := UserTopic(client.Identity.UserID)
	remaining := client.Topics[:0]
	for _, t := range client.Topics {
		if t != own && hasTopic(topics, t) {
			h.removeLocked(t, client)
			continue
		}
		remaining = append(remaining, t)
	}
	client.Topics = remaining
}

func (h *Hub) addLocked(topic string, client *Client) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

func (h *Hub) removeLocked(topic string, client *Client) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
}

func hasTopic(topics []string, topic string) bool {
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}

// Broadcast sends an event to all clients subscribed to the given topic.
// Clients with a full buffer are skipped.
func (h *Hub) Broadcast(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("websocket: marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client", client.ID).Str("topic", topic).Msg("websocket: send buffer full, dropping event")
		}
	}
}

// Publish implements EventPublisher.
func (h *Hub) Publish(_ context.Context, event Event) error {
	h.Broadcast(event.Topic, event)
	return nil
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to a specific topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// ---------------------------------------------------------------------------
// WebSocketHandler
// ---------------------------------------------------------------------------

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 4096
)

// WebSocketHandler upgrades authenticated requests and routes client
// subscribe/unsubscribe messages.
type WebSocketHandler struct {
	hub      *Hub
	tokens   *auth.TokenIssuer
	revoker  auth.Revoker
	authz    TopicAuthorizer
	upgrader gorillawebsocket.Upgrader
	logger   zerolog.Logger
}

// NewWebSocketHandler creates a handler bound to hub. An empty origins list
// accepts any origin.
func NewWebSocketHandler(hub *Hub, tokens *auth.TokenIssuer, revoker auth.Revoker, authz TopicAuthorizer, origins []string, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:     hub,
		tokens:  tokens,
		revoker: revoker,
		authz:   authz,
		logger:  logger,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
	}
}

func originChecker(origins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(origins) == 0 {
			return true
		}
		for _, o := range origins {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// RegisterRoutes registers the WebSocket endpoint on the provided Echo group.
func (wsh *WebSocketHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wsh.HandleConnect)
}

// HandleConnect authenticates the session token (query parameter "token" or
// a bearer header), upgrades the connection and starts the pumps.
func (wsh *WebSocketHandler) HandleConnect(c echo.Context) error {
	raw := c.QueryParam("token")
	if raw == "" {
		raw, _ = auth.BearerToken(c.Request())
	}
	if raw == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}
	claims, err := auth.Authenticate(c.Request().Context(), wsh.tokens, wsh.revoker, raw)
	if err != nil {
		return err
	}
	identity := claims.Identity()

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:       uuid.NewString(),
		Identity: identity,
		Topics:   []string{UserTopic(identity.UserID)},
		Send:     make(chan []byte, 256),
	}
	wsh.hub.Register(client)
	wsh.logger.Debug().Str("client", client.ID).Str("user_id", identity.UserID.String()).Msg("websocket connected")

	go wsh.writePump(client, ws)
	go wsh.readPump(client, ws)
	return nil
}

// ProcessMessage handles an inbound ClientMessage. Topics the authorizer
// rejects are ignored.
func (wsh *WebSocketHandler) ProcessMessage(ctx context.Context, client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		allowed := make([]string, 0, len(msg.Topics))
		for _, t := range msg.Topics {
			if t == UserTopic(client.Identity.UserID) || (wsh.authz != nil && wsh.authz.CanSubscribe(ctx, client.Identity, t)) {
				allowed = append(allowed, t)
				continue
			}
			wsh.logger.Warn().Str("client", client.ID).Str("topic", t).Msg("websocket: subscription denied")
		}
		wsh.hub.Subscribe(client, allowed)
	case "unsubscribe":
		wsh.hub.Unsubscribe(client, msg.Topics)
	}
}

func (wsh *WebSocketHandler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessage)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		wsh.ProcessMessage(ctx, client, msg)
		cancel()
	}
}

func (wsh *WebSocketHandler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
