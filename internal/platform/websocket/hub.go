// Package websocket pushes realtime events to signed-in users. Every client
// belongs to one user and is subscribed to that user's topic; the hub fans
// events published on a topic out to its clients.
package websocket

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event types pushed to clients.
const (
	EventNotification       = "notification"
	EventAccountDeactivated = "account.deactivated"
)

// Event is a realtime message sent to clients.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound message from a client.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// EventPublisher publishes events to topic subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// UserTopic is the topic every client of uid is subscribed to.
func UserTopic(uid string) string {
	return "user/" + uid
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is a single WebSocket connection.
type Client struct {
	ID     string
	UserID string
	Topics []string
	Send   chan []byte
	hub    *Hub
	conn   Conn
}

// Hooks observe client lifecycle. Each Register of a new client is paired
// with exactly one OnDisconnect.
type Hooks struct {
	OnConnect    func(userID string)
	OnDisconnect func(userID string)
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}
	hooks   Hooks
	logger  zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "websocket").Logger(),
	}
}

// SetHooks installs lifecycle hooks. Call before serving connections.
func (h *Hub) SetHooks(hooks Hooks) {
	h.mu.Lock()
	h.hooks = hooks
	h.mu.Unlock()
}

// Register adds a client and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	if _, ok := h.all[client]; ok {
		h.mu.Unlock()
		return
	}
	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.addLocked(topic, client)
	}
	onConnect := h.hooks.OnConnect
	h.mu.Unlock()

	if onConnect != nil && client.UserID != "" {
		onConnect(client.UserID)
	}
}

// Unregister removes a client from every topic and closes its Send channel.
// Calling it for an unknown client is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.all[client]; !ok {
		h.mu.Unlock()
		return
	}
	for _, topic := range client.Topics {
		h.removeLocked(topic, client)
	}
	delete(h.all, client)
	close(client.Send)
	onDisconnect := h.hooks.OnDisconnect
	h.mu.Unlock()

	if onDisconnect != nil && client.UserID != "" {
		onDisconnect(client.UserID)
	}
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

// Subscribe adds topics to a registered client.
func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range topics {
		if hasTopic(client.Topics, topic) {
			continue
		}
		h.addLocked(topic, client)
		client.Topics = append(client.Topics, topic)
	}
}

// Unsubscribe removes topics from a registered client. A client always stays
// on its own user topic.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	own := UserTopic(client.UserID)
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

func hasTopic(topics []string, topic string) bool {
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}

// CanSubscribe reports whether client may subscribe to topic. Clients may
// only follow topics under their own user topic.
func CanSubscribe(client *Client, topic string) bool {
	own := UserTopic(client.UserID)
	return client.UserID != "" && (topic == own || strings.HasPrefix(topic, own+"/"))
}

// ProcessMessage handles subscribe/unsubscribe requests from a client.
// Topics the client may not follow are ignored.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	allowed := make([]string, 0, len(msg.Topics))
	for _, t := range msg.Topics {
		if CanSubscribe(client, t) {
			allowed = append(allowed, t)
		}
	}
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, allowed)
	case "unsubscribe":
		h.Unsubscribe(client, allowed)
	}
}

// Broadcast sends event to every client subscribed to topic. Clients with a
// full buffer miss the event.
func (h *Hub) Broadcast(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client", client.ID).Str("topic", topic).Msg("client buffer full, event dropped")
		}
	}
}

// Publish implements EventPublisher.
func (h *Hub) Publish(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	h.Broadcast(event.Topic, event)
	return nil
}

// DisconnectUser unregisters every client that belongs to uid, whatever
// topics it follows. Events already queued are flushed by the write pump
// before the connection closes. Returns the number of clients disconnected.
func (h *Hub) DisconnectUser(uid string) int {
	h.mu.RLock()
	var targets []*Client
	for client := range h.all {
		if client.UserID == uid {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		h.Unregister(client)
	}
	return len(targets)
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}
