// Package realtime streams registration status changes to WebSocket clients. Events fan out across
// instances through Redis pub/sub.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-events/backend/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	// EventRegistrationStatus is sent whenever a registration changes status.
	EventRegistrationStatus = "registration_status"
)

// StatusEvent is the payload of EventRegistrationStatus.
type StatusEvent struct {
	RegistrationID uuid.UUID                 `json:"registration_id"`
	Status         models.RegistrationStatus `json:"status"`
	Protocol       string                    `json:"protocol,omitempty"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

// NewStatusEvent builds the event for r.
func NewStatusEvent(r *models.Registration) StatusEvent {
	return StatusEvent{RegistrationID: r.ID, Status: r.Status, Protocol: r.ProtocolValue(), UpdatedAt: r.UpdatedAt}
}

// Publisher publishes registration events for cross-instance delivery.
type Publisher interface {
	PublishRegistrationEvent(ctx context.Context, registrationID uuid.UUID, event string, payload []byte) error
}

// Subscriber subscribes to a registration's channel and invokes handler for incoming events.
type Subscriber interface {
	SubscribeRegistration(registrationID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains registration_id -> set of connections.
type Hub struct {
	rooms  map[uuid.UUID]map[string]*Client
	subs   map[uuid.UUID]func()
	mu     sync.RWMutex
	logger *zap.Logger
	pub    Publisher
	sub    Subscriber
}

// NewHub creates a hub. With a nil publisher events are delivered to local clients only.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:  make(map[uuid.UUID]map[string]*Client),
		subs:   make(map[uuid.UUID]func()),
		logger: logger,
		pub:    pub,
		sub:    sub,
	}
}

// Register adds a client to its registration's room, subscribing to Redis for the first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[c.RegistrationID] == nil {
		h.rooms[c.RegistrationID] = make(map[string]*Client)
		if h.sub != nil {
			id := c.RegistrationID
			cancel, err := h.sub.SubscribeRegistration(id, func(event string, payload []byte) {
				h.Broadcast(id, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("registration subscribe failed", zap.String("registration_id", id.String()), zap.Error(err))
			} else {
				h.subs[id] = cancel
			}
		}
	}
	h.rooms[c.RegistrationID][c.ID] = c
	h.logger.Debug("client watching registration", zap.String("client_id", c.ID), zap.String("registration_id", c.RegistrationID.String()))
}

// Unregister removes a client, cancelling the Redis subscription when the room empties.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.rooms[c.RegistrationID]
	if !ok {
		return
	}
	delete(m, c.ID)
	if len(m) == 0 {
		delete(h.rooms, c.RegistrationID)
		if cancel, ok := h.subs[c.RegistrationID]; ok {
			cancel()
			delete(h.subs, c.RegistrationID)
		}
	}
}

// Broadcast sends a message to the local clients watching registrationID.
func (h *Hub) Broadcast(registrationID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return
		}
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[registrationID] {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// PublishStatus delivers r's status to every instance. With Redis the subscriber callback performs the
// broadcast, including on this instance, so local clients get exactly one copy.
func (h *Hub) PublishStatus(ctx context.Context, r *models.Registration) {
	event := NewStatusEvent(r)
	if h.pub == nil {
		h.Broadcast(r.ID, EventRegistrationStatus, event)
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := h.pub.PublishRegistrationEvent(ctx, r.ID, EventRegistrationStatus, data); err != nil {
		h.logger.Warn("publish registration status failed", zap.String("registration_id", r.ID.String()), zap.Error(err))
		h.Broadcast(r.ID, EventRegistrationStatus, event)
	}
}

// Watchers returns the number of local clients watching registrationID.
func (h *Hub) Watchers(registrationID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[registrationID])
}
