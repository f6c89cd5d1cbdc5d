// Package realtime pushes live claim and redemption events to a business's dashboard over websockets.
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60
)

// Events pushed to dashboards.
const (
	EventClaimCreated    = "claim.created"
	EventVoucherRedeemed = "voucher.redeemed"
)

// Hub maintains business_id -> set of connections and broadcasts messages.
// With Redis configured, a publish reaches every instance through the business channel.
type Hub struct {
	// businessID -> map[clientID]*Client
	rooms    map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func() // cancel Redis subscription per business
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// RedisPublisher publishes to Redis for cross-instance broadcast.
type RedisPublisher interface {
	PublishBusinessEvent(businessID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to business channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeBusiness(businessID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. Both Redis collaborators may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:    make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to its business room. Starts the Redis subscription for the room if first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[c.BusinessID] == nil {
		h.rooms[c.BusinessID] = make(map[string]*Client)
		if h.redisSub != nil {
			businessID := c.BusinessID
			cancel, err := h.redisSub.SubscribeBusiness(businessID, func(event string, payload []byte) {
				h.Broadcast(businessID, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("redis subscribe failed", zap.Error(err), zap.String("business_id", businessID.String()))
			} else {
				h.subs[businessID] = cancel
			}
		}
	}
	h.rooms[c.BusinessID][c.ID] = c
	h.logger.Debug("client joined", zap.String("client_id", c.ID), zap.String("business_id", c.BusinessID.String()))
}

// Unregister removes a client from its room. Cancels the Redis subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.rooms[c.BusinessID]
	if !ok {
		return
	}
	if _, ok := m[c.ID]; !ok {
		return
	}
	delete(m, c.ID)
	close(c.send)
	if len(m) == 0 {
		delete(h.rooms, c.BusinessID)
		if cancel, ok := h.subs[c.BusinessID]; ok {
			cancel()
			delete(h.subs, c.BusinessID)
		}
	}
	h.logger.Debug("client left", zap.String("client_id", c.ID), zap.String("business_id", c.BusinessID.String()))
}

func encode(payload interface{}) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}

// Broadcast sends a message to all local clients of a business.
func (h *Hub) Broadcast(businessID uuid.UUID, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		h.logger.Warn("encode realtime payload failed", zap.Error(err), zap.String("event", event))
		return
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[businessID] {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// Publish delivers an event to the business on every instance. With Redis the subscriber callback performs
// the local broadcast, so local clients receive it exactly once.
func (h *Hub) Publish(businessID uuid.UUID, event string, payload interface{}) {
	if h.redis == nil {
		h.Broadcast(businessID, event, payload)
		return
	}
	data, err := encode(payload)
	if err != nil {
		h.logger.Warn("encode realtime payload failed", zap.Error(err), zap.String("event", event))
		return
	}
	if err := h.redis.PublishBusinessEvent(businessID, event, data); err != nil {
		h.logger.Warn("redis publish failed, broadcasting locally", zap.Error(err), zap.String("event", event))
		h.Broadcast(businessID, event, json.RawMessage(data))
	}
}

// Connections returns the number of connected clients for a business.
func (h *Hub) Connections(businessID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[businessID])
}
