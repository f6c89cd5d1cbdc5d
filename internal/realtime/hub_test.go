package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(h *Hub, businessID uuid.UUID) *Client {
	return &Client{ID: uuid.New().String(), BusinessID: businessID, hub: h, send: make(chan WSMessage, 4)}
}

func drain(c *Client) []WSMessage {
	var out []WSMessage
	for {
		select {
		case m, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

// loopback is a Redis stand-in that delivers publishes synchronously to subscribers.
type loopback struct {
	mu        sync.Mutex
	handlers  map[uuid.UUID]func(event string, payload []byte)
	cancelled int
	fail      bool
}

func newLoopback() *loopback {
	return &loopback{handlers: map[uuid.UUID]func(string, []byte){}}
}

func (l *loopback) PublishBusinessEvent(businessID uuid.UUID, event string, payload []byte) error {
	if l.fail {
		return errors.New("redis down")
	}
	l.mu.Lock()
	h := l.handlers[businessID]
	l.mu.Unlock()
	if h != nil {
		h(event, payload)
	}
	return nil
}

func (l *loopback) SubscribeBusiness(businessID uuid.UUID, handler func(event string, payload []byte)) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[businessID] = handler
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.handlers, businessID)
		l.cancelled++
	}, nil
}

func TestBroadcastStaysInBusinessRoom(t *testing.T) {
	h := NewHub(nil, nil, nil)
	a, b := uuid.New(), uuid.New()
	ca, cb := newTestClient(h, a), newTestClient(h, b)
	h.Register(ca)
	h.Register(cb)

	h.Publish(a, EventVoucherRedeemed, map[string]string{"reference": "TXN-1"})

	got := drain(ca)
	require.Len(t, got, 1)
	assert.Equal(t, EventVoucherRedeemed, got[0].Event)
	assert.JSONEq(t, `{"reference":"TXN-1"}`, string(got[0].Data))
	assert.Empty(t, drain(cb))
}

func TestPublishThroughRedisDeliversOnce(t *testing.T) {
	lb := newLoopback()
	h := NewHub(nil, lb, lb)
	biz := uuid.New()
	c := newTestClient(h, biz)
	h.Register(c)

	h.Publish(biz, EventClaimCreated, json.RawMessage(`{"claimId":"x"}`))
	assert.Len(t, drain(c), 1)
}

func TestPublishFallsBackLocallyWhenRedisFails(t *testing.T) {
	lb := newLoopback()
	lb.fail = true
	h := NewHub(nil, lb, lb)
	biz := uuid.New()
	c := newTestClient(h, biz)
	h.Register(c)

	h.Publish(biz, EventClaimCreated, map[string]int{"n": 1})
	assert.Len(t, drain(c), 1)
}

func TestUnregisterLastClientCancelsSubscription(t *testing.T) {
	lb := newLoopback()
	h := NewHub(nil, lb, lb)
	biz := uuid.New()
	c1, c2 := newTestClient(h, biz), newTestClient(h, biz)
	h.Register(c1)
	h.Register(c2)
	assert.Equal(t, 2, h.Connections(biz))

	h.Unregister(c1)
	assert.Equal(t, 0, lb.cancelled)
	h.Unregister(c2)
	h.Unregister(c2)
	assert.Equal(t, 1, lb.cancelled)
	assert.Equal(t, 0, h.Connections(biz))

	_, open := <-c2.send
	assert.False(t, open)
}

func TestBroadcastSkipsFullBuffers(t *testing.T) {
	h := NewHub(nil, nil, nil)
	biz := uuid.New()
	c := newTestClient(h, biz)
	h.Register(c)
	for i := 0; i < 10; i++ {
		h.Broadcast(biz, EventClaimCreated, i)
	}
	assert.Len(t, drain(c), cap(c.send))
}
