// Package fanout pushes order state changes to connected operator sessions.
//
// Delivery is best effort. Publish never waits on a subscriber: one whose
// buffer is full is dropped, and the operator client reconnects and rebuilds
// its view from a full refresh. Committed state lives in the store, never here.
package fanout

import (
	"log/slog"
	"sync"
	"time"

	"botstore/models"

	"github.com/google/uuid"
)

// Publisher is what repositories emit events through. Both *Hub and *Bridge
// implement it.
type Publisher interface {
	Publish(ev models.Event)
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(models.Event) {}

type Subscription struct {
	C <-chan models.Event

	ch  chan models.Event
	hub *Hub
}

// Close detaches the subscription. C is closed afterwards. Safe to call twice.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

type Hub struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, subs: make(map[*Subscription]struct{})}
}

func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan models.Event, buffer)
	s := &Subscription{C: ch, ch: ch, hub: h}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

// Publish delivers ev to every subscriber without blocking.
func (h *Hub) Publish(ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			delete(h.subs, s)
			close(s.ch)
			h.log.Warn("fanout subscriber lagging, dropped", "event", ev.Key())
		}
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// NewOrderEvent describes the current state of a simple order.
func NewOrderEvent(o models.Order, detail string, at time.Time) models.Event {
	return models.Event{
		ID:         uuid.NewString(),
		EntityType: models.EntityOrder,
		RefCode:    o.RefCode,
		ItemID:     o.ItemID,
		NewState:   string(o.Status),
		Detail:     detail,
		At:         at,
	}
}

func NewCustomOrderEvent(o models.CustomBotOrder, detail string, at time.Time) models.Event {
	return models.Event{
		ID:            uuid.NewString(),
		EntityType:    models.EntityCustomOrder,
		RefCode:       o.RefCode,
		NewState:      string(o.Status),
		PaymentStatus: o.PaymentStatus,
		Detail:        detail,
		At:            at,
	}
}

// NewAuditEvent records evidence that was accepted without strong verification.
func NewAuditEvent(refCode, itemID, detail string, at time.Time) models.Event {
	return models.Event{
		ID:         uuid.NewString(),
		EntityType: models.EntityPaymentAudit,
		RefCode:    refCode,
		ItemID:     itemID,
		NewState:   "accepted",
		Detail:     detail,
		At:         at,
	}
}
