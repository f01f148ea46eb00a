// Package events provides a typed publish-subscribe hub used for
// cross-subsystem communication. Unlike an ambient event bus, each Hub's
// subscriber set is fixed at construction time: subsystems wire their
// handlers once, in the composition root, and the hub never exposes a
// runtime Subscribe call to arbitrary callers.
package events

import (
	"time"

	"go.uber.org/zap"
)

// Type identifies the kind of event flowing through a Hub.
type Type string

const (
	TypeOrderPlaced         Type = "orderPlaced"
	TypeOrderFilled         Type = "orderFilled"
	TypeOrderRecordingError Type = "orderRecordingError"
	TypeProfitDistributed   Type = "profitDistributed"
	TypeGridRebalanced      Type = "gridRebalanced"
	TypeRiskAlert           Type = "riskAlert"
	TypeDrawdownEvent       Type = "drawdownEvent"
	TypeEmergencyStop       Type = "emergencyStop"
	TypeStaleData           Type = "staleData"
	TypePortfolioUpdated    Type = "portfolioUpdated"
)

// Event is any payload published on a Hub.
type Event struct {
	Type      Type
	Timestamp time.Time
	Payload   interface{}
}

// Handler processes one Event. A Handler must not block indefinitely; the
// hub calls handlers synchronously in publish order per event type.
type Handler func(Event)

// Hub is a single-subsystem-scoped publish-subscribe point. Its subscriber
// list is built once via New and never mutated afterward, keeping the
// subscriber set known at construction time.
type Hub struct {
	logger      *zap.Logger
	subscribers map[Type][]Handler
}

// New constructs a Hub with a fixed subscriber set, supplied as
// type-to-handlers pairs gathered at composition-root wiring time.
func New(logger *zap.Logger, subscribers map[Type][]Handler) *Hub {
	if subscribers == nil {
		subscribers = make(map[Type][]Handler)
	}
	return &Hub{logger: logger.Named("events"), subscribers: subscribers}
}

// Publish delivers event to every handler registered for its Type, in
// registration order, recovering from handler panics so one bad subscriber
// cannot take down the publisher's goroutine.
func (h *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	handlers := h.subscribers[event.Type]
	for _, handler := range handlers {
		h.invoke(handler, event)
	}
}

func (h *Hub) invoke(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("event handler panicked",
				zap.String("eventType", string(event.Type)),
				zap.Any("recovered", r))
		}
	}()
	handler(event)
}

// SubscriberCount returns how many handlers are registered for typ, useful
// for tests asserting wiring took effect.
func (h *Hub) SubscriberCount(typ Type) int {
	return len(h.subscribers[typ])
}
