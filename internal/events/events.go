package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Streams
const (
	StreamDeal = "events:deal"
	StreamBot  = "events:bot"
)

// Event types
const (
	EventDealStatusChanged = "deal_status_changed"
	EventBotNotification   = "bot_notification"
	EventPaymentReceived   = "payment_received"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// DealStatusChanged builds the event pushed to both parties after a transition.
func DealStatusChanged(dealID, advertiserID, ownerID uuid.UUID, from, to string, at time.Time) Event {
	return Event{
		Type: EventDealStatusChanged,
		Payload: map[string]any{
			"deal_id":       dealID.String(),
			"advertiser_id": advertiserID.String(),
			"owner_id":      ownerID.String(),
			"from":          from,
			"to":            to,
			"at":            at.UTC().Format(time.RFC3339),
		},
	}
}

// Recipients returns the user ids an event is addressed to.
func (e Event) Recipients() []string {
	var out []string
	for _, k := range []string{"advertiser_id", "owner_id", "user_id"} {
		if v, ok := e.Payload[k].(string); ok && v != "" {
			out = append(out, v)
		}
	}
	return out
}

// MemoryBus is an in-process Publisher/Subscriber used in tests and demo mode.
type MemoryBus struct {
	mu       sync.Mutex
	handlers map[string][]func(Event)
	sent     map[string][]Event
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string][]func(Event)), sent: make(map[string][]Event)}
}

func (b *MemoryBus) Publish(_ context.Context, stream string, event Event) error {
	b.mu.Lock()
	b.sent[stream] = append(b.sent[stream], event)
	hs := append([]func(Event){}, b.handlers[stream]...)
	b.mu.Unlock()

	for _, h := range hs {
		h(event)
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, stream string, handler func(Event)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[stream] = append(b.handlers[stream], handler)
	return nil
}

// Sent returns a copy of the events published to stream.
func (b *MemoryBus) Sent(stream string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.sent[stream]...)
}
