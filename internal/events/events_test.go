package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusDelivers(t *testing.T) {
	bus := NewMemoryBus()
	var got []Event
	require.NoError(t, bus.Subscribe(context.Background(), StreamDeal, func(e Event) { got = append(got, e) }))

	ev := DealStatusChanged(uuid.New(), uuid.New(), uuid.New(), "scheduled", "posted", time.Now())
	require.NoError(t, bus.Publish(context.Background(), StreamDeal, ev))
	require.NoError(t, bus.Publish(context.Background(), StreamBot, Event{Type: EventBotNotification}))

	require.Len(t, got, 1)
	assert.Equal(t, EventDealStatusChanged, got[0].Type)
	assert.Len(t, bus.Sent(StreamBot), 1)
}

func TestRecipients(t *testing.T) {
	adv, owner := uuid.New(), uuid.New()
	ev := DealStatusChanged(uuid.New(), adv, owner, "a", "b", time.Now())
	assert.ElementsMatch(t, []string{adv.String(), owner.String()}, ev.Recipients())

	assert.Empty(t, Event{Payload: map[string]any{}}.Recipients())
}
