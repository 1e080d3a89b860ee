package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ads-marketplace/dealflow/internal/events"
	"github.com/ads-marketplace/dealflow/internal/testutil"
)

// roundTrip mimics the redis transport: payload values come back as plain JSON types.
func roundTrip(t *testing.T, ev events.Event) events.Event {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	var out events.Event
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestParseBotNotification(t *testing.T) {
	bus := events.NewMemoryBus()
	users := testutil.NewUsers()
	userID := users.Add(7_000_000_001)
	dealID := uuid.New()
	NewBotNotifier(bus, users, nil, zap.NewNop()).Notify(context.Background(), userID, Notification{
		DealID: dealID, Text: "hi", Actions: openDealAction(dealID),
	})
	sent := bus.Sent(events.StreamBot)
	require.Len(t, sent, 1)

	n, err := ParseBotNotification(roundTrip(t, sent[0]))
	require.NoError(t, err)
	assert.Equal(t, int64(7_000_000_001), n.TelegramUserID)
	assert.Equal(t, "hi", n.Text)
	require.Len(t, n.Actions, 1)
	assert.Equal(t, "deal:"+dealID.String(), n.Actions[0].Data)

	_, err = ParseBotNotification(events.Event{Type: events.EventBotNotification, Payload: map[string]any{"text": "x"}})
	assert.Error(t, err)
}

func TestNotifyBridgeForwards(t *testing.T) {
	var (
		mu   sync.Mutex
		got  []map[string]any
		fail bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/notify", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		defer mu.Unlock()
		got = append(got, body)
		if fail {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	bridge := NewNotifyBridge(NewBotClient(srv.URL, time.Second, zap.NewNop()), zap.NewNop())
	bus := events.NewMemoryBus()
	require.NoError(t, bridge.Start(context.Background(), bus))

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, events.StreamBot, roundTrip(t, events.Event{
		Type:    events.EventBotNotification,
		Payload: map[string]any{"telegram_user_id": int64(42), "text": "Deal posted", "deal_id": "d1"},
	})))
	require.NoError(t, bus.Publish(ctx, events.StreamBot, events.Event{Type: "other", Payload: map[string]any{"telegram_user_id": 1, "text": "x"}}))
	mu.Lock()
	fail = true
	mu.Unlock()
	require.NoError(t, bus.Publish(ctx, events.StreamBot, events.Event{
		Type:    events.EventBotNotification,
		Payload: map[string]any{"telegram_user_id": 43, "text": "lost"},
	}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, float64(42), got[0]["telegram_user_id"])
	assert.Equal(t, "Deal posted", got[0]["text"])
}
