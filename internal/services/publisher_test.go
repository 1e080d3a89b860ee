package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ads-marketplace/dealflow/internal/apperr"
	"github.com/ads-marketplace/dealflow/internal/models"
)

type stubStrategy struct {
	name  string
	res   *VerifyResult
	ok    bool
	err   error
	calls int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Check(context.Context, *models.Channel, models.PostRef, models.Creative) (*VerifyResult, bool, error) {
	s.calls++
	return s.res, s.ok, s.err
}

func TestVerifyStrategyOrder(t *testing.T) {
	ch := &models.Channel{Username: "adchan"}
	ref := models.PostRef{ChatID: -100, MessageID: 7}

	t.Run("first conclusive wins", func(t *testing.T) {
		failing := &stubStrategy{name: "a", err: errors.New("down")}
		unsure := &stubStrategy{name: "b"}
		deleted := &stubStrategy{name: "c", res: &VerifyResult{}, ok: true}
		never := &stubStrategy{name: "d", res: &VerifyResult{Exists: true, Unmodified: true}, ok: true}

		p := NewTelegramPublisher(nil, []VerifyStrategy{failing, unsure, deleted, never}, zap.NewNop())
		res, err := p.Verify(context.Background(), ch, ref, models.Creative{Text: "ad"})
		require.NoError(t, err)
		assert.False(t, res.Exists)
		assert.Equal(t, "c", res.Strategy)
		assert.Equal(t, 1, failing.calls)
		assert.Equal(t, 1, unsure.calls)
		assert.Zero(t, never.calls)
	})

	t.Run("nothing conclusive defaults to intact", func(t *testing.T) {
		p := NewTelegramPublisher(nil, []VerifyStrategy{&stubStrategy{name: "a"}, &stubStrategy{name: "b", err: errors.New("x")}}, zap.NewNop())
		res, err := p.Verify(context.Background(), ch, ref, models.Creative{Text: "ad"})
		require.NoError(t, err)
		assert.True(t, res.Exists)
		assert.True(t, res.Unmodified)
		assert.Equal(t, StrategyDefault, res.Strategy)
	})
}

func TestTextMatches(t *testing.T) {
	repost := "https://t.me/src/1"
	tests := []struct {
		name     string
		original models.Creative
		observed string
		want     bool
	}{
		{"identical", models.Creative{Text: "Buy now"}, "Buy now", true},
		{"whitespace layout", models.Creative{Text: "Buy\n  now "}, " Buy now", true},
		{"edited", models.Creative{Text: "Buy now"}, "Buy later", false},
		{"repost ignores text", models.Creative{RepostFromURL: &repost}, "anything", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, textMatches(tt.original, tt.observed))
		})
	}
}

func newBotServer(t *testing.T, h http.HandlerFunc) *BotClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewBotClient(srv.URL, 2*time.Second, zap.NewNop())
}

func TestIsStillAdmin(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		want    bool
		wantErr bool
	}{
		{"admin with posting", `{"is_admin":true,"can_post_messages":true}`, http.StatusOK, true, false},
		{"admin without posting", `{"is_admin":true,"can_post_messages":false}`, http.StatusOK, false, false},
		{"not admin", `{"is_admin":false}`, http.StatusOK, false, false},
		{"bot error", `oops`, http.StatusBadGateway, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot := newBotServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/internal/channels/adchan/check_admin", r.URL.Path)
				assert.Equal(t, "100", r.URL.Query().Get("telegram_user_id"))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			p := NewTelegramPublisher(bot, nil, zap.NewNop())
			ok, err := p.IsStillAdmin(context.Background(), &models.Channel{Username: "@adchan"}, 100)
			if tt.wantErr {
				require.Error(t, err)
				var se *ServiceError
				assert.ErrorAs(t, err, &se)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestPublish(t *testing.T) {
	var got PostRequest
	bot := newBotServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/deals/d1/post", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"message_id":42,"chat_id":-100123,"post_url":"https://t.me/adchan/42"}`))
	})
	chatID := int64(-100123)
	ch := &models.Channel{Username: "adchan", TelegramChatID: &chatID}

	p := NewTelegramPublisher(bot, nil, zap.NewNop())
	ref, err := p.Publish(context.Background(), ch, PublishContent{
		DealID:    "d1",
		Text:      "Buy now",
		MediaRefs: []string{"photo-1"},
		Buttons:   []models.CreativeButton{{Text: "Shop", URL: "https://example.com"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), ref.MessageID)
	assert.Equal(t, "https://t.me/adchan/42", ref.URL)
	assert.Equal(t, chatID, got.ChatID)
	assert.Equal(t, []string{"photo-1"}, got.MediaRefs)
	require.Len(t, got.Buttons, 1)
	assert.Equal(t, "Shop", got.Buttons[0].Text)
}

func TestPublishFailure(t *testing.T) {
	bot := newBotServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bot kicked", http.StatusForbidden)
	})
	p := NewTelegramPublisher(bot, nil, zap.NewNop())
	_, err := p.Publish(context.Background(), &models.Channel{Username: "adchan"}, PublishContent{DealID: "d1", Text: "x"})
	assert.True(t, apperr.IsKind(err, apperr.KindPublishFailed))
}

func TestBotRecheckStrategy(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		original string
		ok       bool
		want     VerifyResult
	}{
		{"gone", `{"exists":false}`, "ad", true, VerifyResult{}},
		{"intact", `{"exists":true,"text":"ad"}`, "ad", true, VerifyResult{Exists: true, Unmodified: true}},
		{"edited", `{"exists":true,"text":"other"}`, "ad", true, VerifyResult{Exists: true}},
		{"media only", `{"exists":true,"text":""}`, "ad", false, VerifyResult{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot := newBotServer(t, func(w http.ResponseWriter, r *http.Request) {
				var body map[string]any
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, RecheckCopy, body["mode"])
				_, _ = w.Write([]byte(tt.body))
			})
			s := &botRecheckStrategy{client: bot, mode: RecheckCopy}
			res, ok, err := s.Check(context.Background(), &models.Channel{}, models.PostRef{ChatID: -1, MessageID: 2}, models.Creative{Text: tt.original})
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, *res)
			}
		})
	}
}

func TestUserbotStrategySkipsChannelsWithoutUserbot(t *testing.T) {
	s := &userbotStrategy{client: NewUserbotClient("http://127.0.0.1:1", time.Second, zap.NewNop())}
	_, ok, err := s.Check(context.Background(), &models.Channel{UserbotStatus: "none"}, models.PostRef{ChatID: -1, MessageID: 1}, models.Creative{})
	assert.NoError(t, err)
	assert.False(t, ok)
}
