package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// BotClient talks to the bot service's internal API.
type BotClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewBotClient(baseURL string, timeout time.Duration, log *zap.Logger) *BotClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &BotClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

type CheckAdminResult struct {
	IsAdmin         bool `json:"is_admin"`
	CanPostMessages bool `json:"can_post_messages"`
}

func (c *BotClient) CheckAdmin(ctx context.Context, channelUsername string, telegramUserID int64) (*CheckAdminResult, error) {
	u := fmt.Sprintf("%s/internal/channels/%s/check_admin?telegram_user_id=%d",
		c.baseURL, url.PathEscape(strings.TrimPrefix(channelUsername, "@")), telegramUserID)
	var result CheckAdminResult
	if err := c.do(ctx, http.MethodGet, u, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type PostButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type PostRequest struct {
	DealID        string       `json:"deal_id"`
	ChatID        int64        `json:"chat_id,omitempty"`
	Username      string       `json:"username,omitempty"`
	Text          string       `json:"text"`
	MediaRefs     []string     `json:"media_refs,omitempty"`
	Buttons       []PostButton `json:"buttons,omitempty"`
	RepostFromURL string       `json:"repost_from_url,omitempty"`
}

type PostResult struct {
	MessageID int64  `json:"message_id"`
	ChatID    int64  `json:"chat_id"`
	PostURL   string `json:"post_url"`
}

func (c *BotClient) PublishPost(ctx context.Context, req PostRequest) (*PostResult, error) {
	u := fmt.Sprintf("%s/internal/deals/%s/post", c.baseURL, req.DealID)
	var result PostResult
	if err := c.do(ctx, http.MethodPost, u, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Recheck modes. forward re-forwards the post to the service chat, copy
// copies it; both fail when the original message is gone.
const (
	RecheckForward = "forward"
	RecheckCopy    = "copy"
)

type RecheckResult struct {
	Exists bool   `json:"exists"`
	Text   string `json:"text"`
}

func (c *BotClient) RecheckMessage(ctx context.Context, mode string, chatID, messageID int64) (*RecheckResult, error) {
	u := fmt.Sprintf("%s/internal/messages/check", c.baseURL)
	body := map[string]any{"mode": mode, "chat_id": chatID, "message_id": messageID}
	var result RecheckResult
	if err := c.do(ctx, http.MethodPost, u, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *BotClient) SendNotification(ctx context.Context, telegramUserID int64, text string, buttons []NotificationAction) error {
	u := fmt.Sprintf("%s/internal/notify", c.baseURL)
	body := map[string]any{
		"telegram_user_id": telegramUserID,
		"text":             text,
		"buttons":          buttons,
	}
	if err := c.do(ctx, http.MethodPost, u, body, nil); err != nil {
		c.log.Warn("failed to send bot notification", zap.Int64("telegram_user_id", telegramUserID), zap.Error(err))
		return err
	}
	return nil
}

func (c *BotClient) do(ctx context.Context, method, u string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bot service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &ServiceError{Service: "bot", Status: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ServiceError is a non-200 answer from an internal service.
type ServiceError struct {
	Service string
	Status  int
	Body    string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s service returned %d: %s", e.Service, e.Status, e.Body)
}
