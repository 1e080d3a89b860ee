package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// UserbotClient talks to the userbot service, which reads channels as a
// regular member and sees messages exactly as subscribers do.
type UserbotClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewUserbotClient(baseURL string, timeout time.Duration, log *zap.Logger) *UserbotClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &UserbotClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// ChannelMessage is a message as read by the userbot.
type ChannelMessage struct {
	MessageID int64   `json:"message_id"`
	Text      string  `json:"text"`
	HasMedia  bool    `json:"has_media"`
	EditDate  *string `json:"edit_date"`
}

// ErrMessageNotFound means the userbot looked and the message is gone.
var ErrMessageNotFound = errors.New("message not found")

// IsAvailable checks if the userbot service is reachable and connected.
func (c *UserbotClient) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	var result struct {
		Status    string `json:"status"`
		Connected bool   `json:"connected"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}
	return result.Connected
}

// GetMessage reads one channel message by chat id.
func (c *UserbotClient) GetMessage(ctx context.Context, chatID, messageID int64) (*ChannelMessage, error) {
	url := fmt.Sprintf("%s/internal/messages/%d/%d", c.baseURL, chatID, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userbot service unavailable: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrMessageNotFound
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ServiceError{Service: "userbot", Status: resp.StatusCode, Body: string(body)}
	}

	var msg ChannelMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
