// Package tmepage checks a published post through the public t.me embed
// widget. It needs no bot rights, so it is the last verification fallback.
package tmepage

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://t.me"
	userAgent      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Post is what the embed page shows for one message.
type Post struct {
	Exists   bool
	Text     string
	HasMedia bool
}

type Fetcher struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	log        *zap.Logger
}

func New(timeoutMS, maxRetries int, log *zap.Logger) *Fetcher {
	return &Fetcher{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: time.Duration(timeoutMS) * time.Millisecond},
		maxRetries: maxRetries,
		log:        log,
	}
}

// WithBaseURL points the fetcher at another host (tests, mirrors).
func (p *Fetcher) WithBaseURL(u string) *Fetcher {
	p.baseURL = strings.TrimRight(u, "/")
	return p
}

// FetchPost loads https://t.me/<username>/<id>?embed=1. A 404 or a page
// without the message widget means the post is gone.
func (p *Fetcher) FetchPost(ctx context.Context, username string, messageID int64) (*Post, error) {
	url := fmt.Sprintf("%s/%s/%d?embed=1", p.baseURL, strings.TrimPrefix(username, "@"), messageID)

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		post, retry, err := p.fetchOnce(ctx, url)
		if err == nil {
			return post, nil
		}
		lastErr = err
		if !retry {
			break
		}
		p.log.Debug("t.me fetch retry", zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, lastErr
}

func (p *Fetcher) fetchOnce(ctx context.Context, url string) (*Post, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &Post{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, false, err
	}
	return parsePost(doc), false, nil
}

func parsePost(doc *goquery.Document) *Post {
	msg := doc.Find(".tgme_widget_message")
	if msg.Length() == 0 || doc.Find(".tgme_widget_message_error").Length() > 0 {
		return &Post{}
	}
	hasMedia := msg.Find(".tgme_widget_message_photo_wrap").Length() > 0 ||
		msg.Find(".tgme_widget_message_video_player").Length() > 0
	return &Post{
		Exists:   true,
		Text:     strings.TrimSpace(msg.Find(".tgme_widget_message_text").First().Text()),
		HasMedia: hasMedia,
	}
}
