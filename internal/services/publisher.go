package services

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/ads-marketplace/dealflow/internal/apperr"
	"github.com/ads-marketplace/dealflow/internal/metrics"
	"github.com/ads-marketplace/dealflow/internal/models"
	"github.com/ads-marketplace/dealflow/internal/tmepage"
)

// PublishContent is the resolved post: creative text plus the media that won
// precedence (creative media, then the brief's suggested image).
type PublishContent struct {
	DealID        string
	Text          string
	MediaRefs     []string
	Buttons       []models.CreativeButton
	RepostFromURL *string
}

// VerifyResult is the observed state of a published post.
type VerifyResult struct {
	Exists     bool
	Unmodified bool
	Strategy   string
}

// StrategyDefault is reported when every strategy was inconclusive.
const StrategyDefault = "default"

// VerifyStrategy is one way of looking at a post. ok=false means the
// strategy could not tell and the next one should be tried.
type VerifyStrategy interface {
	Name() string
	Check(ctx context.Context, ch *models.Channel, ref models.PostRef, original models.Creative) (res *VerifyResult, ok bool, err error)
}

// TelegramPublisher publishes through the bot and verifies with an ordered
// list of strategies. When none is conclusive the post is assumed intact.
type TelegramPublisher struct {
	bot        *BotClient
	strategies []VerifyStrategy
	log        *zap.Logger
}

func NewTelegramPublisher(bot *BotClient, strategies []VerifyStrategy, log *zap.Logger) *TelegramPublisher {
	return &TelegramPublisher{bot: bot, strategies: strategies, log: log}
}

// DefaultStrategies is the production order: userbot read, bot forward
// recheck, bot copy recheck, public embed page.
func DefaultStrategies(bot *BotClient, userbot *UserbotClient, fetcher *tmepage.Fetcher) []VerifyStrategy {
	return []VerifyStrategy{
		&userbotStrategy{client: userbot},
		&botRecheckStrategy{client: bot, mode: RecheckForward},
		&botRecheckStrategy{client: bot, mode: RecheckCopy},
		&tmeStrategy{fetcher: fetcher},
	}
}

func (p *TelegramPublisher) Publish(ctx context.Context, ch *models.Channel, content PublishContent) (*models.PostRef, error) {
	req := PostRequest{
		DealID:    content.DealID,
		Username:  ch.Username,
		Text:      content.Text,
		MediaRefs: content.MediaRefs,
	}
	if ch.TelegramChatID != nil {
		req.ChatID = *ch.TelegramChatID
	}
	for _, b := range content.Buttons {
		req.Buttons = append(req.Buttons, PostButton{Text: b.Text, URL: b.URL})
	}
	if content.RepostFromURL != nil {
		req.RepostFromURL = *content.RepostFromURL
	}

	res, err := p.bot.PublishPost(ctx, req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPublishFailed, err, "publish to @%s", ch.Username)
	}
	return &models.PostRef{ChatID: res.ChatID, MessageID: res.MessageID, URL: res.PostURL}, nil
}

func (p *TelegramPublisher) Verify(ctx context.Context, ch *models.Channel, ref models.PostRef, original models.Creative) (*VerifyResult, error) {
	for _, s := range p.strategies {
		res, ok, err := s.Check(ctx, ch, ref, original)
		if err != nil {
			p.log.Debug("verify strategy failed",
				zap.String("strategy", s.Name()), zap.Int64("message_id", ref.MessageID), zap.Error(err))
			metrics.VerificationChecksTotal.WithLabelValues(s.Name(), "error").Inc()
			continue
		}
		if !ok {
			metrics.VerificationChecksTotal.WithLabelValues(s.Name(), "inconclusive").Inc()
			continue
		}
		res.Strategy = s.Name()
		metrics.VerificationChecksTotal.WithLabelValues(s.Name(), outcomeLabel(res)).Inc()
		return res, nil
	}
	metrics.VerificationChecksTotal.WithLabelValues(StrategyDefault, "intact").Inc()
	return &VerifyResult{Exists: true, Unmodified: true, Strategy: StrategyDefault}, nil
}

func (p *TelegramPublisher) IsStillAdmin(ctx context.Context, ch *models.Channel, telegramUserID int64) (bool, error) {
	res, err := p.bot.CheckAdmin(ctx, ch.Username, telegramUserID)
	if err != nil {
		return false, err
	}
	return res.IsAdmin && res.CanPostMessages, nil
}

func outcomeLabel(r *VerifyResult) string {
	switch {
	case !r.Exists:
		return "deleted"
	case !r.Unmodified:
		return "modified"
	default:
		return "intact"
	}
}

// textMatches compares post text ignoring whitespace layout. Reposts carry
// the source post's text and are checked for existence only.
func textMatches(original models.Creative, observed string) bool {
	if original.RepostFromURL != nil {
		return true
	}
	return normalizeText(original.Text) == normalizeText(observed)
}

func normalizeText(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

type userbotStrategy struct {
	client *UserbotClient
}

func (s *userbotStrategy) Name() string { return "userbot" }

func (s *userbotStrategy) Check(ctx context.Context, ch *models.Channel, ref models.PostRef, original models.Creative) (*VerifyResult, bool, error) {
	if s.client == nil || !ch.HasUserbot() || ref.ChatID == 0 {
		return nil, false, nil
	}
	msg, err := s.client.GetMessage(ctx, ref.ChatID, ref.MessageID)
	if errors.Is(err, ErrMessageNotFound) {
		return &VerifyResult{}, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &VerifyResult{Exists: true, Unmodified: textMatches(original, msg.Text)}, true, nil
}

type botRecheckStrategy struct {
	client *BotClient
	mode   string
}

func (s *botRecheckStrategy) Name() string { return "bot_" + s.mode }

func (s *botRecheckStrategy) Check(ctx context.Context, _ *models.Channel, ref models.PostRef, original models.Creative) (*VerifyResult, bool, error) {
	if s.client == nil || ref.ChatID == 0 {
		return nil, false, nil
	}
	res, err := s.client.RecheckMessage(ctx, s.mode, ref.ChatID, ref.MessageID)
	if err != nil {
		return nil, false, err
	}
	if !res.Exists {
		return &VerifyResult{}, true, nil
	}
	// media-only posts come back without text; existence is all we learn
	if res.Text == "" && original.Text != "" {
		return nil, false, nil
	}
	return &VerifyResult{Exists: true, Unmodified: textMatches(original, res.Text)}, true, nil
}

type tmeStrategy struct {
	fetcher *tmepage.Fetcher
}

func (s *tmeStrategy) Name() string { return "tme_embed" }

func (s *tmeStrategy) Check(ctx context.Context, ch *models.Channel, ref models.PostRef, original models.Creative) (*VerifyResult, bool, error) {
	if s.fetcher == nil || ch.Username == "" {
		return nil, false, nil
	}
	post, err := s.fetcher.FetchPost(ctx, ch.Username, ref.MessageID)
	if err != nil {
		return nil, false, err
	}
	if !post.Exists {
		return &VerifyResult{}, true, nil
	}
	return &VerifyResult{Exists: true, Unmodified: textMatches(original, post.Text)}, true, nil
}
