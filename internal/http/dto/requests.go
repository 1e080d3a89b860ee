package dto

import (
	"time"

	"github.com/ads-marketplace/dealflow/internal/models"
)

type CreateDealRequest struct {
	ChannelID  string `json:"channel_id"`
	SourceType string `json:"source_type"` // listing / request_application
	// SourceID is the campaign id for request_application deals.
	SourceID          string        `json:"source_id,omitempty"`
	AdFormat          string        `json:"ad_format"`            // post / repost / story
	AmountTON         *string       `json:"amount_ton,omitempty"` // если пусто — берём из листинга
	PostDurationHours *int          `json:"post_duration_hours,omitempty"`
	Brief             *models.Brief `json:"brief,omitempty"`
}

type CreativeRequest struct {
	Text          string                  `json:"text"`
	MediaRefs     []string                `json:"media_refs,omitempty"`
	Buttons       []models.CreativeButton `json:"buttons,omitempty"`
	RepostFromURL *string                 `json:"repost_from_url,omitempty"`
}

func (r CreativeRequest) ToModel() models.Creative {
	return models.Creative{
		Text:          r.Text,
		MediaRefs:     r.MediaRefs,
		Buttons:       r.Buttons,
		RepostFromURL: r.RepostFromURL,
	}
}

// TransitionRequest drives the generic transition endpoint. Only the fields
// the target status needs are read.
type TransitionRequest struct {
	Status        string           `json:"status"`
	Reason        *string          `json:"reason,omitempty"`
	Creative      *CreativeRequest `json:"creative,omitempty"`
	Feedback      *string          `json:"feedback,omitempty"`
	ScheduledTime *time.Time       `json:"scheduled_time,omitempty"`
	RefundAddress *string          `json:"refund_address,omitempty"`
}

type RequestCreativeChangesRequest struct {
	Feedback string `json:"feedback"`
}

type ScheduleRequest struct {
	ScheduledTime *time.Time `json:"scheduled_time"`
}

type ReasonRequest struct {
	Reason *string `json:"reason,omitempty"`
}

type ResolveDisputeRequest struct {
	Decision      string  `json:"decision"` // refund / release
	Reason        string  `json:"reason"`
	RefundAddress *string `json:"refund_address,omitempty"`
}

type RecoverEscrowRequest struct {
	ToAddress string `json:"to_address"`
}
