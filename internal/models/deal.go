package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Deal statuses
const (
	DealStatusPendingAcceptance = "pending_acceptance"
	DealStatusPendingPayment    = "pending_payment"
	DealStatusPaymentReceived   = "payment_received"
	DealStatusCreativePending   = "creative_pending"
	DealStatusCreativeSubmitted = "creative_submitted"
	DealStatusCreativeApproved  = "creative_approved"
	DealStatusCreativeRevision  = "creative_revision"
	DealStatusScheduled         = "scheduled"
	DealStatusPosted            = "posted"
	DealStatusVerified          = "verified"
	DealStatusDisputed          = "disputed"
	DealStatusCompleted         = "completed"
	DealStatusCancelled         = "cancelled"
	DealStatusRefunded          = "refunded"
)

// Deal sources
const (
	DealSourceListing            = "listing"
	DealSourceRequestApplication = "request_application"
)

// Machine-generated dispute reasons
const (
	DisputeReasonDeleted       = "DELETED"
	DisputeReasonModified      = "MODIFIED"
	DisputeReasonPublishFailed = "PUBLISH_FAILED"
)

// DealTransitions: from -> []to. Terminal statuses map to an empty set.
var DealTransitions = map[string][]string{
	DealStatusPendingAcceptance: {DealStatusPendingPayment, DealStatusCancelled},
	DealStatusPendingPayment:    {DealStatusPaymentReceived, DealStatusCancelled},
	DealStatusPaymentReceived:   {DealStatusCreativePending, DealStatusCancelled, DealStatusRefunded},
	DealStatusCreativePending:   {DealStatusCreativeSubmitted, DealStatusCancelled, DealStatusRefunded},
	DealStatusCreativeSubmitted: {DealStatusCreativeApproved, DealStatusCreativeRevision, DealStatusCancelled, DealStatusRefunded},
	DealStatusCreativeRevision:  {DealStatusCreativeSubmitted, DealStatusCancelled, DealStatusRefunded},
	DealStatusCreativeApproved:  {DealStatusScheduled, DealStatusCancelled, DealStatusRefunded},
	DealStatusScheduled:         {DealStatusPosted, DealStatusDisputed, DealStatusCancelled, DealStatusRefunded},
	DealStatusPosted:            {DealStatusVerified, DealStatusDisputed},
	DealStatusVerified:          {DealStatusCompleted},
	DealStatusDisputed:          {DealStatusRefunded, DealStatusVerified},
	DealStatusCompleted:         {},
	DealStatusCancelled:         {},
	DealStatusRefunded:          {},
}

// AwaitingStatuses are the statuses in which a deal waits on one of the parties.
// Only these are swept by the auto-cancel timeout.
var AwaitingStatuses = []string{
	DealStatusPendingAcceptance,
	DealStatusPendingPayment,
	DealStatusPaymentReceived,
	DealStatusCreativePending,
	DealStatusCreativeSubmitted,
	DealStatusCreativeRevision,
	DealStatusCreativeApproved,
}

func IsValidTransition(from, to string) bool {
	allowed, ok := DealTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminalStatus(status string) bool {
	switch status {
	case DealStatusCompleted, DealStatusCancelled, DealStatusRefunded:
		return true
	}
	return false
}

func IsAwaitingStatus(status string) bool {
	for _, s := range AwaitingStatuses {
		if s == status {
			return true
		}
	}
	return false
}

type Deal struct {
	ID                uuid.UUID       `json:"id"`
	ChannelID         uuid.UUID       `json:"channel_id"`
	ChannelOwnerID    uuid.UUID       `json:"channel_owner_id"`
	AdvertiserID      uuid.UUID       `json:"advertiser_id"`
	SourceType        string          `json:"source_type"`
	SourceID          uuid.UUID       `json:"source_id"`
	Amount            decimal.Decimal `json:"amount"`
	Format            string          `json:"format"`
	PostDurationHours int             `json:"post_duration_hours"`
	PlatformFeeBPS    int             `json:"platform_fee_bps"`
	Brief             *Brief          `json:"brief,omitempty"`

	Status             string     `json:"status"`
	LastActivityAt     time.Time  `json:"last_activity_at"`
	AutoCancelDeadline *time.Time `json:"auto_cancel_deadline,omitempty"`
	CancelReason       *string    `json:"cancel_reason,omitempty"`
	DisputeReason      *string    `json:"dispute_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`

	CurrentCreative *Creative            `json:"current_creative,omitempty"`
	CreativeHistory []CreativeSubmission `json:"creative_history"`

	EscrowAccountRef          *uuid.UUID       `json:"escrow_account_ref,omitempty"`
	EscrowBalanceLastObserved *decimal.Decimal `json:"escrow_balance_last_observed,omitempty"`
	AdvertiserRefundAddress   *string          `json:"advertiser_refund_address,omitempty"`

	ScheduledTime      *time.Time          `json:"scheduled_time,omitempty"`
	PostedAt           *time.Time          `json:"posted_at,omitempty"`
	PostRef            *PostRef            `json:"post_ref,omitempty"`
	VerificationChecks []VerificationCheck `json:"verification_checks"`

	Resolution *Resolution `json:"resolution,omitempty"`
}

// IsParty reports whether the user is the advertiser or the channel owner.
func (d *Deal) IsParty(userID uuid.UUID) bool {
	return userID == d.AdvertiserID || userID == d.ChannelOwnerID
}

// Counterparty returns the other party of the deal.
func (d *Deal) Counterparty(userID uuid.UUID) uuid.UUID {
	if userID == d.AdvertiserID {
		return d.ChannelOwnerID
	}
	return d.AdvertiserID
}

// LatestSubmission returns the most recent creative submission or nil.
func (d *Deal) LatestSubmission() *CreativeSubmission {
	if len(d.CreativeHistory) == 0 {
		return nil
	}
	return &d.CreativeHistory[len(d.CreativeHistory)-1]
}

// PostDuration is the contracted time a post must stay live.
func (d *Deal) PostDuration() time.Duration {
	return time.Duration(d.PostDurationHours) * time.Hour
}

// Clone returns a deep copy so stored snapshots can't be mutated through the result.
func (d *Deal) Clone() *Deal {
	if d == nil {
		return nil
	}
	c := *d
	if d.Brief != nil {
		b := *d.Brief
		b.SuggestedImageRef = cloneString(d.Brief.SuggestedImageRef)
		c.Brief = &b
	}
	c.AutoCancelDeadline = cloneTime(d.AutoCancelDeadline)
	c.CancelReason = cloneString(d.CancelReason)
	c.DisputeReason = cloneString(d.DisputeReason)
	if d.CurrentCreative != nil {
		cr := d.CurrentCreative.clone()
		c.CurrentCreative = &cr
	}
	if d.CreativeHistory != nil {
		c.CreativeHistory = make([]CreativeSubmission, len(d.CreativeHistory))
		for i, s := range d.CreativeHistory {
			s.Creative = s.Creative.clone()
			s.Feedback = cloneString(s.Feedback)
			s.ReviewedAt = cloneTime(s.ReviewedAt)
			c.CreativeHistory[i] = s
		}
	}
	if d.EscrowAccountRef != nil {
		ref := *d.EscrowAccountRef
		c.EscrowAccountRef = &ref
	}
	if d.EscrowBalanceLastObserved != nil {
		bal := *d.EscrowBalanceLastObserved
		c.EscrowBalanceLastObserved = &bal
	}
	c.AdvertiserRefundAddress = cloneString(d.AdvertiserRefundAddress)
	c.ScheduledTime = cloneTime(d.ScheduledTime)
	c.PostedAt = cloneTime(d.PostedAt)
	if d.PostRef != nil {
		p := *d.PostRef
		c.PostRef = &p
	}
	if d.VerificationChecks != nil {
		c.VerificationChecks = append([]VerificationCheck(nil), d.VerificationChecks...)
	}
	if d.Resolution != nil {
		r := *d.Resolution
		c.Resolution = &r
	}
	return &c
}

// Brief is the advertiser's request attached to the deal at creation.
type Brief struct {
	Text              string  `json:"text"`
	SuggestedImageRef *string `json:"suggested_image_ref,omitempty"`
	UseSuggestedImage bool    `json:"use_suggested_image"`
}

type CreativeButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Creative is the content that will be published to the channel.
type Creative struct {
	Text          string           `json:"text"`
	MediaRefs     []string         `json:"media_refs,omitempty"`
	Buttons       []CreativeButton `json:"buttons,omitempty"`
	RepostFromURL *string          `json:"repost_from_url,omitempty"`
}

func (c Creative) clone() Creative {
	out := c
	if c.MediaRefs != nil {
		out.MediaRefs = append([]string(nil), c.MediaRefs...)
	}
	if c.Buttons != nil {
		out.Buttons = append([]CreativeButton(nil), c.Buttons...)
	}
	out.RepostFromURL = cloneString(c.RepostFromURL)
	return out
}

var (
	ErrCreativeEmpty        = errors.New("creative text or media is required")
	ErrCreativeButton       = errors.New("creative buttons need text and an http(s) url")
	ErrCreativeRepostSource = errors.New("repost creative requires repost_from_url")
)

// Validate checks the creative against the deal format.
func (c Creative) Validate(format string) error {
	if format == AdFormatRepost {
		if c.RepostFromURL == nil || strings.TrimSpace(*c.RepostFromURL) == "" {
			return ErrCreativeRepostSource
		}
		return nil
	}
	if strings.TrimSpace(c.Text) == "" && len(c.MediaRefs) == 0 {
		return ErrCreativeEmpty
	}
	for _, b := range c.Buttons {
		if b.Text == "" || !(strings.HasPrefix(b.URL, "https://") || strings.HasPrefix(b.URL, "http://")) {
			return ErrCreativeButton
		}
	}
	return nil
}

// Creative submission statuses
const (
	CreativeStatusPending  = "pending"
	CreativeStatusApproved = "approved"
	CreativeStatusRejected = "rejected"
)

type CreativeSubmission struct {
	Version     int        `json:"version"`
	Creative    Creative   `json:"creative"`
	Status      string     `json:"status"`
	Feedback    *string    `json:"feedback,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
}

type PostRef struct {
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	URL       string `json:"url,omitempty"`
}

// VerificationCheck is appended on every verification pass and never edited.
type VerificationCheck struct {
	CheckedAt      time.Time `json:"checked_at"`
	PostExists     bool      `json:"post_exists"`
	PostUnmodified bool      `json:"post_unmodified"`
	Strategy       string    `json:"strategy,omitempty"`
}

// Dispute resolutions
const (
	ResolutionRefund  = "refund"
	ResolutionRelease = "release"
)

type Resolution struct {
	Resolution string    `json:"resolution"`
	Reason     string    `json:"reason"`
	ResolvedBy uuid.UUID `json:"resolved_by"`
	ResolvedAt time.Time `json:"resolved_at"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
