package models

import (
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{DealStatusPendingAcceptance, DealStatusPendingPayment, true},
		{DealStatusPendingPayment, DealStatusPaymentReceived, true},
		{DealStatusPaymentReceived, DealStatusCreativePending, true},
		{DealStatusCreativePending, DealStatusCreativeSubmitted, true},
		{DealStatusCreativeSubmitted, DealStatusCreativeApproved, true},
		{DealStatusCreativeSubmitted, DealStatusCreativeRevision, true},
		{DealStatusCreativeRevision, DealStatusCreativeSubmitted, true},
		{DealStatusCreativeApproved, DealStatusScheduled, true},
		{DealStatusScheduled, DealStatusPosted, true},
		{DealStatusPosted, DealStatusVerified, true},
		{DealStatusVerified, DealStatusCompleted, true},

		// Disputes
		{DealStatusScheduled, DealStatusDisputed, true},
		{DealStatusPosted, DealStatusDisputed, true},
		{DealStatusDisputed, DealStatusRefunded, true},
		{DealStatusDisputed, DealStatusVerified, true},

		// Cancellation paths
		{DealStatusPendingAcceptance, DealStatusCancelled, true},
		{DealStatusPendingPayment, DealStatusCancelled, true},
		{DealStatusCreativePending, DealStatusCancelled, true},
		{DealStatusCreativeRevision, DealStatusRefunded, true},
		{DealStatusScheduled, DealStatusRefunded, true},

		// Invalid transitions
		{DealStatusPendingAcceptance, DealStatusPaymentReceived, false},
		{DealStatusPendingPayment, DealStatusRefunded, false},
		{DealStatusPosted, DealStatusCancelled, false},
		{DealStatusPosted, DealStatusCompleted, false},
		{DealStatusVerified, DealStatusRefunded, false},
		{DealStatusDisputed, DealStatusCompleted, false},
		{DealStatusCompleted, DealStatusRefunded, false},
		{DealStatusRefunded, DealStatusCompleted, false},
		{DealStatusCancelled, DealStatusRefunded, false},
		{DealStatusCreativeSubmitted, DealStatusCreativePending, false},
		{"nonexistent", DealStatusPendingPayment, false},
		{DealStatusPendingAcceptance, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestTransitionGraphIsClosed(t *testing.T) {
	for from, targets := range DealTransitions {
		for _, to := range targets {
			if _, ok := DealTransitions[to]; !ok {
				t.Errorf("%q -> %q leads to a status missing from DealTransitions", from, to)
			}
		}
	}
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	terminal := []string{DealStatusCompleted, DealStatusCancelled, DealStatusRefunded}
	for _, status := range terminal {
		if !IsTerminalStatus(status) {
			t.Errorf("status %q should be terminal", status)
		}
		transitions, ok := DealTransitions[status]
		if !ok {
			t.Errorf("terminal status %q missing from DealTransitions", status)
		}
		if len(transitions) != 0 {
			t.Errorf("terminal status %q should have no transitions, got %v", status, transitions)
		}
	}
}

func TestAwaitingStatusesAreNonTerminal(t *testing.T) {
	for _, status := range AwaitingStatuses {
		if IsTerminalStatus(status) {
			t.Errorf("awaiting status %q is terminal", status)
		}
	}
	if IsAwaitingStatus(DealStatusPosted) {
		t.Error("posted deals wait on the verification job, not a party")
	}
}

func TestCreativeValidate(t *testing.T) {
	url := "https://t.me/source/10"
	tests := []struct {
		name     string
		format   string
		creative Creative
		wantErr  error
	}{
		{"text post", AdFormatPost, Creative{Text: "hello"}, nil},
		{"media only", AdFormatPost, Creative{MediaRefs: []string{"file-1"}}, nil},
		{"empty post", AdFormatPost, Creative{Text: "  "}, ErrCreativeEmpty},
		{"bad button", AdFormatPost, Creative{Text: "x", Buttons: []CreativeButton{{Text: "go", URL: "ftp://x"}}}, ErrCreativeButton},
		{"repost without source", AdFormatRepost, Creative{Text: "x"}, ErrCreativeRepostSource},
		{"repost", AdFormatRepost, Creative{RepostFromURL: &url}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.creative.Validate(tt.format); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDealCloneIsDeep(t *testing.T) {
	now := time.Now()
	d := &Deal{
		CurrentCreative:    &Creative{Text: "a", MediaRefs: []string{"m1"}},
		CreativeHistory:    []CreativeSubmission{{Version: 1, Status: CreativeStatusPending, SubmittedAt: now}},
		VerificationChecks: []VerificationCheck{{CheckedAt: now, PostExists: true}},
	}
	c := d.Clone()
	c.CurrentCreative.MediaRefs[0] = "changed"
	c.CreativeHistory[0].Status = CreativeStatusApproved
	c.VerificationChecks = append(c.VerificationChecks, VerificationCheck{})

	if d.CurrentCreative.MediaRefs[0] != "m1" {
		t.Error("clone shares media refs with original")
	}
	if d.CreativeHistory[0].Status != CreativeStatusPending {
		t.Error("clone shares creative history with original")
	}
	if len(d.VerificationChecks) != 1 {
		t.Error("clone shares verification checks with original")
	}
}

func TestNanoConversion(t *testing.T) {
	nano := ToNano(decimal.RequireFromString("1.5"))
	if nano.Cmp(big.NewInt(1_500_000_000)) != 0 {
		t.Errorf("ToNano(1.5) = %s", nano)
	}
	if got := FromNano(big.NewInt(990_000_000)); !got.Equal(decimal.RequireFromString("0.99")) {
		t.Errorf("FromNano = %s", got)
	}
	if !FromNano(nil).IsZero() {
		t.Error("FromNano(nil) should be zero")
	}
}
