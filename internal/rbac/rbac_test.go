package rbac

import (
	"testing"

	"github.com/google/uuid"

	"github.com/ads-marketplace/dealflow/internal/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		role     string
		from     string
		to       string
		expected bool
	}{
		{RoleChannelOwner, models.DealStatusPendingAcceptance, models.DealStatusPendingPayment, true},
		{RoleAdvertiser, models.DealStatusPendingAcceptance, models.DealStatusPendingPayment, false},
		{RoleAdvertiser, models.DealStatusCreativeSubmitted, models.DealStatusCreativeApproved, true},
		{RoleChannelOwner, models.DealStatusCreativeSubmitted, models.DealStatusCreativeApproved, false},
		{RoleAdvertiser, models.DealStatusCreativeSubmitted, models.DealStatusCreativeRevision, true},
		{RoleChannelOwner, models.DealStatusCreativePending, models.DealStatusCreativeSubmitted, true},
		{RoleAdvertiser, models.DealStatusCreativePending, models.DealStatusCreativeSubmitted, false},
		{RoleChannelOwner, models.DealStatusCreativeApproved, models.DealStatusScheduled, true},
		{RoleAdvertiser, models.DealStatusCreativeApproved, models.DealStatusScheduled, false},
		{RoleAdvertiser, models.DealStatusCreativePending, models.DealStatusCancelled, true},
		{RoleChannelOwner, models.DealStatusCreativePending, models.DealStatusCancelled, true},
		{RoleChannelOwner, models.DealStatusPendingPayment, models.DealStatusCancelled, false},
		{RoleChannelOwner, models.DealStatusScheduled, models.DealStatusPosted, false},
		{RoleAdvertiser, models.DealStatusPosted, models.DealStatusVerified, false},
		{RoleAdvertiser, models.DealStatusDisputed, models.DealStatusRefunded, false},
		{RoleSystem, models.DealStatusScheduled, models.DealStatusPosted, true},
		{"stranger", models.DealStatusPendingAcceptance, models.DealStatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.role+":"+tt.from+"->"+tt.to, func(t *testing.T) {
			if got := CanTransition(tt.role, tt.from, tt.to); got != tt.expected {
				t.Errorf("CanTransition(%q, %q, %q) = %v, want %v", tt.role, tt.from, tt.to, got, tt.expected)
			}
		})
	}
}

func TestPermittedEdgesExistInTransitionTable(t *testing.T) {
	for role, edges := range TransitionPermissions {
		for e := range edges {
			if !models.IsValidTransition(e.From, e.To) {
				t.Errorf("role %s permits %s -> %s which is not in the transition table", role, e.From, e.To)
			}
		}
	}
}

func TestRoleInDeal(t *testing.T) {
	owner, advertiser := uuid.New(), uuid.New()
	d := &models.Deal{ChannelOwnerID: owner, AdvertiserID: advertiser}

	if r := RoleInDeal(d, models.Actor{UserID: owner}); r != RoleChannelOwner {
		t.Errorf("owner role = %q", r)
	}
	if r := RoleInDeal(d, models.Actor{UserID: advertiser}); r != RoleAdvertiser {
		t.Errorf("advertiser role = %q", r)
	}
	if r := RoleInDeal(d, models.Actor{UserID: uuid.New()}); r != "" {
		t.Errorf("stranger role = %q", r)
	}
	if r := RoleInDeal(d, models.SystemActor); r != RoleSystem {
		t.Errorf("system role = %q", r)
	}
}
