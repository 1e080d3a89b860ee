package rbac

import (
	"github.com/ads-marketplace/dealflow/internal/models"
)

// Role constants
const (
	RoleChannelOwner = "channel_owner"
	RoleAdvertiser   = "advertiser"
	RoleArbiter      = "arbiter"
	RoleSystem       = "system"
)

// Edge is a single status transition.
type Edge struct {
	From string
	To   string
}

// fundedPreStates are the funded states from which either party may pull out.
var fundedPreStates = []string{
	models.DealStatusPaymentReceived,
	models.DealStatusCreativePending,
	models.DealStatusCreativeSubmitted,
	models.DealStatusCreativeRevision,
	models.DealStatusCreativeApproved,
	models.DealStatusScheduled,
}

// TransitionPermissions lists the edges each party may request directly.
// System-driven transitions bypass this matrix but never the transition table.
var TransitionPermissions = buildPermissions()

func buildPermissions() map[string]map[Edge]bool {
	owner := map[Edge]bool{
		{models.DealStatusPendingAcceptance, models.DealStatusPendingPayment}:   true,
		{models.DealStatusPendingAcceptance, models.DealStatusCancelled}:        true,
		{models.DealStatusCreativePending, models.DealStatusCreativeSubmitted}:  true,
		{models.DealStatusCreativeRevision, models.DealStatusCreativeSubmitted}: true,
		{models.DealStatusCreativeApproved, models.DealStatusScheduled}:         true,
		{models.DealStatusPosted, models.DealStatusDisputed}:                    true,
	}
	advertiser := map[Edge]bool{
		{models.DealStatusPendingAcceptance, models.DealStatusCancelled}:        true,
		{models.DealStatusPendingPayment, models.DealStatusCancelled}:           true,
		{models.DealStatusCreativeSubmitted, models.DealStatusCreativeApproved}: true,
		{models.DealStatusCreativeSubmitted, models.DealStatusCreativeRevision}: true,
		{models.DealStatusScheduled, models.DealStatusDisputed}:                 true,
		{models.DealStatusPosted, models.DealStatusDisputed}:                    true,
	}
	for _, from := range fundedPreStates {
		owner[Edge{from, models.DealStatusCancelled}] = true
		advertiser[Edge{from, models.DealStatusCancelled}] = true
	}
	return map[string]map[Edge]bool{
		RoleChannelOwner: owner,
		RoleAdvertiser:   advertiser,
	}
}

// CanTransition checks the role matrix for a user-requested edge.
func CanTransition(role, from, to string) bool {
	if role == RoleSystem {
		return true
	}
	edges, ok := TransitionPermissions[role]
	if !ok {
		return false
	}
	return edges[Edge{from, to}]
}

// RoleInDeal resolves the acting user's role, "" if they are not a party.
func RoleInDeal(d *models.Deal, actor models.Actor) string {
	switch {
	case actor.IsSystem():
		return RoleSystem
	case actor.UserID == d.ChannelOwnerID:
		return RoleChannelOwner
	case actor.UserID == d.AdvertiserID:
		return RoleAdvertiser
	default:
		return ""
	}
}
