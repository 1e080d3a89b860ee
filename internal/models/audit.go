package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions
const (
	AuditDealCreated       = "deal_created"
	AuditDealTransition    = "deal_status_changed"
	AuditEscrowOpened      = "escrow_opened"
	AuditEscrowReleased    = "escrow_released"
	AuditEscrowRefunded    = "escrow_refunded"
	AuditEscrowRecovered   = "escrow_recovered"
	AuditDisputeResolved   = "dispute_resolved"
	AuditVerificationCheck = "verification_check"
)

type AuditLog struct {
	ID          uuid.UUID  `json:"id"`
	ActorUserID *uuid.UUID `json:"actor_user_id,omitempty"`
	ActorType   string     `json:"actor_type"` // user/arbiter/system
	Action      string     `json:"action"`
	EntityType  string     `json:"entity_type"`
	EntityID    *uuid.UUID `json:"entity_id,omitempty"`
	Meta        any        `json:"meta,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ActorType classifies the actor for the audit log.
func (a Actor) ActorType() string {
	switch {
	case a.IsSystem():
		return "system"
	case a.IsArbiter:
		return "arbiter"
	default:
		return "user"
	}
}

// AuditActorID returns nil for the system actor.
func (a Actor) AuditActorID() *uuid.UUID {
	if a.IsSystem() {
		return nil
	}
	id := a.UserID
	return &id
}
