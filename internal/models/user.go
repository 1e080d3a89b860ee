package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID `json:"id"`
	TelegramUserID int64     `json:"telegram_user_id"`
	Username       *string   `json:"username,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Actor is the authenticated user performing an operation.
// It is passed explicitly into every core operation.
type Actor struct {
	UserID     uuid.UUID
	TelegramID int64
	IsArbiter  bool
}

// SystemActor is used for transitions driven by the reconciliation jobs.
var SystemActor = Actor{}

func (a Actor) IsSystem() bool {
	return a.UserID == uuid.Nil
}
