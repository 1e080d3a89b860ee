// Package apperr defines the typed failures returned by the deal core.
// Every error carries a stable machine-readable kind plus a human message.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound                 Kind = "not_found"
	KindForbidden                Kind = "forbidden"
	KindInvalidTransition        Kind = "invalid_transition"
	KindInvalidState             Kind = "invalid_state"
	KindMissingRecipientAddress  Kind = "missing_recipient_address"
	KindLedgerUnavailable        Kind = "ledger_unavailable"
	KindLedgerTransferFailed     Kind = "ledger_transfer_failed"
	KindPublishFailed            Kind = "publish_failed"
	KindVerificationInconclusive Kind = "verification_inconclusive"
	KindValidation               Kind = "validation"
	KindConflict                 Kind = "conflict"
	KindUnauthorized             Kind = "unauthorized"
	KindUnavailable              Kind = "unavailable"
	KindInternal                 Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so errors.Is(err, apperr.NotFound("")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the human readable message without the wrapped cause.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(KindForbidden, format, args...)
}

func InvalidTransition(from, to string) *Error {
	return New(KindInvalidTransition, "transition %s -> %s is not allowed", from, to)
}

func InvalidState(format string, args ...any) *Error {
	return New(KindInvalidState, format, args...)
}

func MissingRecipientAddress(format string, args ...any) *Error {
	return New(KindMissingRecipientAddress, format, args...)
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return New(KindUnauthorized, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}
