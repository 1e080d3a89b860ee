package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ads-marketplace/dealflow/internal/apperr"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id,omitempty"`
}

var kindStatus = map[apperr.Kind]int{
	apperr.KindNotFound:                 fiber.StatusNotFound,
	apperr.KindForbidden:                fiber.StatusForbidden,
	apperr.KindUnauthorized:             fiber.StatusUnauthorized,
	apperr.KindValidation:               fiber.StatusBadRequest,
	apperr.KindMissingRecipientAddress:  fiber.StatusUnprocessableEntity,
	apperr.KindInvalidTransition:        fiber.StatusConflict,
	apperr.KindInvalidState:             fiber.StatusConflict,
	apperr.KindConflict:                 fiber.StatusConflict,
	apperr.KindLedgerUnavailable:        fiber.StatusServiceUnavailable,
	apperr.KindUnavailable:              fiber.StatusServiceUnavailable,
	apperr.KindLedgerTransferFailed:     fiber.StatusBadGateway,
	apperr.KindPublishFailed:            fiber.StatusBadGateway,
	apperr.KindVerificationInconclusive: fiber.StatusBadGateway,
}

// StatusFor maps an error returned by a handler to its HTTP status.
func StatusFor(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	if status, ok := kindStatus[apperr.KindOf(err)]; ok {
		return status
	}
	return fiber.StatusInternalServerError
}

// ErrorHandler renders handler errors as ErrorResponse. Internal errors are
// logged with their cause and answered with a generic message.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := StatusFor(err)
		resp := ErrorResponse{
			Error:     apperr.Message(err),
			Kind:      string(apperr.KindOf(err)),
			RequestID: RequestID(c),
		}

		var fe *fiber.Error
		switch {
		case errors.As(err, &fe):
			resp.Error = fe.Message
			resp.Kind = "http"
		case status == fiber.StatusInternalServerError:
			log.Error("unhandled error",
				zap.String("request_id", resp.RequestID),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
			resp.Error = "internal error"
		}
		return c.Status(status).JSON(resp)
	}
}
