package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ads-marketplace/dealflow/internal/apperr"
	"github.com/ads-marketplace/dealflow/internal/http/dto"
	"github.com/ads-marketplace/dealflow/internal/middleware"
	"github.com/ads-marketplace/dealflow/internal/services"
)

// AdminHandler serves the arbiter-only endpoints.
type AdminHandler struct {
	disputes *services.DisputeService
	escrow   *services.EscrowService
	log      *zap.Logger
}

func NewAdminHandler(disputes *services.DisputeService, escrow *services.EscrowService, log *zap.Logger) *AdminHandler {
	return &AdminHandler{disputes: disputes, escrow: escrow, log: log}
}

func (h *AdminHandler) ResolveDispute(c *fiber.Ctx) error {
	id, err := dealID(c)
	if err != nil {
		return err
	}
	var req dto.ResolveDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid request body")
	}

	deal, err := h.disputes.Resolve(c.Context(), middleware.ActorFrom(c), id, services.ResolveInput{
		Decision:      req.Decision,
		Reason:        req.Reason,
		RefundAddress: req.RefundAddress,
	})
	if err != nil {
		return err
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *AdminHandler) RecoverEscrow(c *fiber.Ctx) error {
	ref, err := uuid.Parse(c.Params("ref"))
	if err != nil {
		return apperr.Validation("invalid escrow account id")
	}
	var req dto.RecoverEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid request body")
	}

	res, err := h.escrow.Recover(c.Context(), middleware.ActorFrom(c), ref, req.ToAddress)
	if err != nil {
		return err
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: res})
}
