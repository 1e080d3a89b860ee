package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ads-marketplace/dealflow/internal/apperr"
	"github.com/ads-marketplace/dealflow/internal/http/dto"
	"github.com/ads-marketplace/dealflow/internal/middleware"
	"github.com/ads-marketplace/dealflow/internal/models"
	"github.com/ads-marketplace/dealflow/internal/services"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type DealHandler struct {
	dealService *services.DealService
	log         *zap.Logger
}

func NewDealHandler(dealService *services.DealService, log *zap.Logger) *DealHandler {
	return &DealHandler{dealService: dealService, log: log}
}

func (h *DealHandler) CreateDeal(c *fiber.Ctx) error {
	var req dto.CreateDealRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid request body")
	}

	channelID, err := uuid.Parse(req.ChannelID)
	if err != nil {
		return apperr.Validation("invalid channel_id")
	}
	if req.AdFormat == "" {
		return apperr.Validation("ad_format is required (post, repost, story)")
	}
	in := services.CreateDealInput{
		ChannelID:         channelID,
		SourceType:        req.SourceType,
		Format:            req.AdFormat,
		PostDurationHours: req.PostDurationHours,
		Brief:             req.Brief,
	}
	if in.SourceType == "" {
		in.SourceType = models.DealSourceListing
	}
	if req.SourceID != "" {
		if in.SourceID, err = uuid.Parse(req.SourceID); err != nil {
			return apperr.Validation("invalid source_id")
		}
	}
	if req.AmountTON != nil && *req.AmountTON != "" {
		amount, err := decimal.NewFromString(*req.AmountTON)
		if err != nil {
			return apperr.Validation("invalid amount_ton")
		}
		in.Amount = &amount
	}

	deal, err := h.dealService.CreateDeal(c.Context(), middleware.ActorFrom(c), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) GetDeal(c *fiber.Ctx) error {
	id, err := dealID(c)
	if err != nil {
		return err
	}
	deal, err := h.dealService.GetDeal(c.Context(), middleware.ActorFrom(c), id)
	if err != nil {
		return err
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) ListDeals(c *fiber.Ctx) error {
	limit, offset := pageParams(c)
	var status *string
	if v := c.Query("status"); v != "" {
		status = &v
	}

	deals, err := h.dealService.ListDeals(c.Context(), middleware.ActorFrom(c), status, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.ListResponse[*models.Deal]{Items: deals, Limit: limit, Offset: offset}})
}

// Transition is the generic entry point: the body names the target status
// and carries whatever that transition needs.
func (h *DealHandler) Transition(c *fiber.Ctx) error {
	id, err := dealID(c)
	if err != nil {
		return err
	}
	var req dto.TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if req.Status == "" {
		return apperr.Validation("status is required")
	}

	p := services.TransitionPayload{
		Reason:        req.Reason,
		Feedback:      req.Feedback,
		ScheduledTime: req.ScheduledTime,
		RefundAddress: req.RefundAddress,
	}
	if req.Creative != nil {
		cr := req.Creative.ToModel()
		p.Creative = &cr
	}

	deal, err := h.dealService.RequestTransition(c.Context(), id, middleware.ActorFrom(c), req.Status, p)
	if err != nil {
		return err
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) AcceptDeal(c *fiber.Ctx) error {
	id, err := dealID(c)
	if err != nil {
		return err
	}
	deal, err := h.dealService.AcceptDeal(c.Context(), middleware.ActorFrom(c), id)
	if err != nil {
		return err
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) RejectDeal(c *fiber.Ctx) error {
	id, err := dealID(c)
	if err != nil {
		return err
	}
	var req dto.ReasonRequest
	_ = c.BodyParser(&req) // reason is optional

	deal, err := h.dealService.RejectDeal(c.Context(), middleware.ActorFrom(c), id, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) CancelDeal(c *fiber.Ctx) error {
	id, err := dealID(c)
	if err != nil {
		return err
	}
	var req dto.ReasonRequest
	_ = c.BodyParser(&req)

	deal, err := h.dealService.CancelDeal(c.Context(), middleware.ActorFrom(c), id, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) SubmitCreative(c *fiber.Ctx) error {
	id, err := dealID(c)
	if err != nil {
		return err
	}
	var req dto.CreativeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid request body")
	}

	deal, err := h.dealService.SubmitCreative(c.Context(), middleware.ActorFrom(c), id, req.ToModel())
	if err != nil {
		return err
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) ApproveCreative(c *fiber.Ctx) error {
	id, err := dealID(c)
	if err != nil {
		return err
	}
	deal, err := h.dealService.ApproveCreative(c.Context(), middleware.ActorFrom(c), id)
	if err != nil {
		return err
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) RequestCreativeChanges(c *fiber.Ctx) error {
	id, err := dealID(c)
	if err != nil {
		return err
	}
	var req dto.RequestCreativeChangesRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid request body")
	}

	deal, err := h.dealService.RequestRevision(c.Context(), middleware.ActorFrom(c), id, req.Feedback)
	if err != nil {
		return err
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) ScheduleDeal(c *fiber.Ctx) error {
	id, err := dealID(c)
	if err != nil {
		return err
	}
	var req dto.ScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if req.ScheduledTime == nil {
		return apperr.Validation("scheduled_time is required")
	}

	deal, err := h.dealService.ScheduleDeal(c.Context(), middleware.ActorFrom(c), id, *req.ScheduledTime)
	if err != nil {
		return err
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) OpenDispute(c *fiber.Ctx) error {
	id, err := dealID(c)
	if err != nil {
		return err
	}
	var req dto.ReasonRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if req.Reason == nil || *req.Reason == "" {
		return apperr.Validation("reason is required")
	}

	deal, err := h.dealService.OpenDispute(c.Context(), middleware.ActorFrom(c), id, *req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) GetPaymentInfo(c *fiber.Ctx) error {
	id, err := dealID(c)
	if err != nil {
		return err
	}
	deal, acc, err := h.dealService.PaymentInfo(c.Context(), middleware.ActorFrom(c), id)
	if err != nil {
		return err
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewPaymentInfo(deal, acc)})
}

func (h *DealHandler) CheckPayment(c *fiber.Ctx) error {
	id, err := dealID(c)
	if err != nil {
		return err
	}
	deal, funding, err := h.dealService.CheckPaymentNow(c.Context(), middleware.ActorFrom(c), id)
	if err != nil {
		return err
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.PaymentCheckResponse{Deal: deal, Funding: funding}})
}

func (h *DealHandler) GetDealEvents(c *fiber.Ctx) error {
	id, err := dealID(c)
	if err != nil {
		return err
	}
	limit, offset := pageParams(c)

	entries, err := h.dealService.History(c.Context(), middleware.ActorFrom(c), id, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.ListResponse[models.AuditLog]{Items: entries, Limit: limit, Offset: offset}})
}

func dealID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid deal id")
	}
	return id, nil
}

func pageParams(c *fiber.Ctx) (limit, offset int) {
	limit = defaultPageSize
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, maxPageSize)
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
