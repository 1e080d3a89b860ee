package dto

import (
	"github.com/ads-marketplace/dealflow/internal/models"
	"github.com/ads-marketplace/dealflow/internal/services"
)

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type PaymentInfoResponse struct {
	DealID        string `json:"deal_id"`
	WalletAddress string `json:"wallet_address"`
	Memo          string `json:"memo"`
	AmountTON     string `json:"amount_ton"`
	Status        string `json:"status"`
	EscrowStatus  string `json:"escrow_status"`
}

func NewPaymentInfo(d *models.Deal, acc *models.EscrowAccount) PaymentInfoResponse {
	return PaymentInfoResponse{
		DealID:        d.ID.String(),
		WalletAddress: acc.Address,
		Memo:          "deal:" + d.ID.String(),
		AmountTON:     d.Amount.String(),
		Status:        d.Status,
		EscrowStatus:  acc.Status,
	}
}

type PaymentCheckResponse struct {
	Deal    *models.Deal            `json:"deal"`
	Funding *services.FundingResult `json:"funding,omitempty"`
}

type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
