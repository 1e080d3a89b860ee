package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ads-marketplace/dealflow/internal/models"
)

type MemoryEscrowStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*models.EscrowAccount
}

func NewMemoryEscrowStore() *MemoryEscrowStore {
	return &MemoryEscrowStore{accounts: make(map[uuid.UUID]*models.EscrowAccount)}
}

func (s *MemoryEscrowStore) Create(_ context.Context, a *models.EscrowAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.DealID != nil {
		for _, existing := range s.accounts {
			if existing.DealID != nil && *existing.DealID == *a.DealID {
				return ErrAlreadyExists
			}
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	s.accounts[a.ID] = a.Clone()
	return nil
}

func (s *MemoryEscrowStore) GetByID(_ context.Context, id uuid.UUID) (*models.EscrowAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryEscrowStore) GetByDealID(_ context.Context, dealID uuid.UUID) (*models.EscrowAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.DealID != nil && *a.DealID == dealID {
			return a.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryEscrowStore) MarkPayoutPending(_ context.Context, id uuid.UUID, memo string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok || (a.Status != models.EscrowStatusActive && a.Status != models.EscrowStatusPayoutPending) {
		return ErrStatusConflict
	}
	a.Status = models.EscrowStatusPayoutPending
	a.PayoutMemo = &memo
	a.PayoutStarted = &at
	return nil
}

func (s *MemoryEscrowStore) MarkPayoutSent(_ context.Context, id uuid.UUID, txRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok || (a.Status != models.EscrowStatusActive && a.Status != models.EscrowStatusPayoutPending) {
		return ErrStatusConflict
	}
	a.Status = models.EscrowStatusPayoutSent
	a.PayoutTxRef = &txRef
	return nil
}

func (s *MemoryEscrowStore) MarkSpent(_ context.Context, id uuid.UUID, drainTxRef *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok || a.Status == models.EscrowStatusSpent {
		return ErrStatusConflict
	}
	now := time.Now()
	zero := decimal.Zero
	a.Status = models.EscrowStatusSpent
	a.DrainTxRef = drainTxRef
	a.SpentAt = &now
	a.BalanceCached = &zero
	return nil
}

func (s *MemoryEscrowStore) UpdateBalanceCached(_ context.Context, id uuid.UUID, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.BalanceCached = &balance
	return nil
}
