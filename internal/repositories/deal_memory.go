package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ads-marketplace/dealflow/internal/models"
)

// MemoryDealStore is an in-memory deal store with the same CAS semantics as
// DealRepo. Used by tests and demo runs without Postgres.
type MemoryDealStore struct {
	mu    sync.RWMutex
	deals map[uuid.UUID]*models.Deal
}

func NewMemoryDealStore() *MemoryDealStore {
	return &MemoryDealStore{deals: make(map[uuid.UUID]*models.Deal)}
}

func (s *MemoryDealStore) Create(_ context.Context, d *models.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if _, ok := s.deals[d.ID]; ok {
		return ErrAlreadyExists
	}
	now := time.Now()
	d.CreatedAt, d.UpdatedAt = now, now
	s.deals[d.ID] = d.Clone()
	return nil
}

func (s *MemoryDealStore) GetByID(_ context.Context, id uuid.UUID) (*models.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (s *MemoryDealStore) Update(_ context.Context, d *models.Deal, expectedStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.deals[d.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != expectedStatus {
		return ErrStatusConflict
	}
	next := d.Clone()
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = time.Now()
	s.deals[d.ID] = next
	d.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *MemoryDealStore) AppendVerificationCheck(_ context.Context, id uuid.UUID, expectedStatus string, check models.VerificationCheck) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.deals[id]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != expectedStatus {
		return ErrStatusConflict
	}
	cur.VerificationChecks = append(cur.VerificationChecks, check)
	cur.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryDealStore) ListByStatus(_ context.Context, status string, limit int) ([]*models.Deal, error) {
	return s.filter(limit, func(d *models.Deal) bool { return d.Status == status }), nil
}

func (s *MemoryDealStore) ListDueForPublish(_ context.Context, now time.Time, limit int) ([]*models.Deal, error) {
	return s.filter(limit, func(d *models.Deal) bool {
		return d.Status == models.DealStatusScheduled && d.ScheduledTime != nil && !d.ScheduledTime.After(now)
	}), nil
}

func (s *MemoryDealStore) ListTimedOut(_ context.Context, statuses []string, now time.Time, limit int) ([]*models.Deal, error) {
	return s.filter(limit, func(d *models.Deal) bool {
		if d.AutoCancelDeadline == nil || d.AutoCancelDeadline.After(now) {
			return false
		}
		for _, st := range statuses {
			if d.Status == st {
				return true
			}
		}
		return false
	}), nil
}

func (s *MemoryDealStore) ListForUser(_ context.Context, f DealFilter) ([]*models.Deal, error) {
	all := s.filter(0, func(d *models.Deal) bool {
		if !d.IsParty(f.UserID) {
			return false
		}
		return f.Status == nil || d.Status == *f.Status
	})
	if f.Offset >= len(all) {
		return nil, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, nil
}

func (s *MemoryDealStore) filter(limit int, keep func(*models.Deal) bool) []*models.Deal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Deal
	for _, d := range s.deals {
		if keep(d) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
