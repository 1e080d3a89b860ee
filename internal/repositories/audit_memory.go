package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ads-marketplace/dealflow/internal/models"
)

type MemoryAuditStore struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Log(_ context.Context, entry models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()
	s.entries = append(s.entries, entry)
	return nil
}

// GetByEntity returns entries newest first, like AuditRepo.
func (s *MemoryAuditStore) GetByEntity(_ context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	var out []models.AuditLog
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.EntityType != entityType || e.EntityID == nil || *e.EntityID != entityID {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Actions lists the recorded actions for an entity, oldest first.
func (s *MemoryAuditStore) Actions(entityID uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, e := range s.entries {
		if e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e.Action)
		}
	}
	return out
}
