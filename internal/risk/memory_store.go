package risk

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory audit store for demo/test use.
type MemoryStore struct {
	mu        sync.RWMutex
	byAccount map[string][]*Assessment // oldest first
}

// NewMemoryStore creates an in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byAccount: make(map[string][]*Assessment)}
}

func (s *MemoryStore) Record(_ context.Context, a *Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byAccount[a.AccountID] = append(s.byAccount[a.AccountID], copyAssessment(a))
	return nil
}

func (s *MemoryStore) ListByAccount(_ context.Context, accountID string, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.byAccount[accountID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]*Assessment, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, copyAssessment(all[i]))
	}
	return out, nil
}

func copyAssessment(a *Assessment) *Assessment {
	cp := *a
	cp.Alerts = append([]string{}, a.Alerts...)
	return &cp
}
