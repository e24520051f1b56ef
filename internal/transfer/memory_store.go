package transfer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/securebank/internal/pagination"
)

// Debiter applies a conditional balance debit together with a caller
// supplied change, failing with ErrInsufficientFunds when funds are short.
type Debiter interface {
	DebitWith(ctx context.Context, accountID string, amount decimal.Decimal, apply func() error) error
}

// MemoryStore is an in-memory transfer store for demo/test use. Settlement
// debits through the account MemoryStore so both changes land together.
type MemoryStore struct {
	mu        sync.RWMutex
	transfers map[string]*Transfer
	debiter   Debiter
}

// NewMemoryStore creates an in-memory transfer store settling against d.
func NewMemoryStore(d Debiter) *MemoryStore {
	return &MemoryStore{
		transfers: make(map[string]*Transfer),
		debiter:   d,
	}
}

func (s *MemoryStore) Create(_ context.Context, t *Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers[t.ID] = t.clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transfers[id]
	if !ok {
		return nil, ErrTransferNotFound
	}
	return t.clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, t *Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishLocked(t)
}

func (s *MemoryStore) finishLocked(t *Transfer) error {
	cur, ok := s.transfers[t.ID]
	if !ok {
		return ErrTransferNotFound
	}
	if cur.Status != StatusPending {
		return ErrAlreadyTerminal
	}
	s.transfers[t.ID] = t.clone()
	return nil
}

func (s *MemoryStore) Settle(ctx context.Context, t *Transfer) error {
	return s.debiter.DebitWith(ctx, t.SenderID, t.Amount, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.finishLocked(t)
	})
}

func (s *MemoryStore) ListBySender(_ context.Context, senderID string, limit int, cursor *pagination.Cursor) ([]*Transfer, error) {
	s.mu.RLock()
	var out []*Transfer
	for _, t := range s.transfers {
		if t.SenderID == senderID && cursor.After(t.CreatedAt, t.ID) {
			out = append(out, t.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []*Transfer{}
	}
	return out, nil
}

func (s *MemoryStore) SumCompletedSince(_ context.Context, senderID string, since time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := decimal.Zero
	for _, t := range s.transfers {
		if t.SenderID == senderID && t.Status == StatusCompleted &&
			t.CompletedAt != nil && !t.CompletedAt.Before(since) {
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}

func (s *MemoryStore) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]*Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Transfer
	for _, t := range s.transfers {
		if t.Status == StatusPending && t.CreatedAt.Before(cutoff) {
			out = append(out, t.clone())
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
