package account

import (
	"context"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory account store for demo/test use.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	byEmail  map[string]string
}

// NewMemoryStore creates an in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		byEmail:  make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(a.Email)
	if _, taken := s.byEmail[email]; taken {
		return ErrEmailTaken
	}
	cp := *a
	s.accounts[a.ID] = &cp
	s.byEmail[email] = a.ID
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	s.mu.RLock()
	id, ok := s.byEmail[strings.ToLower(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrAccountNotFound
	}
	return s.FindByID(ctx, id)
}

func (s *MemoryStore) Save(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.accounts[a.ID]
	if !ok {
		return ErrAccountNotFound
	}
	cur.Status = a.Status
	cur.DailyLimit = a.DailyLimit
	cur.MonthlyLimit = a.MonthlyLimit
	cur.UpdatedAt = a.UpdatedAt
	return nil
}

func (s *MemoryStore) ConditionalDebit(ctx context.Context, id string, amount decimal.Decimal) (bool, error) {
	err := s.DebitWith(ctx, id, amount, nil)
	if err == ErrInsufficientFunds {
		return false, nil
	}
	return err == nil, err
}

// DebitWith debits amount if the balance covers it and runs apply while the
// store is still write-locked; if apply fails the debit is not applied.
// Account readers therefore never see the new balance without whatever
// apply recorded, nor the reverse.
func (s *MemoryStore) DebitWith(_ context.Context, id string, amount decimal.Decimal, apply func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	if a.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	if apply != nil {
		if err := apply(); err != nil {
			return err
		}
	}
	a.Balance = a.Balance.Sub(amount)
	return nil
}

// SetBalance overwrites a balance. Test and seeding helper only.
func (s *MemoryStore) SetBalance(id string, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		a.Balance = balance
	}
}
