package device

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory device store for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	devices map[string]*Device // accountID|digest -> device
}

// NewMemoryStore creates an in-memory device store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{devices: make(map[string]*Device)}
}

func memKey(accountID, digest string) string {
	return accountID + "|" + digest
}

func (s *MemoryStore) Find(_ context.Context, accountID, digest string) (*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[memKey(accountID, digest)]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.clone(), nil
}

func (s *MemoryStore) Create(_ context.Context, d *Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memKey(d.AccountID, d.Digest)
	if _, exists := s.devices[k]; exists {
		return ErrDeviceExists
	}
	s.devices[k] = d.clone()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, d *Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memKey(d.AccountID, d.Digest)
	cur, exists := s.devices[k]
	if !exists {
		return ErrDeviceNotFound
	}
	next := d.clone()
	next.LastLogin = cur.LastLogin
	s.devices[k] = next
	return nil
}

func (s *MemoryStore) TouchLastLogin(_ context.Context, accountID, digest string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[memKey(accountID, digest)]
	if !ok {
		return ErrDeviceNotFound
	}
	d.LastLogin = at
	return nil
}

func (s *MemoryStore) ListTrusted(ctx context.Context, accountID string) ([]*Device, error) {
	all, _ := s.ListByAccount(ctx, accountID)
	out := make([]*Device, 0, len(all))
	for _, d := range all {
		if d.Status == StatusTrusted {
			out = append(out, d)
		}
	}
	return out, nil
}

// ListByAccount returns the account's devices, most recently used first.
func (s *MemoryStore) ListByAccount(_ context.Context, accountID string) ([]*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Device, 0)
	for _, d := range s.devices {
		if d.AccountID == accountID {
			out = append(out, d.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastLogin.Equal(out[j].LastLogin) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastLogin.After(out[j].LastLogin)
	})
	return out, nil
}
