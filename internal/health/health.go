// Package health aggregates subsystem checks for /health and /health/ready.
package health

import (
	"context"
	"database/sql"
	"strconv"
	"sync"
	"time"

	"github.com/mbd888/securebank/internal/circuitbreaker"
)

// CheckTimeout bounds each individual check.
const CheckTimeout = 2 * time.Second

// Status is the result of one check.
type Status struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Detail   string `json:"detail,omitempty"`
}

// Checker reports a subsystem's health.
type Checker func(ctx context.Context) Status

type entry struct {
	name     string
	critical bool
	check    Checker
}

// Registry runs registered checks concurrently.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a check. A failing critical check makes the service not
// ready; a failing non-critical check only degrades it.
func (r *Registry) Register(name string, critical bool, check Checker) {
	r.mu.Lock()
	r.entries = append(r.entries, entry{name: name, critical: critical, check: check})
	r.mu.Unlock()
}

// CheckAll runs every check and reports whether all critical ones passed.
func (r *Registry) CheckAll(ctx context.Context) (ready bool, statuses []Status) {
	r.mu.RLock()
	entries := append([]entry(nil), r.entries...)
	r.mu.RUnlock()

	statuses = make([]Status, len(entries))
	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Add(1)
		go func(i int, e entry) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, CheckTimeout)
			defer cancel()
			s := e.check(cctx)
			s.Name = e.name
			s.Critical = e.critical
			statuses[i] = s
		}(i, e)
	}
	wg.Wait()

	ready = true
	for _, s := range statuses {
		if s.Critical && !s.Healthy {
			ready = false
		}
	}
	return ready, statuses
}

// Database pings db.
func Database(db *sql.DB) Checker {
	return func(ctx context.Context) Status {
		if err := db.PingContext(ctx); err != nil {
			return Status{Healthy: false, Detail: err.Error()}
		}
		s := db.Stats()
		return Status{Healthy: true, Detail: "open=" + strconv.Itoa(s.OpenConnections) + " in_use=" + strconv.Itoa(s.InUse)}
	}
}

// Breaker reports unhealthy while the circuit for key is open. Transfers
// keep flowing on fallback scores, so this is normally registered as
// non-critical.
func Breaker(b *circuitbreaker.Breaker, key string) Checker {
	return func(context.Context) Status {
		st := b.State(key)
		return Status{Healthy: st != circuitbreaker.StateOpen, Detail: st.String()}
	}
}
