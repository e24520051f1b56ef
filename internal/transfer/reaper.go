package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

const reapBatch = 100

// Reaper fails transfers left pending past a timeout, e.g. after a crash
// between record creation and decision.
type Reaper struct {
	service  *Service
	store    Store
	timeout  time.Duration
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
	now      func() time.Time
}

// NewReaper creates a reaper failing transfers pending longer than timeout.
func NewReaper(service *Service, store Store, timeout time.Duration, logger *slog.Logger) *Reaper {
	interval := timeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	return &Reaper{
		service:  service,
		store:    store,
		timeout:  timeout,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		now:      time.Now,
	}
}

// Running reports whether the loop is active.
func (r *Reaper) Running() bool {
	return r.running.Load()
}

// Start runs the loop until ctx is done or Stop is called. Call in a goroutine.
func (r *Reaper) Start(ctx context.Context) {
	r.running.Store(true)
	defer r.running.Store(false)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.safeReap(ctx)
		}
	}
}

// Stop signals the loop to exit.
func (r *Reaper) Stop() {
	select {
	case r.stop <- struct{}{}:
	default:
	}
}

func (r *Reaper) safeReap(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic in transfer reaper", "panic", fmt.Sprint(p))
		}
	}()
	r.Reap(ctx)
}

// Reap fails one batch of stale pending transfers and returns how many it
// moved.
func (r *Reaper) Reap(ctx context.Context) int {
	cutoff := r.now().Add(-r.timeout)
	stale, err := r.store.ListStalePending(ctx, cutoff, reapBatch)
	if err != nil {
		r.logger.Warn("failed to list stale transfers", "error", err)
		return 0
	}

	reaped := 0
	for _, t := range stale {
		if err := r.service.FailStale(ctx, t); err != nil {
			r.logger.Warn("failed to reap stale transfer", "transfer_id", t.ID, "error", err)
			continue
		}
		if t.Status == StatusFailed {
			reaped++
			r.logger.Info("reaped stale transfer", "transfer_id", t.ID, "sender", t.SenderID, "created_at", t.CreatedAt)
		}
	}
	return reaped
}
