package transfer

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/securebank/internal/money"
)

func TestReaper_FailsOnlyStalePending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	done := now.Add(-time.Hour)

	for _, tr := range []*Transfer{
		{ID: "trf_stale", Status: StatusPending, CreatedAt: now.Add(-10 * time.Minute)},
		{ID: "trf_fresh", Status: StatusPending, CreatedAt: now.Add(-30 * time.Second)},
		{ID: "trf_done", Status: StatusCompleted, CreatedAt: now.Add(-time.Hour), CompletedAt: &done},
	} {
		tr.SenderID = "acct_1"
		tr.Recipient = "bob@example.com"
		tr.Amount = money.MustParse("5")
		require.NoError(t, e.transfers.Create(ctx, tr))
	}

	r := NewReaper(e.svc, e.transfers, 2*time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.now = func() time.Time { return now }

	assert.Equal(t, 1, r.Reap(ctx))

	stale, err := e.transfers.Get(ctx, "trf_stale")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stale.Status)
	assert.Equal(t, ReasonDecisionTimeout, stale.FailureReason)
	assert.NotNil(t, stale.FailedAt)

	fresh, _ := e.transfers.Get(ctx, "trf_fresh")
	assert.Equal(t, StatusPending, fresh.Status)
	finished, _ := e.transfers.Get(ctx, "trf_done")
	assert.Equal(t, StatusCompleted, finished.Status)

	// Second pass has nothing left to do.
	assert.Equal(t, 0, r.Reap(ctx))
}

func TestFailStale_IgnoresTransferFinishedMeanwhile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tr := &Transfer{ID: "trf_1", SenderID: "acct_1", Recipient: "bob@example.com",
		Amount: money.MustParse("5"), Status: StatusPending, CreatedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, e.transfers.Create(ctx, tr))

	stale := *tr
	tr.Status = StatusBlocked
	require.NoError(t, e.transfers.Update(ctx, tr))

	assert.NoError(t, e.svc.FailStale(ctx, &stale))
	got, _ := e.transfers.Get(ctx, "trf_1")
	assert.Equal(t, StatusBlocked, got.Status)
}

func TestReaper_StartStop(t *testing.T) {
	e := newEnv(t)
	r := NewReaper(e.svc, e.transfers, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Start(ctx)

	require.Eventually(t, r.Running, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		r.Stop()
		return !r.Running()
	}, time.Second, 5*time.Millisecond)
}
