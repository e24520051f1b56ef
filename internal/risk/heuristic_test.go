package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/securebank/internal/money"
)

var fullDevice = map[string]string{"model": "Pixel 8", "os": "android", "osVersion": "14", "brand": "google"}

func scoreWith(t *testing.T, h *HeuristicScorer, rc Context) Result {
	t.Helper()
	raw, err := h.Score(context.Background(), Request{Context: rc})
	require.NoError(t, err)
	res := ParseResponse(raw, rc.Purpose)
	require.Equal(t, SourceScorer, res.Source, "heuristic replies must parse cleanly: %q", raw)
	return res
}

func TestHeuristic_CleanDeviceIsLowRisk(t *testing.T) {
	res := scoreWith(t, NewHeuristicScorer(), Context{Purpose: PurposeDevice, Device: fullDevice})
	assert.InDelta(t, 0.1, res.Score, 0.001)
	assert.Empty(t, res.Alerts)
}

func TestHeuristic_EmulatorIsHighRisk(t *testing.T) {
	res := scoreWith(t, NewHeuristicScorer(), Context{
		Purpose: PurposeDevice,
		Device:  map[string]string{"model": "sdk_gphone64_x86_64", "os": "android"},
	})
	assert.Greater(t, res.Score, HighRiskThreshold)
	assert.Contains(t, res.Alerts, "device")
}

func TestHeuristic_TransferFactors(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h := NewHeuristicScorer()
	h.now = func() time.Time { return now }

	var history []HistoryEntry
	for i := 0; i < 4; i++ {
		history = append(history, HistoryEntry{
			Recipient: "alice@example.com",
			Amount:    money.MustParse("20.00"),
			Status:    "completed",
			CreatedAt: now.Add(-time.Duration(i+1) * 24 * time.Hour),
		})
	}

	t.Run("familiar recipient normal amount", func(t *testing.T) {
		res := scoreWith(t, h, Context{
			Purpose: PurposeTransfer, Device: fullDevice, History: history,
			Transfer: &TransferDetails{Amount: money.MustParse("20.00"), Recipient: "alice@example.com"},
		})
		assert.Equal(t, 0.0, res.Score)
	})

	t.Run("new recipient large spike", func(t *testing.T) {
		res := scoreWith(t, h, Context{
			Purpose: PurposeTransfer, Device: fullDevice, History: history,
			Transfer: &TransferDetails{Amount: money.MustParse("2000.00"), Recipient: "mallory@example.com"},
		})
		// spike 1.0*0.40 + novelty 0.6*0.25
		assert.InDelta(t, 0.55, res.Score, 0.001)
		assert.Contains(t, res.Alerts, "amount spike")
		assert.Contains(t, res.Alerts, "novelty")
	})

	t.Run("burst", func(t *testing.T) {
		burst := []HistoryEntry{
			{Recipient: "a@x.io", Amount: money.MustParse("1"), Status: "completed", CreatedAt: now.Add(-time.Minute)},
			{Recipient: "a@x.io", Amount: money.MustParse("1"), Status: "completed", CreatedAt: now.Add(-2 * time.Minute)},
			{Recipient: "a@x.io", Amount: money.MustParse("1"), Status: "completed", CreatedAt: now.Add(-3 * time.Minute)},
		}
		res := scoreWith(t, h, Context{
			Purpose: PurposeTransfer, Device: fullDevice, History: burst,
			Transfer: &TransferDetails{Amount: money.MustParse("1"), Recipient: "a@x.io"},
		})
		assert.Contains(t, res.Alerts, "burst")
	})

	t.Run("cold start small amount", func(t *testing.T) {
		res := scoreWith(t, h, Context{
			Purpose: PurposeTransfer, Device: fullDevice,
			Transfer: &TransferDetails{Amount: money.MustParse("50.00"), Recipient: "bob@example.com"},
		})
		assert.Equal(t, 0.0, res.Score)
	})
}
