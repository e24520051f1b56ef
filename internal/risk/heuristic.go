package risk

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mbd888/securebank/internal/money"
)

// Weights for transfer scoring. They sum to 1.
const (
	weightAmountSpike = 0.40
	weightNovelty     = 0.25
	weightBurst       = 0.20
	weightDevice      = 0.15
)

const burstWindow = 5 * time.Minute

var emulatorHints = []string{"emulator", "sdk_gphone", "generic", "simulator", "genymotion", "vbox"}

// HeuristicScorer is a deterministic in-process Scorer used when no remote
// model is configured. It reads the structured context and replies in the
// same RISK_SCORE/REASON/ALERTS format the remote model is asked for.
type HeuristicScorer struct {
	now func() time.Time
}

// NewHeuristicScorer creates a HeuristicScorer.
func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{now: time.Now}
}

func (h *HeuristicScorer) Score(_ context.Context, req Request) (string, error) {
	rc := req.Context
	factors := map[string]float64{"device": h.deviceFactor(rc.Device)}

	var score float64
	if rc.Purpose == PurposeTransfer && rc.Transfer != nil {
		factors["amount_spike"] = h.amountSpikeFactor(rc.History, money.Float(rc.Transfer.Amount))
		factors["novelty"] = h.noveltyFactor(rc.History, rc.Transfer.Recipient)
		factors["burst"] = h.burstFactor(rc.History)
		score = factors["amount_spike"]*weightAmountSpike +
			factors["novelty"]*weightNovelty +
			factors["burst"]*weightBurst +
			factors["device"]*weightDevice
	} else {
		score = 0.1 + 0.8*factors["device"]
	}

	alerts := h.alerts(factors)
	reason := "no unusual signals"
	if len(alerts) > 0 {
		reason = "elevated " + strings.Join(alerts, ", ")
	}
	alertText := "none"
	if len(alerts) > 0 {
		alertText = strings.Join(alerts, ", ")
	}

	return fmt.Sprintf("RISK_SCORE: %.3f\nREASON: %s\nALERTS: %s", Clamp(score), reason, alertText), nil
}

func (h *HeuristicScorer) alerts(factors map[string]float64) []string {
	var out []string
	for _, name := range []string{"amount_spike", "novelty", "burst", "device"} {
		if factors[name] >= 0.5 {
			out = append(out, strings.ReplaceAll(name, "_", " "))
		}
	}
	return out
}

// deviceFactor: emulator hints score 1.0; otherwise sparse attribute sets
// score higher than complete ones.
func (h *HeuristicScorer) deviceFactor(attrs map[string]string) float64 {
	for _, v := range attrs {
		lv := strings.ToLower(v)
		for _, hint := range emulatorHints {
			if strings.Contains(lv, hint) {
				return 1.0
			}
		}
	}
	switch n := len(attrs); {
	case n == 0:
		return 0.6
	case n < 3:
		return 0.3
	default:
		return 0.0
	}
}

// amountSpikeFactor: amount vs average of completed history, log10 scaled
// (10x average = 0.5, 100x = 1.0). With no history, large amounts get a
// flat 0.5.
func (h *HeuristicScorer) amountSpikeFactor(history []HistoryEntry, amount float64) float64 {
	var sum float64
	var n int
	for _, e := range history {
		if e.Status == "completed" {
			sum += money.Float(e.Amount)
			n++
		}
	}
	if n == 0 {
		if amount >= 1000 {
			return 0.5
		}
		return 0.0
	}
	avg := sum / float64(n)
	if avg <= 0 || amount <= avg {
		return 0.0
	}
	return math.Min(1.0, math.Log10(amount/avg)/2.0)
}

// noveltyFactor: never-seen recipient = 0.6, seen 1-2x = 0.3, 3+ = 0.
// Cold start (no history at all) is treated as safe.
func (h *HeuristicScorer) noveltyFactor(history []HistoryEntry, recipient string) float64 {
	if len(history) == 0 {
		return 0.0
	}
	count := 0
	for _, e := range history {
		if strings.EqualFold(e.Recipient, recipient) {
			count++
		}
	}
	switch {
	case count >= 3:
		return 0.0
	case count >= 1:
		return 0.3
	}
	return 0.6
}

// burstFactor: 3+ transfers in the last five minutes = 0.8.
func (h *HeuristicScorer) burstFactor(history []HistoryEntry) float64 {
	cutoff := h.now().Add(-burstWindow)
	recent := 0
	for _, e := range history {
		if e.CreatedAt.After(cutoff) {
			recent++
		}
	}
	if recent >= 3 {
		return 0.8
	}
	return 0.0
}
