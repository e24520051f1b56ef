package risk

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbd888/securebank/internal/circuitbreaker"
	"github.com/mbd888/securebank/internal/idgen"
	"github.com/mbd888/securebank/internal/logging"
	"github.com/mbd888/securebank/internal/metrics"
	"github.com/mbd888/securebank/internal/retry"
	"github.com/mbd888/securebank/internal/traces"
)

// BreakerKey is the circuit breaker key used for scorer calls.
const BreakerKey = "risk_scorer"

const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 2
	defaultBackoff     = 200 * time.Millisecond
)

// Adapter is the only path to the scorer. Assess never returns an error:
// scorer failures of any kind produce the purpose's Fallback result.
type Adapter struct {
	scorer      Scorer
	store       Store
	history     HistoryProvider
	breaker     *circuitbreaker.Breaker
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewAdapter creates an adapter around scorer. store may be nil to skip the
// audit trail.
func NewAdapter(scorer Scorer, store Store, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		scorer:      scorer,
		store:       store,
		breaker:     circuitbreaker.New(5, 30*time.Second),
		timeout:     DefaultTimeout,
		maxAttempts: DefaultMaxAttempts,
		backoff:     defaultBackoff,
		logger:      logger,
		now:         time.Now,
	}
}

// WithHistory sets the source of recent transfers for device assessments
// and for transfer contexts that arrive without history.
func (a *Adapter) WithHistory(h HistoryProvider) *Adapter {
	a.history = h
	return a
}

// WithBreaker replaces the default breaker (5 failures, 30s cooldown).
func (a *Adapter) WithBreaker(b *circuitbreaker.Breaker) *Adapter {
	a.breaker = b
	return a
}

// WithTimeout sets the per-attempt scorer deadline.
func (a *Adapter) WithTimeout(d time.Duration) *Adapter {
	if d > 0 {
		a.timeout = d
	}
	return a
}

// WithRetry sets attempt count and base backoff for scorer calls.
func (a *Adapter) WithRetry(maxAttempts int, backoff time.Duration) *Adapter {
	if maxAttempts > 0 {
		a.maxAttempts = maxAttempts
	}
	if backoff >= 0 {
		a.backoff = backoff
	}
	return a
}

// Breaker exposes the scorer breaker (health reporting).
func (a *Adapter) Breaker() *circuitbreaker.Breaker {
	return a.breaker
}

// AssessDevice scores a device for accountID. subjectID is the device ID
// recorded in the audit trail.
func (a *Adapter) AssessDevice(ctx context.Context, accountID, subjectID string, attrs map[string]string) Result {
	return a.Assess(ctx, Context{
		Purpose:   PurposeDevice,
		AccountID: accountID,
		SubjectID: subjectID,
		Device:    attrs,
	})
}

// AssessTransfer scores a pending transfer.
func (a *Adapter) AssessTransfer(ctx context.Context, accountID, transferID string, attrs map[string]string, t TransferDetails) Result {
	return a.Assess(ctx, Context{
		Purpose:   PurposeTransfer,
		AccountID: accountID,
		SubjectID: transferID,
		Device:    attrs,
		Transfer:  &t,
	})
}

// Assess builds the prompt for rc, calls the scorer through the breaker and
// retry policy, and polices the reply.
func (a *Adapter) Assess(ctx context.Context, rc Context) Result {
	ctx, span := traces.StartSpan(ctx, "risk.assess",
		traces.AccountID(rc.AccountID), traces.Purpose(string(rc.Purpose)))
	defer span.End()

	if rc.History == nil && a.history != nil {
		h, err := a.history.RecentHistory(ctx, rc.AccountID, MaxHistory)
		if err != nil {
			logging.L(ctx).Warn("risk: history unavailable, scoring without it", "error", err)
		}
		rc.History = h
	}
	if len(rc.History) > MaxHistory {
		rc.History = rc.History[:MaxHistory]
	}

	raw, err := a.call(ctx, Request{Prompt: BuildPrompt(rc), Context: rc})

	var res Result
	if err != nil {
		res = Fallback(rc.Purpose)
		traces.Fail(span, err)
		logging.L(ctx).Warn("risk: scorer unavailable, using fallback",
			"purpose", rc.Purpose, "score", res.Score, "error", err)
	} else {
		res = ParseResponse(raw, rc.Purpose)
		if res.Source == SourceParsedDefault {
			logging.L(ctx).Warn("risk: scorer reply had no usable score",
				"purpose", rc.Purpose, "default", res.Score)
		}
	}

	span.SetAttributes(traces.RiskScore(res.Score))
	metrics.RiskAssessmentsTotal.WithLabelValues(string(rc.Purpose), string(res.Source)).Inc()
	metrics.RiskScore.WithLabelValues(string(rc.Purpose)).Observe(res.Score)

	a.record(ctx, rc, res)
	return res
}

func (a *Adapter) call(ctx context.Context, req Request) (string, error) {
	var raw string
	err := a.breaker.Execute(BreakerKey, func() error {
		return retry.Do(ctx, a.maxAttempts, a.backoff, func() error {
			callCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()

			start := time.Now()
			out, err := a.scorer.Score(callCtx, req)
			metrics.ScorerLatency.Observe(time.Since(start).Seconds())
			if err != nil {
				return err
			}
			raw = out
			return nil
		})
	})
	return raw, err
}

// record writes the audit entry. Failures are logged; the assessment itself
// already happened and must not be lost to a storage hiccup.
func (a *Adapter) record(ctx context.Context, rc Context, res Result) {
	if a.store == nil {
		return
	}
	alerts := make([]string, len(res.Alerts))
	copy(alerts, res.Alerts)

	err := a.store.Record(context.WithoutCancel(ctx), &Assessment{
		ID:        idgen.WithPrefix(idgen.AssessmentPrefix),
		AccountID: rc.AccountID,
		Purpose:   rc.Purpose,
		SubjectID: rc.SubjectID,
		Score:     res.Score,
		Reason:    res.Reason,
		Alerts:    alerts,
		Source:    res.Source,
		CreatedAt: a.now().UTC(),
	})
	if err != nil {
		logging.L(ctx).Error("risk: failed to record assessment", "error", err)
	}
}

// List returns an account's assessments, newest first.
func (a *Adapter) List(ctx context.Context, accountID string, limit int) ([]*Assessment, error) {
	if a.store == nil {
		return []*Assessment{}, nil
	}
	return a.store.ListByAccount(ctx, accountID, limit)
}
