package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/securebank/internal/account"
	"github.com/mbd888/securebank/internal/device"
	"github.com/mbd888/securebank/internal/idgen"
	"github.com/mbd888/securebank/internal/logging"
	"github.com/mbd888/securebank/internal/metrics"
	"github.com/mbd888/securebank/internal/money"
	"github.com/mbd888/securebank/internal/pagination"
	"github.com/mbd888/securebank/internal/risk"
	"github.com/mbd888/securebank/internal/syncutil"
	"github.com/mbd888/securebank/internal/traces"
)

// AccountReader loads the sender account.
type AccountReader interface {
	FindByID(ctx context.Context, id string) (*account.Account, error)
}

// DeviceGate answers whether a device may originate transfers.
type DeviceGate interface {
	IsTransferEligible(ctx context.Context, accountID string, attrs device.Attributes) (bool, error)
}

// Assessor scores a pending transfer. It never fails; scorer outages come
// back as a fallback Result.
type Assessor interface {
	AssessTransfer(ctx context.Context, accountID, transferID string, attrs map[string]string, t risk.TransferDetails) risk.Result
}

// EventPublisher delivers an event to one account's live connections.
type EventPublisher interface {
	Publish(accountID, eventType string, payload any)
}

// Page is one page of transfer history.
type Page struct {
	Transfers  []*Transfer
	NextCursor string
	HasMore    bool
}

// Service runs the transfer decision pipeline. Transfers from one sender
// are serialized from the balance check through settlement.
type Service struct {
	store     Store
	accounts  AccountReader
	devices   DeviceGate
	assessor  Assessor
	events    EventPublisher
	locks     *syncutil.KeyedMutex
	threshold float64
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a transfer service.
func NewService(store Store, accounts AccountReader, devices DeviceGate, assessor Assessor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		accounts:  accounts,
		devices:   devices,
		assessor:  assessor,
		locks:     syncutil.NewKeyedMutex(),
		threshold: risk.HighRiskThreshold,
		logger:    logger,
		now:       time.Now,
	}
}

// WithThreshold overrides the high-risk threshold.
func (s *Service) WithThreshold(t float64) *Service {
	s.threshold = t
	return s
}

// WithEvents sets the realtime publisher.
func (s *Service) WithEvents(p EventPublisher) *Service {
	s.events = p
	return s
}

// WithAssessor sets the assessor. The risk adapter reads history back from
// this service, so it is wired after construction.
func (s *Service) WithAssessor(a Assessor) *Service {
	s.assessor = a
	return s
}

// Create runs the pipeline: gate, validate, create, assess, decide.
//
// Errors returned before a record exists (validation, ErrDeviceNotTrusted,
// account errors, ErrInsufficientFunds, ErrLimitExceeded) leave no trace.
// Once a record exists it is always returned in a terminal status, together
// with ErrInsufficientFunds if the debit lost a race, or with a wrapped store
// error if settlement failed.
func (s *Service) Create(ctx context.Context, senderID string, req Request) (t *Transfer, err error) {
	start := s.now()
	defer func() {
		metrics.TransferDuration.Observe(time.Since(start).Seconds())
		metrics.TransfersTotal.WithLabelValues(outcome(t, err)).Inc()
	}()

	req.Recipient = strings.TrimSpace(req.Recipient)
	if err := checkRequest(req); err != nil {
		return nil, err
	}

	if err := s.gate(ctx, senderID, req.Device); err != nil {
		return nil, err
	}

	unlock, err := s.locks.LockContext(ctx, syncutil.Key("transfer", senderID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.validate(ctx, senderID, req.Amount); err != nil {
		return nil, err
	}

	t, err = s.create(ctx, senderID, req)
	if err != nil {
		return nil, err
	}

	// The record exists; from here the pipeline runs to a terminal status
	// even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	res := s.assess(ctx, t, req.Device)
	return s.decide(ctx, t, res)
}

func checkRequest(req Request) error {
	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Truncate(money.Scale)) {
		return ErrInvalidAmount
	}
	if req.Recipient == "" {
		return ErrInvalidRecipient
	}
	return nil
}

func (s *Service) gate(ctx context.Context, senderID string, attrs device.Attributes) error {
	ctx, span := traces.StartSpan(ctx, "transfer.gate", traces.AccountID(senderID))
	defer span.End()

	ok, err := s.devices.IsTransferEligible(ctx, senderID, attrs)
	if err != nil {
		traces.Fail(span, err)
		return err
	}
	if !ok {
		logging.L(ctx).Warn("transfer: device not trusted")
		return ErrDeviceNotTrusted
	}
	return nil
}

func (s *Service) validate(ctx context.Context, senderID string, amount decimal.Decimal) error {
	ctx, span := traces.StartSpan(ctx, "transfer.validate",
		traces.AccountID(senderID), traces.Amount(money.Format(amount)))
	defer span.End()

	acct, err := s.accounts.FindByID(ctx, senderID)
	if err != nil {
		traces.Fail(span, err)
		return err
	}
	if !acct.IsActive() {
		return account.ErrAccountInactive
	}
	if acct.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}

	now := s.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if err := s.checkLimit(ctx, senderID, amount, acct.DailyLimit, dayStart, "daily"); err != nil {
		return err
	}
	return s.checkLimit(ctx, senderID, amount, acct.MonthlyLimit, monthStart, "monthly")
}

func (s *Service) checkLimit(ctx context.Context, senderID string, amount, limit decimal.Decimal, since time.Time, window string) error {
	if !limit.IsPositive() {
		return nil
	}
	spent, err := s.store.SumCompletedSince(ctx, senderID, since)
	if err != nil {
		return err
	}
	if spent.Add(amount).GreaterThan(limit) {
		return fmt.Errorf("%w: %s limit %s, already sent %s",
			ErrLimitExceeded, window, money.Format(limit), money.Format(spent))
	}
	return nil
}

func (s *Service) create(ctx context.Context, senderID string, req Request) (*Transfer, error) {
	t := &Transfer{
		ID:           idgen.WithPrefix(idgen.TransferPrefix),
		SenderID:     senderID,
		Recipient:    req.Recipient,
		Amount:       req.Amount,
		Purpose:      req.Purpose,
		DeviceDigest: req.Device.Digest(),
		Status:       StatusPending,
		CreatedAt:    s.now().UTC(),
	}
	ctx, span := traces.StartSpan(ctx, "transfer.create", traces.AccountID(senderID), traces.TransferID(t.ID))
	defer span.End()

	if err := s.store.Create(ctx, t); err != nil {
		traces.Fail(span, err)
		return nil, err
	}
	return t, nil
}

func (s *Service) assess(ctx context.Context, t *Transfer, attrs device.Attributes) risk.Result {
	ctx, span := traces.StartSpan(ctx, "transfer.assess", traces.TransferID(t.ID))
	defer span.End()

	res := s.assessor.AssessTransfer(ctx, t.SenderID, t.ID, attrs.Fields(), risk.TransferDetails{
		Amount:    t.Amount,
		Recipient: t.Recipient,
		Note:      t.Purpose,
	})
	span.SetAttributes(traces.RiskScore(res.Score))
	return res
}

func (s *Service) decide(ctx context.Context, t *Transfer, res risk.Result) (*Transfer, error) {
	ctx, span := traces.StartSpan(ctx, "transfer.decide", traces.TransferID(t.ID))
	defer span.End()

	t.Risk = &res
	now := s.now().UTC()

	if res.IsHighRisk(s.threshold) {
		t.Status = StatusBlocked
		if err := s.store.Update(ctx, t); err != nil {
			traces.Fail(span, err)
			return s.settleFailed(ctx, t, err)
		}
		logging.L(ctx).Warn("transfer blocked", "transfer_id", t.ID, "score", res.Score, "reason", res.Reason)
		s.publish(t, EventBlocked)
		return t, nil
	}

	t.Status = StatusCompleted
	t.CompletedAt = &now
	err := s.store.Settle(ctx, t)
	switch {
	case err == nil:
		logging.L(ctx).Info("transfer completed", "transfer_id", t.ID, "amount", money.Format(t.Amount), "score", res.Score)
		s.publish(t, EventCompleted)
		return t, nil
	case errors.Is(err, ErrInsufficientFunds):
		if ferr := s.fail(ctx, t, ReasonInsufficientFunds); ferr != nil {
			return s.settleFailed(ctx, t, ferr)
		}
		return t, ErrInsufficientFunds
	default:
		traces.Fail(span, err)
		return s.settleFailed(ctx, t, err)
	}
}

// settleFailed handles a store error after the record exists: the record
// is moved to failed if possible, otherwise the reaper will get it.
func (s *Service) settleFailed(ctx context.Context, t *Transfer, cause error) (*Transfer, error) {
	if errors.Is(cause, ErrAlreadyTerminal) {
		// Finished elsewhere (the reaper); report what was stored.
		stored, err := s.store.Get(ctx, t.ID)
		if err != nil {
			return t, fmt.Errorf("reload transfer: %w", err)
		}
		return stored, nil
	}
	logging.L(ctx).Error("transfer settlement failed", "transfer_id", t.ID, "error", cause)
	if err := s.fail(ctx, t, ReasonSettlementError); err != nil {
		logging.L(ctx).Error("transfer left pending for reaper", "transfer_id", t.ID, "error", err)
	}
	return t, fmt.Errorf("settle transfer: %w", cause)
}

func (s *Service) fail(ctx context.Context, t *Transfer, reason string) error {
	now := s.now().UTC()
	t.Status = StatusFailed
	t.CompletedAt = nil
	t.FailedAt = &now
	t.FailureReason = reason
	if err := s.store.Update(ctx, t); err != nil {
		t.Status = StatusPending
		t.FailedAt = nil
		t.FailureReason = ""
		return err
	}
	logging.L(ctx).Warn("transfer failed", "transfer_id", t.ID, "reason", reason)
	s.publish(t, EventFailed)
	return nil
}

// FailStale moves a transfer stuck in pending to failed. It is a no-op if
// the transfer reached a terminal status in the meantime.
func (s *Service) FailStale(ctx context.Context, t *Transfer) error {
	err := s.fail(ctx, t, ReasonDecisionTimeout)
	if errors.Is(err, ErrAlreadyTerminal) {
		return nil
	}
	if err == nil {
		metrics.StaleTransfersReaped.Inc()
	}
	return err
}

// Get returns one of the sender's transfers.
func (s *Service) Get(ctx context.Context, senderID, id string) (*Transfer, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.SenderID != senderID {
		return nil, ErrTransferNotFound
	}
	return t, nil
}

// List returns the sender's transfers, newest first.
func (s *Service) List(ctx context.Context, senderID string, limit int, cursor string) (*Page, error) {
	c, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > pagination.MaxLimit {
		limit = pagination.DefaultLimit
	}
	items, err := s.store.ListBySender(ctx, senderID, limit+1, c)
	if err != nil {
		return nil, err
	}
	items, next, more := pagination.ComputePage(items, limit, func(t *Transfer) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	return &Page{Transfers: items, NextCursor: next, HasMore: more}, nil
}

// RecentHistory returns the account's most recent decided transfers for
// risk scoring. The transfer currently being assessed is still pending and
// is left out.
func (s *Service) RecentHistory(ctx context.Context, accountID string, limit int) ([]risk.HistoryEntry, error) {
	items, err := s.store.ListBySender(ctx, accountID, limit+1, nil)
	if err != nil {
		return nil, err
	}
	out := make([]risk.HistoryEntry, 0, len(items))
	for _, t := range items {
		if t.Status == StatusPending {
			continue
		}
		out = append(out, risk.HistoryEntry{
			Recipient: t.Recipient,
			Amount:    t.Amount,
			Status:    string(t.Status),
			CreatedAt: t.CreatedAt,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Service) publish(t *Transfer, eventType string) {
	if s.events == nil {
		return
	}
	s.events.Publish(t.SenderID, eventType, t.View())
}

func outcome(t *Transfer, err error) string {
	if t == nil {
		return "rejected"
	}
	if err != nil && t.Status == StatusPending {
		return "error"
	}
	return string(t.Status)
}
