package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/securebank/internal/idgen"
	"github.com/mbd888/securebank/internal/logging"
	"github.com/mbd888/securebank/internal/metrics"
	"github.com/mbd888/securebank/internal/risk"
	"github.com/mbd888/securebank/internal/syncutil"
	"github.com/mbd888/securebank/internal/traces"
)

// Assessor scores a device for an account.
type Assessor interface {
	AssessDevice(ctx context.Context, accountID, deviceID string, attrs map[string]string) risk.Result
}

// EventPublisher delivers an event to one account's live connections.
type EventPublisher interface {
	Publish(accountID, eventType string, payload any)
}

// TrustResult is the outcome of RequestTrust.
type TrustResult struct {
	Trusted        bool         `json:"trusted"`
	AlreadyTrusted bool         `json:"alreadyTrusted,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	Device         *Device      `json:"device"`
	Risk           *risk.Result `json:"risk,omitempty"`
}

// StatusView is the read-only DeviceStatus answer.
type StatusView struct {
	IsTrusted      bool      `json:"isTrusted"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason"`
	RiskScore      *float64  `json:"riskScore"`
	TrustedDevices []*Device `json:"trustedDevices"`
}

// Service owns device identity and trust transitions. Trust changes for one
// (account, digest) pair are serialized.
type Service struct {
	store     Store
	assessor  Assessor
	events    EventPublisher
	locks     *syncutil.KeyedMutex
	threshold float64
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a device service.
func NewService(store Store, assessor Assessor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
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

// ResolveOrCreate returns the account's device for attrs, creating it as
// pending when unseen. An existing device gets its lastLogin touched.
func (s *Service) ResolveOrCreate(ctx context.Context, accountID string, attrs Attributes, origin Origin) (*Device, error) {
	if err := attrs.Validate(); err != nil {
		return nil, err
	}
	digest := attrs.Digest()
	now := s.now().UTC()

	d, err := s.store.Find(ctx, accountID, digest)
	if err == nil {
		if err := s.store.TouchLastLogin(ctx, accountID, digest, now); err != nil {
			return nil, fmt.Errorf("touch device: %w", err)
		}
		d.LastLogin = now
		return d, nil
	}
	if !errors.Is(err, ErrDeviceNotFound) {
		return nil, fmt.Errorf("find device: %w", err)
	}

	d = &Device{
		ID:         idgen.WithPrefix(idgen.DevicePrefix),
		AccountID:  accountID,
		Digest:     digest,
		Attributes: attrs,
		Status:     StatusPending,
		RiskScore:  origin.initialScore(),
		FirstSeen:  now,
		LastLogin:  now,
	}
	switch err := s.store.Create(ctx, d); {
	case err == nil:
		logging.L(ctx).Info("device: first seen", "device_id", d.ID, "origin", origin)
		return d, nil
	case errors.Is(err, ErrDeviceExists):
		// Lost a race with a concurrent login carrying the same fingerprint.
		return s.store.Find(ctx, accountID, digest)
	default:
		return nil, fmt.Errorf("create device: %w", err)
	}
}

// RequestTrust is the only path from pending to trusted. The device is
// scored; a score above the threshold leaves it pending and returns a
// rejection. A device that is already trusted is returned as is without
// rescoring. Restricted devices yield ErrDeviceRestricted.
func (s *Service) RequestTrust(ctx context.Context, accountID string, attrs Attributes) (*TrustResult, error) {
	if err := attrs.Validate(); err != nil {
		return nil, err
	}
	ctx, span := traces.StartSpan(ctx, "device.trust", traces.AccountID(accountID))
	defer span.End()

	digest := attrs.Digest()
	unlock, err := s.locks.LockContext(ctx, syncutil.Key("device", accountID, digest))
	if err != nil {
		return nil, err
	}
	defer unlock()

	d, err := s.ResolveOrCreate(ctx, accountID, attrs, OriginTrustRequest)
	if err != nil {
		traces.Fail(span, err)
		return nil, err
	}
	span.SetAttributes(traces.DeviceID(d.ID))

	switch d.Status {
	case StatusTrusted:
		metrics.DeviceTrustTotal.WithLabelValues("already_trusted").Inc()
		return &TrustResult{Trusted: true, AlreadyTrusted: true, Reason: "device already trusted", Device: d}, nil
	case StatusRestricted:
		metrics.DeviceTrustTotal.WithLabelValues("restricted").Inc()
		return nil, ErrDeviceRestricted
	}

	// Scoring and the write run to completion even if the caller goes away.
	// Only the adapter's own per-attempt timeout may decide the scorer failed.
	writeCtx := context.WithoutCancel(ctx)
	res := s.assessor.AssessDevice(writeCtx, accountID, d.ID, attrs.Fields())
	span.SetAttributes(traces.RiskScore(res.Score))

	d.RiskScore = res.Score
	d.RiskReason = res.Reason

	if res.IsHighRisk(s.threshold) {
		if err := s.store.Update(writeCtx, d); err != nil {
			return nil, fmt.Errorf("record trust rejection: %w", err)
		}
		metrics.DeviceTrustTotal.WithLabelValues("rejected").Inc()
		logging.L(ctx).Warn("device: trust rejected", "device_id", d.ID, "score", res.Score, "reason", res.Reason)
		s.publish(accountID, EventTrustRejected, d, res)
		return &TrustResult{Trusted: false, Reason: res.Reason, Device: d, Risk: &res}, nil
	}

	now := s.now().UTC()
	d.Status = StatusTrusted
	d.TrustedAt = &now
	if err := s.store.Update(writeCtx, d); err != nil {
		return nil, fmt.Errorf("record trust: %w", err)
	}
	metrics.DeviceTrustTotal.WithLabelValues("trusted").Inc()
	logging.L(ctx).Info("device: trusted", "device_id", d.ID, "score", res.Score, "source", res.Source)
	s.publish(accountID, EventTrusted, d, res)
	return &TrustResult{Trusted: true, Reason: res.Reason, Device: d, Risk: &res}, nil
}

// IsTransferEligible reports whether the device identified by attrs exists
// for the account and is trusted. Unknown, pending and restricted devices
// are all ineligible.
func (s *Service) IsTransferEligible(ctx context.Context, accountID string, attrs Attributes) (bool, error) {
	if attrs.IsEmpty() {
		return false, nil
	}
	d, err := s.store.Find(ctx, accountID, attrs.Digest())
	if errors.Is(err, ErrDeviceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find device: %w", err)
	}
	return d.IsTrusted(), nil
}

// Status reports the trust state of attrs for the account without
// modifying anything.
func (s *Service) Status(ctx context.Context, accountID string, attrs Attributes) (*StatusView, error) {
	if err := attrs.Validate(); err != nil {
		return nil, err
	}
	trusted, err := s.ListTrusted(ctx, accountID)
	if err != nil {
		return nil, err
	}
	view := &StatusView{TrustedDevices: trusted}

	d, err := s.store.Find(ctx, accountID, attrs.Digest())
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		view.Status = "unknown"
		view.Reason = "device not recognised for this account"
		return view, nil
	case err != nil:
		return nil, fmt.Errorf("find device: %w", err)
	}

	score := d.RiskScore
	view.RiskScore = &score
	view.Status = string(d.Status)
	view.IsTrusted = d.IsTrusted()
	switch d.Status {
	case StatusTrusted:
		view.Reason = "device trusted"
	case StatusRestricted:
		view.Reason = "device restricted"
	default:
		view.Reason = "device pending verification"
		if d.RiskReason != "" {
			view.Reason = d.RiskReason
		}
	}
	return view, nil
}

// ListTrusted returns the account's trusted devices.
func (s *Service) ListTrusted(ctx context.Context, accountID string) ([]*Device, error) {
	list, err := s.store.ListTrusted(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list trusted devices: %w", err)
	}
	return list, nil
}

func (s *Service) publish(accountID, eventType string, d *Device, res risk.Result) {
	if s.events == nil {
		return
	}
	s.events.Publish(accountID, eventType, map[string]any{
		"deviceId":  d.ID,
		"status":    d.Status,
		"riskScore": res.Score,
		"reason":    res.Reason,
	})
}
