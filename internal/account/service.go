package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/securebank/internal/auth"
	"github.com/mbd888/securebank/internal/device"
	"github.com/mbd888/securebank/internal/idgen"
	"github.com/mbd888/securebank/internal/logging"
	"github.com/mbd888/securebank/internal/money"
	"github.com/mbd888/securebank/internal/validation"
)

// DeviceResolver records the device a client registered or logged in from.
type DeviceResolver interface {
	ResolveOrCreate(ctx context.Context, accountID string, attrs device.Attributes, origin device.Origin) (*device.Device, error)
}

// Defaults applied to new accounts.
type Defaults struct {
	InitialBalance decimal.Decimal
	DailyLimit     decimal.Decimal
	MonthlyLimit   decimal.Decimal
}

// RegisterResult is returned by Register.
type RegisterResult struct {
	AccountID string         `json:"accountId"`
	Email     string         `json:"email"`
	Device    *device.Device `json:"device,omitempty"`
}

// LoginResult is returned by Login.
type LoginResult struct {
	AccountID string         `json:"accountId"`
	Email     string         `json:"email"`
	Balance   string         `json:"balance"`
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
	Device    *device.Device `json:"device,omitempty"`
}

// Service handles registration, login and account reads.
type Service struct {
	store    Store
	devices  DeviceResolver
	tokens   *auth.TokenManager
	defaults Defaults
	logger   *slog.Logger
	now      func() time.Time

	// dummyHash is compared against on unknown emails so both failure
	// paths cost one bcrypt comparison.
	dummyHash string
}

// NewService creates an account service.
func NewService(store Store, devices DeviceResolver, tokens *auth.TokenManager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	dummy, _ := auth.HashPassword(idgen.New())
	return &Service{
		store:   store,
		devices: devices,
		tokens:  tokens,
		defaults: Defaults{
			InitialBalance: money.MustParse("10000.00"),
			DailyLimit:     money.MustParse("5000.00"),
			MonthlyLimit:   money.MustParse("50000.00"),
		},
		logger:    logger,
		now:       time.Now,
		dummyHash: dummy,
	}
}

// WithDefaults overrides the opening balance and limits for new accounts.
func (s *Service) WithDefaults(d Defaults) *Service {
	s.defaults = d
	return s
}

// Register creates an account. When a fingerprint is supplied the device is
// recorded as pending; registration does not risk-score it.
func (s *Service) Register(ctx context.Context, email, password string, fingerprint *device.Attributes) (*RegisterResult, error) {
	email = validation.NormalizeEmail(email)
	if fingerprint != nil {
		if err := fingerprint.Validate(); err != nil {
			return nil, err
		}
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	a := &Account{
		ID:           idgen.WithPrefix(idgen.AccountPrefix),
		Email:        email,
		PasswordHash: hash,
		Balance:      s.defaults.InitialBalance,
		Status:       StatusActive,
		DailyLimit:   s.defaults.DailyLimit,
		MonthlyLimit: s.defaults.MonthlyLimit,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}
	logging.L(ctx).Info("account registered", "account_id", a.ID)

	res := &RegisterResult{AccountID: a.ID, Email: a.Email}
	if fingerprint != nil {
		d, err := s.devices.ResolveOrCreate(ctx, a.ID, *fingerprint, device.OriginRegistration)
		if err != nil {
			// The account exists; the device is recorded on next login.
			logging.L(ctx).Warn("register: device not recorded", "account_id", a.ID, "error", err)
		} else {
			res.Device = d
		}
	}
	return res, nil
}

// Login verifies credentials and issues a session token. Unknown email and
// wrong password both yield auth.ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string, fingerprint *device.Attributes) (*LoginResult, error) {
	if fingerprint != nil {
		if err := fingerprint.Validate(); err != nil {
			return nil, err
		}
	}

	a, err := s.store.FindByEmail(ctx, validation.NormalizeEmail(email))
	if errors.Is(err, ErrAccountNotFound) {
		_ = auth.VerifyPassword(s.dummyHash, password)
		return nil, auth.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := auth.VerifyPassword(a.PasswordHash, password); err != nil {
		return nil, err
	}
	if !a.IsActive() {
		return nil, ErrAccountInactive
	}

	res := &LoginResult{
		AccountID: a.ID,
		Email:     a.Email,
		Balance:   money.Format(a.Balance),
	}
	if fingerprint != nil {
		d, err := s.devices.ResolveOrCreate(ctx, a.ID, *fingerprint, device.OriginLogin)
		if err != nil {
			return nil, fmt.Errorf("resolve login device: %w", err)
		}
		res.Device = d
	}

	res.Token, res.ExpiresAt, err = s.tokens.Issue(a.ID)
	if err != nil {
		return nil, err
	}
	logging.L(ctx).Info("account login", "account_id", a.ID)
	return res, nil
}

// Get returns an account by id.
func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	return s.store.FindByID(ctx, id)
}
