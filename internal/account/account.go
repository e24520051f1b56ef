// Package account holds account records, registration and login.
//
// Balances only ever go down, and only through a committed transfer: the
// store exposes a conditional debit and nothing that credits.
package account

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/securebank/internal/money"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrEmailTaken        = errors.New("email already registered")
	ErrAccountInactive   = errors.New("account is not active")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Status is the administrative state of an account.
type Status string

const (
	StatusActive    Status = "active"
	StatusBlocked   Status = "blocked"
	StatusSuspended Status = "suspended"
)

// Account is a holder of funds.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Balance      decimal.Decimal
	Status       Status
	// Zero limits mean unlimited.
	DailyLimit   decimal.Decimal
	MonthlyLimit decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsActive reports whether the account may move money.
func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

// View is the client-facing shape of an account.
type View struct {
	ID           string    `json:"accountId"`
	Email        string    `json:"email"`
	Balance      string    `json:"balance"`
	Status       Status    `json:"status"`
	DailyLimit   string    `json:"dailyLimit"`
	MonthlyLimit string    `json:"monthlyLimit"`
	CreatedAt    time.Time `json:"createdAt"`
}

// View renders a for API responses. The password hash is never included.
func (a *Account) View() View {
	return View{
		ID:           a.ID,
		Email:        a.Email,
		Balance:      money.Format(a.Balance),
		Status:       a.Status,
		DailyLimit:   money.Format(a.DailyLimit),
		MonthlyLimit: money.Format(a.MonthlyLimit),
		CreatedAt:    a.CreatedAt,
	}
}

// Store persists accounts.
type Store interface {
	// Create returns ErrEmailTaken when the email is already registered.
	Create(ctx context.Context, a *Account) error
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	// Save writes status and limits. It never writes the balance.
	Save(ctx context.Context, a *Account) error
	// ConditionalDebit subtracts amount only if balance >= amount, atomically.
	// It reports false (and changes nothing) when funds are insufficient.
	ConditionalDebit(ctx context.Context, id string, amount decimal.Decimal) (bool, error)
}
