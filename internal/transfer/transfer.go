// Package transfer implements the transfer decision pipeline.
//
// A request passes the device trust gate and the account, balance and limit
// checks before any record exists. Only then is a pending Transfer stored,
// risk-scored and driven to exactly one terminal status: completed (balance
// debited in the same atomic step), blocked, or failed.
package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/securebank/internal/account"
	"github.com/mbd888/securebank/internal/device"
	"github.com/mbd888/securebank/internal/money"
	"github.com/mbd888/securebank/internal/pagination"
	"github.com/mbd888/securebank/internal/risk"
)

var (
	ErrTransferNotFound  = errors.New("transfer not found")
	ErrDeviceNotTrusted  = errors.New("device not trusted for transfers")
	ErrInvalidAmount     = errors.New("amount must be a positive value with at most 2 decimal places")
	ErrInvalidRecipient  = errors.New("recipient is required")
	ErrLimitExceeded     = errors.New("transfer limit exceeded")
	ErrAlreadyTerminal   = errors.New("transfer already in a terminal status")
	ErrInsufficientFunds = account.ErrInsufficientFunds
)

// Status is the lifecycle state of a transfer.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusBlocked   Status = "blocked"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusBlocked || s == StatusFailed
}

// Failure reasons recorded on failed transfers.
const (
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonSettlementError   = "settlement_error"
	ReasonDecisionTimeout   = "decision_timeout"
)

// Event types published to the sender's realtime connections.
const (
	EventCompleted = "transfer.completed"
	EventBlocked   = "transfer.blocked"
	EventFailed    = "transfer.failed"
)

// Transfer is one attempted money movement.
type Transfer struct {
	ID            string
	SenderID      string
	Recipient     string
	Amount        decimal.Decimal
	Purpose       string
	DeviceDigest  string
	Status        Status
	Risk          *risk.Result
	CreatedAt     time.Time
	CompletedAt   *time.Time
	FailedAt      *time.Time
	FailureReason string
}

func (t *Transfer) clone() *Transfer {
	cp := *t
	if t.Risk != nil {
		r := *t.Risk
		r.Alerts = append([]string{}, t.Risk.Alerts...)
		cp.Risk = &r
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		cp.CompletedAt = &v
	}
	if t.FailedAt != nil {
		v := *t.FailedAt
		cp.FailedAt = &v
	}
	return &cp
}

// View is the client-facing shape of a transfer.
type View struct {
	TransferID    string       `json:"transferId"`
	Recipient     string       `json:"recipient"`
	Amount        string       `json:"amount"`
	Purpose       string       `json:"purpose,omitempty"`
	Status        Status       `json:"status"`
	RiskResult    *risk.Result `json:"riskResult,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	CompletedAt   *time.Time   `json:"completedAt,omitempty"`
	FailedAt      *time.Time   `json:"failedAt,omitempty"`
	FailureReason string       `json:"failureReason,omitempty"`
}

// View renders t for API responses and events.
func (t *Transfer) View() View {
	return View{
		TransferID:    t.ID,
		Recipient:     t.Recipient,
		Amount:        money.Format(t.Amount),
		Purpose:       t.Purpose,
		Status:        t.Status,
		RiskResult:    t.Risk,
		CreatedAt:     t.CreatedAt,
		CompletedAt:   t.CompletedAt,
		FailedAt:      t.FailedAt,
		FailureReason: t.FailureReason,
	}
}

// Request is a validated CreateTransfer input. The sender always comes from
// the authenticated session.
type Request struct {
	Recipient string
	Amount    decimal.Decimal
	Purpose   string
	Device    device.Attributes
}

// Store persists transfers.
type Store interface {
	Create(ctx context.Context, t *Transfer) error
	Get(ctx context.Context, id string) (*Transfer, error)
	// Update writes a pending transfer's terminal status (blocked or failed)
	// and risk result. ErrAlreadyTerminal if it is no longer pending.
	Update(ctx context.Context, t *Transfer) error
	// Settle debits the sender by t.Amount and marks t completed as one
	// atomic step. ErrInsufficientFunds leaves both untouched.
	Settle(ctx context.Context, t *Transfer) error
	// ListBySender returns newest first, starting after cursor when set.
	ListBySender(ctx context.Context, senderID string, limit int, cursor *pagination.Cursor) ([]*Transfer, error)
	// SumCompletedSince totals completed transfers with completedAt >= since.
	SumCompletedSince(ctx context.Context, senderID string, since time.Time) (decimal.Decimal, error)
	// ListStalePending returns pending transfers created before cutoff.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*Transfer, error)
}
