// Package risk wraps the external risk scorer.
//
// The scorer is slow, can fail, and its reply is untrusted text. The Adapter
// builds the scoring context, polices the reply (defaults for missing fields,
// clamping to [0,1]) and substitutes a fixed fallback when the scorer cannot
// be reached, so callers always get a usable Result.
package risk

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Purpose says what is being assessed.
type Purpose string

const (
	PurposeDevice   Purpose = "device"
	PurposeTransfer Purpose = "transfer"
)

// Source records where a Result came from.
type Source string

const (
	SourceScorer        Source = "scorer"         // every field parsed from the reply
	SourceParsedDefault Source = "parsed_default" // reply received, score missing or malformed
	SourceFallback      Source = "fallback"       // scorer unreachable
)

// HighRiskThreshold: scores strictly above this block trust and transfers.
const HighRiskThreshold = 0.8

// Defaults applied when the reply lacks a usable score.
const (
	DefaultDeviceScore   = 0.5
	DefaultTransferScore = 0.3
)

// Fallbacks applied when the scorer cannot be reached at all.
const (
	FallbackDeviceScore   = 0.6
	FallbackTransferScore = 0.4
	FallbackReason        = "assessment unavailable"
)

// MaxHistory caps how many recent transfers are sent to the scorer.
const MaxHistory = 10

var ErrAssessmentNotFound = errors.New("risk assessment not found")

// Result is the policed outcome of one assessment.
type Result struct {
	Score  float64  `json:"score"`
	Reason string   `json:"reason"`
	Alerts []string `json:"alerts"`
	Source Source   `json:"source"`
}

// IsHighRisk reports whether the score exceeds threshold.
func (r Result) IsHighRisk(threshold float64) bool {
	return r.Score > threshold
}

// HistoryEntry is one past transfer as seen by the scorer.
type HistoryEntry struct {
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

// TransferDetails describes the transfer under assessment.
type TransferDetails struct {
	Amount    decimal.Decimal
	Recipient string
	Note      string
}

// Context is everything the scorer is allowed to see.
type Context struct {
	Purpose   Purpose
	AccountID string
	// SubjectID is the device or transfer being assessed (audit only).
	SubjectID string
	// Device holds canonical device attribute fields.
	Device map[string]string
	// History is newest first, at most MaxHistory entries.
	History  []HistoryEntry
	Transfer *TransferDetails
}

// Assessment is the audit record of one Result.
type Assessment struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Purpose   Purpose   `json:"purpose"`
	SubjectID string    `json:"subjectId,omitempty"`
	Score     float64   `json:"score"`
	Reason    string    `json:"reason"`
	Alerts    []string  `json:"alerts"`
	Source    Source    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists assessments for audit.
type Store interface {
	Record(ctx context.Context, a *Assessment) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*Assessment, error)
}

// HistoryProvider supplies an account's recent transfers, newest first.
type HistoryProvider interface {
	RecentHistory(ctx context.Context, accountID string, limit int) ([]HistoryEntry, error)
}

// DefaultScore is the score used when a reply carries no usable score.
func DefaultScore(p Purpose) float64 {
	if p == PurposeTransfer {
		return DefaultTransferScore
	}
	return DefaultDeviceScore
}

// Fallback is the Result used when the scorer is unreachable.
func Fallback(p Purpose) Result {
	score := FallbackDeviceScore
	if p == PurposeTransfer {
		score = FallbackTransferScore
	}
	return Result{Score: score, Reason: FallbackReason, Alerts: []string{}, Source: SourceFallback}
}
