// Package idgen generates record identifiers.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// Prefixes used across the service so ids are recognisable in logs.
const (
	AccountPrefix    = "acct_"
	DevicePrefix     = "dev_"
	TransferPrefix   = "trf_"
	AssessmentPrefix = "risk_"
	EventPrefix      = "evt_"
)

// New returns a random (v4) UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix + 32 hex chars of a random UUID (dashes removed).
func WithPrefix(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// HasPrefix reports whether id was generated with the given prefix.
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix) && len(id) == len(prefix)+32
}
