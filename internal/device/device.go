// Package device tracks per-account device identities and their trust
// lifecycle.
//
// A device is identified by the SHA-256 digest of its canonical fingerprint,
// unique per account. Devices start pending; the only way to reach trusted
// is RequestTrust with an acceptable risk score. Restricted is set
// administratively and is never left by this package. Only trusted devices
// may move money.
package device

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDeviceNotFound     = errors.New("device not found")
	ErrDeviceExists       = errors.New("device already registered for account")
	ErrDeviceRestricted   = errors.New("device is restricted")
	ErrInvalidFingerprint = errors.New("device fingerprint is required")
)

// Status is the trust state of a device.
type Status string

const (
	StatusPending    Status = "pending"
	StatusTrusted    Status = "trusted"
	StatusRestricted Status = "restricted"
)

// Origin says how a device was first seen; it picks the initial risk score.
type Origin int

const (
	OriginRegistration Origin = iota
	OriginLogin
	OriginTrustRequest
)

// Initial risk scores for newly seen devices. A device first seen at
// registration belongs to the account holder by construction; one first
// seen at a later login is an unknown device for an existing account.
const (
	RegistrationRiskScore = 0.5
	LoginRiskScore        = 0.7
)

func (o Origin) String() string {
	switch o {
	case OriginRegistration:
		return "registration"
	case OriginLogin:
		return "login"
	case OriginTrustRequest:
		return "trust_request"
	}
	return "unknown"
}

func (o Origin) initialScore() float64 {
	if o == OriginRegistration {
		return RegistrationRiskScore
	}
	return LoginRiskScore
}

// Event types published on trust decisions.
const (
	EventTrusted       = "device.trusted"
	EventTrustRejected = "device.trust_rejected"
)

// Device is one device as seen by one account.
type Device struct {
	ID         string     `json:"id"`
	AccountID  string     `json:"accountId"`
	Digest     string     `json:"digest"`
	Attributes Attributes `json:"attributes"`
	Status     Status     `json:"status"`
	RiskScore  float64    `json:"riskScore"`
	RiskReason string     `json:"riskReason,omitempty"`
	FirstSeen  time.Time  `json:"firstSeen"`
	LastLogin  time.Time  `json:"lastLogin"`
	TrustedAt  *time.Time `json:"trustedAt,omitempty"`
}

// IsTrusted reports whether the device may initiate transfers.
func (d *Device) IsTrusted() bool {
	return d.Status == StatusTrusted
}

func (d *Device) clone() *Device {
	cp := *d
	cp.Attributes = d.Attributes.clone()
	if d.TrustedAt != nil {
		t := *d.TrustedAt
		cp.TrustedAt = &t
	}
	return &cp
}

// Store persists devices. Find and Update return ErrDeviceNotFound for
// unknown devices; Create returns ErrDeviceExists when (AccountID, Digest)
// is taken.
type Store interface {
	Find(ctx context.Context, accountID, digest string) (*Device, error)
	Create(ctx context.Context, d *Device) error
	Update(ctx context.Context, d *Device) error
	// TouchLastLogin sets only last_login, so a concurrent trust decision
	// is never overwritten by a login.
	TouchLastLogin(ctx context.Context, accountID, digest string, at time.Time) error
	ListTrusted(ctx context.Context, accountID string) ([]*Device, error)
	ListByAccount(ctx context.Context, accountID string) ([]*Device, error)
}
