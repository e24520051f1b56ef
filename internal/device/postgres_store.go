package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists devices in the devices table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed device store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const deviceColumns = `id, account_id, digest, attributes, status, risk_score, risk_reason, first_seen, last_login, trusted_at`

func (s *PostgresStore) Find(ctx context.Context, accountID, digest string) (*Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE account_id = $1 AND digest = $2`, accountID, digest)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	return d, err
}

func (s *PostgresStore) Create(ctx context.Context, d *Device) error {
	attrs, err := json.Marshal(d.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, d.ID, d.AccountID, d.Digest, attrs, string(d.Status), d.RiskScore, d.RiskReason, d.FirstSeen, d.LastLogin, d.TrustedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDeviceExists
		}
		return fmt.Errorf("create device: %w", err)
	}
	return nil
}

// Update writes the trust fields. Attributes and digest never change, and
// last_login belongs to TouchLastLogin.
func (s *PostgresStore) Update(ctx context.Context, d *Device) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE devices
		SET status = $3, risk_score = $4, risk_reason = $5, trusted_at = $6
		WHERE account_id = $1 AND digest = $2
	`, d.AccountID, d.Digest, string(d.Status), d.RiskScore, d.RiskReason, d.TrustedAt)
	if err != nil {
		return fmt.Errorf("update device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func (s *PostgresStore) TouchLastLogin(ctx context.Context, accountID, digest string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE devices SET last_login = $3 WHERE account_id = $1 AND digest = $2`, accountID, digest, at)
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func (s *PostgresStore) ListTrusted(ctx context.Context, accountID string) ([]*Device, error) {
	return s.list(ctx, `SELECT `+deviceColumns+` FROM devices
		WHERE account_id = $1 AND status = 'trusted'
		ORDER BY last_login DESC, id`, accountID)
}

func (s *PostgresStore) ListByAccount(ctx context.Context, accountID string) ([]*Device, error) {
	return s.list(ctx, `SELECT `+deviceColumns+` FROM devices
		WHERE account_id = $1
		ORDER BY last_login DESC, id`, accountID)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Device, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []*Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(sc scanner) (*Device, error) {
	var d Device
	var attrs []byte
	var status string
	var trustedAt sql.NullTime
	err := sc.Scan(&d.ID, &d.AccountID, &d.Digest, &attrs, &status, &d.RiskScore, &d.RiskReason,
		&d.FirstSeen, &d.LastLogin, &trustedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan device: %w", err)
	}
	d.Status = Status(status)
	if err := json.Unmarshal(attrs, &d.Attributes); err != nil {
		return nil, fmt.Errorf("decode device attributes: %w", err)
	}
	if trustedAt.Valid {
		t := trustedAt.Time
		d.TrustedAt = &t
	}
	return &d, nil
}
