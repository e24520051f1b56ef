package transfer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/mbd888/securebank/internal/account"
	"github.com/mbd888/securebank/internal/pagination"
	"github.com/mbd888/securebank/internal/retry"
	"github.com/mbd888/securebank/internal/risk"
)

// Settlement transactions run SERIALIZABLE and are retried on conflict.
const (
	settleAttempts = 3
	settleBackoff  = 20 * time.Millisecond
)

// PostgresStore persists transfers in the transfers table and settles
// against the accounts table in the same database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed transfer store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const transferColumns = `id, sender_id, recipient, amount, purpose, device_digest, status,
	risk_score, risk_reason, risk_alerts, risk_source,
	created_at, completed_at, failed_at, failure_reason`

type riskColumns struct {
	score  sql.NullFloat64
	reason sql.NullString
	alerts []byte
	source sql.NullString
}

func riskArgs(r *risk.Result) (any, any, any, any, error) {
	if r == nil {
		return nil, nil, nil, nil, nil
	}
	alerts, err := json.Marshal(r.Alerts)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal alerts: %w", err)
	}
	return r.Score, r.Reason, alerts, string(r.Source), nil
}

func (s *PostgresStore) Create(ctx context.Context, t *Transfer) error {
	score, reason, alerts, source, err := riskArgs(t.Risk)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transfers (`+transferColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, t.ID, t.SenderID, t.Recipient, t.Amount, t.Purpose, t.DeviceDigest, string(t.Status),
		score, reason, alerts, source,
		t.CreatedAt, t.CompletedAt, t.FailedAt, t.FailureReason)
	if err != nil {
		return fmt.Errorf("create transfer: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Transfer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id)
	t, err := scanTransfer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransferNotFound
	}
	return t, err
}

func (s *PostgresStore) Update(ctx context.Context, t *Transfer) error {
	return finish(ctx, s.db, t)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// finish writes the terminal fields of t guarded on status = 'pending'.
func finish(ctx context.Context, db execer, t *Transfer) error {
	score, reason, alerts, source, err := riskArgs(t.Risk)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `
		UPDATE transfers
		SET status = $2, risk_score = $3, risk_reason = $4, risk_alerts = $5, risk_source = $6,
		    completed_at = $7, failed_at = $8, failure_reason = $9
		WHERE id = $1 AND status = 'pending'
	`, t.ID, string(t.Status), score, reason, alerts, source, t.CompletedAt, t.FailedAt, t.FailureReason)
	if err != nil {
		return fmt.Errorf("update transfer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM transfers WHERE id = $1)`, t.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check transfer: %w", err)
	}
	if !exists {
		return ErrTransferNotFound
	}
	return ErrAlreadyTerminal
}

func (s *PostgresStore) Settle(ctx context.Context, t *Transfer) error {
	return retry.DoIf(ctx, settleAttempts, settleBackoff, isSerializationFailure, func() error {
		return s.settleOnce(ctx, t)
	})
}

func (s *PostgresStore) settleOnce(ctx context.Context, t *Transfer) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin settle: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ok, err := account.Debit(ctx, tx, t.SenderID, t.Amount)
	if err != nil {
		return fmt.Errorf("debit sender: %w", err)
	}
	if !ok {
		return ErrInsufficientFunds
	}

	if err := finish(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settle: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "40001"
}

func (s *PostgresStore) ListBySender(ctx context.Context, senderID string, limit int, cursor *pagination.Cursor) ([]*Transfer, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if cursor == nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+transferColumns+` FROM transfers
			WHERE sender_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, senderID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+transferColumns+` FROM transfers
			WHERE sender_id = $1 AND (created_at, id) < ($3, $4)
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, senderID, limit, cursor.CreatedAt, cursor.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	return collect(rows)
}

func (s *PostgresStore) SumCompletedSince(ctx context.Context, senderID string, since time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM transfers
		WHERE sender_id = $1 AND status = 'completed' AND completed_at >= $2
	`, senderID, since).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum transfers: %w", err)
	}
	return sum, nil
}

func (s *PostgresStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*Transfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transferColumns+` FROM transfers
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale transfers: %w", err)
	}
	return collect(rows)
}

func collect(rows *sql.Rows) ([]*Transfer, error) {
	defer func() { _ = rows.Close() }()
	out := []*Transfer{}
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransfer(sc scanner) (*Transfer, error) {
	var t Transfer
	var status string
	var rc riskColumns
	var completedAt, failedAt sql.NullTime
	err := sc.Scan(
		&t.ID, &t.SenderID, &t.Recipient, &t.Amount, &t.Purpose, &t.DeviceDigest, &status,
		&rc.score, &rc.reason, &rc.alerts, &rc.source,
		&t.CreatedAt, &completedAt, &failedAt, &t.FailureReason,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan transfer: %w", err)
	}
	t.Status = Status(status)
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}
	if failedAt.Valid {
		v := failedAt.Time
		t.FailedAt = &v
	}
	if rc.score.Valid {
		r := risk.Result{
			Score:  rc.score.Float64,
			Reason: rc.reason.String,
			Alerts: []string{},
			Source: risk.Source(rc.source.String),
		}
		_ = json.Unmarshal(rc.alerts, &r.Alerts)
		t.Risk = &r
	}
	return &t, nil
}
