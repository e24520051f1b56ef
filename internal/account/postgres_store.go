package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresStore persists accounts in the accounts table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed account store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `id, email, password_hash, balance, status, daily_limit, monthly_limit, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, a *Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, LOWER($2), $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.Email, a.PasswordHash, a.Balance, string(a.Status), a.DailyLimit, a.MonthlyLimit, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrEmailTaken
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*Account, error) {
	return s.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return s.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = LOWER($1)`, email)
}

func (s *PostgresStore) findOne(ctx context.Context, query string, arg any) (*Account, error) {
	var a Account
	var status string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.Balance, &status,
		&a.DailyLimit, &a.MonthlyLimit, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	a.Status = Status(status)
	return &a, nil
}

func (s *PostgresStore) Save(ctx context.Context, a *Account) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET status = $2, daily_limit = $3, monthly_limit = $4, updated_at = $5
		WHERE id = $1
	`, a.ID, string(a.Status), a.DailyLimit, a.MonthlyLimit, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ConditionalDebit is a single guarded UPDATE; the WHERE clause is the
// compare-and-set.
func (s *PostgresStore) ConditionalDebit(ctx context.Context, id string, amount decimal.Decimal) (bool, error) {
	return Debit(ctx, s.db, id, amount)
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Debit runs the guarded debit on q, so settlement can apply it inside its
// own transaction. It reports false when the balance does not cover amount.
func Debit(ctx context.Context, q Execer, id string, amount decimal.Decimal) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE accounts SET balance = balance - $2, updated_at = NOW()
		WHERE id = $1 AND balance >= $2
	`, id, amount)
	if err != nil {
		return false, fmt.Errorf("debit account: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
