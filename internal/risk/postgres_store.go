package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists assessments in the risk_assessments table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, a *Assessment) error {
	alerts, err := json.Marshal(a.Alerts)
	if err != nil {
		return fmt.Errorf("marshal alerts: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments (id, account_id, purpose, subject_id, score, reason, alerts, source, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)
	`, a.ID, a.AccountID, string(a.Purpose), a.SubjectID, a.Score, a.Reason, alerts, string(a.Source), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("record risk assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, purpose, COALESCE(subject_id, ''), score, reason, alerts, source, created_at
		FROM risk_assessments
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list risk assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []*Assessment{}
	for rows.Next() {
		var a Assessment
		var purpose, source string
		var alerts []byte
		if err := rows.Scan(&a.ID, &a.AccountID, &purpose, &a.SubjectID, &a.Score, &a.Reason, &alerts, &source, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan risk assessment: %w", err)
		}
		a.Purpose = Purpose(purpose)
		a.Source = Source(source)
		a.Alerts = []string{}
		_ = json.Unmarshal(alerts, &a.Alerts)
		out = append(out, &a)
	}
	return out, rows.Err()
}
