package quota

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stackdrive/stackdrive/internal/metrics"
)

// PostgresLedger stores plans in the plans table.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger creates a ledger backed by the given database.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// EnsurePlan creates a free activated plan for the account if none exists.
func (l *PostgresLedger) EnsurePlan(ctx context.Context, accountID string, allotted int64) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("ensure_plan", time.Since(start)) }()

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO plans (account_id, type, status, allotted_bytes, used_bytes, updated_at)
		 VALUES ($1, $2, $3, $4, 0, NOW())
		 ON CONFLICT (account_id) DO NOTHING`,
		accountID, TypeFree, StatusActivated, allotted)
	if err != nil {
		return fmt.Errorf("ensure plan: %w", err)
	}
	return nil
}

// Plan returns the account's plan.
func (l *PostgresLedger) Plan(ctx context.Context, accountID string) (*Plan, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_plan", time.Since(start)) }()

	p := &Plan{AccountID: accountID}
	err := l.db.QueryRowContext(ctx,
		`SELECT type, status, allotted_bytes, used_bytes, updated_at
		 FROM plans WHERE account_id = $1`, accountID).
		Scan(&p.Type, &p.Status, &p.AllottedBytes, &p.UsedBytes, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return p, nil
}

// Reserve adds size to the usage counter in a single conditional update, so
// two concurrent reservations can never both fit into the same remaining
// space.
func (l *PostgresLedger) Reserve(ctx context.Context, accountID string, size int64) error {
	if size < 0 {
		return fmt.Errorf("reserve: negative size %d", size)
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery("reserve", time.Since(start)) }()

	result, err := l.db.ExecContext(ctx,
		`UPDATE plans
		 SET used_bytes = used_bytes + $2, updated_at = NOW()
		 WHERE account_id = $1
		   AND status = $3
		   AND used_bytes + $2 <= allotted_bytes`,
		accountID, size, StatusActivated)
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	if n == 1 {
		return nil
	}

	// The guarded update matched nothing. Read the plan to tell the
	// caller which condition failed.
	p, perr := l.Plan(ctx, accountID)
	if perr != nil {
		return perr
	}
	if !p.Active() {
		return ErrPlanInactive
	}
	metrics.RecordQuotaExceeded()
	return ErrQuotaExceeded
}

// Release subtracts size from the usage counter, flooring at zero.
func (l *PostgresLedger) Release(ctx context.Context, accountID string, size int64) error {
	if size < 0 {
		return fmt.Errorf("release: negative size %d", size)
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery("release", time.Since(start)) }()

	result, err := l.db.ExecContext(ctx,
		`UPDATE plans
		 SET used_bytes = GREATEST(used_bytes - $2, 0), updated_at = NOW()
		 WHERE account_id = $1`,
		accountID, size)
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}
	if n == 0 {
		return ErrPlanNotFound
	}
	return nil
}

// Accounts returns the IDs of all accounts with a plan.
func (l *PostgresLedger) Accounts(ctx context.Context) ([]string, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_accounts", time.Since(start)) }()

	rows, err := l.db.QueryContext(ctx, `SELECT account_id FROM plans`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetUsed overwrites the usage counter.
func (l *PostgresLedger) SetUsed(ctx context.Context, accountID string, used int64) error {
	if used < 0 {
		used = 0
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery("set_used", time.Since(start)) }()

	result, err := l.db.ExecContext(ctx,
		`UPDATE plans SET used_bytes = $2, updated_at = NOW() WHERE account_id = $1`,
		accountID, used)
	if err != nil {
		return fmt.Errorf("set used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set used: %w", err)
	}
	if n == 0 {
		return ErrPlanNotFound
	}
	return nil
}
