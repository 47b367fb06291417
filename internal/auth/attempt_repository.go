package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AttemptRepository defines the interface for the append-only login
// attempt log feeding the throttle guard. Counters are derived by querying
// this log at decision time; no in-memory state is kept.
type AttemptRepository interface {
	Record(ctx context.Context, attempt *LoginAttempt) error
	AccountFailureStreak(ctx context.Context, handle string, since time.Time) (int, error)
	AddressFailureCount(ctx context.Context, address string, since time.Time) (int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLiteAttemptRepository implements AttemptRepository using SQLite.
type SQLiteAttemptRepository struct {
	db *sql.DB
}

// NewAttemptRepository creates a new SQLite-backed attempt repository.
func NewAttemptRepository(db *sql.DB) *SQLiteAttemptRepository {
	return &SQLiteAttemptRepository{db: db}
}

// Record appends one login attempt to the log.
func (r *SQLiteAttemptRepository) Record(ctx context.Context, attempt *LoginAttempt) error {
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO login_attempts (handle, address, success, attempted_at)
		 VALUES (?, ?, ?, ?)`,
		attempt.Handle, attempt.Address, boolToInt(attempt.Success),
		attempt.AttemptedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording login attempt: %w", err)
	}
	return nil
}

// AccountFailureStreak returns the number of consecutive failed attempts
// for a handle since the given cutoff. Counting walks backwards from the
// most recent attempt and stops at the first success, so one successful
// authentication resets the streak to zero.
func (r *SQLiteAttemptRepository) AccountFailureStreak(ctx context.Context, handle string, since time.Time) (int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT success FROM login_attempts
		 WHERE handle = ? AND attempted_at > ?
		 ORDER BY attempted_at DESC, id DESC`,
		handle, since.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("querying attempt streak: %w", err)
	}
	defer rows.Close()

	streak := 0
	for rows.Next() {
		var success int
		if err := rows.Scan(&success); err != nil {
			return 0, fmt.Errorf("scanning attempt: %w", err)
		}
		if success != 0 {
			break
		}
		streak++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterating attempts: %w", err)
	}

	return streak, nil
}

// AddressFailureCount returns the total failed attempts from a source
// address since the given cutoff, irrespective of which handles were
// targeted.
func (r *SQLiteAttemptRepository) AddressFailureCount(ctx context.Context, address string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM login_attempts
		 WHERE address = ? AND success = 0 AND attempted_at > ?`,
		address, since.UTC().Format(time.RFC3339)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting address failures: %w", err)
	}
	return count, nil
}

// DeleteOlderThan prunes attempt records older than the cutoff.
// Returns the number of deleted rows.
func (r *SQLiteAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM login_attempts WHERE attempted_at < ?",
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("pruning login attempts: %w", err)
	}

	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}
