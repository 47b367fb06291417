package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SessionRepository defines the interface for session token persistence.
// One row exists per outstanding bearer credential, keyed by jti.
type SessionRepository interface {
	Create(ctx context.Context, token *SessionToken) error
	GetByJTI(ctx context.Context, jti string) (*SessionToken, error)
	Rotate(ctx context.Context, oldJTI, newJTI string, newExpiry time.Time) error
	Delete(ctx context.Context, jti string) error
	DeleteAllForAccount(ctx context.Context, accountID string) error
	DeleteExpired(ctx context.Context) (int64, error)
	CountActive(ctx context.Context) (int, error)
}

// SQLiteSessionRepository implements SessionRepository using SQLite.
type SQLiteSessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SQLite-backed session repository.
func NewSessionRepository(db *sql.DB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db}
}

// Create inserts a new session token row.
func (r *SQLiteSessionRepository) Create(ctx context.Context, token *SessionToken) error {
	if token.JTI == "" {
		token.JTI = NewJTI()
	}

	now := time.Now().UTC().Format(time.RFC3339)
	token.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO session_tokens (jti, account_id, created_at, expires_at, active)
		 VALUES (?, ?, ?, ?, ?)`,
		token.JTI, token.AccountID, now,
		token.ExpiresAt.UTC().Format(time.RFC3339),
		boolToInt(token.Active),
	)
	if err != nil {
		return fmt.Errorf("creating session token: %w", err)
	}

	return nil
}

// GetByJTI retrieves a session token by its unique identifier.
func (r *SQLiteSessionRepository) GetByJTI(ctx context.Context, jti string) (*SessionToken, error) {
	var t SessionToken
	var active int
	var createdAt, expiresAt string

	err := r.db.QueryRowContext(ctx,
		`SELECT jti, account_id, created_at, expires_at, active
		 FROM session_tokens WHERE jti = ?`, jti,
	).Scan(&t.JTI, &t.AccountID, &createdAt, &expiresAt, &active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("getting session token: %w", err)
	}

	t.Active = active != 0
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	t.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled

	return &t, nil
}

// Rotate mutates an existing session row in place with a new jti and a new
// expiry. The row identity is the old jti; concurrent rotations of the same
// row race last-write-wins, which is safe because expiry only moves forward
// and a losing credential is rejected on its next use.
func (r *SQLiteSessionRepository) Rotate(ctx context.Context, oldJTI, newJTI string, newExpiry time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning rotation transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	result, err := tx.ExecContext(ctx,
		"UPDATE session_tokens SET jti = ?, expires_at = ? WHERE jti = ? AND active = 1",
		newJTI, newExpiry.UTC().Format(time.RFC3339), oldJTI)
	if err != nil {
		return fmt.Errorf("rotating session token: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrTokenInvalid
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rotation: %w", err)
	}
	return nil
}

// Delete removes a session token row. Used on logout and on lazy expiry.
func (r *SQLiteSessionRepository) Delete(ctx context.Context, jti string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM session_tokens WHERE jti = ?", jti)
	if err != nil {
		return fmt.Errorf("deleting session token: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrTokenInvalid
	}
	return nil
}

// DeleteAllForAccount removes every session token owned by an account.
// Called before the account row itself is deleted.
func (r *SQLiteSessionRepository) DeleteAllForAccount(ctx context.Context, accountID string) error {
	if _, err := r.db.ExecContext(ctx,
		"DELETE FROM session_tokens WHERE account_id = ?", accountID); err != nil {
		return fmt.Errorf("deleting session tokens for account: %w", err)
	}
	return nil
}

// DeleteExpired removes session tokens that have expired, freeing storage.
// Returns the number of deleted rows.
func (r *SQLiteSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM session_tokens WHERE expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired session tokens: %w", err)
	}

	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

// CountActive returns the number of live, unexpired session tokens.
func (r *SQLiteSessionRepository) CountActive(ctx context.Context) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM session_tokens WHERE active = 1 AND expires_at > ?", now,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting active session tokens: %w", err)
	}
	return count, nil
}
