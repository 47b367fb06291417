package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// OneTimeTokenRepository defines the interface for activation and password
// reset token persistence. Tokens are deleted on consumption, so a replayed
// token reads as invalid rather than "already used".
type OneTimeTokenRepository interface {
	Create(ctx context.Context, token *OneTimeToken) error
	Consume(ctx context.Context, tokenString string, purpose TokenPurpose) (*OneTimeToken, error)
	DeleteAllForAccount(ctx context.Context, accountID string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// SQLiteOneTimeTokenRepository implements OneTimeTokenRepository using SQLite.
type SQLiteOneTimeTokenRepository struct {
	db *sql.DB
}

// NewOneTimeTokenRepository creates a new SQLite-backed one-time token repository.
func NewOneTimeTokenRepository(db *sql.DB) *SQLiteOneTimeTokenRepository {
	return &SQLiteOneTimeTokenRepository{db: db}
}

// Create inserts a new one-time token. The token string is generated if empty.
func (r *SQLiteOneTimeTokenRepository) Create(ctx context.Context, token *OneTimeToken) error {
	if token.Token == "" {
		token.Token = NewOneTimeTokenString()
	}

	now := time.Now().UTC().Format(time.RFC3339)
	token.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO one_time_tokens (token, account_id, purpose, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		token.Token, token.AccountID, string(token.Purpose), now,
		token.ExpiresAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating one-time token: %w", err)
	}

	return nil
}

// Consume atomically looks up, validates, and deletes a one-time token.
//
// The lookup, expiry check, and delete run in one transaction so a token
// can never be consumed twice. An expired token is deleted during the same
// call and reported as ErrOneTimeTokenExpired; an absent (or replayed)
// token is ErrTokenInvalid.
func (r *SQLiteOneTimeTokenRepository) Consume(ctx context.Context, tokenString string, purpose TokenPurpose) (*OneTimeToken, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning consume transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	var t OneTimeToken
	var purposeStr string
	var createdAt, expiresAt string

	err = tx.QueryRowContext(ctx,
		`SELECT token, account_id, purpose, created_at, expires_at
		 FROM one_time_tokens WHERE token = ? AND purpose = ?`,
		tokenString, string(purpose),
	).Scan(&t.Token, &t.AccountID, &purposeStr, &createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("getting one-time token: %w", err)
	}

	t.Purpose = TokenPurpose(purposeStr)
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	t.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM one_time_tokens WHERE token = ?", tokenString); err != nil {
		return nil, fmt.Errorf("deleting consumed token: %w", err)
	}

	if t.ExpiresAt.Before(time.Now().UTC()) {
		// Commit the delete so the stale row is gone, then reject.
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("committing expired token cleanup: %w", err)
		}
		return nil, ErrOneTimeTokenExpired
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing consume: %w", err)
	}
	return &t, nil
}

// DeleteAllForAccount removes every one-time token owned by an account.
// Called before the account row itself is deleted.
func (r *SQLiteOneTimeTokenRepository) DeleteAllForAccount(ctx context.Context, accountID string) error {
	if _, err := r.db.ExecContext(ctx,
		"DELETE FROM one_time_tokens WHERE account_id = ?", accountID); err != nil {
		return fmt.Errorf("deleting one-time tokens for account: %w", err)
	}
	return nil
}

// DeleteExpired removes one-time tokens that have expired.
// Returns the number of deleted rows.
func (r *SQLiteOneTimeTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM one_time_tokens WHERE expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired one-time tokens: %w", err)
	}

	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}
