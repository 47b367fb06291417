package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AccountRepository defines the interface for account persistence.
type AccountRepository interface {
	Create(ctx context.Context, account *Account) error
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByHandle(ctx context.Context, handle string) (*Account, error)
	UpdateHandle(ctx context.Context, id, newHandle string) error
	UpdateProfile(ctx context.Context, id, name, surname string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Activate(ctx context.Context, id, passwordHash string) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, handleFragment string) ([]Account, error)
	Count(ctx context.Context) (int, error)
}

// SQLiteAccountRepository implements AccountRepository using SQLite.
type SQLiteAccountRepository struct {
	db *sql.DB
}

// NewAccountRepository creates a new SQLite-backed account repository.
func NewAccountRepository(db *sql.DB) *SQLiteAccountRepository {
	return &SQLiteAccountRepository{db: db}
}

// NormalizeHandle lowercases the domain part of an email-shaped handle.
// The local part is preserved as given.
func NormalizeHandle(handle string) string {
	at := strings.LastIndex(handle, "@")
	if at < 0 {
		return handle
	}
	return handle[:at+1] + strings.ToLower(handle[at+1:])
}

const accountColumns = "id, handle, name, surname, password_hash, role, activated, org_id, created_at"

// Create inserts a new account. The ID is generated if empty.
func (r *SQLiteAccountRepository) Create(ctx context.Context, account *Account) error {
	if account.ID == "" {
		account.ID = "acc-" + uuid.NewString()[:8]
	}
	account.Handle = NormalizeHandle(account.Handle)

	now := time.Now().UTC().Format(time.RFC3339)
	account.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, handle, name, surname, password_hash, role, activated, org_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID, account.Handle, account.Name, account.Surname,
		nullString(account.PasswordHash), string(account.Role),
		boolToInt(account.Activated), nullString(account.OrgID), now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrHandleExists
		}
		return fmt.Errorf("creating account: %w", err)
	}

	return nil
}

// GetByID retrieves an account by its unique ID.
func (r *SQLiteAccountRepository) GetByID(ctx context.Context, id string) (*Account, error) {
	return r.getAccount(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
}

// GetByHandle retrieves an account by its handle. The handle column
// compares case-insensitively, so any casing of an existing handle
// resolves to the same account.
func (r *SQLiteAccountRepository) GetByHandle(ctx context.Context, handle string) (*Account, error) {
	return r.getAccount(ctx, "SELECT "+accountColumns+" FROM accounts WHERE handle = ?", NormalizeHandle(handle))
}

// UpdateHandle changes an account's handle.
func (r *SQLiteAccountRepository) UpdateHandle(ctx context.Context, id, newHandle string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE accounts SET handle = ? WHERE id = ?",
		NormalizeHandle(newHandle), id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrHandleExists
		}
		return fmt.Errorf("updating handle: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// UpdateProfile changes an account's name and surname.
// Empty fields are left untouched.
func (r *SQLiteAccountRepository) UpdateProfile(ctx context.Context, id, name, surname string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET
			name = COALESCE(NULLIF(?, ''), name),
			surname = COALESCE(NULLIF(?, ''), surname)
		 WHERE id = ?`,
		name, surname, id,
	)
	if err != nil {
		return fmt.Errorf("updating profile: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// UpdatePassword changes an account's password hash.
func (r *SQLiteAccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE accounts SET password_hash = ? WHERE id = ?",
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Activate marks an account as activated and sets its first password hash.
// Called when an activation token is consumed.
func (r *SQLiteAccountRepository) Activate(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE accounts SET activated = 1, password_hash = ? WHERE id = ?",
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("activating account: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Delete removes an account by ID.
// Token and membership rows must be removed first; the schema does not cascade.
func (r *SQLiteAccountRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Search returns accounts whose handle contains the given fragment,
// ordered by handle. Visibility filtering is applied by the policy engine,
// not here.
func (r *SQLiteAccountRepository) Search(ctx context.Context, handleFragment string) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+accountColumns+` FROM accounts WHERE handle LIKE ? ESCAPE '\' ORDER BY handle ASC`,
		"%"+escapeLike(handleFragment)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("searching accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccountFrom(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accounts: %w", err)
	}

	if accounts == nil {
		accounts = []Account{}
	}
	return accounts, nil
}

// Count returns the total number of accounts.
func (r *SQLiteAccountRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting accounts: %w", err)
	}
	return count, nil
}

// getAccount executes a query and scans a single account result.
func (r *SQLiteAccountRepository) getAccount(ctx context.Context, query string, args ...any) (*Account, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	return scanAccountFrom(row)
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

// scanAccountFrom scans an account from any scanner (Row or Rows).
func scanAccountFrom(s scanner) (*Account, error) {
	var a Account
	var passwordHash, orgID sql.NullString
	var role string
	var activated int
	var createdAt string

	err := s.Scan(&a.ID, &a.Handle, &a.Name, &a.Surname, &passwordHash,
		&role, &activated, &orgID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("scanning account: %w", err)
	}

	a.Role = Role(role)
	a.Activated = activated != 0
	if passwordHash.Valid {
		a.PasswordHash = passwordHash.String
	}
	if orgID.Valid {
		a.OrgID = orgID.String
	}

	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled

	return &a, nil
}

// Helper functions.

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// escapeLike escapes LIKE metacharacters in a user-supplied fragment.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "unique constraint"))
}
