package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MembershipRepository defines the interface for org_client organisation
// membership persistence. Only the org_client role uses the join table;
// single-affiliation roles carry org_id on the account row.
type MembershipRepository interface {
	Add(ctx context.Context, orgID, accountID string) error
	Remove(ctx context.Context, orgID, accountID string) error
	RemoveAllForAccount(ctx context.Context, accountID string) error
	ListOrgsForAccount(ctx context.Context, accountID string) ([]string, error)
	ListAccountsForOrg(ctx context.Context, orgID string) ([]string, error)
	IsMember(ctx context.Context, orgID, accountID string) (bool, error)
	CountForAccount(ctx context.Context, accountID string) (int, error)
}

// SQLiteMembershipRepository implements MembershipRepository using SQLite.
type SQLiteMembershipRepository struct {
	db *sql.DB
}

// NewMembershipRepository creates a new SQLite-backed membership repository.
func NewMembershipRepository(db *sql.DB) *SQLiteMembershipRepository {
	return &SQLiteMembershipRepository{db: db}
}

// Add grants an account membership in an organisation.
// Adding an existing membership is a no-op, which is what makes duplicate
// org_client creation an idempotent merge at the policy layer.
func (r *SQLiteMembershipRepository) Add(ctx context.Context, orgID, accountID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO org_memberships (org_id, account_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (org_id, account_id) DO NOTHING`,
		orgID, accountID, now)
	if err != nil {
		return fmt.Errorf("adding membership: %w", err)
	}
	return nil
}

// Remove revokes an account's membership in an organisation.
//
// The removal is guarded at this layer: an account must always retain at
// least one membership. The terminal membership only disappears when the
// account itself is deleted, via RemoveAllForAccount. The check and the
// delete run in one transaction so concurrent removals cannot strand the
// account with zero memberships.
func (r *SQLiteMembershipRepository) Remove(ctx context.Context, orgID, accountID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning removal transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	var count int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM org_memberships WHERE account_id = ?", accountID,
	).Scan(&count); err != nil {
		return fmt.Errorf("counting memberships: %w", err)
	}

	if count <= 1 {
		return ErrLastMembership
	}

	result, err := tx.ExecContext(ctx,
		"DELETE FROM org_memberships WHERE org_id = ? AND account_id = ?",
		orgID, accountID)
	if err != nil {
		return fmt.Errorf("removing membership: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrNotMember
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing removal: %w", err)
	}
	return nil
}

// RemoveAllForAccount deletes every membership for an account.
// Only called as part of full account deletion.
func (r *SQLiteMembershipRepository) RemoveAllForAccount(ctx context.Context, accountID string) error {
	if _, err := r.db.ExecContext(ctx,
		"DELETE FROM org_memberships WHERE account_id = ?", accountID); err != nil {
		return fmt.Errorf("removing memberships: %w", err)
	}
	return nil
}

// ListOrgsForAccount returns the organisation IDs an account belongs to.
func (r *SQLiteMembershipRepository) ListOrgsForAccount(ctx context.Context, accountID string) ([]string, error) {
	return r.queryIDs(ctx,
		"SELECT org_id FROM org_memberships WHERE account_id = ? ORDER BY org_id", accountID)
}

// ListAccountsForOrg returns the account IDs belonging to an organisation.
func (r *SQLiteMembershipRepository) ListAccountsForOrg(ctx context.Context, orgID string) ([]string, error) {
	return r.queryIDs(ctx,
		"SELECT account_id FROM org_memberships WHERE org_id = ? ORDER BY account_id", orgID)
}

// IsMember reports whether an account belongs to an organisation.
func (r *SQLiteMembershipRepository) IsMember(ctx context.Context, orgID, accountID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM org_memberships WHERE org_id = ? AND account_id = ?",
		orgID, accountID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking membership: %w", err)
	}
	return count > 0, nil
}

// CountForAccount returns how many organisations an account belongs to.
func (r *SQLiteMembershipRepository) CountForAccount(ctx context.Context, accountID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM org_memberships WHERE account_id = ?", accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting memberships: %w", err)
	}
	return count, nil
}

// queryIDs executes a single-column string query.
func (r *SQLiteMembershipRepository) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying memberships: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memberships: %w", err)
	}

	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
