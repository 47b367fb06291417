package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OrgRepository defines the interface for organisation persistence.
type OrgRepository interface {
	Create(ctx context.Context, org *Organization) error
	GetByID(ctx context.Context, id string) (*Organization, error)
	Rename(ctx context.Context, id, name string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Organization, error)
	Search(ctx context.Context, nameFragment string) ([]Organization, error)
}

// SQLiteOrgRepository implements OrgRepository using SQLite.
type SQLiteOrgRepository struct {
	db *sql.DB
}

// NewOrgRepository creates a new SQLite-backed organisation repository.
func NewOrgRepository(db *sql.DB) *SQLiteOrgRepository {
	return &SQLiteOrgRepository{db: db}
}

// Create inserts a new organisation. The ID is generated if empty.
// Names are unique across tenants.
func (r *SQLiteOrgRepository) Create(ctx context.Context, org *Organization) error {
	if org.ID == "" {
		org.ID = "org-" + uuid.NewString()[:8]
	}

	now := time.Now().UTC().Format(time.RFC3339)
	org.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO organizations (id, name, created_at) VALUES (?, ?, ?)",
		org.ID, org.Name, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrOrgNameExists
		}
		return fmt.Errorf("creating organization: %w", err)
	}

	return nil
}

// GetByID retrieves an organisation by its ID.
func (r *SQLiteOrgRepository) GetByID(ctx context.Context, id string) (*Organization, error) {
	var o Organization
	var createdAt string

	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM organizations WHERE id = ?", id,
	).Scan(&o.ID, &o.Name, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrgNotFound
		}
		return nil, fmt.Errorf("getting organization: %w", err)
	}

	o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	return &o, nil
}

// Rename changes an organisation's display name.
func (r *SQLiteOrgRepository) Rename(ctx context.Context, id, name string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE organizations SET name = ? WHERE id = ?", name, id)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrOrgNameExists
		}
		return fmt.Errorf("renaming organization: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrOrgNotFound
	}
	return nil
}

// Delete removes an organisation by ID.
// Membership rows for the organisation are removed in the same transaction.
func (r *SQLiteOrgRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM org_memberships WHERE org_id = ?", id); err != nil {
		return fmt.Errorf("clearing memberships: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM organizations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting organization: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrOrgNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

// List returns all organisations ordered by name.
func (r *SQLiteOrgRepository) List(ctx context.Context) ([]Organization, error) {
	return r.queryOrgs(ctx,
		"SELECT id, name, created_at FROM organizations ORDER BY name ASC")
}

// Search returns organisations whose name contains the given fragment.
func (r *SQLiteOrgRepository) Search(ctx context.Context, nameFragment string) ([]Organization, error) {
	return r.queryOrgs(ctx,
		`SELECT id, name, created_at FROM organizations WHERE name LIKE ? ESCAPE '\' ORDER BY name ASC`,
		"%"+escapeLike(nameFragment)+"%")
}

// queryOrgs executes a query and scans organisation rows.
func (r *SQLiteOrgRepository) queryOrgs(ctx context.Context, query string, args ...any) ([]Organization, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying organizations: %w", err)
	}
	defer rows.Close()

	var orgs []Organization
	for rows.Next() {
		var o Organization
		var createdAt string
		if err := rows.Scan(&o.ID, &o.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning organization: %w", err)
		}
		o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
		orgs = append(orgs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating organizations: %w", err)
	}

	if orgs == nil {
		orgs = []Organization{}
	}
	return orgs, nil
}
