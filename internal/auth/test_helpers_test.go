package auth

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// testDB creates a temporary SQLite database with the auth schema applied.
// The database file is cleaned up when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	// Use a temp file so WAL mode works (in-memory doesn't support it)
	f, err := os.CreateTemp("", "auth-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// Apply the auth schema
	migrationSQL := `
		CREATE TABLE organizations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;

		CREATE TABLE accounts (
			id TEXT PRIMARY KEY,
			handle TEXT NOT NULL COLLATE NOCASE UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			surname TEXT NOT NULL DEFAULT '',
			password_hash TEXT,
			role TEXT NOT NULL DEFAULT 'basic',
			activated INTEGER NOT NULL DEFAULT 0,
			org_id TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			FOREIGN KEY (org_id) REFERENCES organizations(id) ON DELETE SET NULL
		) STRICT;

		CREATE UNIQUE INDEX idx_accounts_handle ON accounts(handle);
		CREATE INDEX idx_accounts_role ON accounts(role);

		CREATE TABLE org_memberships (
			org_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			PRIMARY KEY (org_id, account_id),
			FOREIGN KEY (org_id) REFERENCES organizations(id) ON DELETE CASCADE,
			FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
		) STRICT;

		CREATE INDEX idx_org_memberships_account ON org_memberships(account_id);

		CREATE TABLE session_tokens (
			jti TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			expires_at TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
		) STRICT;

		CREATE INDEX idx_session_tokens_account ON session_tokens(account_id);
		CREATE INDEX idx_session_tokens_expires ON session_tokens(expires_at);

		CREATE TABLE one_time_tokens (
			token TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			purpose TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			expires_at TEXT NOT NULL,
			FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
		) STRICT;

		CREATE INDEX idx_one_time_tokens_account ON one_time_tokens(account_id);

		CREATE TABLE login_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			handle TEXT NOT NULL,
			address TEXT NOT NULL,
			success INTEGER NOT NULL DEFAULT 0,
			attempted_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;

		CREATE INDEX idx_login_attempts_handle ON login_attempts(handle, attempted_at);
		CREATE INDEX idx_login_attempts_address ON login_attempts(address, attempted_at);
	`
	if _, err := db.Exec(migrationSQL); err != nil {
		t.Fatalf("applying auth schema: %v", err)
	}

	return db
}

// seedTestOrg inserts an organization and returns it.
func seedTestOrg(t *testing.T, db *sql.DB, name string) *Organization {
	t.Helper()

	repo := NewOrgRepository(db)
	org := &Organization{Name: name}
	if err := repo.Create(context.Background(), org); err != nil {
		t.Fatalf("creating test org %s: %v", name, err)
	}
	return org
}

// seedTestAccount inserts an activated account with the default test
// password and returns it. orgID may be empty for unscoped roles.
func seedTestAccount(t *testing.T, db *sql.DB, handle string, role Role, orgID string) *Account {
	t.Helper()

	hash, err := HashPassword("Sup3rSecret!")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	repo := NewAccountRepository(db)
	account := &Account{
		Handle:       handle,
		Name:         "Test",
		Surname:      "Account",
		PasswordHash: hash,
		Role:         role,
		Activated:    true,
		OrgID:        orgID,
	}
	if err := repo.Create(context.Background(), account); err != nil {
		t.Fatalf("creating test account %s: %v", handle, err)
	}
	return account
}

// seedTestClient inserts an activated org_client and its memberships.
func seedTestClient(t *testing.T, db *sql.DB, handle string, orgIDs ...string) *Account {
	t.Helper()

	account := seedTestAccount(t, db, handle, RoleOrgClient, "")

	memberships := NewMembershipRepository(db)
	for _, orgID := range orgIDs {
		if err := memberships.Add(context.Background(), orgID, account.ID); err != nil {
			t.Fatalf("adding membership %s for %s: %v", orgID, handle, err)
		}
	}
	return account
}
