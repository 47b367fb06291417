package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// seedPasswordBytes is the number of random bytes for the seed admin password.
const seedPasswordBytes = 16

// SeedAdminHandle is the handle of the bootstrap admin account.
const SeedAdminHandle = "admin@gatekeep.local"

// SeedAdmin creates the initial system admin on first boot if no accounts
// exist. The generated password is logged — it must be changed immediately.
// Returns the generated password (empty string if seeding was skipped).
func SeedAdmin(ctx context.Context, accounts AccountRepository, logger *slog.Logger) (string, error) {
	count, err := accounts.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking account count: %w", err)
	}

	if count > 0 {
		logger.Info("accounts exist, skipping admin seed")
		return "", nil
	}

	// Generate a random password
	passwordBytes := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(passwordBytes); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(passwordBytes)

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &Account{
		Handle:       SeedAdminHandle,
		Name:         "System",
		Surname:      "Admin",
		PasswordHash: hash,
		Role:         RoleAdmin,
		Activated:    true,
	}

	if err := accounts.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	logger.Warn("seed admin account created",
		"handle", SeedAdminHandle,
		"password", password,
		"action_required", "change this password immediately",
	)

	return password, nil
}
