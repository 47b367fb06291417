package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOneTimeToken_ConsumeOnce(t *testing.T) {
	db := testDB(t)
	repo := NewOneTimeTokenRepository(db)
	ctx := context.Background()

	account := seedTestAccount(t, db, "o@example.com", RoleOrgClient, "")

	token := &OneTimeToken{
		AccountID: account.ID,
		Purpose:   PurposeActivation,
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}
	if err := repo.Create(ctx, token); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if token.Token == "" {
		t.Fatal("Create() should generate a token string")
	}

	consumed, err := repo.Consume(ctx, token.Token, PurposeActivation)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if consumed.AccountID != account.ID {
		t.Errorf("consumed AccountID = %q, want %q", consumed.AccountID, account.ID)
	}

	// Replay reads as invalid, not "already used"
	_, err = repo.Consume(ctx, token.Token, PurposeActivation)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Consume(replay) error = %v, want ErrTokenInvalid", err)
	}
}

func TestOneTimeToken_PurposeMismatch(t *testing.T) {
	db := testDB(t)
	repo := NewOneTimeTokenRepository(db)
	ctx := context.Background()

	account := seedTestAccount(t, db, "o@example.com", RoleOrgClient, "")

	token := &OneTimeToken{
		AccountID: account.ID,
		Purpose:   PurposeActivation,
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}
	if err := repo.Create(ctx, token); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// An activation token cannot be spent as a password reset
	_, err := repo.Consume(ctx, token.Token, PurposePasswordReset)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Consume(wrong purpose) error = %v, want ErrTokenInvalid", err)
	}

	// And the mismatch must not burn the token
	if _, err := repo.Consume(ctx, token.Token, PurposeActivation); err != nil {
		t.Errorf("Consume(correct purpose) error = %v, want nil", err)
	}
}

func TestOneTimeToken_Expired(t *testing.T) {
	db := testDB(t)
	repo := NewOneTimeTokenRepository(db)
	ctx := context.Background()

	account := seedTestAccount(t, db, "o@example.com", RoleOrgClient, "")

	token := &OneTimeToken{
		AccountID: account.ID,
		Purpose:   PurposePasswordReset,
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}
	if err := repo.Create(ctx, token); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err := repo.Consume(ctx, token.Token, PurposePasswordReset)
	if !errors.Is(err, ErrOneTimeTokenExpired) {
		t.Fatalf("Consume(expired) error = %v, want ErrOneTimeTokenExpired", err)
	}

	// The expired row is deleted as part of the failed consume
	_, err = repo.Consume(ctx, token.Token, PurposePasswordReset)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Consume(expired, again) error = %v, want ErrTokenInvalid", err)
	}
}

func TestOneTimeToken_DeleteAllForAccount(t *testing.T) {
	db := testDB(t)
	repo := NewOneTimeTokenRepository(db)
	ctx := context.Background()

	account := seedTestAccount(t, db, "o@example.com", RoleOrgClient, "")

	tokens := make([]string, 0, 2)
	for _, purpose := range []TokenPurpose{PurposeActivation, PurposePasswordReset} {
		token := &OneTimeToken{
			AccountID: account.ID,
			Purpose:   purpose,
			ExpiresAt: time.Now().UTC().Add(time.Hour),
		}
		if err := repo.Create(ctx, token); err != nil {
			t.Fatalf("Create(%s) error = %v", purpose, err)
		}
		tokens = append(tokens, token.Token)
	}

	if err := repo.DeleteAllForAccount(ctx, account.ID); err != nil {
		t.Fatalf("DeleteAllForAccount() error = %v", err)
	}

	for _, tok := range tokens {
		if _, err := repo.Consume(ctx, tok, PurposeActivation); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("Consume(%s) error = %v, want ErrTokenInvalid", tok, err)
		}
	}
}
