package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Token lifecycle defaults.
const (
	// DefaultSessionWindow is the lifetime of a freshly issued or rotated
	// session token.
	DefaultSessionWindow = 20 * time.Minute

	// DefaultRefreshThreshold is the remaining lifetime under which a
	// validated session token is rotated in place.
	DefaultRefreshThreshold = 5 * time.Minute

	// DefaultActivationTTL is the lifetime of an account activation token.
	DefaultActivationTTL = 24 * time.Hour

	// DefaultResetTTL is the lifetime of a password reset token.
	DefaultResetTTL = time.Hour
)

// ManagerConfig holds the token lifecycle settings.
// Secret is the symmetric signing key, process-wide and read-only after
// startup.
type ManagerConfig struct {
	Secret           string
	SessionWindow    time.Duration
	RefreshThreshold time.Duration
	ActivationTTL    time.Duration
	ResetTTL         time.Duration
}

// Manager issues, validates, rotates, and revokes the three token kinds:
// session, activation, and password reset.
type Manager struct {
	accounts    AccountRepository
	sessions    SessionRepository
	oneTime     OneTimeTokenRepository
	memberships MembershipRepository
	guard       *Guard
	cfg         ManagerConfig
	logger      *slog.Logger
}

// NewManager creates a token lifecycle manager. Zero duration fields get
// defaults; Secret must be non-empty.
func NewManager(
	accounts AccountRepository,
	sessions SessionRepository,
	oneTime OneTimeTokenRepository,
	memberships MembershipRepository,
	guard *Guard,
	cfg ManagerConfig,
	logger *slog.Logger,
) (*Manager, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("signing secret is required")
	}
	if cfg.SessionWindow <= 0 {
		cfg.SessionWindow = DefaultSessionWindow
	}
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = DefaultRefreshThreshold
	}
	if cfg.ActivationTTL <= 0 {
		cfg.ActivationTTL = DefaultActivationTTL
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = DefaultResetTTL
	}

	return &Manager{
		accounts:    accounts,
		sessions:    sessions,
		oneTime:     oneTime,
		memberships: memberships,
		guard:       guard,
		cfg:         cfg,
		logger:      logger,
	}, nil
}

// SessionWindow returns the configured lifetime of a fresh session token.
func (m *Manager) SessionWindow() time.Duration {
	return m.cfg.SessionWindow
}

// Login authenticates a handle/password pair from a source address and
// issues a signed session token on success.
//
// The throttle guard is consulted before credentials are verified, so a
// locked account or throttled address is rejected regardless of password
// correctness. Credential failures are indistinguishable to the caller
// whether the account is missing, dormant, or the password is wrong.
func (m *Manager) Login(ctx context.Context, handle, password, address string) (string, *Account, error) {
	if err := m.guard.Check(ctx, handle, address); err != nil {
		return "", nil, err
	}

	account, err := m.accounts.GetByHandle(ctx, handle)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return "", nil, err
	}

	if account == nil || account.PasswordHash == "" {
		if recErr := m.guard.RecordFailure(ctx, handle, address); recErr != nil {
			m.logger.Warn("recording failed attempt", "error", recErr)
		}
		return "", nil, ErrInvalidCredentials
	}

	ok, err := VerifyPassword(password, account.PasswordHash)
	if err != nil || !ok {
		if recErr := m.guard.RecordFailure(ctx, handle, address); recErr != nil {
			m.logger.Warn("recording failed attempt", "error", recErr)
		}
		return "", nil, ErrInvalidCredentials
	}

	if !account.Activated {
		if recErr := m.guard.RecordFailure(ctx, handle, address); recErr != nil {
			m.logger.Warn("recording failed attempt", "error", recErr)
		}
		return "", nil, ErrInvalidCredentials
	}

	if err := m.guard.RecordSuccess(ctx, handle, address); err != nil {
		m.logger.Warn("recording successful attempt", "error", err)
	}

	signed, err := m.issueSession(ctx, account)
	if err != nil {
		return "", nil, err
	}

	m.logger.Info("session issued", "account_id", account.ID)
	return signed, account, nil
}

// issueSession creates a session token row and signs a matching credential.
func (m *Manager) issueSession(ctx context.Context, account *Account) (string, error) {
	token := &SessionToken{
		JTI:       NewJTI(),
		AccountID: account.ID,
		ExpiresAt: time.Now().UTC().Add(m.cfg.SessionWindow),
		Active:    true,
	}
	if err := m.sessions.Create(ctx, token); err != nil {
		return "", err
	}

	return SignSessionToken(account, token.JTI, token.ExpiresAt, m.cfg.Secret)
}

// Validate checks a presented session credential and resolves the caller
// identity. It runs on every authenticated request.
//
// Order of checks: signature → jti liveness → expiry (stale rows are
// deleted lazily) → owning account existence → activation. The activation
// check runs last so dormant accounts are not distinguishable from invalid
// credentials any earlier than necessary.
//
// When the remaining lifetime drops below the refresh threshold, the
// session row is rotated in place (new jti, new expiry) and a replacement
// signed credential is returned alongside the identity. At most one
// rotation happens per call; the presented credential stays valid for the
// remainder of this request only. If a concurrent request won the rotation
// race, this call keeps the original identity and returns no replacement.
func (m *Manager) Validate(ctx context.Context, tokenString string) (*Identity, string, error) {
	claims, err := ParseSessionToken(tokenString, m.cfg.Secret)
	if err != nil {
		return nil, "", err
	}

	session, err := m.sessions.GetByJTI(ctx, claims.ID)
	if err != nil {
		return nil, "", err
	}
	if !session.Active {
		return nil, "", ErrTokenInvalid
	}

	now := time.Now().UTC()
	if session.ExpiresAt.Before(now) {
		if delErr := m.sessions.Delete(ctx, session.JTI); delErr != nil {
			m.logger.Warn("deleting stale session", "error", delErr)
		}
		return nil, "", ErrTokenExpired
	}

	account, err := m.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// A jti whose owner is gone is treated as a stale credential,
			// never surfaced as an internal fault.
			return nil, "", ErrTokenInvalid
		}
		return nil, "", err
	}
	if !account.Activated {
		return nil, "", ErrAccountNotActivated
	}

	identity := &Identity{
		AccountID: account.ID,
		Handle:    account.Handle,
		Role:      account.Role,
		JTI:       session.JTI,
	}

	if session.ExpiresAt.Sub(now) >= m.cfg.RefreshThreshold {
		return identity, "", nil
	}

	newJTI := NewJTI()
	newExpiry := now.Add(m.cfg.SessionWindow)
	if err := m.sessions.Rotate(ctx, session.JTI, newJTI, newExpiry); err != nil {
		// Lost a rotation race: another request already moved the row
		// forward. The caller proceeds with the original identity and
		// re-authenticates naturally when its stale credential is next
		// rejected.
		m.logger.Debug("session rotation skipped", "error", err)
		return identity, "", nil
	}

	refreshed, err := SignSessionToken(account, newJTI, newExpiry, m.cfg.Secret)
	if err != nil {
		return nil, "", err
	}

	identity.JTI = newJTI
	m.logger.Debug("session rotated", "account_id", account.ID)
	return identity, refreshed, nil
}

// Logout deletes the session row matching the presented jti.
func (m *Manager) Logout(ctx context.Context, jti string) error {
	if err := m.sessions.Delete(ctx, jti); err != nil {
		return err
	}
	m.logger.Info("session revoked", "jti", jti)
	return nil
}

// IssueActivationToken creates a single-use activation token for an account.
func (m *Manager) IssueActivationToken(ctx context.Context, accountID string) (string, error) {
	token := &OneTimeToken{
		AccountID: accountID,
		Purpose:   PurposeActivation,
		ExpiresAt: time.Now().UTC().Add(m.cfg.ActivationTTL),
	}
	if err := m.oneTime.Create(ctx, token); err != nil {
		return "", err
	}

	m.logger.Info("activation token issued", "account_id", accountID)
	return token.Token, nil
}

// IssueResetToken creates a single-use password reset token for an account.
func (m *Manager) IssueResetToken(ctx context.Context, accountID string) (string, error) {
	token := &OneTimeToken{
		AccountID: accountID,
		Purpose:   PurposePasswordReset,
		ExpiresAt: time.Now().UTC().Add(m.cfg.ResetTTL),
	}
	if err := m.oneTime.Create(ctx, token); err != nil {
		return "", err
	}

	m.logger.Info("password reset token issued", "account_id", accountID)
	return token.Token, nil
}

// ConsumeActivationToken consumes an activation token, setting the
// account's first password and activating it. The password is validated
// against the policy before the token is consumed, so a policy failure
// leaves the token usable.
func (m *Manager) ConsumeActivationToken(ctx context.Context, tokenString, password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}

	token, err := m.oneTime.Consume(ctx, tokenString, PurposeActivation)
	if err != nil {
		return err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	if err := m.accounts.Activate(ctx, token.AccountID, hash); err != nil {
		return err
	}

	m.logger.Info("account activated", "account_id", token.AccountID)
	return nil
}

// ConsumeResetToken consumes a password reset token and overwrites the
// account's password hash.
func (m *Manager) ConsumeResetToken(ctx context.Context, tokenString, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	token, err := m.oneTime.Consume(ctx, tokenString, PurposePasswordReset)
	if err != nil {
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	if err := m.accounts.UpdatePassword(ctx, token.AccountID, hash); err != nil {
		return err
	}

	m.logger.Info("password reset", "account_id", token.AccountID)
	return nil
}

// ErrPasswordUnchanged is returned when a password change supplies the
// same password as the current one.
var ErrPasswordUnchanged = errors.New("new password must be different from the old password")

// ErrOldPasswordIncorrect is returned when a password change supplies a
// wrong current password.
var ErrOldPasswordIncorrect = errors.New("old password is incorrect")

// ChangePassword lets an authenticated account replace its own password.
// The old password must verify, the new password must differ and satisfy
// the policy. All sessions for the account are revoked on success; the
// caller logs in again with the new password.
func (m *Manager) ChangePassword(ctx context.Context, accountID, oldPassword, newPassword string) error {
	account, err := m.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}

	ok, err := VerifyPassword(oldPassword, account.PasswordHash)
	if err != nil || !ok {
		return ErrOldPasswordIncorrect
	}

	if oldPassword == newPassword {
		return ErrPasswordUnchanged
	}

	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	if err := m.accounts.UpdatePassword(ctx, accountID, hash); err != nil {
		return err
	}

	// Credentials changed, so nothing issued under the old ones stays live.
	if err := m.sessions.DeleteAllForAccount(ctx, accountID); err != nil {
		return err
	}

	m.logger.Info("password changed", "account_id", accountID)
	return nil
}

// DeleteAccount removes an account and everything it owns. Token rows go
// first, then memberships, then the account itself; the store does not
// cascade, so the ordering satisfies foreign key integrity.
func (m *Manager) DeleteAccount(ctx context.Context, accountID string) error {
	if err := m.sessions.DeleteAllForAccount(ctx, accountID); err != nil {
		return err
	}
	if err := m.oneTime.DeleteAllForAccount(ctx, accountID); err != nil {
		return err
	}
	if err := m.memberships.RemoveAllForAccount(ctx, accountID); err != nil {
		return err
	}
	if err := m.accounts.Delete(ctx, accountID); err != nil {
		return err
	}

	m.logger.Info("account deleted", "account_id", accountID)
	return nil
}
