package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gatekeep-core/internal/audit"
	"github.com/nerrad567/gatekeep-core/internal/auth"
	"github.com/nerrad567/gatekeep-core/internal/notify"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

// loginResponse is the response body for POST /auth/login.
type loginResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresIn   int           `json:"expires_in"`
	Account     *auth.Account `json:"account"`
}

type activateRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Handle string `json:"handle"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// handleLogin authenticates a handle/password pair and issues a session token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Handle == "" || req.Password == "" {
		writeBadRequest(w, "handle and password are required")
		return
	}

	address := clientAddress(r)
	token, account, err := s.manager.Login(r.Context(), req.Handle, req.Password, address)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAccountLocked):
			s.record(audit.ActionLockout, "account", "", nil, map[string]any{
				"handle": req.Handle, "address": address, "streak": throttleStreak(err),
			})
			writeLocked(w, "account temporarily locked")
		case errors.Is(err, auth.ErrAddressThrottled):
			s.record(audit.ActionThrottled, "address", "", nil, map[string]any{
				"address": address, "streak": throttleStreak(err),
			})
			writeTooManyRequests(w, "too many failed login attempts")
		case errors.Is(err, auth.ErrInvalidCredentials):
			s.record(audit.ActionLoginFailed, "account", "", nil, map[string]any{
				"handle": req.Handle, "address": address,
			})
			writeUnauthorized(w, "invalid credentials")
		default:
			s.logger.Error("login failed", "error", err)
			writeInternalError(w, "login failed")
		}
		return
	}

	s.recordFor(audit.ActionLogin, "session", "", account, nil)

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.manager.SessionWindow().Seconds()),
		Account:     account,
	})
}

// throttleStreak extracts the failure count behind a throttle rejection,
// or zero when the error carries none.
func throttleStreak(err error) int {
	var te *auth.ThrottleError
	if errors.As(err, &te) {
		return te.Streak
	}
	return 0
}

// handleLogout revokes the caller's session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())

	if err := s.manager.Logout(r.Context(), identity.JTI); err != nil {
		s.logger.Error("logout failed", "error", err)
		writeInternalError(w, "logout failed")
		return
	}

	s.record(audit.ActionLogout, "session", identity.JTI, identity, nil)

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// handleMe returns the caller's own account with organisation affiliations.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())

	account, err := s.accounts.GetByID(r.Context(), identity.AccountID)
	if err != nil {
		s.logger.Error("get own account failed", "error", err)
		writeInternalError(w, "failed to load account")
		return
	}

	orgs, err := s.accountOrgIDs(r.Context(), account)
	if err != nil {
		s.logger.Error("list own orgs failed", "error", err)
		writeInternalError(w, "failed to load account")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account": account,
		"org_ids": orgs,
	})
}

// handleUpdateSelfProfile changes the caller's own name and surname. No
// policy evaluation applies; every role owns its profile fields.
func (s *Server) handleUpdateSelfProfile(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" && req.Surname == "" {
		writeBadRequest(w, "name or surname is required")
		return
	}

	if err := s.accounts.UpdateProfile(r.Context(), identity.AccountID, req.Name, req.Surname); err != nil {
		s.logger.Error("self profile update failed", "error", err)
		writeInternalError(w, "failed to update profile")
		return
	}

	s.record(audit.ActionProfileUpdated, "account", identity.AccountID, identity, map[string]any{
		"self": true,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "profile_updated"})
}

// handleDeleteSelf removes the caller's own account. System administrators
// cannot self-delete; the policy engine rejects it.
func (s *Server) handleDeleteSelf(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())

	account, err := s.accounts.GetByID(r.Context(), identity.AccountID)
	if err != nil {
		s.logger.Error("get own account failed", "error", err)
		writeInternalError(w, "failed to delete account")
		return
	}

	mode, decision, err := s.policy.DecideDelete(r.Context(), account, account)
	if err != nil {
		s.logger.Error("delete policy evaluation failed", "error", err)
		writeInternalError(w, "failed to delete account")
		return
	}
	if mode != auth.DeleteFull {
		s.recordFor(audit.ActionDenied, "account", account.ID, account, map[string]any{
			"reason": decision.Reason, "action": "self_delete",
		})
		writeForbidden(w, "forbidden")
		return
	}

	if err := s.manager.DeleteAccount(r.Context(), account.ID); err != nil {
		s.logger.Error("self delete failed", "error", err)
		writeInternalError(w, "failed to delete account")
		return
	}

	s.record(audit.ActionAccountDeleted, "account", account.ID, identity, map[string]any{
		"handle": account.Handle, "self": true,
	})

	w.WriteHeader(http.StatusNoContent)
}

// handleChangePassword changes the caller's password after verifying the
// current one. Every session for the account is revoked, including the
// one making the request; the caller logs in again with the new password.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := s.manager.ChangePassword(r.Context(), identity.AccountID, req.OldPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrOldPasswordIncorrect):
			writeUnauthorized(w, "old password is incorrect")
		case errors.Is(err, auth.ErrPasswordUnchanged):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case auth.IsPolicyError(err):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			s.logger.Error("change password failed", "error", err)
			writeInternalError(w, "failed to change password")
		}
		return
	}

	s.record(audit.ActionPasswordChanged, "account", identity.AccountID, identity, nil)

	writeJSON(w, http.StatusOK, map[string]string{"status": "password_changed"})
}

// handleActivate consumes an activation token and sets the first password.
// A rejected password does not burn the token; the caller may retry.
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Token == "" {
		writeBadRequest(w, "token is required")
		return
	}

	if err := s.manager.ConsumeActivationToken(r.Context(), req.Token, req.Password); err != nil {
		s.writeOneTimeTokenError(w, err)
		return
	}

	s.record(audit.ActionAccountActivated, "account", "", nil, nil)

	writeJSON(w, http.StatusOK, map[string]string{"status": "activated"})
}

// handleForgotPassword issues a password reset token and dispatches the
// reset link. The response is identical whether or not the handle exists,
// so the endpoint cannot be used to enumerate accounts.
func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Handle == "" {
		writeBadRequest(w, "handle is required")
		return
	}

	account, err := s.accounts.GetByHandle(r.Context(), req.Handle)
	if err == nil && account.Activated {
		token, issueErr := s.manager.IssueResetToken(r.Context(), account.ID)
		if issueErr != nil {
			s.logger.Error("issuing reset token failed", "error", issueErr)
		} else {
			s.dispatch(s.links.PasswordReset(account.Handle, token))
			s.recordFor(audit.ActionPasswordReset, "account", account.ID, account, map[string]any{
				"stage": "requested",
			})
		}
	} else if err != nil && !errors.Is(err, auth.ErrAccountNotFound) {
		s.logger.Error("forgot password lookup failed", "error", err)
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleResetPassword consumes a reset token and overwrites the password.
func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Token == "" {
		writeBadRequest(w, "token is required")
		return
	}

	if err := s.manager.ConsumeResetToken(r.Context(), req.Token, req.Password); err != nil {
		s.writeOneTimeTokenError(w, err)
		return
	}

	s.record(audit.ActionPasswordReset, "account", "", nil, map[string]any{
		"stage": "completed",
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "password_reset"})
}

// writeOneTimeTokenError maps one-time token consumption failures to
// HTTP responses.
func (s *Server) writeOneTimeTokenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrOneTimeTokenExpired):
		writeError(w, http.StatusGone, ErrCodeValidation, "token has expired")
	case errors.Is(err, auth.ErrTokenInvalid):
		writeUnauthorized(w, "invalid token")
	case auth.IsPolicyError(err):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		s.logger.Error("one-time token consumption failed", "error", err)
		writeInternalError(w, "request failed")
	}
}

// dispatch sends a notification without blocking the request outcome.
func (s *Server) dispatch(msg notify.Message) {
	if s.notifier == nil {
		s.logger.Warn("notification dropped; no dispatcher configured", "to", msg.To)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.Send(ctx, msg); err != nil {
			s.logger.Error("notification delivery failed", "to", msg.To, "error", err)
		}
	}()
}

// notifyTimeout bounds background notification delivery.
const notifyTimeout = 30 * time.Second

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use, identity-bound, and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]ticketEntry
	mu      sync.Mutex
}

type ticketEntry struct {
	accountID string
	role      auth.Role
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

// issue creates a ticket bound to the caller identity.
func (t *ticketStore) issue(identity *auth.Identity) string {
	ticket := generateTicket()
	t.mu.Lock()
	t.tickets[ticket] = ticketEntry{
		accountID: identity.AccountID,
		role:      identity.Role,
		expiresAt: time.Now().Add(ticketTTL),
	}
	t.mu.Unlock()
	return ticket
}

// consume validates a ticket and removes it (single-use).
func (t *ticketStore) consume(ticket string) (ticketEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tickets[ticket]
	if !ok {
		return ticketEntry{}, false
	}
	delete(t.tickets, ticket)

	if time.Now().After(entry.expiresAt) {
		return ticketEntry{}, false
	}
	return entry, true
}

// clean removes expired tickets from the store.
func (t *ticketStore) clean() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for ticket, entry := range t.tickets {
		if now.After(entry.expiresAt) {
			delete(t.tickets, ticket)
		}
	}
}

// cleanLoop runs clean periodically until the context is cancelled.
func (t *ticketStore) cleanLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.clean()
		}
	}
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client uses this ticket to authenticate the WebSocket connection
// without exposing the session token in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	ticket := s.tickets.issue(identity)

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}
