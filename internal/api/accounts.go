package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gatekeep-core/internal/audit"
	"github.com/nerrad567/gatekeep-core/internal/auth"
)

// createAccountRequest is the request body for POST /accounts.
type createAccountRequest struct {
	Handle  string    `json:"handle"`
	Name    string    `json:"name"`
	Surname string    `json:"surname"`
	Role    auth.Role `json:"role"`
	OrgID   string    `json:"org_id,omitempty"`
}

type updateHandleRequest struct {
	Handle string `json:"handle"`
}

type updateProfileRequest struct {
	Name    string `json:"name"`
	Surname string `json:"surname"`
}

// actor loads the caller's full account record. The policy engine needs
// organisation affiliation, which the session identity does not carry.
func (s *Server) actor(w http.ResponseWriter, r *http.Request) *auth.Account {
	identity := identityFromContext(r.Context())

	account, err := s.accounts.GetByID(r.Context(), identity.AccountID)
	if err != nil {
		s.logger.Error("loading acting account failed", "error", err)
		writeInternalError(w, "request failed")
		return nil
	}
	return account
}

// accountOrgIDs returns the organisations an account is affiliated with.
// Multi-org clients resolve through the membership table; every other role
// carries at most one organisation directly.
func (s *Server) accountOrgIDs(ctx context.Context, account *auth.Account) ([]string, error) {
	if account.Role == auth.RoleOrgClient {
		return s.memberships.ListOrgsForAccount(ctx, account.ID)
	}
	if account.OrgID != "" {
		return []string{account.OrgID}, nil
	}
	return []string{}, nil
}

// visibleAccount applies search visibility rules to a single account.
// Callers always see themselves; everything else goes through the same
// filter as search results so a direct GET cannot reveal more than a search.
func (s *Server) visibleAccount(ctx context.Context, actor, target *auth.Account) (bool, error) {
	if actor.ID == target.ID {
		return true, nil
	}
	visible, err := s.policy.FilterSearch(ctx, actor, []auth.Account{*target})
	if err != nil {
		return false, err
	}
	return len(visible) == 1, nil
}

// handleCreateAccount creates a new unactivated account and dispatches its
// activation link.
//
// Creating an org_client whose handle already belongs to another org_client
// merges instead: the existing account gains a membership in the requested
// organisation. Any other handle collision is a conflict.
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}

	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if !auth.IsValidHandle(req.Handle) {
		writeBadRequest(w, "handle must be email-shaped and at most 128 characters")
		return
	}
	if !auth.IsValidRole(req.Role) {
		writeBadRequest(w, "unknown role")
		return
	}

	// Policy sees the organisation as requested; inheritance resolves the
	// placement only after the request has been allowed.
	if decision := s.policy.CanCreateAccount(actor, req.Role, req.OrgID); !decision.Allowed {
		s.recordFor(audit.ActionDenied, "account", "", actor, map[string]any{
			"reason": decision.Reason, "action": string(auth.ActionCreateAccount),
		})
		writeForbidden(w, "forbidden")
		return
	}

	orgID := s.policy.InheritedOrgID(actor, req.OrgID)

	account := &auth.Account{
		Handle:  req.Handle,
		Name:    req.Name,
		Surname: req.Surname,
		Role:    req.Role,
	}
	if req.Role != auth.RoleOrgClient {
		account.OrgID = orgID
	}

	err := s.accounts.Create(r.Context(), account)
	if errors.Is(err, auth.ErrHandleExists) && req.Role == auth.RoleOrgClient {
		s.mergeClientMembership(w, r, actor, req.Handle, orgID)
		return
	}
	if err != nil {
		if errors.Is(err, auth.ErrHandleExists) {
			writeConflict(w, "handle already exists")
			return
		}
		s.logger.Error("creating account failed", "error", err)
		writeInternalError(w, "failed to create account")
		return
	}

	if account.Role == auth.RoleOrgClient {
		if err := s.memberships.Add(r.Context(), orgID, account.ID); err != nil {
			s.logger.Error("adding initial membership failed", "account_id", account.ID, "error", err)
			writeInternalError(w, "failed to create account")
			return
		}
	}

	s.sendActivation(r.Context(), account)

	s.recordFor(audit.ActionAccountCreated, "account", account.ID, actor, map[string]any{
		"handle": account.Handle, "role": string(account.Role), "org_id": orgID,
	})

	writeJSON(w, http.StatusCreated, account)
}

// mergeClientMembership handles the idempotent org_client merge: the handle
// already names a client account, so the request degrades to a membership
// grant in the requested organisation.
func (s *Server) mergeClientMembership(w http.ResponseWriter, r *http.Request, actor *auth.Account, handle, orgID string) {
	existing, err := s.accounts.GetByHandle(r.Context(), handle)
	if err != nil {
		s.logger.Error("loading existing account for merge failed", "error", err)
		writeInternalError(w, "failed to create account")
		return
	}
	if existing.Role != auth.RoleOrgClient {
		writeConflict(w, "handle already exists")
		return
	}

	decision, err := s.policy.CanManageMembership(r.Context(), actor, existing, orgID)
	if err != nil {
		s.logger.Error("membership policy evaluation failed", "error", err)
		writeInternalError(w, "failed to create account")
		return
	}
	if !decision.Allowed {
		s.recordFor(audit.ActionDenied, "membership", existing.ID, actor, map[string]any{
			"reason": decision.Reason, "org_id": orgID,
		})
		writeForbidden(w, "forbidden")
		return
	}

	if err := s.memberships.Add(r.Context(), orgID, existing.ID); err != nil {
		s.logger.Error("merging membership failed", "account_id", existing.ID, "error", err)
		writeInternalError(w, "failed to create account")
		return
	}

	s.recordFor(audit.ActionMembershipAdded, "membership", existing.ID, actor, map[string]any{
		"org_id": orgID, "merged": true,
	})

	writeJSON(w, http.StatusOK, existing)
}

// sendActivation issues an activation token and dispatches the link.
// Failures are logged; the account exists either way and activation can be
// re-sent later.
func (s *Server) sendActivation(ctx context.Context, account *auth.Account) {
	token, err := s.manager.IssueActivationToken(ctx, account.ID)
	if err != nil {
		s.logger.Error("issuing activation token failed", "account_id", account.ID, "error", err)
		return
	}
	s.dispatch(s.links.Activation(account.Handle, token))
}

// handleSearchAccounts searches accounts by handle fragment, filtered to
// what the caller is allowed to see.
func (s *Server) handleSearchAccounts(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}

	if decision := s.policy.CanSearchAccounts(actor); !decision.Allowed {
		writeForbidden(w, "forbidden")
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		writeBadRequest(w, "q query parameter is required")
		return
	}

	matches, err := s.accounts.Search(r.Context(), query)
	if err != nil {
		s.logger.Error("account search failed", "error", err)
		writeInternalError(w, "search failed")
		return
	}

	visible, err := s.policy.FilterSearch(r.Context(), actor, matches)
	if err != nil {
		s.logger.Error("filtering search results failed", "error", err)
		writeInternalError(w, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": visible,
		"count":    len(visible),
	})
}

// handleGetAccount returns a single account. Accounts outside the caller's
// visibility read as absent rather than forbidden.
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}

	target, err := s.accounts.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			writeNotFound(w, "account not found")
			return
		}
		s.logger.Error("loading account failed", "error", err)
		writeInternalError(w, "failed to load account")
		return
	}

	ok, err := s.visibleAccount(r.Context(), actor, target)
	if err != nil {
		s.logger.Error("visibility check failed", "error", err)
		writeInternalError(w, "failed to load account")
		return
	}
	if !ok {
		writeNotFound(w, "account not found")
		return
	}

	orgs, err := s.accountOrgIDs(r.Context(), target)
	if err != nil {
		s.logger.Error("listing account orgs failed", "error", err)
		writeInternalError(w, "failed to load account")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account": target,
		"org_ids": orgs,
	})
}

// handleUpdateHandle changes an account's handle.
func (s *Server) handleUpdateHandle(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}

	var req updateHandleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if !auth.IsValidHandle(req.Handle) {
		writeBadRequest(w, "handle must be email-shaped and at most 128 characters")
		return
	}

	target, ok := s.modifiableTarget(w, r, actor, auth.ActionModifyHandle)
	if !ok {
		return
	}

	if err := s.accounts.UpdateHandle(r.Context(), target.ID, req.Handle); err != nil {
		if errors.Is(err, auth.ErrHandleExists) {
			writeConflict(w, "handle already exists")
			return
		}
		s.logger.Error("updating handle failed", "error", err)
		writeInternalError(w, "failed to update handle")
		return
	}

	s.recordFor(audit.ActionHandleUpdated, "account", target.ID, actor, map[string]any{
		"old_handle": target.Handle, "new_handle": auth.NormalizeHandle(req.Handle),
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "handle_updated"})
}

// handleUpdateProfile changes an account's name and surname.
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	target, ok := s.modifiableTarget(w, r, actor, auth.ActionModifyProfile)
	if !ok {
		return
	}

	if err := s.accounts.UpdateProfile(r.Context(), target.ID, req.Name, req.Surname); err != nil {
		s.logger.Error("updating profile failed", "error", err)
		writeInternalError(w, "failed to update profile")
		return
	}

	s.recordFor(audit.ActionProfileUpdated, "account", target.ID, actor, nil)

	writeJSON(w, http.StatusOK, map[string]string{"status": "profile_updated"})
}

// modifiableTarget loads the {id} target and runs the modification policy.
// On any failure the response has been written and ok is false. Targets the
// caller may not even see read as absent; visible but unmodifiable targets
// read as forbidden.
func (s *Server) modifiableTarget(w http.ResponseWriter, r *http.Request, actor *auth.Account, action auth.Action) (*auth.Account, bool) {
	target, err := s.accounts.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			writeNotFound(w, "account not found")
			return nil, false
		}
		s.logger.Error("loading target account failed", "error", err)
		writeInternalError(w, "request failed")
		return nil, false
	}

	visible, err := s.visibleAccount(r.Context(), actor, target)
	if err != nil {
		s.logger.Error("visibility check failed", "error", err)
		writeInternalError(w, "request failed")
		return nil, false
	}
	if !visible {
		writeNotFound(w, "account not found")
		return nil, false
	}

	decision, err := s.policy.CanModifyAccount(r.Context(), actor, target, action)
	if err != nil {
		s.logger.Error("modification policy evaluation failed", "error", err)
		writeInternalError(w, "request failed")
		return nil, false
	}
	if !decision.Allowed {
		s.recordFor(audit.ActionDenied, "account", target.ID, actor, map[string]any{
			"reason": decision.Reason, "action": string(action),
		})
		writeForbidden(w, "forbidden")
		return nil, false
	}

	return target, true
}

// handleDeleteAccount deletes an account, or degrades to a membership
// removal when an org-scoped actor targets a multi-org client.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}

	target, err := s.accounts.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			writeNotFound(w, "account not found")
			return
		}
		s.logger.Error("loading target account failed", "error", err)
		writeInternalError(w, "failed to delete account")
		return
	}

	mode, decision, err := s.policy.DecideDelete(r.Context(), actor, target)
	if err != nil {
		s.logger.Error("delete policy evaluation failed", "error", err)
		writeInternalError(w, "failed to delete account")
		return
	}

	switch mode {
	case auth.DeleteDenied:
		s.recordFor(audit.ActionDenied, "account", target.ID, actor, map[string]any{
			"reason": decision.Reason, "action": string(auth.ActionDeleteAccount),
		})
		writeForbidden(w, "forbidden")

	case auth.DeleteMembership:
		if err := s.memberships.Remove(r.Context(), actor.OrgID, target.ID); err != nil {
			s.logger.Error("removing membership failed", "account_id", target.ID, "error", err)
			writeInternalError(w, "failed to delete account")
			return
		}
		s.recordFor(audit.ActionMembershipRemoved, "membership", target.ID, actor, map[string]any{
			"org_id": actor.OrgID, "degraded_delete": true,
		})
		writeJSON(w, http.StatusOK, map[string]string{"status": "membership_removed"})

	case auth.DeleteFull:
		if err := s.manager.DeleteAccount(r.Context(), target.ID); err != nil {
			s.logger.Error("deleting account failed", "account_id", target.ID, "error", err)
			writeInternalError(w, "failed to delete account")
			return
		}
		s.recordFor(audit.ActionAccountDeleted, "account", target.ID, actor, map[string]any{
			"handle": target.Handle,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleResendActivation issues a fresh activation token for an account
// that has not yet activated.
func (s *Server) handleResendActivation(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}

	target, ok := s.modifiableTarget(w, r, actor, auth.ActionModifyProfile)
	if !ok {
		return
	}
	if target.Activated {
		writeConflict(w, "account is already activated")
		return
	}

	s.sendActivation(r.Context(), target)

	s.recordFor(audit.ActionActivationResent, "account", target.ID, actor, nil)

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "activation_sent"})
}

// handleListAccountOrgs lists the organisations an account belongs to.
func (s *Server) handleListAccountOrgs(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}

	target, err := s.accounts.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			writeNotFound(w, "account not found")
			return
		}
		s.logger.Error("loading target account failed", "error", err)
		writeInternalError(w, "request failed")
		return
	}

	visible, err := s.visibleAccount(r.Context(), actor, target)
	if err != nil {
		s.logger.Error("visibility check failed", "error", err)
		writeInternalError(w, "request failed")
		return
	}
	if !visible {
		writeNotFound(w, "account not found")
		return
	}

	orgs, err := s.accountOrgIDs(r.Context(), target)
	if err != nil {
		s.logger.Error("listing account orgs failed", "error", err)
		writeInternalError(w, "request failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"org_ids": orgs})
}

// handleAddMembership grants an org_client membership in an organisation.
func (s *Server) handleAddMembership(w http.ResponseWriter, r *http.Request) {
	s.handleMembershipChange(w, r, true)
}

// handleRemoveMembership revokes an org_client membership. The last
// membership cannot be removed; delete the account instead.
func (s *Server) handleRemoveMembership(w http.ResponseWriter, r *http.Request) {
	s.handleMembershipChange(w, r, false)
}

func (s *Server) handleMembershipChange(w http.ResponseWriter, r *http.Request, add bool) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}

	orgID := chi.URLParam(r, "orgID")

	target, err := s.accounts.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			writeNotFound(w, "account not found")
			return
		}
		s.logger.Error("loading target account failed", "error", err)
		writeInternalError(w, "request failed")
		return
	}

	if _, err := s.orgs.GetByID(r.Context(), orgID); err != nil {
		if errors.Is(err, auth.ErrOrgNotFound) {
			writeNotFound(w, "organization not found")
			return
		}
		s.logger.Error("loading organization failed", "error", err)
		writeInternalError(w, "request failed")
		return
	}

	decision, err := s.policy.CanManageMembership(r.Context(), actor, target, orgID)
	if err != nil {
		s.logger.Error("membership policy evaluation failed", "error", err)
		writeInternalError(w, "request failed")
		return
	}
	if !decision.Allowed {
		s.recordFor(audit.ActionDenied, "membership", target.ID, actor, map[string]any{
			"reason": decision.Reason, "org_id": orgID,
		})
		writeForbidden(w, "forbidden")
		return
	}

	if add {
		if err := s.memberships.Add(r.Context(), orgID, target.ID); err != nil {
			s.logger.Error("adding membership failed", "error", err)
			writeInternalError(w, "request failed")
			return
		}
		s.recordFor(audit.ActionMembershipAdded, "membership", target.ID, actor, map[string]any{
			"org_id": orgID,
		})
		writeJSON(w, http.StatusOK, map[string]string{"status": "membership_added"})
		return
	}

	if err := s.memberships.Remove(r.Context(), orgID, target.ID); err != nil {
		switch {
		case errors.Is(err, auth.ErrLastMembership):
			writeConflict(w, "cannot remove the last organization membership")
		case errors.Is(err, auth.ErrNotMember):
			writeNotFound(w, "account is not a member of this organization")
		default:
			s.logger.Error("removing membership failed", "error", err)
			writeInternalError(w, "request failed")
		}
		return
	}

	s.recordFor(audit.ActionMembershipRemoved, "membership", target.ID, actor, map[string]any{
		"org_id": orgID,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "membership_removed"})
}
