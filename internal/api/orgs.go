package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gatekeep-core/internal/audit"
	"github.com/nerrad567/gatekeep-core/internal/auth"
)

type orgRequest struct {
	Name string `json:"name"`
}

// handleListOrgs returns all organisations, optionally filtered by a name
// fragment via the q query parameter.
func (s *Server) handleListOrgs(w http.ResponseWriter, r *http.Request) {
	var (
		orgs []auth.Organization
		err  error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		orgs, err = s.orgs.Search(r.Context(), q)
	} else {
		orgs, err = s.orgs.List(r.Context())
	}
	if err != nil {
		s.logger.Error("listing organizations failed", "error", err)
		writeInternalError(w, "failed to list organizations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"orgs":  orgs,
		"count": len(orgs),
	})
}

// handleCreateOrg creates a new organisation. System admin only.
func (s *Server) handleCreateOrg(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}
	if actor.Role != auth.RoleAdmin {
		s.recordFor(audit.ActionDenied, "org", "", actor, map[string]any{
			"action": "org:create",
		})
		writeForbidden(w, "forbidden")
		return
	}

	var req orgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}

	org := &auth.Organization{Name: req.Name}
	if err := s.orgs.Create(r.Context(), org); err != nil {
		if errors.Is(err, auth.ErrOrgNameExists) {
			writeConflict(w, "organization name already exists")
			return
		}
		s.logger.Error("creating organization failed", "error", err)
		writeInternalError(w, "failed to create organization")
		return
	}

	s.recordFor(audit.ActionOrgCreated, "org", org.ID, actor, map[string]any{
		"name": org.Name,
	})

	writeJSON(w, http.StatusCreated, org)
}

// handleGetOrg returns a single organisation.
func (s *Server) handleGetOrg(w http.ResponseWriter, r *http.Request) {
	org, err := s.orgs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, auth.ErrOrgNotFound) {
			writeNotFound(w, "organization not found")
			return
		}
		s.logger.Error("loading organization failed", "error", err)
		writeInternalError(w, "failed to load organization")
		return
	}

	writeJSON(w, http.StatusOK, org)
}

// handleRenameOrg changes an organisation's display name. Org admins may
// rename their own organisation; system admins rename any.
func (s *Server) handleRenameOrg(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}

	orgID := chi.URLParam(r, "id")

	var req orgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}

	if decision := s.policy.CanManageOrg(actor, orgID, auth.ActionModifyOrg); !decision.Allowed {
		s.recordFor(audit.ActionDenied, "org", orgID, actor, map[string]any{
			"reason": decision.Reason, "action": string(auth.ActionModifyOrg),
		})
		writeForbidden(w, "forbidden")
		return
	}

	if err := s.orgs.Rename(r.Context(), orgID, req.Name); err != nil {
		switch {
		case errors.Is(err, auth.ErrOrgNotFound):
			writeNotFound(w, "organization not found")
		case errors.Is(err, auth.ErrOrgNameExists):
			writeConflict(w, "organization name already exists")
		default:
			s.logger.Error("renaming organization failed", "error", err)
			writeInternalError(w, "failed to rename organization")
		}
		return
	}

	s.recordFor(audit.ActionOrgUpdated, "org", orgID, actor, map[string]any{
		"name": req.Name,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "org_renamed"})
}

// handleDeleteOrg removes an organisation. System admin only; the policy
// engine enforces that even for org admins targeting their own organisation.
func (s *Server) handleDeleteOrg(w http.ResponseWriter, r *http.Request) {
	actor := s.actor(w, r)
	if actor == nil {
		return
	}

	orgID := chi.URLParam(r, "id")

	if decision := s.policy.CanManageOrg(actor, orgID, auth.ActionDeleteOrg); !decision.Allowed {
		s.recordFor(audit.ActionDenied, "org", orgID, actor, map[string]any{
			"reason": decision.Reason, "action": string(auth.ActionDeleteOrg),
		})
		writeForbidden(w, "forbidden")
		return
	}

	if err := s.orgs.Delete(r.Context(), orgID); err != nil {
		if errors.Is(err, auth.ErrOrgNotFound) {
			writeNotFound(w, "organization not found")
			return
		}
		s.logger.Error("deleting organization failed", "error", err)
		writeInternalError(w, "failed to delete organization")
		return
	}

	s.recordFor(audit.ActionOrgDeleted, "org", orgID, actor, nil)

	w.WriteHeader(http.StatusNoContent)
}
