package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/gatekeep-core/internal/audit"
	"github.com/nerrad567/gatekeep-core/internal/auth"
	"github.com/nerrad567/gatekeep-core/internal/events"
)

// auditChanSize is the buffer size for the async audit log channel.
// Entries beyond this are dropped (best-effort) to avoid back-pressure on requests.
const auditChanSize = 256

// record enqueues an audit log entry and publishes the matching security
// event. The actor may be nil for unauthenticated endpoints.
func (s *Server) record(action, entityType, entityID string, actor *auth.Identity, details map[string]any) {
	event := events.Event{
		Kind:    action,
		Details: details,
	}
	actorID := ""
	if actor != nil {
		actorID = actor.AccountID
		event.AccountID = actor.AccountID
		event.Handle = actor.Handle
		event.Role = string(actor.Role)
	}

	s.enqueueAudit(action, entityType, entityID, actorID, details)
	s.publish(event)
}

// recordFor is record for call sites that hold a full account rather than
// a session identity.
func (s *Server) recordFor(action, entityType, entityID string, actor *auth.Account, details map[string]any) {
	event := events.Event{
		Kind:    action,
		Details: details,
	}
	actorID := ""
	if actor != nil {
		actorID = actor.ID
		event.AccountID = actor.ID
		event.Handle = actor.Handle
		event.Role = string(actor.Role)
		event.OrgID = actor.OrgID
	}

	s.enqueueAudit(action, entityType, entityID, actorID, details)
	s.publish(event)
}

// enqueueAudit hands an entry to the async audit writer (best-effort).
// If the channel is full the entry is dropped and a warning is logged.
func (s *Server) enqueueAudit(action, entityType, entityID, actorID string, details map[string]any) {
	if s.auditRepo == nil || s.auditCh == nil {
		return
	}

	entry := &audit.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Source:     "api",
		Details:    details,
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit log channel full, dropping entry",
			"action", action,
			"entity_type", entityType,
		)
	}
}

// publish forwards a security event to the configured sinks.
func (s *Server) publish(event events.Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(event)
}

// drainAuditLog reads entries from the audit channel and writes them serially.
// This avoids unbounded goroutine creation and is kinder to SQLite's serial write model.
// It runs until the context is cancelled, then drains remaining entries.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case entry := <-s.auditCh:
			if err := s.auditRepo.Create(context.Background(), entry); err != nil {
				s.logger.Error("audit log write failed",
					"action", entry.Action,
					"entity_type", entry.EntityType,
					"error", err,
				)
			}
		case <-ctx.Done():
			// Drain remaining entries before exiting
			for {
				select {
				case entry := <-s.auditCh:
					if err := s.auditRepo.Create(context.Background(), entry); err != nil {
						s.logger.Error("audit log write failed during shutdown",
							"action", entry.Action,
							"error", err,
						)
					}
				default:
					return
				}
			}
		}
	}
}

// handleListAuditLogs returns paginated audit log entries with optional filters.
//
// Query parameters:
//   - action: filter by action type (login, denied, account_created, ...)
//   - entity_type: filter by entity type (account, org, membership, session)
//   - entity_id: filter by specific entity ID
//   - actor_id: filter by the acting account
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeInternalError(w, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		ActorID:    q.Get("actor_id"),
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
