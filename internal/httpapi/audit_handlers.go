package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"maestro.org/internal/access"
	"maestro.org/internal/audit"
)

// handleAuditQuery serves the organization's audit trail. Reading it is gated
// on write access to analytics, which the static matrix grants to admins and
// owners only.
func (a *API) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	if err := a.access.Require(r.Context(), principal.UserID, principal.OrganizationID,
		access.ResourceAnalytics, access.PermissionWrite, ""); err != nil {
		handleAccessError(w, r, err)
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:       audit.Action(q.Get("action")),
		ResourceType: q.Get("resource_type"),
		UserID:       q.Get("user_id"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		filter.Since = since
	}
	if raw := q.Get("until"); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "until must be RFC 3339")
			return
		}
		filter.Until = until
	}

	entries, err := a.aud.Query(r.Context(), principal.OrganizationID, filter)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleAuditAlerts streams high-severity audit events for the principal's
// organization over SSE. Same gate as the audit query.
func (a *API) handleAuditAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	if err := a.access.Require(r.Context(), principal.UserID, principal.OrganizationID,
		access.ResourceAnalytics, access.PermissionWrite, ""); err != nil {
		handleAccessError(w, r, err)
		return
	}
	if a.alerts == nil {
		writeError(w, r, http.StatusNotFound, "alert stream is not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Long-lived response; lift the server write deadline for this request.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := a.alerts.Subscribe(r.Context())
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case evt, open := <-events:
			if !open {
				return
			}
			if evt.OrganizationID != principal.OrganizationID {
				continue
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: audit_alert\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
