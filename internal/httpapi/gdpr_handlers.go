package httpapi

import (
	"net/http"
	"strings"

	"maestro.org/internal/gdpr"
)

type exportRequest struct {
	UserID string `json:"user_id"`
	Format string `json:"format"`
}

type deletionRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

type deletionConfirmRequest struct {
	DeletionRequestID string `json:"deletion_request_id"`
	ConfirmationCode  string `json:"confirmation_code"`
}

func (a *API) handleGDPRExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req exportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = principal.UserID
	}
	export, err := a.gdpr.Export(r.Context(), principal.UserID, userID,
		principal.OrganizationID, gdpr.ExportFormat(req.Format))
	if err != nil {
		handleGDPRError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

func (a *API) handleGDPRExportHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = principal.UserID
	}
	records, err := a.gdpr.ListExports(r.Context(), principal.UserID, userID, principal.OrganizationID)
	if err != nil {
		handleGDPRError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exports": records,
		"count":   len(records),
	})
}

func (a *API) handleGDPRDeletion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req deletionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = principal.UserID
	}
	dr, err := a.gdpr.RequestDeletion(r.Context(), principal.UserID, userID,
		principal.OrganizationID, req.Reason)
	if err != nil {
		handleGDPRError(w, r, err)
		return
	}
	// The confirmation code is returned exactly once, at creation.
	writeJSON(w, http.StatusCreated, map[string]any{
		"request":           dr,
		"confirmation_code": dr.ConfirmationCode,
	})
}

func (a *API) handleGDPRDeletionConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req deletionConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	dr, err := a.gdpr.ConfirmDeletion(r.Context(), principal.OrganizationID,
		req.DeletionRequestID, req.ConfirmationCode)
	if err != nil {
		handleGDPRError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dr)
}
