package httpapi

import (
	"net/http"
	"strings"

	"maestro.org/internal/access"
	"maestro.org/internal/retention"
)

type setPolicyRequest struct {
	ResourceType       string `json:"resource_type"`
	RetentionDays      int    `json:"retention_days"`
	AutoDelete         bool   `json:"auto_delete"`
	EncryptionRequired bool   `json:"encryption_required"`
	BackupRequired     bool   `json:"backup_required"`
}

type scheduleDeletionRequest struct {
	ResourceType  string `json:"resource_type"`
	ResourceID    string `json:"resource_id"`
	RetentionDays int    `json:"retention_days"`
}

type extendRetentionRequest struct {
	AdditionalDays int `json:"additional_days"`
}

func (a *API) handleRetentionPolicies(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		if err := a.access.Require(r.Context(), principal.UserID, principal.OrganizationID,
			access.ResourceCompany, access.PermissionRead, ""); err != nil {
			handleAccessError(w, r, err)
			return
		}
		policies, err := a.retention.ListPolicies(r.Context(), principal.OrganizationID)
		if err != nil {
			handleRetentionError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"policies": policies})
	case http.MethodPut:
		// Changing retention is an organization security-policy change.
		if err := a.access.Require(r.Context(), principal.UserID, principal.OrganizationID,
			access.ResourceCompany, access.PermissionDelete, ""); err != nil {
			handleAccessError(w, r, err)
			return
		}
		var req setPolicyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		policy, err := a.retention.SetPolicy(r.Context(), retention.Policy{
			OrganizationID:     principal.OrganizationID,
			ResourceType:       req.ResourceType,
			RetentionDays:      req.RetentionDays,
			AutoDelete:         req.AutoDelete,
			EncryptionRequired: req.EncryptionRequired,
			BackupRequired:     req.BackupRequired,
		})
		if err != nil {
			handleRetentionError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, policy)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handleRetentionDeletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req scheduleDeletionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	resource, err := access.ParseResourceType(req.ResourceType)
	if err != nil && req.ResourceType != retention.ResourceAuditLog {
		handleAccessError(w, r, err)
		return
	}
	// Scheduling a deletion requires delete permission on the resource type;
	// the audit trail class maps onto analytics for gating purposes.
	gate := resource
	if req.ResourceType == retention.ResourceAuditLog {
		gate = access.ResourceAnalytics
	}
	if err := a.access.Require(r.Context(), principal.UserID, principal.OrganizationID,
		gate, access.PermissionDelete, req.ResourceID); err != nil {
		handleAccessError(w, r, err)
		return
	}
	d, err := a.retention.ScheduleDeletion(r.Context(), principal.OrganizationID,
		req.ResourceType, req.ResourceID, req.RetentionDays)
	if err != nil {
		handleRetentionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (a *API) handleRetentionDeletionResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/retention/deletions/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "extend" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	if err := a.access.Require(r.Context(), principal.UserID, principal.OrganizationID,
		access.ResourceCompany, access.PermissionDelete, ""); err != nil {
		handleAccessError(w, r, err)
		return
	}
	var req extendRetentionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	d, err := a.retention.ExtendRetention(r.Context(), principal.OrganizationID, parts[0], req.AdditionalDays)
	if err != nil {
		handleRetentionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
