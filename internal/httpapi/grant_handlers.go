package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"maestro.org/internal/access"
)

type createGrantRequest struct {
	UserID       string     `json:"user_id"`
	ResourceType string     `json:"resource_type"`
	ResourceID   string     `json:"resource_id"`
	Permission   string     `json:"permission"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

func (a *API) handleGrants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req createGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	resource, err := access.ParseResourceType(req.ResourceType)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	// Issuing a grant requires admin control over the resource type.
	if err := a.access.Require(r.Context(), principal.UserID, principal.OrganizationID,
		resource, access.PermissionAdmin, req.ResourceID); err != nil {
		handleAccessError(w, r, err)
		return
	}
	grant, err := a.access.Grant(r.Context(), access.Grant{
		UserID:         req.UserID,
		OrganizationID: principal.OrganizationID,
		ResourceType:   resource,
		ResourceID:     req.ResourceID,
		Permission:     access.Permission(req.Permission),
		GrantedBy:      principal.UserID,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/grants/%s", grant.ID))
	writeJSON(w, http.StatusCreated, grant)
}

func (a *API) handleGrantResource(w http.ResponseWriter, r *http.Request) {
	grantID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/grants/"), "/")
	if grantID == "" || strings.Contains(grantID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	// Revocation is gated on admin control of the user resource class.
	if err := a.access.Require(r.Context(), principal.UserID, principal.OrganizationID,
		access.ResourceUser, access.PermissionAdmin, ""); err != nil {
		handleAccessError(w, r, err)
		return
	}
	if err := a.access.Revoke(r.Context(), principal.OrganizationID, grantID, principal.UserID); err != nil {
		handleAccessError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePermissionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	resource, err := access.ParseResourceType(q.Get("resource_type"))
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	perm, err := access.ParsePermission(q.Get("permission"))
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	decision, err := a.access.Check(r.Context(), principal.UserID, principal.OrganizationID,
		resource, perm, q.Get("resource_id"))
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}
