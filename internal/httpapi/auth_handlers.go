package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"maestro.org/internal/access"
	"maestro.org/internal/audit"
)

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token          string `json:"token"`
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
}

type createOrganizationRequest struct {
	Name               string `json:"name"`
	ComplianceMode     string `json:"compliance_mode"`
	EncryptionRequired bool   `json:"encryption_required"`
}

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	token, user, err := a.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	a.aud.Auth(r.Context(), audit.ActionLogin, user.OrganizationID, user.ID, audit.AuthMetadata{
		Email:   user.Email,
		Success: true,
	})
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:          token,
		UserID:         user.ID,
		OrganizationID: user.OrganizationID,
		Role:           string(user.Role),
	})
}

func (a *API) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req createOrganizationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org, err := a.identity.CreateOrganization(r.Context(), req.Name, req.ComplianceMode, req.EncryptionRequired)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/organizations/%s", org.ID))
	writeJSON(w, http.StatusCreated, org)
}

func (a *API) handleOrganizationScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/organizations/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "users" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	a.handleOrganizationUsers(w, r, parts[0])
}

func (a *API) handleOrganizationUsers(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	if principal.OrganizationID != orgID {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}
	if err := a.access.Require(r.Context(), principal.UserID, orgID, access.ResourceUser, access.PermissionWrite, ""); err != nil {
		handleAccessError(w, r, err)
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.identity.CreateUser(r.Context(), orgID, req.Email, req.Password, req.Role)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	a.aud.DataAccess(r.Context(), audit.ActionDataWrite, orgID, "user", user.ID, audit.DataAccessMetadata{
		Operation: "create",
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
	writeJSON(w, http.StatusCreated, user)
}
