package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"maestro.org/internal/audit"
	"maestro.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/token",
	"/v1/organizations",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// withAuth resolves the bearer token into a Principal and attaches request
// metadata for the audit layer. Requests without a valid identity get 401 on
// every non-public path.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		role, err := auth.ParseRole(claims.Role)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		principal := auth.Principal{
			UserID:         claims.Subject,
			OrganizationID: claims.OrganizationID,
			Role:           role,
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = audit.WithRequestMeta(ctx, audit.RequestMeta{
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
			SessionID: claims.ID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// principal returns the authenticated identity or writes a 401.
func (a *API) principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return auth.Principal{}, false
	}
	return p, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
