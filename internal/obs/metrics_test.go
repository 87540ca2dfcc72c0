package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                          "/",
		"/metrics":                  "/metrics",
		"/v1/grants/abc":            "/v1/grants/:id",
		"/v1/users/abc/exports":     "/v1/users/:id/exports",
		"/v1/gdpr/export":           "/v1/gdpr/export",
		"/v1/audit?limit=10":        "/v1/audit",
		"/v1/retention/policies":    "/v1/retention/policies",
		"/v1/organizations/org-1":   "/v1/organizations/:id",
		"/v1/permissions/check":     "/v1/permissions/check",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
