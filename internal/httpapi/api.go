package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"maestro.org/internal/access"
	"maestro.org/internal/alert"
	"maestro.org/internal/audit"
	"maestro.org/internal/auth"
	"maestro.org/internal/gdpr"
	"maestro.org/internal/obs"
	"maestro.org/internal/retention"
)

// ReadyProbe reports whether the service can take traffic (e.g. DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// IdentityService is the slice of the auth service the boundary needs.
type IdentityService interface {
	Login(ctx context.Context, email, password string) (string, *auth.User, error)
	CreateOrganization(ctx context.Context, name, complianceMode string, encryptionRequired bool) (*auth.Organization, error)
	CreateUser(ctx context.Context, organizationID, email, password, role string) (*auth.User, error)
}

// AccessService evaluates permissions and maintains the grant ledger.
type AccessService interface {
	Check(ctx context.Context, userID, organizationID string, resource access.ResourceType, perm access.Permission, resourceID string) (access.Decision, error)
	Require(ctx context.Context, userID, organizationID string, resource access.ResourceType, perm access.Permission, resourceID string) error
	Grant(ctx context.Context, grant access.Grant) (*access.Grant, error)
	Revoke(ctx context.Context, organizationID, grantID, revokedBy string) error
}

// GDPRService runs export and erasure workflows.
type GDPRService interface {
	Export(ctx context.Context, requestedBy, userID, organizationID string, format gdpr.ExportFormat) (*gdpr.Export, error)
	ListExports(ctx context.Context, requestedBy, userID, organizationID string) ([]gdpr.ExportRecord, error)
	RequestDeletion(ctx context.Context, requestedBy, userID, organizationID, reason string) (*gdpr.DeletionRequest, error)
	ConfirmDeletion(ctx context.Context, organizationID, requestID, confirmationCode string) (*gdpr.DeletionRequest, error)
}

// RetentionService manages policies and the deletion schedule.
type RetentionService interface {
	ListPolicies(ctx context.Context, organizationID string) ([]retention.Policy, error)
	SetPolicy(ctx context.Context, policy retention.Policy) (*retention.Policy, error)
	ScheduleDeletion(ctx context.Context, organizationID, resourceType, resourceID string, retentionDays int) (*retention.ScheduledDeletion, error)
	ExtendRetention(ctx context.Context, organizationID, deletionID string, additionalDays int) (*retention.ScheduledDeletion, error)
}

// Config carries the collaborators the API serves.
type Config struct {
	Ready     ReadyProbe
	Version   string
	Identity  IdentityService
	Access    AccessService
	Audit     *audit.Logger
	Alerts    *alert.Hub
	GDPR      GDPRService
	Retention RetentionService
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	identity   IdentityService
	access     AccessService
	aud        *audit.Logger
	alerts     *alert.Hub
	gdpr       GDPRService
	retention  RetentionService
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: cfg.Ready,
		version:    cfg.Version,
		identity:   cfg.Identity,
		access:     cfg.Access,
		aud:        cfg.Audit,
		alerts:     cfg.Alerts,
		gdpr:       cfg.GDPR,
		retention:  cfg.Retention,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// identity
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/v1/organizations", a.handleOrganizations)
	a.mux.HandleFunc("/v1/organizations/", a.handleOrganizationScoped)

	// access control
	a.mux.HandleFunc("/v1/grants", a.handleGrants)
	a.mux.HandleFunc("/v1/grants/", a.handleGrantResource)
	a.mux.HandleFunc("/v1/permissions/check", a.handlePermissionCheck)

	// audit
	a.mux.HandleFunc("/v1/audit", a.handleAuditQuery)
	a.mux.HandleFunc("/v1/audit/alerts", a.handleAuditAlerts)

	// gdpr
	a.mux.HandleFunc("/v1/gdpr/export", a.handleGDPRExport)
	a.mux.HandleFunc("/v1/gdpr/exports", a.handleGDPRExportHistory)
	a.mux.HandleFunc("/v1/gdpr/deletion", a.handleGDPRDeletion)
	a.mux.HandleFunc("/v1/gdpr/deletion/confirm", a.handleGDPRDeletionConfirm)

	// retention
	a.mux.HandleFunc("/v1/retention/policies", a.handleRetentionPolicies)
	a.mux.HandleFunc("/v1/retention/deletions", a.handleRetentionDeletions)
	a.mux.HandleFunc("/v1/retention/deletions/", a.handleRetentionDeletionResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 50, 25)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}
