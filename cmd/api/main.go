package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"maestro.org/internal/access"
	"maestro.org/internal/alert"
	"maestro.org/internal/audit"
	"maestro.org/internal/auth"
	"maestro.org/internal/envelope"
	"maestro.org/internal/gdpr"
	"maestro.org/internal/httpapi"
	"maestro.org/internal/keys"
	"maestro.org/internal/obs"
	"maestro.org/internal/retention"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	// The master key is mandatory. Booting without it would mint keys nobody
	// can ever unwrap, so refuse to start instead.
	master, err := keys.LoadMasterKey()
	if err != nil {
		log.Fatalf("master key: %v", err)
	}

	dsn := os.Getenv("MAESTRO_PG_DSN")
	if dsn == "" {
		log.Fatal("missing MAESTRO_PG_DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	alerts := alert.NewHub()
	auditLogger, err := audit.NewLogger(audit.NewPGSink(db), audit.WithAlertHub(alerts))
	if err != nil {
		log.Fatalf("audit: %v", err)
	}

	keyManager, err := keys.NewManager(keys.NewPGStore(db), master, keys.WithAuditLogger(auditLogger))
	if err != nil {
		log.Fatalf("keys: %v", err)
	}
	crypt, err := envelope.NewService(keyManager)
	if err != nil {
		log.Fatalf("envelope: %v", err)
	}

	identityStore := auth.NewPGStore(db)
	identity, err := auth.NewService(identityStore)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	accessSvc, err := access.NewService(identity, access.NewPGStore(db), auditLogger)
	if err != nil {
		log.Fatalf("access: %v", err)
	}

	retentionSvc, err := retention.NewService(
		retention.NewPGStore(db),
		identity,
		retention.NewAuditTrailResources(db),
		crypt,
		auditLogger,
	)
	if err != nil {
		log.Fatalf("retention: %v", err)
	}

	gdprSvc, err := gdpr.NewService(
		gdpr.NewPGStore(db),
		gdpr.NewDirectoryVault(identityStore),
		accessSvc,
		retentionSvc,
		auditLogger,
	)
	if err != nil {
		log.Fatalf("gdpr: %v", err)
	}

	api := httpapi.New(httpapi.Config{
		Ready:     httpapi.ReadyProbe{DB: db},
		Version:   version,
		Identity:  identity,
		Access:    accessSvc,
		Audit:     auditLogger,
		Alerts:    alerts,
		GDPR:      gdprSvc,
		Retention: retentionSvc,
	})

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting maestro-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = db.Close()
	log.Println("Stopped")
}
