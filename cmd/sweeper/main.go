package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"maestro.org/internal/audit"
	"maestro.org/internal/auth"
	"maestro.org/internal/envelope"
	"maestro.org/internal/keys"
	"maestro.org/internal/obs"
	"maestro.org/internal/retention"
)

func main() {
	obs.Init()

	interval := flag.Duration("interval", time.Hour, "time between sweep runs")
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

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
	defer db.Close()
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	auditLogger, err := audit.NewLogger(audit.NewPGSink(db))
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
	identity, err := auth.NewService(auth.NewPGStore(db))
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	svc, err := retention.NewService(
		retention.NewPGStore(db),
		identity,
		retention.NewAuditTrailResources(db),
		crypt,
		auditLogger,
	)
	if err != nil {
		log.Fatalf("retention: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Println("Shutting down...")
		cancel()
	}()

	sweep := func() {
		res, err := svc.RunSweep(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return
		case errors.Is(err, retention.ErrSweepInProgress):
			log.Println("sweep skipped: another sweeper holds the lease")
		case err != nil:
			log.Printf("sweep failed: %v", err)
		default:
			log.Printf("sweep done: deleted=%d backed_up=%d failed=%d", res.Deleted, res.BackedUp, res.Failed)
		}
	}

	sweep()
	if *once {
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("Stopped")
			return
		case <-ticker.C:
			sweep()
		}
	}
}
