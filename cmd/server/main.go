package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"
	"google.golang.org/api/option"

	"github.com/example/ride-dispatch/internal/audit"
	"github.com/example/ride-dispatch/internal/bulk"
	"github.com/example/ride-dispatch/internal/claims"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/directory"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/httpapi"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/store"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.FirestoreProject != "" {
		var opts []option.ClientOption
		if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
		fs, err := store.NewFirestoreStore(ctx, cfg.FirestoreProject, opts...)
		if err != nil {
			logger.Error("firestore init failed", "project", cfg.FirestoreProject, "error", err)
			os.Exit(1)
		}
		defer fs.Close()
		st = fs
	} else {
		logger.Warn("FIRESTORE_PROJECT not set, using in-memory store")
		st = store.NewMemoryStore()
	}

	colls := claims.Collections{
		Queue:   cfg.QueueCollection,
		Live:    cfg.LiveCollection,
		Claimed: cfg.ClaimedCollection,
	}
	claimSvc := claims.NewService(st, colls, logger)

	bulkSvc := bulk.NewService(st, logger)
	bulkSvc.Attempts = cfg.BulkAttempts
	bulkSvc.BaseDelay = cfg.BulkBaseDelay

	var cache directory.Cache
	if cfg.RedisAddr != "" {
		rc := directory.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.NameCacheTTL)
		defer rc.Close()
		cache = rc
	}
	dir := directory.New(st, cfg.UsersCollection, cache, logger)

	registry := notify.NewWSRegistry(logger)
	unsubscribe, err := st.Subscribe(cfg.LiveCollection, func(docs []store.Document) {
		registry.Broadcast(cfg.LiveCollection, docs)
	})
	if err != nil {
		logger.Error("live subscription failed", "collection", cfg.LiveCollection, "error", err)
		os.Exit(1)
	}
	defer unsubscribe()

	var publisher httpapi.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		publisher = producer
	}

	var recorder audit.Recorder = audit.Nop{}
	if cfg.PGDSN != "" {
		if os.Getenv("MIGRATE") == "true" {
			runMigrations(logger, cfg.PGDSN)
		}
		pg, err := audit.NewPostgresRecorder(cfg.PGDSN)
		if err != nil {
			logger.Error("audit store init failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		recorder = pg
	}

	notifier := notify.NewFanout(logger, registry)
	api := httpapi.NewServer(claimSvc, st, bulkSvc, registry, notifier, publisher, recorder, dir, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}

// runMigrations applies the audit-table migration when requested. Failures
// are logged but do not abort startup; the recorder surfaces them later.
func runMigrations(logger *slog.Logger, dsn string) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Warn("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_claim_audit.sql"))
	if err != nil {
		logger.Warn("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Warn("migration exec error", "error", err)
	}
}
