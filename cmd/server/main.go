package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"sangue/internal/docstore"
	donationmetrics "sangue/internal/donation/metrics"
	"sangue/internal/donation/models"
	"sangue/internal/donation/seed"
	"sangue/internal/donation/service"
	"sangue/internal/notify"
	"sangue/internal/platform/config"
	"sangue/internal/platform/httpserver"
	"sangue/internal/platform/logger"
	"sangue/internal/platform/tracing"
)

// main wires the store, the donation service and its HTTP surface, and the
// change feed that announces new campaigns. Business logic lives in the
// internal service packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	store, db, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	collections := models.Collections{
		Campaigns:     cfg.Collections.Campaigns,
		Donors:        cfg.Collections.Donors,
		FamilyMembers: cfg.Collections.FamilyMembers,
		Notifications: cfg.Collections.Notifications,
	}
	svc := service.New(docstore.NewTraced(store),
		service.WithLogger(log),
		service.WithMetrics(donationmetrics.New()),
		service.WithCollections(collections),
	)

	seeds, err := seed.Load(cfg.Store.SeedDir,
		collections.Campaigns, collections.Donors, collections.FamilyMembers, collections.Notifications)
	if err != nil {
		return err
	}
	if err := svc.Init(ctx, seeds); err != nil {
		return fmt.Errorf("initialize collections: %w", err)
	}

	notifier, err := newNotifier(store, collections, cfg.Email, log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	workers, err := startChangeFeed(gctx, g, cfg, store, db, collections.Campaigns, notifier, log)
	defer workers.Close()
	if err != nil {
		return err
	}

	srv := httpserver.New(cfg.Server.Addr, newRouter(svc, cfg.Server, log))
	g.Go(func() error {
		log.Info("starting sangue", "addr", cfg.Server.Addr, "store", cfg.Store.Driver)
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout)
	})

	return g.Wait()
}

// openStore connects the configured document store. db is nil unless the
// store is PostgreSQL. The returned close function releases its connections.
func openStore(ctx context.Context, cfg config.Store) (docstore.Store, *sql.DB, func(), error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		store := docstore.NewPostgres(db)
		if err := store.Bootstrap(ctx); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		return store, db, func() { _ = db.Close() }, nil
	default:
		return docstore.NewInMemory(), nil, func() {}, nil
	}
}

func newNotifier(store docstore.Store, collections models.Collections, cfg config.Email, log *slog.Logger) (*notify.Notifier, error) {
	var sender notify.Sender = notify.NewLogSender(log)
	if cfg.ResendAPIKey != "" {
		sender = notify.NewBreakerSender(notify.NewResendSender(cfg.ResendAPIKey, cfg.From), 5, time.Minute)
	}
	blobs, err := notify.NewHTTPBlobFetcher(cfg.BlobBaseURL, cfg.FetchTimeout)
	if err != nil {
		return nil, err
	}
	return notify.New(store, collections, sender,
		notify.WithBlobFetcher(blobs),
		notify.WithLogger(log),
	), nil
}
