package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/playhistoric/chronoquiz/internal/catalog"
	"github.com/playhistoric/chronoquiz/internal/config"
	"github.com/playhistoric/chronoquiz/internal/database"
	"github.com/playhistoric/chronoquiz/internal/migrations"
	"github.com/playhistoric/chronoquiz/internal/server"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath)

	// --- Event catalog ---
	cat, err := catalog.Load()
	if err != nil {
		return fmt.Errorf("loading event catalog: %w", err)
	}
	logger.Info("event catalog loaded", "categories", len(cat.Keys()))

	// --- Game components ---
	store := server.NewSQLiteStore(db)
	mm := server.NewMatchmaker(logger)
	coord := server.NewCoordinator(logger, store, cat)
	learn := server.NewLearningManager(logger, store, cat)
	mm.SetMatchCallback(coord.StartMatch)

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, db, store, cat, cfg.JWTSecret, mm, coord, learn)

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		mm.Run(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}
