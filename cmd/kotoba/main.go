package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/conorfennell/kotoba/internal/config"
	"github.com/conorfennell/kotoba/internal/importer"
	"github.com/conorfennell/kotoba/internal/notify"
	"github.com/conorfennell/kotoba/internal/review"
	"github.com/conorfennell/kotoba/internal/schedule"
	"github.com/conorfennell/kotoba/internal/stats"
	"github.com/conorfennell/kotoba/internal/storage"
	"github.com/conorfennell/kotoba/internal/sweep"
	"github.com/conorfennell/kotoba/internal/web"
)

func main() {
	flags := flag.NewFlagSet("kotoba", flag.ExitOnError)
	configPath := flags.String("config", "", "Path to the yaml config file")
	flags.String("db", "kotoba.db", "Path to the SQLite database file")
	flags.String("listen", "127.0.0.1:8990", "Address to listen on")
	flags.String("timezone", "Asia/Tokyo", "Timezone for day boundaries and reminder times")
	flags.String("repos_dir", "repos", "Directory where git vocabulary sources are checked out")
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	loc, err := cfg.Location()
	if err != nil {
		slog.Error("Failed to resolve timezone", "error", err)
		os.Exit(1)
	}

	db, err := storage.Open(cfg.DB)
	if err != nil {
		slog.Error("Failed to open database", "db", cfg.DB, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("Database opened", "db", cfg.DB)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Pull in any configured vocabulary sources before serving, so the first
	// sweep of the day sees everything.
	if err := importer.Run(ctx, db, cfg.ReposDir); err != nil {
		slog.Error("Initial import failed, continuing with existing items", "error", err)
	}

	policy := &schedule.Policy{Intervals: cfg.Intervals, Location: loc}
	tracker := stats.NewTracker(db)
	manager := review.NewManager(tracker, db, review.Config{
		IdleTimeout:  cfg.SessionTimeout,
		RejectActive: cfg.RejectActive,
	})
	go manager.Run(ctx)

	sweeper, err := sweep.New(db, notify.LogNotifier{}, manager, policy, sweep.Config{
		ReminderAt:  cfg.ReminderAt,
		NudgeAt:     cfg.NudgeAt,
		SnoozeAfter: cfg.SnoozeAfter,
	})
	if err != nil {
		slog.Error("Failed to configure sweeper", "error", err)
		os.Exit(1)
	}
	go sweeper.Run(ctx)

	server := web.NewServer(db, manager, sweeper, policy, web.Options{
		QuizSize: cfg.QuizSize,
		QuizBias: cfg.QuizBias,
		ReposDir: cfg.ReposDir,
	})
	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: server,
	}

	go func() {
		<-ctx.Done()
		slog.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown failed", "error", err)
		}
	}()

	slog.Info("Listening", "addr", cfg.Listen, "tz", cfg.Timezone)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
