package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/goal-arbiter/internal/api"
	"github.com/talgya/goal-arbiter/internal/persistence"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session over HTTP",
	Long: `Starts the HTTP API on ARBITER_API_PORT.

GET  /api/v1/status, /actions, /decision, /history, /runs, /runs/:id, /policy
POST /api/v1/step, /reset, /run, /policy   (Authorization: Bearer $ARBITER_ADMIN_KEY)`,
	Args: cobra.NoArgs,
	RunE: serve,
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sess, sc, err := newSession(cfg)
	if err != nil {
		return err
	}

	// ── Database ──────────────────────────────────────────────────────
	var db *persistence.DB
	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return fmt.Errorf("create db dir: %w", err)
		}
		db, err = persistence.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		slog.Info("database opened", "path", cfg.DBPath)
	}

	if cfg.AdminKey == "" {
		slog.Warn("ARBITER_ADMIN_KEY not set; admin POST endpoints will be disabled")
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	srv := &api.Server{
		Session:  sess,
		DB:       db,
		Port:     cfg.APIPort,
		AdminKey: cfg.AdminKey,
		MaxSteps: cfg.MaxSteps,
	}
	srv.Start()

	slog.Info("session ready", "scenario", sc.Name, "goals", len(sc.Goals), "actions", len(sc.Actions))
	fmt.Fprintf(cmd.OutOrStdout(), "API: http://localhost:%d/api/v1/status\n", cfg.APIPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	slog.Info("received signal, shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
