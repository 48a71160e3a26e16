package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"sage-app/internal/api/handlers"
	"sage-app/internal/app"
	"sage-app/internal/config"
	"sage-app/internal/logger"
	"sage-app/internal/repository/db"
	"sage-app/internal/repository/memory"
	"sage-app/internal/repository/postgres"
	"sage-app/internal/service/llm"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	seedDemo       bool
	skipMigrations bool
)

func init() {
	serveCmd.Flags().BoolVar(&seedDemo, "seed-demo", true, "create the demo/demo123 user if missing")
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on start")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

// store is a db.Database that owns resources
type store interface {
	db.Database
	Close() error
}

func openStore(ctx context.Context, cfg *config.AppConfig) (store, error) {
	switch cfg.Database.Store {
	case config.StoreMemory:
		logger.Log.Warn("Using in-memory store; data is lost on restart")
		return memory.New(), nil
	case config.StorePostgres:
		if skipMigrations {
			return postgres.Open(ctx, cfg.Database)
		}
		return postgres.NewPostgresDB(ctx, cfg.Database)
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Database.Store)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	appConfig := app.NewConfig(database, llm.NewAnthropicClient(&cfg.LLM), cfg)

	if seedDemo {
		if err := appConfig.Auth.SeedDemoUser(ctx); err != nil {
			return fmt.Errorf("failed to seed demo user: %w", err)
		}
	}

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handlers.NewRouter(appConfig),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Log.WithFields(logrus.Fields{
			"port":             cfg.Server.Port,
			"store":            cfg.Database.Store,
			"chat_model":       cfg.Models.Chat.ID,
			"classifier_model": cfg.Models.Classifier.ID,
		}).Info("Server starting")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Log.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Log.Info("Server stopped")
	return nil
}
