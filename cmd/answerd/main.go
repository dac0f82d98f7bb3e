// Package main implements the answerd server binary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/auth"
	"github.com/fyrsmithlabs/answerd/internal/completion"
	"github.com/fyrsmithlabs/answerd/internal/config"
	"github.com/fyrsmithlabs/answerd/internal/embeddings"
	"github.com/fyrsmithlabs/answerd/internal/history"
	"github.com/fyrsmithlabs/answerd/internal/httpapi"
	"github.com/fyrsmithlabs/answerd/internal/logging"
	"github.com/fyrsmithlabs/answerd/internal/pipeline"
	"github.com/fyrsmithlabs/answerd/internal/telemetry"
	"github.com/fyrsmithlabs/answerd/internal/tenant"
	"github.com/fyrsmithlabs/answerd/internal/vectorstore"
)

var (
	// configPath points at the optional YAML config file.
	configPath string
	// version information, set via -ldflags at build time.
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "answerd",
	Short:   "Retrieval-augmented chat relay server",
	Long:    `answerd serves a chat API that augments each question with vector-search context before relaying it to the chat model.`,
	Version: version,
	RunE:    runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (optional)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx, cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	verifier, err := auth.NewVerifier(auth.Config{
		JWKSURL:  cfg.Auth.JWKSURL,
		Audience: cfg.Auth.Audience,
		Issuer:   cfg.Auth.Issuer,
	})
	if err != nil {
		return fmt.Errorf("creating token verifier: %w", err)
	}

	embedder, err := embeddings.NewService(embeddings.Config{
		APIKey:  cfg.Embeddings.APIKey.Value(),
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
		Timeout: cfg.Embeddings.Timeout.Duration(),
	}, logger)
	if err != nil {
		return fmt.Errorf("creating embedding service: %w", err)
	}

	searcher, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
		Host:    cfg.Search.Host,
		Port:    cfg.Search.Port,
		UseTLS:  cfg.Search.UseTLS,
		Timeout: cfg.Search.Timeout.Duration(),
	})
	if err != nil {
		return fmt.Errorf("creating vector store: %w", err)
	}
	defer searcher.Close()

	completer, err := completion.NewClient(completion.Config{
		APIKey:  cfg.Completion.APIKey.Value(),
		BaseURL: cfg.Completion.BaseURL,
		Model:   cfg.Completion.Model,
		Timeout: cfg.Completion.Timeout.Duration(),
	})
	if err != nil {
		return fmt.Errorf("creating completion client: %w", err)
	}

	driver, err := history.NewPostgresDriver(cfg.Database.DSN.Value())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	store := history.NewStore(driver)
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensuring database schema: %w", err)
	}

	resolver := tenant.NewResolver(cfg.Chat.IndexByTenant, cfg.Chat.DefaultIndex)

	p, err := pipeline.New(embedder, searcher, completer, resolver, pipeline.Config{
		VectorField:  cfg.Search.VectorField,
		SelectFields: cfg.Search.SelectFields,
		K:            cfg.Search.K,
		Top:          cfg.Search.Top,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	server, err := httpapi.NewServer(cfg, verifier, p, store, logger)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}

	logger.Info("server stopped")
	return nil
}
