package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/M-sasank/finsight/internal/api"
	"github.com/M-sasank/finsight/internal/auth"
	"github.com/M-sasank/finsight/internal/cache"
	"github.com/M-sasank/finsight/internal/completion"
	"github.com/M-sasank/finsight/internal/config"
	"github.com/M-sasank/finsight/internal/prompt"
	"github.com/M-sasank/finsight/internal/refresher"
	"github.com/M-sasank/finsight/internal/service"
	"github.com/M-sasank/finsight/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx)
	},
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openBlobStore returns the configured blob cache and a func releasing it.
func openBlobStore(cfg config.CacheConfig) (cache.BlobStore, func() error, error) {
	if cfg.Backend == config.CacheRedis {
		rs, err := cache.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return rs, rs.Close, nil
	}
	fs, err := cache.NewFileStore(cfg.Dir)
	if err != nil {
		return nil, nil, err
	}
	return fs, func() error { return nil }, nil
}

// app is the wired server: the HTTP handler and the background refresher.
type app struct {
	handler http.Handler
	worker  *refresher.Worker
}

func buildApp(cfg config.Config, store *storage.Store, blobs cache.BlobStore, logger *slog.Logger) (*app, error) {
	tpl, err := prompt.Default()
	if err != nil {
		return nil, fmt.Errorf("loading prompts: %w", err)
	}
	issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret)
	if err != nil {
		return nil, err
	}

	client := completion.NewClient(completion.Config{
		BaseURL:       cfg.Completion.BaseURL,
		APIKey:        cfg.Completion.APIKey,
		FastModel:     cfg.Completion.FastModel,
		DeepModel:     cfg.Completion.DeepModel,
		Timeout:       cfg.Completion.Timeout,
		DeepTimeout:   cfg.Completion.DeepTimeout,
		SearchDomains: cfg.Completion.SearchDomainList(),
		Logger:        logger,
	})

	deps := service.Deps{
		Store:     store,
		Completer: client,
		Prompts:   prompt.NewAssembler(tpl, store),
		Models: service.Models{
			Fast:          client.FastModel(),
			Deep:          client.DeepModel(),
			SearchDomains: client.SearchDomains(),
		},
		Logger: logger,
	}
	assets := service.NewAssetService(deps, cfg.Freshness.Asset)

	handler := api.NewHandler(api.Deps{
		Assets:          assets,
		Risk:            service.NewRiskService(deps, cfg.Freshness.Risk),
		News:            service.NewNewsService(deps, blobs, cfg.Freshness.News),
		Recommendations: service.NewRecommendationService(deps, blobs, cfg.Freshness.Recommendation),
		Chat:            service.NewChatService(deps),
		AssetChat:       service.NewAssetChatService(deps),
		Tokens:          issuer,
		AllowedOrigins:  api.SplitOrigins(cfg.CORS.AllowedOrigins),
		Logger:          logger,
	})

	worker := refresher.NewWorker(store, assets, cfg.Refresher.Interval, cfg.Refresher.BatchSize)
	worker.SetLogger(logger)
	return &app{handler: handler, worker: worker}, nil
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireServeSecrets(); err != nil {
		return err
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	logger.Info("starting finsight", "version", version)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing storage", "error", err)
		}
	}()

	blobs, closeBlobs, err := openBlobStore(cfg.Cache)
	if err != nil {
		return fmt.Errorf("opening %s cache: %w", cfg.Cache.Backend, err)
	}
	defer func() {
		if err := closeBlobs(); err != nil {
			logger.Warn("closing cache", "error", err)
		}
	}()

	a, err := buildApp(cfg, store, blobs, logger)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		a.worker.Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "cache", cfg.Cache.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	<-workerDone
	return err
}
