// Package main is the entry point for the video downloader API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emanuelef/yt-downloader/internal/config"
	"github.com/emanuelef/yt-downloader/internal/infra/cache"
	"github.com/emanuelef/yt-downloader/internal/infra/fs"
	"github.com/emanuelef/yt-downloader/internal/infra/r2"
	"github.com/emanuelef/yt-downloader/internal/infra/sqlite"
	"github.com/emanuelef/yt-downloader/internal/service/downloader"
	"github.com/emanuelef/yt-downloader/internal/service/queue"
	transport "github.com/emanuelef/yt-downloader/internal/transport/http"
	"github.com/emanuelef/yt-downloader/internal/transport/http/middleware"
	"github.com/emanuelef/yt-downloader/pkg/logger"
)

const (
	shutdownTimeout = 30 * time.Second
	pruneInterval   = time.Hour
)

func main() {
	if err := run(); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Setup(&logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	slog.Info("Starting yt-downloader",
		"env", cfg.Env,
		"port", cfg.Port,
		"temp_dir", cfg.TempDir,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.TempDir, 0755); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}

	dl := downloader.New(&downloader.Config{
		OutputDir:   cfg.TempDir,
		Timeout:     cfg.DownloadTimeout,
		InfoTimeout: cfg.InfoTimeout,
		YtDlpPath:   cfg.YtDlpPath,
		FFmpegPath:  cfg.FFmpegPath,
		UserAgent:   cfg.UserAgent,
	})

	status := dl.Status(ctx)
	if !status.YtDlp {
		slog.Warn("yt-dlp is not available; downloads will fail", "path", cfg.YtDlpPath)
	}
	if !status.FFmpeg {
		slog.Warn("ffmpeg is not available; serving pre-muxed formats only", "path", cfg.FFmpegPath)
	}
	slog.Info("External tools",
		"ytdlp", status.YtDlp,
		"ytdlp_version", status.YtDlpVersion,
		"ffmpeg", status.FFmpeg,
	)

	repo, err := sqlite.NewRepository(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer repo.Close()

	var r2Client *r2.Client
	if cfg.R2Enabled() {
		r2Client, err = r2.NewClient(ctx, &r2.Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			Endpoint:        cfg.R2Endpoint,
		})
		if err != nil {
			slog.Warn("R2 unavailable, link delivery disabled", "error", err)
			r2Client = nil
		}
	}

	cleanerCfg := &fs.CleanerConfig{
		Dir:           cfg.TempDir,
		DeleteDelay:   cfg.DeleteDelay,
		SweepInterval: cfg.SweepInterval,
		MaxAge:        cfg.SweepMaxAge,
		Pruner:        repo,
		PruneAge:      cfg.HistoryRetention,
		PruneInterval: pruneInterval,
	}
	if r2Client != nil {
		cleanerCfg.R2Client = r2Client
		cleanerCfg.R2MaxAge = cfg.R2MaxFileAge
		cleanerCfg.R2Interval = cfg.R2CleanupInterval
	}
	cleaner := fs.NewCleaner(cleanerCfg)
	cleaner.Start(ctx)

	dispatcher := queue.NewDispatcher(cfg.MaxWorkers, cfg.MaxQueueSize)
	dispatcher.Start(ctx)

	deps := transport.Deps{
		Fetcher:    dl,
		Cache:      cache.NewInfoCache(cfg.InfoCacheTTL, 2*cfg.InfoCacheTTL),
		History:    repo,
		Files:      cleaner,
		Queue:      dispatcher,
		Validator:  middleware.NewValidator(cfg.AllowedDomains),
		LinkExpiry: cfg.PresignedURLExpiry,
	}
	if r2Client != nil {
		deps.Storage = r2Client
	}

	downloadLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerMinute: cfg.RateLimitRPM,
		Burst:             cfg.RateLimitBurst,
	})
	defer downloadLimiter.Stop()

	infoLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerMinute: cfg.InfoRateLimitRPM,
		Burst:             cfg.InfoRateLimitBurst,
	})
	defer infoLimiter.Stop()

	routerCfg := &transport.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		Download:       downloadLimiter,
		Info:           infoLimiter,
	}
	if !cfg.TurnstileSkip {
		routerCfg.Turnstile = middleware.NewTurnstile(cfg.TurnstileSecretKey)
	}

	router := transport.NewRouter(routerCfg, transport.NewHandlers(deps))

	// Covers a full download plus streaming the result
	server := transport.NewServer(":"+cfg.Port, router, cfg.DownloadTimeout+5*time.Minute)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	dispatcher.Stop()
	cleaner.Stop()

	slog.Info("Shutdown complete")
	return nil
}
