package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"donor_check/internal/bot"
	"donor_check/internal/config"
	"donor_check/internal/fetcher"
	"donor_check/internal/metrics"
	"donor_check/internal/reloader"
	"donor_check/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, reg, log)
	}

	rl := reloader.New(store, newLoader(cfg), log)
	rl.SetTickInterval(cfg.ReloadInterval)
	rl.SetMetrics(m)
	if err := rl.Reload(ctx); err != nil {
		if errors.Is(err, storage.ErrNoCatalog) {
			log.Error("no catalog available, set CATALOG_DIR or CATALOG_URL")
		} else {
			log.Error("initial catalog load", "error", err)
		}
		os.Exit(1)
	}

	b, err := bot.New(cfg.TelegramBotToken, rl, store, newNotices(cfg), cfg, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	b.SetMetrics(m)

	log.Info("starting bot")

	go rl.Run(ctx)

	b.Run(ctx)

	log.Info("bot stopped")
}

func newLoader(cfg *config.Config) reloader.Loader {
	switch {
	case cfg.CatalogURL != "":
		return fetcher.New(http.DefaultClient, cfg.CatalogURL)
	case cfg.CatalogDir != "":
		return fetcher.NewDir(os.DirFS(cfg.CatalogDir), cfg.CatalogDir)
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, g prometheus.Gatherer, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server", "error", err)
	}
}

func newNotices(cfg *config.Config) bot.NoticeSource {
	if cfg.NoticesURL == "" {
		return nil
	}
	return fetcher.NewNoticeFeed(http.DefaultClient, cfg.NoticesURL)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
