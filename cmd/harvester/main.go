package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"harvester/internal/ai"
	"harvester/internal/bot"
	"harvester/internal/config"
	"harvester/internal/fetcher"
	"harvester/internal/ingest"
	"harvester/internal/metrics"
	"harvester/internal/pipeline"
	"harvester/internal/publish"
	"harvester/internal/scheduler"
	"harvester/internal/similarity"
	"harvester/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	sources, err := config.LoadSources(cfg.SourcesPath)
	if err != nil {
		log.Error("load sources", "path", cfg.SourcesPath, "error", err)
		os.Exit(1)
	}

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

	if err := syncSources(ctx, store, sources, log); err != nil {
		log.Error("sync sources", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, reg, log)
	}

	entries, err := buildProviders(sources.Providers, cfg.ProviderTimeout)
	if err != nil {
		log.Error("build providers", "error", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		log.Warn("no AI providers configured, every item will be skipped")
	}
	orch := ai.NewOrchestrator(entries, m, log)

	var images publish.ImageGenerator
	if cfg.ImageEndpoint != "" {
		images = publish.NewImageClient(cfg.ImageEndpoint, nil)
	}
	pub := publish.New(store, images, publish.Config{
		BaseLanguage:    sources.Languages.Base,
		PrimaryLanguage: sources.Languages.Primary,
		DefaultCategory: sources.DefaultCategory,
	}, m, log)

	pipe := pipeline.New(store, orch, pub, pipeline.Config{
		BaseLanguage:    sources.Languages.Base,
		TargetLanguages: sources.Languages.Targets,
	}, m, log)

	dedup := similarity.NewEngine(similarity.NewCache(), store)
	ing := ingest.New(store, fetcher.New(&http.Client{}), dedup, ingest.Config{
		FeedTimeout: cfg.FeedTimeout,
		FetchEvery:  time.Second,
	}, m, log)

	sched := scheduler.New(store, ing, pipe, dedup.Cache(), nil, scheduler.Config{
		Categories:     sources.Categories,
		OperatorChatID: cfg.OperatorChatID,
	}, m, log)

	var b *bot.Bot
	if cfg.TelegramBotToken != "" {
		b, err = bot.New(cfg.TelegramBotToken, store, sched, orch, cfg, log)
		if err != nil {
			log.Error("create bot", "error", err)
			os.Exit(1)
		}
		sched.SetSender(b)
	}

	log.Info("starting harvester",
		"feeds", len(sources.Feeds),
		"providers", len(entries),
		"languages", sources.Languages.Targets,
	)

	if err := sched.Start(ctx); err != nil {
		log.Error("start scheduler", "error", err)
		os.Exit(1)
	}

	if b != nil {
		b.Run(ctx)
	} else {
		<-ctx.Done()
	}

	sched.Stop()
	log.Info("harvester stopped")
}

// syncSources registers the configured feeds and categories and persists default settings.
func syncSources(ctx context.Context, store storage.Storage, sources *config.Sources, log *slog.Logger) error {
	for _, fc := range sources.Feeds {
		feed, err := fc.Source()
		if err != nil {
			return err
		}
		created, err := store.SyncFeed(ctx, &feed)
		if err != nil {
			return fmt.Errorf("feed %s: %w", fc.URL, err)
		}
		if created {
			log.Info("feed registered", "feed_id", feed.ID, "name", feed.Name, "priority", feed.Priority)
		}
	}

	added, err := store.EnsureCategories(ctx, sources.Categories)
	if err != nil {
		return err
	}
	if added > 0 {
		log.Info("categories added", "count", added)
	}

	_, err = store.GetSettings(ctx)
	return err
}

func buildProviders(cfgs []config.ProviderConfig, timeout time.Duration) ([]ai.Entry, error) {
	entries := make([]ai.Entry, 0, len(cfgs))
	for _, pc := range cfgs {
		var p ai.TextProvider
		switch pc.Kind {
		case config.KindOpenAI:
			p = ai.NewOpenAI(pc.Name, pc.Endpoint, pc.Model, pc.APIKey(), timeout)
		case config.KindGemini:
			p = ai.NewGemini(pc.Name, pc.Endpoint, pc.Model, pc.APIKey(), timeout)
		case config.KindOllama:
			p = ai.NewOllama(pc.Name, pc.Endpoint, pc.Model, timeout)
		default:
			return nil, fmt.Errorf("provider %s: unknown kind %q", pc.Name, pc.Kind)
		}
		entries = append(entries, ai.Entry{Provider: p, Cooldown: pc.Cooldown})
	}
	return entries, nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

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
