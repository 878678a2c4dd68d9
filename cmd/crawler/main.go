package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkotliar/bookcrawl/api"
	"github.com/mkotliar/bookcrawl/config"
	"github.com/mkotliar/bookcrawl/fetcher"
	"github.com/mkotliar/bookcrawl/media"
	"github.com/mkotliar/bookcrawl/models"
	"github.com/mkotliar/bookcrawl/pipeline"
	"github.com/mkotliar/bookcrawl/scraper"
	"github.com/mkotliar/bookcrawl/storage"
	"github.com/mkotliar/bookcrawl/store"
)

func main() {
	defaults := config.DefaultConfig()

	pagesDefault := defaults.MaxPages
	if value, ok, err := config.EnvInt("CRAWLER_PAGES"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid CRAWLER_PAGES: %v\n", err)
		os.Exit(1)
	} else if ok {
		pagesDefault = value
	}
	baseURLDefault := defaults.BaseURL
	if value, ok := config.EnvString("CRAWLER_BASE_URL"); ok {
		baseURLDefault = value
	}
	dsnDefault := defaults.DatabaseDSN
	if value, ok := config.EnvString("CRAWLER_DB_DSN"); ok {
		dsnDefault = value
	}
	apiAddrDefault := defaults.APIAddr
	if value, ok := config.EnvString("CRAWLER_API_ADDR"); ok {
		apiAddrDefault = value
	}
	metricsAddrDefault := defaults.MetricsAddr
	if value, ok := config.EnvString("CRAWLER_METRICS_ADDR"); ok {
		metricsAddrDefault = value
	}

	configPath := flag.String("config", "", "Path to YAML configuration file")
	baseURL := flag.String("base-url", baseURLDefault, "Base URL of the catalog to crawl")
	maxPages := flag.Int("pages", pagesDefault, "Maximum listing pages per run")
	dsn := flag.String("db", dsnDefault, "Postgres DSN (empty runs with the in-memory store)")
	apiAddr := flag.String("api-addr", apiAddrDefault, "API listen address")
	metricsAddr := flag.String("metrics-addr", metricsAddrDefault, "Prometheus metrics listen address (e.g. :9090)")
	exportDir := flag.String("export-dir", "", "Directory for per-run CSV/JSONL exports")
	skipImages := flag.Bool("skip-images", false, "Skip cover image downloads")
	once := flag.Bool("once", false, "Run a single crawl and exit instead of serving the API")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg, err := buildConfig(*configPath, *baseURL, *maxPages, *dsn, *apiAddr, *metricsAddr, *exportDir, *skipImages, *verbose)
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("opening store", slog.Any("error", err))
		os.Exit(1)
	}

	blobs, err := openBlobStore(cfg)
	if err != nil {
		slog.Error("opening media storage", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := scraper.NewMetrics()

	pageClient := fetcher.New(fetcher.Options{
		UserAgent:   cfg.UserAgent,
		Timeout:     cfg.Timeout.Duration,
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     cfg.RetryBackoff.Duration,
		BackoffMax:  cfg.RetryBackoffMax.Duration,
		Observer:    metrics,
	})

	var acquirer *media.Acquirer
	if !cfg.SkipImages {
		imageClient := fetcher.New(fetcher.Options{
			UserAgent:   cfg.UserAgent,
			Timeout:     cfg.ImageTimeout.Duration,
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     cfg.RetryBackoff.Duration,
			BackoffMax:  cfg.RetryBackoffMax.Duration,
			Observer:    metrics,
		})
		acquirer, err = media.NewAcquirer(imageClient, cfg.ImageCacheSize)
		if err != nil {
			slog.Error("initialising image acquirer", slog.Any("error", err))
			os.Exit(1)
		}
	}

	walker, err := scraper.NewWalker(cfg, pageClient, acquirer, metrics)
	if err != nil {
		slog.Error("initialising walker", slog.Any("error", err))
		os.Exit(1)
	}

	reconciler := pipeline.NewReconciler(st, blobs)
	coordinator := scraper.NewCoordinator(cfg.MaxPages, st, walker, reconciler, metrics)
	if cfg.ExportDir != "" {
		dir := cfg.ExportDir
		coordinator.ExportFactory = func(runID uint) (pipeline.ExportWriter, error) {
			base := filepath.Join(dir, fmt.Sprintf("run_%d", runID))
			return pipeline.NewDualWriter(base+".csv", base+".jsonl")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A previous process may have died mid-run; its row would block every
	// new start forever.
	if flipped, err := st.InterruptRunning(ctx); err != nil {
		slog.Error("recovering stale runs", slog.Any("error", err))
		os.Exit(1)
	} else if flipped > 0 {
		slog.Warn("stale runs marked interrupted", slog.Int("runs", flipped))
	}

	metricsServer := startMetricsServer(cfg, metrics)

	if *once {
		runOnce(ctx, coordinator, cfg)
	} else {
		serve(ctx, coordinator, st, cfg)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}
}

// runOnce starts a single crawl and blocks until it reaches a terminal state.
func runOnce(ctx context.Context, coordinator *scraper.Coordinator, cfg *config.Config) {
	run, err := coordinator.Start(ctx, cfg.MaxPages)
	if err != nil {
		slog.Error("starting crawl", slog.Any("error", err))
		os.Exit(1)
	}

	done := make(chan struct{})
	go func() {
		coordinator.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, interrupting crawl")
		if _, err := coordinator.Stop(context.Background()); err != nil && !errors.Is(err, scraper.ErrNoActiveRun) {
			slog.Error("stopping crawl", slog.Any("error", err))
		}
		<-done
	case <-done:
	}

	final, err := coordinator.Status(context.Background(), run.ID)
	if err != nil {
		slog.Error("reading final run state", slog.Any("error", err))
		os.Exit(1)
	}
	printSummary(final)
	if final.Status != models.RunCompleted {
		os.Exit(1)
	}
}

// serve runs the API until a shutdown signal, then interrupts any active
// crawl and drains.
func serve(ctx context.Context, coordinator *scraper.Coordinator, st store.Store, cfg *config.Config) {
	server := api.NewServer(coordinator, st)

	go func() {
		if err := server.Start(cfg.APIAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()
	slog.Info("api server listening", slog.String("addr", cfg.APIAddr))

	<-ctx.Done()
	slog.Info("shutdown signal received")

	if _, err := coordinator.Stop(context.Background()); err != nil && !errors.Is(err, scraper.ErrNoActiveRun) {
		slog.Error("stopping crawl", slog.Any("error", err))
	}
	coordinator.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api server shutdown failed", slog.Any("error", err))
	}
}

func buildConfig(path, baseURL string, maxPages int, dsn, apiAddr, metricsAddr, exportDir string, skipImages, verbose bool) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	// Flags win over the config file.
	if baseURL != config.DefaultConfig().BaseURL || cfg.BaseURL == "" {
		cfg.BaseURL = baseURL
	}
	if maxPages > 0 {
		cfg.MaxPages = maxPages
	}
	if dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if apiAddr != "" {
		cfg.APIAddr = apiAddr
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if exportDir != "" {
		cfg.ExportDir = exportDir
	}
	if skipImages {
		cfg.SkipImages = true
	}
	cfg.Verbose = verbose

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.DatabaseDSN == "" {
		slog.Warn("no database configured, using in-memory store")
		return store.NewMemoryStore(), nil
	}
	return store.NewGormStore(cfg.DatabaseDSN)
}

func openBlobStore(cfg *config.Config) (storage.ObjectStore, error) {
	if cfg.SkipImages {
		return nil, nil
	}
	switch cfg.Media.Backend {
	case "minio":
		return storage.NewMinioStore(cfg.Media.Endpoint, cfg.Media.AccessKey, cfg.Media.SecretKey, cfg.Media.Bucket, cfg.Media.UseSSL)
	default:
		return storage.NewFileStore(cfg.Media.Dir)
	}
}

func startMetricsServer(cfg *config.Config, metrics *scraper.Metrics) *http.Server {
	if cfg.MetricsAddr == "" {
		return nil
	}

	server := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	return server
}

func printSummary(run models.Run) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Crawl run", run.ID, "finished:", run.Status)
	fmt.Printf("  Total found:   %d\n", run.TotalFound)
	fmt.Printf("  Created:       %d\n", run.CreatedCount)
	fmt.Printf("  Updated:       %d\n", run.UpdatedCount)
	fmt.Printf("  Errors:        %d\n", run.ErrorsCount)
	if run.ErrorMessage != "" {
		fmt.Printf("  Error:         %s\n", run.ErrorMessage)
	}
	if run.FinishedAt != nil {
		fmt.Printf("  Duration:      %v\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
