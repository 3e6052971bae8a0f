package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openbizdata/dircrawler/internal/api"
	"github.com/openbizdata/dircrawler/internal/browser"
	"github.com/openbizdata/dircrawler/internal/checkpoint"
	"github.com/openbizdata/dircrawler/internal/config"
	"github.com/openbizdata/dircrawler/internal/crawler"
	"github.com/openbizdata/dircrawler/internal/fetch"
	"github.com/openbizdata/dircrawler/internal/health"
	"github.com/openbizdata/dircrawler/internal/links"
	"github.com/openbizdata/dircrawler/internal/logging"
	"github.com/openbizdata/dircrawler/internal/metrics"
	"github.com/openbizdata/dircrawler/internal/pipeline"
	"github.com/openbizdata/dircrawler/internal/storage/memory"
	"github.com/openbizdata/dircrawler/internal/storage/postgres"
	"github.com/openbizdata/dircrawler/internal/tasks"
)

const (
	healthCheckInterval = 60 * time.Second
	shutdownTimeout     = 5 * time.Second
)

func newCrawlCmd() *cobra.Command {
	var baseURL, exportPath string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs the full crawl pipeline",
		Long: `Enumerates industries, collects company links per industry,
renders detail pages through the browser pool, crawls contact pages,
extracts emails, and writes the final CSV.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if baseURL != "" {
				cfg.Pipeline.BaseURL = baseURL
			}
			if exportPath != "" {
				cfg.Pipeline.ExportPath = exportPath
			}
			if cfg.Pipeline.BaseURL == "" {
				return errors.New("a base URL is required (--base-url or pipeline.base_url)")
			}
			return runCrawl(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "directory base URL (overrides config)")
	cmd.Flags().StringVar(&exportPath, "export", "", "CSV output path (overrides config)")
	return cmd
}

func runCrawl(parent context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	metrics.Init()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	pool := browser.NewPool(browser.NewExecLauncher(), cfg.PoolConfig(), logger)
	defer pool.Shutdown()

	classifier := crawler.NewClassifier()
	breakers := crawler.NewBreakerManager(cfg.BreakerSettings(), classifier, logger)

	pageDriver := links.NewChromeDriver(pool, cfg.ListingSelectorSet(), "link_engine", logger)
	engine := links.NewEngine(pageDriver, pool, breakers, classifier, cfg.LinksSettings(), logger)

	detailFetcher := fetch.NewDetailFetcher(pool, classifier, cfg.DetailFetchSettings(), "detail_fetch", logger)
	contactCrawler, err := fetch.NewContactCrawler(cfg.ContactSettings(), logger)
	if err != nil {
		return fmt.Errorf("init contact crawler: %w", err)
	}

	checkpoints, err := checkpoint.NewStore(cfg.Pipeline.CheckpointDir, logger)
	if err != nil {
		return fmt.Errorf("init checkpoint store: %w", err)
	}

	runner := tasks.NewRunner(cfg.TaskSettings(), logger)
	runner.Start(ctx)
	defer runner.Shutdown()

	monitor := health.NewMonitor(cfg.HealthThresholds(), pool, breakers, runner, logger)
	go watchHealth(ctx, monitor)

	srv := startOpsServer(ctx, cfg.Server.Port, store, pool, monitor, logger)
	defer shutdownOpsServer(srv, logger)

	driver := pipeline.NewDriver(
		engine,
		detailFetcher,
		contactCrawler,
		store,
		checkpoints,
		runner,
		cfg.DetailSelectorSet(),
		cfg.PipelineSettings(),
		logger,
	)

	sum, err := driver.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run pipeline: %w", err)
	}

	logger.Info("crawl finished",
		zap.Int("industries", sum.Industries),
		zap.Int("links_collected", sum.LinksCollected),
		zap.Int("industries_failed", sum.IndustriesFailed),
		zap.Strings("empty_industries", sum.EmptyIndustries),
		zap.Int("details_fetched", sum.DetailsFetched),
		zap.Int("details_failed", sum.DetailsFailed),
		zap.Int("details_extracted", sum.DetailsExtracted),
		zap.Int("contacts_fetched", sum.ContactsFetched),
		zap.Int("email_results", sum.EmailResults),
		zap.Int("rows_exported", sum.RowsExported),
	)
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.RecordStore, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Info("no database configured, using in-memory record store")
		return memory.New(), func() {}, nil
	}
	store, err := postgres.New(ctx, cfg.StoreSettings())
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return store, store.Close, nil
}

// watchHealth checks the monitor on a fixed cadence and lets it run
// its corrective cleanup when thresholds are breached.
func watchHealth(ctx context.Context, monitor *health.Monitor) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			monitor.CleanupIfNeeded(ctx)
		}
	}
}

func startOpsServer(ctx context.Context, port int, store api.StatsReader, pool api.PoolStatser, monitor api.HealthChecker, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           api.NewServer(store, pool, monitor, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", zap.Error(err))
		}
	}()
	return srv
}

func shutdownOpsServer(srv *http.Server, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("ops server shutdown failed", zap.Error(err))
	}
}
