package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/alvmarrod/cashtag-scraper/internal/archive"
	"github.com/alvmarrod/cashtag-scraper/internal/batcher"
	"github.com/alvmarrod/cashtag-scraper/internal/config"
	"github.com/alvmarrod/cashtag-scraper/internal/harvest"
	"github.com/alvmarrod/cashtag-scraper/internal/keywords"
	"github.com/alvmarrod/cashtag-scraper/internal/metrics"
	"github.com/alvmarrod/cashtag-scraper/internal/ratelimit"
	"github.com/alvmarrod/cashtag-scraper/internal/search"
	"github.com/alvmarrod/cashtag-scraper/internal/storage"
	"github.com/alvmarrod/cashtag-scraper/internal/supervisor"
	"github.com/alvmarrod/cashtag-scraper/internal/tickers"
	"github.com/alvmarrod/cashtag-scraper/internal/version"
)

type args struct {
	ConfigPath   string
	LogLevel     string
	KeywordsFile string
	Once         bool
	ShowVersion  bool
}

func parseArgs() args {
	var a args
	pflag.StringVar(&a.ConfigPath, "config", "config.json", "Path to the JSON config file")
	pflag.StringVar(&a.LogLevel, "log-level", "", "Logging level (debug, info, warn); overrides the config")
	pflag.StringVar(&a.KeywordsFile, "keywords-file", "", "Load keywords from a file, one per line; overrides the config")
	pflag.BoolVar(&a.Once, "once", false, "Run a single pass and exit")
	pflag.BoolVar(&a.ShowVersion, "version", false, "Print the version and exit")
	pflag.Parse()
	return a
}

func main() {
	a := parseArgs()

	// Configure logging
	logrus.SetLevel(logrus.InfoLevel)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if a.ShowVersion {
		logrus.Infof("Cashtag Scraper v%s", version.Version)
		return
	}

	logrus.Infof("Cashtag Scraper v%s starting...", version.Version)

	// Load configuration
	cfg, err := config.LoadConfig(a.ConfigPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if a.LogLevel != "" {
		cfg.LogLevel = a.LogLevel
	}
	if a.KeywordsFile != "" {
		cfg.KeywordsFile = a.KeywordsFile
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)

	logrus.Infof("Configuration loaded: db=%s, archive=%s, tiers=%d, budget=%d",
		cfg.DBPath, cfg.ArchiveDir, len(cfg.Tiers), cfg.QueryLengthBudget)

	creds, err := config.LoadCredentials(cfg.CredentialsPath)
	if err != nil {
		logrus.Fatalf("Check twitter key file: %v", err)
	}

	// Initialize storage
	store, err := storage.NewStorage(cfg.DBPath)
	if err != nil {
		logrus.Fatalf("Failed to initialize storage: %v", err)
	}

	logrus.Infof("Database initialized: %s", cfg.DBPath)

	if err := os.MkdirAll(cfg.ArchiveDir, 0755); err != nil {
		logrus.Fatalf("Failed to create archive directory: %v", err)
	}

	transport := search.NewTwitterClient(cfg.APIBaseURL, creds, cfg.RequestTimeout())
	gate := ratelimit.NewGate(
		config.Seconds(cfg.RateLimitFallbackSec),
		config.Seconds(cfg.RateLimitBufferSec),
		cfg.RequestsPerSecond,
	)

	planner := batcher.NewPlanner(cfg.Tiers, cfg.QueryLengthBudget, cfg.PageSize, batcher.NewFilter(cfg.ReservedKeywords))
	executor := harvest.NewExecutor(transport, gate, store, archive.New(cfg.ArchiveDir), cfg.PageSize)

	// Initialize metrics tracker
	tracker := metrics.NewTracker()
	harvester := harvest.NewHarvester(store, planner, executor, transport, tracker)

	source := keywords.NewSource(cfg.KeywordsFile, store, tickers.NewScraper(cfg.TickerSource, cfg.RequestTimeout()))

	sup := supervisor.New(harvester, source, supervisor.Pauses{
		Cycle:          config.Seconds(cfg.CyclePauseSec),
		TransportError: config.Seconds(cfg.TransportErrorPauseSec),
		Error:          config.Seconds(cfg.ErrorPauseSec),
	})
	gate.SetObserver(sup)

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(tracker.Registry(), promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

		go func() {
			logrus.Infof("Serving metrics on %s/metrics", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.Errorf("Metrics server failed: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handler for graceful shutdown
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Track termination reason
	terminationReason := "completed"
	var reasonMu sync.Mutex
	setReason := func(r string) {
		reasonMu.Lock()
		defer reasonMu.Unlock()
		terminationReason = r
	}

	go func() {
		sig := <-sigChan
		logrus.Infof("Received signal: %v", sig)
		logrus.Info("Stopping after the current suspension or request, send again to force quit")
		setReason("signal")
		cancel()

		// Second signal = force quit
		sig = <-sigChan
		logrus.Warnf("Received second signal (%v) - forcing immediate exit!", sig)
		if err := tracker.WriteToFile(cfg.MetricsPath, "forced_exit"); err != nil {
			logrus.Errorf("Emergency metrics save failed: %v", err)
		}
		os.Exit(1)
	}()

	// Start progress logger
	var wg sync.WaitGroup
	stopProgress := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				logrus.Infof("[%s] %s", sup.State(), tracker.LogProgress())
			case <-stopProgress:
				return
			}
		}
	}()

	exitCode := 0
	if a.Once {
		if _, err := sup.RunCycle(ctx); err != nil {
			logrus.Errorf("Run failed: %v", err)
			setReason("error")
			exitCode = 1
		}
	} else {
		sup.Run(ctx)
	}

	logrus.Info("Initiating graceful shutdown...")
	close(stopProgress)
	wg.Wait()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logrus.Warnf("Metrics server shutdown: %v", err)
		}
		shutdownCancel()
	}

	// Final progress log
	logrus.Info("Final stats: " + tracker.LogProgress())

	reasonMu.Lock()
	reason := terminationReason
	reasonMu.Unlock()

	if err := tracker.WriteToFile(cfg.MetricsPath, reason); err != nil {
		logrus.Errorf("Failed to write metrics: %v", err)
	} else {
		logrus.Infof("Metrics written to %s", cfg.MetricsPath)
	}

	if err := store.Close(); err != nil {
		logrus.Warnf("Failed to close database: %v", err)
	}
	logrus.Info("Graceful shutdown complete. Goodbye!")

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
