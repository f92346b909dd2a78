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
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/aluiziolira/go-scrape-bestsellers/config"
	"github.com/aluiziolira/go-scrape-bestsellers/logging"
	"github.com/aluiziolira/go-scrape-bestsellers/models"
	"github.com/aluiziolira/go-scrape-bestsellers/pipeline"
	"github.com/aluiziolira/go-scrape-bestsellers/scraper"
	"github.com/aluiziolira/go-scrape-bestsellers/tracing"
)

func main() {
	defaultCfg := config.DefaultConfig()
	if err := applyEnv(defaultCfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	configFile := flag.String("config", "", "Optional YAML config file")
	pages := flag.Int("pages", defaultCfg.Pages, "Number of listing pages to scan")
	parallelism := flag.Int("parallel", defaultCfg.Parallelism, "Maximum concurrent detail fetches")
	delay := flag.Duration("delay", defaultCfg.Delay, "Delay between requests")
	randomDelay := flag.Duration("random-delay", defaultCfg.RandomDelay, "Random jitter added to delay")
	timeout := flag.Duration("timeout", defaultCfg.Timeout, "Per-request timeout")
	maxRetries := flag.Int("max-retries", defaultCfg.MaxRetries, "Retries per URL after a connection failure")
	retryBackoff := flag.Duration("retry-backoff", defaultCfg.RetryBackoff, "Initial retry backoff")
	retryBackoffMax := flag.Duration("retry-backoff-max", defaultCfg.RetryBackoffMax, "Maximum retry backoff")
	respectRobots := flag.Bool("respect-robots", defaultCfg.RespectRobotsTxt, "Respect robots.txt directives")
	baseURL := flag.String("base-url", defaultCfg.BaseURL, "Origin prepended to product hrefs")
	listingURL := flag.String("listing-url", defaultCfg.ListingURLTemplate, "Listing page URL template with one %d for the page number")
	outputDir := flag.String("output-dir", defaultCfg.OutputDir, "Directory for output files")
	outputFormat := flag.String("format", defaultCfg.OutputFormat, "Output format: csv, json, dual, or postgres")
	postgresDSN := flag.String("postgres-dsn", defaultCfg.PostgresDSN, "Postgres connection string for -format=postgres")
	logFile := flag.String("log-file", defaultCfg.LogFile, "Rotating log file path (empty disables)")
	logLevel := flag.String("log-level", defaultCfg.LogLevel, "Log level: debug, info, warn, error")
	verbose := flag.Bool("v", defaultCfg.Verbose, "Enable verbose logging")
	metricsAddr := flag.String("metrics-addr", defaultCfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	traceOutput := flag.String("trace", defaultCfg.TraceOutput, "Export request spans to stdout or a file path (empty disables)")

	flag.Parse()

	cfg := defaultCfg
	if *configFile != "" {
		if err := config.LoadFile(cfg, *configFile); err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	}

	// Explicit flags win over the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "pages":
			cfg.Pages = *pages
		case "parallel":
			cfg.Parallelism = *parallelism
		case "delay":
			cfg.Delay = *delay
		case "random-delay":
			cfg.RandomDelay = *randomDelay
		case "timeout":
			cfg.Timeout = *timeout
		case "max-retries":
			cfg.MaxRetries = *maxRetries
		case "retry-backoff":
			cfg.RetryBackoff = *retryBackoff
		case "retry-backoff-max":
			cfg.RetryBackoffMax = *retryBackoffMax
		case "respect-robots":
			cfg.RespectRobotsTxt = *respectRobots
		case "base-url":
			cfg.BaseURL = *baseURL
		case "listing-url":
			cfg.ListingURLTemplate = *listingURL
		case "output-dir":
			cfg.OutputDir = *outputDir
		case "format":
			cfg.OutputFormat = strings.ToLower(*outputFormat)
		case "postgres-dsn":
			cfg.PostgresDSN = *postgresDSN
		case "log-file":
			cfg.LogFile = *logFile
		case "log-level":
			cfg.LogLevel = *logLevel
		case "v":
			cfg.Verbose = *verbose
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "trace":
			cfg.TraceOutput = *traceOutput
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	opts, err := logging.OptionsFromConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	logger, logCloser, err := logging.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("run failed", slog.Any("error", err))
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	log := logging.For(logger, "main")
	log.Info("starting scrape",
		slog.String("listing_url", cfg.ListingURLTemplate),
		slog.Int("pages", cfg.Pages),
		slog.Int("workers", cfg.Parallelism),
		slog.String("format", cfg.OutputFormat),
	)

	tp, err := tracing.New(tracing.OptionsFromConfig(cfg))
	if err != nil {
		return fmt.Errorf("initialising tracing: %w", err)
	}
	var opts []scraper.Option
	if tp != nil {
		otel.SetTracerProvider(tp)
		opts = append(opts, scraper.WithTracerProvider(tp))
		log.Info("request tracing enabled", slog.String("output", cfg.TraceOutput))
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				log.Error("trace shutdown failed", slog.Any("error", err))
			}
		}()
	}

	s, err := scraper.NewScraper(cfg, logger, opts...)
	if err != nil {
		return fmt.Errorf("initialising scraper: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info("shutdown signal received, remaining requests will be abandoned")
	}()

	metricsServer := startMetricsServer(cfg.MetricsAddr, s.Metrics, log)
	defer stopMetricsServer(metricsServer, log)

	startTime := time.Now()

	links, collected := s.CollectLinks(ctx, cfg.Pages)
	if err := writeTable(ctx, cfg, cfg.LinksFile, pipeline.LinkTable(links)); err != nil {
		return fmt.Errorf("write links: %w", err)
	}
	log.Info("links written", slog.Int("count", len(links)), slog.String("file", cfg.LinksFile))

	products, result := s.Harvest(ctx, links)
	if err := writeTable(ctx, cfg, cfg.ProductsFile, products); err != nil {
		return fmt.Errorf("write products: %w", err)
	}

	duration := time.Since(startTime)
	log.Info("scrape finished",
		slog.Int("products", products.Len()),
		slog.Duration("total_time", duration),
	)
	printSummary(collected, result, duration, cfg)
	return nil
}

func writeTable(ctx context.Context, cfg *config.Config, name string, table *pipeline.Table) (err error) {
	writer, err := pipeline.NewTableWriter(ctx, cfg, name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := writer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := writer.WriteTable(table); err != nil {
		return err
	}
	return writer.Validate()
}

func startMetricsServer(addr string, metrics *scraper.Metrics, log *slog.Logger) *http.Server {
	if addr == "" || metrics == nil {
		return nil
	}
	server := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	log.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func stopMetricsServer(server *http.Server, log *slog.Logger) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

func applyEnv(cfg *config.Config) error {
	if value, ok, err := config.EnvInt("SCRAPER_PAGES"); err != nil {
		return fmt.Errorf("SCRAPER_PAGES: %w", err)
	} else if ok {
		cfg.Pages = value
	}
	if value, ok, err := config.EnvInt("SCRAPER_PARALLEL"); err != nil {
		return fmt.Errorf("SCRAPER_PARALLEL: %w", err)
	} else if ok {
		cfg.Parallelism = value
	}
	if value, ok, err := config.EnvDuration("SCRAPER_TIMEOUT"); err != nil {
		return fmt.Errorf("SCRAPER_TIMEOUT: %w", err)
	} else if ok {
		cfg.Timeout = value
	}
	if value, ok := config.EnvString("SCRAPER_OUTPUT_DIR"); ok {
		cfg.OutputDir = value
	}
	if value, ok := config.EnvString("SCRAPER_FORMAT"); ok {
		cfg.OutputFormat = strings.ToLower(value)
	}
	if value, ok := config.EnvString("SCRAPER_POSTGRES_DSN"); ok {
		cfg.PostgresDSN = value
	}
	if value, ok := config.EnvString("SCRAPER_LOG_LEVEL"); ok {
		cfg.LogLevel = value
	}
	if value, ok := config.EnvString("SCRAPER_METRICS_ADDR"); ok {
		cfg.MetricsAddr = value
	}
	if value, ok := config.EnvString("SCRAPER_TRACE_OUTPUT"); ok {
		cfg.TraceOutput = value
	}
	return nil
}

func printSummary(collected *models.CollectResult, result *models.HarvestResult, duration time.Duration, cfg *config.Config) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")

	fmt.Printf("  Listing pages: %d/%d\n", collected.ScannedCount, collected.PageCount)
	if len(collected.FailedURLs) > 0 {
		fmt.Printf("  Failed pages:  %d %v\n", len(collected.FailedURLs), collected.ErrorsByType)
	}
	fmt.Printf("  Links:         %d\n", result.LinkCount)
	fmt.Printf("  Products:      %d\n", result.TotalCount)
	fmt.Printf("  No section:    %d\n", result.EmptyCount)
	successRate := 0.0
	if result.TaskCount > 0 {
		successRate = float64(result.TotalCount) / float64(result.TaskCount) * 100
	}
	fmt.Printf("  Success rate:  %.2f%%\n", successRate)
	fmt.Printf("  Requests:      %d\n", result.RequestCount)
	fmt.Printf("  Errors:        %d\n", result.ErrorCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	fmt.Printf("  Failed URLs:   %d\n", len(result.FailedURLs))
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Output:        %s (%s)\n", cfg.OutputDir, cfg.OutputFormat)
	fmt.Println(separator)
}
