// Package scraper walks the bestseller listing pages and harvests every
// product detail page they link to.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-bestsellers/config"
	"github.com/aluiziolira/go-scrape-bestsellers/logging"
	"github.com/aluiziolira/go-scrape-bestsellers/models"
	"github.com/aluiziolira/go-scrape-bestsellers/parser"
	"github.com/aluiziolira/go-scrape-bestsellers/pipeline"
)

// Harvest task outcomes, used as metric labels.
const (
	outcomeParsed     = "parsed"
	outcomeEmpty      = "empty"
	outcomeFetchError = "fetch_error"
	outcomeParseError = "parse_error"
)

// TaskResult is what one harvest task produced. Product is nil when the page
// had no product section or when Err is set.
type TaskResult struct {
	URL     string
	Product *models.Product
	Err     error
}

// Scraper collects product links and harvests their detail pages.
type Scraper struct {
	cfg       *config.Config
	fetcher   *Fetcher
	extractor *parser.LinkExtractor
	logger    *slog.Logger
	Metrics   *Metrics
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Scraper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := NewMetrics()

	fetcher, err := NewFetcher(cfg, metrics, logging.For(logger, "fetcher"), opts...)
	if err != nil {
		return nil, err
	}

	return &Scraper{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: parser.NewLinkExtractor(cfg.BaseURL, logging.For(logger, "parser")),
		logger:    logging.For(logger, "scraper"),
		Metrics:   metrics,
	}, nil
}

// CollectLinks scans listing pages 1..pages in order and returns the unique
// product links, first occurrence first. A page that cannot be fetched is
// logged and skipped.
func (s *Scraper) CollectLinks(ctx context.Context, pages int) ([]string, *models.CollectResult) {
	if ctx == nil {
		ctx = context.Background()
	}

	stats := newFailureLog()
	result := &models.CollectResult{PageCount: pages}

	var all []string
	for page := 1; page <= pages; page++ {
		if ctx.Err() != nil {
			s.logger.Warn("link collection interrupted", slog.Int("page", page))
			break
		}

		pageURL := s.cfg.ListingURL(page)
		body, err := s.fetcher.Fetch(ctx, PhaseListing, pageURL)
		if err != nil {
			stats.add(pageURL, err)
			s.logger.Error("listing page failed",
				slog.Int("page", page),
				slog.String("url", pageURL),
				slog.Any("error", err),
			)
			continue
		}
		result.ScannedCount++

		links := s.extractor.ExtractHTML(pageURL, body)
		s.logger.Debug("listing page scanned",
			slog.Int("page", page),
			slog.Int("links", len(links)),
		)
		all = append(all, links...)
	}

	unique := dedupe(all)
	s.Metrics.AddLinks(len(unique))

	result.FoundCount = len(all)
	result.LinkCount = len(unique)
	result.FailedURLs, result.ErrorsByType = stats.snapshot()

	s.logger.Info("links collected",
		slog.Int("pages", pages),
		slog.Int("scanned", result.ScannedCount),
		slog.Int("found", result.FoundCount),
		slog.Int("unique", result.LinkCount),
	)
	return unique, result
}

// Harvest fetches and parses every link concurrently and returns the product
// table once all tasks have finished. Row order follows task completion.
// Failed tasks are logged and add no row.
func (s *Scraper) Harvest(ctx context.Context, links []string) (*pipeline.Table, *models.HarvestResult) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	retriesBefore := s.fetcher.TotalRetries()
	requestsBefore := s.fetcher.RequestCount()

	p := pipeline.NewPipeline(ctx, s.cfg, logging.For(s.logger, "pipeline"))
	p.Start(s.cfg.Parallelism)
	if s.cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	run := &harvestRun{failures: newFailureLog()}

	var g errgroup.Group
	g.SetLimit(s.cfg.Parallelism)
	for i, link := range links {
		s.logger.Debug("starting task", slog.Int("task", i), slog.String("url", link))
		link := link
		g.Go(func() error {
			s.record(run, s.harvestOne(ctx, link), p)
			return nil
		})
	}
	_ = g.Wait()

	if err := p.Close(); err != nil {
		s.logger.Error("pipeline shutdown failed", slog.Any("error", err))
	}
	table := p.Table()

	failedURLs, errorsByType := run.failures.snapshot()
	result := &models.HarvestResult{
		StartTime:    start,
		EndTime:      time.Now(),
		LinkCount:    len(links),
		TaskCount:    run.tasks,
		TotalCount:   table.Len(),
		EmptyCount:   run.empty,
		ErrorCount:   len(failedURLs),
		FailedURLs:   failedURLs,
		ErrorsByType: errorsByType,
		RetryCount:   s.fetcher.TotalRetries() - retriesBefore,
		RequestCount: s.fetcher.RequestCount() - requestsBefore,
	}
	s.logger.Info("harvest finished",
		slog.Int("links", result.LinkCount),
		slog.Int("products", result.TotalCount),
		slog.Int("errors", result.ErrorCount),
		slog.Duration("elapsed", result.EndTime.Sub(start)),
	)
	return table, result
}

func (s *Scraper) harvestOne(ctx context.Context, link string) (res TaskResult) {
	res.URL = link
	defer func() {
		if r := recover(); r != nil {
			res.Product = nil
			res.Err = &parser.ParseError{URL: link, Err: panicError{value: r}}
		}
	}()

	body, err := s.fetcher.Fetch(ctx, PhaseDetail, link)
	if err != nil {
		res.Err = err
		return res
	}
	res.Product, res.Err = parser.ParseProductHTML(link, body)
	return res
}

func (s *Scraper) record(run *harvestRun, res TaskResult, p *pipeline.Pipeline) {
	switch {
	case res.Err != nil:
		outcome := outcomeFetchError
		if errorTypeLabel(res.Err) == "parse" {
			outcome = outcomeParseError
		}
		run.count(false)
		s.Metrics.IncTask(outcome)
		run.failures.add(res.URL, res.Err)
		s.logger.Error("product task failed",
			slog.String("url", res.URL),
			slog.String("outcome", outcome),
			slog.Any("error", res.Err),
		)
	case res.Product == nil:
		run.count(true)
		s.Metrics.IncTask(outcomeEmpty)
		s.logger.Debug("no product section", slog.String("url", res.URL))
	default:
		run.count(false)
		s.Metrics.IncTask(outcomeParsed)
		s.Metrics.IncItems()
		if err := p.Process(res.Product); err != nil {
			s.logger.Error("pipeline process error", slog.String("url", res.URL), slog.Any("error", err))
		}
	}
}

// harvestRun holds the counters of a single Harvest call.
type harvestRun struct {
	mu       sync.Mutex
	tasks    int
	empty    int
	failures *failureLog
}

func (r *harvestRun) count(empty bool) {
	r.mu.Lock()
	r.tasks++
	if empty {
		r.empty++
	}
	r.mu.Unlock()
}

type failureLog struct {
	mu     sync.Mutex
	urls   []string
	byType map[string]int
}

func newFailureLog() *failureLog {
	return &failureLog{byType: make(map[string]int)}
}

func (l *failureLog) add(url string, err error) {
	category := errorTypeLabel(err)

	l.mu.Lock()
	l.byType[category]++
	l.urls = append(l.urls, url)
	l.mu.Unlock()
}

func (l *failureLog) snapshot() ([]string, map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	urls := make([]string, len(l.urls))
	copy(urls, l.urls)
	byType := make(map[string]int, len(l.byType))
	for k, v := range l.byType {
		byType[k] = v
	}
	return urls, byType
}

// dedupe keeps the first occurrence of each link.
func dedupe(links []string) []string {
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, link := range links {
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	return out
}

type panicError struct {
	value any
}

func (e panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}
