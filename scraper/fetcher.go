package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/aluiziolira/go-scrape-bestsellers/config"
)

// Request phases, used as metric labels.
const (
	PhaseListing = "listing"
	PhaseDetail  = "detail"
)

const (
	ctxStart  = "start"
	ctxPhase  = "phase"
	ctxBody     = "body"
	ctxStatus   = "status"
	ctxEncoding = "encoding"
)

// Fetcher issues GET requests through a synchronous colly collector. Many
// goroutines may call Fetch at once; the collector's limit rule caps how many
// requests are in flight.
type Fetcher struct {
	collector *colly.Collector
	headers   http.Header
	retry     *retryPolicy
	metrics   *Metrics
	logger    *slog.Logger
	tracer    trace.TracerProvider

	requestCount atomic.Int64
}

// NewFetcher builds a fetcher for the host of cfg.BaseURL.
func NewFetcher(cfg *config.Config, metrics *Metrics, logger *slog.Logger, opts ...Option) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}
	if logger == nil {
		logger = slog.Default()
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Host),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	// Non-2xx bodies reach the caller like any other response.
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	headers := make(http.Header)
	for k, v := range cfg.Headers {
		headers.Set(k, v)
	}
	headers.Set("User-Agent", cfg.UserAgent)

	o := applyOptions(opts)
	f := &Fetcher{
		collector: collector,
		headers:   headers,
		retry:     newRetryPolicy(cfg, metrics),
		metrics:   metrics,
		logger:    logger,
		tracer:    o.tracerProvider,
	}
	f.setTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	f.configureHandlers()
	return f, nil
}

// setTransport installs rt under a client span per request. Spans go to the
// configured tracer provider, or the global one when none was given.
func (f *Fetcher) setTransport(rt http.RoundTripper) {
	var opts []otelhttp.Option
	if f.tracer != nil {
		opts = append(opts, otelhttp.WithTracerProvider(f.tracer))
	}
	f.collector.WithTransport(otelhttp.NewTransport(rt, opts...))
}

func (f *Fetcher) configureHandlers() {
	f.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(ctxStart, time.Now())
		f.requestCount.Add(1)
		f.metrics.IncRequest(r.Ctx.Get(ctxPhase))
	})

	f.collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxBody, r.Body)
		r.Ctx.Put(ctxStatus, r.StatusCode)
		r.Ctx.Put(ctxEncoding, r.Headers.Get("Content-Encoding"))
		if start, ok := r.Ctx.GetAny(ctxStart).(time.Time); ok {
			f.metrics.ObserveDuration(time.Since(start))
		}
	})
}

// Fetch returns the body of url. Connection-level failures are retried with
// exponential backoff; any other failure, or the last retryable one, comes
// back as a *FetchError. Non-2xx responses are not failures.
func (f *Fetcher) Fetch(ctx context.Context, phase, pageURL string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &FetchError{URL: pageURL, Attempts: attempt - 1, Err: err}
		}

		body, status, err := f.fetchOnce(phase, pageURL)
		if err == nil {
			if status >= http.StatusBadRequest {
				category := errorTypeLabel(classifyError(nil, status))
				f.metrics.IncError(category)
				f.logger.Warn("non-200 response",
					slog.Int("status", status),
					slog.String("category", category),
					slog.String("url", pageURL),
				)
			}
			return body, nil
		}

		classified := classifyError(err, 0)
		category := errorTypeLabel(classified)
		f.metrics.IncError(category)

		if !retryable(classified) || !f.retry.allow(attempt) {
			return nil, &FetchError{URL: pageURL, Attempts: attempt, Err: classified}
		}

		f.logger.Debug("retrying request",
			slog.String("url", pageURL),
			slog.String("category", category),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", f.retry.backoff(attempt)),
			slog.Any("error", err),
		)
		if err := f.retry.wait(ctx, attempt); err != nil {
			return nil, &FetchError{URL: pageURL, Attempts: attempt, Err: err}
		}
	}
}

func (f *Fetcher) fetchOnce(phase, pageURL string) ([]byte, int, error) {
	cctx := colly.NewContext()
	cctx.Put(ctxPhase, phase)

	if err := f.collector.Request(http.MethodGet, pageURL, nil, cctx, f.headers.Clone()); err != nil {
		return nil, 0, err
	}

	body, _ := cctx.GetAny(ctxBody).([]byte)
	status, _ := cctx.GetAny(ctxStatus).(int)
	body, err := inflate(cctx.Get(ctxEncoding), body)
	if err != nil {
		return nil, status, err
	}
	return body, status, nil
}

// inflate decodes deflate bodies; colly only decodes gzip. Servers disagree
// on whether deflate means zlib-wrapped or raw, so both are accepted.
func inflate(encoding string, body []byte) ([]byte, error) {
	if len(body) == 0 || !strings.Contains(strings.ToLower(encoding), "deflate") {
		return body, nil
	}

	if zr, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
		out, readErr := io.ReadAll(zr)
		zr.Close()
		if readErr == nil {
			return out, nil
		}
	}

	fr := flate.NewReader(bytes.NewReader(body))
	defer fr.Close()
	out, err := io.ReadAll(fr)
	if err != nil {
		return nil, fmt.Errorf("inflate body: %w", err)
	}
	return out, nil
}

// RequestCount returns the number of requests issued, retries included.
func (f *Fetcher) RequestCount() int {
	return int(f.requestCount.Load())
}

// TotalRetries returns the number of retries scheduled so far.
func (f *Fetcher) TotalRetries() int {
	return f.retry.TotalRetries()
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
	}

	if err == nil {
		return fmt.Errorf("http status %d", statusCode)
	}
	return err
}
