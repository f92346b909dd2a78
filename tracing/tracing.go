// Package tracing sets up the OpenTelemetry tracer provider that records a
// client span for every request the scraper sends.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/aluiziolira/go-scrape-bestsellers/config"
)

// ServiceName is reported on every exported span.
const ServiceName = "bestseller-scraper"

// Options configures New. Writer takes precedence over Output.
type Options struct {
	Output string
	Writer io.Writer
}

// OptionsFromConfig maps cfg onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{Output: cfg.TraceOutput}
}

// Enabled reports whether New will build a provider.
func (o Options) Enabled() bool {
	return o.Writer != nil || o.Output != ""
}

// Provider is a tracer provider together with the sink it exports to.
type Provider struct {
	*sdktrace.TracerProvider
	file *os.File
}

// New builds a provider exporting spans as JSON lines. It returns nil when
// tracing is disabled.
func New(opts Options) (*Provider, error) {
	if !opts.Enabled() {
		return nil, nil
	}

	w := opts.Writer
	var file *os.File
	if w == nil {
		switch opts.Output {
		case "stdout":
			w = os.Stdout
		default:
			if dir := filepath.Dir(opts.Output); dir != "" && dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("create trace directory: %w", err)
				}
			}
			f, err := os.OpenFile(opts.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open trace file: %w", err)
			}
			w, file = f, f
		}
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		if file != nil {
			_ = file.Close()
		}
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", ServiceName),
		)),
	)
	return &Provider{TracerProvider: tp, file: file}, nil
}

// Shutdown flushes pending spans and closes the trace file.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	err := p.TracerProvider.Shutdown(ctx)
	if p.file != nil {
		err = errors.Join(err, p.file.Close())
	}
	return err
}
