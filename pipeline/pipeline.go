// Package pipeline collects harvested products into a table and writes
// tables to their sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-bestsellers/config"
	"github.com/aluiziolira/go-scrape-bestsellers/models"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers fail to drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

var drainTimeout = 30 * time.Second

const fallbackDedupeSize = 4096

// Pipeline is the shared result collection for concurrent harvest tasks.
// Any number of goroutines may call Process; workers drain the channel into
// the product table, which is readable once Close returns.
type Pipeline struct {
	ctx       context.Context
	logger    *slog.Logger
	productCh chan *models.Product
	batchSize int

	wg sync.WaitGroup

	seen *lru.Cache[string, struct{}]

	tableMu sync.Mutex
	table   *Table

	metrics metrics

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline sized from cfg.
func NewPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}

	bufferSize := cfg.PipelineBufferSize
	if bufferSize <= 0 {
		bufferSize = 512
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	seen, err := lru.New[string, struct{}](cfg.DedupeMaxSize)
	if err != nil {
		seen, _ = lru.New[string, struct{}](fallbackDedupeSize)
	}

	return &Pipeline{
		ctx:       ctx,
		logger:    logger,
		productCh: make(chan *models.Product, bufferSize),
		batchSize: batchSize,
		seen:      seen,
		table:     NewTable(ProductColumns...),
		metrics:   newMetrics(),
		shutdown:  make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues products for collection. Nil entries are counted and dropped.
func (p *Pipeline) Process(products ...*models.Product) error {
	if len(products) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, product := range products {
		if product == nil {
			p.metrics.addValidation("invalid_record")
			continue
		}
		if err := p.enqueue(product); err != nil {
			return err
		}
	}
	return nil
}

// Close stops intake and waits for workers to drain pending products.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.productCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrPipelineCloseTimeout, drainTimeout)
	}
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Table returns a snapshot of the collected product table.
func (p *Pipeline) Table() *Table {
	p.tableMu.Lock()
	defer p.tableMu.Unlock()
	return p.table.clone()
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs until Close or ctx is done.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				metrics := p.GetMetrics()
				processed := metrics["processed_products"].(int64)
				validation := metrics["validation_errors"].(map[string]int)
				p.logger.Info("pipeline progress",
					slog.Int64("processed", processed),
					slog.Int("validation_errors", len(validation)),
				)
			case <-p.shutdown:
				return
			case <-p.ctx.Done():
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]*models.Product, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.appendRows(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for product := range p.productCh {
		prepared := p.prepare(product)
		if prepared == nil {
			continue
		}
		batch = append(batch, prepared)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("append batch: %w", err))
				return
			}
		}
	}

	if err := flush(); err != nil {
		p.setErr(fmt.Errorf("append batch: %w", err))
	}
}

func (p *Pipeline) appendRows(batch []*models.Product) error {
	p.tableMu.Lock()
	defer p.tableMu.Unlock()
	for _, product := range batch {
		if err := p.table.Append(product.Fields()...); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) prepare(product *models.Product) *models.Product {
	if product.URL != "" {
		if found, _ := p.seen.ContainsOrAdd(product.URL, struct{}{}); found {
			p.metrics.addValidation("duplicate_url")
			p.logger.Debug("duplicate product dropped", slog.String("url", product.URL))
			return nil
		}
	}

	p.metrics.incrementProcessed()
	return product
}

func (p *Pipeline) enqueue(product *models.Product) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.productCh <- product:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.productCh)
	})
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_products": m.processed,
		"validation_errors":  copyValidation,
	}
}
