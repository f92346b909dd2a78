package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-bestsellers/config"
	"github.com/aluiziolira/go-scrape-bestsellers/models"
)

func testProduct(i int) *models.Product {
	return &models.Product{
		Name:          "Product " + strconv.Itoa(i),
		Price:         "$10.00",
		ReviewCount:   "12 ratings",
		OverallRating: "4.0 out of 5 stars",
		Availability:  "In Stock.",
		URL:           "http://example.test/dp/" + strconv.Itoa(i),
	}
}

func TestPipelineProcessDropsNilAndDuplicates(t *testing.T) {
	cfg := config.DefaultConfig()
	p := NewPipeline(context.Background(), cfg, nil)
	p.Start(1)

	valid := testProduct(1)
	duplicate := testProduct(1)

	if err := p.Process(valid, nil, duplicate); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := p.Table().Len(); got != 1 {
		t.Fatalf("rows = %d, want 1", got)
	}

	metrics := p.GetMetrics()
	validation, ok := metrics["validation_errors"].(map[string]int)
	if !ok {
		t.Fatalf("expected validation errors map")
	}
	if validation["invalid_record"] == 0 {
		t.Fatalf("expected invalid_record validation error")
	}
	if validation["duplicate_url"] == 0 {
		t.Fatalf("expected duplicate_url validation error")
	}
	if processed := metrics["processed_products"].(int64); processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}
}

func TestPipelineKeepsProductsWithoutURL(t *testing.T) {
	p := NewPipeline(context.Background(), config.DefaultConfig(), nil)
	p.Start(1)

	a := &models.Product{Name: "a", Price: "1", ReviewCount: "1", OverallRating: "1", Availability: "1"}
	b := &models.Product{Name: "a", Price: "1", ReviewCount: "1", OverallRating: "1", Availability: "1"}
	if err := p.Process(a, b); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := p.Table().Len(); got != 2 {
		t.Fatalf("rows = %d, want 2", got)
	}
}

func TestPipelineConcurrentProcess(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.PipelineBufferSize = 8
	cfg.BatchSize = 7
	p := NewPipeline(context.Background(), cfg, nil)
	p.Start(4)

	const producers = 500
	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := p.Process(testProduct(i)); err != nil {
				t.Errorf("process %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	table := p.Table()
	if table.Len() != producers {
		t.Fatalf("rows = %d, want %d", table.Len(), producers)
	}
	names := columnValues(t, table, "Product Name")
	sort.Strings(names)
	for i := 1; i < len(names); i++ {
		if names[i] == names[i-1] {
			t.Fatalf("duplicate row %q", names[i])
		}
	}
}

func TestPipelineCloseDrainsPendingItems(t *testing.T) {
	cfg := config.DefaultConfig()
	p := NewPipeline(context.Background(), cfg, nil)
	p.Start(2)

	for i := 0; i < 100; i++ {
		if err := p.Process(testProduct(i + 200)); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := p.Table().Len(); got != 100 {
		t.Fatalf("rows = %d, want 100", got)
	}
}

func TestPipelineProcessAfterClose(t *testing.T) {
	p := NewPipeline(context.Background(), config.DefaultConfig(), nil)
	p.Start(1)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Process(testProduct(1)); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("expected ErrPipelineClosed, got %v", err)
	}
}

func TestPipelineDedupeIsBounded(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DedupeMaxSize = 2
	cfg.BatchSize = 1
	p := NewPipeline(context.Background(), cfg, nil)
	p.Start(1)

	// With room for two keys, product 0 is evicted before it comes back.
	for _, i := range []int{0, 1, 2, 0} {
		if err := p.Process(testProduct(i)); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := p.Table().Len(); got != 4 {
		t.Fatalf("rows = %d, want 4", got)
	}
}

func TestPipelineCloseTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 1

	p := NewPipeline(context.Background(), cfg, nil)
	p.tableMu.Lock()
	p.Start(1)

	if err := p.Process(testProduct(1)); err != nil {
		t.Fatalf("process: %v", err)
	}

	previousTimeout := drainTimeout
	drainTimeout = 25 * time.Millisecond
	t.Cleanup(func() {
		drainTimeout = previousTimeout
		p.tableMu.Unlock()
	})

	if err := p.Close(); err == nil || !errors.Is(err, ErrPipelineCloseTimeout) {
		t.Fatalf("expected close timeout error, got %v", err)
	}
}

func BenchmarkPipelineThroughput(b *testing.B) {
	cfg := config.DefaultConfig()
	cfg.PipelineBufferSize = 1024
	cfg.DedupeMaxSize = 5000000

	for _, workers := range []int{1, 4, 16} {
		b.Run(fmt.Sprintf("workers=%d", workers), func(b *testing.B) {
			p := NewPipeline(context.Background(), cfg, nil)
			p.Start(workers)

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := p.Process(testProduct(i)); err != nil {
					b.Fatalf("process: %v", err)
				}
			}
			b.StopTimer()
			if err := p.Close(); err != nil {
				b.Fatalf("close: %v", err)
			}
		})
	}
}
