package pipeline

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-bestsellers/config"
)

// TableWriter persists tables.
type TableWriter interface {
	WriteTable(t *Table) error
	Close() error
	Validate() error
}

// NewTableWriter returns the sink selected by cfg.OutputFormat for the named
// output. File sinks live under cfg.OutputDir.
func NewTableWriter(ctx context.Context, cfg *config.Config, name string) (TableWriter, error) {
	path := filepath.Join(cfg.OutputDir, name)
	switch cfg.OutputFormat {
	case "csv":
		return NewCSVWriter(path)
	case "json":
		return NewJSONWriter(jsonName(path))
	case "dual":
		return NewDualWriter(path, jsonName(path))
	case "postgres":
		return NewPostgresWriter(ctx, cfg.PostgresDSN, cfg.PostgresSchema, tableName(name))
	default:
		return nil, fmt.Errorf("unsupported format: %s", cfg.OutputFormat)
	}
}

func jsonName(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".jsonl"
}

// CSVWriter writes tables to CSV. The first column carries the 0-based row
// index under an empty header.
type CSVWriter struct {
	file    *os.File
	writer  *csv.Writer
	mu      sync.Mutex
	columns []string
	next    int
}

// NewCSVWriter creates the output file. The header is written with the first table.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: csv.NewWriter(f),
	}, nil
}

// WriteTable appends the table's rows, writing the header on first use.
func (cw *CSVWriter) WriteTable(t *Table) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.columns == nil {
		cw.columns = t.Columns()
		header := append([]string{""}, cw.columns...)
		if err := cw.writer.Write(header); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	} else if !sameColumns(cw.columns, t.Columns()) {
		return fmt.Errorf("csv columns changed: have %v, got %v", cw.columns, t.Columns())
	}

	for _, row := range t.Rows() {
		record := append([]string{strconv.Itoa(cw.next)}, row...)
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
		cw.next++
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures at least the header reached the file.
func (cw *CSVWriter) Validate() error {
	info, err := cw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// JSONWriter writes one JSON object per row, keyed by column name.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
	written bool
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// WriteTable appends rows in JSONL format.
func (jw *JSONWriter) WriteTable(t *Table) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	columns := t.Columns()
	for _, row := range t.Rows() {
		record := make(map[string]string, len(columns))
		for i, col := range columns {
			record[col] = row[i]
		}
		if err := jw.encoder.Encode(record); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	jw.written = true
	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures a table was written. An empty table leaves an empty file.
func (jw *JSONWriter) Validate() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	if !jw.written {
		return fmt.Errorf("json file %s was never written", jw.file.Name())
	}
	return nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
