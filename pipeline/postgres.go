package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresBatchSize = 200

// PostgresWriter stores tables in a Postgres table named after the output.
// Every column is TEXT; row_index keeps the table's row order.
type PostgresWriter struct {
	ctx    context.Context
	pool   *pgxpool.Pool
	target string
	next   int
}

// NewPostgresWriter opens a small pool against dsn.
func NewPostgresWriter(ctx context.Context, dsn, schema, table string) (*PostgresWriter, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if schema == "" {
		schema = "public"
	}

	return &PostgresWriter{
		ctx:    ctx,
		pool:   pool,
		target: pgx.Identifier{schema, table}.Sanitize(),
	}, nil
}

// WriteTable creates the target table if needed and inserts every row.
func (pw *PostgresWriter) WriteTable(t *Table) error {
	columns := t.Columns()
	if _, err := pw.pool.Exec(pw.ctx, createTableSQL(pw.target, columns)); err != nil {
		return fmt.Errorf("create table %s: %w", pw.target, err)
	}

	insert := insertSQL(pw.target, columns)
	rows := t.Rows()
	for i := 0; i < len(rows); i += postgresBatchSize {
		j := i + postgresBatchSize
		if j > len(rows) {
			j = len(rows)
		}

		b := &pgx.Batch{}
		for _, row := range rows[i:j] {
			args := make([]any, 0, len(row)+1)
			args = append(args, pw.next)
			for _, v := range row {
				args = append(args, v)
			}
			b.Queue(insert, args...)
			pw.next++
		}

		br := pw.pool.SendBatch(pw.ctx, b)
		for k := i; k < j; k++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("insert into %s: %w", pw.target, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("close batch: %w", err)
		}
	}
	return nil
}

// Close releases the pool.
func (pw *PostgresWriter) Close() error {
	pw.pool.Close()
	return nil
}

// Validate checks the database is still reachable.
func (pw *PostgresWriter) Validate() error {
	if err := pw.pool.Ping(pw.ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func tableName(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func createTableSQL(target string, columns []string) string {
	defs := make([]string, 0, len(columns)+1)
	defs = append(defs, "row_index INTEGER NOT NULL")
	for _, col := range columns {
		defs = append(defs, pgx.Identifier{col}.Sanitize()+" TEXT NOT NULL")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", target, strings.Join(defs, ", "))
}

func insertSQL(target string, columns []string) string {
	names := make([]string, 0, len(columns)+1)
	params := make([]string, 0, len(columns)+1)
	names = append(names, "row_index")
	params = append(params, "$1")
	for i, col := range columns {
		names = append(names, pgx.Identifier{col}.Sanitize())
		params = append(params, fmt.Sprintf("$%d", i+2))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", target, strings.Join(names, ", "), strings.Join(params, ", "))
}
