package pipeline

import (
	"errors"
	"fmt"
)

// LinkColumn is the single column of the link table.
const LinkColumn = "Product link page"

// ProductColumns are the product table columns, in models.Product.Fields order.
var ProductColumns = []string{
	"Product Name",
	"Price",
	"Review Nº",
	"Overall Rating:",
	"Stock Availability",
}

// ErrRowWidth is returned when a row does not match the table's column count.
var ErrRowWidth = errors.New("pipeline: row width does not match columns")

// Table is an ordered set of named columns. Row i across all columns
// describes one entity. A Table is not safe for concurrent use.
type Table struct {
	columns []string
	rows    [][]string
}

// NewTable creates an empty table with the given columns.
func NewTable(columns ...string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{columns: cols}
}

// LinkTable builds the link table, one row per link in the given order.
func LinkTable(links []string) *Table {
	t := NewTable(LinkColumn)
	for _, link := range links {
		t.rows = append(t.rows, []string{link})
	}
	return t
}

// Append adds one row.
func (t *Table) Append(row ...string) error {
	if len(row) != len(t.columns) {
		return fmt.Errorf("%w: got %d values for %d columns", ErrRowWidth, len(row), len(t.columns))
	}
	values := make([]string, len(row))
	copy(values, row)
	t.rows = append(t.rows, values)
	return nil
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Rows returns the rows in insertion order. Callers must not modify them.
func (t *Table) Rows() [][]string {
	return t.rows
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

func (t *Table) clone() *Table {
	out := NewTable(t.columns...)
	out.rows = make([][]string, len(t.rows))
	copy(out.rows, t.rows)
	return out
}
