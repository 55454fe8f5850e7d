// Package table holds the output of a run: named columns in insertion order,
// one cell per sampled row, and writers for CSV and SQLite.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Kind describes the values a column holds.
type Kind int

const (
	Text Kind = iota
	Real
)

// Column is a named output column.
type Column struct {
	Name string
	Kind Kind
}

// Table is built column-first, then row by row. Every row has a cell for
// every column.
type Table struct {
	columns []Column
	index   map[string]int
	rows    [][]string
}

// New returns an empty table.
func New() *Table {
	return &Table{index: make(map[string]int)}
}

// AddColumn appends a column. It reports false when name already exists.
// Columns cannot be added once rows have been appended.
func (t *Table) AddColumn(name string, kind Kind) (bool, error) {
	if _, ok := t.index[name]; ok {
		return false, nil
	}
	if len(t.rows) > 0 {
		return false, fmt.Errorf("adding column %q: table already has %d rows", name, len(t.rows))
	}
	t.index[name] = len(t.columns)
	t.columns = append(t.columns, Column{Name: name, Kind: kind})
	return true, nil
}

// Columns returns the columns in insertion order.
func (t *Table) Columns() []Column { return t.columns }

// Names returns the column names in insertion order.
func (t *Table) Names() []string {
	out := make([]string, len(t.columns))
	for i, c := range t.columns {
		out[i] = c.Name
	}
	return out
}

// Has reports whether name is a column.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Append adds a row whose cells follow column order.
func (t *Table) Append(cells []string) error {
	if len(cells) != len(t.columns) {
		return fmt.Errorf("row %d has %d cells, table has %d columns", len(t.rows), len(cells), len(t.columns))
	}
	t.rows = append(t.rows, append([]string(nil), cells...))
	return nil
}

// Row returns row i in column order.
func (t *Table) Row(i int) []string { return t.rows[i] }

// Column returns every cell of column name, or nil if there is no such column.
func (t *Table) Column(name string) []string {
	i, ok := t.index[name]
	if !ok {
		return nil
	}
	out := make([]string, len(t.rows))
	for r, row := range t.rows {
		out[r] = row[i]
	}
	return out
}

// FormatFloat renders a computed value in its shortest exact form.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteCSV writes a header line and then every row.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Names()); err != nil {
		return err
	}
	for _, row := range t.rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
