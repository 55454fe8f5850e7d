// Package posdata reads receiver position logs and turns their rows into
// position samples.
package posdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/large-farva/gdoper/internal/geo"
)

var (
	ErrMissingChannel = errors.New("missing channel")
	ErrMalformedRow   = errors.New("malformed row")
)

// ChannelError names a required column the log does not have.
type ChannelError struct {
	Channel string
	Have    []string
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%v %q (log has %s)", ErrMissingChannel, e.Channel, strings.Join(e.Have, ", "))
}

func (e *ChannelError) Unwrap() error { return ErrMissingChannel }

// RowError reports a cell that could not be interpreted.
type RowError struct {
	Row    int // zero-based data row
	Column string
	Value  string
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%v %d: column %q value %q: %v", ErrMalformedRow, e.Row, e.Column, e.Value, e.Err)
}

func (e *RowError) Is(target error) bool { return target == ErrMalformedRow }

func (e *RowError) Unwrap() error { return e.Err }

// Log is a column-addressable table of raw cells, read once and never
// modified.
type Log struct {
	columns []string
	index   map[string]int
	rows    [][]string
}

func newLog(columns []string) *Log {
	l := &Log{columns: columns, index: make(map[string]int, len(columns))}
	for i, c := range columns {
		if _, dup := l.index[c]; !dup {
			l.index[c] = i
		}
	}
	return l
}

// ReadCSV reads a log whose first record is the header. Header names are
// trimmed of surrounding whitespace.
func ReadCSV(r io.Reader) (*Log, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("position log is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	l := newLog(header)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", len(l.rows), err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		l.rows = append(l.rows, rec)
	}
	return l, nil
}

// Columns returns the header names in file order.
func (l *Log) Columns() []string { return l.columns }

// Len returns the number of data rows.
func (l *Log) Len() int { return len(l.rows) }

// Has reports whether the log carries column name.
func (l *Log) Has(name string) bool {
	_, ok := l.index[name]
	return ok
}

// Value returns the cell at row for column name, or "" when the row is short.
func (l *Log) Value(row int, name string) string {
	i, ok := l.index[name]
	if !ok || row < 0 || row >= len(l.rows) || i >= len(l.rows[row]) {
		return ""
	}
	return strings.TrimSpace(l.rows[row][i])
}

// Require fails with a *ChannelError for the first name the log lacks.
func (l *Log) Require(names []string) error {
	for _, n := range names {
		if !l.Has(n) {
			return &ChannelError{Channel: n, Have: l.columns}
		}
	}
	return nil
}

// Sample is one row of the log interpreted as a receiver fix.
type Sample struct {
	Row      int
	Time     time.Time
	Position geo.LLA
	Visible  int
	Raw      map[string]string // cells of the required columns
}

// Samples interprets every row. The time column is always read; position and
// visible count are read when their channel is required. Raw keeps the cells
// of every required column. Rows must be in non-decreasing time order.
func (l *Log) Samples(cols Columns, required []Channel) ([]Sample, error) {
	need := map[Channel]bool{UTC: true}
	for _, ch := range required {
		need[ch] = true
	}
	names := cols.Names(required)
	utcName := cols.Name(UTC)
	if err := l.Require(append([]string{utcName}, names...)); err != nil {
		return nil, err
	}

	out := make([]Sample, 0, len(l.rows))
	var prev time.Time
	for row := range l.rows {
		s := Sample{Row: row, Raw: make(map[string]string, len(names))}

		v := l.Value(row, utcName)
		t, err := ParseTime(v)
		if err != nil {
			return nil, &RowError{Row: row, Column: utcName, Value: v, Err: err}
		}
		if row > 0 && t.Before(prev) {
			return nil, &RowError{Row: row, Column: utcName, Value: v, Err: errors.New("time goes backwards")}
		}
		s.Time, prev = t, t

		floats := []struct {
			ch  Channel
			dst *float64
		}{
			{Latitude, &s.Position.Lat},
			{Longitude, &s.Position.Lon},
			{Altitude, &s.Position.Alt},
		}
		for _, f := range floats {
			if !need[f.ch] {
				continue
			}
			if *f.dst, err = l.float(row, cols.Name(f.ch)); err != nil {
				return nil, err
			}
		}

		if need[Visible] {
			n, err := l.float(row, cols.Name(Visible))
			if err != nil {
				return nil, err
			}
			if n < 0 || n != math.Trunc(n) {
				return nil, &RowError{Row: row, Column: cols.Name(Visible), Value: l.Value(row, cols.Name(Visible)),
					Err: errors.New("not a satellite count")}
			}
			s.Visible = int(n)
		}

		for _, n := range names {
			s.Raw[n] = l.Value(row, n)
		}
		out = append(out, s)
	}
	return out, nil
}

func (l *Log) float(row int, name string) (float64, error) {
	v := l.Value(row, name)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &RowError{Row: row, Column: name, Value: v, Err: err}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &RowError{Row: row, Column: name, Value: v, Err: errors.New("not finite")}
	}
	return f, nil
}
