package table

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// WriteSQLite stores the table in the database at path under name, replacing
// any previous table of that name. Real columns get REAL affinity so numeric
// cells are stored as numbers.
func (t *Table) WriteSQLite(ctx context.Context, path, name string) error {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tbl := quoteIdent(name)
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+tbl); err != nil {
		return fmt.Errorf("dropping %s: %w", name, err)
	}

	defs := make([]string, len(t.columns))
	cols := make([]string, len(t.columns))
	marks := make([]string, len(t.columns))
	for i, c := range t.columns {
		typ := "TEXT"
		if c.Kind == Real {
			typ = "REAL"
		}
		cols[i] = quoteIdent(c.Name)
		defs[i] = cols[i] + " " + typ
		marks[i] = "?"
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", tbl, strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("%v: %s", err, create)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		tbl, strings.Join(cols, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return err
	}
	defer stmt.Close()

	args := make([]any, len(t.columns))
	for r, row := range t.rows {
		for i, cell := range row {
			args[i] = cell
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("inserting row %d: %w", r, err)
		}
	}

	return tx.Commit()
}

// dsn builds a URI filename for path. Characters such as '?' and '#' are
// percent-encoded so they stay part of the file name.
func dsn(path string) string {
	u := url.URL{Path: path}
	return "file:" + u.EscapedPath() + "?_busy_timeout=5000"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
