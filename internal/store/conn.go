package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/russross/meddler"
)

// ctxDB binds a context to *sql.DB so meddler queries honour cancellation.
type ctxDB struct {
	ctx context.Context
	db  *sql.DB
}

var _ meddler.DB = ctxDB{}

func (c ctxDB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return c.db.ExecContext(c.ctx, query, args...)
}

func (c ctxDB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return c.db.QueryContext(c.ctx, query, args...)
}

func (c ctxDB) QueryRow(query string, args ...interface{}) *sql.Row {
	return c.db.QueryRowContext(c.ctx, query, args...)
}

// insertStatement builds an INSERT for src from its meddler tags, running column converters.
// suffix is appended verbatim (ON CONFLICT clauses).
func insertStatement(table string, src interface{}, suffix string) (string, []interface{}, error) {
	columns, err := meddler.Default.Columns(src, true)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read columns of %T: %w", src, err)
	}

	placeholders, err := meddler.Default.PlaceholdersString(src, true)
	if err != nil {
		return "", nil, fmt.Errorf("failed to build placeholders of %T: %w", src, err)
	}

	values, err := meddler.Default.Values(src, true)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read values of %T: %w", src, err)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) %s",
		table, strings.Join(columns, ", "), placeholders, suffix)

	return query, values, nil
}
