// Package store implements the QueryExecutor and SchemaProvider capabilities
// on top of database/sql with the pure-Go sqlite driver.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tablepilot-core-poc/server/internal/pipeline/model"
	logx "github.com/tablepilot-core-poc/server/pkg/logger"
)

// SQLExecutor runs read queries against a sqlite database and exposes its
// schema as grounding text.
type SQLExecutor struct {
	db *sql.DB
}

func NewSQLExecutor(db *sql.DB) *SQLExecutor {
	return &SQLExecutor{db: db}
}

// Schema returns all CREATE statements for tables, indexes, views and
// triggers, joined into a single string.
func (e *SQLExecutor) Schema(ctx context.Context) (string, error) {
	rows, err := e.db.QueryContext(ctx,
		"SELECT sql FROM sqlite_master WHERE type IN ('table','index','view','trigger') AND sql IS NOT NULL")
	if err != nil {
		return "", fmt.Errorf("fetch schema: %w", err)
	}
	defer rows.Close()

	var out string
	count := 0
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", fmt.Errorf("scan schema row: %w", err)
		}
		if count > 0 {
			out += "\n"
		}
		out += stmt
		count++
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("read schema rows: %w", err)
	}
	if count == 0 {
		return "", fmt.Errorf("no schema objects found")
	}
	return out, nil
}

// Run executes the query and returns columns plus rows. Zero rows is
// reported as model.ErrNoRows so callers can map it to an empty result.
func (e *SQLExecutor) Run(ctx context.Context, query string) (*model.QueryResult, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		logx.Error().Err(err).Str("query", query).Msg("query execution failed")
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	result := &model.QueryResult{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			// sqlite hands text back as []byte; normalize for downstream use.
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	if len(result.Rows) == 0 {
		return nil, model.ErrNoRows
	}
	return result, nil
}

var _ model.QueryExecutor = (*SQLExecutor)(nil)
var _ model.SchemaProvider = (*SQLExecutor)(nil)
