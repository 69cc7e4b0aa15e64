package model

import (
	"context"
	"errors"
)

// ErrNoRows is returned by a QueryExecutor when a structurally valid query
// produces zero rows. The pipeline treats it as an empty result, never as a
// crash.
var ErrNoRows = errors.New("no rows returned")

// QueryResult is the raw outcome of one executed query.
type QueryResult struct {
	Columns []string
	Rows    [][]any
}

// QueryExecutor runs a query string against the relational store. A query
// either returns at least one row or the executor reports ErrNoRows; there
// are no partial results.
type QueryExecutor interface {
	Run(ctx context.Context, query string) (*QueryResult, error)
}

// SchemaProvider returns a textual schema description used as grounding
// context for every model prompt in the pipeline.
type SchemaProvider interface {
	Schema(ctx context.Context) (string, error)
}

// ChartRenderer renders one prepared chart. The orchestrator calls it once
// per selected, successfully prepared visualization type.
type ChartRenderer interface {
	Render(ctx context.Context, chart PreparedChart) (*Figure, error)
}

// AuditRepository persists a run's append-only message trail. Persistence is
// best-effort: a failing audit write never changes a pipeline outcome.
type AuditRepository interface {
	SaveRun(ctx context.Context, runID string, messages []*AuditMessage) error
	LoadRun(ctx context.Context, runID string) ([]*AuditMessage, error)
	DeleteRun(ctx context.Context, runID string) error
}

// AuditMessage is the serialized form of one trail entry.
type AuditMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
