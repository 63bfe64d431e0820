package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Executor wraps a TxQuerier and classifies driver errors before they
// reach callers. It is the "driver-error classifier" boundary: every
// query against a pool's tables goes through one so that a missing table
// always surfaces as a NoPoolError, regardless of which repository method
// triggered the query.
type Executor struct {
	querier TxQuerier
	pool    string
}

// NewExecutor wraps q for queries scoped to the named pool.
func NewExecutor(q TxQuerier, poolName string) *Executor {
	return &Executor{querier: q, pool: poolName}
}

// Exec implements TxQuerier.
func (e *Executor) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tag, err := e.querier.Exec(ctx, sql, args...)
	return tag, e.classify(err)
}

// QueryRow implements TxQuerier.
func (e *Executor) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return &classifyingRow{row: e.querier.QueryRow(ctx, sql, args...), classify: e.classify}
}

// Query implements TxQuerier.
func (e *Executor) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	rows, err := e.querier.Query(ctx, sql, args...)
	return rows, e.classify(err)
}

func (e *Executor) classify(err error) error {
	if err == nil {
		return nil
	}
	if ErrUndefinedTable(err) {
		return &NoPoolError{Pool: e.pool, Cause: err}
	}
	return err
}

// classifyingRow defers classification to Scan time, since pgx.Row is a
// lazy handle whose error only surfaces there.
type classifyingRow struct {
	row      pgx.Row
	classify func(error) error
}

func (r *classifyingRow) Scan(dest ...any) error {
	return r.classify(r.row.Scan(dest...))
}
