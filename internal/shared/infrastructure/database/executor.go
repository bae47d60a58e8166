package database

import (
	"context"
	"database/sql"
)

// Row represents a single result row.
// It abstracts pgx.Row and *sql.Row.
type Row interface {
	Scan(dest ...any) error
}

// Result represents the result of an Exec operation.
type Result interface {
	RowsAffected() (int64, error)
}

// Executor runs statements regardless of the underlying driver.
type Executor interface {
	// Exec executes a statement that doesn't return rows.
	Exec(ctx context.Context, query string, args ...any) (Result, error)

	// QueryRow executes a query that returns at most one row.
	QueryRow(ctx context.Context, query string, args ...any) Row
}

// Connection is a process-wide handle to the relational store.
// Implementations hold no per-call mutable state and are safe for concurrent use.
type Connection interface {
	Executor
	// Close releases the underlying pool.
	Close() error
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
	// Driver returns the driver type for this connection.
	Driver() Driver
	// InTx runs fn inside a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Executor) error) error
}

type sqlResult struct {
	result sql.Result
}

func (r *sqlResult) RowsAffected() (int64, error) {
	return r.result.RowsAffected()
}

// WrapSQLResult wraps a sql.Result to implement the Result interface.
func WrapSQLResult(r sql.Result) Result {
	return &sqlResult{result: r}
}
