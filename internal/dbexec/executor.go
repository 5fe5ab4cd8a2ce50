// Package dbexec provides the SQL execution seam used by the sql store.
// Queries run either directly against a pool, inside a transaction, or on
// a dedicated connection that first switches to a database role.
package dbexec

import (
	"context"
	"database/sql"
)

// Rows abstracts sql.Rows so executors can attach cleanup to Close.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// QueryExecutor runs SQL on behalf of the store.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// StandardExecutor executes queries directly against a database handle.
type StandardExecutor struct {
	db *sql.DB
}

// NewStandardExecutor creates an executor backed by db.
func NewStandardExecutor(db *sql.DB) *StandardExecutor {
	return &StandardExecutor{db: db}
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.QueryContext(ctx, query, args...)
}

func (e *StandardExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.ExecContext(ctx, query, args...)
}

// TxExecutor executes queries inside one transaction.
type TxExecutor struct {
	tx *sql.Tx
}

// NewTxExecutor creates an executor bound to tx.
func NewTxExecutor(tx *sql.Tx) *TxExecutor {
	return &TxExecutor{tx: tx}
}

func (e *TxExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.tx == nil {
		return nil, sql.ErrTxDone
	}
	return e.tx.QueryContext(ctx, query, args...)
}

func (e *TxExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if e.tx == nil {
		return nil, sql.ErrTxDone
	}
	return e.tx.ExecContext(ctx, query, args...)
}

// InTx runs fn with an executor bound to a new transaction, committing when
// fn succeeds and rolling back otherwise.
func InTx(ctx context.Context, db *sql.DB, fn func(QueryExecutor) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(NewTxExecutor(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
