package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
)

// Session is a dedicated connection owned by a single goroutine.
// It is not safe for concurrent use.
type Session struct {
	conn *sqlx.Conn
	db   *DB
}

// Dialect returns the backend dialect
func (s *Session) Dialect() *Dialect {
	return s.db.dialect
}

// ExecContext executes a command on the session connection
func (s *Session) ExecContext(ctx context.Context, queryType, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	result, err := s.conn.ExecContext(ctx, s.db.dialect.Rebind(query), args...)
	s.db.observe(ctx, queryType, "exec_error", start, err)
	return result, err
}

// SelectContext executes a query that returns multiple rows
func (s *Session) SelectContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	start := time.Now()
	err := sqlx.SelectContext(ctx, s.conn, dest, s.db.dialect.Rebind(query), args...)
	s.db.observe(ctx, queryType, "select_error", start, err)
	return err
}

// BeginTx begins a transaction on the session connection
func (s *Session) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		s.db.metrics.RecordDBError("transaction_begin_error")
		return nil, err
	}
	return &Tx{tx: tx, db: s.db}, nil
}

// Close returns the connection to the pool
func (s *Session) Close() error {
	return s.conn.Close()
}

// Tx is an instrumented transaction
type Tx struct {
	tx *sqlx.Tx
	db *DB
}

// Dialect returns the backend dialect
func (t *Tx) Dialect() *Dialect {
	return t.db.dialect
}

// ExecContext executes a command inside the transaction
func (t *Tx) ExecContext(ctx context.Context, queryType, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	result, err := t.tx.ExecContext(ctx, t.db.dialect.Rebind(query), args...)
	t.db.observe(ctx, queryType, "exec_error", start, err)
	return result, err
}

// Commit commits the transaction
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		t.db.metrics.RecordDBError("transaction_commit_error")
		return err
	}
	return nil
}

// Rollback aborts the transaction. Rolling back a finished transaction is a no-op.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return err
	}
	return nil
}
