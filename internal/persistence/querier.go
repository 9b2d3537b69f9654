package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is the statement surface shared by *sql.DB, *sql.Conn, and
// *sql.Tx. Repositories operate on whichever the caller supplies.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Tx is a unit-of-work boundary the storage service commits or rolls
// back.
type Tx interface {
	Querier
	Commit() error
	Rollback() error
}

// Session starts transactions on one underlying connection.
type Session interface {
	Querier
	Begin(ctx context.Context) (Tx, error)
}

// ConnSession is the normal session: real transactions on a dedicated
// pooled connection.
type ConnSession struct {
	conn *sql.Conn
}

// NewConnSession wraps a checked-out connection.
func NewConnSession(conn *sql.Conn) *ConnSession {
	return &ConnSession{conn: conn}
}

func (s *ConnSession) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, query, args...)
}

func (s *ConnSession) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.conn.QueryRowContext(ctx, query, args...)
}

func (s *ConnSession) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.conn.ExecContext(ctx, query, args...)
}

func (s *ConnSession) Begin(ctx context.Context) (Tx, error) {
	return s.conn.BeginTx(ctx, nil)
}

// SavepointSession emulates transactions with savepoints inside one
// outer transaction. Dry runs wrap a whole unit of work in an outer
// transaction that is always rolled back; the storage service still
// gets working commit/rollback semantics through the savepoints.
type SavepointSession struct {
	tx  *sql.Tx
	seq int
}

// NewSavepointSession wraps an already-open outer transaction. The
// caller owns the outer transaction and is expected to roll it back.
func NewSavepointSession(tx *sql.Tx) *SavepointSession {
	return &SavepointSession{tx: tx}
}

func (s *SavepointSession) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.tx.QueryContext(ctx, query, args...)
}

func (s *SavepointSession) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.tx.QueryRowContext(ctx, query, args...)
}

func (s *SavepointSession) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.tx.ExecContext(ctx, query, args...)
}

func (s *SavepointSession) Begin(ctx context.Context) (Tx, error) {
	s.seq++
	name := fmt.Sprintf("sp_%d", s.seq)
	if _, err := s.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return nil, fmt.Errorf("failed to create savepoint: %w", err)
	}
	return &savepointTx{tx: s.tx, name: name}, nil
}

type savepointTx struct {
	tx   *sql.Tx
	name string
	done bool
}

func (t *savepointTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *savepointTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *savepointTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *savepointTx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	_, err := t.tx.Exec("RELEASE SAVEPOINT " + t.name)
	return err
}

// Rollback after Commit is a no-op, matching *sql.Tx in a deferred
// rollback pattern.
func (t *savepointTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	_, err := t.tx.Exec("ROLLBACK TO SAVEPOINT " + t.name)
	return err
}
