// Package persistence provides the PostgreSQL-backed storage layer:
// the shared connection pool, narrow repositories over a
// caller-supplied querier, the transactional article storage service,
// and embedded schema migrations.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DefaultCommandTimeout bounds individual statements issued by the
// batch driver.
const DefaultCommandTimeout = 60 * time.Second

// PostgresDB wraps the shared connection pool. Workers acquire a
// dedicated connection per unit of work and release it on all paths.
type PostgresDB struct {
	db             *sql.DB
	commandTimeout time.Duration
}

// NewPostgresDB opens a pool sized for the given worker concurrency:
// up to 2N open connections with N kept idle.
func NewPostgresDB(connectionString string, concurrency int) (*PostgresDB, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(2 * concurrency)
	db.SetMaxIdleConns(concurrency)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{db: db, commandTimeout: DefaultCommandTimeout}, nil
}

// Conn checks a dedicated connection out of the pool. The caller must
// close it.
func (p *PostgresDB) Conn(ctx context.Context) (*sql.Conn, error) {
	return p.db.Conn(ctx)
}

// Querier exposes the pool for repositories that run standalone
// queries outside a per-task session.
func (p *PostgresDB) Querier() Querier {
	return p.db
}

// CommandTimeout is the per-statement deadline callers should apply.
func (p *PostgresDB) CommandTimeout() time.Duration {
	return p.commandTimeout
}

func (p *PostgresDB) Close() error {
	return p.db.Close()
}

func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
