// Package db implements C13: a dual read/write pgx connection-pool
// manager with exponential-backoff-with-jitter retry for transient
// failures and pool recreation after exhausted retries. Grounded on
// internal/repository/db.go's (pgxpool.ParseConfig/
// NewWithConfig wiring, pgvector type registration) and
// original_source/rag_service/services/database_manager.py
// (DatabaseManager: separate read/write SimpleConnectionPools,
// retry_on_connection_error's exponential+jitter schedule, and
// _recreate_pools), re-expressed with pgxpool instead of psycopg2's
// blocking pool.
package db

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/normex/ragbox-normex/internal/apperr"
)

// Config tunes pool sizing and the retry schedule, per the DB
// config options.
type Config struct {
	MinConns   int32
	MaxConns   int32
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultConfig mirrors rag_service's connection pool defaults.
func DefaultConfig() Config {
	return Config{MinConns: 1, MaxConns: 10, MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 60 * time.Second}
}

// Manager owns the independent read and write pools and the retry
// policy guarding every operation against them.
type Manager struct {
	connString string
	cfg        Config

	mu        sync.RWMutex
	readPool  *pgxpool.Pool
	writePool *pgxpool.Pool
}

// NewManager dials both pools and returns a ready Manager.
func NewManager(ctx context.Context, connString string, cfg Config) (*Manager, error) {
	m := &Manager{connString: connString, cfg: cfg}
	if err := m.initPools(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initPools(ctx context.Context) error {
	read, err := newPool(ctx, m.connString, m.cfg)
	if err != nil {
		return apperr.New("db.initPools", apperr.Fatal, err)
	}
	write, err := newPool(ctx, m.connString, m.cfg)
	if err != nil {
		read.Close()
		return apperr.New("db.initPools", apperr.Fatal, err)
	}

	m.mu.Lock()
	m.readPool = read
	m.writePool = write
	m.mu.Unlock()
	return nil
}

func newPool(ctx context.Context, connString string, cfg Config) (*pgxpool.Pool, error) {
	parsed, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		parsed.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		parsed.MinConns = cfg.MinConns
	}
	parsed.HealthCheckPeriod = 30 * time.Second
	parsed.MaxConnLifetime = time.Hour
	parsed.MaxConnIdleTime = 15 * time.Minute
	parsed.AfterConnect = pgxvector.RegisterTypes

	pool, err := pgxpool.NewWithConfig(ctx, parsed)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// recreatePools closes and reinitializes both pools after retries are
// exhausted on a fatal transport error.
func (m *Manager) recreatePools(ctx context.Context) error {
	m.mu.Lock()
	oldRead, oldWrite := m.readPool, m.writePool
	m.mu.Unlock()

	if oldRead != nil {
		oldRead.Close()
	}
	if oldWrite != nil {
		oldWrite.Close()
	}
	return m.initPools(ctx)
}

func (m *Manager) pool(write bool) *pgxpool.Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if write {
		return m.writePool
	}
	return m.readPool
}

// Close releases both pools.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readPool != nil {
		m.readPool.Close()
	}
	if m.writePool != nil {
		m.writePool.Close()
	}
}

// withRetry runs op against the read or write pool, retrying transient
// pgx errors with exponential backoff and U(0.1,0.3) jitter, capped at
// cfg.MaxDelay, up to cfg.MaxRetries times. Non-retryable errors (any
// error not classified as Transient) propagate immediately. After
// exhausting retries, pools are recreated and the last error is wrapped
// as Fatal.
func withRetry[T any](ctx context.Context, m *Manager, write bool, op func(*pgxpool.Pool) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		pool := m.pool(write)
		if pool == nil {
			lastErr = fmt.Errorf("pool not initialized")
			break
		}

		result, err := op(pool)
		if err == nil {
			return result, nil
		}
		if !isRetryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt == m.cfg.MaxRetries {
			break
		}

		delay := backoffDelay(m.cfg.BaseDelay, m.cfg.MaxDelay, attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	if err := m.recreatePools(ctx); err != nil {
		return zero, apperr.New("db.withRetry", apperr.Fatal, err)
	}
	return zero, apperr.New("db.withRetry", apperr.Fatal, lastErr)
}

// backoffDelay computes base*2^attempt capped at maxDelay, plus jitter
// in U(0.1, 0.3)*delay.
func backoffDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	delay := base * time.Duration(1<<uint(attempt))
	if delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(float64(delay) * (0.1 + rand.Float64()*0.2))
	return delay + jitter
}

// isRetryable classifies a pgx-surfaced error as transient (connection
// reset, timeout) versus a syntax/constraint error that should
// propagate immediately.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Constraint violations (23xxx) and syntax errors (42xxx) are
		// non-retryable; everything else surfaced by pgx as a wrapped
		// driver error is treated as transient.
		state := pgErr.Code
		if len(state) >= 2 && (state[:2] == "23" || state[:2] == "42") {
			return false
		}
	}
	return true
}

// isPgCode reports whether err wraps a *pgconn.PgError with the given
// SQLSTATE code.
func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
