package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sethvargo/go-retry"
)

// DB wraps the database connection and provides health checks
type DB struct {
	conn *sqlx.DB

	retryAttempts uint64
	retryDelay    time.Duration
}

// DBConfig holds database configuration
type DBConfig struct {
	DSN string

	// Pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Reconnect behaviour for queries hitting a dropped connection
	RetryAttempts uint64
	RetryDelay    time.Duration
}

// DefaultDBConfig returns default database configuration
func DefaultDBConfig() DBConfig {
	return DBConfig{
		DSN: "postgres://postgres@localhost:5432/gasoracle?sslmode=disable",

		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		RetryAttempts: 5,
		RetryDelay:    2 * time.Second,
	}
}

// NewDB connects to PostgreSQL, retrying while the server is unreachable.
func NewDB(ctx context.Context, cfg DBConfig) (*DB, error) {
	db := &DB{
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
	}

	err := db.withRetry(ctx, func(ctx context.Context) error {
		conn, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
		if err != nil {
			return err
		}
		db.conn = conn
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.conn.SetMaxOpenConns(cfg.MaxOpenConns)
	db.conn.SetMaxIdleConns(cfg.MaxIdleConns)
	db.conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks if the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Health returns the health status of the database
func (db *DB) Health(ctx context.Context) error {
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := db.conn.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}

	return nil
}

// Conn returns the underlying sqlx connection
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// withRetry runs op and repeats it after a fixed delay while it fails on a
// lost connection. Any other error is returned immediately.
func (db *DB) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(db.retryAttempts, retry.NewConstant(db.retryDelay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := op(ctx)
		if err != nil && isConnectionError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// withWriteRetry is withRetry for statements that must not run twice. A lost
// connection mid-statement leaves the outcome unknown, so only errors raised
// before the statement reached the server are retried.
func (db *DB) withWriteRetry(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(db.retryAttempts, retry.NewConstant(db.retryDelay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := op(ctx)
		if err != nil && isUnsentError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// errCommitUnknown marks a commit whose outcome could not be observed.
var errCommitUnknown = errors.New("transaction commit outcome unknown")

// inTx runs fn inside a transaction. Connection loss before COMMIT rolls the
// transaction back on the server, so the whole transaction is retried; a lost
// COMMIT is retried only when it never left the client.
func (db *DB) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return db.withRetry(ctx, func(ctx context.Context) error {
		tx, err := db.conn.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}

		return commitErr(tx.Commit())
	})
}

func commitErr(err error) error {
	if err == nil || !isConnectionError(err) || isUnsentError(err) {
		return err
	}
	return fmt.Errorf("%w: %s", errCommitUnknown, err.Error())
}

// isUnsentError reports whether err guarantees the server never executed the
// statement: the driver rejected the connection up front, the dial failed, or
// the server refused the connection before accepting work.
func isUnsentError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 08001 unable to connect, 08004 connection rejected, 57P03 cannot connect now
		switch pqErr.Code {
		case "08001", "08004", "57P03":
			return true
		}
		return false
	}

	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// isConnectionError reports whether err means the connection itself is gone.
func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 08: connection exception; 57P01-57P03: server shutting down or unavailable
		switch {
		case pqErr.Code.Class() == "08":
			return true
		case pqErr.Code == "57P01", pqErr.Code == "57P02", pqErr.Code == "57P03":
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
