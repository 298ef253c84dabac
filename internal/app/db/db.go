/*
Package db opens the message database and implements the message store and
the user directory on top of it.

Postgres (through a pgx pool) is the production backend; SQLite is used for
local development and tests. Both share one schema and one sqlx-based store,
with placeholders rebound per driver.
*/
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// goose keeps its dialect and filesystem in package globals.
var migrateMu sync.Mutex

// Open connects to the database selected by driver and applies pending migrations.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverPostgres:
		return OpenPostgres(dsn)
	case DriverSQLite:
		return OpenSQLite(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// OpenPostgres creates a pgx connection pool, exposes it through database/sql
// for sqlx and goose, and runs migrations.
func OpenPostgres(dsn string) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)

	if err := runMigrations(sqlDB, DriverPostgres); err != nil {
		sqlDB.Close()
		pool.Close()
		return nil, err
	}

	store := newStore(sqlx.NewDb(sqlDB, "pgx"))
	store.closers = append(store.closers, func() error {
		pool.Close()
		return nil
	})

	return store, nil
}

// OpenSQLite opens (or creates) a SQLite database and runs migrations.
// The handle is limited to one connection so that ":memory:" databases are
// shared by every query and writes are serialized.
func OpenSQLite(dsn string) (*Store, error) {
	conn, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := runMigrations(conn.DB, DriverSQLite); err != nil {
		conn.Close()
		return nil, err
	}

	return newStore(conn), nil
}

// runMigrations applies all pending migrations from the embedded filesystem.
func runMigrations(db *sql.DB, dialect string) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}
