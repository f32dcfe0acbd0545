package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// DB is the persistence accessor for users and pets. Queries are written with
// '?' placeholders and rebound for the underlying driver.
type DB struct {
	x *sqlx.DB
}

func New(x *sqlx.DB) *DB {
	return &DB{x: x}
}

// Open connects with driver "sqlite3" or "pgx" and checks the connection.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	if driver == "sqlite3" {
		dsn = sqliteDSN(dsn)
	}
	x, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == "sqlite3" {
		// One connection keeps ":memory:" databases alive and serializes writers.
		x.SetMaxOpenConns(1)
	} else {
		x.SetMaxOpenConns(10)
		x.SetMaxIdleConns(5)
		x.SetConnMaxIdleTime(5 * time.Minute)
		x.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := x.PingContext(pingCtx); err != nil {
		_ = x.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	return New(x), nil
}

// sqliteDSN turns on foreign keys for every connection the driver opens.
// A PRAGMA would only reach the connection it ran on.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys=") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

func (d *DB) Close() error {
	return d.x.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	return d.x.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		hashed_password TEXT NOT NULL,
		has_access BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner_name TEXT NOT NULL,
		image_url TEXT NOT NULL,
		age INTEGER NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS pets_user_id_idx ON pets (user_id)`,
}

// Migrate creates the tables if they do not exist yet.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.x.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// IsUniqueViolation reports whether err is a uniqueness constraint failure
// from either supported driver.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func (d *DB) rebind(query string) string {
	return d.x.Rebind(query)
}

func now() time.Time {
	return time.Now().UTC()
}
