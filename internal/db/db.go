// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// package db provides the data access layer for the keyring.
// It hides the underlying database (SQLite, PostgreSQL, MySQL) behind a
// single bun-backed Store.
package db // import "github.com/toeirei/keysetup/internal/db"

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// sqlOpenFunc allows tests to override database opening behavior.
var sqlOpenFunc = sql.Open

// Store is the keyring's persistence layer.
type Store struct {
	bun    *bun.DB
	dbType string
	dsn    string
}

// Open opens a database for dbType ("sqlite", "postgres", "mysql"), applies
// the connection pool settings and runs pending migrations.
func Open(dbType, dsn string) (*Store, error) {
	driverName := dbType
	// The pgx stdlib registers driver name "pgx"; map "postgres" to that driver.
	if dbType == "postgres" {
		driverName = "pgx"
	}
	switch dbType {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported database type: '%s'", dbType)
	}

	start := time.Now()
	sqlDB, err := sqlOpenFunc(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	const (
		defaultMaxOpenConns    = 10
		defaultMaxIdleConns    = 10
		defaultConnMaxLifetime = 5 * time.Minute
	)
	maxOpen := envInt("KEYSETUP_DB_MAX_OPEN_CONNS", defaultMaxOpenConns)
	maxIdle := envInt("KEYSETUP_DB_MAX_IDLE_CONNS", defaultMaxIdleConns)

	// In-memory SQLite databases are per connection; a single connection keeps
	// the schema visible to every query.
	if dbType == "sqlite" && isMemoryDSN(dsn) {
		maxOpen = 1
		maxIdle = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(defaultConnMaxLifetime)
	dbLogf("db: opened %s driver in %s (max open=%d)", driverName, time.Since(start), maxOpen)

	s := &Store{bun: createBunDB(sqlDB, dbType), dbType: dbType, dsn: dsn}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	migStart := time.Now()
	if err := RunMigrations(ctx, s.bun); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	dbLogf("db: migrations for %s completed in %s", dbType, time.Since(migStart))
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.bun.Close()
}

// Type reports the database type the store was opened with.
func (s *Store) Type() string { return s.dbType }

// FilePath returns the on-disk path of a file-backed SQLite database, or ""
// for in-memory and server databases.
func (s *Store) FilePath() string {
	if s.dbType != "sqlite" || isMemoryDSN(s.dsn) {
		return ""
	}
	p := strings.TrimPrefix(s.dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return p
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory") || strings.HasPrefix(dsn, "file::memory:")
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

// createBunDB constructs a *bun.DB for the provided *sql.DB and dbType.
func createBunDB(sqlDB *sql.DB, dbType string) *bun.DB {
	switch dbType {
	case "postgres":
		return bun.NewDB(sqlDB, pgdialect.New())
	case "mysql":
		return bun.NewDB(sqlDB, mysqldialect.New())
	default:
		return bun.NewDB(sqlDB, sqlitedialect.New())
	}
}

// migrations are applied in order; each entry is a schema version.
var migrations = []func(ctx context.Context, tx bun.Tx) error{
	func(ctx context.Context, tx bun.Tx) error {
		for _, m := range []any{
			(*KeyModel)(nil),
			(*KeyringMetaModel)(nil),
			(*PreferenceModel)(nil),
			(*AuditLogModel)(nil),
		} {
			if _, err := tx.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	},
}

// RunMigrations applies every migration newer than the recorded schema
// version, each inside its own transaction.
func RunMigrations(ctx context.Context, bdb *bun.DB) error {
	if _, err := bdb.NewCreateTable().Model((*SchemaMigrationModel)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	var current int
	if err := bdb.NewSelect().Model((*SchemaMigrationModel)(nil)).ColumnExpr("COALESCE(MAX(version), 0)").Scan(ctx, &current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for i := current; i < len(migrations); i++ {
		version := i + 1
		err := bdb.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if err := migrations[i](ctx, tx); err != nil {
				return err
			}
			_, err := tx.NewInsert().Model(&SchemaMigrationModel{Version: version, AppliedAt: time.Now().UTC()}).Exec(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d: %w", version, err)
		}
		dbLogf("db: applied migration %d", version)
	}
	return nil
}
