package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "modernc.org/sqlite"
	"go.uber.org/zap"
)

type Config struct {
	// File is the path to the embedded SQLite database, e.g. the value of
	// the DB_FILE environment variable.
	File string
	// MigrationsPath is a "file://" URL pointing at the migrations
	// directory; empty means "file://migrations" relative to the working
	// directory.
	MigrationsPath string
}

// DB is the single-writer store handle. There is no connection pool to size:
// SQLite in WAL mode serializes writers internally, so a single *sql.DB with
// MaxOpenConns(1) is correct.
type DB struct {
	sql            *sql.DB
	migrationsPath string
}

func Open(cfg Config) (*DB, error) {
	dsn := cfg.File + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		logger.Error("failed to open sqlite database", zap.Error(err))
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY under concurrent
	// watcher/HTTP writes; readers still multiplex over it because WAL
	// allows concurrent readers against one writer.
	sqlDB.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		logger.Error("database ping failed", zap.Error(err))
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	migrationsPath := cfg.MigrationsPath
	if migrationsPath == "" {
		migrationsPath = "file://migrations"
	}

	logger.Info("database connection established", zap.String("file", cfg.File))

	return &DB{sql: sqlDB, migrationsPath: migrationsPath}, nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.sql.PingContext(ctx)
}

// RunMigrations runs pending migrations idempotently and refuses to start on
// a dirty migration state.
func (db *DB) RunMigrations() error {
	driver, err := sqlite.WithInstance(db.sql, &sqlite.Config{})
	if err != nil {
		logger.Error("failed to create sqlite migrate driver", zap.Error(err))
		return fmt.Errorf("create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(db.migrationsPath, "sqlite", driver)
	if err != nil {
		logger.Error("failed to create migrate instance", zap.Error(err))
		return fmt.Errorf("create migrate instance: %w", err)
	}

	logger.Info("running database migrations")
	if err := m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			logger.Info("no new migrations to apply")
			return nil
		}
		logger.Error("migration failed", zap.Error(err))
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		logger.Error("failed to get migration version", zap.Error(err))
		return fmt.Errorf("get migration version: %w", err)
	}
	if dirty {
		logger.Error("database is in dirty state", zap.Uint("version", version))
		return fmt.Errorf("database is in dirty state at version %d", version)
	}

	logger.Info("migrations completed successfully", zap.Uint("version", version))
	return nil
}

func (db *DB) Close() {
	if db.sql != nil {
		logger.Info("closing database connection")
		db.sql.Close()
	}
}
