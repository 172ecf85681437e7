// Package db provides SQLite storage for the discovery service.
//
// This package contains:
//   - DB: connection wrapper around a single on-disk SQLite database
//   - Repository methods for discovered chat records
//   - Migration support via goose
//
// The database is a single file owned by one process; WAL mode keeps
// concurrent readers from blocking the scan writer.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/telereplica/discovery/migrations"
)

// DB wraps the SQLite handle and provides repository methods.
type DB struct {
	SQL    *sql.DB
	Logger *zerolog.Logger
}

// New opens (creating if needed) the SQLite database at path.
func New(ctx context.Context, path string, logger *zerolog.Logger) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()

		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &DB{SQL: sqlDB, Logger: logger}, nil
}

// Close closes the underlying database handle.
func (db *DB) Close() {
	_ = db.SQL.Close()
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.SQL.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	return nil
}

type gooseLogger struct {
	logger *zerolog.Logger
}

func (l *gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Fatal().Msgf(format, v...)
}

func (l *gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info().Msgf(format, v...)
}

// Migrate runs database migrations using goose.
func (db *DB) Migrate(_ context.Context) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(&gooseLogger{logger: db.Logger})

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.Up(db.SQL, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// SanitizeUTF8 removes invalid UTF-8 sequences from a string.
func SanitizeUTF8(s string) string {
	if s == "" || utf8.ValidString(s) {
		return s
	}

	return strings.ToValidUTF8(s, "")
}

func toNullString(s string) sql.NullString {
	return sql.NullString{String: SanitizeUTF8(s), Valid: s != ""}
}

func fromNullString(s sql.NullString) string {
	if !s.Valid {
		return ""
	}

	return s.String
}

func toNullInt(i int) sql.NullInt64 {
	if i < 0 {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: int64(i), Valid: true}
}

func fromNullInt(i sql.NullInt64) int {
	if !i.Valid {
		return -1
	}

	return int(i.Int64)
}
