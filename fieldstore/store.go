// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

// Package fieldstore provides the durable on-device store for the field agent
// client: pending incident reports, cached reference snapshots (agent profile,
// broadcasts) and the generic outbound command queue.
//
// The store is the single owner of every persisted row. Other components
// mutate state only through its methods.
package fieldstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrStorageUnavailable is returned when the underlying SQLite database
	// cannot be opened, read or written. It is fatal to the capture flow.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrNotFound is returned when a row with the given id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCommand is returned when a command cannot be queued.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrReportSynced is returned when a sync error is recorded against a
	// report that has already been delivered. Synced reports are immutable.
	ErrReportSynced = errors.New("report already synced")
)

// timeLayout is fixed-width so that lexical order of stored timestamps
// equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Config holds configuration for the local store
type Config struct {
	Path        string        // SQLite file path, ":memory:" for tests
	BusyTimeout time.Duration // 5s
	MaxAttempts int           // dead-letter threshold for queued commands, 5
	Logger      *slog.Logger
}

// DefaultConfig returns a default configuration for the given database file.
func DefaultConfig(path string) *Config {
	return &Config{
		Path:        path,
		BusyTimeout: 5 * time.Second,
		MaxAttempts: 5,
		Logger:      slog.Default(),
	}
}

// Store is the on-device persistence layer
type Store struct {
	DB     *sql.DB
	Now    func() time.Time // injectable clock, defaults to time.Now
	config *Config
	logger *slog.Logger
	owned  bool // DB was opened by Open and is closed by Close
}

// Open opens (creating if necessary) the SQLite database at cfg.Path and
// initializes the schema. Any failure is wrapped in ErrStorageUnavailable.
func Open(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("config.Path must be provided")
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, storageErr("open database", err)
	}
	// One connection: SQLite has a single writer anyway, and ":memory:"
	// databases are per-connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storageErr("ping database", err)
	}

	s, err := New(ctx, db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New wraps an already opened database handle and initializes the schema.
func New(ctx context.Context, db *sql.DB, cfg *Config) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := initializeDatabase(ctx, db, cfg.BusyTimeout); err != nil {
		return nil, storageErr("initialize database", err)
	}
	return &Store{
		DB:     db,
		Now:    time.Now,
		config: cfg,
		logger: logger,
	}, nil
}

// Close releases the database handle if the store opened it.
func (s *Store) Close() error {
	if s.owned {
		return s.DB.Close()
	}
	return nil
}

func initializeDatabase(ctx context.Context, db *sql.DB, busyTimeout time.Duration) error {
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if busyTimeout > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA busy_timeout=%d`, busyTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS pending_reports (
			id           TEXT PRIMARY KEY,             -- UUIDv7, time-ordered
			agent_id     TEXT NOT NULL,
			report_type  TEXT NOT NULL,
			details      TEXT NOT NULL,
			ward_number  TEXT,
			lat          REAL,
			lng          REAL,
			created_at   TEXT NOT NULL,
			synced       INTEGER NOT NULL DEFAULT 0,   -- 0=unsynced, 1=synced (terminal)
			synced_at    TEXT,
			remote_id    TEXT,
			sync_error   TEXT,
			attempts     INTEGER NOT NULL DEFAULT 0 CHECK (attempts >= 0),
			last_attempt TEXT,
			rejected     INTEGER NOT NULL DEFAULT 0    -- permanent rejection, awaiting review
		)`,

		`CREATE TABLE IF NOT EXISTS cached_agents (
			id                  TEXT PRIMARY KEY,
			full_name           TEXT NOT NULL,
			phone_number        TEXT,
			ward_name           TEXT,
			ward_number         TEXT,
			verification_status TEXT,
			payment_status      TEXT,
			last_report_at      TEXT,
			cached_at           TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS cached_broadcasts (
			id         TEXT PRIMARY KEY,
			message    TEXT NOT NULL,
			priority   TEXT NOT NULL,
			sender_id  TEXT,
			created_at TEXT NOT NULL,
			cached_at  TEXT NOT NULL,
			read       INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS sync_queue (
			id           TEXT PRIMARY KEY,
			type         TEXT NOT NULL,
			payload      BLOB NOT NULL,               -- opaque, decoded only at dispatch
			created_at   TEXT NOT NULL,
			attempts     INTEGER NOT NULL DEFAULT 0 CHECK (attempts >= 0),
			last_attempt TEXT,
			error        TEXT,
			rejected     INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE INDEX IF NOT EXISTS idx_pending_reports_unsynced ON pending_reports(synced, rejected, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_cached_broadcasts_created ON cached_broadcasts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_created ON sync_queue(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func (s *Store) now() time.Time {
	return s.Now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored time %q: %w", v, err)
	}
	return t, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
