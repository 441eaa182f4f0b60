package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mailchain-connector-imap/internal/model"
)

// SQLiteStore implements Ledger using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// A single connection serializes every ledger access and keeps an
	// in-memory database alive for the store's lifetime.
	db.SetMaxOpenConns(1)

	// Enable WAL mode so a crash mid-write never exposes a partial commit.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order, each in its own transaction.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		tx, err := s.db.Beginx()
		if err != nil {
			return fmt.Errorf("beginning migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.GetContext(ctx, &version, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// IsDelivered reports whether a committed ledger entry exists for messageID.
func (s *SQLiteStore) IsDelivered(ctx context.Context, messageID string) (bool, error) {
	var delivered int
	err := s.db.GetContext(ctx, &delivered,
		"SELECT delivered FROM delivered WHERE fingerprint = ?",
		Fingerprint(messageID),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, model.Wrap(model.KindStorage, "reading ledger", err)
	}
	return delivered != 0, nil
}

// MarkDelivered records messageID as delivered in a single transaction.
// An existing entry is left untouched.
func (s *SQLiteStore) MarkDelivered(ctx context.Context, messageID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Wrap(model.KindStorage, "writing ledger",
			fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO delivered (fingerprint, delivered, delivered_at)
		VALUES (?, 1, ?)
		ON CONFLICT(fingerprint) DO NOTHING`,
		Fingerprint(messageID), time.Now().UTC(),
	)
	if err != nil {
		return model.Wrap(model.KindStorage, "writing ledger", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Wrap(model.KindStorage, "writing ledger",
			fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

// Count returns the number of delivered entries.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM delivered WHERE delivered = 1"); err != nil {
		return 0, model.Wrap(model.KindStorage, "counting ledger", err)
	}
	return n, nil
}
