package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/tcap/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Init initializes the SQLite database at baseDir/tcap.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.tcap.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	exportsDir := filepath.Join(baseDir, "exports")
	if err := os.MkdirAll(exportsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create exports directory: %w", err)
	}
	_ = os.Chmod(exportsDir, 0700)

	// Pragmas in the DSN apply to every pooled connection
	dbPath := filepath.Join(baseDir, "tcap.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS owners (
		  id         TEXT PRIMARY KEY,
		  name       TEXT NOT NULL,
		  created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS bookmarks (
		  owner_id          TEXT NOT NULL,
		  id                TEXT NOT NULL,
		  title             TEXT NOT NULL,
		  url               TEXT NOT NULL,
		  description       TEXT NOT NULL DEFAULT '',
		  favicon           TEXT NOT NULL DEFAULT '',
		  category_ids_json TEXT NOT NULL DEFAULT '[]',
		  tag_ids_json      TEXT NOT NULL DEFAULT '[]',
		  favorite          INTEGER NOT NULL DEFAULT 0,
		  visit_count       INTEGER NOT NULL DEFAULT 0,
		  created_at        INTEGER NOT NULL,
		  updated_at        INTEGER NOT NULL,
		  PRIMARY KEY (owner_id, id)
		);

		CREATE TABLE IF NOT EXISTS categories (
		  owner_id TEXT NOT NULL,
		  id       TEXT NOT NULL,
		  name     TEXT NOT NULL,
		  PRIMARY KEY (owner_id, id)
		);

		CREATE TABLE IF NOT EXISTS tags (
		  owner_id TEXT NOT NULL,
		  id       TEXT NOT NULL,
		  name     TEXT NOT NULL,
		  PRIMARY KEY (owner_id, id)
		);

		CREATE TABLE IF NOT EXISTS settings (
		  owner_id TEXT NOT NULL,
		  key      TEXT NOT NULL,
		  value    TEXT NOT NULL,
		  PRIMARY KEY (owner_id, key)
		);

		CREATE TABLE IF NOT EXISTS capsules (
		  id                TEXT PRIMARY KEY,
		  owner_id          TEXT NOT NULL,
		  title             TEXT NOT NULL,
		  description       TEXT NOT NULL DEFAULT '',
		  created_at        INTEGER NOT NULL,
		  trigger_kind      TEXT NOT NULL,
		  include_settings  INTEGER NOT NULL DEFAULT 0,
		  include_analytics INTEGER NOT NULL DEFAULT 0,
		  content_hash      TEXT NOT NULL,
		  item_count        INTEGER NOT NULL,
		  category_count    INTEGER NOT NULL,
		  tag_count         INTEGER NOT NULL,
		  favorite_count    INTEGER NOT NULL,
		  byte_size         INTEGER NOT NULL,
		  analytics_json    TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_capsules_owner_created
		ON capsules(owner_id, created_at, id);

		CREATE INDEX IF NOT EXISTS idx_capsules_owner_trigger_created
		ON capsules(owner_id, trigger_kind, created_at, id);

		CREATE TABLE IF NOT EXISTS capsule_items (
		  capsule_id        TEXT NOT NULL,
		  item_id           TEXT NOT NULL,
		  title             TEXT NOT NULL,
		  url               TEXT NOT NULL,
		  description       TEXT NOT NULL,
		  favicon           TEXT NOT NULL,
		  category_ids_json TEXT NOT NULL,
		  tag_ids_json      TEXT NOT NULL,
		  favorite          INTEGER NOT NULL,
		  visit_count       INTEGER NOT NULL,
		  created_at        INTEGER NOT NULL,
		  updated_at        INTEGER NOT NULL,
		  PRIMARY KEY (capsule_id, item_id)
		);

		CREATE TABLE IF NOT EXISTS capsule_categories (
		  capsule_id  TEXT NOT NULL,
		  category_id TEXT NOT NULL,
		  name        TEXT NOT NULL,
		  PRIMARY KEY (capsule_id, category_id)
		);

		CREATE TABLE IF NOT EXISTS capsule_tags (
		  capsule_id TEXT NOT NULL,
		  tag_id     TEXT NOT NULL,
		  name       TEXT NOT NULL,
		  PRIMARY KEY (capsule_id, tag_id)
		);

		CREATE TABLE IF NOT EXISTS capsule_settings (
		  capsule_id TEXT NOT NULL,
		  key        TEXT NOT NULL,
		  value      TEXT NOT NULL,
		  PRIMARY KEY (capsule_id, key)
		);

		CREATE TABLE IF NOT EXISTS retention_policies (
		  owner_id     TEXT PRIMARY KEY,
		  frequency    TEXT NOT NULL,
		  max_capsules INTEGER NOT NULL,
		  auto_cleanup INTEGER NOT NULL,
		  updated_at   INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS schedule_state (
		  owner_id    TEXT PRIMARY KEY,
		  last_run_at INTEGER NOT NULL,
		  next_run_at INTEGER NOT NULL,
		  run_token   INTEGER NOT NULL,
		  last_period TEXT NOT NULL
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
