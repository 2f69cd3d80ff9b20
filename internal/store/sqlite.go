package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"trackd/internal/model"
	"trackd/internal/store/migrations"
	"trackd/internal/tracking"
)

// SQLiteStore implements the RecordStore interface using SQLite. Records
// are stored as JSON documents with a version column; conditional puts use
// version-guarded statements, so concurrent writers race safely without any
// process-level locking.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens a SQLite-backed record store and migrates the schema
// to the latest version. path can be a file path or ":memory:" for an
// in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating record store schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite database connection with
// appropriate PRAGMAs. Exported for tools and tests that need a properly
// configured connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Wait for locks instead of failing immediately; the event consumer and
	// the admin API write concurrently.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

func (s *SQLiteStore) Get(key model.TrackingKey) (*model.TrackedContent, uint64, error) {
	var version uint64
	var document string
	err := s.db.QueryRow(
		"SELECT version, document FROM tracking_records WHERE tracking_key = ?",
		string(key),
	).Scan(&version, &document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, tracking.ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("loading record row: %w", err)
	}

	record, err := decodeRecord(key, document)
	if err != nil {
		return nil, 0, err
	}
	return record, version, nil
}

func (s *SQLiteStore) Put(key model.TrackingKey, record *model.TrackedContent, expectedVersion uint64) error {
	document, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding record %q: %w", key, err)
	}
	now := time.Now().UTC()

	if expectedVersion == 0 {
		_, err := s.db.Exec(
			"INSERT INTO tracking_records (tracking_key, state, version, document, updated_at) VALUES (?, ?, 1, ?, ?)",
			string(key), string(record.State), string(document), now,
		)
		if err != nil {
			// A primary key violation means the record appeared since the
			// caller's read.
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
				return tracking.ErrConflict
			}
			return fmt.Errorf("inserting record row: %w", err)
		}
		return nil
	}

	res, err := s.db.Exec(
		"UPDATE tracking_records SET state = ?, version = version + 1, document = ?, updated_at = ? WHERE tracking_key = ? AND version = ?",
		string(record.State), string(document), now, string(key), expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("updating record row: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return tracking.ErrConflict
	}
	return nil
}

func (s *SQLiteStore) Delete(key model.TrackingKey) error {
	if _, err := s.db.Exec("DELETE FROM tracking_records WHERE tracking_key = ?", string(key)); err != nil {
		return fmt.Errorf("deleting record row: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListKeys(state model.RecordState) ([]model.TrackingKey, error) {
	rows, err := s.db.Query("SELECT tracking_key FROM tracking_records WHERE state = ?", string(state))
	if err != nil {
		return nil, fmt.Errorf("listing record keys: %w", err)
	}
	defer rows.Close()
	return scanKeys(rows)
}

func (s *SQLiteStore) GetLegacy(key model.TrackingKey) (*model.TrackedContent, error) {
	var document string
	err := s.db.QueryRow(
		"SELECT document FROM legacy_records WHERE tracking_key = ?",
		string(key),
	).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tracking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading legacy record row: %w", err)
	}
	return decodeRecord(key, document)
}

func (s *SQLiteStore) PutLegacy(key model.TrackingKey, record *model.TrackedContent) error {
	document, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding legacy record %q: %w", key, err)
	}
	_, err = s.db.Exec(
		"INSERT INTO legacy_records (tracking_key, document, imported_at) VALUES (?, ?, ?) "+
			"ON CONFLICT (tracking_key) DO UPDATE SET document = excluded.document, imported_at = excluded.imported_at",
		string(key), string(document), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storing legacy record row: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListLegacyKeys() ([]model.TrackingKey, error) {
	rows, err := s.db.Query("SELECT tracking_key FROM legacy_records")
	if err != nil {
		return nil, fmt.Errorf("listing legacy record keys: %w", err)
	}
	defer rows.Close()
	return scanKeys(rows)
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteStore) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func decodeRecord(key model.TrackingKey, document string) (*model.TrackedContent, error) {
	var record model.TrackedContent
	if err := json.Unmarshal([]byte(document), &record); err != nil {
		return nil, fmt.Errorf("decoding record %q: %w", key, err)
	}
	return &record, nil
}

func scanKeys(rows *sql.Rows) ([]model.TrackingKey, error) {
	var keys []model.TrackingKey
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning record key: %w", err)
		}
		keys = append(keys, model.TrackingKey(key))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating record keys: %w", err)
	}
	return keys, nil
}

// Compile-time check that SQLiteStore implements the RecordStore interface
var _ tracking.RecordStore = (*SQLiteStore)(nil)
