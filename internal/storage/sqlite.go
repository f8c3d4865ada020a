// Package storage provides the SQLite implementation of the Store interface.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/shashin/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db         *sql.DB
	dimensions int
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist. dimensions
// is used to validate embedding BLOBs on read.
func NewSQLiteStore(dbPath string, dimensions int) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, dimensions: dimensions}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		image_path TEXT NOT NULL,
		x1 INTEGER,
		y1 INTEGER,
		x2 INTEGER,
		y2 INTEGER,
		det_score REAL NOT NULL DEFAULT 0,
		position INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_image_path ON records(image_path);

	CREATE TABLE IF NOT EXISTS manifest (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		mode TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		schema_version INTEGER NOT NULL,
		entry_count INTEGER NOT NULL,
		built_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS profiles (
		name TEXT PRIMARY KEY COLLATE NOCASE,
		embedding BLOB NOT NULL,
		image_path TEXT NOT NULL,
		registered_at TIMESTAMP NOT NULL,
		schema_version INTEGER NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// ReplaceIndex deletes all prior records and the manifest and writes the new
// build inside one transaction, so readers see either the old index or the
// new one, never a mix.
func (s *SQLiteStore) ReplaceIndex(ctx context.Context, manifest models.IndexManifest, records []*Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM manifest`); err != nil {
		return fmt.Errorf("clear manifest: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (id, image_path, x1, y1, x2, y2, det_score, position)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		var x1, y1, x2, y2 interface{}
		if rec.BBox != nil {
			x1, y1, x2, y2 = rec.BBox.X1, rec.BBox.Y1, rec.BBox.X2, rec.BBox.Y2
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.ImagePath, x1, y1, x2, y2, rec.DetScore, i); err != nil {
			return fmt.Errorf("insert record %s: %w", rec.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO manifest (id, mode, dimensions, schema_version, entry_count, built_at)
		 VALUES (1, ?, ?, ?, ?, ?)`,
		string(manifest.Mode), manifest.Dimensions, manifest.SchemaVersion, manifest.EntryCount, manifest.BuiltAt,
	); err != nil {
		return fmt.Errorf("insert manifest: %w", err)
	}

	return tx.Commit()
}

func scanRecord(row interface{ Scan(...interface{}) error }) (*Record, error) {
	var rec Record
	var x1, y1, x2, y2 sql.NullInt64
	if err := row.Scan(&rec.ID, &rec.ImagePath, &x1, &y1, &x2, &y2, &rec.DetScore); err != nil {
		return nil, err
	}
	if x1.Valid {
		rec.BBox = &models.BBox{X1: int(x1.Int64), Y1: int(y1.Int64), X2: int(x2.Int64), Y2: int(y2.Int64)}
	}
	return &rec, nil
}

// GetRecord returns a record by ID.
func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, image_path, x1, y1, x2, y2, det_score FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("record not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListRecords returns all records in build order.
func (s *SQLiteStore) ListRecords(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, image_path, x1, y1, x2, y2, det_score FROM records ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountRecords returns the number of index records.
func (s *SQLiteStore) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n)
	return n, err
}

// Manifest returns the manifest of the last completed build.
func (s *SQLiteStore) Manifest(ctx context.Context) (*models.IndexManifest, error) {
	var m models.IndexManifest
	var mode string
	err := s.db.QueryRowContext(ctx,
		`SELECT mode, dimensions, schema_version, entry_count, built_at FROM manifest WHERE id = 1`,
	).Scan(&mode, &m.Dimensions, &m.SchemaVersion, &m.EntryCount, &m.BuiltAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no index has been built", models.ErrConfig)
	}
	if err != nil {
		return nil, err
	}
	m.Mode = models.IndexMode(mode)
	return &m, nil
}

// PutProfile inserts or overwrites a profile by name. The name column is
// COLLATE NOCASE, so "ana" and "Ana" are the same key; the stored name keeps
// the caller's casing.
func (s *SQLiteStore) PutProfile(ctx context.Context, profile *models.PersonProfile) (bool, error) {
	var existing int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM profiles WHERE name = ?`, profile.Name).Scan(&existing)
	if err != nil {
		return false, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (name, embedding, image_path, registered_at, schema_version)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   name = excluded.name,
		   embedding = excluded.embedding,
		   image_path = excluded.image_path,
		   registered_at = excluded.registered_at,
		   schema_version = excluded.schema_version`,
		profile.Name, EmbeddingToBytes(profile.Embedding), profile.ImagePath,
		profile.RegisteredAt, profile.SchemaVersion,
	)
	if err != nil {
		return false, err
	}
	return existing > 0, nil
}

// GetProfile returns a profile by name (case-insensitive).
func (s *SQLiteStore) GetProfile(ctx context.Context, name string) (*models.PersonProfile, error) {
	var p models.PersonProfile
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT name, embedding, image_path, registered_at, schema_version
		 FROM profiles WHERE name = ?`, name,
	).Scan(&p.Name, &blob, &p.ImagePath, &p.RegisteredAt, &p.SchemaVersion)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %q", models.ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	p.Embedding, err = BytesToEmbedding(blob, s.dimensions)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProfiles returns all profiles ordered by name.
func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]*models.PersonProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, embedding, image_path, registered_at, schema_version FROM profiles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*models.PersonProfile
	for rows.Next() {
		var p models.PersonProfile
		var blob []byte
		if err := rows.Scan(&p.Name, &blob, &p.ImagePath, &p.RegisteredAt, &p.SchemaVersion); err != nil {
			return nil, err
		}
		p.Embedding, err = BytesToEmbedding(blob, s.dimensions)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, &p)
	}
	return profiles, rows.Err()
}

// DeleteProfile removes a profile by name (case-insensitive).
func (s *SQLiteStore) DeleteProfile(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", models.ErrNotFound, name)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
