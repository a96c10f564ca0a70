package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLite is a persistent storage implementation using one SQLite database
// per partition.
type SQLite[T Metadata] struct {
	db   *sql.DB
	path string
}

// NewSQLite opens (or creates) the database at the given path.
func NewSQLite[T Metadata](path string) (*SQLite[T], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLite[T]{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLite[T]) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("pragma failed: %w", err)
		}
	}

	// seq keeps insertion order, which LoadAll replays.
	schema := `
		CREATE TABLE IF NOT EXISTS images (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			file_name TEXT NOT NULL UNIQUE,
			bytes BLOB NOT NULL,
			metadata TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("schema creation failed: %w", err)
	}

	return nil
}

// Path returns the database file path.
func (s *SQLite[T]) Path() string { return s.path }

// Save inserts the image. Saving a file name twice is an error.
func (s *SQLite[T]) Save(ctx context.Context, img Image[T]) error {
	name := img.Metadata.FileName()
	if err := ValidateName(name); err != nil {
		return err
	}

	metaJSON, err := json.Marshal(img.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata for %s: %w", name, err)
	}

	data := img.Bytes
	if data == nil {
		data = []byte{}
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO images (file_name, bytes, metadata) VALUES (?, ?, ?)",
		name, data, string(metaJSON))
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", name, err)
	}
	return nil
}

// LoadAll returns all stored images in insertion order.
func (s *SQLite[T]) LoadAll(ctx context.Context) ([]Image[T], error) {
	rows, err := s.db.QueryContext(ctx, "SELECT file_name, bytes, metadata FROM images ORDER BY seq")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []Image[T]
	for rows.Next() {
		var (
			name     string
			data     []byte
			metaJSON string
		)
		if err := rows.Scan(&name, &data, &metaJSON); err != nil {
			return nil, err
		}

		var meta T
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			return nil, fmt.Errorf("%w: row %s: %v", ErrCorruptSidecar, name, err)
		}
		images = append(images, NewImage(data, meta))
	}

	return images, rows.Err()
}

// Close closes the database connection.
func (s *SQLite[T]) Close() error {
	return s.db.Close()
}
