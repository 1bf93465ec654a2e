package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/dshills/logsift/internal/fsutil"
	"github.com/dshills/logsift/pkg/types"
)

// FileName is the metadata file inside a project directory
const FileName = "templates.meta.db"

// maxInArgs keeps IN lists under SQLite's bound parameter limit
const maxInArgs = 500

var (
	// ErrNotFound is returned when the metadata file or a row doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrCorrupt is returned when the metadata file cannot be read
	ErrCorrupt = errors.New("corrupt template metadata")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

var _ Storage = (*SQLiteStorage)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Rollback journal instead of WAL: the file is swapped by rename and
	// must not leave -wal/-shm siblings behind
	if _, err := db.Exec("PRAGMA journal_mode=DELETE"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to set journal mode")
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// Open opens an existing metadata file
func Open(path string) (*SQLiteStorage, error) {
	if !fsutil.Exists(path) {
		return nil, ErrNotFound
	}

	db, err := openDatabase(path)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to open %s", path), ErrCorrupt)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, errors.Mark(errors.Wrapf(err, "failed to migrate %s", path), ErrCorrupt)
	}

	return &SQLiteStorage{db: db, path: path}, nil
}

// Write replaces the metadata file at path with one holding info and records.
// Position i of records becomes row i.
func Write(ctx context.Context, path string, info IndexInfo, records []types.TemplateRecord) error {
	for i, rec := range records {
		if err := rec.Validate(); err != nil {
			return errors.Wrapf(err, "template at position %d", i)
		}
	}
	if info.UpdatedAt.IsZero() {
		info.UpdatedAt = time.Now()
	}

	return fsutil.WriteWith(path, func(tmpPath string) error {
		db, err := openDatabase(tmpPath)
		if err != nil {
			return errors.Wrap(err, "failed to open database")
		}
		if err := fill(ctx, db, info, records); err != nil {
			_ = db.Close()
			return err
		}
		return db.Close()
	})
}

func fill(ctx context.Context, db *sql.DB, info IndexInfo, records []types.TemplateRecord) error {
	if err := ApplyMigrations(ctx, db); err != nil {
		return errors.Wrap(err, "failed to apply migrations")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO index_info (id, provider, model, dimension, updated_at) VALUES (1, ?, ?, ?, ?)`,
		info.Provider, info.Model, info.Dimension, info.UpdatedAt.UnixNano()); err != nil {
		return errors.Wrap(err, "failed to write index info")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO templates (position, template, frequency, filename) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare insert")
	}
	defer func() { _ = stmt.Close() }()

	for i, rec := range records {
		if _, err := stmt.ExecContext(ctx, i, rec.Template, rec.Frequency, rec.Filename); err != nil {
			return errors.Wrapf(err, "failed to insert template at position %d", i)
		}
	}

	return tx.Commit()
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Info returns the embedding settings, ErrNotFound when none were recorded
func (s *SQLiteStorage) Info(ctx context.Context) (*IndexInfo, error) {
	var info IndexInfo
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT provider, model, dimension, updated_at FROM index_info WHERE id = 1`).
		Scan(&info.Provider, &info.Model, &info.Dimension, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to read index info"), ErrCorrupt)
	}
	info.UpdatedAt = time.Unix(0, updated)
	return &info, nil
}

// Count returns the number of template rows
func (s *SQLiteStorage) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM templates`).Scan(&n); err != nil {
		return 0, errors.Mark(errors.Wrap(err, "failed to count templates"), ErrCorrupt)
	}
	return n, nil
}

// Templates returns every row ordered by position. Positions must be dense.
func (s *SQLiteStorage) Templates(ctx context.Context) ([]types.TemplateRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, template, frequency, filename FROM templates ORDER BY position`)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to query templates"), ErrCorrupt)
	}
	defer func() { _ = rows.Close() }()

	records := []types.TemplateRecord{}
	for rows.Next() {
		var pos int
		var rec types.TemplateRecord
		if err := rows.Scan(&pos, &rec.Template, &rec.Frequency, &rec.Filename); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "failed to scan template"), ErrCorrupt)
		}
		if pos != len(records) {
			return nil, errors.Wrapf(ErrCorrupt, "gap in template positions at %d", len(records))
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Mark(err, ErrCorrupt)
	}
	return records, nil
}

// TemplatesAt returns the rows at positions. Missing positions are absent from the map.
func (s *SQLiteStorage) TemplatesAt(ctx context.Context, positions []int) (map[int]types.TemplateRecord, error) {
	out := make(map[int]types.TemplateRecord, len(positions))
	for start := 0; start < len(positions); start += maxInArgs {
		end := start + maxInArgs
		if end > len(positions) {
			end = len(positions)
		}
		if err := s.templatesAt(ctx, positions[start:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStorage) templatesAt(ctx context.Context, positions []int, out map[int]types.TemplateRecord) error {
	if len(positions) == 0 {
		return nil
	}

	args := make([]interface{}, len(positions))
	for i, p := range positions {
		args[i] = p
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(positions)), ",")
	query := `SELECT position, template, frequency, filename FROM templates WHERE position IN (` + placeholders + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to query templates"), ErrCorrupt)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var pos int
		var rec types.TemplateRecord
		if err := rows.Scan(&pos, &rec.Template, &rec.Frequency, &rec.Filename); err != nil {
			return errors.Mark(errors.Wrap(err, "failed to scan template"), ErrCorrupt)
		}
		out[pos] = rec
	}
	return rows.Err()
}

// Path returns the file backing the storage
func (s *SQLiteStorage) Path() string {
	return s.path
}
