package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/dataalchemy/alchemy/internal/errors"
	"github.com/dataalchemy/alchemy/internal/record"
)

// queryLimit bounds text and file-type queries.
const queryLimit = 10

// Store is the unified record store backed by SQLite.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Open opens (or creates) the store at path. An empty path opens an
// in-memory store for testing.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.StoreError(fmt.Sprintf("failed to create store directory: %v", err), err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.StoreError(fmt.Sprintf("failed to open database: %v", err), err)
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL must be set via PRAGMA for modernc.org/sqlite
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.StoreError(fmt.Sprintf("failed to set pragma: %v", err), err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		record_id    TEXT PRIMARY KEY,
		file_path    TEXT NOT NULL,
		file_name    TEXT NOT NULL,
		file_type    TEXT NOT NULL,
		processed_at TIMESTAMP NOT NULL,
		sub_id       INTEGER NOT NULL,
		data         TEXT NOT NULL,
		vector       BLOB
	);

	CREATE INDEX IF NOT EXISTS idx_records_file_path ON records(file_path);
	CREATE INDEX IF NOT EXISTS idx_records_file_type ON records(file_type);
	CREATE INDEX IF NOT EXISTS idx_records_processed_at ON records(processed_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.StoreError(fmt.Sprintf("failed to initialize schema: %v", err), err)
	}
	return nil
}

// Save persists records in one transaction: all rows for the touched file
// paths are deleted first, then the new rows are inserted. A file is never
// visible in a mixed old+new state.
func (s *Store) Save(ctx context.Context, records []*record.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.StoreError("store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StoreError(fmt.Sprintf("failed to begin transaction: %v", err), err)
	}
	defer func() { _ = tx.Rollback() }()

	touched := make(map[string]struct{})
	for _, r := range records {
		touched[r.FilePath] = struct{}{}
	}
	for path := range touched {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE file_path = ?`, path); err != nil {
			return errors.StoreError(fmt.Sprintf("failed to delete old rows: %v", err), err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (record_id, file_path, file_name, file_type, processed_at, sub_id, data, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.StoreError(fmt.Sprintf("failed to prepare insert: %v", err), err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		data, err := r.Data.Encode()
		if err != nil {
			return errors.StoreError(fmt.Sprintf("failed to encode record data: %v", err), err)
		}

		var vec any
		if len(r.Vector) > 0 {
			vec = encodeVector(r.Vector)
		}

		if _, err := stmt.ExecContext(ctx, r.ID, r.FilePath, r.FileName, r.FileType,
			r.ProcessedAt.UTC(), r.SubID, data, vec); err != nil {
			return errors.StoreError(fmt.Sprintf("failed to insert record: %v", err), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.StoreError(fmt.Sprintf("failed to commit: %v", err), err)
	}
	return nil
}

// RemoveByPaths deletes all rows for the given file paths, returning the
// count removed and the dropped record ids so the vector index can be
// notified.
func (s *Store) RemoveByPaths(ctx context.Context, paths []string) (int, []string, error) {
	if len(paths) == 0 {
		return 0, nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, nil, errors.StoreError("store is closed", nil)
	}

	placeholders := strings.Repeat("?,", len(paths))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id FROM records WHERE file_path IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, nil, errors.StoreError(fmt.Sprintf("failed to collect removed ids: %v", err), err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, nil, errors.StoreError(fmt.Sprintf("failed to scan id: %v", err), err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, nil, errors.StoreError(fmt.Sprintf("failed to read ids: %v", err), err)
	}
	_ = rows.Close()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE file_path IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, nil, errors.StoreError(fmt.Sprintf("failed to delete rows: %v", err), err)
	}
	count, _ := res.RowsAffected()
	return int(count), ids, nil
}

// SearchData returns records whose serialized data contains the substring,
// case-insensitive, newest first, bounded by queryLimit.
func (s *Store) SearchData(ctx context.Context, substr string) ([]*record.Record, error) {
	pattern := "%" + strings.ToLower(substr) + "%"
	return s.queryRecords(ctx, `
		SELECT record_id, file_path, file_name, file_type, processed_at, sub_id, data, vector
		FROM records WHERE lower(data) LIKE ?
		ORDER BY processed_at DESC LIMIT ?`, pattern, queryLimit)
}

// ByFileType returns records of the given extension, newest first, bounded
// by queryLimit.
func (s *Store) ByFileType(ctx context.Context, fileType string) ([]*record.Record, error) {
	return s.queryRecords(ctx, `
		SELECT record_id, file_path, file_name, file_type, processed_at, sub_id, data, vector
		FROM records WHERE lower(file_type) = lower(?)
		ORDER BY processed_at DESC LIMIT ?`, strings.TrimPrefix(fileType, "."), queryLimit)
}

// ByDateRange returns records processed within [start, end], newest first,
// with no row limit.
func (s *Store) ByDateRange(ctx context.Context, start, end time.Time) ([]*record.Record, error) {
	return s.queryRecords(ctx, `
		SELECT record_id, file_path, file_name, file_type, processed_at, sub_id, data, vector
		FROM records WHERE processed_at >= ? AND processed_at <= ?
		ORDER BY processed_at DESC`, start.UTC(), end.UTC())
}

// ByPath returns all records for one file path.
func (s *Store) ByPath(ctx context.Context, path string) ([]*record.Record, error) {
	return s.queryRecords(ctx, `
		SELECT record_id, file_path, file_name, file_type, processed_at, sub_id, data, vector
		FROM records WHERE file_path = ? ORDER BY sub_id`, path)
}

// AllVectors returns every record with a non-null vector, used to rebuild
// the vector index at startup.
func (s *Store) AllVectors(ctx context.Context) ([]*record.Record, error) {
	return s.queryRecords(ctx, `
		SELECT record_id, file_path, file_name, file_type, processed_at, sub_id, data, vector
		FROM records WHERE vector IS NOT NULL`)
}

// Count returns the total row count.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errors.StoreError("store is closed", nil)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, errors.StoreError(fmt.Sprintf("failed to count records: %v", err), err)
	}
	return n, nil
}

// Paths returns the distinct file paths currently stored.
func (s *Store) Paths(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.StoreError("store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT file_path FROM records`)
	if err != nil {
		return nil, errors.StoreError(fmt.Sprintf("failed to query paths: %v", err), err)
	}
	defer func() { _ = rows.Close() }()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, errors.StoreError(fmt.Sprintf("failed to scan path: %v", err), err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.StoreError("store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.StoreError(fmt.Sprintf("query failed: %v", err), err)
	}
	defer func() { _ = rows.Close() }()

	var records []*record.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (*record.Record, error) {
	var (
		r           record.Record
		processedAt time.Time
		data        string
		vec         []byte
	)
	if err := rows.Scan(&r.ID, &r.FilePath, &r.FileName, &r.FileType,
		&processedAt, &r.SubID, &data, &vec); err != nil {
		return nil, errors.StoreError(fmt.Sprintf("failed to scan record: %v", err), err)
	}

	decoded, err := record.DecodeData([]byte(data))
	if err != nil {
		return nil, errors.StoreError(fmt.Sprintf("failed to decode record data: %v", err), err)
	}
	r.Data = decoded
	r.ProcessedAt = processedAt
	if len(vec) > 0 {
		r.Vector = decodeVector(vec)
	}
	return &r, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// encodeVector packs float32s little-endian.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector unpacks a little-endian float32 blob.
func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
