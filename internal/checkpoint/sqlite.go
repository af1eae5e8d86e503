package checkpoint

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite. Writes are serialized through
// a single mutex so the persisted state is always a consistent snapshot.
type SQLiteStore struct {
	db      *sql.DB
	closed  bool
	writeMu sync.Mutex
}

// NewSQLiteStore opens (or creates) the checkpoint database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=60000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		source_profile TEXT NOT NULL,
		source_bucket TEXT NOT NULL,
		source_prefix TEXT NOT NULL DEFAULT '',
		target_profile TEXT NOT NULL,
		target_bucket TEXT NOT NULL,
		target_prefix TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		job_id TEXT NOT NULL,
		key TEXT NOT NULL,
		size INTEGER NOT NULL,
		etag TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		bytes_copied INTEGER DEFAULT 0,
		last_error TEXT,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (job_id, key)
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_job_status ON tasks(job_id, status);
	`

	_, err := s.db.Exec(query)
	return err
}

// SaveJob inserts or updates the job record.
func (s *SQLiteStore) SaveJob(record *JobRecord) error {
	if s.closed {
		return fmt.Errorf("checkpoint store is closed")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	record.UpdatedAt = time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = record.UpdatedAt
	}

	return s.retryOnBusy(func() error {
		query := `
		INSERT INTO jobs
		(id, source_profile, source_bucket, source_prefix, target_profile, target_bucket, target_prefix, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
		`
		_, err := s.db.Exec(query,
			record.ID,
			record.SourceProfile, record.SourceBucket, record.SourcePrefix,
			record.TargetProfile, record.TargetBucket, record.TargetPrefix,
			record.State, record.CreatedAt, record.UpdatedAt,
		)
		return err
	})
}

// GetJob returns the job record, or nil when the id is unknown.
func (s *SQLiteStore) GetJob(id string) (*JobRecord, error) {
	if s.closed {
		return nil, fmt.Errorf("checkpoint store is closed")
	}

	row := s.db.QueryRow(`
	SELECT id, source_profile, source_bucket, source_prefix, target_profile, target_bucket, target_prefix, state, created_at, updated_at
	FROM jobs WHERE id = ?`, id)

	var record JobRecord
	err := row.Scan(
		&record.ID,
		&record.SourceProfile, &record.SourceBucket, &record.SourcePrefix,
		&record.TargetProfile, &record.TargetBucket, &record.TargetPrefix,
		&record.State, &record.CreatedAt, &record.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListJobs returns all persisted jobs, oldest first.
func (s *SQLiteStore) ListJobs() ([]*JobRecord, error) {
	rows, err := s.db.Query(`
	SELECT id, source_profile, source_bucket, source_prefix, target_profile, target_bucket, target_prefix, state, created_at, updated_at
	FROM jobs ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*JobRecord
	for rows.Next() {
		var record JobRecord
		err := rows.Scan(
			&record.ID,
			&record.SourceProfile, &record.SourceBucket, &record.SourcePrefix,
			&record.TargetProfile, &record.TargetBucket, &record.TargetPrefix,
			&record.State, &record.CreatedAt, &record.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

// SaveTask upserts a task record. A task already marked completed is never
// demoted; the completed-key set only grows within a job's lifetime.
func (s *SQLiteStore) SaveTask(record *TaskRecord) error {
	if s.closed {
		return fmt.Errorf("checkpoint store is closed")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	record.UpdatedAt = time.Now()

	return s.retryOnBusy(func() error {
		query := `
		INSERT INTO tasks
		(job_id, key, size, etag, status, attempts, bytes_copied, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, key) DO UPDATE SET
			size = excluded.size,
			etag = excluded.etag,
			status = excluded.status,
			attempts = excluded.attempts,
			bytes_copied = excluded.bytes_copied,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
		WHERE tasks.status != 'completed'
		`
		_, err := s.db.Exec(query,
			record.JobID, record.Key, record.Size, record.ETag,
			record.Status, record.Attempts, record.BytesCopied,
			record.LastError, record.UpdatedAt,
		)
		return err
	})
}

// GetTask returns one task record, or nil when absent.
func (s *SQLiteStore) GetTask(jobID, key string) (*TaskRecord, error) {
	if s.closed {
		return nil, fmt.Errorf("checkpoint store is closed")
	}

	row := s.db.QueryRow(`
	SELECT job_id, key, size, etag, status, attempts, bytes_copied, last_error, updated_at
	FROM tasks WHERE job_id = ? AND key = ?`, jobID, key)

	record, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// CompletedKeys returns the set of keys safely done for the job.
func (s *SQLiteStore) CompletedKeys(jobID string) (map[string]struct{}, error) {
	rows, err := s.db.Query(
		`SELECT key FROM tasks WHERE job_id = ? AND status IN (?, ?)`,
		jobID, StatusCompleted, StatusSkipped)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys[key] = struct{}{}
	}
	return keys, rows.Err()
}

// InProgressOffsets returns recorded byte offsets for partially copied keys.
func (s *SQLiteStore) InProgressOffsets(jobID string) (map[string]int64, error) {
	rows, err := s.db.Query(
		`SELECT key, bytes_copied FROM tasks WHERE job_id = ? AND status = ? AND bytes_copied > 0`,
		jobID, StatusInProgress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	offsets := make(map[string]int64)
	for rows.Next() {
		var key string
		var offset int64
		if err := rows.Scan(&key, &offset); err != nil {
			return nil, err
		}
		offsets[key] = offset
	}
	return offsets, rows.Err()
}

// ListFailedTasks returns the job's permanently failed tasks, oldest first.
func (s *SQLiteStore) ListFailedTasks(jobID string) ([]*TaskRecord, error) {
	rows, err := s.db.Query(`
	SELECT job_id, key, size, etag, status, attempts, bytes_copied, last_error, updated_at
	FROM tasks WHERE job_id = ? AND status = ?
	ORDER BY updated_at ASC`, jobID, StatusFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*TaskRecord
	for rows.Next() {
		record, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*TaskRecord, error) {
	var record TaskRecord
	var lastError sql.NullString

	err := row.Scan(
		&record.JobID, &record.Key, &record.Size, &record.ETag,
		&record.Status, &record.Attempts, &record.BytesCopied,
		&lastError, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastError.Valid {
		record.LastError = lastError.String
	}
	return &record, nil
}

// retryOnBusy retries a write while SQLite reports lock contention.
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	const maxRetries = 10
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil || !isBusyError(err) {
			return err
		}
		time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
	}
	return err
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.closed = true
	return s.db.Close()
}
