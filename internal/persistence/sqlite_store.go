package persistence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/MimeLyc/image-translator/internal/jobs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const jobColumns = `id, source_url, translated_url, status, remote_job_id, message, created_at`

// SQLiteStore is the durable local job store. Every call touches a single
// row in a single statement or transaction.
type SQLiteStore struct {
	db *sql.DB
}

var _ jobs.Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, jobs.StorageError("open store", fmt.Errorf("db path is required"))
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, jobs.StorageError("create db directory", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, jobs.StorageError("open sqlite", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, jobs.StorageError("init schema", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		// embed.FS paths are always slash separated
		content, err := migrationFiles.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) Create(ctx context.Context, rec jobs.JobRecord) (jobs.JobRecord, error) {
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (source_url, translated_url, status, remote_job_id, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.SourceURL,
		rec.TranslatedURL,
		int(rec.Status),
		rec.RemoteJobID,
		rec.Message,
		rec.CreatedAt,
	)
	if err != nil {
		return jobs.JobRecord{}, jobs.StorageError("insert job", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return jobs.JobRecord{}, jobs.StorageError("read inserted id", err)
	}
	rec.ID = id
	return rec, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (jobs.JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	rec, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobs.JobRecord{}, jobs.NotFoundError(id)
		}
		return jobs.JobRecord{}, jobs.StorageError("get job", err)
	}
	return rec, nil
}

// Page returns the newest PageSize+offset records. Ordering happens in the
// same statement as the limit, so rows inserted concurrently with higher ids
// only ever push older rows off the end.
func (s *SQLiteStore) Page(ctx context.Context, offset int) ([]jobs.JobRecord, error) {
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY id DESC LIMIT ?`,
		jobs.PageSize+offset,
	)
	if err != nil {
		return nil, jobs.StorageError("page jobs", err)
	}
	return collectJobs(rows)
}

func (s *SQLiteStore) ListReconcilable(ctx context.Context) ([]jobs.JobRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status IN (?, ?, ?) AND remote_job_id != ''
		 ORDER BY id ASC`,
		int(jobs.StatusUploaded),
		int(jobs.StatusQueued),
		int(jobs.StatusUploading),
	)
	if err != nil {
		return nil, jobs.StorageError("list reconcilable jobs", err)
	}
	return collectJobs(rows)
}

// Update merges patch onto the stored record inside one transaction.
func (s *SQLiteStore) Update(ctx context.Context, id int64, patch jobs.Patch) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return jobs.StorageError("begin update", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobs.NotFoundError(id)
		}
		return jobs.StorageError("load job for update", err)
	}
	next := patch.Apply(current)

	if _, err = tx.ExecContext(
		ctx,
		`UPDATE jobs SET
			source_url = ?,
			translated_url = ?,
			status = ?,
			remote_job_id = ?,
			message = ?
		 WHERE id = ?`,
		next.SourceURL,
		next.TranslatedURL,
		int(next.Status),
		next.RemoteJobID,
		next.Message,
		id,
	); err != nil {
		return jobs.StorageError("update job", err)
	}
	if err = tx.Commit(); err != nil {
		return jobs.StorageError("commit update", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return jobs.StorageError("delete job", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (jobs.JobRecord, error) {
	var rec jobs.JobRecord
	var status int
	if err := row.Scan(
		&rec.ID,
		&rec.SourceURL,
		&rec.TranslatedURL,
		&status,
		&rec.RemoteJobID,
		&rec.Message,
		&rec.CreatedAt,
	); err != nil {
		return jobs.JobRecord{}, err
	}
	rec.Status = jobs.Status(status)
	return rec, nil
}

func collectJobs(rows *sql.Rows) ([]jobs.JobRecord, error) {
	defer rows.Close()

	ret := make([]jobs.JobRecord, 0)
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, jobs.StorageError("scan job", err)
		}
		ret = append(ret, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, jobs.StorageError("iterate jobs", err)
	}
	return ret, nil
}
