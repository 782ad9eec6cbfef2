// Package sqlite provides a SQLite-backed session ledger.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/cuerposonoro/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/cuerposonoro/internal/services/motion/storage"
	"github.com/louisbranch/cuerposonoro/internal/services/motion/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// ErrAlreadyExists indicates a session id was recorded twice.
var ErrAlreadyExists = errors.New("record already exists")

// Store persists session records in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite ledger and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(ctx, sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// RecordSession inserts one finished session.
func (s *Store) RecordSession(ctx context.Context, record storage.SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id := strings.TrimSpace(record.ID)
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	if record.CloseReason == "" {
		return fmt.Errorf("close reason is required")
	}
	startedAt := record.StartedAt
	endedAt := record.EndedAt
	if endedAt.IsZero() {
		endedAt = time.Now().UTC()
	}
	if startedAt.IsZero() {
		startedAt = endedAt
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO sessions (
		   id, user_id, started_at, ended_at,
		   frames, empty_frames, decode_faults, close_reason
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		strings.TrimSpace(record.UserID),
		toMillis(startedAt),
		toMillis(endedAt),
		record.Frames,
		record.EmptyFrames,
		record.DecodeFaults,
		string(record.CloseReason),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("record session: %w", err)
	}
	return nil
}

// GetSession returns one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (storage.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.SessionRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.SessionRecord{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.SessionRecord{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.SessionRecord{}, storage.ErrNotFound
		}
		return storage.SessionRecord{}, fmt.Errorf("get session: %w", err)
	}
	return record, nil
}

// ListSessions returns one page of sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, opts storage.ListOptions) (storage.SessionPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.SessionPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.SessionPage{}, fmt.Errorf("storage is not configured")
	}
	if opts.PageSize <= 0 {
		return storage.SessionPage{}, fmt.Errorf("page size must be greater than zero")
	}
	if opts.Offset < 0 {
		return storage.SessionPage{}, fmt.Errorf("offset must not be negative")
	}

	query := selectColumns
	args := make([]any, 0, len(opts.Condition.Params)+2)
	if clause := strings.TrimSpace(opts.Condition.Clause); clause != "" {
		query += " WHERE " + clause
		args = append(args, opts.Condition.Params...)
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, opts.PageSize+1, opts.Offset)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return storage.SessionPage{}, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	page := storage.SessionPage{Sessions: make([]storage.SessionRecord, 0, opts.PageSize)}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return storage.SessionPage{}, fmt.Errorf("list sessions: %w", err)
		}
		page.Sessions = append(page.Sessions, record)
	}
	if err := rows.Err(); err != nil {
		return storage.SessionPage{}, fmt.Errorf("list sessions: %w", err)
	}
	if len(page.Sessions) > opts.PageSize {
		page.Sessions = page.Sessions[:opts.PageSize]
		page.NextOffset = opts.Offset + opts.PageSize
	}
	return page, nil
}

const selectColumns = `SELECT id, user_id, started_at, ended_at,
       frames, empty_frames, decode_faults, close_reason
  FROM sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (storage.SessionRecord, error) {
	var (
		record    storage.SessionRecord
		startedAt int64
		endedAt   int64
		reason    string
	)
	if err := row.Scan(
		&record.ID,
		&record.UserID,
		&startedAt,
		&endedAt,
		&record.Frames,
		&record.EmptyFrames,
		&record.DecodeFaults,
		&reason,
	); err != nil {
		return storage.SessionRecord{}, err
	}
	record.StartedAt = fromMillis(startedAt)
	record.EndedAt = fromMillis(endedAt)
	record.CloseReason = storage.CloseReason(reason)
	return record, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ storage.SessionStore = (*Store)(nil)
