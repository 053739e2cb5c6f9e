package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Schema version tracking:
// 1 - stored_offline_hits with UNIQUE hit and date index
const currentSchemaVersion = 1

// SQLite is a Table backed by a single SQLite file.
type SQLite struct {
	db     *sql.DB
	closed atomic.Bool
}

// OpenSQLite opens or creates the database at path and migrates the schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}

	// One writer; the hit store is single-owner anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return NewSQLite(db), nil
}

// NewSQLite wraps an already migrated database.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Insert(ctx context.Context, r Record) (bool, error) {
	if s.closed.Load() {
		return false, ErrUnavailable
	}
	if r.RetryCount < 0 {
		return false, fmt.Errorf("insert hit: negative retry count %d", r.RetryCount)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO stored_offline_hits(hit, date, retry) VALUES(?, ?, ?) ON CONFLICT(hit) DO NOTHING`,
		r.Hit, r.Date.UnixNano(), r.RetryCount)
	if err != nil {
		return false, fmt.Errorf("insert hit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert hit: rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLite) Delete(ctx context.Context, f Filter) (int64, error) {
	if s.closed.Load() {
		return 0, ErrUnavailable
	}
	where, args := whereClause(f)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("delete hits: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM stored_offline_hits`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete hits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete hits: rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete hits: commit: %w", err)
	}
	return n, nil
}

func (s *SQLite) Count(ctx context.Context, f Filter) (int64, error) {
	if s.closed.Load() {
		return 0, ErrUnavailable
	}
	where, args := whereClause(f)
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stored_offline_hits`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count hits: %w", err)
	}
	return n, nil
}

func (s *SQLite) Fetch(ctx context.Context, f Filter, order Order, limit int) ([]Record, error) {
	if s.closed.Load() {
		return nil, ErrUnavailable
	}
	where, args := whereClause(f)

	var q strings.Builder
	q.WriteString(`SELECT hit, date, retry FROM stored_offline_hits`)
	q.WriteString(where)
	switch order {
	case OldestFirst:
		q.WriteString(` ORDER BY date ASC, id ASC`)
	case NewestFirst:
		q.WriteString(` ORDER BY date DESC, id DESC`)
	}
	if limit > 0 {
		q.WriteString(` LIMIT ?`)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("fetch hits: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var (
			r    Record
			nano int64
		)
		if err := rows.Scan(&r.Hit, &nano, &r.RetryCount); err != nil {
			return nil, fmt.Errorf("fetch hits: scan: %w", err)
		}
		r.Date = time.Unix(0, nano)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch hits: iterate: %w", err)
	}
	return out, nil
}

func (s *SQLite) SetRetryCount(ctx context.Context, hit string, n int) (bool, error) {
	if s.closed.Load() {
		return false, ErrUnavailable
	}
	if n < 0 {
		return false, fmt.Errorf("set retry count: negative value %d", n)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE stored_offline_hits SET retry = ? WHERE hit = ?`, n, hit)
	if err != nil {
		return false, fmt.Errorf("set retry count: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set retry count: rows affected: %w", err)
	}
	return affected > 0, nil
}

// Close closes the database. Later calls on s return ErrUnavailable.
func (s *SQLite) Close() error {
	if s.closed.Swap(true) || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func whereClause(f Filter) (string, []any) {
	switch f.kind {
	case filterHit:
		return ` WHERE hit = ?`, []any{f.hit}
	case filterOlderThan:
		return ` WHERE date < ?`, []any{f.cutoff.UnixNano()}
	default:
		return "", nil
	}
}

// Migrate ensures schema exists
func Migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported %d", version, currentSchemaVersion)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stored_offline_hits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			hit TEXT NOT NULL UNIQUE,
			date INTEGER NOT NULL,
			retry INTEGER NOT NULL DEFAULT 0 CHECK (retry >= 0)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_stored_offline_hits_date ON stored_offline_hits(date);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
