package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/i474232898/coverage-heatmap/internal/coverage"
)

//go:embed sql/schema.sql
var schemaSQL string

//go:embed sql/insert-interval.sql
var insertIntervalSQL string

//go:embed sql/get-stations.sql
var getStationsSQL string

//go:embed sql/get-intervals.sql
var getIntervalsSQL string

// Fixed-width UTC layout so stored timestamps sort lexicographically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is a persistent coverage.IntervalStore backed by SQLite.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLite opens (creating if needed) the database file at path and
// applies the schema.
func OpenSQLite(path string, log *slog.Logger) (*SQLiteStore, error) {
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	// A single writer avoids "database is locked" under concurrent ingest.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	s, err := NewSQLiteStore(db, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an open database and applies the schema.
func NewSQLiteStore(db *sql.DB, log *slog.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db, log: log}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("sqlite path must not be empty")
	}

	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("mkdir %s: %w", dir, err)
			}
		}
	}

	params := []string{
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}

// SaveIntervals implements coverage.IntervalStore.
func (s *SQLiteStore) SaveIntervals(ctx context.Context, domain string, intervals []coverage.Interval) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, insertIntervalSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			s.log.Error("close insert statement", "error", err)
		}
	}()

	added := 0
	for _, iv := range intervals {
		res, err := stmt.ExecContext(ctx, domain, iv.Station, formatTS(iv.Start), formatTS(iv.End))
		if err != nil {
			return 0, fmt.Errorf("insert interval %s %s: %w", iv.Station, formatTS(iv.Start), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		added += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return added, nil
}

// Stations implements coverage.IntervalStore.
func (s *SQLiteStore) Stations(ctx context.Context, domain string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, getStationsSQL, domain)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.log.Error("close stations rows", "error", err)
		}
	}()

	var out []string
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Intervals implements coverage.IntervalStore.
func (s *SQLiteStore) Intervals(ctx context.Context, domain string, from, to time.Time) (map[string][]coverage.Interval, error) {
	rows, err := s.db.QueryContext(ctx, getIntervalsSQL, domain, formatTS(from), formatTS(to))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.log.Error("close intervals rows", "error", err)
		}
	}()

	out := make(map[string][]coverage.Interval)
	for rows.Next() {
		var station, start, end string
		if err := rows.Scan(&station, &start, &end); err != nil {
			return nil, err
		}
		iv := coverage.Interval{Station: station}
		if iv.Start, err = parseTS(start); err != nil {
			return nil, err
		}
		if iv.End, err = parseTS(end); err != nil {
			return nil, err
		}
		out[station] = append(out[station], iv)
	}
	return out, rows.Err()
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		var err2 error
		t, err2 = time.Parse(time.RFC3339Nano, s)
		if err2 != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}
