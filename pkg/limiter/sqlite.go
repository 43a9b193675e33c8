package limiter

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLiteWindows is a relational window adapter: one row per (key, module,
// window start). It serves as a durable local fallback; state survives a
// process restart but is still not shared between hosts.
type SQLiteWindows struct {
	db *sql.DB

	mu   sync.Mutex
	hits int
}

// OpenSQLiteWindows opens (or creates) the database at path and applies the
// embedded migrations. ":memory:" gives a private in-memory database.
func OpenSQLiteWindows(path string) (*SQLiteWindows, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("limiter: sqlite path is required")
	}

	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection serialises every read-modify-write in the process and
	// keeps a ":memory:" database alive across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(db, migrationFS, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteWindows{db: db}, nil
}

func (s *SQLiteWindows) Name() string { return "sqlite" }

func (s *SQLiteWindows) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteWindows) Close() error {
	return s.db.Close()
}

// Hit reads the latest window for the identity and writes the advanced one in
// the same transaction.
func (s *SQLiteWindows) Hit(ctx context.Context, id Identity, p Policy, now int64, increment bool) (Window, Step, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Window{}, StepAllowed, fmt.Errorf("begin hit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	w, found, err := loadWindow(ctx, tx, id)
	if err != nil {
		return Window{}, StepAllowed, err
	}

	next, st, changed := advance(w, found, p, now, increment)
	if changed {
		if err := writeWindow(ctx, tx, id, w, found, next); err != nil {
			return Window{}, StepAllowed, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Window{}, StepAllowed, fmt.Errorf("commit hit: %w", err)
	}

	if s.countHit() {
		_, _ = s.Prune(ctx, now)
	}
	return next, st, nil
}

func (s *SQLiteWindows) countHit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits++
	return s.hits%sweepEvery == 0
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadWindow(ctx context.Context, q querier, id Identity) (Window, bool, error) {
	var (
		w       Window
		blocked sql.NullInt64
	)
	err := q.QueryRowContext(ctx,
		`SELECT window_start, window_end, request_count, blocked_until
		   FROM rate_limit_windows
		  WHERE rate_key = ? AND module = ?
		  ORDER BY window_start DESC
		  LIMIT 1`,
		id.Key, id.Module,
	).Scan(&w.Start, &w.End, &w.Count, &blocked)
	if errors.Is(err, sql.ErrNoRows) {
		return Window{}, false, nil
	}
	if err != nil {
		return Window{}, false, fmt.Errorf("load window %s: %w", id, err)
	}
	w.BlockedUntil = blocked.Int64
	return w, true, nil
}

func writeWindow(ctx context.Context, tx *sql.Tx, id Identity, prev Window, found bool, next Window) error {
	blocked := sql.NullInt64{Int64: next.BlockedUntil, Valid: next.BlockedUntil != 0}

	if found && prev.Start == next.Start {
		_, err := tx.ExecContext(ctx,
			`UPDATE rate_limit_windows
			    SET request_count = ?, blocked_until = ?
			  WHERE rate_key = ? AND module = ? AND window_start = ?`,
			next.Count, blocked, id.Key, id.Module, next.Start,
		)
		if err != nil {
			return fmt.Errorf("update window %s: %w", id, err)
		}
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rate_limit_windows WHERE rate_key = ? AND module = ?`,
		id.Key, id.Module,
	); err != nil {
		return fmt.Errorf("drop old windows %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rate_limit_windows (rate_key, module, window_start, window_end, request_count, blocked_until)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (rate_key, module, window_start) DO UPDATE SET
		   window_end = excluded.window_end,
		   request_count = excluded.request_count,
		   blocked_until = excluded.blocked_until`,
		id.Key, id.Module, next.Start, next.End, next.Count, blocked,
	); err != nil {
		return fmt.Errorf("insert window %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteWindows) Load(ctx context.Context, id Identity) (Window, bool, error) {
	return loadWindow(ctx, s.db, id)
}

func (s *SQLiteWindows) Reset(ctx context.Context, id Identity) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_limit_windows WHERE rate_key = ? AND module = ?`,
		id.Key, id.Module,
	)
	if err != nil {
		return fmt.Errorf("reset window %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteWindows) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_windows`); err != nil {
		return fmt.Errorf("clear windows: %w", err)
	}
	return nil
}

// Prune deletes rows whose window and block have both ended by now (epoch ms)
// and returns how many were removed.
func (s *SQLiteWindows) Prune(ctx context.Context, now int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_limit_windows
		  WHERE window_end <= ? AND (blocked_until IS NULL OR blocked_until <= ?)`,
		now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("prune windows: %w", err)
	}
	return res.RowsAffected()
}

const migrationTable = "schema_migrations"

// applyMigrations executes each embedded .sql file under root at most once,
// in lexical order, running only its "-- +migrate Up" section.
func applyMigrations(db *sql.DB, fsys fs.FS, root string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, name := range files {
		var applied int
		err := db.QueryRow(`SELECT 1 FROM `+migrationTable+` WHERE name = ?`, name).Scan(&applied)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", name, err)
		}

		content, err := fs.ReadFile(fsys, root+"/"+name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		up := upSection(string(content))
		if strings.TrimSpace(up) == "" {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.Exec(up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`,
			name, time.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

func upSection(content string) string {
	const upMarker, downMarker = "-- +migrate Up", "-- +migrate Down"
	up := strings.Index(content, upMarker)
	if up == -1 {
		return content
	}
	content = content[up+len(upMarker):]
	if down := strings.Index(content, downMarker); down != -1 {
		content = content[:down]
	}
	return content
}

