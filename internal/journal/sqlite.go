//go:build sqlite
// +build sqlite

package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"robofleet/internal/chore"
	logx "robofleet/pkg/logx"
)

//go:embed migrations.sql
var migrations string

// sqliteJournal writes completion records to a single-connection SQLite
// database. modernc.org/sqlite is pure Go, so no cgo toolchain is needed.
type sqliteJournal struct {
	log logx.Logger
	db  *sql.DB
}

func openSQLite(cfg Config, log logx.Logger) (Recorder, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("journal path is required for the sqlite driver")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// A single connection sidesteps SQLITE_BUSY between writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}

	log.Debug("journal open", logx.String("driver", "sqlite"), logx.String("path", path))
	return &sqliteJournal{log: log, db: db}, nil
}

func (j *sqliteJournal) Append(ctx context.Context, rec chore.Completion) error {
	_, err := j.db.ExecContext(ctx, `
        INSERT INTO completions (
            run_id, task_id, robot, kind, seq, rejected,
            result, error,
            submitted_at, admitted_at, started_at, finished_at,
            waited_ns, took_ns
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullStr(rec.RunID),
		rec.TaskID,
		rec.Robot,
		rec.Kind,
		rec.Seq,
		rec.Rejected,
		nullStr(rec.Result),
		nullStr(rec.Error),
		rec.SubmittedAt.Format(time.RFC3339Nano),
		nullTime(rec.AdmittedAt),
		nullTime(rec.StartedAt),
		rec.FinishedAt.Format(time.RFC3339Nano),
		int64(rec.Waited),
		int64(rec.Took),
	)
	if err != nil {
		return fmt.Errorf("append completion: %w", err)
	}
	return nil
}

func (j *sqliteJournal) Close() error {
	return j.db.Close()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}
