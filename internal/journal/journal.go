// Package journal persists completion records.
//
// Drivers:
//   - "file": append-only JSON Lines, dependency-free
//   - "sqlite": SQLite database file (build with -tags sqlite)
//
// An empty or "none" driver disables the journal.
package journal

import (
	"context"
	"errors"
	"strings"
	"time"

	"robofleet/internal/chore"
	logx "robofleet/pkg/logx"
)

var ErrDisabled = errors.New("journal disabled")

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Recorder is the persistence API the dispatcher writes through.
// Appends must be safe for concurrent use; the executor pool writes from
// several goroutines.
type Recorder interface {
	Append(ctx context.Context, rec chore.Completion) error
	Close() error
}

// Open initializes the configured journal.
// It returns (nil, nil) if the journal is disabled.
func Open(cfg Config, log logx.Logger) (Recorder, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown journal driver: " + driver)
	}
}
