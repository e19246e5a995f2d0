package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"robofleet/internal/chore"
	logx "robofleet/pkg/logx"
)

// fileJournal appends one JSON object per line. Records are never rewritten,
// so a crash can at worst truncate the final line.
type fileJournal struct {
	log logx.Logger

	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

func openFile(cfg Config, log logx.Logger) (Recorder, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("journal path is required for the file driver")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	log.Debug("journal open", logx.String("driver", "file"), logx.String("path", path))
	return &fileJournal{log: log, f: f, enc: json.NewEncoder(f)}, nil
}

func (j *fileJournal) Append(ctx context.Context, rec chore.Completion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return errors.New("journal closed")
	}
	return j.enc.Encode(rec)
}

func (j *fileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	j.enc = nil
	return err
}

// ReadFile loads every record from a JSON Lines journal. Intended for
// inspection and tests, not for the hot path.
func ReadFile(path string) ([]chore.Completion, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var recs []chore.Completion
	dec := json.NewDecoder(f)
	for dec.More() {
		var rec chore.Completion
		if err := dec.Decode(&rec); err != nil {
			return recs, fmt.Errorf("journal record %d: %w", len(recs)+1, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
