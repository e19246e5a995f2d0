package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"robofleet/internal/chore"
	"robofleet/internal/dispatch"
	logx "robofleet/pkg/logx"
)

// FileConfig describes a JSON Lines task feed. Each line carries one task:
//
//	{"id": 12, "robot": "Dave", "kind": "water_the_plants"}
//
// With Follow the source tails the file and submits lines as they are
// appended; without it the source delivers the current contents and ends.
type FileConfig struct {
	Path     string
	Follow   bool
	Debounce time.Duration
}

type File struct {
	cfg FileConfig
	log logx.Logger

	// mu serializes drains; the initial read and debounced re-reads share
	// the byte offset.
	mu     sync.Mutex
	offset int64
}

type taskRow struct {
	ID    int64  `json:"id,omitempty"`
	Robot string `json:"robot"`
	Kind  string `json:"kind"`
}

func NewFile(cfg FileConfig, log logx.Logger) (*File, error) {
	cfg.Path = strings.TrimSpace(cfg.Path)
	if cfg.Path == "" {
		return nil, errors.New("feed: file path required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 250 * time.Millisecond
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &File{cfg: cfg, log: log}, nil
}

func (f *File) Name() string { return "file" }

func (f *File) Finite() bool { return !f.cfg.Follow }

func (f *File) Run(ctx context.Context, submit func(chore.Task) error) error {
	if err := f.drain(ctx, submit); err != nil {
		return err
	}
	if !f.cfg.Follow {
		return nil
	}
	return f.watch(ctx, submit)
}

// drain reads complete lines past the current offset and submits them. An
// unterminated tail is a partial write and stays for the next pass.
func (f *File) drain(ctx context.Context, submit func(chore.Task) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fh, err := os.Open(f.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) && f.cfg.Follow {
			// Not written yet; the watcher picks it up on creation.
			return nil
		}
		return fmt.Errorf("open task feed: %w", err)
	}
	defer fh.Close()

	if st, err := fh.Stat(); err == nil && st.Size() < f.offset {
		f.log.Warn("task feed truncated; rereading from the start",
			logx.String("path", f.cfg.Path),
		)
		f.offset = 0
	}
	if _, err := fh.Seek(f.offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek task feed: %w", err)
	}

	r := bufio.NewReader(fh)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := r.ReadString('\n')
		switch {
		case err == nil:
			f.offset += int64(len(line))
			if serr := f.submitLine(line, submit); serr != nil {
				return serr
			}
		case errors.Is(err, io.EOF):
			return nil
		default:
			return fmt.Errorf("read task feed: %w", err)
		}
	}
}

func (f *File) submitLine(line string, submit func(chore.Task) error) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	var row taskRow
	if err := json.Unmarshal([]byte(line), &row); err != nil {
		// A poisoned line must not wedge the feed.
		f.log.Warn("skipping bad task line",
			logx.String("path", f.cfg.Path),
			logx.Err(err),
		)
		return nil
	}
	return submit(chore.Task{ID: row.ID, Robot: row.Robot, Kind: row.Kind})
}

// watch tails the feed file until ctx is canceled. When fsnotify gets into
// a bad state the watcher is recreated with a jittered backoff.
func (f *File) watch(ctx context.Context, submit func(chore.Task) error) error {
	dir := filepath.Dir(f.cfg.Path)
	file := filepath.Base(f.cfg.Path)

	const (
		restartBackoffBase = 250 * time.Millisecond
		restartBackoffMax  = 5 * time.Second
	)
	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	wait := func() time.Duration {
		w := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		if backoff < restartBackoffMax {
			backoff *= 2
			if backoff > restartBackoffMax {
				backoff = restartBackoffMax
			}
		}
		return w
	}

	// Debounce write events so half-written lines settle before a drain.
	reload := make(chan struct{}, 1)
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(f.cfg.Debounce, func() {
			select {
			case reload <- struct{}{}:
			default:
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err == nil {
			err = w.Add(dir)
			if err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			f.log.Warn("task feed watch init failed", logx.String("dir", dir), logx.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait()):
				continue
			}
		}

		backoff = restartBackoffBase
		f.log.Debug("task feed watcher started", logx.String("dir", dir), logx.String("file", file))

		// Catch appends raced between the last drain and the watcher add.
		select {
		case reload <- struct{}{}:
		default:
		}

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil

			case <-reload:
				if err := f.drain(ctx, submit); err != nil {
					if ctx.Err() != nil {
						_ = w.Close()
						return nil
					}
					if errors.Is(err, dispatch.ErrSealed) ||
						errors.Is(err, dispatch.ErrStopping) ||
						errors.Is(err, dispatch.ErrNotStarted) {
						// The sink is gone; the source is done.
						_ = w.Close()
						return nil
					}
					f.log.Warn("task feed drain failed", logx.String("path", f.cfg.Path), logx.Err(err))
				}

			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if strings.EqualFold(filepath.Base(ev.Name), file) {
					if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
						debounce()
					}
				}

			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				// Overflow means missed events; force a drain and go on.
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					f.log.Warn("task feed watch overflow; forcing drain", logx.Err(err))
					debounce()
					continue
				}
				f.log.Warn("task feed watch error", logx.String("dir", dir), logx.Err(err))
				if strings.Contains(strings.ToLower(err.Error()), "closed") {
					broken = true
					break
				}
			}
		}

		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		d := wait()
		f.log.Warn("task feed watcher stopped; restarting",
			logx.String("dir", dir),
			logx.Duration("backoff", d),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d):
		}
	}
}
