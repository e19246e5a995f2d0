package feed

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"robofleet/internal/chore"
	logx "robofleet/pkg/logx"
)

type collector struct {
	mu    sync.Mutex
	tasks []chore.Task
}

func (c *collector) submit(t chore.Task) error {
	c.mu.Lock()
	c.tasks = append(c.tasks, t)
	c.mu.Unlock()
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

func (c *collector) all() []chore.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chore.Task(nil), c.tasks...)
}

func appendLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	for _, line := range lines {
		if _, err := f.WriteString(line + "\n"); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
}

func TestFileBatchRead(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tasks.jsonl")
	appendLines(t, path,
		`{"id": 1, "robot": "Dave", "kind": "clean_the_windows"}`,
		"",
		"# weekend plan below",
		`{"robot": "Cris", "kind": "water_the_plants"}`,
		`{broken`,
		`{"id": 3, "robot": "Andi", "kind": "feed_the_cat"}`,
	)
	// An unterminated tail is a partial write and must not be delivered.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"id": 4, "robot":`); err != nil {
		t.Fatal(err)
	}
	f.Close()

	src, err := NewFile(FileConfig{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if !src.Finite() {
		t.Fatal("batch file source must be finite")
	}

	var got collector
	if err := src.Run(context.Background(), got.submit); err != nil {
		t.Fatalf("Run: %v", err)
	}

	tasks := got.all()
	if len(tasks) != 3 {
		t.Fatalf("delivered %d tasks, want 3: %+v", len(tasks), tasks)
	}
	if tasks[0].ID != 1 || tasks[0].Robot != "Dave" || tasks[0].Kind != "clean_the_windows" {
		t.Errorf("first task = %+v", tasks[0])
	}
	if tasks[1].ID != 0 || tasks[1].Robot != "Cris" {
		t.Errorf("second task = %+v, want id left for the runner", tasks[1])
	}
	if tasks[2].ID != 3 || tasks[2].Robot != "Andi" {
		t.Errorf("third task = %+v", tasks[2])
	}
}

func TestFileBatchMissing(t *testing.T) {
	t.Parallel()

	src, err := NewFile(FileConfig{Path: filepath.Join(t.TempDir(), "absent.jsonl")}, logx.Nop())
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if err := src.Run(context.Background(), (&collector{}).submit); err == nil {
		t.Fatal("expected error for a missing batch file")
	}
}

func TestFileRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := NewFile(FileConfig{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestFileFollow(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tasks.jsonl")
	appendLines(t, path, `{"id": 1, "robot": "Dave", "kind": "feed_the_cat"}`)

	src, err := NewFile(FileConfig{Path: path, Follow: true, Debounce: 10 * time.Millisecond}, logx.Nop())
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if src.Finite() {
		t.Fatal("follow source must be open-ended")
	}

	var got collector
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, got.submit) }()

	waitFor(t, "initial task", func() bool { return got.len() == 1 })

	appendLines(t, path,
		`{"id": 2, "robot": "Cris", "kind": "feed_the_cat"}`,
		`{"id": 3, "robot": "Andi", "kind": "feed_the_cat"}`,
	)
	waitFor(t, "appended tasks", func() bool { return got.len() == 3 })

	// Truncating the feed resets the offset; fresh contents are re-read.
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	appendLines(t, path, `{"id": 4, "robot": "Nick", "kind": "feed_the_cat"}`)
	waitFor(t, "post-truncate task", func() bool { return got.len() == 4 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v after cancel", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	tasks := got.all()
	for i, want := range []int64{1, 2, 3, 4} {
		if tasks[i].ID != want {
			t.Errorf("task %d id = %d, want %d", i, tasks[i].ID, want)
		}
	}
}

func TestFileFollowCreatedLater(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.jsonl")

	src, err := NewFile(FileConfig{Path: path, Follow: true, Debounce: 10 * time.Millisecond}, logx.Nop())
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}

	var got collector
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, got.submit) }()

	time.Sleep(50 * time.Millisecond)
	appendLines(t, path, `{"id": 1, "robot": "Dave", "kind": "feed_the_cat"}`)
	waitFor(t, "task from late file", func() bool { return got.len() == 1 })

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
