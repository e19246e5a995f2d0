package feed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"robofleet/internal/chore"
	"robofleet/internal/dispatch"
	logx "robofleet/pkg/logx"
)

// fakeSink records what the runner delivers.
type fakeSink struct {
	mu     sync.Mutex
	tasks  []chore.Task
	sealed int
	reject map[string]bool
	fail   error
}

func (s *fakeSink) Submit(t chore.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if s.reject[t.Kind] {
		return fmt.Errorf("%w %q", dispatch.ErrUnknownChore, t.Kind)
	}
	s.tasks = append(s.tasks, t)
	return nil
}

func (s *fakeSink) Seal() {
	s.mu.Lock()
	s.sealed++
	s.mu.Unlock()
}

func (s *fakeSink) all() []chore.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chore.Task(nil), s.tasks...)
}

func (s *fakeSink) seals() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealed
}

// blocking never finishes on its own.
type blocking struct{}

func (blocking) Name() string { return "blocking" }
func (blocking) Finite() bool { return false }
func (blocking) Run(ctx context.Context, _ func(chore.Task) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRunnerSealsAfterFiniteSources(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	withIDs := NewStatic("batch-a", []chore.Task{
		{ID: 10, Robot: "Dave", Kind: "feed_the_cat"},
		{ID: 20, Robot: "Cris", Kind: "feed_the_cat"},
	})
	withoutIDs := NewStatic("batch-b", []chore.Task{
		{Robot: "Andi", Kind: "water_the_plants"},
		{Robot: "Andi", Kind: "water_the_plants"},
		{Robot: "Nick", Kind: "water_the_plants"},
	})

	r := NewRunner(sink, logx.Nop(), withIDs, withoutIDs)
	r.Start(context.Background())
	defer r.Stop(context.Background())

	waitFor(t, "seal", func() bool { return sink.seals() == 1 })

	tasks := sink.all()
	if len(tasks) != 5 {
		t.Fatalf("delivered %d tasks, want 5", len(tasks))
	}
	ids := map[int64]bool{}
	for _, task := range tasks {
		if task.ID == 0 {
			t.Errorf("task for %s has no id", task.Robot)
		}
		if ids[task.ID] {
			t.Errorf("duplicate task id %d", task.ID)
		}
		ids[task.ID] = true
	}
	if !ids[10] || !ids[20] {
		t.Error("explicit task ids were not preserved")
	}
}

func TestRunnerKeepsOpenEndedRunUnsealed(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	batch := NewStatic("batch", []chore.Task{{Robot: "Dave", Kind: "feed_the_cat"}})
	r := NewRunner(sink, logx.Nop(), batch, blocking{})
	r.Start(context.Background())

	waitFor(t, "batch delivery", func() bool { return len(sink.all()) == 1 })
	time.Sleep(50 * time.Millisecond)
	if sink.seals() != 0 {
		t.Fatal("runner sealed despite an open-ended source")
	}

	r.Stop(context.Background())
	if sink.seals() != 0 {
		t.Fatal("runner sealed on stop")
	}
}

func TestRunnerSkipsRejectedTasks(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{reject: map[string]bool{"mop_the_ceiling": true}}
	src := NewStatic("batch", []chore.Task{
		{Robot: "Dave", Kind: "feed_the_cat"},
		{Robot: "Dave", Kind: "mop_the_ceiling"},
		{Robot: "Dave", Kind: "feed_the_cat"},
	})
	r := NewRunner(sink, logx.Nop(), src)
	r.Start(context.Background())
	defer r.Stop(context.Background())

	waitFor(t, "seal", func() bool { return sink.seals() == 1 })
	if got := len(sink.all()); got != 2 {
		t.Fatalf("delivered %d tasks, want 2 (rejection must not stop the source)", got)
	}
}

func TestRunnerStopsSourceOnSinkError(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{fail: dispatch.ErrSealed}
	src := NewStatic("batch", []chore.Task{
		{Robot: "Dave", Kind: "feed_the_cat"},
		{Robot: "Cris", Kind: "feed_the_cat"},
	})
	r := NewRunner(sink, logx.Nop(), src)
	r.Start(context.Background())
	defer r.Stop(context.Background())

	waitFor(t, "source exit", func() bool { return sink.seals() == 1 })
	if got := len(sink.all()); got != 0 {
		t.Fatalf("delivered %d tasks into a sealed sink", got)
	}
}

func TestStaticHonorsCancel(t *testing.T) {
	t.Parallel()

	src := NewStatic("batch", []chore.Task{
		{Robot: "Dave", Kind: "feed_the_cat"},
		{Robot: "Cris", Kind: "feed_the_cat"},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := src.Run(ctx, func(chore.Task) error {
		t.Fatal("submit called after cancel")
		return nil
	})
	if err == nil {
		t.Fatal("expected ctx error")
	}
}
