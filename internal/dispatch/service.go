package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"robofleet/internal/chore"
	"robofleet/internal/clock"
	"robofleet/internal/eventbus"
	"robofleet/internal/journal"
	"robofleet/internal/ratelimit"
	rtsup "robofleet/internal/runtime/supervisor"
	logx "robofleet/pkg/logx"
)

// Deps carries the dispatcher's collaborators. Every field is optional:
// logging defaults to a no-op logger, the clock to the system clock, and a
// nil bus or journal disables that sink.
type Deps struct {
	Log     logx.Logger
	Bus     eventbus.Bus
	Journal journal.Recorder
	Clock   clock.Clock
}

// Service is one dispatcher run: Start it, feed it tasks, Seal the intake,
// and Wait for the drain. A Service cannot be restarted after Stop.
type Service struct {
	cfg     Config
	catalog *chore.Catalog
	log     logx.Logger
	bus     eventbus.Bus
	rec     journal.Recorder
	clk     clock.Clock
	limiter *ratelimit.Registry
	gate    *gate
	runID   string

	intake chan queued
	runCh  chan admission
	doneCh chan chore.Completion

	sealOnce  sync.Once
	sealCh    chan struct{}
	drainedCh chan struct{}
	stopCh    chan struct{}

	sup *rtsup.Supervisor

	// mu guards everything below. Lanes and counters are written by the
	// loop and by Submit; Snapshot reads them from any goroutine.
	mu          sync.Mutex
	started     bool
	stopping    bool
	sealed      bool
	drained     bool
	lanes       map[string]*lane
	seq         uint64
	submitted   uint64
	ingested    uint64
	rejected    uint64
	admitted    uint64
	completed   uint64
	failed      uint64
	abandoned   uint64
	maxInFlight int
	history     []chore.Completion
}

func New(cfg Config, catalog *chore.Catalog, d Deps) (*Service, error) {
	if catalog == nil {
		return nil, fmt.Errorf("dispatch: nil catalog")
	}
	cfg = cfg.withDefaults()
	if d.Clock == nil {
		d.Clock = clock.System()
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}

	s := &Service{
		cfg:       cfg,
		catalog:   catalog,
		log:       d.Log.With(logx.String("comp", "dispatch")),
		bus:       d.Bus,
		rec:       d.Journal,
		clk:       d.Clock,
		limiter:   ratelimit.New(),
		gate:      newGate(cfg.Capacity),
		runID:     uuid.NewString(),
		intake:    make(chan queued, cfg.QueueSize),
		runCh:     make(chan admission, cfg.Capacity),
		doneCh:    make(chan chore.Completion, cfg.Capacity),
		sealCh:    make(chan struct{}),
		drainedCh: make(chan struct{}),
		stopCh:    make(chan struct{}),
		lanes:     map[string]*lane{},
	}
	for _, kind := range catalog.Kinds() {
		def, _ := catalog.Lookup(kind)
		s.limiter.Configure(kind, def.Every)
	}
	return s, nil
}

// RunID identifies this dispatcher run on every completion record.
func (s *Service) RunID() string { return s.runID }

// Start launches the decision loop and the executor pool. Idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// A dead loop cannot reconcile anything; take the whole run down
		// so Wait surfaces the failure instead of hanging.
		rtsup.WithCancelOnError(true),
	)
	sup := s.sup
	s.mu.Unlock()

	sup.Go("dispatch.loop", s.loop)
	for i := 0; i < s.cfg.Capacity; i++ {
		name := fmt.Sprintf("executor.%d", i)
		sup.Go0(name, s.worker)
	}

	s.log.Info("dispatcher started",
		logx.String("run_id", s.runID),
		logx.Int("capacity", s.cfg.Capacity),
		logx.Int("queue", cap(s.intake)),
		logx.Int("chores", s.catalog.Len()),
	)
}

// Submit validates the task and hands it to the decision loop. It blocks
// only while the intake buffer is full. Unknown chore kinds are rejected:
// the submitter gets ErrUnknownChore and a rejected completion record is
// journaled, so the task is accounted for rather than silently dropped.
func (s *Service) Submit(t chore.Task) error {
	t.Robot = strings.TrimSpace(t.Robot)
	t.Kind = strings.TrimSpace(t.Kind)
	if t.Robot == "" {
		return fmt.Errorf("dispatch: task %d has no robot", t.ID)
	}
	def, known := s.catalog.Lookup(t.Kind)

	s.mu.Lock()
	switch {
	case !s.started:
		s.mu.Unlock()
		return ErrNotStarted
	case s.stopping:
		s.mu.Unlock()
		return ErrStopping
	case s.sealed:
		s.mu.Unlock()
		return ErrSealed
	}
	s.seq++
	t.Seq = s.seq
	if !known {
		s.rejected++
		s.mu.Unlock()
		return s.reject(t, s.clk.Now())
	}
	// Counted before the channel send: the loop refuses to drain until
	// every counted task has been ingested, so a submit racing Seal cannot
	// be lost.
	s.submitted++
	s.mu.Unlock()

	q := queued{task: t, def: def, submittedAt: s.clk.Now()}
	select {
	case s.intake <- q:
		return nil
	case <-s.stopCh:
		return ErrStopping
	}
}

// SubmitAll submits tasks in order, stopping at the first error.
// Already-submitted tasks stay submitted.
func (s *Service) SubmitAll(tasks []chore.Task) error {
	for i, t := range tasks {
		if err := s.Submit(t); err != nil {
			return fmt.Errorf("task %d of %d (id %d): %w", i+1, len(tasks), t.ID, err)
		}
	}
	return nil
}

func (s *Service) reject(t chore.Task, now time.Time) error {
	rec := chore.Completion{
		RunID:       s.runID,
		TaskID:      t.ID,
		Robot:       t.Robot,
		Kind:        t.Kind,
		Seq:         t.Seq,
		Rejected:    true,
		Error:       fmt.Sprintf("unknown chore kind %q", t.Kind),
		SubmittedAt: now,
		FinishedAt:  now,
	}
	s.journalAppend(rec)
	s.appendHistory(rec)
	s.publish("task.rejected", TaskEvent{
		TaskID: t.ID, Robot: t.Robot, Kind: t.Kind, Seq: t.Seq,
		At: now, Error: rec.Error,
	})
	s.log.Warn("task rejected: unknown chore kind",
		logx.Int64("task", t.ID),
		logx.String("robot", t.Robot),
		logx.String("kind", t.Kind),
	)
	return fmt.Errorf("%w %q", ErrUnknownChore, t.Kind)
}

// Seal declares the task set complete: no further Submit calls are
// accepted, and once every accepted task has completed the dispatcher
// drains and Done() closes.
func (s *Service) Seal() {
	s.sealOnce.Do(func() {
		s.mu.Lock()
		s.sealed = true
		s.mu.Unlock()
		close(s.sealCh)
		s.log.Info("intake sealed")
	})
}

// Done is closed once the dispatcher has been sealed and fully drained.
func (s *Service) Done() <-chan struct{} { return s.drainedCh }

// Wait blocks until the dispatcher drains cleanly, the run dies, or ctx
// expires.
func (s *Service) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup := s.sup
	started := s.started
	s.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	select {
	case <-s.drainedCh:
		return nil
	default:
	}

	select {
	case <-s.drainedCh:
		return nil
	case <-sup.Context().Done():
		// A clean drain cancels the supervisor too; the drain wins.
		select {
		case <-s.drainedCh:
			return nil
		default:
		}
		if err := sup.Err(); err != nil {
			return err
		}
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop hard-stops the run: in-flight bodies observe cancellation and still
// produce failure records, pending tasks are abandoned. Use Seal plus Wait
// for a graceful drain; call Stop afterwards to release the workers.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	already := s.stopping
	s.stopping = true
	sup := s.sup
	s.mu.Unlock()

	if !already {
		close(s.stopCh)
		sup.Cancel()
	}

	err := sup.Wait(ctx)

	// The loop is gone; fold any final worker reports into the counters so
	// a post-stop Snapshot stays honest.
	for {
		select {
		case rec := <-s.doneCh:
			s.complete(rec)
			continue
		default:
		}
		break
	}

	switch {
	case ctx.Err() != nil:
		s.log.Warn("dispatcher stop timed out", logx.Err(ctx.Err()))
	case err != nil:
		s.log.Warn("dispatcher stopped with error", logx.Err(err))
	default:
		s.log.Info("dispatcher stopped")
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Capacity:    s.cfg.Capacity,
		InFlight:    s.gate.inFlight(),
		QueueLen:    len(s.intake),
		QueueCap:    cap(s.intake),
		MaxInFlight: s.maxInFlight,
		Submitted:   s.submitted,
		Rejected:    s.rejected,
		Admitted:    s.admitted,
		Completed:   s.completed,
		Failed:      s.failed,
		Abandoned:   s.abandoned,
		Sealed:      s.sealed,
		Drained:     s.drained,
	}
	snap.Lanes = make([]LaneView, 0, len(s.lanes))
	for _, l := range s.lanes {
		snap.Lanes = append(snap.Lanes, LaneView{Robot: l.robot, Busy: l.busy, Pending: len(l.pending)})
	}
	sort.Slice(snap.Lanes, func(i, j int) bool { return snap.Lanes[i].Robot < snap.Lanes[j].Robot })
	snap.History = make([]chore.Completion, len(s.history))
	copy(snap.History, s.history)
	return snap
}

func (s *Service) appendHistory(rec chore.Completion) {
	s.mu.Lock()
	s.history = append(s.history, rec)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.mu.Unlock()
}

func (s *Service) journalAppend(rec chore.Completion) {
	if s.rec == nil {
		return
	}
	// Records of canceled runs still get written, so the append context is
	// deliberately not the run context.
	if err := s.rec.Append(context.Background(), rec); err != nil {
		s.log.Warn("journal append failed", logx.Int64("task", rec.TaskID), logx.Err(err))
	}
}

func (s *Service) publish(typ string, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
