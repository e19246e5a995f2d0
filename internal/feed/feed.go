// Package feed produces the dispatcher's task stream.
//
// A run is a set of sources. A finite source delivers a fixed batch and
// ends; an open-ended source keeps producing until the run stops. When
// every source is finite, the runner seals the dispatcher after the last
// one finishes, turning the run into a drain-and-exit batch.
package feed

import (
	"context"
	"errors"
	"sync"

	"robofleet/internal/chore"
	"robofleet/internal/dispatch"
	rtsup "robofleet/internal/runtime/supervisor"
	logx "robofleet/pkg/logx"
)

// Sink is where feeds deliver tasks; the dispatcher implements it.
type Sink interface {
	Submit(t chore.Task) error
	Seal()
}

// Source produces tasks for one run.
type Source interface {
	Name() string

	// Finite reports whether the source ends on its own once its tasks
	// are delivered.
	Finite() bool

	// Run submits tasks until the source is exhausted or ctx is canceled.
	Run(ctx context.Context, submit func(chore.Task) error) error
}

// Runner drives a set of sources against one sink.
type Runner struct {
	log     logx.Logger
	sink    Sink
	sources []Source

	idMu   sync.Mutex
	lastID int64

	mu      sync.Mutex
	started bool
	sup     *rtsup.Supervisor
}

func NewRunner(sink Sink, log logx.Logger, sources ...Source) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		log:     log.With(logx.String("comp", "feed")),
		sink:    sink,
		sources: sources,
	}
}

// Start launches every source. Idempotent.
func (r *Runner) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(r.log))
	sup := r.sup
	r.mu.Unlock()

	allFinite := true
	var wg sync.WaitGroup
	for _, src := range r.sources {
		if !src.Finite() {
			allFinite = false
		}
		src := src
		wg.Add(1)
		sup.Go("feed."+src.Name(), func(ctx context.Context) error {
			defer wg.Done()
			err := src.Run(ctx, r.submit)
			if err != nil && ctx.Err() == nil {
				r.log.Warn("feed source failed",
					logx.String("source", src.Name()),
					logx.Err(err),
				)
			}
			return err
		})
	}

	sup.Go0("feed.seal", func(ctx context.Context) {
		wg.Wait()
		// A failed finite source still counts as finished: the error is
		// logged above and the batch seals with what was delivered.
		if allFinite && ctx.Err() == nil {
			r.log.Info("all sources finished; sealing intake",
				logx.Int("sources", len(r.sources)),
			)
			r.sink.Seal()
		}
	})

	r.log.Info("feeds started", logx.Int("sources", len(r.sources)), logx.Bool("finite", allFinite))
}

// Stop cancels every source and waits for them to exit or ctx to expire.
func (r *Runner) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	sup := r.sup
	r.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && ctx.Err() == nil {
		r.log.Warn("feeds stopped with error", logx.Err(err))
	}
}

// submit fills in a task ID where the source left none and forwards to the
// sink. Rejections are the sink's business and do not stop a source.
func (r *Runner) submit(t chore.Task) error {
	r.idMu.Lock()
	if t.ID == 0 {
		r.lastID++
		t.ID = r.lastID
	} else if t.ID > r.lastID {
		r.lastID = t.ID
	}
	r.idMu.Unlock()

	err := r.sink.Submit(t)
	if err == nil || errors.Is(err, dispatch.ErrUnknownChore) {
		return nil
	}
	return err
}
