// Package supervisor runs named goroutines under one cancelable context.
//
// Every goroutine gets panic recovery, and the group keeps its first
// failure for Wait. WithCancelOnError turns that first failure into a
// group-wide cancel.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	logx "robofleet/pkg/logx"
)

type Supervisor struct {
	ctx      context.Context
	cancel   context.CancelFunc
	log      logx.Logger
	failFast bool

	mu    sync.Mutex
	first error

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the whole group as soon as any goroutine fails.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.failFast = enabled }
}

func NewSupervisor(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel signals the group to stop. It does not wait; use Wait or Stop.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first failure seen by the group, nil while healthy.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.first
}

// record keeps the first failure without canceling anything; a restart
// loop publishes errors this way while its siblings keep running.
func (s *Supervisor) record(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.first == nil {
		s.first = err
	}
	s.mu.Unlock()
}

func (s *Supervisor) fail(err error) {
	s.record(err)
	if s.failFast {
		s.cancel()
	}
}

// protect runs fn once under the group context, converting a panic into an
// error so one bad goroutine cannot take the process down.
func (s *Supervisor) protect(name string, fn func(ctx context.Context) error) (err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("panic in %s: %v", name, r)
			s.log.Error("goroutine panicked",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	return fn(s.ctx), false
}

// Go runs fn under the group context. Returning context.Canceled counts as
// a clean stop; any other error is a failure.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Debug("goroutine started", logx.String("name", name))
		err, panicked := s.protect(name, fn)
		switch {
		case panicked:
			s.fail(err)
		case err != nil && !errors.Is(err, context.Canceled):
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

// Go0 is Go for functions with nothing to report.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

type RestartOption func(*restartCfg)

type restartCfg struct {
	min, max time.Duration
	maxTries int
	fatal    bool
	publish  bool
}

// WithRestartBackoff bounds the delay between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(c *restartCfg) {
		if min > 0 {
			c.min = min
		}
		if max > 0 {
			c.max = max
		}
	}
}

// WithMaxRestarts gives up after n restarts. The initial run is not a
// restart; n=2 allows three runs in total.
func WithMaxRestarts(n int) RestartOption {
	return func(c *restartCfg) { c.maxTries = n }
}

// WithFatalOnFinalError treats giving up as a group failure.
func WithFatalOnFinalError(enabled bool) RestartOption {
	return func(c *restartCfg) { c.fatal = enabled }
}

// WithPublishFirstError surfaces failures through Err while the loop keeps
// restarting.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(c *restartCfg) { c.publish = enabled }
}

// GoRestart keeps fn running, restarting it after errors or panics with
// jittered exponential backoff. Meant for long-lived loops (servers,
// watchers, pollers) that should ride out transient trouble. A nil return
// or context.Canceled ends the loop for good.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	cfg := restartCfg{min: 250 * time.Millisecond, max: 30 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.min <= 0 {
		cfg.min = 250 * time.Millisecond
	}
	if cfg.max < cfg.min {
		cfg.max = cfg.min
	}

	s.Go0(name+".restart", func(ctx context.Context) {
		delay := cfg.min
		tries := 0
		for ctx.Err() == nil {
			began := time.Now()
			err, panicked := s.protect(name, fn)

			// A return during shutdown is a stop, whatever fn reported.
			if ctx.Err() != nil {
				return
			}
			if !panicked && errors.Is(err, context.Canceled) {
				return
			}
			if err == nil {
				return
			}

			named := err
			if !panicked {
				named = fmt.Errorf("%s: %w", name, err)
			}
			if cfg.publish {
				s.record(named)
			}

			// A loop that held up for a while earns a fresh backoff window.
			if time.Since(began) >= 30*time.Second {
				delay = cfg.min
			}

			tries++
			if cfg.maxTries > 0 && tries > cfg.maxTries {
				s.log.Error("goroutine gave up",
					logx.String("name", name),
					logx.Int("restarts", tries-1),
					logx.Err(err),
				)
				if cfg.fatal {
					s.fail(named)
				}
				return
			}

			wait := delay
			// Up to 20% jitter so restarts across the fleet don't align.
			if j := int64(wait / 5); j > 0 {
				wait += time.Duration(rand.Int63n(j + 1))
			}
			s.log.Warn("goroutine restarting",
				logx.String("name", name),
				logx.Duration("backoff", wait),
				logx.Err(err),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			delay *= 2
			if delay > cfg.max {
				delay = cfg.max
			}
		}
	})
}

// Stop cancels the group and waits for it to wind down.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine has returned, then reports the first
// failure. A done ctx aborts the wait with ctx.Err().
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}
