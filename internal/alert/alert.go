// Package alert pushes fleet trouble to a chat channel.
//
// The service subscribes to the event bus and forwards failed and
// rejected tasks (and optionally the end-of-run drain marker) to a
// Sender, usually Telegram. Delivery is asynchronous and throttled so
// a burst of failures cannot stall the dispatcher or flood the chat.
package alert

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"robofleet/internal/dispatch"
	"robofleet/internal/eventbus"
	rtsup "robofleet/internal/runtime/supervisor"
	"robofleet/pkg/logx"
)

// Sender delivers one alert message. Implementations must be safe for
// use from a single goroutine; the service never calls Send concurrently.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type Config struct {
	Enabled bool

	// RatePerSec caps outbound messages. Burst equals the rate so a
	// short spike drains without blocking too hard.
	RatePerSec int

	// Buffer sizes the bus subscription. Events beyond it are dropped
	// by the bus, never by blocking the publisher.
	Buffer int

	// OnDrained also announces the end-of-run drain marker.
	OnDrained bool

	// RetryMax is the number of re-sends after a failed attempt.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.Buffer <= 0 {
		c.Buffer = 64
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	return c
}

// Service fans bus events out to a Sender.
type Service struct {
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	sender  Sender
	limiter *rate.Limiter

	mu    sync.Mutex
	sup   *rtsup.Supervisor
	unsub func()

	sent    atomic.Uint64
	failed  atomic.Uint64
	skipped atomic.Uint64
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log.With(logx.String("component", "alert")),
		bus:     bus,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Start is idempotent. A disabled or sender-less service starts as a no-op.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	if !s.cfg.Enabled || s.sender == nil || s.bus == nil {
		s.log.Debug("alerts disabled")
		return
	}

	types := []string{"task.failed", "task.rejected"}
	if s.cfg.OnDrained {
		types = append(types, "fleet.drained")
	}
	ch, unsub := s.bus.Subscribe(s.cfg.Buffer, types...)
	s.unsub = unsub

	s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log))
	s.sup.Go("alert.pump", func(ctx context.Context) error {
		return s.pump(ctx, ch)
	})
	s.log.Info("alerts started", logx.Int("rate_per_sec", s.cfg.RatePerSec))
}

// Stop unsubscribes, lets the pump flush what the bus already buffered,
// and escalates to a hard cancel when ctx runs out first.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup, unsub := s.sup, s.unsub
	s.sup, s.unsub = nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if unsub != nil {
		unsub()
	}
	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		sup.Cancel()
		_ = sup.Wait(context.Background())
	}
}

// Counters reports delivery totals. Diagnostic only.
func (s *Service) Counters() (sent, failed, skipped uint64) {
	return s.sent.Load(), s.failed.Load(), s.skipped.Load()
}

// pump drains the subscription. A closed channel still yields its
// buffered events first, so Stop flushes the backlog before returning.
func (s *Service) pump(ctx context.Context, ch <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			s.deliver(ctx, ev)
		}
	}
}

func (s *Service) deliver(ctx context.Context, ev eventbus.Event) {
	text := formatEvent(ev)
	if text == "" {
		s.skipped.Add(1)
		return
	}
	// Rate limit (honor cancellation).
	if err := s.limiter.Wait(ctx); err != nil {
		s.skipped.Add(1)
		return
	}
	if s.sendWithRetry(ctx, text) {
		s.sent.Add(1)
		return
	}
	s.failed.Add(1)
}

func (s *Service) sendWithRetry(ctx context.Context, text string) bool {
	maxAttempts := 1 + s.cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Bound each call so a wedged transport can't hang the pump.
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := s.sender.Send(callCtx, text)
		cancel()
		if err == nil {
			return true
		}
		lastErr = err
		s.log.Debug("alert send failed",
			logx.Err(err),
			logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts),
		)
		if attempt >= maxAttempts {
			break
		}
		delay := retryDelay(s.cfg, attempt)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return false
		}
	}
	s.log.Warn("alert dropped", logx.Err(lastErr))
	return false
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1, the delay gates the NEXT attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

func formatEvent(ev eventbus.Event) string {
	te, ok := ev.Data.(dispatch.TaskEvent)
	if !ok {
		return ""
	}
	switch ev.Type {
	case "task.failed":
		return fmt.Sprintf("🚨 task %d failed: %s on %s: %s (took %s)",
			te.TaskID, te.Kind, te.Robot, te.Error, te.Took.Round(time.Millisecond))
	case "task.rejected":
		return fmt.Sprintf("⚠️ task %d rejected: %s", te.TaskID, te.Error)
	case "fleet.drained":
		return "ℹ️ fleet drained, all chores accounted for"
	default:
		return ""
	}
}
