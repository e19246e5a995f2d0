// Package pprof runs the optional debug HTTP server.
//
// Besides the usual runtime profiles it mounts /debug/fleet, a JSON
// snapshot of the dispatcher, so a stuck fleet can be inspected without
// attaching a debugger.
package pprof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"
	"sync"
	"time"

	rtsup "robofleet/internal/runtime/supervisor"
	"robofleet/pkg/logx"
)

// Config controls the debug HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Prefix        string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MutexProfileFraction int
	BlockProfileRate     int
	MemProfileRate       int
}

// StatusFunc returns a point-in-time view for /debug/fleet. The value
// must be JSON-serializable.
type StatusFunc func() any

type Service struct {
	cfg    Config
	log    logx.Logger
	status StatusFunc

	mu  sync.Mutex
	sup *rtsup.Supervisor
}

func New(cfg Config, status StatusFunc, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, status: status, log: log}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Start brings the debug server up under a restart loop so the endpoint
// self-heals. Safe to call when disabled; idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.sup != nil {
		return
	}

	profileRates(s.cfg)

	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// Debug surface only; never hard-kill the fleet over it.
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("pprof.http", s.serve,
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

// Stop shuts the server down. The graceful window runs inside the serve
// loop; a short ctx only cuts the waiting, not the shutdown itself.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}

	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("pprof stop cut short", logx.Err(ctx.Err()))
		return
	}
	s.log.Info("pprof stopped")
}

func profileRates(cfg Config) {
	// 0 keeps the Go default; explicit -1 is not supported here.
	if cfg.MutexProfileFraction >= 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate >= 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
	if cfg.MemProfileRate > 0 {
		runtime.MemProfileRate = cfg.MemProfileRate
	}
}

// serve owns one listener lifetime. It returns context.Canceled on a clean
// stop and an error otherwise, which makes the restart loop bring the
// server back after a crash but not after a shutdown.
func (s *Service) serve(ctx context.Context) error {
	cfg := s.cfg

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:6060"
	}

	// Refuse accidental public exposure without auth.
	if !loopback(addr) && cfg.Token == "" {
		if !cfg.AllowInsecure {
			s.log.Error("pprof refused to start: non-loopback bind needs token or allow_insecure",
				logx.String("addr", addr),
			)
			return errors.New("insecure pprof bind")
		}
		s.log.Warn("pprof exposed without token", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return fmt.Errorf("pprof listen on %s: %w", addr, err)
	}
	defer func() { _ = ln.Close() }()

	srv := &http.Server{
		Handler:      s.routes(cfg),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	defer func() { _ = srv.Close() }()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if srv.Shutdown(cctx) != nil {
			_ = srv.Close()
		}
	}()

	s.log.Info("pprof started",
		logx.String("addr", ln.Addr().String()),
		logx.String("prefix", cleanPrefix(cfg.Prefix)),
		logx.Bool("token_set", cfg.Token != ""),
	)

	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("pprof server exited unexpectedly")
	}
	return err
}

func (s *Service) routes(cfg Config) http.Handler {
	prefix := cleanPrefix(cfg.Prefix)
	base := strings.TrimSuffix(prefix, "/")

	mux := http.NewServeMux()
	handle := func(path string, h http.HandlerFunc) {
		mux.HandleFunc(path, guard(cfg.Token, h))
	}

	handle("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.status != nil {
		handle("/debug/fleet", s.fleetStatus)
	}

	handle(prefix, indexUnder(prefix))
	handle(base+"/cmdline", hpprof.Cmdline)
	handle(base+"/profile", hpprof.Profile)
	handle(base+"/symbol", hpprof.Symbol)
	handle(base+"/trace", hpprof.Trace)
	if base != "" {
		mux.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, prefix, http.StatusPermanentRedirect)
		})
	}
	return mux
}

func (s *Service) fleetStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.status()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// guard wraps h with token auth. Both "Authorization: Bearer <t>" and
// "?token=<t>" are accepted, so browser use stays possible.
func guard(token string, h http.HandlerFunc) http.HandlerFunc {
	token = strings.TrimSpace(token)
	if token == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if tokenOK(r, token) {
			h(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

func tokenOK(r *http.Request, want string) bool {
	if q := r.URL.Query().Get("token"); q != "" {
		return q == want
	}
	const bearer = "Bearer "
	ah := r.Header.Get("Authorization")
	return strings.HasPrefix(ah, bearer) && strings.TrimSpace(ah[len(bearer):]) == want
}

func cleanPrefix(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// net/http/pprof.Index only understands paths rooted at /debug/pprof/;
// rewrite the request path so custom prefixes work.
func indexUnder(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clone := r.Clone(r.Context())
		clone.URL.Path = "/debug/pprof/" + strings.TrimPrefix(r.URL.Path, prefix)
		hpprof.Index(w, clone)
	}
}

func loopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	switch {
	case host == "":
		// empty host binds all interfaces
		return false
	case strings.EqualFold(host, "localhost"):
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
