package app

import (
	"fmt"
	"strings"

	"robofleet/internal/alert"
	"robofleet/internal/chore"
	"robofleet/internal/clock"
	"robofleet/internal/config"
	"robofleet/internal/dispatch"
	"robofleet/internal/feed"
	"robofleet/internal/journal"
	"robofleet/internal/observability/pprof"
	"robofleet/pkg/logx"
)

// The map helpers translate the on-disk config into package configs.
// Duration strings are parsed here so every error carries its field path.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapDispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		Capacity:    cfg.Dispatch.Capacity,
		QueueSize:   cfg.Dispatch.QueueSize,
		HistorySize: cfg.Dispatch.HistorySize,
	}
}

// buildCatalog merges config-declared chores over the builtin three. A
// config entry whose kind matches a builtin replaces it wholesale.
func buildCatalog(cfg *config.Config, clk clock.Clock) (*chore.Catalog, error) {
	defs := chore.Builtins(clk)
	index := make(map[string]int, len(defs))
	for i, d := range defs {
		index[d.Kind] = i
	}

	for i, cc := range cfg.Chores {
		label := fmt.Sprintf("chores[%d]", i)
		kind := strings.TrimSpace(cc.Kind)
		if kind == "" {
			return nil, fmt.Errorf("%s.kind is required", label)
		}
		every, err := config.ParseDurationField(label+".every", cc.Every)
		if err != nil {
			return nil, err
		}
		timeout, err := config.ParseDurationField(label+".timeout", cc.Timeout)
		if err != nil {
			return nil, err
		}
		busy, err := config.ParseDurationField(label+".busy", cc.Busy)
		if err != nil {
			return nil, err
		}
		result := strings.TrimSpace(cc.Result)
		if result == "" {
			result = "Done"
		}

		d := chore.Simulated(clk, kind, every, busy, result)
		d.Timeout = timeout
		if j, ok := index[kind]; ok {
			defs[j] = d
		} else {
			index[kind] = len(defs)
			defs = append(defs, d)
		}
	}
	return chore.NewCatalog(defs)
}

// buildSources assembles the configured task feeds. Feeds compose, but a
// fleet with nothing to do is a config mistake.
func buildSources(cfg *config.Config, log logx.Logger) ([]feed.Source, error) {
	var sources []feed.Source

	if cfg.Feeds.Demo {
		sources = append(sources, feed.NewStatic("demo", chore.DemoTasks()))
	}
	if len(cfg.Feeds.Tasks) > 0 {
		tasks := make([]chore.Task, 0, len(cfg.Feeds.Tasks))
		for _, t := range cfg.Feeds.Tasks {
			tasks = append(tasks, chore.Task{ID: t.ID, Robot: t.Robot, Kind: t.Kind})
		}
		sources = append(sources, feed.NewStatic("tasks", tasks))
	}
	if fc := cfg.Feeds.File; fc != nil {
		debounce, err := config.ParseDurationField("feeds.file.debounce", fc.Debounce)
		if err != nil {
			return nil, err
		}
		src, err := feed.NewFile(feed.FileConfig{
			Path:     fc.Path,
			Follow:   fc.Follow,
			Debounce: debounce,
		}, log.With(logx.String("comp", "feed.file")))
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	if cc := cfg.Feeds.Cron; cc != nil {
		entries := make([]feed.CronEntry, 0, len(cc.Entries))
		for _, e := range cc.Entries {
			entries = append(entries, feed.CronEntry{
				Name:     e.Name,
				Schedule: e.Schedule,
				Robot:    e.Robot,
				Kind:     e.Kind,
			})
		}
		src, err := feed.NewCron(feed.CronConfig{
			Timezone: cc.Timezone,
			Entries:  entries,
		}, log.With(logx.String("comp", "feed.cron")))
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("feeds: no task source configured (set feeds.demo or add one)")
	}
	return sources, nil
}

func mapJournalConfig(cfg *config.Config) (journal.Config, bool, error) {
	j := cfg.Journal
	if j == nil {
		return journal.Config{}, false, nil
	}
	driver := strings.TrimSpace(j.Driver)
	if driver == "" || strings.EqualFold(driver, "none") {
		return journal.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("journal.busy_timeout", j.BusyTimeout)
	if err != nil {
		return journal.Config{}, false, err
	}
	return journal.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(j.Path),
		BusyTimeout: busy,
	}, true, nil
}

func mapAlertConfig(cfg *config.Config) (alert.Config, alert.TelegramConfig, bool, error) {
	a := cfg.Alerts
	if a == nil || !a.Enabled {
		return alert.Config{}, alert.TelegramConfig{}, false, nil
	}
	retryBase, err := config.ParseDurationField("alerts.retry_base", a.RetryBase)
	if err != nil {
		return alert.Config{}, alert.TelegramConfig{}, false, err
	}
	retryMaxDelay, err := config.ParseDurationField("alerts.retry_max_delay", a.RetryMaxDelay)
	if err != nil {
		return alert.Config{}, alert.TelegramConfig{}, false, err
	}
	ac := alert.Config{
		Enabled:       true,
		RatePerSec:    a.RatePerSec,
		RetryMax:      a.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
		OnDrained:     a.OnDrained,
	}
	tc := alert.TelegramConfig{
		Token:    a.Token,
		ChatID:   a.ChatID,
		ThreadID: a.ThreadID,
	}
	return ac, tc, true, nil
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	p := cfg.Pprof
	readT, err := config.ParseDurationField("pprof.read_timeout", p.ReadTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	writeT, err := config.ParseDurationField("pprof.write_timeout", p.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	idleT, err := config.ParseDurationField("pprof.idle_timeout", p.IdleTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:       p.Enabled,
		Addr:          strings.TrimSpace(p.Addr),
		Prefix:        strings.TrimSpace(p.Prefix),
		Token:         p.Token,
		AllowInsecure: p.AllowInsecure,

		ReadTimeout:  readT,
		WriteTimeout: writeT,
		IdleTimeout:  idleT,

		MutexProfileFraction: p.MutexProfileFraction,
		BlockProfileRate:     p.BlockProfileRate,
		MemProfileRate:       p.MemProfileRate,
	}, nil
}
