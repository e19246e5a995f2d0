package config

// Config is the on-disk configuration. JSON and YAML are both accepted;
// YAML is converted to JSON before the strict decode, so unknown keys are
// rejected in either format.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Dispatch DispatchConfig `json:"dispatch"`

	// Chores declares extra chore kinds and overrides for the builtin
	// three. An entry whose kind matches a builtin replaces it.
	Chores []ChoreConfig `json:"chores,omitempty"`

	Feeds FeedsConfig `json:"feeds"`

	// Journal persists completion records. Omitted means disabled.
	Journal *JournalConfig `json:"journal,omitempty"`

	// Alerts pushes failures to Telegram. Omitted means disabled.
	Alerts *AlertsConfig `json:"alerts,omitempty"`

	Pprof PprofConfig `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DispatchConfig controls the dispatcher.
//
// Defaults (when fields are omitted/zero):
//   - capacity: 3
//   - queue_size: 256
//   - history_size: 200
type DispatchConfig struct {
	Capacity    int `json:"capacity,omitempty"`
	QueueSize   int `json:"queue_size,omitempty"`
	HistorySize int `json:"history_size,omitempty"`
}

// ChoreConfig declares one chore kind with a simulated body.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type ChoreConfig struct {
	Kind string `json:"kind"`

	// Every is the minimum interval between admissions of this kind
	// across the whole fleet. "0s" disables rate limiting.
	Every string `json:"every,omitempty"`

	// Timeout bounds a single run. "0s" means unbounded.
	Timeout string `json:"timeout,omitempty"`

	// Busy is how long the simulated body works before reporting Result.
	Busy   string `json:"busy,omitempty"`
	Result string `json:"result,omitempty"`
}

// FeedsConfig selects where tasks come from. Feeds compose: demo tasks,
// inline tasks, a file and a cron feed can all run in one fleet.
type FeedsConfig struct {
	// Demo enqueues the builtin six-robot, thirty-task workload.
	Demo bool `json:"demo,omitempty"`

	// Tasks are inline one-shot submissions.
	Tasks []TaskConfig `json:"tasks,omitempty"`

	File *FileFeedConfig `json:"file,omitempty"`
	Cron *CronFeedConfig `json:"cron,omitempty"`
}

type TaskConfig struct {
	ID    int64  `json:"id,omitempty"`
	Robot string `json:"robot"`
	Kind  string `json:"kind"`
}

// FileFeedConfig reads tasks from a JSON-lines file.
type FileFeedConfig struct {
	Path   string `json:"path"`
	Follow bool   `json:"follow,omitempty"`
	// Debounce coalesces rapid rewrites while following. Go duration
	// string, default "250ms".
	Debounce string `json:"debounce,omitempty"`
}

type CronFeedConfig struct {
	Timezone string            `json:"timezone,omitempty"`
	Entries  []CronEntryConfig `json:"entries"`
}

// CronEntryConfig emits one recurring task.
//
// Schedule accepts cron expressions ("*/5 * * * *", "@hourly"), interval
// durations ("55m") and HH:MM intervals ("02:30"). Prefix with "cron:"
// or "interval:" to force a parse mode.
type CronEntryConfig struct {
	Name     string `json:"name,omitempty"`
	Schedule string `json:"schedule"`
	Robot    string `json:"robot"`
	Kind     string `json:"kind"`
}

// JournalConfig controls the completion journal.
//
// Example:
//
//	"journal": { "driver": "file", "path": "./completions.jsonl" }
type JournalConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// AlertsConfig controls the Telegram alert channel.
//
// All durations are Go duration strings.
type AlertsConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`

	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`

	// OnDrained also announces the end-of-run drain marker.
	OnDrained bool `json:"on_drained,omitempty"`
}

// PprofConfig controls the optional debug HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}
