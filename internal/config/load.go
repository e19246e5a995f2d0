package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Default returns the configuration used when no file is given: console
// logging and the builtin demo workload.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "INFO", Console: true},
		Feeds:   FeedsConfig{Demo: true},
	}
}

// Load reads, parses and validates the config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(path, b)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes config bytes. The file extension picks the format; both
// routes go through the strict JSON decoder so unknown keys fail early.
func Parse(path string, data []byte) (*Config, error) {
	jb, err := asJSON(path, data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// asJSON funnels .yaml/.yml files through a YAML decode and a JSON
// re-encode, so one strict decoder handles both formats. Anything else is
// assumed to already be JSON.
func asJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	jb, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("yaml config: %w", err)
	}
	return jb, nil
}

// ParseDurationField parses an optional duration string from the config.
// Blank means unset and maps to zero. The field path prefixes any error so
// the operator sees which key to fix.
func ParseDurationField(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q", field, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", field, raw)
	}
	return d, nil
}

// stringifyKeys rewrites YAML's map[any]any maps with string keys;
// json.Marshal refuses non-string keys.
func stringifyKeys(v any) any {
	switch node := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(node))
		for k, val := range node {
			out[fmt.Sprint(k)] = stringifyKeys(val)
		}
		return out
	case map[string]any:
		for k, val := range node {
			node[k] = stringifyKeys(val)
		}
		return node
	case []any:
		for i, val := range node {
			node[i] = stringifyKeys(val)
		}
		return node
	}
	return v
}

// Validate checks bounds and parses every duration and timezone field so
// a bad config fails at startup, not mid-run.
func (c *Config) Validate() error {
	if c.Dispatch.Capacity < 0 {
		return fmt.Errorf("dispatch.capacity must be >= 0")
	}
	if c.Dispatch.QueueSize < 0 {
		return fmt.Errorf("dispatch.queue_size must be >= 0")
	}
	if c.Dispatch.HistorySize < 0 {
		return fmt.Errorf("dispatch.history_size must be >= 0")
	}

	for i, ch := range c.Chores {
		label := fmt.Sprintf("chores[%d]", i)
		if strings.TrimSpace(ch.Kind) == "" {
			return fmt.Errorf("%s.kind is required", label)
		}
		if _, err := ParseDurationField(label+".every", ch.Every); err != nil {
			return err
		}
		if _, err := ParseDurationField(label+".timeout", ch.Timeout); err != nil {
			return err
		}
		if _, err := ParseDurationField(label+".busy", ch.Busy); err != nil {
			return err
		}
	}

	for i, t := range c.Feeds.Tasks {
		if strings.TrimSpace(t.Robot) == "" || strings.TrimSpace(t.Kind) == "" {
			return fmt.Errorf("feeds.tasks[%d] needs robot and kind", i)
		}
	}
	if f := c.Feeds.File; f != nil {
		if strings.TrimSpace(f.Path) == "" {
			return fmt.Errorf("feeds.file.path is required")
		}
		if _, err := ParseDurationField("feeds.file.debounce", f.Debounce); err != nil {
			return err
		}
	}
	if cr := c.Feeds.Cron; cr != nil {
		if len(cr.Entries) == 0 {
			return fmt.Errorf("feeds.cron.entries must not be empty")
		}
		if tz := strings.TrimSpace(cr.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("feeds.cron.timezone: invalid %q: %w", tz, err)
			}
		}
		// Entry schedules are parsed by the feed constructor at startup.
	}

	if j := c.Journal; j != nil {
		if _, err := ParseDurationField("journal.busy_timeout", j.BusyTimeout); err != nil {
			return err
		}
	}

	if a := c.Alerts; a != nil {
		if a.Enabled {
			if strings.TrimSpace(a.Token) == "" {
				return fmt.Errorf("alerts.token is required when alerts.enabled is true")
			}
			if a.ChatID == 0 {
				return fmt.Errorf("alerts.chat_id is required when alerts.enabled is true")
			}
		}
		if a.RatePerSec < 0 {
			return fmt.Errorf("alerts.rate_per_sec must be >= 0")
		}
		if a.RetryMax < 0 {
			return fmt.Errorf("alerts.retry_max must be >= 0")
		}
		if _, err := ParseDurationField("alerts.retry_base", a.RetryBase); err != nil {
			return err
		}
		if _, err := ParseDurationField("alerts.retry_max_delay", a.RetryMaxDelay); err != nil {
			return err
		}
	}

	if _, err := ParseDurationField("pprof.read_timeout", c.Pprof.ReadTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("pprof.write_timeout", c.Pprof.WriteTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("pprof.idle_timeout", c.Pprof.IdleTimeout); err != nil {
		return err
	}
	return nil
}
