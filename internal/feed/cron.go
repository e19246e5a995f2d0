package feed

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"robofleet/internal/chore"
	logx "robofleet/pkg/logx"
)

// CronEntry submits one task every time its schedule fires.
//
// Supported schedule forms:
//   - Cron (crontab.guru-style): "*/5 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2h30m)
//
// Optional prefixes: "cron:" forces cron parsing, "interval:"/"every:"
// force interval parsing.
type CronEntry struct {
	Name     string
	Schedule string
	Robot    string
	Kind     string
}

type CronConfig struct {
	Timezone string
	Entries  []CronEntry
}

// Cron emits recurring tasks. It never ends on its own, so a run with a
// cron feed stays up until stopped.
type Cron struct {
	cfg    CronConfig
	log    logx.Logger
	parser cron.Parser
	specs  []cronSpec
}

type cronSpec struct {
	name  string
	spec  string
	robot string
	kind  string
}

func NewCron(cfg CronConfig, log logx.Logger) (*Cron, error) {
	if len(cfg.Entries) == 0 {
		return nil, fmt.Errorf("feed: cron feed needs at least one entry")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Cron{
		cfg:    cfg,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	for i, e := range cfg.Entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			name = fmt.Sprintf("entry-%d", i+1)
		}
		if strings.TrimSpace(e.Robot) == "" || strings.TrimSpace(e.Kind) == "" {
			return nil, fmt.Errorf("feed: cron entry %q needs robot and kind", name)
		}
		spec, err := normalizeSchedule(e.Schedule)
		if err != nil {
			return nil, fmt.Errorf("feed: cron entry %q: %w", name, err)
		}
		if _, err := c.parser.Parse(spec); err != nil {
			return nil, fmt.Errorf("feed: cron entry %q: invalid schedule %q: %w", name, e.Schedule, err)
		}
		c.specs = append(c.specs, cronSpec{
			name:  name,
			spec:  spec,
			robot: strings.TrimSpace(e.Robot),
			kind:  strings.TrimSpace(e.Kind),
		})
	}
	return c, nil
}

func (c *Cron) Name() string { return "cron" }

func (c *Cron) Finite() bool { return false }

func (c *Cron) Run(ctx context.Context, submit func(chore.Task) error) error {
	loc := c.loadLocation()
	runner := cron.New(cron.WithParser(c.parser), cron.WithLocation(loc))
	for _, sp := range c.specs {
		sp := sp
		_, err := runner.AddFunc(sp.spec, func() {
			err := submit(chore.Task{Robot: sp.robot, Kind: sp.kind})
			if err != nil && ctx.Err() == nil {
				c.log.Warn("cron task submit failed",
					logx.String("schedule", sp.name),
					logx.String("robot", sp.robot),
					logx.String("kind", sp.kind),
					logx.Err(err),
				)
			}
		})
		if err != nil {
			return fmt.Errorf("feed: schedule %q: %w", sp.name, err)
		}
	}

	runner.Start()
	c.log.Info("cron feed started",
		logx.Int("entries", len(c.specs)),
		logx.String("tz", loc.String()),
	)
	<-ctx.Done()
	<-runner.Stop().Done()
	return nil
}

func (c *Cron) loadLocation() *time.Location {
	tz := strings.TrimSpace(c.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		c.log.Warn("invalid timezone, falling back to Local",
			logx.String("tz", tz),
			logx.Err(err),
		)
		return time.Local
	}
	return loc
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// normalizeSchedule turns a schedule string into a spec the cron parser
// accepts, mapping interval forms onto "@every".
func normalizeSchedule(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return "", fmt.Errorf("cron schedule required after 'cron:'")
		}
		return expr, nil
	case strings.HasPrefix(low, "interval:"):
		return intervalSpec(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return intervalSpec(s[len("every:"):])
	}

	// Any whitespace or a leading '@' reads as cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return s, nil
	}
	return intervalSpec(s)
}

func intervalSpec(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); len(m) == 3 {
		var hh int
		for i := 0; i < len(m[1]); i++ {
			hh = hh*10 + int(m[1][i]-'0')
		}
		mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
		if mm > 59 {
			return "", fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return "", fmt.Errorf("interval must be > 0")
		}
		return "@every " + d.String(), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return "", fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')", v)
	}
	if d <= 0 {
		return "", fmt.Errorf("interval must be > 0")
	}
	return "@every " + d.String(), nil
}
