package feed

import (
	"context"
	"testing"
	"time"

	logx "robofleet/pkg/logx"
)

func TestNormalizeSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "cron", raw: "*/5 * * * *", want: "*/5 * * * *"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", want: "0 0 * * *"},
		{name: "descriptor", raw: "@hourly", want: "@hourly"},
		{name: "every descriptor", raw: "@every 55m", want: "@every 55m"},
		{name: "duration", raw: "10m", want: "@every 10m0s"},
		{name: "prefixed interval", raw: "interval:45s", want: "@every 45s"},
		{name: "every prefix", raw: "every:90s", want: "@every 1m30s"},
		{name: "hhmm", raw: "01:30", want: "@every 1h30m0s"},
		{name: "empty", raw: "  ", wantErr: true},
		{name: "empty cron prefix", raw: "cron: ", wantErr: true},
		{name: "bad minutes", raw: "01:75", wantErr: true},
		{name: "negative interval", raw: "-5s", wantErr: true},
		{name: "gibberish", raw: "soonish", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := normalizeSchedule(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("normalizeSchedule(%q) = %q, want error", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalizeSchedule(%q): %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("normalizeSchedule(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNewCronValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  CronConfig
	}{
		{name: "no entries", cfg: CronConfig{}},
		{
			name: "missing robot",
			cfg: CronConfig{Entries: []CronEntry{
				{Name: "feeding", Schedule: "5m", Kind: "feed_the_cat"},
			}},
		},
		{
			name: "missing kind",
			cfg: CronConfig{Entries: []CronEntry{
				{Name: "feeding", Schedule: "5m", Robot: "Dave"},
			}},
		},
		{
			name: "bad schedule",
			cfg: CronConfig{Entries: []CronEntry{
				{Name: "feeding", Schedule: "61 * * * *", Robot: "Dave", Kind: "feed_the_cat"},
			}},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewCron(tt.cfg, logx.Nop()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCronRunSubmits(t *testing.T) {
	t.Parallel()

	src, err := NewCron(CronConfig{Entries: []CronEntry{
		{Name: "feeding", Schedule: "10ms", Robot: "Dave", Kind: "feed_the_cat"},
	}}, logx.Nop())
	if err != nil {
		t.Fatalf("NewCron: %v", err)
	}
	if src.Finite() {
		t.Fatal("cron source must be open-ended")
	}

	var got collector
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, got.submit) }()

	waitFor(t, "two cron firings", func() bool { return got.len() >= 2 })
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v after cancel", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	for _, task := range got.all()[:2] {
		if task.Robot != "Dave" || task.Kind != "feed_the_cat" {
			t.Fatalf("cron emitted %+v", task)
		}
		if task.ID != 0 {
			t.Fatalf("cron emitted explicit id %d, ids belong to the runner", task.ID)
		}
	}
}
