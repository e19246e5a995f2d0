package chore

import (
	"context"
	"time"

	"robofleet/internal/clock"
)

// Builtin chore kinds for the house fleet.
const (
	KindCleanWindows = "clean_the_windows"
	KindWaterPlants  = "water_the_plants"
	KindFeedCat      = "feed_the_cat"
)

// Builtins returns the default chore table: the three house chores with
// their classic admission intervals and simulated execution times.
func Builtins(clk clock.Clock) []Definition {
	return []Definition{
		Simulated(clk, KindCleanWindows, 5*time.Second, 300*time.Millisecond, "Squeeesh"),
		Simulated(clk, KindWaterPlants, 3*time.Second, 700*time.Millisecond, "Blub"),
		Simulated(clk, KindFeedCat, 2*time.Second, 500*time.Millisecond, "Meow"),
	}
}

// Simulated builds a definition whose body sleeps busy on clk and then
// reports result. Config-declared chores use the same body as the
// builtins.
func Simulated(clk clock.Clock, kind string, every, busy time.Duration, result string) Definition {
	if clk == nil {
		clk = clock.System()
	}
	return Definition{
		Kind:  kind,
		Every: every,
		Run: func(ctx context.Context, _ Task) (string, error) {
			if err := sleepFor(ctx, clk, busy); err != nil {
				return "", err
			}
			return result, nil
		},
	}
}

// DemoTasks returns the classic 30-task house workload: six robots, five
// chores each, IDs 1..30 in submission order.
func DemoTasks() []Task {
	cleanHeavy := [5]string{KindCleanWindows, KindWaterPlants, KindCleanWindows, KindFeedCat, KindCleanWindows}
	waterHeavy := [5]string{KindWaterPlants, KindCleanWindows, KindCleanWindows, KindFeedCat, KindWaterPlants}

	plans := []struct {
		robot string
		kinds [5]string
	}{
		{"Dave", cleanHeavy},
		{"Cris", waterHeavy},
		{"Andi", cleanHeavy},
		{"Nick", waterHeavy},
		{"Phil", cleanHeavy},
		{"Maxi", waterHeavy},
	}

	tasks := make([]Task, 0, len(plans)*5)
	var id int64
	for _, p := range plans {
		for _, k := range p.kinds {
			id++
			tasks = append(tasks, Task{ID: id, Robot: p.robot, Kind: k})
		}
	}
	return tasks
}

func sleepFor(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := clk.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}
