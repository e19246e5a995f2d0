package feed

import (
	"context"

	"robofleet/internal/chore"
)

// Static delivers a fixed batch of tasks and ends.
type Static struct {
	name  string
	tasks []chore.Task
}

func NewStatic(name string, tasks []chore.Task) *Static {
	if name == "" {
		name = "static"
	}
	return &Static{name: name, tasks: tasks}
}

func (s *Static) Name() string { return s.name }

func (s *Static) Finite() bool { return true }

func (s *Static) Run(ctx context.Context, submit func(chore.Task) error) error {
	for _, t := range s.tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := submit(t); err != nil {
			return err
		}
	}
	return nil
}
