// Package chore defines the fleet's domain model: tasks addressed to named
// robots, chore definitions with their fleet-wide admission intervals, and
// the completion records produced when tasks finish.
package chore

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Task is one unit of work for one robot.
//
// ID is caller-assigned reporting identity; uniqueness is the caller's
// concern. Seq is the fleet-wide submission order, stamped by the dispatcher
// at intake — submitters leave it zero.
type Task struct {
	ID    int64
	Robot string
	Kind  string
	Seq   uint64
}

// Handler runs a chore body. The returned string is the chore's result
// ("Squeeesh", "Blub", ...); a non-nil error marks the run as failed.
//
// Handlers must honor ctx cancellation: on a hard stop the dispatcher
// cancels in-flight runs and waits for them to return.
type Handler func(ctx context.Context, t Task) (string, error)

// Definition describes one chore kind.
type Definition struct {
	Kind string

	// Every is the minimum interval between admissions of this kind across
	// the whole fleet, regardless of robot. 0 disables rate limiting.
	Every time.Duration

	// Timeout bounds a single run. 0 means unbounded.
	Timeout time.Duration

	Run Handler
}

// Catalog is the immutable kind → Definition table for one dispatcher run.
// Built once at startup; lookups are read-only and safe for concurrent use.
type Catalog struct {
	defs  map[string]Definition
	kinds []string
}

func NewCatalog(defs []Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if d.Kind == "" {
			return nil, fmt.Errorf("chore: empty kind")
		}
		if d.Run == nil {
			return nil, fmt.Errorf("chore %q: nil handler", d.Kind)
		}
		if d.Every < 0 {
			return nil, fmt.Errorf("chore %q: negative rate limit %v", d.Kind, d.Every)
		}
		if d.Timeout < 0 {
			return nil, fmt.Errorf("chore %q: negative timeout %v", d.Kind, d.Timeout)
		}
		if _, dup := c.defs[d.Kind]; dup {
			return nil, fmt.Errorf("chore %q: duplicate kind", d.Kind)
		}
		c.defs[d.Kind] = d
		c.kinds = append(c.kinds, d.Kind)
	}
	sort.Strings(c.kinds)
	return c, nil
}

func (c *Catalog) Lookup(kind string) (Definition, bool) {
	d, ok := c.defs[kind]
	return d, ok
}

// Kinds returns the known chore kinds, sorted.
func (c *Catalog) Kinds() []string {
	out := make([]string, len(c.kinds))
	copy(out, c.kinds)
	return out
}

func (c *Catalog) Len() int { return len(c.defs) }
