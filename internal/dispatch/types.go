package dispatch

import (
	"time"

	"robofleet/internal/chore"
)

// DefaultCapacity is the classic fleet-wide bound on concurrently running
// tasks.
const DefaultCapacity = 3

// Config controls one dispatcher run.
//
// The app layer maps config.dispatch into this struct.
type Config struct {
	// Capacity caps tasks running at once across the whole fleet.
	Capacity int

	// QueueSize is the intake buffer between Submit and the loop.
	QueueSize int

	// HistorySize bounds the in-memory completion ring kept for Snapshot.
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// queued is a task accepted by Submit, waiting in its robot's lane.
type queued struct {
	task        chore.Task
	def         chore.Definition
	submittedAt time.Time
}

// admission is a task popped from its lane with a gate slot held, on its
// way to an executor worker.
type admission struct {
	queued
	admittedAt time.Time
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	TaskID int64     `json:"task_id"`
	Robot  string    `json:"robot"`
	Kind   string    `json:"kind"`
	Seq    uint64    `json:"seq"`
	At     time.Time `json:"at"`

	Waited time.Duration `json:"waited,omitempty"`
	Took   time.Duration `json:"took,omitempty"`
	Result string        `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// LaneView is a point-in-time view of one robot's lane.
type LaneView struct {
	Robot   string `json:"robot"`
	Busy    bool   `json:"busy"`
	Pending int    `json:"pending"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Capacity int `json:"capacity"`
	InFlight int `json:"in_flight"`
	QueueLen int `json:"queue_len"`
	QueueCap int `json:"queue_cap"`

	// MaxInFlight is the high-water mark of concurrently running tasks.
	MaxInFlight int `json:"max_in_flight"`

	Submitted uint64 `json:"submitted"`
	Rejected  uint64 `json:"rejected"`
	Admitted  uint64 `json:"admitted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`

	// Abandoned counts tasks still pending when a hard stop cut the run.
	Abandoned uint64 `json:"abandoned"`

	Sealed  bool `json:"sealed"`
	Drained bool `json:"drained"`

	Lanes   []LaneView         `json:"lanes"`
	History []chore.Completion `json:"history"`
}
