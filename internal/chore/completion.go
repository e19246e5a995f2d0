package chore

import "time"

// Completion is the record produced for every submitted task: finished,
// failed, or rejected at intake. Exactly one per task.
type Completion struct {
	RunID  string `json:"run_id,omitempty"`
	TaskID int64  `json:"task_id"`
	Robot  string `json:"robot"`
	Kind   string `json:"kind"`
	Seq    uint64 `json:"seq"`

	// Rejected marks tasks refused at intake (unknown kind). Rejected
	// records carry zero Admitted/Started/Finished times.
	Rejected bool   `json:"rejected,omitempty"`
	Result   string `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`

	SubmittedAt time.Time `json:"submitted_at"`
	AdmittedAt  time.Time `json:"admitted_at"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`

	// Waited is submit → admit, Took is start → finish.
	Waited time.Duration `json:"waited"`
	Took   time.Duration `json:"took"`
}

func (c Completion) Failed() bool { return c.Error != "" }
