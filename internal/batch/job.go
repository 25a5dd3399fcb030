// Package batch implements the Batch Processor: a bounded-concurrency
// executor of heterogeneous operation lists with per-operation retries,
// built on internal/core/resilience's transient-failure handling.
package batch

import (
	"time"

	"github.com/vitaliisemenov/apifabric/internal/core"
)

// Status is a Batch Job's position in its state machine.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether s is one of the three terminal states.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// OpStatus is one operation's position within a running job.
type OpStatus string

const (
	OpPending  OpStatus = "pending"
	OpRunning  OpStatus = "running"
	OpRetrying OpStatus = "retrying"
	OpComplete OpStatus = "completed"
	OpFailed   OpStatus = "failed"
)

// OperationDescriptor is one entry in a Batch Job's operations list.
type OperationDescriptor struct {
	ID        string // optional; caller-supplied identifier within the job
	Operation string
	Params    core.Params
}

// Job is a Batch Job: a caller-supplied list of operations executed as a
// unit with shared concurrency/retry/timeout policy.
type Job struct {
	ID         string
	APIName    string
	PluginName string

	Operations []OperationDescriptor

	MaxConcurrency int
	Timeout        time.Duration // 0 means no timeout
	MaxRetries     int
	RetryDelay     time.Duration

	Status   Status
	Progress int // 0-100

	opStatus  map[int]OpStatus
	opRetries map[int]int
	opResult  map[int]any
	opError   map[int]string

	FailureReason string

	CreatedAt time.Time
	StartTime time.Time
	EndTime   time.Time
}

// Snapshot is an immutable copy of a Job's externally visible state,
// returned by GetJob/GetAllJobs and passed to job handlers on terminal
// transition.
type Snapshot struct {
	ID            string
	APIName       string
	PluginName    string
	Status        Status
	Progress      int
	FailureReason string
	CreatedAt     time.Time
	StartTime     time.Time
	EndTime       time.Time

	OpStatus  map[int]OpStatus
	OpRetries map[int]int
	OpResult  map[int]any
	OpError   map[int]string
}

func (j *Job) snapshot() Snapshot {
	s := Snapshot{
		ID:            j.ID,
		APIName:       j.APIName,
		PluginName:    j.PluginName,
		Status:        j.Status,
		Progress:      j.Progress,
		FailureReason: j.FailureReason,
		CreatedAt:     j.CreatedAt,
		StartTime:     j.StartTime,
		EndTime:       j.EndTime,
		OpStatus:      make(map[int]OpStatus, len(j.opStatus)),
		OpRetries:     make(map[int]int, len(j.opRetries)),
		OpResult:      make(map[int]any, len(j.opResult)),
		OpError:       make(map[int]string, len(j.opError)),
	}
	for k, v := range j.opStatus {
		s.OpStatus[k] = v
	}
	for k, v := range j.opRetries {
		s.OpRetries[k] = v
	}
	for k, v := range j.opResult {
		s.OpResult[k] = v
	}
	for k, v := range j.opError {
		s.OpError[k] = v
	}
	return s
}
