// Package polling implements the Polling Manager: a one-second-granularity
// scheduler that periodically invokes a Gateway operation and diff-compares
// consecutive results into change events.
package polling

import (
	"time"

	"github.com/vitaliisemenov/apifabric/internal/core"
)

// Comparator decides whether current differs from last. It may be called
// with panics recovered by the caller, matching the "exceptions are a
// detected change" rule.
type Comparator func(last, current core.Result) (changed bool, detail string)

// Job is a Polling Job: a scheduled invocation of one Gateway operation.
type Job struct {
	ID         string
	APIName    string
	PluginName string
	Operation  string
	Params     core.Params

	Interval   time.Duration
	Comparator Comparator
	Enabled    bool

	LastRun time.Time
	NextRun time.Time

	LastResult *core.Result
	LastError  string

	RunCount     int
	SuccessCount int
	ErrorCount   int
}

// Snapshot is an immutable, comparator-free copy of a Job's externally
// visible state.
type Snapshot struct {
	ID         string
	APIName    string
	PluginName string
	Operation  string
	Params     core.Params

	Interval time.Duration
	Enabled  bool

	LastRun time.Time
	NextRun time.Time

	LastResult *core.Result
	LastError  string

	RunCount     int
	SuccessCount int
	ErrorCount   int
}

func (j *Job) snapshot() Snapshot {
	s := Snapshot{
		ID:           j.ID,
		APIName:      j.APIName,
		PluginName:   j.PluginName,
		Operation:    j.Operation,
		Params:       j.Params,
		Interval:     j.Interval,
		Enabled:      j.Enabled,
		LastRun:      j.LastRun,
		NextRun:      j.NextRun,
		LastError:    j.LastError,
		RunCount:     j.RunCount,
		SuccessCount: j.SuccessCount,
		ErrorCount:   j.ErrorCount,
	}
	if j.LastResult != nil {
		res := *j.LastResult
		s.LastResult = &res
	}
	return s
}

// Event is the change-event record emitted onto the dispatch FIFO and
// delivered to registered handlers.
type Event struct {
	EventID       string
	JobID         string
	APIName       string
	PluginName    string
	Operation     string
	Params        core.Params
	Timestamp     time.Time
	Result        core.Result
	ChangeDetails string
}
