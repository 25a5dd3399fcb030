package batch

// JobHandler is invoked once on a job's terminal transition with the full
// job snapshot.
type JobHandler interface {
	OnJobComplete(job Snapshot)
}

// JobHandlerFunc adapts a plain function to a JobHandler.
type JobHandlerFunc func(job Snapshot)

func (f JobHandlerFunc) OnJobComplete(job Snapshot) { f(job) }
