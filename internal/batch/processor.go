package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/apifabric/internal/core"
	"github.com/vitaliisemenov/apifabric/internal/core/resilience"
	"github.com/vitaliisemenov/apifabric/internal/ratelimit"
	"github.com/vitaliisemenov/apifabric/pkg/metrics"
)

// Config holds the Batch Processor's configuration knobs.
type Config struct {
	MaxConcurrentJobs       int
	MaxOperationConcurrency int
	DefaultTimeout          time.Duration
	DefaultMaxRetries       int
	DefaultRetryDelay       time.Duration
}

// DefaultConfig returns the enumerated defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs:       5,
		MaxOperationConcurrency: 10,
		DefaultTimeout:          time.Hour,
		DefaultMaxRetries:       3,
		DefaultRetryDelay:       5 * time.Second,
	}
}

// Processor is the Batch Processor. One mutex covers its job registry and
// every job's mutable state; handler invocations and Gateway calls always
// happen outside it.
type Processor struct {
	mu            sync.Mutex
	cfg           Config
	gateway       core.Gateway
	log           *slog.Logger
	m             *metrics.BatchMetrics
	retryMetrics  *metrics.RetryMetrics
	limiter       *ratelimit.PerPluginLimiter
	jobs          map[string]*Job
	cancelSignals map[string]chan struct{}
	handlers      map[string]map[int]JobHandler
	nextHandlerID int
	activeCount   int
	archiver      Archiver
}

// Archiver persists a terminal job's snapshot before CleanupCompletedJobs
// drops it from memory, e.g. into jobstore's queryable SQLite archive. It
// is called with the processor's mutex already released.
type Archiver interface {
	ArchiveBatchJob(snap Snapshot)
}

// SetArchiver installs an Archiver invoked once per job from
// CleanupCompletedJobs, immediately before the job is dropped. Passing nil
// disables archiving.
func (p *Processor) SetArchiver(a Archiver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.archiver = a
}

// NewProcessor constructs a Processor. limiter may be nil to disable
// per-plugin rate limiting of Gateway invocation. retryMetrics may be nil;
// when set, it is threaded into every per-operation resilience.RetryPolicy
// so batch retries surface in the same retry_* metrics any other subsystem
// built on internal/core/resilience would emit.
func NewProcessor(cfg Config, gateway core.Gateway, log *slog.Logger, m *metrics.BatchMetrics, limiter *ratelimit.PerPluginLimiter, retryMetrics *metrics.RetryMetrics) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		cfg:           cfg,
		gateway:       gateway,
		log:           log,
		m:             m,
		retryMetrics:  retryMetrics,
		limiter:       limiter,
		jobs:          make(map[string]*Job),
		cancelSignals: make(map[string]chan struct{}),
		handlers:      make(map[string]map[int]JobHandler),
	}
}

// CreateJob validates operations is non-empty, fills defaults, and
// registers the job in the "created" state.
func (p *Processor) CreateJob(api, plugin string, operations []OperationDescriptor, opts ...JobOption) (string, error) {
	if len(operations) == 0 {
		return "", newError(CodeInvalidJob, "operations must be non-empty", nil)
	}

	job := &Job{
		ID:             uuid.NewString(),
		APIName:        api,
		PluginName:     plugin,
		Operations:     operations,
		MaxConcurrency: p.cfg.MaxOperationConcurrency,
		Timeout:        p.cfg.DefaultTimeout,
		MaxRetries:     p.cfg.DefaultMaxRetries,
		RetryDelay:     p.cfg.DefaultRetryDelay,
		Status:         StatusCreated,
		opStatus:       make(map[int]OpStatus, len(operations)),
		opRetries:      make(map[int]int, len(operations)),
		opResult:       make(map[int]any, len(operations)),
		opError:        make(map[int]string, len(operations)),
		CreatedAt:      time.Now(),
	}
	for _, opt := range opts {
		opt(job)
	}
	for i := range operations {
		job.opStatus[i] = OpPending
	}

	p.mu.Lock()
	p.jobs[job.ID] = job
	p.mu.Unlock()

	return job.ID, nil
}

// JobOption customizes a Job at creation time.
type JobOption func(*Job)

func WithID(id string) JobOption              { return func(j *Job) { j.ID = id } }
func WithMaxConcurrency(n int) JobOption       { return func(j *Job) { j.MaxConcurrency = n } }
func WithTimeout(d time.Duration) JobOption    { return func(j *Job) { j.Timeout = d } }
func WithMaxRetries(n int) JobOption           { return func(j *Job) { j.MaxRetries = n } }
func WithRetryDelay(d time.Duration) JobOption { return func(j *Job) { j.RetryDelay = d } }

// StartJob transitions created -> running and spawns exactly one worker
// (the execution loop goroutine) per job.
func (p *Processor) StartJob(id string) error {
	p.mu.Lock()
	job, ok := p.jobs[id]
	if !ok {
		p.mu.Unlock()
		return newError(CodeNotFound, "job not found: "+id, nil)
	}
	if job.Status != StatusCreated {
		p.mu.Unlock()
		return newError(CodeBadState, "job is not in created state", nil)
	}
	if p.activeCount >= p.cfg.MaxConcurrentJobs {
		p.mu.Unlock()
		return newError(CodeCapacity, "global active-job ceiling reached", nil)
	}
	p.activeCount++
	job.Status = StatusRunning
	job.StartTime = time.Now()
	cancelCh := make(chan struct{})
	p.cancelSignals[id] = cancelCh
	p.mu.Unlock()

	if p.m != nil {
		p.m.JobsStarted.WithLabelValues(job.PluginName).Inc()
		p.m.ActiveWorkers.Inc()
	}

	go p.runJob(job, cancelCh)
	return nil
}

// CancelJob sets status cancelled from any non-terminal state and signals
// the worker.
func (p *Processor) CancelJob(id string) error {
	p.mu.Lock()
	job, ok := p.jobs[id]
	if !ok {
		p.mu.Unlock()
		return newError(CodeNotFound, "job not found: "+id, nil)
	}
	if job.Status.IsTerminal() {
		p.mu.Unlock()
		return nil
	}
	if job.Status == StatusCreated {
		job.Status = StatusCancelled
		job.EndTime = time.Now()
		p.mu.Unlock()
		p.dispatchHandlers(id, job.snapshot())
		return nil
	}
	cancelCh := p.cancelSignals[id]
	p.mu.Unlock()
	if cancelCh != nil {
		close(cancelCh)
	}
	return nil
}

// GetJob returns a snapshot of one job's state.
func (p *Processor) GetJob(id string) (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	job, ok := p.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return job.snapshot(), true
}

// GetAllJobs returns a snapshot of every known job.
func (p *Processor) GetAllJobs() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Snapshot, 0, len(p.jobs))
	for _, job := range p.jobs {
		out = append(out, job.snapshot())
	}
	return out
}

// RegisterJobHandler fires h once when job id reaches a terminal state,
// returning a token usable with UnregisterJobHandler.
func (p *Processor) RegisterJobHandler(id string, h JobHandler) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handlers[id] == nil {
		p.handlers[id] = make(map[int]JobHandler)
	}
	token := p.nextHandlerID
	p.nextHandlerID++
	p.handlers[id][token] = h
	return token
}

// UnregisterJobHandler removes the handler previously returned by
// RegisterJobHandler.
func (p *Processor) UnregisterJobHandler(id string, token int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handlers[id], token)
}

// CleanupCompletedJobs drops terminal jobs whose EndTime is older than
// maxAge, returning the count removed.
func (p *Processor) CleanupCompletedJobs(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	p.mu.Lock()
	var toArchive []Snapshot
	removed := 0
	for id, job := range p.jobs {
		if job.Status.IsTerminal() && job.EndTime.Before(cutoff) {
			if p.archiver != nil {
				toArchive = append(toArchive, job.snapshot())
			}
			delete(p.jobs, id)
			delete(p.cancelSignals, id)
			delete(p.handlers, id)
			removed++
		}
	}
	archiver := p.archiver
	p.mu.Unlock()

	if archiver != nil {
		for _, snap := range toArchive {
			archiver.ArchiveBatchJob(snap)
		}
	}
	return removed
}

func (p *Processor) dispatchHandlers(id string, snap Snapshot) {
	p.mu.Lock()
	handlers := make([]JobHandler, 0, len(p.handlers[id]))
	for _, h := range p.handlers[id] {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	for _, h := range handlers {
		p.invokeHandler(h, snap)
	}
}

func (p *Processor) invokeHandler(h JobHandler, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("batch: job handler panicked", "job_id", snap.ID, "panic", r)
		}
	}()
	h.OnJobComplete(snap)
}

// taskResult is one completed operation attempt, reported back to the
// execution loop by a worker goroutine.
type taskResult struct {
	index  int
	result core.Result
	err    error
}

// runJob is the job's execution loop: submit from pending until the worker
// pool is full, drain completions, and recheck cancellation/timeout every
// iteration. Per-operation retries happen inside runOperation via
// internal/core/resilience.WithRetryFunc rather than by re-queueing here, so
// each dispatched operation reports exactly one taskResult.
func (p *Processor) runJob(job *Job, cancelCh chan struct{}) {
	defer func() {
		p.mu.Lock()
		p.activeCount--
		p.mu.Unlock()
		if p.m != nil {
			p.m.ActiveWorkers.Dec()
		}
	}()

	maxConcurrency := job.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	// Sized generously so a goroutine abandoned after cancellation/timeout
	// never blocks trying to report its result.
	resultCap := len(job.Operations) + maxConcurrency + 8
	resultCh := make(chan taskResult, resultCap)

	pending := make([]int, len(job.Operations))
	for i := range job.Operations {
		pending[i] = i
	}
	active := 0
	total := len(job.Operations)
	completedCount := 0
	failedCount := 0
	anyFailed := false
	start := job.StartTime

	for {
		select {
		case <-cancelCh:
			p.finishJob(job, StatusCancelled, "")
			p.dispatchHandlers(job.ID, job.snapshot())
			return
		default:
		}

		if job.Timeout > 0 && time.Since(start) > job.Timeout {
			p.finishJob(job, StatusFailed, fmt.Sprintf("Timed out after %d seconds", int(job.Timeout.Seconds())))
			p.dispatchHandlers(job.ID, job.snapshot())
			return
		}

		for active < maxConcurrency && len(pending) > 0 {
			idx := pending[0]
			pending = pending[1:]
			active++
			p.setOpStatus(job, idx, OpRunning)
			go p.runOperation(job, idx, resultCh, cancelCh)
		}

		if active == 0 && len(pending) == 0 {
			break
		}

		select {
		case res := <-resultCh:
			active--
			if res.err == nil && res.result.Success {
				p.recordOpSuccess(job, res.index, res.result.Data)
				completedCount++
			} else {
				errMsg := res.result.Error
				if res.err != nil {
					errMsg = res.err.Error()
				}
				p.recordOpFailure(job, res.index, errMsg)
				failedCount++
				anyFailed = true
			}
			p.updateProgress(job, completedCount+failedCount, total)
		case <-cancelCh:
			p.finishJob(job, StatusCancelled, "")
			p.dispatchHandlers(job.ID, job.snapshot())
			return
		case <-time.After(200 * time.Millisecond):
			// Re-check cancellation/timeout even with nothing completed.
		}
	}

	if anyFailed {
		p.finishJob(job, StatusFailed, "one or more operations exhausted retries")
	} else {
		p.finishJob(job, StatusCompleted, "")
	}
	p.dispatchHandlers(job.ID, job.snapshot())
}

// runOperation dispatches one operation through resilience.WithRetryFunc,
// configured with a fixed (non-backing-off) delay so it reproduces the
// spec's "sleep retry_delay, re-attempt" semantics exactly: BaseDelay ==
// MaxDelay == job.RetryDelay and Multiplier 1 collapse calculateNextDelay to
// a constant. Exactly one taskResult is sent, once an attempt succeeds or
// every attempt (the original dispatch plus up to job.MaxRetries retries)
// has been exhausted.
func (p *Processor) runOperation(job *Job, idx int, resultCh chan<- taskResult, cancelCh <-chan struct{}) {
	op := job.Operations[idx]
	policy := &resilience.RetryPolicy{
		MaxRetries:    job.MaxRetries,
		BaseDelay:     job.RetryDelay,
		MaxDelay:      job.RetryDelay,
		Multiplier:    1,
		Logger:        p.log,
		Metrics:       p.retryMetrics,
		OperationName: job.PluginName + ":" + op.Operation,
	}

	callNum := 0
	result, err := resilience.WithRetryFunc(context.Background(), policy, func() (core.Result, error) {
		callNum++
		if callNum > 1 {
			p.setOpStatus(job, idx, OpRunning)
		}
		if p.limiter != nil {
			_ = p.limiter.Wait(context.Background(), job.PluginName)
		}
		res, gwErr := p.gateway.ExecuteOperation(context.Background(), job.PluginName, op.Operation, op.Params)
		if p.m != nil {
			outcome := "success"
			if gwErr != nil || !res.Success {
				outcome = "failure"
			}
			p.m.OperationsRun.WithLabelValues(job.PluginName, outcome).Inc()
		}
		if gwErr == nil && res.Success {
			return res, nil
		}
		// This attempt failed. If another attempt remains, mark the op
		// retrying (and count the retry) before WithRetryFunc sleeps and
		// re-invokes this closure.
		if callNum < job.MaxRetries+1 {
			p.setRetrying(job, idx)
		}
		if gwErr != nil {
			return res, gwErr
		}
		msg := res.Error
		if msg == "" {
			msg = "operation reported failure"
		}
		return res, errors.New(msg)
	})

	resultCh <- taskResult{index: idx, result: result, err: err}
}

func (p *Processor) setOpStatus(job *Job, idx int, status OpStatus) {
	p.mu.Lock()
	job.opStatus[idx] = status
	p.mu.Unlock()
}

func (p *Processor) setRetrying(job *Job, idx int) {
	p.mu.Lock()
	job.opRetries[idx]++
	job.opStatus[idx] = OpRetrying
	p.mu.Unlock()
	if p.m != nil {
		p.m.Retries.WithLabelValues(job.PluginName).Inc()
	}
}

func (p *Processor) recordOpSuccess(job *Job, idx int, data any) {
	p.mu.Lock()
	job.opStatus[idx] = OpComplete
	job.opResult[idx] = data
	p.mu.Unlock()
}

func (p *Processor) recordOpFailure(job *Job, idx int, errMsg string) {
	p.mu.Lock()
	job.opStatus[idx] = OpFailed
	job.opError[idx] = errMsg
	p.mu.Unlock()
}

func (p *Processor) updateProgress(job *Job, done, total int) {
	p.mu.Lock()
	if total > 0 {
		job.Progress = (100 * done) / total
	}
	p.mu.Unlock()
}

func (p *Processor) finishJob(job *Job, status Status, reason string) {
	p.mu.Lock()
	job.Status = status
	job.FailureReason = reason
	job.EndTime = time.Now()
	if status == StatusCompleted {
		job.Progress = 100
	}
	p.mu.Unlock()
	if p.m != nil {
		p.m.JobsFinished.WithLabelValues(job.PluginName, string(status)).Inc()
		p.m.JobDuration.WithLabelValues(job.PluginName, string(status)).Observe(job.EndTime.Sub(job.StartTime).Seconds())
	}
}
