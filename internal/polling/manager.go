package polling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/apifabric/internal/core"
	"github.com/vitaliisemenov/apifabric/internal/eventqueue"
	"github.com/vitaliisemenov/apifabric/internal/ratelimit"
	"github.com/vitaliisemenov/apifabric/pkg/metrics"
)

// Config holds the Polling Manager's configuration knobs.
type Config struct {
	MinInterval       time.Duration
	MaxConcurrentJobs int
}

// DefaultConfig returns the enumerated defaults.
func DefaultConfig() Config {
	return Config{
		MinInterval:       60 * time.Second,
		MaxConcurrentJobs: 10,
	}
}

// Manager is the Polling Manager. One mutex covers its job registry and
// every job's mutable state; handler invocations happen outside it, on the
// dispatch goroutine.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	gateway core.Gateway
	log     *slog.Logger
	m       *metrics.PollingMetrics
	limiter *ratelimit.PerPluginLimiter
	queue   eventqueue.Queue

	jobs          map[string]*Job
	handlers      map[string]map[int]Handler
	nextHandlerID int
	archiver      Archiver

	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Archiver persists a Polling Job's snapshot immediately before DeleteJob
// drops it from memory, e.g. into jobstore's queryable SQLite archive.
type Archiver interface {
	ArchivePollingJob(snap Snapshot)
}

// SetArchiver installs an Archiver invoked once per job from DeleteJob.
// Passing nil disables archiving.
func (mgr *Manager) SetArchiver(a Archiver) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.archiver = a
}

// NewManager constructs a Manager. queue may be nil, in which case an
// in-memory eventqueue.MemoryQueue is used.
func NewManager(cfg Config, gateway core.Gateway, log *slog.Logger, m *metrics.PollingMetrics, limiter *ratelimit.PerPluginLimiter, queue eventqueue.Queue) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if queue == nil {
		queue = eventqueue.NewMemoryQueue(0)
	}
	return &Manager{
		cfg:      cfg,
		gateway:  gateway,
		log:      log,
		m:        m,
		limiter:  limiter,
		queue:    queue,
		jobs:     make(map[string]*Job),
		handlers: make(map[string]map[int]Handler),
	}
}

// Start is idempotent: it launches the scheduler and event-dispatch
// goroutines once.
func (mgr *Manager) Start() {
	mgr.mu.Lock()
	if mgr.started {
		mgr.mu.Unlock()
		return
	}
	mgr.started = true
	ctx, cancel := context.WithCancel(context.Background())
	mgr.cancel = cancel
	mgr.mu.Unlock()

	mgr.wg.Add(2)
	go mgr.schedulerLoop(ctx)
	go mgr.dispatchLoop(ctx)
}

// Stop is idempotent: it signals both goroutines to exit and waits for
// them.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	if !mgr.started {
		mgr.mu.Unlock()
		return
	}
	mgr.started = false
	cancel := mgr.cancel
	mgr.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	mgr.wg.Wait()
}

// JobOption customizes a Job at creation or update time.
type JobOption func(*Job)

func WithComparator(c Comparator) JobOption { return func(j *Job) { j.Comparator = c } }
func WithEnabled(enabled bool) JobOption    { return func(j *Job) { j.Enabled = enabled } }

// CreateJob registers a new Polling Job, clamping interval to MinInterval
// and seeding next_run = now + interval.
func (mgr *Manager) CreateJob(api, plugin, operation string, params core.Params, interval time.Duration, opts ...JobOption) string {
	if interval < mgr.cfg.MinInterval {
		interval = mgr.cfg.MinInterval
	}
	now := time.Now()
	job := &Job{
		ID:         uuid.NewString(),
		APIName:    api,
		PluginName: plugin,
		Operation:  operation,
		Params:     params,
		Interval:   interval,
		Enabled:    true,
		NextRun:    now.Add(interval),
	}
	for _, opt := range opts {
		opt(job)
	}

	mgr.mu.Lock()
	mgr.jobs[job.ID] = job
	mgr.mu.Unlock()

	if mgr.m != nil {
		mgr.updateActiveJobsGauge()
	}
	return job.ID
}

// UpdateJob applies opts to an existing job. Changing Interval does not
// retroactively change NextRun; it takes effect on the following tick.
func (mgr *Manager) UpdateJob(id string, opts ...JobOption) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	job, ok := mgr.jobs[id]
	if !ok {
		return newError(CodeNotFound, "job not found: "+id)
	}
	for _, opt := range opts {
		opt(job)
	}
	if job.Interval < mgr.cfg.MinInterval {
		job.Interval = mgr.cfg.MinInterval
	}
	return nil
}

// DeleteJob removes a job and its handlers; this is how Polling Jobs are
// cancelled, by deletion or by toggling enabled.
func (mgr *Manager) DeleteJob(id string) error {
	mgr.mu.Lock()
	job, ok := mgr.jobs[id]
	if !ok {
		mgr.mu.Unlock()
		return newError(CodeNotFound, "job not found: "+id)
	}
	var snap Snapshot
	if mgr.archiver != nil {
		snap = job.snapshot()
	}
	archiver := mgr.archiver
	delete(mgr.jobs, id)
	delete(mgr.handlers, id)
	if mgr.m != nil {
		mgr.m.ActiveJobs.Set(float64(len(mgr.jobs)))
	}
	mgr.mu.Unlock()

	if archiver != nil {
		archiver.ArchivePollingJob(snap)
	}
	return nil
}

// GetJob returns a snapshot of one job's state.
func (mgr *Manager) GetJob(id string) (Snapshot, bool) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	job, ok := mgr.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return job.snapshot(), true
}

// GetAllJobs returns a snapshot of every known job.
func (mgr *Manager) GetAllJobs() []Snapshot {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	out := make([]Snapshot, 0, len(mgr.jobs))
	for _, job := range mgr.jobs {
		out = append(out, job.snapshot())
	}
	return out
}

// RegisterJobHandler fires h on every change event for job id, returning a
// token usable with UnregisterJobHandler.
func (mgr *Manager) RegisterJobHandler(id string, h Handler) int {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if mgr.handlers[id] == nil {
		mgr.handlers[id] = make(map[int]Handler)
	}
	token := mgr.nextHandlerID
	mgr.nextHandlerID++
	mgr.handlers[id][token] = h
	return token
}

// UnregisterJobHandler removes the handler previously returned by
// RegisterJobHandler.
func (mgr *Manager) UnregisterJobHandler(id string, token int) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	delete(mgr.handlers[id], token)
}

// ForceExecuteJob runs job id synchronously, updating its counters and
// last_result/last_error, but it does not emit a change event and does not
// alter next_run.
func (mgr *Manager) ForceExecuteJob(id string) (core.Result, error) {
	mgr.mu.Lock()
	job, ok := mgr.jobs[id]
	mgr.mu.Unlock()
	if !ok {
		return core.Result{}, newError(CodeNotFound, "job not found: "+id)
	}

	result, err := mgr.invokeGateway(job)

	mgr.mu.Lock()
	job.RunCount++
	job.LastRun = time.Now()
	if err != nil || !result.Success {
		job.ErrorCount++
		if err != nil {
			job.LastError = err.Error()
		} else {
			job.LastError = result.Error
		}
	} else {
		job.SuccessCount++
		job.LastError = ""
		job.LastResult = &result
	}
	mgr.mu.Unlock()

	return result, err
}

func (mgr *Manager) updateActiveJobsGauge() {
	mgr.mu.Lock()
	n := len(mgr.jobs)
	mgr.mu.Unlock()
	mgr.m.ActiveJobs.Set(float64(n))
}

func (mgr *Manager) invokeGateway(job *Job) (core.Result, error) {
	if mgr.limiter != nil {
		if err := mgr.limiter.Wait(context.Background(), job.PluginName); err != nil {
			return core.Result{}, err
		}
	}
	start := time.Now()
	result, err := mgr.gateway.ExecuteOperation(context.Background(), job.PluginName, job.Operation, job.Params)
	if mgr.m != nil {
		mgr.m.PollDuration.WithLabelValues(job.PluginName).Observe(time.Since(start).Seconds())
	}
	return result, err
}

// schedulerLoop runs at one-second granularity: select enabled jobs whose
// next_run has arrived, advance next_run atomically, then poll at most
// MaxConcurrentJobs of them synchronously on this goroutine.
func (mgr *Manager) schedulerLoop(ctx context.Context) {
	defer mgr.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mgr.runTickSafely(ctx)
		}
	}
}

func (mgr *Manager) runTickSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			mgr.log.Error("polling: scheduler tick panicked", "panic", r)
			time.Sleep(5 * time.Second)
		}
	}()
	mgr.runTick(ctx)
}

func (mgr *Manager) runTick(ctx context.Context) {
	now := time.Now()

	mgr.mu.Lock()
	due := make([]*Job, 0)
	for _, job := range mgr.jobs {
		if job.Enabled && !job.NextRun.After(now) {
			due = append(due, job)
		}
	}
	for _, job := range due {
		job.NextRun = now.Add(job.Interval)
	}
	mgr.mu.Unlock()

	if len(due) > mgr.cfg.MaxConcurrentJobs {
		due = due[:mgr.cfg.MaxConcurrentJobs]
	}

	for _, job := range due {
		mgr.pollOne(ctx, job)
	}
}

func (mgr *Manager) pollOne(ctx context.Context, job *Job) {
	if mgr.m != nil {
		mgr.m.Ticks.WithLabelValues(job.PluginName).Inc()
	}
	result, err := mgr.invokeGateway(job)

	mgr.mu.Lock()
	job.RunCount++
	job.LastRun = time.Now()
	if err != nil || !result.Success {
		job.ErrorCount++
		if err != nil {
			job.LastError = err.Error()
		} else {
			job.LastError = result.Error
		}
		mgr.mu.Unlock()
		if mgr.m != nil {
			mgr.m.GatewayErrors.WithLabelValues(job.PluginName).Inc()
		}
		return
	}

	job.SuccessCount++
	job.LastError = ""
	changed, detail := mgr.evaluateChange(job, result)
	job.LastResult = &result
	evID := uuid.NewString()
	jobID, api, plugin, op, params := job.ID, job.APIName, job.PluginName, job.Operation, job.Params
	mgr.mu.Unlock()

	if !changed {
		return
	}
	if mgr.m != nil {
		mgr.m.ChangeEvents.WithLabelValues(plugin).Inc()
	}

	ev := Event{
		EventID:       evID,
		JobID:         jobID,
		APIName:       api,
		PluginName:    plugin,
		Operation:     op,
		Params:        params,
		Timestamp:     time.Now(),
		Result:        result,
		ChangeDetails: detail,
	}
	mgr.enqueue(ctx, ev)
}

func (mgr *Manager) evaluateChange(job *Job, result core.Result) (changed bool, detail string) {
	if job.LastResult == nil {
		return true, "Initial poll"
	}
	if job.Comparator != nil {
		defer func() {
			if r := recover(); r != nil {
				changed = true
				detail = fmt.Sprintf("comparator panicked: %v", r)
			}
		}()
		return job.Comparator(*job.LastResult, result)
	}
	return !reflect.DeepEqual(job.LastResult.Data, result.Data), ""
}

func (mgr *Manager) enqueue(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		mgr.log.Error("polling: failed to marshal change event", "job_id", ev.JobID, "error", err)
		return
	}
	qev := eventqueue.Event{
		ID:         ev.EventID,
		Kind:       "polling",
		Plugin:     ev.PluginName,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}
	if err := mgr.queue.Push(ctx, qev); err != nil {
		mgr.log.Error("polling: failed to enqueue change event", "job_id", ev.JobID, "error", err)
	}
}

// dispatchLoop pops change events and invokes each handler registered for
// the event's job id, isolating handler panics.
func (mgr *Manager) dispatchLoop(ctx context.Context) {
	defer mgr.wg.Done()
	for {
		qev, err := mgr.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil || err == eventqueue.ErrClosed {
				return
			}
			continue
		}
		var ev Event
		if err := json.Unmarshal(qev.Payload, &ev); err != nil {
			mgr.log.Error("polling: failed to unmarshal change event", "error", err)
			continue
		}
		mgr.dispatch(ev)
	}
}

func (mgr *Manager) dispatch(ev Event) {
	mgr.mu.Lock()
	hs := mgr.handlers[ev.JobID]
	handlers := make([]Handler, 0, len(hs))
	for _, h := range hs {
		handlers = append(handlers, h)
	}
	mgr.mu.Unlock()

	for _, h := range handlers {
		mgr.invokeHandler(h, ev)
	}
}

func (mgr *Manager) invokeHandler(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			mgr.log.Error("polling: job handler panicked", "job_id", ev.JobID, "panic", r)
		}
	}()
	h.OnPollEvent(ev)
}
