package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/apifabric/internal/core"
)

func waitForTerminal(t *testing.T, p *Processor, id string, timeout time.Duration) Snapshot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		snap, ok := p.GetJob(id)
		require.True(t, ok)
		if snap.Status.IsTerminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state within %s", id, timeout)
	return Snapshot{}
}

func ops(n int) []OperationDescriptor {
	out := make([]OperationDescriptor, n)
	for i := range out {
		out[i] = OperationDescriptor{Operation: "op", Params: core.Params{}}
	}
	return out
}

// An operation that fails transiently and recovers within MaxRetries ends
// up completed, with retries recorded.
func TestProcessor_RetrySucceedsEventually(t *testing.T) {
	var calls int32
	gw := core.GatewayFunc(func(ctx context.Context, plugin, operation string, params core.Params) (core.Result, error) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			return core.Err("transient failure"), nil
		}
		return core.Ok("done"), nil
	})

	p := NewProcessor(DefaultConfig(), gw, nil, nil, nil, nil)
	id, err := p.CreateJob("api", "plugin", ops(1), WithMaxRetries(5), WithRetryDelay(time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, p.StartJob(id))

	snap := waitForTerminal(t, p, id, 2*time.Second)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, OpComplete, snap.OpStatus[0])
	assert.GreaterOrEqual(t, snap.OpRetries[0], 2)
}

// An operation that never succeeds exhausts its retries and the job ends
// failed, with the other operations still completing.
func TestProcessor_ExhaustsRetriesAndFails(t *testing.T) {
	gw := core.GatewayFunc(func(ctx context.Context, plugin, operation string, params core.Params) (core.Result, error) {
		if operation == "bad" {
			return core.Err("permanent failure"), nil
		}
		return core.Ok("ok"), nil
	})

	p := NewProcessor(DefaultConfig(), gw, nil, nil, nil, nil)
	operations := []OperationDescriptor{
		{Operation: "good", Params: core.Params{}},
		{Operation: "bad", Params: core.Params{}},
	}
	id, err := p.CreateJob("api", "plugin", operations, WithMaxRetries(1), WithRetryDelay(time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, p.StartJob(id))

	snap := waitForTerminal(t, p, id, 2*time.Second)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, OpComplete, snap.OpStatus[0])
	assert.Equal(t, OpFailed, snap.OpStatus[1])
	assert.NotEmpty(t, snap.OpError[1])
}

// A job whose operations never return within its timeout is marked failed
// with a timeout reason, without waiting for in-flight operations to
// finish.
func TestProcessor_TimesOut(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	gw := core.GatewayFunc(func(ctx context.Context, plugin, operation string, params core.Params) (core.Result, error) {
		<-block
		return core.Ok("too late"), nil
	})

	p := NewProcessor(DefaultConfig(), gw, nil, nil, nil, nil)
	id, err := p.CreateJob("api", "plugin", ops(1), WithTimeout(50*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, p.StartJob(id))

	snap := waitForTerminal(t, p, id, 2*time.Second)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Contains(t, snap.FailureReason, "Timed out")
}

func TestProcessor_CancelBeforeStart(t *testing.T) {
	gw := core.GatewayFunc(func(ctx context.Context, plugin, operation string, params core.Params) (core.Result, error) {
		return core.Ok("x"), nil
	})
	p := NewProcessor(DefaultConfig(), gw, nil, nil, nil, nil)
	id, err := p.CreateJob("api", "plugin", ops(1))
	require.NoError(t, err)
	require.NoError(t, p.CancelJob(id))

	snap, ok := p.GetJob(id)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, snap.Status)
}

func TestProcessor_CancelWhileRunning(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	gw := core.GatewayFunc(func(ctx context.Context, plugin, operation string, params core.Params) (core.Result, error) {
		<-block
		return core.Ok("x"), nil
	})
	p := NewProcessor(DefaultConfig(), gw, nil, nil, nil, nil)
	id, err := p.CreateJob("api", "plugin", ops(1), WithTimeout(time.Hour))
	require.NoError(t, err)
	require.NoError(t, p.StartJob(id))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.CancelJob(id))

	snap := waitForTerminal(t, p, id, time.Second)
	assert.Equal(t, StatusCancelled, snap.Status)
}

func TestProcessor_RespectsMaxConcurrentJobs(t *testing.T) {
	gw := core.GatewayFunc(func(ctx context.Context, plugin, operation string, params core.Params) (core.Result, error) {
		return core.Ok("x"), nil
	})
	cfg := DefaultConfig()
	cfg.MaxConcurrentJobs = 1
	p := NewProcessor(cfg, gw, nil, nil, nil, nil)

	block := make(chan struct{})
	defer close(block)
	blockingGW := core.GatewayFunc(func(ctx context.Context, plugin, operation string, params core.Params) (core.Result, error) {
		<-block
		return core.Ok("x"), nil
	})
	p.gateway = blockingGW

	id1, err := p.CreateJob("api", "plugin", ops(1))
	require.NoError(t, err)
	require.NoError(t, p.StartJob(id1))

	id2, err := p.CreateJob("api", "plugin", ops(1))
	require.NoError(t, err)
	err = p.StartJob(id2)
	require.Error(t, err)
	var berr *Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, CodeCapacity, berr.Code)
}

func TestProcessor_JobHandlerFires(t *testing.T) {
	gw := core.GatewayFunc(func(ctx context.Context, plugin, operation string, params core.Params) (core.Result, error) {
		return core.Ok("x"), nil
	})
	p := NewProcessor(DefaultConfig(), gw, nil, nil, nil, nil)

	var mu sync.Mutex
	var seen Snapshot
	done := make(chan struct{})
	p.RegisterJobHandler("will-not-match", JobHandlerFunc(func(Snapshot) {}))

	id, err := p.CreateJob("api", "plugin", ops(1))
	require.NoError(t, err)
	p.RegisterJobHandler(id, JobHandlerFunc(func(s Snapshot) {
		mu.Lock()
		seen = s
		mu.Unlock()
		close(done)
	}))
	require.NoError(t, p.StartJob(id))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never fired")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, StatusCompleted, seen.Status)
}

func TestProcessor_CleanupCompletedJobs(t *testing.T) {
	gw := core.GatewayFunc(func(ctx context.Context, plugin, operation string, params core.Params) (core.Result, error) {
		return core.Ok("x"), nil
	})
	p := NewProcessor(DefaultConfig(), gw, nil, nil, nil, nil)
	id, err := p.CreateJob("api", "plugin", ops(1))
	require.NoError(t, err)
	require.NoError(t, p.StartJob(id))
	waitForTerminal(t, p, id, 2*time.Second)

	removed := p.CleanupCompletedJobs(-time.Second)
	assert.Equal(t, 1, removed)
	_, ok := p.GetJob(id)
	assert.False(t, ok)
}

func TestProcessor_CreateJobRejectsEmptyOperations(t *testing.T) {
	gw := core.GatewayFunc(func(ctx context.Context, plugin, operation string, params core.Params) (core.Result, error) {
		return core.Ok("x"), nil
	})
	p := NewProcessor(DefaultConfig(), gw, nil, nil, nil, nil)
	_, err := p.CreateJob("api", "plugin", nil)
	require.Error(t, err)
	var berr *Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, CodeInvalidJob, berr.Code)
}
