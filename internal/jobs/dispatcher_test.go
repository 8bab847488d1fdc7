package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	mu      sync.Mutex
	running int
	peak    int
	done    atomic.Int32
	hold    time.Duration
	ids     []string
}

func (r *countingRunner) Run(ctx context.Context, job ValidationJob) {
	r.mu.Lock()
	r.running++
	if r.running > r.peak {
		r.peak = r.running
	}
	r.ids = append(r.ids, job.ID)
	r.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-time.After(r.hold):
	}

	r.mu.Lock()
	r.running--
	r.mu.Unlock()
	r.done.Add(1)
}

func (r *countingRunner) peakRunning() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak
}

func TestDispatcher_BoundsConcurrency(t *testing.T) {
	runner := &countingRunner{hold: 50 * time.Millisecond}
	d, err := NewDispatcher(runner, 2, time.Second)
	require.NoError(t, err)
	defer d.Stop()

	for i := 0; i < 5; i++ {
		id, err := d.Submit(ValidationJob{SessionID: "s1"})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}

	require.Eventually(t, func() bool { return runner.done.Load() == 5 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return d.InFlight() == 0 }, time.Second, 10*time.Millisecond)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.LessOrEqual(t, runner.peak, 2)
	assert.Len(t, runner.ids, 5)
}

func TestDispatcher_StopCancelsWaitingJobs(t *testing.T) {
	runner := &countingRunner{hold: time.Hour}
	d, err := NewDispatcher(runner, 1, 2*time.Second)
	require.NoError(t, err)

	_, err = d.Submit(ValidationJob{ID: "job-1", SessionID: "s1"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return d.InFlight() == 1 && runner.peakRunning() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, d.Stop())
	require.Eventually(t, func() bool { return runner.done.Load() == 1 }, time.Second, 10*time.Millisecond)

	_, err = d.Submit(ValidationJob{SessionID: "s2"})
	assert.ErrorIs(t, err, ErrDispatcherStopped)
}

func TestDispatcher_StopSettlesJobsWaitingForASlot(t *testing.T) {
	runner := &countingRunner{hold: time.Hour}
	d, err := NewDispatcher(runner, 1, 2*time.Second)
	require.NoError(t, err)

	_, err = d.Submit(ValidationJob{ID: "running", SessionID: "s1"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return runner.peakRunning() == 1 }, time.Second, 10*time.Millisecond)

	_, err = d.Submit(ValidationJob{ID: "queued", SessionID: "s2"})
	require.NoError(t, err)
	assert.Equal(t, 2, d.InFlight())

	require.NoError(t, d.Stop())

	require.Eventually(t, func() bool { return runner.done.Load() == 2 && d.InFlight() == 0 }, time.Second, 10*time.Millisecond)
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.ElementsMatch(t, []string{"running", "queued"}, runner.ids)
}
