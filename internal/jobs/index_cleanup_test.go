package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esachat/internal/kvstore"
)

func TestIndexCleanupJob_RemovesDanglingMembers(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	require.NoError(t, store.Set(ctx, "user:alice:session:live", "{}", time.Hour))
	require.NoError(t, store.ZAdd(ctx, "sessidx:alice", 2, "user:alice:session:live"))
	require.NoError(t, store.ZAdd(ctx, "sessidx:alice", 1, "user:alice:session:gone"))
	require.NoError(t, store.ZAdd(ctx, "sessidx:bob", 1, "user:bob:session:gone"))

	job, err := NewIndexCleanupJob(store, "0 3 * * *", nil)
	require.NoError(t, err)
	require.NoError(t, job.Run(ctx))

	alice, err := store.ZRevRangeWithScores(ctx, "sessidx:alice")
	require.NoError(t, err)
	require.Len(t, alice, 1)
	assert.Equal(t, "user:alice:session:live", alice[0].Member)

	bob, err := store.ZRevRangeWithScores(ctx, "sessidx:bob")
	require.NoError(t, err)
	assert.Empty(t, bob)
}

func TestIndexCleanupJob_NextRun(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	job, err := NewIndexCleanupJob(kvstore.NewMemoryStore(), "0 3 * * *", clock)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC), job.GetNextRunTime())

	_, err = NewIndexCleanupJob(kvstore.NewMemoryStore(), "every day", clock)
	assert.Error(t, err)
}

type tickJob struct {
	clock clockwork.Clock
	every time.Duration
	runs  atomic.Int32
	err   error
}

func (j *tickJob) Run(context.Context) error {
	j.runs.Add(1)
	return j.err
}

func (j *tickJob) GetNextRunTime() time.Time {
	return j.clock.Now().Add(j.every)
}

func TestJobScheduler_RunsAndReschedules(t *testing.T) {
	clock := clockwork.NewFakeClock()
	job := &tickJob{clock: clock, every: time.Hour, err: errors.New("store down")}

	s := NewJobScheduler(clock)
	s.Register("tick", job)
	s.Start()
	defer s.Stop()

	for i := 1; i <= 2; i++ {
		clock.BlockUntil(1)
		clock.Advance(time.Hour)
		want := int32(i)
		require.Eventually(t, func() bool { return job.runs.Load() == want }, time.Second, 5*time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return s.GetStatus()["tick"].LastError == "store down"
	}, time.Second, 5*time.Millisecond)
}

func TestJobScheduler_RunNow(t *testing.T) {
	job := &tickJob{clock: clockwork.NewRealClock(), every: time.Hour}
	s := NewJobScheduler(nil)
	s.Register("tick", job)

	require.NoError(t, s.RunNow("tick"))
	assert.EqualValues(t, 1, job.runs.Load())
	assert.Error(t, s.RunNow("missing"))
}
