package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// ErrDispatcherStopped is returned by Submit after Stop.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// JobRunner executes one validation job to completion.
type JobRunner interface {
	Run(ctx context.Context, job ValidationJob)
}

// Dispatcher runs validation jobs off the request path on a bounded
// pool. Jobs are held in memory only and do not survive a restart.
type Dispatcher struct {
	scheduler gocron.Scheduler
	runner    JobRunner
	ctx       context.Context
	cancel    context.CancelFunc
	inFlight  atomic.Int64

	mu      sync.Mutex
	stopped bool
	// queued holds submitted jobs that have not started yet.
	queued map[string]ValidationJob
}

// NewDispatcher starts a dispatcher that runs at most maxConcurrent jobs
// at once; the rest wait their turn. Stop waits up to stopTimeout for
// running jobs to settle.
func NewDispatcher(runner JobRunner, maxConcurrent int, stopTimeout time.Duration) (*Dispatcher, error) {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLimitConcurrentJobs(uint(maxConcurrent), gocron.LimitModeWait),
		gocron.WithStopTimeout(stopTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		scheduler: scheduler,
		runner:    runner,
		ctx:       ctx,
		cancel:    cancel,
		queued:    make(map[string]ValidationJob),
	}
	scheduler.Start()
	log.Printf("✅ [JOBS] Dispatcher started (max %d concurrent jobs)", maxConcurrent)
	return d, nil
}

// Submit queues job for immediate execution and returns its id.
func (d *Dispatcher) Submit(job ValidationJob) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return "", ErrDispatcherStopped
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	d.inFlight.Add(1)
	d.queued[job.ID] = job
	_, err := d.scheduler.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()),
		gocron.NewTask(func() {
			if !d.claim(job.ID) {
				return
			}
			defer d.inFlight.Add(-1)
			d.runner.Run(d.ctx, job)
		}),
		gocron.WithName("abm-validation:"+job.ID),
		gocron.WithTags(job.SessionID, string(job.Service)),
	)
	if err != nil {
		delete(d.queued, job.ID)
		d.inFlight.Add(-1)
		return "", fmt.Errorf("failed to queue job: %w", err)
	}

	log.Printf("📥 [JOBS] Queued %s job %s for session %s", job.Service, job.ID, job.SessionID)
	return job.ID, nil
}

// claim removes a queued job as it starts. It fails when Stop already
// settled the job.
func (d *Dispatcher) claim(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.queued[id]; !ok {
		return false
	}
	delete(d.queued, id)
	return true
}

// InFlight counts jobs queued or running.
func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

// Stop cancels pending backoff waits so running jobs settle, shuts the
// pool down, then settles jobs that never got a slot so each one still
// records its interruption.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()

	log.Printf("🛑 [JOBS] Stopping dispatcher with %d job(s) in flight...", d.InFlight())
	d.cancel()
	shutdownErr := d.scheduler.Shutdown()

	d.mu.Lock()
	pending := make([]ValidationJob, 0, len(d.queued))
	for id, job := range d.queued {
		pending = append(pending, job)
		delete(d.queued, id)
	}
	d.mu.Unlock()

	if len(pending) > 0 {
		log.Printf("⚠️  [JOBS] Settling %d job(s) that never started", len(pending))
	}
	for _, job := range pending {
		d.runner.Run(d.ctx, job)
		d.inFlight.Add(-1)
	}

	if shutdownErr != nil {
		return fmt.Errorf("dispatcher shutdown: %w", shutdownErr)
	}
	log.Println("✅ [JOBS] Dispatcher stopped")
	return nil
}
