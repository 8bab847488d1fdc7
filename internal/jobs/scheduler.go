package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Job is a recurring maintenance task
type Job interface {
	Run(ctx context.Context) error
	GetNextRunTime() time.Time
}

// JobStatus represents the status of a job
type JobStatus struct {
	Name        string    `json:"name"`
	NextRunTime time.Time `json:"next_run_time"`
	LastRunTime time.Time `json:"last_run_time,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// JobScheduler runs maintenance jobs, each rescheduled from its own
// GetNextRunTime after every run.
type JobScheduler struct {
	clock   clockwork.Clock
	jobs    map[string]Job
	timers  map[string]clockwork.Timer
	status  map[string]*JobStatus
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewJobScheduler creates a new job scheduler
func NewJobScheduler(clock clockwork.Clock) *JobScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobScheduler{
		clock:  clock,
		jobs:   make(map[string]Job),
		timers: make(map[string]clockwork.Timer),
		status: make(map[string]*JobStatus),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a job to the scheduler
func (s *JobScheduler) Register(name string, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[name] = job
	s.status[name] = &JobStatus{Name: name}
	if s.running {
		s.schedule(name, job)
	}
	log.Printf("✅ [SCHEDULER] Registered job: %s", name)
}

// Start schedules every registered job
func (s *JobScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	log.Printf("🚀 [SCHEDULER] Starting job scheduler with %d jobs", len(s.jobs))

	for name, job := range s.jobs {
		s.schedule(name, job)
	}
}

// schedule must be called with mu held.
func (s *JobScheduler) schedule(name string, job Job) {
	next := job.GetNextRunTime()
	wait := next.Sub(s.clock.Now())
	if wait < 0 {
		wait = 0
	}
	s.status[name].NextRunTime = next
	log.Printf("⏰ [SCHEDULER] Job '%s' scheduled for %s (in %v)", name, next.Format(time.RFC3339), wait)

	s.timers[name] = s.clock.AfterFunc(wait, func() {
		s.run(name, job)
	})
}

func (s *JobScheduler) run(name string, job Job) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	err := s.execute(name, job)

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status[name]
	st.LastRunTime = s.clock.Now()
	st.LastError = ""
	if err != nil {
		st.LastError = err.Error()
	}
	if s.running {
		s.schedule(name, job)
	}
}

func (s *JobScheduler) execute(name string, job Job) error {
	log.Printf("▶️  [SCHEDULER] Running job: %s", name)
	start := s.clock.Now()
	if err := job.Run(s.ctx); err != nil {
		log.Printf("❌ [SCHEDULER] Job '%s' failed: %v", name, err)
		return err
	}
	log.Printf("✅ [SCHEDULER] Job '%s' completed in %v", name, s.clock.Since(start))
	return nil
}

// Stop cancels timers and waits for running jobs
func (s *JobScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	log.Println("🛑 [SCHEDULER] Stopping job scheduler...")
	s.running = false
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[string]clockwork.Timer)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	log.Println("✅ [SCHEDULER] Job scheduler stopped")
}

// RunNow runs a job immediately outside its schedule
func (s *JobScheduler) RunNow(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not registered", name)
	}
	return s.execute(name, job)
}

// GetStatus returns the status of all jobs
func (s *JobScheduler) GetStatus() map[string]JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]JobStatus, len(s.status))
	for name, st := range s.status {
		out[name] = *st
	}
	return out
}
