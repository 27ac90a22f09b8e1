// Package scheduler runs periodic maintenance jobs (such as pruning the
// message log) on cron expressions using robfig/cron.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is the work executed when a job fires.
type JobFunc func(ctx context.Context) error

// Job represents a scheduled task.
type Job struct {
	// ID is the unique job identifier.
	ID string

	// Schedule is the cron expression or shorthand.
	// Supports: standard 5-field cron, @daily, @hourly, @every 5m, etc.
	Schedule string

	// Run is invoked on every fire.
	Run JobFunc

	// Timeout bounds one run. Zero uses the scheduler default.
	Timeout time.Duration

	CreatedAt       time.Time
	LastRunAt       *time.Time
	LastError       string
	RunCount        int
	LastRunDuration time.Duration
}

// Scheduler manages scheduled tasks using cron expressions.
type Scheduler struct {
	jobs map[string]*Job
	cron *cron.Cron

	// runningJobs prevents a job from overlapping with its previous run.
	runningJobs map[string]bool

	// jobTimeout bounds runs of jobs without their own Timeout.
	jobTimeout time.Duration

	logger *slog.Logger
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:        make(map[string]*Job),
		runningJobs: make(map[string]bool),
		jobTimeout:  5 * time.Minute,
		logger:      logger.With("component", "scheduler"),
		ctx:         context.Background(),
	}
}

// Add registers a new job. The schedule is validated immediately.
func (s *Scheduler) Add(job *Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.Schedule == "" {
		return fmt.Errorf("job schedule is required")
	}
	if job.Run == nil {
		return fmt.Errorf("job %q has no run function", job.ID)
	}
	if _, err := parser.Parse(job.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %q already exists", job.ID)
	}
	job.CreatedAt = time.Now()

	if s.cron != nil {
		if err := s.scheduleCronJob(job); err != nil {
			return err
		}
	}
	s.jobs[job.ID] = job

	s.logger.Info("job added", "id", job.ID, "schedule", job.Schedule)
	return nil
}

// Get returns a job by ID.
func (s *Scheduler) Get(jobID string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	return j, ok
}

// RunNow executes a job synchronously, outside its schedule.
func (s *Scheduler) RunNow(jobID string) error {
	job, ok := s.Get(jobID)
	if !ok {
		return fmt.Errorf("job %q not found", jobID)
	}
	s.executeJob(job)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if job.LastError != "" {
		return fmt.Errorf("job %q: %s", jobID, job.LastError)
	}
	return nil
}

// Start creates the cron runner and schedules every registered job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithParser(parser))

	for _, job := range s.jobs {
		if err := s.scheduleCronJob(job); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	jobCount := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()

	s.logger.Info("scheduler started",
		"jobs", jobCount,
		"cron_entries", len(s.cron.Entries()),
	)
	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Second):
			s.logger.Warn("scheduler stop timed out")
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("scheduler stopped")
}

// ---------- Internal ----------

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// scheduleCronJob registers a job with the cron runner. Caller holds s.mu.
func (s *Scheduler) scheduleCronJob(job *Job) error {
	_, err := s.cron.AddFunc(job.Schedule, func() {
		s.executeJob(job)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
	}
	return nil
}

// executeJob runs a job with an overlap guard, a timeout and panic recovery.
func (s *Scheduler) executeJob(job *Job) {
	s.mu.Lock()
	if s.runningJobs[job.ID] {
		s.mu.Unlock()
		s.logger.Warn("skipping job (already running)", "id", job.ID)
		return
	}
	s.runningJobs[job.ID] = true
	now := time.Now()
	job.LastRunAt = &now
	job.RunCount++
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = s.jobTimeout
	}
	parent := s.ctx
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			job.LastError = fmt.Sprintf("panic: %v", r)
			s.mu.Unlock()
			s.logger.Error("scheduled job panicked", "id", job.ID, "panic", r)
		}
		s.mu.Lock()
		delete(s.runningJobs, job.ID)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	runStart := time.Now()
	err := job.Run(ctx)
	runDuration := time.Since(runStart)

	s.mu.Lock()
	job.LastRunDuration = runDuration
	if err != nil {
		job.LastError = err.Error()
	} else {
		job.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled job failed", "id", job.ID, "error", err, "duration", runDuration)
		return
	}
	s.logger.Debug("scheduled job completed", "id", job.ID, "duration", runDuration)
}
