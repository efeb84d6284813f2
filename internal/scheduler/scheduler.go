// Package scheduler runs named jobs on fixed intervals with per-job overlap
// suppression. A tick that fires while the previous run of the same job is
// still executing is skipped; the interval is the retry cadence after
// failures.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// JobFunc executes one run of a job and returns the number of records it
// processed.
type JobFunc func(ctx context.Context) (int, error)

// Job is a named fixed-interval job.
type Job struct {
	Name     string
	Interval time.Duration
	Run      JobFunc
	// RunAtStart fires the job immediately on scheduler start instead of
	// waiting one interval.
	RunAtStart bool
}

// JobStatus is the per-job bookkeeping surfaced on the metrics endpoint.
type JobStatus struct {
	Name           string     `json:"name"`
	Running        bool       `json:"running"`
	LastStartedAt  *time.Time `json:"last_started_at,omitempty"`
	LastSuccessAt  *time.Time `json:"last_success_at,omitempty"`
	LastErrorAt    *time.Time `json:"last_error_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	LastDurationMS float64    `json:"last_duration_ms"`
	SkippedTicks   int64      `json:"skipped_ticks"`
}

// Recorder persists job run results; the scheduler calls it best-effort.
type Recorder interface {
	RecordStart(ctx context.Context, jobName string, at time.Time) error
	RecordResult(ctx context.Context, jobName string, finishedAt time.Time, durationMS float64, runErr error) error
}

// Scheduler drives a set of jobs until its context is cancelled. Different
// jobs run concurrently; the same job never overlaps itself.
type Scheduler struct {
	jobs     []Job
	recorder Recorder
	logger   *slog.Logger

	mu     sync.Mutex
	status map[string]*JobStatus

	inflight sync.WaitGroup
}

// New creates a Scheduler. recorder may be nil.
func New(recorder Recorder, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		recorder: recorder,
		logger:   logger.With(slog.String("component", "scheduler")),
		status:   make(map[string]*JobStatus),
	}
}

// Add registers a job. Must be called before Run.
func (s *Scheduler) Add(job Job) {
	s.jobs = append(s.jobs, job)
	s.mu.Lock()
	s.status[job.Name] = &JobStatus{Name: job.Name}
	s.mu.Unlock()
}

// Status returns a snapshot of every job's bookkeeping.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *s.status[job.Name])
	}
	return out
}

// Run starts all job loops and blocks until ctx is cancelled. Jobs observe
// cancellation at their next suspension point; Run returns once every loop
// has exited.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		job := job
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
	err := g.Wait()
	// Wait for in-flight runs; they observe cancellation at their next
	// suspension point.
	s.inflight.Wait()
	s.logger.Info("scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	running := make(chan struct{}, 1)

	launch := func() {
		select {
		case running <- struct{}{}:
		default:
			// Previous run still executing: skip this tick.
			s.mu.Lock()
			s.status[job.Name].SkippedTicks++
			s.mu.Unlock()
			s.logger.Debug("tick skipped, job still running",
				slog.String("job_name", job.Name),
			)
			return
		}
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			defer func() { <-running }()
			s.execute(ctx, job)
		}()
	}

	if job.RunAtStart {
		launch()
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			launch()
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job) {
	started := time.Now().UTC()
	s.mu.Lock()
	st := s.status[job.Name]
	st.Running = true
	st.LastStartedAt = &started
	s.mu.Unlock()

	if s.recorder != nil {
		if err := s.recorder.RecordStart(ctx, job.Name, started); err != nil && ctx.Err() == nil {
			s.logger.Warn("record job start failed",
				slog.String("job_name", job.Name),
				slog.String("error", err.Error()),
			)
		}
	}

	processed, err := job.Run(ctx)
	finished := time.Now().UTC()
	durationMS := float64(finished.Sub(started)) / float64(time.Millisecond)

	s.mu.Lock()
	st.Running = false
	st.LastDurationMS = durationMS
	if err != nil {
		st.LastErrorAt = &finished
		st.LastError = err.Error()
	} else {
		st.LastSuccessAt = &finished
		st.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return // cancelled mid-run; next start resumes from durable state
		}
		s.logger.Error("job failed",
			slog.String("job_name", job.Name),
			slog.Float64("duration_ms", durationMS),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Info("job finished",
			slog.String("job_name", job.Name),
			slog.Int("processed", processed),
			slog.Float64("duration_ms", durationMS),
		)
	}

	if s.recorder != nil && ctx.Err() == nil {
		if recErr := s.recorder.RecordResult(ctx, job.Name, finished, durationMS, err); recErr != nil {
			s.logger.Warn("record job result failed",
				slog.String("job_name", job.Name),
				slog.String("error", recErr.Error()),
			)
		}
	}
}
