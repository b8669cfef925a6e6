// Package scheduler runs the desk's recurring maintenance jobs on a
// cron engine: sweeping expired bot cooldowns and auditing pending
// dialogues whose in-memory timers were lost to a restart.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job describes one recurring task.
type Job struct {
	Name           string
	Slug           string
	Handler        string
	Schedule       string
	TimeoutSeconds int
}

// HandlerFunc executes one job run.
type HandlerFunc func(ctx context.Context, job *Job) error

// Service owns the cron engine and the handler registry.
type Service struct {
	opts    options
	cron    *cron.Cron
	metrics *jobMetrics

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	entries  map[string]cron.EntryID
	started  bool
}

// NewService builds the scheduler with builtin handlers registered.
// Jobs only start running after Start.
func NewService(opts ...Option) *Service {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	engine := o.Cron
	if engine == nil {
		engine = cron.New(cron.WithLocation(o.Location))
	}
	s := &Service{
		opts:     o,
		cron:     engine,
		metrics:  globalJobMetrics(),
		handlers: make(map[string]HandlerFunc),
		entries:  make(map[string]cron.EntryID),
	}
	s.registerBuiltinHandlers()
	return s
}

// RegisterHandler binds a handler name to a function. Jobs referencing
// unknown handlers fail at Start.
func (s *Service) RegisterHandler(name string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = fn
}

// Start schedules every configured job and starts the engine.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	jobs := s.opts.Jobs
	if jobs == nil {
		jobs = DefaultJobs()
	}
	for _, job := range jobs {
		handler, ok := s.handlers[job.Handler]
		if !ok {
			return fmt.Errorf("job %q references unknown handler %q", job.Slug, job.Handler)
		}
		job := job
		entryID, err := s.cron.AddFunc(job.Schedule, func() {
			s.runJob(job, handler)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule job %q: %w", job.Slug, err)
		}
		s.entries[job.Slug] = entryID
	}
	s.cron.Start()
	s.started = true
	s.opts.Logger.Info().Int("jobs", len(jobs)).Msg("scheduler started")
	return nil
}

// Stop halts the engine and waits for running jobs to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.opts.Logger.Info().Msg("scheduler stopped")
}

func (s *Service) runJob(job *Job, handler HandlerFunc) {
	timeout := time.Duration(job.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := s.metrics.timeRun(job.Slug)
	err := handler(ctx, job)
	done()
	if err != nil {
		s.metrics.recordRun(job.Slug, false)
		s.opts.Logger.Error().Err(err).Str("job", job.Slug).Msg("scheduled job failed")
		return
	}
	s.metrics.recordRun(job.Slug, true)
}

func (s *Service) now() time.Time {
	if s.opts.Clock != nil {
		return s.opts.Clock()
	}
	return time.Now()
}
