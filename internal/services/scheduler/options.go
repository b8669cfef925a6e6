package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/zapdesk-io/zapdesk-ce/internal/repository"
)

type options struct {
	Logger        zerolog.Logger
	Cooldowns     repository.CooldownRepository
	Pending       repository.PendingSelectionRepository
	Cron          *cron.Cron
	Jobs          []*Job
	Location      *time.Location
	Clock         func() time.Time
	PendingMaxAge time.Duration
}

// Option applies configuration to the scheduler service.
type Option func(*options)

func defaultOptions() options {
	return options{
		Logger:        zerolog.Nop(),
		Location:      time.UTC,
		PendingMaxAge: 10 * time.Minute,
	}
}

// WithLogger injects a custom logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithCooldownRepository injects the cooldown store swept by the
// cooldown.sweep job.
func WithCooldownRepository(repo repository.CooldownRepository) Option {
	return func(o *options) {
		o.Cooldowns = repo
	}
}

// WithPendingRepository injects the pending store audited for orphans.
func WithPendingRepository(repo repository.PendingSelectionRepository) Option {
	return func(o *options) {
		o.Pending = repo
	}
}

// WithCron supplies a preconfigured cron scheduler instance.
func WithCron(c *cron.Cron) Option {
	return func(o *options) {
		o.Cron = c
	}
}

// WithJobs registers explicit job definitions instead of defaults.
func WithJobs(jobs []*Job) Option {
	return func(o *options) {
		o.Jobs = jobs
	}
}

// WithLocation sets the scheduler timezone location.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		o.Location = loc
	}
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.Clock = clock
	}
}

// WithPendingMaxAge sets how old a dialogue row must be before the
// audit treats it as orphaned.
func WithPendingMaxAge(age time.Duration) Option {
	return func(o *options) {
		o.PendingMaxAge = age
	}
}
