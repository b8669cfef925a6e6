package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/zapdesk-io/zapdesk-ce/internal/config"
)

func (s *Service) registerBuiltinHandlers() {
	s.RegisterHandler("cooldown.sweep", s.handleCooldownSweep)
	s.RegisterHandler("pending.audit", s.handlePendingAudit)
}

// handleCooldownSweep reclaims cooldown rows whose window has passed.
func (s *Service) handleCooldownSweep(ctx context.Context, _ *Job) error {
	if s.opts.Cooldowns == nil {
		s.opts.Logger.Debug().Msg("scheduler: cooldown repository unavailable, skipping sweep")
		return nil
	}
	removed, err := s.opts.Cooldowns.DeleteExpired(ctx, s.now())
	if err != nil {
		return err
	}
	if removed > 0 {
		s.opts.Logger.Info().Int64("removed", removed).Msg("scheduler: swept expired cooldowns")
	}
	return nil
}

// handlePendingAudit deletes dialogue records that outlived their
// final timer, which happens when the process restarts with dialogues
// open: the rows survive, the in-memory timers do not.
func (s *Service) handlePendingAudit(ctx context.Context, _ *Job) error {
	if s.opts.Pending == nil {
		s.opts.Logger.Debug().Msg("scheduler: pending repository unavailable, skipping audit")
		return nil
	}
	cutoff := s.now().Add(-s.opts.PendingMaxAge)
	stale, err := s.opts.Pending.ListStale(ctx, cutoff)
	if err != nil {
		return err
	}
	removed := 0
	for _, p := range stale {
		existed, err := s.opts.Pending.Delete(ctx, p.ContactNumber)
		if err != nil {
			s.opts.Logger.Error().Err(err).Str("contact", p.ContactNumber).Msg("scheduler: failed to delete stale dialogue")
			continue
		}
		if existed {
			removed++
		}
	}
	if removed > 0 {
		s.opts.Logger.Info().Int("removed", removed).Msg("scheduler: closed orphaned dialogues")
	}
	return nil
}

// DefaultJobs returns the builtin job set.
func DefaultJobs() []*Job {
	return []*Job{
		{
			Name:           "Bot Cooldown Sweep",
			Slug:           "cooldown-sweep",
			Handler:        "cooldown.sweep",
			Schedule:       "@every 5m",
			TimeoutSeconds: 60,
		},
		{
			Name:           "Pending Dialogue Audit",
			Slug:           "pending-audit",
			Handler:        "pending.audit",
			Schedule:       "@every 10m",
			TimeoutSeconds: 120,
		},
	}
}

// JobsFromConfig applies the configured sweep cadence to the builtin
// job set.
func JobsFromConfig(cfg config.BotConfig) []*Job {
	jobs := DefaultJobs()
	if cfg.SweepInterval <= 0 {
		return jobs
	}
	for _, job := range jobs {
		if job.Slug == "cooldown-sweep" {
			job.Schedule = fmt.Sprintf("@every %s", cfg.SweepInterval)
		}
	}
	return jobs
}

// PendingMaxAgeFromConfig derives how old a dialogue row must be before
// the audit considers its timers lost.
func PendingMaxAgeFromConfig(cfg config.BotConfig) time.Duration {
	// well past the final timer plus scheduling slack
	age := 2 * cfg.FinalDelay
	if age < 10*time.Minute {
		age = 10 * time.Minute
	}
	return age
}
