package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapdesk-io/zapdesk-ce/internal/config"
	"github.com/zapdesk-io/zapdesk-ce/internal/models"
	"github.com/zapdesk-io/zapdesk-ce/internal/repository"
)

func TestHandleCooldownSweepRemovesExpired(t *testing.T) {
	ctx := context.Background()
	cooldowns := repository.NewCooldownMemoryRepository()
	now := time.Now().UTC()
	require.NoError(t, cooldowns.Arm(ctx, "expired-1", now.Add(-time.Hour)))
	require.NoError(t, cooldowns.Arm(ctx, "expired-2", now.Add(-time.Minute)))
	require.NoError(t, cooldowns.Arm(ctx, "active", now.Add(time.Hour)))

	svc := NewService(
		WithCooldownRepository(cooldowns),
		WithClock(func() time.Time { return now }),
	)
	require.NoError(t, svc.handleCooldownSweep(ctx, &Job{}))

	active, err := cooldowns.IsActive(ctx, "active", now)
	require.NoError(t, err)
	assert.True(t, active)

	removed, err := cooldowns.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, removed, "sweep already removed the expired rows")
}

func TestHandleCooldownSweepWithoutRepository(t *testing.T) {
	svc := NewService()
	assert.NoError(t, svc.handleCooldownSweep(context.Background(), &Job{}))
}

func TestHandlePendingAuditDeletesOrphans(t *testing.T) {
	ctx := context.Background()
	pending := repository.NewPendingMemoryRepository()
	now := time.Now().UTC()

	require.NoError(t, pending.Create(ctx, &models.PendingSelection{
		ContactNumber: "orphan",
		CreatedAt:     now.Add(-time.Hour),
	}))
	require.NoError(t, pending.Create(ctx, &models.PendingSelection{
		ContactNumber: "fresh",
		CreatedAt:     now.Add(-time.Minute),
	}))

	svc := NewService(
		WithPendingRepository(pending),
		WithPendingMaxAge(30*time.Minute),
		WithClock(func() time.Time { return now }),
	)
	require.NoError(t, svc.handlePendingAudit(ctx, &Job{}))

	_, err := pending.GetByNumber(ctx, "orphan")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = pending.GetByNumber(ctx, "fresh")
	assert.NoError(t, err)
}

func TestStartRejectsUnknownHandler(t *testing.T) {
	engine := cron.New(cron.WithLocation(time.UTC))
	t.Cleanup(func() { engine.Stop() })

	svc := NewService(
		WithCron(engine),
		WithJobs([]*Job{{Slug: "mystery", Handler: "does.not.exist", Schedule: "@every 1m"}}),
	)
	err := svc.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown handler")
}

func TestStartAndStopDefaultJobs(t *testing.T) {
	engine := cron.New(cron.WithLocation(time.UTC))
	svc := NewService(
		WithCron(engine),
		WithCooldownRepository(repository.NewCooldownMemoryRepository()),
		WithPendingRepository(repository.NewPendingMemoryRepository()),
	)
	require.NoError(t, svc.Start())
	require.NoError(t, svc.Start(), "second start is a no-op")
	svc.Stop()
	svc.Stop()
}

func TestJobsFromConfigAppliesSweepInterval(t *testing.T) {
	cfg := config.DefaultBot()
	cfg.SweepInterval = 2 * time.Minute
	jobs := JobsFromConfig(cfg)
	var found bool
	for _, job := range jobs {
		if job.Slug == "cooldown-sweep" {
			assert.Equal(t, "@every 2m0s", job.Schedule)
			found = true
		}
	}
	assert.True(t, found)
}

func TestPendingMaxAgeFromConfig(t *testing.T) {
	cfg := config.DefaultBot()
	cfg.FinalDelay = 3 * time.Minute
	assert.Equal(t, 10*time.Minute, PendingMaxAgeFromConfig(cfg), "floor applies to short final delays")

	cfg.FinalDelay = 10 * time.Minute
	assert.Equal(t, 20*time.Minute, PendingMaxAgeFromConfig(cfg))
}
