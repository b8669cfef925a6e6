package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	v1 "github.com/zapdesk-io/zapdesk-ce/internal/api/v1"
	"github.com/zapdesk-io/zapdesk-ce/internal/config"
	"github.com/zapdesk-io/zapdesk-ce/internal/database"
	"github.com/zapdesk-io/zapdesk-ce/internal/notifications"
	"github.com/zapdesk-io/zapdesk-ce/internal/repository"
	"github.com/zapdesk-io/zapdesk-ce/internal/services/scheduler"
	"github.com/zapdesk-io/zapdesk-ce/internal/session"
	"github.com/zapdesk-io/zapdesk-ce/internal/timers"
	"github.com/zapdesk-io/zapdesk-ce/internal/transport"
	"github.com/zapdesk-io/zapdesk-ce/internal/wbot"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the desk server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

func serve(cfg *config.Config) error {
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must be set")
	}
	logger := newLogger(cfg.LogLevel)
	if cfg.LogLevel != "debug" && cfg.LogLevel != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}

	// keep the statement rewriter in sync with the configured driver
	os.Setenv("ZAPDESK_DATABASE_DRIVER", cfg.Database.Driver)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Bootstrap(db); err != nil {
		return err
	}

	connections := repository.NewConnectionRepository(db)
	tickets := repository.NewTicketRepository(db)
	queues := repository.NewQueueRepository(db)
	messages := repository.NewMessageRepository(db)
	users := repository.NewUserRepository(db)
	pending := repository.NewPendingSelectionRepository(db)
	cooldowns := repository.NewCooldownRepository(db)

	var hub notifications.Hub
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		hub = notifications.NewRedisHub(client, cfg.Redis.Channel, logger)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("using redis event hub")
	} else {
		hub = notifications.NewMemoryHub()
	}
	notifications.SetHub(hub)
	forwarder := notifications.NewWebhookForwarder(hub, cfg.WebhookURL, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := transport.NewWhatsmeowContainer(ctx, cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return err
	}
	factory := transport.NewWhatsmeowFactory(container, connections, logger)

	manager := session.NewManager(cfg.Session, connections, factory, logger)
	registry := timers.NewRegistry()
	bot := wbot.NewRouter(cfg.Bot, wbot.Stores{
		Connections: connections,
		Tickets:     tickets,
		Messages:    messages,
		Pending:     pending,
		Cooldowns:   cooldowns,
		Queues:      queues,
		Users:       users,
	}, manager, registry, logger)
	manager.SetInboundHandler(bot)

	jobs := scheduler.NewService(
		scheduler.WithLogger(logger),
		scheduler.WithCooldownRepository(cooldowns),
		scheduler.WithPendingRepository(pending),
		scheduler.WithJobs(scheduler.JobsFromConfig(cfg.Bot)),
		scheduler.WithPendingMaxAge(scheduler.PendingMaxAgeFromConfig(cfg.Bot)),
	)
	if err := jobs.Start(); err != nil {
		return err
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	api := v1.NewAPIRouter(cfg.Auth, v1.Stores{
		Connections: connections,
		Tickets:     tickets,
		Queues:      queues,
		Messages:    messages,
		Users:       users,
	}, manager, bot, hub, logger)
	api.RegisterRoutes(engine)

	manager.RestoreSessions(ctx)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	jobs.Stop()
	registry.Stop()
	manager.Shutdown(shutdownCtx)
	if forwarder != nil {
		forwarder.Stop()
	}
	if err := hub.Close(); err != nil {
		logger.Warn().Err(err).Msg("hub close failed")
	}
	logger.Info().Msg("bye")
	return nil
}
