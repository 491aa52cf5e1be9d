package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/itsm-workflow/internal/api/http"
	"github.com/spec-kit/itsm-workflow/internal/api/http/handlers"
	"github.com/spec-kit/itsm-workflow/internal/auth"
	"github.com/spec-kit/itsm-workflow/internal/config"
	"github.com/spec-kit/itsm-workflow/internal/events"
	"github.com/spec-kit/itsm-workflow/internal/observability"
	"github.com/spec-kit/itsm-workflow/internal/persistence"
	"github.com/spec-kit/itsm-workflow/internal/repository"
	"github.com/spec-kit/itsm-workflow/internal/service"
	"github.com/spec-kit/itsm-workflow/internal/sla"
	"github.com/spec-kit/itsm-workflow/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	app := &cli.App{
		Name:  "itsm-workflow",
		Usage: "Ticket workflow and SLA engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the HTTP API and the SLA sweep schedule",
				Action: runServe,
			},
			{
				Name:   "sweep",
				Usage:  "Run a single SLA sweep and exit",
				Action: runSweep,
			},
			{
				Name:   "migrate",
				Usage:  "Apply database migrations and exit",
				Action: runMigrate,
			},
		},
		Action: runServe,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("itsm-workflow: %v", err)
	}
}

// deps holds the collaborators shared by every command.
type deps struct {
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *observability.Metrics
	pg         *persistence.Postgres
	redis      *persistence.Redis
	users      repository.UserRepository
	history    repository.TicketHistoryRepository
	engine     *service.WorkflowEngine
	sweeper    *service.SLASweeper
	eventQueue *events.AsyncSink
}

func bootstrap(c *cli.Context) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if level := c.String("log-level"); level != "" {
		cfg.Logger.Level = level
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pg, err := persistence.NewPostgres(c.Context, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(c.Context, pg.PoolHandle(), logger); err != nil {
			pg.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	policy, err := sla.ParsePolicy(cfg.SLA.Policy)
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("parse SLA_POLICY: %w", err)
	}
	clock := sla.NewClock(policy)
	logger.Info("sla policy loaded", zap.String("policy", policy.String()))

	redis, err := persistence.NewRedis(c.Context, cfg.Redis, cfg.Events.RedisStreamEnabled, logger)
	if err != nil {
		pg.Close()
		return nil, err
	}
	metrics := observability.NewMetrics()

	pool := pg.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	historyRepo := repository.NewTicketHistoryRepository(pool)

	dispatcher := events.NewInMemoryDispatcher()
	var notifications worker.Subscriber
	if cfg.Events.NotificationLogging {
		notifications = service.NewNotificationService(dispatcher, logger)
	}
	worker.RegisterSubscribers(
		service.NewHistoryRecorder(dispatcher, historyRepo),
		notifications,
	)

	sinks := events.MultiSink{dispatcher}
	if cfg.Events.RedisStreamEnabled {
		sinks = append(sinks, events.NewRedisStreamSink(redis.Client, cfg.Events.RedisStreamPrefix, cfg.Events.RedisStreamMaxLen))
	}
	eventQueue := events.NewAsyncSink(sinks, cfg.Events.BufferSize, logger, metrics)

	var validator service.TransitionValidator = service.NewMembershipValidator()
	if cfg.Workflow.StrictTransitions {
		validator = service.NewGraphTransitionValidator()
	}

	engine := service.NewWorkflowEngine(service.EngineDependencies{
		TicketRepo:       ticketRepo,
		UserRepo:         userRepo,
		Permissions:      auth.NewCapabilityChecker(),
		Validator:        validator,
		Clock:            clock,
		Sink:             eventQueue,
		Metrics:          metrics,
		Logger:           logger,
		MaxConflictRetry: cfg.Workflow.MaxConflictRetry,
	})
	sweeper := service.NewSLASweeper(service.SweeperDependencies{
		TicketRepo:   ticketRepo,
		Clock:        clock,
		Sink:         eventQueue,
		Metrics:      metrics,
		Logger:       logger,
		BatchSize:    cfg.SLA.SweepBatchSize,
		BatchTimeout: cfg.SLA.SweepBatchTimeout(),
	})

	return &deps{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		pg:         pg,
		redis:      redis,
		users:      userRepo,
		history:    historyRepo,
		engine:     engine,
		sweeper:    sweeper,
		eventQueue: eventQueue,
	}, nil
}

// close drains queued events before releasing connections.
func (r *deps) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := r.eventQueue.Close(ctx); err != nil {
		r.logger.Warn("event queue not drained", zap.Error(err))
	}
	r.redis.Close()
	r.pg.Close()
	_ = r.logger.Sync()
}

func runServe(c *cli.Context) error {
	rt, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer rt.close()
	cfg, logger := rt.cfg, rt.logger

	var sweepWorker *worker.SLASweepWorker
	if cfg.SLA.SweepEnabled {
		sweepWorker, err = worker.NewSLASweepWorker(rt.sweeper, cfg.SLA.SweepSchedule, logger)
		if err != nil {
			return err
		}
		sweepWorker.Start()
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, rt.metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": rt.pg,
			"redis":    rt.redis,
		}),
		Tickets:        handlers.NewTicketsHandler(rt.engine, rt.history),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, rt.users),
		Metrics:        rt.metrics,
	})

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		logger.Error("http server failed", zap.Error(err))
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if sweepWorker != nil {
		if err := sweepWorker.Stop(ctx); err != nil {
			logger.Warn("sla sweep worker did not stop in time", zap.Error(err))
		}
	}
	return app.ShutdownWithContext(ctx)
}

func runSweep(c *cli.Context) error {
	rt, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer rt.close()

	result, err := rt.sweeper.Sweep(c.Context)
	if err != nil {
		return fmt.Errorf("sla sweep: %w", err)
	}
	rt.logger.Info("sla sweep complete",
		zap.Int("scanned", result.Scanned),
		zap.Int("crossings", result.Crossings),
		zap.Int("conflicts", result.Conflicts))
	return nil
}

func runMigrate(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if level := c.String("log-level"); level != "" {
		cfg.Logger.Level = level
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	pg, err := persistence.NewPostgres(c.Context, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()
	return persistence.RunMigrations(c.Context, pg.PoolHandle(), logger)
}
