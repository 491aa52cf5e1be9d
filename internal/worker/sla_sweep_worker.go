package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/itsm-workflow/internal/service"
)

// Sweeper runs one SLA pass over the open tickets.
type Sweeper interface {
	Sweep(ctx context.Context) (service.SweepResult, error)
}

// SLASweepWorker runs the sweeper on a cron schedule. Overlapping runs are skipped.
type SLASweepWorker struct {
	cron    *cron.Cron
	sweeper Sweeper
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewSLASweepWorker validates schedule and registers the sweep job.
func NewSLASweepWorker(sweeper Sweeper, schedule string, logger *zap.Logger) (*SLASweepWorker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLog := cronLogger{logger: logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	w := &SLASweepWorker{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		sweeper: sweeper,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	if _, err := w.cron.AddFunc(schedule, w.run); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid sla sweep schedule %q: %w", schedule, err)
	}
	return w, nil
}

// Start begins scheduling in the background.
func (w *SLASweepWorker) Start() {
	w.logger.Info("sla sweep worker started", zap.Int("jobs", len(w.cron.Entries())))
	w.cron.Start()
}

// Stop cancels a running sweep and waits for it until ctx expires.
func (w *SLASweepWorker) Stop(ctx context.Context) error {
	w.cancel()
	done := w.cron.Stop()
	select {
	case <-done.Done():
		w.logger.Info("sla sweep worker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *SLASweepWorker) run() {
	result, err := w.sweeper.Sweep(w.ctx)
	if err != nil {
		return
	}
	if result.Crossings > 0 {
		w.logger.Info("sla sweep recorded crossings",
			zap.Int("scanned", result.Scanned),
			zap.Int("crossings", result.Crossings),
			zap.Int("conflicts", result.Conflicts))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
