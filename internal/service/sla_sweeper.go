package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/itsm-workflow/internal/domain"
	"github.com/spec-kit/itsm-workflow/internal/events"
	"github.com/spec-kit/itsm-workflow/internal/observability"
	"github.com/spec-kit/itsm-workflow/internal/repository"
	"github.com/spec-kit/itsm-workflow/internal/sla"
	apperrors "github.com/spec-kit/itsm-workflow/pkg/util"
)

const (
	defaultSweepBatchSize    = 200
	defaultSweepBatchTimeout = 20 * time.Second
)

var crossingEvents = map[sla.Crossing]events.EventType{
	sla.CrossingAtRisk:             events.EventSLAAtRisk,
	sla.CrossingCritical:           events.EventSLACritical,
	sla.CrossingBreached:           events.EventSLABreached,
	sla.CrossingEscalationRequired: events.EventEscalationRequired,
}

// SweepResult summarizes one sweep run.
type SweepResult struct {
	Scanned   int
	Crossings int
	Conflicts int
	Completed bool
}

// SLASweeper persists due SLA crossings of open tickets and emits one event per crossing.
// The sticky facts are written with the same compare-and-set as engine mutations, so only
// the writer that wins a race publishes.
type SLASweeper struct {
	tickets      repository.TicketRepository
	clock        *sla.Clock
	sink         events.Sink
	metrics      *observability.Metrics
	logger       *zap.Logger
	now          func() time.Time
	batchSize    int
	batchTimeout time.Duration
}

// SweeperDependencies bundles collaborators for the sweeper.
type SweeperDependencies struct {
	TicketRepo   repository.TicketRepository
	Clock        *sla.Clock
	Sink         events.Sink
	Metrics      *observability.Metrics
	Logger       *zap.Logger
	Now          func() time.Time
	BatchSize    int
	BatchTimeout time.Duration
}

// NewSLASweeper constructs the sweeper.
func NewSLASweeper(deps SweeperDependencies) *SLASweeper {
	s := &SLASweeper{
		tickets:      deps.TicketRepo,
		clock:        deps.Clock,
		sink:         deps.Sink,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		now:          deps.Now,
		batchSize:    deps.BatchSize,
		batchTimeout: deps.BatchTimeout,
	}
	if s.clock == nil {
		s.clock = sla.NewClock(nil)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultSweepBatchSize
	}
	if s.batchTimeout <= 0 {
		s.batchTimeout = defaultSweepBatchTimeout
	}
	return s
}

// Sweep walks every open ticket in id order. A batch that runs out of time ends the run;
// the next run starts over.
func (s *SLASweeper) Sweep(ctx context.Context) (SweepResult, error) {
	started := time.Now()
	result, err := s.sweep(ctx)
	s.metrics.RecordSweep(err, time.Since(started))
	if err != nil {
		s.logger.Warn("sla sweep stopped early",
			zap.Int("scanned", result.Scanned),
			zap.Int("crossings", result.Crossings),
			zap.Error(err))
		return result, err
	}
	s.logger.Debug("sla sweep finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("crossings", result.Crossings),
		zap.Int("conflicts", result.Conflicts))
	return result, nil
}

func (s *SLASweeper) sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	afterID := ""
	for {
		batchCtx, cancel := context.WithTimeout(ctx, s.batchTimeout)
		last, size, err := s.sweepBatch(batchCtx, afterID, &result)
		cancel()
		if err != nil {
			return result, err
		}
		if size < s.batchSize {
			result.Completed = true
			return result, nil
		}
		afterID = last
	}
}

func (s *SLASweeper) sweepBatch(ctx context.Context, afterID string, result *SweepResult) (string, int, error) {
	batch, err := s.tickets.ScanOpen(ctx, afterID, s.batchSize)
	if err != nil {
		return afterID, 0, err
	}
	for _, ticket := range batch {
		if err := ctx.Err(); err != nil {
			return afterID, len(batch), err
		}
		result.Scanned++
		if err := s.process(ctx, ticket, result); err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return afterID, len(batch), err
			}
			s.logger.Warn("sla evaluation failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
		}
		afterID = ticket.ID
	}
	return afterID, len(batch), nil
}

func (s *SLASweeper) process(ctx context.Context, ticket *domain.Ticket, result *SweepResult) error {
	now := s.now()
	due := s.clock.Evaluate(now, ticket)
	if len(due) == 0 {
		return nil
	}

	next := ticket.Clone()
	sla.Record(next, due, now)
	if err := s.tickets.Save(ctx, next, ticket.Version); err != nil {
		if apperrors.HasCode(err, apperrors.CodeConflict) {
			// Another writer moved the ticket; the next run re-evaluates it.
			result.Conflicts++
			return nil
		}
		return err
	}

	payload := events.SLAPayload{
		Priority:           next.Priority,
		ResolutionDeadline: next.SLA.ResolutionDeadline,
		PercentRemaining:   s.clock.PercentRemaining(now, next),
		AssignedTo:         next.AssignedTo,
	}
	for _, crossing := range due {
		result.Crossings++
		s.metrics.RecordSLACrossing(string(crossing))
		s.publish(ctx, events.NewTicketEvent(crossingEvents[crossing], next, domain.SystemActorID, now, payload))
	}
	return nil
}

func (s *SLASweeper) publish(ctx context.Context, event events.Event) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}
