package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/itsm-workflow/internal/observability"
)

const defaultDeliveryTimeout = 5 * time.Second

// AsyncSink decouples publishers from delivery. Publish never blocks: when the buffer is
// full the event is dropped and counted. Delivery errors are logged, not returned.
type AsyncSink struct {
	next    Sink
	logger  *zap.Logger
	metrics *observability.Metrics
	queue   chan Event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

// NewAsyncSink starts the delivery goroutine.
func NewAsyncSink(next Sink, buffer int, logger *zap.Logger, metrics *observability.Metrics) *AsyncSink {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AsyncSink{
		next:    next,
		logger:  logger,
		metrics: metrics,
		queue:   make(chan Event, buffer),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Publish enqueues the event.
func (s *AsyncSink) Publish(_ context.Context, event Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn("event dropped after sink close", zap.String("event_type", string(event.Type)), zap.String("ticket_id", event.TicketID))
		s.metrics.RecordEventDropped(string(event.Type))
		return nil
	}
	select {
	case s.queue <- event:
	default:
		s.logger.Warn("event buffer full; dropping event", zap.String("event_type", string(event.Type)), zap.String("ticket_id", event.TicketID))
		s.metrics.RecordEventDropped(string(event.Type))
	}
	return nil
}

// Close stops accepting events and waits for queued ones to drain or ctx to expire.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
	})
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for event := range s.queue {
		s.deliver(event)
	}
}

func (s *AsyncSink) deliver(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultDeliveryTimeout)
	defer cancel()
	err := s.next.Publish(ctx, event)
	s.metrics.RecordEventPublished(string(event.Type), err)
	if err != nil {
		s.logger.Error("event delivery failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}
