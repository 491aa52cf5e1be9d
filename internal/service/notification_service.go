package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/itsm-workflow/internal/events"
)

// NotificationService hands notification-worthy events to the delivery pipeline. Delivery
// itself lives outside this service; requests are logged for the pipeline to pick up.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketAssigned, n.handleTicketAssigned)
	for _, eventType := range []events.EventType{
		events.EventChangeApproved,
		events.EventChangeRejected,
		events.EventServiceRequestApproved,
		events.EventServiceRequestRejected,
	} {
		n.dispatcher.Subscribe(eventType, n.handleApprovalDecision)
	}
	for _, eventType := range []events.EventType{
		events.EventSLAAtRisk,
		events.EventSLACritical,
		events.EventSLABreached,
		events.EventEscalationRequired,
	} {
		n.dispatcher.Subscribe(eventType, n.handleSLAEscalation)
	}
}

func (n *NotificationService) handleTicketAssigned(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketAssignedPayload)
	if !ok || payload.AssigneeID == nil {
		return nil
	}
	n.request(event, "assignee", *payload.AssigneeID)
	return nil
}

func (n *NotificationService) handleApprovalDecision(_ context.Context, event events.Event) error {
	n.request(event, "requester", "")
	return nil
}

func (n *NotificationService) handleSLAEscalation(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.SLAPayload)
	if ok && payload.AssignedTo != nil {
		n.request(event, "assignee", *payload.AssignedTo)
		return nil
	}
	n.request(event, "queue", "")
	return nil
}

func (n *NotificationService) request(event events.Event, audience, recipient string) {
	n.logger.Info("notification requested",
		zap.String("event_type", string(event.Type)),
		zap.String("event_id", event.ID),
		zap.String("org_id", event.OrgID),
		zap.String("ticket_id", event.TicketID),
		zap.String("audience", audience),
		zap.String("recipient", recipient))
}
