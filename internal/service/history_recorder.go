package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spec-kit/itsm-workflow/internal/domain"
	"github.com/spec-kit/itsm-workflow/internal/events"
	"github.com/spec-kit/itsm-workflow/internal/repository"
)

// HistoryRecorder writes every workflow event to the ticket audit trail.
type HistoryRecorder struct {
	dispatcher events.Dispatcher
	history    repository.TicketHistoryRepository
}

// NewHistoryRecorder creates the recorder.
func NewHistoryRecorder(dispatcher events.Dispatcher, history repository.TicketHistoryRepository) *HistoryRecorder {
	return &HistoryRecorder{dispatcher: dispatcher, history: history}
}

// RegisterHandlers subscribes to every event type.
func (h *HistoryRecorder) RegisterHandlers() {
	if h.dispatcher == nil || h.history == nil {
		return
	}
	for _, eventType := range events.AllEventTypes {
		h.dispatcher.Subscribe(eventType, h.record)
	}
}

func (h *HistoryRecorder) record(ctx context.Context, event events.Event) error {
	payload, err := payloadMap(event.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event.Type, err)
	}
	return h.history.Create(ctx, &domain.TicketHistory{
		ID:        event.ID,
		OrgID:     event.OrgID,
		TicketID:  event.TicketID,
		ActorID:   event.ActorID,
		EventType: string(event.Type),
		Payload:   payload,
		CreatedAt: event.Timestamp,
	})
}

func payloadMap(payload interface{}) (map[string]any, error) {
	if payload == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
