package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/itsm-workflow/internal/api/dto"
	"github.com/spec-kit/itsm-workflow/internal/auth"
	"github.com/spec-kit/itsm-workflow/internal/domain"
	"github.com/spec-kit/itsm-workflow/internal/events"
	"github.com/spec-kit/itsm-workflow/internal/repository"
	"github.com/spec-kit/itsm-workflow/internal/service"
	apperrors "github.com/spec-kit/itsm-workflow/pkg/util"
)

// TicketsHandler exposes the workflow engine over HTTP.
type TicketsHandler struct {
	engine  *service.WorkflowEngine
	history repository.TicketHistoryRepository
}

// NewTicketsHandler constructs handler. history may be nil, which disables the history route.
func NewTicketsHandler(engine *service.WorkflowEngine, history repository.TicketHistoryRepository) *TicketsHandler {
	return &TicketsHandler{engine: engine, history: history}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if _, err := domain.PolicyFor(req.TicketType); err != nil {
		return err
	}
	metadata, err := domain.DecodeMetadata(req.TicketType, req.Metadata)
	if err != nil {
		return err
	}

	ticket, err := h.engine.Create(c.UserContext(), actor, service.CreateTicketInput{
		TicketType:  req.TicketType,
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Metadata:    metadata,
	})
	if err != nil {
		return err
	}
	return h.respond(c.Status(http.StatusCreated), actor, ticket)
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	tickets, err := h.engine.List(c.UserContext(), actor, parseTicketQuery(c))
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for _, ticket := range tickets {
		items = append(items, h.ticketResponse(actor, ticket))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	ticket, err := h.engine.Get(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return h.respond(c, actor, ticket)
}

// ListHistory GET /tickets/:id/history.
func (h *TicketsHandler) ListHistory(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	if h.history == nil {
		return apperrors.NewNotFound("history", nil)
	}
	ticket, err := h.engine.Get(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	entries, err := h.history.ListByTicket(c.UserContext(), actor.OrgID, ticket.ID)
	if err != nil {
		return apperrors.NewUnavailable("history store", err)
	}
	return c.JSON(fiber.Map{"data": historyResponses(actor, entries)})
}

// UpdateStatus PATCH /tickets/:id/status.
func (h *TicketsHandler) UpdateStatus(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	expected, err := expectedVersion(c)
	if err != nil {
		return err
	}
	var req dto.UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Status == "" {
		return apperrors.NewValidationError("status required", nil)
	}
	ticket, err := h.engine.UpdateStatus(c.UserContext(), actor, c.Params("id"), req.Status, expected)
	if err != nil {
		return err
	}
	return h.respond(c, actor, ticket)
}

// Assign POST /tickets/:id/assign.
func (h *TicketsHandler) Assign(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.AssignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.engine.Assign(c.UserContext(), actor, c.Params("id"), req.AssigneeID)
	if err != nil {
		return err
	}
	return h.respond(c, actor, ticket)
}

// AddUpdate POST /tickets/:id/updates.
func (h *TicketsHandler) AddUpdate(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.AddUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.engine.AddUpdate(c.UserContext(), actor, c.Params("id"), req.Message, req.Internal)
	if err != nil {
		return err
	}
	return h.respond(c.Status(http.StatusCreated), actor, ticket)
}

// UpdateMetadata PATCH /tickets/:id/metadata.
func (h *TicketsHandler) UpdateMetadata(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	expected, err := expectedVersion(c)
	if err != nil {
		return err
	}
	var req dto.UpdateMetadataRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	current, err := h.engine.Get(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	metadata, err := domain.DecodeMetadata(current.TicketType, req.Metadata)
	if err != nil {
		return err
	}
	ticket, err := h.engine.UpdateMetadata(c.UserContext(), actor, current.ID, metadata, expected)
	if err != nil {
		return err
	}
	return h.respond(c, actor, ticket)
}

// UpdatePriority PATCH /tickets/:id/priority.
func (h *TicketsHandler) UpdatePriority(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	expected, err := expectedVersion(c)
	if err != nil {
		return err
	}
	var req dto.UpdatePriorityRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.engine.UpdatePriority(c.UserContext(), actor, c.Params("id"), req.Priority, expected)
	if err != nil {
		return err
	}
	return h.respond(c, actor, ticket)
}

// Approve POST /tickets/:id/approve.
func (h *TicketsHandler) Approve(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	expected, err := expectedVersion(c)
	if err != nil {
		return err
	}
	ticket, err := h.engine.Approve(c.UserContext(), actor, c.Params("id"), expected)
	if err != nil {
		return err
	}
	return h.respond(c, actor, ticket)
}

// Reject POST /tickets/:id/reject.
func (h *TicketsHandler) Reject(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	expected, err := expectedVersion(c)
	if err != nil {
		return err
	}
	var req dto.RejectRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.engine.Reject(c.UserContext(), actor, c.Params("id"), req.Reason, expected)
	if err != nil {
		return err
	}
	return h.respond(c, actor, ticket)
}

func requireActor(c *fiber.Ctx) (domain.Actor, error) {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		return domain.Actor{}, apperrors.NewUnauthorized("authentication required")
	}
	return actor, nil
}

// expectedVersion reads the If-Match header. Absent means last-writer-wins with retry.
func expectedVersion(c *fiber.Ctx) (int64, error) {
	raw := strings.TrimSpace(c.Get(fiber.HeaderIfMatch))
	if raw == "" || raw == "*" {
		return 0, nil
	}
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || version <= 0 {
		return 0, apperrors.NewValidationError("invalid If-Match header", map[string]any{"if_match": c.Get(fiber.HeaderIfMatch)})
	}
	return version, nil
}

func (h *TicketsHandler) respond(c *fiber.Ctx, actor domain.Actor, ticket *domain.Ticket) error {
	c.Set(fiber.HeaderETag, strconv.Quote(strconv.FormatInt(ticket.Version, 10)))
	return c.JSON(fiber.Map{"data": h.ticketResponse(actor, ticket)})
}

func parseTicketQuery(c *fiber.Ctx) service.ListTicketsInput {
	input := service.ListTicketsInput{}
	if typeStr := strings.TrimSpace(c.Query("type")); typeStr != "" {
		ticketType := domain.TicketType(typeStr)
		input.TicketType = &ticketType
	}
	if statusStr := c.Query("status"); statusStr != "" {
		for _, part := range strings.Split(statusStr, ",") {
			input.Statuses = append(input.Statuses, domain.TicketStatus(strings.TrimSpace(part)))
		}
	}
	if priorityStr := c.Query("priority"); priorityStr != "" {
		for _, part := range strings.Split(priorityStr, ",") {
			input.Priorities = append(input.Priorities, domain.TicketPriority(strings.TrimSpace(part)))
		}
	}
	if assignee := strings.TrimSpace(c.Query("assigned_to")); assignee != "" {
		input.AssignedTo = &assignee
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	input.Offset = (page - 1) * pageSize
	input.Limit = pageSize
	return input
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func (h *TicketsHandler) ticketResponse(actor domain.Actor, ticket *domain.Ticket) dto.TicketResponse {
	view := h.engine.SLAView(ticket)
	resp := dto.TicketResponse{
		ID:              ticket.ID,
		TicketType:      ticket.TicketType,
		Title:           ticket.Title,
		Description:     ticket.Description,
		Status:          ticket.Status,
		AllowedStatuses: h.engine.Targets(ticket),
		Priority:        ticket.Priority,
		Metadata:        ticket.Metadata,
		SLA: dto.SLAResponse{
			ResponseMinutes:      ticket.SLA.ResponseMinutes,
			ResolutionMinutes:    ticket.SLA.ResolutionMinutes,
			ResponseDeadline:     ticket.SLA.ResponseDeadline,
			ResolutionDeadline:   ticket.SLA.ResolutionDeadline,
			Breached:             view.Breached,
			BreachedAt:           ticket.SLA.BreachedAt,
			AtRiskNotifiedAt:     ticket.SLA.AtRiskNotifiedAt,
			CriticalNotifiedAt:   ticket.SLA.CriticalNotifiedAt,
			EscalatedAt:          ticket.SLA.EscalatedAt,
			PercentRemaining:     view.PercentRemaining,
			TimeRemainingSeconds: int64(view.TimeRemaining.Seconds()),
		},
		Approval:        dto.ApprovalResponse{Status: ticket.ApprovalStatus},
		AssignedTo:      ticket.AssignedTo,
		CreatedBy:       ticket.CreatedBy,
		FirstResponseAt: ticket.FirstResponseAt,
		ResolvedAt:      ticket.ResolvedAt,
		Version:         ticket.Version,
		CreatedAt:       ticket.CreatedAt,
		UpdatedAt:       ticket.UpdatedAt,
	}
	if ticket.Approval != nil {
		decidedAt := ticket.Approval.DecidedAt
		resp.Approval.DecidedBy = ticket.Approval.DecidedBy
		resp.Approval.DecidedAt = &decidedAt
		resp.Approval.Reason = ticket.Approval.Reason
	}
	// Requesters never see internal work notes.
	showInternal := actor.Role != domain.RoleUser
	for _, update := range ticket.Updates {
		if update.Internal && !showInternal {
			continue
		}
		resp.Updates = append(resp.Updates, dto.TicketUpdateResponse{
			ID:        update.ID,
			Message:   update.Message,
			Internal:  update.Internal,
			AuthorID:  update.AuthorID,
			CreatedAt: update.CreatedAt,
		})
	}
	return resp
}

func historyResponses(actor domain.Actor, entries []domain.TicketHistory) []dto.TicketHistoryResponse {
	resp := make([]dto.TicketHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		if actor.Role == domain.RoleUser && isInternalEntry(entry) {
			continue
		}
		resp = append(resp, dto.TicketHistoryResponse{
			ID:        entry.ID,
			EventType: entry.EventType,
			ActorID:   entry.ActorID,
			Payload:   entry.Payload,
			CreatedAt: entry.CreatedAt,
		})
	}
	return resp
}

// isInternalEntry reports whether entry records an internal work note.
func isInternalEntry(entry domain.TicketHistory) bool {
	if entry.EventType != string(events.EventTicketUpdateAdded) {
		return false
	}
	internal, _ := entry.Payload["internal"].(bool)
	return internal
}
