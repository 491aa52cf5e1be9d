package domain

import (
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/spec-kit/itsm-workflow/pkg/util"
)

// Level is the low/medium/high scale used for impact, urgency and change risk.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// IsValid reports whether l is one of the three scale values.
func (l Level) IsValid() bool {
	return l == LevelLow || l == LevelMedium || l == LevelHigh
}

// Metadata is the closed set of type-specific ticket fields. The concrete value must
// match the ticket type; the unexported method keeps the set sealed to this package.
type Metadata interface {
	TicketType() TicketType
	Validate() error
	clone() Metadata
}

// TicketMetadata belongs to generic tickets.
type TicketMetadata struct {
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

func (TicketMetadata) TicketType() TicketType { return TicketTypeTicket }

func (m TicketMetadata) Validate() error { return nil }

func (m TicketMetadata) clone() Metadata {
	m.Tags = append([]string(nil), m.Tags...)
	return m
}

// IncidentMetadata drives priority derivation for incidents.
type IncidentMetadata struct {
	Impact           Level    `json:"impact"`
	Urgency          Level    `json:"urgency"`
	AffectedServices []string `json:"affected_services,omitempty"`
}

func (IncidentMetadata) TicketType() TicketType { return TicketTypeIncident }

func (m IncidentMetadata) Validate() error {
	return validateImpactUrgency(m.Impact, m.Urgency)
}

func (m IncidentMetadata) clone() Metadata {
	m.AffectedServices = append([]string(nil), m.AffectedServices...)
	return m
}

// ProblemMetadata carries root-cause analysis fields.
type ProblemMetadata struct {
	Impact           Level    `json:"impact"`
	Urgency          Level    `json:"urgency"`
	RootCause        string   `json:"root_cause,omitempty"`
	Workaround       string   `json:"workaround,omitempty"`
	RelatedIncidents []string `json:"related_incidents,omitempty"`
}

func (ProblemMetadata) TicketType() TicketType { return TicketTypeProblem }

func (m ProblemMetadata) Validate() error {
	return validateImpactUrgency(m.Impact, m.Urgency)
}

func (m ProblemMetadata) clone() Metadata {
	m.RelatedIncidents = append([]string(nil), m.RelatedIncidents...)
	return m
}

// ChangeMetadata describes a planned change.
type ChangeMetadata struct {
	Risk               Level      `json:"risk"`
	BackoutPlan        string     `json:"backout_plan"`
	TestPlan           string     `json:"test_plan"`
	ImplementationPlan string     `json:"implementation_plan,omitempty"`
	ScheduledStart     *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd       *time.Time `json:"scheduled_end,omitempty"`
}

func (ChangeMetadata) TicketType() TicketType { return TicketTypeChange }

func (m ChangeMetadata) Validate() error {
	missing := []string{}
	if !m.Risk.IsValid() {
		missing = append(missing, "risk")
	}
	if strings.TrimSpace(m.BackoutPlan) == "" {
		missing = append(missing, "backout_plan")
	}
	if strings.TrimSpace(m.TestPlan) == "" {
		missing = append(missing, "test_plan")
	}
	if len(missing) > 0 {
		return apperrors.NewValidationError("change metadata incomplete", map[string]any{"fields": missing})
	}
	if m.ScheduledStart != nil && m.ScheduledEnd != nil && m.ScheduledEnd.Before(*m.ScheduledStart) {
		return apperrors.NewValidationError("scheduled_end before scheduled_start", nil)
	}
	return nil
}

func (m ChangeMetadata) clone() Metadata {
	m.ScheduledStart = clonePtr(m.ScheduledStart)
	m.ScheduledEnd = clonePtr(m.ScheduledEnd)
	return m
}

// ServiceRequestMetadata holds the submitted catalog form.
type ServiceRequestMetadata struct {
	CatalogItemID string         `json:"catalog_item_id,omitempty"`
	FormData      map[string]any `json:"form_data"`
}

func (ServiceRequestMetadata) TicketType() TicketType { return TicketTypeServiceRequest }

func (m ServiceRequestMetadata) Validate() error {
	if m.FormData == nil {
		return apperrors.NewValidationError("service request metadata incomplete", map[string]any{"fields": []string{"form_data"}})
	}
	return nil
}

func (m ServiceRequestMetadata) clone() Metadata {
	if m.FormData != nil {
		data := make(map[string]any, len(m.FormData))
		for k, v := range m.FormData {
			data[k] = v
		}
		m.FormData = data
	}
	return m
}

func validateImpactUrgency(impact, urgency Level) error {
	missing := []string{}
	if !impact.IsValid() {
		missing = append(missing, "impact")
	}
	if !urgency.IsValid() {
		missing = append(missing, "urgency")
	}
	if len(missing) > 0 {
		return apperrors.NewValidationError("impact and urgency must be one of low, medium, high", map[string]any{"fields": missing})
	}
	return nil
}

// DecodeMetadata parses raw JSON into the variant selected by ticketType and validates it.
// Empty input decodes to the zero variant, which still has to pass validation.
func DecodeMetadata(ticketType TicketType, raw []byte) (Metadata, error) {
	var target Metadata
	switch ticketType {
	case TicketTypeTicket:
		var m TicketMetadata
		if err := unmarshalOptional(raw, &m); err != nil {
			return nil, err
		}
		target = m
	case TicketTypeIncident:
		var m IncidentMetadata
		if err := unmarshalOptional(raw, &m); err != nil {
			return nil, err
		}
		target = m
	case TicketTypeProblem:
		var m ProblemMetadata
		if err := unmarshalOptional(raw, &m); err != nil {
			return nil, err
		}
		target = m
	case TicketTypeChange:
		var m ChangeMetadata
		if err := unmarshalOptional(raw, &m); err != nil {
			return nil, err
		}
		target = m
	case TicketTypeServiceRequest:
		var m ServiceRequestMetadata
		if err := unmarshalOptional(raw, &m); err != nil {
			return nil, err
		}
		target = m
	default:
		return nil, apperrors.NewValidationError("unknown ticket type", map[string]any{"ticket_type": ticketType})
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	return target, nil
}

// EncodeMetadata serializes the variant for storage.
func EncodeMetadata(m Metadata) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func unmarshalOptional(raw []byte, target any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return apperrors.NewValidationError("malformed metadata", map[string]any{"reason": err.Error()})
	}
	return nil
}
