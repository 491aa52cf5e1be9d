package domain

import (
	apperrors "github.com/spec-kit/itsm-workflow/pkg/util"
)

// priorityMatrix is the ITIL impact (rows) by urgency (columns) table.
var priorityMatrix = map[Level]map[Level]TicketPriority{
	LevelLow: {
		LevelLow:    PriorityLow,
		LevelMedium: PriorityLow,
		LevelHigh:   PriorityMedium,
	},
	LevelMedium: {
		LevelLow:    PriorityLow,
		LevelMedium: PriorityMedium,
		LevelHigh:   PriorityHigh,
	},
	LevelHigh: {
		LevelLow:    PriorityMedium,
		LevelMedium: PriorityHigh,
		LevelHigh:   PriorityCritical,
	},
}

// DerivePriority maps impact and urgency to a priority. It is pure.
func DerivePriority(impact, urgency Level) (TicketPriority, error) {
	row, ok := priorityMatrix[impact]
	if !ok {
		return "", apperrors.NewValidationError("invalid impact", map[string]any{"impact": impact})
	}
	p, ok := row[urgency]
	if !ok {
		return "", apperrors.NewValidationError("invalid urgency", map[string]any{"urgency": urgency})
	}
	return p, nil
}
