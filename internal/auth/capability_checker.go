package auth

import (
	"context"
	"strings"

	"github.com/spec-kit/itsm-workflow/internal/domain"
)

// CapabilityChecker answers permission questions from the actor's capability snapshot.
// A snapshot never grants anything outside the actor's own organization.
type CapabilityChecker struct{}

// NewCapabilityChecker returns the checker.
func NewCapabilityChecker() CapabilityChecker {
	return CapabilityChecker{}
}

func (CapabilityChecker) HasPermission(_ context.Context, actor domain.Actor, orgID, capability string) (bool, error) {
	if actor.OrgID == "" || actor.OrgID != orgID {
		return false, nil
	}
	granted := actor.Capabilities
	if len(granted) == 0 {
		granted = DefaultCapabilities(actor.Role)
	}
	for _, g := range granted {
		if grants(g, capability) {
			return true, nil
		}
	}
	return false, nil
}

func (c CapabilityChecker) HasAnyPermission(ctx context.Context, actor domain.Actor, orgID string, capabilities []string) (bool, error) {
	for _, capability := range capabilities {
		ok, err := c.HasPermission(ctx, actor, orgID, capability)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// grants matches exact keys, the global wildcard and family wildcards such as "changes.*".
func grants(granted, capability string) bool {
	if granted == Wildcard || granted == capability {
		return true
	}
	if prefix, ok := strings.CutSuffix(granted, ".*"); ok {
		return strings.HasPrefix(capability, prefix+".")
	}
	return false
}
