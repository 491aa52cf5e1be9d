package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/itsm-workflow/internal/domain"
	apperrors "github.com/spec-kit/itsm-workflow/pkg/util"
)

// Wildcard grants every capability.
const Wildcard = "*"

var capabilityFamilies = []string{"tickets", "incidents", "problems", "changes", "service_requests"}

// DefaultCapabilities is the capability set of a role whose token carries none.
func DefaultCapabilities(role domain.Role) []string {
	switch role {
	case domain.RoleAdmin:
		return []string{Wildcard}
	case domain.RoleTechnician:
		return familyCapabilities("view.all", "edit.all", "create", "assign")
	case domain.RoleUser:
		return familyCapabilities("view.own", "edit.own", "create")
	default:
		return nil
	}
}

func familyCapabilities(actions ...string) []string {
	out := make([]string, 0, len(capabilityFamilies)*len(actions))
	for _, family := range capabilityFamilies {
		for _, action := range actions {
			out = append(out, family+"."+action)
		}
	}
	return out
}

// RequireActor ensures the caller is authenticated.
func RequireActor() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := ActorFromContext(c); !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		return c.Next()
	}
}
