package domain

// Role is the coarse tenant role of a user.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleTechnician Role = "technician"
	RoleUser       Role = "user"
)

// CanBeAssignee reports whether users with this role may own tickets.
func (r Role) CanBeAssignee() bool {
	return r == RoleAdmin || r == RoleTechnician
}

// Actor is the caller of an engine operation together with its permission snapshot.
type Actor struct {
	UserID       string
	OrgID        string
	Role         Role
	Capabilities []string
}

// SystemActorID identifies mutations made by background jobs.
const SystemActorID = "system"

// SystemActor returns the identity used by the SLA sweep.
func SystemActor(orgID string) Actor {
	return Actor{UserID: SystemActorID, OrgID: orgID, Role: RoleAdmin}
}

// UserRef is the identity collaborator's view of a user.
type UserRef struct {
	ID       string
	OrgID    string
	Role     Role
	IsActive bool
}
