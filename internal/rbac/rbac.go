package rbac

type Role string
type Action string

const (
	RoleAdmin  Role = "ADMIN"
	RoleWorker Role = "WORKER"
)

const (
	ActionView  Action = "view"
	ActionEdit  Action = "edit"
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleWorker:
		return action == ActionView || action == ActionEdit
	default:
		return false
	}
}

// Valid reports whether role is one of the accepted member roles.
func Valid(role string) bool {
	switch Role(role) {
	case RoleAdmin, RoleWorker:
		return true
	default:
		return false
	}
}

// RoleOf resolves a user's effective role on a board. The owner carries an
// implicit ADMIN role and never has a member row; everyone else takes the
// role of their membership, if any. ok is false when the user has no access.
func RoleOf(ownerID, userID string, memberRoles map[string]Role) (Role, bool) {
	if userID == ownerID {
		return RoleAdmin, true
	}
	role, ok := memberRoles[userID]
	return role, ok
}
