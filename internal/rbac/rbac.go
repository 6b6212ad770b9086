package rbac

type Role string
type Action string

const (
	RoleViewer  Role = "viewer"
	RoleIndexer Role = "indexer"
	RoleEditor  Role = "editor"
	RoleAdmin   Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionReserve Action = "reserve"
	ActionApprove Action = "approve"
	ActionMentor  Action = "mentor"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionReserve || action == ActionApprove || action == ActionMentor
	case RoleIndexer:
		return action == ActionRead || action == ActionReserve
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleIndexer, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
