package rbac

type Role string
type Action string

const (
	RoleReader    Role = "reader"
	RolePublisher Role = "publisher"
)

const (
	ActionRead     Action = "read"
	ActionPublish  Action = "publish"
	ActionRollback Action = "rollback"
	ActionSchedule Action = "schedule"
)

func Can(role Role, action Action) bool {
	switch role {
	case RolePublisher:
		return action == ActionRead || action == ActionPublish || action == ActionRollback || action == ActionSchedule
	case RoleReader:
		return action == ActionRead
	default:
		return false
	}
}

// Mutating reports whether the action changes page state. Mutating requests
// must pass signature verification when signature headers are present.
func (a Action) Mutating() bool {
	return a == ActionPublish || a == ActionRollback || a == ActionSchedule
}
