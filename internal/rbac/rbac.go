package rbac

import "strings"

type Role string
type Action string

const (
	RoleEmployee Role = "Employee"
	RoleHead     Role = "Head"
	RoleAdmin    Role = "Admin"
)

const (
	ActionRead              Action = "read"
	ActionComment           Action = "comment"
	ActionWrite             Action = "write"
	ActionDelete            Action = "delete"
	ActionListUsers         Action = "list_users"
	ActionManageUsers       Action = "manage_users"
	ActionManageDepartments Action = "manage_departments"
	ActionManageWorkflow    Action = "manage_workflow"
	ActionManageAI          Action = "manage_ai"
	ActionExport            Action = "export"
	ActionImport            Action = "import"
)

// Roles lists every role in ascending privilege.
var Roles = []Role{RoleEmployee, RoleHead, RoleAdmin}

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleHead:
		return action == ActionRead || action == ActionComment || action == ActionWrite ||
			action == ActionDelete || action == ActionListUsers
	case RoleEmployee:
		return action == ActionRead || action == ActionComment || action == ActionWrite || action == ActionDelete
	default:
		return false
	}
}

func Normalize(role string) Role {
	for _, known := range Roles {
		if strings.EqualFold(strings.TrimSpace(role), string(known)) {
			return known
		}
	}
	return RoleEmployee
}

func Valid(role string) bool {
	for _, known := range Roles {
		if role == string(known) {
			return true
		}
	}
	return false
}

// Subject is the caller a goal-scoped decision is made for. Departments holds
// the home department plus any granted department permissions.
type Subject struct {
	ID          string
	Role        Role
	Departments []string
}

// Resource describes the goal an action targets.
type Resource struct {
	Department string
	OwnerID    string
	CreatedBy  string
	Assignees  []string
}

// Allow is the single goal-scoped access decision. Admins reach everything,
// Heads reach their departments, and Employees reach their departments for
// reading but need to be involved in a goal to change it.
func Allow(subject Subject, action Action, resource Resource) bool {
	if subject.ID == "" || !Can(subject.Role, action) {
		return false
	}
	if subject.Role == RoleAdmin {
		return true
	}

	reachable := subject.Reaches(resource.Department)
	involved := subject.involvedIn(resource)

	switch subject.Role {
	case RoleHead:
		if reachable {
			return true
		}
		return involved && action != ActionDelete
	case RoleEmployee:
		switch action {
		case ActionRead, ActionComment:
			return reachable || involved
		case ActionWrite:
			return involved
		case ActionDelete:
			return resource.CreatedBy != "" && resource.CreatedBy == subject.ID
		}
	}
	return false
}

func (s Subject) Reaches(department string) bool {
	if s.Role == RoleAdmin {
		return true
	}
	department = strings.TrimSpace(department)
	if department == "" {
		return false
	}
	for _, candidate := range s.Departments {
		if strings.EqualFold(strings.TrimSpace(candidate), department) {
			return true
		}
	}
	return false
}

func (s Subject) involvedIn(resource Resource) bool {
	if resource.OwnerID == s.ID || resource.CreatedBy == s.ID {
		return true
	}
	for _, assignee := range resource.Assignees {
		if assignee == s.ID {
			return true
		}
	}
	return false
}
