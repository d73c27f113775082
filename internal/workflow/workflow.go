// Package workflow describes the PDCA status model: which status a goal may
// move to next, which roles may move it there, and the workflow rules that
// constrain leaving a phase.
package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"pdca/api/internal/rbac"
)

type Status string

const (
	StatusPlan      Status = "Plan"
	StatusDo        Status = "Do"
	StatusCheck     Status = "Check"
	StatusAct       Status = "Act"
	StatusOnHold    Status = "On Hold"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

// AnyStatus in a role permission list grants every target status.
const AnyStatus = "*"

// Statuses lists every known status in display order.
var Statuses = []Status{
	StatusPlan, StatusDo, StatusCheck, StatusAct, StatusOnHold, StatusCompleted, StatusCancelled,
}

// Phases are the four active PDCA phases.
var Phases = []Status{StatusPlan, StatusDo, StatusCheck, StatusAct}

var ErrNoActiveConfiguration = errors.New("no active workflow configuration")

type StatusMeta struct {
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

type Configuration struct {
	ID              string                `json:"id"`
	Name            string                `json:"name"`
	Description     string                `json:"description"`
	Version         int                   `json:"version"`
	Transitions     map[Status][]Status   `json:"transitions"`
	RolePermissions map[string][]string   `json:"role_permissions"`
	StatusMetadata  map[Status]StatusMeta `json:"status_metadata"`
	IsDefault       bool                  `json:"is_default"`
	IsActive        bool                  `json:"is_active"`
	CreatedBy       string                `json:"created_by,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// DefaultConfiguration is the built-in configuration used when no row is
// active.
func DefaultConfiguration() Configuration {
	return Configuration{
		Name:        "Default PDCA Workflow",
		Description: "Standard Plan-Do-Check-Act cycle",
		Version:     1,
		Transitions: map[Status][]Status{
			StatusPlan:      {StatusDo, StatusOnHold},
			StatusDo:        {StatusCheck, StatusOnHold},
			StatusCheck:     {StatusAct, StatusDo, StatusOnHold},
			StatusAct:       {StatusCompleted, StatusPlan, StatusOnHold},
			StatusOnHold:    {StatusPlan, StatusDo, StatusCheck, StatusAct},
			StatusCompleted: {},
			StatusCancelled: {},
		},
		RolePermissions: map[string][]string{
			string(rbac.RoleAdmin): {AnyStatus},
			string(rbac.RoleHead): {
				string(StatusPlan), string(StatusDo), string(StatusCheck), string(StatusAct),
				string(StatusOnHold), string(StatusCompleted),
			},
			string(rbac.RoleEmployee): {
				string(StatusPlan), string(StatusDo), string(StatusCheck), string(StatusAct),
			},
		},
		StatusMetadata: map[Status]StatusMeta{
			StatusPlan:      {Color: "blue", Icon: "clipboard-list"},
			StatusDo:        {Color: "yellow", Icon: "play"},
			StatusCheck:     {Color: "purple", Icon: "search"},
			StatusAct:       {Color: "orange", Icon: "refresh-cw"},
			StatusOnHold:    {Color: "gray", Icon: "pause"},
			StatusCompleted: {Color: "green", Icon: "check-circle"},
			StatusCancelled: {Color: "red", Icon: "x-circle"},
		},
		IsDefault: true,
		IsActive:  true,
	}
}

func ParseStatus(value string) (Status, bool) {
	trimmed := strings.TrimSpace(value)
	for _, status := range Statuses {
		if strings.EqualFold(trimmed, string(status)) {
			return status, true
		}
	}
	return "", false
}

func IsPhase(status Status) bool {
	for _, phase := range Phases {
		if phase == status {
			return true
		}
	}
	return false
}

// IsTransitionAllowed reports whether role may move a goal from one status to
// another under cfg. The target must be listed for the source status and the
// role's permission list must contain the target or AnyStatus.
func IsTransitionAllowed(cfg Configuration, from, to Status, role rbac.Role) bool {
	if !containsStatus(cfg.Transitions[from], to) {
		return false
	}
	return rolePermits(cfg, role, to)
}

// AllowedNextStatuses returns the targets role may move a goal in from to.
func AllowedNextStatuses(cfg Configuration, from Status, role rbac.Role) []Status {
	next := make([]Status, 0, len(cfg.Transitions[from]))
	for _, to := range cfg.Transitions[from] {
		if rolePermits(cfg, role, to) {
			next = append(next, to)
		}
	}
	return next
}

func rolePermits(cfg Configuration, role rbac.Role, to Status) bool {
	for _, permitted := range cfg.RolePermissions[string(role)] {
		if permitted == AnyStatus || permitted == string(to) {
			return true
		}
	}
	return false
}

func containsStatus(list []Status, target Status) bool {
	for _, status := range list {
		if status == target {
			return true
		}
	}
	return false
}

// ValidateConfiguration checks that every status and role named by cfg is
// known.
func ValidateConfiguration(cfg Configuration) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return errors.New("name is required")
	}
	if len(cfg.Transitions) == 0 {
		return errors.New("transitions are required")
	}

	for _, from := range sortedStatuses(cfg.Transitions) {
		if !knownExact(from) {
			return fmt.Errorf("unknown status %q in transitions", from)
		}
		for _, to := range cfg.Transitions[from] {
			if !knownExact(to) {
				return fmt.Errorf("unknown target status %q from %q", to, from)
			}
			if to == from {
				return fmt.Errorf("status %q cannot transition to itself", from)
			}
		}
	}

	for role, permitted := range cfg.RolePermissions {
		if !rbac.Valid(role) {
			return fmt.Errorf("unknown role %q in role permissions", role)
		}
		for _, entry := range permitted {
			if entry == AnyStatus {
				continue
			}
			if !knownExact(Status(entry)) {
				return fmt.Errorf("unknown status %q in permissions for %s", entry, role)
			}
		}
	}

	for status := range cfg.StatusMetadata {
		if !knownExact(status) {
			return fmt.Errorf("unknown status %q in status metadata", status)
		}
	}
	return nil
}

func knownExact(status Status) bool {
	return containsStatus(Statuses, status)
}

func sortedStatuses(transitions map[Status][]Status) []Status {
	keys := make([]Status, 0, len(transitions))
	for key := range transitions {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
