package search

import (
	"strings"

	"pdca/api/internal/comments"
	"pdca/api/internal/store"
)

// GoalRecordFrom builds the indexed form of goal.
func GoalRecordFrom(goal store.Goal) GoalRecord {
	return GoalRecord{
		ID:            goal.ID,
		Title:         goal.Title,
		Description:   goal.Description,
		Department:    goal.Department,
		DepartmentKey: departmentKey(goal.Department),
		Status:        goal.Status,
		Priority:      goal.Priority,
		Participants:  participants(goal),
	}
}

// CommentRecordFrom builds the indexed form of a comment on goal. Reply
// markers are stripped from the indexed text.
func CommentRecordFrom(goal store.Goal, comment comments.Comment) CommentRecord {
	return CommentRecord{
		ID:            comment.ID,
		GoalID:        goal.ID,
		GoalTitle:     goal.Title,
		Text:          comments.ParseComment(comment).Text,
		Department:    goal.Department,
		DepartmentKey: departmentKey(goal.Department),
		Participants:  participants(goal),
	}
}

func participants(goal store.Goal) []string {
	out := make([]string, 0, len(goal.Assignees)+2)
	seen := map[string]struct{}{}
	for _, id := range append([]string{goal.OwnerID, goal.CreatedBy}, goal.Assignees...) {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func departmentKey(department string) string {
	return strings.ToLower(strings.TrimSpace(department))
}

func departmentKeys(departments []string) []string {
	out := make([]string, 0, len(departments))
	for _, department := range departments {
		if key := departmentKey(department); key != "" {
			out = append(out, key)
		}
	}
	return out
}
