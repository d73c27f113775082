package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pdca/api/internal/attachments"
	"pdca/api/internal/comments"
	"pdca/api/internal/export"
	"pdca/api/internal/rbac"
	"pdca/api/internal/search"
	"pdca/api/internal/store"
	"pdca/api/internal/workflow"
)

const dateLayout = "2006-01-02"

type CreateGoalInput struct {
	Title       string   `json:"title" validate:"required,max=200"`
	Description string   `json:"description" validate:"max=5000"`
	Department  string   `json:"department" validate:"required,max=100"`
	Team        string   `json:"team" validate:"max=100"`
	Priority    string   `json:"priority" validate:"omitempty,oneof=Low Medium High Critical"`
	Progress    int      `json:"progress" validate:"min=0,max=100"`
	OwnerID     string   `json:"owner_id" validate:"omitempty,max=64"`
	StartDate   string   `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	DueDate     string   `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	Assignees   []string `json:"assignees" validate:"omitempty,dive,required,max=64"`
}

// UpdateGoalInput is a partial update: nil fields are left unchanged. An
// empty date string clears the date.
type UpdateGoalInput struct {
	Title       *string   `json:"title" validate:"omitnil,min=1,max=200"`
	Description *string   `json:"description" validate:"omitnil,max=5000"`
	Department  *string   `json:"department" validate:"omitnil,min=1,max=100"`
	Team        *string   `json:"team" validate:"omitnil,max=100"`
	Priority    *string   `json:"priority" validate:"omitnil,oneof=Low Medium High Critical"`
	Progress    *int      `json:"progress" validate:"omitnil,min=0,max=100"`
	OwnerID     *string   `json:"owner_id" validate:"omitnil,min=1,max=64"`
	StartDate   *string   `json:"start_date"`
	DueDate     *string   `json:"due_date"`
	Assignees   *[]string `json:"assignees" validate:"omitnil,dive,required,max=64"`
}

type StatusChangeInput struct {
	Status string `json:"status" validate:"required"`
	Note   string `json:"note" validate:"max=1000"`
}

type CommentInput struct {
	Comment  string `json:"comment"`
	ParentID string `json:"parent_id"`
}

type GoalListQuery struct {
	Status     string
	Priority   string
	Department string
	OwnerID    string
	Query      string
}

// GoalView is a goal as returned to clients. Duration is set when a
// duration_limit rule covers the goal's current status.
type GoalView struct {
	store.Goal
	Duration *workflow.DurationState `json:"duration,omitempty"`
}

type GoalDetail struct {
	GoalView
	AllowedTransitions []workflow.Status `json:"allowed_transitions"`
	CanEdit            bool              `json:"can_edit"`
	CanDelete          bool              `json:"can_delete"`
}

type StatusChangeResult struct {
	Goal     GoalView               `json:"goal"`
	Change   store.GoalStatusChange `json:"change"`
	Warnings []string               `json:"warnings"`
}

func (s *Service) ListGoals(ctx context.Context, session Session, q GoalListQuery, page store.Page) (store.Paged[GoalView], error) {
	subject, err := s.subject(ctx, session)
	if err != nil {
		return store.Paged[GoalView]{}, err
	}
	goals, err := s.store.ListGoals(ctx, store.GoalFilter{
		Scope:      goalScope(subject),
		Status:     q.Status,
		Priority:   q.Priority,
		Department: q.Department,
		OwnerID:    q.OwnerID,
		Query:      q.Query,
	}, page)
	if err != nil {
		return store.Paged[GoalView]{}, err
	}
	views, err := s.goalViews(ctx, goals.Items)
	if err != nil {
		return store.Paged[GoalView]{}, err
	}
	return store.Paged[GoalView]{
		Items:      views,
		Total:      goals.Total,
		Page:       goals.Page,
		PageSize:   goals.PageSize,
		TotalPages: goals.TotalPages,
	}, nil
}

func (s *Service) goalViews(ctx context.Context, goals []store.Goal) ([]GoalView, error) {
	rules, err := s.store.ListWorkflowRules(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list workflow rules: %w", err)
	}
	now := s.now()
	views := make([]GoalView, 0, len(goals))
	for _, goal := range goals {
		views = append(views, GoalView{
			Goal:     goal,
			Duration: workflow.DurationFor(rules, workflow.Status(goal.Status), goal.StatusChangedAt, now),
		})
	}
	return views, nil
}

func (s *Service) GetGoal(ctx context.Context, session Session, goalID string) (GoalDetail, error) {
	goal, subject, err := s.authorizeGoal(ctx, session, goalID, rbac.ActionRead)
	if err != nil {
		return GoalDetail{}, err
	}
	views, err := s.goalViews(ctx, []store.Goal{goal})
	if err != nil {
		return GoalDetail{}, err
	}

	detail := GoalDetail{
		GoalView:           views[0],
		AllowedTransitions: []workflow.Status{},
		CanEdit:            rbac.Allow(subject, rbac.ActionWrite, goalResource(goal)),
		CanDelete:          rbac.Allow(subject, rbac.ActionDelete, goalResource(goal)),
	}
	if detail.CanEdit {
		cfg := s.activeConfiguration(ctx)
		detail.AllowedTransitions = workflow.AllowedNextStatuses(cfg, workflow.Status(goal.Status), subject.Role)
	}
	return detail, nil
}

func (s *Service) CreateGoal(ctx context.Context, session Session, in CreateGoalInput) (store.Goal, error) {
	subject, err := s.subject(ctx, session)
	if err != nil {
		return store.Goal{}, err
	}
	department := strings.TrimSpace(in.Department)
	if !subject.Reaches(department) {
		return store.Goal{}, errForbidden
	}

	startDate, err := parseDate("start_date", in.StartDate)
	if err != nil {
		return store.Goal{}, err
	}
	dueDate, err := parseDate("due_date", in.DueDate)
	if err != nil {
		return store.Goal{}, err
	}
	if err := checkDateOrder(startDate, dueDate); err != nil {
		return store.Goal{}, err
	}

	ownerID := strings.TrimSpace(in.OwnerID)
	if ownerID == "" {
		ownerID = session.UserID
	}
	assignees := uniqueIDs(in.Assignees)
	if err := s.requireUsers(ctx, append([]string{ownerID}, assignees...)); err != nil {
		return store.Goal{}, err
	}

	priority := in.Priority
	if priority == "" {
		priority = "Medium"
	}

	goal, err := s.store.CreateGoal(ctx, store.Goal{
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Department:  department,
		Team:        strings.TrimSpace(in.Team),
		Status:      string(workflow.StatusPlan),
		Priority:    priority,
		Progress:    in.Progress,
		OwnerID:     ownerID,
		CreatedBy:   session.UserID,
		StartDate:   startDate,
		DueDate:     dueDate,
		Assignees:   assignees,
	})
	if err != nil {
		return store.Goal{}, err
	}

	if err := s.notify.GoalAssigned(ctx, goal, session.UserID, append([]string{goal.OwnerID}, goal.Assignees...)); err != nil {
		s.log.Warn("notify goal assigned", "goal_id", goal.ID, "error", err)
	}
	s.search.IndexGoal(goal)
	s.analyzer.Schedule(goal.ID)
	return goal, nil
}

func (s *Service) UpdateGoal(ctx context.Context, session Session, goalID string, in UpdateGoalInput) (store.Goal, error) {
	goal, subject, err := s.authorizeGoal(ctx, session, goalID, rbac.ActionWrite)
	if err != nil {
		return store.Goal{}, err
	}
	before := goal

	if in.Title != nil {
		goal.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		goal.Description = strings.TrimSpace(*in.Description)
	}
	if in.Department != nil {
		department := strings.TrimSpace(*in.Department)
		if !strings.EqualFold(department, goal.Department) && !subject.Reaches(department) {
			return store.Goal{}, errForbidden
		}
		goal.Department = department
	}
	if in.Team != nil {
		goal.Team = strings.TrimSpace(*in.Team)
	}
	if in.Priority != nil {
		goal.Priority = *in.Priority
	}
	if in.Progress != nil {
		goal.Progress = *in.Progress
	}
	if in.OwnerID != nil {
		goal.OwnerID = strings.TrimSpace(*in.OwnerID)
	}
	if in.StartDate != nil {
		if goal.StartDate, err = parseDate("start_date", *in.StartDate); err != nil {
			return store.Goal{}, err
		}
	}
	if in.DueDate != nil {
		if goal.DueDate, err = parseDate("due_date", *in.DueDate); err != nil {
			return store.Goal{}, err
		}
	}
	if err := checkDateOrder(goal.StartDate, goal.DueDate); err != nil {
		return store.Goal{}, err
	}

	// A nil Assignees slice tells the store to keep the current rows.
	goal.Assignees = nil
	if in.Assignees != nil {
		goal.Assignees = uniqueIDs(*in.Assignees)
	}
	if err := s.requireUsers(ctx, append([]string{goal.OwnerID}, goal.Assignees...)); err != nil {
		return store.Goal{}, err
	}

	updated, err := s.store.UpdateGoal(ctx, goal)
	if err != nil {
		return store.Goal{}, err
	}

	added := newIDs(append([]string{before.OwnerID}, before.Assignees...), append([]string{updated.OwnerID}, updated.Assignees...))
	if len(added) > 0 {
		if err := s.notify.GoalAssigned(ctx, updated, session.UserID, added); err != nil {
			s.log.Warn("notify goal assigned", "goal_id", updated.ID, "error", err)
		}
	}
	s.search.IndexGoal(updated)
	return updated, nil
}

// DeleteGoal removes the goal, its rows, and its attachment objects.
func (s *Service) DeleteGoal(ctx context.Context, session Session, goalID string) error {
	goal, _, err := s.authorizeGoal(ctx, session, goalID, rbac.ActionDelete)
	if err != nil {
		return err
	}

	items, err := s.attachments.List(ctx, goal.ID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := s.attachments.Delete(ctx, item); err != nil {
			return err
		}
	}
	if err := s.store.DeleteGoal(ctx, goal.ID); err != nil {
		return err
	}
	s.search.DeleteGoal(goal.ID)
	return nil
}

// ChangeStatus moves a goal to a new status. The move must be listed by the
// active configuration for the caller's role and pass the active rules.
func (s *Service) ChangeStatus(ctx context.Context, session Session, goalID string, in StatusChangeInput) (StatusChangeResult, error) {
	goal, subject, err := s.authorizeGoal(ctx, session, goalID, rbac.ActionWrite)
	if err != nil {
		return StatusChangeResult{}, err
	}
	to, ok := workflow.ParseStatus(in.Status)
	if !ok {
		return StatusChangeResult{}, validationError("Unknown status", map[string]string{"status": in.Status})
	}
	from := workflow.Status(goal.Status)

	cfg := s.activeConfiguration(ctx)
	if !workflow.IsTransitionAllowed(cfg, from, to, subject.Role) {
		return StatusChangeResult{}, domainError(http.StatusUnprocessableEntity, "INVALID_TRANSITION",
			fmt.Sprintf("Cannot move goal from %s to %s", from, to),
			map[string]any{"from": from, "to": to, "allowed": workflow.AllowedNextStatuses(cfg, from, subject.Role)})
	}

	rules, err := s.store.ListWorkflowRules(ctx, true)
	if err != nil {
		return StatusChangeResult{}, fmt.Errorf("list workflow rules: %w", err)
	}
	evaluation := workflow.Evaluate(rules, snapshotOf(goal), from, to, s.now())
	if !evaluation.Allowed() {
		return StatusChangeResult{}, domainError(http.StatusUnprocessableEntity, "RULE_VIOLATION",
			"Workflow rules block this transition",
			map[string]any{"violations": evaluation.Violations, "warnings": evaluation.Warnings})
	}

	change, err := s.store.ChangeGoalStatus(ctx, goal.ID, string(from), string(to), session.UserID, strings.TrimSpace(in.Note))
	if err != nil {
		return StatusChangeResult{}, err
	}
	updated, err := s.store.GetGoal(ctx, goal.ID)
	if err != nil {
		return StatusChangeResult{}, err
	}

	policy := workflow.NotificationPolicy(rules, from)
	if err := s.notify.StatusChanged(ctx, updated, from, to, session.UserID, policy); err != nil {
		s.log.Warn("notify status change", "goal_id", updated.ID, "error", err)
	}
	s.search.IndexGoal(updated)
	s.analyzer.Schedule(updated.ID)

	warnings := evaluation.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return StatusChangeResult{
		Goal: GoalView{
			Goal:     updated,
			Duration: workflow.DurationFor(rules, to, updated.StatusChangedAt, s.now()),
		},
		Change:   change,
		Warnings: warnings,
	}, nil
}

func (s *Service) GoalHistory(ctx context.Context, session Session, goalID string) ([]store.GoalStatusChange, error) {
	if _, _, err := s.authorizeGoal(ctx, session, goalID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.store.ListGoalStatusHistory(ctx, goalID)
}

func (s *Service) ListGoalComments(ctx context.Context, session Session, goalID string) ([]*comments.Thread, error) {
	if _, _, err := s.authorizeGoal(ctx, session, goalID, rbac.ActionRead); err != nil {
		return nil, err
	}
	items, err := s.store.ListComments(ctx, goalID)
	if err != nil {
		return nil, err
	}
	return comments.BuildCommentThreads(items), nil
}

func (s *Service) AddComment(ctx context.Context, session Session, goalID string, in CommentInput) (comments.Parsed, error) {
	goal, _, err := s.authorizeGoal(ctx, session, goalID, rbac.ActionComment)
	if err != nil {
		return comments.Parsed{}, err
	}
	if check := comments.ValidateCommentText(in.Comment); !check.Valid {
		return comments.Parsed{}, validationError(check.Error, map[string]string{"comment": check.Error})
	}

	parentID := strings.TrimSpace(in.ParentID)
	parentAuthor := ""
	if parentID != "" {
		parent, err := s.store.GetComment(ctx, goal.ID, parentID)
		if errors.Is(err, sql.ErrNoRows) {
			return comments.Parsed{}, validationError("Unknown parent comment", map[string]string{"parent_id": "no such comment on this goal"})
		}
		if err != nil {
			return comments.Parsed{}, err
		}
		parentAuthor = parent.UserID
	}

	created, err := s.store.InsertComment(ctx, comments.Comment{
		GoalID:   goal.ID,
		UserID:   session.UserID,
		Comment:  comments.FormatCommentForStorage(in.Comment, parentID),
		ParentID: parentID,
	})
	if err != nil {
		return comments.Parsed{}, err
	}
	if created.AuthorName == "" {
		created.AuthorName = session.FullName
	}

	if err := s.notify.CommentAdded(ctx, goal, session.UserID, session.FullName, parentAuthor); err != nil {
		s.log.Warn("notify comment", "goal_id", goal.ID, "error", err)
	}
	s.search.IndexComment(goal, created)
	return comments.ParseComment(created), nil
}

// DeleteComment removes a comment and every reply below it. Authors may
// delete their own comments; Heads and Admins may delete any comment on goals
// they can delete.
func (s *Service) DeleteComment(ctx context.Context, session Session, goalID, commentID string) (int64, error) {
	goal, subject, err := s.authorizeGoal(ctx, session, goalID, rbac.ActionRead)
	if err != nil {
		return 0, err
	}
	items, err := s.store.ListComments(ctx, goal.ID)
	if err != nil {
		return 0, err
	}

	var target *comments.Comment
	for i := range items {
		if items[i].ID == commentID {
			target = &items[i]
			break
		}
	}
	if target == nil {
		return 0, domainError(http.StatusNotFound, "NOT_FOUND", "Comment not found", nil)
	}

	moderator := subject.Role != rbac.RoleEmployee && rbac.Allow(subject, rbac.ActionDelete, goalResource(goal))
	if target.UserID != session.UserID && !moderator {
		return 0, errForbidden
	}

	ids := comments.GetThreadCommentIDs(items, commentID)
	deleted, err := s.store.DeleteComments(ctx, goal.ID, ids)
	if err != nil {
		return 0, err
	}
	s.search.DeleteComments(ids)
	return deleted, nil
}

func (s *Service) ListAttachments(ctx context.Context, session Session, goalID string) ([]store.Attachment, error) {
	if _, _, err := s.authorizeGoal(ctx, session, goalID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.attachments.List(ctx, goalID)
}

func (s *Service) UploadAttachment(ctx context.Context, session Session, goalID string, in attachments.Upload) (store.Attachment, error) {
	if _, _, err := s.authorizeGoal(ctx, session, goalID, rbac.ActionComment); err != nil {
		return store.Attachment{}, err
	}
	in.GoalID = goalID
	in.UserID = session.UserID
	return s.attachments.Upload(ctx, in)
}

// OpenAttachment returns the attachment row and its content. The caller
// closes the reader.
func (s *Service) OpenAttachment(ctx context.Context, session Session, id string) (store.Attachment, io.ReadCloser, error) {
	item, err := s.attachments.Get(ctx, id)
	if err != nil {
		return store.Attachment{}, nil, err
	}
	if _, _, err := s.authorizeGoal(ctx, session, item.GoalID, rbac.ActionRead); err != nil {
		return store.Attachment{}, nil, err
	}
	body, err := s.attachments.Open(ctx, item)
	if err != nil {
		return store.Attachment{}, nil, err
	}
	return item, body, nil
}

// DeleteAttachment is allowed for the uploader, the goal owner, and Heads or
// Admins reaching the goal.
func (s *Service) DeleteAttachment(ctx context.Context, session Session, id string) error {
	item, err := s.attachments.Get(ctx, id)
	if err != nil {
		return err
	}
	goal, subject, err := s.authorizeGoal(ctx, session, item.GoalID, rbac.ActionRead)
	if err != nil {
		return err
	}
	moderator := subject.Role != rbac.RoleEmployee && rbac.Allow(subject, rbac.ActionDelete, goalResource(goal))
	if item.UserID != session.UserID && goal.OwnerID != session.UserID && !moderator {
		return errForbidden
	}
	return s.attachments.Delete(ctx, item)
}

func (s *Service) GoalAnalysis(ctx context.Context, session Session, goalID string) (store.GoalAnalysis, error) {
	if _, _, err := s.authorizeGoal(ctx, session, goalID, rbac.ActionRead); err != nil {
		return store.GoalAnalysis{}, err
	}
	return s.store.GetGoalAnalysis(ctx, goalID)
}

func (s *Service) RegenerateAnalysis(ctx context.Context, session Session, goalID string) (store.GoalAnalysis, error) {
	if _, _, err := s.authorizeGoal(ctx, session, goalID, rbac.ActionWrite); err != nil {
		return store.GoalAnalysis{}, err
	}
	return s.analyzer.Analyze(ctx, goalID)
}

func (s *Service) GoalReport(ctx context.Context, session Session, goalID string) (*export.Result, error) {
	if _, _, err := s.authorizeGoal(ctx, session, goalID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.reports.GoalReport(ctx, goalID)
}

func (s *Service) Search(ctx context.Context, session Session, text string, filterType search.ResultType, limit, offset int) (search.Response, error) {
	subject, err := s.subject(ctx, session)
	if err != nil {
		return search.Response{}, err
	}
	scope := goalScope(subject)
	return s.search.Search(ctx, search.Query{
		Text:       text,
		FilterType: filterType,
		Scope:      search.Scope{All: scope.All, Departments: scope.Departments, UserID: scope.UserID},
		Limit:      limit,
		Offset:     offset,
	}), nil
}

func (s *Service) requireUsers(ctx context.Context, ids []string) error {
	ids = uniqueIDs(ids)
	found, err := s.store.GetUsersByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return validationError("Unknown users", map[string]any{"users": missing})
	}
	return nil
}

func snapshotOf(goal store.Goal) workflow.Snapshot {
	return workflow.Snapshot{
		Title:           goal.Title,
		Description:     goal.Description,
		Department:      goal.Department,
		Team:            goal.Team,
		OwnerID:         goal.OwnerID,
		Priority:        goal.Priority,
		Progress:        goal.Progress,
		StartDate:       goal.StartDate,
		DueDate:         goal.DueDate,
		Assignees:       goal.Assignees,
		StatusChangedAt: goal.StatusChangedAt,
	}
}

func parseDate(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, validationError("Invalid date", map[string]string{field: "must be YYYY-MM-DD"})
	}
	return &parsed, nil
}

func checkDateOrder(start, due *time.Time) error {
	if start != nil && due != nil && due.Before(*start) {
		return validationError("Invalid dates", map[string]string{"due_date": "must not be before start_date"})
	}
	return nil
}

func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
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

// newIDs returns the ids in after that are not in before.
func newIDs(before, after []string) []string {
	known := make(map[string]struct{}, len(before))
	for _, id := range before {
		known[id] = struct{}{}
	}
	var out []string
	for _, id := range uniqueIDs(after) {
		if _, ok := known[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
