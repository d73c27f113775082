package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pdca/api/internal/analysis"
	"pdca/api/internal/export"
	"pdca/api/internal/gitrepo"
	"pdca/api/internal/rbac"
	"pdca/api/internal/store"
	"pdca/api/internal/workflow"
)

type DepartmentInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
}

type TeamInput struct {
	Name string `json:"name" validate:"required,max=100"`
}

type RoleInput struct {
	Role string `json:"role" validate:"required,oneof=Employee Head Admin"`
}

type StatusInput struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

type DepartmentsInput struct {
	Departments []string `json:"departments" validate:"dive,required,max=100"`
}

type ConfigurationInput struct {
	Name            string                                  `json:"name" validate:"required,max=100"`
	Description     string                                  `json:"description" validate:"max=1000"`
	Transitions     map[workflow.Status][]workflow.Status   `json:"transitions" validate:"required"`
	RolePermissions map[string][]string                     `json:"role_permissions" validate:"required"`
	StatusMetadata  map[workflow.Status]workflow.StatusMeta `json:"status_metadata"`
	Message         string                                  `json:"message" validate:"max=200"`
}

// RuleInput creates or replaces a workflow rule. A missing configuration
// takes the defaults of the rule type.
type RuleInput struct {
	Name          string            `json:"name" validate:"required,max=100"`
	Description   string            `json:"description" validate:"max=1000"`
	RuleType      workflow.RuleType `json:"rule_type" validate:"required"`
	Phase         string            `json:"phase"`
	Configuration json.RawMessage   `json:"configuration"`
	IsActive      *bool             `json:"is_active"`
}

type UserListQuery struct {
	Query      string
	Role       string
	Department string
}

type NotificationList struct {
	store.Paged[store.Notification]
	Unread int `json:"unread"`
}

// ConfigurationRevision is a committed configuration version together with
// the fields it changed relative to the revision before it.
type ConfigurationRevision struct {
	gitrepo.Revision
	Changes []gitrepo.FieldChange `json:"changes"`
}

// ActiveWorkflow is the active configuration as seen by one caller.
type ActiveWorkflow struct {
	Configuration      workflow.Configuration                `json:"configuration"`
	AllowedTransitions map[workflow.Status][]workflow.Status `json:"allowed_transitions"`
}

func (s *Service) requireAction(session Session, action rbac.Action) error {
	if !s.Can(session.Role, action) {
		return errForbidden
	}
	return nil
}

// ListUsers is available to Heads and Admins. Heads only see users of the
// departments they reach.
func (s *Service) ListUsers(ctx context.Context, session Session, q UserListQuery, page store.Page) (store.Paged[store.User], error) {
	if err := s.requireAction(session, rbac.ActionListUsers); err != nil {
		return store.Paged[store.User]{}, err
	}
	filter := store.UserFilter{
		Query:      strings.TrimSpace(q.Query),
		Role:       strings.TrimSpace(q.Role),
		Department: strings.TrimSpace(q.Department),
	}
	subject, err := s.subject(ctx, session)
	if err != nil {
		return store.Paged[store.User]{}, err
	}
	if subject.Role != rbac.RoleAdmin {
		filter.Departments = append([]string{}, subject.Departments...)
	}
	return s.store.ListUsers(ctx, filter, page)
}

func (s *Service) UpdateUserRole(ctx context.Context, session Session, userID string, in RoleInput) (store.User, error) {
	if err := s.requireAction(session, rbac.ActionManageUsers); err != nil {
		return store.User{}, err
	}
	if !rbac.Valid(in.Role) {
		return store.User{}, validationError("Invalid role", map[string]string{"role": in.Role})
	}
	if err := s.store.UpdateUserRole(ctx, userID, string(rbac.Normalize(in.Role))); err != nil {
		return store.User{}, err
	}
	return s.store.GetUserByID(ctx, userID)
}

func (s *Service) SetUserActive(ctx context.Context, session Session, userID string, active bool) (store.User, error) {
	if err := s.requireAction(session, rbac.ActionManageUsers); err != nil {
		return store.User{}, err
	}
	if userID == session.UserID && !active {
		return store.User{}, domainError(http.StatusUnprocessableEntity, "SELF_DEACTIVATION", "You cannot deactivate your own account", nil)
	}
	if err := s.store.SetUserActive(ctx, userID, active); err != nil {
		return store.User{}, err
	}
	return s.store.GetUserByID(ctx, userID)
}

func (s *Service) UserDepartments(ctx context.Context, session Session, userID string) ([]string, error) {
	if err := s.requireAction(session, rbac.ActionManageUsers); err != nil {
		return nil, err
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListUserDepartments(ctx, userID)
}

// ReplaceUserDepartments grants userID access to exactly the given
// departments. Every department must exist.
func (s *Service) ReplaceUserDepartments(ctx context.Context, session Session, userID string, in DepartmentsInput) ([]string, error) {
	if err := s.requireAction(session, rbac.ActionManageUsers); err != nil {
		return nil, err
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}

	known, err := s.store.ListDepartments(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(known))
	for _, department := range known {
		names[strings.ToLower(department.Name)] = department.Name
	}

	departments := make([]string, 0, len(in.Departments))
	seen := make(map[string]struct{}, len(in.Departments))
	var unknown []string
	for _, name := range in.Departments {
		canonical, ok := names[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		departments = append(departments, canonical)
	}
	if len(unknown) > 0 {
		return nil, validationError("Unknown departments", map[string]any{"departments": unknown})
	}

	if err := s.store.ReplaceUserDepartments(ctx, userID, departments); err != nil {
		return nil, err
	}
	return departments, nil
}

func (s *Service) ListDepartments(ctx context.Context, session Session) ([]store.Department, error) {
	return s.store.ListDepartments(ctx)
}

func (s *Service) CreateDepartment(ctx context.Context, session Session, in DepartmentInput) (store.Department, error) {
	if err := s.requireAction(session, rbac.ActionManageDepartments); err != nil {
		return store.Department{}, err
	}
	return s.store.CreateDepartment(ctx, strings.TrimSpace(in.Name), strings.TrimSpace(in.Description))
}

func (s *Service) UpdateDepartment(ctx context.Context, session Session, id string, in DepartmentInput) (store.Department, error) {
	if err := s.requireAction(session, rbac.ActionManageDepartments); err != nil {
		return store.Department{}, err
	}
	if err := s.store.UpdateDepartment(ctx, id, strings.TrimSpace(in.Name), strings.TrimSpace(in.Description)); err != nil {
		return store.Department{}, err
	}
	return s.store.GetDepartment(ctx, id)
}

func (s *Service) DeleteDepartment(ctx context.Context, session Session, id string) error {
	if err := s.requireAction(session, rbac.ActionManageDepartments); err != nil {
		return err
	}
	return s.store.DeleteDepartment(ctx, id)
}

func (s *Service) ListTeams(ctx context.Context, session Session, departmentID string) ([]store.Team, error) {
	if _, err := s.store.GetDepartment(ctx, departmentID); err != nil {
		return nil, err
	}
	return s.store.ListTeams(ctx, departmentID)
}

func (s *Service) CreateTeam(ctx context.Context, session Session, departmentID string, in TeamInput) (store.Team, error) {
	if err := s.requireAction(session, rbac.ActionManageDepartments); err != nil {
		return store.Team{}, err
	}
	if _, err := s.store.GetDepartment(ctx, departmentID); err != nil {
		return store.Team{}, err
	}
	return s.store.CreateTeam(ctx, departmentID, strings.TrimSpace(in.Name))
}

// ActiveWorkflow returns the active configuration and the moves the
// caller's role may make from each status.
func (s *Service) ActiveWorkflow(ctx context.Context, session Session) ActiveWorkflow {
	cfg := s.activeConfiguration(ctx)
	role := rbac.Normalize(session.Role)
	allowed := make(map[workflow.Status][]workflow.Status, len(workflow.Statuses))
	for _, status := range workflow.Statuses {
		allowed[status] = workflow.AllowedNextStatuses(cfg, status, role)
	}
	return ActiveWorkflow{Configuration: cfg, AllowedTransitions: allowed}
}

func (s *Service) ListConfigurations(ctx context.Context, session Session) ([]workflow.Configuration, error) {
	if err := s.requireAction(session, rbac.ActionManageWorkflow); err != nil {
		return nil, err
	}
	return s.store.ListWorkflowConfigurations(ctx)
}

func (s *Service) CreateConfiguration(ctx context.Context, session Session, in ConfigurationInput) (workflow.Configuration, error) {
	if err := s.requireAction(session, rbac.ActionManageWorkflow); err != nil {
		return workflow.Configuration{}, err
	}
	cfg := configurationFrom(in)
	cfg.CreatedBy = session.UserID
	if err := workflow.ValidateConfiguration(cfg); err != nil {
		return workflow.Configuration{}, validationError(err.Error(), nil)
	}
	created, err := s.store.InsertWorkflowConfiguration(ctx, cfg)
	if err != nil {
		return workflow.Configuration{}, err
	}
	s.recordConfiguration(created, session, in.Message)
	return created, nil
}

func (s *Service) UpdateConfiguration(ctx context.Context, session Session, id string, in ConfigurationInput) (workflow.Configuration, error) {
	if err := s.requireAction(session, rbac.ActionManageWorkflow); err != nil {
		return workflow.Configuration{}, err
	}
	cfg := configurationFrom(in)
	cfg.ID = id
	if err := workflow.ValidateConfiguration(cfg); err != nil {
		return workflow.Configuration{}, validationError(err.Error(), nil)
	}
	updated, err := s.store.UpdateWorkflowConfiguration(ctx, cfg)
	if err != nil {
		return workflow.Configuration{}, err
	}
	s.recordConfiguration(updated, session, in.Message)
	return updated, nil
}

// recordConfiguration commits the saved configuration to its history
// repository. History is best effort: the database row is authoritative.
func (s *Service) recordConfiguration(cfg workflow.Configuration, session Session, message string) {
	if s.history == nil {
		return
	}
	author := session.FullName
	if author == "" {
		author = session.Email
	}
	if _, err := s.history.CommitConfiguration(cfg, author, strings.TrimSpace(message)); err != nil {
		s.log.Warn("record workflow configuration history", "configuration_id", cfg.ID, "error", err)
	}
}

func (s *Service) ActivateConfiguration(ctx context.Context, session Session, id string) (workflow.Configuration, error) {
	if err := s.requireAction(session, rbac.ActionManageWorkflow); err != nil {
		return workflow.Configuration{}, err
	}
	if err := s.store.ActivateWorkflowConfiguration(ctx, id); err != nil {
		return workflow.Configuration{}, err
	}
	s.log.Info("workflow configuration activated", "configuration_id", id, "user_id", session.UserID)
	return s.store.GetWorkflowConfiguration(ctx, id)
}

// ConfigurationHistory lists the committed revisions of a configuration,
// newest first, each with the fields it changed.
func (s *Service) ConfigurationHistory(ctx context.Context, session Session, id string, limit int) ([]ConfigurationRevision, error) {
	if err := s.requireAction(session, rbac.ActionManageWorkflow); err != nil {
		return nil, err
	}
	if _, err := s.store.GetWorkflowConfiguration(ctx, id); err != nil {
		return nil, err
	}
	out := []ConfigurationRevision{}
	if s.history == nil {
		return out, nil
	}
	revisions, err := s.history.History(id, limit)
	if err != nil {
		return nil, fmt.Errorf("configuration history: %w", err)
	}

	snapshots := make([]gitrepo.Snapshot, len(revisions))
	for i, revision := range revisions {
		snapshot, err := s.history.SnapshotAt(id, revision.Hash)
		if err != nil {
			return nil, fmt.Errorf("configuration snapshot %s: %w", revision.Hash, err)
		}
		snapshots[i] = snapshot
	}
	for i, revision := range revisions {
		var previous gitrepo.Snapshot
		if i+1 < len(snapshots) {
			previous = snapshots[i+1]
		}
		changes := gitrepo.DiffFields(previous, snapshots[i])
		if changes == nil {
			changes = []gitrepo.FieldChange{}
		}
		out = append(out, ConfigurationRevision{Revision: revision, Changes: changes})
	}
	return out, nil
}

func configurationFrom(in ConfigurationInput) workflow.Configuration {
	metadata := in.StatusMetadata
	if metadata == nil {
		metadata = map[workflow.Status]workflow.StatusMeta{}
	}
	return workflow.Configuration{
		Name:            strings.TrimSpace(in.Name),
		Description:     strings.TrimSpace(in.Description),
		Transitions:     in.Transitions,
		RolePermissions: in.RolePermissions,
		StatusMetadata:  metadata,
	}
}

func (s *Service) ListRules(ctx context.Context, session Session) ([]workflow.Rule, error) {
	if err := s.requireAction(session, rbac.ActionManageWorkflow); err != nil {
		return nil, err
	}
	return s.store.ListWorkflowRules(ctx, false)
}

func (s *Service) CreateRule(ctx context.Context, session Session, in RuleInput) (workflow.Rule, error) {
	if err := s.requireAction(session, rbac.ActionManageWorkflow); err != nil {
		return workflow.Rule{}, err
	}
	rule, err := ruleFrom(in)
	if err != nil {
		return workflow.Rule{}, err
	}
	rule.CreatedBy = session.UserID
	return s.store.InsertWorkflowRule(ctx, rule)
}

func (s *Service) UpdateRule(ctx context.Context, session Session, id string, in RuleInput) (workflow.Rule, error) {
	if err := s.requireAction(session, rbac.ActionManageWorkflow); err != nil {
		return workflow.Rule{}, err
	}
	existing, err := s.store.GetWorkflowRule(ctx, id)
	if err != nil {
		return workflow.Rule{}, err
	}
	if in.IsActive == nil {
		in.IsActive = &existing.IsActive
	}
	rule, err := ruleFrom(in)
	if err != nil {
		return workflow.Rule{}, err
	}
	rule.ID = existing.ID
	rule.CreatedBy = existing.CreatedBy
	return s.store.UpdateWorkflowRule(ctx, rule)
}

func (s *Service) DeleteRule(ctx context.Context, session Session, id string) error {
	if err := s.requireAction(session, rbac.ActionManageWorkflow); err != nil {
		return err
	}
	return s.store.DeleteWorkflowRule(ctx, id)
}

func ruleFrom(in RuleInput) (workflow.Rule, error) {
	rule := workflow.Rule{
		Name:          strings.TrimSpace(in.Name),
		Description:   strings.TrimSpace(in.Description),
		RuleType:      in.RuleType,
		Phase:         strings.TrimSpace(in.Phase),
		Configuration: in.Configuration,
		IsActive:      true,
	}
	if in.IsActive != nil {
		rule.IsActive = *in.IsActive
	}
	if len(rule.Configuration) == 0 || string(rule.Configuration) == "null" {
		defaults, err := workflow.DefaultRuleConfiguration(rule.RuleType)
		if err != nil {
			return workflow.Rule{}, validationError(err.Error(), map[string]string{"rule_type": string(in.RuleType)})
		}
		rule.Configuration = defaults
	}
	if err := workflow.ValidateRule(rule); err != nil {
		return workflow.Rule{}, validationError(err.Error(), nil)
	}
	return rule, nil
}

func (s *Service) AIConfig(ctx context.Context, session Session) (analysis.Settings, error) {
	if err := s.requireAction(session, rbac.ActionManageAI); err != nil {
		return analysis.Settings{}, err
	}
	return s.aiConfig.Load(ctx)
}

func (s *Service) SaveAIConfig(ctx context.Context, session Session, settings analysis.Settings) (analysis.Settings, error) {
	if err := s.requireAction(session, rbac.ActionManageAI); err != nil {
		return analysis.Settings{}, err
	}
	if err := settings.Validate(); err != nil {
		return analysis.Settings{}, validationError(err.Error(), nil)
	}
	if err := s.aiConfig.Save(ctx, settings, session.UserID); err != nil {
		return analysis.Settings{}, err
	}
	return s.aiConfig.Load(ctx)
}

func (s *Service) GoalsWithAnalysis(ctx context.Context, session Session, page store.Page) (store.Paged[store.GoalWithAnalysis], error) {
	if err := s.requireAction(session, rbac.ActionManageAI); err != nil {
		return store.Paged[store.GoalWithAnalysis]{}, err
	}
	return s.store.ListGoalsWithAnalysis(ctx, page)
}

func (s *Service) ExportUsers(ctx context.Context, session Session) (*export.Result, error) {
	if err := s.requireAction(session, rbac.ActionExport); err != nil {
		return nil, err
	}
	users, err := s.store.AllUsers(ctx)
	if err != nil {
		return nil, err
	}
	return export.UsersWorkbook(users, s.now())
}

func (s *Service) ExportGoals(ctx context.Context, session Session) (*export.Result, error) {
	if err := s.requireAction(session, rbac.ActionExport); err != nil {
		return nil, err
	}
	goals, err := s.store.AllGoals(ctx)
	if err != nil {
		return nil, err
	}
	return export.GoalsWorkbook(goals, s.now())
}

func (s *Service) ImportUsers(ctx context.Context, session Session, r io.Reader) (export.ImportReport, error) {
	if err := s.requireAction(session, rbac.ActionImport); err != nil {
		return export.ImportReport{}, err
	}
	report, err := s.importer.ImportUsers(ctx, r)
	if err != nil {
		return export.ImportReport{}, err
	}
	s.log.Info("users imported", "inserted", len(report.Inserted), "skipped", len(report.Skipped), "user_id", session.UserID)
	return report, nil
}

func (s *Service) ListNotifications(ctx context.Context, session Session, unreadOnly bool, page store.Page) (NotificationList, error) {
	items, err := s.store.ListNotifications(ctx, store.NotificationFilter{UserID: session.UserID, UnreadOnly: unreadOnly}, page)
	if err != nil {
		return NotificationList{}, err
	}
	unread, err := s.store.CountUnreadNotifications(ctx, session.UserID)
	if err != nil {
		return NotificationList{}, err
	}
	return NotificationList{Paged: items, Unread: unread}, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, session Session, id string) error {
	return s.store.MarkNotificationRead(ctx, session.UserID, id)
}

func (s *Service) DeleteNotification(ctx context.Context, session Session, id string) error {
	return s.store.DeleteNotification(ctx, session.UserID, id)
}

func (s *Service) DeleteAllNotifications(ctx context.Context, session Session) (int64, error) {
	return s.store.DeleteAllNotifications(ctx, session.UserID)
}
