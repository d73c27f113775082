package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"pdca/api/internal/analysis"
	"pdca/api/internal/attachments"
	"pdca/api/internal/auth"
	"pdca/api/internal/authpw"
	"pdca/api/internal/comments"
	"pdca/api/internal/config"
	"pdca/api/internal/export"
	"pdca/api/internal/gitrepo"
	"pdca/api/internal/logger"
	"pdca/api/internal/rbac"
	"pdca/api/internal/search"
	"pdca/api/internal/session"
	"pdca/api/internal/store"
	"pdca/api/internal/workflow"
)

type Session struct {
	Token      string
	UserID     string
	Email      string
	FullName   string
	Role       string
	Department string
	JTI        string
	ExpiresAt  time.Time
}

// View is the session object returned to the UI.
func (s Session) View() map[string]any {
	return map[string]any{
		"id":         s.UserID,
		"email":      s.Email,
		"full_name":  s.FullName,
		"role":       s.Role,
		"department": s.Department,
	}
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]store.User, error)
	ListUsers(ctx context.Context, filter store.UserFilter, page store.Page) (store.Paged[store.User], error)
	AllUsers(ctx context.Context) ([]store.User, error)
	UpdateUserRole(ctx context.Context, id, role string) error
	SetUserActive(ctx context.Context, id string, active bool) error
	ListUserDepartments(ctx context.Context, userID string) ([]string, error)
	ReplaceUserDepartments(ctx context.Context, userID string, departments []string) error

	ListDepartments(ctx context.Context) ([]store.Department, error)
	GetDepartment(ctx context.Context, id string) (store.Department, error)
	CreateDepartment(ctx context.Context, name, description string) (store.Department, error)
	UpdateDepartment(ctx context.Context, id, name, description string) error
	DeleteDepartment(ctx context.Context, id string) error
	CreateTeam(ctx context.Context, departmentID, name string) (store.Team, error)
	ListTeams(ctx context.Context, departmentID string) ([]store.Team, error)

	ListGoals(ctx context.Context, filter store.GoalFilter, page store.Page) (store.Paged[store.Goal], error)
	AllGoals(ctx context.Context) ([]store.Goal, error)
	GetGoal(ctx context.Context, id string) (store.Goal, error)
	CreateGoal(ctx context.Context, goal store.Goal) (store.Goal, error)
	UpdateGoal(ctx context.Context, goal store.Goal) (store.Goal, error)
	ChangeGoalStatus(ctx context.Context, goalID, from, to, changedBy, note string) (store.GoalStatusChange, error)
	DeleteGoal(ctx context.Context, id string) error
	ListGoalStatusHistory(ctx context.Context, goalID string) ([]store.GoalStatusChange, error)

	ListComments(ctx context.Context, goalID string) ([]comments.Comment, error)
	GetComment(ctx context.Context, goalID, commentID string) (comments.Comment, error)
	InsertComment(ctx context.Context, item comments.Comment) (comments.Comment, error)
	DeleteComments(ctx context.Context, goalID string, ids []string) (int64, error)

	ListNotifications(ctx context.Context, filter store.NotificationFilter, page store.Page) (store.Paged[store.Notification], error)
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
	DeleteNotification(ctx context.Context, userID, id string) error
	DeleteAllNotifications(ctx context.Context, userID string) (int64, error)

	ListWorkflowConfigurations(ctx context.Context) ([]workflow.Configuration, error)
	GetWorkflowConfiguration(ctx context.Context, id string) (workflow.Configuration, error)
	GetActiveWorkflowConfiguration(ctx context.Context) (workflow.Configuration, error)
	InsertWorkflowConfiguration(ctx context.Context, cfg workflow.Configuration) (workflow.Configuration, error)
	UpdateWorkflowConfiguration(ctx context.Context, cfg workflow.Configuration) (workflow.Configuration, error)
	ActivateWorkflowConfiguration(ctx context.Context, id string) error
	ListWorkflowRules(ctx context.Context, activeOnly bool) ([]workflow.Rule, error)
	GetWorkflowRule(ctx context.Context, id string) (workflow.Rule, error)
	InsertWorkflowRule(ctx context.Context, rule workflow.Rule) (workflow.Rule, error)
	UpdateWorkflowRule(ctx context.Context, rule workflow.Rule) (workflow.Rule, error)
	DeleteWorkflowRule(ctx context.Context, id string) error

	GetGoalAnalysis(ctx context.Context, goalID string) (store.GoalAnalysis, error)
	ListGoalsWithAnalysis(ctx context.Context, page store.Page) (store.Paged[store.GoalWithAnalysis], error)
}

type searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexGoal(goal store.Goal)
	IndexComment(goal store.Goal, comment comments.Comment)
	DeleteGoal(id string)
	DeleteComments(ids []string)
}

type notifier interface {
	GoalAssigned(ctx context.Context, goal store.Goal, actorID string, assignees []string) error
	StatusChanged(ctx context.Context, goal store.Goal, from, to workflow.Status, actorID string, policy workflow.NotificationRuleConfig) error
	CommentAdded(ctx context.Context, goal store.Goal, actorID, actorName, parentAuthorID string) error
}

type analyzer interface {
	Analyze(ctx context.Context, goalID string) (store.GoalAnalysis, error)
	Schedule(goalID string)
}

type reporter interface {
	GoalReport(ctx context.Context, goalID string) (*export.Result, error)
}

type userImporter interface {
	ImportUsers(ctx context.Context, r io.Reader) (export.ImportReport, error)
}

type configHistory interface {
	CommitConfiguration(cfg workflow.Configuration, author, message string) (gitrepo.Revision, error)
	History(configID string, limit int) ([]gitrepo.Revision, error)
	SnapshotAt(configID, hash string) (gitrepo.Snapshot, error)
}

// Deps are the collaborators the service is wired with.
type Deps struct {
	Store       dataStore
	Revoker     session.Revoker
	Search      searcher
	Notifier    notifier
	Analyzer    analyzer
	AIConfig    analysis.ConfigStore
	Attachments *attachments.Service
	Reports     reporter
	Importer    userImporter
	History     configHistory
	Log         *logger.Logger
}

type Service struct {
	cfg         config.Config
	store       dataStore
	auth        *authpw.Service
	revoker     session.Revoker
	search      searcher
	notify      notifier
	analyzer    analyzer
	aiConfig    analysis.ConfigStore
	attachments *attachments.Service
	reports     reporter
	importer    userImporter
	history     configHistory
	log         *logger.Logger
	now         func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		cfg:         cfg,
		store:       deps.Store,
		auth:        authpw.NewService(deps.Store),
		revoker:     deps.Revoker,
		search:      deps.Search,
		notify:      deps.Notifier,
		analyzer:    deps.Analyzer,
		aiConfig:    deps.AIConfig,
		attachments: deps.Attachments,
		reports:     deps.Reports,
		importer:    deps.Importer,
		history:     deps.History,
		log:         log,
		now:         time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Register(ctx context.Context, req authpw.RegisterRequest) (store.User, error) {
	return s.auth.Register(ctx, req)
}

// SignIn checks credentials and issues a session token.
func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	now := s.now()
	ttl := s.cfg.SessionTTL.Std()
	jti := uuid.NewString()

	claims := auth.Claims{
		ID:         user.ID,
		Email:      user.Email,
		FullName:   user.FullName,
		Role:       user.Role,
		Department: user.Department,
	}
	claims.RegisteredClaims.ID = jti
	token, err := auth.IssueToken([]byte(s.cfg.SessionSecret), claims, ttl, now)
	if err != nil {
		return Session{}, err
	}
	return sessionFor(user, token, jti, now.Add(ttl)), nil
}

// SessionFromToken validates a session token. The user row is re-read so
// role changes and deactivation apply to sessions already issued.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.SessionSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.revoker.IsRevoked(ctx, claims.JTI())
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, auth.ErrInvalidToken
	}
	return sessionFor(user, token, claims.JTI(), claims.Expiry()), nil
}

func (s *Service) Logout(ctx context.Context, session Session) error {
	if session.JTI == "" {
		return nil
	}
	return s.revoker.Revoke(ctx, session.JTI, session.ExpiresAt)
}

func sessionFor(user store.User, token, jti string, expiresAt time.Time) Session {
	return Session{
		Token:      token,
		UserID:     user.ID,
		Email:      user.Email,
		FullName:   user.FullName,
		Role:       user.Role,
		Department: user.Department,
		JTI:        jti,
		ExpiresAt:  expiresAt,
	}
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// subject resolves the caller's department reach: the home department plus
// any granted department permissions.
func (s *Service) subject(ctx context.Context, session Session) (rbac.Subject, error) {
	subject := rbac.Subject{ID: session.UserID, Role: rbac.Normalize(session.Role)}
	if subject.Role == rbac.RoleAdmin {
		return subject, nil
	}
	granted, err := s.store.ListUserDepartments(ctx, session.UserID)
	if err != nil {
		return rbac.Subject{}, fmt.Errorf("list user departments: %w", err)
	}
	if home := strings.TrimSpace(session.Department); home != "" {
		subject.Departments = append(subject.Departments, home)
	}
	subject.Departments = append(subject.Departments, granted...)
	return subject, nil
}

func goalScope(subject rbac.Subject) store.GoalScope {
	if subject.Role == rbac.RoleAdmin {
		return store.GoalScope{All: true}
	}
	return store.GoalScope{Departments: subject.Departments, UserID: subject.ID}
}

func goalResource(goal store.Goal) rbac.Resource {
	return rbac.Resource{
		Department: goal.Department,
		OwnerID:    goal.OwnerID,
		CreatedBy:  goal.CreatedBy,
		Assignees:  goal.Assignees,
	}
}

// authorizeGoal loads a goal and applies the goal-scoped policy.
func (s *Service) authorizeGoal(ctx context.Context, session Session, goalID string, action rbac.Action) (store.Goal, rbac.Subject, error) {
	goal, err := s.store.GetGoal(ctx, goalID)
	if err != nil {
		return store.Goal{}, rbac.Subject{}, err
	}
	subject, err := s.subject(ctx, session)
	if err != nil {
		return store.Goal{}, rbac.Subject{}, err
	}
	if !rbac.Allow(subject, action, goalResource(goal)) {
		return store.Goal{}, rbac.Subject{}, errForbidden
	}
	return goal, subject, nil
}

// activeConfiguration falls back to the built-in configuration when no row
// is active.
func (s *Service) activeConfiguration(ctx context.Context) workflow.Configuration {
	cfg, err := s.store.GetActiveWorkflowConfiguration(ctx)
	if err != nil {
		s.log.Warn("using default workflow configuration", "error", err)
		return workflow.DefaultConfiguration()
	}
	return cfg
}
