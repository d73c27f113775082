package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"pdca/api/internal/comments"
	"pdca/api/internal/workflow"
)

func openTestStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("PDCA_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("PDCA_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn, 4)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	return NewPostgresStore(db), ctx
}

func mustCreateUser(t *testing.T, ctx context.Context, s *PostgresStore, email, department string) User {
	t.Helper()
	user, err := s.CreateUser(ctx, User{
		Email:        email,
		FullName:     strings.Split(email, "@")[0],
		PasswordHash: "hash",
		Role:         "Employee",
		Department:   department,
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("CreateUser(%s) error = %v", email, err)
	}
	return user
}

func TestMigrationsApplyAndSeedDefaultWorkflow(t *testing.T) {
	s, ctx := openTestStore(t)

	version, err := MigrationVersion(ctx, s.DB())
	if err != nil {
		t.Fatalf("MigrationVersion() error = %v", err)
	}
	if version < 2 {
		t.Fatalf("MigrationVersion() = %d, want >= 2", version)
	}

	active, err := s.GetActiveWorkflowConfiguration(ctx)
	if err != nil {
		t.Fatalf("GetActiveWorkflowConfiguration() error = %v", err)
	}
	if !active.IsDefault {
		t.Fatalf("seeded configuration is not the default")
	}
	if !workflow.IsTransitionAllowed(active, workflow.StatusPlan, workflow.StatusDo, "Employee") {
		t.Fatalf("seeded configuration does not allow Plan -> Do")
	}
}

func TestUsersAreUniqueByEmail(t *testing.T) {
	s, ctx := openTestStore(t)
	mustCreateUser(t, ctx, s, "Ana@Example.com", "Ops")

	_, err := s.CreateUser(ctx, User{Email: "ana@example.com", FullName: "Ana", PasswordHash: "x", Role: "Employee"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("CreateUser(duplicate) error = %v, want ErrConflict", err)
	}

	got, err := s.GetUserByEmail(ctx, "ANA@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail() error = %v", err)
	}
	if got.Email != "ana@example.com" {
		t.Fatalf("stored email = %q, want lower-cased", got.Email)
	}
}

func TestGoalScopeAndStatusChange(t *testing.T) {
	s, ctx := openTestStore(t)
	owner := mustCreateUser(t, ctx, s, "owner@example.com", "Ops")
	helper := mustCreateUser(t, ctx, s, "helper@example.com", "Sales")
	outsider := mustCreateUser(t, ctx, s, "outsider@example.com", "Finance")

	goal, err := s.CreateGoal(ctx, Goal{
		Title:      "Reduce churn",
		Department: "Ops",
		Status:     string(workflow.StatusPlan),
		Priority:   "High",
		OwnerID:    owner.ID,
		CreatedBy:  owner.ID,
		Assignees:  []string{helper.ID},
	})
	if err != nil {
		t.Fatalf("CreateGoal() error = %v", err)
	}
	if len(goal.Assignees) != 1 || goal.Assignees[0] != helper.ID {
		t.Fatalf("goal assignees = %v, want [%s]", goal.Assignees, helper.ID)
	}

	tests := []struct {
		name  string
		scope GoalScope
		want  int
	}{
		{name: "admin", scope: GoalScope{All: true}, want: 1},
		{name: "department reach", scope: GoalScope{Departments: []string{"ops"}, UserID: outsider.ID}, want: 1},
		{name: "assignee", scope: GoalScope{Departments: []string{"Sales"}, UserID: helper.ID}, want: 1},
		{name: "outsider", scope: GoalScope{Departments: []string{"Finance"}, UserID: outsider.ID}, want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			page, err := s.ListGoals(ctx, GoalFilter{Scope: tc.scope}, NewPage(1, 10))
			if err != nil {
				t.Fatalf("ListGoals() error = %v", err)
			}
			if page.Total != tc.want {
				t.Fatalf("ListGoals() total = %d, want %d", page.Total, tc.want)
			}
		})
	}

	if _, err := s.ChangeGoalStatus(ctx, goal.ID, "Plan", "Do", owner.ID, "kick-off"); err != nil {
		t.Fatalf("ChangeGoalStatus() error = %v", err)
	}
	if _, err := s.ChangeGoalStatus(ctx, goal.ID, "Plan", "Do", owner.ID, ""); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("ChangeGoalStatus(stale) error = %v, want ErrStatusConflict", err)
	}
	if _, err := s.ChangeGoalStatus(ctx, "00000000-0000-4000-8000-00000000dead", "Plan", "Do", owner.ID, ""); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("ChangeGoalStatus(missing) error = %v, want sql.ErrNoRows", err)
	}

	history, err := s.ListGoalStatusHistory(ctx, goal.ID)
	if err != nil {
		t.Fatalf("ListGoalStatusHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].ToStatus != "Do" || history[0].ChangedByName != "owner" {
		t.Fatalf("history = %+v", history)
	}
}

func TestDeleteCommentThread(t *testing.T) {
	s, ctx := openTestStore(t)
	user := mustCreateUser(t, ctx, s, "writer@example.com", "Ops")
	goal, err := s.CreateGoal(ctx, Goal{Title: "Ship", Department: "Ops", Status: "Plan", Priority: "Low", CreatedBy: user.ID})
	if err != nil {
		t.Fatalf("CreateGoal() error = %v", err)
	}

	root, err := s.InsertComment(ctx, comments.Comment{GoalID: goal.ID, UserID: user.ID, Comment: "root"})
	if err != nil {
		t.Fatalf("InsertComment() error = %v", err)
	}
	reply, err := s.InsertComment(ctx, comments.Comment{
		GoalID:   goal.ID,
		UserID:   user.ID,
		ParentID: root.ID,
		Comment:  comments.FormatCommentForStorage("reply", root.ID),
	})
	if err != nil {
		t.Fatalf("InsertComment(reply) error = %v", err)
	}
	if _, err := s.InsertComment(ctx, comments.Comment{GoalID: goal.ID, UserID: user.ID, Comment: "other"}); err != nil {
		t.Fatalf("InsertComment(other) error = %v", err)
	}

	all, err := s.ListComments(ctx, goal.ID)
	if err != nil {
		t.Fatalf("ListComments() error = %v", err)
	}
	ids := comments.GetThreadCommentIDs(all, root.ID)
	deleted, err := s.DeleteComments(ctx, goal.ID, ids)
	if err != nil {
		t.Fatalf("DeleteComments() error = %v", err)
	}
	if deleted != 2 {
		t.Fatalf("DeleteComments() = %d, want 2", deleted)
	}
	if _, err := s.GetComment(ctx, goal.ID, reply.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("GetComment(deleted reply) error = %v, want sql.ErrNoRows", err)
	}
}

func TestActivateWorkflowConfigurationKeepsSingleActive(t *testing.T) {
	s, ctx := openTestStore(t)

	cfg := workflow.DefaultConfiguration()
	cfg.ID = ""
	cfg.Name = "Strict"
	created, err := s.InsertWorkflowConfiguration(ctx, cfg)
	if err != nil {
		t.Fatalf("InsertWorkflowConfiguration() error = %v", err)
	}
	if created.IsActive || created.Version != 1 {
		t.Fatalf("created = %+v, want inactive version 1", created)
	}

	if err := s.ActivateWorkflowConfiguration(ctx, created.ID); err != nil {
		t.Fatalf("ActivateWorkflowConfiguration() error = %v", err)
	}
	active, err := s.GetActiveWorkflowConfiguration(ctx)
	if err != nil {
		t.Fatalf("GetActiveWorkflowConfiguration() error = %v", err)
	}
	if active.ID != created.ID {
		t.Fatalf("active = %s, want %s", active.ID, created.ID)
	}

	var count int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_configurations WHERE is_active`).Scan(&count); err != nil {
		t.Fatalf("count active: %v", err)
	}
	if count != 1 {
		t.Fatalf("active configurations = %d, want 1", count)
	}

	if err := s.ActivateWorkflowConfiguration(ctx, "00000000-0000-4000-8000-00000000dead"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("ActivateWorkflowConfiguration(missing) error = %v, want sql.ErrNoRows", err)
	}

	created.Name = "Strict v2"
	updated, err := s.UpdateWorkflowConfiguration(ctx, created)
	if err != nil {
		t.Fatalf("UpdateWorkflowConfiguration() error = %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("updated version = %d, want 2", updated.Version)
	}
}

func TestRevokedSessionsAndAISettings(t *testing.T) {
	s, ctx := openTestStore(t)
	revoked := s.RevokedSessions()

	if err := revoked.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	ok, err := revoked.IsRevoked(ctx, "jti-1")
	if err != nil || !ok {
		t.Fatalf("IsRevoked(jti-1) = %v, %v; want true", ok, err)
	}
	ok, err = revoked.IsRevoked(ctx, "jti-2")
	if err != nil || ok {
		t.Fatalf("IsRevoked(jti-2) = %v, %v; want false", ok, err)
	}

	raw, err := s.GetAISettings(ctx)
	if err != nil || raw != nil {
		t.Fatalf("GetAISettings() = %s, %v; want nil", raw, err)
	}
	if err := s.SaveAISettings(ctx, json.RawMessage(`{"enabled":true}`), ""); err != nil {
		t.Fatalf("SaveAISettings() error = %v", err)
	}
	raw, err = s.GetAISettings(ctx)
	if err != nil {
		t.Fatalf("GetAISettings() error = %v", err)
	}
	var decoded map[string]bool
	if err := json.Unmarshal(raw, &decoded); err != nil || !decoded["enabled"] {
		t.Fatalf("GetAISettings() = %s", raw)
	}
}

func TestNotificationsLifecycle(t *testing.T) {
	s, ctx := openTestStore(t)
	user := mustCreateUser(t, ctx, s, "reader@example.com", "Ops")

	created, err := s.InsertNotifications(ctx, []Notification{
		{UserID: user.ID, Kind: "goal_assigned", Title: "one"},
		{UserID: user.ID, Kind: "goal_assigned", Title: "two"},
	})
	if err != nil {
		t.Fatalf("InsertNotifications() error = %v", err)
	}
	if err := s.MarkNotificationRead(ctx, user.ID, created[0].ID); err != nil {
		t.Fatalf("MarkNotificationRead() error = %v", err)
	}

	unread, err := s.ListNotifications(ctx, NotificationFilter{UserID: user.ID, UnreadOnly: true}, NewPage(1, 10))
	if err != nil {
		t.Fatalf("ListNotifications() error = %v", err)
	}
	if unread.Total != 1 || unread.Items[0].Title != "two" {
		t.Fatalf("unread = %+v", unread)
	}

	deleted, err := s.DeleteAllNotifications(ctx, user.ID)
	if err != nil || deleted != 2 {
		t.Fatalf("DeleteAllNotifications() = %d, %v; want 2", deleted, err)
	}
}
