package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

// The store has no connection here, so every call below must return before
// touching the database.
func TestMalformedIDsAreNotFound(t *testing.T) {
	s := NewPostgresStore(nil)
	ctx := context.Background()
	const goalID = "7c0f6a52-3c1e-4d8b-9a57-0d6f1f7b2e11"

	checks := map[string]func() error{
		"GetGoal": func() error { _, err := s.GetGoal(ctx, "not-a-uuid"); return err },
		"GetComment": func() error {
			_, err := s.GetComment(ctx, goalID, "x")
			return err
		},
		"ChangeGoalStatus": func() error {
			_, err := s.ChangeGoalStatus(ctx, "abc", "Plan", "Do", goalID, "")
			return err
		},
		"DeleteGoal":                    func() error { return s.DeleteGoal(ctx, "abc") },
		"GetAttachment":                 func() error { _, err := s.GetAttachment(ctx, "abc"); return err },
		"DeleteAttachment":              func() error { return s.DeleteAttachment(ctx, "abc") },
		"DeleteNotification":            func() error { return s.DeleteNotification(ctx, goalID, "abc") },
		"ActivateWorkflowConfiguration": func() error { return s.ActivateWorkflowConfiguration(ctx, "abc") },
		"DeleteWorkflowRule":            func() error { return s.DeleteWorkflowRule(ctx, "abc") },
		"GetUserByID":                   func() error { _, err := s.GetUserByID(ctx, "bob"); return err },
		"SetUserActive":                 func() error { return s.SetUserActive(ctx, "bob", false) },
		"DeleteDepartment":              func() error { return s.DeleteDepartment(ctx, "sales") },
	}
	for name, call := range checks {
		t.Run(name, func(t *testing.T) {
			if err := call(); !errors.Is(err, sql.ErrNoRows) {
				t.Fatalf("%s error = %v, want sql.ErrNoRows", name, err)
			}
		})
	}
}

func TestMalformedIDsAreSkipped(t *testing.T) {
	s := NewPostgresStore(nil)
	ctx := context.Background()

	users, err := s.GetUsersByIDs(ctx, []string{"bob", "u-1"})
	if err != nil || len(users) != 0 {
		t.Fatalf("GetUsersByIDs() = %v, %v; want empty", users, err)
	}

	deleted, err := s.DeleteComments(ctx, "7c0f6a52-3c1e-4d8b-9a57-0d6f1f7b2e11", []string{"x"})
	if err != nil || deleted != 0 {
		t.Fatalf("DeleteComments() = %d, %v; want 0", deleted, err)
	}

	goals, err := s.ListGoals(ctx, GoalFilter{OwnerID: "bob"}, NewPage(2, 10))
	if err != nil {
		t.Fatalf("ListGoals() error = %v", err)
	}
	if goals.Total != 0 || len(goals.Items) != 0 || goals.Page != 2 {
		t.Fatalf("ListGoals() = %+v, want empty page 2", goals)
	}
}

func TestIsInvalidInput(t *testing.T) {
	wrapped := fmt.Errorf("get goal: %w", &pgconn.PgError{Code: "22P02"})
	if !IsInvalidInput(wrapped) {
		t.Fatal("IsInvalidInput(22P02) = false")
	}
	if IsInvalidInput(&pgconn.PgError{Code: "23505"}) || IsInvalidInput(sql.ErrNoRows) {
		t.Fatal("IsInvalidInput matched an unrelated error")
	}
}
