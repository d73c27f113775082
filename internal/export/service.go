package export

import (
	"context"
	"fmt"
	"time"

	"pdca/api/internal/comments"
	"pdca/api/internal/store"
)

// DataStore defines the interface for report data access
type DataStore interface {
	GetGoal(ctx context.Context, id string) (store.Goal, error)
	ListGoalStatusHistory(ctx context.Context, goalID string) ([]store.GoalStatusChange, error)
	ListComments(ctx context.Context, goalID string) ([]comments.Comment, error)
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]store.User, error)
	GetGoalAnalysis(ctx context.Context, goalID string) (store.GoalAnalysis, error)
}

// Service renders goal reports
type Service struct {
	store     DataStore
	renderPDF func(ctx context.Context, html string) ([]byte, error)
	now       func() time.Time
}

// NewService creates a new report service
func NewService(store DataStore) *Service {
	return &Service{store: store, renderPDF: renderPDF, now: time.Now}
}

// GoalReport collects the goal, its status history and comment threads and
// prints them to PDF.
func (s *Service) GoalReport(ctx context.Context, goalID string) (*Result, error) {
	data, err := s.reportData(ctx, goalID)
	if err != nil {
		return nil, err
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	pdf, err := s.renderPDF(ctx, html)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:     pdf,
		Filename: sanitizeFilename(data.Goal.Title) + ".pdf",
		MimeType: MimePDF,
	}, nil
}

func (s *Service) reportData(ctx context.Context, goalID string) (ReportData, error) {
	goal, err := s.store.GetGoal(ctx, goalID)
	if err != nil {
		return ReportData{}, err
	}
	history, err := s.store.ListGoalStatusHistory(ctx, goalID)
	if err != nil {
		return ReportData{}, fmt.Errorf("list history: %w", err)
	}
	raw, err := s.store.ListComments(ctx, goalID)
	if err != nil {
		return ReportData{}, fmt.Errorf("list comments: %w", err)
	}

	ids := append([]string{goal.OwnerID}, goal.Assignees...)
	users, err := s.store.GetUsersByIDs(ctx, ids)
	if err != nil {
		return ReportData{}, fmt.Errorf("load users: %w", err)
	}

	data := ReportData{
		Goal:        goal,
		OwnerName:   displayName(users, goal.OwnerID, goal.OwnerName),
		Assignees:   make([]string, 0, len(goal.Assignees)),
		History:     history,
		Threads:     comments.BuildCommentThreads(raw),
		GeneratedAt: s.now(),
	}
	for _, id := range goal.Assignees {
		data.Assignees = append(data.Assignees, displayName(users, id, id))
	}

	// A goal without a stored analysis is still reportable.
	if analysis, err := s.store.GetGoalAnalysis(ctx, goalID); err == nil {
		data.Analysis = &analysis
	}
	return data, nil
}

func displayName(users map[string]store.User, id, fallback string) string {
	if user, ok := users[id]; ok && user.FullName != "" {
		return user.FullName
	}
	return fallback
}
