package search

import (
	"context"

	"pdca/api/internal/comments"
	"pdca/api/internal/logger"
	"pdca/api/internal/store"
)

// Source loads every searchable record for a full reindex.
type Source interface {
	AllGoals(ctx context.Context) ([]store.Goal, error)
	ListComments(ctx context.Context, goalID string) ([]comments.Comment, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
	log   *logger.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{meili: meili, pgfts: pgfts, log: log}
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("meilisearch error, falling back to pgfts", "error", err)
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.log.Error("pgfts search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexGoal indexes a goal (fire-and-forget to Meilisearch).
func (s *Service) IndexGoal(goal store.Goal) {
	if !s.meiliReady() {
		return
	}
	record := GoalRecordFrom(goal)
	go func() {
		if err := s.meili.IndexGoals([]GoalRecord{record}); err != nil {
			s.log.Warn("index goal", "goal_id", record.ID, "error", err)
		}
	}()
}

// IndexComment indexes a comment (fire-and-forget to Meilisearch).
func (s *Service) IndexComment(goal store.Goal, comment comments.Comment) {
	if !s.meiliReady() {
		return
	}
	record := CommentRecordFrom(goal, comment)
	go func() {
		if err := s.meili.IndexComments([]CommentRecord{record}); err != nil {
			s.log.Warn("index comment", "comment_id", record.ID, "error", err)
		}
	}()
}

// DeleteGoal removes a goal and its comments from the index (fire-and-forget).
func (s *Service) DeleteGoal(id string) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeleteGoal(id); err != nil {
			s.log.Warn("delete goal from index", "goal_id", id, "error", err)
		}
	}()
}

// DeleteComments removes comments from the index (fire-and-forget).
func (s *Service) DeleteComments(ids []string) {
	if !s.meiliReady() || len(ids) == 0 {
		return
	}
	go func() {
		if err := s.meili.DeleteComments(ids); err != nil {
			s.log.Warn("delete comments from index", "count", len(ids), "error", err)
		}
	}()
}

// ReindexAll pushes every goal and comment from source to Meilisearch.
func (s *Service) ReindexAll(ctx context.Context, source Source) {
	if !s.meiliReady() {
		return
	}
	goals, err := source.AllGoals(ctx)
	if err != nil {
		s.log.Warn("reindex load goals", "error", err)
		return
	}

	goalRecords := make([]GoalRecord, 0, len(goals))
	var commentRecords []CommentRecord
	for _, goal := range goals {
		goalRecords = append(goalRecords, GoalRecordFrom(goal))
		items, err := source.ListComments(ctx, goal.ID)
		if err != nil {
			s.log.Warn("reindex load comments", "goal_id", goal.ID, "error", err)
			continue
		}
		for _, item := range items {
			commentRecords = append(commentRecords, CommentRecordFrom(goal, item))
		}
	}

	if err := s.meili.IndexGoals(goalRecords); err != nil {
		s.log.Warn("reindex goals", "error", err)
	}
	if err := s.meili.IndexComments(commentRecords); err != nil {
		s.log.Warn("reindex comments", "error", err)
	}
	s.log.Info("search reindex finished", "goals", len(goalRecords), "comments", len(commentRecords))
}

// Close stops the Meilisearch health monitor.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
