package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"pdca/api/internal/comments"
)

// ErrStatusConflict is returned when a goal no longer has the status a
// transition started from.
var ErrStatusConflict = errors.New("goal status changed concurrently")

type conditions struct {
	clauses []string
	args    []any
}

func (c *conditions) arg(value any) string {
	c.args = append(c.args, value)
	return fmt.Sprintf("$%d", len(c.args))
}

func (c *conditions) where(clause string) {
	c.clauses = append(c.clauses, clause)
}

func (c *conditions) String() string {
	if len(c.clauses) == 0 {
		return "TRUE"
	}
	return strings.Join(c.clauses, " AND ")
}

const goalSelect = `
	SELECT g.id, g.title, g.description, g.department, g.team, g.status, g.priority, g.progress,
		g.owner_id, COALESCE(o.full_name, ''), COALESCE(o.email, ''), g.created_by,
		g.start_date, g.due_date, g.status_changed_at, g.created_at, g.updated_at,
		COALESCE((
			SELECT json_agg(a.user_id ORDER BY a.assigned_at, a.user_id)
			FROM goal_assignees a WHERE a.goal_id = g.id
		), '[]'::json)
	FROM goals g
	LEFT JOIN users o ON o.id = g.owner_id
`

func scanGoal(row rowScanner) (Goal, error) {
	var (
		goal      Goal
		ownerID   sql.NullString
		createdBy sql.NullString
		startDate sql.NullTime
		dueDate   sql.NullTime
		assignees []byte
	)
	err := row.Scan(&goal.ID, &goal.Title, &goal.Description, &goal.Department, &goal.Team,
		&goal.Status, &goal.Priority, &goal.Progress, &ownerID, &goal.OwnerName, &goal.OwnerEmail,
		&createdBy, &startDate, &dueDate, &goal.StatusChangedAt, &goal.CreatedAt, &goal.UpdatedAt, &assignees)
	if err != nil {
		return Goal{}, err
	}
	goal.OwnerID = ownerID.String
	goal.CreatedBy = createdBy.String
	goal.StartDate = timePtr(startDate)
	goal.DueDate = timePtr(dueDate)
	goal.Assignees = []string{}
	if err := json.Unmarshal(assignees, &goal.Assignees); err != nil {
		return Goal{}, fmt.Errorf("decode assignees: %w", err)
	}
	return goal, nil
}

func applyScope(c *conditions, scope GoalScope) {
	if scope.All {
		return
	}
	departments := make([]string, 0, len(scope.Departments))
	for _, department := range scope.Departments {
		if department = strings.ToLower(strings.TrimSpace(department)); department != "" {
			departments = append(departments, department)
		}
	}
	reach := "LOWER(g.department) = ANY(" + c.arg(departments) + ")"
	if scope.UserID == "" {
		c.where(reach)
		return
	}
	user := c.arg(scope.UserID)
	c.where(fmt.Sprintf(`(%s OR g.owner_id = %[2]s OR g.created_by = %[2]s OR EXISTS (
		SELECT 1 FROM goal_assignees ga WHERE ga.goal_id = g.id AND ga.user_id = %[2]s
	))`, reach, user))
}

func (s *PostgresStore) ListGoals(ctx context.Context, filter GoalFilter, page Page) (Paged[Goal], error) {
	if filter.OwnerID != "" && uuid.Validate(filter.OwnerID) != nil {
		return NewPaged[Goal](nil, 0, page), nil
	}
	c := &conditions{}
	applyScope(c, filter.Scope)
	if filter.Status != "" {
		c.where("g.status = " + c.arg(filter.Status))
	}
	if filter.Priority != "" {
		c.where("g.priority = " + c.arg(filter.Priority))
	}
	if filter.Department != "" {
		c.where("LOWER(g.department) = LOWER(" + c.arg(filter.Department) + ")")
	}
	if filter.OwnerID != "" {
		c.where("g.owner_id = " + c.arg(filter.OwnerID))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		c.where(fmt.Sprintf("(g.search_vector @@ plainto_tsquery('simple', %s) OR g.title ILIKE %s)",
			c.arg(q), c.arg("%"+q+"%")))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM goals g WHERE `+c.String(), c.args...).Scan(&total); err != nil {
		return Paged[Goal]{}, fmt.Errorf("count goals: %w", err)
	}

	where := c.String()
	limit, offset := c.arg(page.Limit()), c.arg(page.Offset())
	rows, err := s.db.QueryContext(ctx, goalSelect+`WHERE `+where+`
		ORDER BY g.updated_at DESC, g.id
		LIMIT `+limit+` OFFSET `+offset, c.args...)
	if err != nil {
		return Paged[Goal]{}, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	items, err := collectGoals(rows)
	if err != nil {
		return Paged[Goal]{}, err
	}
	return NewPaged(items, total, page), nil
}

func (s *PostgresStore) AllGoals(ctx context.Context) ([]Goal, error) {
	rows, err := s.db.QueryContext(ctx, goalSelect+`ORDER BY g.created_at, g.id`)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()
	return collectGoals(rows)
}

func collectGoals(rows *sql.Rows) ([]Goal, error) {
	items := make([]Goal, 0)
	for rows.Next() {
		goal, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		items = append(items, goal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate goals: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetGoal(ctx context.Context, id string) (Goal, error) {
	if err := requireIDs(id); err != nil {
		return Goal{}, err
	}
	return scanGoal(s.db.QueryRowContext(ctx, goalSelect+`WHERE g.id = $1`, id))
}

// CreateGoal inserts the goal and its assignees in one transaction.
func (s *PostgresStore) CreateGoal(ctx context.Context, goal Goal) (Goal, error) {
	if goal.ID == "" {
		goal.ID = newID()
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO goals (id, title, description, department, team, status, priority, progress,
				owner_id, created_by, start_date, due_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, goal.ID, goal.Title, goal.Description, goal.Department, goal.Team, goal.Status, goal.Priority,
			goal.Progress, nullString(goal.OwnerID), nullString(goal.CreatedBy),
			nullTime(goal.StartDate), nullTime(goal.DueDate)); err != nil {
			return fmt.Errorf("insert goal: %w", err)
		}
		return replaceAssignees(ctx, tx, goal.ID, goal.Assignees)
	})
	if err != nil {
		return Goal{}, err
	}
	return s.GetGoal(ctx, goal.ID)
}

// UpdateGoal writes the editable fields of goal. Assignees are replaced when
// goal.Assignees is non-nil. Status is changed only through ChangeGoalStatus.
func (s *PostgresStore) UpdateGoal(ctx context.Context, goal Goal) (Goal, error) {
	if err := requireIDs(goal.ID); err != nil {
		return Goal{}, err
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE goals SET
				title=$2, description=$3, department=$4, team=$5, priority=$6, progress=$7,
				owner_id=$8, start_date=$9, due_date=$10, updated_at=NOW()
			WHERE id=$1
		`, goal.ID, goal.Title, goal.Description, goal.Department, goal.Team, goal.Priority, goal.Progress,
			nullString(goal.OwnerID), nullTime(goal.StartDate), nullTime(goal.DueDate))
		if err := requireRow(result, err, "update goal"); err != nil {
			return err
		}
		if goal.Assignees == nil {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM goal_assignees WHERE goal_id=$1`, goal.ID); err != nil {
			return fmt.Errorf("clear assignees: %w", err)
		}
		return replaceAssignees(ctx, tx, goal.ID, goal.Assignees)
	})
	if err != nil {
		return Goal{}, err
	}
	return s.GetGoal(ctx, goal.ID)
}

func replaceAssignees(ctx context.Context, tx *sql.Tx, goalID string, assignees []string) error {
	for _, userID := range assignees {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO goal_assignees (goal_id, user_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, goalID, userID); err != nil {
			return fmt.Errorf("insert assignee: %w", err)
		}
	}
	return nil
}

// ChangeGoalStatus moves the goal from one status to another and records the
// change in the status history. It fails with ErrStatusConflict when the
// goal is no longer in status from.
func (s *PostgresStore) ChangeGoalStatus(ctx context.Context, goalID, from, to, changedBy, note string) (GoalStatusChange, error) {
	if err := requireIDs(goalID); err != nil {
		return GoalStatusChange{}, err
	}
	change := GoalStatusChange{
		ID:         newID(),
		GoalID:     goalID,
		FromStatus: from,
		ToStatus:   to,
		ChangedBy:  changedBy,
		Note:       note,
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE goals SET status=$2, status_changed_at=NOW(), updated_at=NOW()
			WHERE id=$1 AND status=$3
		`, goalID, to, from)
		if err := requireRow(result, err, "update goal status"); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				var exists bool
				if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM goals WHERE id=$1)`, goalID).Scan(&exists); err != nil {
					return fmt.Errorf("check goal: %w", err)
				}
				if exists {
					return ErrStatusConflict
				}
			}
			return err
		}
		return tx.QueryRowContext(ctx, `
			INSERT INTO goal_status_history (id, goal_id, from_status, to_status, changed_by, note)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING changed_at
		`, change.ID, goalID, from, to, nullString(changedBy), note).Scan(&change.ChangedAt)
	})
	if err != nil {
		return GoalStatusChange{}, err
	}
	return change, nil
}

func (s *PostgresStore) DeleteGoal(ctx context.Context, id string) error {
	if err := requireIDs(id); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM goals WHERE id=$1`, id)
	return requireRow(result, err, "delete goal")
}

func (s *PostgresStore) ListGoalStatusHistory(ctx context.Context, goalID string) ([]GoalStatusChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.id, h.goal_id, h.from_status, h.to_status, h.changed_by, COALESCE(u.full_name, ''), h.note, h.changed_at
		FROM goal_status_history h
		LEFT JOIN users u ON u.id = h.changed_by
		WHERE h.goal_id=$1
		ORDER BY h.changed_at, h.id
	`, goalID)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer rows.Close()

	items := make([]GoalStatusChange, 0)
	for rows.Next() {
		var (
			item      GoalStatusChange
			changedBy sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.GoalID, &item.FromStatus, &item.ToStatus, &changedBy,
			&item.ChangedByName, &item.Note, &item.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan status change: %w", err)
		}
		item.ChangedBy = changedBy.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status history: %w", err)
	}
	return items, nil
}

const commentSelect = `
	SELECT c.id, c.goal_id, c.user_id, COALESCE(u.full_name, ''), c.comment, c.parent_id, c.created_at
	FROM goal_comments c
	LEFT JOIN users u ON u.id = c.user_id
`

func scanComment(row rowScanner) (comments.Comment, error) {
	var (
		item     comments.Comment
		userID   sql.NullString
		parentID sql.NullString
	)
	if err := row.Scan(&item.ID, &item.GoalID, &userID, &item.AuthorName, &item.Comment, &parentID, &item.CreatedAt); err != nil {
		return comments.Comment{}, err
	}
	item.UserID = userID.String
	item.ParentID = parentID.String
	return item, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, goalID string) ([]comments.Comment, error) {
	rows, err := s.db.QueryContext(ctx, commentSelect+`WHERE c.goal_id=$1 ORDER BY c.created_at, c.id`, goalID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]comments.Comment, 0)
	for rows.Next() {
		item, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, goalID, commentID string) (comments.Comment, error) {
	if err := requireIDs(goalID, commentID); err != nil {
		return comments.Comment{}, err
	}
	return scanComment(s.db.QueryRowContext(ctx, commentSelect+`WHERE c.goal_id=$1 AND c.id=$2`, goalID, commentID))
}

// InsertComment stores item. item.Comment must already carry the reply
// marker when item.ParentID is set.
func (s *PostgresStore) InsertComment(ctx context.Context, item comments.Comment) (comments.Comment, error) {
	if item.ID == "" {
		item.ID = newID()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO goal_comments (id, goal_id, user_id, comment, parent_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, item.ID, item.GoalID, nullString(item.UserID), item.Comment, nullString(item.ParentID)).Scan(&item.CreatedAt)
	if err != nil {
		return comments.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return item, nil
}

// DeleteComments removes the listed comments of a goal in a single statement.
func (s *PostgresStore) DeleteComments(ctx context.Context, goalID string, ids []string) (int64, error) {
	ids = onlyUUIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM goal_comments WHERE goal_id=$1 AND id = ANY($2::uuid[])`, goalID, ids)
	if err != nil {
		return 0, fmt.Errorf("delete comments: %w", err)
	}
	return result.RowsAffected()
}

const attachmentColumns = `id, goal_id, user_id, file_name, content_type, size_bytes, object_key, created_at`

func scanAttachment(row rowScanner) (Attachment, error) {
	var (
		item   Attachment
		userID sql.NullString
	)
	if err := row.Scan(&item.ID, &item.GoalID, &userID, &item.FileName, &item.ContentType,
		&item.Size, &item.ObjectKey, &item.CreatedAt); err != nil {
		return Attachment{}, err
	}
	item.UserID = userID.String
	return item, nil
}

func (s *PostgresStore) InsertAttachment(ctx context.Context, item Attachment) (Attachment, error) {
	if item.ID == "" {
		item.ID = newID()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO goal_attachments (id, goal_id, user_id, file_name, content_type, size_bytes, object_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, item.ID, item.GoalID, nullString(item.UserID), item.FileName, item.ContentType, item.Size, item.ObjectKey).Scan(&item.CreatedAt)
	if err != nil {
		return Attachment{}, wrapUnique(err, "insert attachment")
	}
	return item, nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, goalID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attachmentColumns+` FROM goal_attachments WHERE goal_id=$1 ORDER BY created_at, id
	`, goalID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		item, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, id string) (Attachment, error) {
	if err := requireIDs(id); err != nil {
		return Attachment{}, err
	}
	return scanAttachment(s.db.QueryRowContext(ctx, `SELECT `+attachmentColumns+` FROM goal_attachments WHERE id=$1`, id))
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, id string) error {
	if err := requireIDs(id); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM goal_attachments WHERE id=$1`, id)
	return requireRow(result, err, "delete attachment")
}
