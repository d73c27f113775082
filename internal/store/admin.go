package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"pdca/api/internal/workflow"
)

type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
}

// InsertNotifications writes a batch of notifications in one transaction.
func (s *PostgresStore) InsertNotifications(ctx context.Context, items []Notification) ([]Notification, error) {
	if len(items) == 0 {
		return []Notification{}, nil
	}
	out := make([]Notification, 0, len(items))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, item := range items {
			if item.ID == "" {
				item.ID = newID()
			}
			if err := tx.QueryRowContext(ctx, `
				INSERT INTO notifications (id, user_id, goal_id, kind, title, message)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING is_read, created_at
			`, item.ID, item.UserID, nullString(item.GoalID), item.Kind, item.Title, item.Message).Scan(&item.IsRead, &item.CreatedAt); err != nil {
				return fmt.Errorf("insert notification: %w", err)
			}
			out = append(out, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, filter NotificationFilter, page Page) (Paged[Notification], error) {
	c := &conditions{}
	c.where("user_id = " + c.arg(filter.UserID))
	if filter.UnreadOnly {
		c.where("NOT is_read")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE `+c.String(), c.args...).Scan(&total); err != nil {
		return Paged[Notification]{}, fmt.Errorf("count notifications: %w", err)
	}

	where := c.String()
	limit, offset := c.arg(page.Limit()), c.arg(page.Offset())
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, goal_id, kind, title, message, is_read, created_at
		FROM notifications WHERE `+where+`
		ORDER BY created_at DESC, id
		LIMIT `+limit+` OFFSET `+offset, c.args...)
	if err != nil {
		return Paged[Notification]{}, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var (
			item   Notification
			goalID sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.UserID, &goalID, &item.Kind, &item.Title, &item.Message,
			&item.IsRead, &item.CreatedAt); err != nil {
			return Paged[Notification]{}, fmt.Errorf("scan notification: %w", err)
		}
		item.GoalID = goalID.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return Paged[Notification]{}, fmt.Errorf("iterate notifications: %w", err)
	}
	return NewPaged(items, total, page), nil
}

func (s *PostgresStore) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND NOT is_read
	`, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID, id string) error {
	if err := requireIDs(id); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read=TRUE WHERE id=$1 AND user_id=$2`, id, userID)
	return requireRow(result, err, "mark notification read")
}

func (s *PostgresStore) DeleteNotification(ctx context.Context, userID, id string) error {
	if err := requireIDs(id); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id=$1 AND user_id=$2`, id, userID)
	return requireRow(result, err, "delete notification")
}

func (s *PostgresStore) DeleteAllNotifications(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE user_id=$1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete notifications: %w", err)
	}
	return result.RowsAffected()
}

const configurationColumns = `id, name, description, version, transitions, role_permissions, status_metadata,
	is_default, is_active, created_by, created_at, updated_at`

func scanConfiguration(row rowScanner) (workflow.Configuration, error) {
	var (
		cfg             workflow.Configuration
		transitions     []byte
		rolePermissions []byte
		statusMetadata  []byte
		createdBy       sql.NullString
	)
	if err := row.Scan(&cfg.ID, &cfg.Name, &cfg.Description, &cfg.Version, &transitions, &rolePermissions,
		&statusMetadata, &cfg.IsDefault, &cfg.IsActive, &createdBy, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		return workflow.Configuration{}, err
	}
	cfg.CreatedBy = createdBy.String
	if err := json.Unmarshal(transitions, &cfg.Transitions); err != nil {
		return workflow.Configuration{}, fmt.Errorf("decode transitions: %w", err)
	}
	if err := json.Unmarshal(rolePermissions, &cfg.RolePermissions); err != nil {
		return workflow.Configuration{}, fmt.Errorf("decode role permissions: %w", err)
	}
	if err := json.Unmarshal(statusMetadata, &cfg.StatusMetadata); err != nil {
		return workflow.Configuration{}, fmt.Errorf("decode status metadata: %w", err)
	}
	return cfg, nil
}

func encodeConfiguration(cfg workflow.Configuration) (transitions, rolePermissions, statusMetadata []byte, err error) {
	if transitions, err = json.Marshal(cfg.Transitions); err != nil {
		return nil, nil, nil, fmt.Errorf("encode transitions: %w", err)
	}
	if rolePermissions, err = json.Marshal(cfg.RolePermissions); err != nil {
		return nil, nil, nil, fmt.Errorf("encode role permissions: %w", err)
	}
	metadata := cfg.StatusMetadata
	if metadata == nil {
		metadata = map[workflow.Status]workflow.StatusMeta{}
	}
	if statusMetadata, err = json.Marshal(metadata); err != nil {
		return nil, nil, nil, fmt.Errorf("encode status metadata: %w", err)
	}
	return transitions, rolePermissions, statusMetadata, nil
}

func (s *PostgresStore) ListWorkflowConfigurations(ctx context.Context) ([]workflow.Configuration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+configurationColumns+` FROM workflow_configurations
		ORDER BY is_active DESC, is_default DESC, name
	`)
	if err != nil {
		return nil, fmt.Errorf("list workflow configurations: %w", err)
	}
	defer rows.Close()

	items := make([]workflow.Configuration, 0)
	for rows.Next() {
		cfg, err := scanConfiguration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow configuration: %w", err)
		}
		items = append(items, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow configurations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetWorkflowConfiguration(ctx context.Context, id string) (workflow.Configuration, error) {
	if err := requireIDs(id); err != nil {
		return workflow.Configuration{}, err
	}
	return scanConfiguration(s.db.QueryRowContext(ctx, `
		SELECT `+configurationColumns+` FROM workflow_configurations WHERE id=$1
	`, id))
}

// GetActiveWorkflowConfiguration prefers the active default configuration,
// then any active one. It returns workflow.ErrNoActiveConfiguration when no
// configuration is active.
func (s *PostgresStore) GetActiveWorkflowConfiguration(ctx context.Context) (workflow.Configuration, error) {
	cfg, err := scanConfiguration(s.db.QueryRowContext(ctx, `
		SELECT `+configurationColumns+` FROM workflow_configurations
		WHERE is_active
		ORDER BY is_default DESC, updated_at DESC
		LIMIT 1
	`))
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Configuration{}, workflow.ErrNoActiveConfiguration
	}
	if err != nil {
		return workflow.Configuration{}, fmt.Errorf("get active workflow configuration: %w", err)
	}
	return cfg, nil
}

// InsertWorkflowConfiguration stores cfg as a new inactive configuration.
func (s *PostgresStore) InsertWorkflowConfiguration(ctx context.Context, cfg workflow.Configuration) (workflow.Configuration, error) {
	if cfg.ID == "" {
		cfg.ID = newID()
	}
	transitions, rolePermissions, statusMetadata, err := encodeConfiguration(cfg)
	if err != nil {
		return workflow.Configuration{}, err
	}
	created, err := scanConfiguration(s.db.QueryRowContext(ctx, `
		INSERT INTO workflow_configurations (id, name, description, version, transitions, role_permissions,
			status_metadata, is_default, is_active, created_by)
		VALUES ($1, $2, $3, 1, $4, $5, $6, FALSE, FALSE, $7)
		RETURNING `+configurationColumns,
		cfg.ID, cfg.Name, cfg.Description, transitions, rolePermissions, statusMetadata, nullString(cfg.CreatedBy)))
	if err != nil {
		return workflow.Configuration{}, fmt.Errorf("insert workflow configuration: %w", err)
	}
	return created, nil
}

// UpdateWorkflowConfiguration overwrites the editable parts of cfg and bumps
// its version.
func (s *PostgresStore) UpdateWorkflowConfiguration(ctx context.Context, cfg workflow.Configuration) (workflow.Configuration, error) {
	if err := requireIDs(cfg.ID); err != nil {
		return workflow.Configuration{}, err
	}
	transitions, rolePermissions, statusMetadata, err := encodeConfiguration(cfg)
	if err != nil {
		return workflow.Configuration{}, err
	}
	updated, err := scanConfiguration(s.db.QueryRowContext(ctx, `
		UPDATE workflow_configurations SET
			name=$2, description=$3, transitions=$4, role_permissions=$5, status_metadata=$6,
			version=version+1, updated_at=NOW()
		WHERE id=$1
		RETURNING `+configurationColumns,
		cfg.ID, cfg.Name, cfg.Description, transitions, rolePermissions, statusMetadata))
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Configuration{}, err
	}
	if err != nil {
		return workflow.Configuration{}, fmt.Errorf("update workflow configuration: %w", err)
	}
	return updated, nil
}

// ActivateWorkflowConfiguration makes id the only active configuration. Both
// updates share a transaction so readers never observe zero active rows.
func (s *PostgresStore) ActivateWorkflowConfiguration(ctx context.Context, id string) error {
	if err := requireIDs(id); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE workflow_configurations SET is_active=FALSE, updated_at=NOW()
			WHERE is_active AND id <> $1
		`, id); err != nil {
			return fmt.Errorf("deactivate workflow configurations: %w", err)
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE workflow_configurations SET is_active=TRUE, updated_at=NOW() WHERE id=$1
		`, id)
		return requireRow(result, err, "activate workflow configuration")
	})
}

const ruleColumns = `id, name, description, rule_type, phase, configuration, is_active, created_by, created_at, updated_at`

func scanRule(row rowScanner) (workflow.Rule, error) {
	var (
		rule          workflow.Rule
		phase         sql.NullString
		configuration []byte
		createdBy     sql.NullString
	)
	if err := row.Scan(&rule.ID, &rule.Name, &rule.Description, &rule.RuleType, &phase, &configuration,
		&rule.IsActive, &createdBy, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return workflow.Rule{}, err
	}
	rule.Phase = phase.String
	rule.Configuration = json.RawMessage(configuration)
	rule.CreatedBy = createdBy.String
	return rule, nil
}

func (s *PostgresStore) ListWorkflowRules(ctx context.Context, activeOnly bool) ([]workflow.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM workflow_rules`
	if activeOnly {
		query += ` WHERE is_active`
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list workflow rules: %w", err)
	}
	defer rows.Close()

	items := make([]workflow.Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow rule: %w", err)
		}
		items = append(items, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow rules: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetWorkflowRule(ctx context.Context, id string) (workflow.Rule, error) {
	if err := requireIDs(id); err != nil {
		return workflow.Rule{}, err
	}
	return scanRule(s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM workflow_rules WHERE id=$1`, id))
}

func (s *PostgresStore) InsertWorkflowRule(ctx context.Context, rule workflow.Rule) (workflow.Rule, error) {
	if rule.ID == "" {
		rule.ID = newID()
	}
	created, err := scanRule(s.db.QueryRowContext(ctx, `
		INSERT INTO workflow_rules (id, name, description, rule_type, phase, configuration, is_active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+ruleColumns,
		rule.ID, rule.Name, rule.Description, string(rule.RuleType), nullString(rule.Phase),
		[]byte(rule.Configuration), rule.IsActive, nullString(rule.CreatedBy)))
	if err != nil {
		return workflow.Rule{}, fmt.Errorf("insert workflow rule: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateWorkflowRule(ctx context.Context, rule workflow.Rule) (workflow.Rule, error) {
	if err := requireIDs(rule.ID); err != nil {
		return workflow.Rule{}, err
	}
	updated, err := scanRule(s.db.QueryRowContext(ctx, `
		UPDATE workflow_rules SET
			name=$2, description=$3, rule_type=$4, phase=$5, configuration=$6, is_active=$7, updated_at=NOW()
		WHERE id=$1
		RETURNING `+ruleColumns,
		rule.ID, rule.Name, rule.Description, string(rule.RuleType), nullString(rule.Phase),
		[]byte(rule.Configuration), rule.IsActive))
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Rule{}, err
	}
	if err != nil {
		return workflow.Rule{}, fmt.Errorf("update workflow rule: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteWorkflowRule(ctx context.Context, id string) error {
	if err := requireIDs(id); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM workflow_rules WHERE id=$1`, id)
	return requireRow(result, err, "delete workflow rule")
}

// GetAISettings returns the raw settings document, or nil when none has been
// saved yet.
func (s *PostgresStore) GetAISettings(ctx context.Context) (json.RawMessage, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT settings FROM ai_settings WHERE id=1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ai settings: %w", err)
	}
	return json.RawMessage(raw), nil
}

func (s *PostgresStore) SaveAISettings(ctx context.Context, settings json.RawMessage, updatedBy string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_settings (id, settings, updated_by, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET settings=EXCLUDED.settings, updated_by=EXCLUDED.updated_by, updated_at=NOW()
	`, []byte(settings), nullString(updatedBy)); err != nil {
		return fmt.Errorf("save ai settings: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertGoalAnalysis(ctx context.Context, analysis GoalAnalysis) (GoalAnalysis, error) {
	recommendations := analysis.Recommendations
	if recommendations == nil {
		recommendations = []string{}
	}
	encoded, err := json.Marshal(recommendations)
	if err != nil {
		return GoalAnalysis{}, fmt.Errorf("encode recommendations: %w", err)
	}
	analysis.Recommendations = recommendations
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO goal_analyses (goal_id, summary, recommendations, model, source, generated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (goal_id) DO UPDATE SET
			summary=EXCLUDED.summary, recommendations=EXCLUDED.recommendations,
			model=EXCLUDED.model, source=EXCLUDED.source, generated_at=NOW()
		RETURNING generated_at
	`, analysis.GoalID, analysis.Summary, encoded, analysis.Model, analysis.Source).Scan(&analysis.GeneratedAt); err != nil {
		return GoalAnalysis{}, fmt.Errorf("upsert goal analysis: %w", err)
	}
	return analysis, nil
}

func (s *PostgresStore) GetGoalAnalysis(ctx context.Context, goalID string) (GoalAnalysis, error) {
	if err := requireIDs(goalID); err != nil {
		return GoalAnalysis{}, err
	}
	var (
		analysis GoalAnalysis
		encoded  []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT goal_id, summary, recommendations, model, source, generated_at
		FROM goal_analyses WHERE goal_id=$1
	`, goalID).Scan(&analysis.GoalID, &analysis.Summary, &encoded, &analysis.Model, &analysis.Source, &analysis.GeneratedAt)
	if err != nil {
		return GoalAnalysis{}, err
	}
	if err := json.Unmarshal(encoded, &analysis.Recommendations); err != nil {
		return GoalAnalysis{}, fmt.Errorf("decode recommendations: %w", err)
	}
	return analysis, nil
}

func (s *PostgresStore) ListGoalsWithAnalysis(ctx context.Context, page Page) (Paged[GoalWithAnalysis], error) {
	goals, err := s.ListGoals(ctx, GoalFilter{Scope: GoalScope{All: true}}, page)
	if err != nil {
		return Paged[GoalWithAnalysis]{}, err
	}

	ids := make([]string, 0, len(goals.Items))
	for _, goal := range goals.Items {
		ids = append(ids, goal.ID)
	}
	analyses := map[string]*GoalAnalysis{}
	if len(ids) > 0 {
		rows, err := s.db.QueryContext(ctx, `
			SELECT goal_id, summary, recommendations, model, source, generated_at
			FROM goal_analyses WHERE goal_id = ANY($1::uuid[])
		`, ids)
		if err != nil {
			return Paged[GoalWithAnalysis]{}, fmt.Errorf("list goal analyses: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				analysis GoalAnalysis
				encoded  []byte
			)
			if err := rows.Scan(&analysis.GoalID, &analysis.Summary, &encoded, &analysis.Model,
				&analysis.Source, &analysis.GeneratedAt); err != nil {
				return Paged[GoalWithAnalysis]{}, fmt.Errorf("scan goal analysis: %w", err)
			}
			if err := json.Unmarshal(encoded, &analysis.Recommendations); err != nil {
				return Paged[GoalWithAnalysis]{}, fmt.Errorf("decode recommendations: %w", err)
			}
			analyses[analysis.GoalID] = &analysis
		}
		if err := rows.Err(); err != nil {
			return Paged[GoalWithAnalysis]{}, fmt.Errorf("iterate goal analyses: %w", err)
		}
	}

	items := make([]GoalWithAnalysis, 0, len(goals.Items))
	for _, goal := range goals.Items {
		items = append(items, GoalWithAnalysis{Goal: goal, Analysis: analyses[goal.ID]})
	}
	return Paged[GoalWithAnalysis]{
		Items:      items,
		Total:      goals.Total,
		Page:       goals.Page,
		PageSize:   goals.PageSize,
		TotalPages: goals.TotalPages,
	}, nil
}
