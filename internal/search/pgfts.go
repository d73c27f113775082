package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches with PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// scopeSQL renders scope as a condition on the goals alias g, appending its
// arguments to args.
func scopeSQL(scope Scope, args []any) (string, []any, bool) {
	if scope.All {
		return "TRUE", args, true
	}
	var parts []string
	if keys := departmentKeys(scope.Departments); len(keys) > 0 {
		args = append(args, keys)
		parts = append(parts, fmt.Sprintf("LOWER(g.department) = ANY($%d)", len(args)))
	}
	if scope.UserID != "" {
		args = append(args, scope.UserID)
		n := len(args)
		parts = append(parts, fmt.Sprintf(`(g.owner_id = $%[1]d OR g.created_by = $%[1]d OR EXISTS (
			SELECT 1 FROM goal_assignees ga WHERE ga.goal_id = g.id AND ga.user_id = $%[1]d))`, n))
	}
	if len(parts) == 0 {
		return "", args, false
	}
	return "(" + strings.Join(parts, " OR ") + ")", args, true
}

// Search runs a UNION ALL query across goals and goal_comments using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	scope, args, visible := scopeSQL(q.Scope, []any{q.Text})
	if !visible {
		return nil, 0, nil
	}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultGoal {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'goal'::text AS type, g.id::text AS id, g.title,
				ts_headline('simple', coalesce(g.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				g.id::text AS goal_id, g.department, g.status,
				ts_rank(g.search_vector, %s) AS rank
			FROM goals g
			WHERE g.search_vector @@ %s AND %s`, tsQuery, tsQuery, tsQuery, scope))
	}

	if q.FilterType == "" || q.FilterType == ResultComment {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id::text AS id, g.title,
				ts_headline('simple', coalesce(c.comment, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				g.id::text AS goal_id, g.department, ''::text AS status,
				ts_rank(c.search_vector, %s) AS rank
			FROM goal_comments c
			JOIN goals g ON g.id = c.goal_id
			WHERE c.search_vector @@ %s AND %s`, tsQuery, tsQuery, tsQuery, scope))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, goal_id, department, status
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, limit, offset)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.GoalID, &r.Department, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}
