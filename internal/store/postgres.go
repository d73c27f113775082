package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConflict is returned when a write violates a unique constraint.
var ErrConflict = errors.New("conflict")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func newID() string {
	return uuid.NewString()
}

func nullString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func wrapUnique(err error, what string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", what, ErrConflict)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// requireIDs reports sql.ErrNoRows for any id that is not a UUID, since no row
// in a UUID column can match it.
func requireIDs(ids ...string) error {
	for _, id := range ids {
		if uuid.Validate(id) != nil {
			return sql.ErrNoRows
		}
	}
	return nil
}

// onlyUUIDs drops ids that cannot match a UUID column.
func onlyUUIDs(ids []string) []string {
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if uuid.Validate(id) == nil {
			kept = append(kept, id)
		}
	}
	return kept
}

// IsInvalidInput reports whether Postgres rejected a value it could not parse
// for its column type, such as a malformed UUID.
func IsInvalidInput(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func requireRow(result sql.Result, err error, what string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const userColumns = `id, email, full_name, password_hash, role, department, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.FullName, &user.PasswordHash, &user.Role,
		&user.Department, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	if user.ID == "" {
		user.ID = newID()
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, full_name, password_hash, role, department, is_active)
		VALUES ($1, LOWER($2), $3, $4, $5, $6, $7)
		RETURNING `+userColumns,
		user.ID, user.Email, user.FullName, user.PasswordHash, user.Role, user.Department, user.IsActive)
	created, err := scanUser(row)
	if err != nil {
		return User{}, wrapUnique(err, "create user")
	}
	return created, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = LOWER($1)`, email))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	if err := requireIDs(id); err != nil {
		return User{}, err
	}
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *PostgresStore) GetUsersByIDs(ctx context.Context, ids []string) (map[string]User, error) {
	ids = onlyUUIDs(ids)
	out := make(map[string]User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out[user.ID] = user
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, filter UserFilter, page Page) (Paged[User], error) {
	c := &conditions{}
	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern := c.arg("%" + q + "%")
		c.where("(email ILIKE " + pattern + " OR full_name ILIKE " + pattern + ")")
	}
	if filter.Role != "" {
		c.where("role = " + c.arg(filter.Role))
	}
	if filter.Department != "" {
		c.where("department = " + c.arg(filter.Department))
	}
	if filter.Departments != nil {
		c.where("department = ANY(" + c.arg(filter.Departments) + ")")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE `+c.String(), c.args...).Scan(&total); err != nil {
		return Paged[User]{}, fmt.Errorf("count users: %w", err)
	}

	where := c.String()
	limit, offset := c.arg(page.Limit()), c.arg(page.Offset())
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where+`
		ORDER BY full_name, email
		LIMIT `+limit+` OFFSET `+offset, c.args...)
	if err != nil {
		return Paged[User]{}, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return Paged[User]{}, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return Paged[User]{}, fmt.Errorf("iterate users: %w", err)
	}
	return NewPaged(items, total, page), nil
}

func (s *PostgresStore) AllUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, email`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListUserEmails(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT email FROM users`)
	if err != nil {
		return nil, fmt.Errorf("list user emails: %w", err)
	}
	defer rows.Close()

	emails := make([]string, 0)
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate emails: %w", err)
	}
	return emails, nil
}

// InsertUsers creates every user in one transaction.
func (s *PostgresStore) InsertUsers(ctx context.Context, users []User) error {
	if len(users) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO users (id, email, full_name, password_hash, role, department, is_active)
			VALUES ($1, LOWER($2), $3, $4, $5, $6, $7)
		`)
		if err != nil {
			return fmt.Errorf("prepare user insert: %w", err)
		}
		defer stmt.Close()
		for _, user := range users {
			if user.ID == "" {
				user.ID = newID()
			}
			if _, err := stmt.ExecContext(ctx, user.ID, user.Email, user.FullName, user.PasswordHash,
				user.Role, user.Department, user.IsActive); err != nil {
				return wrapUnique(err, "insert user "+user.Email)
			}
		}
		return nil
	})
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, id, role string) error {
	if err := requireIDs(id); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `UPDATE users SET role=$2, updated_at=NOW() WHERE id=$1`, id, role)
	return requireRow(result, err, "update user role")
}

func (s *PostgresStore) SetUserActive(ctx context.Context, id string, active bool) error {
	if err := requireIDs(id); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `UPDATE users SET is_active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	return requireRow(result, err, "update user status")
}

func (s *PostgresStore) ListUserDepartments(ctx context.Context, userID string) ([]string, error) {
	if err := requireIDs(userID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT department FROM user_department_permissions WHERE user_id=$1 ORDER BY department
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user departments: %w", err)
	}
	defer rows.Close()

	departments := make([]string, 0)
	for rows.Next() {
		var department string
		if err := rows.Scan(&department); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		departments = append(departments, department)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate departments: %w", err)
	}
	return departments, nil
}

// ReplaceUserDepartments swaps the department permissions of a user in one
// transaction.
func (s *PostgresStore) ReplaceUserDepartments(ctx context.Context, userID string, departments []string) error {
	if err := requireIDs(userID); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id=$1)`, userID).Scan(&exists); err != nil {
			return fmt.Errorf("check user: %w", err)
		}
		if !exists {
			return sql.ErrNoRows
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_department_permissions WHERE user_id=$1`, userID); err != nil {
			return fmt.Errorf("clear user departments: %w", err)
		}
		for _, department := range departments {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO user_department_permissions (user_id, department)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, userID, department); err != nil {
				return fmt.Errorf("insert user department: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at FROM departments ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	defer rows.Close()

	items := make([]Department, 0)
	index := map[string]int{}
	for rows.Next() {
		var item Department
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		item.Teams = []Team{}
		index[item.ID] = len(items)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate departments: %w", err)
	}

	teams, err := s.listTeams(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, team := range teams {
		if i, ok := index[team.DepartmentID]; ok {
			items[i].Teams = append(items[i].Teams, team)
		}
	}
	return items, nil
}

func (s *PostgresStore) GetDepartment(ctx context.Context, id string) (Department, error) {
	if err := requireIDs(id); err != nil {
		return Department{}, err
	}
	var item Department
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at FROM departments WHERE id=$1
	`, id).Scan(&item.ID, &item.Name, &item.Description, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Department{}, err
	}
	teams, err := s.listTeams(ctx, id)
	if err != nil {
		return Department{}, err
	}
	item.Teams = teams
	return item, nil
}

func (s *PostgresStore) CreateDepartment(ctx context.Context, name, description string) (Department, error) {
	item := Department{ID: newID(), Name: name, Description: description, Teams: []Team{}}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO departments (id, name, description) VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, item.ID, name, description).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Department{}, wrapUnique(err, "create department")
	}
	return item, nil
}

func (s *PostgresStore) UpdateDepartment(ctx context.Context, id, name, description string) error {
	if err := requireIDs(id); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE departments SET name=$2, description=$3, updated_at=NOW() WHERE id=$1
	`, id, name, description)
	if err != nil {
		return wrapUnique(err, "update department")
	}
	return requireRow(result, nil, "update department")
}

func (s *PostgresStore) DeleteDepartment(ctx context.Context, id string) error {
	if err := requireIDs(id); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM departments WHERE id=$1`, id)
	return requireRow(result, err, "delete department")
}

func (s *PostgresStore) CreateTeam(ctx context.Context, departmentID, name string) (Team, error) {
	if err := requireIDs(departmentID); err != nil {
		return Team{}, err
	}
	team := Team{ID: newID(), DepartmentID: departmentID, Name: name}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO teams (id, department_id, name) VALUES ($1, $2, $3)
		RETURNING created_at
	`, team.ID, departmentID, name).Scan(&team.CreatedAt)
	if err != nil {
		return Team{}, wrapUnique(err, "create team")
	}
	return team, nil
}

func (s *PostgresStore) ListTeams(ctx context.Context, departmentID string) ([]Team, error) {
	if departmentID != "" {
		if err := requireIDs(departmentID); err != nil {
			return nil, err
		}
	}
	return s.listTeams(ctx, departmentID)
}

func (s *PostgresStore) listTeams(ctx context.Context, departmentID string) ([]Team, error) {
	query := `SELECT id, department_id, name, created_at FROM teams`
	args := []any{}
	if departmentID != "" {
		query += ` WHERE department_id=$1`
		args = append(args, departmentID)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY name`, args...)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	teams := make([]Team, 0)
	for rows.Next() {
		var team Team
		if err := rows.Scan(&team.ID, &team.DepartmentID, &team.Name, &team.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, team)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate teams: %w", err)
	}
	return teams, nil
}

// RevokedSessions is the Postgres side of session revocation.
type RevokedSessions struct {
	db *sql.DB
}

func (s *PostgresStore) RevokedSessions() *RevokedSessions {
	return &RevokedSessions{db: s.db}
}

func (r *RevokedSessions) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO revoked_sessions (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM revoked_sessions WHERE expires_at < NOW()`); err != nil {
		return fmt.Errorf("prune revoked sessions: %w", err)
	}
	return nil
}

func (r *RevokedSessions) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_sessions WHERE jti=$1 AND expires_at > NOW())
	`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked session: %w", err)
	}
	return revoked, nil
}
