package export

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"pdca/api/internal/comments"
	"pdca/api/internal/store"
)

func TestUsersWorkbookColumns(t *testing.T) {
	created := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	result, err := UsersWorkbook([]store.User{
		{ID: "u1", Email: "ana@example.com", FullName: "Ana", Role: "Head", Department: "Ops", IsActive: true, CreatedAt: created, UpdatedAt: created},
	}, created)
	require.NoError(t, err)
	assert.Equal(t, "users-2024-02-01.xlsx", result.Filename)
	assert.Equal(t, MimeXLSX, result.MimeType)

	rows := readSheet(t, result.Data, usersSheet)
	require.Len(t, rows, 2)
	assert.Equal(t, UserColumns, rows[0])
	assert.Equal(t, "ana@example.com", rows[1][1])
	assert.Equal(t, "2024-02-01T08:00:00Z", rows[1][6])
}

func TestGoalsWorkbookColumns(t *testing.T) {
	due := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	result, err := GoalsWorkbook([]store.Goal{
		{ID: "g1", Title: "Reduce churn", Department: "Sales", Status: "Do", Priority: "High", Progress: 40, OwnerEmail: "pic@example.com", DueDate: &due},
		{ID: "g2", Title: "No due date", Status: "Plan"},
	}, due)
	require.NoError(t, err)

	rows := readSheet(t, result.Data, goalsSheet)
	require.Len(t, rows, 3)
	assert.Equal(t, GoalColumns, rows[0])
	assert.Equal(t, "40", rows[1][6])
	assert.Equal(t, "pic@example.com", rows[1][7])
	assert.Equal(t, "2024-03-31", rows[1][8])
	assert.Equal(t, "", rows[2][8])
}

func TestReadUserRows(t *testing.T) {
	data := workbook(t, [][]any{
		{"Full_Name", "EMAIL", "role", "is_active"},
		{"Ana", " Ana@Example.com ", "head", "FALSE"},
		{"", "", "", ""},
		{"Ben", "ben@example.com"},
	})

	rows, err := ReadUserRows(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, UserRow{Row: 2, Email: "Ana@Example.com", FullName: "Ana", Role: "head", IsActive: false}, rows[0])
	assert.Equal(t, 4, rows[1].Row)
	assert.True(t, rows[1].IsActive)
}

func TestReadUserRowsRejectsBadInput(t *testing.T) {
	_, err := ReadUserRows(strings.NewReader("not a workbook"))
	assert.ErrorIs(t, err, ErrInvalidWorkbook)

	_, err = ReadUserRows(bytes.NewReader(workbook(t, [][]any{{"name"}, {"Ana"}})))
	assert.ErrorIs(t, err, ErrInvalidWorkbook)
}

type importStore struct {
	emails   []string
	inserted []store.User
	err      error
}

func (s *importStore) ListUserEmails(ctx context.Context) ([]string, error) {
	return s.emails, nil
}

func (s *importStore) InsertUsers(ctx context.Context, users []store.User) error {
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, users...)
	return nil
}

type plainHasher struct{}

func (plainHasher) HashPassword(password string) (string, error) { return "hash:" + password, nil }

func TestImportUsersSkipsDuplicates(t *testing.T) {
	data := workbook(t, [][]any{
		{"email", "full_name", "role", "department", "password"},
		{"new@example.com", "New", "Admin", "Ops", "supersecret"},
		{"EXISTING@example.com", "Old", "", "", ""},
		{"NEW@example.com", "Again", "", "", ""},
		{"not-an-email", "Bad", "", "", ""},
		{"", "No Email", "", "", ""},
		{"short@example.com", "Short", "", "", "abc"},
		{"temp@example.com", "", "", "", ""},
		{"user@localhost", "Local", "", "", ""},
	})
	st := &importStore{emails: []string{"existing@example.com"}}

	report, err := NewImporter(st, plainHasher{}).ImportUsers(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)

	require.Len(t, report.Inserted, 2)
	assert.Equal(t, "new@example.com", report.Inserted[0].Email)
	assert.Empty(t, report.Inserted[0].TemporaryPassword)
	assert.Equal(t, "temp@example.com", report.Inserted[1].Email)
	assert.Len(t, report.Inserted[1].TemporaryPassword, 14)

	reasons := map[int]string{}
	for _, row := range report.Skipped {
		reasons[row.Row] = row.Reason
	}
	assert.Equal(t, map[int]string{
		3: ReasonExists,
		4: ReasonDuplicate,
		5: ReasonInvalidEmail,
		6: ReasonMissingEmail,
		7: ReasonShortPass,
		9: ReasonInvalidEmail,
	}, reasons)

	require.Len(t, st.inserted, 2)
	assert.Equal(t, "hash:supersecret", st.inserted[0].PasswordHash)
	assert.Equal(t, "Admin", st.inserted[0].Role)
	assert.Equal(t, "Employee", st.inserted[1].Role)
	assert.Equal(t, "temp@example.com", st.inserted[1].FullName)
	assert.True(t, st.inserted[1].IsActive)
}

func TestImportUsersReportsInsertFailure(t *testing.T) {
	data := workbook(t, [][]any{{"email"}, {"a@example.com"}})
	st := &importStore{err: errors.New("db down")}

	_, err := NewImporter(st, plainHasher{}).ImportUsers(context.Background(), bytes.NewReader(data))
	assert.Error(t, err)
}

type reportStore struct {
	goal     store.Goal
	history  []store.GoalStatusChange
	comments []comments.Comment
	users    map[string]store.User
	analysis *store.GoalAnalysis
}

func (s *reportStore) GetGoal(ctx context.Context, id string) (store.Goal, error) {
	if id != s.goal.ID {
		return store.Goal{}, sql.ErrNoRows
	}
	return s.goal, nil
}

func (s *reportStore) ListGoalStatusHistory(ctx context.Context, goalID string) ([]store.GoalStatusChange, error) {
	return s.history, nil
}

func (s *reportStore) ListComments(ctx context.Context, goalID string) ([]comments.Comment, error) {
	return s.comments, nil
}

func (s *reportStore) GetUsersByIDs(ctx context.Context, ids []string) (map[string]store.User, error) {
	return s.users, nil
}

func (s *reportStore) GetGoalAnalysis(ctx context.Context, goalID string) (store.GoalAnalysis, error) {
	if s.analysis == nil {
		return store.GoalAnalysis{}, sql.ErrNoRows
	}
	return *s.analysis, nil
}

func TestGoalReportRendersThreads(t *testing.T) {
	base := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	st := &reportStore{
		goal: store.Goal{ID: "g1", Title: "Ship <v2>", Status: "Check", OwnerID: "u1", Assignees: []string{"u2"}},
		history: []store.GoalStatusChange{
			{FromStatus: "Do", ToStatus: "Check", ChangedByName: "Ana", Note: "done", ChangedAt: base},
		},
		comments: []comments.Comment{
			{ID: "c1", AuthorName: "Ana", Comment: "First pass", CreatedAt: base},
			{ID: "c2", AuthorName: "Ben", Comment: "↳ c1: Looks fine", CreatedAt: base.Add(time.Hour)},
		},
		users:    map[string]store.User{"u1": {FullName: "Ana"}, "u2": {FullName: "Ben"}},
		analysis: &store.GoalAnalysis{Summary: "On track", Recommendations: []string{"Keep going"}},
	}
	svc := NewService(st)
	var rendered string
	svc.renderPDF = func(ctx context.Context, html string) ([]byte, error) {
		rendered = html
		return []byte("%PDF"), nil
	}

	result, err := svc.GoalReport(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "Ship-v2.pdf", result.Filename)
	assert.Equal(t, MimePDF, result.MimeType)
	assert.Equal(t, []byte("%PDF"), result.Data)

	assert.Contains(t, rendered, "Ship &lt;v2&gt;")
	assert.Contains(t, rendered, "<td>Ben</td>")
	assert.Contains(t, rendered, `<div class="replies">`)
	assert.Contains(t, rendered, "Looks fine")
	assert.NotContains(t, rendered, "↳ c1")
	assert.Contains(t, rendered, "Keep going")
}

func TestGoalReportMissingGoal(t *testing.T) {
	svc := NewService(&reportStore{})
	_, err := svc.GoalReport(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestPercentEncodeForDataURL(t *testing.T) {
	assert.Equal(t, "a%20b%3C%2F%3E", percentEncodeForDataURL("a b</>"))
	assert.Equal(t, "caf%C3%A9", percentEncodeForDataURL("café"))
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"Quarterly OKR review": "Quarterly-OKR-review",
		"!!!":                  "goal-report",
		strings.Repeat("a", 80): strings.Repeat("a", 50),
	}
	for input, want := range tests {
		if got := sanitizeFilename(input); got != want {
			t.Fatalf("sanitizeFilename(%q) = %q, want %q", input, got, want)
		}
	}
}

func workbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func readSheet(t *testing.T, data []byte, sheet string) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	return rows
}
