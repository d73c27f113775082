package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"pdca/api/internal/store"
)

const (
	usersSheet   = "Users"
	goalsSheet   = "Goals"
	dateLayout   = "2006-01-02"
	stampLayout  = time.RFC3339
	defaultSheet = "Sheet1"
)

// UsersWorkbook writes users to a single-sheet workbook.
func UsersWorkbook(users []store.User, now time.Time) (*Result, error) {
	rows := make([][]any, 0, len(users))
	for _, user := range users {
		rows = append(rows, []any{
			user.ID,
			user.Email,
			user.FullName,
			user.Role,
			user.Department,
			user.IsActive,
			user.CreatedAt.UTC().Format(stampLayout),
			user.UpdatedAt.UTC().Format(stampLayout),
		})
	}
	data, err := writeWorkbook(usersSheet, UserColumns, rows)
	if err != nil {
		return nil, fmt.Errorf("write users workbook: %w", err)
	}
	return &Result{Data: data, Filename: "users-" + now.Format(dateLayout) + ".xlsx", MimeType: MimeXLSX}, nil
}

// GoalsWorkbook writes goals to a single-sheet workbook.
func GoalsWorkbook(goals []store.Goal, now time.Time) (*Result, error) {
	rows := make([][]any, 0, len(goals))
	for _, goal := range goals {
		due := ""
		if goal.DueDate != nil {
			due = goal.DueDate.Format(dateLayout)
		}
		rows = append(rows, []any{
			goal.ID,
			goal.Title,
			goal.Department,
			goal.Team,
			goal.Status,
			goal.Priority,
			goal.Progress,
			goal.OwnerEmail,
			due,
			goal.CreatedAt.UTC().Format(stampLayout),
			goal.UpdatedAt.UTC().Format(stampLayout),
		})
	}
	data, err := writeWorkbook(goalsSheet, GoalColumns, rows)
	if err != nil {
		return nil, fmt.Errorf("write goals workbook: %w", err)
	}
	return &Result{Data: data, Filename: "goals-" + now.Format(dateLayout) + ".xlsx", MimeType: MimeXLSX}, nil
}

func writeWorkbook(sheet string, header []string, rows [][]any) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(defaultSheet, sheet); err != nil {
		return nil, err
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return nil, err
	}

	headerRow := make([]any, len(header))
	for i, name := range header {
		headerRow[i] = name
	}
	if err := sw.SetRow("A1", headerRow); err != nil {
		return nil, err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return nil, err
		}
	}
	if err := sw.Flush(); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UserRow is one data row of an imported users sheet. Row is the 1-based
// sheet row number.
type UserRow struct {
	Row        int
	Email      string
	FullName   string
	Role       string
	Department string
	IsActive   bool
	Password   string
}

// ReadUserRows reads the first sheet of an XLSX workbook. Columns are located
// by header name so the order does not matter; only email is required. Blank
// rows are skipped.
func ReadUserRows(r io.Reader) ([]UserRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkbook, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: no sheets", ErrInvalidWorkbook)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkbook, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: missing header row", ErrInvalidWorkbook)
	}

	index := map[string]int{}
	for i, name := range rows[0] {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := index["email"]; !ok {
		return nil, fmt.Errorf("%w: missing email column", ErrInvalidWorkbook)
	}

	cell := func(row []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	out := make([]UserRow, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		out = append(out, UserRow{
			Row:        i + 2,
			Email:      cell(row, "email"),
			FullName:   cell(row, "full_name"),
			Role:       cell(row, "role"),
			Department: cell(row, "department"),
			IsActive:   parseActive(cell(row, "is_active")),
			Password:   cell(row, "password"),
		})
	}
	return out, nil
}

func blank(row []string) bool {
	for _, value := range row {
		if strings.TrimSpace(value) != "" {
			return false
		}
	}
	return true
}

func parseActive(value string) bool {
	if value == "" {
		return true
	}
	switch strings.ToLower(value) {
	case "yes", "y", "active":
		return true
	case "no", "n", "inactive":
		return false
	}
	active, err := strconv.ParseBool(value)
	if err != nil {
		return true
	}
	return active
}
