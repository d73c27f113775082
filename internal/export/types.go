// Package export produces spreadsheet exports, reads user imports, and
// renders PDF goal reports.
package export

import "errors"

const (
	MimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimePDF  = "application/pdf"
)

// UserColumns is the header row of the users sheet, also accepted on import.
var UserColumns = []string{"id", "email", "full_name", "role", "department", "is_active", "created_at", "updated_at"}

// GoalColumns is the header row of the goals sheet.
var GoalColumns = []string{"id", "title", "department", "team", "status", "priority", "progress", "owner_email", "due_date", "created_at", "updated_at"}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrInvalidWorkbook indicates an import file could not be read as a users sheet.
	ErrInvalidWorkbook = errors.New("invalid import workbook")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
