package export

import (
	"context"
	"fmt"
	"io"

	"pdca/api/internal/authpw"
	"pdca/api/internal/rbac"
	"pdca/api/internal/store"
)

// ImportStore is the user storage an import writes to.
type ImportStore interface {
	ListUserEmails(ctx context.Context) ([]string, error)
	InsertUsers(ctx context.Context, users []store.User) error
}

// PasswordHasher hashes imported passwords. authpw.Service implements it.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
}

type ImportedUser struct {
	Row   int    `json:"row"`
	Email string `json:"email"`
	// TemporaryPassword is set when the sheet had no password for the row.
	TemporaryPassword string `json:"temporary_password,omitempty"`
}

type SkippedRow struct {
	Row    int    `json:"row"`
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

type ImportReport struct {
	Inserted []ImportedUser `json:"inserted"`
	Skipped  []SkippedRow   `json:"skipped"`
}

const (
	ReasonMissingEmail = "missing email"
	ReasonInvalidEmail = "invalid email"
	ReasonDuplicate    = "duplicate email in file"
	ReasonExists       = "email already registered"
	ReasonShortPass    = "password too short"
)

type Importer struct {
	store  ImportStore
	hasher PasswordHasher
}

func NewImporter(store ImportStore, hasher PasswordHasher) *Importer {
	return &Importer{store: store, hasher: hasher}
}

// ImportUsers reads a users workbook and inserts every row whose e-mail is
// new. Existing e-mails and repeats within the file are reported as skipped.
// All inserts happen in one transaction.
func (i *Importer) ImportUsers(ctx context.Context, r io.Reader) (ImportReport, error) {
	rows, err := ReadUserRows(r)
	if err != nil {
		return ImportReport{}, err
	}

	existing, err := i.store.ListUserEmails(ctx)
	if err != nil {
		return ImportReport{}, fmt.Errorf("list user emails: %w", err)
	}
	known := make(map[string]struct{}, len(existing)+len(rows))
	for _, email := range existing {
		known[authpw.NormalizeEmail(email)] = struct{}{}
	}
	inFile := make(map[string]struct{}, len(rows))

	report := ImportReport{Inserted: []ImportedUser{}, Skipped: []SkippedRow{}}
	users := make([]store.User, 0, len(rows))
	for _, row := range rows {
		email := authpw.NormalizeEmail(row.Email)
		skip := func(reason string) {
			report.Skipped = append(report.Skipped, SkippedRow{Row: row.Row, Email: email, Reason: reason})
		}

		switch {
		case email == "":
			skip(ReasonMissingEmail)
			continue
		case !authpw.ValidEmail(email):
			skip(ReasonInvalidEmail)
			continue
		}
		if _, dup := inFile[email]; dup {
			skip(ReasonDuplicate)
			continue
		}
		inFile[email] = struct{}{}
		if _, exists := known[email]; exists {
			skip(ReasonExists)
			continue
		}

		password := row.Password
		generated := ""
		if password == "" {
			generated, err = authpw.TemporaryPassword()
			if err != nil {
				return ImportReport{}, err
			}
			password = generated
		} else if len(password) < authpw.MinPasswordLength {
			skip(ReasonShortPass)
			continue
		}
		hash, err := i.hasher.HashPassword(password)
		if err != nil {
			return ImportReport{}, err
		}

		fullName := row.FullName
		if fullName == "" {
			fullName = email
		}
		users = append(users, store.User{
			Email:        email,
			FullName:     fullName,
			PasswordHash: hash,
			Role:         string(rbac.Normalize(row.Role)),
			Department:   row.Department,
			IsActive:     row.IsActive,
		})
		report.Inserted = append(report.Inserted, ImportedUser{Row: row.Row, Email: email, TemporaryPassword: generated})
	}

	if err := i.store.InsertUsers(ctx, users); err != nil {
		return ImportReport{}, fmt.Errorf("insert users: %w", err)
	}
	return report, nil
}
