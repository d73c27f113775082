package store

import "time"

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	Department   string    `json:"department"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type UserFilter struct {
	Query      string
	Role       string
	Department string
	// Departments limits results to these departments when non-nil.
	Departments []string
}

type Department struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Teams       []Team    `json:"teams"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Team struct {
	ID           string    `json:"id"`
	DepartmentID string    `json:"department_id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
}

type Goal struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Department      string     `json:"department"`
	Team            string     `json:"team"`
	Status          string     `json:"status"`
	Priority        string     `json:"priority"`
	Progress        int        `json:"progress"`
	OwnerID         string     `json:"owner_id"`
	OwnerName       string     `json:"owner_name,omitempty"`
	OwnerEmail      string     `json:"owner_email,omitempty"`
	CreatedBy       string     `json:"created_by"`
	StartDate       *time.Time `json:"start_date"`
	DueDate         *time.Time `json:"due_date"`
	StatusChangedAt time.Time  `json:"status_changed_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Assignees       []string   `json:"assignees"`
}

// GoalScope restricts goal reads. A zero scope with All unset matches only
// goals in Departments or goals UserID is involved in.
type GoalScope struct {
	All         bool
	Departments []string
	UserID      string
}

type GoalFilter struct {
	Scope      GoalScope
	Status     string
	Priority   string
	Department string
	OwnerID    string
	Query      string
}

type GoalStatusChange struct {
	ID            string    `json:"id"`
	GoalID        string    `json:"goal_id"`
	FromStatus    string    `json:"from_status"`
	ToStatus      string    `json:"to_status"`
	ChangedBy     string    `json:"changed_by"`
	ChangedByName string    `json:"changed_by_name,omitempty"`
	Note          string    `json:"note"`
	ChangedAt     time.Time `json:"changed_at"`
}

type Attachment struct {
	ID          string    `json:"id"`
	GoalID      string    `json:"goal_id"`
	UserID      string    `json:"user_id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	ObjectKey   string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	GoalID    string    `json:"goal_id,omitempty"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

type GoalAnalysis struct {
	GoalID          string    `json:"goal_id"`
	Summary         string    `json:"summary"`
	Recommendations []string  `json:"recommendations"`
	Model           string    `json:"model"`
	Source          string    `json:"source"`
	GeneratedAt     time.Time `json:"generated_at"`
}

type GoalWithAnalysis struct {
	Goal
	Analysis *GoalAnalysis `json:"analysis"`
}
