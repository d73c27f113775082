package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultGoal    ResultType = "goal"
	ResultComment ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	GoalID     string     `json:"goal_id"`
	Department string     `json:"department"`
	Status     string     `json:"status,omitempty"`
}

// Scope limits results to what a caller may read: goals in Departments or
// goals UserID owns, created or is assigned to. All disables the limit.
type Scope struct {
	All         bool
	Departments []string
	UserID      string
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Scope      Scope
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// GoalRecord is the data we index for a goal.
type GoalRecord struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Department    string   `json:"department"`
	DepartmentKey string   `json:"department_key"`
	Status        string   `json:"status"`
	Priority      string   `json:"priority"`
	Participants  []string `json:"participants"`
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID            string   `json:"id"`
	GoalID        string   `json:"goal_id"`
	GoalTitle     string   `json:"goal_title"`
	Text          string   `json:"text"`
	Department    string   `json:"department"`
	DepartmentKey string   `json:"department_key"`
	Participants  []string `json:"participants"`
}
