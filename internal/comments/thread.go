// Package comments implements goal comment threading.
//
// Replies are recorded in the comment text itself with a reply marker
// ("↳ <parent_id>: <text>") so that rows written before the parent_id column
// existed still thread correctly. When a row carries a parent_id column value
// that value wins over the prefix.
package comments

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// ReplyMarker starts every encoded reply.
const ReplyMarker = "↳ "

// MaxTextLength is the longest comment accepted, counted in characters.
const MaxTextLength = 10000

const idSeparator = ": "

// Comment is a comment row as stored.
type Comment struct {
	ID         string    `json:"id"`
	GoalID     string    `json:"goal_id"`
	UserID     string    `json:"user_id"`
	AuthorName string    `json:"author_name,omitempty"`
	Comment    string    `json:"comment"`
	ParentID   string    `json:"parent_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Parsed is a comment with its reply relationship decoded.
type Parsed struct {
	ID         string    `json:"id"`
	GoalID     string    `json:"goal_id"`
	UserID     string    `json:"user_id"`
	AuthorName string    `json:"author_name,omitempty"`
	Text       string    `json:"text"`
	ParentID   string    `json:"parent_id,omitempty"`
	IsReply    bool      `json:"is_reply"`
	CreatedAt  time.Time `json:"created_at"`
}

// Thread is a node of the reply tree.
type Thread struct {
	Parsed
	Replies    []*Thread `json:"replies"`
	ReplyCount int       `json:"reply_count"`
}

// Validation is the outcome of ValidateCommentText.
type Validation struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ParseComment decodes the reply marker of raw. Malformed markers are kept
// as plain text.
func ParseComment(raw Comment) Parsed {
	parsed := Parsed{
		ID:         raw.ID,
		GoalID:     raw.GoalID,
		UserID:     raw.UserID,
		AuthorName: raw.AuthorName,
		Text:       raw.Comment,
		CreatedAt:  raw.CreatedAt,
	}

	parentID, text, ok := splitMarker(raw.Comment)
	if ok {
		parsed.ParentID = parentID
		parsed.Text = text
		parsed.IsReply = true
	}

	if column := strings.TrimSpace(raw.ParentID); column != "" {
		parsed.ParentID = column
		parsed.IsReply = true
	}
	return parsed
}

func splitMarker(value string) (parentID, text string, ok bool) {
	if !strings.HasPrefix(value, ReplyMarker) {
		return "", "", false
	}
	rest := value[len(ReplyMarker):]
	idx := strings.Index(rest, idSeparator)
	if idx <= 0 {
		return "", "", false
	}
	parentID = strings.TrimSpace(rest[:idx])
	text = rest[idx+len(idSeparator):]
	if parentID == "" || strings.TrimSpace(text) == "" {
		return "", "", false
	}
	return parentID, text, true
}

// FormatCommentForStorage trims text and, for replies, prefixes the marker.
func FormatCommentForStorage(text, parentID string) string {
	trimmed := strings.TrimSpace(text)
	parentID = strings.TrimSpace(parentID)
	if parentID == "" {
		return trimmed
	}
	return ReplyMarker + parentID + idSeparator + trimmed
}

// BuildCommentThreads arranges comments into reply trees. Top-level comments
// are ordered newest first and replies oldest first. Replies whose parent is
// not part of comments are dropped, as is anything not reachable from a
// top-level comment.
func BuildCommentThreads(comments []Comment) []*Thread {
	parsed := parseUnique(comments)

	known := make(map[string]struct{}, len(parsed))
	for _, item := range parsed {
		known[item.ID] = struct{}{}
	}

	children := make(map[string][]Parsed)
	roots := make([]Parsed, 0, len(parsed))
	for _, item := range parsed {
		if !item.IsReply {
			roots = append(roots, item)
			continue
		}
		if _, ok := known[item.ParentID]; !ok {
			continue
		}
		children[item.ParentID] = append(children[item.ParentID], item)
	}

	sort.SliceStable(roots, func(i, j int) bool {
		return roots[i].CreatedAt.After(roots[j].CreatedAt)
	})
	for parentID := range children {
		replies := children[parentID]
		sort.SliceStable(replies, func(i, j int) bool {
			return replies[i].CreatedAt.Before(replies[j].CreatedAt)
		})
	}

	visited := make(map[string]struct{}, len(parsed))
	threads := make([]*Thread, 0, len(roots))
	for _, root := range roots {
		threads = append(threads, buildNode(root, children, visited))
	}
	return threads
}

func buildNode(item Parsed, children map[string][]Parsed, visited map[string]struct{}) *Thread {
	visited[item.ID] = struct{}{}
	node := &Thread{Parsed: item, Replies: []*Thread{}}
	for _, child := range children[item.ID] {
		if _, seen := visited[child.ID]; seen {
			continue
		}
		node.Replies = append(node.Replies, buildNode(child, children, visited))
	}
	node.ReplyCount = len(node.Replies)
	return node
}

// GetThreadCommentIDs returns rootID followed by the ids of every reply below
// it at any depth. It returns nil when rootID is not among comments.
func GetThreadCommentIDs(comments []Comment, rootID string) []string {
	parsed := parseUnique(comments)

	found := false
	children := make(map[string][]string)
	for _, item := range parsed {
		if item.ID == rootID {
			found = true
		}
		if item.IsReply {
			children[item.ParentID] = append(children[item.ParentID], item.ID)
		}
	}
	if !found {
		return nil
	}

	ids := []string{rootID}
	seen := map[string]struct{}{rootID: {}}
	for i := 0; i < len(ids); i++ {
		for _, child := range children[ids[i]] {
			if _, ok := seen[child]; ok {
				continue
			}
			seen[child] = struct{}{}
			ids = append(ids, child)
		}
	}
	return ids
}

// ValidateCommentText checks user supplied comment text before it is encoded.
func ValidateCommentText(text string) Validation {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Validation{Error: "comment cannot be empty"}
	}
	if utf8.RuneCountInString(trimmed) > MaxTextLength {
		return Validation{Error: "comment cannot exceed 10000 characters"}
	}
	if looksLikeReplyMarker(trimmed) {
		return Validation{Error: "comment cannot start with the reply marker"}
	}
	return Validation{Valid: true}
}

func looksLikeReplyMarker(text string) bool {
	if !strings.HasPrefix(text, ReplyMarker) {
		return false
	}
	rest := text[len(ReplyMarker):]
	idx := strings.Index(rest, ":")
	return idx > 0 && strings.TrimSpace(rest[:idx]) != ""
}

func parseUnique(comments []Comment) []Parsed {
	out := make([]Parsed, 0, len(comments))
	seen := make(map[string]struct{}, len(comments))
	for _, raw := range comments {
		if _, dup := seen[raw.ID]; dup {
			continue
		}
		seen[raw.ID] = struct{}{}
		out = append(out, ParseComment(raw))
	}
	return out
}
