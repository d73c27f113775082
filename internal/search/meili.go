package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"pdca/api/internal/logger"
)

const healthInterval = 10 * time.Second

var errMeiliDown = errors.New("meilisearch unhealthy")

// meiliIndex describes one Meilisearch index and how its hits map to results.
type meiliIndex struct {
	uid          string
	kind         ResultType
	filterable   []string
	searchable   []string
	titleField   string
	snippetField string
}

var (
	goalIndex = meiliIndex{
		uid:          "pdca_goals",
		kind:         ResultGoal,
		filterable:   []string{"department_key", "participants", "status", "priority"},
		searchable:   []string{"title", "description"},
		titleField:   "title",
		snippetField: "description",
	}
	commentIndex = meiliIndex{
		uid:          "pdca_comments",
		kind:         ResultComment,
		filterable:   []string{"department_key", "participants", "goal_id"},
		searchable:   []string{"text", "goal_title"},
		titleField:   "goal_title",
		snippetField: "text",
	}
	meiliIndexes = []meiliIndex{goalIndex, commentIndex}
)

func indexByUID(uid string) (meiliIndex, bool) {
	for _, idx := range meiliIndexes {
		if idx.uid == uid {
			return idx, true
		}
	}
	return meiliIndex{}, false
}

// Meili implements search and indexing via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	log     *logger.Logger
	healthy atomic.Bool
	stop    chan struct{}
}

// NewMeili connects to Meilisearch and keeps probing it in the background.
// Index settings are (re)applied every time the server becomes reachable.
func NewMeili(url, apiKey string, log *logger.Logger) *Meili {
	if log == nil {
		log = logger.Nop()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		log:    log,
		stop:   make(chan struct{}),
	}
	if !m.probe() {
		log.Warn("meilisearch unavailable", "url", url)
	}
	go m.watch()
	return m
}

// probe refreshes the health flag and reports whether the server is up.
func (m *Meili) probe() bool {
	_, err := m.client.Health()
	up := err == nil
	if was := m.healthy.Swap(up); up && !was {
		m.applySettings()
	}
	return up
}

func (m *Meili) watch() {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.probe()
		}
	}
}

func (m *Meili) applySettings() {
	for _, idx := range meiliIndexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idx.uid, PrimaryKey: "id"}); err != nil {
			m.log.Debug("create index", "index", idx.uid, "error", err)
		}
		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, 0, len(idx.filterable))
		for _, attr := range idx.filterable {
			filterable = append(filterable, attr)
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			m.log.Warn("set filterable attributes", "index", idx.uid, "error", err)
		}
		searchable := idx.searchable
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			m.log.Warn("set searchable attributes", "index", idx.uid, "error", err)
		}
	}
	m.log.Info("meilisearch indexes configured")
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.stop)
}

// Healthy reports whether the last probe or query reached Meilisearch.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// scopeFilter renders scope as a Meilisearch filter. ok is false when the
// scope can see nothing.
func scopeFilter(scope Scope) (filter string, ok bool) {
	if scope.All {
		return "", true
	}
	var parts []string
	if keys := departmentKeys(scope.Departments); len(keys) > 0 {
		quoted := make([]string, 0, len(keys))
		for _, key := range keys {
			quoted = append(quoted, strconv.Quote(key))
		}
		parts = append(parts, "department_key IN ["+strings.Join(quoted, ", ")+"]")
	}
	if scope.UserID != "" {
		parts = append(parts, "participants = "+strconv.Quote(scope.UserID))
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, " OR "), true
}

// Search runs one multi-search across the indexes q.FilterType selects.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.Healthy() {
		return nil, 0, errMeiliDown
	}
	filter, visible := scopeFilter(q.Scope)
	if !visible {
		return nil, 0, nil
	}
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}

	request := &meili.MultiSearchRequest{}
	for _, idx := range meiliIndexes {
		if q.FilterType != "" && q.FilterType != idx.kind {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              idx.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{idx.titleField, idx.snippetField},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}
		if filter != "" {
			sr.Filter = filter
		}
		request.Queries = append(request.Queries, sr)
	}
	if len(request.Queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(request)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var (
		results []Result
		total   int
	)
	for _, block := range resp.Results {
		idx, ok := indexByUID(block.IndexUID)
		if !ok {
			continue
		}
		total += int(block.EstimatedTotalHits)
		for _, hit := range block.Hits {
			results = append(results, idx.result(hit))
		}
	}
	return results, total, nil
}

// result converts a hit, preferring highlighted text for title and snippet.
func (idx meiliIndex) result(hit meili.Hit) Result {
	fields := readHit(hit)
	r := Result{
		Type:       idx.kind,
		ID:         fields.text("id"),
		Title:      fields.highlighted(idx.titleField),
		Snippet:    fields.highlighted(idx.snippetField),
		Department: fields.text("department"),
	}
	switch idx.kind {
	case ResultGoal:
		r.GoalID = r.ID
		r.Status = fields.text("status")
	case ResultComment:
		r.GoalID = fields.text("goal_id")
	}
	return r
}

type hitFields struct {
	hit       meili.Hit
	formatted map[string]json.RawMessage
}

func readHit(hit meili.Hit) hitFields {
	f := hitFields{hit: hit}
	if raw, ok := hit["_formatted"]; ok {
		_ = json.Unmarshal(raw, &f.formatted)
	}
	return f
}

func rawString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func (f hitFields) text(key string) string {
	return rawString(f.hit[key])
}

func (f hitFields) highlighted(key string) string {
	if marked := strings.TrimSpace(rawString(f.formatted[key])); marked != "" {
		return marked
	}
	return f.text(key)
}

func (m *Meili) IndexGoals(goals []GoalRecord) error {
	if len(goals) == 0 {
		return nil
	}
	_, err := m.client.Index(goalIndex.uid).AddDocuments(goals, nil)
	return err
}

func (m *Meili) IndexComments(items []CommentRecord) error {
	if len(items) == 0 {
		return nil
	}
	_, err := m.client.Index(commentIndex.uid).AddDocuments(items, nil)
	return err
}

// DeleteGoal removes the goal document and every comment indexed under it.
func (m *Meili) DeleteGoal(id string) error {
	if _, err := m.client.Index(goalIndex.uid).DeleteDocument(id, nil); err != nil {
		return err
	}
	_, err := m.client.Index(commentIndex.uid).DeleteDocumentsByFilter("goal_id = "+strconv.Quote(id), nil)
	return err
}

func (m *Meili) DeleteComments(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := m.client.Index(commentIndex.uid).DeleteDocuments(ids, nil)
	return err
}
