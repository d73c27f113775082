package app

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"pdca/api/internal/attachments"
	"pdca/api/internal/comments"
	"pdca/api/internal/config"
	"pdca/api/internal/gitrepo"
	"pdca/api/internal/search"
	"pdca/api/internal/session"
	"pdca/api/internal/store"
	"pdca/api/internal/workflow"
)

// fixedNow is the service clock for a test run. Session tokens are checked
// against the wall clock, so it stays close to time.Now.
var fixedNow = time.Now().UTC().Truncate(time.Second)

// fakeStore is an in-memory dataStore. Methods a test does not need fall
// through to the nil embedded interface and panic.
type fakeStore struct {
	dataStore

	mu              sync.Mutex
	seq             int
	pingErr         error
	changeStatusErr error
	getGoalErr      error
	userFilters     []store.UserFilter

	users           map[string]store.User
	userDepartments map[string][]string
	departments     []store.Department
	goals           map[string]store.Goal
	history         []store.GoalStatusChange
	comments        []comments.Comment
	attachments     map[string]store.Attachment
	rules           []workflow.Rule
	configs         map[string]workflow.Configuration
	activeConfigID  string
	analyses        map[string]store.GoalAnalysis
}

func newFakeStore() *fakeStore {
	fs := &fakeStore{
		users:           map[string]store.User{},
		userDepartments: map[string][]string{},
		departments: []store.Department{
			{ID: "d-sales", Name: "Sales"},
			{ID: "d-ops", Name: "Ops"},
		},
		goals:       map[string]store.Goal{},
		attachments: map[string]store.Attachment{},
		configs:     map[string]workflow.Configuration{},
		analyses:    map[string]store.GoalAnalysis{},
	}
	for _, user := range []store.User{
		{ID: "u-admin", Email: "admin@example.com", FullName: "Ada Admin", Role: "Admin", Department: "Ops", IsActive: true},
		{ID: "u-head", Email: "head@example.com", FullName: "Hal Head", Role: "Head", Department: "Sales", IsActive: true},
		{ID: "u-ana", Email: "ana@example.com", FullName: "Ana", Role: "Employee", Department: "Sales", IsActive: true},
		{ID: "u-ben", Email: "ben@example.com", FullName: "Ben", Role: "Employee", Department: "Sales", IsActive: true},
		{ID: "u-eve", Email: "eve@example.com", FullName: "Eve", Role: "Employee", Department: "Ops", IsActive: true},
	} {
		fs.users[user.ID] = user
	}
	return fs
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeStore) addGoal(goal store.Goal) store.Goal {
	f.mu.Lock()
	defer f.mu.Unlock()
	if goal.Status == "" {
		goal.Status = string(workflow.StatusPlan)
	}
	if goal.StatusChangedAt.IsZero() {
		goal.StatusChangedAt = fixedNow.Add(-24 * time.Hour)
	}
	f.goals[goal.ID] = goal
	return goal
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return store.User{}, store.ErrConflict
		}
	}
	user.ID = f.nextID("u")
	user.CreatedAt = fixedNow
	user.UpdatedAt = fixedNow
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetUsersByIDs(_ context.Context, ids []string) (map[string]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]store.User, len(ids))
	for _, id := range ids {
		if user, ok := f.users[id]; ok {
			out[id] = user
		}
	}
	return out, nil
}

func (f *fakeStore) ListUsers(_ context.Context, filter store.UserFilter, page store.Page) (store.Paged[store.User], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userFilters = append(f.userFilters, filter)
	var items []store.User
	for _, user := range f.users {
		if filter.Departments != nil && !containsFold(filter.Departments, user.Department) {
			continue
		}
		items = append(items, user)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	total := len(items)
	start := min(page.Offset(), total)
	end := min(start+page.Limit(), total)
	return store.NewPaged(items[start:end], total, page), nil
}

func (f *fakeStore) AllUsers(context.Context) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []store.User
	for _, user := range f.users {
		items = append(items, user)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) SetUserActive(_ context.Context, id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	user.IsActive = active
	f.users[id] = user
	return nil
}

func (f *fakeStore) ListUserDepartments(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.userDepartments[userID]...), nil
}

func (f *fakeStore) ReplaceUserDepartments(_ context.Context, userID string, departments []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userDepartments[userID] = append([]string(nil), departments...)
	return nil
}

func (f *fakeStore) ListDepartments(context.Context) ([]store.Department, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Department(nil), f.departments...), nil
}

func (f *fakeStore) ListGoals(_ context.Context, filter store.GoalFilter, page store.Page) (store.Paged[store.Goal], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []store.Goal
	for _, goal := range f.goals {
		if !inScope(filter.Scope, goal) {
			continue
		}
		if filter.Status != "" && goal.Status != filter.Status {
			continue
		}
		items = append(items, goal)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return store.NewPaged(items, len(items), page), nil
}

func inScope(scope store.GoalScope, goal store.Goal) bool {
	if scope.All || containsFold(scope.Departments, goal.Department) {
		return true
	}
	if goal.OwnerID == scope.UserID || goal.CreatedBy == scope.UserID {
		return true
	}
	for _, id := range goal.Assignees {
		if id == scope.UserID {
			return true
		}
	}
	return false
}

func (f *fakeStore) AllGoals(context.Context) ([]store.Goal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []store.Goal
	for _, goal := range f.goals {
		items = append(items, goal)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) GetGoal(_ context.Context, id string) (store.Goal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getGoalErr != nil {
		return store.Goal{}, f.getGoalErr
	}
	goal, ok := f.goals[id]
	if !ok {
		return store.Goal{}, sql.ErrNoRows
	}
	return goal, nil
}

func (f *fakeStore) CreateGoal(_ context.Context, goal store.Goal) (store.Goal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	goal.ID = f.nextID("g")
	goal.CreatedAt = fixedNow
	goal.UpdatedAt = fixedNow
	goal.StatusChangedAt = fixedNow
	if goal.Assignees == nil {
		goal.Assignees = []string{}
	}
	f.goals[goal.ID] = goal
	return goal, nil
}

func (f *fakeStore) UpdateGoal(_ context.Context, goal store.Goal) (store.Goal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.goals[goal.ID]
	if !ok {
		return store.Goal{}, sql.ErrNoRows
	}
	if goal.Assignees == nil {
		goal.Assignees = existing.Assignees
	}
	goal.Status = existing.Status
	goal.StatusChangedAt = existing.StatusChangedAt
	goal.UpdatedAt = fixedNow
	f.goals[goal.ID] = goal
	return goal, nil
}

func (f *fakeStore) ChangeGoalStatus(_ context.Context, goalID, from, to, changedBy, note string) (store.GoalStatusChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.changeStatusErr != nil {
		return store.GoalStatusChange{}, f.changeStatusErr
	}
	goal, ok := f.goals[goalID]
	if !ok {
		return store.GoalStatusChange{}, sql.ErrNoRows
	}
	if goal.Status != from {
		return store.GoalStatusChange{}, store.ErrStatusConflict
	}
	goal.Status = to
	goal.StatusChangedAt = fixedNow
	f.goals[goalID] = goal
	change := store.GoalStatusChange{
		ID:         f.nextID("h"),
		GoalID:     goalID,
		FromStatus: from,
		ToStatus:   to,
		ChangedBy:  changedBy,
		Note:       note,
		ChangedAt:  fixedNow,
	}
	f.history = append(f.history, change)
	return change, nil
}

func (f *fakeStore) DeleteGoal(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.goals[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.goals, id)
	return nil
}

func (f *fakeStore) ListGoalStatusHistory(_ context.Context, goalID string) ([]store.GoalStatusChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.GoalStatusChange{}
	for _, change := range f.history {
		if change.GoalID == goalID {
			out = append(out, change)
		}
	}
	return out, nil
}

func (f *fakeStore) ListComments(_ context.Context, goalID string) ([]comments.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []comments.Comment
	for _, item := range f.comments {
		if item.GoalID == goalID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeStore) GetComment(_ context.Context, goalID, commentID string) (comments.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.comments {
		if item.GoalID == goalID && item.ID == commentID {
			return item, nil
		}
	}
	return comments.Comment{}, sql.ErrNoRows
}

func (f *fakeStore) InsertComment(_ context.Context, item comments.Comment) (comments.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item.ID == "" {
		item.ID = f.nextID("c")
	}
	item.CreatedAt = fixedNow
	f.comments = append(f.comments, item)
	return item, nil
}

func (f *fakeStore) DeleteComments(_ context.Context, goalID string, ids []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	remove := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		remove[id] = struct{}{}
	}
	var kept []comments.Comment
	var deleted int64
	for _, item := range f.comments {
		if _, ok := remove[item.ID]; ok && item.GoalID == goalID {
			deleted++
			continue
		}
		kept = append(kept, item)
	}
	f.comments = kept
	return deleted, nil
}

func (f *fakeStore) InsertAttachment(_ context.Context, item store.Attachment) (store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.CreatedAt = fixedNow
	f.attachments[item.ID] = item
	return item, nil
}

func (f *fakeStore) ListAttachments(_ context.Context, goalID string) ([]store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Attachment{}
	for _, item := range f.attachments {
		if item.GoalID == goalID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetAttachment(_ context.Context, id string) (store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.attachments[id]
	if !ok {
		return store.Attachment{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) DeleteAttachment(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.attachments[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.attachments, id)
	return nil
}

func (f *fakeStore) ListWorkflowRules(_ context.Context, activeOnly bool) ([]workflow.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []workflow.Rule
	for _, rule := range f.rules {
		if activeOnly && !rule.IsActive {
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

func (f *fakeStore) GetWorkflowRule(_ context.Context, id string) (workflow.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rule := range f.rules {
		if rule.ID == id {
			return rule, nil
		}
	}
	return workflow.Rule{}, sql.ErrNoRows
}

func (f *fakeStore) InsertWorkflowRule(_ context.Context, rule workflow.Rule) (workflow.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rule.ID = f.nextID("r")
	f.rules = append(f.rules, rule)
	return rule, nil
}

func (f *fakeStore) UpdateWorkflowRule(_ context.Context, rule workflow.Rule) (workflow.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rules {
		if f.rules[i].ID == rule.ID {
			f.rules[i] = rule
			return rule, nil
		}
	}
	return workflow.Rule{}, sql.ErrNoRows
}

func (f *fakeStore) GetActiveWorkflowConfiguration(context.Context) (workflow.Configuration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.configs[f.activeConfigID]
	if !ok {
		return workflow.Configuration{}, workflow.ErrNoActiveConfiguration
	}
	return cfg, nil
}

func (f *fakeStore) GetWorkflowConfiguration(_ context.Context, id string) (workflow.Configuration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.configs[id]
	if !ok {
		return workflow.Configuration{}, sql.ErrNoRows
	}
	return cfg, nil
}

func (f *fakeStore) InsertWorkflowConfiguration(_ context.Context, cfg workflow.Configuration) (workflow.Configuration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg.ID = f.nextID("wf")
	cfg.Version = 1
	f.configs[cfg.ID] = cfg
	return cfg, nil
}

func (f *fakeStore) UpdateWorkflowConfiguration(_ context.Context, cfg workflow.Configuration) (workflow.Configuration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.configs[cfg.ID]
	if !ok {
		return workflow.Configuration{}, sql.ErrNoRows
	}
	cfg.Version = existing.Version + 1
	cfg.CreatedBy = existing.CreatedBy
	f.configs[cfg.ID] = cfg
	return cfg, nil
}

func (f *fakeStore) ActivateWorkflowConfiguration(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.configs[id]; !ok {
		return sql.ErrNoRows
	}
	f.activeConfigID = id
	return nil
}

func (f *fakeStore) GetGoalAnalysis(_ context.Context, goalID string) (store.GoalAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result, ok := f.analyses[goalID]
	if !ok {
		return store.GoalAnalysis{}, sql.ErrNoRows
	}
	return result, nil
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

type recordingSearch struct {
	mu              sync.Mutex
	indexedGoals    []string
	indexedComments []string
	deletedGoals    []string
	deletedComments [][]string
	queries         []search.Query
}

func (r *recordingSearch) Search(_ context.Context, q search.Query) search.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, q)
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (r *recordingSearch) IndexGoal(goal store.Goal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexedGoals = append(r.indexedGoals, goal.ID)
}

func (r *recordingSearch) IndexComment(_ store.Goal, comment comments.Comment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexedComments = append(r.indexedComments, comment.ID)
}

func (r *recordingSearch) DeleteGoal(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletedGoals = append(r.deletedGoals, id)
}

func (r *recordingSearch) DeleteComments(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletedComments = append(r.deletedComments, ids)
}

type statusNotice struct {
	goalID string
	from   workflow.Status
	to     workflow.Status
	policy workflow.NotificationRuleConfig
}

type recordingNotifier struct {
	mu            sync.Mutex
	assigned      [][]string
	statusChanges []statusNotice
	commentParent []string
}

func (n *recordingNotifier) GoalAssigned(_ context.Context, _ store.Goal, _ string, assignees []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.assigned = append(n.assigned, assignees)
	return nil
}

func (n *recordingNotifier) StatusChanged(_ context.Context, goal store.Goal, from, to workflow.Status, _ string, policy workflow.NotificationRuleConfig) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statusChanges = append(n.statusChanges, statusNotice{goalID: goal.ID, from: from, to: to, policy: policy})
	return nil
}

func (n *recordingNotifier) CommentAdded(_ context.Context, _ store.Goal, _, _, parentAuthorID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.commentParent = append(n.commentParent, parentAuthorID)
	return nil
}

type recordingAnalyzer struct {
	mu        sync.Mutex
	scheduled []string
}

func (a *recordingAnalyzer) Analyze(_ context.Context, goalID string) (store.GoalAnalysis, error) {
	return store.GoalAnalysis{GoalID: goalID, Summary: "fresh", Source: "template", GeneratedAt: fixedNow}, nil
}

func (a *recordingAnalyzer) Schedule(goalID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scheduled = append(a.scheduled, goalID)
}

// memoryHistory keeps committed configurations in order.
type memoryHistory struct {
	mu      sync.Mutex
	commits []workflow.Configuration
	authors []string
}

func (h *memoryHistory) CommitConfiguration(cfg workflow.Configuration, author, message string) (gitrepo.Revision, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commits = append(h.commits, cfg)
	h.authors = append(h.authors, author)
	return gitrepo.Revision{Hash: fmt.Sprintf("rev%04d", len(h.commits)), Message: message, Author: author, Version: cfg.Version}, nil
}

func (h *memoryHistory) History(configID string, limit int) ([]gitrepo.Revision, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []gitrepo.Revision
	for i := len(h.commits) - 1; i >= 0; i-- {
		if h.commits[i].ID != configID {
			continue
		}
		out = append(out, gitrepo.Revision{Hash: fmt.Sprintf("rev%04d", i+1), Version: h.commits[i].Version})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (h *memoryHistory) SnapshotAt(_ string, hash string) (gitrepo.Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var n int
	if _, err := fmt.Sscanf(hash, "rev%04d", &n); err != nil || n < 1 || n > len(h.commits) {
		return gitrepo.Snapshot{}, fmt.Errorf("unknown revision %q", hash)
	}
	return gitrepo.SnapshotOf(h.commits[n-1]), nil
}

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryObjects) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryObjects) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

type testEnv struct {
	svc      *Service
	store    *fakeStore
	search   *recordingSearch
	notify   *recordingNotifier
	analyzer *recordingAnalyzer
	history  *memoryHistory
	objects  *memoryObjects
	redis    *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	redisStore, err := session.NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("redis store: %v", err)
	}
	t.Cleanup(func() { _ = redisStore.Close() })

	env := &testEnv{
		store:    newFakeStore(),
		search:   &recordingSearch{},
		notify:   &recordingNotifier{},
		analyzer: &recordingAnalyzer{},
		history:  &memoryHistory{},
		objects:  &memoryObjects{objects: map[string][]byte{}},
		redis:    mr,
	}
	cfg := config.Config{
		SessionSecret:  "test-secret",
		SessionTTL:     config.Duration(time.Hour),
		MaxUploadBytes: 1 << 20,
	}
	env.svc = New(cfg, Deps{
		Store:       env.store,
		Revoker:     session.NewFallback(redisStore, nil, nil),
		Search:      env.search,
		Notifier:    env.notify,
		Analyzer:    env.analyzer,
		Attachments: attachments.NewService(env.objects, env.store, nil, cfg.MaxUploadBytes),
		History:     env.history,
	})
	env.svc.now = func() time.Time { return fixedNow }
	return env
}

func (e *testEnv) session(userID string) Session {
	user := e.store.users[userID]
	return Session{
		UserID:     user.ID,
		Email:      user.Email,
		FullName:   user.FullName,
		Role:       user.Role,
		Department: user.Department,
	}
}

// token issues a real session token for userID.
func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	issued, err := e.svc.issueSession(e.store.users[userID])
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return issued.Token
}

func salesGoal(id string) store.Goal {
	due := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	return store.Goal{
		ID:          id,
		Title:       "Grow pipeline",
		Description: "Double qualified leads",
		Department:  "Sales",
		Priority:    "High",
		Progress:    10,
		OwnerID:     "u-ana",
		CreatedBy:   "u-ana",
		DueDate:     &due,
		Assignees:   []string{"u-ben"},
	}
}

func errorCode(err error) (int, string) {
	status, code, _, _ := mapError(err)
	return status, code
}
