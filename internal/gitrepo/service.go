// Package gitrepo keeps the version history of workflow configurations. Each
// configuration has its own repository under the base directory and every
// saved version is one commit of configuration.json on main.
package gitrepo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"pdca/api/internal/workflow"
)

const (
	contentFile = "configuration.json"
	mainBranch  = "main"
)

// Snapshot is the versioned part of a workflow configuration.
type Snapshot struct {
	Name            string                                  `json:"name"`
	Description     string                                  `json:"description"`
	Version         int                                     `json:"version"`
	Transitions     map[workflow.Status][]workflow.Status   `json:"transitions"`
	RolePermissions map[string][]string                     `json:"role_permissions"`
	StatusMetadata  map[workflow.Status]workflow.StatusMeta `json:"status_metadata"`
}

func SnapshotOf(cfg workflow.Configuration) Snapshot {
	return Snapshot{
		Name:            cfg.Name,
		Description:     cfg.Description,
		Version:         cfg.Version,
		Transitions:     cfg.Transitions,
		RolePermissions: cfg.RolePermissions,
		StatusMetadata:  cfg.StatusMetadata,
	}
}

type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// CommitConfiguration records cfg as a new revision. Saving a configuration
// whose snapshot equals the current head returns the head revision without
// committing.
func (s *Service) CommitConfiguration(cfg workflow.Configuration, author, message string) (Revision, error) {
	lock := s.configLock(cfg.ID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(cfg.ID)
	if err != nil {
		return Revision{}, err
	}

	snapshot := SnapshotOf(cfg)
	if head, err := repo.Head(); err == nil {
		commitObj, err := repo.CommitObject(head.Hash())
		if err != nil {
			return Revision{}, fmt.Errorf("load head commit: %w", err)
		}
		current, err := readSnapshot(commitObj)
		if err != nil {
			return Revision{}, err
		}
		if !HasChanges(current, snapshot) {
			return toRevision(commitObj), nil
		}
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return Revision{}, fmt.Errorf("resolve head: %w", err)
	}

	if message == "" {
		message = fmt.Sprintf("Save %s v%d", cfg.Name, cfg.Version)
	}
	hash, err := s.commit(repo, snapshot, author, message)
	if err != nil {
		return Revision{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), nil
}

// History lists revisions newest first. A configuration that was never
// committed has an empty history.
func (s *Service) History(configID string, limit int) ([]Revision, error) {
	lock := s.configLock(configID)
	lock.Lock()
	defer lock.Unlock()

	items := make([]Revision, 0)
	repo, err := git.PlainOpen(s.repoPath(configID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// SnapshotAt returns the configuration as of a revision hash or prefix.
func (s *Service) SnapshotAt(configID, hash string) (Snapshot, error) {
	lock := s.configLock(configID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(configID))
	if err != nil {
		return Snapshot{}, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return Snapshot{}, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readSnapshot(commitObj)
}

func (s *Service) repoPath(configID string) string {
	return filepath.Join(s.baseDir, "workflow-"+configID)
}

func (s *Service) configLock(configID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[configID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[configID] = lock
	return lock
}

func (s *Service) ensureRepo(configID string) (*git.Repository, error) {
	path := s.repoPath(configID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(mainBranch)},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) commit(repo *git.Repository, snapshot Snapshot, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal configuration: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, contentFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add configuration: %w", err)
	}

	if author == "" {
		author = "system"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.pdca", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit configuration: %w", err)
	}
	return hash, nil
}

func readSnapshot(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read content bytes: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode commit content: %w", err)
	}
	return snapshot, nil
}

// DiffFields lists the fields that differ between two snapshots, sorted by
// field name. Map-valued fields are compared by their canonical JSON.
func DiffFields(from, to Snapshot) []FieldChange {
	pairs := []FieldChange{
		{Field: "name", Before: from.Name, After: to.Name},
		{Field: "description", Before: from.Description, After: to.Description},
		{Field: "transitions", Before: canonical(from.Transitions), After: canonical(to.Transitions)},
		{Field: "role_permissions", Before: canonical(from.RolePermissions), After: canonical(to.RolePermissions)},
		{Field: "status_metadata", Before: canonical(from.StatusMetadata), After: canonical(to.StatusMetadata)},
	}
	result := make([]FieldChange, 0)
	for _, item := range pairs {
		if item.Before != item.After {
			result = append(result, item)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Field < result[j].Field
	})
	return result
}

// HasChanges ignores Version, which is bumped on every save.
func HasChanges(from, to Snapshot) bool {
	return len(DiffFields(from, to)) > 0
}

// canonical sorts slice values so that permission order does not count as a
// change. encoding/json already sorts map keys.
func canonical(value any) string {
	raw, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ""
	}
	sortLists(parsed)
	out, err := json.Marshal(parsed)
	if err != nil {
		return ""
	}
	if bytes.Equal(out, []byte("null")) {
		return "{}"
	}
	return string(out)
}

func sortLists(value any) {
	obj, ok := value.(map[string]any)
	if !ok {
		return
	}
	for _, item := range obj {
		switch v := item.(type) {
		case []any:
			sort.SliceStable(v, func(i, j int) bool {
				return fmt.Sprint(v[i]) < fmt.Sprint(v[j])
			})
		case map[string]any:
			sortLists(v)
		}
	}
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		Version:   versionOf(commitObj),
		CreatedAt: commitObj.Author.When,
	}
}

func versionOf(commitObj *object.Commit) int {
	snapshot, err := readSnapshot(commitObj)
	if err != nil {
		return 0
	}
	return snapshot.Version
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
