package versions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const versionsDir = "versions"

// GitBackend keeps one repository per page under baseDir. Each snapshot,
// together with the evictions it causes, is a single commit.
type GitBackend struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewGitBackend(baseDir string) *GitBackend {
	return &GitBackend{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (g *GitBackend) Append(_ context.Context, pageID string, snap Snapshot, keep int) (int64, error) {
	lock := g.pageLock(pageID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := g.openOrInit(pageID)
	if err != nil {
		return 0, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return 0, fmt.Errorf("open worktree: %w", err)
	}

	root := worktree.Filesystem.Root()
	if err := os.MkdirAll(filepath.Join(root, versionsDir), 0o755); err != nil {
		return 0, fmt.Errorf("create versions dir: %w", err)
	}
	ids, err := storedIDs(filepath.Join(root, versionsDir))
	if err != nil {
		return 0, err
	}
	var last int64
	if len(ids) > 0 {
		last = ids[len(ids)-1]
	}
	snap.VersionID = nextID(snap.VersionID, last)

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}
	name := versionFile(snap.VersionID)
	if err := os.WriteFile(filepath.Join(root, filepath.FromSlash(name)), append(payload, '\n'), 0o644); err != nil {
		return 0, fmt.Errorf("write %s: %w", name, err)
	}
	if _, err := worktree.Add(name); err != nil {
		return 0, fmt.Errorf("git add snapshot: %w", err)
	}

	ids = append(ids, snap.VersionID)
	evicted := 0
	for keep > 0 && len(ids) > keep {
		if _, err := worktree.Remove(versionFile(ids[0])); err != nil {
			return 0, fmt.Errorf("git rm version %d: %w", ids[0], err)
		}
		ids = ids[1:]
		evicted++
	}

	message := fmt.Sprintf("Snapshot %d", snap.VersionID)
	if evicted > 0 {
		message = fmt.Sprintf("%s\n\nevicted: %d", message, evicted)
	}
	if _, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "pagepush",
			Email: "pagepush@localhost",
			When:  time.Now(),
		},
	}); err != nil {
		return 0, fmt.Errorf("commit snapshot: %w", err)
	}
	return snap.VersionID, nil
}

func (g *GitBackend) List(_ context.Context, pageID string) ([]Snapshot, error) {
	lock := g.pageLock(pageID)
	lock.Lock()
	defer lock.Unlock()

	commitObj, err := g.head(pageID)
	if err != nil || commitObj == nil {
		return []Snapshot{}, err
	}
	files, err := commitObj.Files()
	if err != nil {
		return nil, fmt.Errorf("read tree: %w", err)
	}
	defer files.Close()

	items := make([]Snapshot, 0)
	err = files.ForEach(func(file *object.File) error {
		if path.Dir(file.Name) != versionsDir {
			return nil
		}
		snap, err := decodeFile(file)
		if err != nil {
			return err
		}
		items = append(items, snap)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].VersionID > items[j].VersionID })
	return items, nil
}

func (g *GitBackend) Get(_ context.Context, pageID string, versionID int64) (Snapshot, error) {
	lock := g.pageLock(pageID)
	lock.Lock()
	defer lock.Unlock()

	commitObj, err := g.head(pageID)
	if err != nil {
		return Snapshot{}, err
	}
	if commitObj == nil {
		return Snapshot{}, ErrVersionNotFound
	}
	file, err := commitObj.File(versionFile(versionID))
	if errors.Is(err, object.ErrFileNotFound) {
		return Snapshot{}, ErrVersionNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load version %d: %w", versionID, err)
	}
	return decodeFile(file)
}

// head returns the newest commit of the page repository, or nil when the
// page has no history yet.
func (g *GitBackend) head(pageID string) (*object.Commit, error) {
	repo, err := git.PlainOpen(g.repoPath(pageID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func (g *GitBackend) openOrInit(pageID string) (*git.Repository, error) {
	repoPath := g.repoPath(pageID)
	repo, err := git.PlainOpen(repoPath)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(repoPath, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(repoPath, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (g *GitBackend) repoPath(pageID string) string {
	return filepath.Join(g.baseDir, safeName(pageID))
}

func (g *GitBackend) pageLock(pageID string) *sync.Mutex {
	g.lockMu.Lock()
	defer g.lockMu.Unlock()
	lock, ok := g.locks[pageID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	g.locks[pageID] = lock
	return lock
}

func versionFile(versionID int64) string {
	return path.Join(versionsDir, strconv.FormatInt(versionID, 10)+".json")
}

func storedIDs(dir string) ([]int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read versions dir: %w", err)
	}
	ids := make([]int64, 0, len(entries))
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".json")
		if !ok || entry.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func decodeFile(file *object.File) (Snapshot, error) {
	contents, err := file.Contents()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", file.Name, err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(contents), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode %s: %w", file.Name, err)
	}
	return snap, nil
}

func safeName(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			out = append(out, r)
			continue
		}
		out = append(out, '_')
	}
	if len(out) == 0 {
		return "page"
	}
	return string(out)
}
