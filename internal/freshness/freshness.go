// Package freshness annotates query results with how the indexed snapshot
// relates to live file-system and version-control state. Annotations are
// advisory: stale results are labeled, never removed, and no re-index is
// triggered here.
package freshness

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	git "github.com/go-git/go-git/v5"

	"github.com/Aman-CERP/corpusmcp/internal/store"
)

// Status is the per-file freshness annotation.
type Status string

const (
	StatusFresh     Status = "fresh"
	StatusModified  Status = "modified_since_index"
	StatusDeleted   Status = "deleted"
	StatusUntracked Status = "untracked_new"
)

// Snapshot captures version-control state once per request; per-file hash
// checks stay lazy and run only for returned files.
type Snapshot struct {
	root      string
	gitStatus map[string]Status // repo-relative path -> status
}

// Take opens the repository containing root (if any) and records its
// worktree status. A directory outside version control yields a snapshot
// that falls back to hash comparison only.
func Take(root string) *Snapshot {
	snap := &Snapshot{root: root}

	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return snap
	}
	wt, err := repo.Worktree()
	if err != nil {
		return snap
	}
	status, err := wt.Status()
	if err != nil {
		slog.Debug("git_status_failed", slog.String("root", root), slog.String("error", err.Error()))
		return snap
	}

	snap.gitStatus = make(map[string]Status)
	for rel, fs := range status {
		switch {
		case fs.Worktree == git.Untracked:
			snap.gitStatus[rel] = StatusUntracked
		case fs.Worktree == git.Deleted || fs.Staging == git.Deleted:
			snap.gitStatus[rel] = StatusDeleted
		case fs.Worktree == git.Modified || fs.Staging == git.Modified ||
			fs.Worktree == git.Added || fs.Staging == git.Added:
			snap.gitStatus[rel] = StatusModified
		}
	}
	snap.root = wtRoot(repo, root)
	return snap
}

func wtRoot(repo *git.Repository, fallback string) string {
	wt, err := repo.Worktree()
	if err != nil {
		return fallback
	}
	return wt.Filesystem.Root()
}

// Annotate returns the freshness status for one indexed file.
func (s *Snapshot) Annotate(f *store.File) Status {
	// Version control answers first when it has an opinion.
	if s.gitStatus != nil {
		if rel, err := filepath.Rel(s.root, f.Path); err == nil {
			if st, ok := s.gitStatus[filepath.ToSlash(rel)]; ok {
				return st
			}
		}
	}

	info, err := os.Stat(f.Path)
	if os.IsNotExist(err) {
		return StatusDeleted
	}
	if err != nil {
		return StatusModified
	}
	// Unchanged size and mtime short-circuits the hash.
	if info.Size() == f.Size && info.ModTime().Equal(f.ModTime) {
		return StatusFresh
	}
	hash, err := HashFile(f.Path)
	if err != nil {
		return StatusModified
	}
	if hash == f.ContentHash {
		return StatusFresh
	}
	return StatusModified
}

// UntrackedUnder lists untracked files below dir that the index has never
// seen, surfacing new work alongside stale labels.
func (s *Snapshot) UntrackedUnder(dir string) []string {
	if s.gitStatus == nil {
		return nil
	}
	var untracked []string
	for rel, st := range s.gitStatus {
		if st != StatusUntracked {
			continue
		}
		abs := filepath.Join(s.root, filepath.FromSlash(rel))
		if dir == "" || within(dir, abs) {
			untracked = append(untracked, abs)
		}
	}
	return untracked
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (len(rel) > 0 && !filepath.IsAbs(rel) && rel[0] != '.')
}

// HashFile streams a file through SHA-256 in constant memory.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
