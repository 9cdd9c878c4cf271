package freshness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/corpusmcp/internal/store"
)

func fileRow(t *testing.T, path string) *store.File {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	hash, err := HashFile(path)
	require.NoError(t, err)
	return &store.File{
		Path:        path,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentHash: hash,
		FileType:    "md",
	}
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	h1, err := HashFile(path)
	require.NoError(t, err)
	h2, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	require.NoError(t, os.WriteFile(path, []byte("world"), 0o644))
	h3, err := HashFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestAnnotateOutsideVersionControl(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "n.md")
	require.NoError(t, os.WriteFile(path, []byte("indexed content"), 0o644))
	f := fileRow(t, path)

	snap := Take(dir)

	t.Run("fresh", func(t *testing.T) {
		assert.Equal(t, StatusFresh, snap.Annotate(f))
	})
	t.Run("modified", func(t *testing.T) {
		// Backdate the row's mtime so the fast path cannot answer.
		stale := *f
		stale.ModTime = f.ModTime.Add(-time.Hour)
		stale.ContentHash = "stale-hash"
		assert.Equal(t, StatusModified, snap.Annotate(&stale))
	})
	t.Run("deleted", func(t *testing.T) {
		gone := *f
		gone.Path = filepath.Join(dir, "gone.md")
		assert.Equal(t, StatusDeleted, snap.Annotate(&gone))
	})
}

// initRepo creates a git repository with one committed file.
func initRepo(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	tracked := filepath.Join(dir, "tracked.md")
	require.NoError(t, os.WriteFile(tracked, []byte("committed content"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("tracked.md")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "t", Email: "t@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir, tracked
}

func TestAnnotateGitModified(t *testing.T) {
	dir, tracked := initRepo(t)
	f := fileRow(t, tracked)

	// Modify without re-indexing.
	require.NoError(t, os.WriteFile(tracked, []byte("changed after indexing"), 0o644))

	snap := Take(dir)
	assert.Equal(t, StatusModified, snap.Annotate(f))
}

func TestAnnotateGitUntracked(t *testing.T) {
	dir, _ := initRepo(t)
	fresh := filepath.Join(dir, "new.md")
	require.NoError(t, os.WriteFile(fresh, []byte("never indexed"), 0o644))

	snap := Take(dir)
	f := fileRow(t, fresh)
	assert.Equal(t, StatusUntracked, snap.Annotate(f))

	untracked := snap.UntrackedUnder(dir)
	assert.Contains(t, untracked, fresh)
}

func TestAnnotateGitClean(t *testing.T) {
	dir, tracked := initRepo(t)
	f := fileRow(t, tracked)

	snap := Take(dir)
	assert.Equal(t, StatusFresh, snap.Annotate(f))
}
