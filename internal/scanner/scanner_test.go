package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/corpusmcp/internal/chunk"
	"github.com/Aman-CERP/corpusmcp/internal/config"
	"github.com/Aman-CERP/corpusmcp/internal/embed"
	"github.com/Aman-CERP/corpusmcp/internal/keyword"
	"github.com/Aman-CERP/corpusmcp/internal/store"
)

func newTestScanner(t *testing.T) (*Scanner, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "corpus.db"), config.StorageConfig{BusyTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sc := New(st,
		chunk.New(config.ChunkerConfig{CodeChunkSize: 350, ProseChunkSize: 800, MaxFileSize: 1 << 20}),
		embed.NewStaticEmbedder(32),
		keyword.NewAnalyzer(20, 0.10),
		config.ScannerConfig{Workers: 2},
		config.EmbedConfig{BatchSize: 8},
	)
	return sc, st
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	return full
}

func TestScanIndexesTree(t *testing.T) {
	sc, st := newTestScanner(t)
	root := t.TempDir()
	writeFile(t, root, "src/main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, root, "docs/readme.md", "A readme paragraph about the project.")
	writeFile(t, root, ".git/config", "[core]") // always skipped
	writeFile(t, root, "node_modules/x/y.js", "ignored()")

	sess, err := sc.Run(context.Background(), Options{Root: root})
	require.NoError(t, err)

	assert.Equal(t, 2, sess.Discovered)
	assert.Equal(t, 2, sess.Processed)
	assert.Zero(t, sess.Skipped)
	assert.Zero(t, sess.Failed)
	assert.False(t, sess.Interrupted)
	assert.NotEmpty(t, sess.ID)

	f, err := st.GetFile(context.Background(), filepath.Join(root, "src/main.go"))
	require.NoError(t, err)
	assert.Equal(t, "go", f.FileType)
	assert.NotEmpty(t, f.ContentHash)

	chunks, err := st.GetChunks(context.Background(), f.Path, nil)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.NotNil(t, chunks[0].Embedding, "scanned chunks carry embeddings")

	kws, err := st.GetAnalysis(context.Background(), f.Path)
	require.NoError(t, err)
	assert.NotEmpty(t, kws)

	// The audit row is persisted.
	last, err := st.LastSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, sess.ID, last.ID)
}

func TestRescanSkipsUnchanged(t *testing.T) {
	sc, _ := newTestScanner(t)
	root := t.TempDir()
	path := writeFile(t, root, "a.md", "Original paragraph.")
	writeFile(t, root, "b.md", "Untouched paragraph.")

	_, err := sc.Run(context.Background(), Options{Root: root})
	require.NoError(t, err)

	// Second pass: nothing changed.
	sess, err := sc.Run(context.Background(), Options{Root: root})
	require.NoError(t, err)
	assert.Equal(t, 2, sess.Skipped)
	assert.Zero(t, sess.Processed)

	// Modify one file: only it is re-ingested.
	require.NoError(t, os.WriteFile(path, []byte("Rewritten paragraph."), 0o644))
	sess, err = sc.Run(context.Background(), Options{Root: root})
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Processed)
	assert.Equal(t, 1, sess.Skipped)
}

func TestForceRescan(t *testing.T) {
	sc, _ := newTestScanner(t)
	root := t.TempDir()
	writeFile(t, root, "a.md", "Stable paragraph.")

	_, err := sc.Run(context.Background(), Options{Root: root})
	require.NoError(t, err)

	sess, err := sc.Run(context.Background(), Options{Root: root, Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Processed)
	assert.Zero(t, sess.Skipped)
}

func TestExcludePatterns(t *testing.T) {
	sc, _ := newTestScanner(t)
	root := t.TempDir()
	writeFile(t, root, "keep.md", "Kept paragraph.")
	writeFile(t, root, "skip.log", "noise")
	writeFile(t, root, "vendor/dep.go", "package dep")

	sess, err := sc.Run(context.Background(), Options{
		Root:    root,
		Exclude: []string{"*.log", "vendor"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Discovered)
	assert.Equal(t, 1, sess.Processed)
}

func TestIncludePatterns(t *testing.T) {
	sc, _ := newTestScanner(t)
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")
	writeFile(t, root, "b.md", "Markdown paragraph.")

	sess, err := sc.Run(context.Background(), Options{Root: root, Include: []string{"*.go"}})
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Discovered)
}

func TestUnreadableFileCountsAsFailed(t *testing.T) {
	sc, _ := newTestScanner(t)
	root := t.TempDir()
	full := writeFile(t, root, "binary.md", "ok text")
	require.NoError(t, os.WriteFile(full, []byte{0x00, 0x01, 0x02}, 0o644))

	sess, err := sc.Run(context.Background(), Options{Root: root})
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Failed)
	assert.Zero(t, sess.Processed)
}

func TestInterruptedScanRecordsSession(t *testing.T) {
	sc, st := newTestScanner(t)
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		writeFile(t, root, filepath.Join("d", "f"+string(rune('a'+i))+".md"), "A paragraph of content.")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // interrupt before intake

	sess, err := sc.Run(ctx, Options{Root: root})
	require.NoError(t, err)
	assert.True(t, sess.Interrupted)
	assert.Zero(t, sess.Processed)

	last, err := st.LastSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Interrupted)
}

// Every file present after an interrupted scan is complete: each path in
// file_metadata has its full dense chunk range.
func TestNoPartialFilesAfterInterrupt(t *testing.T) {
	sc, st := newTestScanner(t)
	root := t.TempDir()
	for i := 0; i < 10; i++ {
		writeFile(t, root, filepath.Join("d", "f"+string(rune('a'+i))+".md"),
			"First paragraph of some length.\n\nSecond paragraph of some length.")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	sess, err := sc.Run(ctx, Options{Root: root})
	require.NoError(t, err)

	files, err := st.ListFiles(context.Background(), store.ListFilters{}, 0, store.OrderByPath)
	require.NoError(t, err)
	for _, f := range files {
		chunks, err := st.GetChunks(context.Background(), f.Path, nil)
		require.NoError(t, err)
		require.NotEmpty(t, chunks, "indexed file %s must have its chunks", f.Path)
		total := chunks[0].Envelope.Metadata.TotalChunks
		require.Len(t, chunks, total)
		for i, c := range chunks {
			assert.Equal(t, i, c.ChunkIndex)
		}
	}
	assert.Equal(t, len(files), sess.Processed+sess.Skipped)
}

func TestIngestAndRemovePath(t *testing.T) {
	sc, st := newTestScanner(t)
	root := t.TempDir()
	path := writeFile(t, root, "w.md", "Watched paragraph.")

	require.NoError(t, sc.IngestPath(context.Background(), path))
	_, err := st.GetFile(context.Background(), path)
	require.NoError(t, err)

	require.NoError(t, sc.RemovePath(context.Background(), path))
	_, err = st.GetFile(context.Background(), path)
	require.Error(t, err)
}
