package mcp

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/corpusmcp/internal/chunk"
	"github.com/Aman-CERP/corpusmcp/internal/config"
	"github.com/Aman-CERP/corpusmcp/internal/embed"
	"github.com/Aman-CERP/corpusmcp/internal/keyword"
	"github.com/Aman-CERP/corpusmcp/internal/query"
	"github.com/Aman-CERP/corpusmcp/internal/scanner"
	"github.com/Aman-CERP/corpusmcp/internal/store"
	"github.com/Aman-CERP/corpusmcp/internal/vector"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Freshness = false
	cfg.Query.MaxResults = 10

	st, err := store.Open(filepath.Join(t.TempDir(), "corpus.db"), cfg.Storage)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	embedder := embed.NewStaticEmbedder(64)
	ix := vector.New(st, cfg.Vector)
	sc := scanner.New(st,
		chunk.New(cfg.Chunker),
		embedder,
		keyword.NewAnalyzer(cfg.Keyword.TopK, cfg.Keyword.RebuildGrowth),
		cfg.Scanner, cfg.Embed)

	s, err := NewServer(st, ix, embedder, sc, cfg)
	require.NoError(t, err)
	return s, st
}

func ingestSample(t *testing.T, st *store.Store, path, content string) {
	t.Helper()
	chunker := chunk.New(config.Default().Chunker)
	embedder := embed.NewStaticEmbedder(64)
	envs, err := chunker.Chunk(&chunk.FileInput{Path: path, Content: content, FileType: "py", Hash: "h"})
	require.NoError(t, err)
	records := make([]store.ChunkRecord, len(envs))
	for i, env := range envs {
		vec, err := embedder.Embed(context.Background(), env.Content)
		require.NoError(t, err)
		records[i] = store.ChunkRecord{Envelope: env, Embedding: vec}
	}
	f := &store.File{
		Path: path, Size: int64(len(content)), ModTime: time.Now().UTC(),
		ContentHash: "h", FileType: "py", DiscoveredAt: time.Now().UTC(),
	}
	require.NoError(t, st.IngestFile(context.Background(), f, records,
		keyword.NewAnalyzer(20, 0.10).Analyze(path, content)))
}

func TestNewServerRequiresComponents(t *testing.T) {
	_, err := NewServer(nil, nil, nil, nil, config.Default())
	assert.Error(t, err)
}

func TestFullTextSearchTool(t *testing.T) {
	s, st := newTestServer(t)
	ingestSample(t, st, "/src/auth.py", "def login(user): return authenticate(user)")

	_, resp, err := s.handleFullTextSearch(context.Background(), nil, FullTextSearchInput{Query: "authenticate"})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, query.StatusSuccess, resp.Status)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "auth.py", resp.Results[0].ChunkEnvelope.Metadata.Filename)
}

func TestSemanticSearchTool(t *testing.T) {
	s, st := newTestServer(t)
	ingestSample(t, st, "/src/handler.py", "def error_handler(e): log.warning(e); return fallback()")

	_, resp, err := s.handleSemanticSearch(context.Background(), nil, SemanticSearchInput{
		Query: "error handler logging warning fallback", TopK: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, query.StatusSuccess, resp.Status)
	require.Len(t, resp.Results, 1)
}

func TestGetStatsTool(t *testing.T) {
	s, st := newTestServer(t)
	ingestSample(t, st, "/src/a.py", "print('hello')")

	_, resp, err := s.handleGetStats(context.Background(), nil, GetStatsInput{})
	require.NoError(t, err)
	assert.Equal(t, query.StatusSuccess, resp.Status)
	assert.Equal(t, 1, resp.Summary["files"])
}

func TestGetFileChunksToolRange(t *testing.T) {
	s, st := newTestServer(t)
	ingestSample(t, st, "/src/a.py", "line_one = 1\nline_two = 2")

	from, to := 0, 0
	_, resp, err := s.handleGetFileChunks(context.Background(), nil, GetFileChunksInput{
		FilePath: "/src/a.py", RangeFrom: &from, RangeTo: &to,
	})
	require.NoError(t, err)
	assert.Equal(t, query.StatusSuccess, resp.Status)
	assert.Len(t, resp.Results, 1)
}

func TestWithDeadline(t *testing.T) {
	ctx, cancel := withDeadline(context.Background(), 50)
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 25*time.Millisecond)

	ctx2, cancel2 := withDeadline(context.Background(), 0)
	defer cancel2()
	_, ok = ctx2.Deadline()
	assert.False(t, ok)
}
