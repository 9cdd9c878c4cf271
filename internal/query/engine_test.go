package query

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
	"github.com/Aman-CERP/corpusmcp/internal/store"
	"github.com/Aman-CERP/corpusmcp/internal/vector"
)

type fixture struct {
	st       *store.Store
	ix       *vector.Index
	embedder embed.Embedder
	engine   *Engine
	analyzer *keyword.Analyzer
	chunker  *chunk.Chunker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "corpus.db"), config.StorageConfig{BusyTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	embedder := embed.NewStaticEmbedder(64)
	ix := vector.New(st, config.VectorConfig{M: 8, EfSearch: 32})
	qcfg := config.QueryConfig{MaxResults: 5, MaxContentChars: 8192}

	return &fixture{
		st:       st,
		ix:       ix,
		embedder: embedder,
		engine:   New(st, ix, embedder, qcfg, false),
		analyzer: keyword.NewAnalyzer(20, 0.10),
		chunker: chunk.New(config.ChunkerConfig{
			CodeChunkSize: 350, ProseChunkSize: 800,
		}),
	}
}

func (fx *fixture) ingest(t *testing.T, path, content string) {
	t.Helper()
	ctx := context.Background()
	fileType := ""
	if ext := filepath.Ext(path); ext != "" {
		fileType = ext[1:]
	}
	envs, err := fx.chunker.Chunk(&chunk.FileInput{
		Path: path, Content: content, FileType: fileType, Hash: "hash-" + content[:minInt(8, len(content))],
	})
	require.NoError(t, err)

	records := make([]store.ChunkRecord, len(envs))
	for i, env := range envs {
		vec, err := fx.embedder.Embed(ctx, env.Content)
		require.NoError(t, err)
		records[i] = store.ChunkRecord{Envelope: env, Embedding: vec}
	}
	f := &store.File{
		Path: path, Size: int64(len(content)), ModTime: time.Now().UTC(),
		ContentHash: "hash-" + content[:minInt(8, len(content))],
		FileType:    fileType, DiscoveredAt: time.Now().UTC(),
	}
	require.NoError(t, fx.st.IngestFile(ctx, f, records, fx.analyzer.Analyze(path, content)))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func TestFullTextSearchEnvelope(t *testing.T) {
	fx := newFixture(t)
	fx.ingest(t, "/src/auth.py", "def login(user): return authenticate(user)")

	resp := fx.engine.FullTextSearch(context.Background(), "authenticate", 10, 0)
	assert.Equal(t, StatusSuccess, resp.Status)
	require.Len(t, resp.Results, 1)

	r := resp.Results[0]
	require.NotNil(t, r.ChunkEnvelope)
	assert.Equal(t, "auth.py", r.ChunkEnvelope.Metadata.Filename)
	assert.Contains(t, r.SearchMetadata["snippet"], "**authenticate**")
	assert.NotEmpty(t, resp.UsageHints)
	assert.Equal(t, 1, resp.Summary["total_results"])
}

func TestFullTextSearchNoResults(t *testing.T) {
	fx := newFixture(t)
	fx.ingest(t, "/src/a.md", "Nothing relevant here.")

	resp := fx.engine.FullTextSearch(context.Background(), "zanzibar", 10, 0)
	assert.Equal(t, StatusNoResults, resp.Status)
	assert.Empty(t, resp.Results)
}

func TestInvalidQueryResponse(t *testing.T) {
	fx := newFixture(t)
	resp := fx.engine.FullTextSearch(context.Background(), "   ", 10, 0)
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.QueryMetadata, "error")
}

func TestLimitCapWarning(t *testing.T) {
	fx := newFixture(t)
	fx.ingest(t, "/src/a.md", "Alpha content paragraph.")

	resp := fx.engine.FullTextSearch(context.Background(), "alpha", 500, 0)
	assert.Contains(t, resp.QueryMetadata, "warning")
	assert.Contains(t, resp.QueryMetadata["warning"], "capped")
}

// Context expansion: a hit on chunk 3 with context=1 attaches chunks 2 and
// 4, in that order.
func TestContextExpansion(t *testing.T) {
	fx := newFixture(t)

	paragraphs := []string{
		"Opening paragraph about setup with plenty of filler text to hold its own chunk, repeated clauses carrying it comfortably past half the prose budget of nine hundred sixty characters so the splitter gives it a dedicated envelope rather than grouping it, which it does by never letting a second paragraph join once the budget would be exceeded, and this paragraph makes certain of that by rambling on and on well past the line in a steady accumulation of harmless words that mean nothing but occupy space reliably and deterministically for the test, sentence after sentence, clause after clause, until any reasonable character counter agrees the budget is well and truly spent for this unit of text in the fixture corpus here.",
		"Second paragraph about configuration with plenty of filler text to hold its own chunk, repeated clauses carrying it comfortably past half the prose budget of nine hundred sixty characters so the splitter gives it a dedicated envelope rather than grouping it, which it does by never letting a second paragraph join once the budget would be exceeded, and this paragraph makes certain of that by rambling on and on well past the line in a steady accumulation of harmless words that mean nothing but occupy space reliably and deterministically for the test, sentence after sentence, clause after clause, until any reasonable character counter agrees the budget is well and truly spent for this unit of text in the fixture corpus here.",
		"Third paragraph about deployment with plenty of filler text to hold its own chunk, repeated clauses carrying it comfortably past half the prose budget of nine hundred sixty characters so the splitter gives it a dedicated envelope rather than grouping it, which it does by never letting a second paragraph join once the budget would be exceeded, and this paragraph makes certain of that by rambling on and on well past the line in a steady accumulation of harmless words that mean nothing but occupy space reliably and deterministically for the test, sentence after sentence, clause after clause, until any reasonable character counter agrees the budget is well and truly spent for this unit of text in the fixture corpus here.",
		"Fourth paragraph mentioning kumquat specifically, with plenty of filler text to hold its own chunk, repeated clauses carrying it comfortably past half the prose budget of nine hundred sixty characters so the splitter gives it a dedicated envelope rather than grouping it, which it does by never letting a second paragraph join once the budget would be exceeded, and this paragraph makes certain of that by rambling on and on well past the line in a steady accumulation of harmless words occupying space reliably and deterministically for the test, sentence after sentence, clause after clause, until any reasonable character counter agrees the budget is well and truly spent here.",
		"Closing paragraph about teardown with plenty of filler text to hold its own chunk, repeated clauses carrying it comfortably past half the prose budget of nine hundred sixty characters so the splitter gives it a dedicated envelope rather than grouping it, which it does by never letting a second paragraph join once the budget would be exceeded, and this paragraph makes certain of that by rambling on and on well past the line in a steady accumulation of harmless words that mean nothing but occupy space reliably and deterministically for the test, sentence after sentence, clause after clause, until any reasonable character counter agrees the budget is well and truly spent for this unit of text in the fixture corpus here.",
	}
	content := ""
	for _, p := range paragraphs {
		content += p + "\n\n"
	}
	fx.ingest(t, "/docs/runbook.md", content)

	chunks, err := fx.st.GetChunks(context.Background(), "/docs/runbook.md", nil)
	require.NoError(t, err)
	require.Len(t, chunks, 5, "fixture must produce total_chunks=5")

	resp := fx.engine.FullTextSearch(context.Background(), "kumquat", 10, 1)
	require.Equal(t, StatusSuccess, resp.Status)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 3, resp.Results[0].ChunkEnvelope.Metadata.ChunkIndex)

	ctxChunks := resp.Results[0].ContextChunks
	require.Len(t, ctxChunks, 2)
	assert.Equal(t, 2, ctxChunks[0].Metadata.ChunkIndex)
	assert.Equal(t, 4, ctxChunks[1].Metadata.ChunkIndex)
}

func TestSemanticSearch(t *testing.T) {
	fx := newFixture(t)
	fx.ingest(t, "/src/handler.py", "def error_handler(e): log.warning(e); return fallback()")
	fx.ingest(t, "/src/parser.py", "def parse_csv(rows): return [split(r) for r in rows]")

	resp := fx.engine.SemanticSearch(context.Background(), "error handler logging warning fallback", 1, 0)
	require.Equal(t, StatusSuccess, resp.Status)
	require.Len(t, resp.Results, 1)

	r := resp.Results[0]
	assert.Equal(t, "handler.py", r.ChunkEnvelope.Metadata.Filename)
	score, ok := r.SearchMetadata["similarity_score"].(float32)
	require.True(t, ok)
	assert.Greater(t, float64(score), 0.0)
	assert.LessOrEqual(t, float64(score), 1.0)
}

func TestSemanticSearchEmptyIndex(t *testing.T) {
	fx := newFixture(t)
	resp := fx.engine.SemanticSearch(context.Background(), "anything at all", 5, 0)
	assert.Equal(t, StatusNoResults, resp.Status)
	assert.Empty(t, resp.Results)
}

func TestSemanticSearchDeterminism(t *testing.T) {
	fx := newFixture(t)
	fx.ingest(t, "/s/a.md", "Paragraph alpha with distinctive words like telescope and harbor.")
	fx.ingest(t, "/s/b.md", "Paragraph beta with distinctive words like lantern and orchard.")

	first := fx.engine.SemanticSearch(context.Background(), "telescope harbor", 2, 0)
	second := fx.engine.SemanticSearch(context.Background(), "telescope harbor", 2, 0)
	require.Equal(t, len(first.Results), len(second.Results))
	for i := range first.Results {
		assert.Equal(t,
			first.Results[i].ChunkEnvelope.Metadata.Filename,
			second.Results[i].ChunkEnvelope.Metadata.Filename)
		assert.Equal(t, first.Results[i].SearchMetadata["distance"], second.Results[i].SearchMetadata["distance"])
	}
}

func TestKeywordSearchPrimitive(t *testing.T) {
	fx := newFixture(t)
	fx.ingest(t, "/k/db.md", "database tuning database indexes database vacuum schedules")
	fx.ingest(t, "/k/web.md", "frontend routing component styling layout")

	resp := fx.engine.KeywordSearch(context.Background(), []string{"database"}, 10)
	require.Equal(t, StatusSuccess, resp.Status)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "/k/db.md", resp.Results[0].File.Path)
	assert.NotNil(t, resp.Results[0].SearchMetadata["importance_score"])
}

func TestListFilesAndDirectoriesPrimitives(t *testing.T) {
	fx := newFixture(t)
	fx.ingest(t, "/p/src/main.go", "package main")
	fx.ingest(t, "/p/docs/a.md", "Documentation paragraph.")

	files := fx.engine.ListFiles(context.Background(), store.ListFilters{FileType: "go"}, 10, store.OrderByPath)
	require.Equal(t, StatusSuccess, files.Status)
	require.Len(t, files.Results, 1)
	assert.Equal(t, "/p/src/main.go", files.Results[0].File.Path)

	dirs := fx.engine.ListDirectories(context.Background(), "/p", 10)
	require.Equal(t, StatusSuccess, dirs.Status)
	assert.Len(t, dirs.Results, 2)
}

func TestGetFileInfoAndChunks(t *testing.T) {
	fx := newFixture(t)
	fx.ingest(t, "/p/a.md", "Info paragraph one.\n\nInfo paragraph two.")

	info := fx.engine.GetFileInfo(context.Background(), "/p/a.md")
	require.Equal(t, StatusSuccess, info.Status)
	require.Len(t, info.Results, 1)
	fr := info.Results[0].File
	assert.Equal(t, "/p/a.md", fr.Path)
	assert.Positive(t, fr.ChunkCount)
	assert.NotNil(t, fr.Keywords)

	missing := fx.engine.GetFileInfo(context.Background(), "/p/missing.md")
	assert.Equal(t, StatusNoResults, missing.Status)

	chunks := fx.engine.GetFileChunks(context.Background(), "/p/a.md", nil)
	require.Equal(t, StatusSuccess, chunks.Status)
	assert.Equal(t, fr.ChunkCount, len(chunks.Results))
}

func TestGetStatsEnvelope(t *testing.T) {
	fx := newFixture(t)
	fx.ingest(t, "/p/a.go", "package a")

	resp := fx.engine.GetStats(context.Background())
	require.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, 1, resp.Summary["files"])
	assert.Equal(t, string(vector.StateUnloaded), resp.Summary["vector_index_state"])

	// After a vector query the index state is observable as fresh.
	_ = fx.engine.SemanticSearch(context.Background(), "package", 1, 0)
	resp = fx.engine.GetStats(context.Background())
	assert.Equal(t, string(vector.StateFresh), resp.Summary["vector_index_state"])
}

func TestContentCeilingTruncation(t *testing.T) {
	fx := newFixture(t)
	fx.engine = New(fx.st, fx.ix, fx.embedder, config.QueryConfig{MaxResults: 5, MaxContentChars: 16}, false)
	fx.ingest(t, "/p/long.md", "A fairly long paragraph about glaciers that exceeds sixteen characters easily.")

	resp := fx.engine.FullTextSearch(context.Background(), "glaciers", 10, 0)
	require.Equal(t, StatusSuccess, resp.Status)
	require.Len(t, resp.Results, 1)
	assert.Len(t, resp.Results[0].ChunkEnvelope.Content, 16)
	assert.Equal(t, true, resp.Results[0].SearchMetadata["content_truncated"])
}
