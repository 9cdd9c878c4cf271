package query

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/corpusmcp/internal/chunk"
	"github.com/Aman-CERP/corpusmcp/internal/config"
	"github.com/Aman-CERP/corpusmcp/internal/embed"
	"github.com/Aman-CERP/corpusmcp/internal/errors"
	"github.com/Aman-CERP/corpusmcp/internal/freshness"
	"github.com/Aman-CERP/corpusmcp/internal/keyword"
	"github.com/Aman-CERP/corpusmcp/internal/store"
	"github.com/Aman-CERP/corpusmcp/internal/vector"
)

// Engine executes the retrieval primitives against the shared store, vector
// index, and embedder. Handlers run concurrently; the engine itself holds no
// mutable state.
type Engine struct {
	st        *store.Store
	ix        *vector.Index
	embedder  embed.Embedder
	cfg       config.QueryConfig
	freshness bool
}

// New creates a query engine.
func New(st *store.Store, ix *vector.Index, embedder embed.Embedder, cfg config.QueryConfig, enableFreshness bool) *Engine {
	return &Engine{st: st, ix: ix, embedder: embedder, cfg: cfg, freshness: enableFreshness}
}

// capLimit enforces the hard result cap, recording a warning when the
// caller asked for more.
func (e *Engine) capLimit(requested int, meta map[string]any) int {
	if requested <= 0 {
		return 10
	}
	if requested > e.cfg.MaxResults {
		meta["warning"] = fmt.Sprintf("limit %d capped to %d", requested, e.cfg.MaxResults)
		return e.cfg.MaxResults
	}
	return requested
}

// annotator lazily takes one freshness snapshot per parent directory of an
// annotated file.
type annotator struct {
	enabled   bool
	snapshots map[string]*freshness.Snapshot
}

func (e *Engine) newAnnotator() *annotator {
	return &annotator{enabled: e.freshness, snapshots: make(map[string]*freshness.Snapshot)}
}

func (a *annotator) annotate(f *store.File) string {
	if !a.enabled {
		return ""
	}
	dir := filepath.Dir(f.Path)
	snap, ok := a.snapshots[dir]
	if !ok {
		snap = freshness.Take(dir)
		a.snapshots[dir] = snap
	}
	return string(snap.Annotate(f))
}

func errResponse(err error, meta map[string]any) *Response {
	var hint string
	if ee, ok := err.(*errors.EngineError); ok {
		hint = ee.Suggestion
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["error"] = err.Error()
	if hint != "" {
		meta["hint"] = hint
	}
	return &Response{
		Status:        StatusError,
		QueryMetadata: meta,
		Results:       []*Result{},
		UsageHints:    map[string]string{"query_metadata.error": "what went wrong", "query_metadata.hint": "how to fix the request"},
		Summary:       map[string]any{"total_results": 0},
	}
}

// truncate applies the per-result content ceiling.
func (e *Engine) truncate(env *chunk.Envelope, meta map[string]any) *chunk.Envelope {
	if e.cfg.MaxContentChars <= 0 || len(env.Content) <= e.cfg.MaxContentChars {
		return env
	}
	clipped := *env
	clipped.Content = env.Content[:e.cfg.MaxContentChars]
	meta["content_truncated"] = true
	return &clipped
}

// FullTextSearch executes the full_text_search primitive. contextN > 0
// attaches the neighboring envelopes of each hit.
func (e *Engine) FullTextSearch(ctx context.Context, q string, limit, contextN int) *Response {
	meta := map[string]any{"query": q, "primitive": "full_text_search"}
	n := e.capLimit(limit, meta)

	hits, err := e.st.FullTextSearch(ctx, q, n)
	if err != nil {
		return errResponse(err, meta)
	}
	if err := ctx.Err(); err != nil {
		return errResponse(err, meta)
	}

	ann := e.newAnnotator()
	results := make([]*Result, 0, len(hits))
	for _, hit := range hits {
		sm := map[string]any{
			"relevance_score": hit.Score,
			"snippet":         hit.Snippet,
			"file_path":       hit.Chunk.FilePath,
			"chunk_index":     hit.Chunk.ChunkIndex,
		}
		e.attachFreshness(ctx, ann, hit.Chunk.FilePath, sm)
		results = append(results, &Result{
			ChunkEnvelope:  e.truncate(hit.Chunk.Envelope, sm),
			SearchMetadata: sm,
			ContextChunks:  e.contextChunks(ctx, hit.Chunk, contextN),
		})
	}

	return e.finish(results, meta, map[string]string{
		"results[].chunk_envelope":                  "full stored envelope; content plus metadata.ai_metadata for navigation",
		"results[].search_metadata.snippet":         "matched terms bracketed with **",
		"results[].search_metadata.relevance_score": "BM25 relevance, higher is better",
		"results[].context_chunks":                  "neighboring envelopes when context was requested",
	})
}

// SemanticSearch executes the semantic_search primitive. An unavailable
// vector index degrades to no_results with a warning; an empty one yields
// no_results without a warning. Other primitives are unaffected.
func (e *Engine) SemanticSearch(ctx context.Context, q string, topK, contextN int) *Response {
	meta := map[string]any{"query": q, "primitive": "semantic_search"}
	k := e.capLimit(topK, meta)

	if q == "" {
		return errResponse(errors.InvalidQuery("empty query"), meta)
	}
	qvec, err := e.embedder.Embed(ctx, q)
	if err != nil {
		return errResponse(errors.New(errors.ErrCodeEmbedFailure, "query embedding failed", err), meta)
	}
	if err := ctx.Err(); err != nil {
		return errResponse(err, meta)
	}

	nn, err := e.ix.Search(ctx, qvec, k)
	if err != nil {
		if errors.CodeOf(err) == errors.ErrCodeVectorIndexUnavailable {
			meta["warning"] = "vector index unavailable; semantic search degraded"
			slog.Warn("semantic_search_degraded", slog.String("error", err.Error()))
			return e.finish(nil, meta, nil)
		}
		return errResponse(err, meta)
	}
	if err := ctx.Err(); err != nil {
		return errResponse(err, meta)
	}

	ids := make([]int64, len(nn))
	byID := make(map[int64]vector.Result, len(nn))
	for i, r := range nn {
		ids[i] = r.RowID
		byID[r.RowID] = r
	}
	chunks, err := e.st.GetChunksByRowIDs(ctx, ids)
	if err != nil {
		return errResponse(err, meta)
	}

	ann := e.newAnnotator()
	results := make([]*Result, 0, len(chunks))
	for _, c := range chunks {
		r := byID[c.RowID]
		sm := map[string]any{
			"similarity_score": r.Score,
			"distance":         r.Distance,
			"file_path":        c.FilePath,
			"chunk_index":      c.ChunkIndex,
		}
		e.attachFreshness(ctx, ann, c.FilePath, sm)
		results = append(results, &Result{
			ChunkEnvelope:  e.truncate(c.Envelope, sm),
			SearchMetadata: sm,
			ContextChunks:  e.contextChunks(ctx, c, contextN),
		})
	}

	return e.finish(results, meta, map[string]string{
		"results[].chunk_envelope":                   "full stored envelope for the matched chunk",
		"results[].search_metadata.similarity_score": "1/(1+distance) over unit vectors, higher is closer",
		"results[].context_chunks":                   "neighboring envelopes when context was requested",
	})
}

// KeywordSearch executes the search_by_keywords primitive.
func (e *Engine) KeywordSearch(ctx context.Context, keywords []string, limit int) *Response {
	meta := map[string]any{"keywords": keywords, "primitive": "search_by_keywords"}
	n := e.capLimit(limit, meta)

	hits, err := e.st.KeywordSearch(ctx, keywords, n)
	if err != nil {
		return errResponse(err, meta)
	}

	ann := e.newAnnotator()
	results := make([]*Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, &Result{
			File: e.fileResult(ctx, hit.File, ann, hit.Matched),
			SearchMetadata: map[string]any{
				"importance_score": hit.Score,
				"matched_keywords": hit.Matched,
			},
		})
	}
	return e.finish(results, meta, map[string]string{
		"results[].file":                             "matched file with its keyword analysis",
		"results[].search_metadata.importance_score": "summed tf-idf importance of the matched keywords",
	})
}

// ListFiles executes the search_files primitive.
func (e *Engine) ListFiles(ctx context.Context, filters store.ListFilters, limit int, order store.ListOrder) *Response {
	meta := map[string]any{"primitive": "search_files"}
	n := e.capLimit(limit, meta)

	files, err := e.st.ListFiles(ctx, filters, n, order)
	if err != nil {
		return errResponse(err, meta)
	}

	ann := e.newAnnotator()
	results := make([]*Result, 0, len(files))
	for _, f := range files {
		results = append(results, &Result{File: e.fileResult(ctx, f, ann, nil)})
	}
	return e.finish(results, meta, map[string]string{
		"results[].file":           "file metadata row",
		"results[].file.freshness": "fresh | modified_since_index | deleted | untracked_new",
	})
}

// ListDirectories executes the list_directories primitive.
func (e *Engine) ListDirectories(ctx context.Context, parent string, limit int) *Response {
	meta := map[string]any{"primitive": "list_directories", "parent": parent}
	n := e.capLimit(limit, meta)

	dirs, err := e.st.ListDirectories(ctx, parent, n)
	if err != nil {
		return errResponse(err, meta)
	}
	results := make([]*Result, 0, len(dirs))
	for _, d := range dirs {
		results = append(results, &Result{
			Directory: &DirectoryResult{Path: d.Path, FileCount: d.FileCount, TotalSize: d.TotalSize},
		})
	}
	return e.finish(results, meta, map[string]string{
		"results[].directory": "directory with aggregated file count and total size",
	})
}

// GetFileInfo executes the get_file_info primitive: file row plus analysis
// plus chunk count.
func (e *Engine) GetFileInfo(ctx context.Context, path string) *Response {
	meta := map[string]any{"primitive": "get_file_info", "file_path": path}

	f, err := e.st.GetFile(ctx, path)
	if err != nil {
		if errors.CodeOf(err) == errors.ErrCodeNotFound {
			return e.finish(nil, meta, nil)
		}
		return errResponse(err, meta)
	}
	kws, err := e.st.GetAnalysis(ctx, path)
	if err != nil {
		return errResponse(err, meta)
	}

	ann := e.newAnnotator()
	fr := e.fileResult(ctx, f, ann, kws)
	chunks, err := e.st.GetChunks(ctx, path, nil)
	if err != nil {
		return errResponse(err, meta)
	}
	fr.ChunkCount = len(chunks)

	return e.finish([]*Result{{File: fr}}, meta, map[string]string{
		"results[].file":             "file row with keyword analysis and chunk count",
		"results[].file.chunk_count": "number of stored envelopes for the file",
	})
}

// GetFileChunks executes the get_file_chunks primitive.
func (e *Engine) GetFileChunks(ctx context.Context, path string, rng *[2]int) *Response {
	meta := map[string]any{"primitive": "get_file_chunks", "file_path": path}
	if rng != nil {
		meta["range"] = []int{rng[0], rng[1]}
	}

	chunks, err := e.st.GetChunks(ctx, path, rng)
	if err != nil {
		return errResponse(err, meta)
	}
	results := make([]*Result, 0, len(chunks))
	for _, c := range chunks {
		sm := map[string]any{"chunk_index": c.ChunkIndex}
		results = append(results, &Result{
			ChunkEnvelope:  e.truncate(c.Envelope, sm),
			SearchMetadata: sm,
		})
	}
	return e.finish(results, meta, map[string]string{
		"results[].chunk_envelope": "stored envelopes in chunk order",
	})
}

// GetStats executes the get_stats primitive.
func (e *Engine) GetStats(ctx context.Context) *Response {
	meta := map[string]any{"primitive": "get_stats"}
	st, err := e.st.GetStats(ctx)
	if err != nil {
		return errResponse(err, meta)
	}

	summary := map[string]any{
		"files":              st.Files,
		"chunks":             st.Chunks,
		"embeddings":         st.Embeddings,
		"size_on_disk_bytes": st.SizeOnDiskBytes,
		"per_extension":      st.PerExtension,
		"vector_index_state": string(e.ix.State()),
		"vector_index_count": e.ix.Count(),
		"write_epoch":        st.WriteEpoch,
		"retries_total":      st.RetriesTotal,
		"retry_cap_hits":     st.RetryCapHits,
	}
	if st.LastSession != nil {
		summary["last_session"] = map[string]any{
			"session_id":  st.LastSession.ID,
			"started_at":  st.LastSession.StartedAt.Format(time.RFC3339),
			"ended_at":    st.LastSession.EndedAt.Format(time.RFC3339),
			"discovered":  st.LastSession.Discovered,
			"processed":   st.LastSession.Processed,
			"skipped":     st.LastSession.Skipped,
			"failed":      st.LastSession.Failed,
			"interrupted": st.LastSession.Interrupted,
		}
	}

	return &Response{
		Status:        StatusSuccess,
		QueryMetadata: meta,
		Results:       []*Result{},
		UsageHints: map[string]string{
			"summary":                    "aggregate index statistics",
			"summary.vector_index_state": "unloaded | fresh | dirty_append | dirty_rebuild",
		},
		Summary: summary,
	}
}

// contextChunks fetches envelopes at [i-n, i+n] in the same file, excluding
// the hit itself, in index order.
func (e *Engine) contextChunks(ctx context.Context, c *store.StoredChunk, n int) []*chunk.Envelope {
	if n <= 0 {
		return nil
	}
	lo := c.ChunkIndex - n
	if lo < 0 {
		lo = 0
	}
	rng := [2]int{lo, c.ChunkIndex + n}
	neighbors, err := e.st.GetChunks(ctx, c.FilePath, &rng)
	if err != nil {
		slog.Debug("context_fetch_failed",
			slog.String("path", c.FilePath), slog.String("error", err.Error()))
		return nil
	}
	out := make([]*chunk.Envelope, 0, len(neighbors))
	for _, nb := range neighbors {
		if nb.ChunkIndex == c.ChunkIndex {
			continue
		}
		out = append(out, nb.Envelope)
	}
	return out
}

func (e *Engine) fileResult(ctx context.Context, f *store.File, ann *annotator, kws []keyword.Keyword) *FileResult {
	fr := &FileResult{
		Path:         f.Path,
		Size:         f.Size,
		ModTime:      f.ModTime.UTC().Format(time.RFC3339),
		ContentHash:  f.ContentHash,
		FileType:     f.FileType,
		DiscoveredAt: f.DiscoveredAt.Format(time.RFC3339),
		Freshness:    ann.annotate(f),
	}
	if kws != nil {
		fr.Keywords = kws
	}
	return fr
}

func (e *Engine) attachFreshness(ctx context.Context, ann *annotator, path string, sm map[string]any) {
	if !e.freshness {
		return
	}
	f, err := e.st.GetFile(ctx, path)
	if err != nil {
		return
	}
	if status := ann.annotate(f); status != "" {
		sm["freshness"] = status
	}
}

// finish assembles the envelope around the result list.
func (e *Engine) finish(results []*Result, meta map[string]any, hints map[string]string) *Response {
	if results == nil {
		results = []*Result{}
	}
	status := StatusSuccess
	if len(results) == 0 {
		status = StatusNoResults
	}
	if hints == nil {
		hints = map[string]string{}
	}
	hints["status"] = "success | no_results | error"
	hints["summary.total_results"] = "number of entries in results"

	files := make(map[string]struct{})
	for _, r := range results {
		switch {
		case r.ChunkEnvelope != nil:
			if fp, ok := r.SearchMetadata["file_path"].(string); ok {
				files[fp] = struct{}{}
			}
		case r.File != nil:
			files[r.File.Path] = struct{}{}
		}
	}
	summary := map[string]any{"total_results": len(results)}
	if len(files) > 0 {
		summary["distinct_files"] = len(files)
	}

	return &Response{
		Status:        status,
		QueryMetadata: meta,
		Results:       results,
		UsageHints:    hints,
		Summary:       summary,
	}
}
