package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/corpusmcp/internal/query"
	"github.com/Aman-CERP/corpusmcp/internal/store"
)

// FullTextSearchInput is the input schema for the full_text_search tool.
type FullTextSearchInput struct {
	Query     string `json:"query" jsonschema:"the full-text query; supports quoted phrases, AND/OR/NOT, and trailing * for prefix match"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10, hard-capped"`
	Context   int    `json:"context,omitempty" jsonschema:"attach this many neighboring chunks on each side of every hit"`
	TimeoutMS int    `json:"timeout_ms,omitempty" jsonschema:"optional per-request deadline in milliseconds"`
}

// SemanticSearchInput is the input schema for the semantic_search tool.
type SemanticSearchInput struct {
	Query     string `json:"query" jsonschema:"natural-language query embedded and matched against chunk vectors"`
	TopK      int    `json:"top_k,omitempty" jsonschema:"number of nearest neighbors, default 10, hard-capped"`
	Context   int    `json:"context,omitempty" jsonschema:"attach this many neighboring chunks on each side of every hit"`
	TimeoutMS int    `json:"timeout_ms,omitempty" jsonschema:"optional per-request deadline in milliseconds"`
}

// KeywordSearchInput is the input schema for the search_by_keywords tool.
type KeywordSearchInput struct {
	Keywords  []string `json:"keywords" jsonschema:"keywords intersected against each file's importance-weighted keyword list"`
	Limit     int      `json:"limit,omitempty" jsonschema:"maximum number of files, default 10, hard-capped"`
	TimeoutMS int      `json:"timeout_ms,omitempty" jsonschema:"optional per-request deadline in milliseconds"`
}

// SearchFilesInput is the input schema for the search_files tool.
type SearchFilesInput struct {
	Path           string `json:"path,omitempty" jsonschema:"restrict to files under this path prefix"`
	NamePattern    string `json:"name_pattern,omitempty" jsonschema:"SQL LIKE pattern matched against the basename, e.g. %.go"`
	FileType       string `json:"file_type,omitempty" jsonschema:"extension without dot, e.g. go or md"`
	SizeMin        int64  `json:"size_min,omitempty" jsonschema:"minimum size in bytes"`
	SizeMax        int64  `json:"size_max,omitempty" jsonschema:"maximum size in bytes"`
	ModifiedAfter  string `json:"modified_after,omitempty" jsonschema:"RFC3339 lower bound on modification time"`
	ModifiedBefore string `json:"modified_before,omitempty" jsonschema:"RFC3339 upper bound on modification time"`
	Limit          int    `json:"limit,omitempty" jsonschema:"maximum number of files, default 10, hard-capped"`
	Order          string `json:"order,omitempty" jsonschema:"ordering: path, mtime, or size"`
	TimeoutMS      int    `json:"timeout_ms,omitempty" jsonschema:"optional per-request deadline in milliseconds"`
}

// ListDirectoriesInput is the input schema for the list_directories tool.
type ListDirectoriesInput struct {
	Parent    string `json:"parent,omitempty" jsonschema:"restrict to directories under this path"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of directories, default 10, hard-capped"`
	TimeoutMS int    `json:"timeout_ms,omitempty" jsonschema:"optional per-request deadline in milliseconds"`
}

// GetFileInfoInput is the input schema for the get_file_info tool.
type GetFileInfoInput struct {
	FilePath  string `json:"file_path" jsonschema:"absolute path of an indexed file"`
	TimeoutMS int    `json:"timeout_ms,omitempty" jsonschema:"optional per-request deadline in milliseconds"`
}

// GetFileChunksInput is the input schema for the get_file_chunks tool.
type GetFileChunksInput struct {
	FilePath  string `json:"file_path" jsonschema:"absolute path of an indexed file"`
	RangeFrom *int   `json:"range_from,omitempty" jsonschema:"first chunk index to return (inclusive)"`
	RangeTo   *int   `json:"range_to,omitempty" jsonschema:"last chunk index to return (inclusive)"`
	TimeoutMS int    `json:"timeout_ms,omitempty" jsonschema:"optional per-request deadline in milliseconds"`
}

// GetStatsInput is the input schema for the get_stats tool (no parameters).
type GetStatsInput struct{}

// withDeadline applies the optional per-request deadline.
func withDeadline(ctx context.Context, timeoutMS int) (context.Context, context.CancelFunc) {
	if timeoutMS <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "full_text_search",
		Description: "Ranked full-text search over every indexed chunk. Supports quoted phrases, AND/OR/NOT, and trailing-wildcard prefixes. Each result is a self-describing chunk envelope with a ** -bracketed snippet.",
	}, s.handleFullTextSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "semantic_search",
		Description: "Meaning-based search: the query is embedded and matched against chunk vectors. Use for conceptual questions where exact words are unknown. Results carry similarity scores.",
	}, s.handleSemanticSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_by_keywords",
		Description: "Statistical keyword search: ranks files whose tf-idf keyword lists intersect the given keywords, by summed importance.",
	}, s.handleKeywordSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_files",
		Description: "List indexed files by path, name pattern, type, size, and modification-time predicates.",
	}, s.handleSearchFiles)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_directories",
		Description: "List indexed directories with aggregated file counts and total sizes.",
	}, s.handleListDirectories)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_file_info",
		Description: "Fetch one file's metadata row, keyword analysis, chunk count, and freshness annotation.",
	}, s.handleGetFileInfo)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_file_chunks",
		Description: "Fetch a file's stored chunk envelopes in order, optionally restricted to an index range.",
	}, s.handleGetFileChunks)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_stats",
		Description: "Index statistics: file/chunk/embedding counts, per-extension breakdown, vector index state, write epoch, and the last processing session.",
	}, s.handleGetStats)

	s.logger.Info("mcp_tools_registered", "count", 8)
}

func (s *Server) handleFullTextSearch(ctx context.Context, _ *mcp.CallToolRequest, in FullTextSearchInput) (*mcp.CallToolResult, *query.Response, error) {
	ctx, cancel := withDeadline(ctx, in.TimeoutMS)
	defer cancel()
	return nil, s.engine.FullTextSearch(ctx, in.Query, in.Limit, in.Context), nil
}

func (s *Server) handleSemanticSearch(ctx context.Context, _ *mcp.CallToolRequest, in SemanticSearchInput) (*mcp.CallToolResult, *query.Response, error) {
	ctx, cancel := withDeadline(ctx, in.TimeoutMS)
	defer cancel()
	return nil, s.engine.SemanticSearch(ctx, in.Query, in.TopK, in.Context), nil
}

func (s *Server) handleKeywordSearch(ctx context.Context, _ *mcp.CallToolRequest, in KeywordSearchInput) (*mcp.CallToolResult, *query.Response, error) {
	ctx, cancel := withDeadline(ctx, in.TimeoutMS)
	defer cancel()
	return nil, s.engine.KeywordSearch(ctx, in.Keywords, in.Limit), nil
}

func (s *Server) handleSearchFiles(ctx context.Context, _ *mcp.CallToolRequest, in SearchFilesInput) (*mcp.CallToolResult, *query.Response, error) {
	ctx, cancel := withDeadline(ctx, in.TimeoutMS)
	defer cancel()

	filters := store.ListFilters{
		PathPrefix:  in.Path,
		NamePattern: in.NamePattern,
		FileType:    in.FileType,
		SizeMin:     in.SizeMin,
		SizeMax:     in.SizeMax,
	}
	if in.ModifiedAfter != "" {
		if t, err := time.Parse(time.RFC3339, in.ModifiedAfter); err == nil {
			filters.ModifiedAfter = t
		}
	}
	if in.ModifiedBefore != "" {
		if t, err := time.Parse(time.RFC3339, in.ModifiedBefore); err == nil {
			filters.ModifiedBefore = t
		}
	}
	return nil, s.engine.ListFiles(ctx, filters, in.Limit, store.ListOrder(in.Order)), nil
}

func (s *Server) handleListDirectories(ctx context.Context, _ *mcp.CallToolRequest, in ListDirectoriesInput) (*mcp.CallToolResult, *query.Response, error) {
	ctx, cancel := withDeadline(ctx, in.TimeoutMS)
	defer cancel()
	return nil, s.engine.ListDirectories(ctx, in.Parent, in.Limit), nil
}

func (s *Server) handleGetFileInfo(ctx context.Context, _ *mcp.CallToolRequest, in GetFileInfoInput) (*mcp.CallToolResult, *query.Response, error) {
	ctx, cancel := withDeadline(ctx, in.TimeoutMS)
	defer cancel()
	return nil, s.engine.GetFileInfo(ctx, in.FilePath), nil
}

func (s *Server) handleGetFileChunks(ctx context.Context, _ *mcp.CallToolRequest, in GetFileChunksInput) (*mcp.CallToolResult, *query.Response, error) {
	ctx, cancel := withDeadline(ctx, in.TimeoutMS)
	defer cancel()

	var rng *[2]int
	if in.RangeFrom != nil && in.RangeTo != nil {
		rng = &[2]int{*in.RangeFrom, *in.RangeTo}
	}
	return nil, s.engine.GetFileChunks(ctx, in.FilePath, rng), nil
}

func (s *Server) handleGetStats(ctx context.Context, _ *mcp.CallToolRequest, _ GetStatsInput) (*mcp.CallToolResult, *query.Response, error) {
	return nil, s.engine.GetStats(ctx), nil
}
