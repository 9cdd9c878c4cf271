// Package store is the durable relational layer: file metadata, chunk
// envelopes with embedded vectors, the full-text index, content-analysis
// artifacts, and the processing-session audit. SQLite (pure Go driver) in WAL
// mode; many concurrent readers, one serialized writer.
package store

import (
	"time"

	"github.com/Aman-CERP/corpusmcp/internal/chunk"
	"github.com/Aman-CERP/corpusmcp/internal/keyword"
)

// File is one indexed file. (path, content_hash) determines the indexed
// version; a differing on-disk hash means the row is stale, not wrong.
type File struct {
	Path         string    // Absolute path, unique key
	Size         int64     // Byte size
	ModTime      time.Time // On-disk modification time
	ContentHash  string    // SHA256 of content at ingest
	FileType     string    // Extension without dot, or inferred
	DiscoveredAt time.Time // First discovery time
}

// ChunkRecord pairs an envelope with its optional embedding for insertion.
type ChunkRecord struct {
	Envelope  *chunk.Envelope
	Embedding []float32 // nil when embedding failed or is disabled
}

// StoredChunk is an envelope read back with its row identity.
type StoredChunk struct {
	RowID      int64
	FilePath   string
	ChunkIndex int
	Envelope   *chunk.Envelope
	Embedding  []float32
}

// SearchHit is one full-text result.
type SearchHit struct {
	Chunk   *StoredChunk
	Score   float64 // BM25 relevance, higher is better
	Snippet string  // Matched terms bracketed with **
}

// FileHit is one keyword-search result.
type FileHit struct {
	File    *File
	Matched []keyword.Keyword // Intersecting keywords with their scores
	Score   float64           // Summed importance of matched keywords
}

// ListFilters are the predicates for list_files.
type ListFilters struct {
	PathPrefix     string
	NamePattern    string // SQL LIKE pattern against the basename
	FileType       string
	SizeMin        int64
	SizeMax        int64
	ModifiedAfter  time.Time
	ModifiedBefore time.Time
}

// ListOrder selects list_files ordering.
type ListOrder string

const (
	OrderByPath  ListOrder = "path"
	OrderByMtime ListOrder = "mtime"
	OrderBySize  ListOrder = "size"
)

// DirInfo aggregates one directory for list_directories.
type DirInfo struct {
	Path      string
	FileCount int
	TotalSize int64
}

// Session is one append-only audit row of a scan run.
type Session struct {
	ID          string
	StartedAt   time.Time
	EndedAt     time.Time
	Discovered  int
	Processed   int
	Skipped     int
	Failed      int
	Interrupted bool
}

// Stats is the get_stats aggregate.
type Stats struct {
	Files           int
	Chunks          int
	Embeddings      int
	SizeOnDiskBytes int64
	PerExtension    map[string]int
	WriteEpoch      int64
	RetriesTotal    int64
	RetryCapHits    int64
	LastSession     *Session
}

// State keys for engine_state. No code path writes or reads these keys.
const (
	StateKeyModelName  = "embedding_model_name"
	StateKeyModelDims  = "embedding_model_dimensions"
	StateKeyIDFVersion = "keyword_idf_version"
)
