// Package chunk splits file content into self-describing chunk envelopes.
// Strategy is chosen from the file extension: code files get small discrete
// chunks broken at statement boundaries, prose files get paragraph-aligned
// chunks with an optional overlap variant.
package chunk

import "time"

// Strategy identifies how a file was chunked.
type Strategy string

const (
	StrategyCodeDiscrete  Strategy = "code_discrete"
	StrategyProseDiscrete Strategy = "prose_discrete"
	StrategyProseOverlap  Strategy = "prose_overlap"
)

// Position tags where a chunk sits within its file.
type Position string

const (
	PositionStart  Position = "start"
	PositionMiddle Position = "middle"
	PositionEnd    Position = "end"
)

// Context suggestions steer how much surrounding context a consumer fetches.
const (
	SuggestAdjacent     = "adjacent_1"
	SuggestNextOnly     = "next_only"
	SuggestPreviousOnly = "previous_only"
)

// edgeChars is how many leading/trailing characters are surfaced in
// starts_with / ends_with.
const edgeChars = 80

// AIMetadata is the per-chunk navigation block consumed by agents.
type AIMetadata struct {
	LineCount                  int      `json:"line_count"`
	WordCount                  int      `json:"word_count"`
	ChunkPosition              Position `json:"chunk_position"`
	HasPrevious                bool     `json:"has_previous"`
	HasNext                    bool     `json:"has_next"`
	PreviousChunkIndex         *int     `json:"previous_chunk_index"`
	NextChunkIndex             *int     `json:"next_chunk_index"`
	StartsWith                 string   `json:"starts_with"`
	EndsWith                   string   `json:"ends_with"`
	AdjacentChunkIndexes       [3]int   `json:"adjacent_chunk_indexes"`
	RetrievalContextSuggestion string   `json:"retrieval_context_suggestion"`
}

// Metadata is the envelope header.
type Metadata struct {
	Filename      string     `json:"filename"`
	ChunkIndex    int        `json:"chunk_index"`
	TotalChunks   int        `json:"total_chunks"`
	ChunkSize     int        `json:"chunk_size"`
	ChunkStrategy Strategy   `json:"chunk_strategy"`
	OverlapChars  int        `json:"overlap_chars"`
	FileType      string     `json:"file_type"`
	FileHash      string     `json:"file_hash"`
	CreatedAt     string     `json:"created_at"`
	AIMetadata    AIMetadata `json:"ai_metadata"`
}

// Envelope is one contiguous slice of a file's content plus full metadata,
// self-sufficient for AI consumption.
type Envelope struct {
	Metadata Metadata `json:"metadata"`
	Content  string   `json:"content"`
}

// FileInput is the chunker input.
type FileInput struct {
	// Path is the absolute path of the file.
	Path string
	// Content is the decoded file content.
	Content string
	// FileType is the extension without the dot ("" for none).
	FileType string
	// Hash is the content hash of the file at ingest.
	Hash string
	// CreatedAt stamps the envelopes; zero means now.
	CreatedAt time.Time
}

// codeExtensions selects the code_discrete strategy.
var codeExtensions = map[string]bool{
	"py": true, "js": true, "ts": true, "c": true, "cpp": true,
	"java": true, "rs": true, "go": true, "sh": true, "rb": true,
	"php": true, "swift": true, "kt": true, "jsx": true, "tsx": true,
}

// proseExtensions selects the prose strategies.
var proseExtensions = map[string]bool{
	"md": true, "txt": true, "org": true, "rst": true, "tex": true,
}

// StrategyFor returns the chunking strategy for a file type.
// Unknown types default to prose_discrete.
func StrategyFor(fileType string, overlap bool) Strategy {
	if codeExtensions[fileType] {
		return StrategyCodeDiscrete
	}
	if proseExtensions[fileType] && overlap {
		return StrategyProseOverlap
	}
	return StrategyProseDiscrete
}
