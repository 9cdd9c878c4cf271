package chunk

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/corpusmcp/internal/config"
)

// The envelope's wire shape is depended on by external tools; key names are
// load-bearing.
func TestEnvelopeWireShape(t *testing.T) {
	c := New(config.ChunkerConfig{CodeChunkSize: 350, ProseChunkSize: 800})
	envs, err := c.Chunk(&FileInput{
		Path: "/src/auth.py", Content: "def login(user): return authenticate(user)",
		FileType: "py", Hash: "deadbeef",
	})
	require.NoError(t, err)
	require.Len(t, envs, 1)

	data, err := json.Marshal(envs[0])
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	require.Contains(t, wire, "metadata")
	require.Contains(t, wire, "content")

	meta := wire["metadata"].(map[string]any)
	for _, key := range []string{
		"filename", "chunk_index", "total_chunks", "chunk_size",
		"chunk_strategy", "overlap_chars", "file_type", "file_hash",
		"created_at", "ai_metadata",
	} {
		assert.Contains(t, meta, key)
	}

	ai := meta["ai_metadata"].(map[string]any)
	for _, key := range []string{
		"line_count", "word_count", "chunk_position",
		"has_previous", "has_next", "previous_chunk_index", "next_chunk_index",
		"starts_with", "ends_with", "adjacent_chunk_indexes",
		"retrieval_context_suggestion",
	} {
		assert.Contains(t, ai, key)
	}

	// Null adjacency hints serialize explicitly, not as absent keys.
	assert.Nil(t, ai["previous_chunk_index"])
	assert.Nil(t, ai["next_chunk_index"])
	assert.Equal(t, "code_discrete", meta["chunk_strategy"])
}
