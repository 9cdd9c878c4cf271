package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Aman-CERP/corpusmcp/internal/chunk"
	"github.com/Aman-CERP/corpusmcp/internal/errors"
)

const chunkColumns = `id, file_path, chunk_index, chunk_envelope, embedding`

func scanChunk(row rowScanner) (*StoredChunk, error) {
	var c StoredChunk
	var envJSON string
	var blob []byte
	if err := row.Scan(&c.RowID, &c.FilePath, &c.ChunkIndex, &envJSON, &blob); err != nil {
		return nil, err
	}
	var env chunk.Envelope
	if err := json.Unmarshal([]byte(envJSON), &env); err != nil {
		return nil, fmt.Errorf("decode envelope %s[%d]: %w", c.FilePath, c.ChunkIndex, err)
	}
	c.Envelope = &env
	if len(blob) > 0 {
		c.Embedding = DecodeVector(blob)
	}
	return &c, nil
}

// GetChunks returns a file's envelopes ordered by chunk index. A nil rng
// returns all of them; otherwise indexes in [rng[0], rng[1]] inclusive.
func (s *Store) GetChunks(ctx context.Context, path string, rng *[2]int) ([]*StoredChunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM text_chunks_v2 WHERE file_path = ?`
	args := []any{path}
	if rng != nil {
		query += ` AND chunk_index >= ? AND chunk_index <= ?`
		args = append(args, rng[0], rng[1])
	}
	query += ` ORDER BY chunk_index`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.classify("get chunks", err)
	}
	defer rows.Close()

	var chunks []*StoredChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetChunk returns one envelope, or NotFound.
func (s *Store) GetChunk(ctx context.Context, path string, index int) (*StoredChunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM text_chunks_v2 WHERE file_path = ? AND chunk_index = ?`,
		path, index)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(fmt.Sprintf("chunk %s[%d]", path, index))
	}
	if err != nil {
		return nil, s.classify("get chunk", err)
	}
	return c, nil
}

// GetChunksByRowIDs batch-fetches envelopes by row id, returned in the
// argument order. Missing ids are skipped.
func (s *Store) GetChunksByRowIDs(ctx context.Context, ids []int64) ([]*StoredChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM text_chunks_v2 WHERE id IN (`+strings.Join(placeholders, ",")+`)`,
		args...)
	if err != nil {
		return nil, s.classify("get chunks by id", err)
	}
	defer rows.Close()

	byID := make(map[int64]*StoredChunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		byID[c.RowID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ordered := make([]*StoredChunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			ordered = append(ordered, c)
		}
	}
	return ordered, nil
}

// FullTextSearch runs a ranked BM25 query over chunk content. The query
// syntax supports quoted phrases, AND/OR/NOT, and trailing-wildcard prefix
// matches. Snippets bracket matched terms with ** and carry at most ~32
// tokens of context.
func (s *Store) FullTextSearch(ctx context.Context, query string, limit int) ([]*SearchHit, error) {
	match, err := TranslateQuery(query)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	// bm25() is negative, lower = better; order ascending then negate.
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.file_path, c.chunk_index, c.chunk_envelope, c.embedding,
		       bm25(chunks_fts) AS score,
		       snippet(chunks_fts, 2, '**', '**', '…', 32) AS snip
		FROM chunks_fts
		JOIN text_chunks_v2 c
		  ON c.file_path = chunks_fts.file_path
		 AND c.chunk_index = chunks_fts.chunk_index
		WHERE chunks_fts MATCH ?
		ORDER BY score, c.id
		LIMIT ?`, match, limit)
	if err != nil {
		// FTS5 reports malformed MATCH expressions at query time.
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return nil, errors.InvalidQuery("unparseable query: " + query).
				WithSuggestion("quote phrases and use AND/OR/NOT or trailing *")
		}
		return nil, s.classify("full text search", err)
	}
	defer rows.Close()

	var hits []*SearchHit
	for rows.Next() {
		var c StoredChunk
		var envJSON, snip string
		var blob []byte
		var score float64
		if err := rows.Scan(&c.RowID, &c.FilePath, &c.ChunkIndex, &envJSON, &blob, &score, &snip); err != nil {
			return nil, err
		}
		var env chunk.Envelope
		if err := json.Unmarshal([]byte(envJSON), &env); err != nil {
			return nil, fmt.Errorf("decode envelope %s[%d]: %w", c.FilePath, c.ChunkIndex, err)
		}
		c.Envelope = &env
		if len(blob) > 0 {
			c.Embedding = DecodeVector(blob)
		}
		hits = append(hits, &SearchHit{Chunk: &c, Score: -score, Snippet: snip})
	}
	return hits, rows.Err()
}

// TranslateQuery converts the public query syntax into an FTS5 MATCH
// expression. Bare terms are quoted so user punctuation never reaches the
// FTS5 parser; AND/OR/NOT and parentheses pass through; a trailing *
// becomes a prefix match.
func TranslateQuery(query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", errors.InvalidQuery("empty query")
	}

	var out []string
	i := 0
	for i < len(query) {
		switch c := query[i]; {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '"':
			end := strings.IndexByte(query[i+1:], '"')
			if end < 0 {
				return "", errors.InvalidQuery("unterminated phrase quote")
			}
			phrase := query[i+1 : i+1+end]
			i += end + 2
			prefix := ""
			if i < len(query) && query[i] == '*' {
				prefix = " *"
				i++
			}
			out = append(out, `"`+strings.ReplaceAll(phrase, `"`, `""`)+`"`+prefix)
		case c == '(' || c == ')':
			out = append(out, string(c))
			i++
		default:
			start := i
			for i < len(query) && !strings.ContainsRune(" \t\n\"()", rune(query[i])) {
				i++
			}
			word := query[start:i]
			switch word {
			case "AND", "OR", "NOT":
				out = append(out, word)
			default:
				prefix := ""
				if strings.HasSuffix(word, "*") {
					word = strings.TrimSuffix(word, "*")
					prefix = " *"
				}
				if word == "" {
					continue
				}
				out = append(out, `"`+strings.ReplaceAll(word, `"`, `""`)+`"`+prefix)
			}
		}
	}
	if len(out) == 0 {
		return "", errors.InvalidQuery("no searchable terms in query")
	}
	return strings.Join(out, " "), nil
}
