package chunk

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/Aman-CERP/corpusmcp/internal/config"
	"github.com/Aman-CERP/corpusmcp/internal/errors"
)

// slackFraction is the tolerated overshoot past the target chunk size when
// hunting for a break boundary.
const slackFraction = 0.2

// Chunker turns (path, content) pairs into ordered envelope sequences.
type Chunker struct {
	cfg config.ChunkerConfig
}

// New creates a Chunker from configuration.
func New(cfg config.ChunkerConfig) *Chunker {
	return &Chunker{cfg: cfg}
}

// Decode converts raw file bytes to text. UTF-8 is accepted as-is; invalid
// encodings fall back to latin-1. Binary content (NUL bytes) is rejected.
func Decode(data []byte) (string, error) {
	if bytes.IndexByte(data, 0) >= 0 {
		return "", errors.New(errors.ErrCodeFileUnreadable, "binary content", nil)
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	// latin-1 fallback: every byte maps to the code point of the same value.
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes), nil
}

// Chunk splits a file into envelopes. Empty content yields an empty slice.
func (c *Chunker) Chunk(in *FileInput) ([]*Envelope, error) {
	if c.cfg.MaxFileSize > 0 && int64(len(in.Content)) > c.cfg.MaxFileSize {
		return nil, errors.New(errors.ErrCodeFileTooLarge,
			fmt.Sprintf("%s exceeds %d bytes", in.Path, c.cfg.MaxFileSize), nil)
	}
	if strings.TrimSpace(in.Content) == "" {
		return []*Envelope{}, nil
	}

	strategy := StrategyFor(in.FileType, c.cfg.ProseOverlap)

	var pieces []string
	var overlaps []int
	switch strategy {
	case StrategyCodeDiscrete:
		pieces = splitCode([]rune(in.Content), c.cfg.CodeChunkSize)
		overlaps = make([]int, len(pieces))
	case StrategyProseDiscrete:
		pieces = splitProse(in.Content, c.cfg.ProseChunkSize)
		overlaps = make([]int, len(pieces))
	case StrategyProseOverlap:
		base := splitProse(in.Content, c.cfg.ProseChunkSize)
		pieces, overlaps = applyOverlap(base, c.cfg.OverlapFraction)
	}

	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	total := len(pieces)
	envelopes := make([]*Envelope, 0, total)
	for i, text := range pieces {
		envelopes = append(envelopes, buildEnvelope(in, strategy, text, i, total, overlaps[i], createdAt))
	}
	return envelopes, nil
}

// splitCode breaks code at the nearest logical boundary at or before
// target+slack: end-of-statement punctuation or newline preferred, never
// mid-identifier.
func splitCode(content []rune, target int) []string {
	if target <= 0 {
		target = 350
	}
	slack := int(float64(target) * slackFraction)
	limit := target + slack

	var chunks []string
	pos := 0
	for pos < len(content) {
		remaining := len(content) - pos
		if remaining <= limit {
			chunks = append(chunks, string(content[pos:]))
			break
		}

		cut := findCodeBreak(content, pos, pos+limit)
		chunks = append(chunks, string(content[pos:cut]))
		pos = cut
	}
	return chunks
}

// findCodeBreak returns the cut position in (start, max]. Preference order:
// newline, statement punctuation, any non-identifier rune, hard cut.
func findCodeBreak(content []rune, start, max int) int {
	// Newline: cut just after the last newline in the window.
	for i := max - 1; i > start; i-- {
		if content[i] == '\n' {
			return i + 1
		}
	}
	// Statement punctuation.
	for i := max - 1; i > start; i-- {
		switch content[i] {
		case ';', '}', '{', ')':
			return i + 1
		}
	}
	// Never split an identifier: retreat to the nearest non-identifier rune.
	for i := max; i > start+1; i-- {
		if !isIdentRune(content[i-1]) || !isIdentRune(content[i]) {
			return i
		}
	}
	return max
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// splitProse groups paragraphs (double-newline separated) until the next
// paragraph would exceed target+slack. A paragraph larger than the budget
// stays whole: author-intended units are never split.
func splitProse(content string, target int) []string {
	if target <= 0 {
		target = 800
	}
	limit := target + int(float64(target)*slackFraction)

	paragraphs := splitParagraphs(content)
	var chunks []string
	var cur strings.Builder
	for _, para := range paragraphs {
		if cur.Len() > 0 && cur.Len()+2+len(para) > limit {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

func splitParagraphs(content string) []string {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	raw := strings.Split(normalized, "\n\n")
	paragraphs := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.Trim(p, "\n")
		if strings.TrimSpace(p) != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// applyOverlap prepends the trailing fraction of each previous base chunk.
func applyOverlap(base []string, fraction float64) ([]string, []int) {
	if fraction <= 0 {
		fraction = 0.15
	}
	pieces := make([]string, len(base))
	overlaps := make([]int, len(base))
	for i, text := range base {
		if i == 0 {
			pieces[i] = text
			continue
		}
		prev := []rune(base[i-1])
		n := int(float64(len(prev)) * fraction)
		overlap := string(prev[len(prev)-n:])
		pieces[i] = overlap + text
		overlaps[i] = len(overlap)
	}
	return pieces, overlaps
}

func buildEnvelope(in *FileInput, strategy Strategy, text string, index, total, overlapChars int, createdAt time.Time) *Envelope {
	prev, next := (*int)(nil), (*int)(nil)
	if index > 0 {
		p := index - 1
		prev = &p
	}
	if index < total-1 {
		n := index + 1
		next = &n
	}

	position := PositionMiddle
	suggestion := SuggestAdjacent
	switch {
	case index == 0:
		position = PositionStart
		suggestion = SuggestNextOnly
	case index == total-1:
		position = PositionEnd
		suggestion = SuggestPreviousOnly
	}

	adjacent := [3]int{maxInt(0, index-1), index, minInt(total-1, index+1)}

	return &Envelope{
		Metadata: Metadata{
			Filename:      filepath.Base(in.Path),
			ChunkIndex:    index,
			TotalChunks:   total,
			ChunkSize:     len(text),
			ChunkStrategy: strategy,
			OverlapChars:  overlapChars,
			FileType:      in.FileType,
			FileHash:      in.Hash,
			CreatedAt:     createdAt.Format(time.RFC3339),
			AIMetadata: AIMetadata{
				LineCount:                  strings.Count(text, "\n") + 1,
				WordCount:                  len(strings.Fields(text)),
				ChunkPosition:              position,
				HasPrevious:                prev != nil,
				HasNext:                    next != nil,
				PreviousChunkIndex:         prev,
				NextChunkIndex:             next,
				StartsWith:                 edge(text, true),
				EndsWith:                   edge(text, false),
				AdjacentChunkIndexes:       adjacent,
				RetrievalContextSuggestion: suggestion,
			},
		},
		Content: text,
	}
}

// edge returns the first or last ~80 characters of text.
func edge(text string, leading bool) string {
	runes := []rune(text)
	if len(runes) <= edgeChars {
		return text
	}
	if leading {
		return string(runes[:edgeChars])
	}
	return string(runes[len(runes)-edgeChars:])
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
