package store

import (
	"context"
	"encoding/binary"
	"math"
)

// EncodeVector serializes a float32 vector as little-endian bytes for the
// embedding BLOB column.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector deserializes an embedding BLOB.
func DecodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// EmbeddingsCursor streams (chunk_row_id, vector) ordered by row id for every
// chunk with a non-null embedding whose id is greater than sinceRowID. Pass
// 0 to stream everything. This is the ANN index's build and append feed.
func (s *Store) EmbeddingsCursor(ctx context.Context, sinceRowID int64, fn func(rowID int64, vec []float32) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, embedding FROM text_chunks_v2
		WHERE embedding IS NOT NULL AND id > ?
		ORDER BY id`, sinceRowID)
	if err != nil {
		return s.classify("embeddings cursor", err)
	}
	defer rows.Close()

	for rows.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		var rowID int64
		var blob []byte
		if err := rows.Scan(&rowID, &blob); err != nil {
			return err
		}
		if err := fn(rowID, DecodeVector(blob)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// EmbeddedRowIDs returns the ids of all chunks with embeddings, ordered.
// Used by coherence checks and tests.
func (s *Store) EmbeddedRowIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM text_chunks_v2 WHERE embedding IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, s.classify("embedded row ids", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
