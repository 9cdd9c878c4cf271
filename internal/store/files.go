package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Aman-CERP/corpusmcp/internal/errors"
	"github.com/Aman-CERP/corpusmcp/internal/keyword"
)

// UpsertFile writes a file row atomically. On content-hash change the file's
// envelopes and analysis are removed in the same transaction.
func (s *Store) UpsertFile(ctx context.Context, f *File) error {
	return s.write(ctx, "upsert file", func(tx *sql.Tx) (bool, error) {
		destructive := false
		var existingHash string
		err := tx.QueryRowContext(ctx,
			`SELECT content_hash FROM file_metadata WHERE file_path = ?`, f.Path).
			Scan(&existingHash)
		if err != nil && err != sql.ErrNoRows {
			return false, err
		}
		if err == nil && existingHash != f.ContentHash {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM text_chunks_v2 WHERE file_path = ?`, f.Path); err != nil {
				return false, err
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM content_analysis WHERE file_path = ?`, f.Path); err != nil {
				return false, err
			}
			destructive = true
		}
		return destructive, upsertFileRow(ctx, tx, f)
	})
}

func upsertFileRow(ctx context.Context, tx *sql.Tx, f *File) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO file_metadata (file_path, size, mtime, content_hash, file_type, discovered_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			size = excluded.size,
			mtime = excluded.mtime,
			content_hash = excluded.content_hash,
			file_type = excluded.file_type`,
		f.Path, f.Size, float64(f.ModTime.UnixNano())/1e9, f.ContentHash,
		f.FileType, nowISO(f.DiscoveredAt))
	return err
}

// validateBatch enforces the envelope-batch invariants: dense 0..n-1 chunk
// indexes, one total_chunks, one file_hash.
func validateBatch(records []ChunkRecord) error {
	for i, rec := range records {
		m := rec.Envelope.Metadata
		if m.ChunkIndex != i {
			return errors.New(errors.ErrCodeInvalidInput,
				fmt.Sprintf("chunk_index %d at position %d: batch must be dense", m.ChunkIndex, i), nil)
		}
		if m.TotalChunks != len(records) {
			return errors.New(errors.ErrCodeInvalidInput,
				fmt.Sprintf("total_chunks %d inconsistent with batch size %d", m.TotalChunks, len(records)), nil)
		}
		if m.FileHash != records[0].Envelope.Metadata.FileHash {
			return errors.New(errors.ErrCodeInvalidInput, "file_hash inconsistent across batch", nil)
		}
	}
	return nil
}

// InsertChunks replaces a file's envelope set atomically.
func (s *Store) InsertChunks(ctx context.Context, path string, records []ChunkRecord) error {
	if err := validateBatch(records); err != nil {
		return err
	}
	return s.write(ctx, "insert chunks", func(tx *sql.Tx) (bool, error) {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM text_chunks_v2 WHERE file_path = ?`, path)
		if err != nil {
			return false, err
		}
		replaced, _ := res.RowsAffected()
		return replaced > 0, insertChunkRows(ctx, tx, path, records)
	})
}

func insertChunkRows(ctx context.Context, tx *sql.Tx, path string, records []ChunkRecord) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO text_chunks_v2
			(file_path, chunk_index, chunk_envelope, chunk_strategy, chunk_size,
			 total_chunks, file_hash, file_type, created_at, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		m := rec.Envelope.Metadata
		envJSON, err := json.Marshal(rec.Envelope)
		if err != nil {
			return err
		}
		var blob any
		if rec.Embedding != nil {
			blob = EncodeVector(rec.Embedding)
		}
		if _, err := stmt.ExecContext(ctx,
			path, m.ChunkIndex, string(envJSON), string(m.ChunkStrategy), m.ChunkSize,
			m.TotalChunks, m.FileHash, m.FileType, m.CreatedAt, blob); err != nil {
			return err
		}
	}
	return nil
}

// IngestFile writes the file row, its envelope batch, and its keyword
// analysis in one transaction. This is the scanner's write path: a file is
// either fully indexed or not indexed at all.
func (s *Store) IngestFile(ctx context.Context, f *File, records []ChunkRecord, keywords []keyword.Keyword) error {
	if err := validateBatch(records); err != nil {
		return err
	}
	kwJSON, err := json.Marshal(keywords)
	if err != nil {
		return err
	}
	return s.write(ctx, "ingest file", func(tx *sql.Tx) (bool, error) {
		if err := upsertFileRow(ctx, tx, f); err != nil {
			return false, err
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM text_chunks_v2 WHERE file_path = ?`, f.Path)
		if err != nil {
			return false, err
		}
		replaced, _ := res.RowsAffected()
		if err := insertChunkRows(ctx, tx, f.Path, records); err != nil {
			return false, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO content_analysis (file_path, keywords) VALUES (?, ?)
			ON CONFLICT(file_path) DO UPDATE SET keywords = excluded.keywords`,
			f.Path, string(kwJSON))
		return replaced > 0, err
	})
}

// DeleteFile removes a file row; envelopes and analysis cascade.
func (s *Store) DeleteFile(ctx context.Context, path string) error {
	return s.write(ctx, "delete file", func(tx *sql.Tx) (bool, error) {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM file_metadata WHERE file_path = ?`, path)
		if err != nil {
			return false, err
		}
		deleted, _ := res.RowsAffected()
		return deleted > 0, nil
	})
}

// GetFile returns a file row, or NotFound.
func (s *Store) GetFile(ctx context.Context, path string) (*File, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT file_path, size, mtime, content_hash, file_type, discovered_at
		FROM file_metadata WHERE file_path = ?`, path)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("file not indexed: " + path)
	}
	if err != nil {
		return nil, s.classify("get file", err)
	}
	return f, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanFile(row rowScanner) (*File, error) {
	var f File
	var mtime float64
	var discovered string
	if err := row.Scan(&f.Path, &f.Size, &mtime, &f.ContentHash, &f.FileType, &discovered); err != nil {
		return nil, err
	}
	f.ModTime = unixFloatToTime(mtime)
	f.DiscoveredAt = parseISO(discovered)
	return &f, nil
}

// GetAnalysis returns a file's keyword list (empty when absent).
func (s *Store) GetAnalysis(ctx context.Context, path string) ([]keyword.Keyword, error) {
	var kwJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT keywords FROM content_analysis WHERE file_path = ?`, path).Scan(&kwJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, s.classify("get analysis", err)
	}
	var kws []keyword.Keyword
	if err := json.Unmarshal([]byte(kwJSON), &kws); err != nil {
		return nil, fmt.Errorf("decode analysis for %s: %w", path, err)
	}
	return kws, nil
}

// AnalysesCursor streams every (file_path, keywords) analysis row. The
// keyword analyzer replays this at startup to rebuild its corpus state.
func (s *Store) AnalysesCursor(ctx context.Context, fn func(path string, kws []keyword.Keyword) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_path, keywords FROM content_analysis ORDER BY file_path`)
	if err != nil {
		return s.classify("analyses cursor", err)
	}
	defer rows.Close()

	for rows.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		var path, kwJSON string
		if err := rows.Scan(&path, &kwJSON); err != nil {
			return err
		}
		var kws []keyword.Keyword
		if err := json.Unmarshal([]byte(kwJSON), &kws); err != nil {
			continue // one undecodable row must not block startup
		}
		if err := fn(path, kws); err != nil {
			return err
		}
	}
	return rows.Err()
}

// KeywordSearch ranks files whose keyword lists intersect the arguments by
// summed importance score.
func (s *Store) KeywordSearch(ctx context.Context, keywords []string, limit int) ([]*FileHit, error) {
	if len(keywords) == 0 {
		return nil, errors.InvalidQuery("at least one keyword is required")
	}
	want := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		want[strings.ToLower(strings.TrimSpace(k))] = true
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ca.file_path, ca.keywords, fm.size, fm.mtime, fm.content_hash, fm.file_type, fm.discovered_at
		FROM content_analysis ca
		JOIN file_metadata fm ON fm.file_path = ca.file_path`)
	if err != nil {
		return nil, s.classify("keyword search", err)
	}
	defer rows.Close()

	var hits []*FileHit
	for rows.Next() {
		var path, kwJSON, hash, ftype, discovered string
		var size int64
		var mtime float64
		if err := rows.Scan(&path, &kwJSON, &size, &mtime, &hash, &ftype, &discovered); err != nil {
			return nil, err
		}
		var kws []keyword.Keyword
		if err := json.Unmarshal([]byte(kwJSON), &kws); err != nil {
			continue
		}
		var matched []keyword.Keyword
		var score float64
		for _, kw := range kws {
			if want[kw.Term] {
				matched = append(matched, kw)
				score += kw.Score
			}
		}
		if len(matched) == 0 {
			continue
		}
		hits = append(hits, &FileHit{
			File: &File{
				Path: path, Size: size, ModTime: unixFloatToTime(mtime),
				ContentHash: hash, FileType: ftype, DiscoveredAt: parseISO(discovered),
			},
			Matched: matched,
			Score:   score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].File.Path < hits[j].File.Path
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// ListFiles returns files matching the filter predicates.
func (s *Store) ListFiles(ctx context.Context, filters ListFilters, limit int, order ListOrder) ([]*File, error) {
	var where []string
	var args []any

	if filters.PathPrefix != "" {
		where = append(where, "file_path LIKE ? || '%'")
		args = append(args, filters.PathPrefix)
	}
	if filters.NamePattern != "" {
		where = append(where, "file_path LIKE '%/' || ?")
		args = append(args, filters.NamePattern)
	}
	if filters.FileType != "" {
		where = append(where, "file_type = ?")
		args = append(args, strings.TrimPrefix(filters.FileType, "."))
	}
	if filters.SizeMin > 0 {
		where = append(where, "size >= ?")
		args = append(args, filters.SizeMin)
	}
	if filters.SizeMax > 0 {
		where = append(where, "size <= ?")
		args = append(args, filters.SizeMax)
	}
	if !filters.ModifiedAfter.IsZero() {
		where = append(where, "mtime >= ?")
		args = append(args, float64(filters.ModifiedAfter.UnixNano())/1e9)
	}
	if !filters.ModifiedBefore.IsZero() {
		where = append(where, "mtime <= ?")
		args = append(args, float64(filters.ModifiedBefore.UnixNano())/1e9)
	}

	query := `SELECT file_path, size, mtime, content_hash, file_type, discovered_at FROM file_metadata`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	switch order {
	case OrderByMtime:
		query += " ORDER BY mtime DESC, file_path"
	case OrderBySize:
		query += " ORDER BY size DESC, file_path"
	default:
		query += " ORDER BY file_path"
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.classify("list files", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// ListDirectories aggregates file counts and sizes per directory under root.
func (s *Store) ListDirectories(ctx context.Context, root string, limit int) ([]*DirInfo, error) {
	query := `SELECT file_path, size FROM file_metadata`
	var args []any
	if root != "" {
		query += ` WHERE file_path LIKE ? || '%'`
		args = append(args, strings.TrimSuffix(root, "/")+"/")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.classify("list directories", err)
	}
	defer rows.Close()

	agg := make(map[string]*DirInfo)
	for rows.Next() {
		var path string
		var size int64
		if err := rows.Scan(&path, &size); err != nil {
			return nil, err
		}
		dir := filepath.Dir(path)
		info, ok := agg[dir]
		if !ok {
			info = &DirInfo{Path: dir}
			agg[dir] = info
		}
		info.FileCount++
		info.TotalSize += size
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	dirs := make([]*DirInfo, 0, len(agg))
	for _, info := range agg {
		dirs = append(dirs, info)
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Path < dirs[j].Path })
	if limit > 0 && len(dirs) > limit {
		dirs = dirs[:limit]
	}
	return dirs, nil
}

// RecordSession appends one audit row for a scan run.
func (s *Store) RecordSession(ctx context.Context, sess *Session) error {
	return s.write(ctx, "record session", func(tx *sql.Tx) (bool, error) {
		interrupted := 0
		if sess.Interrupted {
			interrupted = 1
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO processing_stats
				(session_id, started_at, ended_at, discovered, processed, skipped, failed, interrupted)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, nowISO(sess.StartedAt), nowISO(sess.EndedAt),
			sess.Discovered, sess.Processed, sess.Skipped, sess.Failed, interrupted)
		return false, err
	})
}

// LastSession returns the most recent audit row, or nil.
func (s *Store) LastSession(ctx context.Context) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, started_at, ended_at, discovered, processed, skipped, failed, interrupted
		FROM processing_stats ORDER BY ended_at DESC LIMIT 1`)
	var sess Session
	var started, ended string
	var interrupted int
	err := row.Scan(&sess.ID, &started, &ended,
		&sess.Discovered, &sess.Processed, &sess.Skipped, &sess.Failed, &interrupted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, s.classify("last session", err)
	}
	sess.StartedAt = parseISO(started)
	sess.EndedAt = parseISO(ended)
	sess.Interrupted = interrupted != 0
	return &sess, nil
}

// GetStats returns the aggregate store statistics.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		PerExtension:    make(map[string]int),
		SizeOnDiskBytes: s.sizeOnDisk(),
		WriteEpoch:      s.writeEpoch.Load(),
		RetriesTotal:    s.retries.Total(),
		RetryCapHits:    s.retries.CapReached(),
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM file_metadata`).Scan(&st.Files); err != nil {
		return nil, s.classify("stats", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM text_chunks_v2`).Scan(&st.Chunks); err != nil {
		return nil, s.classify("stats", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM text_chunks_v2 WHERE embedding IS NOT NULL`).Scan(&st.Embeddings); err != nil {
		return nil, s.classify("stats", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT file_type, COUNT(*) FROM file_metadata GROUP BY file_type`)
	if err != nil {
		return nil, s.classify("stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ext string
		var count int
		if err := rows.Scan(&ext, &count); err != nil {
			return nil, err
		}
		st.PerExtension[ext] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	last, err := s.LastSession(ctx)
	if err != nil {
		return nil, err
	}
	st.LastSession = last
	return st, nil
}
