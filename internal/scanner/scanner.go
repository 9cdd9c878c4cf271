// Package scanner discovers and ingests files: walk the root under resource
// throttling, decide skip/rescan by content hash, drive the chunker,
// embedder, and keyword analyzer, and write storage rows in bounded batches.
// Every run is audited as one processing session.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/corpusmcp/internal/chunk"
	"github.com/Aman-CERP/corpusmcp/internal/config"
	"github.com/Aman-CERP/corpusmcp/internal/embed"
	engerr "github.com/Aman-CERP/corpusmcp/internal/errors"
	"github.com/Aman-CERP/corpusmcp/internal/freshness"
	"github.com/Aman-CERP/corpusmcp/internal/keyword"
	"github.com/Aman-CERP/corpusmcp/internal/store"
)

// skipDirs are never descended into, regardless of user patterns.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "__pycache__": true,
	".build": true, ".venv": true, ".svn": true, ".hg": true,
	".idea": true, ".vscode": true, ".DS_Store": true,
	"Thumbs.db": true, ".Trash": true, ".cache": true,
}

// Options configures one scan run.
type Options struct {
	Root    string
	Include []string // glob patterns on the path relative to Root (empty = all)
	Exclude []string
	Workers int
	Force   bool // re-ingest even when the content hash is unchanged
}

// Scanner drives the ingest pipeline.
type Scanner struct {
	st       *store.Store
	chunker  *chunk.Chunker
	embedder embed.Embedder
	analyzer *keyword.Analyzer
	cfg      config.ScannerConfig
	embedCfg config.EmbedConfig

	// Progress is called with (processed, discovered) after each file when
	// set. Used by the CLI progress line.
	Progress func(processed, discovered int)
}

// New creates a Scanner over the engine's shared components.
func New(st *store.Store, chunker *chunk.Chunker, embedder embed.Embedder,
	analyzer *keyword.Analyzer, cfg config.ScannerConfig, embedCfg config.EmbedConfig) *Scanner {
	return &Scanner{
		st: st, chunker: chunker, embedder: embedder, analyzer: analyzer,
		cfg: cfg, embedCfg: embedCfg,
	}
}

type counters struct {
	mu         sync.Mutex
	discovered int
	processed  int
	skipped    int
	failed     int
}

// Run executes a scan. Cancelling ctx interrupts the run: workers stop
// accepting new files, in-flight files finish, and the session is recorded
// with interrupted=true. The returned session is also persisted.
func (s *Scanner) Run(ctx context.Context, opts Options) (*store.Session, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan root is not a directory: %s", root)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = s.cfg.Workers
	}
	if workers <= 0 {
		workers = 4
	}

	sess := &store.Session{ID: uuid.NewString(), StartedAt: time.Now().UTC()}
	var c counters

	files := make(chan string, workers*4)
	var walkErr error
	go func() {
		defer close(files)
		walkErr = s.walk(ctx, root, opts, files, &c)
	}()

	// Throttle: a shared ticker dispenses file tokens at the rate ceiling.
	var limiter *time.Ticker
	if s.cfg.RateLimit > 0 {
		interval := s.cfg.RateInterval
		if interval <= 0 {
			interval = time.Second
		}
		limiter = time.NewTicker(interval / time.Duration(s.cfg.RateLimit))
		defer limiter.Stop()
	}

	g := new(errgroup.Group)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for path := range files {
				// Stop accepting new files once interrupted; the channel
				// drains without further ingests.
				if ctx.Err() != nil {
					continue
				}
				if limiter != nil {
					select {
					case <-limiter.C:
					case <-ctx.Done():
						continue
					}
				}
				s.processOne(ctx, path, opts.Force, &c)
			}
			return nil
		})
	}
	_ = g.Wait()

	interrupted := ctx.Err() != nil
	c.mu.Lock()
	sess.Discovered = c.discovered
	sess.Processed = c.processed
	sess.Skipped = c.skipped
	sess.Failed = c.failed
	c.mu.Unlock()
	sess.EndedAt = time.Now().UTC()
	sess.Interrupted = interrupted

	// Record the audit row even after an interrupt.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.st.RecordSession(recordCtx, sess); err != nil {
		slog.Error("record_session_failed", slog.String("error", err.Error()))
	}

	slog.Info("scan_complete",
		slog.String("session", sess.ID),
		slog.Int("discovered", sess.Discovered),
		slog.Int("processed", sess.Processed),
		slog.Int("skipped", sess.Skipped),
		slog.Int("failed", sess.Failed),
		slog.Bool("interrupted", sess.Interrupted))

	if walkErr != nil && !errors.Is(walkErr, context.Canceled) {
		return sess, walkErr
	}
	return sess, nil
}

// walk performs an iterative traversal. Symlinked directories are followed
// only while they resolve inside the scan root; a visited-inode set breaks
// cycles.
func (s *Scanner) walk(ctx context.Context, root string, opts Options, out chan<- string, c *counters) error {
	type inode struct {
		dev uint64
		ino uint64
	}
	visited := make(map[inode]struct{})
	markVisited := func(path string) bool {
		fi, err := os.Stat(path)
		if err != nil {
			return false
		}
		if st, ok := fi.Sys().(*syscall.Stat_t); ok {
			key := inode{dev: uint64(st.Dev), ino: uint64(st.Ino)}
			if _, seen := visited[key]; seen {
				return false
			}
			visited[key] = struct{}{}
		}
		return true
	}

	if !markVisited(root) {
		return nil
	}
	stack := []string{root}
	for len(stack) > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			slog.Debug("walk_skip_dir", slog.String("dir", dir), slog.String("error", err.Error()))
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			full := filepath.Join(dir, name)
			rel, _ := filepath.Rel(root, full)

			if entry.IsDir() || isDirSymlink(full, entry) {
				if skipDirs[name] || matchAny(opts.Exclude, rel) {
					continue
				}
				if isSymlink(entry) {
					resolved, err := filepath.EvalSymlinks(full)
					if err != nil || !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
						continue // only follow symlinks within the root
					}
				}
				if !markVisited(full) {
					continue
				}
				stack = append(stack, full)
				continue
			}
			if !entry.Type().IsRegular() && !isSymlink(entry) {
				continue
			}
			if skipDirs[name] { // platform metadata files (.DS_Store and kin)
				continue
			}
			if matchAny(opts.Exclude, rel) {
				continue
			}
			if len(opts.Include) > 0 && !matchAny(opts.Include, rel) {
				continue
			}

			c.mu.Lock()
			c.discovered++
			c.mu.Unlock()

			select {
			case out <- full:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func isSymlink(entry os.DirEntry) bool {
	return entry.Type()&os.ModeSymlink != 0
}

func isDirSymlink(full string, entry os.DirEntry) bool {
	if !isSymlink(entry) {
		return false
	}
	fi, err := os.Stat(full)
	return err == nil && fi.IsDir()
}

func matchAny(patterns []string, rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(p, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}

// processOne runs the per-file decision: hash, skip-or-ingest, count.
// Worker errors are recorded to the session, never propagated to the pool.
func (s *Scanner) processOne(ctx context.Context, path string, force bool, c *counters) {
	// The in-flight file always completes: interrupts stop intake, not the
	// current ingest.
	fileCtx := context.WithoutCancel(ctx)

	outcome := s.ingest(fileCtx, path, force)
	c.mu.Lock()
	switch outcome {
	case outcomeProcessed:
		c.processed++
	case outcomeSkipped:
		c.skipped++
	case outcomeFailed:
		c.failed++
	}
	processed, discovered := c.processed, c.discovered
	c.mu.Unlock()

	if s.Progress != nil {
		s.Progress(processed, discovered)
	}
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (s *Scanner) ingest(ctx context.Context, path string, force bool) outcome {
	info, err := os.Stat(path)
	if err != nil {
		slog.Warn("file_unreadable", slog.String("path", path), slog.String("error", err.Error()))
		return outcomeFailed
	}

	hash, err := freshness.HashFile(path)
	if err != nil {
		slog.Warn("file_unreadable", slog.String("path", path), slog.String("error", err.Error()))
		return outcomeFailed
	}

	existing, err := s.st.GetFile(ctx, path)
	if err == nil && !force && existing.ContentHash == hash {
		return outcomeSkipped
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("file_unreadable", slog.String("path", path), slog.String("error", err.Error()))
		return outcomeFailed
	}
	content, err := chunk.Decode(data)
	if err != nil {
		slog.Warn("file_unreadable", slog.String("path", path), slog.String("code", engerr.CodeOf(err)))
		return outcomeFailed
	}

	fileType := strings.TrimPrefix(filepath.Ext(path), ".")
	envelopes, err := s.chunker.Chunk(&chunk.FileInput{
		Path:     path,
		Content:  content,
		FileType: fileType,
		Hash:     hash,
	})
	if err != nil {
		slog.Warn("chunking_failed",
			slog.String("path", path), slog.String("code", engerr.CodeOf(err)))
		return outcomeFailed
	}

	records := s.embedChunks(ctx, envelopes)
	keywords := s.analyzer.Analyze(path, content)

	f := &store.File{
		Path:         path,
		Size:         info.Size(),
		ModTime:      info.ModTime(),
		ContentHash:  hash,
		FileType:     fileType,
		DiscoveredAt: time.Now().UTC(),
	}
	if err := s.st.IngestFile(ctx, f, records, keywords); err != nil {
		slog.Error("ingest_failed", slog.String("path", path), slog.String("error", err.Error()))
		return outcomeFailed
	}
	return outcomeProcessed
}

// IngestPath ingests or refreshes a single file outside a scan run. Used by
// the watcher.
func (s *Scanner) IngestPath(ctx context.Context, path string) error {
	if outcome := s.ingest(ctx, path, false); outcome == outcomeFailed {
		return fmt.Errorf("ingest failed for %s", path)
	}
	return nil
}

// RemovePath drops a deleted file from storage and the keyword corpus.
func (s *Scanner) RemovePath(ctx context.Context, path string) error {
	s.analyzer.Remove(path)
	return s.st.DeleteFile(ctx, path)
}

// embedChunks embeds envelope texts in bounded batches. A batch that fails
// is retried once; chunks that still fail are indexed without embeddings and
// repaired by a later full re-index.
func (s *Scanner) embedChunks(ctx context.Context, envelopes []*chunk.Envelope) []store.ChunkRecord {
	records := make([]store.ChunkRecord, len(envelopes))
	for i, env := range envelopes {
		records[i] = store.ChunkRecord{Envelope: env}
	}

	batchSize := s.embedCfg.BatchSize
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}
	for start := 0; start < len(envelopes); start += batchSize {
		end := start + batchSize
		if end > len(envelopes) {
			end = len(envelopes)
		}
		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = envelopes[i].Content
		}

		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			vectors, err = s.embedder.EmbedBatch(ctx, texts)
		}
		if err != nil {
			slog.Warn("embed_batch_failed",
				slog.Int("from", start), slog.Int("to", end),
				slog.String("error", err.Error()))
			continue
		}
		for i, vec := range vectors {
			records[start+i].Embedding = vec
		}
	}
	return records
}
