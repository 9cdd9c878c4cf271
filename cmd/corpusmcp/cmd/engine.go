package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/Aman-CERP/corpusmcp/internal/chunk"
	"github.com/Aman-CERP/corpusmcp/internal/config"
	"github.com/Aman-CERP/corpusmcp/internal/embed"
	"github.com/Aman-CERP/corpusmcp/internal/keyword"
	"github.com/Aman-CERP/corpusmcp/internal/scanner"
	"github.com/Aman-CERP/corpusmcp/internal/store"
	"github.com/Aman-CERP/corpusmcp/internal/vector"
)

// engine bundles the long-lived components a command needs.
type engine struct {
	cfg      *config.Config
	st       *store.Store
	embedder embed.Embedder
	index    *vector.Index
	scanner  *scanner.Scanner

	lock    *flock.Flock
	cleanup []func()
}

// openEngine initializes storage, embedder, index, and scanner, guarding the
// data directory with an advisory lock so two processes never share the
// writer queue.
func openEngine(cfg *config.Config) (*engine, error) {
	e := &engine{cfg: cfg}

	st, err := store.Open(cfg.StorePath(), cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	e.st = st
	e.cleanup = append(e.cleanup, func() { _ = st.Close() })

	e.lock = flock.New(filepath.Join(cfg.Paths.DataDir, ".corpusmcp.lock"))
	locked, err := e.lock.TryLock()
	if err != nil || !locked {
		e.close()
		return nil, fmt.Errorf("data directory %s is locked by another corpusmcp process", cfg.Paths.DataDir)
	}
	e.cleanup = append(e.cleanup, func() { _ = e.lock.Unlock() })

	embedder, err := embed.ForConfig(cfg.Embed)
	if err != nil {
		e.close()
		return nil, fmt.Errorf("initialize embedder: %w", err)
	}
	e.embedder = embedder
	e.cleanup = append(e.cleanup, func() { _ = embedder.Close() })

	e.index = vector.New(st, cfg.Vector)

	analyzer := keyword.NewAnalyzer(cfg.Keyword.TopK, cfg.Keyword.RebuildGrowth)
	if err := seedAnalyzer(st, analyzer); err != nil {
		e.close()
		return nil, fmt.Errorf("seed keyword analyzer: %w", err)
	}
	chunker := chunk.New(cfg.Chunker)
	e.scanner = scanner.New(st, chunker, embedder, analyzer, cfg.Scanner, cfg.Embed)
	return e, nil
}

// seedAnalyzer replays the persisted content_analysis rows so the analyzer's
// document frequencies and 10%-growth baseline cover the whole indexed
// corpus, not just the files this process goes on to touch.
func seedAnalyzer(st *store.Store, analyzer *keyword.Analyzer) error {
	err := st.AnalysesCursor(context.Background(), func(path string, kws []keyword.Keyword) error {
		terms := make([]string, len(kws))
		for i, kw := range kws {
			terms[i] = kw.Term
		}
		analyzer.Seed(path, terms)
		return nil
	})
	if err != nil {
		return err
	}
	analyzer.Rebuild()
	return nil
}

func (e *engine) close() {
	for i := len(e.cleanup) - 1; i >= 0; i-- {
		e.cleanup[i]()
	}
	e.cleanup = nil
}
