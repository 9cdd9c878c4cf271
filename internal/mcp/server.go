// Package mcp is the server loop: one long-lived process that owns the
// store, the embedder, and the vector index, and dispatches the retrieval
// tools over MCP stdio. Requests run concurrently against the shared read
// pool; writes happen only inside scans, behind the store's writer queue.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/corpusmcp/internal/config"
	"github.com/Aman-CERP/corpusmcp/internal/embed"
	"github.com/Aman-CERP/corpusmcp/internal/query"
	"github.com/Aman-CERP/corpusmcp/internal/scanner"
	"github.com/Aman-CERP/corpusmcp/internal/store"
	"github.com/Aman-CERP/corpusmcp/internal/vector"
	"github.com/Aman-CERP/corpusmcp/internal/watcher"
	"github.com/Aman-CERP/corpusmcp/pkg/version"
)

// memoryPressureBytes is the heap threshold above which the idle vector
// index becomes eligible for eviction.
const memoryPressureBytes = 1 << 30

// Server owns the engine's long-lived singletons and the MCP dispatch.
type Server struct {
	mcp      *mcp.Server
	engine   *query.Engine
	st       *store.Store
	ix       *vector.Index
	embedder embed.Embedder
	scanner  *scanner.Scanner
	cfg      *config.Config
	logger   *slog.Logger
}

// NewServer wires the server around already-initialized components.
func NewServer(st *store.Store, ix *vector.Index, embedder embed.Embedder,
	sc *scanner.Scanner, cfg *config.Config) (*Server, error) {
	if st == nil || ix == nil || embedder == nil {
		return nil, errors.New("store, index, and embedder are required")
	}

	s := &Server{
		st:       st,
		ix:       ix,
		embedder: embedder,
		scanner:  sc,
		cfg:      cfg,
		engine:   query.New(st, ix, embedder, cfg.Query, cfg.Server.Freshness),
		logger:   slog.Default(),
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{Name: "corpusmcp", Version: version.Version},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run serves MCP over stdio until ctx is cancelled. Optional background
// work (scan, watcher, eviction monitor) is supervised: a crash is logged
// and recorded, retrieval keeps serving.
func (s *Server) Run(ctx context.Context, scanRoot string) error {
	go s.evictionMonitor(ctx)

	if scanRoot != "" && s.scanner != nil {
		go s.superviseScan(ctx, scanRoot)
		if s.cfg.Watcher.Enabled {
			go s.superviseWatcher(ctx, scanRoot)
		}
	}

	s.logger.Info("server_started", slog.String("version", version.Version))
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// superviseScan runs the background scan; a panic is contained and audited
// as an interrupted session.
func (s *Server) superviseScan(ctx context.Context, root string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("background_scan_crashed",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			now := time.Now().UTC()
			_ = s.st.RecordSession(context.WithoutCancel(ctx), &store.Session{
				ID:          "crashed-" + now.Format("20060102T150405"),
				StartedAt:   now,
				EndedAt:     now,
				Interrupted: true,
			})
		}
	}()

	if _, err := s.scanner.Run(ctx, scanner.Options{
		Root:    root,
		Include: s.cfg.Paths.Include,
		Exclude: s.cfg.Paths.Exclude,
	}); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("background_scan_failed", slog.String("error", err.Error()))
	}
}

func (s *Server) superviseWatcher(ctx context.Context, root string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("watcher_crashed", slog.Any("panic", r))
		}
	}()

	w, err := watcher.New(root, s.cfg.Watcher.Debounce, &watchHandler{s: s})
	if err != nil {
		s.logger.Warn("watcher_unavailable", slog.String("error", err.Error()))
		return
	}
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("watcher_stopped", slog.String("error", err.Error()))
	}
}

// watchHandler routes debounced events into single-file ingests.
type watchHandler struct{ s *Server }

func (h *watchHandler) Changed(ctx context.Context, path string) {
	if err := h.s.scanner.IngestPath(ctx, path); err != nil {
		h.s.logger.Debug("watch_ingest_failed",
			slog.String("path", path), slog.String("error", err.Error()))
	}
}

func (h *watchHandler) Removed(ctx context.Context, path string) {
	if err := h.s.scanner.RemovePath(ctx, path); err != nil {
		h.s.logger.Debug("watch_remove_failed",
			slog.String("path", path), slog.String("error", err.Error()))
	}
}

// evictionMonitor unloads the idle vector index under memory pressure.
// Eviction runs before any other pressure response.
func (s *Server) evictionMonitor(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			if ms.HeapAlloc < memoryPressureBytes {
				continue
			}
			if s.ix.EvictIfIdle(s.cfg.Vector.IdleEviction) {
				runtime.GC()
			}
		}
	}
}
