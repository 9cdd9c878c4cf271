// Package vector serves approximate nearest-neighbor search over the stored
// embeddings. The index is an in-memory HNSW graph derived entirely from
// Storage; a write-epoch handshake keeps it coherent across ingests.
package vector

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/Aman-CERP/corpusmcp/internal/config"
	"github.com/Aman-CERP/corpusmcp/internal/errors"
	"github.com/Aman-CERP/corpusmcp/internal/store"
)

// State describes the index relative to Storage's write epochs.
type State string

const (
	// StateUnloaded means no graph is resident; the next vector query
	// triggers a build.
	StateUnloaded State = "unloaded"
	// StateFresh means no Storage writes since the last build.
	StateFresh State = "fresh"
	// StateDirtyAppend means only new chunks were inserted since the build;
	// the graph extends incrementally.
	StateDirtyAppend State = "dirty_append"
	// StateDirtyRebuild means chunks were removed or replaced since the
	// build; the graph must be rebuilt before serving.
	StateDirtyRebuild State = "dirty_rebuild"
)

// Result is one nearest-neighbor hit, ordered by ascending distance with
// row-id tie-break.
type Result struct {
	RowID    int64
	Distance float32
	Score    float32 // 1 / (1 + distance), monotone in similarity
}

// Index is the ANN index. Reads share a read lock; builds and appends take
// the write lock. FTS and metadata queries never touch it.
type Index struct {
	mu    sync.RWMutex
	st    *store.Store
	cfg   config.VectorConfig
	graph *hnsw.Graph[uint64]

	// present mirrors the row ids resident in the graph.
	present  map[int64]struct{}
	maxRowID int64

	// builtEpoch is the store write epoch the graph reflects.
	builtEpoch int64

	lastUsed time.Time
}

// New creates an unloaded index over the given store.
func New(st *store.Store, cfg config.VectorConfig) *Index {
	return &Index{st: st, cfg: cfg}
}

// State reports the coherence state without mutating the index.
func (ix *Index) State() State {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.stateLocked()
}

func (ix *Index) stateLocked() State {
	if ix.graph == nil {
		return StateUnloaded
	}
	epoch := ix.st.WriteEpoch()
	switch {
	case epoch == ix.builtEpoch:
		return StateFresh
	case ix.st.DestructiveEpoch() <= ix.builtEpoch:
		return StateDirtyAppend
	default:
		return StateDirtyRebuild
	}
}

// Count returns the number of resident vectors.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.present)
}

// RowIDs returns the resident row ids, ordered. Used by coherence tests.
func (ix *Index) RowIDs() []int64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ids := make([]int64, 0, len(ix.present))
	for id := range ix.present {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Search reconciles the index with Storage and returns the k nearest
// neighbors of query. An empty index yields an empty result set. Rebuilds
// block vector queries only.
func (ix *Index) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if err := ix.Reconcile(ctx); err != nil {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ix.lastUsed = time.Now()

	if ix.graph == nil || ix.graph.Len() == 0 {
		return []Result{}, nil
	}

	normalized := normalize(query)
	nodes := ix.graph.Search(normalized, k)

	results := make([]Result, 0, len(nodes))
	for _, node := range nodes {
		rowID := int64(node.Key)
		if _, ok := ix.present[rowID]; !ok {
			continue
		}
		d := hnsw.EuclideanDistance(normalized, node.Value)
		results = append(results, Result{
			RowID:    rowID,
			Distance: d,
			Score:    1.0 / (1.0 + d),
		})
	}
	// Deterministic ordering: ascending distance, then row id.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].RowID < results[j].RowID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Reconcile brings the index up to date with Storage: unloaded or
// delete-dirty states rebuild, append-dirty states extend incrementally,
// fresh states return immediately.
func (ix *Index) Reconcile(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	switch ix.stateLocked() {
	case StateFresh:
		return nil
	case StateDirtyAppend:
		epoch := ix.st.WriteEpoch()
		if err := ix.appendLocked(ctx); err != nil {
			return errors.New(errors.ErrCodeVectorIndexUnavailable, "incremental index extend failed", err)
		}
		ix.builtEpoch = epoch
		return nil
	default:
		epoch := ix.st.WriteEpoch()
		if err := ix.buildLocked(ctx); err != nil {
			ix.graph = nil
			ix.present = nil
			return errors.New(errors.ErrCodeVectorIndexUnavailable, "vector index build failed", err)
		}
		ix.builtEpoch = epoch
		return nil
	}
}

// buildLocked streams the full embeddings cursor into a new graph.
func (ix *Index) buildLocked(ctx context.Context) error {
	started := time.Now()
	graph := ix.newGraph()
	present := make(map[int64]struct{})
	var maxRowID int64

	err := ix.st.EmbeddingsCursor(ctx, 0, func(rowID int64, vec []float32) error {
		graph.Add(hnsw.MakeNode(uint64(rowID), normalize(vec)))
		present[rowID] = struct{}{}
		if rowID > maxRowID {
			maxRowID = rowID
		}
		return nil
	})
	if err != nil {
		return err
	}

	ix.graph = graph
	ix.present = present
	ix.maxRowID = maxRowID
	slog.Info("vector_index_built",
		slog.Int("vectors", len(present)),
		slog.Duration("elapsed", time.Since(started)))
	return nil
}

// appendLocked adds vectors inserted since the last build.
func (ix *Index) appendLocked(ctx context.Context) error {
	added := 0
	err := ix.st.EmbeddingsCursor(ctx, ix.maxRowID, func(rowID int64, vec []float32) error {
		ix.graph.Add(hnsw.MakeNode(uint64(rowID), normalize(vec)))
		ix.present[rowID] = struct{}{}
		if rowID > ix.maxRowID {
			ix.maxRowID = rowID
		}
		added++
		return nil
	})
	if err != nil {
		return err
	}
	if added > 0 {
		slog.Debug("vector_index_extended", slog.Int("added", added))
	}
	return nil
}

func (ix *Index) newGraph() *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.EuclideanDistance
	if ix.cfg.M > 0 {
		graph.M = ix.cfg.M
	}
	if ix.cfg.EfSearch > 0 {
		graph.EfSearch = ix.cfg.EfSearch
	}
	graph.Ml = 0.25
	return graph
}

// EvictIfIdle unloads the graph when it has been idle past the ceiling.
// The caller observes memory pressure; the next vector query reloads.
func (ix *Index) EvictIfIdle(idleCeiling time.Duration) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.graph == nil || time.Since(ix.lastUsed) < idleCeiling {
		return false
	}
	ix.graph = nil
	ix.present = nil
	ix.maxRowID = 0
	ix.builtEpoch = 0
	slog.Info("vector_index_evicted")
	return true
}

// normalize returns a unit-length copy of v.
func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	out := make([]float32, len(v))
	for i, val := range v {
		out[i] = val * inv
	}
	return out
}
