package vectorindex

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/intellidocs/backend/internal/rag"
	"github.com/intellidocs/backend/pkg/logger"
)

// Metric is the similarity function an index is built with. Search
// must use the same metric as build time, so it is fixed at
// construction and recorded in the persistence header.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine, MetricDot:
		return Metric(s), nil
	default:
		return "", &rag.ConfigError{Field: "index.metric", Reason: fmt.Sprintf("unknown metric %q", s)}
	}
}

// snapshot is one immutable generation of the entry set. Readers grab
// the current snapshot and never observe a partial mutation.
type snapshot struct {
	dim     int
	entries []rag.Entry
	norms   []float32
}

// Index is the in-memory vector index: brute-force nearest-neighbor
// search over a copy-on-write entry set, with gob persistence.
// Searches are lock-free against the current snapshot; mutations and
// persistence are serialized behind one mutex.
type Index struct {
	mu     sync.Mutex
	metric Metric
	model  string
	snap   atomic.Pointer[snapshot]
}

func New(metric Metric, model string) *Index {
	idx := &Index{metric: metric, model: model}
	idx.snap.Store(&snapshot{})
	return idx
}

// Metric returns the similarity metric the index was built with.
func (idx *Index) Metric() Metric { return idx.metric }

// Count returns the number of entries visible to searches.
func (idx *Index) Count() int {
	return len(idx.snap.Load().entries)
}

// Dim returns the established vector dimensionality, 0 while empty.
func (idx *Index) Dim() int {
	return idx.snap.Load().dim
}

// Add appends entries. The first entry ever added establishes the
// index dimensionality; any later disagreement fails the whole call
// with rag.ErrDimensionMismatch and leaves the index unchanged.
func (idx *Index) Add(ctx context.Context, entries []rag.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.snap.Load()

	dim := cur.dim
	for _, e := range entries {
		if dim == 0 {
			dim = len(e.Vector)
		}
		if len(e.Vector) == 0 || len(e.Vector) != dim {
			return fmt.Errorf("%w: entry %s has dim %d, index has %d",
				rag.ErrDimensionMismatch, e.Chunk.ID, len(e.Vector), dim)
		}
	}

	next := &snapshot{
		dim:     dim,
		entries: make([]rag.Entry, 0, len(cur.entries)+len(entries)),
		norms:   make([]float32, 0, len(cur.entries)+len(entries)),
	}
	next.entries = append(next.entries, cur.entries...)
	next.entries = append(next.entries, entries...)
	next.norms = append(next.norms, cur.norms...)
	for _, e := range entries {
		next.norms = append(next.norms, norm(e.Vector))
	}

	idx.snap.Store(next)
	return nil
}

// Rebuild atomically replaces the whole entry set. Concurrent searches
// observe either the fully old or fully new index, never a mix.
func (idx *Index) Rebuild(ctx context.Context, entries []rag.Entry) error {
	next := &snapshot{}
	for _, e := range entries {
		if next.dim == 0 {
			next.dim = len(e.Vector)
		}
		if len(e.Vector) == 0 || len(e.Vector) != next.dim {
			return fmt.Errorf("%w: entry %s has dim %d, rebuild has %d",
				rag.ErrDimensionMismatch, e.Chunk.ID, len(e.Vector), next.dim)
		}
		next.entries = append(next.entries, e)
		next.norms = append(next.norms, norm(e.Vector))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.snap.Store(next)

	logger.Info("Vector index rebuilt", zap.Int("entries", len(entries)))
	return nil
}

// Search returns up to k nearest entries, descending by score. Ties
// keep insertion order. k <= 0 is an argument error; an empty index
// returns an empty result, not an error.
func (idx *Index) Search(ctx context.Context, query []float32, k int) ([]rag.Scored, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", rag.ErrInvalidArgument, k)
	}

	snap := idx.snap.Load()
	if len(snap.entries) == 0 {
		return nil, nil
	}
	if len(query) != snap.dim {
		return nil, fmt.Errorf("%w: query has dim %d, index has %d",
			rag.ErrDimensionMismatch, len(query), snap.dim)
	}

	queryNorm := norm(query)

	type hit struct {
		pos   int
		score float32
	}
	hits := make([]hit, len(snap.entries))
	for i, e := range snap.entries {
		score := dot(query, e.Vector)
		if idx.metric == MetricCosine {
			denom := queryNorm * snap.norms[i]
			if denom == 0 {
				score = 0
			} else {
				score /= denom
			}
		}
		hits[i] = hit{pos: i, score: score}
	}

	// Stable sort keeps earlier-inserted entries ahead on equal scores.
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].score > hits[b].score
	})

	if k > len(hits) {
		k = len(hits)
	}
	results := make([]rag.Scored, k)
	for i := 0; i < k; i++ {
		results[i] = rag.Scored{
			Chunk: snap.entries[hits[i].pos].Chunk,
			Score: hits[i].score,
		}
	}
	return results, nil
}

// container is the persistence format: dimensionality, metric and
// model identifiers, then the ordered entry list. It round-trips
// exactly through Persist/Load.
type container struct {
	Dim     int
	Metric  string
	Model   string
	Entries []rag.Entry
}

// Persist writes the full entry set to path. The write goes to a
// temporary file first and is renamed into place, so a crash never
// leaves a truncated index on disk. Persist is mutually exclusive with
// Add/Rebuild/Load on the same index.
func (idx *Index) Persist(path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	snap := idx.snap.Load()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*")
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := gob.NewEncoder(tmp)
	err = enc.Encode(container{
		Dim:     snap.dim,
		Metric:  string(idx.metric),
		Model:   idx.model,
		Entries: snap.entries,
	})
	if err != nil {
		tmp.Close()
		return fmt.Errorf("encode index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp index file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace index file: %w", err)
	}

	logger.Info("Vector index persisted",
		zap.String("path", path),
		zap.Int("entries", len(snap.entries)),
	)
	return nil
}

// Load replaces the in-memory entry set with the one at path. A
// missing or corrupt file fails with rag.ErrIndexLoad and the previous
// in-memory state is retained untouched.
func (idx *Index) Load(path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", rag.ErrIndexLoad, err)
	}
	defer f.Close()

	var c container
	if err := gob.NewDecoder(f).Decode(&c); err != nil {
		return fmt.Errorf("%w: decode %s: %v", rag.ErrIndexLoad, path, err)
	}

	if c.Metric != string(idx.metric) {
		return fmt.Errorf("%w: file built with metric %q, index uses %q",
			rag.ErrIndexLoad, c.Metric, idx.metric)
	}
	if idx.model != "" && c.Model != "" && c.Model != idx.model {
		return &rag.ConfigError{
			Field:  "llm.embeddingModel",
			Reason: fmt.Sprintf("index built with model %q, configured model is %q", c.Model, idx.model),
		}
	}

	next := &snapshot{dim: c.Dim, entries: c.Entries}
	next.norms = make([]float32, len(c.Entries))
	for i, e := range c.Entries {
		if len(e.Vector) != c.Dim {
			return fmt.Errorf("%w: entry %s has dim %d, header says %d",
				rag.ErrIndexLoad, e.Chunk.ID, len(e.Vector), c.Dim)
		}
		next.norms[i] = norm(e.Vector)
	}

	idx.snap.Store(next)

	logger.Info("Vector index loaded",
		zap.String("path", path),
		zap.Int("entries", len(c.Entries)),
	)
	return nil
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}
