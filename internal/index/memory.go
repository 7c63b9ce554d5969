package index

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/coder/hnsw"
	"github.com/google/renameio"
)

// Memory is an in-process Index backed by an HNSW graph, for deployments
// without Postgres. Snapshots are written atomically so a crash mid-save
// never leaves a torn file.
type Memory struct {
	mu     sync.RWMutex
	cfg    CollectionConfig
	graph  *hnsw.Graph[string]
	vecs   map[string][]float32
	meta   map[string]Metadata
	logger *slog.Logger
}

func NewMemory(cfg CollectionConfig, logger *slog.Logger) *Memory {
	return &Memory{
		cfg:    cfg,
		graph:  newGraph(),
		vecs:   make(map[string][]float32),
		meta:   make(map[string]Metadata),
		logger: logger,
	}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 32
	return g
}

func (m *Memory) Upsert(ctx context.Context, id string, vector []float32, meta Metadata) error {
	if len(vector) != m.cfg.Dimensions {
		return fmt.Errorf("vector for %s has %d dimensions, collection expects %d", id, len(vector), m.cfg.Dimensions)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.vecs[id]; ok {
		m.graph.Delete(id)
	}
	m.graph.Add(hnsw.MakeNode(id, vector))
	m.vecs[id] = vector
	m.meta[id] = meta
	return nil
}

func (m *Memory) Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Result, error) {
	if len(vector) != m.cfg.Dimensions {
		return nil, fmt.Errorf("query vector has %d dimensions, collection expects %d", len(vector), m.cfg.Dimensions)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.vecs) == 0 {
		return nil, nil
	}

	// Overfetch so metadata filtering still leaves k results.
	fetch := k * 4
	if fetch > len(m.vecs) {
		fetch = len(m.vecs)
	}

	nodes := m.graph.Search(vector, fetch)
	results := make([]Result, 0, k)
	for _, node := range nodes {
		meta, ok := m.meta[node.Key]
		if !ok || !filter.Matches(meta) {
			continue
		}
		sim := 1 - float64(hnsw.CosineDistance(vector, node.Value))/2
		results = append(results, Result{ID: node.Key, Similarity: sim})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Len reports the number of indexed vectors.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vecs)
}

type snapshot struct {
	Config  CollectionConfig
	Vectors map[string][]float32
	Meta    map[string]Metadata
}

// Save writes the index to path atomically.
func (m *Memory) Save(path string) error {
	m.mu.RLock()
	snap := snapshot{Config: m.cfg, Vectors: m.vecs, Meta: m.meta}
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(snap)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := renameio.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	m.logger.Info("index snapshot saved", "path", path, "vectors", len(snap.Vectors))
	return nil
}

// LoadMemory restores a snapshot written by Save. The snapshot's collection
// configuration must match cfg.
func LoadMemory(path string, cfg CollectionConfig, logger *slog.Logger) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Config != cfg {
		return nil, fmt.Errorf("snapshot collection %+v does not match configured %+v", snap.Config, cfg)
	}

	m := NewMemory(cfg, logger)
	ids := make([]string, 0, len(snap.Vectors))
	for id := range snap.Vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		m.graph.Add(hnsw.MakeNode(id, snap.Vectors[id]))
		m.vecs[id] = snap.Vectors[id]
		m.meta[id] = snap.Meta[id]
	}
	logger.Info("index snapshot loaded", "path", path, "vectors", len(ids))
	return m, nil
}
