package vectordb

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/inquira/inquira/engine/core"
)

// memoryStore keeps records in process memory. It backs tests and
// single-node deployments that do not need persistence.
type memoryStore struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]Record
}

func newMemoryStore(cfg *Config) Store {
	dimension := 0
	if cfg != nil {
		dimension = cfg.Dimension
	}
	return &memoryStore{
		dimension: dimension,
		records:   make(map[string]Record),
	}
}

func (m *memoryStore) Upsert(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range records {
		rec := records[i]
		if len(rec.Embedding) != m.dimension {
			return fmt.Errorf(
				"memory: record %q dimension mismatch (got %d want %d)",
				rec.ID,
				len(rec.Embedding),
				m.dimension,
			)
		}
		m.records[rec.ID] = Record{
			ID:        rec.ID,
			Text:      rec.Text,
			Embedding: append([]float32(nil), rec.Embedding...),
			Metadata:  core.CloneMap(rec.Metadata),
		}
	}
	return nil
}

func (m *memoryStore) Search(_ context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if len(query) != m.dimension {
		return nil, fmt.Errorf("memory: query dimension mismatch (got %d want %d)", len(query), m.dimension)
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	candidates := make([]Match, 0, len(m.records))
	for _, rec := range m.records {
		if !metadataMatches(rec.Metadata, opts.Filters) {
			continue
		}
		score := cosineSimilarity(rec.Embedding, query)
		if score < opts.MinScore {
			continue
		}
		candidates = append(candidates, Match{
			ID:       rec.ID,
			Score:    score,
			Text:     rec.Text,
			Metadata: core.CloneMap(rec.Metadata),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score == candidates[j].Score {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

func (m *memoryStore) Delete(_ context.Context, filter Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range filter.IDs {
		delete(m.records, id)
	}
	if len(filter.Metadata) == 0 {
		return nil
	}
	for id, rec := range m.records {
		if metadataMatches(rec.Metadata, filter.Metadata) {
			delete(m.records, id)
		}
	}
	return nil
}

func (m *memoryStore) Stats(context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Provider:  ProviderMemory,
		Records:   int64(len(m.records)),
		Dimension: m.dimension,
	}, nil
}

func (m *memoryStore) Close(context.Context) error {
	return nil
}

func metadataMatches(metadata map[string]any, filters map[string]string) bool {
	for key, want := range filters {
		value, ok := metadata[key]
		if !ok {
			return false
		}
		if fmt.Sprint(value) != want {
			return false
		}
	}
	return true
}

func cosineSimilarity(a []float32, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
