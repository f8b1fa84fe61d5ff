package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/inquira/inquira/engine/core"
)

// fileIndex keeps the full index in memory and mirrors every mutation to a
// JSON snapshot on disk. Snapshots are written through a temp file and
// renamed into place, so a crash mid-write never leaves a torn file.
type fileIndex struct {
	mu        sync.RWMutex
	path      string
	dimension int
	records   map[string]Record
}

// snapshot is the on-disk layout. Records are keyed by ID so encoding/json
// produces a stable, diffable ordering.
type snapshot struct {
	Dimension int                      `json:"dimension"`
	Records   map[string]snapshotEntry `json:"records"`
}

type snapshotEntry struct {
	Text      string         `json:"text,omitempty"`
	Embedding []float32      `json:"embedding"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func newFileStore(cfg *Config) (Store, error) {
	if cfg == nil {
		return nil, errors.New("filesystem: config is required")
	}
	path := filepath.Clean(cfg.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("filesystem: create snapshot directory: %w", err)
	}
	idx := &fileIndex{
		path:      path,
		dimension: cfg.Dimension,
		records:   make(map[string]Record),
	}
	if err := idx.restore(); err != nil {
		return nil, err
	}
	return idx, nil
}

// restore loads the previous snapshot if one exists. A snapshot written
// with a different embedding dimension is refused rather than silently
// reshaped.
func (f *fileIndex) restore() error {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("filesystem: read snapshot %q: %w", f.path, err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("filesystem: decode snapshot %q: %w", f.path, err)
	}
	if snap.Dimension != 0 && snap.Dimension != f.dimension {
		return fmt.Errorf("filesystem: snapshot %q holds %d-dimensional vectors, index configured for %d",
			f.path, snap.Dimension, f.dimension)
	}
	for id, entry := range snap.Records {
		if len(entry.Embedding) != f.dimension {
			return fmt.Errorf("filesystem: snapshot record %q has dimension %d, want %d",
				id, len(entry.Embedding), f.dimension)
		}
		f.records[id] = Record{
			ID:        id,
			Text:      entry.Text,
			Embedding: entry.Embedding,
			Metadata:  entry.Metadata,
		}
	}
	return nil
}

func (f *fileIndex) flushLocked() error {
	snap := snapshot{
		Dimension: f.dimension,
		Records:   make(map[string]snapshotEntry, len(f.records)),
	}
	for id, rec := range f.records {
		snap.Records[id] = snapshotEntry{
			Text:      rec.Text,
			Embedding: rec.Embedding,
			Metadata:  rec.Metadata,
		}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("filesystem: encode snapshot: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("filesystem: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("filesystem: replace snapshot: %w", err)
	}
	return nil
}

func (f *fileIndex) Upsert(_ context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range records {
		rec := records[i]
		if len(rec.Embedding) != f.dimension {
			return fmt.Errorf("filesystem: record %q has dimension %d, want %d",
				rec.ID, len(rec.Embedding), f.dimension)
		}
		f.records[rec.ID] = Record{
			ID:        rec.ID,
			Text:      rec.Text,
			Embedding: append([]float32(nil), rec.Embedding...),
			Metadata:  core.CloneMap(rec.Metadata),
		}
	}
	return f.flushLocked()
}

func (f *fileIndex) Search(_ context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if len(query) != f.dimension {
		return nil, fmt.Errorf("filesystem: query has dimension %d, want %d", len(query), f.dimension)
	}
	limit := opts.TopK
	if limit <= 0 {
		limit = defaultTopK
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	matches := make([]Match, 0, len(f.records))
	for _, rec := range f.records {
		if !metadataMatches(rec.Metadata, opts.Filters) {
			continue
		}
		score := cosineSimilarity(rec.Embedding, query)
		if score < opts.MinScore {
			continue
		}
		matches = append(matches, Match{
			ID:       rec.ID,
			Score:    score,
			Text:     rec.Text,
			Metadata: core.CloneMap(rec.Metadata),
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (f *fileIndex) Delete(_ context.Context, filter Filter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.records)
	for _, id := range filter.IDs {
		delete(f.records, id)
	}
	if len(filter.Metadata) > 0 {
		for id, rec := range f.records {
			if metadataMatches(rec.Metadata, filter.Metadata) {
				delete(f.records, id)
			}
		}
	}
	if len(f.records) == before {
		return nil
	}
	return f.flushLocked()
}

func (f *fileIndex) Stats(context.Context) (Stats, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Stats{
		Provider:  ProviderFilesystem,
		Records:   int64(len(f.records)),
		Dimension: f.dimension,
	}, nil
}

func (f *fileIndex) Close(context.Context) error {
	return nil
}
