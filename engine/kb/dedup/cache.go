package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/inquira/inquira/engine/kb"
)

// Entry records a successfully indexed document keyed by content hash.
type Entry struct {
	Filename   string
	Timestamp  time.Time
	ChunkCount int
	TokenCount int
}

// Cache suppresses redundant ingestion by content identity. Document entries
// expire after the retention window and are evicted lazily on lookup; the
// chunk-hash set is cleared wholesale whenever any document entry expires
// rather than tracking per-chunk ages.
type Cache struct {
	mu        sync.Mutex
	retention time.Duration
	docs      map[string]Entry
	chunks    map[string]struct{}
	now       func() time.Time
}

// Option customizes cache construction.
type Option func(*Cache)

// WithClock overrides the time source, letting tests drive retention expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache builds a cache with the given retention window.
func NewCache(retention time.Duration, opts ...Option) *Cache {
	c := &Cache{
		retention: retention,
		docs:      make(map[string]Entry),
		chunks:    make(map[string]struct{}),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HashContent returns the hex SHA-256 digest of trimmed content, the
// deduplication identity key.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:])
}

// fileContent picks the hashable representation of an upload: extracted
// text when available, raw bytes otherwise.
func fileContent(file kb.UploadedFile) string {
	if file.Text != "" {
		return file.Text
	}
	return string(file.Content)
}

// IsDuplicate reports whether content matches a registered document within
// the retention window, returning the matching entry when it does.
func (c *Cache) IsDuplicate(content string) (bool, *Entry) {
	hash := HashContent(content)
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lookupLocked(hash)
	if !ok {
		return false, nil
	}
	return true, &entry
}

// FilterBatch drops intra-batch repeats first, then checks survivors against
// the registry. Each returned file carries its computed content hash.
func (c *Cache) FilterBatch(files []kb.UploadedFile) (unique, duplicates []kb.UploadedFile) {
	seen := make(map[string]struct{}, len(files))
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range files {
		file := files[i]
		if file.ContentHash == "" {
			file.ContentHash = HashContent(fileContent(file))
		}
		if _, repeat := seen[file.ContentHash]; repeat {
			duplicates = append(duplicates, file)
			continue
		}
		seen[file.ContentHash] = struct{}{}
		if _, ok := c.lookupLocked(file.ContentHash); ok {
			duplicates = append(duplicates, file)
			continue
		}
		unique = append(unique, file)
	}
	return unique, duplicates
}

// FilterDuplicateChunks removes chunks whose content hash was already
// embedded for another document, so identical chunks never cost a second
// embedding call.
func (c *Cache) FilterDuplicateChunks(chunks []kb.DocumentChunk) (unique []kb.DocumentChunk, duplicateCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	unique = make([]kb.DocumentChunk, 0, len(chunks))
	for i := range chunks {
		hash := HashContent(chunks[i].Content)
		if _, ok := c.chunks[hash]; ok {
			duplicateCount++
			continue
		}
		unique = append(unique, chunks[i])
	}
	return unique, duplicateCount
}

// Register records a document and its chunk hashes. Call it only after the
// document's chunks have been embedded and indexed; a job failing mid-way
// must not poison the registry.
func (c *Cache) Register(file kb.UploadedFile, chunks []kb.DocumentChunk) {
	hash := file.ContentHash
	if hash == "" {
		hash = HashContent(fileContent(file))
	}
	tokenCount := 0
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range chunks {
		tokenCount += chunks[i].Metadata.TokenCount
		c.chunks[HashContent(chunks[i].Content)] = struct{}{}
	}
	c.docs[hash] = Entry{
		Filename:   file.Name,
		Timestamp:  c.now(),
		ChunkCount: len(chunks),
		TokenCount: tokenCount,
	}
}

// Len reports the number of live document entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs)
}

func (c *Cache) lookupLocked(hash string) (Entry, bool) {
	entry, ok := c.docs[hash]
	if !ok {
		return Entry{}, false
	}
	if c.retention > 0 && c.now().Sub(entry.Timestamp) > c.retention {
		delete(c.docs, hash)
		// Chunk hashes carry no timestamps; any document expiry clears the
		// set wholesale.
		c.chunks = make(map[string]struct{})
		return Entry{}, false
	}
	return entry, true
}
