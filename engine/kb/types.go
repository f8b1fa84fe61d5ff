package kb

import (
	"time"

	"github.com/inquira/inquira/engine/core"
)

// UploadedFile is a document handed to the ingestion pipeline. It is
// immutable once its content hash has been computed.
type UploadedFile struct {
	Name         string
	Size         int64
	MediaType    string
	Content      []byte
	Text         string
	LastModified time.Time
	ContentHash  string
}

// ChunkMetadata carries the positional and provenance fields every chunk
// keeps through embedding, indexing, and retrieval.
type ChunkMetadata struct {
	Source      string
	Title       string
	Section     string
	Position    int
	ChunkIndex  int
	TotalChunks int
	DocumentID  core.ID
	Timestamp   time.Time
	FileType    string
	TokenCount  int
}

// DocumentChunk is the unit of embedding and retrieval.
type DocumentChunk struct {
	ID        core.ID
	Content   string
	Metadata  ChunkMetadata
	Embedding []float32
}

// RetrievalResult pairs a chunk with its relevance score. RerankedScore is
// set only after a rerank pass; ordering is score-descending after each
// scoring stage.
type RetrievalResult struct {
	Chunk         DocumentChunk
	Score         float64
	RerankedScore *float64
}

// Citation ties a numbered marker in a generated answer to a source chunk.
type Citation struct {
	Index    int
	ChunkID  core.ID
	Text     string
	Source   string
	Section  string
	Position int
}

// SourceDocument groups the citations backed by a single document.
type SourceDocument struct {
	DocumentID core.ID
	Source     string
	Title      string
	Citations  []int
}

// Answer is the synthesized response to a query.
type Answer struct {
	Text      string
	Citations []Citation
	Sources   []SourceDocument
	Usage     TokenUsage
}

// TokenUsage reports generation-service token accounting when available.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
