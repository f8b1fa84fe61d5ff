package kb

import (
	"time"

	"github.com/inquira/inquira/engine/core"
)

// Metadata attribute keys as stored in the vector index payload.
const (
	metaSource      = "source"
	metaTitle       = "title"
	metaSection     = "section"
	metaPosition    = "position"
	metaChunkIndex  = "chunk_index"
	metaTotalChunks = "total_chunks"
	metaDocumentID  = "document_id"
	metaTimestamp   = "timestamp"
	metaFileType    = "file_type"
	metaTokenCount  = "token_count"
)

// AsMap flattens the metadata into the payload shape persisted alongside a
// vector record.
func (m ChunkMetadata) AsMap() map[string]any {
	out := map[string]any{
		metaSource:      m.Source,
		metaTitle:       m.Title,
		metaPosition:    m.Position,
		metaChunkIndex:  m.ChunkIndex,
		metaTotalChunks: m.TotalChunks,
		metaDocumentID:  string(m.DocumentID),
		metaFileType:    m.FileType,
		metaTokenCount:  m.TokenCount,
	}
	if m.Section != "" {
		out[metaSection] = m.Section
	}
	if !m.Timestamp.IsZero() {
		out[metaTimestamp] = m.Timestamp.UTC().Format(time.RFC3339)
	}
	return out
}

// MetadataFromMap rebuilds chunk metadata from a vector store payload.
// Missing or mistyped fields coerce to zero values rather than failing:
// retrieval never rejects a match over a malformed payload.
func MetadataFromMap(payload map[string]any) ChunkMetadata {
	return ChunkMetadata{
		Source:      coerceString(payload[metaSource]),
		Title:       coerceString(payload[metaTitle]),
		Section:     coerceString(payload[metaSection]),
		Position:    coerceInt(payload[metaPosition]),
		ChunkIndex:  coerceInt(payload[metaChunkIndex]),
		TotalChunks: coerceInt(payload[metaTotalChunks]),
		DocumentID:  core.ID(coerceString(payload[metaDocumentID])),
		Timestamp:   coerceTime(payload[metaTimestamp]),
		FileType:    coerceString(payload[metaFileType]),
		TokenCount:  coerceInt(payload[metaTokenCount]),
	}
}

func coerceString(value any) string {
	s, _ := value.(string)
	return s
}

// coerceInt accepts the numeric types JSON round-trips produce.
func coerceInt(value any) int {
	switch typed := value.(type) {
	case int:
		return typed
	case int32:
		return int(typed)
	case int64:
		return int(typed)
	case float32:
		return int(typed)
	case float64:
		return int(typed)
	default:
		return 0
	}
}

func coerceTime(value any) time.Time {
	raw, ok := value.(string)
	if !ok {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
