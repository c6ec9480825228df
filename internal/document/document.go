// Package document defines the normalized document model produced by
// extraction and chunking.
package document

import (
	"encoding/json"
	"fmt"
	"time"
)

// Well-known metadata keys.
const (
	MetaName       = "name"
	MetaSource     = "source"
	MetaFileID     = "file_id"
	MetaCreatedBy  = "created_by"
	MetaHash       = "hash"
	MetaStartIndex = "start_index"

	// MetaParentID links a child chunk to its parent chunk in two-level
	// chunking. Present only while parent/child mode is enabled.
	MetaParentID = "parent_id"

	// MetaContextContent carries parent text during chunk assembly; it is
	// transient and must not reach the vector store payload.
	MetaContextContent = "context_content"

	// MetaEmbeddingConfig records the resolved embedding engine and model
	// used for a chunk, as a JSON string.
	MetaEmbeddingConfig = "embedding_config"
)

// Document is a unit of normalized text with metadata.
// Documents are immutable once created: chunking produces new Documents
// rather than mutating inputs.
type Document struct {
	Content  string
	Metadata map[string]any
}

// New creates a Document with a copy of the given metadata.
func New(content string, metadata map[string]any) Document {
	return Document{Content: content, Metadata: CloneMetadata(metadata)}
}

// CloneMetadata returns a shallow copy of metadata, never nil.
func CloneMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

// MergeMetadata merges caller-supplied metadata over document metadata.
// Caller values win on key collision. Neither input is mutated.
func MergeMetadata(docMeta, callerMeta map[string]any) map[string]any {
	out := CloneMetadata(docMeta)
	for k, v := range callerMeta {
		out[k] = v
	}
	return out
}

// StringifyMetadata converts structured (list/map) and temporal values to
// strings in place. The vector store payload supports only scalar-like
// values, mirroring the downstream store's constraint.
func StringifyMetadata(meta map[string]any) {
	for k, v := range meta {
		switch val := v.(type) {
		case nil, string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
			// scalar, keep as-is
		case time.Time:
			meta[k] = val.Format(time.RFC3339)
		case []byte:
			meta[k] = string(val)
		default:
			if data, err := json.Marshal(v); err == nil {
				meta[k] = string(data)
			} else {
				meta[k] = fmt.Sprintf("%v", v)
			}
		}
	}
}

// EmbeddingConfigJSON encodes the resolved engine+model pair for the
// embedding_config metadata field.
func EmbeddingConfigJSON(engine, model string) string {
	data, _ := json.Marshal(map[string]string{
		"engine": engine,
		"model":  model,
	})
	return string(data)
}
