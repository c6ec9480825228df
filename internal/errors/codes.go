// Package errors provides structured error handling for ingestd.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Extraction errors
//   - 3XX: Network/backend errors
//   - 4XX: Content validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryExtraction indicates document extraction errors.
	CategoryExtraction Category = "EXTRACTION"
	// CategoryNetwork indicates network and remote-backend errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryContent indicates content validation errors.
	CategoryContent Category = "CONTENT"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Error codes organized by category.
const (
	// Config errors (100-199). Misconfiguration is never retryable.
	ErrCodeConfigInvalid   = "ERR_101_CONFIG_INVALID"
	ErrCodeUnknownEngine   = "ERR_102_UNKNOWN_ENGINE"
	ErrCodeInvalidSplitter = "ERR_103_INVALID_SPLITTER_CONFIG"

	// Extraction errors (200-299).
	ErrCodeExtractionExhausted = "ERR_201_EXTRACTION_EXHAUSTED"
	ErrCodeSourceUnreadable    = "ERR_202_SOURCE_UNREADABLE"

	// Network/backend errors (300-399). Retried at the consumption boundary.
	ErrCodeEmbeddingFailed        = "ERR_301_EMBEDDING_FAILED"
	ErrCodeVectorStoreUnavailable = "ERR_302_VECTOR_STORE_UNAVAILABLE"

	// Content errors (400-499).
	ErrCodeEmptyContent     = "ERR_401_EMPTY_CONTENT"
	ErrCodeDuplicateContent = "ERR_402_DUPLICATE_CONTENT"

	// Internal errors (500-599).
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryExtraction
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryContent
	default:
		return CategoryInternal
	}
}

// isRetryableCode reports whether the code describes a transient condition.
// Only network/backend failures are retried; everything else is fatal for
// the job that raised it.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEmbeddingFailed, ErrCodeVectorStoreUnavailable:
		return true
	default:
		return false
	}
}
