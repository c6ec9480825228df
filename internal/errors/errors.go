package errors

import (
	"errors"
	"fmt"
)

// IngestError is the structured error type for ingestd.
// It carries a stable code so callers can classify failures without
// matching on message text.
type IngestError struct {
	// Code is the unique error code (e.g. "ERR_401_EMPTY_CONTENT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Extraction, Network, ...).
	Category Category

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates the operation may succeed on a later attempt.
	Retryable bool
}

// Error implements the error interface.
func (e *IngestError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *IngestError) Unwrap() error {
	return e.Cause
}

// Is matches IngestErrors by code so errors.Is works across instances.
func (e *IngestError) Is(target error) bool {
	if t, ok := target.(*IngestError); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a new IngestError with the given code and message.
// Category and retryable flag are derived from the code.
func New(code string, message string, cause error) *IngestError {
	return &IngestError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Sentinel instances for use with errors.Is. Matching is by code, so these
// compare equal to any IngestError constructed with the same code.
var (
	ErrExtractionExhausted    = New(ErrCodeExtractionExhausted, "all extraction strategies failed", nil)
	ErrEmptyContent           = New(ErrCodeEmptyContent, "no content to process", nil)
	ErrDuplicateContent       = New(ErrCodeDuplicateContent, "duplicate content detected", nil)
	ErrEmbeddingFailed        = New(ErrCodeEmbeddingFailed, "embedding request failed", nil)
	ErrUnknownEngine          = New(ErrCodeUnknownEngine, "unknown embedding engine", nil)
	ErrInvalidSplitterConfig  = New(ErrCodeInvalidSplitter, "invalid splitter configuration", nil)
	ErrVectorStoreUnavailable = New(ErrCodeVectorStoreUnavailable, "vector store unavailable", nil)
)

// EmptyContent reports that chunking produced zero chunks.
func EmptyContent() *IngestError {
	return New(ErrCodeEmptyContent, "no content to process", nil)
}

// ExtractionExhausted builds the terminal extraction-chain error carrying
// the last underlying strategy failure as cause.
func ExtractionExhausted(cause error) *IngestError {
	return New(ErrCodeExtractionExhausted, "all extraction strategies failed", cause)
}

// EmbeddingFailed wraps a remote embedding call failure.
func EmbeddingFailed(message string, cause error) *IngestError {
	return New(ErrCodeEmbeddingFailed, message, cause)
}

// VectorStoreError wraps a vector store backend failure.
func VectorStoreError(message string, cause error) *IngestError {
	return New(ErrCodeVectorStoreUnavailable, message, cause)
}

// UnknownEngine reports an unrecognized embedding engine name.
func UnknownEngine(engine string) *IngestError {
	return New(ErrCodeUnknownEngine, fmt.Sprintf("unknown embedding engine %q", engine), nil)
}

// InvalidSplitter reports a misconfigured chunking policy.
func InvalidSplitter(message string) *IngestError {
	return New(ErrCodeInvalidSplitter, message, nil)
}

// DuplicateContent reports an already-ingested content hash. This is an
// expected business outcome, distinguishable from true errors by code.
func DuplicateContent(hash string) *IngestError {
	return New(ErrCodeDuplicateContent, fmt.Sprintf("content with hash %s already exists", hash), nil)
}

// IsRetryable checks if an error (or anything it wraps) is retryable.
func IsRetryable(err error) bool {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Retryable
	}
	return false
}

// IsDuplicate reports whether err represents the duplicate-content outcome.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateContent)
}

// GetCode extracts the error code, or empty string for plain errors.
func GetCode(err error) string {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}
