package errors

import (
	"errors"
	"fmt"
)

// WoochiError is the structured error type for woochi.
// It carries enough context to branch on, log, and present to an operator.
type WoochiError struct {
	// Code is the unique error code (e.g., "ERR_405_COLLECTION_NOT_READY").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Provider, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *WoochiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("[%s]", e.Code)
	}
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *WoochiError) Unwrap() error {
	return e.Cause
}

// Is matches by code so sentinels such as ErrCollectionNotReady work with errors.Is.
func (e *WoochiError) Is(target error) bool {
	if t, ok := target.(*WoochiError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *WoochiError) WithDetail(key, value string) *WoochiError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the operator.
func (e *WoochiError) WithSuggestion(suggestion string) *WoochiError {
	e.Suggestion = suggestion
	return e
}

// New creates a new WoochiError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *WoochiError {
	return &WoochiError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a WoochiError from an existing error.
// The error's message becomes the WoochiError message.
func Wrap(code string, err error) *WoochiError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// CollectionNotReady reports a query against a collection that was never
// ingested or is mid-build.
func CollectionNotReady(collection, state string) *WoochiError {
	return New(ErrCodeCollectionNotReady,
		fmt.Sprintf("collection %q is not ready (state %s)", collection, state), nil).
		WithDetail("collection", collection).
		WithDetail("state", state).
		WithSuggestion("ingest the collection before querying it")
}

// DuplicateID reports an ingest batch whose chunk id already exists.
func DuplicateID(collection, id string) *WoochiError {
	return New(ErrCodeDuplicateID,
		fmt.Sprintf("chunk id %q already exists in collection %q", id, collection), nil).
		WithDetail("collection", collection).
		WithDetail("chunk_id", id).
		WithSuggestion("derive chunk ids from content hashes upstream")
}

// IngestFailed reports a rejected ingest batch. The collection is unchanged.
func IngestFailed(collection string, cause error) *WoochiError {
	return New(ErrCodeIngest,
		fmt.Sprintf("ingest into %q rejected", collection), cause).
		WithDetail("collection", collection)
}

// NotFound reports a lookup miss for the given kind ("chunk", "collection").
func NotFound(kind, id string) *WoochiError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s %q not found", kind, id), nil).
		WithDetail("kind", kind).
		WithDetail("id", id)
}

// Provider reports a transient embedding provider failure.
func Provider(op string, cause error) *WoochiError {
	return New(ErrCodeProvider, fmt.Sprintf("embedding provider %s failed", op), cause).
		WithDetail("op", op)
}

// RetrievalDegraded reports that the vector path failed while degraded mode is disabled.
func RetrievalDegraded(collection string, cause error) *WoochiError {
	return New(ErrCodeRetrievalDegraded,
		fmt.Sprintf("vector retrieval for %q failed and degraded mode is disabled", collection), cause).
		WithDetail("collection", collection).
		WithSuggestion("check the embedding provider or enable retrieval.allow_degraded")
}

// DimensionMismatch reports a vector of unexpected length.
func DimensionMismatch(expected, got int) *WoochiError {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("dimension mismatch: expected %d, got %d", expected, got), nil).
		WithDetail("expected", fmt.Sprint(expected)).
		WithDetail("got", fmt.Sprint(got))
}

// IndexDiverged reports that the chunk store and an index disagree on the id set.
func IndexDiverged(collection, detail string) *WoochiError {
	return New(ErrCodeIndexDiverged,
		fmt.Sprintf("collection %q indexes diverged: %s", collection, detail), nil).
		WithDetail("collection", collection)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *WoochiError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StorageError creates a durable storage error.
func StorageError(message string, cause error) *WoochiError {
	return New(ErrCodeStorageWrite, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *WoochiError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *WoochiError {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first WoochiError in err's chain.
func As(err error) (*WoochiError, bool) {
	var we *WoochiError
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}

// IsRetryable reports whether any WoochiError in the chain is retryable.
func IsRetryable(err error) bool {
	if we, ok := As(err); ok {
		return we.Retryable
	}
	return false
}

// IsFatal reports whether the first WoochiError in the chain has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if we, ok := As(err); ok {
		return we.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the chain.
// Returns empty string if no WoochiError is present.
func GetCode(err error) string {
	if we, ok := As(err); ok {
		return we.Code
	}
	return ""
}

