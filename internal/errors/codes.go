// Package errors provides the structured error taxonomy for woochi.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (catalog, disk)
//   - 3XX: Embedding provider errors
//   - 4XX: Ingest and query validation errors
//   - 5XX: Internal errors
//
// Every code also has a sentinel value so callers can branch on failure
// kind with errors.Is instead of inspecting messages:
//
//	if errors.Is(err, woerrors.ErrCollectionNotReady) {
//	    // ingest first
//	}
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates durable catalog and disk errors.
	CategoryStorage Category = "STORAGE"
	// CategoryProvider indicates embedding provider errors.
	CategoryProvider Category = "PROVIDER"
	// CategoryValidation indicates ingest or query validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigParse    = "ERR_103_CONFIG_PARSE"

	// Storage errors (200-299)
	ErrCodeStorageOpen    = "ERR_201_STORAGE_OPEN"
	ErrCodeStorageWrite   = "ERR_202_STORAGE_WRITE"
	ErrCodeStorageRead    = "ERR_203_STORAGE_READ"
	ErrCodeStorageLocked  = "ERR_204_STORAGE_LOCKED"
	ErrCodeStorageCorrupt = "ERR_205_STORAGE_CORRUPT"

	// Provider errors (300-399)
	ErrCodeProvider           = "ERR_301_PROVIDER"
	ErrCodeRetrievalDegraded  = "ERR_302_RETRIEVAL_DEGRADED"
	ErrCodeProviderTimeout    = "ERR_303_PROVIDER_TIMEOUT"
	ErrCodeProviderRateLimit  = "ERR_304_PROVIDER_RATE_LIMIT"
	ErrCodeProviderBadRequest = "ERR_305_PROVIDER_BAD_REQUEST"

	// Validation errors (400-499)
	ErrCodeIngest             = "ERR_401_INGEST"
	ErrCodeDuplicateID        = "ERR_402_DUPLICATE_ID"
	ErrCodeDimensionMismatch  = "ERR_403_DIMENSION_MISMATCH"
	ErrCodeNotFound           = "ERR_404_NOT_FOUND"
	ErrCodeCollectionNotReady = "ERR_405_COLLECTION_NOT_READY"
	ErrCodeInvalidInput       = "ERR_406_INVALID_INPUT"

	// Internal errors (500-599)
	ErrCodeIndexDiverged = "ERR_501_INDEX_DIVERGED"
	ErrCodeInternal      = "ERR_502_INTERNAL"
	ErrCodeShutdown      = "ERR_503_SHUTDOWN"
)

// Sentinels for errors.Is. They carry only a code; matching is by code.
var (
	ErrConfigInvalid      = &WoochiError{Code: ErrCodeConfigInvalid}
	ErrStorage            = &WoochiError{Code: ErrCodeStorageWrite}
	ErrStorageLocked      = &WoochiError{Code: ErrCodeStorageLocked}
	ErrProvider           = &WoochiError{Code: ErrCodeProvider}
	ErrRetrievalDegraded  = &WoochiError{Code: ErrCodeRetrievalDegraded}
	ErrIngest             = &WoochiError{Code: ErrCodeIngest}
	ErrDuplicateID        = &WoochiError{Code: ErrCodeDuplicateID}
	ErrDimensionMismatch  = &WoochiError{Code: ErrCodeDimensionMismatch}
	ErrNotFound           = &WoochiError{Code: ErrCodeNotFound}
	ErrCollectionNotReady = &WoochiError{Code: ErrCodeCollectionNotReady}
	ErrInvalidInput       = &WoochiError{Code: ErrCodeInvalidInput}
	ErrIndexDiverged      = &WoochiError{Code: ErrCodeIndexDiverged}
	ErrShutdown           = &WoochiError{Code: ErrCodeShutdown}
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "1" from "ERR_101_CONFIG_NOT_FOUND"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryProvider
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeIndexDiverged, ErrCodeStorageCorrupt:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode reports whether an error code represents a transient failure.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeProvider, ErrCodeProviderTimeout, ErrCodeProviderRateLimit, ErrCodeStorageLocked:
		return true
	default:
		return false
	}
}
