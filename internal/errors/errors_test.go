package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWoochiError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("connection refused")

	// When: wrapping it as a provider error
	err := Provider("embed", originalErr)

	// Then: unwrapping returns the original error
	require.NotNil(t, err)
	assert.Equal(t, originalErr, errors.Unwrap(err))
	assert.True(t, errors.Is(err, originalErr))
}

func TestWoochiError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *WoochiError
		expected string
	}{
		{
			name:     "config error",
			err:      New(ErrCodeConfigNotFound, "config file not found", nil),
			expected: "[ERR_101_CONFIG_NOT_FOUND] config file not found",
		},
		{
			name:     "with cause",
			err:      New(ErrCodeIngest, "ingest rejected", errors.New("boom")),
			expected: "[ERR_401_INGEST] ingest rejected: boom",
		},
		{
			name:     "wrapped keeps single message",
			err:      Wrap(ErrCodeInternal, errors.New("boom")),
			expected: "[ERR_502_INTERNAL] boom",
		},
		{
			name:     "sentinel",
			err:      ErrNotFound,
			expected: "[ERR_404_NOT_FOUND]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestWoochiError_Is_MatchesSentinelsByCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"not ready", CollectionNotReady("med_recursive", "EMPTY"), ErrCollectionNotReady},
		{"duplicate", DuplicateID("med_recursive", "a"), ErrDuplicateID},
		{"ingest", IngestFailed("med_recursive", nil), ErrIngest},
		{"not found", NotFound("chunk", "a"), ErrNotFound},
		{"provider", Provider("embed", nil), ErrProvider},
		{"degraded", RetrievalDegraded("med_recursive", nil), ErrRetrievalDegraded},
		{"dimension", DimensionMismatch(3, 4), ErrDimensionMismatch},
		{"diverged", IndexDiverged("med_recursive", "orphan"), ErrIndexDiverged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, tt.sentinel))
			assert.True(t, errors.Is(fmt.Errorf("outer: %w", tt.err), tt.sentinel))
		})
	}
}

func TestWoochiError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	err := NotFound("chunk", "a")
	assert.False(t, errors.Is(err, ErrCollectionNotReady))
	assert.False(t, errors.Is(err, errors.New("[ERR_404_NOT_FOUND]")))
}

func TestIngestFailed_KeepsDuplicateCauseReachable(t *testing.T) {
	// Given: an ingest failure caused by a duplicate id
	err := IngestFailed("med_recursive", DuplicateID("med_recursive", "a"))

	// Then: callers can branch on either kind
	assert.True(t, errors.Is(err, ErrIngest))
	assert.True(t, errors.Is(err, ErrDuplicateID))
	assert.Equal(t, ErrCodeIngest, GetCode(err))
}

func TestWoochiError_WithDetail_AddsContext(t *testing.T) {
	err := New(ErrCodeNotFound, "missing", nil).
		WithDetail("collection", "med_recursive").
		WithSuggestion("ingest first")

	assert.Equal(t, "med_recursive", err.Details["collection"])
	assert.Equal(t, "ingest first", err.Suggestion)
}

func TestCollectionNotReady_CarriesStateAndSuggestion(t *testing.T) {
	err := CollectionNotReady("med_recursive", "BUILDING")

	assert.Contains(t, err.Error(), "med_recursive")
	assert.Equal(t, "BUILDING", err.Details["state"])
	assert.NotEmpty(t, err.Suggestion)
	assert.False(t, err.Retryable)
}

func TestCategoryAndSeverity_DerivedFromCode(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{ErrCodeStorageCorrupt, CategoryStorage, SeverityFatal, false},
		{ErrCodeStorageLocked, CategoryStorage, SeverityWarning, true},
		{ErrCodeProvider, CategoryProvider, SeverityWarning, true},
		{ErrCodeRetrievalDegraded, CategoryProvider, SeverityError, false},
		{ErrCodeDuplicateID, CategoryValidation, SeverityError, false},
		{ErrCodeIndexDiverged, CategoryInternal, SeverityFatal, false},
		{"BAD", CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "x", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestClassifiers_LookThroughWrapping(t *testing.T) {
	// Given: classified errors wrapped with fmt.Errorf
	provider := fmt.Errorf("embed query: %w", Provider("embed", errors.New("503")))
	diverged := fmt.Errorf("resolve: %w", IndexDiverged("c", "x"))

	// Then: classifiers see through the wrapping
	assert.True(t, IsRetryable(provider))
	assert.False(t, IsFatal(provider))
	assert.True(t, IsFatal(diverged))
	assert.Equal(t, ErrCodeIndexDiverged, GetCode(diverged))
}

func TestClassifiers_PlainErrors(t *testing.T) {
	err := errors.New("plain")

	assert.False(t, IsRetryable(err))
	assert.False(t, IsFatal(err))
	assert.Empty(t, GetCode(err))
	assert.Empty(t, GetCode(nil))
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}
