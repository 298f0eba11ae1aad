package errors

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// FormatForCLI formats an error for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	we, ok := As(err)
	if !ok {
		we = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", we.Message)
	if we.Cause != nil && we.Cause.Error() != we.Message {
		fmt.Fprintf(&sb, "  Cause: %v\n", we.Cause)
	}
	if we.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", we.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", we.Code)
	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	we, ok := As(err)
	if !ok {
		we = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:       we.Code,
		Message:    we.Message,
		Category:   string(we.Category),
		Severity:   string(we.Severity),
		Details:    we.Details,
		Suggestion: we.Suggestion,
		Retryable:  we.Retryable,
	}
	if we.Cause != nil {
		je.Cause = we.Cause.Error()
	}
	return json.Marshal(je)
}

// FormatForLog returns slog attributes describing err, for use as
// slog.Warn("msg", errors.FormatForLog(err)...).
func FormatForLog(err error) []any {
	if err == nil {
		return nil
	}

	we, ok := As(err)
	if !ok {
		return []any{slog.String("error", err.Error())}
	}

	attrs := []any{
		slog.String("error_code", we.Code),
		slog.String("error", we.Message),
		slog.String("category", string(we.Category)),
		slog.Bool("retryable", we.Retryable),
	}
	if we.Cause != nil {
		attrs = append(attrs, slog.String("cause", we.Cause.Error()))
	}

	keys := make([]string, 0, len(we.Details))
	for k := range we.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String("detail_"+k, we.Details[k]))
	}
	return attrs
}
