package collection

import (
	"strings"
	"unicode"

	woerrors "github.com/Aman-CERP/woochi/internal/errors"
)

// Name builds the conventional "<domain>_<strategy>" collection name,
// e.g. Name("meditation", "recursive") == "meditation_recursive".
func Name(domain, strategy string) string {
	domain = strings.TrimSpace(domain)
	strategy = strings.TrimSpace(strategy)
	if strategy == "" {
		return domain
	}
	return domain + "_" + strategy
}

// ValidateName rejects names that cannot be used as catalog keys: empty,
// containing a path separator, or containing control characters. Anything
// else is opaque.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return woerrors.ValidationError("collection name must not be empty", nil)
	}
	if strings.ContainsAny(name, `/\`) {
		return woerrors.ValidationError("collection name must not contain path separators", nil).
			WithDetail("collection", name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return woerrors.ValidationError("collection name must not contain control characters", nil).
				WithDetail("collection", name)
		}
	}
	return nil
}
