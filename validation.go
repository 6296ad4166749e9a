package bulletin

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
)

// emailPattern is the accepted email shape: local-part "@" domain "." tld,
// with no whitespace or "@" inside any part.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ExtraLimits bounds the size of a message's extra attributes.
// A zero field disables that bound.
type ExtraLimits struct {
	MaxKeys      int
	MaxKeyLength int
	MaxSize      int // bytes of the JSON encoding
}

// DefaultExtraLimits returns the default extra attribute limits.
func DefaultExtraLimits() ExtraLimits {
	return ExtraLimits{
		MaxKeys:      DefaultMaxExtraKeys,
		MaxKeyLength: DefaultMaxExtraKeyLength,
		MaxSize:      DefaultMaxExtraSize,
	}
}

// NormalizeEmail percent-decodes raw with form semantics ("+" becomes a
// space), trims surrounding whitespace and lowercases the result.
// A malformed escape leaves the input undecoded.
func NormalizeEmail(raw string) string {
	n, _ := normalizeEmail(raw)
	return n
}

func normalizeEmail(raw string) (string, error) {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		decoded = raw
	}
	return strings.ToLower(strings.TrimSpace(decoded)), err
}

// ValidateEmail normalizes raw and checks it against the email shape.
// It returns the normalized address.
func ValidateEmail(field, raw string) (string, error) {
	normalized, decodeErr := normalizeEmail(raw)
	if normalized == "" {
		return "", newValidationError(field, field+" must not be blank")
	}
	if decodeErr != nil || !emailPattern.MatchString(normalized) {
		return "", newValidationError(field, field+" must be a valid email")
	}
	return normalized, nil
}

// ValidateRequired fails when value is blank after trimming.
func ValidateRequired(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return newValidationError(field, field+" must not be empty")
	}
	return nil
}

// ValidatePage checks zero-based page and positive size bounds. The page
// offset (page * size) must fit in an int64.
func ValidatePage(page, size int) error {
	if page < 0 {
		return newValidationError("page", "page must be >= 0")
	}
	if size <= 0 {
		return newValidationError("size", "size must be > 0")
	}
	if int64(page) > math.MaxInt64/int64(size) {
		return newValidationError("page", "page out of range")
	}
	return nil
}

// ValidateExtraAttributes checks attrs against limits. Values are never
// inspected beyond their encoded size.
func ValidateExtraAttributes(attrs map[string]any, limits ExtraLimits) error {
	if len(attrs) == 0 {
		return nil
	}
	if limits.MaxKeys > 0 && len(attrs) > limits.MaxKeys {
		return newValidationError("extraAttributes",
			fmt.Sprintf("too many keys (%d > %d)", len(attrs), limits.MaxKeys))
	}
	for key := range attrs {
		if key == "" {
			return newValidationError("extraAttributes", "empty key not allowed")
		}
		if limits.MaxKeyLength > 0 && len(key) > limits.MaxKeyLength {
			truncated := key
			if len(key) > 50 {
				truncated = key[:50]
			}
			return newValidationError("extraAttributes",
				fmt.Sprintf("key '%s...' exceeds max length %d", truncated, limits.MaxKeyLength))
		}
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return newValidationError("extraAttributes", "values must be JSON-encodable")
	}
	if limits.MaxSize > 0 && len(data) > limits.MaxSize {
		return newValidationError("extraAttributes",
			fmt.Sprintf("size %d exceeds limit %d", len(data), limits.MaxSize))
	}
	return nil
}
