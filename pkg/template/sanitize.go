package template

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxValueSize bounds the size of a single string substitution.
const DefaultMaxValueSize = 1 << 20

var (
	ErrValueTooLarge = errors.New("substitution value exceeds maximum allowed size")
	ErrInvalidUTF8   = errors.New("substitution value contains invalid UTF-8 sequences")
)

// SanitizeValue returns a copy of v in which every string, at any depth, has
// been checked for size and UTF-8 validity and stripped of control characters
// other than newline, tab and carriage return.
func SanitizeValue(v any, limit int) (any, error) {
	switch val := v.(type) {
	case string:
		return sanitizeString(val, limit)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			clean, err := SanitizeValue(item, limit)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = clean
		}
		return out, nil
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			clean, err := sanitizeString(item, limit)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = clean
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			clean, err := SanitizeValue(item, limit)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = clean
		}
		return out, nil
	default:
		return v, nil
	}
}

func sanitizeString(s string, limit int) (string, error) {
	if limit > 0 && len(s) > limit {
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrValueTooLarge, len(s), limit)
	}
	if !utf8.ValidString(s) {
		return "", ErrInvalidUTF8
	}

	clean := true
	for _, r := range s {
		if unicode.IsControl(r) && !isSafeControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !unicode.IsControl(r) || isSafeControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

func isSafeControl(r rune) bool {
	return r == '\n' || r == '\t' || r == '\r'
}
