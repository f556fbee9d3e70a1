package attrs

import "github.com/google/uuid"

// ExtractString extracts a string value from a key-value attribute slice.
// The slice should be formatted as [key1, value1, key2, value2, ...].
// Returns empty string if the key is not found or the value is not a string.
func ExtractString(attrs []any, key string) string {
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok {
			continue
		}
		if k != key {
			continue
		}
		switch v := attrs[i+1].(type) {
		case string:
			return v
		case uuid.UUID:
			return v.String()
		}
	}
	return ""
}

// Without returns a copy of attrs with the given key (and its value) removed.
func Without(attrs []any, key string) []any {
	out := make([]any, 0, len(attrs))
	for i := 0; i < len(attrs); i += 2 {
		if i+1 >= len(attrs) {
			out = append(out, attrs[i])
			break
		}
		if k, ok := attrs[i].(string); ok && k == key {
			continue
		}
		out = append(out, attrs[i], attrs[i+1])
	}
	return out
}
