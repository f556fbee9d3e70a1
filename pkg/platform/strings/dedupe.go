// Package strings holds small slice helpers shared by configuration parsing
// and bulk operations.
package strings

import "strings"

// DedupeAndTrim trims each value and drops empty values and repeats.
// First-occurrence order is preserved.
//
//	DedupeAndTrim([]string{" kafka-1:9092", "kafka-2:9092", "kafka-1:9092 ", ""})
//	// []string{"kafka-1:9092", "kafka-2:9092"}
func DedupeAndTrim(values []string) []string {
	return Dedupe(values, strings.TrimSpace)
}

// Dedupe normalizes each value with norm (identity when nil) and keeps the
// first occurrence of every non-empty result.
func Dedupe(values []string, norm func(string) string) []string {
	if values == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if norm != nil {
			v = norm(v)
		}
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
