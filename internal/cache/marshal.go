package cache

import (
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/cases"
)

// foldTag normalizes a tag for the case-insensitive fallback lookup.
// Unicode case folding via x/text handles tags beyond ASCII correctly
// (e.g. readers that report localized serial strings).
func foldTag(tag string) string {
	return cases.Fold().String(tag)
}

// marshalStrings serializes a string set to deterministic JSON.
// The slice is sorted first so two Pulls of the same remote state produce
// byte-identical rows.
func marshalStrings(values []string) (string, error) {
	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.Strings(sorted)

	data, err := json.Marshal(sorted)
	if err != nil {
		return "", fmt.Errorf("marshal string set: %w", err)
	}
	return string(data), nil
}

// unmarshalStrings deserializes a string set column.
// Returns an empty slice (not nil) for empty or missing sets.
func unmarshalStrings(data string) ([]string, error) {
	if data == "" {
		return []string{}, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, fmt.Errorf("unmarshal string set: %w", err)
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}
