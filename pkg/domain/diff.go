package domain

import (
	"reflect"
	"sort"
)

// DocumentDiff represents the changes between two documents.
// Keys are dotted paths into nested mappings. Lists are compared as a whole.
type DocumentDiff struct {
	// Changed holds added or modified paths with their new value.
	Changed map[string]any `json:"changed,omitempty"`

	// Removed lists paths present in the old document but absent from the new one.
	Removed []string `json:"removed,omitempty"`
}

// Diff calculates the difference between oldDoc and newDoc.
// If oldDoc is nil, every top-level key of newDoc is reported as changed.
// It returns nil when the documents are equal.
func Diff(oldDoc, newDoc Document) *DocumentDiff {
	diff := &DocumentDiff{Changed: make(map[string]any)}
	diffMaps("", oldDoc, newDoc, diff)

	if diff.IsEmpty() {
		return nil
	}
	sort.Strings(diff.Removed)
	if len(diff.Changed) == 0 {
		diff.Changed = nil
	}
	return diff
}

func diffMaps(prefix string, old, new map[string]any, diff *DocumentDiff) {
	for k, newVal := range new {
		path := join(prefix, k)
		oldVal, exists := old[k]
		if !exists {
			diff.Changed[path] = newVal
			continue
		}

		oldMap, oldIsMap := asMap(oldVal)
		newMap, newIsMap := asMap(newVal)
		if oldIsMap && newIsMap {
			diffMaps(path, oldMap, newMap, diff)
			continue
		}

		if !reflect.DeepEqual(oldVal, newVal) {
			diff.Changed[path] = newVal
		}
	}

	for k := range old {
		if _, exists := new[k]; !exists {
			diff.Removed = append(diff.Removed, join(prefix, k))
		}
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	}
	return nil, false
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// IsEmpty checks if the diff contains any changes.
func (d *DocumentDiff) IsEmpty() bool {
	return d == nil || (len(d.Changed) == 0 && len(d.Removed) == 0)
}
