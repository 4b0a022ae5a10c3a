package resolver

import (
	"fmt"

	"cmsquery/internal/entity"
	"cmsquery/internal/planner"
)

const (
	relationLookup     = "lookup"
	relationJunction   = "junction"
	relationCollection = "collection"
)

func relationType(link entity.LinkDesc) string {
	switch link.(type) {
	case *entity.Junction:
		return relationJunction
	case *entity.Collection:
		return relationCollection
	default:
		return relationLookup
	}
}

// parentKey renders a join value as a map key. Drivers may return the same
// key as int64 on one side and a string on the other.
func parentKey(value any) string {
	return fmt.Sprint(value)
}

func uniqueParentValues(rows []map[string]any, key string) []any {
	seen := make(map[string]struct{})
	values := make([]any, 0, len(rows))

	for _, row := range rows {
		raw := row[key]
		if raw == nil {
			continue
		}
		normalized := parentKey(raw)
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		values = append(values, raw)
	}

	return values
}

// groupByParent groups child rows by the parent value the batch query
// returned under planner.BatchParentAlias, removing that column.
func groupByParent(rows []map[string]any) map[string][]map[string]any {
	grouped := make(map[string][]map[string]any)
	for _, row := range rows {
		key := parentKey(row[planner.BatchParentAlias])
		delete(row, planner.BatchParentAlias)
		grouped[key] = append(grouped[key], row)
	}
	return grouped
}

func mergeGrouped(target, src map[string][]map[string]any) {
	for key, rows := range src {
		target[key] = append(target[key], rows...)
	}
}

func chunkValues(values []any, max int) [][]any {
	if len(values) == 0 {
		return nil
	}
	if max <= 0 || len(values) <= max {
		return [][]any{values}
	}
	chunks := make([][]any, 0, (len(values)+max-1)/max)
	for start := 0; start < len(values); start += max {
		end := start + max
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}

func batchQueriesSaved(parentCount, chunkCount int) int64 {
	// Per-parent loading would run one query per parent; batching runs one per chunk.
	if parentCount <= 0 || chunkCount <= 0 {
		return 0
	}
	if saved := parentCount - chunkCount; saved > 0 {
		return int64(saved)
	}
	return 0
}
