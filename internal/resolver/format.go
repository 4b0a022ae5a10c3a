package resolver

import (
	"fmt"
	"time"

	"cmsquery/internal/cursor"
	"cmsquery/internal/entity"
	"cmsquery/internal/graph"
	"cmsquery/internal/planner"
	"cmsquery/internal/queryargs"
)

const dateLayout = "2006-01-02"

// page describes how a list of rows was fetched, for flags and cursors.
type page struct {
	entity   string
	sorts    []queryargs.ValidSort
	span     cursor.Span
	offset   int
	more     bool
	parentID any
}

// cursorMode reports whether the page was fetched by keyset rather than by
// an explicit offset.
func (p page) cursorMode() bool {
	return !p.span.IsEmpty() || p.offset == 0
}

// markPage sets the paging flags on the first and last row. In cursor mode
// those rows also carry their own cursor, built from the selected sort values.
func markPage(rows []map[string]any, p page) {
	if len(rows) == 0 {
		return
	}
	var hasPrevious, hasNext bool
	if p.cursorMode() {
		hasPrevious, hasNext = cursor.Flags(p.span, p.more)
	} else {
		hasPrevious, hasNext = cursor.OffsetFlags(p.offset, p.more)
	}

	sortKey := queryargs.SortKey(p.sorts)
	for _, row := range []map[string]any{rows[0], rows[len(rows)-1]} {
		row[graph.FieldHasPreviousPage] = hasPrevious
		row[graph.FieldHasNextPage] = hasNext
		if p.cursorMode() {
			row[graph.FieldCursor] = cursor.Encode(p.entity, sortKey, sortValues(row, len(p.sorts)), p.parentID)
		}
	}
}

func sortValues(row map[string]any, n int) []any {
	values := make([]any, n)
	for i := range values {
		values[i] = row[planner.SortAlias(i)]
	}
	return values
}

// formatRecords strips planner columns, adds recordId and renders values by
// display type, descending into attached relations.
func formatRecords(nodes []*graph.Node, e *entity.LoadedEntity, rows []map[string]any) {
	for _, row := range rows {
		formatRecord(nodes, e, row)
	}
}

func formatRecord(nodes []*graph.Node, e *entity.LoadedEntity, row map[string]any) {
	if row == nil {
		return
	}
	for key := range row {
		if planner.IsInternalColumn(key) {
			delete(row, key)
		}
	}
	if id, ok := row[e.PrimaryKey.Field]; ok && id != nil {
		row[graph.FieldRecordID] = fmt.Sprint(id)
	}

	for _, node := range nodes {
		if !node.IsNormalAttribute || node.Attribute == nil {
			continue
		}
		value, ok := row[node.Field]
		if !ok {
			continue
		}
		if node.IsCompound() {
			switch child := value.(type) {
			case map[string]any:
				formatRecord(node.Children, node.Target, child)
			case []map[string]any:
				formatRecords(node.Children, node.Target, child)
			}
			continue
		}
		row[node.Field] = formatValue(node.Attribute, value)
	}
}

func formatValue(attr *entity.LoadedAttribute, value any) any {
	switch v := value.(type) {
	case time.Time:
		if attr.DisplayType == entity.DisplayDate {
			return v.Format(dateLayout)
		}
		return v.Format(time.RFC3339)
	case []byte:
		return string(v)
	default:
		return value
	}
}
