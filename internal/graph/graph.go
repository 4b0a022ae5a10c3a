// Package graph turns a GraphQL-syntax selection into a tree of nodes bound
// to a loaded entity. Nested relation fields carry their own validated
// filters, sorts and paging.
package graph

import (
	"strings"

	"github.com/jinzhu/inflection"

	"cmsquery/internal/cursor"
	"cmsquery/internal/entity"
	"cmsquery/internal/queryargs"
)

// Fields added to records by the engine rather than read from a column.
const (
	FieldRecordID        = "recordId"
	FieldCursor          = "cursor"
	FieldHasNextPage     = "hasNextPage"
	FieldHasPreviousPage = "hasPreviousPage"
	fieldTypename        = "__typename"
)

var extensionFields = map[string]bool{
	FieldRecordID:        true,
	FieldCursor:          true,
	FieldHasNextPage:     true,
	FieldHasPreviousPage: true,
	fieldTypename:        true,
}

// IsExtensionField reports whether name is engine-provided.
func IsExtensionField(name string) bool {
	return extensionFields[name]
}

// Node is one requested field.
type Node struct {
	Field string
	// Prefix is the dotted path of the enclosing relation nodes.
	Prefix string
	// Attribute is nil for extension fields.
	Attribute *entity.LoadedAttribute
	// Target is the fully loaded relation target for compound nodes.
	Target *entity.LoadedEntity

	Filters    []queryargs.ValidFilter
	Sorts      []queryargs.ValidSort
	Pagination queryargs.Pagination
	Span       cursor.Span

	Children []*Node
	// IsNormalAttribute is false for engine-provided fields.
	IsNormalAttribute bool
}

// Path returns the dotted path of the node from the root entity.
func (n *Node) Path() string {
	if n.Prefix == "" {
		return n.Field
	}
	return n.Prefix + "." + n.Field
}

// IsCompound reports whether the node loads a relation.
func (n *Node) IsCompound() bool {
	return n.IsNormalAttribute && n.Attribute != nil && n.Attribute.IsCompound()
}

// IsCollective reports whether the node loads a list relation.
func (n *Node) IsCollective() bool {
	return n.IsCompound() && n.Attribute.DataType.IsCollective()
}

// Paginated reports whether the nested list asked for its own page, which
// forces one query per parent.
func (n *Node) Paginated() bool {
	return n.IsCollective() && (n.Pagination.Limit != "" || n.Pagination.Offset != "" || !n.Span.IsEmpty())
}

// Columns returns the attributes of nodes that map to a column, including
// lookup foreign keys.
func Columns(nodes []*Node) []*entity.LoadedAttribute {
	out := make([]*entity.LoadedAttribute, 0, len(nodes))
	for _, n := range nodes {
		if n.IsNormalAttribute && n.Attribute != nil && n.Attribute.HasColumn() {
			out = append(out, n.Attribute)
		}
	}
	return out
}

// Find returns the node for a field at this level.
func Find(nodes []*Node, field string) (*Node, bool) {
	for _, n := range nodes {
		if n.Field == field {
			return n, true
		}
	}
	return nil, false
}

// Query is a bound root selection with its own arguments, as produced from
// a named query source.
type Query struct {
	Entity     *entity.LoadedEntity
	Nodes      []*Node
	Filters    []queryargs.ValidFilter
	Sorts      []queryargs.ValidSort
	Pagination queryargs.Pagination
	Span       cursor.Span
}

// EntityCandidates lists entity names a root field may refer to, most
// specific first: "posts" and "postList" both map to "post".
func EntityCandidates(field string) []string {
	candidates := []string{field}
	add := func(name string) {
		if name == "" {
			return
		}
		for _, c := range candidates {
			if c == name {
				return
			}
		}
		candidates = append(candidates, name)
	}
	add(strings.TrimSuffix(field, "List"))
	add(inflection.Singular(field))
	return candidates
}
