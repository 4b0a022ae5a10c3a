// Package planner compiles validated entity queries into parameterized SQL.
// It handles column selection, soft-delete and publication visibility,
// relation joins for filter and sort paths, keyset seeks, and the batched
// child queries used to stitch relations.
package planner

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"cmsquery/internal/entity"
	"cmsquery/internal/sqlutil"
)

// ErrUnresolvedVariable is returned when a filter still holds a `$name`
// reference at compile time.
var ErrUnresolvedVariable = errors.New("unresolved variable")

// ErrUnlinkedRelation is returned for a relation hop without a link descriptor.
var ErrUnlinkedRelation = errors.New("relation is not linked")

// BatchParentAlias is the column alias used to return parent keys in batch queries.
const BatchParentAlias = "__batch_parent_id"

const sortAliasPrefix = "__sort_"

// SortAlias is the column alias under which the i-th sort value is selected.
func SortAlias(i int) string {
	return sortAliasPrefix + strconv.Itoa(i)
}

// IsInternalColumn reports whether a result column was added by the planner
// and must not reach clients.
func IsInternalColumn(name string) bool {
	return strings.HasPrefix(name, sortAliasPrefix) || name == BatchParentAlias
}

// SQLQuery represents a planned SQL statement with bound args.
type SQLQuery struct {
	SQL  string
	Args []any
}

// ToSql lets a planned query be passed wherever a squirrel Sqlizer is accepted.
func (q SQLQuery) ToSql() (string, []any, error) {
	return q.SQL, q.Args, nil
}

// Planner builds SQL for one database dialect.
type Planner struct {
	dialect sqlutil.Dialect
}

// New returns a planner for the dialect.
func New(dialect sqlutil.Dialect) *Planner {
	return &Planner{dialect: dialect}
}

// Dialect returns the planner's dialect.
func (p *Planner) Dialect() sqlutil.Dialect {
	return p.dialect
}

func (p *Planner) finish(builder sq.SelectBuilder) (SQLQuery, error) {
	query, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return p.rebind(SQLQuery{SQL: query, Args: args})
}

func (p *Planner) rebind(q SQLQuery) (SQLQuery, error) {
	query, err := p.dialect.Rebind(q.SQL)
	if err != nil {
		return SQLQuery{}, fmt.Errorf("rebind placeholders: %w", err)
	}
	return SQLQuery{SQL: query, Args: q.Args}, nil
}

// selectColumns returns the aliased select list for the entity's requested
// local attributes. The primary key is always included.
func (s *scope) selectColumns(fields []*entity.LoadedAttribute) []string {
	pk := s.root.PrimaryKey
	columns := make([]string, 0, len(fields)+1)
	seen := make(map[string]bool, len(fields)+1)
	add := func(attr *entity.LoadedAttribute) {
		if attr == nil || !attr.HasColumn() || seen[attr.Field] {
			return
		}
		seen[attr.Field] = true
		columns = append(columns, s.col(s.rootAlias, attr.Field)+" AS "+s.dialect.Quote(attr.Field))
	}
	add(pk)
	for _, attr := range fields {
		add(attr)
	}
	return columns
}
