package planner

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"cmsquery/internal/entity"
	"cmsquery/internal/queryargs"
	"cmsquery/internal/schema"
	"cmsquery/internal/sqlutil"
)

// scope tracks the joins needed by one query level. Every distinct vector
// prefix is joined once, under an alias derived from the prefix.
type scope struct {
	dialect       sqlutil.Dialect
	root          *entity.LoadedEntity
	rootAlias     string
	publishedOnly bool

	joins    []joinClause
	joined   map[string]bool
	distinct bool
}

type joinClause struct {
	inner  bool
	clause string
	args   []any
}

func newScope(dialect sqlutil.Dialect, root *entity.LoadedEntity, publishedOnly bool) *scope {
	return &scope{
		dialect:       dialect,
		root:          root,
		rootAlias:     root.TableName,
		publishedOnly: publishedOnly,
		joined:        make(map[string]bool),
	}
}

func (s *scope) col(alias, field string) string {
	return s.dialect.Column(alias, field)
}

// alias returns the join alias for a vector prefix. "tags.category" becomes
// "__tags__category"; the empty prefix is the root table.
func (s *scope) alias(prefix string) string {
	if prefix == "" {
		return s.rootAlias
	}
	return "__" + strings.ReplaceAll(prefix, ".", "__")
}

// column joins every hop of the vector and returns its qualified column.
func (s *scope) column(v *schema.AttributeVector) (string, error) {
	if err := s.joinVector(v); err != nil {
		return "", err
	}
	return s.col(s.alias(v.Prefix), v.Attribute.Field), nil
}

func (s *scope) joinVector(v *schema.AttributeVector) error {
	for i, attr := range v.Path {
		prefix := v.HopPrefix(i)
		if s.joined[prefix] {
			continue
		}
		parent := s.rootAlias
		if i > 0 {
			parent = s.alias(v.HopPrefix(i - 1))
		}
		if err := s.joinLink(attr, parent, s.alias(prefix)); err != nil {
			return err
		}
		s.joined[prefix] = true
	}
	return nil
}

// joinLink LEFT JOINs a relation target. Junctions go through their
// association table first. Joined targets honor soft deletion and, when
// status filtering is active, publication status.
func (s *scope) joinLink(attr *entity.LoadedAttribute, parentAlias, alias string) error {
	link := attr.Link
	if link == nil {
		return fmt.Errorf("%w: %s.%s", ErrUnlinkedRelation, attr.TableName, attr.Field)
	}
	target := link.TargetEntity()

	onAlias, onField := parentAlias, link.SourceAttribute().Field
	targetField := link.TargetAttribute().Field
	if j, ok := link.(*entity.Junction); ok {
		junctionAlias := alias + "_junction"
		s.joins = append(s.joins, joinClause{
			clause: fmt.Sprintf("%s AS %s ON %s = %s AND %s = ?",
				s.dialect.Quote(j.TableName), s.dialect.Quote(junctionAlias),
				s.col(junctionAlias, j.SourceID.Field), s.col(parentAlias, onField),
				s.col(junctionAlias, entity.ColumnDeleted)),
			args: []any{false},
		})
		onAlias, onField = junctionAlias, j.TargetID.Field
		targetField = target.PrimaryKey.Field
	}

	clause := fmt.Sprintf("%s AS %s ON %s = %s AND %s = ?",
		s.dialect.Quote(target.TableName), s.dialect.Quote(alias),
		s.col(alias, targetField), s.col(onAlias, onField),
		s.col(alias, entity.ColumnDeleted))
	args := []any{false}
	if s.publishedOnly {
		clause += " AND " + s.col(alias, entity.ColumnPublicationStatus) + " = ?"
		args = append(args, string(entity.StatusPublished))
	}
	s.joins = append(s.joins, joinClause{clause: clause, args: args})

	if link.IsCollective() {
		s.distinct = true
	}
	return nil
}

// visibility returns the root soft-delete and publication predicates.
func (s *scope) visibility() []sq.Sqlizer {
	conds := []sq.Sqlizer{sq.Eq{s.col(s.rootAlias, entity.ColumnDeleted): false}}
	if s.publishedOnly {
		conds = append(conds, sq.Eq{s.col(s.rootAlias, entity.ColumnPublicationStatus): string(entity.StatusPublished)})
	}
	return conds
}

// where compiles the filters. Filters are ANDed together.
func (s *scope) where(filters []queryargs.ValidFilter) ([]sq.Sqlizer, error) {
	conds := make([]sq.Sqlizer, 0, len(filters))
	for _, f := range filters {
		cond, err := s.filterCondition(f)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

// apply attaches the collected joins and conditions to a builder. Joins
// must be collected before apply is called.
func (s *scope) apply(builder sq.SelectBuilder, conds []sq.Sqlizer) sq.SelectBuilder {
	for _, j := range s.joins {
		if j.inner {
			builder = builder.Join(j.clause, j.args...)
		} else {
			builder = builder.LeftJoin(j.clause, j.args...)
		}
	}
	for _, cond := range append(s.visibility(), conds...) {
		builder = builder.Where(cond)
	}
	return builder
}
