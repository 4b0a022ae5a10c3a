package planner

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"cmsquery/internal/entity"
	"cmsquery/internal/queryargs"
)

// ListInput describes one level of an entity list query.
type ListInput struct {
	Entity *entity.LoadedEntity
	// Fields are the local attributes to select. The primary key is always added.
	Fields     []*entity.LoadedAttribute
	Filters    []queryargs.ValidFilter
	Sorts      []queryargs.ValidSort
	Pagination queryargs.ValidPagination
	Span       queryargs.ValidSpan
	// PublishedOnly restricts the root and every joined table to published rows.
	PublishedOnly bool
	// PlusOne fetches one extra row so callers can tell whether more exist.
	PlusOne bool
}

// PlanList builds the root list query. Sort values are selected under
// SortAlias columns so callers can encode cursors for boundary rows.
func (p *Planner) PlanList(in ListInput) (SQLQuery, error) {
	if in.Entity == nil || in.Entity.PrimaryKey == nil {
		return SQLQuery{}, fmt.Errorf("list query needs an entity with a primary key")
	}
	s := newScope(p.dialect, in.Entity, in.PublishedOnly)
	builder, err := s.levelQuery(levelArgs{
		fields:     in.Fields,
		filters:    in.Filters,
		sorts:      in.Sorts,
		pagination: in.Pagination,
		span:       in.Span,
		plusOne:    in.PlusOne,
	})
	if err != nil {
		return SQLQuery{}, err
	}
	return p.finish(builder.From(p.dialect.Quote(in.Entity.TableName)))
}

// PlanCount builds a count over the same filters and joins as PlanList.
// When a collective join can duplicate rows, distinct keys are counted.
func (p *Planner) PlanCount(in ListInput) (SQLQuery, error) {
	if in.Entity == nil || in.Entity.PrimaryKey == nil {
		return SQLQuery{}, fmt.Errorf("count query needs an entity with a primary key")
	}
	s := newScope(p.dialect, in.Entity, in.PublishedOnly)
	conds, err := s.where(in.Filters)
	if err != nil {
		return SQLQuery{}, err
	}
	from := p.dialect.Quote(in.Entity.TableName)

	if !s.distinct {
		return p.finish(s.apply(sq.Select("COUNT(*)").From(from), conds))
	}

	inner := s.apply(sq.Select(s.col(s.rootAlias, in.Entity.PrimaryKey.Field)).Distinct().From(from), conds)
	query, args, err := inner.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return p.rebind(SQLQuery{
		SQL:  fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS __count", query),
		Args: args,
	})
}

type levelArgs struct {
	fields     []*entity.LoadedAttribute
	filters    []queryargs.ValidFilter
	sorts      []queryargs.ValidSort
	pagination queryargs.ValidPagination
	span       queryargs.ValidSpan
	plusOne    bool
	parent     sq.Sqlizer
	extra      []string
}

// levelQuery builds the select list, joins, filters, seek, ordering and
// paging shared by root and relation queries. The caller sets FROM.
func (s *scope) levelQuery(args levelArgs) (sq.SelectBuilder, error) {
	conds, err := s.where(args.filters)
	if err != nil {
		return sq.SelectBuilder{}, err
	}
	order, err := s.ordering(args.sorts)
	if err != nil {
		return sq.SelectBuilder{}, err
	}
	if args.parent != nil {
		conds = append([]sq.Sqlizer{args.parent}, conds...)
	}
	backward := args.span.Backward()
	if args.span.Active() {
		if len(args.span.Values) != len(order.columns) {
			return sq.SelectBuilder{}, fmt.Errorf("cursor has %d values for %d sort columns", len(args.span.Values), len(order.columns))
		}
		conds = append(conds, BuildSeekCondition(s.dialect, order.columns, order.orders, args.span.Values, backward))
	}

	columns := s.selectColumns(args.fields)
	columns = append(columns, order.selectList(s)...)
	columns = append(columns, args.extra...)

	builder := sq.Select(columns...)
	if s.distinct {
		builder = builder.Distinct()
	}
	builder = s.apply(builder, conds).OrderBy(order.clauses(s, backward)...)

	if limit := args.pagination.Limit; limit > 0 {
		if args.plusOne {
			limit++
		}
		builder = builder.Limit(uint64(limit))
	}
	if args.pagination.Offset > 0 && !args.span.Active() {
		builder = builder.Offset(uint64(args.pagination.Offset))
	}
	return builder, nil
}
