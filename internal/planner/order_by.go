package planner

import (
	sq "github.com/Masterminds/squirrel"

	"cmsquery/internal/entity"
	"cmsquery/internal/queryargs"
	"cmsquery/internal/sqlutil"
)

// ordering holds the compiled sort columns of one query level.
type ordering struct {
	columns []string
	orders  []queryargs.Order
}

func (s *scope) ordering(sorts []queryargs.ValidSort) (ordering, error) {
	o := ordering{columns: make([]string, 0, len(sorts)), orders: make([]queryargs.Order, 0, len(sorts))}
	for _, sort := range sorts {
		column, err := s.column(sort.Vector)
		if err != nil {
			return ordering{}, err
		}
		o.columns = append(o.columns, column)
		o.orders = append(o.orders, sort.Order)
	}
	return o, nil
}

// selectList returns the sort columns aliased for cursor encoding.
func (o ordering) selectList(s *scope) []string {
	out := make([]string, len(o.columns))
	for i, column := range o.columns {
		out[i] = column + " AS " + s.dialect.Quote(SortAlias(i))
	}
	return out
}

// clauses renders ORDER BY terms by sort alias. Backward pages read the
// ordering reversed.
func (o ordering) clauses(s *scope, backward bool) []string {
	out := make([]string, len(o.columns))
	for i := range o.columns {
		out[i] = s.dialect.Quote(SortAlias(i)) + " " + direction(o.orders[i], backward)
	}
	return out
}

func direction(order queryargs.Order, backward bool) string {
	desc := order == queryargs.Desc
	if backward {
		desc = !desc
	}
	if desc {
		return "DESC"
	}
	return "ASC"
}

// seekOperator is ">" for ascending+forward and ascending reversed for
// backward, with descending inverting both.
func seekOperator(order queryargs.Order, backward bool) string {
	if direction(order, backward) == "DESC" {
		return "<"
	}
	return ">"
}

// BuildSeekCondition creates the keyset predicate for a cursor. The row
// comparison is expanded so that mixed sort directions are supported:
//
//	(a > ?) OR (a = ? AND b > ?) OR (a = ? AND b = ? AND c > ?)
//
// Cursor values are rendered through the dialect so the equality terms match
// the boundary row.
func BuildSeekCondition(dialect sqlutil.Dialect, columns []string, orders []queryargs.Order, values []entity.ValidValue, backward bool) sq.Sqlizer {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = dialect.Arg(v.Any())
	}
	terms := make(sq.Or, 0, len(columns))
	for i := range columns {
		term := make(sq.And, 0, i+1)
		for j := 0; j < i; j++ {
			term = append(term, sq.Eq{columns[j]: args[j]})
		}
		term = append(term, sq.Expr(columns[i]+" "+seekOperator(orders[i], backward)+" ?", args[i]))
		terms = append(terms, term)
	}
	return terms
}
