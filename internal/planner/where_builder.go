package planner

import (
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"cmsquery/internal/entity"
	"cmsquery/internal/queryargs"
	"cmsquery/internal/sqlutil"
)

// likeEscape is the escape character for LIKE patterns. It is accepted by
// MySQL, PostgreSQL and SQLite alike.
const likeEscape = "!"

// filterCondition compiles one filter. matchAll constraints are ANDed and
// matchAny constraints are ORed.
func (s *scope) filterCondition(f queryargs.ValidFilter) (sq.Sqlizer, error) {
	column, err := s.column(f.Vector)
	if err != nil {
		return nil, err
	}
	parts := make([]sq.Sqlizer, 0, len(f.Constraints))
	for _, c := range f.Constraints {
		cond, err := constraintCondition(s.dialect, column, c)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", f.Vector.FullPath, err)
		}
		parts = append(parts, cond)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	if f.MatchType == queryargs.MatchAny {
		return sq.Or(parts), nil
	}
	return sq.And(parts), nil
}

func constraintCondition(dialect sqlutil.Dialect, column string, c queryargs.ValidConstraint) (sq.Sqlizer, error) {
	values := make([]any, len(c.Values))
	for i, v := range c.Values {
		if v.IsVariable() {
			return nil, fmt.Errorf("%w: $%s", ErrUnresolvedVariable, v.VariableName())
		}
		values[i] = dialect.Arg(v.Any())
	}
	first := func() any {
		if len(values) == 0 {
			return nil
		}
		return values[0]
	}

	switch c.Match {
	case queryargs.OpEquals:
		return sq.Eq{column: first()}, nil
	case queryargs.OpNotEquals:
		return sq.NotEq{column: first()}, nil
	case queryargs.OpStartsWith:
		return like(column, false, escapeLike(fmt.Sprint(first()))+"%"), nil
	case queryargs.OpEndsWith:
		return like(column, false, "%"+escapeLike(fmt.Sprint(first()))), nil
	case queryargs.OpContains:
		return like(column, false, "%"+escapeLike(fmt.Sprint(first()))+"%"), nil
	case queryargs.OpNotContains:
		return like(column, true, "%"+escapeLike(fmt.Sprint(first()))+"%"), nil
	case queryargs.OpIn:
		return sq.Eq{column: values}, nil
	case queryargs.OpNotIn:
		return sq.NotEq{column: values}, nil
	case queryargs.OpLt, queryargs.OpDateBefore:
		return sq.Lt{column: first()}, nil
	case queryargs.OpLte:
		return sq.LtOrEq{column: first()}, nil
	case queryargs.OpGt, queryargs.OpDateAfter:
		return sq.Gt{column: first()}, nil
	case queryargs.OpGte:
		return sq.GtOrEq{column: first()}, nil
	case queryargs.OpBetween:
		if len(values) != 2 {
			return nil, fmt.Errorf("between needs two values, got %d", len(values))
		}
		return sq.And{sq.GtOrEq{column: values[0]}, sq.LtOrEq{column: values[1]}}, nil
	case queryargs.OpDateIs, queryargs.OpDateIsNot:
		start, end, err := dayRange(c.Values[0])
		if err != nil {
			return nil, err
		}
		lo, hi := dialect.Arg(start), dialect.Arg(end)
		if c.Match == queryargs.OpDateIs {
			return sq.And{sq.GtOrEq{column: lo}, sq.Lt{column: hi}}, nil
		}
		return sq.Or{sq.Lt{column: lo}, sq.GtOrEq{column: hi}}, nil
	case queryargs.OpIsNull:
		return sq.Eq{column: nil}, nil
	case queryargs.OpIsNotNull:
		return sq.NotEq{column: nil}, nil
	default:
		return nil, fmt.Errorf("unsupported match operator %q", c.Match)
	}
}

func like(column string, negate bool, pattern string) sq.Sqlizer {
	op := "LIKE"
	if negate {
		op = "NOT LIKE"
	}
	return sq.Expr(fmt.Sprintf("%s %s ? ESCAPE '%s'", column, op, likeEscape), pattern)
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")
	return replacer.Replace(value)
}

// dayRange returns the half-open range covering the calendar day of v.
func dayRange(v entity.ValidValue) (time.Time, time.Time, error) {
	at, ok := v.Any().(time.Time)
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("date comparison needs a datetime value, got %s", v.Kind())
	}
	start := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	return start, start.AddDate(0, 0, 1), nil
}
