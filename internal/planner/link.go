package planner

import (
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"cmsquery/internal/entity"
	"cmsquery/internal/queryargs"
)

// ErrNoParentValues indicates a relation query was planned without parents.
var ErrNoParentValues = errors.New("no parent values")

// LinkInput describes a child query for one relation. Rows come back with
// the parent join value under BatchParentAlias.
type LinkInput struct {
	Link entity.LinkDesc
	// Fields are local attributes of the target entity.
	Fields       []*entity.LoadedAttribute
	ParentValues []any

	Filters       []queryargs.ValidFilter
	Sorts         []queryargs.ValidSort
	Pagination    queryargs.ValidPagination
	Span          queryargs.ValidSpan
	PublishedOnly bool
	PlusOne       bool
}

// PlanLink builds the child query for a relation, covering every parent
// value in one IN list. Per-parent pages pass a single parent value along
// with pagination or a span.
//
//	Lookup:     target.pk IN (parent lookup values)
//	Collection: target.link IN (parent keys)
//	Junction:   target JOIN junction ON junction.target_id = target.pk,
//	            junction.source_id IN (parent keys)
func (p *Planner) PlanLink(in LinkInput) (SQLQuery, error) {
	if in.Link == nil {
		return SQLQuery{}, ErrUnlinkedRelation
	}
	if len(in.ParentValues) == 0 {
		return SQLQuery{}, ErrNoParentValues
	}
	target := in.Link.TargetEntity()
	if target == nil || target.PrimaryKey == nil {
		return SQLQuery{}, fmt.Errorf("relation target needs a primary key")
	}

	s := newScope(p.dialect, target, in.PublishedOnly)
	var parentColumn string
	if j, ok := in.Link.(*entity.Junction); ok {
		s.joins = append(s.joins, joinClause{
			inner: true,
			clause: fmt.Sprintf("%s ON %s = %s AND %s = ?",
				p.dialect.Quote(j.TableName),
				s.col(j.TableName, j.TargetID.Field), s.col(s.rootAlias, target.PrimaryKey.Field),
				s.col(j.TableName, entity.ColumnDeleted)),
			args: []any{false},
		})
		parentColumn = s.col(j.TableName, j.SourceID.Field)
	} else {
		parentColumn = s.col(s.rootAlias, in.Link.TargetAttribute().Field)
	}

	builder, err := s.levelQuery(levelArgs{
		fields:     in.Fields,
		filters:    in.Filters,
		sorts:      in.Sorts,
		pagination: in.Pagination,
		span:       in.Span,
		plusOne:    in.PlusOne,
		parent:     sq.Eq{parentColumn: in.ParentValues},
		extra:      []string{parentColumn + " AS " + p.dialect.Quote(BatchParentAlias)},
	})
	if err != nil {
		return SQLQuery{}, err
	}
	return p.finish(builder.From(p.dialect.Quote(target.TableName)))
}
