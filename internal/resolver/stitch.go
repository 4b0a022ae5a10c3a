package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"cmsquery/internal/cursor"
	"cmsquery/internal/dbexec"
	"cmsquery/internal/entity"
	"cmsquery/internal/graph"
	"cmsquery/internal/logging"
	"cmsquery/internal/observability"
	"cmsquery/internal/planner"
	"cmsquery/internal/queryargs"
)

// Stitcher loads relation nodes for a set of parent rows and attaches the
// results in place. A stitcher is scoped to one request.
type Stitcher struct {
	planner *planner.Planner
	exec    *dbexec.Executor
	hook    FilterHook
	metrics *observability.QueryMetrics

	vars          queryargs.Args
	publishedOnly bool
	pageSize      func(e *entity.LoadedEntity) int

	batchMaxInClause int
	concurrency      int
}

// assignment attaches one node's loaded children to the parent rows. It runs
// after every sibling has finished loading.
type assignment func()

// LoadItems loads every compound node below nodes for rows, recursing into
// nested selections. Rows are mutated in place: a lookup field becomes a
// record or nil and a list relation becomes a slice of records.
func (s *Stitcher) LoadItems(ctx context.Context, nodes []*graph.Node, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	var compound []*graph.Node
	for _, node := range nodes {
		if node.IsCompound() {
			compound = append(compound, node)
		}
	}
	if len(compound) == 0 {
		return nil
	}

	assignments := make([]assignment, len(compound))
	g, gctx := errgroup.WithContext(ctx)
	if s.concurrency > 0 {
		g.SetLimit(s.concurrency)
	}
	for i, node := range compound {
		g.Go(func() error {
			assign, err := s.loadNode(gctx, node, rows)
			if err != nil {
				return fmt.Errorf("load %s: %w", node.Path(), err)
			}
			assignments[i] = assign
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, assign := range assignments {
		if assign != nil {
			assign()
		}
	}
	return nil
}

func (s *Stitcher) loadNode(ctx context.Context, node *graph.Node, rows []map[string]any) (assignment, error) {
	link := node.Attribute.Link
	if link == nil {
		return nil, planner.ErrUnlinkedRelation
	}
	sourceField := link.SourceAttribute().Field
	parents := uniqueParentValues(rows, sourceField)

	empty := func() {
		for _, row := range rows {
			row[node.Field] = emptyRelation(link)
		}
	}
	if len(parents) == 0 {
		return empty, nil
	}

	filters, err := s.filters(ctx, node.Target, node.Filters)
	if err != nil {
		return nil, err
	}

	var grouped map[string][]map[string]any
	if node.Paginated() {
		grouped, err = s.loadPages(ctx, node, filters, parents)
	} else {
		grouped, err = s.loadBatched(ctx, node, filters, parents)
	}
	if err != nil {
		return nil, err
	}

	children := make([]map[string]any, 0, len(grouped))
	for _, group := range grouped {
		children = append(children, group...)
	}
	if err := s.LoadItems(ctx, node.Children, children); err != nil {
		return nil, err
	}

	collective := link.IsCollective()
	return func() {
		for _, row := range rows {
			raw := row[sourceField]
			if raw == nil {
				row[node.Field] = emptyRelation(link)
				continue
			}
			group := grouped[parentKey(raw)]
			if !collective {
				if len(group) == 0 {
					row[node.Field] = nil
				} else {
					row[node.Field] = group[0]
				}
				continue
			}
			if group == nil {
				group = []map[string]any{}
			}
			row[node.Field] = group
		}
	}, nil
}

func emptyRelation(link entity.LinkDesc) any {
	if link.IsCollective() {
		return []map[string]any{}
	}
	return nil
}

func (s *Stitcher) filters(ctx context.Context, e *entity.LoadedEntity, filters []queryargs.ValidFilter) ([]queryargs.ValidFilter, error) {
	if s.hook != nil {
		extra, err := s.hook(ctx, e, filters)
		if err != nil {
			return nil, err
		}
		filters = append(append([]queryargs.ValidFilter(nil), filters...), extra...)
	}
	return queryargs.SubstituteFilters(filters, s.vars)
}

// loadBatched runs one query per chunk of parent values.
func (s *Stitcher) loadBatched(ctx context.Context, node *graph.Node, filters []queryargs.ValidFilter, parents []any) (map[string][]map[string]any, error) {
	link := node.Attribute.Link
	relation := relationType(link)
	ctx, span := startResolverSpan(ctx, "stitch.batch",
		attribute.String("cmsquery.relation.path", node.Path()),
		attribute.String("cmsquery.relation.type", relation),
		attribute.Int("cmsquery.batch.parent_count", len(parents)),
	)
	var err error
	defer func() { finishResolverSpan(span, err) }()

	chunks := chunkValues(parents, s.batchMaxInClause)
	logging.FromContext(ctx).Debug("loading relation batch",
		slog.String("relation", node.Path()),
		slog.Int("parents", len(parents)),
		slog.Int("chunks", len(chunks)),
	)

	grouped := make(map[string][]map[string]any)
	total := 0
	for _, chunk := range chunks {
		var query planner.SQLQuery
		query, err = s.planner.PlanLink(planner.LinkInput{
			Link:          link,
			Fields:        graph.Columns(node.Children),
			ParentValues:  chunk,
			Filters:       filters,
			Sorts:         node.Sorts,
			PublishedOnly: s.publishedOnly,
		})
		if err != nil {
			return nil, err
		}
		var rows []map[string]any
		rows, err = s.exec.RunMany(ctx, query)
		if err != nil {
			return nil, err
		}
		total += len(rows)
		mergeGrouped(grouped, groupByParent(rows))
	}

	if s.metrics != nil {
		s.metrics.RecordBatchParentCount(ctx, int64(len(parents)), relation)
		s.metrics.RecordBatchResultRows(ctx, int64(total), relation)
		s.metrics.RecordBatchQueriesSaved(ctx, batchQueriesSaved(len(parents), len(chunks)), relation)
	}
	return grouped, nil
}

// loadPages runs one plus-one query per parent so each parent gets its own
// page. A cursor on the node only applies to the parent it was issued for.
func (s *Stitcher) loadPages(ctx context.Context, node *graph.Node, filters []queryargs.ValidFilter, parents []any) (map[string][]map[string]any, error) {
	link := node.Attribute.Link
	target := node.Target
	if s.metrics != nil {
		s.metrics.RecordBatchSkipped(ctx, relationType(link), "paginated")
	}

	span, err := queryargs.ValidateSpan(node.Span, target, node.Sorts)
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]map[string]any, len(parents))
	for _, parent := range parents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := parentKey(parent)
		parentSpan := span
		if span.Active() && span.ParentID != "" && span.ParentID != key {
			parentSpan = queryargs.ValidSpan{}
		}
		page, err := s.loadPage(ctx, link, node, filters, parent, node.Pagination, parentSpan)
		if err != nil {
			return nil, err
		}
		grouped[key] = page
	}
	return grouped, nil
}

// loadPage loads one page of a list relation for a single parent and marks
// its boundary rows.
func (s *Stitcher) loadPage(ctx context.Context, link entity.LinkDesc, node *graph.Node, filters []queryargs.ValidFilter, parent any, requested queryargs.Pagination, span queryargs.ValidSpan) ([]map[string]any, error) {
	target := node.Target
	pagination, err := queryargs.ToValid(requested, queryargs.Pagination{}, s.pageSize(target), span.Active(), s.vars)
	if err != nil {
		return nil, err
	}
	query, err := s.planner.PlanLink(planner.LinkInput{
		Link:          link,
		Fields:        graph.Columns(node.Children),
		ParentValues:  []any{parent},
		Filters:       filters,
		Sorts:         node.Sorts,
		Pagination:    pagination,
		Span:          span,
		PublishedOnly: s.publishedOnly,
		PlusOne:       true,
	})
	if err != nil {
		return nil, err
	}
	rows, err := s.exec.RunMany(ctx, query)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		delete(row, planner.BatchParentAlias)
	}

	rows, more := cursor.TrimPage(rows, pagination.Limit, span.Backward())
	markPage(rows, page{
		entity:   target.Name,
		sorts:    node.Sorts,
		span:     span.Span,
		offset:   pagination.Offset,
		more:     more,
		parentID: parent,
	})
	return rows, nil
}
