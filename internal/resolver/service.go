// Package resolver executes entity queries: it validates requests, compiles
// them through the planner, runs them, stitches relations onto the rows and
// formats the resulting records.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"cmsquery/internal/cursor"
	"cmsquery/internal/dbexec"
	"cmsquery/internal/entity"
	"cmsquery/internal/graph"
	"cmsquery/internal/logging"
	"cmsquery/internal/observability"
	"cmsquery/internal/planner"
	"cmsquery/internal/queryargs"
	"cmsquery/internal/schema"
)

// FilterHook returns extra filters for an entity, typically row-level
// permissions. They are appended to the request's filters before compilation.
type FilterHook func(ctx context.Context, e *entity.LoadedEntity, filters []queryargs.ValidFilter) ([]queryargs.ValidFilter, error)

// DataStatus selects which rows are visible.
type DataStatus string

const (
	// DataPublished shows only rows whose publication status is published.
	DataPublished DataStatus = "published"
	// DataPreview shows rows of any publication status.
	DataPreview DataStatus = "preview"
)

// Options configures a Service.
type Options struct {
	DefaultPageSize     int
	MaxPageSize         int
	BatchMaxInClause    int
	RelationConcurrency int
	FilterHook          FilterHook
	Metrics             *observability.QueryMetrics
}

// Service answers entity queries.
type Service struct {
	schemas *schema.Resolver
	planner *planner.Planner
	exec    *dbexec.Executor
	opts    Options

	// queries caches compiled named queries per schema status.
	queries *schema.Cache[*graph.Query]
}

// NewService wires a query service. Compiled named queries are dropped
// whenever the schema resolver invalidates an entity or query.
func NewService(schemas *schema.Resolver, p *planner.Planner, exec *dbexec.Executor, opts Options) *Service {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 20
	}
	var observer schema.CacheObserver
	if opts.Metrics != nil {
		observer = opts.Metrics
	}
	s := &Service{
		schemas: schemas,
		planner: p,
		exec:    exec,
		opts:    opts,
		queries: schema.NewCache[*graph.Query]("query", observer),
	}
	schemas.OnInvalidate(func(name string) {
		s.queries.InvalidateAll()
	})
	return s
}

// Request is a list, single or count request against one entity.
type Request struct {
	Entity string `json:"-"`
	// Selection is GraphQL selection text, e.g. `title author { name }`.
	// Empty selects every attribute.
	Selection    string                   `json:"selection"`
	Filters      []queryargs.Filter       `json:"filters"`
	Sorts        []queryargs.Sort         `json:"sorts"`
	Pagination   queryargs.Pagination     `json:"pagination"`
	Span         cursor.Span              `json:"span"`
	Variables    queryargs.Args           `json:"variables"`
	SchemaStatus entity.PublicationStatus `json:"schemaStatus"`
	DataStatus   DataStatus               `json:"dataStatus"`
}

// PartialRequest loads another page of one list relation for one parent.
// The parent is taken from the cursor. Cursors bind the entity and ordering
// only, so callers resend the nested list's filters and sorts unchanged.
type PartialRequest struct {
	Entity       string                   `json:"-"`
	Attribute    string                   `json:"attribute"`
	Selection    string                   `json:"selection"`
	Filters      []queryargs.Filter       `json:"filters"`
	Sorts        []queryargs.Sort         `json:"sorts"`
	Limit        string                   `json:"limit"`
	Span         cursor.Span              `json:"span"`
	Variables    queryargs.Args           `json:"variables"`
	SchemaStatus entity.PublicationStatus `json:"schemaStatus"`
	DataStatus   DataStatus               `json:"dataStatus"`
}

// NamedRequest runs a saved query. Pagination and span override the
// query's own defaults.
type NamedRequest struct {
	Name         string                   `json:"-"`
	Pagination   queryargs.Pagination     `json:"pagination"`
	Span         cursor.Span              `json:"span"`
	Variables    queryargs.Args           `json:"variables"`
	SchemaStatus entity.PublicationStatus `json:"schemaStatus"`
	DataStatus   DataStatus               `json:"dataStatus"`
}

// listPlan is a bound root list ready to run.
type listPlan struct {
	entity     *entity.LoadedEntity
	nodes      []*graph.Node
	filters    []queryargs.ValidFilter
	sorts      []queryargs.ValidSort
	pagination queryargs.Pagination
	fallback   queryargs.Pagination
	span       cursor.Span
	vars       queryargs.Args
	published  bool
}

// List returns one page of records.
func (s *Service) List(ctx context.Context, req Request) (records []map[string]any, err error) {
	start := time.Now()
	ctx, span := startResolverSpan(ctx, "resolver.list", attribute.String("cmsquery.entity", req.Entity))
	defer func() {
		finishResolverSpan(span, err)
		s.record(ctx, "list", req.Entity, start, len(records), err)
	}()

	status, published, err := statuses(req.SchemaStatus, req.DataStatus)
	if err != nil {
		return nil, err
	}
	e, err := s.schemas.LoadEntity(ctx, req.Entity, status)
	if err != nil {
		return nil, err
	}
	binder := graph.NewBinder(s.schemas, status)
	nodes, err := binder.BindSelection(ctx, e, req.Selection)
	if err != nil {
		return nil, err
	}
	filters, err := queryargs.ValidateFilters(ctx, s.schemas, e, req.Filters, status)
	if err != nil {
		return nil, err
	}
	sorts, err := queryargs.ValidateSorts(ctx, s.schemas, e, req.Sorts, status)
	if err != nil {
		return nil, err
	}
	return s.runList(ctx, listPlan{
		entity:     e,
		nodes:      nodes,
		filters:    filters,
		sorts:      sorts,
		pagination: req.Pagination,
		span:       req.Span,
		vars:       req.Variables,
		published:  published,
	})
}

// Single returns the first matching record, or nil when nothing matches.
func (s *Service) Single(ctx context.Context, req Request) (record map[string]any, err error) {
	start := time.Now()
	ctx, span := startResolverSpan(ctx, "resolver.single", attribute.String("cmsquery.entity", req.Entity))
	defer func() {
		count := 0
		if record != nil {
			count = 1
		}
		finishResolverSpan(span, err)
		s.record(ctx, "single", req.Entity, start, count, err)
	}()

	status, published, err := statuses(req.SchemaStatus, req.DataStatus)
	if err != nil {
		return nil, err
	}
	e, err := s.schemas.LoadEntity(ctx, req.Entity, status)
	if err != nil {
		return nil, err
	}
	nodes, err := graph.NewBinder(s.schemas, status).BindSelection(ctx, e, req.Selection)
	if err != nil {
		return nil, err
	}
	filters, err := queryargs.ValidateFilters(ctx, s.schemas, e, req.Filters, status)
	if err != nil {
		return nil, err
	}
	if filters, err = s.rootFilters(ctx, e, filters, req.Variables); err != nil {
		return nil, err
	}
	sorts, err := queryargs.ValidateSorts(ctx, s.schemas, e, req.Sorts, status)
	if err != nil {
		return nil, err
	}

	query, err := s.planner.PlanList(planner.ListInput{
		Entity:        e,
		Fields:        graph.Columns(nodes),
		Filters:       filters,
		Sorts:         sorts,
		Pagination:    queryargs.ValidPagination{Limit: 1},
		PublishedOnly: published,
	})
	if err != nil {
		return nil, err
	}
	row, err := s.exec.RunSingle(ctx, query)
	if err != nil || row == nil {
		return nil, err
	}
	rows := []map[string]any{row}
	if err := s.stitcher(req.Variables, published).LoadItems(ctx, nodes, rows); err != nil {
		return nil, err
	}
	formatRecords(nodes, e, rows)
	return row, nil
}

// Count returns the number of records matching the request's filters.
func (s *Service) Count(ctx context.Context, req Request) (count int64, err error) {
	start := time.Now()
	ctx, span := startResolverSpan(ctx, "resolver.count", attribute.String("cmsquery.entity", req.Entity))
	defer func() {
		finishResolverSpan(span, err)
		s.record(ctx, "count", req.Entity, start, -1, err)
	}()

	status, published, err := statuses(req.SchemaStatus, req.DataStatus)
	if err != nil {
		return 0, err
	}
	e, err := s.schemas.LoadEntity(ctx, req.Entity, status)
	if err != nil {
		return 0, err
	}
	filters, err := queryargs.ValidateFilters(ctx, s.schemas, e, req.Filters, status)
	if err != nil {
		return 0, err
	}
	if filters, err = s.rootFilters(ctx, e, filters, req.Variables); err != nil {
		return 0, err
	}
	query, err := s.planner.PlanCount(planner.ListInput{
		Entity:        e,
		Filters:       filters,
		PublishedOnly: published,
	})
	if err != nil {
		return 0, err
	}
	return s.exec.RunCount(ctx, query)
}

// Partial loads the next or previous page of a list relation for the parent
// recorded in the span's cursor.
func (s *Service) Partial(ctx context.Context, req PartialRequest) (records []map[string]any, err error) {
	start := time.Now()
	ctx, span := startResolverSpan(ctx, "resolver.partial",
		attribute.String("cmsquery.entity", req.Entity),
		attribute.String("cmsquery.attribute", req.Attribute),
	)
	defer func() {
		finishResolverSpan(span, err)
		s.record(ctx, "partial", req.Entity, start, len(records), err)
	}()

	status, published, err := statuses(req.SchemaStatus, req.DataStatus)
	if err != nil {
		return nil, err
	}
	e, err := s.schemas.LoadEntity(ctx, req.Entity, status)
	if err != nil {
		return nil, err
	}
	attr, ok := e.Attribute(req.Attribute)
	if !ok || !attr.DataType.IsCollective() || attr.Link == nil {
		return nil, &queryargs.ValidationError{Entity: e.Name, Field: req.Attribute, Message: "not a list relation"}
	}
	if req.Span.IsEmpty() {
		return nil, &queryargs.ValidationError{Entity: e.Name, Field: req.Attribute, Message: "a cursor is required", Err: cursor.ErrInvalidCursor}
	}
	target, err := s.schemas.LoadEntity(ctx, attr.Link.TargetEntity().Name, status)
	if err != nil {
		return nil, err
	}

	binder := graph.NewBinder(s.schemas, status)
	children, err := binder.BindSelection(ctx, target, req.Selection)
	if err != nil {
		return nil, err
	}
	nested, err := queryargs.ValidateFilters(ctx, s.schemas, target, req.Filters, status)
	if err != nil {
		return nil, err
	}
	sorts, err := queryargs.ValidateSorts(ctx, s.schemas, target, req.Sorts, status)
	if err != nil {
		return nil, err
	}
	validSpan, err := queryargs.ValidateSpan(req.Span, target, sorts)
	if err != nil {
		return nil, err
	}
	if validSpan.ParentID == "" {
		return nil, &queryargs.ValidationError{Entity: target.Name, Message: "cursor does not belong to a relation", Err: cursor.ErrInvalidCursor}
	}
	parent, err := entity.Cast(attr.Link.SourceAttribute(), validSpan.ParentID)
	if err != nil {
		return nil, &queryargs.ValidationError{Entity: e.Name, Field: req.Attribute, Message: "cursor parent does not match key type", Err: cursor.ErrInvalidCursor}
	}

	node := &graph.Node{
		Field:             attr.Field,
		Attribute:         attr,
		Target:            target,
		Filters:           nested,
		Sorts:             sorts,
		Children:          children,
		IsNormalAttribute: true,
	}
	st := s.stitcher(req.Variables, published)
	filters, err := st.filters(ctx, target, node.Filters)
	if err != nil {
		return nil, err
	}
	rows, err := st.loadPage(ctx, attr.Link, node, filters, parent.Any(), queryargs.Pagination{Limit: req.Limit}, validSpan)
	if err != nil {
		return nil, err
	}
	if err := st.LoadItems(ctx, children, rows); err != nil {
		return nil, err
	}
	formatRecords(children, target, rows)
	return rows, nil
}

// Named runs a saved query. Its compiled form is cached until the schema
// changes; variables it declares must be supplied.
func (s *Service) Named(ctx context.Context, req NamedRequest) (records []map[string]any, err error) {
	start := time.Now()
	ctx, span := startResolverSpan(ctx, "resolver.named", attribute.String("cmsquery.query", req.Name))
	defer func() {
		finishResolverSpan(span, err)
		s.record(ctx, "named", req.Name, start, len(records), err)
	}()

	status, published, err := statuses(req.SchemaStatus, req.DataStatus)
	if err != nil {
		return nil, err
	}
	def, err := s.schemas.LoadQuery(ctx, req.Name, status)
	if err != nil {
		return nil, err
	}
	for _, name := range def.Variables {
		if _, ok := req.Variables[name]; !ok {
			return nil, &queryargs.ValidationError{
				Entity:  def.Name,
				Field:   "$" + name,
				Message: "required variable not provided",
				Err:     queryargs.ErrMissingVariable,
			}
		}
	}

	compiled, err := s.queries.GetOrPopulate(string(status)+"/"+def.Name, func() (*graph.Query, error) {
		return graph.NewBinder(s.schemas, status).BindQuery(ctx, def.Source, def.EntityName)
	})
	if err != nil {
		return nil, fmt.Errorf("compile query %s: %w", def.Name, err)
	}

	spanReq := req.Span
	if spanReq.IsEmpty() {
		spanReq = compiled.Span
	}
	return s.runList(ctx, listPlan{
		entity:     compiled.Entity,
		nodes:      compiled.Nodes,
		filters:    compiled.Filters,
		sorts:      compiled.Sorts,
		pagination: req.Pagination,
		fallback:   compiled.Pagination,
		span:       spanReq,
		vars:       req.Variables,
		published:  published,
	})
}

func (s *Service) runList(ctx context.Context, plan listPlan) ([]map[string]any, error) {
	e := plan.entity
	filters, err := s.rootFilters(ctx, e, plan.filters, plan.vars)
	if err != nil {
		return nil, err
	}
	span, err := queryargs.ValidateSpan(plan.span, e, plan.sorts)
	if err != nil {
		return nil, err
	}
	pagination, err := queryargs.ToValid(plan.pagination, plan.fallback, s.pageSize(e), span.Active(), plan.vars)
	if err != nil {
		return nil, err
	}

	query, err := s.planner.PlanList(planner.ListInput{
		Entity:        e,
		Fields:        graph.Columns(plan.nodes),
		Filters:       filters,
		Sorts:         plan.sorts,
		Pagination:    pagination,
		Span:          span,
		PublishedOnly: plan.published,
		PlusOne:       true,
	})
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Debug("running list query",
		slog.String("entity", e.Name),
		slog.Int("args", len(query.Args)),
	)
	rows, err := s.exec.RunMany(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, more := cursor.TrimPage(rows, pagination.Limit, span.Backward())
	markPage(rows, page{
		entity: e.Name,
		sorts:  plan.sorts,
		span:   span.Span,
		offset: pagination.Offset,
		more:   more,
	})
	if err := s.stitcher(plan.vars, plan.published).LoadItems(ctx, plan.nodes, rows); err != nil {
		return nil, err
	}
	formatRecords(plan.nodes, e, rows)
	if rows == nil {
		rows = []map[string]any{}
	}
	return rows, nil
}

// rootFilters appends hook filters and substitutes variables.
func (s *Service) rootFilters(ctx context.Context, e *entity.LoadedEntity, filters []queryargs.ValidFilter, vars queryargs.Args) ([]queryargs.ValidFilter, error) {
	return s.stitcher(vars, false).filters(ctx, e, filters)
}

func (s *Service) stitcher(vars queryargs.Args, published bool) *Stitcher {
	return &Stitcher{
		planner:          s.planner,
		exec:             s.exec,
		hook:             s.opts.FilterHook,
		metrics:          s.opts.Metrics,
		vars:             vars,
		publishedOnly:    published,
		pageSize:         s.pageSize,
		batchMaxInClause: s.opts.BatchMaxInClause,
		concurrency:      s.opts.RelationConcurrency,
	}
}

// pageSize is the entity's default page size, capped by MaxPageSize.
func (s *Service) pageSize(e *entity.LoadedEntity) int {
	size := e.PageSize(s.opts.DefaultPageSize)
	if s.opts.MaxPageSize > 0 && size > s.opts.MaxPageSize {
		size = s.opts.MaxPageSize
	}
	return size
}

func (s *Service) record(ctx context.Context, operation, name string, start time.Time, count int, err error) {
	logger := logging.FromContext(ctx)
	if err != nil && !IsBadRequest(err) && !errors.Is(err, context.Canceled) {
		logger.Error("query failed",
			slog.String("operation", operation),
			slog.String("target", name),
			slog.String("error", err.Error()),
		)
	}
	if s.opts.Metrics == nil {
		return
	}
	s.opts.Metrics.RecordRequest(ctx, time.Since(start), err != nil, operation, name)
	if err == nil && count >= 0 {
		s.opts.Metrics.RecordResultsCount(ctx, int64(count), operation)
	}
}

// statuses resolves the schema status to load definitions with and whether
// rows are restricted to published ones.
func statuses(schemaStatus entity.PublicationStatus, dataStatus DataStatus) (entity.PublicationStatus, bool, error) {
	switch schemaStatus {
	case "":
		schemaStatus = entity.StatusPublished
	case entity.StatusPublished, entity.StatusDraft:
	default:
		return "", false, &queryargs.ValidationError{Field: "schemaStatus", Message: fmt.Sprintf("unsupported value %q", schemaStatus)}
	}
	switch dataStatus {
	case "", DataPublished:
		return schemaStatus, true, nil
	case DataPreview:
		return schemaStatus, false, nil
	default:
		return "", false, &queryargs.ValidationError{Field: "dataStatus", Message: fmt.Sprintf("unsupported value %q", dataStatus)}
	}
}
