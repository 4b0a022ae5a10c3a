package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/graphql-go/graphql/language/ast"

	"cmsquery/internal/entity"
	"cmsquery/internal/queryargs"
)

// Loader loads entities and resolves field paths.
type Loader interface {
	queryargs.VectorResolver
	LoadEntity(ctx context.Context, name string, status entity.PublicationStatus) (*entity.LoadedEntity, error)
}

// Binder binds parsed selections to loaded entities.
type Binder struct {
	loader Loader
	status entity.PublicationStatus
}

// NewBinder returns a binder resolving entities at the given schema status.
func NewBinder(loader Loader, status entity.PublicationStatus) *Binder {
	return &Binder{loader: loader, status: status}
}

// Bind binds top-level selection fields to e. An empty selection selects
// every attribute, with relations reduced to key and label.
func (b *Binder) Bind(ctx context.Context, e *entity.LoadedEntity, fields []*ast.Field) ([]*Node, error) {
	if len(fields) == 0 {
		return b.defaults(ctx, e, "", e.Attributes)
	}
	return b.bind(ctx, e, "", fields)
}

// BindSelection parses and binds a selection in one step.
func (b *Binder) BindSelection(ctx context.Context, e *entity.LoadedEntity, text string) ([]*Node, error) {
	fields, err := ParseSelection(text)
	if err != nil {
		return nil, err
	}
	return b.Bind(ctx, e, fields)
}

// BindQuery parses a named query source and binds it to the entity its
// root field names.
func (b *Binder) BindQuery(ctx context.Context, source, entityName string) (*Query, error) {
	root, err := ParseRoot(source)
	if err != nil {
		return nil, err
	}
	e, err := b.rootEntity(ctx, root.Name.Value, entityName)
	if err != nil {
		return nil, err
	}
	args, err := DecodeArgs(root)
	if err != nil {
		return nil, &queryargs.ValidationError{Entity: e.Name, Message: err.Error()}
	}
	filters, err := queryargs.ValidateFilters(ctx, b.loader, e, args.Filters, b.status)
	if err != nil {
		return nil, err
	}
	sorts, err := queryargs.ValidateSorts(ctx, b.loader, e, args.Sorts, b.status)
	if err != nil {
		return nil, err
	}
	children, err := fields(root.SelectionSet)
	if err != nil {
		return nil, err
	}
	nodes, err := b.Bind(ctx, e, children)
	if err != nil {
		return nil, err
	}
	return &Query{
		Entity:     e,
		Nodes:      nodes,
		Filters:    filters,
		Sorts:      sorts,
		Pagination: args.Pagination,
		Span:       args.Span,
	}, nil
}

// rootEntity resolves the entity of a root field. An explicit entity name
// wins; otherwise the field name and its singular forms are tried.
func (b *Binder) rootEntity(ctx context.Context, field, explicit string) (*entity.LoadedEntity, error) {
	if explicit != "" {
		return b.loader.LoadEntity(ctx, explicit, b.status)
	}
	for _, name := range EntityCandidates(field) {
		e, err := b.loader.LoadEntity(ctx, name, b.status)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, entity.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: no entity for root field %q", entity.ErrNotFound, field)
}

func (b *Binder) bind(ctx context.Context, e *entity.LoadedEntity, prefix string, selection []*ast.Field) ([]*Node, error) {
	nodes := make([]*Node, 0, len(selection)+1)
	seen := make(map[string]bool, len(selection))
	for _, f := range selection {
		name := f.Name.Value
		if seen[name] {
			continue
		}
		seen[name] = true

		if IsExtensionField(name) {
			nodes = append(nodes, &Node{Field: name, Prefix: prefix})
			continue
		}
		attr, ok := e.Attribute(name)
		if !ok {
			return nil, &queryargs.ValidationError{Entity: e.Name, Field: name, Message: "unknown field"}
		}
		node := &Node{Field: name, Prefix: prefix, Attribute: attr, IsNormalAttribute: true}
		if !attr.IsCompound() {
			if len(f.Arguments) > 0 {
				return nil, &queryargs.ValidationError{Entity: e.Name, Field: name, Message: "arguments are only allowed on relations"}
			}
			if f.SelectionSet != nil {
				return nil, &queryargs.ValidationError{Entity: e.Name, Field: name, Message: "scalar field cannot have a selection"}
			}
			nodes = append(nodes, node)
			continue
		}

		if err := b.bindRelation(ctx, e, node, f); err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return ensureKey(e, prefix, nodes), nil
}

func (b *Binder) bindRelation(ctx context.Context, owner *entity.LoadedEntity, node *Node, f *ast.Field) error {
	link := node.Attribute.Link
	if link == nil {
		return fmt.Errorf("%s.%s: relation is not linked", owner.Name, node.Field)
	}
	target, err := b.loader.LoadEntity(ctx, link.TargetEntity().Name, b.status)
	if err != nil {
		return err
	}
	node.Target = target

	args, err := DecodeArgs(f)
	if err != nil {
		return &queryargs.ValidationError{Entity: owner.Name, Field: node.Field, Message: err.Error()}
	}
	if !args.IsEmpty() && !link.IsCollective() {
		return &queryargs.ValidationError{Entity: owner.Name, Field: node.Field, Message: "arguments are only allowed on list relations"}
	}
	if node.Filters, err = queryargs.ValidateFilters(ctx, b.loader, target, args.Filters, b.status); err != nil {
		return err
	}
	if node.Sorts, err = queryargs.ValidateSorts(ctx, b.loader, target, args.Sorts, b.status); err != nil {
		return err
	}
	node.Pagination = args.Pagination
	node.Span = args.Span

	childPrefix := node.Path()
	children, err := fields(f.SelectionSet)
	if err != nil {
		return err
	}
	if len(children) == 0 {
		node.Children = keyAndLabel(target, childPrefix)
		return nil
	}
	node.Children, err = b.bind(ctx, target, childPrefix, children)
	return err
}

// defaults selects every attribute. Relations get key and label only so
// that cyclic graphs terminate.
func (b *Binder) defaults(ctx context.Context, e *entity.LoadedEntity, prefix string, attrs []*entity.LoadedAttribute) ([]*Node, error) {
	nodes := make([]*Node, 0, len(attrs))
	for _, attr := range attrs {
		node := &Node{Field: attr.Field, Prefix: prefix, Attribute: attr, IsNormalAttribute: true}
		if attr.IsCompound() {
			if attr.Link == nil {
				return nil, fmt.Errorf("%s.%s: relation is not linked", e.Name, attr.Field)
			}
			target, err := b.loader.LoadEntity(ctx, attr.Link.TargetEntity().Name, b.status)
			if err != nil {
				return nil, err
			}
			node.Target = target
			if node.Sorts, err = queryargs.ValidateSorts(ctx, b.loader, target, nil, b.status); err != nil {
				return nil, err
			}
			node.Children = keyAndLabel(target, node.Path())
		}
		nodes = append(nodes, node)
	}
	return ensureKey(e, prefix, nodes), nil
}

func keyAndLabel(e *entity.LoadedEntity, prefix string) []*Node {
	nodes := []*Node{{Field: e.PrimaryKey.Field, Prefix: prefix, Attribute: e.PrimaryKey, IsNormalAttribute: true}}
	if label := e.LabelAttribute; label != nil && label != e.PrimaryKey && label.HasColumn() {
		nodes = append(nodes, &Node{Field: label.Field, Prefix: prefix, Attribute: label, IsNormalAttribute: true})
	}
	return nodes
}

// ensureKey adds the primary key when the selection omitted it; relation
// stitching keys rows by it.
func ensureKey(e *entity.LoadedEntity, prefix string, nodes []*Node) []*Node {
	if _, ok := Find(nodes, e.PrimaryKey.Field); ok {
		return nodes
	}
	key := &Node{Field: e.PrimaryKey.Field, Prefix: prefix, Attribute: e.PrimaryKey, IsNormalAttribute: true}
	return append([]*Node{key}, nodes...)
}
