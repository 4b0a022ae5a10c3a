package schema

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"cmsquery/internal/entity"
	"cmsquery/internal/logging"
)

// Resolver loads definitions and links their relations. Resolved entities
// are cached per (status, name) until invalidated.
type Resolver struct {
	provider Provider
	entities *Cache[*entity.LoadedEntity]
	all      *Cache[[]*entity.Entity]

	mu        sync.Mutex
	listeners []func(name string)
}

// NewResolver creates a resolver over provider. observer may be nil.
func NewResolver(provider Provider, observer CacheObserver) *Resolver {
	return &Resolver{
		provider: provider,
		entities: NewCache[*entity.LoadedEntity]("entity", observer),
		all:      NewCache[[]*entity.Entity]("entity_list", observer),
	}
}

// Provider returns the underlying definition source.
func (r *Resolver) Provider() Provider {
	return r.provider
}

func cacheKey(name string, status entity.PublicationStatus) string {
	return string(status) + "/" + name
}

// LoadEntity returns the resolved entity for name. Each compound attribute is
// linked one hop deep: its target carries attributes but no links of its own,
// except that junction targets also have their lookups linked.
func (r *Resolver) LoadEntity(ctx context.Context, name string, status entity.PublicationStatus) (*entity.LoadedEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.entities.GetOrPopulate(cacheKey(name, status), func() (*entity.LoadedEntity, error) {
		return r.resolve(ctx, name, status)
	})
}

// AllEntities returns every definition visible at status.
func (r *Resolver) AllEntities(ctx context.Context, status entity.PublicationStatus) ([]*entity.Entity, error) {
	return r.all.GetOrPopulate(string(status), func() ([]*entity.Entity, error) {
		defs, err := r.provider.ListEntityDefinitions(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("list entities: %w", err)
		}
		return defs, nil
	})
}

// LoadQuery fetches a saved query definition.
func (r *Resolver) LoadQuery(ctx context.Context, name string, status entity.PublicationStatus) (*QueryDef, error) {
	def, err := r.provider.GetQueryDefinition(ctx, name, status)
	if err != nil {
		return nil, fmt.Errorf("load query %s: %w", name, err)
	}
	return def, nil
}

// OnInvalidate registers fn to run after every invalidation. An empty name
// means everything was invalidated.
func (r *Resolver) OnInvalidate(fn func(name string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Invalidate drops the cached entity and every cached entity whose graph
// holds it.
func (r *Resolver) Invalidate(ctx context.Context, name string) {
	removed := r.entities.InvalidateFunc(func(_ string, e *entity.LoadedEntity) bool {
		return e.Name == name || referencesEntity(e, name)
	})
	r.all.InvalidateAll()
	logging.FromContext(ctx).Info("schema cache invalidated",
		slog.String("entity", name),
		slog.Int("evicted", removed),
	)
	r.notify(name)
}

// InvalidateAll empties every cache.
func (r *Resolver) InvalidateAll(ctx context.Context) {
	r.entities.InvalidateAll()
	r.all.InvalidateAll()
	logging.FromContext(ctx).Info("schema cache cleared")
	r.notify("")
}

func (r *Resolver) notify(name string) {
	r.mu.Lock()
	listeners := append([]func(string){}, r.listeners...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(name)
	}
}

// referencesEntity reports whether name appears in e's resolved graph: as a
// relation target or as a lookup target of a junction target.
func referencesEntity(e *entity.LoadedEntity, name string) bool {
	for _, attr := range e.Attributes {
		if attr.Link == nil {
			continue
		}
		target := attr.Link.TargetEntity()
		if target.Name == name {
			return true
		}
		if _, ok := attr.Link.(*entity.Junction); !ok {
			continue
		}
		for _, targetAttr := range target.Attributes {
			if targetAttr.Link != nil && targetAttr.Link.TargetEntity().Name == name {
				return true
			}
		}
	}
	return false
}

// resolution is the state of one LoadEntity call. seen maps entity names to
// the objects built during this call so back-references reuse them.
type resolution struct {
	ctx      context.Context
	provider Provider
	status   entity.PublicationStatus
	seen     map[string]*entity.LoadedEntity
}

func (r *Resolver) resolve(ctx context.Context, name string, status entity.PublicationStatus) (*entity.LoadedEntity, error) {
	res := &resolution{
		ctx:      ctx,
		provider: r.provider,
		status:   status,
		seen:     make(map[string]*entity.LoadedEntity),
	}
	root, err := res.shallow(name)
	if err != nil {
		return nil, err
	}
	for _, attr := range root.Attributes {
		if err := res.link(root, attr); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// shallow loads and verifies a definition without linking its relations.
func (res *resolution) shallow(name string) (*entity.LoadedEntity, error) {
	if e, ok := res.seen[name]; ok {
		return e, nil
	}
	if err := res.ctx.Err(); err != nil {
		return nil, err
	}
	def, err := res.provider.GetEntityDefinition(res.ctx, name, res.status)
	if err != nil {
		return nil, fmt.Errorf("load entity %s: %w", name, err)
	}
	if err := entity.Verify(def); err != nil {
		return nil, err
	}
	loaded := entity.NewLoadedEntity(def)
	res.seen[name] = loaded
	return loaded, nil
}

func (res *resolution) target(owner *entity.LoadedEntity, attr *entity.LoadedAttribute, name string) (*entity.LoadedEntity, error) {
	target, err := res.shallow(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s targets %q: %w", ErrInvalidRelation, owner.Name, attr.Field, name, err)
	}
	return target, nil
}

func (res *resolution) link(owner *entity.LoadedEntity, attr *entity.LoadedAttribute) error {
	if !attr.IsCompound() || attr.Link != nil {
		return nil
	}
	switch attr.DataType {
	case entity.DataTypeLookup:
		target, err := res.target(owner, attr, attr.Options)
		if err != nil {
			return err
		}
		attr.Link = &entity.Lookup{Attribute: attr, Target: target}

	case entity.DataTypeJunction:
		target, err := res.target(owner, attr, attr.Options)
		if err != nil {
			return err
		}
		// Link the target's lookups so filters can reach through the junction.
		for _, targetAttr := range target.Attributes {
			if targetAttr.DataType != entity.DataTypeLookup {
				continue
			}
			if err := res.link(target, targetAttr); err != nil {
				return err
			}
		}
		attr.Link = entity.NewJunction(owner, target)

	case entity.DataTypeCollection:
		targetName, field, err := entity.ParseCollectionOptions(attr.Options)
		if err != nil {
			return fmt.Errorf("%w: %s.%s: %w", ErrInvalidRelation, owner.Name, attr.Field, err)
		}
		target, err := res.target(owner, attr, targetName)
		if err != nil {
			return err
		}
		linkAttr := collectionLink(owner, target, field)
		if linkAttr == nil {
			return fmt.Errorf("%w: %s.%s: %s has no link attribute back to %s",
				ErrInvalidRelation, owner.Name, attr.Field, target.Name, owner.Name)
		}
		if linkAttr.DataType == entity.DataTypeLookup && linkAttr.Link == nil {
			linkAttr.Link = &entity.Lookup{Attribute: linkAttr, Target: owner}
		}
		attr.Link = &entity.Collection{Source: owner, Target: target, Link: linkAttr}
	}
	return nil
}

// collectionLink finds the target column pointing back at owner: the named
// field when given, otherwise the first lookup whose target is owner.
func collectionLink(owner, target *entity.LoadedEntity, field string) *entity.LoadedAttribute {
	if field != "" {
		attr, ok := target.Attribute(field)
		if !ok || !attr.HasColumn() {
			return nil
		}
		return attr
	}
	for _, attr := range target.Attributes {
		if attr.DataType == entity.DataTypeLookup && attr.Options == owner.Name {
			return attr
		}
	}
	return nil
}
