package schema

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cmsquery/internal/entity"
)

// MemoryProvider serves definitions held in memory. Definitions are treated
// as published and every status sees the same set.
type MemoryProvider struct {
	mu       sync.RWMutex
	entities map[string]*entity.Entity
	queries  map[string]*QueryDef
}

// NewMemoryProvider creates a provider seeded with the given entities.
func NewMemoryProvider(entities ...*entity.Entity) *MemoryProvider {
	p := &MemoryProvider{
		entities: make(map[string]*entity.Entity),
		queries:  make(map[string]*QueryDef),
	}
	for _, e := range entities {
		p.entities[e.Name] = e
	}
	return p
}

// PutEntity adds or replaces an entity definition.
func (p *MemoryProvider) PutEntity(e *entity.Entity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entities[e.Name] = e
}

// PutQuery adds or replaces a saved query.
func (p *MemoryProvider) PutQuery(q *QueryDef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries[q.Name] = q
}

// Replace swaps the full definition set atomically.
func (p *MemoryProvider) Replace(entities []*entity.Entity, queries []*QueryDef) {
	nextEntities := make(map[string]*entity.Entity, len(entities))
	for _, e := range entities {
		nextEntities[e.Name] = e
	}
	nextQueries := make(map[string]*QueryDef, len(queries))
	for _, q := range queries {
		nextQueries[q.Name] = q
	}
	p.mu.Lock()
	p.entities = nextEntities
	p.queries = nextQueries
	p.mu.Unlock()
}

func (p *MemoryProvider) GetEntityDefinition(ctx context.Context, name string, _ entity.PublicationStatus) (*entity.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entities[name]
	if !ok {
		return nil, fmt.Errorf("entity %q: %w", name, entity.ErrNotFound)
	}
	return e, nil
}

func (p *MemoryProvider) ListEntityDefinitions(ctx context.Context, _ entity.PublicationStatus) ([]*entity.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*entity.Entity, 0, len(p.entities))
	for _, e := range p.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (p *MemoryProvider) GetQueryDefinition(ctx context.Context, name string, _ entity.PublicationStatus) (*QueryDef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	q, ok := p.queries[name]
	if !ok {
		return nil, fmt.Errorf("query %q: %w", name, entity.ErrNotFound)
	}
	return q, nil
}
