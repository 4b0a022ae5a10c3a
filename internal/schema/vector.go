package schema

import (
	"context"
	"fmt"
	"strings"

	"cmsquery/internal/entity"
)

// AttributeVector is a dotted field path resolved across relations.
type AttributeVector struct {
	// FullPath is the path as requested, e.g. "tags.name".
	FullPath string
	// Prefix is the path without its last segment, e.g. "tags". Empty for
	// attributes of the root entity.
	Prefix string
	// Path holds the relation attributes crossed, in order.
	Path []*entity.LoadedAttribute
	// Attribute is the terminal attribute.
	Attribute *entity.LoadedAttribute
}

// CrossesRelation reports whether the vector needs at least one join.
func (v *AttributeVector) CrossesRelation() bool {
	return len(v.Path) > 0
}

// IsCollective reports whether any hop can multiply rows.
func (v *AttributeVector) IsCollective() bool {
	for _, attr := range v.Path {
		if attr.Link != nil && attr.Link.IsCollective() {
			return true
		}
	}
	return false
}

// HopPrefix returns the path of the first n+1 hops, e.g. hop 0 of
// "author.company.name" is "author".
func (v *AttributeVector) HopPrefix(n int) string {
	segments := strings.Split(v.FullPath, ".")
	return strings.Join(segments[:n+1], ".")
}

// LocalVector wraps an attribute of the root entity.
func LocalVector(attr *entity.LoadedAttribute) *AttributeVector {
	return &AttributeVector{FullPath: attr.Field, Attribute: attr}
}

// ResolveVector walks path from e. Every non-terminal segment must be a
// relation; each hop advances to the relation target inside e's resolved
// graph. Targets are linked one hop deep, so a relation reached on an
// unlinked target loads that target through the resolver first.
func (r *Resolver) ResolveVector(ctx context.Context, e *entity.LoadedEntity, path string, status entity.PublicationStatus) (*AttributeVector, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty field path on %s", ErrUnknownField, e.Name)
	}
	segments := strings.Split(path, ".")
	vector := &AttributeVector{FullPath: path}
	current := e

	for i, segment := range segments {
		attr, ok := current.Attribute(segment)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no attribute %q (in %q)", ErrUnknownField, current.Name, segment, path)
		}
		if attr.IsCompound() && attr.Link == nil {
			linked, err := r.linkedAttribute(ctx, current.Name, segment, status)
			if err != nil {
				return nil, err
			}
			attr = linked
		}
		if i == len(segments)-1 {
			vector.Attribute = attr
			break
		}
		if !attr.IsCompound() || attr.Link == nil {
			return nil, fmt.Errorf("%w: %s.%s (in %q)", ErrNotRelation, current.Name, segment, path)
		}
		vector.Path = append(vector.Path, attr)
		current = attr.Link.TargetEntity()
	}

	if len(segments) > 1 {
		vector.Prefix = strings.Join(segments[:len(segments)-1], ".")
	}
	return vector, nil
}

// linkedAttribute returns field of the resolved entity name.
func (r *Resolver) linkedAttribute(ctx context.Context, name, field string, status entity.PublicationStatus) (*entity.LoadedAttribute, error) {
	loaded, err := r.LoadEntity(ctx, name, status)
	if err != nil {
		return nil, err
	}
	attr, ok := loaded.Attribute(field)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no attribute %q", ErrUnknownField, name, field)
	}
	return attr, nil
}
