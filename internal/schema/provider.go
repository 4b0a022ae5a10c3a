// Package schema loads entity definitions from a provider and resolves them
// into linked, cached entity graphs.
package schema

import (
	"context"
	"errors"

	"cmsquery/internal/entity"
)

var (
	// ErrInvalidRelation is returned when a relation's options do not name a usable target.
	ErrInvalidRelation = errors.New("invalid relation")
	// ErrUnknownField is returned when a field path names no attribute.
	ErrUnknownField = errors.New("unknown field")
	// ErrNotRelation is returned when a path crosses an attribute that is not a relation.
	ErrNotRelation = errors.New("attribute is not a relation")
)

// Provider supplies raw definitions. Published status returns the latest
// published version; draft returns the latest version of any status.
type Provider interface {
	GetEntityDefinition(ctx context.Context, name string, status entity.PublicationStatus) (*entity.Entity, error)
	ListEntityDefinitions(ctx context.Context, status entity.PublicationStatus) ([]*entity.Entity, error)
	GetQueryDefinition(ctx context.Context, name string, status entity.PublicationStatus) (*QueryDef, error)
}

// QueryDef is a saved query. Source is a GraphQL document with a single
// root field naming the entity; root field arguments become the default
// filters, sorts and pagination.
type QueryDef struct {
	Name       string   `json:"name" yaml:"name"`
	EntityName string   `json:"entityName" yaml:"entityName"`
	Source     string   `json:"source" yaml:"source"`
	Variables  []string `json:"variables" yaml:"variables"`
}
