package resolver

import (
	"errors"

	"cmsquery/internal/cursor"
	"cmsquery/internal/entity"
	"cmsquery/internal/graph"
	"cmsquery/internal/queryargs"
	"cmsquery/internal/schema"
)

// IsBadRequest reports whether err was caused by the request or the schema
// it names rather than by the database or the server.
func IsBadRequest(err error) bool {
	if err == nil {
		return false
	}
	var validationErr *queryargs.ValidationError
	var castErr *entity.CastError
	var verifyErr *entity.VerifyError
	switch {
	case errors.As(err, &validationErr), errors.As(err, &castErr), errors.As(err, &verifyErr):
		return true
	}
	for _, target := range []error{
		entity.ErrNotFound,
		schema.ErrInvalidRelation,
		schema.ErrUnknownField,
		schema.ErrNotRelation,
		cursor.ErrInvalidCursor,
		queryargs.ErrMissingVariable,
		graph.ErrSyntax,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err names a missing entity or query.
func IsNotFound(err error) bool {
	return errors.Is(err, entity.ErrNotFound)
}
