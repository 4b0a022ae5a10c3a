package queryargs

import (
	"context"
	"errors"
	"strings"

	"cmsquery/internal/entity"
	"cmsquery/internal/schema"
)

// VectorResolver resolves dotted field paths against an entity.
type VectorResolver interface {
	ResolveVector(ctx context.Context, e *entity.LoadedEntity, path string, status entity.PublicationStatus) (*schema.AttributeVector, error)
}

// ValidateFilters binds raw filters to attribute vectors and casts their
// values. `$name` values are kept as variables for SubstituteFilters.
func ValidateFilters(ctx context.Context, vr VectorResolver, e *entity.LoadedEntity, filters []Filter, status entity.PublicationStatus) ([]ValidFilter, error) {
	if len(filters) == 0 {
		return nil, nil
	}
	out := make([]ValidFilter, 0, len(filters))
	for _, f := range filters {
		vector, err := resolveVector(ctx, vr, e, f.Field, status)
		if err != nil {
			return nil, err
		}
		attr := vector.Attribute
		if !attr.HasColumn() {
			return nil, invalid(e.Name, f.Field, nil, "cannot filter on %s relation", attr.DataType)
		}

		matchType := MatchType(f.MatchType)
		switch matchType {
		case "":
			matchType = MatchAll
		case MatchAll, MatchAny:
		default:
			return nil, invalid(e.Name, f.Field, nil, "unknown match type %q", f.MatchType)
		}
		if len(f.Constraints) == 0 {
			return nil, invalid(e.Name, f.Field, nil, "filter has no constraints")
		}

		valid := ValidFilter{Vector: vector, MatchType: matchType, Constraints: make([]ValidConstraint, 0, len(f.Constraints))}
		for _, c := range f.Constraints {
			vc, err := validateConstraint(e.Name, f.Field, attr, c)
			if err != nil {
				return nil, err
			}
			valid.Constraints = append(valid.Constraints, vc)
		}
		out = append(out, valid)
	}
	return out, nil
}

func validateConstraint(entityName, field string, attr *entity.LoadedAttribute, c Constraint) (ValidConstraint, error) {
	op := Operator(c.Match)
	info, ok := operators[op]
	if !ok {
		return ValidConstraint{}, invalid(entityName, field, nil, "unknown match operator %q", c.Match)
	}
	valueType := attr.ValueType()
	if info.textOnly && valueType != entity.DataTypeString && valueType != entity.DataTypeText {
		return ValidConstraint{}, invalid(entityName, field, nil, "%s requires a text attribute, got %s", op, valueType)
	}
	if info.dateOnly && valueType != entity.DataTypeDatetime {
		return ValidConstraint{}, invalid(entityName, field, nil, "%s requires a datetime attribute, got %s", op, valueType)
	}

	n := len(c.Values)
	switch info.arity {
	case arityNone:
		if n != 0 {
			return ValidConstraint{}, invalid(entityName, field, nil, "%s takes no values", op)
		}
	case arityOne:
		if n != 1 {
			return ValidConstraint{}, invalid(entityName, field, nil, "%s takes exactly one value, got %d", op, n)
		}
	case arityTwo:
		if n != 2 {
			return ValidConstraint{}, invalid(entityName, field, nil, "%s takes exactly two values, got %d", op, n)
		}
	case arityMany:
		if n == 0 {
			return ValidConstraint{}, invalid(entityName, field, nil, "%s needs at least one value", op)
		}
	}

	vc := ValidConstraint{Match: op, Values: make([]entity.ValidValue, 0, n)}
	for _, raw := range c.Values {
		if name, ok := VariableName(raw); ok {
			vc.Values = append(vc.Values, entity.VariableValue(name))
			continue
		}
		v, err := entity.Cast(attr, raw)
		if err != nil {
			return ValidConstraint{}, err
		}
		vc.Values = append(vc.Values, v)
	}
	return vc, nil
}

// ValidateSorts binds raw sorts to attribute vectors. The primary key is
// appended as a tie-breaker so keyset paging sees a total order.
func ValidateSorts(ctx context.Context, vr VectorResolver, e *entity.LoadedEntity, sorts []Sort, status entity.PublicationStatus) ([]ValidSort, error) {
	out := make([]ValidSort, 0, len(sorts)+1)
	seen := make(map[string]bool, len(sorts))
	for _, s := range sorts {
		vector, err := resolveVector(ctx, vr, e, s.Field, status)
		if err != nil {
			return nil, err
		}
		if !vector.Attribute.HasColumn() {
			return nil, invalid(e.Name, s.Field, nil, "cannot sort on %s relation", vector.Attribute.DataType)
		}
		if vector.IsCollective() {
			return nil, invalid(e.Name, s.Field, nil, "cannot sort through a collective relation")
		}

		var order Order
		switch strings.ToLower(strings.TrimSpace(s.Direction)) {
		case "", "asc", "ascending":
			order = Asc
		case "desc", "descending":
			order = Desc
		default:
			return nil, invalid(e.Name, s.Field, nil, "unknown sort direction %q", s.Direction)
		}

		if seen[vector.FullPath] {
			continue
		}
		seen[vector.FullPath] = true
		out = append(out, ValidSort{Vector: vector, Order: order})
	}

	pk := e.PrimaryKey
	if pk != nil && !seen[pk.Field] {
		out = append(out, ValidSort{Vector: schema.LocalVector(pk), Order: Asc})
	}
	return out, nil
}

func resolveVector(ctx context.Context, vr VectorResolver, e *entity.LoadedEntity, path string, status entity.PublicationStatus) (*schema.AttributeVector, error) {
	vector, err := vr.ResolveVector(ctx, e, path, status)
	if err == nil {
		return vector, nil
	}
	if errors.Is(err, schema.ErrUnknownField) || errors.Is(err, schema.ErrNotRelation) {
		return nil, invalid(e.Name, path, err, "unresolvable field path")
	}
	return nil, err
}

// VariableName reports whether raw is a `$name` reference.
func VariableName(raw string) (string, bool) {
	if len(raw) < 2 || raw[0] != '$' {
		return "", false
	}
	return raw[1:], true
}
