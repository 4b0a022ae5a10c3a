package queryargs

import (
	"fmt"

	"cmsquery/internal/cursor"
	"cmsquery/internal/entity"
)

// ToValid resolves requested paging against the schema-declared fallback.
// Requested values win; the limit is clamped to (0, defaultPageSize] and an
// invalid limit becomes defaultPageSize; the offset is dropped in cursor mode.
func ToValid(requested, fallback Pagination, defaultPageSize int, hasCursor bool, args Args) (ValidPagination, error) {
	offsetRaw := requested.Offset
	if offsetRaw == "" {
		offsetRaw = fallback.Offset
	}
	limitRaw := requested.Limit
	if limitRaw == "" {
		limitRaw = fallback.Limit
	}

	var err error
	if offsetRaw, err = resolveVariable(offsetRaw, args); err != nil {
		return ValidPagination{}, err
	}
	if limitRaw, err = resolveVariable(limitRaw, args); err != nil {
		return ValidPagination{}, err
	}

	valid := ValidPagination{Limit: defaultPageSize}
	if n, ok := parseInt(limitRaw); ok && n > 0 && n <= defaultPageSize {
		valid.Limit = n
	}
	if !hasCursor {
		if n, ok := parseInt(offsetRaw); ok && n > 0 {
			valid.Offset = n
		}
	}
	return valid, nil
}

func resolveVariable(raw string, args Args) (string, error) {
	name, ok := VariableName(raw)
	if !ok {
		return raw, nil
	}
	value, ok := args[name]
	if !ok {
		return "", &ValidationError{Field: raw, Message: "variable not provided", Err: ErrMissingVariable}
	}
	return value, nil
}

// ValidateSpan decodes the active cursor of a span and casts its values
// back to the sort attributes' types.
func ValidateSpan(span cursor.Span, e *entity.LoadedEntity, sorts []ValidSort) (ValidSpan, error) {
	if span.IsEmpty() {
		return ValidSpan{}, nil
	}
	tok, err := cursor.Decode(span.Active())
	if err != nil {
		return ValidSpan{}, invalid(e.Name, "", err, "%v", err)
	}
	if err := tok.Validate(e.Name, SortKey(sorts), len(sorts)); err != nil {
		return ValidSpan{}, invalid(e.Name, "", err, "%v", err)
	}

	values := make([]entity.ValidValue, 0, len(sorts))
	for i, raw := range tok.Values {
		v, err := entity.Cast(sorts[i].Vector.Attribute, raw)
		if err != nil {
			return ValidSpan{}, invalid(e.Name, sorts[i].Vector.FullPath, fmt.Errorf("%w: %w", cursor.ErrInvalidCursor, err), "cursor value does not match field type")
		}
		values = append(values, v)
	}
	return ValidSpan{Span: span, Values: values, ParentID: tok.ParentID}, nil
}
