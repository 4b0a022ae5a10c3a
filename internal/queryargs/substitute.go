package queryargs

import "cmsquery/internal/entity"

// SubstituteFilters replaces variable values with request arguments, casting
// each to its attribute type. Filters without variables are returned as-is.
func SubstituteFilters(filters []ValidFilter, args Args) ([]ValidFilter, error) {
	out := make([]ValidFilter, len(filters))
	for i, f := range filters {
		if !f.HasVariables() {
			out[i] = f
			continue
		}
		substituted := ValidFilter{Vector: f.Vector, MatchType: f.MatchType, Constraints: make([]ValidConstraint, len(f.Constraints))}
		for j, c := range f.Constraints {
			values := make([]entity.ValidValue, len(c.Values))
			for k, v := range c.Values {
				if !v.IsVariable() {
					values[k] = v
					continue
				}
				raw, ok := args[v.VariableName()]
				if !ok {
					return nil, &ValidationError{
						Field:   f.Vector.FullPath,
						Message: "variable $" + v.VariableName() + " not provided",
						Err:     ErrMissingVariable,
					}
				}
				cast, err := entity.Cast(f.Vector.Attribute, raw)
				if err != nil {
					return nil, err
				}
				values[k] = cast
			}
			substituted.Constraints[j] = ValidConstraint{Match: c.Match, Values: values}
		}
		out[i] = substituted
	}
	return out, nil
}
