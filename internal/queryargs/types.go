// Package queryargs validates client-supplied filters, sorts and pagination
// against a loaded entity and casts their values to the attribute types.
package queryargs

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"cmsquery/internal/cursor"
	"cmsquery/internal/entity"
	"cmsquery/internal/schema"
)

// Args holds request variables for `$name` substitution.
type Args map[string]string

// MatchType combines the constraints of one filter.
type MatchType string

const (
	MatchAll MatchType = "matchAll"
	MatchAny MatchType = "matchAny"
)

// Operator is a per-constraint match operator.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "notEquals"
	OpStartsWith  Operator = "startsWith"
	OpEndsWith    Operator = "endsWith"
	OpContains    Operator = "contains"
	OpNotContains Operator = "notContains"
	OpIn          Operator = "in"
	OpNotIn       Operator = "notIn"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpBetween     Operator = "between"
	OpDateIs      Operator = "dateIs"
	OpDateIsNot   Operator = "dateIsNot"
	OpDateBefore  Operator = "dateBefore"
	OpDateAfter   Operator = "dateAfter"
	OpIsNull      Operator = "isNull"
	OpIsNotNull   Operator = "isNotNull"
)

type arity int

const (
	arityNone arity = iota
	arityOne
	arityTwo
	arityMany
)

type operatorInfo struct {
	arity    arity
	textOnly bool
	dateOnly bool
}

var operators = map[Operator]operatorInfo{
	OpEquals:      {arity: arityOne},
	OpNotEquals:   {arity: arityOne},
	OpStartsWith:  {arity: arityOne, textOnly: true},
	OpEndsWith:    {arity: arityOne, textOnly: true},
	OpContains:    {arity: arityOne, textOnly: true},
	OpNotContains: {arity: arityOne, textOnly: true},
	OpIn:          {arity: arityMany},
	OpNotIn:       {arity: arityMany},
	OpLt:          {arity: arityOne},
	OpLte:         {arity: arityOne},
	OpGt:          {arity: arityOne},
	OpGte:         {arity: arityOne},
	OpBetween:     {arity: arityTwo},
	OpDateIs:      {arity: arityOne, dateOnly: true},
	OpDateIsNot:   {arity: arityOne, dateOnly: true},
	OpDateBefore:  {arity: arityOne, dateOnly: true},
	OpDateAfter:   {arity: arityOne, dateOnly: true},
	OpIsNull:      {arity: arityNone},
	OpIsNotNull:   {arity: arityNone},
}

// Constraint is one raw match clause of a filter.
type Constraint struct {
	Match  string   `json:"match" mapstructure:"match"`
	Values []string `json:"values" mapstructure:"values"`
}

// Filter is a raw filter as sent by clients.
type Filter struct {
	Field       string       `json:"field" mapstructure:"field"`
	MatchType   string       `json:"matchType" mapstructure:"matchType"`
	Constraints []Constraint `json:"constraints" mapstructure:"constraints"`
}

// Sort is a raw sort as sent by clients.
type Sort struct {
	Field     string `json:"field" mapstructure:"field"`
	Direction string `json:"direction" mapstructure:"direction"`
}

// ParseSortShorthand parses "-publishedAt,title" into sorts, a leading
// minus meaning descending.
func ParseSortShorthand(raw string) []Sort {
	var sorts []Sort
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.HasPrefix(part, "-") {
			sorts = append(sorts, Sort{Field: part[1:], Direction: string(Desc)})
			continue
		}
		sorts = append(sorts, Sort{Field: strings.TrimPrefix(part, "+"), Direction: string(Asc)})
	}
	return sorts
}

// Pagination is raw offset paging. Values are strings so they may carry
// `$var` references.
type Pagination struct {
	Offset string `json:"offset" mapstructure:"offset"`
	Limit  string `json:"limit" mapstructure:"limit"`
}

// UnmarshalJSON accepts numbers as well as strings.
func (p *Pagination) UnmarshalJSON(data []byte) error {
	var raw struct {
		Offset json.RawMessage `json:"offset"`
		Limit  json.RawMessage `json:"limit"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	offset, err := numberOrString(raw.Offset)
	if err != nil {
		return fmt.Errorf("offset: %w", err)
	}
	limit, err := numberOrString(raw.Limit)
	if err != nil {
		return fmt.Errorf("limit: %w", err)
	}
	p.Offset, p.Limit = offset, limit
	return nil
}

func numberOrString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// IsEmpty reports whether neither offset nor limit was supplied.
func (p Pagination) IsEmpty() bool {
	return p.Offset == "" && p.Limit == ""
}

// Order is a validated sort direction.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// ValidConstraint is a constraint with cast values.
type ValidConstraint struct {
	Match  Operator
	Values []entity.ValidValue
}

// ValidFilter is a filter bound to a resolved attribute vector.
type ValidFilter struct {
	Vector      *schema.AttributeVector
	MatchType   MatchType
	Constraints []ValidConstraint
}

// HasVariables reports whether substitution is still pending.
func (f ValidFilter) HasVariables() bool {
	for _, c := range f.Constraints {
		for _, v := range c.Values {
			if v.IsVariable() {
				return true
			}
		}
	}
	return false
}

// ValidSort is a sort bound to a resolved attribute vector.
type ValidSort struct {
	Vector *schema.AttributeVector
	Order  Order
}

// ValidPagination is resolved offset paging.
type ValidPagination struct {
	Offset int
	Limit  int
}

// ValidSpan is a decoded cursor span ready for the keyset predicate.
type ValidSpan struct {
	Span cursor.Span
	// Values are the boundary row's sort-key values, one per sort.
	Values []entity.ValidValue
	// ParentID is the owning parent for nested relation pages.
	ParentID string
}

// Active reports whether the span carries a cursor.
func (s ValidSpan) Active() bool {
	return !s.Span.IsEmpty()
}

// Backward reports whether the span pages backward.
func (s ValidSpan) Backward() bool {
	return s.Active() && !s.Span.IsForward()
}

// SortKey is the signature of an ordering, embedded in cursors so a token
// cannot be replayed against a different sort.
func SortKey(sorts []ValidSort) string {
	parts := make([]string, 0, len(sorts))
	for _, s := range sorts {
		parts = append(parts, s.Vector.FullPath+":"+string(s.Order))
	}
	return strings.Join(parts, ",")
}

func parseInt(raw string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	return n, true
}
