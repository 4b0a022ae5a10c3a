package queryargs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmsquery/internal/cursor"
	"cmsquery/internal/entity"
	"cmsquery/internal/schema"
	"cmsquery/internal/testutil"
)

func loadPost(t *testing.T) (*schema.Resolver, *entity.LoadedEntity) {
	t.Helper()
	r := schema.NewResolver(schema.NewMemoryProvider(testutil.BlogEntities()...), nil)
	post, err := r.LoadEntity(context.Background(), "post", entity.StatusPublished)
	require.NoError(t, err)
	return r, post
}

func TestValidateFilters(t *testing.T) {
	r, post := loadPost(t)
	ctx := context.Background()

	t.Run("casts values and defaults match type", func(t *testing.T) {
		filters, err := ValidateFilters(ctx, r, post, []Filter{
			{Field: "id", Constraints: []Constraint{{Match: "in", Values: []string{"1", "2"}}}},
			{Field: "published_at", MatchType: "matchAny", Constraints: []Constraint{
				{Match: "dateAfter", Values: []string{"2024-01-01T00:00:00Z"}},
				{Match: "isNull"},
			}},
		}, entity.StatusPublished)
		require.NoError(t, err)
		require.Len(t, filters, 2)
		assert.Equal(t, MatchAll, filters[0].MatchType)
		assert.Equal(t, []any{int64(1), int64(2)}, []any{filters[0].Constraints[0].Values[0].Any(), filters[0].Constraints[0].Values[1].Any()})
		assert.Equal(t, MatchAny, filters[1].MatchType)
		assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), filters[1].Constraints[0].Values[0].Any())
	})

	t.Run("through a junction", func(t *testing.T) {
		filters, err := ValidateFilters(ctx, r, post, []Filter{
			{Field: "tags.name", Constraints: []Constraint{{Match: "startsWith", Values: []string{"go"}}}},
		}, entity.StatusPublished)
		require.NoError(t, err)
		assert.Equal(t, "tags", filters[0].Vector.Prefix)
		assert.True(t, filters[0].Vector.IsCollective())
	})

	t.Run("lookup filters use the target key type", func(t *testing.T) {
		filters, err := ValidateFilters(ctx, r, post, []Filter{
			{Field: "author", Constraints: []Constraint{{Match: "equals", Values: []string{"7"}}}},
		}, entity.StatusPublished)
		require.NoError(t, err)
		assert.Equal(t, int64(7), filters[0].Constraints[0].Values[0].Any())
	})

	t.Run("variables are deferred", func(t *testing.T) {
		filters, err := ValidateFilters(ctx, r, post, []Filter{
			{Field: "title", Constraints: []Constraint{{Match: "equals", Values: []string{"$title"}}}},
		}, entity.StatusPublished)
		require.NoError(t, err)
		assert.True(t, filters[0].HasVariables())
		assert.Equal(t, "title", filters[0].Constraints[0].Values[0].VariableName())
	})

	failures := []struct {
		name   string
		filter Filter
	}{
		{"unknown field", Filter{Field: "subtitle", Constraints: []Constraint{{Match: "equals", Values: []string{"x"}}}}},
		{"unknown nested field", Filter{Field: "tags.nonexistent", Constraints: []Constraint{{Match: "equals", Values: []string{"x"}}}}},
		{"collective terminal", Filter{Field: "tags", Constraints: []Constraint{{Match: "equals", Values: []string{"1"}}}}},
		{"unknown operator", Filter{Field: "title", Constraints: []Constraint{{Match: "regex", Values: []string{"x"}}}}},
		{"unknown match type", Filter{Field: "title", MatchType: "matchSome", Constraints: []Constraint{{Match: "equals", Values: []string{"x"}}}}},
		{"text operator on int", Filter{Field: "id", Constraints: []Constraint{{Match: "contains", Values: []string{"1"}}}}},
		{"date operator on string", Filter{Field: "title", Constraints: []Constraint{{Match: "dateIs", Values: []string{"2024-01-01"}}}}},
		{"between arity", Filter{Field: "id", Constraints: []Constraint{{Match: "between", Values: []string{"1"}}}}},
		{"isNull with values", Filter{Field: "title", Constraints: []Constraint{{Match: "isNull", Values: []string{"x"}}}}},
		{"no constraints", Filter{Field: "title"}},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateFilters(ctx, r, post, []Filter{tt.filter}, entity.StatusPublished)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, "post", verr.Entity)
		})
	}

	t.Run("uncastable value", func(t *testing.T) {
		_, err := ValidateFilters(ctx, r, post, []Filter{
			{Field: "id", Constraints: []Constraint{{Match: "equals", Values: []string{"abc"}}}},
		}, entity.StatusPublished)
		var cerr *entity.CastError
		assert.True(t, errors.As(err, &cerr))
	})
}

func TestValidateSorts(t *testing.T) {
	r, post := loadPost(t)
	ctx := context.Background()

	sorts, err := ValidateSorts(ctx, r, post, []Sort{
		{Field: "published_at", Direction: "DESC"},
		{Field: "author.name"},
	}, entity.StatusPublished)
	require.NoError(t, err)
	require.Len(t, sorts, 3)
	assert.Equal(t, Desc, sorts[0].Order)
	assert.Equal(t, Asc, sorts[1].Order)
	assert.Equal(t, "author", sorts[1].Vector.Prefix)
	assert.Equal(t, "id", sorts[2].Vector.FullPath, "primary key tie-breaker")
	assert.Equal(t, "published_at:desc,author.name:asc,id:asc", SortKey(sorts))

	t.Run("explicit primary key is not duplicated", func(t *testing.T) {
		sorts, err := ValidateSorts(ctx, r, post, []Sort{{Field: "id", Direction: "desc"}}, entity.StatusPublished)
		require.NoError(t, err)
		require.Len(t, sorts, 1)
		assert.Equal(t, Desc, sorts[0].Order)
	})

	t.Run("empty sort still orders by key", func(t *testing.T) {
		sorts, err := ValidateSorts(ctx, r, post, nil, entity.StatusPublished)
		require.NoError(t, err)
		require.Len(t, sorts, 1)
		assert.Equal(t, "id:asc", SortKey(sorts))
	})

	for _, bad := range []Sort{
		{Field: "tags.name"},
		{Field: "comments"},
		{Field: "title", Direction: "sideways"},
	} {
		t.Run("rejects "+bad.Field+" "+bad.Direction, func(t *testing.T) {
			_, err := ValidateSorts(ctx, r, post, []Sort{bad}, entity.StatusPublished)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr), "got %v", err)
		})
	}
}

func TestParseSortShorthand(t *testing.T) {
	assert.Equal(t, []Sort{
		{Field: "published_at", Direction: "desc"},
		{Field: "title", Direction: "asc"},
	}, ParseSortShorthand("-published_at, title,"))
}

func TestToValid(t *testing.T) {
	tests := []struct {
		name      string
		requested Pagination
		fallback  Pagination
		hasCursor bool
		args      Args
		want      ValidPagination
	}{
		{"defaults", Pagination{}, Pagination{}, false, nil, ValidPagination{Offset: 0, Limit: 20}},
		{"requested wins", Pagination{Offset: "4", Limit: "5"}, Pagination{Offset: "1", Limit: "2"}, false, nil, ValidPagination{Offset: 4, Limit: 5}},
		{"fallback used", Pagination{}, Pagination{Offset: "1", Limit: "2"}, false, nil, ValidPagination{Offset: 1, Limit: 2}},
		{"limit above page size", Pagination{Limit: "500"}, Pagination{}, false, nil, ValidPagination{Limit: 20}},
		{"limit at page size", Pagination{Limit: "20"}, Pagination{}, false, nil, ValidPagination{Limit: 20}},
		{"zero limit", Pagination{Limit: "0"}, Pagination{}, false, nil, ValidPagination{Limit: 20}},
		{"garbage limit", Pagination{Limit: "ten"}, Pagination{}, false, nil, ValidPagination{Limit: 20}},
		{"negative offset", Pagination{Offset: "-3"}, Pagination{}, false, nil, ValidPagination{Limit: 20}},
		{"cursor drops offset", Pagination{Offset: "10", Limit: "3"}, Pagination{}, true, nil, ValidPagination{Limit: 3}},
		{"variables", Pagination{Offset: "$o", Limit: "$l"}, Pagination{}, false, Args{"o": "2", "l": "7"}, ValidPagination{Offset: 2, Limit: 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToValid(tt.requested, tt.fallback, 20, tt.hasCursor, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ToValid(Pagination{Limit: "$l"}, Pagination{}, 20, false, nil)
	assert.ErrorIs(t, err, ErrMissingVariable)
}

func TestPagination_UnmarshalJSON(t *testing.T) {
	var p Pagination
	require.NoError(t, json.Unmarshal([]byte(`{"offset":0,"limit":"$limit"}`), &p))
	assert.Equal(t, Pagination{Offset: "0", Limit: "$limit"}, p)

	require.NoError(t, json.Unmarshal([]byte(`{"limit":25}`), &p))
	assert.Equal(t, Pagination{Limit: "25"}, p)

	assert.Error(t, json.Unmarshal([]byte(`{"limit":true}`), &p))
}

func TestSubstituteFilters(t *testing.T) {
	r, post := loadPost(t)
	filters, err := ValidateFilters(context.Background(), r, post, []Filter{
		{Field: "id", Constraints: []Constraint{{Match: "between", Values: []string{"$from", "10"}}}},
		{Field: "title", Constraints: []Constraint{{Match: "equals", Values: []string{"Hello"}}}},
	}, entity.StatusPublished)
	require.NoError(t, err)

	out, err := SubstituteFilters(filters, Args{"from": "3"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), out[0].Constraints[0].Values[0].Any())
	assert.Equal(t, int64(10), out[0].Constraints[0].Values[1].Any())
	assert.Equal(t, filters[1], out[1])
	assert.True(t, filters[0].HasVariables(), "the input is not mutated")

	_, err = SubstituteFilters(filters, Args{})
	assert.ErrorIs(t, err, ErrMissingVariable)

	_, err = SubstituteFilters(filters, Args{"from": "three"})
	var cerr *entity.CastError
	assert.True(t, errors.As(err, &cerr))
}

func TestValidateSpan(t *testing.T) {
	r, post := loadPost(t)
	ctx := context.Background()
	sorts, err := ValidateSorts(ctx, r, post, []Sort{{Field: "published_at"}}, entity.StatusPublished)
	require.NoError(t, err)
	key := SortKey(sorts)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("empty span", func(t *testing.T) {
		span, err := ValidateSpan(cursor.Span{}, post, sorts)
		require.NoError(t, err)
		assert.False(t, span.Active())
	})

	t.Run("backward span", func(t *testing.T) {
		tok := cursor.Encode("post", key, []any{at, int64(5)}, int64(9))
		span, err := ValidateSpan(cursor.Span{First: tok}, post, sorts)
		require.NoError(t, err)
		assert.True(t, span.Backward())
		assert.Equal(t, at, span.Values[0].Any())
		assert.Equal(t, int64(5), span.Values[1].Any())
		assert.Equal(t, "9", span.ParentID)
	})

	t.Run("mismatched sort", func(t *testing.T) {
		tok := cursor.Encode("post", "id:asc", []any{int64(5)}, nil)
		_, err := ValidateSpan(cursor.Span{Last: tok}, post, sorts)
		assert.ErrorIs(t, err, cursor.ErrInvalidCursor)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ValidateSpan(cursor.Span{Last: "%%%"}, post, sorts)
		assert.ErrorIs(t, err, cursor.ErrInvalidCursor)
		var verr *ValidationError
		assert.True(t, errors.As(err, &verr))
	})

	t.Run("uncastable value", func(t *testing.T) {
		tok := cursor.Encode("post", key, []any{"yesterday", int64(5)}, nil)
		_, err := ValidateSpan(cursor.Span{Last: tok}, post, sorts)
		assert.ErrorIs(t, err, cursor.ErrInvalidCursor)
	})
}
