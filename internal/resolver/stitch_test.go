package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmsquery/internal/cursor"
	"cmsquery/internal/dbexec"
	"cmsquery/internal/entity"
	"cmsquery/internal/graph"
	"cmsquery/internal/planner"
	"cmsquery/internal/queryargs"
	"cmsquery/internal/schema"
	"cmsquery/internal/sqlutil"
	"cmsquery/internal/testutil"
)

func newMockService(t *testing.T, opts Options) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schemas := schema.NewResolver(schema.NewMemoryProvider(testutil.BlogEntities()...), nil)
	exec := dbexec.NewExecutor(dbexec.NewStandardExecutor(db))
	return NewService(schemas, planner.New(sqlutil.SQLite), exec, opts), mock
}

func postRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "title", "author", "__sort_0"}).
		AddRow(int64(1), "one", int64(1), int64(1)).
		AddRow(int64(2), "two", int64(1), int64(2)).
		AddRow(int64(3), "three", int64(2), int64(3)).
		AddRow(int64(4), "four", int64(1), int64(4))
}

func TestStitch_LookupBatchesOneQuery(t *testing.T) {
	svc, mock := newMockService(t, Options{})
	mock.ExpectQuery(`FROM "posts"`).WillReturnRows(postRows())
	mock.ExpectQuery(`FROM "authors"`).
		WithArgs(false, "published", int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "__sort_0", "__batch_parent_id"}).
			AddRow(int64(1), "Ann", int64(1), int64(1)).
			AddRow(int64(2), "Bob", int64(2), int64(2)))

	records, err := svc.List(context.Background(), Request{Entity: "post", Selection: "title author { name }"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, records, 4)

	ann := records[0]["author"].(map[string]any)
	assert.Equal(t, "Ann", ann["name"])
	assert.Equal(t, "1", ann[graph.FieldRecordID])
	assert.NotContains(t, ann, planner.BatchParentAlias)
	assert.NotContains(t, ann, "__sort_0")
	assert.Equal(t, ann, records[1]["author"])
	assert.Equal(t, ann, records[3]["author"])
	assert.Equal(t, "Bob", records[2]["author"].(map[string]any)["name"])
}

func TestStitch_ChunksLargeInLists(t *testing.T) {
	svc, mock := newMockService(t, Options{BatchMaxInClause: 1})
	mock.ExpectQuery(`FROM "posts"`).WillReturnRows(postRows())
	mock.ExpectQuery(`FROM "authors"`).
		WithArgs(false, "published", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "__sort_0", "__batch_parent_id"}).
			AddRow(int64(1), "Ann", int64(1), int64(1)))
	mock.ExpectQuery(`FROM "authors"`).
		WithArgs(false, "published", int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "__sort_0", "__batch_parent_id"}).
			AddRow(int64(2), "Bob", int64(2), int64(2)))

	records, err := svc.List(context.Background(), Request{Entity: "post", Selection: "title author { name }"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, "Bob", records[2]["author"].(map[string]any)["name"])
}

func TestStitch_CollectiveGroupsByParent(t *testing.T) {
	svc, mock := newMockService(t, Options{RelationConcurrency: 2})
	mock.ExpectQuery(`FROM "posts"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "__sort_0"}).
			AddRow(int64(1), "one", int64(1)).
			AddRow(int64(2), "two", int64(2)))
	mock.ExpectQuery(`FROM "tags" JOIN "post_tag"`).
		WithArgs(false, false, "published", int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "__sort_0", "__batch_parent_id"}).
			AddRow(int64(1), "go", int64(1), int64(1)).
			AddRow(int64(2), "sql", int64(2), int64(1)))

	records, err := svc.List(context.Background(), Request{Entity: "post", Selection: "title tags { name }"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	tags := records[0]["tags"].([]map[string]any)
	require.Len(t, tags, 2)
	assert.Equal(t, "go", tags[0]["name"])
	assert.Equal(t, "sql", tags[1]["name"])
	assert.Equal(t, []map[string]any{}, records[1]["tags"])
}

func TestStitch_NullLookupSkipsQuery(t *testing.T) {
	svc, mock := newMockService(t, Options{})
	mock.ExpectQuery(`FROM "posts"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "author", "__sort_0"}).
			AddRow(int64(1), nil, int64(1)))

	records, err := svc.List(context.Background(), Request{Entity: "post", Selection: "author { name }"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Nil(t, records[0]["author"])
}

func TestStitch_ExecutorErrorIsReturned(t *testing.T) {
	svc, mock := newMockService(t, Options{})
	mock.ExpectQuery(`FROM "posts"`).WillReturnRows(postRows())
	mock.ExpectQuery(`FROM "authors"`).WillReturnError(errors.New("connection reset"))

	_, err := svc.List(context.Background(), Request{Entity: "post", Selection: "title author { name }"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.False(t, IsBadRequest(err))
}

func TestService_CountUsesFilters(t *testing.T) {
	svc, mock := newMockService(t, Options{})
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "posts"`).
		WithArgs(false, "published", "Go").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))

	count, err := svc.Count(context.Background(), Request{
		Entity:    "post",
		Filters:   []queryargs.Filter{{Field: "title", Constraints: []queryargs.Constraint{{Match: "equals", Values: []string{"$t"}}}}},
		Variables: queryargs.Args{"t": "Go"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_FilterHookIsApplied(t *testing.T) {
	hook := func(ctx context.Context, e *entity.LoadedEntity, _ []queryargs.ValidFilter) ([]queryargs.ValidFilter, error) {
		if e.Name != "post" {
			return nil, nil
		}
		attr, _ := e.Attribute("author")
		return []queryargs.ValidFilter{{
			Vector:      schema.LocalVector(attr),
			MatchType:   queryargs.MatchAll,
			Constraints: []queryargs.ValidConstraint{{Match: queryargs.OpEquals, Values: []entity.ValidValue{entity.IntValue(9)}}},
		}}, nil
	}
	svc, mock := newMockService(t, Options{FilterHook: hook})
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "posts"`).
		WithArgs(false, "published", int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))

	_, err := svc.Count(context.Background(), Request{Entity: "post"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsBadRequest(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&queryargs.ValidationError{Entity: "post", Field: "x", Message: "bad"}, true},
		{fmt.Errorf("wrap: %w", &entity.CastError{Field: "id", Err: errors.New("nan")}), true},
		{fmt.Errorf("load: %w", entity.ErrNotFound), true},
		{cursor.ErrInvalidCursor, true},
		{graph.ErrSyntax, true},
		{schema.ErrUnknownField, true},
		{errors.New("driver: bad connection"), false},
		{context.Canceled, false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsBadRequest(tt.err), "%v", tt.err)
	}
}

func TestMarkPage(t *testing.T) {
	sorts := []queryargs.ValidSort{{Vector: &schema.AttributeVector{FullPath: "id"}, Order: queryargs.Asc}}
	rows := []map[string]any{
		{"id": int64(1), "__sort_0": int64(1)},
		{"id": int64(2), "__sort_0": int64(2)},
		{"id": int64(3), "__sort_0": int64(3)},
	}
	markPage(rows, page{entity: "post", sorts: sorts, more: true})

	assert.Equal(t, false, rows[0][graph.FieldHasPreviousPage])
	assert.Equal(t, true, rows[2][graph.FieldHasNextPage])
	assert.NotContains(t, rows[1], graph.FieldCursor)

	tok, err := cursor.Decode(rows[2][graph.FieldCursor].(string))
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, tok.Values)
	assert.Equal(t, "id:asc", tok.SortKey)

	offsetRows := []map[string]any{{"id": int64(4)}}
	markPage(offsetRows, page{entity: "post", sorts: sorts, offset: 3})
	assert.Equal(t, true, offsetRows[0][graph.FieldHasPreviousPage])
	assert.Equal(t, false, offsetRows[0][graph.FieldHasNextPage])
	assert.NotContains(t, offsetRows[0], graph.FieldCursor)
}

func TestFormatValue(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	datetime := &entity.LoadedAttribute{Attribute: entity.Attribute{DataType: entity.DataTypeDatetime, DisplayType: entity.DisplayDatetime}}
	date := &entity.LoadedAttribute{Attribute: entity.Attribute{DataType: entity.DataTypeDatetime, DisplayType: entity.DisplayDate}}
	text := &entity.LoadedAttribute{Attribute: entity.Attribute{DataType: entity.DataTypeString, DisplayType: entity.DisplayText}}

	assert.Equal(t, "2024-03-01T10:30:00Z", formatValue(datetime, at))
	assert.Equal(t, "2024-03-01", formatValue(date, at))
	assert.Equal(t, "raw", formatValue(text, []byte("raw")))
	assert.Equal(t, int64(5), formatValue(text, int64(5)))
}

func TestChunkValues(t *testing.T) {
	assert.Nil(t, chunkValues(nil, 2))
	assert.Equal(t, [][]any{{1, 2, 3}}, chunkValues([]any{1, 2, 3}, 0))
	assert.Equal(t, [][]any{{1, 2}, {3}}, chunkValues([]any{1, 2, 3}, 2))
	assert.Equal(t, int64(2), batchQueriesSaved(3, 1))
	assert.Equal(t, int64(0), batchQueriesSaved(1, 1))
}

func TestUniqueParentValues(t *testing.T) {
	rows := []map[string]any{{"a": int64(1)}, {"a": nil}, {"a": int64(1)}, {"a": "1"}, {"a": int64(2)}}
	assert.Equal(t, []any{int64(1), int64(2)}, uniqueParentValues(rows, "a"))
}
