//go:build integration

package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmsquery/internal/cursor"
	"cmsquery/internal/dbexec"
	"cmsquery/internal/graph"
	"cmsquery/internal/planner"
	"cmsquery/internal/queryargs"
	"cmsquery/internal/schema"
	"cmsquery/internal/sqlutil"
	"cmsquery/internal/testutil"
)

func newPostgresService(t *testing.T) (*Service, *schema.MemoryProvider) {
	t.Helper()
	db := testutil.NewPostgresDB(t)
	seedBlog(t, db)
	provider := schema.NewMemoryProvider(testutil.BlogEntities()...)
	exec := dbexec.NewExecutor(dbexec.NewStandardExecutor(db))
	return NewService(schema.NewResolver(provider, nil), planner.New(sqlutil.Postgres), exec, Options{DefaultPageSize: 20}), provider
}

func TestPostgres_ListWithRelations(t *testing.T) {
	svc, _ := newPostgresService(t)
	records, err := svc.List(context.Background(), Request{
		Entity:    "post",
		Selection: "title published_at author { name } tags { name }",
		Sorts:     []queryargs.Sort{{Field: "id"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids(records))
	assert.Equal(t, "2024-03-01T10:00:00Z", records[0]["published_at"])
	assert.Equal(t, "Apple", records[0]["author"].(map[string]any)["name"])

	tags := records[0]["tags"].([]map[string]any)
	require.Len(t, tags, 2)
	assert.Equal(t, "go", tags[0]["name"])
	assert.Empty(t, records[2]["tags"])
}

func TestPostgres_CursorPaging(t *testing.T) {
	svc, _ := newPostgresService(t)
	ctx := context.Background()
	list := func(span cursor.Span) []map[string]any {
		t.Helper()
		records, err := svc.List(ctx, Request{
			Entity:     "post",
			Selection:  "title",
			Sorts:      []queryargs.Sort{{Field: "author.name"}, {Field: "id", Direction: "desc"}},
			Pagination: queryargs.Pagination{Limit: "2"},
			Span:       span,
		})
		require.NoError(t, err)
		return records
	}

	first := list(cursor.Span{})
	assert.Equal(t, []string{"5", "3"}, ids(first))
	second := list(cursor.Span{Last: first[1][graph.FieldCursor].(string)})
	assert.Equal(t, []string{"1", "4"}, ids(second))
	back := list(cursor.Span{First: second[0][graph.FieldCursor].(string)})
	assert.Equal(t, ids(first), ids(back))
	assert.Equal(t, false, back[0][graph.FieldHasPreviousPage])
}

func TestPostgres_NamedAndPartial(t *testing.T) {
	svc, provider := newPostgresService(t)
	provider.PutQuery(&schema.QueryDef{
		Name:       "commented",
		EntityName: "post",
		Source:     `{ posts(filter: [{field: "id", constraints: [{match: "equals", values: ["$id"]}]}]) { title comments(limit: 1) { body } } }`,
		Variables:  []string{"id"},
	})
	ctx := context.Background()

	records, err := svc.Named(ctx, NamedRequest{Name: "commented", Variables: queryargs.Args{"id": "1"}})
	require.NoError(t, err)
	require.Len(t, records, 1)
	comments := records[0]["comments"].([]map[string]any)
	require.Len(t, comments, 1)
	assert.Equal(t, true, comments[0][graph.FieldHasNextPage])

	more, err := svc.Partial(ctx, PartialRequest{
		Entity:    "post",
		Attribute: "comments",
		Selection: "body",
		Limit:     "5",
		Span:      cursor.Span{Last: comments[0][graph.FieldCursor].(string)},
	})
	require.NoError(t, err)
	require.Len(t, more, 2)
	assert.Equal(t, "second", more[0]["body"])
	assert.Equal(t, "third", more[1]["body"])
}
