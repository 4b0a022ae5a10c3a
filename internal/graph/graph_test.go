package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmsquery/internal/entity"
	"cmsquery/internal/queryargs"
	"cmsquery/internal/schema"
	"cmsquery/internal/testutil"
)

func newBinder(t *testing.T) (*Binder, *entity.LoadedEntity) {
	t.Helper()
	r := schema.NewResolver(schema.NewMemoryProvider(testutil.BlogEntities()...), nil)
	post, err := r.LoadEntity(context.Background(), "post", entity.StatusPublished)
	require.NoError(t, err)
	return NewBinder(r, entity.StatusPublished), post
}

func fieldNames(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Field
	}
	return out
}

func TestParseSelection(t *testing.T) {
	fields, err := ParseSelection("title author { name } ... on post { body }")
	require.NoError(t, err)
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name.Value
	}
	assert.Equal(t, []string{"title", "author", "body"}, names)

	fields, err = ParseSelection("  ")
	require.NoError(t, err)
	assert.Empty(t, fields)

	_, err = ParseSelection("title {")
	assert.ErrorIs(t, err, ErrSyntax)

	_, err = ParseSelection("mutation { deletePost }")
	assert.ErrorIs(t, err, ErrSyntax)

	_, err = ParseSelection("title ...frag")
	assert.ErrorIs(t, err, ErrSyntax)
}

func TestParseRoot(t *testing.T) {
	root, err := ParseRoot(`query Recent($n: Int) { posts(limit: $n) { id } }`)
	require.NoError(t, err)
	assert.Equal(t, "posts", root.Name.Value)

	_, err = ParseRoot(`{ posts { id } authors { id } }`)
	assert.ErrorIs(t, err, ErrSyntax)
}

func TestDecodeArgs(t *testing.T) {
	root, err := ParseRoot(`{ posts(
		limit: $n, offset: 5, first: "abc",
		sort: "-published_at,title",
		filter: [{field: "title", matchType: "matchAny", constraints: [{match: "startsWith", values: ["Go", $prefix]}]}]
	) { id } }`)
	require.NoError(t, err)

	args, err := DecodeArgs(root)
	require.NoError(t, err)
	assert.Equal(t, queryargs.Pagination{Offset: "5", Limit: "$n"}, args.Pagination)
	assert.Equal(t, "abc", args.Span.First)
	assert.Equal(t, []queryargs.Sort{{Field: "published_at", Direction: "desc"}, {Field: "title", Direction: "asc"}}, args.Sorts)
	require.Len(t, args.Filters, 1)
	assert.Equal(t, string(queryargs.MatchAny), args.Filters[0].MatchType)
	assert.Equal(t, []string{"Go", "$prefix"}, args.Filters[0].Constraints[0].Values)
}

func TestDecodeArgs_SortForms(t *testing.T) {
	for name, src := range map[string]string{
		"object": `{ posts(sort: {field: "title", direction: "desc"}) { id } }`,
		"list":   `{ posts(sort: [{field: "title", direction: "desc"}]) { id } }`,
		"string": `{ posts(sort: "-title") { id } }`,
	} {
		t.Run(name, func(t *testing.T) {
			root, err := ParseRoot(src)
			require.NoError(t, err)
			args, err := DecodeArgs(root)
			require.NoError(t, err)
			assert.Equal(t, []queryargs.Sort{{Field: "title", Direction: "desc"}}, args.Sorts)
		})
	}
}

func TestDecodeArgs_UnknownArgument(t *testing.T) {
	root, err := ParseRoot(`{ posts(pageSize: 3) { id } }`)
	require.NoError(t, err)
	_, err = DecodeArgs(root)
	assert.Error(t, err)
}

func TestBind_ScalarsAndKey(t *testing.T) {
	b, post := newBinder(t)
	nodes, err := b.BindSelection(context.Background(), post, "title title recordId")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "title", "recordId"}, fieldNames(nodes))

	assert.True(t, nodes[1].IsNormalAttribute)
	assert.False(t, nodes[2].IsNormalAttribute)
	assert.Nil(t, nodes[2].Attribute)
	assert.Len(t, Columns(nodes), 2)
}

func TestBind_Relations(t *testing.T) {
	b, post := newBinder(t)
	nodes, err := b.BindSelection(context.Background(), post,
		`title author { name } tags(sort: "-name", limit: 2) { name category { name } } comments`)
	require.NoError(t, err)

	author, ok := Find(nodes, "author")
	require.True(t, ok)
	assert.True(t, author.IsCompound())
	assert.False(t, author.IsCollective())
	assert.Equal(t, "author", author.Target.Name)
	assert.Equal(t, []string{"id", "name"}, fieldNames(author.Children))
	assert.Equal(t, "author.name", author.Children[1].Path())

	tags, ok := Find(nodes, "tags")
	require.True(t, ok)
	assert.True(t, tags.IsCollective())
	assert.True(t, tags.Paginated())
	require.Len(t, tags.Sorts, 2)
	assert.Equal(t, "name", tags.Sorts[0].Vector.FullPath)
	assert.Equal(t, queryargs.Desc, tags.Sorts[0].Order)
	assert.Equal(t, "id", tags.Sorts[1].Vector.FullPath)

	category, ok := Find(tags.Children, "category")
	require.True(t, ok)
	assert.Equal(t, "tags.category", category.Path())
	assert.Equal(t, []string{"id", "name"}, fieldNames(category.Children))

	comments, ok := Find(nodes, "comments")
	require.True(t, ok)
	assert.False(t, comments.Paginated())
	assert.Equal(t, []string{"id", "body"}, fieldNames(comments.Children))
}

func TestBind_DefaultSelection(t *testing.T) {
	b, post := newBinder(t)
	nodes, err := b.Bind(context.Background(), post, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "title", "body", "published_at", "author", "tags", "comments"}, fieldNames(nodes))

	tags, _ := Find(nodes, "tags")
	assert.Equal(t, []string{"id", "name"}, fieldNames(tags.Children))
	assert.Len(t, tags.Sorts, 1)
}

func TestBind_Errors(t *testing.T) {
	b, post := newBinder(t)
	tests := []struct {
		name      string
		selection string
	}{
		{"unknown field", "title nope"},
		{"args on scalar", "title(limit: 1)"},
		{"selection on scalar", "title { x }"},
		{"args on lookup", "author(limit: 1) { name }"},
		{"unknown nested sort", `tags(sort: "nope") { name }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.BindSelection(context.Background(), post, tt.selection)
			require.Error(t, err)
			var verr *queryargs.ValidationError
			assert.True(t, errors.As(err, &verr), "got %v", err)
		})
	}
}

func TestBind_NestedFilterVariable(t *testing.T) {
	b, post := newBinder(t)
	nodes, err := b.BindSelection(context.Background(), post,
		`comments(filter: [{field: "body", constraints: [{match: "contains", values: [$q]}]}]) { body }`)
	require.NoError(t, err)
	comments, _ := Find(nodes, "comments")
	require.Len(t, comments.Filters, 1)
	assert.True(t, comments.Filters[0].HasVariables())
}

func TestBindQuery(t *testing.T) {
	b, _ := newBinder(t)
	q, err := b.BindQuery(context.Background(),
		`query Recent($n: Int) { posts(limit: $n, sort: "-published_at") { title author { name } } }`, "")
	require.NoError(t, err)
	assert.Equal(t, "post", q.Entity.Name)
	assert.Equal(t, "$n", q.Pagination.Limit)
	require.Len(t, q.Sorts, 2)
	assert.Equal(t, []string{"id", "title", "author"}, fieldNames(q.Nodes))

	q, err = b.BindQuery(context.Background(), `{ postList { title } }`, "")
	require.NoError(t, err)
	assert.Equal(t, "post", q.Entity.Name)

	q, err = b.BindQuery(context.Background(), `{ recent { title } }`, "post")
	require.NoError(t, err)
	assert.Equal(t, "post", q.Entity.Name)

	_, err = b.BindQuery(context.Background(), `{ widgets { id } }`, "")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestEntityCandidates(t *testing.T) {
	assert.Equal(t, []string{"posts", "post"}, EntityCandidates("posts"))
	assert.Equal(t, []string{"postList", "post"}, EntityCandidates("postList"))
	assert.Equal(t, []string{"author"}, EntityCandidates("author"))
	assert.Equal(t, []string{"categories", "category"}, EntityCandidates("categories"))
}
