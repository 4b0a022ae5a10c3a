package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmsquery/internal/entity"
	"cmsquery/internal/queryargs"
	"cmsquery/internal/sqlutil"
)

func TestPlanLink(t *testing.T) {
	f := newBlogFixture(t)
	p := New(sqlutil.SQLite)

	t.Run("lookup", func(t *testing.T) {
		link := f.attr(t, f.post, "author").Link
		author := link.TargetEntity()
		planned, err := p.PlanLink(LinkInput{
			Link:          link,
			Fields:        []*entity.LoadedAttribute{f.attr(t, author, "name")},
			ParentValues:  []any{int64(1), int64(2)},
			Sorts:         f.sorts(t, author),
			PublishedOnly: true,
		})
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT "authors"."id" AS "id", "authors"."name" AS "name", "authors"."id" AS "__sort_0", "authors"."id" AS "__batch_parent_id"`+
				` FROM "authors" WHERE "authors"."deleted" = ? AND "authors"."publication_status" = ? AND "authors"."id" IN (?,?)`+
				` ORDER BY "__sort_0" ASC`,
			planned.SQL)
		assert.Equal(t, []any{false, "published", int64(1), int64(2)}, planned.Args)
	})

	t.Run("junction", func(t *testing.T) {
		link := f.attr(t, f.post, "tags").Link
		tag := link.TargetEntity()
		planned, err := p.PlanLink(LinkInput{
			Link:         link,
			Fields:       []*entity.LoadedAttribute{f.attr(t, tag, "name")},
			ParentValues: []any{int64(1)},
			Sorts:        f.sorts(t, tag),
		})
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT "tags"."id" AS "id", "tags"."name" AS "name", "tags"."id" AS "__sort_0", "post_tag"."post_id" AS "__batch_parent_id"`+
				` FROM "tags" JOIN "post_tag" ON "post_tag"."tag_id" = "tags"."id" AND "post_tag"."deleted" = ?`+
				` WHERE "tags"."deleted" = ? AND "post_tag"."post_id" IN (?)`+
				` ORDER BY "__sort_0" ASC`,
			planned.SQL)
		assert.Equal(t, []any{false, false, int64(1)}, planned.Args)
	})

	t.Run("collection page for one parent", func(t *testing.T) {
		link := f.attr(t, f.post, "comments").Link
		comment := link.TargetEntity()
		planned, err := p.PlanLink(LinkInput{
			Link:         link,
			Fields:       []*entity.LoadedAttribute{f.attr(t, comment, "body")},
			ParentValues: []any{int64(3)},
			Filters:      f.filters(t, comment, eq("body", "hi")),
			Sorts:        f.sorts(t, comment),
			Pagination:   queryargs.ValidPagination{Limit: 2},
			PlusOne:      true,
		})
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT "comments"."id" AS "id", "comments"."body" AS "body", "comments"."id" AS "__sort_0", "comments"."post" AS "__batch_parent_id"`+
				` FROM "comments" WHERE "comments"."deleted" = ? AND "comments"."post" IN (?) AND "comments"."body" = ?`+
				` ORDER BY "__sort_0" ASC LIMIT 3`,
			planned.SQL)
		assert.Equal(t, []any{false, int64(3), "hi"}, planned.Args)
	})

	t.Run("requires parents", func(t *testing.T) {
		_, err := p.PlanLink(LinkInput{Link: f.attr(t, f.post, "author").Link})
		assert.ErrorIs(t, err, ErrNoParentValues)
	})
}
