package serverapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmsquery/internal/config"
	"cmsquery/internal/dbexec"
	"cmsquery/internal/entity"
	"cmsquery/internal/schema"
	"cmsquery/internal/sqlutil"
	"cmsquery/internal/testutil"
)

func newTestAPI(t *testing.T) (http.Handler, *schema.MemoryProvider) {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	for _, stmt := range []string{
		`INSERT INTO authors (id, name) VALUES (1, 'Apple'), (2, 'Banana')`,
		`INSERT INTO posts (id, title, author) VALUES (1, 'Hello Go', 1), (2, 'SQL tips', 2), (3, 'Web', 1)`,
		`INSERT INTO comments (id, body, post) VALUES (1, 'first', 1), (2, 'second', 1)`,
	} {
		testutil.MustExec(t, db, stmt)
	}

	provider := schema.NewMemoryProvider(testutil.BlogEntities()...)
	provider.PutQuery(&schema.QueryDef{
		Name:       "latest",
		EntityName: "post",
		Source:     `query Latest($n: Int) { posts(sort: "-id", limit: $n) { title } }`,
		Variables:  []string{"n"},
	})
	schemas := schema.NewResolver(provider, nil)
	exec := dbexec.NewExecutor(dbexec.NewStandardExecutor(db))

	cfg := &config.Config{
		Server: config.ServerConfig{AdminEnabled: true},
		Query:  config.QueryConfig{DefaultPageSize: 20, MaxPageSize: 100},
	}
	api := &apiHandler{
		service: buildService(cfg, schemas, sqlutil.SQLite, exec, nil),
		schemas: schemas,
		source:  provider,
	}
	return wrapHTTPHandler(cfg, testLogger(), buildRouter(cfg, testLogger(), db, api, nil), nil), provider
}

func post(t *testing.T, h http.Handler, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func titles(t *testing.T, out map[string]any) []string {
	t.Helper()
	data, ok := out["data"].([]any)
	require.True(t, ok, "data is %T", out["data"])
	var got []string
	for _, r := range data {
		got = append(got, r.(map[string]any)["title"].(string))
	}
	return got
}

func TestAPI_List(t *testing.T) {
	h, _ := newTestAPI(t)
	rec, out := post(t, h, "/api/entities/post/list", `{
		"selection": "title author { name }",
		"sorts": [{"field": "id", "direction": "desc"}],
		"pagination": {"limit": 2}
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Web", "SQL tips"}, titles(t, out))

	first := out["data"].([]any)[0].(map[string]any)
	assert.Equal(t, "Apple", first["author"].(map[string]any)["name"])
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestAPI_EmptyBodyListsEverything(t *testing.T) {
	h, _ := newTestAPI(t)
	rec, out := post(t, h, "/api/entities/author/list", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["data"], 2)
}

func TestAPI_SingleAndCount(t *testing.T) {
	h, _ := newTestAPI(t)
	filter := func(id string) string {
		return fmt.Sprintf(`{"selection": "title", "filters": [{"field": "id", "constraints": [{"match": "equals", "values": [%q]}]}]}`, id)
	}

	rec, out := post(t, h, "/api/entities/post/single", filter("2"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SQL tips", out["data"].(map[string]any)["title"])

	rec, out = post(t, h, "/api/entities/post/single", filter("99"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "record not found", out["error"])

	rec, out = post(t, h, "/api/entities/post/count", "{}")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), out["count"])
}

func TestAPI_Named(t *testing.T) {
	h, _ := newTestAPI(t)
	rec, out := post(t, h, "/api/queries/latest", `{"variables": {"n": "1"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Web"}, titles(t, out))

	rec, _ = post(t, h, "/api/queries/latest", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = post(t, h, "/api/queries/nope", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Errors(t *testing.T) {
	h, _ := newTestAPI(t)
	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown entity", "/api/entities/widget/list", `{}`, http.StatusNotFound},
		{"unknown field", "/api/entities/post/list", `{"selection": "nope"}`, http.StatusBadRequest},
		{"unknown body key", "/api/entities/post/list", `{"limit": 3}`, http.StatusBadRequest},
		{"malformed json", "/api/entities/post/list", `{`, http.StatusBadRequest},
		{"bad cursor", "/api/entities/post/list", `{"span": {"last": "???"}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := post(t, h, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestAPI_AdminInvalidate(t *testing.T) {
	h, provider := newTestAPI(t)

	rec, _ := post(t, h, "/api/entities/post/list", `{"selection": "title"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// Renaming an attribute only takes effect once the cache is cleared.
	for _, e := range testutil.BlogEntities() {
		if e.Name != "post" {
			continue
		}
		for i := range e.Attributes {
			if e.Attributes[i].Field == "title" {
				e.Attributes[i].Field = "headline"
			}
		}
		provider.PutEntity(e)
	}
	rec, _ = post(t, h, "/api/entities/post/list", `{"selection": "title"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, out := post(t, h, "/admin/schema/invalidate", `{"entity": "post"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])

	rec, _ = post(t, h, "/api/entities/post/list", `{"selection": "title"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = post(t, h, "/admin/schema/invalidate", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_AdminEntities(t *testing.T) {
	h, provider := newTestAPI(t)
	get := func(path string) (*httptest.ResponseRecorder, map[string]any) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		var out map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
		return rec, out
	}
	names := func(out map[string]any) []string {
		var got []string
		for _, d := range out["data"].([]any) {
			got = append(got, d.(map[string]any)["name"].(string))
		}
		return got
	}

	rec, out := get("/admin/schema/entities")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{"author", "category", "tag", "post", "comment"}, names(out))

	// The listing is cached until the schema is invalidated.
	provider.PutEntity(&entity.Entity{
		Name: "page", TableName: "pages", PrimaryKey: "id",
		Attributes: []entity.Attribute{{Field: "id", DataType: entity.DataTypeInt, DisplayType: entity.DisplayNumber}},
	})
	_, out = get("/admin/schema/entities")
	assert.NotContains(t, names(out), "page")

	rec, _ = post(t, h, "/admin/schema/invalidate", `{"entity": "page"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	_, out = get("/admin/schema/entities")
	assert.Contains(t, names(out), "page")

	rec, _ = get("/admin/schema/entities?status=scheduled")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_PartialWithFilters(t *testing.T) {
	h, _ := newTestAPI(t)
	firstPageCursor := func(body string) string {
		rec, out := post(t, h, "/api/entities/post/list", body)
		require.Equal(t, http.StatusOK, rec.Code, out)
		comments := out["data"].([]any)[0].(map[string]any)["comments"].([]any)
		require.Len(t, comments, 1)
		return comments[0].(map[string]any)["cursor"].(string)
	}
	last := firstPageCursor(`{
		"selection": "title comments(limit: 1, filter: [{field: \"body\", constraints: [{match: \"notEquals\", values: [\"second\"]}]}]) { body cursor }",
		"filters": [{"field": "id", "constraints": [{"match": "equals", "values": ["1"]}]}]
	}`)

	rec, out := post(t, h, "/api/entities/post/partial", fmt.Sprintf(`{
		"attribute": "comments",
		"selection": "body",
		"filters": [{"field": "body", "constraints": [{"match": "notEquals", "values": ["second"]}]}],
		"limit": "1",
		"span": {"last": %q}
	}`, last))
	require.Equal(t, http.StatusOK, rec.Code, out)
	assert.Empty(t, out["data"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("load: %w", entity.ErrNotFound)))
	assert.Equal(t, statusClientClosedRequest, statusFor(context.Canceled))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(fmt.Errorf("query: %w", context.DeadlineExceeded)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("connection reset")))
}
