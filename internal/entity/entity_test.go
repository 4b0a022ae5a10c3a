package entity

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postDefinition() *Entity {
	return &Entity{
		Name:               "post",
		TableName:          "posts",
		PrimaryKey:         "id",
		LabelAttributeName: "title",
		DefaultPageSize:    20,
		Attributes: []Attribute{
			{Field: "id", DataType: DataTypeInt, DisplayType: DisplayNumber},
			{Field: "title", DataType: DataTypeString, DisplayType: DisplayText},
			{Field: "published_at", DataType: DataTypeDatetime, DisplayType: DisplayDatetime},
			{Field: "author", DataType: DataTypeLookup, DisplayType: DisplayLookup, Options: "author"},
			{Field: "tags", DataType: DataTypeJunction, DisplayType: DisplayPicklist, Options: "tag"},
		},
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(e *Entity)
		wantErr string
	}{
		{name: "valid definition"},
		{
			name:    "missing primary key attribute",
			mutate:  func(e *Entity) { e.PrimaryKey = "uuid" },
			wantErr: "primary key is not in the attribute list",
		},
		{
			name:    "missing label attribute",
			mutate:  func(e *Entity) { e.LabelAttributeName = "name" },
			wantErr: "label attribute is not in the attribute list",
		},
		{
			name: "dropdown without options",
			mutate: func(e *Entity) {
				e.Attributes = append(e.Attributes, Attribute{Field: "state", DataType: DataTypeString, DisplayType: DisplayDropdown})
			},
			wantErr: "dropdown requires options",
		},
		{
			name: "invalid display type for data type",
			mutate: func(e *Entity) {
				e.Attributes = append(e.Attributes, Attribute{Field: "views", DataType: DataTypeInt, DisplayType: DisplayEditor})
			},
			wantErr: `display type "editor" is not valid for data type Int`,
		},
		{
			name: "relation without target",
			mutate: func(e *Entity) {
				e.Attributes[3].Options = ""
			},
			wantErr: "relation requires a target in options",
		},
		{
			name: "duplicate attribute",
			mutate: func(e *Entity) {
				e.Attributes = append(e.Attributes, Attribute{Field: "title", DataType: DataTypeString, DisplayType: DisplayText})
			},
			wantErr: "duplicate attribute",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := postDefinition()
			if tt.mutate != nil {
				tt.mutate(def)
			}
			err := Verify(def)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *VerifyError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, "post", verr.Entity)
		})
	}
}

func TestNewLoadedEntity(t *testing.T) {
	loaded := NewLoadedEntity(postDefinition())

	assert.Equal(t, "posts", loaded.TableName)
	require.NotNil(t, loaded.PrimaryKey)
	assert.Equal(t, "id", loaded.PrimaryKey.Field)
	assert.Equal(t, "title", loaded.LabelAttribute.Field)
	assert.Equal(t, "posts", loaded.Deleted.TableName)

	var columns []string
	for _, attr := range loaded.ColumnAttributes() {
		columns = append(columns, attr.Field)
	}
	assert.Equal(t, []string{"id", "title", "published_at", "author"}, columns)
	assert.Equal(t, 20, loaded.PageSize(50))
}

func TestJunctionTableName_OrderIndependent(t *testing.T) {
	assert.Equal(t, "post_tag", JunctionTableName("post", "tag"))
	assert.Equal(t, "post_tag", JunctionTableName("tag", "post"))

	src, dst := JunctionColumns("category", "category")
	assert.Equal(t, "source_category_id", src)
	assert.Equal(t, "target_category_id", dst)
}

func TestParseCollectionOptions(t *testing.T) {
	target, field, err := ParseCollectionOptions("comment.post")
	require.NoError(t, err)
	assert.Equal(t, "comment", target)
	assert.Equal(t, "post", field)

	target, field, err = ParseCollectionOptions("comment")
	require.NoError(t, err)
	assert.Equal(t, "comment", target)
	assert.Empty(t, field)

	_, _, err = ParseCollectionOptions(".post")
	assert.Error(t, err)
}

func TestCast(t *testing.T) {
	loaded := NewLoadedEntity(postDefinition())
	id, _ := loaded.Attribute("id")
	title, _ := loaded.Attribute("title")
	publishedAt, _ := loaded.Attribute("published_at")

	v, err := Cast(id, "42")
	require.NoError(t, err)
	assert.Equal(t, KindInt, v.Kind())
	assert.Equal(t, int64(42), v.Any())

	_, err = Cast(id, "forty-two")
	var castErr *CastError
	require.ErrorAs(t, err, &castErr)
	assert.Equal(t, "id", castErr.Field)

	v, err = Cast(title, "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello", v.Any())

	v, err = Cast(publishedAt, "2024-03-01T10:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, KindDatetime, v.Kind())
	assert.True(t, v.Any().(time.Time).Equal(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)))

	v, err = Cast(publishedAt, "2024-03-01T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, v.Any().(time.Time).Location())

	v, err = Cast(publishedAt, "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, 2024, v.Any().(time.Time).Year())
}

func TestCast_LookupUsesTargetKeyType(t *testing.T) {
	post := NewLoadedEntity(postDefinition())
	author := NewLoadedEntity(&Entity{
		Name: "author", PrimaryKey: "id", LabelAttributeName: "name",
		Attributes: []Attribute{
			{Field: "id", DataType: DataTypeInt, DisplayType: DisplayNumber},
			{Field: "name", DataType: DataTypeString, DisplayType: DisplayText},
		},
	})
	attr, _ := post.Attribute("author")
	attr.Link = &Lookup{Attribute: attr, Target: author}

	v, err := Cast(attr, "7")
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.Any())
}

func TestValidValue_JSONKeepsKind(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)
	values := []ValidValue{StringValue("12"), IntValue(12), DatetimeValue(at), VariableValue("slug")}

	data, err := json.Marshal(values)
	require.NoError(t, err)

	var decoded []ValidValue
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 4)
	assert.Equal(t, KindString, decoded[0].Kind())
	assert.Equal(t, "12", decoded[0].Any())
	assert.Equal(t, KindInt, decoded[1].Kind())
	assert.True(t, decoded[2].Any().(time.Time).Equal(at))
	assert.Equal(t, "slug", decoded[3].VariableName())

	var bad ValidValue
	assert.Error(t, json.Unmarshal([]byte(`{}`), &bad))
}
