// Package testutil holds fixtures shared by package tests: a small blog
// schema and helpers that create matching databases.
package testutil

import "cmsquery/internal/entity"

func attr(field string, dataType entity.DataType, display entity.DisplayType, options string) entity.Attribute {
	return entity.Attribute{
		Field:       field,
		Header:      field,
		DataType:    dataType,
		DisplayType: display,
		InList:      true,
		InDetail:    true,
		Options:     options,
	}
}

// BlogEntities returns fresh definitions for author, category, tag, post and comment.
//
//	post.author    -> Lookup author
//	post.tags      -> Junction tag (table post_tag)
//	post.comments  -> Collection comment (via comment.post)
//	tag.category   -> Lookup category
//	category.parent / category.children -> self-referencing Lookup / Collection
func BlogEntities() []*entity.Entity {
	return []*entity.Entity{
		{
			Name: "author", DisplayName: "Author", TableName: "authors",
			PrimaryKey: "id", LabelAttributeName: "name", DefaultPageSize: 10,
			Attributes: []entity.Attribute{
				attr("id", entity.DataTypeInt, entity.DisplayNumber, ""),
				attr("name", entity.DataTypeString, entity.DisplayText, ""),
			},
		},
		{
			Name: "category", DisplayName: "Category", TableName: "categories",
			PrimaryKey: "id", LabelAttributeName: "name", DefaultPageSize: 10,
			Attributes: []entity.Attribute{
				attr("id", entity.DataTypeInt, entity.DisplayNumber, ""),
				attr("name", entity.DataTypeString, entity.DisplayText, ""),
				attr("parent", entity.DataTypeLookup, entity.DisplayTreeSelect, "category"),
				attr("children", entity.DataTypeCollection, entity.DisplayEditTable, "category.parent"),
			},
		},
		{
			Name: "tag", DisplayName: "Tag", TableName: "tags",
			PrimaryKey: "id", LabelAttributeName: "name", DefaultPageSize: 10,
			Attributes: []entity.Attribute{
				attr("id", entity.DataTypeInt, entity.DisplayNumber, ""),
				attr("name", entity.DataTypeString, entity.DisplayText, ""),
				attr("category", entity.DataTypeLookup, entity.DisplayLookup, "category"),
			},
		},
		{
			Name: "post", DisplayName: "Post", TableName: "posts",
			PrimaryKey: "id", LabelAttributeName: "title", DefaultPageSize: 10,
			DefaultPublicationStatus: entity.StatusDraft,
			Attributes: []entity.Attribute{
				attr("id", entity.DataTypeInt, entity.DisplayNumber, ""),
				attr("title", entity.DataTypeString, entity.DisplayText, ""),
				attr("body", entity.DataTypeText, entity.DisplayTextarea, ""),
				attr("published_at", entity.DataTypeDatetime, entity.DisplayDatetime, ""),
				attr("author", entity.DataTypeLookup, entity.DisplayLookup, "author"),
				attr("tags", entity.DataTypeJunction, entity.DisplayPicklist, "tag"),
				attr("comments", entity.DataTypeCollection, entity.DisplayEditTable, "comment"),
			},
		},
		{
			Name: "comment", DisplayName: "Comment", TableName: "comments",
			PrimaryKey: "id", LabelAttributeName: "body", DefaultPageSize: 10,
			Attributes: []entity.Attribute{
				attr("id", entity.DataTypeInt, entity.DisplayNumber, ""),
				attr("body", entity.DataTypeString, entity.DisplayText, ""),
				attr("post", entity.DataTypeLookup, entity.DisplayLookup, "post"),
			},
		},
	}
}

// BlogDDL creates the tables backing BlogEntities. It is portable across
// SQLite and PostgreSQL.
var BlogDDL = []string{
	`CREATE TABLE authors (id INTEGER PRIMARY KEY, name TEXT, deleted BOOLEAN NOT NULL DEFAULT FALSE, publication_status TEXT NOT NULL DEFAULT 'published')`,
	`CREATE TABLE categories (id INTEGER PRIMARY KEY, name TEXT, parent INTEGER, deleted BOOLEAN NOT NULL DEFAULT FALSE, publication_status TEXT NOT NULL DEFAULT 'published')`,
	`CREATE TABLE tags (id INTEGER PRIMARY KEY, name TEXT, category INTEGER, deleted BOOLEAN NOT NULL DEFAULT FALSE, publication_status TEXT NOT NULL DEFAULT 'published')`,
	`CREATE TABLE posts (id INTEGER PRIMARY KEY, title TEXT, body TEXT, published_at TIMESTAMP, author INTEGER, deleted BOOLEAN NOT NULL DEFAULT FALSE, publication_status TEXT NOT NULL DEFAULT 'published')`,
	`CREATE TABLE comments (id INTEGER PRIMARY KEY, body TEXT, post INTEGER, deleted BOOLEAN NOT NULL DEFAULT FALSE, publication_status TEXT NOT NULL DEFAULT 'published')`,
	`CREATE TABLE post_tag (id INTEGER PRIMARY KEY, post_id INTEGER NOT NULL, tag_id INTEGER NOT NULL, deleted BOOLEAN NOT NULL DEFAULT FALSE)`,
}
