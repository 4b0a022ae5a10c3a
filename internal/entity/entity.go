// Package entity defines the declarative content model: entities, their
// attributes, and the runtime-resolved forms used by the query engine.
package entity

import "errors"

// ErrNotFound is returned when an entity or query definition does not exist.
var ErrNotFound = errors.New("not found")

// DataType is the storage type of an attribute.
type DataType string

const (
	DataTypeInt        DataType = "Int"
	DataTypeDatetime   DataType = "Datetime"
	DataTypeText       DataType = "Text"
	DataTypeString     DataType = "String"
	DataTypeLookup     DataType = "Lookup"
	DataTypeJunction   DataType = "Junction"
	DataTypeCollection DataType = "Collection"
)

// IsCompound reports whether the data type describes a relation.
func (d DataType) IsCompound() bool {
	switch d {
	case DataTypeLookup, DataTypeJunction, DataTypeCollection:
		return true
	}
	return false
}

// HasColumn reports whether values of this type live in a column of the owning table.
// Lookups are stored as a foreign key on the source; junctions and collections are not.
func (d DataType) HasColumn() bool {
	return d != DataTypeJunction && d != DataTypeCollection
}

// IsCollective reports whether the relation yields a list of records.
func (d DataType) IsCollective() bool {
	return d == DataTypeJunction || d == DataTypeCollection
}

// DisplayType controls how an attribute is edited and rendered.
type DisplayType string

const (
	DisplayText        DisplayType = "text"
	DisplayTextarea    DisplayType = "textarea"
	DisplayEditor      DisplayType = "editor"
	DisplayNumber      DisplayType = "number"
	DisplayDatetime    DisplayType = "datetime"
	DisplayDate        DisplayType = "date"
	DisplayImage       DisplayType = "image"
	DisplayGallery     DisplayType = "gallery"
	DisplayFile        DisplayType = "file"
	DisplayDropdown    DisplayType = "dropdown"
	DisplayMultiselect DisplayType = "multiselect"
	DisplayLookup      DisplayType = "lookup"
	DisplayTreeSelect  DisplayType = "treeSelect"
	DisplayPicklist    DisplayType = "picklist"
	DisplayTree        DisplayType = "tree"
	DisplayEditTable   DisplayType = "editTable"
)

// PublicationStatus is the visibility state of a row or a schema version.
type PublicationStatus string

const (
	StatusDraft       PublicationStatus = "draft"
	StatusPublished   PublicationStatus = "published"
	StatusUnpublished PublicationStatus = "unpublished"
	StatusScheduled   PublicationStatus = "scheduled"
)

// Valid reports whether s is a known publication status.
func (s PublicationStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusUnpublished, StatusScheduled:
		return true
	}
	return false
}

// System columns present on every entity table and junction table.
const (
	ColumnDeleted           = "deleted"
	ColumnPublicationStatus = "publication_status"
)

// Attribute is one field of an entity definition.
type Attribute struct {
	Field       string      `json:"field" yaml:"field"`
	Header      string      `json:"header" yaml:"header"`
	DataType    DataType    `json:"dataType" yaml:"dataType"`
	DisplayType DisplayType `json:"displayType" yaml:"displayType"`
	InList      bool        `json:"inList" yaml:"inList"`
	InDetail    bool        `json:"inDetail" yaml:"inDetail"`
	// Options holds dropdown choices, or the relation target for compound types:
	// "<entity>" for lookups and junctions, "<entity>.<field>" for collections.
	Options    string `json:"options" yaml:"options"`
	Validation string `json:"validation" yaml:"validation"`
}

// Entity is an immutable entity definition as stored by schema management.
type Entity struct {
	Name                     string            `json:"name" yaml:"name"`
	DisplayName              string            `json:"displayName" yaml:"displayName"`
	TableName                string            `json:"tableName" yaml:"tableName"`
	PrimaryKey               string            `json:"primaryKey" yaml:"primaryKey"`
	LabelAttributeName       string            `json:"labelAttributeName" yaml:"labelAttributeName"`
	DefaultPageSize          int               `json:"defaultPageSize" yaml:"defaultPageSize"`
	DefaultPublicationStatus PublicationStatus `json:"defaultPublicationStatus" yaml:"defaultPublicationStatus"`
	Attributes               []Attribute       `json:"attributes" yaml:"attributes"`
}

// Attribute looks up an attribute by field name.
func (e *Entity) Attribute(field string) (Attribute, bool) {
	for _, attr := range e.Attributes {
		if attr.Field == field {
			return attr, true
		}
	}
	return Attribute{}, false
}

// Table returns the physical table name, defaulting to the entity name.
func (e *Entity) Table() string {
	if e.TableName != "" {
		return e.TableName
	}
	return e.Name
}
