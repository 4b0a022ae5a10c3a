package entity

// LoadedAttribute is an attribute bound to its table, with relation targets resolved.
type LoadedAttribute struct {
	Attribute
	TableName string
	// Link is set for compound attributes once the schema resolver has linked them.
	Link LinkDesc
}

// IsCompound reports whether the attribute describes a relation.
func (a *LoadedAttribute) IsCompound() bool {
	return a.DataType.IsCompound()
}

// HasColumn reports whether the attribute is backed by a column on its own table.
func (a *LoadedAttribute) HasColumn() bool {
	return a.DataType.HasColumn()
}

// ValueType is the data type used when casting filter and cursor values.
// Lookups take the type of the target's primary key.
func (a *LoadedAttribute) ValueType() DataType {
	if a.DataType == DataTypeLookup {
		if lookup, ok := a.Link.(*Lookup); ok && lookup.Target != nil && lookup.Target.PrimaryKey != nil {
			return lookup.Target.PrimaryKey.DataType
		}
		return DataTypeString
	}
	return a.DataType
}

// LoadedEntity is the runtime form of an Entity. Compound attributes carry
// live references to their target entities instead of names.
type LoadedEntity struct {
	Name                     string
	DisplayName              string
	TableName                string
	DefaultPageSize          int
	DefaultPublicationStatus PublicationStatus
	PrimaryKey               *LoadedAttribute
	LabelAttribute           *LoadedAttribute
	Attributes               []*LoadedAttribute

	// Deleted and PublicationStatus are the implicit system columns.
	Deleted           *LoadedAttribute
	PublicationStatus *LoadedAttribute
}

// NewLoadedEntity binds the attributes of a verified definition to its table.
// Relations are left unlinked; the schema resolver fills them in.
func NewLoadedEntity(e *Entity) *LoadedEntity {
	table := e.Table()
	loaded := &LoadedEntity{
		Name:                     e.Name,
		DisplayName:              e.DisplayName,
		TableName:                table,
		DefaultPageSize:          e.DefaultPageSize,
		DefaultPublicationStatus: e.DefaultPublicationStatus,
		Attributes:               make([]*LoadedAttribute, 0, len(e.Attributes)),
		Deleted: &LoadedAttribute{
			Attribute: Attribute{Field: ColumnDeleted, DataType: DataTypeInt, DisplayType: DisplayNumber},
			TableName: table,
		},
		PublicationStatus: &LoadedAttribute{
			Attribute: Attribute{Field: ColumnPublicationStatus, DataType: DataTypeString, DisplayType: DisplayDropdown},
			TableName: table,
		},
	}
	for _, attr := range e.Attributes {
		la := &LoadedAttribute{Attribute: attr, TableName: table}
		loaded.Attributes = append(loaded.Attributes, la)
		if attr.Field == e.PrimaryKey {
			loaded.PrimaryKey = la
		}
		if attr.Field == e.LabelAttributeName {
			loaded.LabelAttribute = la
		}
	}
	return loaded
}

// Attribute looks up a loaded attribute by field name.
func (e *LoadedEntity) Attribute(field string) (*LoadedAttribute, bool) {
	for _, attr := range e.Attributes {
		if attr.Field == field {
			return attr, true
		}
	}
	return nil, false
}

// ColumnAttributes returns the attributes backed by a column, in definition order.
func (e *LoadedEntity) ColumnAttributes() []*LoadedAttribute {
	out := make([]*LoadedAttribute, 0, len(e.Attributes))
	for _, attr := range e.Attributes {
		if attr.HasColumn() {
			out = append(out, attr)
		}
	}
	return out
}

// PageSize returns the entity's default page size or fallback when unset.
func (e *LoadedEntity) PageSize(fallback int) int {
	if e.DefaultPageSize > 0 {
		return e.DefaultPageSize
	}
	return fallback
}
