package entity

import (
	"fmt"
	"sort"
	"strings"
)

// LinkDesc is the uniform view over the three relation kinds. Rows of the
// target are matched to a parent by comparing TargetAttribute on the child
// side with SourceAttribute on the parent side.
//
// The set of implementations is closed: *Lookup, *Junction, *Collection.
type LinkDesc interface {
	Kind() DataType
	SourceAttribute() *LoadedAttribute
	TargetEntity() *LoadedEntity
	TargetAttribute() *LoadedAttribute
	IsCollective() bool
	linkDesc()
}

// Lookup is a many-to-one relation realized by a foreign key on the source.
type Lookup struct {
	Attribute *LoadedAttribute
	Target    *LoadedEntity
}

func (l *Lookup) Kind() DataType                    { return DataTypeLookup }
func (l *Lookup) SourceAttribute() *LoadedAttribute { return l.Attribute }
func (l *Lookup) TargetEntity() *LoadedEntity       { return l.Target }
func (l *Lookup) TargetAttribute() *LoadedAttribute { return l.Target.PrimaryKey }
func (l *Lookup) IsCollective() bool                { return false }
func (l *Lookup) linkDesc()                         {}

// Junction is a many-to-many relation realized by an association table
// holding one foreign key per side.
type Junction struct {
	Source *LoadedEntity
	Target *LoadedEntity
	// TableName is shared by both sides of the relation.
	TableName string
	// SourceID references Source's primary key; TargetID references Target's.
	SourceID *LoadedAttribute
	TargetID *LoadedAttribute
	// Deleted is the junction table's soft-delete column.
	Deleted *LoadedAttribute
}

func (j *Junction) Kind() DataType                    { return DataTypeJunction }
func (j *Junction) SourceAttribute() *LoadedAttribute { return j.Source.PrimaryKey }
func (j *Junction) TargetEntity() *LoadedEntity       { return j.Target }
func (j *Junction) TargetAttribute() *LoadedAttribute { return j.SourceID }
func (j *Junction) IsCollective() bool                { return true }
func (j *Junction) linkDesc()                         {}

// Collection is a one-to-many relation realized by a foreign key on the target.
type Collection struct {
	Source *LoadedEntity
	Target *LoadedEntity
	// Link is the target's column pointing back at Source's primary key.
	Link *LoadedAttribute
}

func (c *Collection) Kind() DataType                    { return DataTypeCollection }
func (c *Collection) SourceAttribute() *LoadedAttribute { return c.Source.PrimaryKey }
func (c *Collection) TargetEntity() *LoadedEntity       { return c.Target }
func (c *Collection) TargetAttribute() *LoadedAttribute { return c.Link }
func (c *Collection) IsCollective() bool                { return true }
func (c *Collection) linkDesc()                         {}

// JunctionTableName names the association table for two entities. The names
// are sorted so both sides of the relation address the same table.
func JunctionTableName(a, b string) string {
	names := []string{a, b}
	sort.Strings(names)
	return names[0] + "_" + names[1]
}

// JunctionColumns returns the foreign key columns for a junction between
// source and target. Self-referencing junctions get prefixed names.
func JunctionColumns(source, target string) (sourceCol, targetCol string) {
	if source == target {
		return "source_" + source + "_id", "target_" + target + "_id"
	}
	return source + "_id", target + "_id"
}

// NewJunction builds the junction descriptor between two loaded entities.
func NewJunction(source, target *LoadedEntity) *Junction {
	table := JunctionTableName(source.Name, target.Name)
	sourceCol, targetCol := JunctionColumns(source.Name, target.Name)
	return &Junction{
		Source:    source,
		Target:    target,
		TableName: table,
		SourceID: &LoadedAttribute{
			Attribute: Attribute{Field: sourceCol, DataType: source.PrimaryKey.DataType, DisplayType: source.PrimaryKey.DisplayType},
			TableName: table,
		},
		TargetID: &LoadedAttribute{
			Attribute: Attribute{Field: targetCol, DataType: target.PrimaryKey.DataType, DisplayType: target.PrimaryKey.DisplayType},
			TableName: table,
		},
		Deleted: &LoadedAttribute{
			Attribute: Attribute{Field: ColumnDeleted, DataType: DataTypeInt, DisplayType: DisplayNumber},
			TableName: table,
		},
	}
}

// ParseCollectionOptions splits a collection target "entity.field". The field
// part is optional; when omitted the link is the target's lookup back to the source.
func ParseCollectionOptions(options string) (target, field string, err error) {
	options = strings.TrimSpace(options)
	if options == "" {
		return "", "", fmt.Errorf("empty collection target")
	}
	target, field, _ = strings.Cut(options, ".")
	if target == "" {
		return "", "", fmt.Errorf("invalid collection target %q", options)
	}
	return target, field, nil
}
