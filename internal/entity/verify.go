package entity

import (
	"fmt"
	"strings"
)

// VerifyError reports an entity definition that fails validation.
type VerifyError struct {
	Entity string
	Field  string
	Reason string
}

func (e *VerifyError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("entity %s: attribute %s: %s", e.Entity, e.Field, e.Reason)
	}
	return fmt.Sprintf("entity %s: %s", e.Entity, e.Reason)
}

var displayTypesByDataType = map[DataType][]DisplayType{
	DataTypeInt:        {DisplayNumber},
	DataTypeDatetime:   {DisplayDatetime, DisplayDate},
	DataTypeString:     {DisplayText, DisplayDropdown, DisplayImage, DisplayFile},
	DataTypeText:       {DisplayTextarea, DisplayEditor, DisplayGallery, DisplayMultiselect},
	DataTypeLookup:     {DisplayLookup, DisplayTreeSelect},
	DataTypeJunction:   {DisplayPicklist, DisplayTree},
	DataTypeCollection: {DisplayEditTable},
}

// ValidCombination reports whether the display type may render the data type.
func ValidCombination(dataType DataType, displayType DisplayType) bool {
	for _, candidate := range displayTypesByDataType[dataType] {
		if candidate == displayType {
			return true
		}
	}
	return false
}

// Verify checks the structural invariants of an entity definition.
func Verify(e *Entity) error {
	if e == nil {
		return &VerifyError{Reason: "definition is nil"}
	}
	if strings.TrimSpace(e.Name) == "" {
		return &VerifyError{Entity: e.Name, Reason: "name is required"}
	}
	if e.PrimaryKey == "" {
		return &VerifyError{Entity: e.Name, Reason: "primary key is required"}
	}
	if e.LabelAttributeName == "" {
		return &VerifyError{Entity: e.Name, Reason: "label attribute is required"}
	}
	if e.DefaultPageSize < 0 {
		return &VerifyError{Entity: e.Name, Reason: "default page size cannot be negative"}
	}
	if e.DefaultPublicationStatus != "" && !e.DefaultPublicationStatus.Valid() {
		return &VerifyError{Entity: e.Name, Reason: fmt.Sprintf("unknown publication status %q", e.DefaultPublicationStatus)}
	}

	seen := make(map[string]struct{}, len(e.Attributes))
	for _, attr := range e.Attributes {
		if attr.Field == "" {
			return &VerifyError{Entity: e.Name, Reason: "attribute with empty field name"}
		}
		if _, dup := seen[attr.Field]; dup {
			return &VerifyError{Entity: e.Name, Field: attr.Field, Reason: "duplicate attribute"}
		}
		seen[attr.Field] = struct{}{}
		if err := verifyAttribute(e.Name, attr); err != nil {
			return err
		}
	}

	if _, ok := seen[e.PrimaryKey]; !ok {
		return &VerifyError{Entity: e.Name, Field: e.PrimaryKey, Reason: "primary key is not in the attribute list"}
	}
	if _, ok := seen[e.LabelAttributeName]; !ok {
		return &VerifyError{Entity: e.Name, Field: e.LabelAttributeName, Reason: "label attribute is not in the attribute list"}
	}
	pk, _ := e.Attribute(e.PrimaryKey)
	if pk.DataType.IsCompound() {
		return &VerifyError{Entity: e.Name, Field: pk.Field, Reason: "primary key cannot be a relation"}
	}
	return nil
}

func verifyAttribute(entityName string, attr Attribute) error {
	if _, known := displayTypesByDataType[attr.DataType]; !known {
		return &VerifyError{Entity: entityName, Field: attr.Field, Reason: fmt.Sprintf("unknown data type %q", attr.DataType)}
	}
	if !ValidCombination(attr.DataType, attr.DisplayType) {
		return &VerifyError{
			Entity: entityName,
			Field:  attr.Field,
			Reason: fmt.Sprintf("display type %q is not valid for data type %s", attr.DisplayType, attr.DataType),
		}
	}
	switch attr.DisplayType {
	case DisplayDropdown, DisplayMultiselect:
		if strings.TrimSpace(attr.Options) == "" {
			return &VerifyError{Entity: entityName, Field: attr.Field, Reason: fmt.Sprintf("%s requires options", attr.DisplayType)}
		}
	}
	if attr.DataType.IsCompound() && strings.TrimSpace(attr.Options) == "" {
		return &VerifyError{Entity: entityName, Field: attr.Field, Reason: "relation requires a target in options"}
	}
	return nil
}
