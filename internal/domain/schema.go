package domain

import (
	"encoding/json"
	"fmt"
)

// FieldKind represents the kind of a field in a type specification.
type FieldKind string

const (
	FieldKindString    FieldKind = "string"
	FieldKindNumber    FieldKind = "number"
	FieldKindBoolean   FieldKind = "boolean"
	FieldKindLocation  FieldKind = "location"
	FieldKindReference FieldKind = "reference"
	FieldKindComponent FieldKind = "component"
	FieldKindRichText  FieldKind = "richText"
)

// KnownFieldKinds enumerates every kind the codec can traverse, in a stable
// order used by validation messages.
var KnownFieldKinds = []FieldKind{
	FieldKindString,
	FieldKindNumber,
	FieldKindBoolean,
	FieldKindLocation,
	FieldKindReference,
	FieldKindComponent,
	FieldKindRichText,
}

// FieldSpecification declares one field of an entity or component type.
type FieldSpecification struct {
	Name string    `json:"name"`
	Kind FieldKind `json:"kind"`
	// List marks the field as holding an ordered list of the kind.
	List     bool `json:"list,omitempty"`
	Required bool `json:"required,omitempty"`
	// AdminOnly fields are stripped from published reads and block publishing
	// when set on an embedded component type.
	AdminOnly bool `json:"adminOnly,omitempty"`
	// EntityTypes restricts reference targets. Empty means any entity type.
	EntityTypes []string `json:"entityTypes,omitempty"`
	// ComponentTypes restricts embeddable component types. Empty means any.
	ComponentTypes []string `json:"componentTypes,omitempty"`
}

// EntityTypeSpecification declares a top-level entity type.
type EntityTypeSpecification struct {
	Name      string               `json:"name"`
	AdminOnly bool                 `json:"adminOnly,omitempty"`
	Fields    []FieldSpecification `json:"fields"`
}

// ComponentTypeSpecification declares an embeddable sub-object type.
type ComponentTypeSpecification struct {
	Name      string               `json:"name"`
	AdminOnly bool                 `json:"adminOnly,omitempty"`
	Fields    []FieldSpecification `json:"fields"`
}

// SchemaSpecification is the versioned type system of the store. It is plain
// data: traversal and validation live in the codec, never on these types.
type SchemaSpecification struct {
	Version        int                          `json:"version"`
	EntityTypes    []EntityTypeSpecification    `json:"entityTypes"`
	ComponentTypes []ComponentTypeSpecification `json:"componentTypes"`
}

// EntityType returns the named entity type specification.
func (s *SchemaSpecification) EntityType(name string) (EntityTypeSpecification, bool) {
	for _, t := range s.EntityTypes {
		if t.Name == name {
			return t, true
		}
	}
	return EntityTypeSpecification{}, false
}

// ComponentType returns the named component type specification.
func (s *SchemaSpecification) ComponentType(name string) (ComponentTypeSpecification, bool) {
	for _, t := range s.ComponentTypes {
		if t.Name == name {
			return t, true
		}
	}
	return ComponentTypeSpecification{}, false
}

// Field returns the named field of an entity type.
func (t EntityTypeSpecification) Field(name string) (FieldSpecification, bool) {
	return findField(t.Fields, name)
}

// Field returns the named field of a component type.
func (t ComponentTypeSpecification) Field(name string) (FieldSpecification, bool) {
	return findField(t.Fields, name)
}

func findField(fields []FieldSpecification, name string) (FieldSpecification, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpecification{}, false
}

// Clone returns a deep copy so registry snapshots stay immutable.
func (s *SchemaSpecification) Clone() *SchemaSpecification {
	clone := &SchemaSpecification{
		Version:        s.Version,
		EntityTypes:    make([]EntityTypeSpecification, len(s.EntityTypes)),
		ComponentTypes: make([]ComponentTypeSpecification, len(s.ComponentTypes)),
	}
	for i, t := range s.EntityTypes {
		t.Fields = cloneFieldSpecs(t.Fields)
		clone.EntityTypes[i] = t
	}
	for i, t := range s.ComponentTypes {
		t.Fields = cloneFieldSpecs(t.Fields)
		clone.ComponentTypes[i] = t
	}
	return clone
}

func cloneFieldSpecs(fields []FieldSpecification) []FieldSpecification {
	if fields == nil {
		return nil
	}
	clone := make([]FieldSpecification, len(fields))
	for i, f := range fields {
		f.EntityTypes = append([]string(nil), f.EntityTypes...)
		f.ComponentTypes = append([]string(nil), f.ComponentTypes...)
		clone[i] = f
	}
	return clone
}

// MarshalSpecification serializes the specification for storage and sync events.
func MarshalSpecification(s *SchemaSpecification) (json.RawMessage, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema specification: %w", err)
	}
	return data, nil
}

// UnmarshalSpecification decodes a stored specification payload.
func UnmarshalSpecification(data json.RawMessage) (*SchemaSpecification, error) {
	var s SchemaSpecification
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema specification: %w", err)
	}
	return &s, nil
}
