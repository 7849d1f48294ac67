package schema

import (
	"github.com/quiverhq/quiver/internal/domain"
)

// ValidateSpecification checks structural soundness of a specification
// update: unique type and field names, known kinds, and reference/component
// target types that exist in the merged spec.
func ValidateSpecification(spec *domain.SchemaSpecification) error {
	entityNames := make(map[string]struct{}, len(spec.EntityTypes))
	for _, t := range spec.EntityTypes {
		if t.Name == "" {
			return domain.NewBadRequest("entity type with empty name")
		}
		if _, exists := entityNames[t.Name]; exists {
			return domain.NewBadRequest("duplicate entity type %s", t.Name)
		}
		entityNames[t.Name] = struct{}{}
	}

	componentNames := make(map[string]struct{}, len(spec.ComponentTypes))
	for _, t := range spec.ComponentTypes {
		if t.Name == "" {
			return domain.NewBadRequest("component type with empty name")
		}
		if _, exists := componentNames[t.Name]; exists {
			return domain.NewBadRequest("duplicate component type %s", t.Name)
		}
		if _, exists := entityNames[t.Name]; exists {
			return domain.NewBadRequest("component type %s collides with an entity type", t.Name)
		}
		componentNames[t.Name] = struct{}{}
	}

	for _, t := range spec.EntityTypes {
		if err := validateFields(t.Name, t.Fields, entityNames, componentNames); err != nil {
			return err
		}
	}
	for _, t := range spec.ComponentTypes {
		if err := validateFields(t.Name, t.Fields, entityNames, componentNames); err != nil {
			return err
		}
	}
	return nil
}

func validateFields(typeName string, fields []domain.FieldSpecification, entityNames, componentNames map[string]struct{}) error {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return domain.NewBadRequest("%s: field with empty name", typeName)
		}
		if _, exists := seen[f.Name]; exists {
			return domain.NewBadRequest("%s.%s: duplicate field name", typeName, f.Name)
		}
		seen[f.Name] = struct{}{}

		known := false
		for _, kind := range domain.KnownFieldKinds {
			if f.Kind == kind {
				known = true
				break
			}
		}
		if !known {
			return domain.NewBadRequest("%s.%s: unknown field kind %q", typeName, f.Name, f.Kind)
		}

		if len(f.EntityTypes) > 0 && f.Kind != domain.FieldKindReference {
			return domain.NewBadRequest("%s.%s: entityTypes is only valid on reference fields", typeName, f.Name)
		}
		if len(f.ComponentTypes) > 0 && f.Kind != domain.FieldKindComponent && f.Kind != domain.FieldKindRichText {
			return domain.NewBadRequest("%s.%s: componentTypes is only valid on component and richText fields", typeName, f.Name)
		}
		for _, target := range f.EntityTypes {
			if _, exists := entityNames[target]; !exists {
				return domain.NewBadRequest("%s.%s: unknown entity type %s", typeName, f.Name, target)
			}
		}
		for _, target := range f.ComponentTypes {
			if _, exists := componentNames[target]; !exists {
				return domain.NewBadRequest("%s.%s: unknown component type %s", typeName, f.Name, target)
			}
		}
	}
	return nil
}

// MergeSpecifications merges an update into the current specification. Types
// and fields may be added freely; changed fields are accepted as declared and
// reported through DiffForRevalidation. Removing a type is rejected. The
// merged spec gets the next version number.
func MergeSpecifications(current, update *domain.SchemaSpecification) (*domain.SchemaSpecification, error) {
	merged := current.Clone()
	merged.Version = current.Version + 1

	for _, t := range update.EntityTypes {
		idx := indexOfEntityType(merged.EntityTypes, t.Name)
		if idx < 0 {
			merged.EntityTypes = append(merged.EntityTypes, t)
			continue
		}
		mergedFields, err := mergeFields(t.Name, merged.EntityTypes[idx].Fields, t.Fields)
		if err != nil {
			return nil, err
		}
		merged.EntityTypes[idx].AdminOnly = t.AdminOnly
		merged.EntityTypes[idx].Fields = mergedFields
	}

	for _, t := range update.ComponentTypes {
		idx := indexOfComponentType(merged.ComponentTypes, t.Name)
		if idx < 0 {
			merged.ComponentTypes = append(merged.ComponentTypes, t)
			continue
		}
		mergedFields, err := mergeFields(t.Name, merged.ComponentTypes[idx].Fields, t.Fields)
		if err != nil {
			return nil, err
		}
		merged.ComponentTypes[idx].AdminOnly = t.AdminOnly
		merged.ComponentTypes[idx].Fields = mergedFields
	}

	if err := ValidateSpecification(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// mergeFields overlays updated field specs onto existing ones, preserving
// declaration order of existing fields and appending new ones. Changing a
// field's kind requires a declared migration, which this store does not
// accept inline; the change is rejected.
func mergeFields(typeName string, existing, updated []domain.FieldSpecification) ([]domain.FieldSpecification, error) {
	merged := cloneSpecs(existing)
	for _, f := range updated {
		idx := -1
		for i, old := range merged {
			if old.Name == f.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			merged = append(merged, f)
			continue
		}
		if merged[idx].Kind != f.Kind {
			return nil, domain.NewBadRequest("%s.%s: changing field kind from %s to %s requires a migration", typeName, f.Name, merged[idx].Kind, f.Kind)
		}
		if merged[idx].List != f.List {
			return nil, domain.NewBadRequest("%s.%s: changing list-ness requires a migration", typeName, f.Name)
		}
		merged[idx] = f
	}
	return merged, nil
}

// DiffForRevalidation compares two specifications and returns the entity type
// names whose stored content must be revalidated: types whose own fields
// changed, plus types embedding a changed component type.
func DiffForRevalidation(old, new *domain.SchemaSpecification) []string {
	changedComponents := make(map[string]bool)
	for _, t := range new.ComponentTypes {
		prev, existed := old.ComponentType(t.Name)
		if existed && fieldsChanged(prev.Fields, t.Fields) {
			changedComponents[t.Name] = true
		}
	}

	var affected []string
	for _, t := range new.EntityTypes {
		prev, existed := old.EntityType(t.Name)
		if !existed {
			continue
		}
		if fieldsChanged(prev.Fields, t.Fields) || embedsChangedComponent(t.Fields, changedComponents, new) {
			affected = append(affected, t.Name)
		}
	}
	return affected
}

func fieldsChanged(old, new []domain.FieldSpecification) bool {
	oldByName := make(map[string]domain.FieldSpecification, len(old))
	for _, f := range old {
		oldByName[f.Name] = f
	}
	for _, f := range new {
		prev, existed := oldByName[f.Name]
		if !existed {
			// Additive, but a new required field invalidates existing content.
			if f.Required {
				return true
			}
			continue
		}
		if prev.Required != f.Required || prev.AdminOnly != f.AdminOnly {
			return true
		}
		if !sameStringSet(prev.EntityTypes, f.EntityTypes) || !sameStringSet(prev.ComponentTypes, f.ComponentTypes) {
			return true
		}
	}
	for _, f := range old {
		if _, kept := fieldByName(new, f.Name); !kept {
			return true
		}
	}
	return false
}

func embedsChangedComponent(fields []domain.FieldSpecification, changed map[string]bool, spec *domain.SchemaSpecification) bool {
	for _, f := range fields {
		if f.Kind != domain.FieldKindComponent && f.Kind != domain.FieldKindRichText {
			continue
		}
		targets := f.ComponentTypes
		if len(targets) == 0 {
			// Unrestricted embedding: any changed component type affects it.
			if len(changed) > 0 {
				return true
			}
			continue
		}
		for _, target := range targets {
			if changed[target] {
				return true
			}
		}
	}
	return false
}

func fieldByName(fields []domain.FieldSpecification, name string) (domain.FieldSpecification, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return domain.FieldSpecification{}, false
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

func cloneSpecs(fields []domain.FieldSpecification) []domain.FieldSpecification {
	clone := make([]domain.FieldSpecification, len(fields))
	copy(clone, fields)
	return clone
}

func indexOfEntityType(types []domain.EntityTypeSpecification, name string) int {
	for i, t := range types {
		if t.Name == name {
			return i
		}
	}
	return -1
}

func indexOfComponentType(types []domain.ComponentTypeSpecification, name string) int {
	for i, t := range types {
		if t.Name == name {
			return i
		}
	}
	return -1
}
