package codec

import (
	"github.com/quiverhq/quiver/internal/domain"
)

// Decode converts a stored field tree into the caller-facing shape under the
// current schema. Keys the schema no longer declares are stripped in
// ModeStrip and carried through untouched in ModeKeepExtra, so content written
// under a newer or older schema round-trips without loss until it is saved.
func Decode(spec *domain.SchemaSpecification, typeName string, stored map[string]any, mode Mode) (map[string]any, error) {
	entityType, ok := spec.EntityType(typeName)
	if !ok {
		return nil, domain.NewNotFound("unknown entity type %s", typeName)
	}
	return decodeFields(spec, entityType.Fields, stored, mode), nil
}

func decodeFields(spec *domain.SchemaSpecification, specs []domain.FieldSpecification, stored map[string]any, mode Mode) map[string]any {
	decoded := make(map[string]any, len(stored))
	for name, value := range stored {
		fieldSpec, declared := findSpec(specs, name)
		if !declared {
			if mode == ModeKeepExtra {
				decoded[name] = cloneAny(value)
			}
			continue
		}
		decoded[name] = decodeValue(spec, fieldSpec, value, mode)
	}
	return decoded
}

func decodeValue(spec *domain.SchemaSpecification, fieldSpec domain.FieldSpecification, value any, mode Mode) any {
	if fieldSpec.List {
		list, ok := value.([]any)
		if !ok {
			return value
		}
		decoded := make([]any, len(list))
		for i, item := range list {
			decoded[i] = decodeItem(spec, fieldSpec, item, mode)
		}
		return decoded
	}
	return decodeItem(spec, fieldSpec, value, mode)
}

func decodeItem(spec *domain.SchemaSpecification, fieldSpec domain.FieldSpecification, value any, mode Mode) any {
	switch fieldSpec.Kind {
	case domain.FieldKindComponent:
		node, ok := value.(map[string]any)
		if !ok {
			return value
		}
		return decodeComponent(spec, node, mode)

	case domain.FieldKindRichText:
		node, ok := value.(map[string]any)
		if !ok {
			return value
		}
		return decodeRichText(spec, node, mode)

	default:
		return cloneAny(value)
	}
}

func decodeComponent(spec *domain.SchemaSpecification, node map[string]any, mode Mode) map[string]any {
	typeName, _ := node["type"].(string)
	componentType, exists := spec.ComponentType(typeName)
	if !exists {
		if mode == ModeKeepExtra {
			return domain.CloneFields(node)
		}
		return map[string]any{"type": typeName}
	}
	inner := make(map[string]any, len(node))
	for key, value := range node {
		if key != "type" {
			inner[key] = value
		}
	}
	decoded := decodeFields(spec, componentType.Fields, inner, mode)
	decoded["type"] = typeName
	return decoded
}

func decodeRichText(spec *domain.SchemaSpecification, node map[string]any, mode Mode) map[string]any {
	decoded := domain.CloneFields(node)
	if data, ok := domain.RichTextNodeComponentData(node); ok {
		decoded["data"] = decodeComponent(spec, data, mode)
	}
	children := domain.RichTextNodeChildren(node)
	if len(children) > 0 {
		decodedChildren := make([]any, len(children))
		for i, child := range children {
			if childNode, ok := child.(map[string]any); ok {
				decodedChildren[i] = decodeRichText(spec, childNode, mode)
			} else {
				decodedChildren[i] = child
			}
		}
		decoded["children"] = decodedChildren
	}
	return decoded
}

// StripAdminOnly removes admin-only fields from the tree, recursively through
// components and rich-text component data. Published reads and exports go
// through this cleanup.
func StripAdminOnly(spec *domain.SchemaSpecification, typeName string, fields map[string]any) map[string]any {
	entityType, ok := spec.EntityType(typeName)
	if !ok {
		return fields
	}
	return stripAdminFields(spec, entityType.Fields, fields)
}

func stripAdminFields(spec *domain.SchemaSpecification, specs []domain.FieldSpecification, fields map[string]any) map[string]any {
	cleaned := make(map[string]any, len(fields))
	for name, value := range fields {
		fieldSpec, declared := findSpec(specs, name)
		if declared && fieldSpec.AdminOnly {
			continue
		}
		if !declared {
			cleaned[name] = value
			continue
		}
		cleaned[name] = stripAdminValue(spec, fieldSpec, value)
	}
	return cleaned
}

func stripAdminValue(spec *domain.SchemaSpecification, fieldSpec domain.FieldSpecification, value any) any {
	if fieldSpec.List {
		if list, ok := value.([]any); ok {
			cleaned := make([]any, len(list))
			for i, item := range list {
				cleaned[i] = stripAdminItem(spec, fieldSpec, item)
			}
			return cleaned
		}
		return value
	}
	return stripAdminItem(spec, fieldSpec, value)
}

func stripAdminItem(spec *domain.SchemaSpecification, fieldSpec domain.FieldSpecification, value any) any {
	switch fieldSpec.Kind {
	case domain.FieldKindComponent:
		if node, ok := value.(map[string]any); ok {
			return stripAdminComponent(spec, node)
		}
	case domain.FieldKindRichText:
		if node, ok := value.(map[string]any); ok {
			return stripAdminRichText(spec, node)
		}
	}
	return value
}

func stripAdminComponent(spec *domain.SchemaSpecification, node map[string]any) map[string]any {
	typeName, _ := node["type"].(string)
	componentType, exists := spec.ComponentType(typeName)
	if !exists {
		return node
	}
	cleaned := stripAdminFields(spec, componentType.Fields, node)
	cleaned["type"] = typeName
	return cleaned
}

func stripAdminRichText(spec *domain.SchemaSpecification, node map[string]any) map[string]any {
	cleaned := domain.CloneFields(node)
	if data, ok := domain.RichTextNodeComponentData(node); ok {
		cleaned["data"] = stripAdminComponent(spec, data)
	}
	children := domain.RichTextNodeChildren(node)
	if len(children) > 0 {
		cleanedChildren := make([]any, len(children))
		for i, child := range children {
			if childNode, ok := child.(map[string]any); ok {
				cleanedChildren[i] = stripAdminRichText(spec, childNode)
			} else {
				cleanedChildren[i] = child
			}
		}
		cleaned["children"] = cleanedChildren
	}
	return cleaned
}

// MaterializeAbsent fills declared top-level fields the tree omits with
// explicit nulls, so the published view always shows the full declared shape.
// Admin-only fields stay absent, matching the stripped read.
func MaterializeAbsent(spec *domain.SchemaSpecification, typeName string, fields map[string]any) map[string]any {
	entityType, ok := spec.EntityType(typeName)
	if !ok {
		return fields
	}
	for _, fieldSpec := range entityType.Fields {
		if fieldSpec.AdminOnly {
			continue
		}
		if _, present := fields[fieldSpec.Name]; !present {
			fields[fieldSpec.Name] = nil
		}
	}
	return fields
}

func cloneAny(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return domain.CloneFields(typed)
	case []any:
		clone := make([]any, len(typed))
		for i, item := range typed {
			clone[i] = cloneAny(item)
		}
		return clone
	default:
		return typed
	}
}

func findSpec(specs []domain.FieldSpecification, name string) (domain.FieldSpecification, bool) {
	for _, f := range specs {
		if f.Name == name {
			return f, true
		}
	}
	return domain.FieldSpecification{}, false
}
