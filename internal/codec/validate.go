package codec

import (
	"fmt"

	"github.com/quiverhq/quiver/internal/domain"
)

// ValidateForPublish checks that a stored field tree is fit for the published
// view: no missing required fields anywhere in the tree, and no embedded
// admin-only component types. The first offending path is reported.
func ValidateForPublish(spec *domain.SchemaSpecification, typeName string, fields map[string]any) error {
	entityType, ok := spec.EntityType(typeName)
	if !ok {
		return domain.NewBadRequest("unknown entity type %s", typeName)
	}
	return validatePublishFields(spec, entityType.Fields, fields, FieldsRoot)
}

func validatePublishFields(spec *domain.SchemaSpecification, specs []domain.FieldSpecification, fields map[string]any, path string) error {
	for _, fieldSpec := range specs {
		value, present := fields[fieldSpec.Name]
		if !present || value == nil {
			if fieldSpec.Required {
				return domain.NewBadRequest("%s.%s: required field is missing", path, fieldSpec.Name)
			}
			continue
		}
		if err := validatePublishValue(spec, fieldSpec, value, path+"."+fieldSpec.Name); err != nil {
			return err
		}
	}
	return nil
}

func validatePublishValue(spec *domain.SchemaSpecification, fieldSpec domain.FieldSpecification, value any, path string) error {
	if fieldSpec.List {
		list, ok := value.([]any)
		if !ok {
			return domain.NewBadRequest("%s: expected list of %s, got %s", path, fieldSpec.Kind, describe(value))
		}
		for i, item := range list {
			if err := validatePublishItem(spec, fieldSpec, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	}
	return validatePublishItem(spec, fieldSpec, value, path)
}

func validatePublishItem(spec *domain.SchemaSpecification, fieldSpec domain.FieldSpecification, value any, path string) error {
	switch fieldSpec.Kind {
	case domain.FieldKindComponent:
		node, ok := value.(map[string]any)
		if !ok {
			return domain.NewBadRequest("%s: expected component, got %s", path, describe(value))
		}
		return validatePublishComponent(spec, node, path)

	case domain.FieldKindRichText:
		node, ok := value.(map[string]any)
		if !ok {
			return domain.NewBadRequest("%s: expected richText, got %s", path, describe(value))
		}
		return validatePublishRichText(spec, node, path)

	default:
		return nil
	}
}

func validatePublishComponent(spec *domain.SchemaSpecification, node map[string]any, path string) error {
	typeName, _ := node["type"].(string)
	componentType, exists := spec.ComponentType(typeName)
	if !exists {
		return domain.NewBadRequest("%s: unknown component type %s", path, typeName)
	}
	if componentType.AdminOnly {
		return domain.NewBadRequest("%s: admin-only component type %s cannot be published", path, typeName)
	}
	return validatePublishFields(spec, componentType.Fields, node, path)
}

func validatePublishRichText(spec *domain.SchemaSpecification, node map[string]any, path string) error {
	if data, ok := domain.RichTextNodeComponentData(node); ok {
		if err := validatePublishComponent(spec, data, path+".data"); err != nil {
			return err
		}
	}
	for i, child := range domain.RichTextNodeChildren(node) {
		childNode, ok := child.(map[string]any)
		if !ok {
			continue
		}
		if err := validatePublishRichText(spec, childNode, fmt.Sprintf("%s.children[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}
