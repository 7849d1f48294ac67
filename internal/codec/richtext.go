package codec

import (
	"fmt"

	"github.com/quiverhq/quiver/internal/domain"
)

// walkRichTextNode encodes one rich-text node and recurses into children and
// embedded component data. Text leaves feed the full-text index; entity links
// feed the reference set under the field's entity-type restriction.
func (w *walker) walkRichTextNode(spec domain.FieldSpecification, node map[string]any, path string) (map[string]any, error) {
	kind, known := domain.RichTextNodeKindOf(node)
	if !known {
		return nil, domain.NewBadRequest("%s: unknown rich text node kind %q", path, node["kind"])
	}

	encoded := map[string]any{"kind": string(kind)}

	switch kind {
	case domain.RichTextNodeText:
		text := domain.RichTextNodeTextOf(node)
		if text != "" {
			w.result.FullText = append(w.result.FullText, text)
		}
		encoded["text"] = text
		return encoded, nil

	case domain.RichTextNodeEntityLink:
		id, ok := domain.RichTextNodeEntityID(node)
		if !ok {
			return nil, domain.NewBadRequest("%s: entityLink requires an entity id", path)
		}
		w.result.References = append(w.result.References, ReferenceRequest{
			Path:         path,
			ID:           id,
			AllowedTypes: spec.EntityTypes,
		})
		encoded["id"] = id.String()

	case domain.RichTextNodeComponent:
		data, ok := domain.RichTextNodeComponentData(node)
		if !ok {
			return nil, domain.NewBadRequest("%s: component node requires data", path)
		}
		encodedData, err := w.walkComponent(spec.ComponentTypes, data, path+".data")
		if err != nil {
			return nil, err
		}
		encoded["data"] = encodedData
		return encoded, nil

	case domain.RichTextNodeLink:
		url, ok := node["url"].(string)
		if !ok || url == "" {
			return nil, domain.NewBadRequest("%s: link requires a url", path)
		}
		encoded["url"] = url

	case domain.RichTextNodeHeading:
		if level, ok := asFloat(node["level"]); ok {
			encoded["level"] = level
		}

	case domain.RichTextNodeCode:
		if language, ok := node["language"].(string); ok && language != "" {
			encoded["language"] = language
		}
		if code, ok := node["code"].(string); ok {
			w.result.FullText = append(w.result.FullText, code)
			encoded["code"] = code
		}
	}

	children := domain.RichTextNodeChildren(node)
	if len(children) > 0 {
		encodedChildren := make([]any, 0, len(children))
		for i, child := range children {
			childNode, ok := child.(map[string]any)
			if !ok {
				return nil, domain.NewBadRequest("%s.children[%d]: expected rich text node, got %s", path, i, describe(child))
			}
			childPath := fmt.Sprintf("%s.children[%d]", path, i)
			encodedChild, err := w.walkRichTextNode(spec, childNode, childPath)
			if err != nil {
				return nil, err
			}
			encodedChildren = append(encodedChildren, encodedChild)
		}
		encoded["children"] = encodedChildren
	}

	return encoded, nil
}
