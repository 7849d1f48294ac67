package domain

import (
	"github.com/google/uuid"
)

// RichTextNodeKind tags one node in a rich-text tree. Rich-text values are
// stored as plain map trees (the same storage shape as component fields);
// these constants and accessors give the codec a closed set to switch over.
type RichTextNodeKind string

const (
	RichTextNodeRoot       RichTextNodeKind = "root"
	RichTextNodeText       RichTextNodeKind = "text"
	RichTextNodeParagraph  RichTextNodeKind = "paragraph"
	RichTextNodeHeading    RichTextNodeKind = "heading"
	RichTextNodeList       RichTextNodeKind = "list"
	RichTextNodeListItem   RichTextNodeKind = "listItem"
	RichTextNodeLink       RichTextNodeKind = "link"
	RichTextNodeEntityLink RichTextNodeKind = "entityLink"
	RichTextNodeComponent  RichTextNodeKind = "component"
	RichTextNodeCode       RichTextNodeKind = "code"
)

// KnownRichTextNodeKinds is the closed set the codec traverses.
var KnownRichTextNodeKinds = []RichTextNodeKind{
	RichTextNodeRoot,
	RichTextNodeText,
	RichTextNodeParagraph,
	RichTextNodeHeading,
	RichTextNodeList,
	RichTextNodeListItem,
	RichTextNodeLink,
	RichTextNodeEntityLink,
	RichTextNodeComponent,
	RichTextNodeCode,
}

// RichTextNodeKindOf reads the kind tag of a node map.
func RichTextNodeKindOf(node map[string]any) (RichTextNodeKind, bool) {
	raw, ok := node["kind"].(string)
	if !ok {
		return "", false
	}
	kind := RichTextNodeKind(raw)
	for _, known := range KnownRichTextNodeKinds {
		if kind == known {
			return kind, true
		}
	}
	return kind, false
}

// RichTextNodeChildren returns the node's child list, if any.
func RichTextNodeChildren(node map[string]any) []any {
	children, _ := node["children"].([]any)
	return children
}

// RichTextNodeTextOf returns the text payload of a text node.
func RichTextNodeTextOf(node map[string]any) string {
	text, _ := node["text"].(string)
	return text
}

// RichTextNodeEntityID returns the target id of an entityLink node.
func RichTextNodeEntityID(node map[string]any) (uuid.UUID, bool) {
	raw, ok := node["id"].(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// RichTextNodeComponentData returns the embedded component payload of a
// component node. The payload carries a "type" key plus the component fields.
func RichTextNodeComponentData(node map[string]any) (map[string]any, bool) {
	data, ok := node["data"].(map[string]any)
	return data, ok
}
