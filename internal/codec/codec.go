// Package codec implements the schema-driven recursive walker over entity
// field trees. One visitor shape is reused for encoding, decoding,
// publish-validation and migration rewrites; index data (full-text tokens,
// geo points, outgoing references) is collected in the same encoding pass.
//
// The codec is deliberately a set of free functions parameterized by
// specification and path. The schema stays plain data.
package codec

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/quiverhq/quiver/internal/domain"
)

// FieldsRoot is the path prefix reported for field-level errors.
const FieldsRoot = "entity.fields"

// Mode controls how decode treats keys that the current schema does not
// declare. ModeKeepExtra lets forward-incompatible content round-trip without
// data loss until it is explicitly saved.
type Mode int

const (
	ModeStrip Mode = iota
	ModeKeepExtra
)

// ReferenceRequest records one outgoing reference found while encoding,
// together with the path it was found at and the type restriction declared by
// the field. The engine resolves all requests of a tree in one bulk lookup.
type ReferenceRequest struct {
	Path         string
	ID           uuid.UUID
	AllowedTypes []string
}

// EncodeResult is the outcome of one encoding pass.
type EncodeResult struct {
	Fields     map[string]any
	FullText   []string
	Locations  []domain.Location
	References []ReferenceRequest
}

// ReferenceIDs returns the deduplicated outgoing reference set in a stable
// order. This is the persisted reference-edge set of the version.
func (r *EncodeResult) ReferenceIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(r.References))
	ids := make([]uuid.UUID, 0, len(r.References))
	for _, req := range r.References {
		if _, dup := seen[req.ID]; dup {
			continue
		}
		seen[req.ID] = struct{}{}
		ids = append(ids, req.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Encode validates and normalizes a caller-supplied field tree against the
// schema, collecting index data in the same pass. Unknown fields, wrong
// shapes and malformed nested nodes abort with BadRequest naming the exact
// path.
func Encode(spec *domain.SchemaSpecification, typeName string, fields map[string]any) (*EncodeResult, error) {
	entityType, ok := spec.EntityType(typeName)
	if !ok {
		return nil, domain.NewBadRequest("unknown entity type %s", typeName)
	}
	w := &walker{spec: spec, result: &EncodeResult{}}
	encoded, err := w.walkFields(entityType.Fields, fields, FieldsRoot)
	if err != nil {
		return nil, err
	}
	w.result.Fields = encoded
	return w.result, nil
}

// VerifyReferences checks every collected reference against the bulk-resolved
// target set: the target must exist and its type must be allowed for the
// field the reference sits in. All failures are collected, not just the first.
func VerifyReferences(requests []ReferenceRequest, resolved map[uuid.UUID]domain.Entity) error {
	var problems []string
	for _, req := range requests {
		target, found := resolved[req.ID]
		if !found {
			problems = append(problems, fmt.Sprintf("%s: referenced entity %s does not exist", req.Path, req.ID))
			continue
		}
		if len(req.AllowedTypes) == 0 {
			continue
		}
		allowed := false
		for _, t := range req.AllowedTypes {
			if target.Type == t {
				allowed = true
				break
			}
		}
		if !allowed {
			problems = append(problems, fmt.Sprintf("%s: referenced entity %s has type %s, expected one of [%s]",
				req.Path, req.ID, target.Type, strings.Join(req.AllowedTypes, ", ")))
		}
	}
	if len(problems) > 0 {
		return domain.NewBadRequest("%s", strings.Join(problems, "; "))
	}
	return nil
}

// walker carries one traversal's state.
type walker struct {
	spec   *domain.SchemaSpecification
	result *EncodeResult
}

// walkFields encodes one typed object level: every present key must be a
// declared field, and every value must match the field's kind and list-ness.
// Empty lists and empty strings normalize to absent.
func (w *walker) walkFields(specs []domain.FieldSpecification, fields map[string]any, path string) (map[string]any, error) {
	encoded := make(map[string]any)
	for name, value := range fields {
		fieldSpec, declared := domain.FieldSpecification{}, false
		for _, f := range specs {
			if f.Name == name {
				fieldSpec, declared = f, true
				break
			}
		}
		if !declared {
			return nil, domain.NewBadRequest("%s.%s: unsupported field", path, name)
		}
		if value == nil {
			continue
		}
		fieldPath := path + "." + name
		normalized, err := w.walkField(fieldSpec, value, fieldPath)
		if err != nil {
			return nil, err
		}
		if normalized != nil {
			encoded[name] = normalized
		}
	}
	if len(encoded) == 0 {
		return map[string]any{}, nil
	}
	return encoded, nil
}

// walkField dispatches on list-ness, then per item on the field kind.
func (w *walker) walkField(spec domain.FieldSpecification, value any, path string) (any, error) {
	if spec.List {
		list, ok := value.([]any)
		if !ok {
			return nil, domain.NewBadRequest("%s: expected list of %s, got %s", path, spec.Kind, describe(value))
		}
		if len(list) == 0 {
			return nil, nil
		}
		encoded := make([]any, 0, len(list))
		for i, item := range list {
			itemPath := fmt.Sprintf("%s[%d]", path, i)
			if item == nil {
				return nil, domain.NewBadRequest("%s: list items cannot be null", itemPath)
			}
			normalized, err := w.walkItem(spec, item, itemPath)
			if err != nil {
				return nil, err
			}
			if normalized != nil {
				encoded = append(encoded, normalized)
			}
		}
		if len(encoded) == 0 {
			return nil, nil
		}
		return encoded, nil
	}
	return w.walkItem(spec, value, path)
}

// walkItem handles one value of the field's kind. The switch is exhaustive
// over KnownFieldKinds.
func (w *walker) walkItem(spec domain.FieldSpecification, value any, path string) (any, error) {
	switch spec.Kind {
	case domain.FieldKindString:
		text, ok := value.(string)
		if !ok {
			return nil, domain.NewBadRequest("%s: expected string, got %s", path, describe(value))
		}
		if text == "" {
			return nil, nil
		}
		w.result.FullText = append(w.result.FullText, text)
		return text, nil

	case domain.FieldKindNumber:
		switch typed := value.(type) {
		case float64:
			return typed, nil
		case int:
			return float64(typed), nil
		default:
			return nil, domain.NewBadRequest("%s: expected number, got %s", path, describe(value))
		}

	case domain.FieldKindBoolean:
		flag, ok := value.(bool)
		if !ok {
			return nil, domain.NewBadRequest("%s: expected boolean, got %s", path, describe(value))
		}
		return flag, nil

	case domain.FieldKindLocation:
		return w.walkLocation(value, path)

	case domain.FieldKindReference:
		return w.walkReference(spec.EntityTypes, value, path)

	case domain.FieldKindComponent:
		node, ok := value.(map[string]any)
		if !ok {
			return nil, domain.NewBadRequest("%s: expected component, got %s", path, describe(value))
		}
		return w.walkComponent(spec.ComponentTypes, node, path)

	case domain.FieldKindRichText:
		node, ok := value.(map[string]any)
		if !ok {
			return nil, domain.NewBadRequest("%s: expected richText, got %s", path, describe(value))
		}
		return w.walkRichTextNode(spec, node, path)

	default:
		return nil, domain.NewBadRequest("%s: unknown field kind %q", path, spec.Kind)
	}
}

func (w *walker) walkLocation(value any, path string) (any, error) {
	node, ok := value.(map[string]any)
	if !ok {
		return nil, domain.NewBadRequest("%s: expected location, got %s", path, describe(value))
	}
	lat, latOK := asFloat(node["lat"])
	lng, lngOK := asFloat(node["lng"])
	if !latOK || !lngOK {
		return nil, domain.NewBadRequest("%s: location requires numeric lat and lng", path)
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, domain.NewBadRequest("%s: location out of range (lat %v, lng %v)", path, lat, lng)
	}
	w.result.Locations = append(w.result.Locations, domain.Location{Lat: lat, Lng: lng})
	return map[string]any{"lat": lat, "lng": lng}, nil
}

func (w *walker) walkReference(allowedTypes []string, value any, path string) (any, error) {
	node, ok := value.(map[string]any)
	if !ok {
		return nil, domain.NewBadRequest("%s: expected reference, got %s", path, describe(value))
	}
	raw, ok := node["id"].(string)
	if !ok {
		return nil, domain.NewBadRequest("%s: reference requires an id", path)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, domain.NewBadRequest("%s: invalid reference id %q", path, raw)
	}
	w.result.References = append(w.result.References, ReferenceRequest{
		Path:         path,
		ID:           id,
		AllowedTypes: allowedTypes,
	})
	return map[string]any{"id": id.String()}, nil
}

// walkComponent encodes an embedded typed sub-object. The node carries its
// component type under the "type" key next to its fields.
func (w *walker) walkComponent(allowedTypes []string, node map[string]any, path string) (map[string]any, error) {
	typeName, ok := node["type"].(string)
	if !ok || typeName == "" {
		return nil, domain.NewBadRequest("%s: component requires a type", path)
	}
	componentType, exists := w.spec.ComponentType(typeName)
	if !exists {
		return nil, domain.NewBadRequest("%s: unknown component type %s", path, typeName)
	}
	if len(allowedTypes) > 0 {
		allowed := false
		for _, t := range allowedTypes {
			if t == typeName {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, domain.NewBadRequest("%s: component type %s is not allowed here", path, typeName)
		}
	}

	inner := make(map[string]any, len(node)-1)
	for key, value := range node {
		if key != "type" {
			inner[key] = value
		}
	}
	encoded, err := w.walkFields(componentType.Fields, inner, path)
	if err != nil {
		return nil, err
	}
	encoded["type"] = typeName
	return encoded, nil
}

func asFloat(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case int:
		return float64(typed), true
	default:
		return 0, false
	}
}

// describe names a value's shape for coercion error messages.
func describe(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int:
		return "number"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}
