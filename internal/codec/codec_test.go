package codec

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/quiverhq/quiver/internal/domain"
)

func testSpec() *domain.SchemaSpecification {
	return &domain.SchemaSpecification{
		Version: 1,
		EntityTypes: []domain.EntityTypeSpecification{
			{
				Name: "article",
				Fields: []domain.FieldSpecification{
					{Name: "title", Kind: domain.FieldKindString, Required: true},
					{Name: "rating", Kind: domain.FieldKindNumber},
					{Name: "featured", Kind: domain.FieldKindBoolean},
					{Name: "tags", Kind: domain.FieldKindString, List: true},
					{Name: "place", Kind: domain.FieldKindLocation},
					{Name: "author", Kind: domain.FieldKindReference, EntityTypes: []string{"person"}},
					{Name: "seo", Kind: domain.FieldKindComponent, ComponentTypes: []string{"seo"}},
					{Name: "body", Kind: domain.FieldKindRichText},
					{Name: "internalNote", Kind: domain.FieldKindString, AdminOnly: true},
				},
			},
			{Name: "person", Fields: []domain.FieldSpecification{
				{Name: "name", Kind: domain.FieldKindString, Required: true},
			}},
		},
		ComponentTypes: []domain.ComponentTypeSpecification{
			{Name: "seo", Fields: []domain.FieldSpecification{
				{Name: "description", Kind: domain.FieldKindString},
				{Name: "trackingId", Kind: domain.FieldKindString, AdminOnly: true},
			}},
			{Name: "secret", AdminOnly: true, Fields: []domain.FieldSpecification{
				{Name: "note", Kind: domain.FieldKindString},
			}},
		},
	}
}

func TestEncodeCollectsIndexData(t *testing.T) {
	spec := testSpec()
	author := uuid.New()

	result, err := Encode(spec, "article", map[string]any{
		"title":  "Hello World",
		"rating": 4,
		"tags":   []any{"go", "storage"},
		"place":  map[string]any{"lat": 51.5, "lng": -0.1},
		"author": map[string]any{"id": author.String()},
	})
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	if result.Fields["rating"] != float64(4) {
		t.Fatalf("expected rating normalized to float64, got %#v", result.Fields["rating"])
	}
	wantText := map[string]bool{"Hello World": true, "go": true, "storage": true}
	for _, token := range result.FullText {
		delete(wantText, token)
	}
	if len(wantText) > 0 {
		t.Fatalf("missing full text tokens %v in %v", wantText, result.FullText)
	}
	if len(result.Locations) != 1 || result.Locations[0].Lat != 51.5 {
		t.Fatalf("expected one location, got %v", result.Locations)
	}
	ids := result.ReferenceIDs()
	if len(ids) != 1 || ids[0] != author {
		t.Fatalf("expected reference to %s, got %v", author, ids)
	}
}

func TestEncodeRejectsUnknownFieldWithPath(t *testing.T) {
	_, err := Encode(testSpec(), "article", map[string]any{"bogus": "x"})
	if !domain.IsBadRequest(err) {
		t.Fatalf("expected BadRequest, got %v", err)
	}
	if !strings.Contains(err.Error(), "entity.fields.bogus") {
		t.Fatalf("expected error to name the path, got %q", err.Error())
	}
}

func TestEncodeRejectsWrongShapes(t *testing.T) {
	cases := map[string]map[string]any{
		"scalar for list":       {"tags": "go"},
		"list for scalar":       {"title": []any{"a"}},
		"string for number":     {"rating": "5"},
		"out of range location": {"place": map[string]any{"lat": 123.0, "lng": 0.0}},
		"reference without id":  {"author": map[string]any{}},
		"null list item":        {"tags": []any{nil}},
	}
	for name, fields := range cases {
		if _, err := Encode(testSpec(), "article", fields); !domain.IsBadRequest(err) {
			t.Fatalf("%s: expected BadRequest, got %v", name, err)
		}
	}
}

func TestEncodeNormalizesEmptyValues(t *testing.T) {
	result, err := Encode(testSpec(), "article", map[string]any{
		"title": "x",
		"tags":  []any{},
	})
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if _, present := result.Fields["tags"]; present {
		t.Fatalf("expected empty list to normalize to absent, got %#v", result.Fields["tags"])
	}
}

func TestEncodeComponentCarriesType(t *testing.T) {
	result, err := Encode(testSpec(), "article", map[string]any{
		"title": "x",
		"seo":   map[string]any{"type": "seo", "description": "about go"},
	})
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	component, ok := result.Fields["seo"].(map[string]any)
	if !ok || component["type"] != "seo" {
		t.Fatalf("expected encoded component with type, got %#v", result.Fields["seo"])
	}
}

func TestEncodeComponentTypeRestriction(t *testing.T) {
	_, err := Encode(testSpec(), "article", map[string]any{
		"title": "x",
		"seo":   map[string]any{"type": "secret", "note": "hi"},
	})
	if !domain.IsBadRequest(err) {
		t.Fatalf("expected BadRequest for disallowed component type, got %v", err)
	}
}

func TestEncodeRichTextCollectsTextAndLinks(t *testing.T) {
	target := uuid.New()
	result, err := Encode(testSpec(), "article", map[string]any{
		"title": "x",
		"body": map[string]any{
			"kind": "root",
			"children": []any{
				map[string]any{"kind": "paragraph", "children": []any{
					map[string]any{"kind": "text", "text": "deep dive"},
					map[string]any{"kind": "entityLink", "id": target.String()},
				}},
			},
		},
	})
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	foundText := false
	for _, token := range result.FullText {
		if token == "deep dive" {
			foundText = true
		}
	}
	if !foundText {
		t.Fatalf("expected rich text leaf in full text, got %v", result.FullText)
	}
	ids := result.ReferenceIDs()
	if len(ids) != 1 || ids[0] != target {
		t.Fatalf("expected entityLink reference, got %v", ids)
	}
}

func TestVerifyReferencesCollectsAllProblems(t *testing.T) {
	missing := uuid.New()
	wrongType := uuid.New()
	requests := []ReferenceRequest{
		{Path: "entity.fields.author", ID: missing, AllowedTypes: []string{"person"}},
		{Path: "entity.fields.author", ID: wrongType, AllowedTypes: []string{"person"}},
	}
	resolved := map[uuid.UUID]domain.Entity{
		wrongType: {ID: wrongType, Type: "article"},
	}
	err := VerifyReferences(requests, resolved)
	if !domain.IsBadRequest(err) {
		t.Fatalf("expected BadRequest, got %v", err)
	}
	if !strings.Contains(err.Error(), missing.String()) || !strings.Contains(err.Error(), wrongType.String()) {
		t.Fatalf("expected both problems reported, got %q", err.Error())
	}
}

func TestValidateForPublishRequiredFields(t *testing.T) {
	err := ValidateForPublish(testSpec(), "article", map[string]any{"rating": 3.0})
	if !domain.IsBadRequest(err) {
		t.Fatalf("expected BadRequest, got %v", err)
	}
	if !strings.Contains(err.Error(), "entity.fields.title") {
		t.Fatalf("expected missing title path, got %q", err.Error())
	}
	if err := ValidateForPublish(testSpec(), "article", map[string]any{"title": "ok"}); err != nil {
		t.Fatalf("expected valid tree, got %v", err)
	}
}

func TestValidateForPublishAdminOnlyComponent(t *testing.T) {
	err := ValidateForPublish(testSpec(), "article", map[string]any{
		"title": "ok",
		"body": map[string]any{
			"kind": "root",
			"children": []any{
				map[string]any{"kind": "component", "data": map[string]any{"type": "secret", "note": "x"}},
			},
		},
	})
	if !domain.IsBadRequest(err) {
		t.Fatalf("expected BadRequest for admin-only component, got %v", err)
	}
}

func TestDecodeModes(t *testing.T) {
	stored := map[string]any{
		"title":   "x",
		"removed": "legacy value",
	}
	stripped, err := Decode(testSpec(), "article", stored, ModeStrip)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if _, present := stripped["removed"]; present {
		t.Fatalf("expected undeclared key stripped, got %#v", stripped)
	}
	kept, err := Decode(testSpec(), "article", stored, ModeKeepExtra)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if kept["removed"] != "legacy value" {
		t.Fatalf("expected undeclared key kept, got %#v", kept)
	}
}

func TestStripAdminOnly(t *testing.T) {
	cleaned := StripAdminOnly(testSpec(), "article", map[string]any{
		"title":        "x",
		"internalNote": "hidden",
		"seo":          map[string]any{"type": "seo", "description": "d", "trackingId": "t"},
	})
	if _, present := cleaned["internalNote"]; present {
		t.Fatalf("expected admin-only field removed, got %#v", cleaned)
	}
	component := cleaned["seo"].(map[string]any)
	if _, present := component["trackingId"]; present {
		t.Fatalf("expected nested admin-only field removed, got %#v", component)
	}
	if component["description"] != "d" {
		t.Fatalf("expected visible component field kept, got %#v", component)
	}
}

func TestMigrateDropsRemovedKeys(t *testing.T) {
	stored := map[string]any{
		"title":   "x",
		"removed": "legacy",
	}
	result, changed, err := Migrate(testSpec(), "article", stored)
	if err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	if !changed {
		t.Fatalf("expected migration to report changed content")
	}
	if _, present := result.Fields["removed"]; present {
		t.Fatalf("expected removed key dropped, got %#v", result.Fields)
	}

	_, changed, err = Migrate(testSpec(), "article", result.Fields)
	if err != nil {
		t.Fatalf("second Migrate returned error: %v", err)
	}
	if changed {
		t.Fatalf("expected already-migrated content to be unchanged")
	}
}
