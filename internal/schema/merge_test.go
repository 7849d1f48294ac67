package schema

import (
	"testing"

	"github.com/quiverhq/quiver/internal/domain"
)

func baseSpec() *domain.SchemaSpecification {
	return &domain.SchemaSpecification{
		Version: 3,
		EntityTypes: []domain.EntityTypeSpecification{
			{Name: "article", Fields: []domain.FieldSpecification{
				{Name: "title", Kind: domain.FieldKindString, Required: true},
				{Name: "seo", Kind: domain.FieldKindComponent, ComponentTypes: []string{"seo"}},
			}},
			{Name: "person", Fields: []domain.FieldSpecification{
				{Name: "name", Kind: domain.FieldKindString},
			}},
		},
		ComponentTypes: []domain.ComponentTypeSpecification{
			{Name: "seo", Fields: []domain.FieldSpecification{
				{Name: "description", Kind: domain.FieldKindString},
			}},
		},
	}
}

func TestValidateSpecificationRejectsMalformedSpecs(t *testing.T) {
	cases := map[string]*domain.SchemaSpecification{
		"duplicate entity type": {EntityTypes: []domain.EntityTypeSpecification{
			{Name: "article"}, {Name: "article"},
		}},
		"duplicate field": {EntityTypes: []domain.EntityTypeSpecification{
			{Name: "article", Fields: []domain.FieldSpecification{
				{Name: "title", Kind: domain.FieldKindString},
				{Name: "title", Kind: domain.FieldKindString},
			}},
		}},
		"unknown kind": {EntityTypes: []domain.EntityTypeSpecification{
			{Name: "article", Fields: []domain.FieldSpecification{
				{Name: "title", Kind: "blob"},
			}},
		}},
		"entityTypes on non-reference": {EntityTypes: []domain.EntityTypeSpecification{
			{Name: "article", Fields: []domain.FieldSpecification{
				{Name: "title", Kind: domain.FieldKindString, EntityTypes: []string{"article"}},
			}},
		}},
		"unknown reference target": {EntityTypes: []domain.EntityTypeSpecification{
			{Name: "article", Fields: []domain.FieldSpecification{
				{Name: "author", Kind: domain.FieldKindReference, EntityTypes: []string{"ghost"}},
			}},
		}},
		"unknown component target": {EntityTypes: []domain.EntityTypeSpecification{
			{Name: "article", Fields: []domain.FieldSpecification{
				{Name: "seo", Kind: domain.FieldKindComponent, ComponentTypes: []string{"ghost"}},
			}},
		}},
	}
	for name, spec := range cases {
		if err := ValidateSpecification(spec); !domain.IsBadRequest(err) {
			t.Fatalf("%s: expected BadRequest, got %v", name, err)
		}
	}
	if err := ValidateSpecification(baseSpec()); err != nil {
		t.Fatalf("expected valid spec, got %v", err)
	}
}

func TestMergeSpecificationsAddsTypesAndBumpsVersion(t *testing.T) {
	current := baseSpec()
	update := &domain.SchemaSpecification{
		EntityTypes: []domain.EntityTypeSpecification{
			{Name: "venue", Fields: []domain.FieldSpecification{
				{Name: "location", Kind: domain.FieldKindLocation},
			}},
			{Name: "article", Fields: []domain.FieldSpecification{
				{Name: "subtitle", Kind: domain.FieldKindString},
			}},
		},
	}

	merged, err := MergeSpecifications(current, update)
	if err != nil {
		t.Fatalf("MergeSpecifications returned error: %v", err)
	}
	if merged.Version != current.Version+1 {
		t.Fatalf("expected version %d, got %d", current.Version+1, merged.Version)
	}
	if _, ok := merged.EntityType("venue"); !ok {
		t.Fatalf("expected new entity type merged in")
	}
	article, _ := merged.EntityType("article")
	if _, ok := fieldByName(article.Fields, "subtitle"); !ok {
		t.Fatalf("expected new field appended to existing type")
	}
	if _, ok := fieldByName(article.Fields, "title"); !ok {
		t.Fatalf("expected existing field preserved")
	}
	if len(current.EntityTypes) != 2 {
		t.Fatalf("merge must not mutate the current spec")
	}
}

func TestMergeSpecificationsRejectsKindChange(t *testing.T) {
	update := &domain.SchemaSpecification{
		EntityTypes: []domain.EntityTypeSpecification{
			{Name: "article", Fields: []domain.FieldSpecification{
				{Name: "title", Kind: domain.FieldKindNumber},
			}},
		},
	}
	if _, err := MergeSpecifications(baseSpec(), update); !domain.IsBadRequest(err) {
		t.Fatalf("expected BadRequest for kind change, got %v", err)
	}

	update = &domain.SchemaSpecification{
		EntityTypes: []domain.EntityTypeSpecification{
			{Name: "article", Fields: []domain.FieldSpecification{
				{Name: "title", Kind: domain.FieldKindString, List: true},
			}},
		},
	}
	if _, err := MergeSpecifications(baseSpec(), update); !domain.IsBadRequest(err) {
		t.Fatalf("expected BadRequest for list change, got %v", err)
	}
}

func TestDiffForRevalidation(t *testing.T) {
	old := baseSpec()

	newRequired := old.Clone()
	article, _ := newRequired.EntityType("article")
	article.Fields = append(article.Fields, domain.FieldSpecification{
		Name: "slug", Kind: domain.FieldKindString, Required: true,
	})
	newRequired.EntityTypes[0] = article
	if affected := DiffForRevalidation(old, newRequired); len(affected) != 1 || affected[0] != "article" {
		t.Fatalf("new required field: expected [article], got %v", affected)
	}

	optionalOnly := old.Clone()
	article, _ = optionalOnly.EntityType("article")
	article.Fields = append(article.Fields, domain.FieldSpecification{
		Name: "slug", Kind: domain.FieldKindString,
	})
	optionalOnly.EntityTypes[0] = article
	if affected := DiffForRevalidation(old, optionalOnly); len(affected) != 0 {
		t.Fatalf("optional addition: expected no revalidation, got %v", affected)
	}

	removedField := old.Clone()
	article, _ = removedField.EntityType("article")
	article.Fields = article.Fields[:1]
	removedField.EntityTypes[0] = article
	if affected := DiffForRevalidation(old, removedField); len(affected) != 1 || affected[0] != "article" {
		t.Fatalf("removed field: expected [article], got %v", affected)
	}

	componentChange := old.Clone()
	componentChange.ComponentTypes[0].Fields = append(componentChange.ComponentTypes[0].Fields,
		domain.FieldSpecification{Name: "keywords", Kind: domain.FieldKindString, Required: true})
	affected := DiffForRevalidation(old, componentChange)
	if len(affected) != 1 || affected[0] != "article" {
		t.Fatalf("changed component: expected embedding type [article], got %v", affected)
	}
}

func TestRegistrySwapIsolation(t *testing.T) {
	reg := NewRegistry(nil)
	if reg.Current().Version != 0 {
		t.Fatalf("expected empty version-0 spec, got %d", reg.Current().Version)
	}

	spec := baseSpec()
	reg.Swap(spec)
	spec.EntityTypes[0].Name = "mutated"
	if reg.Current().EntityTypes[0].Name != "article" {
		t.Fatalf("registry must hold its own clone")
	}
}
