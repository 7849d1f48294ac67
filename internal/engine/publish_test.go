package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/quiverhq/quiver/internal/domain"
)

func TestPublishBatchWithInBatchReferences(t *testing.T) {
	eng, _ := newTestEngine(t)
	author := mustCreate(t, eng, CreateEntityRequest{
		Type: "person", Name: "ada", Fields: map[string]any{"name": "Ada"},
	})
	article := mustCreate(t, eng, CreateEntityRequest{
		Type: "article", Name: "profile",
		Fields: map[string]any{
			"title":  "Profile",
			"author": map[string]any{"id": author.Entity.ID.String()},
		},
	})

	// Alone, the article cannot go out while its author is a draft.
	_, err := eng.PublishEntities(context.Background(), []PublishRequest{{ID: article.Entity.ID}})
	if !domain.IsBadRequest(err) {
		t.Fatalf("expected BadRequest for unpublished reference, got %v", err)
	}
	if !strings.Contains(err.Error(), "unpublished") {
		t.Fatalf("expected the unpublished target named, got %q", err.Error())
	}

	// In one batch both go out together.
	results, err := eng.PublishEntities(context.Background(), []PublishRequest{
		{ID: article.Entity.ID},
		{ID: author.Entity.ID},
	})
	if err != nil {
		t.Fatalf("batch publish: %v", err)
	}
	for _, result := range results {
		if result.Entity.Status() != domain.StatusPublished {
			t.Fatalf("expected published, got %s for %s", result.Entity.Status(), result.Entity.Name)
		}
	}
}

func TestPublishCollectsAllProblems(t *testing.T) {
	eng, _ := newTestEngine(t)
	noTitle := mustCreate(t, eng, CreateEntityRequest{
		Type: "article", Name: "incomplete", Fields: map[string]any{"summary": "draft notes"},
	})
	adminType := mustCreate(t, eng, CreateEntityRequest{
		Type: "workflow", Name: "internal flow", Fields: map[string]any{"note": "x"},
	})

	_, err := eng.PublishEntities(context.Background(), []PublishRequest{
		{ID: noTitle.Entity.ID},
		{ID: adminType.Entity.ID},
	})
	if !domain.IsBadRequest(err) {
		t.Fatalf("expected BadRequest, got %v", err)
	}
	message := err.Error()
	if !strings.Contains(message, noTitle.Entity.ID.String()) || !strings.Contains(message, adminType.Entity.ID.String()) {
		t.Fatalf("expected both problems collected, got %q", message)
	}
}

func TestPublishMissingEntitiesReportedTogether(t *testing.T) {
	eng, _ := newTestEngine(t)
	a, b := uuid.New(), uuid.New()
	_, err := eng.PublishEntities(context.Background(), []PublishRequest{{ID: a}, {ID: b}})
	if !domain.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), a.String()) || !strings.Contains(err.Error(), b.String()) {
		t.Fatalf("expected both ids named, got %q", err.Error())
	}
}

func TestPublishSpecificVersion(t *testing.T) {
	eng, _ := newTestEngine(t)
	created := mustCreate(t, eng, CreateEntityRequest{
		Type: "article", Name: "versioned", Fields: map[string]any{"title": "one"},
	})
	if _, err := eng.UpdateEntity(context.Background(), UpdateEntityRequest{
		ID: created.Entity.ID, Fields: map[string]any{"title": "two"},
	}); err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}

	one := 1
	results, err := eng.PublishEntities(context.Background(), []PublishRequest{
		{ID: created.Entity.ID, Version: &one},
	})
	if err != nil {
		t.Fatalf("publish version 1: %v", err)
	}
	entity := results[0].Entity
	if entity.PublishedVersion == nil || *entity.PublishedVersion != 1 {
		t.Fatalf("expected published version 1, got %v", entity.PublishedVersion)
	}
	if entity.Status() != domain.StatusModified {
		t.Fatalf("draft ahead of published must read as modified, got %s", entity.Status())
	}

	resolved, err := eng.GetEntity(context.Background(), entity.ID, GetEntityOptions{Published: true})
	if err != nil {
		t.Fatalf("published read: %v", err)
	}
	if resolved.Version.Fields["title"] != "one" {
		t.Fatalf("published view must serve version 1, got %#v", resolved.Version.Fields)
	}
}

func TestRepublishSameVersionRejected(t *testing.T) {
	eng, _ := newTestEngine(t)
	created := mustCreate(t, eng, CreateEntityRequest{
		Type: "article", Name: "once", Fields: map[string]any{"title": "x"}, Publish: true,
	})
	_, err := eng.PublishEntities(context.Background(), []PublishRequest{{ID: created.Entity.ID}})
	if !domain.IsBadRequest(err) {
		t.Fatalf("expected BadRequest republishing the published version, got %v", err)
	}
}

func TestUnpublishBlockedByPublishedReferrer(t *testing.T) {
	eng, _ := newTestEngine(t)
	author := mustCreate(t, eng, CreateEntityRequest{
		Type: "person", Name: "bo", Fields: map[string]any{"name": "Bo"}, Publish: true,
	})
	article := mustCreate(t, eng, CreateEntityRequest{
		Type: "article", Name: "citing",
		Fields: map[string]any{
			"title":  "Citing",
			"author": map[string]any{"id": author.Entity.ID.String()},
		},
		Publish: true,
	})

	_, err := eng.UnpublishEntities(context.Background(), []uuid.UUID{author.Entity.ID})
	if !domain.IsBadRequest(err) {
		t.Fatalf("expected BadRequest while a published referrer remains, got %v", err)
	}
	if !strings.Contains(err.Error(), article.Entity.ID.String()) {
		t.Fatalf("expected the blocking referrer named, got %q", err.Error())
	}

	// Withdrawing both together satisfies the integrity rule.
	results, err := eng.UnpublishEntities(context.Background(), []uuid.UUID{author.Entity.ID, article.Entity.ID})
	if err != nil {
		t.Fatalf("batch unpublish: %v", err)
	}
	for _, result := range results {
		if result.Entity.Status() != domain.StatusWithdrawn {
			t.Fatalf("expected withdrawn, got %s", result.Entity.Status())
		}
	}
}

func TestUnpublishNotPublished(t *testing.T) {
	eng, _ := newTestEngine(t)
	draft := mustCreate(t, eng, CreateEntityRequest{
		Type: "article", Name: "never out", Fields: map[string]any{"title": "x"},
	})
	if _, err := eng.UnpublishEntities(context.Background(), []uuid.UUID{draft.Entity.ID}); !domain.IsBadRequest(err) {
		t.Fatalf("expected BadRequest for unpublished entity, got %v", err)
	}
}

func TestPublishEmptyBatchRejected(t *testing.T) {
	eng, _ := newTestEngine(t)
	if _, err := eng.PublishEntities(context.Background(), nil); !domain.IsBadRequest(err) {
		t.Fatalf("expected BadRequest for empty batch, got %v", err)
	}
	if _, err := eng.UnpublishEntities(context.Background(), nil); !domain.IsBadRequest(err) {
		t.Fatalf("expected BadRequest for empty batch, got %v", err)
	}
}
