package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quiverhq/quiver/internal/domain"
	"github.com/quiverhq/quiver/internal/storage"
)

func seedEntity(t *testing.T, s *Store, name string, at time.Time) domain.Entity {
	t.Helper()
	versionID := uuid.New()
	entity := domain.Entity{
		ID:             uuid.New(),
		Type:           "article",
		Name:           name,
		AuthKey:        "none",
		DraftVersionID: versionID,
		DraftVersion:   1,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	err := s.WithTransaction(context.Background(), func(tx storage.Transaction) error {
		if err := tx.InsertEntity(context.Background(), entity); err != nil {
			return err
		}
		return tx.InsertVersion(context.Background(), domain.EntityVersion{
			ID:       versionID,
			EntityID: entity.ID,
			Version:  1,
			Fields:   map[string]any{"title": name},
		})
	})
	if err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
	return entity
}

func TestTransactionRollbackDiscardsWrites(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	err := s.WithTransaction(context.Background(), func(tx storage.Transaction) error {
		if err := tx.InsertEntity(context.Background(), domain.Entity{ID: uuid.New(), Name: "doomed"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	err = s.WithTransaction(context.Background(), func(tx storage.Transaction) error {
		_, err := tx.GetEntityByName(context.Background(), "doomed")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected rolled back entity to be gone, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read transaction failed: %v", err)
	}
}

func TestWithNestedRestoresSavepoint(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	err := s.WithTransaction(context.Background(), func(tx storage.Transaction) error {
		if err := tx.InsertEntity(context.Background(), domain.Entity{ID: uuid.New(), Name: "kept"}); err != nil {
			return err
		}
		nestedErr := tx.WithNested(context.Background(), func() error {
			if err := tx.InsertEntity(context.Background(), domain.Entity{ID: uuid.New(), Name: "discarded"}); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(nestedErr, boom) {
			t.Fatalf("expected boom from nested scope, got %v", nestedErr)
		}
		if _, err := tx.GetEntityByName(context.Background(), "kept"); err != nil {
			t.Fatalf("outer write must survive the savepoint rollback: %v", err)
		}
		if _, err := tx.GetEntityByName(context.Background(), "discarded"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("nested write must be rolled back, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

func TestInsertEntityUniqueName(t *testing.T) {
	s := New()
	seedEntity(t, s, "taken", time.Now())
	err := s.WithTransaction(context.Background(), func(tx storage.Transaction) error {
		return tx.InsertEntity(context.Background(), domain.Entity{ID: uuid.New(), Name: "taken"})
	})
	if !errors.Is(err, storage.ErrUniqueViolation) {
		t.Fatalf("expected ErrUniqueViolation, got %v", err)
	}
}

func TestListEntitiesKeysetPagination(t *testing.T) {
	s := New()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	first := seedEntity(t, s, "a", base)
	second := seedEntity(t, s, "b", base.Add(time.Second))
	third := seedEntity(t, s, "c", base.Add(2*time.Second))

	err := s.WithTransaction(context.Background(), func(tx storage.Transaction) error {
		rows, total, err := tx.ListEntities(context.Background(), storage.ListQuery{
			View:  storage.ViewDraft,
			Order: domain.OrderCreatedAt,
			Limit: 2,
		})
		if err != nil {
			return err
		}
		if total != 3 {
			t.Fatalf("expected total 3, got %d", total)
		}
		if len(rows) != 2 || rows[0].Entity.ID != first.ID || rows[1].Entity.ID != second.ID {
			t.Fatalf("unexpected first page: %v", rows)
		}

		cursor := storage.Key{
			Value: storage.OrderKeyValue(domain.OrderCreatedAt, rows[1].Entity),
			ID:    rows[1].Entity.ID,
		}
		rows, _, err = tx.ListEntities(context.Background(), storage.ListQuery{
			View:  storage.ViewDraft,
			Order: domain.OrderCreatedAt,
			After: &cursor,
			Limit: 2,
		})
		if err != nil {
			return err
		}
		if len(rows) != 1 || rows[0].Entity.ID != third.ID {
			t.Fatalf("unexpected second page: %v", rows)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	_ = second
}

func TestListEntitiesFilters(t *testing.T) {
	s := New()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	match := seedEntity(t, s, "london piece", base)
	other := seedEntity(t, s, "elsewhere", base.Add(time.Second))
	target := uuid.New()

	err := s.WithTransaction(context.Background(), func(tx storage.Transaction) error {
		if err := tx.ReplaceVersionIndexes(context.Background(), match.DraftVersionID,
			[]string{"london piece", "Culture"}, []domain.Location{{Lat: 51.5, Lng: -0.12}}); err != nil {
			return err
		}
		return tx.ReplaceReferenceEdges(context.Background(), match.DraftVersionID, []uuid.UUID{target})
	})
	if err != nil {
		t.Fatalf("seed indexes: %v", err)
	}

	cases := map[string]storage.ListQuery{
		"text": {View: storage.ViewDraft, Order: domain.OrderCreatedAt, Text: "CULTURE london"},
		"bbox": {View: storage.ViewDraft, Order: domain.OrderCreatedAt,
			BoundingBox: &domain.BoundingBox{MinLat: 51, MinLng: -1, MaxLat: 52, MaxLng: 0}},
		"references": {View: storage.ViewDraft, Order: domain.OrderCreatedAt, ReferencesEntity: &target},
	}
	for name, query := range cases {
		err := s.WithTransaction(context.Background(), func(tx storage.Transaction) error {
			rows, total, err := tx.ListEntities(context.Background(), query)
			if err != nil {
				return err
			}
			if total != 1 || len(rows) != 1 || rows[0].Entity.ID != match.ID {
				t.Fatalf("%s: expected only the matching entity, got %d rows (total %d)", name, len(rows), total)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("%s: transaction failed: %v", name, err)
		}
	}
	_ = other
}

func TestListEntitiesPublishedView(t *testing.T) {
	s := New()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	draft := seedEntity(t, s, "draft only", base)
	published := seedEntity(t, s, "published", base.Add(time.Second))

	err := s.WithTransaction(context.Background(), func(tx storage.Transaction) error {
		entity, err := tx.GetEntity(context.Background(), published.ID)
		if err != nil {
			return err
		}
		entity.PublishedVersionID = &entity.DraftVersionID
		v := entity.DraftVersion
		entity.PublishedVersion = &v
		entity.EverPublished = true
		return tx.UpdateEntity(context.Background(), entity)
	})
	if err != nil {
		t.Fatalf("publish pointer flip: %v", err)
	}

	err = s.WithTransaction(context.Background(), func(tx storage.Transaction) error {
		rows, total, err := tx.ListEntities(context.Background(), storage.ListQuery{
			View:  storage.ViewPublished,
			Order: domain.OrderCreatedAt,
		})
		if err != nil {
			return err
		}
		if total != 1 || len(rows) != 1 || rows[0].Entity.ID != published.ID {
			t.Fatalf("expected only the published entity, got %d rows (total %d)", len(rows), total)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	_ = draft
}

func TestSyncEventIDsAreGapless(t *testing.T) {
	s := New()
	err := s.WithTransaction(context.Background(), func(tx storage.Transaction) error {
		for i := 0; i < 3; i++ {
			id, err := tx.AppendSyncEvent(context.Background(), domain.SyncEvent{Kind: domain.EventCreateEntity})
			if err != nil {
				return err
			}
			if id != int64(i)+1 {
				t.Fatalf("expected id %d, got %d", i+1, id)
			}
		}
		last, err := tx.LastSyncEventID(context.Background())
		if err != nil {
			return err
		}
		if last != 3 {
			t.Fatalf("expected last id 3, got %d", last)
		}
		events, err := tx.ListSyncEvents(context.Background(), 1, 10)
		if err != nil {
			return err
		}
		if len(events) != 2 || events[0].ID != 2 {
			t.Fatalf("expected events after 1, got %v", events)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}

func TestDirtyQueueLifecycle(t *testing.T) {
	s := New()
	entity := seedEntity(t, s, "stale", time.Now())

	err := s.WithTransaction(context.Background(), func(tx storage.Transaction) error {
		marked, err := tx.MarkEntitiesDirty(context.Background(), []string{"article"})
		if err != nil {
			return err
		}
		if marked != 1 {
			t.Fatalf("expected 1 marked, got %d", marked)
		}
		claimed, ok, err := tx.ClaimNextDirtyEntity(context.Background())
		if err != nil {
			return err
		}
		if !ok || claimed.ID != entity.ID {
			t.Fatalf("expected to claim %s, got %v ok=%v", entity.ID, claimed.ID, ok)
		}
		if err := tx.ClearDirtyFlag(context.Background(), entity.ID); err != nil {
			return err
		}
		if _, ok, err := tx.ClaimNextDirtyEntity(context.Background()); err != nil || ok {
			t.Fatalf("expected empty queue, got ok=%v err=%v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
}
