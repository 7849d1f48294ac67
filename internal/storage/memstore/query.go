package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/quiverhq/quiver/internal/domain"
	"github.com/quiverhq/quiver/internal/storage"
)

// ListEntities applies the conjunctive filters over the requested view, then
// keyset-paginates in the requested direction.
func (t *tx) ListEntities(ctx context.Context, query storage.ListQuery) ([]storage.EntityWithVersion, int, error) {
	typeSet := make(map[string]struct{}, len(query.EntityTypes))
	for _, name := range query.EntityTypes {
		typeSet[name] = struct{}{}
	}
	keySet := make(map[string]struct{}, len(query.AuthKeys))
	for _, key := range query.AuthKeys {
		keySet[key] = struct{}{}
	}

	var rows []storage.EntityWithVersion
	for _, entity := range t.working.entities {
		if entity.Archived {
			continue
		}
		versionID := entity.DraftVersionID
		if query.View == storage.ViewPublished {
			if !entity.IsPublished() {
				continue
			}
			versionID = *entity.PublishedVersionID
		}
		if len(typeSet) > 0 {
			if _, match := typeSet[entity.Type]; !match {
				continue
			}
		}
		if len(keySet) > 0 {
			if _, match := keySet[entity.AuthKey]; !match {
				continue
			}
		}
		if query.ReferencesEntity != nil && !containsID(t.working.edges[versionID], *query.ReferencesEntity) {
			continue
		}
		if query.BoundingBox != nil && !anyLocationIn(t.working.locations[versionID], *query.BoundingBox) {
			continue
		}
		if query.Text != "" && !matchesText(t.working.fullText[versionID], query.Text) {
			continue
		}
		rows = append(rows, storage.EntityWithVersion{
			Entity:  entity,
			Version: t.working.versionsByID[versionID],
		})
	}

	total := len(rows)

	sort.Slice(rows, func(i, j int) bool {
		cmp := storage.CompareKeys(rowKey(query.Order, rows[i]), rowKey(query.Order, rows[j]))
		if query.Descending {
			return cmp > 0
		}
		return cmp < 0
	})

	filtered := rows[:0]
	for _, row := range rows {
		key := rowKey(query.Order, row)
		if query.After != nil {
			cmp := storage.CompareKeys(key, *query.After)
			if (query.Descending && cmp >= 0) || (!query.Descending && cmp <= 0) {
				continue
			}
		}
		if query.Before != nil {
			cmp := storage.CompareKeys(key, *query.Before)
			if (query.Descending && cmp <= 0) || (!query.Descending && cmp >= 0) {
				continue
			}
		}
		filtered = append(filtered, row)
	}
	rows = filtered

	if query.Limit > 0 && len(rows) > query.Limit {
		rows = rows[:query.Limit]
	}
	return rows, total, nil
}

func rowKey(order domain.EntityOrder, row storage.EntityWithVersion) storage.Key {
	return storage.Key{Value: storage.OrderKeyValue(order, row.Entity), ID: row.Entity.ID}
}

func containsID(ids []uuid.UUID, target uuid.UUID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

func anyLocationIn(locations []domain.Location, box domain.BoundingBox) bool {
	for _, loc := range locations {
		if box.Contains(loc) {
			return true
		}
	}
	return false
}
