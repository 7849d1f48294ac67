package engine

import (
	"context"
	"errors"

	"github.com/quiverhq/quiver/internal/codec"
	"github.com/quiverhq/quiver/internal/domain"
	"github.com/quiverhq/quiver/internal/storage"
)

// defaultSyncBatch caps one sync event page when the caller passes no limit.
const defaultSyncBatch = 100

// GetSyncEvents returns events with ids strictly greater than after, in id
// order. Passing after=0 streams the log from the beginning.
func (e *Engine) GetSyncEvents(ctx context.Context, after int64, limit int) ([]domain.SyncEvent, error) {
	if after < 0 {
		return nil, domain.NewBadRequest("sync cursor must not be negative")
	}
	if limit <= 0 {
		limit = defaultSyncBatch
	}

	var events []domain.SyncEvent
	err := e.adapter.WithTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		events, err = tx.ListSyncEvents(ctx, after, limit)
		if err != nil {
			return storageErr(err, "failed to list sync events after %d", after)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// LastSyncEventID reports the id of the newest event, 0 for an empty log.
func (e *Engine) LastSyncEventID(ctx context.Context) (int64, error) {
	var last int64
	err := e.adapter.WithTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		last, err = tx.LastSyncEventID(ctx)
		if err != nil {
			return storageErr(err, "failed to read last sync event id")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return last, nil
}

// ApplySyncEvent replays one event from another store's log onto this store.
// Events must arrive in id order with no gaps. An event at or below the local
// high-water mark has already been applied and is skipped, so replaying an
// overlapping range is safe. Replay writes storage state directly, bypassing
// the validation the origin already performed, and appends the event to the
// local log so a replica can itself be synced from.
func (e *Engine) ApplySyncEvent(ctx context.Context, event domain.SyncEvent) error {
	if event.ID <= 0 {
		return domain.NewBadRequest("sync event id must be positive, got %d", event.ID)
	}

	var swapped *domain.SchemaSpecification
	err := e.adapter.WithTransaction(ctx, func(tx storage.Transaction) error {
		last, err := tx.LastSyncEventID(ctx)
		if err != nil {
			return storageErr(err, "failed to read last sync event id")
		}
		if event.ID <= last {
			return nil
		}
		if event.ID != last+1 {
			return domain.NewBadRequest("sync event %d arrived out of order, expected %d", event.ID, last+1)
		}

		switch event.Kind {
		case domain.EventCreateEntity:
			err = e.replayEntitySnapshot(ctx, tx, event, true)
		case domain.EventUpdateEntity:
			err = e.replayEntitySnapshot(ctx, tx, event, false)
		case domain.EventPublishEntities:
			err = e.replayPublish(ctx, tx, event)
		case domain.EventUnpublishEntities:
			err = e.replayUnpublish(ctx, tx, event)
		case domain.EventArchiveEntity:
			err = e.replayArchive(ctx, tx, event, true)
		case domain.EventUnarchiveEntity:
			err = e.replayArchive(ctx, tx, event, false)
		case domain.EventUpdateSchema:
			swapped, err = e.replaySchema(ctx, tx, event)
		case domain.EventCreatePrincipal:
			err = e.replayPrincipal(ctx, tx, event)
		default:
			err = domain.NewBadRequest("unknown sync event kind %q", event.Kind)
		}
		if err != nil {
			return err
		}

		assigned, err := tx.AppendSyncEvent(ctx, event)
		if err != nil {
			return domain.NewGeneric(err, "failed to append sync event %d", event.ID)
		}
		if assigned != event.ID {
			return domain.NewGeneric(nil, "replayed sync event %d was stored as %d", event.ID, assigned)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if swapped != nil {
		e.registry.Swap(swapped)
	}
	return nil
}

// replayEntitySnapshot applies a createEntity or updateEntity event. The
// payload carries the full version snapshot, so the version row and its
// derived indexes are rebuilt locally without consulting the origin.
func (e *Engine) replayEntitySnapshot(ctx context.Context, tx storage.Transaction, event domain.SyncEvent, create bool) error {
	var payload domain.EntityEventPayload
	if err := domain.UnmarshalEventPayload(event.Payload, &payload); err != nil {
		return domain.NewGeneric(err, "failed to decode sync event %d", event.ID)
	}

	spec := e.registry.Current()
	encoded, err := codec.Encode(spec, payload.Type, payload.Fields)
	if err != nil {
		return err
	}

	version := domain.EntityVersion{
		ID:            e.newID(),
		EntityID:      payload.EntityID,
		Version:       payload.Version,
		Fields:        encoded.Fields,
		SchemaVersion: event.SchemaVersion,
		CreatedBy:     event.CreatedBy,
		CreatedAt:     event.CreatedAt,
	}

	var entity domain.Entity
	if create {
		entity = domain.Entity{
			ID:             payload.EntityID,
			Type:           payload.Type,
			Name:           payload.Name,
			AuthKey:        payload.AuthKey,
			DraftVersionID: version.ID,
			DraftVersion:   version.Version,
			CreatedAt:      event.CreatedAt,
			UpdatedAt:      event.CreatedAt,
		}
		if err := tx.InsertEntity(ctx, entity); err != nil {
			return storageErr(err, "failed to replay entity %s", entity.ID)
		}
	} else {
		entity, err = tx.GetEntity(ctx, payload.EntityID)
		if err != nil {
			return storageErr(err, "failed to replay update of unknown entity %s", payload.EntityID)
		}
		existing, err := tx.GetVersion(ctx, payload.EntityID, payload.Version)
		if err == nil {
			// The chain already holds this version: the event renamed the
			// head without appending content.
			entity.Name = payload.Name
			entity.UpdatedAt = event.CreatedAt
			if err := tx.UpdateEntity(ctx, entity); err != nil {
				return storageErr(err, "failed to replay entity %s", entity.ID)
			}
			if payload.Publish {
				return e.replayPointerFlip(ctx, tx, event, entity, &existing)
			}
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return storageErr(err, "failed to replay update of entity %s", payload.EntityID)
		}
		entity.Name = payload.Name
		entity.DraftVersionID = version.ID
		entity.DraftVersion = version.Version
		entity.UpdatedAt = event.CreatedAt
		if err := tx.UpdateEntity(ctx, entity); err != nil {
			return storageErr(err, "failed to replay entity %s", entity.ID)
		}
	}

	if err := tx.InsertVersion(ctx, version); err != nil {
		return storageErr(err, "failed to replay version %d of entity %s", version.Version, entity.ID)
	}
	if err := persistVersionIndexes(ctx, tx, version.ID, encoded); err != nil {
		return err
	}

	if payload.Publish {
		return e.replayPointerFlip(ctx, tx, event, entity, &version)
	}
	return nil
}

// replayPublish flips published pointers for every item in the batch.
func (e *Engine) replayPublish(ctx context.Context, tx storage.Transaction, event domain.SyncEvent) error {
	var payload domain.PublishEventPayload
	if err := domain.UnmarshalEventPayload(event.Payload, &payload); err != nil {
		return domain.NewGeneric(err, "failed to decode sync event %d", event.ID)
	}
	for _, item := range payload.Items {
		entity, err := tx.GetEntity(ctx, item.EntityID)
		if err != nil {
			return storageErr(err, "failed to replay publish of unknown entity %s", item.EntityID)
		}
		version, err := tx.GetVersion(ctx, item.EntityID, item.Version)
		if err != nil {
			return storageErr(err, "failed to replay publish of entity %s at version %d", item.EntityID, item.Version)
		}
		if err := e.replayPointerFlip(ctx, tx, event, entity, &version); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) replayPointerFlip(ctx context.Context, tx storage.Transaction, event domain.SyncEvent, entity domain.Entity, version *domain.EntityVersion) error {
	versionID := version.ID
	versionNumber := version.Version
	entity.PublishedVersionID = &versionID
	entity.PublishedVersion = &versionNumber
	entity.EverPublished = true
	entity.UpdatedAt = event.CreatedAt
	if err := tx.UpdateEntity(ctx, entity); err != nil {
		return storageErr(err, "failed to replay publish of entity %s", entity.ID)
	}
	return tx.AppendPublishingEvent(ctx, domain.PublishingEvent{
		EntityID:  entity.ID,
		VersionID: &versionID,
		Kind:      domain.PublishingEventPublish,
		CreatedBy: event.CreatedBy,
		CreatedAt: event.CreatedAt,
	})
}

// replayUnpublish clears published pointers for every item in the batch.
func (e *Engine) replayUnpublish(ctx context.Context, tx storage.Transaction, event domain.SyncEvent) error {
	var payload domain.PublishEventPayload
	if err := domain.UnmarshalEventPayload(event.Payload, &payload); err != nil {
		return domain.NewGeneric(err, "failed to decode sync event %d", event.ID)
	}
	for _, item := range payload.Items {
		entity, err := tx.GetEntity(ctx, item.EntityID)
		if err != nil {
			return storageErr(err, "failed to replay unpublish of unknown entity %s", item.EntityID)
		}
		entity.PublishedVersionID = nil
		entity.PublishedVersion = nil
		entity.UpdatedAt = event.CreatedAt
		if err := tx.UpdateEntity(ctx, entity); err != nil {
			return storageErr(err, "failed to replay unpublish of entity %s", entity.ID)
		}
		if err := tx.AppendPublishingEvent(ctx, domain.PublishingEvent{
			EntityID:  entity.ID,
			Kind:      domain.PublishingEventUnpublish,
			CreatedBy: event.CreatedBy,
			CreatedAt: event.CreatedAt,
		}); err != nil {
			return storageErr(err, "failed to replay publishing event for entity %s", entity.ID)
		}
	}
	return nil
}

func (e *Engine) replayArchive(ctx context.Context, tx storage.Transaction, event domain.SyncEvent, archived bool) error {
	var payload domain.ArchiveEventPayload
	if err := domain.UnmarshalEventPayload(event.Payload, &payload); err != nil {
		return domain.NewGeneric(err, "failed to decode sync event %d", event.ID)
	}
	entity, err := tx.GetEntity(ctx, payload.EntityID)
	if err != nil {
		return storageErr(err, "failed to replay archive of unknown entity %s", payload.EntityID)
	}
	entity.Archived = archived
	entity.UpdatedAt = event.CreatedAt
	if err := tx.UpdateEntity(ctx, entity); err != nil {
		return storageErr(err, "failed to replay archive of entity %s", entity.ID)
	}
	kind := domain.PublishingEventArchive
	if !archived {
		kind = domain.PublishingEventUnarchive
	}
	return tx.AppendPublishingEvent(ctx, domain.PublishingEvent{
		EntityID:  entity.ID,
		Kind:      kind,
		CreatedBy: event.CreatedBy,
		CreatedAt: event.CreatedAt,
	})
}

// replaySchema installs the specification snapshot carried by the event. The
// registry swap happens after the transaction commits.
func (e *Engine) replaySchema(ctx context.Context, tx storage.Transaction, event domain.SyncEvent) (*domain.SchemaSpecification, error) {
	var payload domain.SchemaEventPayload
	if err := domain.UnmarshalEventPayload(event.Payload, &payload); err != nil {
		return nil, domain.NewGeneric(err, "failed to decode sync event %d", event.ID)
	}
	if payload.Specification == nil {
		return nil, domain.NewBadRequest("sync event %d carries no schema specification", event.ID)
	}
	if err := tx.UpdateSchemaSpecification(ctx, payload.Specification); err != nil {
		return nil, storageErr(err, "failed to replay schema specification")
	}
	return payload.Specification, nil
}

func (e *Engine) replayPrincipal(ctx context.Context, tx storage.Transaction, event domain.SyncEvent) error {
	var payload domain.PrincipalEventPayload
	if err := domain.UnmarshalEventPayload(event.Payload, &payload); err != nil {
		return domain.NewGeneric(err, "failed to decode sync event %d", event.ID)
	}
	principal := domain.Principal{
		ID:         payload.PrincipalID,
		Provider:   payload.Provider,
		Identifier: payload.Identifier,
		CreatedAt:  event.CreatedAt,
	}
	if err := tx.InsertPrincipal(ctx, principal); err != nil {
		return storageErr(err, "failed to replay principal %s", payload.PrincipalID)
	}
	return nil
}
