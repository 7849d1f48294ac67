package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/quiverhq/quiver/internal/auth"
	"github.com/quiverhq/quiver/internal/domain"
	"github.com/quiverhq/quiver/internal/storage"
)

// ArchiveEntity sets the archived flag. Archiving a published entity is
// rejected; archiving an already-archived entity is a successful no-op.
func (e *Engine) ArchiveEntity(ctx context.Context, id uuid.UUID) (*EntityResult, error) {
	session := auth.SessionFromContext(ctx)

	var result *EntityResult
	err := e.adapter.WithTransaction(ctx, func(tx storage.Transaction) error {
		entity, err := e.loadEntityForWrite(ctx, tx, session, id)
		if err != nil {
			return err
		}
		draft, err := tx.GetVersion(ctx, entity.ID, entity.DraftVersion)
		if err != nil {
			return storageErr(err, "failed to load draft version of entity %s", id)
		}

		if entity.Archived {
			result = &EntityResult{Entity: entity, Version: draft, Effect: EffectNone}
			return nil
		}
		if entity.IsPublished() {
			return domain.NewBadRequest("entity %s is published and cannot be archived", id)
		}

		now := e.now()
		entity.Archived = true
		entity.UpdatedAt = now
		if err := tx.UpdateEntity(ctx, entity); err != nil {
			return storageErr(err, "failed to update entity %s", id)
		}
		if err := tx.AppendPublishingEvent(ctx, domain.PublishingEvent{
			EntityID:  entity.ID,
			Kind:      domain.PublishingEventArchive,
			CreatedBy: session.PrincipalID,
			CreatedAt: now,
		}); err != nil {
			return storageErr(err, "failed to record publishing event for entity %s", id)
		}
		if err := e.appendSyncEvent(ctx, tx, domain.EventArchiveEntity, session.PrincipalID,
			domain.ArchiveEventPayload{EntityID: entity.ID}); err != nil {
			return err
		}
		result = &EntityResult{Entity: entity, Version: draft, Effect: EffectArchived}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UnarchiveEntity clears the archived flag. The derived state falls out of
// the existing pointers: an entity with a published pointer becomes published
// or modified again without re-validation, since publication correctness was
// checked when it was originally published.
func (e *Engine) UnarchiveEntity(ctx context.Context, id uuid.UUID) (*EntityResult, error) {
	session := auth.SessionFromContext(ctx)

	var result *EntityResult
	err := e.adapter.WithTransaction(ctx, func(tx storage.Transaction) error {
		entity, err := e.loadEntityForWrite(ctx, tx, session, id)
		if err != nil {
			return err
		}
		draft, err := tx.GetVersion(ctx, entity.ID, entity.DraftVersion)
		if err != nil {
			return storageErr(err, "failed to load draft version of entity %s", id)
		}

		if !entity.Archived {
			result = &EntityResult{Entity: entity, Version: draft, Effect: EffectNone}
			return nil
		}

		now := e.now()
		entity.Archived = false
		entity.UpdatedAt = now
		if err := tx.UpdateEntity(ctx, entity); err != nil {
			return storageErr(err, "failed to update entity %s", id)
		}
		if err := tx.AppendPublishingEvent(ctx, domain.PublishingEvent{
			EntityID:  entity.ID,
			Kind:      domain.PublishingEventUnarchive,
			CreatedBy: session.PrincipalID,
			CreatedAt: now,
		}); err != nil {
			return storageErr(err, "failed to record publishing event for entity %s", id)
		}
		if err := e.appendSyncEvent(ctx, tx, domain.EventUnarchiveEntity, session.PrincipalID,
			domain.ArchiveEventPayload{EntityID: entity.ID}); err != nil {
			return err
		}
		result = &EntityResult{Entity: entity, Version: draft, Effect: EffectUnarchived}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// loadEntityForWrite loads an entity and enforces the session's auth scope.
func (e *Engine) loadEntityForWrite(ctx context.Context, tx storage.Transaction, session auth.Session, id uuid.UUID) (domain.Entity, error) {
	entity, err := tx.GetEntity(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Entity{}, domain.NewNotFound("entity %s does not exist", id)
	}
	if err != nil {
		return domain.Entity{}, storageErr(err, "failed to load entity %s", id)
	}
	if !session.CanAccess(entity.AuthKey) {
		return domain.Entity{}, domain.NewNotAuthorized("entity %s is not available to this session", id)
	}
	return entity, nil
}
