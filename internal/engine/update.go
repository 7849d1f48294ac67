package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/quiverhq/quiver/internal/auth"
	"github.com/quiverhq/quiver/internal/codec"
	"github.com/quiverhq/quiver/internal/domain"
	"github.com/quiverhq/quiver/internal/storage"
)

// UpdateEntityRequest carries a partial update. Omitted fields keep their
// previous value; fields set to an explicit null are cleared.
type UpdateEntityRequest struct {
	ID      uuid.UUID
	Type    string
	Name    *string
	Fields  map[string]any
	Publish bool
}

// UpdateEntity merges the partial fields over the latest draft, re-validates,
// and appends a new version only if the merged content differs. A no-op
// update returns EffectNone without allocating a version or sync event; a
// rename with unchanged content updates the head without extending the
// version chain.
func (e *Engine) UpdateEntity(ctx context.Context, req UpdateEntityRequest) (*EntityResult, error) {
	session := auth.SessionFromContext(ctx)
	spec := e.registry.Current()

	var result *EntityResult
	err := e.adapter.WithTransaction(ctx, func(tx storage.Transaction) error {
		entity, err := tx.GetEntity(ctx, req.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return domain.NewNotFound("entity %s does not exist", req.ID)
		}
		if err != nil {
			return storageErr(err, "failed to load entity %s", req.ID)
		}
		if req.Type != "" && req.Type != entity.Type {
			return domain.NewNotFound("entity %s has type %s, not %s", req.ID, entity.Type, req.Type)
		}
		if !session.CanAccess(entity.AuthKey) {
			return domain.NewNotAuthorized("entity %s is not available to this session", req.ID)
		}
		if entity.Archived {
			return domain.NewBadRequest("entity %s is archived and cannot be updated", req.ID)
		}

		draft, err := tx.GetVersion(ctx, entity.ID, entity.DraftVersion)
		if err != nil {
			return storageErr(err, "failed to load draft version of entity %s", req.ID)
		}

		merged := mergeFieldTrees(draft.Fields, req.Fields)
		encoded, err := codec.Encode(spec, entity.Type, merged)
		if err != nil {
			return err
		}

		sameContent, err := codec.FieldsEqual(draft.Fields, encoded.Fields)
		if err != nil {
			return err
		}
		sameName := req.Name == nil || *req.Name == entity.Name

		if sameContent && sameName {
			if !req.Publish {
				result = &EntityResult{Entity: entity, Version: draft, Effect: EffectNone}
				return nil
			}
			if entity.Status() == domain.StatusPublished {
				result = &EntityResult{Entity: entity, Version: draft, Effect: EffectNone}
				return nil
			}
			// Content unchanged but the draft is not the published version:
			// publish the existing draft.
			published, err := e.publishInTx(ctx, tx, session, []resolvedPublish{{entity: entity, version: draft}})
			if err != nil {
				return err
			}
			entity = published[0]
			if err := e.appendPublishSyncEvent(ctx, tx, session, entity, draft); err != nil {
				return err
			}
			result = &EntityResult{Entity: entity, Version: draft, Effect: EffectPublished}
			return nil
		}

		if sameContent {
			// Rename only: the head record changes, the version chain does not.
			entity.UpdatedAt = e.now()
			renamed, err := e.renameWithUniqueName(ctx, tx, entity, *req.Name)
			if err != nil {
				return err
			}
			entity = renamed

			effect := EffectUpdated
			didPublish := false
			if req.Publish && entity.Status() != domain.StatusPublished {
				published, err := e.publishInTx(ctx, tx, session, []resolvedPublish{{entity: entity, version: draft}})
				if err != nil {
					return err
				}
				entity = published[0]
				effect = EffectUpdatedAndPublished
				didPublish = true
			}

			payload := domain.EntityEventPayload{
				EntityID: entity.ID,
				Type:     entity.Type,
				Name:     entity.Name,
				AuthKey:  entity.AuthKey,
				Version:  draft.Version,
				Fields:   draft.Fields,
				Publish:  didPublish,
			}
			if err := e.appendSyncEvent(ctx, tx, domain.EventUpdateEntity, session.PrincipalID, payload); err != nil {
				return err
			}
			result = &EntityResult{Entity: entity, Version: draft, Effect: effect}
			return nil
		}

		if err := verifyReferences(ctx, tx, encoded); err != nil {
			return err
		}

		now := e.now()
		version := domain.EntityVersion{
			ID:            e.newID(),
			EntityID:      entity.ID,
			Version:       entity.DraftVersion + 1,
			Fields:        encoded.Fields,
			SchemaVersion: spec.Version,
			CreatedBy:     session.PrincipalID,
			CreatedAt:     now,
		}
		if err := tx.InsertVersion(ctx, version); err != nil {
			return storageErr(err, "failed to store entity version")
		}
		if err := persistVersionIndexes(ctx, tx, version.ID, encoded); err != nil {
			return err
		}

		entity.DraftVersionID = version.ID
		entity.DraftVersion = version.Version
		entity.UpdatedAt = now
		if !sameName {
			renamed, err := e.renameWithUniqueName(ctx, tx, entity, *req.Name)
			if err != nil {
				return err
			}
			entity = renamed
		} else if err := tx.UpdateEntity(ctx, entity); err != nil {
			return storageErr(err, "failed to update entity %s", entity.ID)
		}

		effect := EffectUpdated
		if req.Publish {
			published, err := e.publishInTx(ctx, tx, session, []resolvedPublish{{entity: entity, version: version}})
			if err != nil {
				return err
			}
			entity = published[0]
			effect = EffectUpdatedAndPublished
		}

		payload := domain.EntityEventPayload{
			EntityID: entity.ID,
			Type:     entity.Type,
			Name:     entity.Name,
			AuthKey:  entity.AuthKey,
			Version:  version.Version,
			Fields:   version.Fields,
			Publish:  req.Publish,
		}
		if err := e.appendSyncEvent(ctx, tx, domain.EventUpdateEntity, session.PrincipalID, payload); err != nil {
			return err
		}

		result = &EntityResult{Entity: entity, Version: version, Effect: effect}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpsertEntity creates the entity when the caller-supplied id is unknown and
// updates it otherwise.
func (e *Engine) UpsertEntity(ctx context.Context, req CreateEntityRequest) (*EntityResult, error) {
	if req.ID == nil {
		return nil, domain.NewBadRequest("upsert requires a caller-supplied entity id")
	}

	exists := false
	err := e.adapter.WithTransaction(ctx, func(tx storage.Transaction) error {
		_, err := tx.GetEntity(ctx, *req.ID)
		if err == nil {
			exists = true
			return nil
		}
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return storageErr(err, "failed to look up entity %s", *req.ID)
	})
	if err != nil {
		return nil, err
	}

	if !exists {
		return e.CreateEntity(ctx, req)
	}
	return e.UpdateEntity(ctx, UpdateEntityRequest{
		ID:      *req.ID,
		Type:    req.Type,
		Name:    &req.Name,
		Fields:  req.Fields,
		Publish: req.Publish,
	})
}

// renameWithUniqueName applies a rename inside nested transactions, retrying
// collisions with a random suffix like creation does.
func (e *Engine) renameWithUniqueName(ctx context.Context, tx storage.Transaction, entity domain.Entity, requestedName string) (domain.Entity, error) {
	name := requestedName
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		entity.Name = name
		err := tx.WithNested(ctx, func() error {
			return tx.UpdateEntity(ctx, entity)
		})
		if err == nil {
			return entity, nil
		}
		if !errors.Is(err, storage.ErrUniqueViolation) {
			return domain.Entity{}, storageErr(err, "failed to update entity %s", entity.ID)
		}
		name = requestedName + "#" + e.nameSuffix()
	}
	return domain.Entity{}, domain.NewGeneric(nil, "failed to resolve a unique name for %q after %d attempts", requestedName, maxNameAttempts)
}

// mergeFieldTrees overlays partial fields onto the previous snapshot. An
// explicit null clears the field; omitted fields keep their previous value.
func mergeFieldTrees(previous, partial map[string]any) map[string]any {
	merged := domain.CloneFields(previous)
	if merged == nil {
		merged = map[string]any{}
	}
	for name, value := range partial {
		if value == nil {
			delete(merged, name)
			continue
		}
		merged[name] = value
	}
	return merged
}
