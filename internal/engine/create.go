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

// CreateEntityRequest carries one entity creation. A caller-supplied ID makes
// the creation idempotent: repeating it with identical content returns the
// existing entity.
type CreateEntityRequest struct {
	ID      *uuid.UUID
	Type    string
	Name    string
	AuthKey string
	Fields  map[string]any
	Publish bool
}

// CreateEntity validates and encodes the payload, resolves a unique name,
// persists version 1 and optionally publishes it, all in one transaction.
func (e *Engine) CreateEntity(ctx context.Context, req CreateEntityRequest) (*EntityResult, error) {
	session := auth.SessionFromContext(ctx)
	spec := e.registry.Current()

	if req.Name == "" {
		return nil, domain.NewBadRequest("entity.name: required field is missing")
	}
	authKey := req.AuthKey
	if authKey == "" {
		authKey = auth.DefaultAuthKey
	}
	if !session.CanAccess(authKey) {
		return nil, domain.NewNotAuthorized("auth key %q is not available to this session", authKey)
	}

	encoded, err := codec.Encode(spec, req.Type, req.Fields)
	if err != nil {
		return nil, err
	}

	var result *EntityResult
	err = e.adapter.WithTransaction(ctx, func(tx storage.Transaction) error {
		if req.ID != nil {
			existing, err := tx.GetEntity(ctx, *req.ID)
			if err == nil {
				result, err = e.checkIdempotentCreate(ctx, tx, existing, req, encoded)
				return err
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return storageErr(err, "failed to look up entity %s", *req.ID)
			}
		}

		if err := verifyReferences(ctx, tx, encoded); err != nil {
			return err
		}

		now := e.now()
		entity := domain.Entity{
			ID:           e.newID(),
			Type:         req.Type,
			AuthKey:      authKey,
			DraftVersion: domain.FirstVersion,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if req.ID != nil {
			entity.ID = *req.ID
		}
		version := domain.EntityVersion{
			ID:            e.newID(),
			EntityID:      entity.ID,
			Version:       domain.FirstVersion,
			Fields:        encoded.Fields,
			SchemaVersion: spec.Version,
			CreatedBy:     session.PrincipalID,
			CreatedAt:     now,
		}
		entity.DraftVersionID = version.ID

		resolvedName, err := e.insertWithUniqueName(ctx, tx, entity, req.Name)
		if err != nil {
			return err
		}
		entity.Name = resolvedName

		if err := tx.InsertVersion(ctx, version); err != nil {
			return storageErr(err, "failed to store entity version")
		}
		if err := persistVersionIndexes(ctx, tx, version.ID, encoded); err != nil {
			return err
		}

		effect := EffectCreated
		if req.Publish {
			published, err := e.publishInTx(ctx, tx, session, []resolvedPublish{{entity: entity, version: version}})
			if err != nil {
				return err
			}
			entity = published[0]
			effect = EffectCreatedAndPublished
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
		if err := e.appendSyncEvent(ctx, tx, domain.EventCreateEntity, session.PrincipalID, payload); err != nil {
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

// checkIdempotentCreate handles a caller-supplied id that already exists:
// identical type and content mean the original create is being retried and
// the existing entity is returned; anything else is a Conflict.
func (e *Engine) checkIdempotentCreate(ctx context.Context, tx storage.Transaction, existing domain.Entity, req CreateEntityRequest, encoded *codec.EncodeResult) (*EntityResult, error) {
	if existing.Type != req.Type {
		return nil, domain.NewConflict("entity %s already exists with type %s", existing.ID, existing.Type)
	}
	first, err := tx.GetVersion(ctx, existing.ID, domain.FirstVersion)
	if err != nil {
		return nil, storageErr(err, "failed to load version %d of entity %s", domain.FirstVersion, existing.ID)
	}
	equal, err := codec.FieldsEqual(first.Fields, encoded.Fields)
	if err != nil {
		return nil, err
	}
	if !equal || existing.DraftVersion != domain.FirstVersion {
		return nil, domain.NewConflict("entity %s already exists with different content", existing.ID)
	}
	return &EntityResult{Entity: existing, Version: first, Effect: EffectNone}, nil
}

// insertWithUniqueName attempts the insert under the requested name and, on a
// unique violation, retries with a random suffix inside a nested transaction
// so only the name insert is rolled back. The attempt count is bounded.
func (e *Engine) insertWithUniqueName(ctx context.Context, tx storage.Transaction, entity domain.Entity, requestedName string) (string, error) {
	name := requestedName
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		entity.Name = name
		err := tx.WithNested(ctx, func() error {
			return tx.InsertEntity(ctx, entity)
		})
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, storage.ErrUniqueViolation) {
			return "", storageErr(err, "failed to store entity")
		}
		name = requestedName + "#" + e.nameSuffix()
	}
	return "", domain.NewGeneric(nil, "failed to resolve a unique name for %q after %d attempts", requestedName, maxNameAttempts)
}
