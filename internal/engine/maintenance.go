package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/quiverhq/quiver/internal/codec"
	"github.com/quiverhq/quiver/internal/domain"
	"github.com/quiverhq/quiver/internal/storage"
)

// ProcessNextDirtyEntity claims one entity queued by a schema update and
// migrates its draft head to the current specification. Content the new spec
// no longer declares is dropped into a fresh version; content that survives
// unchanged only gets its indexes and schema version refreshed in place. The
// claim is released even when migration fails, so one broken entity cannot
// wedge the sweep. Returns false when the queue is empty.
func (e *Engine) ProcessNextDirtyEntity(ctx context.Context) (bool, error) {
	spec := e.registry.Current()

	var claimed bool
	err := e.adapter.WithTransaction(ctx, func(tx storage.Transaction) error {
		entity, found, err := tx.ClaimNextDirtyEntity(ctx)
		if err != nil {
			return storageErr(err, "failed to claim dirty entity")
		}
		if !found {
			return nil
		}
		claimed = true

		if err := e.migrateEntity(ctx, tx, spec, entity); err != nil {
			e.logger.Warn().
				Str("entity", entity.ID.String()).
				Str("type", entity.Type).
				Err(err).
				Msg("revalidation failed, leaving entity on its stored version")
		}
		if err := tx.ClearDirtyFlag(ctx, entity.ID); err != nil {
			return storageErr(err, "failed to clear dirty flag of entity %s", entity.ID)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// RunRevalidationSweep drains the dirty queue until it is empty or the context
// is cancelled.
func (e *Engine) RunRevalidationSweep(ctx context.Context) (int, error) {
	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		more, err := e.ProcessNextDirtyEntity(ctx)
		if err != nil {
			return processed, err
		}
		if !more {
			return processed, nil
		}
		processed++
	}
}

// migrateEntity rewrites one entity's draft head under the given spec inside
// a savepoint, so a failed migration leaves the claim handling intact.
func (e *Engine) migrateEntity(ctx context.Context, tx storage.Transaction, spec *domain.SchemaSpecification, entity domain.Entity) error {
	return tx.WithNested(ctx, func() error {
		draft, err := tx.GetVersion(ctx, entity.ID, entity.DraftVersion)
		if err != nil {
			return storageErr(err, "failed to load draft version of entity %s", entity.ID)
		}
		if _, known := spec.EntityType(entity.Type); !known {
			return domain.NewBadRequest("entity type %s is no longer declared", entity.Type)
		}

		result, changed, err := codec.Migrate(spec, entity.Type, draft.Fields)
		if err != nil {
			return err
		}

		if !changed {
			// Content survives as-is: only the derived indexes are refreshed.
			return persistVersionIndexes(ctx, tx, draft.ID, result)
		}

		now := e.now()
		version := domain.EntityVersion{
			ID:            e.newID(),
			EntityID:      entity.ID,
			Version:       entity.DraftVersion + 1,
			Fields:        result.Fields,
			SchemaVersion: spec.Version,
			CreatedBy:     uuid.Nil, // system migration, no acting principal
			CreatedAt:     now,
		}
		if err := tx.InsertVersion(ctx, version); err != nil {
			return storageErr(err, "failed to store migrated version of entity %s", entity.ID)
		}
		if err := persistVersionIndexes(ctx, tx, version.ID, result); err != nil {
			return err
		}

		entity.DraftVersionID = version.ID
		entity.DraftVersion = version.Version
		entity.UpdatedAt = now
		if err := tx.UpdateEntity(ctx, entity); err != nil {
			return storageErr(err, "failed to update entity %s", entity.ID)
		}

		e.logger.Info().
			Str("entity", entity.ID.String()).
			Str("type", entity.Type).
			Int("version", version.Version).
			Int("schemaVersion", spec.Version).
			Msg("migrated entity draft to current schema")
		return nil
	})
}
