package engine

import (
	"context"
	"errors"

	"github.com/quiverhq/quiver/internal/auth"
	"github.com/quiverhq/quiver/internal/domain"
	"github.com/quiverhq/quiver/internal/schema"
	"github.com/quiverhq/quiver/internal/storage"
)

// GetSchemaSpecification returns the active specification snapshot.
func (e *Engine) GetSchemaSpecification(_ context.Context) *domain.SchemaSpecification {
	return e.registry.Current()
}

// SchemaUpdateResult reports what a schema update changed.
type SchemaUpdateResult struct {
	Specification *domain.SchemaSpecification
	// AffectedTypes lists the entity types whose stored content needs
	// revalidation against the new specification.
	AffectedTypes []string
	// MarkedDirty is the number of entities queued for the revalidation sweep.
	MarkedDirty int
}

// UpdateSchemaSpecification merges the update into the active specification,
// persists the merged result, marks entities of affected types dirty for the
// background sweep and appends an updateSchema sync event. The registry swaps
// to the new snapshot only after the transaction commits, so concurrent
// operations keep seeing a consistent spec.
func (e *Engine) UpdateSchemaSpecification(ctx context.Context, update *domain.SchemaSpecification) (*SchemaUpdateResult, error) {
	if update == nil {
		return nil, domain.NewBadRequest("schema update must not be empty")
	}
	session := auth.SessionFromContext(ctx)
	current := e.registry.Current()

	merged, err := schema.MergeSpecifications(current, update)
	if err != nil {
		return nil, err
	}
	affected := schema.DiffForRevalidation(current, merged)

	result := &SchemaUpdateResult{Specification: merged, AffectedTypes: affected}
	err = e.adapter.WithTransaction(ctx, func(tx storage.Transaction) error {
		stored, err := tx.GetSchemaSpecification(ctx)
		switch {
		case err == nil:
			if stored.Version != current.Version {
				return domain.NewConflict("schema specification changed concurrently, expected version %d, found %d", current.Version, stored.Version)
			}
		case errors.Is(err, storage.ErrNotFound):
			// First specification in an empty store.
		default:
			return storageErr(err, "failed to load schema specification")
		}
		if err := tx.UpdateSchemaSpecification(ctx, merged); err != nil {
			return storageErr(err, "failed to store schema specification")
		}
		if len(affected) > 0 {
			marked, err := tx.MarkEntitiesDirty(ctx, affected)
			if err != nil {
				return storageErr(err, "failed to mark entities for revalidation")
			}
			result.MarkedDirty = marked
		}
		return e.appendSyncEventAt(ctx, tx, domain.EventUpdateSchema, session.PrincipalID,
			merged.Version, domain.SchemaEventPayload{Specification: merged})
	})
	if err != nil {
		return nil, err
	}

	e.registry.Swap(merged)
	e.logger.Info().
		Int("schemaVersion", merged.Version).
		Strs("affectedTypes", affected).
		Int("markedDirty", result.MarkedDirty).
		Msg("schema specification updated")
	return result, nil
}
