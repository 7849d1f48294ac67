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

// GetEntityOptions selects which snapshot of an entity to read.
type GetEntityOptions struct {
	// Version addresses an explicit version; nil reads the pointer selected
	// by Published.
	Version *int
	// Published reads the published view: the published pointer is required
	// and admin-only fields are stripped.
	Published bool
}

// GetEntity resolves one entity and the requested version of its content.
func (e *Engine) GetEntity(ctx context.Context, id uuid.UUID, opts GetEntityOptions) (*domain.ResolvedEntity, error) {
	session := auth.SessionFromContext(ctx)
	spec := e.registry.Current()

	var resolved *domain.ResolvedEntity
	err := e.adapter.WithTransaction(ctx, func(tx storage.Transaction) error {
		entity, err := tx.GetEntity(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return domain.NewNotFound("entity %s does not exist", id)
		}
		if err != nil {
			return storageErr(err, "failed to load entity %s", id)
		}
		if !session.CanAccess(entity.AuthKey) {
			return domain.NewNotAuthorized("entity %s is not available to this session", id)
		}

		number := entity.DraftVersion
		if opts.Published {
			if !entity.IsPublished() {
				return domain.NewNotFound("entity %s is not published", id)
			}
			number = *entity.PublishedVersion
		}
		if opts.Version != nil {
			number = *opts.Version
		}
		version, err := tx.GetVersion(ctx, entity.ID, number)
		if errors.Is(err, storage.ErrNotFound) {
			return domain.NewNotFound("entity %s has no version %d", id, number)
		}
		if err != nil {
			return storageErr(err, "failed to load version %d of entity %s", number, id)
		}

		fields, err := e.decodeForRead(spec, entity.Type, version.Fields, opts.Published)
		if err != nil {
			return err
		}
		version.Fields = fields
		resolved = &domain.ResolvedEntity{Entity: entity, Version: version}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// GetEntityByName resolves an entity through the unique name index.
func (e *Engine) GetEntityByName(ctx context.Context, name string, opts GetEntityOptions) (*domain.ResolvedEntity, error) {
	var id uuid.UUID
	err := e.adapter.WithTransaction(ctx, func(tx storage.Transaction) error {
		entity, err := tx.GetEntityByName(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			return domain.NewNotFound("no entity named %q", name)
		}
		if err != nil {
			return storageErr(err, "failed to look up entity %q", name)
		}
		id = entity.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.GetEntity(ctx, id, opts)
}

// GetEntities resolves a batch of entities in request order. Unknown ids and
// entities outside the session's auth scope are reported per item.
func (e *Engine) GetEntities(ctx context.Context, ids []uuid.UUID, opts GetEntityOptions) ([]*domain.ResolvedEntity, []error) {
	resolved := make([]*domain.ResolvedEntity, len(ids))
	errs := make([]error, len(ids))
	for i, id := range ids {
		resolved[i], errs[i] = e.GetEntity(ctx, id, opts)
	}
	return resolved, errs
}

// GetEntityHistory lists the full version chain of an entity, oldest first,
// together with its publishing event trail.
func (e *Engine) GetEntityHistory(ctx context.Context, id uuid.UUID) ([]domain.EntityVersion, []domain.PublishingEvent, error) {
	session := auth.SessionFromContext(ctx)

	var versions []domain.EntityVersion
	var events []domain.PublishingEvent
	err := e.adapter.WithTransaction(ctx, func(tx storage.Transaction) error {
		entity, err := tx.GetEntity(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return domain.NewNotFound("entity %s does not exist", id)
		}
		if err != nil {
			return storageErr(err, "failed to load entity %s", id)
		}
		if !session.CanAccess(entity.AuthKey) {
			return domain.NewNotAuthorized("entity %s is not available to this session", id)
		}
		versions, err = tx.ListVersions(ctx, id)
		if err != nil {
			return storageErr(err, "failed to list versions of entity %s", id)
		}
		events, err = tx.ListPublishingEvents(ctx, id)
		if err != nil {
			return storageErr(err, "failed to list publishing events of entity %s", id)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return versions, events, nil
}

// decodeForRead converts stored fields to the caller-facing shape. Draft
// reads keep extra keys so forward-incompatible content round-trips;
// published reads strip admin-only fields and carry every other declared
// field, absent ones as explicit nulls.
func (e *Engine) decodeForRead(spec *domain.SchemaSpecification, typeName string, stored map[string]any, published bool) (map[string]any, error) {
	if published {
		decoded, err := codec.Decode(spec, typeName, stored, codec.ModeStrip)
		if err != nil {
			return nil, err
		}
		return codec.MaterializeAbsent(spec, typeName, codec.StripAdminOnly(spec, typeName, decoded)), nil
	}
	return codec.Decode(spec, typeName, stored, codec.ModeKeepExtra)
}
