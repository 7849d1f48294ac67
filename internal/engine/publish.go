package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/quiverhq/quiver/internal/auth"
	"github.com/quiverhq/quiver/internal/codec"
	"github.com/quiverhq/quiver/internal/domain"
	"github.com/quiverhq/quiver/internal/storage"
)

// PublishRequest addresses one entity in a publish batch. Version selects the
// target version; nil publishes the draft head.
type PublishRequest struct {
	ID      uuid.UUID
	Version *int
}

// resolvedPublish is one publish item after entity and version resolution.
type resolvedPublish struct {
	entity  domain.Entity
	version domain.EntityVersion
}

// PublishEntities publishes a batch atomically: every validation for the
// whole batch runs before any pointer flips, so the batch fully succeeds or
// fully fails. Missing ids are reported together as NotFound; integrity
// failures are collected across the batch into one BadRequest.
func (e *Engine) PublishEntities(ctx context.Context, requests []PublishRequest) ([]EntityResult, error) {
	if len(requests) == 0 {
		return nil, domain.NewBadRequest("publish batch cannot be empty")
	}
	session := auth.SessionFromContext(ctx)

	var results []EntityResult
	err := e.adapter.WithTransaction(ctx, func(tx storage.Transaction) error {
		items := make([]resolvedPublish, 0, len(requests))
		var missing []string
		for _, req := range requests {
			entity, err := tx.GetEntity(ctx, req.ID)
			if errors.Is(err, storage.ErrNotFound) {
				missing = append(missing, req.ID.String())
				continue
			}
			if err != nil {
				return storageErr(err, "failed to load entity %s", req.ID)
			}
			if !session.CanAccess(entity.AuthKey) {
				return domain.NewNotAuthorized("entity %s is not available to this session", req.ID)
			}
			number := entity.DraftVersion
			if req.Version != nil {
				number = *req.Version
			}
			version, err := tx.GetVersion(ctx, entity.ID, number)
			if errors.Is(err, storage.ErrNotFound) {
				missing = append(missing, fmt.Sprintf("%s@%d", req.ID, number))
				continue
			}
			if err != nil {
				return storageErr(err, "failed to load version %d of entity %s", number, req.ID)
			}
			items = append(items, resolvedPublish{entity: entity, version: version})
		}
		if len(missing) > 0 {
			return domain.NewNotFound("unknown entities: %s", strings.Join(missing, ", "))
		}

		published, err := e.publishInTx(ctx, tx, session, items)
		if err != nil {
			return err
		}

		eventItems := make([]domain.PublishItem, len(items))
		results = make([]EntityResult, len(items))
		for i, item := range items {
			eventItems[i] = domain.PublishItem{EntityID: item.entity.ID, Version: item.version.Version}
			results[i] = EntityResult{Entity: published[i], Version: item.version, Effect: EffectPublished}
		}
		return e.appendSyncEvent(ctx, tx, domain.EventPublishEntities, session.PrincipalID,
			domain.PublishEventPayload{Items: eventItems})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// publishInTx runs the publish algorithm for resolved items inside the
// caller's transaction: content validation, then the referential integrity
// check, then the pointer flips. No published entity may reference an
// unpublished or archived entity; targets inside the same batch count as
// published.
func (e *Engine) publishInTx(ctx context.Context, tx storage.Transaction, session auth.Session, items []resolvedPublish) ([]domain.Entity, error) {
	spec := e.registry.Current()

	batch := make(map[uuid.UUID]struct{}, len(items))
	for _, item := range items {
		batch[item.entity.ID] = struct{}{}
	}

	var problems []string
	for _, item := range items {
		entity, version := item.entity, item.version
		if entity.Archived {
			problems = append(problems, fmt.Sprintf("entity %s is archived and cannot be published", entity.ID))
			continue
		}
		if entity.PublishedVersionID != nil && *entity.PublishedVersionID == version.ID {
			problems = append(problems, fmt.Sprintf("version %d of entity %s is already published", version.Version, entity.ID))
			continue
		}
		entityType, known := spec.EntityType(entity.Type)
		if !known {
			problems = append(problems, fmt.Sprintf("entity %s has unknown type %s", entity.ID, entity.Type))
			continue
		}
		if entityType.AdminOnly {
			problems = append(problems, fmt.Sprintf("entity %s has admin-only type %s and cannot be published", entity.ID, entity.Type))
			continue
		}
		if err := codec.ValidateForPublish(spec, entity.Type, version.Fields); err != nil {
			problems = append(problems, fmt.Sprintf("entity %s: %s", entity.ID, boundaryMessage(err)))
			continue
		}

		edges, err := tx.GetReferenceEdges(ctx, version.ID)
		if err != nil {
			return nil, storageErr(err, "failed to load reference edges of entity %s", entity.ID)
		}
		if len(edges) == 0 {
			continue
		}
		targets, err := tx.GetEntities(ctx, edges)
		if err != nil {
			return nil, storageErr(err, "failed to resolve references of entity %s", entity.ID)
		}
		resolved := make(map[uuid.UUID]domain.Entity, len(targets))
		for _, target := range targets {
			resolved[target.ID] = target
		}
		for _, target := range edges {
			if _, inBatch := batch[target]; inBatch {
				continue
			}
			targetEntity, found := resolved[target]
			if !found {
				problems = append(problems, fmt.Sprintf("entity %s references missing entity %s", entity.ID, target))
				continue
			}
			if !targetEntity.IsPublished() {
				problems = append(problems, fmt.Sprintf("entity %s references unpublished entity %s", entity.ID, target))
			}
		}
	}
	if len(problems) > 0 {
		return nil, domain.NewBadRequest("%s", strings.Join(problems, "; "))
	}

	now := e.now()
	published := make([]domain.Entity, len(items))
	for i, item := range items {
		entity, version := item.entity, item.version
		versionID := version.ID
		versionNumber := version.Version
		entity.PublishedVersionID = &versionID
		entity.PublishedVersion = &versionNumber
		entity.EverPublished = true
		entity.UpdatedAt = now
		if err := tx.UpdateEntity(ctx, entity); err != nil {
			return nil, storageErr(err, "failed to update entity %s", entity.ID)
		}
		if err := tx.AppendPublishingEvent(ctx, domain.PublishingEvent{
			EntityID:  entity.ID,
			VersionID: &versionID,
			Kind:      domain.PublishingEventPublish,
			CreatedBy: session.PrincipalID,
			CreatedAt: now,
		}); err != nil {
			return nil, storageErr(err, "failed to record publishing event for entity %s", entity.ID)
		}
		published[i] = entity
	}
	return published, nil
}

// appendPublishSyncEvent records a single-entity publish that happened
// outside an explicit batch (publish flag on update).
func (e *Engine) appendPublishSyncEvent(ctx context.Context, tx storage.Transaction, session auth.Session, entity domain.Entity, version domain.EntityVersion) error {
	return e.appendSyncEvent(ctx, tx, domain.EventPublishEntities, session.PrincipalID, domain.PublishEventPayload{
		Items: []domain.PublishItem{{EntityID: entity.ID, Version: version.Version}},
	})
}

// UnpublishEntities clears published pointers for a batch after verifying the
// symmetric integrity rule: no remaining published entity may still reference
// any of the entities being unpublished.
func (e *Engine) UnpublishEntities(ctx context.Context, ids []uuid.UUID) ([]EntityResult, error) {
	if len(ids) == 0 {
		return nil, domain.NewBadRequest("unpublish batch cannot be empty")
	}
	session := auth.SessionFromContext(ctx)

	var results []EntityResult
	err := e.adapter.WithTransaction(ctx, func(tx storage.Transaction) error {
		batch := make(map[uuid.UUID]struct{}, len(ids))
		entities := make([]domain.Entity, 0, len(ids))
		var missing []string
		var problems []string

		for _, id := range ids {
			entity, err := tx.GetEntity(ctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				missing = append(missing, id.String())
				continue
			}
			if err != nil {
				return storageErr(err, "failed to load entity %s", id)
			}
			if !session.CanAccess(entity.AuthKey) {
				return domain.NewNotAuthorized("entity %s is not available to this session", id)
			}
			if !entity.IsPublished() {
				problems = append(problems, fmt.Sprintf("entity %s is not published", id))
				continue
			}
			batch[id] = struct{}{}
			entities = append(entities, entity)
		}
		if len(missing) > 0 {
			return domain.NewNotFound("unknown entities: %s", strings.Join(missing, ", "))
		}

		for _, entity := range entities {
			referrers, err := tx.PublishedReferrers(ctx, []uuid.UUID{entity.ID})
			if err != nil {
				return storageErr(err, "failed to find referrers of entity %s", entity.ID)
			}
			var blocking []string
			for _, referrer := range referrers {
				if _, leaving := batch[referrer.ID]; leaving {
					continue
				}
				blocking = append(blocking, referrer.ID.String())
			}
			if len(blocking) > 0 {
				problems = append(problems, fmt.Sprintf("entity %s is referenced by published entities: %s",
					entity.ID, strings.Join(blocking, ", ")))
			}
		}
		if len(problems) > 0 {
			return domain.NewBadRequest("%s", strings.Join(problems, "; "))
		}

		now := e.now()
		eventItems := make([]domain.PublishItem, len(entities))
		results = make([]EntityResult, len(entities))
		for i, entity := range entities {
			entity.PublishedVersionID = nil
			entity.PublishedVersion = nil
			entity.UpdatedAt = now
			if err := tx.UpdateEntity(ctx, entity); err != nil {
				return storageErr(err, "failed to update entity %s", entity.ID)
			}
			if err := tx.AppendPublishingEvent(ctx, domain.PublishingEvent{
				EntityID:  entity.ID,
				Kind:      domain.PublishingEventUnpublish,
				CreatedBy: session.PrincipalID,
				CreatedAt: now,
			}); err != nil {
				return storageErr(err, "failed to record publishing event for entity %s", entity.ID)
			}
			eventItems[i] = domain.PublishItem{EntityID: entity.ID}
			draft, err := tx.GetVersion(ctx, entity.ID, entity.DraftVersion)
			if err != nil {
				return storageErr(err, "failed to load draft version of entity %s", entity.ID)
			}
			results[i] = EntityResult{Entity: entity, Version: draft, Effect: EffectUnpublished}
		}
		return e.appendSyncEvent(ctx, tx, domain.EventUnpublishEntities, session.PrincipalID,
			domain.PublishEventPayload{Items: eventItems})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// boundaryMessage extracts the message of a boundary error for batch
// collection, falling back to the raw error text.
func boundaryMessage(err error) string {
	var boundary *domain.Error
	if errors.As(err, &boundary) {
		return boundary.Message
	}
	return err.Error()
}
