// Package engine implements the entity version store, the publishing engine,
// the query/connection engine and the sync event log on top of the abstract
// storage adapter. Every operation runs inside one storage transaction; a
// failed operation leaves no partial version, pointer or event behind.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quiverhq/quiver/internal/codec"
	"github.com/quiverhq/quiver/internal/domain"
	"github.com/quiverhq/quiver/internal/schema"
	"github.com/quiverhq/quiver/internal/storage"
)

// maxNameAttempts bounds the unique-name retry loop. This is the only
// built-in retry in the core.
const maxNameAttempts = 10

// Engine is the operation surface of the content repository.
type Engine struct {
	adapter    storage.Adapter
	registry   *schema.Registry
	logger     zerolog.Logger
	nameSuffix func() string
	now        func() time.Time
	newID      func() uuid.UUID
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithNameSuffix injects the suffix generator of the unique-name retry loop.
func WithNameSuffix(fn func() string) Option {
	return func(e *Engine) { e.nameSuffix = fn }
}

// WithClock injects the time source.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) { e.now = fn }
}

// WithIDGenerator injects the id source.
func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(e *Engine) { e.newID = fn }
}

// New creates an engine bound to a storage adapter and loads the current
// schema specification into the registry snapshot.
func New(ctx context.Context, adapter storage.Adapter, opts ...Option) (*Engine, error) {
	e := &Engine{
		adapter:    adapter,
		logger:     zerolog.Nop(),
		nameSuffix: randomNameSuffix,
		now:        time.Now,
		newID:      uuid.New,
	}
	for _, opt := range opts {
		opt(e)
	}

	var spec *domain.SchemaSpecification
	err := adapter.WithTransaction(ctx, func(tx storage.Transaction) error {
		stored, err := tx.GetSchemaSpecification(ctx)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		spec = stored
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load schema specification: %w", err)
	}
	e.registry = schema.NewRegistry(spec)
	return e, nil
}

// Effect tells the caller what a mutation actually did.
type Effect string

const (
	EffectCreated             Effect = "created"
	EffectCreatedAndPublished Effect = "createdAndPublished"
	EffectUpdated             Effect = "updated"
	EffectUpdatedAndPublished Effect = "updatedAndPublished"
	EffectPublished           Effect = "published"
	EffectUnpublished         Effect = "unpublished"
	EffectArchived            Effect = "archived"
	EffectUnarchived          Effect = "unarchived"
	EffectNone                Effect = "none"
)

// EntityResult is the outcome of one entity mutation or read.
type EntityResult struct {
	Entity  domain.Entity
	Version domain.EntityVersion
	Effect  Effect
}

// randomNameSuffix generates the default collision suffix.
func randomNameSuffix() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(buf[:])
}

// storageErr maps adapter sentinel failures onto the boundary taxonomy,
// wrapping everything else as Generic.
func storageErr(err error, format string, args ...any) error {
	var boundary *domain.Error
	switch {
	case errors.As(err, &boundary):
		return err
	case errors.Is(err, storage.ErrNotFound):
		return domain.NewNotFound(format, args...)
	default:
		return domain.NewGeneric(err, format, args...)
	}
}

// appendSyncEvent appends the single sync event of a mutating transaction,
// stamped with the active schema version.
func (e *Engine) appendSyncEvent(ctx context.Context, tx storage.Transaction, kind domain.SyncEventKind, createdBy uuid.UUID, payload any) error {
	return e.appendSyncEventAt(ctx, tx, kind, createdBy, e.registry.Current().Version, payload)
}

// appendSyncEventAt stamps an explicit schema version. Schema updates use it
// because their event installs the version it is stamped with.
func (e *Engine) appendSyncEventAt(ctx context.Context, tx storage.Transaction, kind domain.SyncEventKind, createdBy uuid.UUID, schemaVersion int, payload any) error {
	data, err := domain.MarshalEventPayload(payload)
	if err != nil {
		return domain.NewGeneric(err, "failed to encode sync event payload")
	}
	event := domain.SyncEvent{
		Kind:          kind,
		CreatedBy:     createdBy,
		CreatedAt:     e.now(),
		SchemaVersion: schemaVersion,
		Payload:       data,
	}
	if _, err := tx.AppendSyncEvent(ctx, event); err != nil {
		return domain.NewGeneric(err, "failed to append sync event")
	}
	return nil
}

// verifyReferences bulk-resolves the reference set collected by one encoding
// pass and validates existence and allowed-type membership.
func verifyReferences(ctx context.Context, tx storage.Transaction, result *codec.EncodeResult) error {
	ids := result.ReferenceIDs()
	if len(ids) == 0 {
		return nil
	}
	targets, err := tx.GetEntities(ctx, ids)
	if err != nil {
		return storageErr(err, "failed to resolve references")
	}
	resolved := make(map[uuid.UUID]domain.Entity, len(targets))
	for _, target := range targets {
		resolved[target.ID] = target
	}
	return codec.VerifyReferences(result.References, resolved)
}

// persistVersionIndexes stores the derived data of a version: reference
// edges, full-text tokens and geo points. Always a full replace.
func persistVersionIndexes(ctx context.Context, tx storage.Transaction, versionID uuid.UUID, result *codec.EncodeResult) error {
	if err := tx.ReplaceReferenceEdges(ctx, versionID, result.ReferenceIDs()); err != nil {
		return storageErr(err, "failed to store reference edges")
	}
	if err := tx.ReplaceVersionIndexes(ctx, versionID, result.FullText, result.Locations); err != nil {
		return storageErr(err, "failed to store version indexes")
	}
	return nil
}
