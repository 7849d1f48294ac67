// Package storage defines the abstract transactional adapter boundary the
// engine depends on. Adapters (postgres, memstore) supply the typed CRUD and
// filter primitives; the engine issues no SQL itself.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/quiverhq/quiver/internal/domain"
)

// Sentinel errors adapters translate their native failures into. The engine
// maps them onto the boundary error taxonomy.
var (
	ErrNotFound        = errors.New("storage: not found")
	ErrUniqueViolation = errors.New("storage: unique constraint violation")
)

// Adapter opens transactions against one logical store.
type Adapter interface {
	// WithTransaction runs fn inside one transaction; any error rolls the
	// whole transaction back.
	WithTransaction(ctx context.Context, fn func(Transaction) error) error
}

// Transaction exposes the typed primitives available inside a transaction.
type Transaction interface {
	// WithNested runs fn inside a savepoint: an error rolls back only the
	// work done inside fn, not the enclosing transaction.
	WithNested(ctx context.Context, fn func() error) error

	// Entities.
	InsertEntity(ctx context.Context, entity domain.Entity) error
	GetEntity(ctx context.Context, id uuid.UUID) (domain.Entity, error)
	GetEntityByName(ctx context.Context, name string) (domain.Entity, error)
	GetEntities(ctx context.Context, ids []uuid.UUID) ([]domain.Entity, error)
	UpdateEntity(ctx context.Context, entity domain.Entity) error

	// Versions. Index data (full text, locations) and reference edges are
	// recomputed fully on every version write, never patched.
	InsertVersion(ctx context.Context, version domain.EntityVersion) error
	GetVersion(ctx context.Context, entityID uuid.UUID, number int) (domain.EntityVersion, error)
	GetVersionByID(ctx context.Context, id uuid.UUID) (domain.EntityVersion, error)
	ListVersions(ctx context.Context, entityID uuid.UUID) ([]domain.EntityVersion, error)
	ReplaceReferenceEdges(ctx context.Context, versionID uuid.UUID, targets []uuid.UUID) error
	GetReferenceEdges(ctx context.Context, versionID uuid.UUID) ([]uuid.UUID, error)
	ReplaceVersionIndexes(ctx context.Context, versionID uuid.UUID, fullText []string, locations []domain.Location) error

	// PublishedReferrers returns the currently published entities whose
	// published version holds a reference edge to any of the targets.
	PublishedReferrers(ctx context.Context, targets []uuid.UUID) ([]domain.Entity, error)

	// ListEntities runs the composed filter query with keyset pagination.
	ListEntities(ctx context.Context, query ListQuery) ([]EntityWithVersion, int, error)

	// Publishing audit trail.
	AppendPublishingEvent(ctx context.Context, event domain.PublishingEvent) error
	ListPublishingEvents(ctx context.Context, entityID uuid.UUID) ([]domain.PublishingEvent, error)

	// Sync event log.
	AppendSyncEvent(ctx context.Context, event domain.SyncEvent) (int64, error)
	ListSyncEvents(ctx context.Context, after int64, limit int) ([]domain.SyncEvent, error)
	LastSyncEventID(ctx context.Context) (int64, error)

	// Schema.
	GetSchemaSpecification(ctx context.Context) (*domain.SchemaSpecification, error)
	UpdateSchemaSpecification(ctx context.Context, spec *domain.SchemaSpecification) error

	// Revalidation sweep bookkeeping.
	MarkEntitiesDirty(ctx context.Context, entityTypes []string) (int, error)
	ClaimNextDirtyEntity(ctx context.Context) (domain.Entity, bool, error)
	ClearDirtyFlag(ctx context.Context, entityID uuid.UUID) error

	// Principals.
	InsertPrincipal(ctx context.Context, principal domain.Principal) error
	GetPrincipal(ctx context.Context, provider, identifier string) (domain.Principal, error)
}

// View selects which pointer join a query reads.
type View string

const (
	ViewDraft     View = "draft"
	ViewPublished View = "published"
)

// Key is a decoded keyset cursor position: the string form of the order key
// plus the entity id tiebreak.
type Key struct {
	Value string
	ID    uuid.UUID
}

// ListQuery is the adapter-side shape of one composed entity query. Filters
// compose conjunctively. The adapter returns rows ordered by the requested
// key (descending when Descending), strictly after/before the cursor keys.
type ListQuery struct {
	View             View
	AuthKeys         []string
	EntityTypes      []string
	ReferencesEntity *uuid.UUID
	BoundingBox      *domain.BoundingBox
	Text             string
	Order            domain.EntityOrder
	Descending       bool
	After            *Key
	Before           *Key
	Limit            int
}

// EntityWithVersion is one result row: the entity head joined with the
// version the queried view points at.
type EntityWithVersion struct {
	Entity  domain.Entity
	Version domain.EntityVersion
}
