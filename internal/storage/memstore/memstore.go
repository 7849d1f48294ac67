// Package memstore is the in-memory storage adapter. It backs the engine
// tests and serves as the replica target for sync-event replay. Transactions
// take a store-wide lock; savepoints snapshot and restore the working state.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/quiverhq/quiver/internal/domain"
	"github.com/quiverhq/quiver/internal/storage"
)

// Store implements storage.Adapter in memory.
type Store struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	entities       map[uuid.UUID]domain.Entity
	names          map[string]uuid.UUID
	versionsByID   map[uuid.UUID]domain.EntityVersion
	versionNumbers map[uuid.UUID]map[int]uuid.UUID
	edges          map[uuid.UUID][]uuid.UUID
	fullText       map[uuid.UUID][]string
	locations      map[uuid.UUID][]domain.Location
	pubEvents      map[uuid.UUID][]domain.PublishingEvent
	events         []domain.SyncEvent
	spec           *domain.SchemaSpecification
	principals     map[string]domain.Principal
	dirty          []uuid.UUID
}

// New creates an empty store.
func New() *Store {
	return &Store{state: newState()}
}

func newState() *state {
	return &state{
		entities:       make(map[uuid.UUID]domain.Entity),
		names:          make(map[string]uuid.UUID),
		versionsByID:   make(map[uuid.UUID]domain.EntityVersion),
		versionNumbers: make(map[uuid.UUID]map[int]uuid.UUID),
		edges:          make(map[uuid.UUID][]uuid.UUID),
		fullText:       make(map[uuid.UUID][]string),
		locations:      make(map[uuid.UUID][]domain.Location),
		pubEvents:      make(map[uuid.UUID][]domain.PublishingEvent),
		principals:     make(map[string]domain.Principal),
	}
}

func (s *state) clone() *state {
	clone := newState()
	for id, e := range s.entities {
		clone.entities[id] = e
	}
	for name, id := range s.names {
		clone.names[name] = id
	}
	for id, v := range s.versionsByID {
		v.Fields = domain.CloneFields(v.Fields)
		clone.versionsByID[id] = v
	}
	for entityID, numbers := range s.versionNumbers {
		inner := make(map[int]uuid.UUID, len(numbers))
		for n, id := range numbers {
			inner[n] = id
		}
		clone.versionNumbers[entityID] = inner
	}
	for id, targets := range s.edges {
		clone.edges[id] = append([]uuid.UUID(nil), targets...)
	}
	for id, tokens := range s.fullText {
		clone.fullText[id] = append([]string(nil), tokens...)
	}
	for id, points := range s.locations {
		clone.locations[id] = append([]domain.Location(nil), points...)
	}
	for id, events := range s.pubEvents {
		clone.pubEvents[id] = append([]domain.PublishingEvent(nil), events...)
	}
	clone.events = append([]domain.SyncEvent(nil), s.events...)
	if s.spec != nil {
		clone.spec = s.spec.Clone()
	}
	for key, p := range s.principals {
		clone.principals[key] = p
	}
	clone.dirty = append([]uuid.UUID(nil), s.dirty...)
	return clone
}

type tx struct {
	working *state
}

// WithTransaction serializes all writers; fn works on a snapshot that is
// swapped in only on success.
func (s *Store) WithTransaction(ctx context.Context, fn func(storage.Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(&tx{working: working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

// WithNested implements savepoint semantics: an error restores the state
// captured at entry, leaving earlier work in the transaction intact.
func (t *tx) WithNested(ctx context.Context, fn func() error) error {
	savepoint := t.working.clone()
	if err := fn(); err != nil {
		*t.working = *savepoint
		return err
	}
	return nil
}

func (t *tx) InsertEntity(ctx context.Context, entity domain.Entity) error {
	if _, exists := t.working.entities[entity.ID]; exists {
		return storage.ErrUniqueViolation
	}
	if _, taken := t.working.names[entity.Name]; taken {
		return storage.ErrUniqueViolation
	}
	t.working.entities[entity.ID] = entity
	t.working.names[entity.Name] = entity.ID
	return nil
}

func (t *tx) GetEntity(ctx context.Context, id uuid.UUID) (domain.Entity, error) {
	entity, ok := t.working.entities[id]
	if !ok {
		return domain.Entity{}, storage.ErrNotFound
	}
	return entity, nil
}

func (t *tx) GetEntityByName(ctx context.Context, name string) (domain.Entity, error) {
	id, ok := t.working.names[name]
	if !ok {
		return domain.Entity{}, storage.ErrNotFound
	}
	return t.working.entities[id], nil
}

func (t *tx) GetEntities(ctx context.Context, ids []uuid.UUID) ([]domain.Entity, error) {
	entities := make([]domain.Entity, 0, len(ids))
	for _, id := range ids {
		if entity, ok := t.working.entities[id]; ok {
			entities = append(entities, entity)
		}
	}
	return entities, nil
}

func (t *tx) UpdateEntity(ctx context.Context, entity domain.Entity) error {
	previous, ok := t.working.entities[entity.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if previous.Name != entity.Name {
		if owner, taken := t.working.names[entity.Name]; taken && owner != entity.ID {
			return storage.ErrUniqueViolation
		}
		delete(t.working.names, previous.Name)
		t.working.names[entity.Name] = entity.ID
	}
	t.working.entities[entity.ID] = entity
	return nil
}

func (t *tx) InsertVersion(ctx context.Context, version domain.EntityVersion) error {
	numbers, ok := t.working.versionNumbers[version.EntityID]
	if !ok {
		numbers = make(map[int]uuid.UUID)
		t.working.versionNumbers[version.EntityID] = numbers
	}
	if _, exists := numbers[version.Version]; exists {
		return storage.ErrUniqueViolation
	}
	version.Fields = domain.CloneFields(version.Fields)
	numbers[version.Version] = version.ID
	t.working.versionsByID[version.ID] = version
	return nil
}

func (t *tx) GetVersion(ctx context.Context, entityID uuid.UUID, number int) (domain.EntityVersion, error) {
	numbers, ok := t.working.versionNumbers[entityID]
	if !ok {
		return domain.EntityVersion{}, storage.ErrNotFound
	}
	id, ok := numbers[number]
	if !ok {
		return domain.EntityVersion{}, storage.ErrNotFound
	}
	return t.working.versionsByID[id], nil
}

func (t *tx) GetVersionByID(ctx context.Context, id uuid.UUID) (domain.EntityVersion, error) {
	version, ok := t.working.versionsByID[id]
	if !ok {
		return domain.EntityVersion{}, storage.ErrNotFound
	}
	return version, nil
}

func (t *tx) ListVersions(ctx context.Context, entityID uuid.UUID) ([]domain.EntityVersion, error) {
	numbers, ok := t.working.versionNumbers[entityID]
	if !ok {
		return nil, nil
	}
	versions := make([]domain.EntityVersion, 0, len(numbers))
	for _, id := range numbers {
		versions = append(versions, t.working.versionsByID[id])
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	return versions, nil
}

func (t *tx) ReplaceReferenceEdges(ctx context.Context, versionID uuid.UUID, targets []uuid.UUID) error {
	t.working.edges[versionID] = append([]uuid.UUID(nil), targets...)
	return nil
}

func (t *tx) GetReferenceEdges(ctx context.Context, versionID uuid.UUID) ([]uuid.UUID, error) {
	return append([]uuid.UUID(nil), t.working.edges[versionID]...), nil
}

func (t *tx) ReplaceVersionIndexes(ctx context.Context, versionID uuid.UUID, fullText []string, locations []domain.Location) error {
	t.working.fullText[versionID] = append([]string(nil), fullText...)
	t.working.locations[versionID] = append([]domain.Location(nil), locations...)
	return nil
}

func (t *tx) PublishedReferrers(ctx context.Context, targets []uuid.UUID) ([]domain.Entity, error) {
	targetSet := make(map[uuid.UUID]struct{}, len(targets))
	for _, id := range targets {
		targetSet[id] = struct{}{}
	}
	var referrers []domain.Entity
	for _, entity := range t.working.entities {
		if !entity.IsPublished() {
			continue
		}
		for _, target := range t.working.edges[*entity.PublishedVersionID] {
			if _, hit := targetSet[target]; hit {
				referrers = append(referrers, entity)
				break
			}
		}
	}
	sort.Slice(referrers, func(i, j int) bool { return referrers[i].ID.String() < referrers[j].ID.String() })
	return referrers, nil
}

func (t *tx) AppendPublishingEvent(ctx context.Context, event domain.PublishingEvent) error {
	t.working.pubEvents[event.EntityID] = append(t.working.pubEvents[event.EntityID], event)
	return nil
}

func (t *tx) ListPublishingEvents(ctx context.Context, entityID uuid.UUID) ([]domain.PublishingEvent, error) {
	return append([]domain.PublishingEvent(nil), t.working.pubEvents[entityID]...), nil
}

func (t *tx) AppendSyncEvent(ctx context.Context, event domain.SyncEvent) (int64, error) {
	event.ID = int64(len(t.working.events)) + 1
	t.working.events = append(t.working.events, event)
	return event.ID, nil
}

func (t *tx) ListSyncEvents(ctx context.Context, after int64, limit int) ([]domain.SyncEvent, error) {
	var events []domain.SyncEvent
	for _, event := range t.working.events {
		if event.ID <= after {
			continue
		}
		events = append(events, event)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events, nil
}

func (t *tx) LastSyncEventID(ctx context.Context) (int64, error) {
	return int64(len(t.working.events)), nil
}

func (t *tx) GetSchemaSpecification(ctx context.Context) (*domain.SchemaSpecification, error) {
	if t.working.spec == nil {
		return nil, storage.ErrNotFound
	}
	return t.working.spec.Clone(), nil
}

func (t *tx) UpdateSchemaSpecification(ctx context.Context, spec *domain.SchemaSpecification) error {
	t.working.spec = spec.Clone()
	return nil
}

func (t *tx) MarkEntitiesDirty(ctx context.Context, entityTypes []string) (int, error) {
	typeSet := make(map[string]struct{}, len(entityTypes))
	for _, name := range entityTypes {
		typeSet[name] = struct{}{}
	}
	queued := make(map[uuid.UUID]struct{}, len(t.working.dirty))
	for _, id := range t.working.dirty {
		queued[id] = struct{}{}
	}
	marked := 0
	for id, entity := range t.working.entities {
		if _, match := typeSet[entity.Type]; !match {
			continue
		}
		entity.Dirty = true
		t.working.entities[id] = entity
		if _, already := queued[id]; !already {
			t.working.dirty = append(t.working.dirty, id)
		}
		marked++
	}
	sort.Slice(t.working.dirty, func(i, j int) bool {
		return t.working.dirty[i].String() < t.working.dirty[j].String()
	})
	return marked, nil
}

func (t *tx) ClaimNextDirtyEntity(ctx context.Context) (domain.Entity, bool, error) {
	for _, id := range t.working.dirty {
		entity, ok := t.working.entities[id]
		if ok && entity.Dirty {
			return entity, true, nil
		}
	}
	return domain.Entity{}, false, nil
}

func (t *tx) ClearDirtyFlag(ctx context.Context, entityID uuid.UUID) error {
	entity, ok := t.working.entities[entityID]
	if !ok {
		return storage.ErrNotFound
	}
	entity.Dirty = false
	t.working.entities[entityID] = entity
	remaining := t.working.dirty[:0]
	for _, id := range t.working.dirty {
		if id != entityID {
			remaining = append(remaining, id)
		}
	}
	t.working.dirty = remaining
	return nil
}

func (t *tx) InsertPrincipal(ctx context.Context, principal domain.Principal) error {
	key := principalKey(principal.Provider, principal.Identifier)
	if _, exists := t.working.principals[key]; exists {
		return storage.ErrUniqueViolation
	}
	t.working.principals[key] = principal
	return nil
}

func (t *tx) GetPrincipal(ctx context.Context, provider, identifier string) (domain.Principal, error) {
	principal, ok := t.working.principals[principalKey(provider, identifier)]
	if !ok {
		return domain.Principal{}, storage.ErrNotFound
	}
	return principal, nil
}

func principalKey(provider, identifier string) string {
	return provider + "\x00" + identifier
}

// matchesText reports whether every whitespace-separated query token appears
// in the version's collected text, case-insensitively.
func matchesText(tokens []string, query string) bool {
	haystack := strings.ToLower(strings.Join(tokens, " "))
	for _, token := range strings.Fields(strings.ToLower(query)) {
		if !strings.Contains(haystack, token) {
			return false
		}
	}
	return true
}
