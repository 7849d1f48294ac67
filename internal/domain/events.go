package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncEventKind identifies the mutation a sync event records.
type SyncEventKind string

const (
	EventCreateEntity      SyncEventKind = "createEntity"
	EventUpdateEntity      SyncEventKind = "updateEntity"
	EventPublishEntities   SyncEventKind = "publishEntities"
	EventUnpublishEntities SyncEventKind = "unpublishEntities"
	EventArchiveEntity     SyncEventKind = "archiveEntity"
	EventUnarchiveEntity   SyncEventKind = "unarchiveEntity"
	EventUpdateSchema      SyncEventKind = "updateSchema"
	EventCreatePrincipal   SyncEventKind = "createPrincipal"
)

// SyncEvent is one immutable entry of the ordered, replayable mutation log.
// Ids are strictly increasing with no gaps; the payload carries enough data
// to replay the mutation deterministically on another store.
type SyncEvent struct {
	ID            int64           `json:"id"`
	Kind          SyncEventKind   `json:"kind"`
	CreatedBy     uuid.UUID       `json:"createdBy"`
	CreatedAt     time.Time       `json:"createdAt"`
	SchemaVersion int             `json:"schemaVersion"`
	Payload       json.RawMessage `json:"payload"`
}

// EntityEventPayload is carried by createEntity and updateEntity events. It
// embeds the full version snapshot so replay needs no side lookups.
type EntityEventPayload struct {
	EntityID uuid.UUID      `json:"entityId"`
	Type     string         `json:"type"`
	Name     string         `json:"name"`
	AuthKey  string         `json:"authKey"`
	Version  int            `json:"version"`
	Fields   map[string]any `json:"fields"`
	Publish  bool           `json:"publish,omitempty"`
}

// PublishItem addresses one entity version inside a publish batch.
type PublishItem struct {
	EntityID uuid.UUID `json:"entityId"`
	Version  int       `json:"version"`
}

// PublishEventPayload is carried by publishEntities and unpublishEntities
// events. Unpublish items carry version 0.
type PublishEventPayload struct {
	Items []PublishItem `json:"items"`
}

// ArchiveEventPayload is carried by archiveEntity and unarchiveEntity events.
type ArchiveEventPayload struct {
	EntityID uuid.UUID `json:"entityId"`
}

// SchemaEventPayload is carried by updateSchema events.
type SchemaEventPayload struct {
	Specification *SchemaSpecification `json:"specification"`
}

// PrincipalEventPayload is carried by createPrincipal events so replayed logs
// reproduce actor identities.
type PrincipalEventPayload struct {
	PrincipalID uuid.UUID `json:"principalId"`
	Provider    string    `json:"provider"`
	Identifier  string    `json:"identifier"`
}

// MarshalEventPayload serializes a typed payload for persistence.
func MarshalEventPayload(payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return data, nil
}

// UnmarshalEventPayload decodes a persisted payload into the typed form.
func UnmarshalEventPayload(data json.RawMessage, payload any) error {
	if err := json.Unmarshal(data, payload); err != nil {
		return fmt.Errorf("failed to unmarshal event payload: %w", err)
	}
	return nil
}

// PublishingEventKind identifies one per-entity lifecycle transition.
type PublishingEventKind string

const (
	PublishingEventPublish   PublishingEventKind = "publish"
	PublishingEventUnpublish PublishingEventKind = "unpublish"
	PublishingEventArchive   PublishingEventKind = "archive"
	PublishingEventUnarchive PublishingEventKind = "unarchive"
)

// PublishingEvent is the per-entity audit record of lifecycle transitions,
// separate from the replayable sync log.
type PublishingEvent struct {
	EntityID  uuid.UUID           `json:"entityId"`
	VersionID *uuid.UUID          `json:"versionId,omitempty"`
	Kind      PublishingEventKind `json:"kind"`
	CreatedBy uuid.UUID           `json:"createdBy"`
	CreatedAt time.Time           `json:"createdAt"`
}

// Principal maps an auth provider identity onto a stable actor id.
type Principal struct {
	ID         uuid.UUID `json:"id"`
	Provider   string    `json:"provider"`
	Identifier string    `json:"identifier"`
	CreatedAt  time.Time `json:"createdAt"`
}
