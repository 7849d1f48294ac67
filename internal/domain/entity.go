package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntityStatus is derived from the archived flag and the two version
// pointers. It is never stored directly.
type EntityStatus string

const (
	StatusDraft     EntityStatus = "draft"
	StatusPublished EntityStatus = "published"
	StatusModified  EntityStatus = "modified"
	StatusWithdrawn EntityStatus = "withdrawn"
	StatusArchived  EntityStatus = "archived"
)

// Entity is the mutable head record of a version chain. The draft pointer is
// always set; the published pointer is independent and nullable.
type Entity struct {
	ID       uuid.UUID `json:"id"`
	Type     string    `json:"type"`
	Name     string    `json:"name"`
	AuthKey  string    `json:"authKey"`
	Archived bool      `json:"archived"`
	// EverPublished distinguishes a never-published draft from a withdrawn
	// entity once the published pointer is cleared.
	EverPublished      bool       `json:"everPublished"`
	DraftVersionID     uuid.UUID  `json:"draftVersionId"`
	DraftVersion       int        `json:"draftVersion"`
	PublishedVersionID *uuid.UUID `json:"publishedVersionId,omitempty"`
	PublishedVersion   *int       `json:"publishedVersion,omitempty"`
	Dirty              bool       `json:"-"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// Status derives the lifecycle state from archived + pointers.
func (e Entity) Status() EntityStatus {
	switch {
	case e.Archived:
		return StatusArchived
	case e.PublishedVersionID == nil && !e.EverPublished:
		return StatusDraft
	case e.PublishedVersionID == nil:
		return StatusWithdrawn
	case *e.PublishedVersionID == e.DraftVersionID:
		return StatusPublished
	default:
		return StatusModified
	}
}

// IsPublished reports whether the entity currently has a published version.
func (e Entity) IsPublished() bool {
	return !e.Archived && e.PublishedVersionID != nil
}

// EntityVersion is an immutable snapshot in an entity's append-only chain.
// Version numbers start at 1 and increase by exactly one per appended version.
type EntityVersion struct {
	ID            uuid.UUID      `json:"id"`
	EntityID      uuid.UUID      `json:"entityId"`
	Version       int            `json:"version"`
	Fields        map[string]any `json:"fields"`
	SchemaVersion int            `json:"schemaVersion"`
	CreatedBy     uuid.UUID      `json:"createdBy"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// FirstVersion is the version number of a freshly created entity.
const FirstVersion = 1

// CloneFields creates a deep copy of a field tree so callers can merge over a
// previous snapshot without mutating it.
func CloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	clone := make(map[string]any, len(fields))
	for k, v := range fields {
		clone[k] = cloneValue(v)
	}
	return clone
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return CloneFields(typed)
	case []any:
		clone := make([]any, len(typed))
		for i, item := range typed {
			clone[i] = cloneValue(item)
		}
		return clone
	default:
		return typed
	}
}
