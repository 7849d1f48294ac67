package domain

import (
	"github.com/google/uuid"
)

// EntityOrder selects the keyset used for cursor pagination.
type EntityOrder string

const (
	OrderCreatedAt EntityOrder = "createdAt"
	OrderUpdatedAt EntityOrder = "updatedAt"
	OrderName      EntityOrder = "name"
)

// Location is a geographic point collected from location fields.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// BoundingBox is the geo filter primitive. Boxes never wrap the antimeridian.
type BoundingBox struct {
	MinLat float64 `json:"minLat"`
	MaxLat float64 `json:"maxLat"`
	MinLng float64 `json:"minLng"`
	MaxLng float64 `json:"maxLng"`
}

// Contains reports whether the point lies inside the box.
func (b BoundingBox) Contains(loc Location) bool {
	return loc.Lat >= b.MinLat && loc.Lat <= b.MaxLat &&
		loc.Lng >= b.MinLng && loc.Lng <= b.MaxLng
}

// Valid reports whether the box is well formed.
func (b BoundingBox) Valid() bool {
	return b.MinLat <= b.MaxLat && b.MinLng <= b.MaxLng &&
		b.MinLat >= -90 && b.MaxLat <= 90 && b.MinLng >= -180 && b.MaxLng <= 180
}

// EntityQuery composes conjunctive filters over the draft or published view.
type EntityQuery struct {
	EntityTypes      []string
	ReferencesEntity *uuid.UUID
	BoundingBox      *BoundingBox
	Text             string
	Order            EntityOrder
	Reverse          bool
}

// Paging carries Relay-style pagination arguments. First/After page forward,
// Last/Before page backward; mixing both directions is rejected.
type Paging struct {
	First  *int
	After  *string
	Last   *int
	Before *string
}

// DefaultPageSize is applied when neither First nor Last is given.
const DefaultPageSize = 25

// MaxPageSize bounds a single page.
const MaxPageSize = 100

// Backward reports whether the paging arguments request backward paging.
func (p Paging) Backward() bool {
	return p.Last != nil || (p.Before != nil && p.First == nil)
}

// Count resolves the requested page size.
func (p Paging) Count() (int, error) {
	count := DefaultPageSize
	switch {
	case p.First != nil && p.Last != nil:
		return 0, NewBadRequest("paging: first and last cannot be combined")
	case p.First != nil:
		count = *p.First
	case p.Last != nil:
		count = *p.Last
	}
	if count < 0 {
		return 0, NewBadRequest("paging: page size cannot be negative")
	}
	if count > MaxPageSize {
		count = MaxPageSize
	}
	return count, nil
}

// ResolvedEntity pairs an entity head with the version a query resolved,
// either the draft or the published snapshot.
type ResolvedEntity struct {
	Entity  Entity        `json:"entity"`
	Version EntityVersion `json:"version"`
}

// Edge is one connection entry with its opaque cursor.
type Edge struct {
	Cursor string         `json:"cursor"`
	Node   ResolvedEntity `json:"node"`
}

// PageInfo carries the Relay page flags.
type PageInfo struct {
	HasNextPage     bool   `json:"hasNextPage"`
	HasPreviousPage bool   `json:"hasPreviousPage"`
	StartCursor     string `json:"startCursor,omitempty"`
	EndCursor       string `json:"endCursor,omitempty"`
}

// Connection is a Relay-style page. A query with zero matches returns a nil
// connection rather than one with empty edges.
type Connection struct {
	Edges      []Edge   `json:"edges"`
	PageInfo   PageInfo `json:"pageInfo"`
	TotalCount int      `json:"totalCount"`
}
