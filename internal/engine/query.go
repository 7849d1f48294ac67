package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/quiverhq/quiver/internal/auth"
	"github.com/quiverhq/quiver/internal/domain"
	"github.com/quiverhq/quiver/internal/storage"
)

// cursorPayload is the decoded form of an opaque connection cursor.
type cursorPayload struct {
	Value string    `json:"v"`
	ID    uuid.UUID `json:"id"`
}

func encodeCursor(key storage.Key) string {
	data, _ := json.Marshal(cursorPayload{Value: key.Value, ID: key.ID})
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(cursor string) (*storage.Key, error) {
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, domain.NewBadRequest("invalid cursor %q", cursor)
	}
	var payload cursorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, domain.NewBadRequest("invalid cursor %q", cursor)
	}
	return &storage.Key{Value: payload.Value, ID: payload.ID}, nil
}

// SearchDraftEntities queries the draft view.
func (e *Engine) SearchDraftEntities(ctx context.Context, query domain.EntityQuery, paging domain.Paging) (*domain.Connection, error) {
	return e.searchEntities(ctx, query, paging, storage.ViewDraft)
}

// SearchPublishedEntities queries the published view.
func (e *Engine) SearchPublishedEntities(ctx context.Context, query domain.EntityQuery, paging domain.Paging) (*domain.Connection, error) {
	return e.searchEntities(ctx, query, paging, storage.ViewPublished)
}

// searchEntities builds a keyset query, requests count+1 rows in the paging
// direction, trims the extra row into the page flags, and reverses backward
// pages so results always come back in forward semantic order. Zero matches
// return a nil connection.
func (e *Engine) searchEntities(ctx context.Context, query domain.EntityQuery, paging domain.Paging, view storage.View) (*domain.Connection, error) {
	session := auth.SessionFromContext(ctx)

	count, err := paging.Count()
	if err != nil {
		return nil, err
	}
	if query.BoundingBox != nil && !query.BoundingBox.Valid() {
		return nil, domain.NewBadRequest("invalid bounding box")
	}
	order := query.Order
	if order == "" {
		order = domain.OrderCreatedAt
	}

	backward := paging.Backward()

	var after, before *storage.Key
	if paging.After != nil {
		if after, err = decodeCursor(*paging.After); err != nil {
			return nil, err
		}
	}
	if paging.Before != nil {
		if before, err = decodeCursor(*paging.Before); err != nil {
			return nil, err
		}
	}

	listQuery := storage.ListQuery{
		View:             view,
		AuthKeys:         session.AuthKeys,
		EntityTypes:      query.EntityTypes,
		ReferencesEntity: query.ReferencesEntity,
		BoundingBox:      query.BoundingBox,
		Text:             query.Text,
		Order:            order,
		Descending:       query.Reverse != backward,
		Limit:            count + 1,
	}
	if backward {
		// Iteration runs opposite to the semantic order, starting at Before.
		listQuery.After = before
		listQuery.Before = after
	} else {
		listQuery.After = after
		listQuery.Before = before
	}

	var rows []storage.EntityWithVersion
	var total int
	err = e.adapter.WithTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		rows, total, err = tx.ListEntities(ctx, listQuery)
		if err != nil {
			return storageErr(err, "failed to query entities")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if total == 0 {
		// Sentinel: zero matches yields no connection at all.
		return nil, nil
	}

	hasMore := len(rows) > count
	if hasMore {
		rows = rows[:count]
	}
	if backward {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}

	pageInfo := domain.PageInfo{}
	if backward {
		pageInfo.HasPreviousPage = hasMore
		pageInfo.HasNextPage = paging.Before != nil
	} else {
		pageInfo.HasNextPage = hasMore
		pageInfo.HasPreviousPage = paging.After != nil
	}

	spec := e.registry.Current()
	edges := make([]domain.Edge, len(rows))
	for i, row := range rows {
		fields, err := e.decodeForRead(spec, row.Entity.Type, row.Version.Fields, view == storage.ViewPublished)
		if err != nil {
			return nil, err
		}
		version := row.Version
		version.Fields = fields
		edges[i] = domain.Edge{
			Cursor: encodeCursor(storage.Key{Value: storage.OrderKeyValue(order, row.Entity), ID: row.Entity.ID}),
			Node:   domain.ResolvedEntity{Entity: row.Entity, Version: version},
		}
	}
	if len(edges) > 0 {
		pageInfo.StartCursor = edges[0].Cursor
		pageInfo.EndCursor = edges[len(edges)-1].Cursor
	}

	return &domain.Connection{Edges: edges, PageInfo: pageInfo, TotalCount: total}, nil
}
