package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quiverhq/quiver/internal/domain"
)

func (t *transaction) AppendPublishingEvent(ctx context.Context, event domain.PublishingEvent) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO publishing_events (entity_id, version_id, kind, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		event.EntityID, event.VersionID, event.Kind, event.CreatedBy, event.CreatedAt,
	)
	return mapError(err)
}

func (t *transaction) ListPublishingEvents(ctx context.Context, entityID uuid.UUID) ([]domain.PublishingEvent, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT entity_id, version_id, kind, created_by, created_at
		FROM publishing_events
		WHERE entity_id = $1
		ORDER BY id`, entityID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var events []domain.PublishingEvent
	for rows.Next() {
		var event domain.PublishingEvent
		if err := rows.Scan(&event.EntityID, &event.VersionID, &event.Kind, &event.CreatedBy, &event.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		events = append(events, event)
	}
	return events, mapError(rows.Err())
}

// AppendSyncEvent assigns the next id in the log. The table lock serializes
// concurrent appenders on the MAX read, so ids stay gapless instead of two
// transactions racing to the same id and one failing on the primary key.
func (t *transaction) AppendSyncEvent(ctx context.Context, event domain.SyncEvent) (int64, error) {
	if _, err := t.tx.Exec(ctx,
		`LOCK TABLE sync_events IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return 0, mapError(err)
	}
	var last int64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM sync_events`).Scan(&last)
	if err != nil {
		return 0, mapError(err)
	}
	id := last + 1
	_, err = t.tx.Exec(ctx, `
		INSERT INTO sync_events (id, kind, created_by, created_at, schema_version, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, event.Kind, event.CreatedBy, event.CreatedAt, event.SchemaVersion, []byte(event.Payload),
	)
	if err != nil {
		return 0, mapError(err)
	}
	return id, nil
}

func (t *transaction) ListSyncEvents(ctx context.Context, after int64, limit int) ([]domain.SyncEvent, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, kind, created_by, created_at, schema_version, payload
		FROM sync_events
		WHERE id > $1
		ORDER BY id
		LIMIT $2`, after, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var events []domain.SyncEvent
	for rows.Next() {
		var event domain.SyncEvent
		var payload []byte
		if err := rows.Scan(&event.ID, &event.Kind, &event.CreatedBy, &event.CreatedAt, &event.SchemaVersion, &payload); err != nil {
			return nil, mapError(err)
		}
		event.Payload = payload
		events = append(events, event)
	}
	return events, mapError(rows.Err())
}

func (t *transaction) LastSyncEventID(ctx context.Context) (int64, error) {
	var last int64
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM sync_events`).Scan(&last)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, mapError(err)
	}
	return last, nil
}
