package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quiverhq/quiver/internal/domain"
	"github.com/quiverhq/quiver/internal/storage"
)

const entityColumns = `id, entity_type, name, auth_key, archived, ever_published,
	draft_version_id, draft_version, published_version_id, published_version,
	dirty, created_at, updated_at`

// prefixedEntityColumns qualifies the entity column list with a table alias
// for joined queries.
func prefixedEntityColumns(alias string) string {
	cols := strings.Split(entityColumns, ",")
	for i, col := range cols {
		cols[i] = alias + "." + strings.TrimSpace(col)
	}
	return strings.Join(cols, ", ")
}

func scanEntity(row pgx.Row) (domain.Entity, error) {
	var e domain.Entity
	err := row.Scan(
		&e.ID, &e.Type, &e.Name, &e.AuthKey, &e.Archived, &e.EverPublished,
		&e.DraftVersionID, &e.DraftVersion, &e.PublishedVersionID, &e.PublishedVersion,
		&e.Dirty, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return domain.Entity{}, mapError(err)
	}
	return e, nil
}

func (t *transaction) InsertEntity(ctx context.Context, entity domain.Entity) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO entities (`+entityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entity.ID, entity.Type, entity.Name, entity.AuthKey, entity.Archived, entity.EverPublished,
		entity.DraftVersionID, entity.DraftVersion, entity.PublishedVersionID, entity.PublishedVersion,
		entity.Dirty, entity.CreatedAt, entity.UpdatedAt,
	)
	return mapError(err)
}

func (t *transaction) GetEntity(ctx context.Context, id uuid.UUID) (domain.Entity, error) {
	return scanEntity(t.tx.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, id))
}

func (t *transaction) GetEntityByName(ctx context.Context, name string) (domain.Entity, error) {
	return scanEntity(t.tx.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE name = $1`, name))
}

func (t *transaction) GetEntities(ctx context.Context, ids []uuid.UUID) ([]domain.Entity, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var entities []domain.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, mapError(rows.Err())
}

func (t *transaction) UpdateEntity(ctx context.Context, entity domain.Entity) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE entities SET
			entity_type = $2, name = $3, auth_key = $4, archived = $5, ever_published = $6,
			draft_version_id = $7, draft_version = $8, published_version_id = $9,
			published_version = $10, dirty = $11, updated_at = $12
		WHERE id = $1`,
		entity.ID, entity.Type, entity.Name, entity.AuthKey, entity.Archived, entity.EverPublished,
		entity.DraftVersionID, entity.DraftVersion, entity.PublishedVersionID, entity.PublishedVersion,
		entity.Dirty, entity.UpdatedAt,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %s: %w", entity.ID, mapError(pgx.ErrNoRows))
	}
	return nil
}

func (t *transaction) InsertVersion(ctx context.Context, version domain.EntityVersion) error {
	fields, err := json.Marshal(version.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal version fields: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO entity_versions (id, entity_id, version, fields, schema_version, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		version.ID, version.EntityID, version.Version, fields, version.SchemaVersion,
		version.CreatedBy, version.CreatedAt,
	)
	return mapError(err)
}

const versionColumns = `id, entity_id, version, fields, schema_version, created_by, created_at`

func scanVersion(row pgx.Row) (domain.EntityVersion, error) {
	var v domain.EntityVersion
	var fields []byte
	err := row.Scan(&v.ID, &v.EntityID, &v.Version, &fields, &v.SchemaVersion, &v.CreatedBy, &v.CreatedAt)
	if err != nil {
		return domain.EntityVersion{}, mapError(err)
	}
	if err := json.Unmarshal(fields, &v.Fields); err != nil {
		return domain.EntityVersion{}, fmt.Errorf("failed to unmarshal version fields: %w", err)
	}
	return v, nil
}

func (t *transaction) GetVersion(ctx context.Context, entityID uuid.UUID, number int) (domain.EntityVersion, error) {
	return scanVersion(t.tx.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM entity_versions WHERE entity_id = $1 AND version = $2`,
		entityID, number))
}

func (t *transaction) GetVersionByID(ctx context.Context, id uuid.UUID) (domain.EntityVersion, error) {
	return scanVersion(t.tx.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM entity_versions WHERE id = $1`, id))
}

func (t *transaction) ListVersions(ctx context.Context, entityID uuid.UUID) ([]domain.EntityVersion, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+versionColumns+` FROM entity_versions WHERE entity_id = $1 ORDER BY version`, entityID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var versions []domain.EntityVersion
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	return versions, mapError(rows.Err())
}

func (t *transaction) ReplaceReferenceEdges(ctx context.Context, versionID uuid.UUID, targets []uuid.UUID) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM reference_edges WHERE version_id = $1`, versionID); err != nil {
		return mapError(err)
	}
	for _, target := range targets {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO reference_edges (version_id, target_id) VALUES ($1, $2)`,
			versionID, target); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (t *transaction) GetReferenceEdges(ctx context.Context, versionID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT target_id FROM reference_edges WHERE version_id = $1 ORDER BY target_id`, versionID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var targets []uuid.UUID
	for rows.Next() {
		var target uuid.UUID
		if err := rows.Scan(&target); err != nil {
			return nil, mapError(err)
		}
		targets = append(targets, target)
	}
	return targets, mapError(rows.Err())
}

func (t *transaction) ReplaceVersionIndexes(ctx context.Context, versionID uuid.UUID, fullText []string, locations []domain.Location) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM version_fulltext WHERE version_id = $1`, versionID); err != nil {
		return mapError(err)
	}
	for _, token := range fullText {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO version_fulltext (version_id, token) VALUES ($1, $2)`,
			versionID, token); err != nil {
			return mapError(err)
		}
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM version_locations WHERE version_id = $1`, versionID); err != nil {
		return mapError(err)
	}
	for _, loc := range locations {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO version_locations (version_id, lat, lng) VALUES ($1, $2, $3)`,
			versionID, loc.Lat, loc.Lng); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (t *transaction) PublishedReferrers(ctx context.Context, targets []uuid.UUID) ([]domain.Entity, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT DISTINCT `+prefixedEntityColumns("e")+`
		FROM entities e
		JOIN reference_edges re ON re.version_id = e.published_version_id
		WHERE re.target_id = ANY($1) AND e.published_version_id IS NOT NULL AND NOT e.archived`,
		targets)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var entities []domain.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, mapError(rows.Err())
}

func (t *transaction) MarkEntitiesDirty(ctx context.Context, entityTypes []string) (int, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE entities SET dirty = true WHERE entity_type = ANY($1) AND NOT archived`, entityTypes)
	if err != nil {
		return 0, mapError(err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *transaction) ClaimNextDirtyEntity(ctx context.Context) (domain.Entity, bool, error) {
	entity, err := scanEntity(t.tx.QueryRow(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE dirty
		ORDER BY updated_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Entity{}, false, nil
		}
		return domain.Entity{}, false, err
	}
	return entity, true, nil
}

func (t *transaction) ClearDirtyFlag(ctx context.Context, entityID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `UPDATE entities SET dirty = false WHERE id = $1`, entityID)
	return mapError(err)
}
