package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quiverhq/quiver/internal/domain"
	"github.com/quiverhq/quiver/internal/storage"
)

func unmarshalFields(data []byte, fields *map[string]any) error {
	if err := json.Unmarshal(data, fields); err != nil {
		return fmt.Errorf("failed to unmarshal version fields: %w", err)
	}
	return nil
}

// orderKeyExpr renders the SQL expression matching storage.OrderKeyValue, so
// cursors produced by either adapter address the same position. Time keys are
// padded to nanosecond width; postgres stores microseconds.
func orderKeyExpr(order domain.EntityOrder) string {
	switch order {
	case domain.OrderUpdatedAt:
		return `to_char(e.updated_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US') || '000'`
	case domain.OrderName:
		return `e.name`
	default:
		return `to_char(e.created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US') || '000'`
	}
}

// ListEntities runs the composed filter query with keyset pagination against
// the selected view. The total count ignores pagination.
func (t *transaction) ListEntities(ctx context.Context, query storage.ListQuery) ([]storage.EntityWithVersion, int, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	versionJoin := "e.draft_version_id"
	where = append(where, "NOT e.archived")
	if query.View == storage.ViewPublished {
		versionJoin = "e.published_version_id"
		where = append(where, "e.published_version_id IS NOT NULL")
	}

	if len(query.AuthKeys) > 0 {
		where = append(where, "e.auth_key = ANY("+arg(query.AuthKeys)+")")
	}
	if len(query.EntityTypes) > 0 {
		where = append(where, "e.entity_type = ANY("+arg(query.EntityTypes)+")")
	}
	if query.ReferencesEntity != nil {
		where = append(where, `EXISTS (
			SELECT 1 FROM reference_edges re
			WHERE re.version_id = v.id AND re.target_id = `+arg(*query.ReferencesEntity)+`)`)
	}
	if query.BoundingBox != nil {
		box := *query.BoundingBox
		where = append(where, `EXISTS (
			SELECT 1 FROM version_locations vl
			WHERE vl.version_id = v.id
			AND vl.lat BETWEEN `+arg(box.MinLat)+` AND `+arg(box.MaxLat)+`
			AND vl.lng BETWEEN `+arg(box.MinLng)+` AND `+arg(box.MaxLng)+`)`)
	}
	for _, token := range strings.Fields(strings.ToLower(query.Text)) {
		where = append(where, `EXISTS (
			SELECT 1 FROM version_fulltext vf
			WHERE vf.version_id = v.id AND LOWER(vf.token) LIKE '%' || `+arg(token)+` || '%')`)
	}

	from := `FROM entities e JOIN entity_versions v ON v.id = ` + versionJoin
	filter := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := t.tx.QueryRow(ctx, "SELECT COUNT(*) "+from+filter, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	keyExpr := orderKeyExpr(query.Order)
	cmpAfter, cmpBefore, direction := ">", "<", "ASC"
	if query.Descending {
		cmpAfter, cmpBefore, direction = "<", ">", "DESC"
	}
	if query.After != nil {
		filter += fmt.Sprintf(" AND (%s, e.id::text) %s (%s, %s)",
			keyExpr, cmpAfter, arg(query.After.Value), arg(query.After.ID.String()))
	}
	if query.Before != nil {
		filter += fmt.Sprintf(" AND (%s, e.id::text) %s (%s, %s)",
			keyExpr, cmpBefore, arg(query.Before.Value), arg(query.Before.ID.String()))
	}

	sql := "SELECT " + prefixedEntityColumns("e") + ", " +
		"v.id, v.entity_id, v.version, v.fields, v.schema_version, v.created_by, v.created_at " +
		from + filter +
		fmt.Sprintf(" ORDER BY %s %s, e.id::text %s", keyExpr, direction, direction)
	if query.Limit > 0 {
		sql += " LIMIT " + arg(query.Limit)
	}

	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	var results []storage.EntityWithVersion
	for rows.Next() {
		var row storage.EntityWithVersion
		var fields []byte
		err := rows.Scan(
			&row.Entity.ID, &row.Entity.Type, &row.Entity.Name, &row.Entity.AuthKey,
			&row.Entity.Archived, &row.Entity.EverPublished,
			&row.Entity.DraftVersionID, &row.Entity.DraftVersion,
			&row.Entity.PublishedVersionID, &row.Entity.PublishedVersion,
			&row.Entity.Dirty, &row.Entity.CreatedAt, &row.Entity.UpdatedAt,
			&row.Version.ID, &row.Version.EntityID, &row.Version.Version, &fields,
			&row.Version.SchemaVersion, &row.Version.CreatedBy, &row.Version.CreatedAt,
		)
		if err != nil {
			return nil, 0, mapError(err)
		}
		if err := unmarshalFields(fields, &row.Version.Fields); err != nil {
			return nil, 0, err
		}
		results = append(results, row)
	}
	return results, total, mapError(rows.Err())
}
