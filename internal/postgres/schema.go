package postgres

import (
	"context"
	"fmt"

	"github.com/quiverhq/quiver/internal/domain"
)

func (t *transaction) GetSchemaSpecification(ctx context.Context) (*domain.SchemaSpecification, error) {
	var data []byte
	err := t.tx.QueryRow(ctx,
		`SELECT specification FROM schema_specification WHERE singleton`).Scan(&data)
	if err != nil {
		return nil, mapError(err)
	}
	spec, err := domain.UnmarshalSpecification(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored schema specification: %w", err)
	}
	return spec, nil
}

func (t *transaction) UpdateSchemaSpecification(ctx context.Context, spec *domain.SchemaSpecification) error {
	data, err := domain.MarshalSpecification(spec)
	if err != nil {
		return fmt.Errorf("failed to encode schema specification: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO schema_specification (singleton, version, specification)
		VALUES (true, $1, $2)
		ON CONFLICT (singleton) DO UPDATE SET version = $1, specification = $2`,
		spec.Version, data,
	)
	return mapError(err)
}

func (t *transaction) InsertPrincipal(ctx context.Context, principal domain.Principal) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO principals (id, provider, identifier, created_at)
		VALUES ($1, $2, $3, $4)`,
		principal.ID, principal.Provider, principal.Identifier, principal.CreatedAt,
	)
	return mapError(err)
}

func (t *transaction) GetPrincipal(ctx context.Context, provider, identifier string) (domain.Principal, error) {
	var p domain.Principal
	err := t.tx.QueryRow(ctx, `
		SELECT id, provider, identifier, created_at
		FROM principals
		WHERE provider = $1 AND identifier = $2`,
		provider, identifier,
	).Scan(&p.ID, &p.Provider, &p.Identifier, &p.CreatedAt)
	if err != nil {
		return domain.Principal{}, mapError(err)
	}
	return p, nil
}
