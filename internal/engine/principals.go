package engine

import (
	"context"
	"errors"

	"github.com/quiverhq/quiver/internal/domain"
	"github.com/quiverhq/quiver/internal/storage"
)

// ResolvePrincipal maps a provider identity onto a stable actor id, creating
// the principal on first sight. Creation is recorded in the sync log so
// replayed logs attribute mutations to the same ids.
func (e *Engine) ResolvePrincipal(ctx context.Context, provider, identifier string) (domain.Principal, error) {
	if provider == "" || identifier == "" {
		return domain.Principal{}, domain.NewBadRequest("principal provider and identifier are required")
	}

	var principal domain.Principal
	err := e.adapter.WithTransaction(ctx, func(tx storage.Transaction) error {
		existing, err := tx.GetPrincipal(ctx, provider, identifier)
		if err == nil {
			principal = existing
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return storageErr(err, "failed to look up principal %s/%s", provider, identifier)
		}

		principal = domain.Principal{
			ID:         e.newID(),
			Provider:   provider,
			Identifier: identifier,
			CreatedAt:  e.now(),
		}
		if err := tx.InsertPrincipal(ctx, principal); err != nil {
			return storageErr(err, "failed to store principal %s/%s", provider, identifier)
		}
		return e.appendSyncEvent(ctx, tx, domain.EventCreatePrincipal, principal.ID, domain.PrincipalEventPayload{
			PrincipalID: principal.ID,
			Provider:    provider,
			Identifier:  identifier,
		})
	})
	if err != nil {
		return domain.Principal{}, err
	}
	return principal, nil
}
