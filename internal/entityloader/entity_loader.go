// Package entityloader batches per-request entity lookups through a
// dataloader, so resolving many references in one response touches storage
// once.
package entityloader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"

	"github.com/quiverhq/quiver/internal/domain"
	"github.com/quiverhq/quiver/internal/engine"
)

// EntityLoader wraps a dataloader keyed by entity id strings.
type EntityLoader struct {
	Loader *dataloader.Loader
}

// NewEntityLoader builds a loader that resolves draft-view entities through
// the engine in one batch per wait window.
func NewEntityLoader(eng *engine.Engine) *EntityLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := make([]uuid.UUID, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				results := make([]*dataloader.Result, len(keys))
				for j := range results {
					results[j] = &dataloader.Result{Error: fmt.Errorf("invalid entity id %q: %w", k.String(), err)}
				}
				return results
			}
			ids[i] = id
		}

		resolved, errs := eng.GetEntities(ctx, ids, engine.GetEntityOptions{})

		results := make([]*dataloader.Result, len(keys))
		for i := range keys {
			if errs[i] != nil {
				results[i] = &dataloader.Result{Error: errs[i]}
				continue
			}
			results[i] = &dataloader.Result{Data: resolved[i]}
		}
		return results
	}

	return &EntityLoader{Loader: dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))}
}

// Load resolves one entity through the batch window.
func (l *EntityLoader) Load(ctx context.Context, id uuid.UUID) (*domain.ResolvedEntity, error) {
	thunk := l.Loader.Load(ctx, dataloader.StringKey(id.String()))
	data, err := thunk()
	if err != nil {
		return nil, err
	}
	resolved, ok := data.(*domain.ResolvedEntity)
	if !ok {
		return nil, fmt.Errorf("unexpected loader result %T", data)
	}
	return resolved, nil
}
