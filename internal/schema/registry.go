// Package schema holds the process-wide schema registry: a versioned,
// atomically swapped immutable snapshot of the current type specification,
// plus the merge and diff logic applied on schema updates.
package schema

import (
	"sync/atomic"

	"github.com/quiverhq/quiver/internal/domain"
)

// Registry publishes the current SchemaSpecification snapshot. Readers get a
// consistent immutable pointer; updates swap in a fresh snapshot rather than
// mutating shared state.
type Registry struct {
	current atomic.Pointer[domain.SchemaSpecification]
}

// NewRegistry creates a registry seeded with the given specification. A nil
// specification seeds an empty version-0 spec.
func NewRegistry(spec *domain.SchemaSpecification) *Registry {
	r := &Registry{}
	if spec == nil {
		spec = &domain.SchemaSpecification{Version: 0}
	}
	r.current.Store(spec.Clone())
	return r
}

// Current returns the active specification snapshot. Callers must treat the
// returned value as read-only.
func (r *Registry) Current() *domain.SchemaSpecification {
	return r.current.Load()
}

// Swap publishes a new specification snapshot.
func (r *Registry) Swap(spec *domain.SchemaSpecification) {
	r.current.Store(spec.Clone())
}
