package storage

import (
	"fmt"
	"time"

	"github.com/quiverhq/quiver/internal/domain"
)

// timeKeyLayout is fixed width so time keys compare correctly as strings.
const timeKeyLayout = "2006-01-02T15:04:05.000000000"

// OrderKeyValue renders the keyset value of an entity under the given order.
// Values compare lexicographically in key order across all adapters.
func OrderKeyValue(order domain.EntityOrder, entity domain.Entity) string {
	switch order {
	case domain.OrderUpdatedAt:
		return entity.UpdatedAt.UTC().Format(timeKeyLayout)
	case domain.OrderName:
		return entity.Name
	default:
		return entity.CreatedAt.UTC().Format(timeKeyLayout)
	}
}

// ParseTimeKey decodes a time-valued order key.
func ParseTimeKey(value string) (time.Time, error) {
	t, err := time.Parse(timeKeyLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time key %q: %w", value, err)
	}
	return t, nil
}

// CompareKeys orders two keyset positions: key value first, entity id as the
// tiebreak.
func CompareKeys(a, b Key) int {
	if a.Value != b.Value {
		if a.Value < b.Value {
			return -1
		}
		return 1
	}
	as, bs := a.ID.String(), b.ID.String()
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}
