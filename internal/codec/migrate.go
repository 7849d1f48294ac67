package codec

import (
	"encoding/json"

	"github.com/quiverhq/quiver/internal/domain"
)

// Migrate rewrites a stored field tree for a new schema version: keys the new
// spec no longer declares are dropped, surviving values are renormalized, and
// index data is recollected. The changed flag tells the caller whether the
// rewrite produced different content than what is stored.
func Migrate(spec *domain.SchemaSpecification, typeName string, stored map[string]any) (*EncodeResult, bool, error) {
	scrubbed, err := Decode(spec, typeName, stored, ModeStrip)
	if err != nil {
		return nil, false, err
	}
	result, err := Encode(spec, typeName, scrubbed)
	if err != nil {
		return nil, false, err
	}
	changed, err := fieldsDiffer(stored, result.Fields)
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

// fieldsDiffer compares two field trees by canonical JSON form.
func fieldsDiffer(a, b map[string]any) (bool, error) {
	aJSON, err := json.Marshal(a)
	if err != nil {
		return false, domain.NewGeneric(err, "failed to canonicalize fields")
	}
	bJSON, err := json.Marshal(b)
	if err != nil {
		return false, domain.NewGeneric(err, "failed to canonicalize fields")
	}
	return string(aJSON) != string(bJSON), nil
}

// FieldsEqual reports whether two field trees hold identical content. The
// update path uses this to detect no-op updates before allocating a version.
func FieldsEqual(a, b map[string]any) (bool, error) {
	differ, err := fieldsDiffer(a, b)
	return !differ, err
}
