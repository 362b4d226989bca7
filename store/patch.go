package store

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// applyPatch merges patch into doc. A nil value removes the field.
func applyPatch(doc, patch map[string]any) error {
	for k, v := range patch {
		switch k {
		case "version", "history":
			continue
		case "id", "kind":
			if v != nil && v != doc[k] {
				return fmt.Errorf("%w: %s is immutable", ErrInvalid, k)
			}
			continue
		}
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}
	return nil
}

func expectedVersion(patch map[string]any) (uint64, bool, error) {
	v, ok := patch["version"]
	if !ok || v == nil {
		return 0, false, nil
	}

	var f float64
	switch n := v.(type) {
	case json.Number:
		u, err := strconv.ParseUint(n.String(), 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%w: version %q", ErrInvalid, n)
		}
		return u, true, nil
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint64:
		return n, true, nil
	default:
		return 0, false, fmt.Errorf("%w: version must be a number", ErrInvalid)
	}
	if f < 0 || f != math.Trunc(f) {
		return 0, false, fmt.Errorf("%w: version %v", ErrInvalid, f)
	}
	return uint64(f), true, nil
}
