package access

import (
	"encoding/json"
	"maps"
	"sort"

	"github.com/clawbridge/clawbridge/internal/models"
)

// Clamp bounds numeric parameters to the entity's constraints. It returns a
// new parameter map and one violation per value that was changed. Values
// that are not numbers, or have no constraint, pass through. params is never
// modified.
func Clamp(constraints models.Constraints, params map[string]any) (map[string]any, []models.Violation) {
	out := maps.Clone(params)
	if out == nil {
		out = map[string]any{}
	}

	var violations []models.Violation

	for _, name := range sortedParams(constraints) {
		bound := constraints[name]

		raw, ok := out[name]
		if !ok {
			continue
		}

		value, ok := numeric(raw)
		if !ok {
			continue
		}

		clamped := value
		if bound.Min != nil && clamped < *bound.Min {
			clamped = *bound.Min
		}
		if bound.Max != nil && clamped > *bound.Max {
			clamped = *bound.Max
		}

		if clamped == value {
			continue
		}

		out[name] = clamped
		violations = append(violations, models.Violation{
			Param:     name,
			Value:     value,
			Min:       bound.Min,
			Max:       bound.Max,
			ClampedTo: clamped,
		})
	}

	return out, violations
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func sortedParams(c models.Constraints) []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
