// Package access resolves what a caller may do with an entity: effective
// tier, schedule window, parameter bounds and the read-safe service table.
package access

import (
	"sort"

	"github.com/clawbridge/clawbridge/internal/models"
)

// EffectiveAccess combines the global map with a key's scope. Without a key,
// or with an unscoped key, the result is the global map. A scoped key sees
// only entities present in both maps, at the lower of the two tiers.
// Explicit none entries never appear in the result.
func EffectiveAccess(global map[string]models.AccessLevel, key *models.APIKey) map[string]models.AccessLevel {
	if key == nil || !key.Scoped() {
		out := make(map[string]models.AccessLevel, len(global))
		for id, level := range global {
			if level.Grants() {
				out[id] = level
			}
		}

		return out
	}

	out := make(map[string]models.AccessLevel, len(key.Entities))
	for id, keyLevel := range key.Entities {
		globalLevel, ok := global[id]
		if !ok {
			continue
		}

		if level := models.MinAccess(globalLevel, keyLevel); level.Grants() {
			out[id] = level
		}
	}

	return out
}

// RequiredTier returns the minimum tier needed to invoke domain.service.
func RequiredTier(domain, service string) models.AccessLevel {
	if IsReadSafe(domain, service) {
		return models.AccessRead
	}

	return models.AccessConfirm
}

// EntitiesInDomain returns the ids in effective whose domain matches and whose
// tier is at least min, sorted for stable output.
func EntitiesInDomain(effective map[string]models.AccessLevel, domain string, minLevel models.AccessLevel) []string {
	var out []string
	for id, level := range effective {
		if models.EntityDomain(id) == domain && level.AtLeast(minLevel) {
			out = append(out, id)
		}
	}

	sort.Strings(out)

	return out
}
