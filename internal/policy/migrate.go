package policy

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/clawbridge/clawbridge/internal/models"
)

// legacyEntities is the pre-tier entity selection: a flat list of readable
// entities plus per-service lists of controllable ones.
type legacyEntities struct {
	ExposedEntities  map[string]models.AccessLevel `json:"exposed_entities"`
	SelectedEntities []string                      `json:"selected_entities"`
	ExposedActions   map[string][]string           `json:"exposed_actions"`
}

// migrateEntitiesV0 accepts either a plain entity→level map or the legacy
// selection shape. Selected entities become read, action entities control.
func migrateEntitiesV0(data json.RawMessage) (map[string]models.AccessLevel, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	_, hasSelected := probe["selected_entities"]
	_, hasActions := probe["exposed_actions"]
	_, hasExposed := probe["exposed_entities"]
	if !hasSelected && !hasActions && !hasExposed {
		out := map[string]models.AccessLevel{}
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}

		return out, nil
	}

	var legacy legacyEntities
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, err
	}

	return legacy.merge(), nil
}

func (l *legacyEntities) merge() map[string]models.AccessLevel {
	out := make(map[string]models.AccessLevel, len(l.ExposedEntities)+len(l.SelectedEntities))
	for id, level := range l.ExposedEntities {
		if level.Valid() {
			out[id] = level
		}
	}

	for _, id := range l.SelectedEntities {
		if _, ok := out[id]; !ok && id != "" {
			out[id] = models.AccessRead
		}
	}

	for _, ids := range l.ExposedActions {
		for _, id := range ids {
			if id != "" {
				out[id] = models.AccessControl
			}
		}
	}

	return out
}

// legacyConfig is the single flat options document of earlier releases.
type legacyConfig struct {
	legacyEntities
	models.Settings
	EntityAnnotations map[string]string             `json:"entity_annotations"`
	EntityConstraints map[string]models.Constraints `json:"entity_constraints"`
	APIKeys           map[string]legacyAPIKey       `json:"api_keys"`
	Schedules         map[string]models.Schedule    `json:"schedules"`
	EntitySchedules   map[string]string             `json:"entity_schedules"`
	EntityGroups      map[string]models.Group       `json:"entity_groups"`
	Presets           map[string]json.RawMessage    `json:"presets"`
}

type legacyAPIKey struct {
	Name      string                        `json:"name"`
	Key       string                        `json:"key"`
	Entities  map[string]models.AccessLevel `json:"entities"`
	RateLimit int                           `json:"rate_limit"`
	Created   string                        `json:"created"`
}

// fromLegacy converts the flat document into a snapshot. Maps keyed by id
// become slices ordered by id.
func fromLegacy(raw []byte) (*Snapshot, error) {
	cfg := legacyConfig{Settings: models.DefaultSettings()}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decoding legacy config: %w", err)
	}

	snap := emptySnapshot()
	snap.Entities = cfg.legacyEntities.merge()
	snap.Settings = cfg.Settings
	snap.Settings.Normalize()

	for id, text := range cfg.EntityAnnotations {
		snap.Annotations[id] = truncate(text, maxAnnotationLen)
	}

	for id, c := range cfg.EntityConstraints {
		snap.Constraints[id] = c
	}

	for id, sched := range cfg.EntitySchedules {
		snap.EntitySchedules[id] = sched
	}

	for _, id := range sortedKeys(cfg.APIKeys) {
		k := cfg.APIKeys[id]
		created, _ := time.Parse(time.RFC3339Nano, k.Created)
		snap.APIKeys = append(snap.APIKeys, models.APIKey{
			ID:        id,
			Name:      k.Name,
			Token:     k.Key,
			Entities:  k.Entities,
			RateLimit: k.RateLimit,
			CreatedAt: created,
		})
	}

	for _, id := range sortedKeys(cfg.Schedules) {
		sched := cfg.Schedules[id]
		sched.ID = id
		snap.Schedules = append(snap.Schedules, sched)
	}

	for _, id := range sortedKeys(cfg.EntityGroups) {
		g := cfg.EntityGroups[id]
		g.ID = id
		snap.Groups = append(snap.Groups, g)
	}

	for name, raw := range cfg.Presets {
		preset, err := legacyPreset(raw, snap.Entities)
		if err != nil {
			return nil, fmt.Errorf("decoding preset %s: %w", name, err)
		}
		snap.Presets[name] = preset
	}

	return snap, nil
}

// legacyPreset accepts a preset saved either as an entity→level map or as a
// bare id list. List entries take their current tier, or read when unset.
func legacyPreset(raw json.RawMessage, current map[string]models.AccessLevel) (map[string]models.AccessLevel, error) {
	var ids []string
	if err := json.Unmarshal(raw, &ids); err == nil {
		return presetFromIDs(ids, current), nil
	}

	out := map[string]models.AccessLevel{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	for id, level := range out {
		parsed, err := models.ParseAccessLevel(string(level))
		if err != nil {
			delete(out, id)
			continue
		}
		out[id] = parsed
	}

	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
