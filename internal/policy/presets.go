package policy

import (
	"context"
	"maps"
	"regexp"

	"github.com/clawbridge/clawbridge/internal/models"
)

var presetNamePattern = regexp.MustCompile(`^[\w][\w .-]{0,63}$`)

// ValidPresetName reports whether name can label a preset.
func ValidPresetName(name string) bool {
	return presetNamePattern.MatchString(name)
}

func presetFromIDs(ids []string, current map[string]models.AccessLevel) map[string]models.AccessLevel {
	out := make(map[string]models.AccessLevel, len(ids))
	for _, id := range ids {
		if !models.ValidEntityID(id) {
			continue
		}

		level, ok := current[id]
		if !ok {
			level = models.AccessRead
		}
		out[id] = level
	}

	return out
}

func validatePreset(name string, entities map[string]models.AccessLevel) error {
	if !ValidPresetName(name) {
		return models.ErrInvalidField("name", "must be 1-64 letters, digits, spaces, dots, dashes or underscores")
	}

	for id, level := range entities {
		if !models.ValidEntityID(id) {
			return models.ErrInvalidField("entities", "invalid entity id "+id)
		}
		if !level.Valid() {
			return models.ErrInvalidField("entities", "invalid access level for "+id)
		}
	}

	return nil
}

// SavePreset stores entities under name, replacing any preset of that name.
func (s *Store) SavePreset(ctx context.Context, name string, entities map[string]models.AccessLevel) error {
	if err := validatePreset(name, entities); err != nil {
		return err
	}

	return s.update(ctx, func(next *Snapshot) error {
		next.Presets[name] = orEmpty(maps.Clone(entities))
		return nil
	}, DocPresets)
}

// SavePresetSelection stores ids under name at their current global tiers.
// Ids without a tier are saved as read.
func (s *Store) SavePresetSelection(ctx context.Context, name string, ids []string) (map[string]models.AccessLevel, error) {
	if !ValidPresetName(name) {
		return nil, models.ErrInvalidField("name", "must be 1-64 letters, digits, spaces, dots, dashes or underscores")
	}

	var saved map[string]models.AccessLevel
	err := s.update(ctx, func(next *Snapshot) error {
		saved = presetFromIDs(ids, next.Entities)
		next.Presets[name] = saved

		return nil
	}, DocPresets)
	if err != nil {
		return nil, err
	}

	return maps.Clone(saved), nil
}

// Preset returns a copy of the named preset.
func (s *Store) Preset(name string) (map[string]models.AccessLevel, error) {
	p, ok := s.Snapshot().Presets[name]
	if !ok {
		return nil, models.ErrNotFound
	}

	return maps.Clone(p), nil
}

// ApplyPreset replaces the global access map with the named preset and
// returns how many entities it sets.
func (s *Store) ApplyPreset(ctx context.Context, name string) (int, error) {
	var n int
	err := s.update(ctx, func(next *Snapshot) error {
		p, ok := next.Presets[name]
		if !ok {
			return models.ErrNotFound
		}
		next.Entities = orEmpty(maps.Clone(p))
		n = len(p)

		return nil
	}, DocEntities)

	return n, err
}

// DeletePreset removes the named preset.
func (s *Store) DeletePreset(ctx context.Context, name string) error {
	return s.update(ctx, func(next *Snapshot) error {
		if _, ok := next.Presets[name]; !ok {
			return models.ErrNotFound
		}
		delete(next.Presets, name)

		return nil
	}, DocPresets)
}
