package policy

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/clawbridge/clawbridge/internal/models"
)

// ExportFormat is a complete, portable copy of the policy.
type ExportFormat struct {
	SchemaVersion   int                           `json:"schema_version"`
	ExportedAt      time.Time                     `json:"exported_at"`
	Entities        map[string]models.AccessLevel `json:"entities"`
	Annotations     map[string]string             `json:"annotations"`
	Constraints     map[string]models.Constraints `json:"constraints"`
	APIKeys         []models.APIKey               `json:"api_keys"`
	Schedules       []models.Schedule             `json:"schedules"`
	EntitySchedules map[string]string             `json:"entity_schedules"`
	Settings        models.Settings               `json:"settings"`
	Groups          []models.Group                `json:"groups"`

	Presets map[string]map[string]models.AccessLevel `json:"presets,omitempty"`
}

// Export returns the current policy, tokens included.
func (s *Store) Export() *ExportFormat {
	snap := s.Snapshot()

	return &ExportFormat{
		SchemaVersion:   currentVersion,
		ExportedAt:      s.now().UTC(),
		Entities:        maps.Clone(snap.Entities),
		Annotations:     maps.Clone(snap.Annotations),
		Constraints:     maps.Clone(snap.Constraints),
		APIKeys:         slices.Clone(snap.APIKeys),
		Schedules:       slices.Clone(snap.Schedules),
		EntitySchedules: maps.Clone(snap.EntitySchedules),
		Settings:        snap.Settings,
		Groups:          slices.Clone(snap.Groups),
		Presets:         maps.Clone(snap.Presets),
	}
}

// ValidateImport lists every problem in data without writing anything. An
// empty result means Import will accept it.
func ValidateImport(data *ExportFormat) []string {
	errs := []string{}

	if data.SchemaVersion > currentVersion {
		errs = append(errs, fmt.Sprintf("schema version %d is newer than supported version %d", data.SchemaVersion, currentVersion))
	}

	for id, level := range data.Entities {
		if !models.ValidEntityID(id) {
			errs = append(errs, "invalid entity id "+id)
		}
		if !level.Valid() {
			errs = append(errs, "invalid access level for "+id)
		}
	}

	for id, c := range data.Constraints {
		if err := c.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("constraints for %s: %v", id, err))
		}
	}

	for id, text := range data.Annotations {
		if len(text) > maxAnnotationLen {
			errs = append(errs, "annotation too long for "+id)
		}
	}

	for i, k := range data.APIKeys {
		if k.ID == "" || k.Token == "" {
			errs = append(errs, fmt.Sprintf("api key %d is missing id or token", i))
		}
	}

	schedules := make(map[string]bool, len(data.Schedules))
	for _, sched := range data.Schedules {
		req := models.ScheduleRequest{Name: sched.Name, Start: sched.Start, End: sched.End, Days: sched.Days, Timezone: sched.Timezone}
		if err := req.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("schedule %s: %v", sched.ID, err))
		}
		schedules[sched.ID] = true
	}

	for entityID, schedID := range data.EntitySchedules {
		if schedID != "" && !schedules[schedID] {
			errs = append(errs, fmt.Sprintf("%s references unknown schedule %s", entityID, schedID))
		}
	}

	for name, entities := range data.Presets {
		if err := validatePreset(name, entities); err != nil {
			errs = append(errs, fmt.Sprintf("preset %s: %v", name, err))
		}
	}

	settings := data.Settings
	settings.Normalize()
	if err := settings.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	slices.Sort(errs)

	return errs
}

// Import replaces the whole policy with data after validating it.
func (s *Store) Import(ctx context.Context, data *ExportFormat) error {
	if errs := ValidateImport(data); len(errs) > 0 {
		return fmt.Errorf("%w: %s", models.ErrInvalidRequest, errs[0])
	}

	return s.update(ctx, func(next *Snapshot) error {
		next.Entities = orEmpty(maps.Clone(data.Entities))
		next.Annotations = orEmpty(maps.Clone(data.Annotations))
		next.Constraints = orEmpty(maps.Clone(data.Constraints))
		next.EntitySchedules = orEmpty(maps.Clone(data.EntitySchedules))
		next.APIKeys = append([]models.APIKey{}, data.APIKeys...)
		next.Schedules = append([]models.Schedule{}, data.Schedules...)
		next.Groups = append([]models.Group{}, data.Groups...)
		next.Settings = data.Settings
		next.Settings.Normalize()
		next.Presets = orEmpty(maps.Clone(data.Presets))

		return nil
	}, Documents...)
}

func orEmpty[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}

	return m
}
