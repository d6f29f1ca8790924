package policy

import (
	"crypto/subtle"
	"maps"
	"slices"

	"github.com/clawbridge/clawbridge/internal/models"
)

// Snapshot is an immutable view of the whole policy. Callers must not modify
// any map or slice reachable from it; the store replaces it wholesale on change.
type Snapshot struct {
	Entities        map[string]models.AccessLevel
	Annotations     map[string]string
	Constraints     map[string]models.Constraints
	APIKeys         []models.APIKey
	Schedules       []models.Schedule
	EntitySchedules map[string]string
	Settings        models.Settings
	Groups          []models.Group
	Presets         map[string]map[string]models.AccessLevel
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Entities:        map[string]models.AccessLevel{},
		Annotations:     map[string]string{},
		Constraints:     map[string]models.Constraints{},
		APIKeys:         []models.APIKey{},
		Schedules:       []models.Schedule{},
		EntitySchedules: map[string]string{},
		Settings:        models.DefaultSettings(),
		Groups:          []models.Group{},
		Presets:         map[string]map[string]models.AccessLevel{},
	}
}

// clone returns a shallow copy whose top-level maps and slices may be replaced
// independently of the receiver.
func (s *Snapshot) clone() *Snapshot {
	out := *s
	out.Entities = maps.Clone(s.Entities)
	out.Annotations = maps.Clone(s.Annotations)
	out.Constraints = maps.Clone(s.Constraints)
	out.APIKeys = slices.Clone(s.APIKeys)
	out.Schedules = slices.Clone(s.Schedules)
	out.EntitySchedules = maps.Clone(s.EntitySchedules)
	out.Groups = slices.Clone(s.Groups)
	out.Presets = orEmpty(maps.Clone(s.Presets))
	out.Settings.AllowedIPs = slices.Clone(s.Settings.AllowedIPs)

	return &out
}

// KeyByToken returns the API key whose token equals token. Every key is
// compared in constant time.
func (s *Snapshot) KeyByToken(token string) (*models.APIKey, bool) {
	var found *models.APIKey

	for i := range s.APIKeys {
		if subtle.ConstantTimeCompare([]byte(s.APIKeys[i].Token), []byte(token)) == 1 {
			found = &s.APIKeys[i]
		}
	}

	return found, found != nil
}

// ScheduleByID returns the schedule with the given id.
func (s *Snapshot) ScheduleByID(id string) (*models.Schedule, bool) {
	for i := range s.Schedules {
		if s.Schedules[i].ID == id {
			return &s.Schedules[i], true
		}
	}

	return nil, false
}

// AssignedSchedule returns the schedule id assigned to entityID.
func (s *Snapshot) AssignedSchedule(entityID string) (string, bool) {
	id, ok := s.EntitySchedules[entityID]
	return id, ok && id != ""
}

// Group returns the group with the given id.
func (s *Snapshot) Group(id string) (*models.Group, bool) {
	for i := range s.Groups {
		if s.Groups[i].ID == id {
			return &s.Groups[i], true
		}
	}

	return nil, false
}

// KeysOpen reports whether the data plane runs without API keys.
func (s *Snapshot) KeysOpen() bool {
	return len(s.APIKeys) == 0
}
