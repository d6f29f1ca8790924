package policy

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"maps"
	"slices"

	"github.com/clawbridge/clawbridge/internal/models"
)

const (
	maxAnnotationLen = 500
	idAlphabet       = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// SetEntities replaces the global access map.
func (s *Store) SetEntities(ctx context.Context, entities map[string]models.AccessLevel) error {
	for id, level := range entities {
		if !models.ValidEntityID(id) {
			return models.ErrInvalidField("entities", "invalid entity id "+id)
		}
		if !level.Valid() {
			return models.ErrInvalidField("entities", "invalid access level for "+id)
		}
	}

	return s.update(ctx, func(next *Snapshot) error {
		next.Entities = maps.Clone(entities)
		if next.Entities == nil {
			next.Entities = map[string]models.AccessLevel{}
		}

		return nil
	}, DocEntities)
}

// SetEntityAccess sets one entity's global tier. AccessNone records an
// explicit revocation.
func (s *Store) SetEntityAccess(ctx context.Context, entityID string, level models.AccessLevel) error {
	if !models.ValidEntityID(entityID) {
		return models.ErrInvalidField("entity_id", "is not a valid entity id")
	}
	if !level.Valid() {
		return models.ErrInvalidField("access", "is not a valid access level")
	}

	return s.update(ctx, func(next *Snapshot) error {
		next.Entities[entityID] = level
		return nil
	}, DocEntities)
}

// RemoveEntity forgets an entity's global tier so it reads as never configured.
func (s *Store) RemoveEntity(ctx context.Context, entityID string) error {
	return s.update(ctx, func(next *Snapshot) error {
		if _, ok := next.Entities[entityID]; !ok {
			return models.ErrNotFound
		}
		delete(next.Entities, entityID)

		return nil
	}, DocEntities)
}

// SetAnnotation stores a caller-facing note for an entity, truncated to 500
// characters. Empty text removes the note.
func (s *Store) SetAnnotation(ctx context.Context, entityID, text string) error {
	if !models.ValidEntityID(entityID) {
		return models.ErrInvalidField("entity_id", "is not a valid entity id")
	}

	return s.update(ctx, func(next *Snapshot) error {
		if text == "" {
			delete(next.Annotations, entityID)
		} else {
			next.Annotations[entityID] = truncate(text, maxAnnotationLen)
		}

		return nil
	}, DocAnnotations)
}

// SetConstraints replaces an entity's parameter bounds. Empty bounds remove them.
func (s *Store) SetConstraints(ctx context.Context, entityID string, c models.Constraints) error {
	if !models.ValidEntityID(entityID) {
		return models.ErrInvalidField("entity_id", "is not a valid entity id")
	}
	if err := c.Validate(); err != nil {
		return err
	}

	return s.update(ctx, func(next *Snapshot) error {
		if len(c) == 0 {
			delete(next.Constraints, entityID)
		} else {
			next.Constraints[entityID] = maps.Clone(c)
		}

		return nil
	}, DocConstraints)
}

// CreateAPIKey issues a new key. The returned key carries the only copy of
// the full token that is ever handed out.
func (s *Store) CreateAPIKey(ctx context.Context, req models.CreateAPIKeyRequest) (*models.APIKey, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id, err := randomID("cbk_", 8)
	if err != nil {
		return nil, err
	}

	token, err := randomToken()
	if err != nil {
		return nil, err
	}

	key := models.APIKey{
		ID:        id,
		Name:      req.Name,
		Token:     token,
		Entities:  maps.Clone(req.Entities),
		RateLimit: req.RateLimit,
		CreatedAt: s.now().UTC(),
	}
	if key.Entities == nil {
		key.Entities = map[string]models.AccessLevel{}
	}

	err = s.update(ctx, func(next *Snapshot) error {
		next.APIKeys = append(next.APIKeys, key)
		return nil
	}, DocAPIKeys)
	if err != nil {
		return nil, err
	}

	return &key, nil
}

// DeleteAPIKey revokes a key.
func (s *Store) DeleteAPIKey(ctx context.Context, keyID string) error {
	return s.update(ctx, func(next *Snapshot) error {
		i := slices.IndexFunc(next.APIKeys, func(k models.APIKey) bool { return k.ID == keyID })
		if i < 0 {
			return models.ErrNotFound
		}
		next.APIKeys = slices.Delete(next.APIKeys, i, i+1)

		return nil
	}, DocAPIKeys)
}

// CreateSchedule adds a schedule.
func (s *Store) CreateSchedule(ctx context.Context, req models.ScheduleRequest) (*models.Schedule, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id, err := randomID("sch_", 6)
	if err != nil {
		return nil, err
	}

	sched := scheduleFrom(id, &req)

	err = s.update(ctx, func(next *Snapshot) error {
		next.Schedules = append(next.Schedules, sched)
		return nil
	}, DocSchedules)
	if err != nil {
		return nil, err
	}

	return &sched, nil
}

// UpdateSchedule replaces a schedule's window.
func (s *Store) UpdateSchedule(ctx context.Context, id string, req models.ScheduleRequest) (*models.Schedule, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sched := scheduleFrom(id, &req)

	err := s.update(ctx, func(next *Snapshot) error {
		i := slices.IndexFunc(next.Schedules, func(sc models.Schedule) bool { return sc.ID == id })
		if i < 0 {
			return models.ErrNotFound
		}
		next.Schedules[i] = sched

		return nil
	}, DocSchedules)
	if err != nil {
		return nil, err
	}

	return &sched, nil
}

// DeleteSchedule removes a schedule and every entity assignment to it.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	return s.update(ctx, func(next *Snapshot) error {
		i := slices.IndexFunc(next.Schedules, func(sc models.Schedule) bool { return sc.ID == id })
		if i < 0 {
			return models.ErrNotFound
		}
		next.Schedules = slices.Delete(next.Schedules, i, i+1)

		for entityID, schedID := range next.EntitySchedules {
			if schedID == id {
				delete(next.EntitySchedules, entityID)
			}
		}

		return nil
	}, DocSchedules, DocEntitySchedules)
}

// SetEntitySchedule assigns scheduleID to an entity. An empty id removes the assignment.
func (s *Store) SetEntitySchedule(ctx context.Context, entityID, scheduleID string) error {
	if !models.ValidEntityID(entityID) {
		return models.ErrInvalidField("entity_id", "is not a valid entity id")
	}

	return s.update(ctx, func(next *Snapshot) error {
		if scheduleID == "" {
			delete(next.EntitySchedules, entityID)
			return nil
		}

		if _, ok := next.ScheduleByID(scheduleID); !ok {
			return fmt.Errorf("schedule %s: %w", scheduleID, models.ErrNotFound)
		}
		next.EntitySchedules[entityID] = scheduleID

		return nil
	}, DocEntitySchedules)
}

// UpdateSettings validates, normalizes and stores settings.
func (s *Store) UpdateSettings(ctx context.Context, settings models.Settings) (models.Settings, error) {
	settings.Normalize()
	if err := settings.Validate(); err != nil {
		return models.Settings{}, err
	}

	err := s.update(ctx, func(next *Snapshot) error {
		next.Settings = settings
		return nil
	}, DocSettings)

	return settings, err
}

// CreateGroup adds an entity group.
func (s *Store) CreateGroup(ctx context.Context, req models.GroupRequest) (*models.Group, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id, err := randomID("grp_", 6)
	if err != nil {
		return nil, err
	}

	g := models.Group{ID: id, Name: req.Name, Entities: req.Entities}

	err = s.update(ctx, func(next *Snapshot) error {
		next.Groups = append(next.Groups, g)
		return nil
	}, DocGroups)
	if err != nil {
		return nil, err
	}

	return &g, nil
}

// UpdateGroup replaces a group's name and members.
func (s *Store) UpdateGroup(ctx context.Context, id string, req models.GroupRequest) (*models.Group, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	g := models.Group{ID: id, Name: req.Name, Entities: req.Entities}

	err := s.update(ctx, func(next *Snapshot) error {
		i := slices.IndexFunc(next.Groups, func(x models.Group) bool { return x.ID == id })
		if i < 0 {
			return models.ErrNotFound
		}
		next.Groups[i] = g

		return nil
	}, DocGroups)
	if err != nil {
		return nil, err
	}

	return &g, nil
}

// DeleteGroup removes a group. Member entities keep their tiers.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	return s.update(ctx, func(next *Snapshot) error {
		i := slices.IndexFunc(next.Groups, func(x models.Group) bool { return x.ID == id })
		if i < 0 {
			return models.ErrNotFound
		}
		next.Groups = slices.Delete(next.Groups, i, i+1)

		return nil
	}, DocGroups)
}

// SetGroupAccess applies one tier to every member of a group and returns how
// many entities changed. AccessNone writes an explicit revocation.
func (s *Store) SetGroupAccess(ctx context.Context, id string, level models.AccessLevel) (int, error) {
	if !level.Valid() {
		return 0, models.ErrInvalidField("access", "is not a valid access level")
	}

	var changed int
	err := s.update(ctx, func(next *Snapshot) error {
		g, ok := next.Group(id)
		if !ok {
			return models.ErrNotFound
		}

		for _, entityID := range g.Entities {
			if next.Entities[entityID] != level {
				next.Entities[entityID] = level
				changed++
			}
		}

		return nil
	}, DocEntities)

	return changed, err
}

func scheduleFrom(id string, req *models.ScheduleRequest) models.Schedule {
	return models.Schedule{
		ID:       id,
		Name:     req.Name,
		Start:    req.Start,
		End:      req.End,
		Days:     slices.Clone(req.Days),
		Timezone: req.Timezone,
	}
}

func randomID(prefix string, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating id: %w", err)
	}

	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}

	return prefix + string(buf), nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}

	return "cb_" + base64.RawURLEncoding.EncodeToString(buf), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[:n])
}
