package gateway

import (
	"context"
	"sort"

	"github.com/clawbridge/clawbridge/internal/access"
	"github.com/clawbridge/clawbridge/internal/models"
)

// Capabilities summarizes what a caller may do, for use as model context.
type Capabilities struct {
	AIName                string                     `json:"ai_name"`
	RateLimitPerMinute    int                        `json:"rate_limit_per_minute"`
	ConfirmTimeoutSeconds int                        `json:"confirm_timeout_seconds"`
	ReadSafeServices      []string                   `json:"read_safe_services"`
	Entities              []EntityCapability         `json:"entities"`
	Counts                map[models.AccessLevel]int `json:"counts"`
}

// EntityCapability describes one visible entity.
type EntityCapability struct {
	EntityID    string             `json:"entity_id"`
	Name        string             `json:"name"`
	Access      models.AccessLevel `json:"access"`
	State       string             `json:"state,omitempty"`
	Area        string             `json:"area,omitempty"`
	Annotation  string             `json:"annotation,omitempty"`
	Constraints models.Constraints `json:"constraints,omitempty"`
	Schedule    *ScheduleWindow    `json:"schedule,omitempty"`
}

// ScheduleWindow is the schedule summary shown alongside an entity.
type ScheduleWindow struct {
	Name     string `json:"name"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Days     []int  `json:"days"`
	Timezone string `json:"timezone,omitempty"`
	Open     bool   `json:"open_now"`
}

// Context builds the caller's capability summary.
func (d *Dispatcher) Context(_ context.Context, id *Identity) (*Capabilities, error) {
	if !d.Allow(id) {
		return nil, models.ErrRateLimited
	}

	snap := d.policy.Snapshot()
	effective := d.effective(snap, id)
	now := d.now()

	limit := snap.Settings.RateLimitPerMinute
	if id.Key != nil && id.Key.RateLimit > 0 {
		limit = id.Key.RateLimit
	}

	caps := &Capabilities{
		AIName:                snap.Settings.AIName,
		RateLimitPerMinute:    limit,
		ConfirmTimeoutSeconds: snap.Settings.ConfirmTimeoutSeconds,
		Entities:              make([]EntityCapability, 0, len(effective)),
		Counts:                make(map[models.AccessLevel]int),
	}

	for _, rs := range access.ReadSafe {
		caps.ReadSafeServices = append(caps.ReadSafeServices, rs.Domain+"."+rs.Service)
	}

	for entityID, level := range effective {
		ec := EntityCapability{
			EntityID:    entityID,
			Name:        entityID,
			Access:      level,
			Area:        d.backend.Area(entityID),
			Annotation:  snap.Annotations[entityID],
			Constraints: snap.Constraints[entityID],
		}

		if s, ok := d.backend.State(entityID); ok {
			ec.Name = s.FriendlyName()
			ec.State = s.State
		}

		if schedID, ok := snap.AssignedSchedule(entityID); ok {
			if sched, ok := snap.ScheduleByID(schedID); ok {
				ec.Schedule = &ScheduleWindow{
					Name:     sched.Name,
					Start:    sched.Start,
					End:      sched.End,
					Days:     sched.Days,
					Timezone: sched.Timezone,
					Open:     access.InWindow(sched, now),
				}
			}
		}

		caps.Counts[level]++
		caps.Entities = append(caps.Entities, ec)
	}

	sort.Slice(caps.Entities, func(i, j int) bool {
		return caps.Entities[i].EntityID < caps.Entities[j].EntityID
	})

	return caps, nil
}
