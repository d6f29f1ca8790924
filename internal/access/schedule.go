package access

import (
	"slices"
	"time"

	"github.com/clawbridge/clawbridge/internal/models"
)

// WithinSchedule reports whether entityID may be acted on at now. Entities
// without an assignment are always allowed, and so are entities whose
// schedule was deleted or cannot be parsed.
func WithinSchedule(snap ScheduleSource, entityID string, now time.Time) bool {
	schedID, ok := snap.AssignedSchedule(entityID)
	if !ok {
		return true
	}

	sched, ok := snap.ScheduleByID(schedID)
	if !ok {
		return true
	}

	return InWindow(sched, now)
}

// InWindow evaluates one schedule at now. Both bounds are inclusive to the
// minute; an end before the start wraps past midnight. A malformed schedule
// allows.
func InWindow(sched *models.Schedule, now time.Time) bool {
	start, ok1 := models.ParseClock(sched.Start)
	end, ok2 := models.ParseClock(sched.End)
	if !ok1 || !ok2 {
		return true
	}

	if sched.Timezone != "" && sched.Timezone != models.TimezoneAuto {
		loc, err := time.LoadLocation(sched.Timezone)
		if err != nil {
			return true
		}
		now = now.In(loc)
	} else {
		now = now.Local()
	}

	days := sched.Days
	if len(days) == 0 {
		days = []int{0, 1, 2, 3, 4, 5, 6}
	}
	if !slices.Contains(days, models.MondayIndex(now.Weekday())) {
		return false
	}

	cur := now.Hour()*60 + now.Minute()
	if start <= end {
		return start <= cur && cur <= end
	}

	return cur >= start || cur <= end
}

// ScheduleSource exposes the schedule tables of a policy snapshot.
type ScheduleSource interface {
	AssignedSchedule(entityID string) (string, bool)
	ScheduleByID(id string) (*models.Schedule, bool)
}
