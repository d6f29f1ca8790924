package models

import (
	"strings"
	"time"
)

const maxScheduleNameLen = 100

// TimezoneAuto evaluates a schedule in the process's local zone.
const TimezoneAuto = "auto"

// Schedule is a recurring time window during which assigned entities may be controlled.
// Days use 0 for Monday through 6 for Sunday.
type Schedule struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Start    string `json:"start" yaml:"start"`
	End      string `json:"end" yaml:"end"`
	Days     []int  `json:"days" yaml:"days"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// ScheduleRequest is the payload for creating or replacing a schedule.
type ScheduleRequest struct {
	Name     string `json:"name"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Days     []int  `json:"days"`
	Timezone string `json:"timezone"`
}

// Validate checks the request and fills defaults.
func (r *ScheduleRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return ErrFieldRequired("name")
	}

	if len(r.Name) > maxScheduleNameLen {
		return ErrFieldTooLong("name", maxScheduleNameLen)
	}

	if _, ok := ParseClock(r.Start); !ok {
		return ErrInvalidField("start", "must be HH:MM")
	}

	if _, ok := ParseClock(r.End); !ok {
		return ErrInvalidField("end", "must be HH:MM")
	}

	if len(r.Days) == 0 {
		r.Days = []int{0, 1, 2, 3, 4, 5, 6}
	}

	for _, d := range r.Days {
		if d < 0 || d > 6 {
			return ErrInvalidField("days", "must be between 0 (Monday) and 6 (Sunday)")
		}
	}

	if r.Timezone == "" {
		r.Timezone = TimezoneAuto
	}

	if r.Timezone != TimezoneAuto {
		if _, err := time.LoadLocation(r.Timezone); err != nil {
			return ErrInvalidField("timezone", "is not a known IANA zone")
		}
	}

	return nil
}

// ParseClock converts "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}

	h, ok1 := twoDigits(s[0:2])
	m, ok2 := twoDigits(s[3:5])
	if !ok1 || !ok2 || h > 23 || m > 59 {
		return 0, false
	}

	return h*60 + m, true
}

// MondayIndex converts a time.Weekday into the Monday-based index schedules use.
func MondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

func twoDigits(s string) (int, bool) {
	if s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, false
	}

	return int(s[0]-'0')*10 + int(s[1]-'0'), true
}
