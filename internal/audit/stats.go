package audit

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/clawbridge/clawbridge/internal/models"
)

const (
	defaultStatsHours = 24
	maxStatsHours     = 24 * 7
	topEntities       = 10
	topIPs            = 5
)

// Stats aggregates the trail over the trailing window of hours (default 24,
// capped at one week). Hourly index 0 is the most recent hour.
func (l *Log) Stats(_ context.Context, hours int) (*models.AuditStats, error) {
	if hours <= 0 {
		hours = defaultStatsHours
	}
	if hours > maxStatsHours {
		hours = maxStatsHours
	}

	now := l.now().UTC()
	windowStart := now.Add(-time.Duration(hours) * time.Hour)
	weekStart := now.Add(-7 * 24 * time.Hour)

	st := &models.AuditStats{
		WindowHours:   hours,
		ResultsWindow: make(map[models.AuditResult]int),
		ResultsAll:    make(map[models.AuditResult]int),
		Hourly:        make([]int, hours),
	}

	entityCounts := make(map[string]int)
	deniedCounts := make(map[string]int)
	ipCounts := make(map[string]int)

	var (
		latencySum float64
		latencyN   int
		successes  int
	)

	l.mu.Lock()
	err := l.scan(func(_ []byte, e *models.AuditEntry) {
		st.TotalAllTime++
		st.ResultsAll[e.Result]++

		if !e.Timestamp.Before(weekStart) {
			st.Total7d++
		}

		if e.Timestamp.Before(windowStart) {
			return
		}

		st.TotalWindow++
		st.ResultsWindow[e.Result]++
		if e.Result == models.ResultSuccess {
			successes++
		}

		if idx := int(now.Sub(e.Timestamp) / time.Hour); idx >= 0 && idx < hours {
			st.Hourly[idx]++
		}

		if e.EntityID != "" {
			entityCounts[e.EntityID]++
			if e.Result == models.ResultDenied {
				deniedCounts[e.EntityID]++
			}
		}

		if e.SourceIP != "" {
			ipCounts[e.SourceIP]++
		}

		if e.ResponseTimeMS != nil {
			latencySum += *e.ResponseTimeMS
			latencyN++
		}
	})
	l.mu.Unlock()

	if err != nil {
		return nil, err
	}

	st.TopEntities = topN(entityCounts, topEntities)
	st.TopDenied = topN(deniedCounts, topEntities)
	st.TopIPs = topN(ipCounts, topIPs)

	if latencyN > 0 {
		st.AvgResponseMS = round1(latencySum / float64(latencyN))
	}

	if st.TotalWindow > 0 {
		st.SuccessRatePct = round1(float64(successes) / float64(st.TotalWindow) * 100)
	}

	return st, nil
}

// topN ranks counts descending, breaking ties by key so output is stable.
func topN(counts map[string]int, n int) []models.CountEntry {
	out := make([]models.CountEntry, 0, len(counts))
	for k, c := range counts {
		out = append(out, models.CountEntry{Key: k, Count: c})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}

		return out[i].Key < out[j].Key
	})

	if len(out) > n {
		out = out[:n]
	}

	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
