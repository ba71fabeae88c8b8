package metrics

import (
	"math"
	"sort"
	"time"

	"rideralert/internal/models"
)

// PollUptime summarises how reliably the order endpoint answered.
type PollUptime struct {
	UptimePercent float64        `json:"uptime_percent"`
	TotalChecks   int            `json:"total_checks"`
	Passing       int            `json:"passing"`
	Failing       int            `json:"failing"`
	Stale         int            `json:"stale"`
	FailureKinds  map[string]int `json:"failure_kinds,omitempty"`
	AvgLatencyMS  float64        `json:"avg_latency_ms"`
	LastError     string         `json:"last_error,omitempty"`
	LastFailure   string         `json:"last_failure,omitempty"`
	LastUpdated   string         `json:"last_updated,omitempty"`
	OrdersSeen    []string       `json:"orders_seen,omitempty"`
}

// ComputePollUptime aggregates poll records. Stale responses are counted but do
// not affect the success ratio.
func ComputePollUptime(records []models.PollRecord) PollUptime {
	var (
		summary   PollUptime
		latency   int64
		lastTime  time.Time
		lastFail  time.Time
		orderSeen = make(map[string]struct{})
	)
	for _, rec := range records {
		if rec.Stale {
			summary.Stale++
			continue
		}
		if rec.OK {
			summary.Passing++
			if rec.OrderID != "" {
				orderSeen[rec.OrderID] = struct{}{}
			}
		} else {
			summary.Failing++
			if summary.FailureKinds == nil {
				summary.FailureKinds = make(map[string]int)
			}
			summary.FailureKinds[rec.FailureKind]++
			if !rec.CheckedAt.Before(lastFail) {
				lastFail = rec.CheckedAt
				summary.LastError = rec.Error
			}
		}
		latency += rec.LatencyMS
		if rec.CheckedAt.After(lastTime) {
			lastTime = rec.CheckedAt
		}
	}

	summary.TotalChecks = summary.Passing + summary.Failing
	if summary.TotalChecks > 0 {
		summary.UptimePercent = round2(float64(summary.Passing) / float64(summary.TotalChecks) * 100)
		summary.AvgLatencyMS = round2(float64(latency) / float64(summary.TotalChecks))
	}
	if !lastTime.IsZero() {
		summary.LastUpdated = lastTime.UTC().Format(time.RFC3339)
	}
	if !lastFail.IsZero() {
		summary.LastFailure = lastFail.UTC().Format(time.RFC3339)
	}
	if len(orderSeen) > 0 {
		summary.OrdersSeen = make([]string, 0, len(orderSeen))
		for id := range orderSeen {
			summary.OrdersSeen = append(summary.OrdersSeen, id)
		}
		sort.Strings(summary.OrdersSeen)
	}
	return summary
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
