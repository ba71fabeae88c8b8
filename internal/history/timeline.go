package history

import (
	"sort"
	"time"

	"rideralert/internal/models"
)

const (
	// DefaultTimelinePoints controls how many dots we generate.
	DefaultTimelinePoints = 60
	maxDetailsPerPoint    = 4
)

// BuildPollTimeline buckets poll records between start and end. Stale
// responses are ignored.
func BuildPollTimeline(records []models.PollRecord, start, end time.Time, points int) []models.TimelinePoint {
	if points <= 0 {
		points = DefaultTimelinePoints
	}
	if !end.After(start) {
		end = start.Add(time.Minute)
	}

	samples := make([]models.PollRecord, 0, len(records))
	for _, rec := range records {
		if rec.Stale || rec.CheckedAt.IsZero() {
			continue
		}
		samples = append(samples, rec)
	}
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].CheckedAt.Before(samples[j].CheckedAt)
	})

	bucketDuration := end.Sub(start) / time.Duration(points)
	if bucketDuration <= 0 {
		bucketDuration = time.Second
	}

	output := make([]models.TimelinePoint, 0, points)
	cursor := 0
	for i := 0; i < points; i++ {
		bucketStart := start.Add(time.Duration(i) * bucketDuration)
		bucketEnd := bucketStart.Add(bucketDuration)
		if i == points-1 {
			bucketEnd = end
		}
		bucket, next := collectBucket(samples, bucketStart, bucketEnd, cursor)
		cursor = next

		class, label, details := evaluateBucket(bucket)
		output = append(output, models.TimelinePoint{
			ClassName: class,
			Label:     label,
			Start:     bucketStart,
			End:       bucketEnd,
			Polls:     len(bucket),
			Details:   details,
		})
	}
	return output
}

func collectBucket(samples []models.PollRecord, start, end time.Time, cursor int) ([]models.PollRecord, int) {
	total := len(samples)
	if total == 0 || cursor >= total {
		return nil, cursor
	}

	i := cursor
	for i < total && samples[i].CheckedAt.Before(start) {
		i++
	}
	j := i
	for j < total && samples[j].CheckedAt.Before(end) {
		j++
	}
	if i >= j {
		return nil, j
	}
	return samples[i:j], j
}

func evaluateBucket(entries []models.PollRecord) (className, label string, details []models.TimelineDetail) {
	if len(entries) == 0 {
		return "state-missing", "No data", nil
	}

	var hasError, hasOrder bool
	for _, entry := range entries {
		switch {
		case !entry.OK:
			hasError = true
			details = appendDetail(details, models.TimelineDetail{
				Timestamp: entry.CheckedAt,
				State:     entry.FailureKind,
				Error:     entry.Error,
			})
		case entry.OrderID != "":
			hasOrder = true
			details = appendDetail(details, models.TimelineDetail{
				Timestamp: entry.CheckedAt,
				State:     "order " + entry.OrderID,
			})
		}
	}

	switch {
	case hasError:
		return "state-error", "Unreachable", details
	case hasOrder:
		return "state-warning", "Order pending", details
	default:
		return "state-success", "Operational", nil
	}
}

func appendDetail(details []models.TimelineDetail, d models.TimelineDetail) []models.TimelineDetail {
	if len(details) >= maxDetailsPerPoint {
		return details
	}
	return append(details, d)
}
