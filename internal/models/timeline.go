package models

import "time"

// TimelinePoint is one bucket of the poll timeline.
type TimelinePoint struct {
	ClassName string           `json:"className"`
	Label     string           `json:"label"`
	Start     time.Time        `json:"start"`
	End       time.Time        `json:"end"`
	Polls     int              `json:"polls"`
	Details   []TimelineDetail `json:"details,omitempty"`
}

// TimelineDetail carries extra information for buckets with failures or orders.
type TimelineDetail struct {
	Timestamp time.Time `json:"timestamp"`
	State     string    `json:"state,omitempty"`
	Error     string    `json:"error,omitempty"`
}
