package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Status is the state of the rider session.
type Status string

const (
	StatusIdle            Status = "IDLE"
	StatusMonitoring      Status = "MONITORING"
	StatusAlarmActive     Status = "ALARM_ACTIVE"
	StatusConnectionError Status = "CONNECTION_ERROR"
)

// Label returns the short badge text shown to riders.
func (s Status) Label() string {
	switch s {
	case StatusMonitoring:
		return "Live"
	case StatusAlarmActive:
		return "ALERT"
	case StatusConnectionError:
		return "Error"
	default:
		return "Offline"
	}
}

// OrderSignal is the value observed on the remote endpoint during one poll.
type OrderSignal struct {
	ID      string `json:"id,omitempty"`
	Present bool   `json:"present"`
}

// Session is the single process-wide rider session.
type Session struct {
	Status        Status     `json:"status"`
	LastSeenID    string     `json:"last_seen_id,omitempty"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	Online        bool       `json:"online"`
	ViewRevision  uint64     `json:"view_revision"`
}

// Snapshot is a read-only view of the session pushed to user interfaces.
type Snapshot struct {
	Session
	PollInterval     string    `json:"poll_interval"`
	AudioUnlocked    bool      `json:"audio_unlocked"`
	ActiveOrdersPage string    `json:"active_orders_page"`
	EndpointURL      string    `json:"endpoint_url"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// PollRecord captures the outcome of a single tick.
type PollRecord struct {
	Seq         uint64    `json:"seq"`
	StartedAt   time.Time `json:"started_at"`
	CheckedAt   time.Time `json:"checked_at"`
	OK          bool      `json:"ok"`
	Stale       bool      `json:"stale,omitempty"`
	FailureKind string    `json:"failure_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	OrderID     string    `json:"order_id,omitempty"`
	LatencyMS   int64     `json:"latency_ms"`
}

// CleanText replaces every byte that is not valid UTF-8 with U+FFFD, the
// same substitution encoding/json makes when writing the string.
func CleanText(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
		} else {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}
