package monitor

import (
	"time"

	"rideralert/internal/models"
)

// AlarmEffect tells the controller what to do with the alarm after a transition.
type AlarmEffect int

const (
	AlarmNone AlarmEffect = iota
	AlarmStart
	AlarmStop
)

// Outcome is the result of one tick: either a signal or a failure.
type Outcome struct {
	Signal models.OrderSignal
	Err    error
	At     time.Time
}

// Effect lists the side effects a transition requires.
type Effect struct {
	Alarm     AlarmEffect
	PersistID bool
}

// Transition applies a poll outcome to the session. It is pure: alarm and
// persistence side effects are returned, not performed.
func Transition(s models.Session, o Outcome) (models.Session, Effect) {
	var eff Effect
	if s.Status == models.StatusIdle {
		return s, eff
	}

	at := o.At
	s.LastCheckedAt = &at

	if o.Err != nil {
		s.LastError = o.Err.Error()
		if s.Status != models.StatusAlarmActive {
			s.Status = models.StatusConnectionError
		}
		return s, eff
	}

	s.LastError = ""
	id := o.Signal.ID
	if !o.Signal.Present {
		id = ""
	}

	switch {
	case id != "" && id != s.LastSeenID:
		s.LastSeenID = id
		s.Status = models.StatusAlarmActive
		s.ViewRevision++
		eff.PersistID = true
		eff.Alarm = AlarmStart
	case id != "":
		if s.Status == models.StatusConnectionError {
			s.Status = models.StatusMonitoring
		}
	default:
		switch s.Status {
		case models.StatusAlarmActive:
			s.Status = models.StatusMonitoring
			eff.Alarm = AlarmStop
		case models.StatusConnectionError:
			s.Status = models.StatusMonitoring
		}
	}
	return s, eff
}
