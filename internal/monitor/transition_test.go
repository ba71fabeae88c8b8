package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"rideralert/internal/models"
)

func signal(id string) Outcome {
	return Outcome{Signal: models.OrderSignal{ID: id, Present: id != ""}, At: time.Unix(100, 0)}
}

func failure(msg string) Outcome {
	return Outcome{Err: errors.New(msg), At: time.Unix(100, 0)}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		name       string
		status     models.Status
		lastSeen   string
		outcome    Outcome
		wantStatus models.Status
		wantSeen   string
		wantEffect Effect
	}{
		{"new id raises alarm", models.StatusMonitoring, "100", signal("101"), models.StatusAlarmActive, "101", Effect{Alarm: AlarmStart, PersistID: true}},
		{"first id raises alarm", models.StatusMonitoring, "", signal("1"), models.StatusAlarmActive, "1", Effect{Alarm: AlarmStart, PersistID: true}},
		{"new id from error state", models.StatusConnectionError, "1", signal("2"), models.StatusAlarmActive, "2", Effect{Alarm: AlarmStart, PersistID: true}},
		{"same id keeps monitoring", models.StatusMonitoring, "100", signal("100"), models.StatusMonitoring, "100", Effect{}},
		{"same id keeps alarm", models.StatusAlarmActive, "100", signal("100"), models.StatusAlarmActive, "100", Effect{}},
		{"same id recovers from error", models.StatusConnectionError, "100", signal("100"), models.StatusMonitoring, "100", Effect{}},
		{"cleared order stops alarm", models.StatusAlarmActive, "101", signal(""), models.StatusMonitoring, "101", Effect{Alarm: AlarmStop}},
		{"cleared order recovers from error", models.StatusConnectionError, "101", signal(""), models.StatusMonitoring, "101", Effect{}},
		{"cleared order while monitoring", models.StatusMonitoring, "101", signal(""), models.StatusMonitoring, "101", Effect{}},
		{"failure while monitoring", models.StatusMonitoring, "1", failure("boom"), models.StatusConnectionError, "1", Effect{}},
		{"failure never demotes alarm", models.StatusAlarmActive, "1", failure("boom"), models.StatusAlarmActive, "1", Effect{}},
		{"idle ignores outcomes", models.StatusIdle, "1", signal("2"), models.StatusIdle, "1", Effect{}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			next, eff := Transition(models.Session{Status: c.status, LastSeenID: c.lastSeen, Online: true}, c.outcome)
			assert.Equal(t, c.wantStatus, next.Status)
			assert.Equal(t, c.wantSeen, next.LastSeenID)
			assert.Equal(t, c.wantEffect, eff)
		})
	}
}

func TestTransitionTracksErrorAndCheckTime(t *testing.T) {
	s := models.Session{Status: models.StatusMonitoring, LastSeenID: "1"}

	s, _ = Transition(s, failure("Server Error: 500 Internal Server Error"))
	assert.Equal(t, "Server Error: 500 Internal Server Error", s.LastError)
	if assert.NotNil(t, s.LastCheckedAt) {
		assert.Equal(t, time.Unix(100, 0), *s.LastCheckedAt)
	}

	s, _ = Transition(s, signal("1"))
	assert.Empty(t, s.LastError)
	assert.Equal(t, models.StatusMonitoring, s.Status)
}

func TestTransitionRepeatedIDNeverRealarms(t *testing.T) {
	s := models.Session{Status: models.StatusMonitoring}
	starts := 0
	for _, id := range []string{"5", "5", "5", "", "5", "6", "6"} {
		var eff Effect
		s, eff = Transition(s, signal(id))
		if eff.Alarm == AlarmStart {
			starts++
		}
	}
	// "5" once, then "6" once; "5" after a clear matches the stored id
	assert.Equal(t, 2, starts)
}

func TestTransitionBumpsViewRevisionOnAlarm(t *testing.T) {
	s := models.Session{Status: models.StatusMonitoring, ViewRevision: 3}
	s, _ = Transition(s, signal("9"))
	assert.EqualValues(t, 4, s.ViewRevision)
	s, _ = Transition(s, signal("9"))
	assert.EqualValues(t, 4, s.ViewRevision)
}
