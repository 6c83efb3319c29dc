package den

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"wolfden/internal/api"
)

func TestDeriveState(t *testing.T) {
	recent := Snapshot{Incidents: []api.Incident{{Timestamp: ago(10 * time.Second)}}}
	old := Snapshot{Incidents: []api.Incident{{Timestamp: ago(400 * time.Second)}}}
	undated := Snapshot{Incidents: []api.Incident{{Timestamp: api.Timestamp{Raw: "garbage"}}}}

	tests := []struct {
		name  string
		snap  Snapshot
		flags Flags
		want  AgentState
	}{
		{"no incidents", Snapshot{}, Flags{}, StateIdle},
		{"recent incident", recent, Flags{}, StateAlert},
		{"old incident", old, Flags{}, StateIdle},
		{"unparseable incident timestamp", undated, Flags{}, StateIdle},
		{"working beats alert", recent, Flags{Working: true}, StateWorking},
		{"dreaming beats alert", recent, Flags{Dreaming: true}, StateDreaming},
		{"working beats dreaming", Snapshot{}, Flags{Working: true, Dreaming: true}, StateWorking},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveState(tt.snap, tt.flags, baseTime, DefaultAlertWindow))
		})
	}
}

func TestDeriveStateWindowIsExclusive(t *testing.T) {
	snap := Snapshot{Incidents: []api.Incident{{Timestamp: ago(DefaultAlertWindow)}}}
	assert.Equal(t, StateIdle, DeriveState(snap, Flags{}, baseTime, DefaultAlertWindow))

	snap = Snapshot{Incidents: []api.Incident{{Timestamp: ago(DefaultAlertWindow - time.Second)}}}
	assert.Equal(t, StateAlert, DeriveState(snap, Flags{}, baseTime, DefaultAlertWindow))
}
