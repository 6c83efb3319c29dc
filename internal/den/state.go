package den

import "time"

// AgentState is the discrete state shown by the dashboard.
type AgentState string

const (
	StateIdle     AgentState = "idle"
	StateWorking  AgentState = "working"
	StateDreaming AgentState = "dreaming"
	StateAlert    AgentState = "alert"
)

// States lists every state in precedence order.
var States = []AgentState{StateWorking, StateDreaming, StateAlert, StateIdle}

// Flags are the transient action flags held by the publisher.
type Flags struct {
	// Working is set while a task submission is outstanding.
	Working bool
	// Dreaming is set while a dream-cycle trigger is outstanding.
	Dreaming bool
}

// DeriveState computes the agent state. Precedence: an outstanding task
// forces working; otherwise an outstanding dream cycle gives dreaming; then
// any incident newer than alertWindow gives alert; otherwise idle.
func DeriveState(snap Snapshot, flags Flags, now time.Time, alertWindow time.Duration) AgentState {
	switch {
	case flags.Working:
		return StateWorking
	case flags.Dreaming:
		return StateDreaming
	case hasRecentIncident(snap, now, alertWindow):
		return StateAlert
	default:
		return StateIdle
	}
}

func hasRecentIncident(snap Snapshot, now time.Time, window time.Duration) bool {
	for _, incident := range snap.Incidents {
		at := incident.Timestamp.Time
		if at.IsZero() {
			continue
		}
		if now.Sub(at) < window {
			return true
		}
	}
	return false
}
