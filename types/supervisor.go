package types

import "time"

// SupervisorState is the daemon's view of its supervised detector child.
type SupervisorState string

const (
	SupervisorStopped    SupervisorState = "stopped"
	SupervisorStarting   SupervisorState = "starting"
	SupervisorRunning    SupervisorState = "running"
	SupervisorRestarting SupervisorState = "restarting"
	SupervisorFailed     SupervisorState = "failed"
)

// SupervisorSnapshot is a point-in-time view of supervisor state, safe to
// read after it is returned.
type SupervisorSnapshot struct {
	State         SupervisorState
	ChildPID      int
	RestartCount  int
	LastStartTime time.Time
	LastStopTime  time.Time
}
