package svcwrap

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle state of a supervised run
type State int

const (
	// StateStartPending indicates the worker is being launched
	StateStartPending State = iota
	// StateRunning indicates the worker is up
	StateRunning
	// StatePaused indicates the service was paused by the host
	StatePaused
	// StateStopPending indicates termination of the worker is in progress
	StateStopPending
	// StateStopped is terminal for the current run
	StateStopped
)

// State string constants
const (
	stateStartPendingStr = "start-pending"
	stateRunningStr      = "running"
	statePausedStr       = "paused"
	stateStopPendingStr  = "stop-pending"
	stateStoppedStr      = "stopped"
	stateUnknownStr      = "unknown"
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateStartPending:
		return stateStartPendingStr
	case StateRunning:
		return stateRunningStr
	case StatePaused:
		return statePausedStr
	case StateStopPending:
		return stateStopPendingStr
	case StateStopped:
		return stateStoppedStr
	default:
		return stateUnknownStr
	}
}

// HasProcess reports whether a live worker handle exists in this state
func (s State) HasProcess() bool {
	return s == StateStartPending || s == StateRunning || s == StatePaused
}

// ParseState converts a string produced by State.String back into a State
func ParseState(v string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case stateStartPendingStr:
		return StateStartPending, nil
	case stateRunningStr:
		return StateRunning, nil
	case statePausedStr:
		return StatePaused, nil
	case stateStopPendingStr:
		return StateStopPending, nil
	case stateStoppedStr:
		return StateStopped, nil
	default:
		return StateStopped, fmt.Errorf("unknown state %q", v)
	}
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Command is an inbound lifecycle event
type Command int

const (
	// CmdInterrogate asks for the current status without side effects
	CmdInterrogate Command = iota
	// CmdStop asks the service to stop
	CmdStop
	// CmdShutdown is sent by the host when the system is going down
	CmdShutdown
	// CmdPause asks the service to pause
	CmdPause
	// CmdContinue resumes a paused service
	CmdContinue
	// CmdProcessDied is synthesized when the worker is found dead
	CmdProcessDied
)

// Command string constants
const (
	cmdInterrogateStr = "interrogate"
	cmdStopStr        = "stop"
	cmdShutdownStr    = "shutdown"
	cmdPauseStr       = "pause"
	cmdContinueStr    = "continue"
	cmdProcessDiedStr = "process-died"
	cmdUnknownStr     = "unknown"
)

// String returns the string representation of the command
func (c Command) String() string {
	switch c {
	case CmdInterrogate:
		return cmdInterrogateStr
	case CmdStop:
		return cmdStopStr
	case CmdShutdown:
		return cmdShutdownStr
	case CmdPause:
		return cmdPauseStr
	case CmdContinue:
		return cmdContinueStr
	case CmdProcessDied:
		return cmdProcessDiedStr
	default:
		return cmdUnknownStr
	}
}

// Accepts is the set of host commands a state accepts
type Accepts uint8

const (
	// AcceptStop means Stop is accepted
	AcceptStop Accepts = 1 << iota
	// AcceptShutdown means Shutdown is accepted
	AcceptShutdown
	// AcceptPauseContinue means Pause and Continue are accepted
	AcceptPauseContinue
)

// Has reports whether every bit of other is set
func (a Accepts) Has(other Accepts) bool {
	return a&other == other
}

// String lists the accepted commands
func (a Accepts) String() string {
	var parts []string
	if a.Has(AcceptStop) {
		parts = append(parts, cmdStopStr)
	}
	if a.Has(AcceptShutdown) {
		parts = append(parts, cmdShutdownStr)
	}
	if a.Has(AcceptPauseContinue) {
		parts = append(parts, "pause-continue")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// AcceptsFor returns the commands published alongside a state. Every
// non-terminal state accepts Stop and Shutdown.
func AcceptsFor(s State) Accepts {
	switch s {
	case StateRunning, StatePaused:
		return AcceptStop | AcceptShutdown | AcceptPauseContinue
	case StateStartPending, StateStopPending:
		return AcceptStop | AcceptShutdown
	default:
		return 0
	}
}

// Effect is the side effect the supervisor must perform after a transition
type Effect int

const (
	// EffectNone requires no action beyond publishing status
	EffectNone Effect = iota
	// EffectBeginStop disables health checks, interrupts the worker and arms the stop timer
	EffectBeginStop
	// EffectFailed records that the worker died outside StopPending
	EffectFailed
	// EffectExited records that the worker exited during StopPending
	EffectExited
)

// Transition is the outcome of applying a command to a state
type Transition struct {
	From   State
	To     State
	Cmd    Command
	Effect Effect
}

// Changed reports whether the transition moved to a different state
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Apply is the lifecycle transition function. Combinations outside the
// transition table leave the state unchanged.
func Apply(s State, c Command) Transition {
	t := Transition{From: s, To: s, Cmd: c}

	switch s {
	case StateStartPending, StateRunning, StatePaused:
		switch c {
		case CmdStop, CmdShutdown:
			t.To = StateStopPending
			t.Effect = EffectBeginStop
		case CmdProcessDied:
			t.To = StateStopped
			t.Effect = EffectFailed
		case CmdPause:
			if s == StateRunning {
				t.To = StatePaused
			}
		case CmdContinue:
			if s == StatePaused {
				t.To = StateRunning
			}
		}
	case StateStopPending:
		if c == CmdProcessDied {
			t.To = StateStopped
			t.Effect = EffectExited
		}
	}

	return t
}

// StatusReport is the externally observable snapshot of a supervised run
type StatusReport struct {
	// State is the lifecycle state
	State State
	// Accepts is the set of commands the host may send in this state
	Accepts Accepts
	// PID is the worker process id, 0 without a live handle
	PID int
	// Time is when the report was produced
	Time time.Time
	// Err is the failure recorded for the run, if any
	Err error
}

// NewStatusReport builds a report for a state with its accept set
func NewStatusReport(s State, pid int) StatusReport {
	return StatusReport{
		State:   s,
		Accepts: AcceptsFor(s),
		PID:     pid,
		Time:    time.Now(),
	}
}

// String returns a one-line summary of the report
func (r StatusReport) String() string {
	var b strings.Builder
	b.WriteString(r.State.String())
	if r.PID > 0 {
		fmt.Fprintf(&b, " (pid %d)", r.PID)
	}
	if r.Err != nil {
		fmt.Fprintf(&b, ": %v", r.Err)
	}
	return b.String()
}

type statusReportJSON struct {
	State   State     `json:"state"`
	Accepts []string  `json:"accepts"`
	PID     int       `json:"pid,omitempty"`
	Time    time.Time `json:"time"`
	Error   string    `json:"error,omitempty"`
}

// MarshalJSON renders the report for the status file and the status API
func (r StatusReport) MarshalJSON() ([]byte, error) {
	out := statusReportJSON{
		State:   r.State,
		Accepts: []string{},
		PID:     r.PID,
		Time:    r.Time,
	}
	if r.Accepts != 0 {
		out.Accepts = strings.Split(r.Accepts.String(), ",")
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a report written by MarshalJSON. A recorded error
// comes back as a plain error value carrying the message.
func (r *StatusReport) UnmarshalJSON(b []byte) error {
	var in statusReportJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	r.State = in.State
	r.Accepts = AcceptsFor(in.State)
	r.PID = in.PID
	r.Time = in.Time
	r.Err = nil
	if in.Error != "" {
		r.Err = remoteError(in.Error)
	}
	return nil
}

// remoteError is an error message read back from a status snapshot
type remoteError string

func (e remoteError) Error() string { return string(e) }
