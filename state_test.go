package svcwrap

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"
)

var allStates = []State{StateStartPending, StateRunning, StatePaused, StateStopPending, StateStopped}

var allCommands = []Command{CmdInterrogate, CmdStop, CmdShutdown, CmdPause, CmdContinue, CmdProcessDied}

func TestApplyTable(t *testing.T) {
	type want struct {
		to     State
		effect Effect
	}
	stop := want{StateStopPending, EffectBeginStop}
	failed := want{StateStopped, EffectFailed}

	table := map[State]map[Command]want{
		StateStartPending: {
			CmdInterrogate: {StateStartPending, EffectNone},
			CmdStop:        stop,
			CmdShutdown:    stop,
			CmdPause:       {StateStartPending, EffectNone},
			CmdContinue:    {StateStartPending, EffectNone},
			CmdProcessDied: failed,
		},
		StateRunning: {
			CmdInterrogate: {StateRunning, EffectNone},
			CmdStop:        stop,
			CmdShutdown:    stop,
			CmdPause:       {StatePaused, EffectNone},
			CmdContinue:    {StateRunning, EffectNone},
			CmdProcessDied: failed,
		},
		StatePaused: {
			CmdInterrogate: {StatePaused, EffectNone},
			CmdStop:        stop,
			CmdShutdown:    stop,
			CmdPause:       {StatePaused, EffectNone},
			CmdContinue:    {StateRunning, EffectNone},
			CmdProcessDied: failed,
		},
		StateStopPending: {
			CmdInterrogate: {StateStopPending, EffectNone},
			CmdStop:        {StateStopPending, EffectNone},
			CmdShutdown:    {StateStopPending, EffectNone},
			CmdPause:       {StateStopPending, EffectNone},
			CmdContinue:    {StateStopPending, EffectNone},
			CmdProcessDied: {StateStopped, EffectExited},
		},
		StateStopped: {
			CmdInterrogate: {StateStopped, EffectNone},
			CmdStop:        {StateStopped, EffectNone},
			CmdShutdown:    {StateStopped, EffectNone},
			CmdPause:       {StateStopped, EffectNone},
			CmdContinue:    {StateStopped, EffectNone},
			CmdProcessDied: {StateStopped, EffectNone},
		},
	}

	for _, s := range allStates {
		for _, c := range allCommands {
			w := table[s][c]
			got := Apply(s, c)
			if got.From != s || got.Cmd != c {
				t.Errorf("Apply(%s, %s) = %+v, transition does not echo its input", s, c, got)
			}
			if got.To != w.to || got.Effect != w.effect {
				t.Errorf("Apply(%s, %s) = (%s, %d), want (%s, %d)", s, c, got.To, got.Effect, w.to, w.effect)
			}
		}
	}
}

func TestInterrogateNeverChangesState(t *testing.T) {
	for _, s := range allStates {
		if tr := Apply(s, CmdInterrogate); tr.Changed() || tr.Effect != EffectNone {
			t.Errorf("Interrogate in %s changed state: %+v", s, tr)
		}
	}
}

func TestAcceptsFor(t *testing.T) {
	for _, s := range allStates {
		a := AcceptsFor(s)
		if s == StateStopped {
			if a != 0 {
				t.Errorf("Stopped accepts %s, want none", a)
			}
			continue
		}
		if !a.Has(AcceptStop | AcceptShutdown) {
			t.Errorf("%s accepts %s, want stop and shutdown", s, a)
		}
	}

	if !AcceptsFor(StateRunning).Has(AcceptPauseContinue) {
		t.Error("Running must accept pause/continue")
	}
	if AcceptsFor(StateStopPending).Has(AcceptPauseContinue) {
		t.Error("StopPending must not accept pause/continue")
	}
}

func TestStateStringRoundTrip(t *testing.T) {
	for _, s := range allStates {
		got, err := ParseState(s.String())
		if err != nil {
			t.Fatalf("ParseState(%q): %v", s.String(), err)
		}
		if got != s {
			t.Errorf("ParseState(%q) = %s", s.String(), got)
		}
	}
	if _, err := ParseState("bogus"); err == nil {
		t.Error("ParseState accepted an unknown state")
	}
	if State(42).String() != "unknown" {
		t.Errorf("State(42).String() = %q", State(42).String())
	}
}

func TestCommandString(t *testing.T) {
	want := map[Command]string{
		CmdInterrogate: "interrogate",
		CmdStop:        "stop",
		CmdShutdown:    "shutdown",
		CmdPause:       "pause",
		CmdContinue:    "continue",
		CmdProcessDied: "process-died",
		Command(99):    "unknown",
	}
	for c, s := range want {
		if c.String() != s {
			t.Errorf("%d.String() = %q, want %q", c, c.String(), s)
		}
	}
}

func TestStatusReportJSON(t *testing.T) {
	r := NewStatusReport(StateRunning, 1234)
	r.Time = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.Err = errors.New("boom")

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["state"] != "running" {
		t.Errorf("state = %v, want running", raw["state"])
	}
	if raw["error"] != "boom" {
		t.Errorf("error = %v, want boom", raw["error"])
	}

	var back StatusReport
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.State != StateRunning || back.PID != 1234 || !back.Time.Equal(r.Time) {
		t.Errorf("decoded %+v, want state running pid 1234", back)
	}
	if back.Accepts != AcceptsFor(StateRunning) {
		t.Errorf("accepts = %s, want %s", back.Accepts, AcceptsFor(StateRunning))
	}
	if back.Err == nil || back.Err.Error() != "boom" {
		t.Errorf("err = %v, want boom", back.Err)
	}
}

func TestStatusReportJSONStopped(t *testing.T) {
	data, err := json.Marshal(NewStatusReport(StateStopped, 0))
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	accepts, ok := raw["accepts"].([]any)
	if !ok || len(accepts) != 0 {
		t.Errorf("accepts = %v, want empty list", raw["accepts"])
	}
	if _, ok := raw["pid"]; ok {
		t.Error("pid should be omitted without a process")
	}
}

// TestApplySequences drives random command sequences through the transition
// function the way the supervisor loop does and checks the lifecycle rules
// hold at every step.
func TestApplySequences(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cmds := rapid.SliceOf(rapid.SampledFrom(allCommands)).Draw(t, "commands")

		s := StateStartPending
		stopping := false
		for _, c := range cmds {
			tr := Apply(s, c)

			if tr.To < StateStartPending || tr.To > StateStopped {
				t.Fatalf("Apply(%s, %s) left the state space: %d", s, c, tr.To)
			}
			if s == StateStopped && tr.Changed() {
				t.Fatalf("Stopped is terminal, got %s after %s", tr.To, c)
			}
			if stopping && tr.To != StateStopPending && tr.To != StateStopped {
				t.Fatalf("left StopPending to %s on %s", tr.To, c)
			}
			if tr.Effect == EffectBeginStop && stopping {
				t.Fatalf("stop begun twice")
			}
			if tr.To == StateStopPending {
				stopping = true
			}
			if accepts := AcceptsFor(tr.To); tr.To != StateStopped && !accepts.Has(AcceptStop|AcceptShutdown) {
				t.Fatalf("%s does not accept stop and shutdown", tr.To)
			}
			s = tr.To
		}
	})
}
