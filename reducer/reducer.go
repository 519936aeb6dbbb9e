// Package reducer derives the pipeline visualization state from an
// ordered event stream. Apply is pure with respect to the incoming
// state: every transition returns a new RunState and never mutates the
// input, so replaying a prefix of events always yields the same result.
package reducer

import (
	"time"

	"whitewall/event"
)

// StepState is one fixed pipeline stage as the client renders it.
type StepState struct {
	ID     string           `json:"id"`
	Label  string           `json:"label"`
	Status event.StepStatus `json:"status"`
	Detail string           `json:"detail,omitempty"`
	Timing int              `json:"timing,omitempty"`
}

// TerminalEntry is one scrolling log line. Entries are append-only and
// ordered by arrival, not by timestamp.
type TerminalEntry struct {
	Tag       string         `json:"tag"`
	Message   string         `json:"message"`
	Level     event.LogLevel `json:"level"`
	Timestamp int64          `json:"timestamp"`
}

// RunState aggregates everything derived from one pipeline run.
type RunState struct {
	Steps     []StepState
	Log       []TerminalEntry
	IsRunning bool
	Result    *event.Result
}

// DefaultSteps returns the fixed, ordered stage set at idle.
func DefaultSteps() []StepState {
	return []StepState{
		{ID: "agent", Label: "Agent", Status: event.StepIdle},
		{ID: "payment", Label: "Payment", Status: event.StepIdle},
		{ID: "gateway", Label: "Gateway", Status: event.StepIdle},
		{ID: "orchestrator", Label: "Orchestrator", Status: event.StepIdle},
		{ID: "gate1", Label: "G1: Identity", Status: event.StepIdle},
		{ID: "gate2", Label: "G2: Verification", Status: event.StepIdle},
		{ID: "gate3", Label: "G3: Liveness", Status: event.StepIdle},
		{ID: "gate4", Label: "G4: Reputation", Status: event.StepIdle},
		{ID: "consensus", Label: "Consensus", Status: event.StepIdle},
		{ID: "policy", Label: "Policy", Status: event.StepIdle},
		{ID: "result", Label: "Result", Status: event.StepIdle},
	}
}

// NewRunState returns a fresh, idle run state.
func NewRunState() RunState {
	return RunState{Steps: DefaultSteps()}
}

// Reset discards all derived state and returns a fresh run state.
func Reset(RunState) RunState {
	return NewRunState()
}

// Start marks the run as in progress. It does not clear prior state;
// callers issue Reset first when a clean run is wanted.
func Start(s RunState) RunState {
	s.IsRunning = true
	return s
}

// Fail records a transport-level delivery failure: the run stops and a
// synthetic failure line is appended so the UI never hangs.
func Fail(s RunState, message string) RunState {
	s.Log = appendEntry(s.Log, TerminalEntry{
		Tag:       "SYSTEM",
		Message:   message,
		Level:     event.LevelFail,
		Timestamp: time.Now().UnixMilli(),
	})
	s.IsRunning = false
	return s
}

// Apply folds one event into the run state.
func Apply(s RunState, ev event.Event) RunState {
	switch e := ev.(type) {
	case event.Step:
		s.Steps = applyStep(s.Steps, e)
	case event.Terminal:
		s.Log = appendEntry(s.Log, TerminalEntry{
			Tag:       e.Tag,
			Message:   e.Message,
			Level:     e.Level,
			Timestamp: time.Now().UnixMilli(),
		})
	case event.Skip:
		s.Steps = applySkip(s.Steps, e.AfterStepID)
	case event.Result:
		result := e
		s.Result = &result
	case event.Done:
		s.IsRunning = false
	case event.StreamError:
		s = Fail(s, "Run aborted server-side")
	}
	return s
}

// applyStep replaces the status of the named step. Detail and timing
// are partial updates: absent values on the event keep prior values.
// Unknown step ids are ignored.
func applyStep(steps []StepState, e event.Step) []StepState {
	out := make([]StepState, len(steps))
	copy(out, steps)
	for i := range out {
		if out[i].ID != e.StepID {
			continue
		}
		out[i].Status = e.Status
		if e.Detail != "" {
			out[i].Detail = e.Detail
		}
		if e.Timing != 0 {
			out[i].Timing = e.Timing
		}
		break
	}
	return out
}

// applySkip marks every step positioned after the named step, and still
// idle, as skipped. Steps already active, passed, or failed keep their
// state.
func applySkip(steps []StepState, afterStepID string) []StepState {
	idx := -1
	for i := range steps {
		if steps[i].ID == afterStepID {
			idx = i
			break
		}
	}
	out := make([]StepState, len(steps))
	copy(out, steps)
	for i := range out {
		if i > idx && out[i].Status == event.StepIdle {
			out[i].Status = event.StepSkipped
		}
	}
	return out
}

func appendEntry(log []TerminalEntry, entry TerminalEntry) []TerminalEntry {
	out := make([]TerminalEntry, len(log), len(log)+1)
	copy(out, log)
	return append(out, entry)
}
