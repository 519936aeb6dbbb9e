// Package event defines the pipeline event vocabulary shared by the
// scenario generator, the live orchestrator, and the client-side reducer.
package event

// StepStatus represents the lifecycle state of one pipeline stage.
type StepStatus string

const (
	StepIdle    StepStatus = "idle"
	StepActive  StepStatus = "active"
	StepPass    StepStatus = "pass"
	StepFail    StepStatus = "fail"
	StepSkipped StepStatus = "skipped"
)

// LogLevel represents the severity of a terminal log line.
type LogLevel string

const (
	LevelInfo LogLevel = "info"
	LevelPass LogLevel = "pass"
	LevelFail LogLevel = "fail"
	LevelWarn LogLevel = "warn"
)

// Kind discriminates the event union on the wire.
type Kind string

const (
	KindStep     Kind = "step"
	KindTerminal Kind = "terminal"
	KindResult   Kind = "result"
	KindSkip     Kind = "skip"
	KindDone     Kind = "done"
	KindError    Kind = "error"
)

// Event is one message in a pipeline run stream. The concrete types
// below form a closed union; consumers switch exhaustively on Kind().
type Event interface {
	Kind() Kind
}

// Step reports the status of a named pipeline stage.
type Step struct {
	StepID string
	Status StepStatus
	Detail string
	Timing int // milliseconds spent in the stage, 0 when not reported
}

func (Step) Kind() Kind { return KindStep }

// Terminal is a human-readable log line with a category tag.
type Terminal struct {
	Tag     string
	Message string
	Level   LogLevel
}

func (Terminal) Kind() Kind { return KindTerminal }

// Result is the terminal outcome of one pipeline run. Exactly one
// Result is emitted per run, immediately before Done.
type Result struct {
	Granted          bool
	AccountableHuman string
	Tier             int
	Reason           string
	ID               string // record id when the run was persisted
	ArtifactURL      string // generated artifact URL on grant
	Prompt           string
	AgentID          string
	OwnerAddress     string
	Timestamp        int64 // milliseconds, set on persisted runs
}

func (Result) Kind() Kind { return KindResult }

// Skip marks every stage after AfterStepID that is still idle as skipped.
type Skip struct {
	AfterStepID string
}

func (Skip) Kind() Kind { return KindSkip }

// Done marks end of stream; no further events arrive for the run.
type Done struct{}

func (Done) Kind() Kind { return KindDone }

// StreamError is the malformed-stream sentinel written when a run
// aborts server-side before producing a result.
type StreamError struct{}

func (StreamError) Kind() Kind { return KindError }
