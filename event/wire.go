package event

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// envelope is the flat JSON shape shared by every event kind. Absent
// fields are omitted so step and terminal messages stay compact.
type envelope struct {
	Type Kind `json:"type"`

	// step fields
	StepID string     `json:"stepId,omitempty"`
	Status StepStatus `json:"status,omitempty"`
	Detail string     `json:"detail,omitempty"`
	Timing int        `json:"timing,omitempty"`

	// terminal fields
	Tag     string   `json:"tag,omitempty"`
	Message string   `json:"message,omitempty"`
	Level   LogLevel `json:"level,omitempty"`

	// result fields
	Granted          *bool  `json:"granted,omitempty"`
	AccountableHuman string `json:"accountableHuman,omitempty"`
	Tier             int    `json:"tier,omitempty"`
	Reason           string `json:"reason,omitempty"`
	ID               string `json:"id,omitempty"`
	ArtifactURL      string `json:"artifactUrl,omitempty"`
	Prompt           string `json:"prompt,omitempty"`
	AgentID          string `json:"agentId,omitempty"`
	OwnerAddress     string `json:"ownerAddress,omitempty"`
	Timestamp        int64  `json:"timestamp,omitempty"`

	// skip fields
	AfterStepID string `json:"afterStepId,omitempty"`
}

// Marshal encodes an event as its wire JSON.
func Marshal(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("nil event")
	}
	var env envelope
	switch e := ev.(type) {
	case Step:
		env = envelope{Type: KindStep, StepID: e.StepID, Status: e.Status, Detail: e.Detail, Timing: e.Timing}
	case Terminal:
		env = envelope{Type: KindTerminal, Tag: e.Tag, Message: e.Message, Level: e.Level}
	case Result:
		granted := e.Granted
		env = envelope{
			Type:             KindResult,
			Granted:          &granted,
			AccountableHuman: e.AccountableHuman,
			Tier:             e.Tier,
			Reason:           e.Reason,
			ID:               e.ID,
			ArtifactURL:      e.ArtifactURL,
			Prompt:           e.Prompt,
			AgentID:          e.AgentID,
			OwnerAddress:     e.OwnerAddress,
			Timestamp:        e.Timestamp,
		}
	case Skip:
		env = envelope{Type: KindSkip, AfterStepID: e.AfterStepID}
	case Done:
		env = envelope{Type: KindDone}
	case StreamError:
		env = envelope{Type: KindError}
	default:
		return nil, errors.Errorf("unknown event type %T", ev)
	}
	return json.Marshal(env)
}

// Unmarshal decodes wire JSON back into a typed event.
func Unmarshal(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "decode event")
	}
	switch env.Type {
	case KindStep:
		return Step{StepID: env.StepID, Status: env.Status, Detail: env.Detail, Timing: env.Timing}, nil
	case KindTerminal:
		return Terminal{Tag: env.Tag, Message: env.Message, Level: env.Level}, nil
	case KindResult:
		granted := env.Granted != nil && *env.Granted
		return Result{
			Granted:          granted,
			AccountableHuman: env.AccountableHuman,
			Tier:             env.Tier,
			Reason:           env.Reason,
			ID:               env.ID,
			ArtifactURL:      env.ArtifactURL,
			Prompt:           env.Prompt,
			AgentID:          env.AgentID,
			OwnerAddress:     env.OwnerAddress,
			Timestamp:        env.Timestamp,
		}, nil
	case KindSkip:
		return Skip{AfterStepID: env.AfterStepID}, nil
	case KindDone:
		return Done{}, nil
	case KindError:
		return StreamError{}, nil
	default:
		return nil, errors.Errorf("unknown event kind %q", env.Type)
	}
}
