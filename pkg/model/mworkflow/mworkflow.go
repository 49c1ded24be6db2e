//nolint:revive // exported
package mworkflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// FinalTransformID is the reserved synthetic step id under which the final
// transform's outcome is tracked. User steps must never carry this id.
const FinalTransformID = "__final_transform__"

// DefaultLoopMaxIters bounds LOOP-mode steps whose definition carries no
// explicit ceiling. An unbounded loop is a latent infinite-loop risk.
const DefaultLoopMaxIters = 1000

type ExecutionMode int8

const (
	ExecutionModeDirect ExecutionMode = iota
	ExecutionModeLoop
)

func (m ExecutionMode) String() string {
	switch m {
	case ExecutionModeDirect:
		return "DIRECT"
	case ExecutionModeLoop:
		return "LOOP"
	}
	return "UNSPECIFIED"
}

func (m ExecutionMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *ExecutionMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "DIRECT", "":
		*m = ExecutionModeDirect
	case "LOOP":
		*m = ExecutionModeLoop
	default:
		return fmt.Errorf("unknown execution mode %q", s)
	}
	return nil
}

// FailureBehavior decides what a step's failure does to the rest of the run:
// FAIL halts it, CONTINUE records the failure and lets later steps proceed.
type FailureBehavior int8

const (
	FailureBehaviorFail FailureBehavior = iota
	FailureBehaviorContinue
)

func (b FailureBehavior) String() string {
	if b == FailureBehaviorContinue {
		return "continue"
	}
	return "fail"
}

func (b FailureBehavior) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

func (b *FailureBehavior) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "fail", "":
		*b = FailureBehaviorFail
	case "continue":
		*b = FailureBehaviorContinue
	default:
		return fmt.Errorf("unknown failure behavior %q", s)
	}
	return nil
}

// Pagination describes how the engine should page through a step's endpoint.
// It is a descriptor only; paging is executed remotely.
type Pagination struct {
	Type          string `json:"type"`
	PageSize      string `json:"pageSize,omitempty"`
	CursorPath    string `json:"cursorPath,omitempty"`
	StopCondition string `json:"stopCondition,omitempty"`
	MaxPages      int    `json:"maxPages,omitempty"`
}

type ApiConfig struct {
	ID          string            `json:"id"`
	Method      string            `json:"method"`
	URLHost     string            `json:"urlHost"`
	URLPath     string            `json:"urlPath,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	QueryParams map[string]string `json:"queryParams,omitempty"`
	Body        string            `json:"body,omitempty"`
	Pagination  *Pagination       `json:"pagination,omitempty"`
}

type ExecutionStep struct {
	ID              string          `json:"id"`
	ApiConfig       ApiConfig       `json:"apiConfig"`
	ExecutionMode   ExecutionMode   `json:"executionMode"`
	FailureBehavior FailureBehavior `json:"failureBehavior"`
	LoopSelector    string          `json:"loopSelector,omitempty"`
	LoopMaxIters    int             `json:"loopMaxIters,omitempty"`
}

// EffectiveLoopMaxIters returns the iteration ceiling for a LOOP step,
// falling back to DefaultLoopMaxIters when the definition carries none.
func (s ExecutionStep) EffectiveLoopMaxIters() int {
	if s.LoopMaxIters <= 0 {
		return DefaultLoopMaxIters
	}
	return s.LoopMaxIters
}

// ConfigID returns the step's config-level id, falling back to the step id.
// The two must never silently diverge.
func (s ExecutionStep) ConfigID() string {
	if s.ApiConfig.ID != "" {
		return s.ApiConfig.ID
	}
	return s.ID
}

type Workflow struct {
	ID             string          `json:"id"`
	Steps          []ExecutionStep `json:"steps"`
	FinalTransform string          `json:"finalTransform,omitempty"`
	InputSchema    json.RawMessage `json:"inputSchema,omitempty"`
	ResponseSchema json.RawMessage `json:"responseSchema,omitempty"`
	Instruction    string          `json:"instruction,omitempty"`
	CreatedAt      time.Time       `json:"createdAt,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt,omitempty"`
}

var (
	ErrMissingID      = errors.New("workflow id is required")
	ErrReservedStepID = errors.New("step id collides with the reserved final transform id")
)

func (w Workflow) Validate() error {
	if w.ID == "" {
		return ErrMissingID
	}
	seen := make(map[string]struct{}, len(w.Steps))
	for _, s := range w.Steps {
		if s.ID == FinalTransformID {
			return ErrReservedStepID
		}
		if _, ok := seen[s.ID]; ok {
			return fmt.Errorf("duplicate step id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy; step edits on the copy never alias the source.
func (w Workflow) Clone() Workflow {
	out := w
	out.Steps = CloneSteps(w.Steps)
	if w.InputSchema != nil {
		out.InputSchema = append(json.RawMessage(nil), w.InputSchema...)
	}
	if w.ResponseSchema != nil {
		out.ResponseSchema = append(json.RawMessage(nil), w.ResponseSchema...)
	}
	return out
}

func CloneSteps(steps []ExecutionStep) []ExecutionStep {
	if steps == nil {
		return nil
	}
	out := make([]ExecutionStep, len(steps))
	for i, s := range steps {
		out[i] = s
		out[i].ApiConfig.Headers = cloneStringMap(s.ApiConfig.Headers)
		out[i].ApiConfig.QueryParams = cloneStringMap(s.ApiConfig.QueryParams)
		if s.ApiConfig.Pagination != nil {
			p := *s.ApiConfig.Pagination
			out[i].ApiConfig.Pagination = &p
		}
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// NewStepID mints an id for a step added in the editor.
func NewStepID(prefix string, index int) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return fmt.Sprintf("%s-step-%d", prefix, index)
}

type StepExecutionResult struct {
	StepID      string    `json:"stepId"`
	Success     bool      `json:"success"`
	Data        any       `json:"data,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
}

// DisplayResult is what result panels render for the step: the data on
// success, the error message on failure.
func (r StepExecutionResult) DisplayResult() any {
	if r.Success {
		return r.Data
	}
	return r.Error
}

// RunStatus is the lifecycle state of a remote run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
	RunStatusAborted RunStatus = "aborted"
)

type RunMetadata struct {
	StartedAt   time.Time `json:"startedAt,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
	DurationMS  int64     `json:"durationMs,omitempty"`
}

// Run is one entry in the engine's run history. Data is only present on
// success, Error only on failure or abort.
type Run struct {
	ID          string                `json:"id"`
	WorkflowID  string                `json:"workflowId"`
	Status      RunStatus             `json:"status"`
	Metadata    RunMetadata           `json:"metadata"`
	Data        any                   `json:"data,omitempty"`
	Error       string                `json:"error,omitempty"`
	StepResults []StepExecutionResult `json:"stepResults,omitempty"`
}

type WorkflowResult struct {
	ID          string                `json:"id"`
	Success     bool                  `json:"success"`
	Data        any                   `json:"data,omitempty"`
	Error       string                `json:"error,omitempty"`
	StartedAt   time.Time             `json:"startedAt"`
	CompletedAt time.Time             `json:"completedAt"`
	StepResults []StepExecutionResult `json:"stepResults,omitempty"`

	// Config snapshots the definition actually used for the run, which may
	// carry self-healed step definitions distinct from the authored ones.
	Config *Workflow `json:"config,omitempty"`
}
