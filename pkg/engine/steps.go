package engine

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/apiweave/apiweave/pkg/model/mworkflow"
)

const mutationExecuteStep = `
mutation ExecuteStep($step: ExecutionStepInput!, $payload: JSON, $credentials: JSON, $options: RequestOptionsInput) {
  executeStep(step: $step, payload: $payload, credentials: $credentials, options: $options) {
    stepId success data error config
  }
}`

const mutationExecuteTransform = `
mutation ExecuteTransform($transform: String!, $responseSchema: JSON, $inputSchema: JSON, $payload: JSON, $stepData: JSON, $options: RequestOptionsInput) {
  executeTransform(transform: $transform, responseSchema: $responseSchema, inputSchema: $inputSchema, payload: $payload, stepData: $stepData, options: $options) {
    success data error transform
  }
}`

// StepClient adds the step-level execution operations the base surface lacks.
// It holds a reference to the base client instead of extending it.
type StepClient struct {
	base *Client
}

func NewStepClient(base *Client) *StepClient {
	return &StepClient{base: base}
}

func (s *StepClient) Base() *Client {
	return s.base
}

// StepOutcome is the engine's answer for one step execution. Config is only
// set when self-healing rewrote the step definition to make it work.
type StepOutcome struct {
	StepID  string                   `json:"stepId"`
	Success bool                     `json:"success"`
	Data    any                      `json:"data,omitempty"`
	Error   string                   `json:"error,omitempty"`
	Config  *mworkflow.ExecutionStep `json:"config,omitempty"`
}

// ExecuteStep runs exactly one step against its real endpoint with the given
// evolving payload.
func (s *StepClient) ExecuteStep(ctx context.Context, step mworkflow.ExecutionStep, payload map[string]any, credentials map[string]string, selfHealing bool) (StepOutcome, error) {
	started := time.Now()
	var out struct {
		ExecuteStep StepOutcome `json:"executeStep"`
	}
	err := s.base.do(ctx, "executeStep", mutationExecuteStep, map[string]any{
		"step":        step,
		"payload":     payload,
		"credentials": credentials,
		"options":     ExecuteOptions{SelfHealing: selfHealing},
	}, &out)
	if err != nil {
		return StepOutcome{}, err
	}
	outcome := out.ExecuteStep
	if outcome.StepID == "" {
		outcome.StepID = step.ID
	}
	s.base.logger.DebugContext(ctx, "step executed",
		"stepId", outcome.StepID,
		"success", outcome.Success,
		"duration", time.Since(started))
	return outcome, nil
}

// TransformOutcome mirrors StepOutcome for the final transform; Transform is
// only set when self-healing rewrote the expression.
type TransformOutcome struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Transform string `json:"transform,omitempty"`
}

type TransformRequest struct {
	Transform      string          `json:"transform"`
	ResponseSchema json.RawMessage `json:"responseSchema,omitempty"`
	InputSchema    json.RawMessage `json:"inputSchema,omitempty"`
	Payload        map[string]any  `json:"payload,omitempty"`
	StepData       map[string]any  `json:"stepData,omitempty"`
	SelfHealing    bool            `json:"-"`
}

// ExecuteTransform runs the final transform in isolation over already-known
// step outputs.
func (s *StepClient) ExecuteTransform(ctx context.Context, req TransformRequest) (TransformOutcome, error) {
	var out struct {
		ExecuteTransform TransformOutcome `json:"executeTransform"`
	}
	err := s.base.do(ctx, "executeTransform", mutationExecuteTransform, map[string]any{
		"transform":      req.Transform,
		"responseSchema": req.ResponseSchema,
		"inputSchema":    req.InputSchema,
		"payload":        req.Payload,
		"stepData":       req.StepData,
		"options":        ExecuteOptions{SelfHealing: req.SelfHealing},
	}, &out)
	if err != nil {
		return TransformOutcome{}, err
	}
	return out.ExecuteTransform, nil
}
