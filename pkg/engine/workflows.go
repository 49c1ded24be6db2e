package engine

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/apiweave/apiweave/pkg/errmap"
	"github.com/apiweave/apiweave/pkg/model/mintegration"
	"github.com/apiweave/apiweave/pkg/model/mworkflow"
)

const mutationBuildWorkflow = `
mutation BuildWorkflow($instruction: String!, $payload: JSON, $integrationIds: [ID!]!, $responseSchema: JSON, $save: Boolean!) {
  buildWorkflow(instruction: $instruction, payload: $payload, integrationIds: $integrationIds, responseSchema: $responseSchema, save: $save) {
    id steps finalTransform inputSchema responseSchema instruction createdAt updatedAt
  }
}`

const mutationExecuteWorkflow = `
mutation ExecuteWorkflow($workflow: WorkflowInput!, $payload: JSON, $credentials: JSON, $options: RequestOptionsInput) {
  executeWorkflow(workflow: $workflow, payload: $payload, credentials: $credentials, options: $options) {
    id success data error startedAt completedAt stepResults config
  }
}`

const mutationUpsertWorkflow = `
mutation UpsertWorkflow($id: ID!, $input: WorkflowInput!) {
  upsertWorkflow(id: $id, input: $input) {
    id steps finalTransform inputSchema responseSchema instruction createdAt updatedAt
  }
}`

const queryGetWorkflow = `
query GetWorkflow($id: ID!) {
  getWorkflow(id: $id) {
    id steps finalTransform inputSchema responseSchema instruction createdAt updatedAt
  }
}`

const mutationGenerateSchema = `
mutation GenerateSchema($instruction: String!, $responseData: String) {
  generateSchema(instruction: $instruction, responseData: $responseData)
}`

const mutationGenerateInstructions = `
mutation GenerateInstructions($integrations: [IntegrationInput!]!) {
  generateInstructions(integrations: $integrations)
}`

// BuildRequest carries everything the engine needs to generate a candidate
// workflow from a natural-language instruction.
type BuildRequest struct {
	Instruction    string          `json:"instruction"`
	Payload        map[string]any  `json:"payload,omitempty"`
	IntegrationIDs []string        `json:"integrationIds"`
	ResponseSchema json.RawMessage `json:"responseSchema,omitempty"`
	Save           bool            `json:"save"`
}

func (c *Client) BuildWorkflow(ctx context.Context, req BuildRequest) (mworkflow.Workflow, error) {
	if req.Instruction == "" {
		return mworkflow.Workflow{}, errmap.Validation("instruction", "instruction is required")
	}
	if len(req.IntegrationIDs) == 0 {
		return mworkflow.Workflow{}, errmap.Validation("integrationIds", "at least one integration is required")
	}
	var out struct {
		BuildWorkflow mworkflow.Workflow `json:"buildWorkflow"`
	}
	err := c.do(ctx, "buildWorkflow", mutationBuildWorkflow, map[string]any{
		"instruction":    req.Instruction,
		"payload":        req.Payload,
		"integrationIds": req.IntegrationIDs,
		"responseSchema": req.ResponseSchema,
		"save":           req.Save,
	}, &out)
	if err != nil {
		if IsRemote(err) {
			return mworkflow.Workflow{}, errmap.New(errmap.CodeBuild, err.Error(), err)
		}
		return mworkflow.Workflow{}, err
	}
	return out.BuildWorkflow, nil
}

// ExecuteOptions passes run-level switches through to the engine.
type ExecuteOptions struct {
	SelfHealing bool `json:"selfHealing"`
}

type ExecuteRequest struct {
	Workflow    mworkflow.Workflow `json:"workflow"`
	Payload     map[string]any     `json:"payload,omitempty"`
	Credentials map[string]string  `json:"credentials,omitempty"`
	Options     ExecuteOptions     `json:"options"`
}

// ExecuteWorkflow runs the whole workflow remotely in one shot. Step-by-step
// execution lives on StepClient.
func (c *Client) ExecuteWorkflow(ctx context.Context, req ExecuteRequest) (mworkflow.WorkflowResult, error) {
	if err := req.Workflow.Validate(); err != nil {
		return mworkflow.WorkflowResult{}, errmap.New(errmap.CodeValidation, err.Error(), err)
	}
	var out struct {
		ExecuteWorkflow mworkflow.WorkflowResult `json:"executeWorkflow"`
	}
	err := c.do(ctx, "executeWorkflow", mutationExecuteWorkflow, map[string]any{
		"workflow":    req.Workflow,
		"payload":     req.Payload,
		"credentials": req.Credentials,
		"options":     req.Options,
	}, &out)
	if err != nil {
		return mworkflow.WorkflowResult{}, err
	}
	return out.ExecuteWorkflow, nil
}

func (c *Client) UpsertWorkflow(ctx context.Context, id string, wf mworkflow.Workflow) (mworkflow.Workflow, error) {
	if id == "" {
		return mworkflow.Workflow{}, errmap.Internal("workflow id is required for save")
	}
	wf.ID = id
	if err := wf.Validate(); err != nil {
		return mworkflow.Workflow{}, errmap.New(errmap.CodeValidation, err.Error(), err)
	}
	var out struct {
		UpsertWorkflow mworkflow.Workflow `json:"upsertWorkflow"`
	}
	err := c.do(ctx, "upsertWorkflow", mutationUpsertWorkflow, map[string]any{
		"id":    id,
		"input": wf,
	}, &out)
	if err != nil {
		if IsRemote(err) {
			return mworkflow.Workflow{}, errmap.New(errmap.CodeSave, err.Error(), err)
		}
		return mworkflow.Workflow{}, err
	}
	return out.UpsertWorkflow, nil
}

func (c *Client) GetWorkflow(ctx context.Context, id string) (mworkflow.Workflow, error) {
	var out struct {
		GetWorkflow mworkflow.Workflow `json:"getWorkflow"`
	}
	err := c.do(ctx, "getWorkflow", queryGetWorkflow, map[string]any{"id": id}, &out)
	if err != nil {
		return mworkflow.Workflow{}, err
	}
	return out.GetWorkflow, nil
}

// GenerateSchema asks the engine for a JSON Schema matching the instruction,
// optionally informed by sample response data.
func (c *Client) GenerateSchema(ctx context.Context, instruction, sampleData string) (json.RawMessage, error) {
	if instruction == "" {
		return nil, errmap.Validation("instruction", "instruction is required")
	}
	var out struct {
		GenerateSchema json.RawMessage `json:"generateSchema"`
	}
	err := c.do(ctx, "generateSchema", mutationGenerateSchema, map[string]any{
		"instruction":  instruction,
		"responseData": sampleData,
	}, &out)
	if err != nil {
		if IsRemote(err) {
			return nil, errmap.New(errmap.CodeGeneration, err.Error(), err)
		}
		return nil, err
	}
	return out.GenerateSchema, nil
}

// GenerateInstructions returns suggested natural-language instructions for
// the given integrations. Best-effort at the call sites: a failure is a
// warning, never a gate.
func (c *Client) GenerateInstructions(ctx context.Context, integrations []mintegration.Integration) ([]string, error) {
	var out struct {
		GenerateInstructions []string `json:"generateInstructions"`
	}
	err := c.do(ctx, "generateInstructions", mutationGenerateInstructions, map[string]any{
		"integrations": integrations,
	}, &out)
	if err != nil {
		if IsRemote(err) {
			return nil, errmap.New(errmap.CodeGeneration, err.Error(), err)
		}
		return nil, err
	}
	return out.GenerateInstructions, nil
}
