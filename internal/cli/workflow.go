package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/apiweave/apiweave/pkg/draftstore"
	"github.com/apiweave/apiweave/pkg/engine"
	"github.com/apiweave/apiweave/pkg/errmap"
	"github.com/apiweave/apiweave/pkg/filedata"
	"github.com/apiweave/apiweave/pkg/flow/steprun"
	"github.com/apiweave/apiweave/pkg/httpclient"
	"github.com/apiweave/apiweave/pkg/model/mworkflow"
	"github.com/apiweave/apiweave/pkg/varsystem"
)

func (r *root) workflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"wf"},
		Short:   "Build, test, and save workflows",
	}
	cmd.AddCommand(r.workflowBuildCmd(), r.workflowRunCmd(), r.workflowSaveCmd(), r.workflowGetCmd(), r.workflowTryCmd(), r.runsCmd())
	return cmd
}

func (r *root) payloadFromFlags(payloadText, payloadFile string) (map[string]any, error) {
	payload := map[string]any{}
	if payloadText != "" {
		if err := json.Unmarshal([]byte(payloadText), &payload); err != nil {
			return nil, fmt.Errorf("payload must be a JSON object: %w", err)
		}
	}
	if payloadFile != "" {
		data, err := os.ReadFile(payloadFile)
		if err != nil {
			return nil, err
		}
		fileObj, err := filedata.ToPayload(payloadFile, data)
		if err != nil {
			return nil, err
		}
		payload = filedata.Merge(payload, fileObj)
	}
	return payload, nil
}

func (r *root) workflowBuildCmd() *cobra.Command {
	var (
		instruction  string
		payloadText  string
		payloadFile  string
		integrations []string
		draftID      string
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a candidate workflow from an instruction",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := r.client()
			if err != nil {
				return err
			}
			payload, err := r.payloadFromFlags(payloadText, payloadFile)
			if err != nil {
				return err
			}
			wf, err := client.BuildWorkflow(cmd.Context(), engine.BuildRequest{
				Instruction:    instruction,
				Payload:        payload,
				IntegrationIDs: integrations,
			})
			if err != nil {
				return err
			}
			if draftID != "" {
				store, err := draftstore.Open(cmd.Context(), r.cfg.DraftDB)
				if err != nil {
					return err
				}
				defer func() { _ = store.Close() }()
				if err := store.Put(cmd.Context(), draftstore.Draft{ID: draftID, Workflow: wf}); err != nil {
					return err
				}
				r.logger.Info("draft saved", "draft", draftID, "workflow", wf.ID)
			}
			return printJSON(cmd, wf)
		},
	}
	cmd.Flags().StringVar(&instruction, "instruction", "", "natural-language instruction")
	cmd.Flags().StringVar(&payloadText, "payload", "", "initial payload as a JSON object")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "file (json/yaml/csv) merged into the payload")
	cmd.Flags().StringSliceVar(&integrations, "integration", nil, "integration id (repeatable)")
	cmd.Flags().StringVar(&draftID, "draft", "", "store the result as a local draft")
	_ = cmd.MarkFlagRequired("instruction")
	_ = cmd.MarkFlagRequired("integration")
	return cmd
}

func (r *root) loadWorkflow(cmd *cobra.Command, ref string, fromDraft bool) (mworkflow.Workflow, error) {
	if fromDraft {
		store, err := draftstore.Open(cmd.Context(), r.cfg.DraftDB)
		if err != nil {
			return mworkflow.Workflow{}, err
		}
		defer func() { _ = store.Close() }()
		draft, err := store.Get(cmd.Context(), ref)
		if err != nil {
			return mworkflow.Workflow{}, err
		}
		return draft.Workflow, nil
	}
	client, err := r.client()
	if err != nil {
		return mworkflow.Workflow{}, err
	}
	return client.GetWorkflow(cmd.Context(), ref)
}

func (r *root) workflowRunCmd() *cobra.Command {
	var (
		payloadText string
		payloadFile string
		credentials []string
		selfHealing bool
		fromDraft   bool
		remote      bool
	)
	cmd := &cobra.Command{
		Use:   "run <workflow-id|draft-id>",
		Short: "Execute a workflow step by step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := r.client()
			if err != nil {
				return err
			}
			wf, err := r.loadWorkflow(cmd, args[0], fromDraft)
			if err != nil {
				return err
			}
			payload, err := r.payloadFromFlags(payloadText, payloadFile)
			if err != nil {
				return err
			}
			creds, err := parseKeyValues(credentials)
			if err != nil {
				return err
			}

			if remote {
				result, err := client.ExecuteWorkflow(cmd.Context(), engine.ExecuteRequest{
					Workflow:    wf,
					Payload:     payload,
					Credentials: creds,
					Options:     engine.ExecuteOptions{SelfHealing: selfHealing},
				})
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			}

			runner := steprun.New(engine.NewStepClient(client), nil, r.logger)
			run, err := runner.ExecuteWorkflow(cmd.Context(), &wf, payload, creds, steprun.RunOptions{
				SelfHealing: selfHealing,
				OnStep: func(res mworkflow.StepExecutionResult) {
					status := "ok"
					if !res.Success {
						status = "failed"
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "step %s: %s\n", res.StepID, status)
				},
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, run.Result)
		},
	}
	cmd.Flags().StringVar(&payloadText, "payload", "", "initial payload as a JSON object")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "file (json/yaml/csv) merged into the payload")
	cmd.Flags().StringArrayVar(&credentials, "credential", nil, "credential as key=value (repeatable)")
	cmd.Flags().BoolVar(&selfHealing, "self-healing", false, "let the engine repair failing steps")
	cmd.Flags().BoolVar(&fromDraft, "draft", false, "load the workflow from the local draft store")
	cmd.Flags().BoolVar(&remote, "remote", false, "run the whole workflow remotely in one shot")
	return cmd
}

func (r *root) workflowSaveCmd() *cobra.Command {
	var fromDraft bool
	cmd := &cobra.Command{
		Use:   "save <workflow-id|draft-id>",
		Short: "Persist a workflow to the engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := r.client()
			if err != nil {
				return err
			}
			wf, err := r.loadWorkflow(cmd, args[0], fromDraft)
			if err != nil {
				return err
			}
			saved, err := client.UpsertWorkflow(cmd.Context(), wf.ID, wf)
			if err != nil {
				return err
			}
			return printJSON(cmd, saved)
		},
	}
	cmd.Flags().BoolVar(&fromDraft, "draft", false, "load the workflow from the local draft store")
	return cmd
}

func (r *root) workflowGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch a saved workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := r.client()
			if err != nil {
				return err
			}
			wf, err := client.GetWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, wf)
		},
	}
}

func (r *root) workflowTryCmd() *cobra.Command {
	var (
		stepIdx   int
		fromDraft bool
		vars      []string
	)
	cmd := &cobra.Command{
		Use:   "try <workflow-id|draft-id>",
		Short: "Send one step's request directly and show the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := r.loadWorkflow(cmd, args[0], fromDraft)
			if err != nil {
				return err
			}
			if stepIdx < 0 || stepIdx >= len(wf.Steps) {
				return fmt.Errorf("step %d out of range, workflow has %d steps", stepIdx, len(wf.Steps))
			}
			kv, err := parseKeyValues(vars)
			if err != nil {
				return err
			}
			cfg, err := varsystem.NewVarMap(kv).ResolveConfig(wf.Steps[stepIdx].ApiConfig)
			if err != nil {
				return err
			}
			out, err := tryRequest(cmd.Context(), httpclient.New(), cfg)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().IntVar(&stepIdx, "step", 0, "step index to send")
	cmd.Flags().BoolVar(&fromDraft, "draft", false, "load the workflow from the local draft store")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "credential placeholder value as key=value (repeatable)")
	return cmd
}

// requestFromConfig lowers a step's api config into the request shape the
// http layer sends.
func requestFromConfig(cfg mworkflow.ApiConfig) *httpclient.Request {
	req := &httpclient.Request{
		Method: cfg.Method,
		URL:    strings.TrimSuffix(cfg.URLHost, "/") + cfg.URLPath,
		Body:   []byte(cfg.Body),
	}
	for k, v := range cfg.Headers {
		req.Headers = append(req.Headers, httpclient.Header{HeaderKey: k, Value: v})
	}
	for k, v := range cfg.QueryParams {
		req.Queries = append(req.Queries, httpclient.Query{QueryKey: k, Value: v})
	}
	return req
}

// tryRequest sends the request and shapes the response for display, with
// JSON bodies decoded rather than printed as raw strings.
func tryRequest(ctx context.Context, client httpclient.HttpClient, cfg mworkflow.ApiConfig) (httpclient.ResponseVar, error) {
	resp, err := httpclient.SendRequestAndConvertWithContext(ctx, client, requestFromConfig(cfg))
	if err != nil {
		return httpclient.ResponseVar{}, errmap.MapOperation("tryStep", err)
	}
	return httpclient.ConvertResponseToVar(resp), nil
}

func parseKeyValues(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("%q is not key=value", kv)
		}
		out[k] = v
	}
	return out, nil
}
