// Package engine is the client for the remote workflow execution and
// persistence service. All authoring operations (build, save, generate) and
// all actual execution happen behind this boundary; the rest of the module
// only orchestrates.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/apiweave/apiweave/pkg/errmap"
	"github.com/apiweave/apiweave/pkg/httpclient"
)

// Config is passed explicitly to New; there is no package-level endpoint or
// key state.
type Config struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	HTTPClient httpclient.HttpClient
	Logger     *slog.Logger
}

type Client struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	http     httpclient.HttpClient
	logger   *slog.Logger
}

func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errmap.Internal("engine endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, errmap.Internal("engine api key is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpclient.New()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = httpclient.TimeoutRequest
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		timeout:  cfg.Timeout,
		http:     cfg.HTTPClient,
		logger:   cfg.Logger,
	}, nil
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors,omitempty"`
}

// do posts one GraphQL operation and decodes the data envelope into out.
func (c *Client) do(ctx context.Context, operation, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return errmap.MapOperation(operation, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	resp, err := httpclient.SendRequestAndConvertWithContext(ctx, c.http, &httpclient.Request{
		Method: http.MethodPost,
		URL:    c.endpoint,
		Headers: []httpclient.Header{
			{HeaderKey: "Content-Type", Value: "application/json"},
			{HeaderKey: "Authorization", Value: "Bearer " + c.apiKey},
		},
		Body: body,
	})
	if err != nil {
		return errmap.MapOperation(operation, err)
	}
	c.logger.DebugContext(ctx, "engine call",
		slog.String("operation", operation),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(started)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("engine returned status %d", resp.StatusCode)
		if len(resp.Body) > 0 && len(resp.Body) < 512 {
			msg = fmt.Sprintf("%s: %s", msg, bytes.TrimSpace(resp.Body))
		}
		return errmap.New(errmap.CodeRemote, msg, nil)
	}

	var envelope graphqlEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return errmap.MapOperation(operation, err)
	}
	if len(envelope.Errors) > 0 {
		return errmap.New(errmap.CodeRemote, envelope.Errors[0].Message, nil)
	}
	if out != nil {
		if envelope.Data == nil {
			return errmap.New(errmap.CodeRemote, "engine returned no data", nil)
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return errmap.MapOperation(operation, err)
		}
	}
	return nil
}

// IsRemote reports whether err came back from the engine rather than the
// transport or local validation.
func IsRemote(err error) bool {
	var e *errmap.Error
	return errors.As(err, &e) && e.Code == errmap.CodeRemote
}
