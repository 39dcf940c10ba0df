// Package workflow is the HTTP client for the remote workflow engine.
//
// Every call is a single attempt. Failures are classified into the apperr
// taxonomy: transport errors, timeouts, 5xx responses and undecodable
// success bodies become BackendUnavailable; 4xx responses become
// BackendRejected carrying the engine's status and body verbatim.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"pipeline-proxy/internal/apperr"
	"pipeline-proxy/internal/config"
	"pipeline-proxy/internal/logging"
	"pipeline-proxy/internal/metrics"
)

const (
	defaultMaxFailures = 5
	defaultTimeout     = 30 * time.Second
	defaultInterval    = time.Minute

	// cap on the error body kept from a failed response
	maxErrorBody = 1 << 20
)

type response struct {
	status int
	body   []byte
}

// Client talks to the workflow engine's /v1 API.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*response]
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client for cfg. When cfg.TokenURL is set, requests carry an
// OAuth2 client-credentials token.
func New(cfg config.WorkflowConfig, logger *logging.Logger, m *metrics.Metrics, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL: cfg.URL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With("component", "workflow"),
		metrics: m,
	}
	for _, opt := range opts {
		opt(c)
	}

	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.http)
		hc := cc.Client(ctx)
		hc.Timeout = c.http.Timeout
		c.http = hc
	}

	maxFailures := cfg.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	breakerTimeout := cfg.Breaker.Timeout
	if breakerTimeout == 0 {
		breakerTimeout = defaultTimeout
	}
	interval := cfg.Breaker.Interval
	if interval == 0 {
		interval = defaultInterval
	}

	c.breaker = gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        "workflow",
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			c.metrics.SetBreakerState(name, int(to))
		},
		// a rejected request means the engine is healthy
		IsSuccessful: func(err error) bool {
			return err == nil || !apperr.Is(err, apperr.KindBackendUnavailable)
		},
	})
	return c
}

// State returns the circuit breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

// CreatePipeline creates a pipeline in the engine.
func (c *Client) CreatePipeline(ctx context.Context, req *PipelineRequest) (*Pipeline, error) {
	var out Pipeline
	if err := c.call(ctx, "CreatePipeline", http.MethodPost, "/pipelines", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdatePipeline replaces the pipeline identified by the remote id.
func (c *Client) UpdatePipeline(ctx context.Context, pipelineUUID string, req *PipelineRequest) (*Pipeline, error) {
	var out Pipeline
	if err := c.call(ctx, "UpdatePipeline", http.MethodPut, pipelinePath(pipelineUUID), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeletePipeline removes the pipeline from the engine.
func (c *Client) DeletePipeline(ctx context.Context, pipelineUUID string) error {
	return c.call(ctx, "DeletePipeline", http.MethodDelete, pipelinePath(pipelineUUID), nil, nil)
}

// SearchPipelines returns the engine pipelines among uuids.
func (c *Client) SearchPipelines(ctx context.Context, uuids []string) ([]*Pipeline, error) {
	var out []*Pipeline
	if err := c.call(ctx, "SearchPipelines", http.MethodPost, "/pipelines/search", searchRequest{UUIDs: uuids}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateRun starts a run of a pipeline.
func (c *Client) CreateRun(ctx context.Context, pipelineUUID string, req *RunRequest) (*Run, error) {
	var out Run
	if err := c.call(ctx, "CreateRun", http.MethodPost, pipelinePath(pipelineUUID)+"/runs", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRuns returns every run the engine knows for a pipeline.
func (c *Client) ListRuns(ctx context.Context, pipelineUUID string) ([]*Run, error) {
	var out []*Run
	if err := c.call(ctx, "ListRuns", http.MethodGet, pipelinePath(pipelineUUID)+"/runs", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRun fetches one run.
func (c *Client) GetRun(ctx context.Context, pipelineUUID, runUUID string) (*Run, error) {
	var out Run
	if err := c.call(ctx, "GetRun", http.MethodGet, runPath(pipelineUUID, runUUID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteRun removes a run from the engine.
func (c *Client) DeleteRun(ctx context.Context, pipelineUUID, runUUID string) error {
	return c.call(ctx, "DeleteRun", http.MethodDelete, runPath(pipelineUUID, runUUID), nil, nil)
}

func pipelinePath(pipelineUUID string) string {
	return "/pipelines/" + url.PathEscape(pipelineUUID)
}

func runPath(pipelineUUID, runUUID string) string {
	return pipelinePath(pipelineUUID) + "/runs/" + url.PathEscape(runUUID)
}

// call performs one request through the breaker and decodes a 2xx body into out.
func (c *Client) call(ctx context.Context, name, method, path string, in, out any) error {
	op := "workflow." + name
	start := time.Now()

	resp, err := c.breaker.Execute(func() (*response, error) {
		return c.do(ctx, op, method, path, in)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = apperr.Unavailable(op, fmt.Errorf("workflow engine circuit open: %w", err))
	}
	if err == nil && out != nil {
		if decodeErr := json.Unmarshal(resp.body, out); decodeErr != nil {
			err = apperr.Unavailable(op, fmt.Errorf("decode response: %w", decodeErr))
		}
	}

	outcome := "ok"
	switch apperr.KindOf(err) {
	case apperr.KindBackendRejected:
		outcome = "rejected"
	case apperr.KindBackendUnavailable:
		outcome = "unavailable"
	}
	if err != nil && outcome == "ok" {
		outcome = "error"
	}
	c.metrics.ObserveRemote(name, outcome, time.Since(start))

	if err != nil {
		c.logger.Warn("workflow engine call failed", "op", op, "method", method, "path", path, "outcome", outcome, "error", err)
		return err
	}
	c.logger.Debug("workflow engine call", "op", op, "method", method, "path", path, "status", resp.status)
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in any) (*response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/v1"+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil, apperr.Unavailable(op, fmt.Errorf("workflow engine returned status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err != nil {
			return nil, apperr.Unavailable(op, fmt.Errorf("read error body: %w", err))
		}
		return nil, apperr.Rejected(op, resp.StatusCode, data)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Unavailable(op, fmt.Errorf("read response: %w", err))
	}
	return &response{status: resp.StatusCode, body: data}, nil
}
