// Package runner executes a single workflow step attempt. It renders the
// step's configuration, calls the connection's endpoint and classifies the
// outcome. It never touches persistence; recording results is the
// coordinator's job.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fluxway/fluxway/pkg/connections"
	"github.com/fluxway/fluxway/pkg/log"
	"github.com/fluxway/fluxway/pkg/models"
	"github.com/fluxway/fluxway/pkg/retry"
	"github.com/fluxway/fluxway/pkg/template"
)

// ErrStepTimeout is returned when a step attempt exceeds its deadline.
var ErrStepTimeout = errors.New("step attempt timed out")

// StepOutcome is the result of one step attempt.
type StepOutcome struct {
	Status     models.StepStatus
	Output     map[string]any
	Err        error
	Retryable  bool
	StartedAt  time.Time
	FinishedAt time.Time
}

func (o *StepOutcome) ErrorMessage() string {
	if o.Err == nil {
		return ""
	}

	return o.Err.Error()
}

func (o *StepOutcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

type Runner struct {
	resolver connections.Resolver
	logger   *slog.Logger
}

func NewRunner(resolver connections.Resolver) *Runner {
	return &Runner{
		resolver: resolver,
		logger:   log.WithModule("runner"),
	}
}

// RunStep performs exactly one attempt of the given step. The attempt is
// bounded by the step's timeout. Timeouts are retryable unless the step
// is marked non-idempotent.
func (r *Runner) RunStep(ctx context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) *StepOutcome {
	outcome := &StepOutcome{StartedAt: time.Now().UTC()}

	stepCtx, cancel := context.WithTimeout(ctx, step.Timeout())
	defer cancel()

	output, err := r.call(stepCtx, execution, step)

	outcome.FinishedAt = time.Now().UTC()
	outcome.Output = output

	if err == nil {
		outcome.Status = models.StepStatusSucceeded

		return outcome
	}

	if stepCtx.Err() != nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("step %s after %s: %w", step.UID, step.Timeout(), ErrStepTimeout)
	}

	outcome.Status = models.StepStatusFailed
	outcome.Err = err
	outcome.Retryable = retry.Classify(err)

	// A timed-out call against a non-idempotent endpoint may have taken
	// effect remotely. Never replay it.
	if errors.Is(err, ErrStepTimeout) && step.NonIdempotent {
		outcome.Retryable = false
	}

	return outcome
}

func (r *Runner) call(ctx context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) (map[string]any, error) {
	logger := r.logger.With(
		"execution_id", execution.ID,
		"step_uid", step.UID,
	)

	path, err := template.RenderString(step.Path, execution)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to render path: %w", err))
	}

	params, err := template.RenderParameters(step.Parameters, execution)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	endpoint, err := r.resolver.Resolve(ctx, step.ConnectionID)
	if err != nil {
		return nil, err
	}

	req, err := r.buildRequest(ctx, endpoint.BaseURL, path, step, params, execution)
	if err != nil {
		return nil, err
	}

	logger.DebugContext(ctx, "Calling step endpoint", "method", req.Method, "url", req.URL.String())

	resp, err := endpoint.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}

		return nil, fmt.Errorf("http request failed: %w", err)
	}

	return r.processResponse(ctx, resp, logger)
}

func (r *Runner) buildRequest(
	ctx context.Context,
	baseURL, path string,
	step *models.WorkflowStep,
	params map[string]any,
	execution *models.WorkflowExecution,
) (*http.Request, error) {
	method := strings.ToUpper(step.Method)
	if method == "" {
		method = http.MethodGet
	}

	fullURL := strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(path, "/")

	var body io.Reader

	switch method {
	case http.MethodGet, http.MethodHead, http.MethodDelete:
		if len(params) > 0 {
			query := url.Values{}
			for key, value := range params {
				query.Set(key, fmt.Sprint(value))
			}

			separator := "?"
			if strings.Contains(fullURL, "?") {
				separator = "&"
			}

			fullURL += separator + query.Encode()
		}
	default:
		if params != nil {
			payload, err := json.Marshal(params)
			if err != nil {
				return nil, retry.Permanent(fmt.Errorf("failed to marshal parameters: %w", err))
			}

			body = strings.NewReader(string(payload))
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create http request: %w", err))
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for key, value := range step.Headers {
		rendered, err := template.RenderString(value, execution)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("failed to render header %q: %w", key, err))
		}

		req.Header.Set(key, rendered)
	}

	return req, nil
}

func (r *Runner) processResponse(ctx context.Context, resp *http.Response, logger *slog.Logger) (map[string]any, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &retry.HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(bodyBytes),
		}
	}

	var body any

	err = json.Unmarshal(bodyBytes, &body)
	if err != nil {
		body = string(bodyBytes)

		logger.WarnContext(ctx, "Failed to parse response as JSON, returning as string", "error", err)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
		"headers":     flattenHeaders(resp.Header),
	}, nil
}

func flattenHeaders(header http.Header) map[string]string {
	flat := make(map[string]string, len(header))
	for key := range header {
		flat[key] = header.Get(key)
	}

	return flat
}
