package provider

import (
	"bytes"
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
)

// Client wraps the generation provider's asynchronous job API: a createTask
// POST followed by a recordInfo poll loop. The provider is treated as an
// unreliable, latency-variable dependency; every call carries a bounded
// overall deadline.
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	log          *slog.Logger
	timeout      time.Duration
	pollInterval time.Duration
}

type Options struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	PollInterval time.Duration
}

// Request describes one generation job. InputURLs carries one source image
// for the standard variant or two for morph. Prompt is empty for morph.
type Request struct {
	Model     string
	Prompt    string
	InputURLs []string
}

// Result is a validated successful outcome: a non-empty list of result URLs.
type Result struct {
	TaskID string
	URLs   []string
}

func NewClient(opts Options, log *slog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Client{
		apiKey:  opts.APIKey,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		log:          log,
		timeout:      timeout,
		pollInterval: pollInterval,
	}
}

// Invoke submits the job and polls until a terminal state or the deadline.
func (c *Client) Invoke(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	input := map[string]any{}
	if req.Prompt != "" {
		input["prompt"] = req.Prompt
	}
	if len(req.InputURLs) > 0 {
		input["input_urls"] = req.InputURLs
	}
	payload := map[string]any{
		"model": req.Model,
		"input": input,
	}

	taskID, err := c.createTask(ctx, payload)
	if err != nil {
		if deadlineExceeded(ctx, err) {
			return nil, &TimeoutError{Waited: time.Since(started).Round(time.Second).String()}
		}
		return nil, err
	}

	result, err := c.pollTask(ctx, taskID)
	if err != nil {
		if deadlineExceeded(ctx, err) {
			return nil, &TimeoutError{TaskID: taskID, Waited: time.Since(started).Round(time.Second).String()}
		}
		return nil, err
	}
	return result, nil
}

func (c *Client) createTask(ctx context.Context, payload map[string]any) (string, error) {
	fullURL := c.baseURL + "/api/v1/jobs/createTask"

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode >= 300 {
		c.log.Error("create task failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
		return "", &TransportError{Status: resp.StatusCode, Body: truncateBody(rawBody)}
	}

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &createResp); err != nil {
		return "", &SemanticError{Reason: "unparseable create response", Body: truncateBody(rawBody)}
	}
	if createResp.Code != 200 {
		return "", &TransportError{Status: createResp.Code, Body: createResp.Msg}
	}
	if createResp.Data.TaskID == "" {
		return "", &SemanticError{Reason: "empty taskId", Body: truncateBody(rawBody)}
	}

	c.log.Info("provider task created", "task_id", createResp.Data.TaskID)
	return createResp.Data.TaskID, nil
}

func (c *Client) pollTask(ctx context.Context, taskID string) (*Result, error) {
	endpoint, err := url.Parse(c.baseURL + "/api/v1/jobs/recordInfo")
	if err != nil {
		return nil, fmt.Errorf("parse poll endpoint: %w", err)
	}
	params := url.Values{}
	params.Set("taskId", taskID)
	endpoint.RawQuery = params.Encode()
	fullURL := endpoint.String()

	attempt := 0
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &TransportError{Err: err}
		}
		rawBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, &TransportError{Err: fmt.Errorf("read response body: %w", err)}
		}
		if resp.StatusCode >= 300 {
			c.log.Error("poll task failed", "status", resp.StatusCode, "task_id", taskID, "body", truncateBody(rawBody))
			return nil, &TransportError{Status: resp.StatusCode, Body: truncateBody(rawBody)}
		}

		var statusResp struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
			Data struct {
				TaskID     string `json:"taskId"`
				State      string `json:"state"`
				ResultJSON string `json:"resultJson"`
				FailCode   string `json:"failCode"`
				FailMsg    string `json:"failMsg"`
			} `json:"data"`
		}
		if err := json.Unmarshal(rawBody, &statusResp); err != nil {
			return nil, &SemanticError{TaskID: taskID, Reason: "unparseable status response", Body: truncateBody(rawBody)}
		}
		if statusResp.Code != 200 {
			return nil, &TransportError{Status: statusResp.Code, Body: statusResp.Msg}
		}

		switch statusResp.Data.State {
		case "success":
			return extractResult(taskID, statusResp.Data.ResultJSON)
		case "fail":
			failMsg := statusResp.Data.FailMsg
			if failMsg == "" {
				failMsg = "unknown error"
			}
			c.log.Error("provider task failed", "task_id", taskID, "fail_code", statusResp.Data.FailCode, "fail_msg", failMsg)
			return nil, &TransportError{Body: fmt.Sprintf("task failed: %s (code: %s)", failMsg, statusResp.Data.FailCode)}
		case "waiting", "generating", "processing", "queued", "queueing":
			attempt++
			if attempt%10 == 0 {
				c.log.Info("provider task waiting", "task_id", taskID, "attempt", attempt)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.pollInterval):
			}
		default:
			return nil, &SemanticError{TaskID: taskID, Reason: "unknown task state: " + statusResp.Data.State, Body: truncateBody(rawBody)}
		}
	}
}

// extractResult validates the success payload: resultJson must parse and
// carry at least one URL, otherwise the task "succeeded" with nothing usable.
func extractResult(taskID, resultJSON string) (*Result, error) {
	if resultJSON == "" {
		return nil, &SemanticError{TaskID: taskID, Reason: "empty resultJson in success response"}
	}
	var result struct {
		ResultURLs []string `json:"resultUrls"`
	}
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, &SemanticError{TaskID: taskID, Reason: "unparseable resultJson", Body: truncateBody([]byte(resultJSON))}
	}
	if len(result.ResultURLs) == 0 {
		return nil, &SemanticError{TaskID: taskID, Reason: "no resultUrls in result"}
	}
	for _, u := range result.ResultURLs {
		if strings.TrimSpace(u) == "" {
			return nil, &SemanticError{TaskID: taskID, Reason: "blank url in resultUrls"}
		}
	}
	return &Result{TaskID: taskID, URLs: result.ResultURLs}, nil
}

func deadlineExceeded(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
