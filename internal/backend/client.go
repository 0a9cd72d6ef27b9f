// Package backend talks to the team execution service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const (
	callStreamPath = "/api/tools/team/call_stream"
	jobListPath    = "/api/tools/team/job/list"
	jobStopPath    = "/api/tools/team/job/stop"

	// errorBodyLimit caps how much of a failed response is kept.
	errorBodyLimit = 64 * 1024
)

type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     *slog.Logger
}

// New validates baseURL and returns a client. The HTTP client must not set a
// Timeout: a streamed run is bounded by its context instead.
func New(baseURL, authToken string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	trimmedBaseURL := strings.TrimSpace(baseURL)
	if trimmedBaseURL == "" {
		return nil, fmt.Errorf("new backend client: base URL is required")
	}

	parsed, err := url.Parse(trimmedBaseURL)
	if err != nil {
		return nil, fmt.Errorf("new backend client: parse base URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("new backend client: base URL must include scheme and host")
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(trimmedBaseURL, "/"),
		authToken:  strings.TrimSpace(authToken),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CallStream starts a run and returns its NDJSON body. The caller must close
// it. Cancelling ctx aborts the request and any read in progress.
func (c *Client) CallStream(ctx context.Context, request CallRequest) (io.ReadCloser, error) {
	if strings.TrimSpace(request.TeamName) == "" {
		return nil, ErrTeamNameRequired
	}

	response, err := c.do(ctx, http.MethodPost, callStreamPath, request)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("team call stream opened",
		slog.String("team", request.TeamName),
		slog.String("execution_id", request.ExecutionID),
	)
	return response.Body, nil
}

// ListJobs returns the backend's job list as raw JSON.
func (c *Client) ListJobs(ctx context.Context) ([]byte, error) {
	response, err := c.do(ctx, http.MethodGet, jobListPath, nil)
	if err != nil {
		return nil, err
	}
	return readBody(response)
}

// StopJob stops the running job of team and returns the raw JSON reply.
func (c *Client) StopJob(ctx context.Context, team string) ([]byte, error) {
	if strings.TrimSpace(team) == "" {
		return nil, ErrTeamNameRequired
	}
	response, err := c.do(ctx, http.MethodPost, jobStopPath, StopRequest{TeamName: team})
	if err != nil {
		return nil, err
	}
	return readBody(response)
}

// do sends one authenticated request. On a 2xx status the response is
// returned with its body open.
func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.authToken == "" {
		return nil, ErrAuthTokenMissing
	}

	var bodyReader io.Reader
	if payload != nil {
		var encoded bytes.Buffer
		if err := json.NewEncoder(&encoded).Encode(payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncodeRequest, err)
		}
		bodyReader = &encoded
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", "Bearer "+c.authToken)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		defer response.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(response.Body, errorBodyLimit))
		c.logger.Warn("backend error",
			slog.String("path", path),
			slog.Int("status", response.StatusCode),
		)
		return nil, mapStatusError(response.StatusCode, body)
	}
	return response, nil
}

func readBody(response *http.Response) ([]byte, error) {
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadResponse, err)
	}
	return body, nil
}
