package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не зависит от internal/api) ---

// RunResponse — прогон из API.
type RunResponse struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	Trigger    string         `json:"trigger"`
	DryRun     bool           `json:"dry_run"`
	Today      string         `json:"today"`
	Summary    map[string]int `json:"summary,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  string         `json:"started_at,omitempty"`
	FinishedAt string         `json:"finished_at,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	CreatedAt  string         `json:"created_at"`
	Results    []TaskResponse `json:"results,omitempty"`
}

// TaskResponse — результат задачи из API.
type TaskResponse struct {
	Rule          string   `json:"rule"`
	ReleaseKey    string   `json:"release_key"`
	State         string   `json:"state"`
	IssuesTouched []string `json:"issues_touched,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// --- Request types ---

// TriggerRunRequest — запуск прогона.
type TriggerRunRequest struct {
	DryRun bool   `json:"dry_run,omitempty"`
	Today  string `json:"today,omitempty"`
}

// ListRunsOpts — параметры фильтрации прогонов.
type ListRunsOpts struct {
	Status  string
	Trigger string
	Limit   int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для API serve.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListRuns возвращает историю прогонов.
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Trigger != "" {
		params.Set("trigger", opts.Trigger)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var runs []RunResponse
	err := c.call(ctx, http.MethodGet, "/api/v1/runs", params, nil, &listResponse{}, &runs)
	return runs, err
}

// GetRun возвращает прогон по ID.
func (c *Client) GetRun(ctx context.Context, id string) (*RunResponse, error) {
	var run RunResponse
	err := c.call(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(id), nil, nil, &dataResponse{}, &run)
	return &run, err
}

// TriggerRun запускает прогон.
func (c *Client) TriggerRun(ctx context.Context, req TriggerRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.call(ctx, http.MethodPost, "/api/v1/runs", nil, req, &dataResponse{}, &run)
	return &run, err
}

// envelope — обёртка ответа API с полем data.
type envelope interface {
	payload() json.RawMessage
}

func (r *dataResponse) payload() json.RawMessage { return r.Data }
func (r *listResponse) payload() json.RawMessage { return r.Data }

// call выполняет запрос и распаковывает data из env в result.
func (c *Client) call(ctx context.Context, method, path string, params url.Values, body any, env envelope, result any) error {
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return json.Unmarshal(env.payload(), result)
}

func apiError(resp *http.Response) error {
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error.Code == "" {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
