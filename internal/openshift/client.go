// Package openshift — клиент Tekton PipelineRun API (OpenShift),
// реализация domain.PipelineRunner.
package openshift

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

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/fetch"
	"github.com/release-engineering/retasc/internal/telemetry"
)

// Client — реализация domain.PipelineRunner.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// New создаёт клиент API-сервера baseURL с Bearer-токеном.
func New(baseURL, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = fetch.NewHTTPClient(fetch.Options{Logger: logger})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
		logger:  logger,
	}
}

func pipelineRunsPath(namespace string) string {
	return "/apis/tekton.dev/v1/namespaces/" + url.PathEscape(namespace) + "/pipelineruns"
}

func configMapPath(namespace, name string) string {
	return "/api/v1/namespaces/" + url.PathEscape(namespace) + "/configmaps/" + url.PathEscape(name)
}

// FindByName возвращает pipeline run или nil, если его нет.
func (c *Client) FindByName(ctx context.Context, namespace, name string) (*domain.PipelineRunObject, error) {
	var obj map[string]any
	found, err := c.do(ctx, http.MethodGet, pipelineRunsPath(namespace)+"/"+url.PathEscape(name), nil, &obj)
	if err != nil {
		return nil, fmt.Errorf("get pipeline run %s/%s: %w", namespace, name, err)
	}
	if !found {
		return nil, nil
	}
	return &domain.PipelineRunObject{Name: name, Namespace: namespace, Object: obj}, nil
}

// Start создаёт pipeline run.
func (c *Client) Start(ctx context.Context, namespace string, spec map[string]any) (*domain.PipelineRunObject, error) {
	name := metadataName(spec)
	c.logger.Info("creating pipeline run", "name", name, "namespace", namespace)
	telemetry.ObserveWrite("start", false)

	var obj map[string]any
	if _, err := c.do(ctx, http.MethodPost, pipelineRunsPath(namespace), spec, &obj); err != nil {
		return nil, fmt.Errorf("create pipeline run %s/%s: %w", namespace, name, err)
	}
	if n := metadataName(obj); n != "" {
		name = n
	}
	return &domain.PipelineRunObject{Name: name, Namespace: namespace, Object: obj}, nil
}

// GetResult читает итог pipeline run из ConfigMap, который создаёт
// finally-задача run.
func (c *Client) GetResult(ctx context.Context, namespace, name string) (string, error) {
	var cm struct {
		Data map[string]string `json:"data"`
	}
	found, err := c.do(ctx, http.MethodGet, configMapPath(namespace, name), nil, &cm)
	if err != nil {
		return "", fmt.Errorf("get result config map %s/%s: %w", namespace, name, err)
	}
	if !found {
		return "", nil
	}
	return cm.Data["status"], nil
}

// Status читает условие Succeeded: True — Succeeded, False — Failed,
// иначе Running.
func (c *Client) Status(run *domain.PipelineRunObject) domain.PipelineStatus {
	return Status(run)
}

// Status читает условие Succeeded из status.conditions.
func Status(run *domain.PipelineRunObject) domain.PipelineStatus {
	if run == nil {
		return domain.PipelineRunning
	}
	status, _ := run.Object["status"].(map[string]any)
	conditions, _ := status["conditions"].([]any)
	for _, c := range conditions {
		cond, _ := c.(map[string]any)
		if cond["type"] != "Succeeded" {
			continue
		}
		switch cond["status"] {
		case "True":
			return domain.PipelineSucceeded
		case "False":
			return domain.PipelineFailed
		}
	}
	return domain.PipelineRunning
}

func metadataName(obj map[string]any) string {
	meta, _ := obj["metadata"].(map[string]any)
	name, _ := meta["name"].(string)
	return name
}

// do выполняет запрос; found=false для 404.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (bool, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", fetch.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err := fetch.CheckStatus(resp); err != nil {
		return false, err
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("decode response: %w", err)
		}
	}
	return true, nil
}
