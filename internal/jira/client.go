package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/fetch"
	"github.com/release-engineering/retasc/internal/telemetry"
)

// ManagedFields — поля, запрашиваемые при поиске по умолчанию.
var ManagedFields = []string{"assignee", "description", "duedate", "labels", "resolution", "summary", "status", "parent"}

// pageSize — размер страницы поиска.
const pageSize = 100

// Client — реализация domain.Tracker поверх Jira REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// New создаёт клиент. token — personal access token (Bearer); пусто — без авторизации.
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

type searchResponse struct {
	StartAt    int            `json:"startAt"`
	MaxResults int            `json:"maxResults"`
	Total      int            `json:"total"`
	Issues     []domain.Issue `json:"issues"`
}

// Search ищет issue по JQL (все страницы). nil fields — ManagedFields.
func (c *Client) Search(ctx context.Context, jql string, fields []string) ([]domain.Issue, error) {
	if fields == nil {
		fields = ManagedFields
	}

	var out []domain.Issue
	for startAt := 0; ; {
		params := url.Values{
			"jql":        {jql},
			"fields":     {strings.Join(fields, ",")},
			"startAt":    {strconv.Itoa(startAt)},
			"maxResults": {strconv.Itoa(pageSize)},
		}
		var page searchResponse
		if err := c.do(ctx, http.MethodGet, "/rest/api/2/search?"+params.Encode(), nil, &page); err != nil {
			return nil, fmt.Errorf("search %q: %w", jql, err)
		}
		out = append(out, page.Issues...)

		startAt += len(page.Issues)
		if len(page.Issues) == 0 || startAt >= page.Total {
			return out, nil
		}
	}
}

// FindByLabels возвращает issue, несущий все метки, или nil.
// При нескольких совпадениях берётся самый старый.
func (c *Client) FindByLabels(ctx context.Context, labels ...string) (*domain.Issue, error) {
	issues, err := c.Search(ctx, labelsJQL(labels)+" ORDER BY created ASC", []string{"*navigable"})
	if err != nil {
		return nil, err
	}
	if len(issues) == 0 {
		return nil, nil
	}
	if len(issues) > 1 {
		c.logger.Warn("multiple issues share identity labels", "labels", labels, "count", len(issues), "using", issues[0].Key)
	}
	return &issues[0], nil
}

// ListOpenByLabelPrefix возвращает нерешённые issue с меткой managed
// и меткой с префиксом prefix.
func (c *Client) ListOpenByLabelPrefix(ctx context.Context, managed, prefix string) ([]domain.Issue, error) {
	jql := labelsJQL([]string{managed}) + " AND resolution IS EMPTY"
	issues, err := c.Search(ctx, jql, []string{"labels", "resolution", "summary"})
	if err != nil {
		return nil, err
	}
	out := issues[:0]
	for _, issue := range issues {
		for _, l := range issue.Labels() {
			if strings.HasPrefix(l, prefix) {
				out = append(out, issue)
				break
			}
		}
	}
	return out, nil
}

// Create создаёт issue.
func (c *Client) Create(ctx context.Context, fields map[string]any) (*domain.Issue, error) {
	var created struct {
		Key string `json:"key"`
	}
	telemetry.ObserveWrite("create", false)
	if err := c.do(ctx, http.MethodPost, "/rest/api/2/issue", map[string]any{"fields": fields}, &created); err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	c.logger.Info("created jira issue", "key", created.Key)
	return &domain.Issue{Key: created.Key, Fields: fields}, nil
}

// Update изменяет поля issue.
func (c *Client) Update(ctx context.Context, key string, fields map[string]any) error {
	telemetry.ObserveWrite("update", false)
	if err := c.do(ctx, http.MethodPut, "/rest/api/2/issue/"+url.PathEscape(key), map[string]any{"fields": fields}, nil); err != nil {
		return fmt.Errorf("update issue %s: %w", key, err)
	}
	c.logger.Info("updated jira issue", "key", key, "fields", sortedNames(fields))
	return nil
}

type transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   struct {
		Name           string `json:"name"`
		StatusCategory struct {
			Key string `json:"key"`
		} `json:"statusCategory"`
	} `json:"to"`
}

func transitionsPath(key string) string {
	return "/rest/api/2/issue/" + url.PathEscape(key) + "/transitions"
}

func (c *Client) listTransitions(ctx context.Context, key string) ([]transition, error) {
	var list struct {
		Transitions []transition `json:"transitions"`
	}
	if err := c.do(ctx, http.MethodGet, transitionsPath(key), nil, &list); err != nil {
		return nil, err
	}
	return list.Transitions, nil
}

// Transitions возвращает переходы, доступные из текущего статуса.
func (c *Client) Transitions(ctx context.Context, key string) ([]domain.Transition, error) {
	ts, err := c.listTransitions(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("transitions of %s: %w", key, err)
	}
	out := make([]domain.Transition, len(ts))
	for i, t := range ts {
		out[i] = domain.Transition{ID: t.ID, Name: t.Name, To: t.To.Name}
	}
	return out, nil
}

// Transition выполняет переход.
func (c *Client) Transition(ctx context.Context, key, id string) error {
	telemetry.ObserveWrite("transition", false)
	body := map[string]any{"transition": map[string]any{"id": id}}
	if err := c.do(ctx, http.MethodPost, transitionsPath(key), body, nil); err != nil {
		return fmt.Errorf("transition %s: %w", key, err)
	}
	c.logger.Info("transitioned jira issue", "key", key, "transition", id)
	return nil
}

// Close переводит issue в состояние категории "done".
func (c *Client) Close(ctx context.Context, key string) error {
	ts, err := c.listTransitions(ctx, key)
	if err != nil {
		return fmt.Errorf("close issue %s: %w", key, err)
	}
	t := pickCloseTransition(ts)
	if t == nil {
		return fmt.Errorf("close issue %s: %w", key, ErrNoCloseTransition)
	}

	telemetry.ObserveWrite("close", false)
	body := map[string]any{"transition": map[string]any{"id": t.ID}}
	if err := c.do(ctx, http.MethodPost, transitionsPath(key), body, nil); err != nil {
		return fmt.Errorf("close issue %s: %w", key, err)
	}
	c.logger.Info("closed jira issue", "key", key, "transition", t.Name)
	return nil
}

type commentPage struct {
	StartAt  int `json:"startAt"`
	Total    int `json:"total"`
	Comments []struct {
		Body string `json:"body"`
	} `json:"comments"`
}

// Comments возвращает тексты всех комментариев issue.
func (c *Client) Comments(ctx context.Context, key string) ([]string, error) {
	var out []string
	for startAt := 0; ; {
		params := url.Values{
			"startAt":    {strconv.Itoa(startAt)},
			"maxResults": {strconv.Itoa(pageSize)},
		}
		var page commentPage
		path := "/rest/api/2/issue/" + url.PathEscape(key) + "/comment?" + params.Encode()
		if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, fmt.Errorf("comments of %s: %w", key, err)
		}
		for _, cm := range page.Comments {
			out = append(out, cm.Body)
		}

		startAt += len(page.Comments)
		if len(page.Comments) == 0 || startAt >= page.Total {
			return out, nil
		}
	}
}

// AddComment добавляет комментарий.
func (c *Client) AddComment(ctx context.Context, key, body string) error {
	telemetry.ObserveWrite("comment", false)
	path := "/rest/api/2/issue/" + url.PathEscape(key) + "/comment"
	if err := c.do(ctx, http.MethodPost, path, map[string]any{"body": body}, nil); err != nil {
		return fmt.Errorf("comment on %s: %w", key, err)
	}
	c.logger.Info("commented on jira issue", "key", key)
	return nil
}

// IsResolved сообщает, задано ли поле resolution.
func (c *Client) IsResolved(issue *domain.Issue) bool {
	return IsResolved(issue)
}

// IsResolved сообщает, задано ли поле resolution.
func IsResolved(issue *domain.Issue) bool {
	if issue == nil {
		return false
	}
	return issue.Fields["resolution"] != nil
}

func pickCloseTransition(ts []transition) *transition {
	var done *transition
	for i := range ts {
		t := &ts[i]
		if t.To.StatusCategory.Key != "done" {
			continue
		}
		if strings.EqualFold(t.Name, "Close") || strings.EqualFold(t.Name, "Closed") || strings.EqualFold(t.To.Name, "Closed") {
			return t
		}
		if done == nil {
			done = t
		}
	}
	return done
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", fetch.UserAgent)
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := fetch.CheckStatus(resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func labelsJQL(labels []string) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = "labels = " + strconv.Quote(l)
	}
	return strings.Join(parts, " AND ")
}

func sortedNames(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
