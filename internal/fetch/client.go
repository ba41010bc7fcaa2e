package fetch

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
)

// maxBodySize — ограничение размера тела ответа.
const maxBodySize = 32 << 20

// Client — реализация domain.Fetcher.
//
// Тело запроса (Body) сериализуется в JSON. Тело ответа разбирается как
// JSON; если это не JSON, FetchResponse.Body равен nil, а Raw содержит
// исходные байты. Коды 4xx/5xx не считаются ошибкой: решение принимает
// вызывающий.
type Client struct {
	http   *http.Client
	logger *slog.Logger
}

// New создаёт Client. nil httpClient означает NewHTTPClient(Options{}).
func New(httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(Options{Logger: logger})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{http: httpClient, logger: logger}
}

// Fetch выполняет запрос.
func (c *Client) Fetch(ctx context.Context, req domain.FetchRequest) (*domain.FetchResponse, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", req.URL, err)
	}
	if len(req.Params) > 0 {
		q := u.Query()
		for k, v := range req.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", UserAgent)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	c.logger.Debug("http request", "method", method, "url", u.String())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	out := &domain.FetchResponse{
		StatusCode: resp.StatusCode,
		Headers:    make(map[string]string, len(resp.Header)),
		Raw:        raw,
	}
	for key := range resp.Header {
		out.Headers[key] = resp.Header.Get(key)
	}
	if len(raw) > 0 {
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err == nil {
			out.Body = parsed
		}
	}
	return out, nil
}

// CheckStatus возвращает ошибку для кодов 4xx/5xx.
// Используется API-клиентами пакетов productpages, jira и openshift.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return fmt.Errorf("%w: %s", domain.ErrHTTPStatus, resp.Status)
	}
	return fmt.Errorf("%w: %s: %s", domain.ErrHTTPStatus, resp.Status, truncate(msg, 200))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
