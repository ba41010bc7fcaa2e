package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// UserAgent — заголовок User-Agent всех запросов.
const UserAgent = "sp-retasc-agent"

const (
	defaultConnectTimeout = 15 * time.Second
	defaultReadTimeout    = 30 * time.Second
	defaultRetries        = 5
)

// Options — параметры HTTP-клиента.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// Retries — максимальное число повторов. 0 — значение по умолчанию,
	// отрицательное — без повторов.
	Retries int

	// RetryStatuses — дополнительные коды ответа для повтора
	// (500, 502, 503, 504 повторяются всегда).
	RetryStatuses []int

	// InitialInterval — первая задержка перед повтором.
	InitialInterval time.Duration

	Logger *slog.Logger
}

// NewHTTPClient создаёт http.Client с повтором запросов.
func NewHTTPClient(opts Options) *http.Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.DialContext = (&net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
	base.TLSHandshakeTimeout = opts.ConnectTimeout
	base.ResponseHeaderTimeout = opts.ReadTimeout

	return &http.Client{Transport: NewRetryTransport(base, opts)}
}

// RetryTransport повторяет запросы при сетевых ошибках и кодах 5xx.
type RetryTransport struct {
	base     http.RoundTripper
	retries  uint64
	statuses map[int]bool
	initial  time.Duration
	logger   *slog.Logger
}

// NewRetryTransport оборачивает base. nil означает http.DefaultTransport.
func NewRetryTransport(base http.RoundTripper, opts Options) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	retries := opts.Retries
	switch {
	case retries == 0:
		retries = defaultRetries
	case retries < 0:
		retries = 0
	}
	statuses := map[int]bool{500: true, 502: true, 503: true, 504: true}
	for _, s := range opts.RetryStatuses {
		statuses[s] = true
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryTransport{
		base:     base,
		retries:  uint64(retries),
		statuses: statuses,
		initial:  opts.InitialInterval,
		logger:   logger,
	}
}

func (t *RetryTransport) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if t.initial > 0 {
		b.InitialInterval = t.initial
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, t.retries), ctx)
}

// RoundTrip реализует http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := readBody(req)
	if err != nil {
		return nil, err
	}

	var (
		resp    *http.Response
		attempt uint64
	)
	op := func() error {
		attempt++
		r := req.Clone(req.Context())
		if body != nil {
			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
		}

		res, err := t.base.RoundTrip(r)
		if err != nil {
			if req.Context().Err() != nil {
				return backoff.Permanent(err)
			}
			t.logger.Debug("http request failed, retrying", "method", req.Method, "url", req.URL.String(), "attempt", attempt, "error", err)
			return err
		}
		if t.statuses[res.StatusCode] && attempt <= t.retries {
			drain(res)
			t.logger.Debug("http request returned retryable status", "method", req.Method, "url", req.URL.String(), "attempt", attempt, "status", res.StatusCode)
			return fmt.Errorf("retryable status %d", res.StatusCode)
		}
		resp = res
		return nil
	}

	if err := backoff.Retry(op, t.newBackOff(req.Context())); err != nil {
		return nil, err
	}
	return resp, nil
}

func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return data, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
