// Package productpages — клиент сервиса расписаний Product Pages.
package productpages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/fetch"
)

// Phase — фаза релиза в Product Pages (идентификатор).
type Phase int

// Фазы из /api/v7/schedules/phases/.
const (
	PhaseConcept     Phase = 100
	PhasePlanning    Phase = 200
	PhaseDevelopment Phase = 300
	PhaseTesting     Phase = 400
	PhaseLaunch      Phase = 500
	PhaseMaintenance Phase = 600
	PhaseUnsupported Phase = 1000
)

// Client — реализация domain.Schedule.
//
// Ответы кэшируются на время жизни Client: один Client создаётся на прогон.
type Client struct {
	baseURL  string
	http     *http.Client
	logger   *slog.Logger
	minPhase Phase
	maxPhase Phase

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]any
}

// Option настраивает Client.
type Option func(*Client)

// WithPhases ограничивает активные релизы диапазоном фаз (включительно).
func WithPhases(minPhase, maxPhase Phase) Option {
	return func(c *Client) {
		c.minPhase = minPhase
		c.maxPhase = maxPhase
	}
}

// New создаёт клиент для baseURL (например https://pp.example.com/api/latest).
func New(baseURL string, httpClient *http.Client, logger *slog.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = fetch.NewHTTPClient(fetch.Options{Logger: logger})
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		logger:   logger,
		minPhase: PhaseConcept,
		maxPhase: PhaseMaintenance,
		cache:    make(map[string]any),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type releaseItem struct {
	Shortname string `json:"shortname"`
	Phase     Phase  `json:"phase"`
}

type scheduleTask struct {
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	DateStart  string `json:"date_start"`
	DateFinish string `json:"date_finish"`
	Draft      bool   `json:"draft"`
}

// ListActiveReleases возвращает релизы продукта в диапазоне фаз.
func (c *Client) ListActiveReleases(ctx context.Context, product string) ([]string, error) {
	v, err := c.cached("releases:"+product, func() (any, error) {
		var items []releaseItem
		params := url.Values{"product__shortname": {product}, "fields": {"shortname,phase"}}
		if err := c.get(ctx, "/releases/", params, &items); err != nil {
			return nil, err
		}
		// фильтр phase__gt/phase__lt сервис не поддерживает
		var out []string
		for _, it := range items {
			if it.Phase >= c.minPhase && it.Phase <= c.maxPhase {
				out = append(out, it.Shortname)
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// ListMilestones возвращает вехи релиза.
func (c *Client) ListMilestones(ctx context.Context, product, release string) ([]domain.Milestone, error) {
	v, err := c.cached("schedule:"+release, func() (any, error) {
		var items []scheduleTask
		params := url.Values{"fields": {"name,date_start,date_finish,draft,slug"}}
		if err := c.get(ctx, "/releases/"+url.PathEscape(release)+"/schedule-tasks", params, &items); err != nil {
			return nil, err
		}
		out := make([]domain.Milestone, 0, len(items))
		for _, it := range items {
			start, err := time.Parse(time.DateOnly, it.DateStart)
			if err != nil {
				return nil, fmt.Errorf("schedule task %q: start date: %w", it.Name, err)
			}
			end, err := time.Parse(time.DateOnly, it.DateFinish)
			if err != nil {
				return nil, fmt.Errorf("schedule task %q: end date: %w", it.Name, err)
			}
			out = append(out, domain.Milestone{
				Name:      it.Name,
				Slug:      it.Slug,
				StartDate: start,
				EndDate:   end,
				IsDraft:   it.Draft,
			})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Milestone), nil
}

// GetMilestone ищет веху по имени (или slug).
func (c *Client) GetMilestone(ctx context.Context, product, release, name string) (*domain.Milestone, error) {
	milestones, err := c.ListMilestones(ctx, product, release)
	if err != nil {
		return nil, err
	}
	for i := range milestones {
		if milestones[i].Name == name {
			return &milestones[i], nil
		}
	}
	for i := range milestones {
		if milestones[i].Slug == name {
			return &milestones[i], nil
		}
	}
	return nil, fmt.Errorf("schedule task %q of %s: %w", name, release, domain.ErrNotFound)
}

func (c *Client) cached(key string, load func() (any, error)) (any, error) {
	c.mu.Lock()
	v, ok := c.cache[key]
	c.mu.Unlock()
	if ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		v, err := load()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[key] = v
		c.mu.Unlock()
		return v, nil
	})
	return v, err
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", fetch.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("product pages request", "url", u)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, domain.ErrNotFound)
	}
	if err := fetch.CheckStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
