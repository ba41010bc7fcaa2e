package domain

import (
	"context"
	"time"
)

// Milestone — веха расписания релиза.
type Milestone struct {
	Name      string    `json:"name"`
	Slug      string    `json:"slug,omitempty"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	IsDraft   bool      `json:"is_draft"`
}

// Schedule — сервис расписаний релизов.
type Schedule interface {
	// ListActiveReleases возвращает короткие имена активных релизов продукта.
	ListActiveReleases(ctx context.Context, product string) ([]string, error)

	// GetMilestone возвращает веху релиза по имени.
	// Возвращает ErrNotFound, если вехи нет.
	GetMilestone(ctx context.Context, product, release, name string) (*Milestone, error)

	// ListMilestones возвращает все вехи релиза.
	ListMilestones(ctx context.Context, product, release string) ([]Milestone, error)
}
