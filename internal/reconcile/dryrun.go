package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/telemetry"
)

// DryRunTracker пропускает чтение в трекер, а запись только логирует.
type DryRunTracker struct {
	domain.Tracker
	logger *slog.Logger
	seq    atomic.Int64
	moved  sync.Map // ключ issue, переведённого в этом прогоне
}

const dryRunKeyPrefix = "DRYRUN-"

// NewDryRunTracker оборачивает трекер для режима --dry-run.
func NewDryRunTracker(t domain.Tracker, logger *slog.Logger) *DryRunTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunTracker{Tracker: t, logger: logger}
}

// Create логирует создание и возвращает issue с условным ключом.
func (d *DryRunTracker) Create(_ context.Context, fields map[string]any) (*domain.Issue, error) {
	key := fmt.Sprintf("%s%d", dryRunKeyPrefix, d.seq.Add(1))
	d.logger.Info("dry run: create issue", "key", key, "fields", fields)
	telemetry.ObserveWrite("create", true)
	return &domain.Issue{Key: key, Fields: fields}, nil
}

// Update логирует изменение полей.
func (d *DryRunTracker) Update(_ context.Context, key string, fields map[string]any) error {
	d.logger.Info("dry run: update issue", "key", key, "fields", fields)
	telemetry.ObserveWrite("update", true)
	return nil
}

// Close логирует закрытие.
func (d *DryRunTracker) Close(_ context.Context, key string) error {
	d.logger.Info("dry run: close issue", "key", key)
	telemetry.ObserveWrite("close", true)
	return nil
}

// simulated — состояние issue существует только в этом прогоне.
func (d *DryRunTracker) simulated(key string) bool {
	if strings.HasPrefix(key, dryRunKeyPrefix) {
		return true
	}
	_, ok := d.moved.Load(key)
	return ok
}

// Transitions возвращает ErrSimulatedState для issue, чей статус
// известен только условно.
func (d *DryRunTracker) Transitions(ctx context.Context, key string) ([]domain.Transition, error) {
	if d.simulated(key) {
		return nil, ErrSimulatedState
	}
	return d.Tracker.Transitions(ctx, key)
}

// Transition логирует переход.
func (d *DryRunTracker) Transition(_ context.Context, key, id string) error {
	d.moved.Store(key, struct{}{})
	d.logger.Info("dry run: transition issue", "key", key, "transition", id)
	telemetry.ObserveWrite("transition", true)
	return nil
}

// Comments для созданного условно issue пуст.
func (d *DryRunTracker) Comments(ctx context.Context, key string) ([]string, error) {
	if strings.HasPrefix(key, dryRunKeyPrefix) {
		return nil, nil
	}
	return d.Tracker.Comments(ctx, key)
}

// AddComment логирует комментарий.
func (d *DryRunTracker) AddComment(_ context.Context, key, body string) error {
	d.logger.Info("dry run: comment issue", "key", key, "body", body)
	telemetry.ObserveWrite("comment", true)
	return nil
}

// DryRunPipeline пропускает чтение, а запуск pipeline run только логирует.
type DryRunPipeline struct {
	domain.PipelineRunner
	logger *slog.Logger
}

// NewDryRunPipeline оборачивает сервис pipeline для режима --dry-run.
func NewDryRunPipeline(r domain.PipelineRunner, logger *slog.Logger) *DryRunPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunPipeline{PipelineRunner: r, logger: logger}
}

// Start логирует запуск и возвращает объект без обращения к сервису.
func (d *DryRunPipeline) Start(_ context.Context, namespace string, spec map[string]any) (*domain.PipelineRunObject, error) {
	name := ""
	if md, ok := spec["metadata"].(map[string]any); ok {
		name, _ = md["name"].(string)
	}
	d.logger.Info("dry run: start pipeline run", "name", name, "namespace", namespace)
	telemetry.ObserveWrite("start", true)
	return &domain.PipelineRunObject{Name: name, Namespace: namespace, Object: spec}, nil
}
