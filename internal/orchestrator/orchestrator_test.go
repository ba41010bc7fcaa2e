package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/engine/enginetest"
	"github.com/release-engineering/retasc/internal/mq"
	"github.com/release-engineering/retasc/internal/reconcile"
	"github.com/release-engineering/retasc/internal/repo"
	"github.com/release-engineering/retasc/internal/rules"
)

const gaRule = `
version: 1
name: ga
inputs:
  - variables:
      date: 2025-07-17
prerequisites:
  - target_date: date - 2|weeks
  - jira_issue: ga
    fields:
      summary: GA is coming
`

type recorder struct {
	mu       sync.Mutex
	results  []domain.TaskResult
	finished []*domain.Run
}

func (r *recorder) PublishTaskResult(_ context.Context, _ *domain.Run, res domain.TaskResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return nil
}

func (r *recorder) PublishRunFinished(_ context.Context, run *domain.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, run)
	return nil
}

type fixedLeader struct{ ok bool }

func (l fixedLeader) TryAcquire(context.Context) (bool, error) { return l.ok, nil }

type env struct {
	dir     string
	tracker *enginetest.Tracker
	store   *MemoryStore
	events  *recorder
}

func newEnv(t *testing.T, ruleSrc string) (*env, Config) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.yaml"), []byte(ruleSrc), 0o644))

	e := &env{dir: dir, tracker: enginetest.NewTracker(), store: NewMemoryStore(0), events: &recorder{}}
	cfg := Config{
		Rules: func() *rules.Snapshot { return rules.LoadAndValidate(dir, rules.ValidateOptions{}) },
		Clients: func() domain.Collaborators {
			return domain.Collaborators{Tracker: e.tracker}
		},
		Reconcile: reconcile.Config{LabelPrefix: "retasc-id-", ManagedLabel: "retasc-managed"},
		Prune:     true,
		Store:     e.store,
		Events:    e.events,
	}
	return e, cfg
}

func day(s string) time.Time {
	d, _ := time.Parse(time.DateOnly, s)
	return d
}

func TestRun_CreatesIssueAndRecordsHistory(t *testing.T) {
	e, cfg := newEnv(t, gaRule)
	o := New(cfg)

	report, err := o.Run(t.Context(), Request{Trigger: "cli", Today: day("2025-07-05")})
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.Equal(t, domain.StateInProgress, report.Results[0].State)
	assert.Equal(t, domain.RunStatusSucceeded, report.Run.Status)
	assert.Equal(t, 1, e.tracker.Creates)
	require.NotNil(t, report.Prune)
	assert.False(t, report.Prune.Skipped)

	stored, err := e.store.GetByID(t.Context(), report.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, stored.Status)
	assert.Len(t, stored.Results, 1)

	assert.Len(t, e.events.results, 1)
	require.Len(t, e.events.finished, 1)
	assert.Equal(t, report.Run.ID, e.events.finished[0].ID)
}

func TestRun_DefaultTodayIsUTCDate(t *testing.T) {
	_, cfg := newEnv(t, gaRule)
	// 20:00 в UTC-10 — уже следующий день по UTC
	honolulu := time.FixedZone("UTC-10", -10*60*60)
	cfg.Now = func() time.Time { return time.Date(2026, 10, 14, 20, 0, 0, 0, honolulu) }
	o := New(cfg)

	report, err := o.Run(t.Context(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "2026-10-15", report.Run.Today.Format(time.DateOnly))
	assert.Equal(t, time.UTC, report.Run.Today.Location())
}

func TestRun_DryRunDoesNotWrite(t *testing.T) {
	e, cfg := newEnv(t, gaRule)
	o := New(cfg)

	report, err := o.Run(t.Context(), Request{DryRun: true, Today: day("2025-07-05")})
	require.NoError(t, err)

	assert.Equal(t, domain.StateInProgress, report.Results[0].State)
	assert.Zero(t, e.tracker.Writes())
	assert.True(t, report.Run.DryRun)
}

func TestRun_PrunesAbandonedIssues(t *testing.T) {
	e, cfg := newEnv(t, gaRule)
	e.tracker.Put(&domain.Issue{Key: "OLD-1", Fields: map[string]any{
		"labels": []any{"retasc-managed", "retasc-id-removed-rule"},
	}})
	o := New(cfg)

	report, err := o.Run(t.Context(), Request{Today: day("2025-07-05")})
	require.NoError(t, err)
	assert.Equal(t, []string{"OLD-1"}, report.Prune.Closed)
	assert.Equal(t, 1, e.tracker.Closes)
}

func TestRun_InvalidRulesFailRun(t *testing.T) {
	e, cfg := newEnv(t, "version: 1\nname: bad\nprerequisites:\n  - condition: undefined_name\n")
	o := New(cfg)

	report, err := o.Run(t.Context(), Request{Today: day("2025-07-05")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRules)
	assert.Equal(t, domain.RunStatusFailed, report.Run.Status)
	assert.NotEmpty(t, report.Run.Error)
	assert.Zero(t, e.tracker.Calls())

	require.Len(t, e.events.finished, 1)
	assert.Equal(t, domain.RunStatusFailed, e.events.finished[0].Status)
}

func TestRun_NotLeader(t *testing.T) {
	e, cfg := newEnv(t, gaRule)
	cfg.Leader = fixedLeader{ok: false}
	o := New(cfg)

	_, err := o.Run(t.Context(), Request{Today: day("2025-07-05")})
	assert.ErrorIs(t, err, ErrNotLeader)
	assert.Zero(t, e.tracker.Calls())

	runs, err := e.store.List(t.Context(), repo.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestStart_RunsInBackgroundAndRejectsOverlap(t *testing.T) {
	_, cfg := newEnv(t, gaRule)
	block := make(chan struct{})
	inner := cfg.Rules
	cfg.Rules = func() *rules.Snapshot {
		<-block
		return inner()
	}
	o := New(cfg)

	run, err := o.Start(t.Context(), Request{Trigger: "api", Today: day("2025-07-05")})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, run.Status)

	_, err = o.Run(t.Context(), Request{})
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(block)
	o.Wait()

	stored, err := o.Store().GetByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, stored.Status)
}

func TestHandleRunRequested(t *testing.T) {
	e, cfg := newEnv(t, gaRule)
	o := New(cfg)

	msg := &mq.Message{ID: "m1", Type: mq.MessageTypeRunRequested, Payload: map[string]any{"dry_run": true, "today": "2025-07-05"}}
	require.NoError(t, o.HandleRunRequested(t.Context(), msg))

	runs, err := e.store.List(t.Context(), repo.RunFilter{Trigger: "mq"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].DryRun)
	assert.Equal(t, "2025-07-05", runs[0].Today.Format(time.DateOnly))
	assert.Zero(t, e.tracker.Writes())

	// некорректная дата подтверждается без прогона
	bad := &mq.Message{ID: "m2", Type: mq.MessageTypeRunRequested, Payload: map[string]any{"today": "tomorrow"}}
	require.NoError(t, o.HandleRunRequested(t.Context(), bad))
	runs, _ = e.store.List(t.Context(), repo.RunFilter{})
	assert.Len(t, runs, 1)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := t.Context()

	var ids []domain.Run
	for _, trigger := range []string{"cli", "api", "schedule"} {
		run := domain.NewRun(trigger, day("2025-07-05"), false)
		require.NoError(t, s.Create(ctx, run))
		ids = append(ids, *run)
	}

	_, err := s.GetByID(ctx, ids[0].ID)
	assert.True(t, errors.Is(err, repo.ErrNotFound), "oldest run is evicted")

	runs, err := s.List(ctx, repo.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "schedule", runs[0].Trigger)

	runs, err = s.List(ctx, repo.RunFilter{Trigger: "api"})
	require.NoError(t, err)
	require.Len(t, runs, 1)

	runs, err = s.List(ctx, repo.RunFilter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "api", runs[0].Trigger)
}
