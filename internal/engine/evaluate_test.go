package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/engine"
	"github.com/release-engineering/retasc/internal/engine/enginetest"
	"github.com/release-engineering/retasc/internal/reconcile"
	"github.com/release-engineering/retasc/internal/rules"
)

func mustParse(t *testing.T, src string) []*domain.Rule {
	t.Helper()
	rs, errs := rules.Parse([]byte(src), "test.yaml")
	require.Empty(t, errs)
	return rs
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

type harness struct {
	schedule *enginetest.Schedule
	tracker  *enginetest.Tracker
	pipeline *enginetest.Pipeline
	fetcher  *enginetest.Fetcher
}

func newHarness() *harness {
	return &harness{
		schedule: enginetest.NewSchedule(),
		tracker:  enginetest.NewTracker(),
		pipeline: enginetest.NewPipeline(),
		fetcher:  enginetest.NewFetcher(),
	}
}

func (h *harness) collab() domain.Collaborators {
	return domain.Collaborators{Schedule: h.schedule, Tracker: h.tracker, Pipeline: h.pipeline, Fetcher: h.fetcher}
}

func (h *harness) run(t *testing.T, rs []*domain.Rule, today string) []domain.TaskResult {
	t.Helper()
	results, err := h.evaluate(rs, today)
	require.NoError(t, err)
	return results
}

func (h *harness) evaluate(rs []*domain.Rule, today string) ([]domain.TaskResult, error) {
	planner := reconcile.New(reconcile.Config{
		LabelPrefix:  "retasc-id-",
		ManagedLabel: "retasc-managed",
	}, h.tracker, h.pipeline, nil)
	return engine.Evaluate(context.Background(), rs, h.collab(), engine.Options{
		Today:   day(today),
		Planner: planner,
	})
}

const endToEndRule = `
version: 1
name: R
inputs:
  - variables:
      date: 2025-07-17
prerequisites:
  - condition: today < date
  - target_date: date - 2|weeks
  - jira_issue: x
`

func TestEvaluate_EndToEndInWindow(t *testing.T) {
	h := newHarness()
	results := h.run(t, mustParse(t, endToEndRule), "2025-07-05")

	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, domain.StateInProgress, res.State)
	assert.True(t, strings.HasPrefix(string(res.ReleaseKey), "variables:"))
	assert.Equal(t, 1, h.tracker.Creates)
	require.Len(t, res.IssuesTouched, 1)

	issue := h.tracker.Get(res.IssuesTouched[0])
	require.NotNil(t, issue)
	assert.True(t, issue.HasLabel("retasc-id-x"))
	assert.True(t, issue.HasLabel("retasc-managed"))
}

func TestEvaluate_EndToEndBeforeTargetDate(t *testing.T) {
	h := newHarness()
	results := h.run(t, mustParse(t, endToEndRule), "2025-06-01")

	require.Len(t, results, 1)
	assert.Equal(t, domain.StatePending, results[0].State)
	assert.Zero(t, h.tracker.Calls())
	assert.Empty(t, results[0].IssuesTouched)
}

func TestEvaluate_FalseConditionMakesNoCalls(t *testing.T) {
	h := newHarness()
	rs := mustParse(t, `
version: 1
name: gated
prerequisites:
  - condition: false
  - jira_issue: never
    fields:
      summary: never
  - pipeline_run: never
    template: run.yaml
`)
	results := h.run(t, rs, "2025-07-05")

	require.Len(t, results, 1)
	assert.Equal(t, domain.StatePending, results[0].State)
	assert.Zero(t, h.tracker.Calls())
	assert.Zero(t, h.pipeline.Starts)
	require.Len(t, results[0].Steps, 1)
}

func TestEvaluate_Idempotent(t *testing.T) {
	h := newHarness()
	rs := mustParse(t, `
version: 1
name: idem
inputs:
  - variables:
      release: rhel-10.1
prerequisites:
  - jira_issue: "{{ release }}-main"
    fields:
      summary: "Main task for {{ release }}"
      priority:
        name: Major
`)
	first := h.run(t, rs, "2025-07-05")
	require.Equal(t, domain.StateInProgress, first[0].State)
	require.Equal(t, 1, h.tracker.Writes())

	second := h.run(t, rs, "2025-07-05")
	assert.Equal(t, domain.StateInProgress, second[0].State)
	assert.Equal(t, 1, h.tracker.Writes(), "second run must not write")
	assert.Equal(t, first[0].IssuesTouched, second[0].IssuesTouched)
}

func TestEvaluate_ChangedFieldsAreUpdated(t *testing.T) {
	h := newHarness()
	src := `
version: 1
name: upd
prerequisites:
  - jira_issue: upd
    fields:
      summary: "{{ title }}"
`
	first := mustParse(t, strings.Replace(src, "prerequisites:", "inputs:\n  - variables:\n      title: one\nprerequisites:", 1))
	h.run(t, first, "2025-07-05")
	require.Equal(t, 1, h.tracker.Creates)

	second := mustParse(t, strings.Replace(src, "prerequisites:", "inputs:\n  - variables:\n      title: two\nprerequisites:", 1))
	h.run(t, second, "2025-07-05")
	assert.Equal(t, 1, h.tracker.Creates)
	assert.Equal(t, 1, h.tracker.Updates)

	issue := h.tracker.All()[0]
	assert.Equal(t, "two", issue.Fields["summary"])
}

func TestEvaluate_ResolvedIssueCompletesTask(t *testing.T) {
	h := newHarness()
	rs := mustParse(t, `
version: 1
name: done
prerequisites:
  - jira_issue: done
    fields:
      summary: done
    subtasks:
      - id: done-sub
        fields:
          summary: sub
`)
	first := h.run(t, rs, "2025-07-05")
	require.Equal(t, domain.StateInProgress, first[0].State)
	require.Equal(t, 2, h.tracker.Creates)

	h.tracker.Resolve(first[0].IssuesTouched[0])
	second := h.run(t, rs, "2025-07-05")
	assert.Equal(t, domain.StateCompleted, second[0].State)
	assert.Equal(t, 2, h.tracker.Writes())
}

func TestEvaluate_StaticCycle(t *testing.T) {
	h := newHarness()
	rs := mustParse(t, `
- version: 1
  name: A
  prerequisites:
    - rule: B
- version: 1
  name: B
  prerequisites:
    - rule: A
`)
	_, err := h.evaluate(rs, "2025-07-05")

	var cycle *engine.CycleError
	require.True(t, errors.As(err, &cycle))
	assert.True(t, errors.Is(err, engine.ErrCyclicDependency))
	assert.Zero(t, h.tracker.Calls())
}

func TestResolver_DetectsReentry(t *testing.T) {
	h := newHarness()
	rs := mustParse(t, `
version: 1
name: self
prerequisites:
  - rule: self
`)
	rc := engine.NewRunContext(engine.Options{Today: day("2025-07-05")})
	resolver := engine.NewResolver(rc, rs, h.collab(), nil)

	inputs, err := resolver.Expander().Expand(context.Background(), rs[0].Inputs[0])
	require.NoError(t, err)
	require.Len(t, inputs, 1)

	_, err = resolver.ResolveTask(context.Background(), rs[0], &inputs[0])
	var cycle *engine.CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"self", "self"}, cycle.Path)
}

func TestEvaluate_SharedDependencyEvaluatedOnce(t *testing.T) {
	h := newHarness()
	h.schedule.AddRelease("rhel", "rhel-10.1")
	h.schedule.AddMilestone("rhel", "rhel-10.1", domain.Milestone{
		Name:      "GA",
		StartDate: day("2025-06-01"),
		EndDate:   day("2025-06-02"),
	})
	rs := mustParse(t, `
- version: 1
  name: target
  inputs:
    - product: rhel
  prerequisites:
    - schedule_task: GA
- version: 1
  name: first
  inputs:
    - product: rhel
  prerequisites:
    - rule: target
- version: 1
  name: second
  inputs:
    - product: rhel
  prerequisites:
    - rule: target
`)
	results := h.run(t, rs, "2025-07-05")

	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, domain.StateCompleted, r.State, r.Rule)
		assert.Equal(t, domain.ReleaseKey("product:rhel/rhel-10.1"), r.ReleaseKey)
	}
	assert.Equal(t, 1, h.schedule.MilestoneCalls)
	assert.Equal(t, 1, h.schedule.ReleaseCalls)
}

func TestEvaluate_DependencyStateIsAdopted(t *testing.T) {
	h := newHarness()
	h.schedule.AddRelease("rhel", "rhel-10.1")
	rs := mustParse(t, `
- version: 1
  name: blocked
  inputs:
    - product: rhel
  prerequisites:
    - schedule_task: "Missing milestone"
- version: 1
  name: dependent
  inputs:
    - product: rhel
  prerequisites:
    - rule: blocked
    - jira_issue: "{{ release }}-dependent"
      fields:
        summary: never
`)
	results := h.run(t, rs, "2025-07-05")

	require.Len(t, results, 2)
	assert.Equal(t, domain.StatePending, results[0].State)
	assert.Equal(t, domain.StatePending, results[1].State)
	assert.Zero(t, h.tracker.Calls())
}

func TestEvaluate_ExpressionErrorIsIsolated(t *testing.T) {
	h := newHarness()
	rs := mustParse(t, `
- version: 1
  name: broken
  prerequisites:
    - condition: missing_name > 1
- version: 1
  name: fine
  prerequisites:
    - condition: 1 < 2
`)
	results := h.run(t, rs, "2025-07-05")

	require.Len(t, results, 2)
	assert.Equal(t, domain.StateErrored, results[0].State)
	require.Len(t, results[0].Errors, 1)
	assert.Contains(t, results[0].Errors[0], "missing_name")
	assert.Equal(t, domain.StateCompleted, results[1].State)
}

func TestEvaluate_ErroredDependencyPropagates(t *testing.T) {
	h := newHarness()
	rs := mustParse(t, `
- version: 1
  name: broken
  prerequisites:
    - target_date: "'not a date'"
- version: 1
  name: dependent
  prerequisites:
    - rule: broken
`)
	results := h.run(t, rs, "2025-07-05")

	require.Len(t, results, 2)
	assert.Equal(t, domain.StateErrored, results[0].State)
	assert.Equal(t, domain.StateErrored, results[1].State)
}

func TestEvaluate_HTTPInput(t *testing.T) {
	h := newHarness()
	h.fetcher.Respond("https://example.com/items", map[string]any{
		"items": []any{
			map[string]any{"name": "alpha", "ready": true},
			map[string]any{"name": "beta", "ready": false},
		},
	})
	rs := mustParse(t, `
version: 1
name: per-item
inputs:
  - http: https://example.com/items
    extract_path: http_data['items']
prerequisites:
  - variable: name
    string: "{{ http_item.name }}-{{ http_item_index }}"
  - condition: http_item.ready
`)
	results := h.run(t, rs, "2025-07-05")

	require.Len(t, results, 2)
	assert.Equal(t, domain.StateCompleted, results[0].State)
	assert.Equal(t, domain.StatePending, results[1].State)
	assert.NotEqual(t, results[0].ReleaseKey, results[1].ReleaseKey)
	assert.True(t, strings.HasPrefix(string(results[0].ReleaseKey), "http:"))
	assert.Len(t, h.fetcher.Requests, 1)
}

func TestEvaluate_HTTPInputFailureIsReported(t *testing.T) {
	h := newHarness()
	rs := mustParse(t, `
version: 1
name: unreachable
inputs:
  - http: https://example.com/missing
prerequisites:
  - condition: true
`)
	results := h.run(t, rs, "2025-07-05")

	require.Len(t, results, 1)
	assert.Equal(t, domain.StateErrored, results[0].State)
	assert.Equal(t, domain.ReleaseKey("input:http#0"), results[0].ReleaseKey)
}

func TestEvaluate_ScheduleTaskBindsDates(t *testing.T) {
	h := newHarness()
	h.schedule.AddRelease("rhel", "rhel-10.1")
	h.schedule.AddRelease("rhel", "rhel-9.7")
	h.schedule.AddMilestone("rhel", "rhel-10.1", domain.Milestone{
		Name: "Planning", StartDate: day("2025-06-20"), EndDate: day("2025-07-20"),
	})
	h.schedule.AddMilestone("rhel", "rhel-9.7", domain.Milestone{
		Name: "Planning", StartDate: day("2025-06-20"), EndDate: day("2025-07-20"), IsDraft: true,
	})
	rs := mustParse(t, `
version: 1
name: planning
inputs:
  - product: rhel
prerequisites:
  - condition: major >= 9
  - schedule_task: Planning
  - target_date: start_date - 1|week
  - condition: end_date - today == 15|days
`)
	results := h.run(t, rs, "2025-07-05")

	require.Len(t, results, 2)
	assert.Equal(t, domain.ReleaseKey("product:rhel/rhel-10.1"), results[0].ReleaseKey)
	assert.Equal(t, domain.StateCompleted, results[0].State)
	assert.Equal(t, domain.StatePending, results[1].State, "draft milestone")
}

func TestEvaluate_PipelineRun(t *testing.T) {
	h := newHarness()
	dir := t.TempDir()
	writeFile(t, dir, "run.yaml", `
apiVersion: tekton.dev/v1
kind: PipelineRun
metadata:
  labels:
    release: "{{ release }}"
spec:
  pipelineRef:
    name: build
`)
	rs := mustParse(t, `
version: 1
name: build
inputs:
  - variables:
      release: rhel-10.1
prerequisites:
  - pipeline_run: "build-{{ release }}"
    namespace: builds
    template: run.yaml
  - condition: pipeline_run.is_completed
`)
	planner := reconcile.New(reconcile.Config{PipelineRunTemplatePath: dir, PipelineRunNamePrefix: "retasc-"}, h.tracker, h.pipeline, nil)
	opts := engine.Options{Today: day("2025-07-05"), Planner: planner}

	results, err := engine.Evaluate(context.Background(), rs, h.collab(), opts)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, results[0].State)
	assert.Equal(t, 1, h.pipeline.Starts)

	h.pipeline.SetStatus("builds", "retasc-build-rhel-10.1", domain.PipelineSucceeded)
	results, err = engine.Evaluate(context.Background(), rs, h.collab(), opts)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, results[0].State)
	assert.Equal(t, 1, h.pipeline.Starts)
}

func TestEvaluate_HTTPPrerequisiteBindsResponse(t *testing.T) {
	h := newHarness()
	h.fetcher.Respond("https://example.com/status", map[string]any{"state": "ready", "build": 42})
	rs := mustParse(t, `
version: 1
name: gated-on-http
prerequisites:
  - http: https://example.com/status
  - condition: http_response.status_code == 200
  - condition: http_response.body.state == 'ready'
  - variable: label
    string: "build-{{ http_response.body.build }}"
  - condition: label == 'build-42'
`)
	results := h.run(t, rs, "2025-07-05")

	require.Len(t, results, 1)
	assert.Equal(t, domain.StateCompleted, results[0].State)
	require.Len(t, h.fetcher.Requests, 1)
	assert.Equal(t, "GET", h.fetcher.Requests[0].Method)
	require.NotEmpty(t, results[0].Steps)
	assert.Equal(t, 200, results[0].Steps[0].Details["status_code"])
}

func TestEvaluate_JiraIssuesInput(t *testing.T) {
	h := newHarness()
	h.tracker.Put(&domain.Issue{Key: "TEAM-1", Fields: map[string]any{"labels": []any{"team"}, "priority": "high"}})
	h.tracker.Put(&domain.Issue{Key: "TEAM-2", Fields: map[string]any{"labels": []any{"team"}, "priority": "low"}})
	h.tracker.Put(&domain.Issue{Key: "OTHER-1", Fields: map[string]any{"labels": []any{"other"}, "priority": "high"}})
	rs := mustParse(t, `
version: 1
name: per-issue
inputs:
  - jira_issues: labels="team"
    fields: [priority, labels]
prerequisites:
  - condition: jira_issues['TEAM-2'].fields.priority == 'low'
  - condition: jira_issue.fields.priority == 'high'
`)
	results := h.run(t, rs, "2025-07-05")

	require.Len(t, results, 2)
	assert.Equal(t, domain.ReleaseKey("jira:TEAM-1"), results[0].ReleaseKey)
	assert.Equal(t, domain.StateCompleted, results[0].State)
	assert.Equal(t, domain.ReleaseKey("jira:TEAM-2"), results[1].ReleaseKey)
	assert.Equal(t, domain.StatePending, results[1].State)
	assert.Equal(t, 1, h.tracker.Searches)
}

func TestEvaluate_ScheduleTaskIgnoreDrafts(t *testing.T) {
	h := newHarness()
	h.schedule.AddRelease("rhel", "rhel-9.7")
	h.schedule.AddMilestone("rhel", "rhel-9.7", domain.Milestone{
		Name: "Planning", StartDate: day("2025-06-20"), EndDate: day("2025-07-20"), IsDraft: true,
	})
	rs := mustParse(t, `
version: 1
name: drafts-allowed
inputs:
  - product: rhel
prerequisites:
  - schedule_task: Planning
    ignore_drafts: true
  - condition: schedule_task_is_draft and milestone.is_draft
`)
	results := h.run(t, rs, "2025-07-05")

	require.Len(t, results, 1)
	assert.Equal(t, domain.StateCompleted, results[0].State)
	assert.NotContains(t, results[0].Steps[0].Details, "note")
}

func TestEvaluate_RuleRefWithSameVariables(t *testing.T) {
	h := newHarness()
	rs := mustParse(t, `
- version: 1
  name: base
  inputs:
    - variables: {release: rhel-10.1, ready: true}
  prerequisites:
    - condition: ready
- version: 1
  name: dependent
  inputs:
    - variables: {ready: true, release: rhel-10.1}
  prerequisites:
    - rule: base
`)
	results := h.run(t, rs, "2025-07-05")

	require.Len(t, results, 2)
	assert.Equal(t, results[0].ReleaseKey, results[1].ReleaseKey)
	assert.Equal(t, domain.StateCompleted, results[1].State)
}
